package core

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/prque"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/log"

	"github.com/shardnode/shardnode/core/rawdb"
	"github.com/shardnode/shardnode/core/types"
	"github.com/shardnode/shardnode/params"
)

// GC reclaims storage for dead forks and the aged-out canonical chain,
// with an archive-node mode that clears only redundant derived data. It is
// a stateless driver over the same Chain every other component shares,
// using common/prque the way go-ethereum's blockchain uses its triegc
// field: a height-ordered frontier of work, popped lowest-height-first,
// rather than a second hand-rolled priority structure.
type GC struct {
	chain   *Chain
	archive bool
}

// NewGC builds a GC driver over chain. archive disables both clearing
// passes in favor of ClearArchiveData's redundant-chunk-only path.
func NewGC(chain *Chain, archive bool) *GC {
	return &GC{chain: chain, archive: archive}
}

// ClearData runs up to gcBlocksLimit blocks of combined forks-clearing and
// canonical-clearing work. Archive nodes run only the redundant-chunk-data path instead,
// retaining block and chunk bodies.
func (g *GC) ClearData(gcBlocksLimit int) error {
	c := g.chain
	c.chainmu.Lock()
	defer c.chainmu.Unlock()

	if g.archive {
		return g.clearArchiveDataLocked(gcBlocksLimit)
	}

	budget := gcBlocksLimit
	clearedForks, err := g.clearForksDataLocked(&budget)
	if err != nil {
		return err
	}
	if clearedForks > 0 {
		gcForksMeter.Mark(int64(clearedForks))
		log.Debug("GC cleared fork blocks", "count", clearedForks)
	}
	if budget <= 0 {
		return nil
	}
	clearedCanonical, err := g.clearCanonicalDataLocked(&budget)
	if err != nil {
		return err
	}
	if clearedCanonical > 0 {
		gcCanonicalMeter.Mark(int64(clearedCanonical))
		log.Debug("GC advanced tail", "count", clearedCanonical)
	}
	return nil
}

// clearForksDataLocked walks heights from fork_tail downward in steps of
// GCForkCleanStep, deleting every block at each height whose refcount is
// zero and walking back through its prev chain while refcounts stay zero,
// stopping at the first ancestor with refcount >= 1, the fork join point,
// which remains canonical. Returns the number of blocks
// deleted and decrements *budget by the same amount.
func (g *GC) clearForksDataLocked(budget *int) (int, error) {
	c := g.chain
	db := c.access.DB()

	forkTail := c.access.ForkTail()
	tail := c.access.Tail()
	if forkTail <= tail {
		return 0, nil
	}

	step := c.config.GCForkCleanStep
	if step == 0 {
		step = params.GCForkCleanStep
	}
	floor := tail
	if forkTail > step {
		floor = forkTail - step
	}
	if floor < tail {
		floor = tail
	}

	cleared := 0
	frontier := prque.New[int64, common.Hash](nil)
	for h := forkTail; h > floor && *budget > 0; h-- {
		canonical := c.access.GetCanonicalHash(h)
		for _, hash := range c.access.GetBlocksAtHeight(h) {
			if hash == canonical {
				continue
			}
			frontier.Push(hash, -int64(h))
		}
	}

	for !frontier.Empty() && *budget > 0 {
		hash, _ := frontier.Pop()
		n, err := g.clearForkChain(db, hash)
		if err != nil {
			return cleared, err
		}
		cleared += n
		*budget -= n
	}

	update := NewUpdate(c.access)
	update.SetForkTail(floor)
	if err := update.Commit(); err != nil {
		return cleared, newErrf(KindOperational, "commit fork-tail advance: %w", err)
	}
	return cleared, nil
}

// clearForkChain deletes hash (already confirmed refcount zero or about to
// be, by the caller's enumeration) and walks back through its ancestors,
// decrementing each parent's refcount and continuing only while the
// parent's refcount drops to zero. Genesis (height 0) is never touched.
func (g *GC) clearForkChain(db ethdb.Database, hash common.Hash) (int, error) {
	c := g.chain
	cleared := 0

	cur := hash
	for {
		header := c.access.GetHeaderByHash(cur)
		if header == nil {
			break
		}
		if header.Height == 0 {
			return cleared, ByzantineAssert("GC attempted to clear genesis block")
		}
		if count := c.access.GetRefcount(cur); count != 0 {
			// Already someone else's descendant kept this one alive since
			// enumeration; nothing to do.
			return cleared, nil
		}

		g.deleteBlockData(db, cur, header.Height)
		cleared++

		prevHash := header.ParentHash
		prevCount := c.access.GetRefcount(prevHash)
		if prevCount == 0 {
			// Parent already has no recorded descendants (shouldn't
			// normally happen, it had at least `cur`), nothing left to
			// decrement; stop defensively.
			break
		}
		prevCount--
		rawdb.WriteRefcount(db, prevHash, prevCount)
		if prevCount > 0 {
			break
		}
		cur = prevHash
	}
	return cleared, nil
}

// deleteBlockData removes every column a block owns: header, body, chunk
// bodies for its new chunks, chunk extras per shard, refcount, the
// height-index entry, and its processed-height marker.
func (g *GC) deleteBlockData(db ethdb.Database, hash common.Hash, height uint64) {
	c := g.chain

	block := c.access.GetBlock(hash, height)
	if block != nil {
		for _, ch := range block.Body.ChunkHeaders {
			if ch.IsNewAt(height) {
				rawdb.DeleteChunk(db, ch.Hash())
			}
			layoutVersion, _, err := c.adapter.GetShardLayout(block.Header.EpochID)
			if err == nil {
				rawdb.DeleteChunkExtra(db, hash, types.ShardUId{Version: layoutVersion, ShardID: ch.ShardID})
			}
		}
	}
	rawdb.DeleteHeader(db, hash, height)
	rawdb.DeleteBody(db, hash, height)
	rawdb.DeleteRefcount(db, hash)
	rawdb.DeleteHeightProcessed(db, hash)
	rawdb.RemoveBlockAtHeight(db, db, height, hash)
	c.access.invalidateBlock(hash)
}

// clearCanonicalDataLocked walks heights tail+1..gc_stop_height upward; at
// each height it takes the unique canonical block and clears its prev's
// data once the prev's refcount confirms no fork survives there. Stops the moment a prev's refcount != 1, leaving that fork-start
// block (and everything below it) for a later invocation once the
// fork-clearing pass has caught up.
func (g *GC) clearCanonicalDataLocked(budget *int) (int, error) {
	c := g.chain
	db := c.access.DB()

	head := c.HeadTip()
	gcStop, err := c.adapter.GetGCStopHeight(head.Hash)
	if err != nil {
		return 0, newErrf(KindOperational, "get gc stop height: %w", err)
	}

	tail := c.access.Tail()
	cleared := 0
	for h := tail + 1; h <= gcStop && *budget > 0; h++ {
		canonicalHash := c.access.GetCanonicalHash(h)
		if canonicalHash == (common.Hash{}) {
			break
		}
		header := c.access.GetHeader(canonicalHash, h)
		if header == nil {
			break
		}
		prevHash := header.ParentHash
		prevHeight := h - 1
		if prevHeight == 0 {
			// Genesis never clears; move on to the
			// heights whose prevs are ordinary blocks.
			continue
		}
		prevCount := c.access.GetRefcount(prevHash)
		if prevCount != gcSoleRefcount {
			return cleared, newErr(KindOperational, ErrGC)
		}

		g.deleteBlockData(db, prevHash, prevHeight)
		rawdb.DeleteCanonicalHash(db, prevHeight)
		cleared++
		*budget--

		update := NewUpdate(c.access)
		update.SetTail(h)
		if err := update.Commit(); err != nil {
			return cleared, newErrf(KindOperational, "commit tail advance: %w", err)
		}
	}
	return cleared, nil
}

// gcSoleRefcount is the refcount a canonical block's prev must carry for
// canonical-clearing to proceed: exactly one descendant (itself), meaning
// no fork ever branched off at that height.
const gcSoleRefcount = 1

// clearArchiveDataLocked implements the archive-node path: only
// redundant chunk data is removed. Here that means staged
// split-state-change blobs once they have been replayed into a child
// shard's own chunk extra and are therefore re-derivable by replaying the
// parent chunk again rather than needed verbatim. Block and chunk bodies
// are retained untouched.
func (g *GC) clearArchiveDataLocked(gcBlocksLimit int) error {
	c := g.chain
	db := c.access.DB()

	head := c.HeadTip()
	gcStop, err := c.adapter.GetGCStopHeight(head.Hash)
	if err != nil {
		return newErrf(KindOperational, "get gc stop height: %w", err)
	}

	tail := c.access.Tail()
	cleared := 0
	for h := tail; h <= gcStop && cleared < gcBlocksLimit; h++ {
		hash := c.access.GetCanonicalHash(h)
		if hash == (common.Hash{}) {
			continue
		}
		block := c.access.GetBlockByHash(hash)
		if block == nil {
			continue
		}
		layoutVersion, numShards, err := c.adapter.GetShardLayout(block.Header.EpochID)
		if err != nil {
			continue
		}
		for i := 0; i < numShards; i++ {
			child := types.ShardUId{Version: layoutVersion, ShardID: types.ShardID(i)}
			if data := rawdb.ReadSplitStateChanges(db, hash, child); data != nil {
				rawdb.DeleteSplitStateChanges(db, hash, child)
				cleared++
			}
		}
	}
	if cleared > 0 {
		log.Debug("Archive GC cleared redundant chunk data", "blocks", cleared)
	}
	return nil
}
