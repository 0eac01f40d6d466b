package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"

	"github.com/shardnode/shardnode/consensus"
	"github.com/shardnode/shardnode/core/types"
	"github.com/shardnode/shardnode/params"
	"github.com/shardnode/shardnode/runtime"
)

// Chain is the single-owner state machine that serializes every mutation
// to the chain store, head tips, orphan pool and missing-chunks pool:
// go-ethereum's BlockChain role, generalized from an EVM/state-trie chain
// to a sharded chunk-based one. There is no trie cache or snapshot layer
// here, since state lives entirely behind runtime.Adapter.
type Chain struct {
	config  *params.ChainConfig
	engine  consensus.Engine
	adapter runtime.Adapter

	access    *ChainStoreAccess
	validator *Validator
	applier   *ChunkApplier
	merkle    *MerkleIndex
	callbacks *Callbacks

	orphans       *OrphanPool
	missingChunks *MissingChunksPool

	// chainmu serializes every chain-mutating call, one lock guarding
	// header/block insertion.
	chainmu sync.Mutex

	// Event feeds; see events.go.
	chainHeadFeed event.Feed
	chainSideFeed event.Feed
	challengeFeed event.Feed
	scope         event.SubscriptionScope

	// Atomic tip pointers give lock-free reads of the three heads, the
	// same currentBlock/currentHeader/currentFinal pattern go-ethereum's
	// BlockChain uses.
	headHeader atomic.Pointer[types.Tip]
	headBlock  atomic.Pointer[types.Tip]
	finalHead  atomic.Pointer[types.Tip]

	genesis *types.Block
}

// NewChain opens db as a chain store, building and committing genesis
// through adapter when the store is empty, or restoring in-memory state
// (tips, genesis reference) from what's already persisted otherwise.
func NewChain(ctx context.Context, db ethdb.Database, config *params.ChainConfig, engine consensus.Engine, adapter runtime.Adapter, genesis *Genesis, callbacks *Callbacks, workers int) (*Chain, error) {
	access := NewChainStoreAccess(db)
	c := &Chain{
		config:        config,
		engine:        engine,
		adapter:       adapter,
		access:        access,
		validator:     NewValidator(config, engine, adapter),
		applier:       NewChunkApplier(adapter, workers),
		merkle:        NewMerkleIndex(access),
		callbacks:     callbacks,
		orphans:       NewOrphanPool(),
		missingChunks: NewMissingChunksPool(),
	}

	if tip := access.HeadBlock(); tip != nil {
		c.headBlock.Store(tip)
		c.headHeader.Store(access.HeadHeader())
		c.finalHead.Store(access.FinalHead())
		genesisHash := access.GetCanonicalHash(0)
		c.genesis = access.GetBlock(genesisHash, 0)
		if c.genesis == nil {
			return nil, fmt.Errorf("genesis block missing from store at %s", genesisHash)
		}
		return c, nil
	}

	block, err := genesis.ToBlock(ctx, adapter)
	if err != nil {
		return nil, err
	}
	if err := c.commitGenesis(block); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Chain) commitGenesis(block *types.Block) error {
	hash := block.Hash()
	update := NewUpdate(c.access)
	update.SaveHeader(block.Header)
	update.SaveBody(hash, 0, block.Body)
	update.SaveCanonicalHash(0, hash)
	update.SetRefcount(hash, 0)
	update.MarkProcessed(hash)

	for _, ch := range block.Body.ChunkHeaders {
		shard := types.ShardUId{Version: 0, ShardID: ch.ShardID}
		update.SaveChunkExtra(hash, shard, &types.ChunkExtra{StateRoot: ch.PrevStateRoot})
	}
	c.merkle.AppendLeaf(update, 0, hash)

	tip := types.TipFromHeader(block.Header)
	update.SetHeadHeader(tip)
	update.SetHeadBlock(tip)
	update.SetFinalHead(tip)
	update.SetTail(0)
	update.SetForkTail(0)
	update.SetChunkTail(0)

	if err := update.Commit(); err != nil {
		log.Error("Failed to commit genesis block", "err", err)
		return err
	}

	c.headHeader.Store(&tip)
	c.headBlock.Store(&tip)
	c.finalHead.Store(&tip)
	c.genesis = block
	return nil
}

// Config implements consensus.ChainHeaderReader.
func (c *Chain) Config() *params.ChainConfig { return c.config }

// Genesis returns the chain's first block.
func (c *Chain) Genesis() *types.Block { return c.genesis }

// CurrentHeader returns the header at header_head.
func (c *Chain) CurrentHeader() *types.Header {
	tip := c.headHeader.Load()
	if tip == nil {
		return nil
	}
	return c.access.GetHeader(tip.Hash, tip.Height)
}

// CurrentBlock returns the block at head.
func (c *Chain) CurrentBlock() *types.Block {
	tip := c.headBlock.Load()
	if tip == nil {
		return nil
	}
	return c.access.GetBlock(tip.Hash, tip.Height)
}

// CurrentFinalHeader returns the header at final_head.
func (c *Chain) CurrentFinalHeader() *types.Header {
	tip := c.finalHead.Load()
	if tip == nil {
		return nil
	}
	return c.access.GetHeader(tip.Hash, tip.Height)
}

func (c *Chain) HeadTip() types.Tip       { return derefTip(c.headBlock.Load()) }
func (c *Chain) HeaderHeadTip() types.Tip { return derefTip(c.headHeader.Load()) }
func (c *Chain) FinalHeadTip() types.Tip  { return derefTip(c.finalHead.Load()) }

func derefTip(t *types.Tip) types.Tip {
	if t == nil {
		return types.Tip{}
	}
	return *t
}

// GetHeader implements consensus.ChainHeaderReader.
func (c *Chain) GetHeader(hash common.Hash, number uint64) *types.Header {
	return c.access.GetHeader(hash, number)
}

// GetHeaderByHash implements consensus.ChainHeaderReader.
func (c *Chain) GetHeaderByHash(hash common.Hash) *types.Header {
	return c.access.GetHeaderByHash(hash)
}

// GetHeaderByNumber implements consensus.ChainHeaderReader.
func (c *Chain) GetHeaderByNumber(number uint64) *types.Header {
	hash := c.access.GetCanonicalHash(number)
	if hash == (common.Hash{}) {
		return nil
	}
	return c.access.GetHeader(hash, number)
}

// ProcessBlock runs the per-block ChainUpdate state machine under chainmu,
// then walks OrphanPool for newly-satisfiable descendants. Blocks parked in
// MissingChunksPool are not revisited here; they are re-submitted by
// CheckBlocksWithMissingChunks when their chunks arrive.
func (c *Chain) ProcessBlock(ctx context.Context, block *types.Block, provenance types.Provenance) (*types.Tip, error) {
	c.chainmu.Lock()
	defer c.chainmu.Unlock()

	tip, err := c.processBlockLocked(ctx, block, provenance)
	if err != nil {
		return tip, err
	}
	c.processDescendants(ctx, block.Hash())
	return tip, nil
}

// CheckBlocksWithMissingChunks re-submits every block that chunkHash's
// arrival fully satisfies.
func (c *Chain) CheckBlocksWithMissingChunks(ctx context.Context, chunkHash common.Hash) {
	c.chainmu.Lock()
	defer c.chainmu.Unlock()

	for _, block := range c.missingChunks.ChunkArrived(chunkHash) {
		if _, err := c.processBlockLocked(ctx, block, types.ProvenanceNone); err != nil {
			log.Debug("Re-submitted block still not accepted", "hash", block.Hash(), "err", err)
			continue
		}
		c.processDescendants(ctx, block.Hash())
	}
}

// processDescendants performs the post-commit BFS re-walk of OrphanPool
// through its prev-hash index, checked against the same 100*depth anomaly
// bound OrphanPool.DescendantsWithinDepth applies: past it a warning is
// logged and the walk goes on.
func (c *Chain) processDescendants(ctx context.Context, hash common.Hash) {
	frontier := c.orphans.RemoveByPrev(hash)
	depth, count := 0, 0
	for len(frontier) > 0 {
		depth++
		count += len(frontier)
		if limit := 100 * depth; count > limit {
			log.Warn("Orphan descendant set exceeds safety bound", "anchor", hash, "depth", depth, "count", count, "limit", limit)
		}
		var next []*types.Orphan
		for _, orphan := range frontier {
			if _, err := c.processBlockLocked(ctx, orphan.Block, orphan.Provenance); err != nil {
				log.Debug("Orphan re-processing failed", "hash", orphan.Block.Hash(), "err", err)
				continue
			}
			next = append(next, c.orphans.RemoveByPrev(orphan.Block.Hash())...)
		}
		frontier = next
	}
}
