package core

import (
	"context"
	"encoding/binary"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/shardnode/shardnode/core/types"
	"github.com/shardnode/shardnode/params"
)

// processBlockLocked runs the per-block ChainUpdate state machine:
// known-check, validation, caught-up determination, chunk application,
// persist, head update. Caller holds chainmu. It returns the new tip if
// head advanced.
func (c *Chain) processBlockLocked(ctx context.Context, block *types.Block, provenance types.Provenance) (*types.Tip, error) {
	start := time.Now()
	defer blockProcessTimer.UpdateSince(start)

	hash := block.Hash()

	// Known-check: skip anything we already hold, anywhere.
	if reason, known := c.known(hash); known {
		blockKnownMeter.Mark(1)
		return nil, ErrBlockKnown(reason)
	}

	// Height horizon (overflow guard).
	headTip := c.HeadTip()
	if block.Height() > headTip.Height+params.HeightHorizonEpochs*c.config.EpochLength {
		return nil, ErrEpochOutOfBounds(block.Height())
	}

	prevHeader := c.access.GetHeader(block.ParentHash(), safeSub(block.Height(), 1))
	if prevHeader == nil {
		// Unknown parent: orphan handling.
		return c.handleOrphan(block, provenance)
	}

	locallyProduced := provenance == types.ProvenanceProduced
	challenge, err := c.validator.ValidateHeader(ctx, c, block.Header, prevHeader, locallyProduced)
	if err != nil {
		return nil, err
	}
	if challenge != nil {
		c.emitChallenge(challenge)
	}
	if err := c.validator.ValidateBody(block, prevHeader); err != nil {
		return nil, err
	}
	if err := c.validator.ValidateChunkSignatures(block.Header.EpochID, block, c.genesisChunksIfGenesis(block)); err != nil {
		return nil, err
	}

	// A header extending the canonical head must commit to the merkle
	// forest as it stands: its block-merkle root is the tree over every
	// canonical block below it. Side branches are exempt (the forest
	// follows the canonical chain only), as are headers that carry no root.
	if !locallyProduced && block.ParentHash() == headTip.Hash && block.Header.BlockMerkleRoot != (common.Hash{}) {
		if root := c.merkle.RootAt(block.Height()); root != block.Header.BlockMerkleRoot {
			return nil, newErr(KindValidation, ErrInvalidBlockMerkleRoot)
		}
	}

	// Caught-up determination.
	mode, downloadShards, err := c.applierMode(block, prevHeader)
	if err != nil {
		return nil, err
	}

	// Park the block if any new chunk body is still missing.
	if missing := c.missingChunkHashes(block); len(missing) > 0 {
		c.missingChunks.Add(block, missing)
		c.callbacks.blockMissesChunks(block.ParentHash(), missing, hash)
		return nil, ErrChunksMissing(missing)
	}

	// With every chunk body present, the canonical transaction order can be
	// checked; a violation is byzantine chunk-producer behavior, so it ships
	// a ChunkProofs challenge alongside the terminal error.
	for _, ch := range block.NewChunks() {
		chunk := c.access.GetChunk(ch.Hash())
		if chunk == nil {
			continue
		}
		if err := c.validator.ValidateChunkTransactionsOrder(chunk); err != nil {
			c.emitChallenge(types.NewChunkProofsChallenge(&types.ChunkProofsEvidence{
				Header:    ch,
				Chunk:     chunk,
				BlockHash: hash,
			}))
			return nil, err
		}
	}

	prevExtras, err := c.collectPrevExtras(block, prevHeader)
	if err != nil {
		return nil, err
	}
	if challenge, err := c.verifyChunkContinuity(block, prevExtras); err != nil {
		if challenge != nil {
			c.emitChallenge(challenge)
		}
		return nil, err
	}
	shardsToApply, err := c.shardsCaredAbout(block, prevHeader, mode)
	if err != nil {
		return nil, err
	}
	prevBlock := c.access.GetBlock(prevHeader.Hash(), prevHeader.Height)
	if prevBlock == nil {
		return nil, newErrf(KindOperational, "body for stored block %s missing", prevHeader.Hash())
	}
	split, err := c.splitPlan(block, prevHeader, mode)
	if err != nil {
		return nil, err
	}
	jobs := c.applier.BuildJobs(block, prevBlock, prevExtras, shardsToApply, split, mode)

	// Attach chunk bodies and (deterministically shuffled) incoming
	// receipts.
	c.attachChunkInputs(block, jobs)

	// Apply chunks in parallel.
	apStart := time.Now()
	results, err := c.applier.Apply(ctx, jobs)
	chunkApplyTimer.UpdateSince(apStart)
	if err != nil {
		return nil, err
	}

	// Validator proposals check. This compares against the new
	// chunk headers' own claimed proposals (always the complete set for
	// this height), not against what chunk_applier actually computed:
	// NotCaughtUp/CatchingUp modes may not apply every new chunk this
	// block, but every new chunk's header is still present in the body.
	if !types.ValidatorStakesEqual(block.Header.ValidatorProposals, newChunkProposals(block)) {
		return nil, newErr(KindValidation, ErrInvalidValidatorProposals)
	}

	update := NewUpdate(c.access)
	if err := c.postprocess(update, block, jobs, results); err != nil {
		return nil, err
	}
	if mode == NotCaughtUp {
		// Enqueue state download for the shards we will
		// care about next epoch, and queue the block for CatchingUp
		// re-application once those states land.
		update.SaveStateSyncInfo(stateSyncInfoFor(block, downloadShards))
		c.ScheduleBlockForCatchup(update, block.Header.NextEpochID, hash)
	}

	// Persist & refcount.
	update.SaveHeader(block.Header)
	update.SaveBody(hash, block.Height(), block.Body)
	update.MarkProcessed(hash)
	update.SetRefcount(hash, 0)
	update.SetRefcount(block.ParentHash(), c.access.GetRefcount(block.ParentHash())+1)

	if err := c.adapter.AddValidatorProposals(block.Header, c.FinalHeadTip().Height); err != nil {
		return nil, newErrf(KindOperational, "add validator proposals: %w", err)
	}

	// Head update.
	status, newTip, err := c.updateHeads(update, block)
	if err != nil {
		return nil, err
	}

	if err := update.Commit(); err != nil {
		return nil, newErrf(KindOperational, "commit chain update: %w", err)
	}

	c.callbacks.blockAccepted(hash, status, provenance)
	if status.Kind == types.BlockStatusFork {
		c.chainSideFeed.Send(ChainSideEvent{Block: block})
	} else {
		c.chainHeadFeed.Send(ChainHeadEvent{Block: block, Status: status})
	}
	return newTip, nil
}

func safeSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

// genesisChunksIfGenesis lets re-issued genesis chunks match bit-for-bit
// instead of verifying a producer signature.
func (c *Chain) genesisChunksIfGenesis(block *types.Block) map[types.ShardID]*types.ChunkHeader {
	if c.genesis == nil || block.Height() != 0 {
		return nil
	}
	out := make(map[types.ShardID]*types.ChunkHeader, len(c.genesis.Body.ChunkHeaders))
	for _, ch := range c.genesis.Body.ChunkHeaders {
		out[ch.ShardID] = ch
	}
	return out
}

func (c *Chain) known(hash common.Hash) (BlockKnownReason, bool) {
	if tip := c.HeaderHeadTip(); tip.Hash == hash {
		return BlockKnownInHeader, true
	}
	if tip := c.HeadTip(); tip.Hash == hash {
		return BlockKnownInHead, true
	}
	if c.orphans.Contains(hash) {
		return BlockKnownInOrphan, true
	}
	if c.missingChunks.Contains(hash) {
		return BlockKnownInMissingChunks, true
	}
	if c.access.GetHeaderByHash(hash) != nil {
		return BlockKnownInStore, true
	}
	return 0, false
}

// handleOrphan parks a block with an unknown parent: a cheap
// partial-signature check for
// non-immediate-next blocks, pool insertion, and conditional chunk-request
// scheduling bounded by NUM_ORPHAN_ANCESTORS_CHECK and the pool's
// outstanding-request cap.
func (c *Chain) handleOrphan(block *types.Block, provenance types.Provenance) (*types.Tip, error) {
	hash := block.Hash()
	isImmediateNext := block.ParentHash() == c.HeadTip().Hash

	if !isImmediateNext {
		ok, err := c.adapter.VerifyApprovalsAndThresholdOrphan(block.Header)
		if err != nil {
			return nil, newErrf(KindOperational, "verify orphan approvals: %w", err)
		}
		if !ok {
			return nil, newErr(KindValidation, ErrNotEnoughApprovals)
		}
	}

	c.orphans.Add(&types.Orphan{Block: block, Provenance: provenance, Added: time.Now()})

	if c.orphans.CanRequestMissingChunks() && c.ancestorReachable(block, params.NumOrphanAncestorsCheck) {
		if missing := c.missingChunkHashes(block); len(missing) > 0 {
			c.orphans.MarkRequested(hash)
			c.callbacks.orphanMissesChunks(missing, block.Header.EpochID, block.ParentHash(), hash)
		}
	}

	return nil, ErrOrphan(block.ParentHash())
}

// ancestorReachable walks up to depth generations through store or the
// orphan pool itself, reporting whether an ancestor is actually known
// somewhere (as opposed to an orphan chain rooted in nothing we have).
func (c *Chain) ancestorReachable(block *types.Block, depth int) bool {
	hash := block.ParentHash()
	height := block.Height()
	for i := 0; i < depth; i++ {
		height = safeSub(height, 1)
		if c.access.HasHeader(hash, height) {
			return true
		}
		orphan := c.orphans.Get(hash)
		if orphan == nil {
			return false
		}
		hash = orphan.Block.ParentHash()
	}
	return false
}

// missingChunkHashes returns the hashes of block's new chunks whose bodies
// have not yet arrived.
func (c *Chain) missingChunkHashes(block *types.Block) []common.Hash {
	var missing []common.Hash
	for _, ch := range block.NewChunks() {
		if !c.access.HasChunk(ch.Hash()) {
			missing = append(missing, ch.Hash())
		}
	}
	return missing
}

// applierMode decides whether this node is caught up for block: at a non-epoch
// boundary every shard is IsCaughtUp; at an epoch boundary, the chain is
// caught up only if every shard it will care about next epoch already has
// a chunk extra recorded against prevHeader. The shards that fail that
// presence check are the ones whose state must be downloaded.
func (c *Chain) applierMode(block *types.Block, prevHeader *types.Header) (ApplierMode, []types.ShardID, error) {
	isEpochStart, err := c.adapter.IsNextBlockEpochStart(prevHeader.Hash())
	if err != nil {
		return 0, nil, newErrf(KindOperational, "is next block epoch start: %w", err)
	}
	if !isEpochStart {
		return IsCaughtUp, nil, nil
	}

	numShards, err := c.adapter.NumShards(block.Header.NextEpochID)
	if err != nil {
		return 0, nil, newErrf(KindOperational, "num shards: %w", err)
	}
	var missing []types.ShardID
	for i := 0; i < numShards; i++ {
		willCare, err := c.adapter.WillCareAboutShard(common.Hash{}, prevHeader.Hash(), types.ShardID(i))
		if err != nil {
			return 0, nil, newErrf(KindOperational, "will care about shard: %w", err)
		}
		if !willCare {
			continue
		}
		uid, err := c.adapter.ShardIDToUId(types.ShardID(i), block.Header.NextEpochID)
		if err != nil {
			return 0, nil, newErrf(KindOperational, "shard id to uid: %w", err)
		}
		if c.access.GetChunkExtra(prevHeader.Hash(), uid) == nil {
			missing = append(missing, types.ShardID(i))
		}
	}
	if len(missing) > 0 {
		return NotCaughtUp, missing, nil
	}
	return IsCaughtUp, nil, nil
}

// stateSyncInfoFor names the (shard, chunk hash) pairs whose full state
// must be downloaded before block's epoch can be caught up.
func stateSyncInfoFor(block *types.Block, shards []types.ShardID) *types.StateSyncInfo {
	byShard := make(map[types.ShardID]common.Hash, len(block.Body.ChunkHeaders))
	for _, ch := range block.Body.ChunkHeaders {
		byShard[ch.ShardID] = ch.Hash()
	}
	info := &types.StateSyncInfo{EpochTailHash: block.Hash()}
	for _, shard := range shards {
		info.Chunks = append(info.Chunks, types.ChunkKey{ShardID: shard, ChunkHash: byShard[shard]})
	}
	return info
}

// shardsCaredAbout resolves, for NotCaughtUp/CatchingUp modes, which
// current-epoch shards ChunkApplier.BuildJobs should actually apply
//: NotCaughtUp applies only shards cared about this epoch;
// CatchingUp applies only shards that will be cared about next epoch and
// were NOT cared about this epoch, so the two partitions never overlap and
// every (block, shard) pair is applied exactly once across modes.
func (c *Chain) shardsCaredAbout(block *types.Block, prevHeader *types.Header, mode ApplierMode) (map[types.ShardID]bool, error) {
	out := make(map[types.ShardID]bool)
	if mode == IsCaughtUp {
		return out, nil
	}
	numShards, err := c.adapter.NumShards(block.Header.EpochID)
	if err != nil {
		return nil, newErrf(KindOperational, "num shards: %w", err)
	}
	for i := 0; i < numShards; i++ {
		cares, err := c.adapter.CaresAboutShard(common.Hash{}, prevHeader.Hash(), types.ShardID(i), false)
		if err != nil {
			return nil, newErrf(KindOperational, "cares about shard: %w", err)
		}
		switch mode {
		case NotCaughtUp:
			out[types.ShardID(i)] = cares
		case CatchingUp:
			willCare, err := c.adapter.WillCareAboutShard(common.Hash{}, prevHeader.Hash(), types.ShardID(i))
			if err != nil {
				return nil, newErrf(KindOperational, "will care about shard: %w", err)
			}
			out[types.ShardID(i)] = willCare && !cares
		}
	}
	return out, nil
}

// splitPlan maps each current shard onto its next-layout children when the
// upcoming epoch reshards; nil when the
// layout is stable. The plan prepares split roots directly except on the
// NotCaughtUp path, where jobs stage change blobs instead.
func (c *Chain) splitPlan(block *types.Block, prevHeader *types.Header, mode ApplierMode) (*SplitPlan, error) {
	change, err := c.adapter.WillShardLayoutChangeNextEpoch(prevHeader.Hash())
	if err != nil {
		return nil, newErrf(KindOperational, "will shard layout change: %w", err)
	}
	if !change {
		return nil, nil
	}
	version, numShards, err := c.adapter.GetShardLayout(block.Header.NextEpochID)
	if err != nil {
		return nil, newErrf(KindOperational, "get next shard layout: %w", err)
	}
	nextShards := make([]types.ShardID, numShards)
	for i := range nextShards {
		nextShards[i] = types.ShardID(i)
	}
	parents, err := c.adapter.GetPrevShardIDs(block.ParentHash(), nextShards)
	if err != nil {
		return nil, newErrf(KindOperational, "get prev shard ids: %w", err)
	}
	children := make(map[types.ShardID][]types.ShardUId)
	for i, parent := range parents {
		children[parent] = append(children[parent], types.ShardUId{Version: version, ShardID: nextShards[i]})
	}
	return &SplitPlan{Children: children, PrepareRoots: mode != NotCaughtUp}, nil
}

// collectPrevExtras fetches the previous block's ChunkExtra for every
// shard in the current epoch's layout, the per-shard starting point
// ChunkApplier.BuildJobs needs.
func (c *Chain) collectPrevExtras(block *types.Block, prevHeader *types.Header) (map[types.ShardUId]*types.ChunkExtra, error) {
	layoutVersion, numShards, err := c.adapter.GetShardLayout(block.Header.EpochID)
	if err != nil {
		return nil, newErrf(KindOperational, "get shard layout: %w", err)
	}
	out := make(map[types.ShardUId]*types.ChunkExtra, numShards)
	for i := 0; i < numShards; i++ {
		uid := types.ShardUId{Version: layoutVersion, ShardID: types.ShardID(i)}
		extra := c.access.GetChunkExtra(prevHeader.Hash(), uid)
		if extra == nil {
			return nil, newErrf(KindOperational, "missing chunk extra for shard %s at block %s", uid, prevHeader.Hash())
		}
		out[uid] = extra
	}
	return out, nil
}

// verifyChunkContinuity checks every new chunk in block declares a prev
// state root equal to the previous ChunkExtra's state root for that shard,
// the state-root chaining rule. A mismatch is Byzantine evidence rather
// than an ordinary validation failure, so it is reported as a ChunkState
// challenge alongside the terminal error.
func (c *Chain) verifyChunkContinuity(block *types.Block, prevExtras map[types.ShardUId]*types.ChunkExtra) (*types.Challenge, error) {
	for _, ch := range block.NewChunks() {
		uid, err := c.adapter.ShardIDToUId(ch.ShardID, block.Header.EpochID)
		if err != nil {
			return nil, newErrf(KindOperational, "shard id to uid: %w", err)
		}
		prevExtra, ok := prevExtras[uid]
		if !ok {
			continue
		}
		if ch.PrevStateRoot != prevExtra.StateRoot {
			evidence := &types.ChunkStateEvidence{
				ClaimedRoot:    ch.PrevStateRoot,
				RecomputedRoot: prevExtra.StateRoot,
			}
			return types.NewChunkStateChallenge(evidence), newErr(KindValidation, ErrInvalidChunkState)
		}
	}
	return nil, nil
}

// attachChunkInputs completes each new-chunk job's inputs with the parts
// only the store can supply: the chunk body's transactions, and the
// incoming receipts gathered from the intervening blocks since that shard's
// previous new chunk, shuffled with a PRNG seeded from the block hash so
// every honest node derives the same order.
func (c *Chain) attachChunkInputs(block *types.Block, jobs []ChunkApplyJob) {
	seed := int64(binary.BigEndian.Uint64(block.Hash().Bytes()[:8]))
	rng := rand.New(rand.NewSource(seed))
	for i := range jobs {
		if !jobs[i].IsNewChunk {
			continue
		}
		if chunk := c.access.GetChunk(jobs[i].ChunkHeader.Hash()); chunk != nil {
			jobs[i].Input.Transactions = chunk.Transactions
		}
		receipts := c.gatherIncomingReceipts(block, jobs[i])
		rng.Shuffle(len(receipts), func(a, b int) { receipts[a], receipts[b] = receipts[b], receipts[a] })
		jobs[i].Input.IncomingReceipts = receipts
	}
}

// gatherIncomingReceipts walks back from block's parent collecting outgoing
// receipts destined for job.Shard from every chunk body new in the heights
// [prev_height_included, block.Height-1], the previous new chunk's own
// block included, since its outgoing receipts are exactly what the next
// chunk consumes.
func (c *Chain) gatherIncomingReceipts(block *types.Block, job ChunkApplyJob) []types.ReceiptProof {
	var out []types.ReceiptProof
	hash, height := block.ParentHash(), safeSub(block.Height(), 1)
	for height >= job.Input.PrevChunkHeightIncl {
		if b := c.access.GetBlock(hash, height); b != nil {
			for _, ch := range b.Body.ChunkHeaders {
				if !ch.IsNewAt(height) {
					continue
				}
				chunk := c.access.GetChunk(ch.Hash())
				if chunk == nil {
					continue
				}
				var receipts []types.OutgoingReceipt
				for _, r := range chunk.Receipts {
					if r.ToShard == job.Shard.ShardID {
						receipts = append(receipts, r)
					}
				}
				if len(receipts) > 0 {
					out = append(out, types.ReceiptProof{FromShard: ch.ShardID, Receipts: receipts})
				}
			}
		}
		if height == 0 {
			break
		}
		header := c.access.GetHeader(hash, height)
		if header == nil {
			break
		}
		hash, height = header.ParentHash, height-1
	}
	return out
}

// newChunkProposals concatenates the validator proposals claimed by every
// chunk header that is new at block's height, in shard-id order, the set
// the proposals check compares against the block header's own list.
func newChunkProposals(block *types.Block) []types.ValidatorStake {
	var proposals []types.ValidatorStake
	for _, ch := range block.NewChunks() {
		proposals = append(proposals, ch.ValidatorProposals...)
	}
	return proposals
}

// postprocess folds ChunkApplyResults into update's buffered writes.
func (c *Chain) postprocess(update *ChainStoreUpdate, block *types.Block, jobs []ChunkApplyJob, results []ChunkApplyResult) error {
	hash := block.Hash()

	for i, res := range results {
		if res.Err != nil {
			return res.Err
		}
		shard := jobs[i].Shard
		update.SaveChunkExtra(hash, shard, res.Extra)
		for child, extra := range res.ChildExtras {
			update.SaveChunkExtra(hash, child, extra)
		}
		if res.SplitStateChanges != nil {
			for _, child := range jobs[i].SplitChildren {
				update.SaveSplitStateChanges(hash, child, res.SplitStateChanges)
			}
		}
		if res.Challenge != nil {
			c.emitChallenge(res.Challenge)
		}
	}
	return nil
}

// updateHeads moves the three tips: final_head advances first (if the new
// header's LastFinalBlock names a later block than the current final
// head), then head advances if block extends the canonical chain at a
// greater height, replacing it outright on a fork/reorg. Crossing an
// epoch boundary while advancing head emits a light-client block for the
// previous epoch; constructing it is in scope, everything
// further down the light-client protocol is not.
func (c *Chain) updateHeads(update *ChainStoreUpdate, block *types.Block) (types.BlockStatus, *types.Tip, error) {
	newTip := types.TipFromHeader(block.Header)

	// header_head only ever leads: a lower or equal height header (a fork or
	// a double-sign at an already-known height) must not regress it below
	// head, or the tail <= final_head <= head <= header_head ordering breaks.
	if headerTip := c.HeaderHeadTip(); newTip.Height > headerTip.Height {
		update.SetHeadHeader(newTip)
		c.headHeader.Store(&newTip)
	}

	headTip := c.HeadTip()
	if block.ParentHash() != headTip.Hash && block.Height() <= headTip.Height {
		// Lower/equal-height fork block: header recorded, body tip unchanged.
		// Its finality references are fork-local and must not move
		// final_head either.
		return types.BlockStatus{Kind: types.BlockStatusFork}, nil, nil
	}

	if finalHeader := c.access.GetHeaderByHash(block.Header.LastFinalBlock); finalHeader != nil {
		if finalTip := c.FinalHeadTip(); finalHeader.Height > finalTip.Height {
			tip := types.TipFromHeader(finalHeader)
			update.SetFinalHead(tip)
			c.finalHead.Store(&tip)
		}
	}

	status := types.BlockStatus{Kind: types.BlockStatusNext}
	if block.ParentHash() != headTip.Hash {
		status = types.BlockStatus{Kind: types.BlockStatusReorg, OldHead: headTip.Hash}
	}

	// Rewrite the canonical-chain height index: a reorg may be
	// extending a branch whose ancestors were committed as non-canonical
	// forks, so walk back re-pointing every height that diverges from the
	// previously-canonical chain until reaching a common ancestor. The
	// block-merkle leaf forest follows the same rewrite, so fork blocks
	// never touch it and a reorg replaces the whole diverged leaf range.
	rewritten := c.reconcileCanonicalChain(update, block)
	c.merkle.RewriteLeaves(update, rewritten, block.Height()+1)

	if block.Header.EpochID != headTip.EpochID && headTip.Hash != (common.Hash{}) {
		if err := c.saveLightClientBlock(update, headTip.EpochID, block.Header); err != nil {
			return types.BlockStatus{}, nil, err
		}
	}

	update.SetHeadBlock(newTip)
	if status.Kind == types.BlockStatusReorg {
		blockReorgMeter.Mark(1)
	}
	c.headBlock.Store(&newTip)
	headBlockGauge.Update(int64(newTip.Height))
	headHeaderGauge.Update(int64(c.HeaderHeadTip().Height))
	headFinalGauge.Update(int64(c.FinalHeadTip().Height))

	return status, &newTip, nil
}

// saveLightClientBlock builds the compact per-epoch view light clients use
// to skip ahead across epoch boundaries: the last final header of the
// closing epoch, plus the next epoch's ordered block producers so the
// verifier can check the following epoch's signatures without replaying
// every header in between.
func (c *Chain) saveLightClientBlock(update *ChainStoreUpdate, closedEpoch common.Hash, header *types.Header) error {
	final := c.access.GetHeaderByHash(header.LastFinalBlock)
	if final == nil {
		// Nothing final yet (early chain); there is no meaningful epoch
		// summary to construct.
		return nil
	}
	producers, err := c.adapter.GetEpochBlockProducersOrdered(header.EpochID)
	if err != nil {
		return newErrf(KindOperational, "light client producers: %w", err)
	}
	update.SaveLightClientBlock(closedEpoch, &types.LightClientBlock{
		Header:  final,
		NextBPs: producers,
	})
	return nil
}

// reconcileCanonicalChain writes block's own height into the canonical-hash
// index, then walks back through its ancestors rewriting every height whose
// stored canonical hash disagrees with the new branch, stopping as soon as
// an ancestor is already canonical (the fork-join point). A plain next-block
// advance stops after one check; a reorg rewrites the whole diverged range.
// Returns every (height, hash) it re-pointed, block's own height included.
func (c *Chain) reconcileCanonicalChain(update *ChainStoreUpdate, block *types.Block) map[uint64]common.Hash {
	rewritten := map[uint64]common.Hash{block.Height(): block.Hash()}
	update.SaveCanonicalHash(block.Height(), block.Hash())

	hash, height := block.ParentHash(), block.Height()
	for height > 0 {
		height--
		if c.access.GetCanonicalHash(height) == hash {
			return rewritten
		}
		update.SaveCanonicalHash(height, hash)
		rewritten[height] = hash
		header := c.access.GetHeader(hash, height)
		if header == nil {
			return rewritten
		}
		hash = header.ParentHash
	}
	return rewritten
}
