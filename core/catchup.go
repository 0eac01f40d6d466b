package core

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
)

// SavedStoreUpdate is a movable buffered-update value produced while
// preprocessing a block's chunk-apply jobs during catch-up, carried across
// the scheduling boundary to block_catch_up_postprocess without losing any
// buffered writes. It wraps a *ChainStoreUpdate rather than exposing one directly so
// the value can cross a channel/goroutine boundary and still be merged
// into whatever transaction is open by the time postprocessing runs.
type SavedStoreUpdate struct {
	update *ChainStoreUpdate
}

// restore folds the saved update's buffered writes into dst, binding them
// to whatever live transaction is open at postprocess time.
func (s SavedStoreUpdate) restore(dst *ChainStoreUpdate) {
	if s.update != nil {
		dst.Merge(s.update)
	}
}

// BlocksCatchUpState drives the per-epoch catch-up loop: a node that was
// NotCaughtUp at an epoch boundary applies the missed epoch's shard chunks
// in the background, a bounded number of blocks per step, while live
// blocks keep streaming through ProcessBlock.
type BlocksCatchUpState struct {
	chain *Chain
}

// NewBlocksCatchUpState builds a catch-up driver over chain.
func NewBlocksCatchUpState(chain *Chain) *BlocksCatchUpState {
	return &BlocksCatchUpState{chain: chain}
}

// CatchupBlocksStep processes up to maxBlocks pending blocks for epochID,
// running each one's ChunkApplyJobs through the chain's ChunkApplier before
// it returns, and returns a BlockCatchUpResponse per block. Nothing is
// committed here: the caller hands each response to
// BlockCatchUpPostprocess, so the caller drives progress cooperatively
// instead of the core owning a runner loop.
func (s *BlocksCatchUpState) CatchupBlocksStep(ctx context.Context, epochID common.Hash, maxBlocks int) ([]BlockCatchUpResponse, error) {
	c := s.chain
	c.chainmu.Lock()
	pending := c.access.GetBlocksToCatchup(epochID)
	c.chainmu.Unlock()

	if len(pending) > maxBlocks {
		pending = pending[:maxBlocks]
	}

	responses := make([]BlockCatchUpResponse, 0, len(pending))
	for _, hash := range pending {
		resp := s.preprocessOne(ctx, hash)
		responses = append(responses, resp)
		if resp.Err != nil {
			// Step-bounded: stop at the first error and let the caller's
			// retry loop re-drive catch-up.
			break
		}
	}
	return responses, nil
}

// preprocessOne builds and runs the jobs for one catch-up block, returning
// its results wrapped in a SavedStoreUpdate so a later, possibly different,
// caller can merge them into the live chain transaction.
func (s *BlocksCatchUpState) preprocessOne(ctx context.Context, hash common.Hash) BlockCatchUpResponse {
	c := s.chain

	c.chainmu.Lock()
	block := c.access.GetBlockByHash(hash)
	if block == nil {
		c.chainmu.Unlock()
		return BlockCatchUpResponse{BlockHash: hash, Err: newErrf(KindOperational, "catch-up block %s not found", hash)}
	}
	prevHeader := c.access.GetHeader(block.ParentHash(), safeSub(block.Height(), 1))
	if prevHeader == nil {
		c.chainmu.Unlock()
		return BlockCatchUpResponse{BlockHash: hash, Err: newErrf(KindOperational, "catch-up block %s missing parent header", hash)}
	}
	prevBlock := c.access.GetBlock(prevHeader.Hash(), prevHeader.Height)
	if prevBlock == nil {
		c.chainmu.Unlock()
		return BlockCatchUpResponse{BlockHash: hash, Err: newErrf(KindOperational, "catch-up block %s missing parent body", hash)}
	}
	prevExtras, err := c.collectPrevExtras(block, prevHeader)
	if err != nil {
		c.chainmu.Unlock()
		return BlockCatchUpResponse{BlockHash: hash, Err: err}
	}
	// Catch-up re-applies under CatchingUp: only the shards we will care
	// about next epoch that NotCaughtUp skipped at first acceptance, so
	// every (block, shard) pair is applied exactly once across modes.
	shardsToApply, err := c.shardsCaredAbout(block, prevHeader, CatchingUp)
	if err != nil {
		c.chainmu.Unlock()
		return BlockCatchUpResponse{BlockHash: hash, Err: err}
	}
	split, err := c.splitPlan(block, prevHeader, CatchingUp)
	c.chainmu.Unlock()
	if err != nil {
		return BlockCatchUpResponse{BlockHash: hash, Err: err}
	}

	jobs := c.applier.BuildJobs(block, prevBlock, prevExtras, shardsToApply, split, CatchingUp)
	c.attachChunkInputs(block, jobs)

	results, err := c.applier.Apply(ctx, jobs)
	if err != nil {
		return BlockCatchUpResponse{BlockHash: hash, Err: err}
	}

	update := NewUpdate(c.access)
	if err := c.postprocess(update, block, jobs, results); err != nil {
		return BlockCatchUpResponse{BlockHash: hash, Err: err}
	}

	return BlockCatchUpResponse{BlockHash: hash, Results: results, Saved: SavedStoreUpdate{update: update}}
}

// BlockCatchUpPostprocess implements block_catch_up_postprocess: it
// restores resp's saved store update onto a fresh transaction against the
// live store, removes the block from its epoch's catch-up list, and
// commits atomically. A non-nil resp.Err short-circuits without touching
// the store, leaving the block queued for a later retry.
func (c *Chain) BlockCatchUpPostprocess(epochID common.Hash, resp BlockCatchUpResponse) error {
	if resp.Err != nil {
		return resp.Err
	}

	c.chainmu.Lock()
	defer c.chainmu.Unlock()

	update := NewUpdate(c.access)
	resp.Saved.restore(update)

	remaining := c.access.GetBlocksToCatchup(epochID)
	filtered := remaining[:0]
	for _, h := range remaining {
		if h != resp.BlockHash {
			filtered = append(filtered, h)
		}
	}
	update.SaveBlocksToCatchup(epochID, filtered)

	if err := update.Commit(); err != nil {
		log.Error("Failed to commit catch-up postprocess", "block", resp.BlockHash, "err", err)
		return newErrf(KindOperational, "commit catch-up postprocess: %w", err)
	}

	if len(filtered) == 0 {
		log.Info("Catch-up complete for epoch", "epoch", epochID)
	}
	return nil
}

// ScheduleBlockForCatchup appends hash to epochID's catch-up list, called
// when a block at an epoch boundary needs NotCaughtUp processing.
func (c *Chain) ScheduleBlockForCatchup(update *ChainStoreUpdate, epochID common.Hash, hash common.Hash) {
	existing := c.access.GetBlocksToCatchup(epochID)
	for _, h := range existing {
		if h == hash {
			return
		}
	}
	update.SaveBlocksToCatchup(epochID, append(existing, hash))
}
