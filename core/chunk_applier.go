package core

import (
	"context"
	"math/big"
	goruntime "runtime"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/sync/errgroup"

	"github.com/shardnode/shardnode/core/types"
	"github.com/shardnode/shardnode/runtime"
)

// ApplierMode partitions which (block, shard) pairs a node applies at a
// given block, guaranteeing every pair is applied exactly once across the
// three modes.
type ApplierMode int

const (
	// IsCaughtUp applies for every shard.
	IsCaughtUp ApplierMode = iota
	// NotCaughtUp applies only for shards cared about this epoch.
	NotCaughtUp
	// CatchingUp applies only for shards that will be cared about next
	// epoch but were not cared about this epoch.
	CatchingUp
)

// ChunkApplyJob is a value-typed, owned description of one shard's
// chunk-application work for one block. It carries no pointers into shared chain
// state; everything a worker needs is copied in by value so jobs may run
// on any goroutine with zero shared mutable state.
type ChunkApplyJob struct {
	Block       *types.Block
	Shard       types.ShardUId
	IsNewChunk  bool
	ChunkHeader *types.ChunkHeader // nil for a continuation
	PrevExtra   *types.ChunkExtra
	Input       runtime.ApplyInput

	// Resharding bookkeeping, populated only when the next epoch changes
	// the shard layout.
	SplitChildren []types.ShardUId
	// EmitSplitChanges marks the NotCaughtUp resharding path: the split
	// trie is not available yet, so the job emits a change blob for later
	// replay instead of applying to the children directly.
	EmitSplitChanges bool
}

// SplitPlan describes how the current epoch's shards map onto the next
// layout's children when a resharding boundary is ahead. PrepareRoots is
// set on the CatchingUp/IsCaughtUp path, where the split states exist and
// jobs apply into them; NotCaughtUp jobs only stage change blobs.
type SplitPlan struct {
	Children     map[types.ShardID][]types.ShardUId
	PrepareRoots bool
}

// ChunkApplyResult is the pure output of running one ChunkApplyJob,
// aggregated sequentially by the orchestrator in shard-id order regardless
// of completion order.
type ChunkApplyResult struct {
	Shard   types.ShardUId
	Extra   *types.ChunkExtra
	Receipt *runtime.ApplyTransactionResult

	// OutcomeProofs holds one authentication path per transaction outcome,
	// proving it under Extra.OutcomeRoot.
	OutcomeProofs []types.MerklePath

	ChildExtras map[types.ShardUId]*types.ChunkExtra

	// SplitStateChanges is non-nil only on the NotCaughtUp resharding path,
	// where the split-state trie is not yet available and the change blob
	// must be persisted for later replay.
	SplitStateChanges []byte

	Challenge *types.Challenge
	Err       error
}

// ChunkApplier schedules and runs per-shard chunk application in parallel,
// then postprocesses results into ChunkExtras. Parallelism is an
// errgroup.Group bounded by workers, joined before any postprocessing;
// within one block's apply, jobs never observe each other's writes because
// each only touches its own shard's extra.
type ChunkApplier struct {
	adapter runtime.Adapter
	workers int
}

// NewChunkApplier builds an applier over adapter, using workers concurrent
// goroutines; workers <= 0 means runtime.GOMAXPROCS(0).
func NewChunkApplier(adapter runtime.Adapter, workers int) *ChunkApplier {
	return &ChunkApplier{adapter: adapter, workers: workers}
}

// BuildJobs constructs the job list for block given its predecessor's
// block and extras and the applier mode. Jobs come back sorted by shard id
// so results (which stay index-aligned with jobs) aggregate in shard-id
// order. The previous block's own chunk headers supply each shard's prior
// height-included, the interval start for incoming-receipt gathering.
func (a *ChunkApplier) BuildJobs(block, prevBlock *types.Block, prevExtras map[types.ShardUId]*types.ChunkExtra, shardsToApply map[types.ShardID]bool, split *SplitPlan, mode ApplierMode) []ChunkApplyJob {
	newChunks := make(map[types.ShardID]*types.ChunkHeader)
	for _, ch := range block.NewChunks() {
		newChunks[ch.ShardID] = ch
	}
	prevChunks := make(map[types.ShardID]*types.ChunkHeader)
	if prevBlock != nil {
		for _, ch := range prevBlock.Body.ChunkHeaders {
			prevChunks[ch.ShardID] = ch
		}
	}

	var jobs []ChunkApplyJob
	for shardUId, prevExtra := range prevExtras {
		if mode != IsCaughtUp && !shardsToApply[shardUId.ShardID] {
			continue
		}
		ch, isNew := newChunks[shardUId.ShardID]
		job := ChunkApplyJob{
			Block:      block,
			Shard:      shardUId,
			IsNewChunk: isNew,
			PrevExtra:  prevExtra,
		}
		if isNew {
			var prevHeightIncl uint64
			if prev := prevChunks[shardUId.ShardID]; prev != nil {
				prevHeightIncl = prev.HeightIncluded
			}
			job.ChunkHeader = ch
			job.Input = runtime.ApplyInput{
				Shard:               shardUId,
				PrevStateRoot:       prevExtra.StateRoot,
				PrevChunkHeightIncl: prevHeightIncl,
				GasPrice:            block.Header.GasPrice.Uint64(),
				GasLimit:            ch.GasLimit,
				RandomValue:         block.Header.RandomValue,
			}
			if split != nil {
				job.SplitChildren = split.Children[shardUId.ShardID]
				job.EmitSplitChanges = !split.PrepareRoots
			}
		}
		jobs = append(jobs, job)
	}
	sortJobsByShard(jobs)
	return jobs
}

// Apply runs every job concurrently; results stay index-aligned with jobs,
// which BuildJobs already ordered by shard id.
func (a *ChunkApplier) Apply(ctx context.Context, jobs []ChunkApplyJob) ([]ChunkApplyResult, error) {
	results := make([]ChunkApplyResult, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	limit := a.workers
	if limit <= 0 {
		limit = goruntime.GOMAXPROCS(0)
	}
	g.SetLimit(limit)
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			results[i] = a.applyOne(gctx, job)
			return nil // job errors are carried in the result, not propagated
		})
	}
	if err := g.Wait(); err != nil {
		return nil, newErrf(KindOperational, "chunk apply: %w", err)
	}
	return results, nil
}

func (a *ChunkApplier) applyOne(ctx context.Context, job ChunkApplyJob) ChunkApplyResult {
	if !job.IsNewChunk {
		return a.applyContinuation(ctx, job)
	}
	return a.applyNewChunk(ctx, job)
}

// applyNewChunk re-applies one shard's new chunk through the runtime.
// State-root continuity against the previous extra and canonical
// transaction order are both checked by ChainUpdate before a job is ever
// built, so a mismatch short-circuits (with a challenge) without reaching
// this point.
func (a *ChunkApplier) applyNewChunk(ctx context.Context, job ChunkApplyJob) ChunkApplyResult {
	result, err := a.adapter.ApplyTransactions(ctx, job.Input)
	if err != nil {
		return ChunkApplyResult{Shard: job.Shard, Err: newErrf(KindOperational, "apply transactions: %w", err)}
	}

	extra := &types.ChunkExtra{
		StateRoot:          result.NewRoot,
		ValidatorProposals: result.ValidatorProposals,
		GasLimit:           job.Input.GasLimit,
		GasUsed:            result.TotalGasBurnt,
		BalanceBurnt:       new(big.Int).SetUint64(result.TotalBalanceBurnt),
	}
	// Merklize the per-transaction outcomes: the root chains into the
	// chunk extra, and the per-outcome authentication paths let a client
	// prove any single outcome against it.
	outcomeRoot, outcomeProofs := outcomeMerkle(result.Outcomes)
	extra.OutcomeRoot = outcomeRoot

	res := ChunkApplyResult{Shard: job.Shard, Extra: extra, Receipt: result, OutcomeProofs: outcomeProofs}

	if len(job.SplitChildren) > 0 && job.EmitSplitChanges {
		// NotCaughtUp resharding path: the split-state trie is still being
		// downloaded, so stage the change blob for later replay.
		res.SplitStateChanges = result.TrieChanges
		return res
	}
	if len(job.SplitChildren) > 0 {
		children, err := a.adapter.ApplyUpdateToSplitStates(ctx, result, job.SplitChildren)
		if err != nil {
			return ChunkApplyResult{Shard: job.Shard, Err: newErrf(KindOperational, "split states: %w", err)}
		}
		res.ChildExtras = make(map[types.ShardUId]*types.ChunkExtra, len(children))
		gasShare, gasRem := divideWithRemainder(result.TotalGasBurnt, uint64(len(children)))
		balShare, balRem := divideWithRemainder(result.TotalBalanceBurnt, uint64(len(children)))
		for i, child := range children {
			gas := gasShare
			bal := balShare
			if uint64(i) < gasRem {
				gas++
			}
			if uint64(i) < balRem {
				bal++
			}
			res.ChildExtras[child.ChildShard] = &types.ChunkExtra{
				StateRoot: child.NewRoot,
				// Parent's outcome root, copied to each child; the outcome
				// proofs stay valid under the old layout.
				OutcomeRoot:  extra.OutcomeRoot,
				GasLimit:     extra.GasLimit,
				GasUsed:      gas,
				BalanceBurnt: new(big.Int).SetUint64(bal),
			}
		}
	}
	return res
}

// applyContinuation handles a shard with no new chunk at this block: copy
// the previous extra, replacing the state root with the runtime's
// empty-application result so state-root chaining is preserved. The
// runtime is still invoked (with an empty transaction set) because an
// empty application can still process delayed receipts and move the state
// root even with no new chunk.
func (a *ChunkApplier) applyContinuation(ctx context.Context, job ChunkApplyJob) ChunkApplyResult {
	chunkContinuationMeter.Mark(1)

	emptyInput := runtime.ApplyInput{
		Shard:         job.Shard,
		PrevStateRoot: job.PrevExtra.StateRoot,
	}
	result, err := a.adapter.ApplyTransactions(ctx, emptyInput)
	if err != nil {
		return ChunkApplyResult{Shard: job.Shard, Err: newErrf(KindOperational, "apply empty chunk: %w", err)}
	}

	extra := job.PrevExtra.Clone()
	extra.StateRoot = result.NewRoot
	return ChunkApplyResult{Shard: job.Shard, Extra: extra, Receipt: result}
}

// outcomeMerkle hashes each outcome and merklizes the set, returning the
// root plus one authentication path per outcome.
func outcomeMerkle(outcomes [][]byte) (common.Hash, []types.MerklePath) {
	if len(outcomes) == 0 {
		return common.Hash{}, nil
	}
	leaves := make([]common.Hash, len(outcomes))
	for i, o := range outcomes {
		leaves[i] = crypto.Keccak256Hash(o)
	}
	return buildMerkle(leaves)
}

func divideWithRemainder(total, n uint64) (share, remainder uint64) {
	if n == 0 {
		return 0, 0
	}
	return total / n, total % n
}

func sortJobsByShard(jobs []ChunkApplyJob) {
	for i := 1; i < len(jobs); i++ {
		for j := i; j > 0; j-- {
			a, b := jobs[j-1].Shard, jobs[j].Shard
			if a.ShardID < b.ShardID || (a.ShardID == b.ShardID && a.Version <= b.Version) {
				break
			}
			jobs[j-1], jobs[j] = jobs[j], jobs[j-1]
		}
	}
}
