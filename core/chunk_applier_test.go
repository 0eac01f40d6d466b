package core

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/shardnode/shardnode/core/types"
	"github.com/shardnode/shardnode/runtime"
)

// multiShardBlock builds a block at height 1 with one new chunk per shard,
// plus the height-0 predecessor carrying the chunks those extend.
func multiShardBlock(numShards int) (block, prevBlock *types.Block, prevExtras map[types.ShardUId]*types.ChunkExtra) {
	prevExtras = make(map[types.ShardUId]*types.ChunkExtra, numShards)
	var prevChunks, chunks []*types.ChunkHeader
	mask := make([]bool, numShards)
	for i := 0; i < numShards; i++ {
		shard := types.ShardID(i)
		root := crypto.Keccak256Hash([]byte{byte(i)})
		prevChunks = append(prevChunks, &types.ChunkHeader{ShardID: shard, HeightIncluded: 0, PrevStateRoot: root})
		chunks = append(chunks, &types.ChunkHeader{ShardID: shard, HeightCreated: 1, HeightIncluded: 1, PrevStateRoot: root})
		prevExtras[types.ShardUId{Version: 0, ShardID: shard}] = &types.ChunkExtra{StateRoot: root}
		mask[i] = true
	}
	prevHeader := &types.Header{Height: 0, GasPrice: testGasPrice(), ChunkMask: make([]bool, numShards)}
	prevBlock = types.NewBlock(prevHeader, &types.Body{ChunkHeaders: prevChunks})
	header := &types.Header{ParentHash: prevHeader.Hash(), Height: 1, GasPrice: testGasPrice(), ChunkMask: mask, Timestamp: 1}
	block = types.NewBlock(header, &types.Body{ChunkHeaders: chunks})
	return block, prevBlock, prevExtras
}

func jobShards(jobs []ChunkApplyJob) []types.ShardID {
	out := make([]types.ShardID, len(jobs))
	for i, j := range jobs {
		out[i] = j.Shard.ShardID
	}
	return out
}

// TestBuildJobsPartitionAcrossModes checks the apply-once contract: the
// shards NotCaughtUp applies and the shards CatchingUp applies are disjoint
// and together cover exactly what IsCaughtUp would apply in one go.
func TestBuildJobsPartitionAcrossModes(t *testing.T) {
	applier := NewChunkApplier(newFakeAdapter(2), 0)
	block, prevBlock, prevExtras := multiShardBlock(2)

	caredNow := map[types.ShardID]bool{0: true, 1: false}
	caredNext := map[types.ShardID]bool{0: false, 1: true}

	notCaughtUp := applier.BuildJobs(block, prevBlock, prevExtras, caredNow, nil, NotCaughtUp)
	catchingUp := applier.BuildJobs(block, prevBlock, prevExtras, caredNext, nil, CatchingUp)
	caughtUp := applier.BuildJobs(block, prevBlock, prevExtras, nil, nil, IsCaughtUp)

	require.Equal(t, []types.ShardID{0}, jobShards(notCaughtUp))
	require.Equal(t, []types.ShardID{1}, jobShards(catchingUp))
	require.Equal(t, []types.ShardID{0, 1}, jobShards(caughtUp))
}

// TestBuildJobsOrderedByShard: results stay index-aligned with jobs, so
// jobs must come out in shard-id order no matter the map iteration order
// behind them.
func TestBuildJobsOrderedByShard(t *testing.T) {
	const shards = 8
	applier := NewChunkApplier(newFakeAdapter(shards), 0)
	block, prevBlock, prevExtras := multiShardBlock(shards)

	for run := 0; run < 10; run++ {
		jobs := applier.BuildJobs(block, prevBlock, prevExtras, nil, nil, IsCaughtUp)
		require.Len(t, jobs, shards)
		for i, job := range jobs {
			require.Equal(t, types.ShardID(i), job.Shard.ShardID)
			require.Equal(t, uint64(0), job.Input.PrevChunkHeightIncl)
		}
	}
}

// TestApplyResultsAlignWithJobs runs a parallel apply and checks every
// result lands at its job's index with the expected state root.
func TestApplyResultsAlignWithJobs(t *testing.T) {
	const shards = 4
	applier := NewChunkApplier(newFakeAdapter(shards), 2)
	block, prevBlock, prevExtras := multiShardBlock(shards)

	jobs := applier.BuildJobs(block, prevBlock, prevExtras, nil, nil, IsCaughtUp)
	results, err := applier.Apply(context.Background(), jobs)
	require.NoError(t, err)
	require.Len(t, results, shards)
	for i, res := range results {
		require.NoError(t, res.Err)
		require.Equal(t, jobs[i].Shard, res.Shard)
		require.Equal(t, nextRoot(jobs[i].PrevExtra.StateRoot, jobs[i].Shard), res.Extra.StateRoot)
	}
}

// splitAdapter overrides the split-state application so the gas/balance
// division across children is observable.
type splitAdapter struct {
	*fakeAdapter
}

func (a *splitAdapter) ApplyUpdateToSplitStates(ctx context.Context, parent *runtime.ApplyTransactionResult, children []types.ShardUId) ([]runtime.ApplySplitStateResult, error) {
	out := make([]runtime.ApplySplitStateResult, len(children))
	for i, child := range children {
		out[i] = runtime.ApplySplitStateResult{ChildShard: child, NewRoot: crypto.Keccak256Hash(child.Bytes())}
	}
	return out, nil
}

// TestApplySplitsGasAcrossChildren checks the division rule: integer
// quotient with the first `remainder` children receiving one extra unit.
func TestApplySplitsGasAcrossChildren(t *testing.T) {
	inner := newFakeAdapter(1)
	inner.applyTransactions = func(ctx context.Context, in runtime.ApplyInput) (*runtime.ApplyTransactionResult, error) {
		return &runtime.ApplyTransactionResult{
			NewRoot:           crypto.Keccak256Hash(in.PrevStateRoot.Bytes()),
			TotalGasBurnt:     7,
			TotalBalanceBurnt: 5,
		}, nil
	}
	applier := NewChunkApplier(&splitAdapter{inner}, 0)
	block, prevBlock, prevExtras := multiShardBlock(1)

	children := []types.ShardUId{
		{Version: 1, ShardID: 0},
		{Version: 1, ShardID: 1},
		{Version: 1, ShardID: 2},
	}
	split := &SplitPlan{Children: map[types.ShardID][]types.ShardUId{0: children}, PrepareRoots: true}

	jobs := applier.BuildJobs(block, prevBlock, prevExtras, nil, split, IsCaughtUp)
	require.Len(t, jobs, 1)
	require.Equal(t, children, jobs[0].SplitChildren)
	require.False(t, jobs[0].EmitSplitChanges)

	results, err := applier.Apply(context.Background(), jobs)
	require.NoError(t, err)
	res := results[0]
	require.NoError(t, res.Err)
	require.Len(t, res.ChildExtras, 3)

	wantGas := map[types.ShardID]uint64{0: 3, 1: 2, 2: 2}
	wantBal := map[types.ShardID]uint64{0: 2, 1: 2, 2: 1}
	for _, child := range children {
		extra := res.ChildExtras[child]
		require.NotNil(t, extra)
		require.Equal(t, wantGas[child.ShardID], extra.GasUsed)
		require.Equal(t, wantBal[child.ShardID], extra.BalanceBurnt.Uint64())
		require.Equal(t, res.Extra.OutcomeRoot, extra.OutcomeRoot)
	}
}

// TestApplyStagesSplitChangesWhenNotCaughtUp checks the other resharding
// arm: without prepared roots the job must stage a change blob instead of
// producing child extras.
func TestApplyStagesSplitChangesWhenNotCaughtUp(t *testing.T) {
	inner := newFakeAdapter(1)
	inner.applyTransactions = func(ctx context.Context, in runtime.ApplyInput) (*runtime.ApplyTransactionResult, error) {
		return &runtime.ApplyTransactionResult{
			NewRoot:     crypto.Keccak256Hash(in.PrevStateRoot.Bytes()),
			TrieChanges: []byte{0xCA, 0xFE},
		}, nil
	}
	applier := NewChunkApplier(inner, 0)
	block, prevBlock, prevExtras := multiShardBlock(1)

	split := &SplitPlan{
		Children:     map[types.ShardID][]types.ShardUId{0: {{Version: 1, ShardID: 0}}},
		PrepareRoots: false,
	}
	jobs := applier.BuildJobs(block, prevBlock, prevExtras, map[types.ShardID]bool{0: true}, split, NotCaughtUp)
	require.Len(t, jobs, 1)
	require.True(t, jobs[0].EmitSplitChanges)

	results, err := applier.Apply(context.Background(), jobs)
	require.NoError(t, err)
	require.NoError(t, results[0].Err)
	require.Nil(t, results[0].ChildExtras)
	require.Equal(t, []byte{0xCA, 0xFE}, results[0].SplitStateChanges)
}

// TestOutcomeMerkleProofsVerify checks every per-outcome authentication
// path proves its outcome under the computed root, including odd leaf
// counts where the lone trailing node propagates upward.
func TestOutcomeMerkleProofsVerify(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5, 8} {
		outcomes := make([][]byte, n)
		for i := range outcomes {
			outcomes[i] = []byte{byte(n), byte(i)}
		}
		root, proofs := outcomeMerkle(outcomes)
		require.NotEqual(t, common.Hash{}, root, "n=%d", n)
		require.Len(t, proofs, n)
		for i, o := range outcomes {
			require.True(t, VerifyPath(proofs[i], crypto.Keccak256Hash(o), root), "n=%d outcome %d", n, i)
		}
	}
}

// TestApplySurfacesOutcomeProofs checks a new-chunk apply returns one proof
// per runtime outcome, each verifying under the extra's outcome root.
func TestApplySurfacesOutcomeProofs(t *testing.T) {
	outcomes := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	inner := newFakeAdapter(1)
	inner.applyTransactions = func(ctx context.Context, in runtime.ApplyInput) (*runtime.ApplyTransactionResult, error) {
		return &runtime.ApplyTransactionResult{
			NewRoot:  crypto.Keccak256Hash(in.PrevStateRoot.Bytes()),
			Outcomes: outcomes,
		}, nil
	}
	applier := NewChunkApplier(inner, 0)
	block, prevBlock, prevExtras := multiShardBlock(1)

	jobs := applier.BuildJobs(block, prevBlock, prevExtras, nil, nil, IsCaughtUp)
	results, err := applier.Apply(context.Background(), jobs)
	require.NoError(t, err)
	res := results[0]
	require.NoError(t, res.Err)
	require.Len(t, res.OutcomeProofs, len(outcomes))
	for i, o := range outcomes {
		require.True(t, VerifyPath(res.OutcomeProofs[i], crypto.Keccak256Hash(o), res.Extra.OutcomeRoot))
	}
}

var _ = common.Hash{}
