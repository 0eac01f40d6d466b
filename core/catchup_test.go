package core

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/stretchr/testify/require"

	"github.com/shardnode/shardnode/core/types"
	"github.com/shardnode/shardnode/params"
)

// catchupAdapter reports the node as not caring about any shard this epoch
// while still set to care next epoch, the shape that makes CatchingUp mode
// actually select work (shardsCaredAbout: willCare && !cares).
type catchupAdapter struct {
	*fakeAdapter
}

func (a *catchupAdapter) CaresAboutShard(me, prev common.Hash, shard types.ShardID, includeNext bool) (bool, error) {
	return false, nil
}

func TestCatchupStepAndPostprocessDrainQueue(t *testing.T) {
	db := rawdb.NewDatabase(memorydb.New())
	adapter := &catchupAdapter{newFakeAdapter(1)}
	config := *params.SandboxChainConfig
	genesisSpec := &Genesis{
		EpochID:     adapter.epoch,
		NextEpochID: adapter.nextEpoch,
		NextBPHash:  common.HexToHash("0xb9"),
		GasPrice:    testGasPrice(),
		Timestamp:   1000,
	}
	chain, err := NewChain(context.Background(), db, &config, fakeEngine{}, adapter, genesisSpec, nil, 0)
	require.NoError(t, err)
	genesis := chain.Genesis().Header
	ctx := context.Background()

	r0 := genesisRoot(chain, genesis)
	b1 := newChunkChild(t, chain, genesis, genesis.Timestamp+1, r0)
	_, err = chain.ProcessBlock(ctx, b1, types.ProvenanceProduced)
	require.NoError(t, err)

	// Queue b1 for catch-up the way an epoch-boundary NotCaughtUp
	// determination would have.
	update := NewUpdate(chain.access)
	chain.ScheduleBlockForCatchup(update, adapter.nextEpoch, b1.Hash())
	require.NoError(t, update.Commit())
	require.Equal(t, []common.Hash{b1.Hash()}, chain.access.GetBlocksToCatchup(adapter.nextEpoch))

	state := NewBlocksCatchUpState(chain)
	responses, err := state.CatchupBlocksStep(ctx, adapter.nextEpoch, 10)
	require.NoError(t, err)
	require.Len(t, responses, 1)
	require.NoError(t, responses[0].Err)
	require.Equal(t, b1.Hash(), responses[0].BlockHash)
	require.Len(t, responses[0].Results, 1, "CatchingUp must apply the shard the node skipped this epoch")

	require.NoError(t, chain.BlockCatchUpPostprocess(adapter.nextEpoch, responses[0]))
	require.Empty(t, chain.access.GetBlocksToCatchup(adapter.nextEpoch))

	// The re-application reproduced the same extra ordinary processing wrote.
	extra := chain.access.GetChunkExtra(b1.Hash(), shard0())
	require.NotNil(t, extra)
	require.Equal(t, nextRoot(r0, shard0()), extra.StateRoot)
}

func TestCatchupStepBoundsWork(t *testing.T) {
	chain, _, _ := newTestChain(t)
	genesis := chain.Genesis().Header
	ctx := context.Background()

	r0 := genesisRoot(chain, genesis)
	r1 := nextRoot(r0, shard0())
	b1 := newChunkChild(t, chain, genesis, genesis.Timestamp+1, r0)
	b2 := newChunkChild(t, chain, b1.Header, genesis.Timestamp+2, r1)
	for _, b := range []*types.Block{b1, b2} {
		_, err := chain.ProcessBlock(ctx, b, types.ProvenanceProduced)
		require.NoError(t, err)
	}

	epoch := chain.Genesis().Header.NextEpochID
	update := NewUpdate(chain.access)
	chain.ScheduleBlockForCatchup(update, epoch, b1.Hash())
	require.NoError(t, update.Commit())
	update = NewUpdate(chain.access)
	chain.ScheduleBlockForCatchup(update, epoch, b2.Hash())
	require.NoError(t, update.Commit())

	state := NewBlocksCatchUpState(chain)
	responses, err := state.CatchupBlocksStep(ctx, epoch, 1)
	require.NoError(t, err)
	require.Len(t, responses, 1, "step must respect maxBlocks")
}
