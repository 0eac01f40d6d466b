package core

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/stretchr/testify/require"

	"github.com/shardnode/shardnode/core/types"
	"github.com/shardnode/shardnode/params"
	"github.com/shardnode/shardnode/runtime"
)

// epochAdapter wraps fakeAdapter so one specific prev-block hash reports as
// an epoch boundary: state sync only triggers at epoch starts, which
// the fixed fakeAdapter (always IsNextBlockEpochStart=false) can't express.
type epochAdapter struct {
	*fakeAdapter
	epochStartAfter common.Hash
}

func (a *epochAdapter) IsNextBlockEpochStart(prev common.Hash) (bool, error) {
	return prev == a.epochStartAfter, nil
}

var _ runtime.Adapter = (*epochAdapter)(nil)

// newStateSyncChain builds a single-shard chain whose genesis header carries
// a correct ChunkHeadersRoot. newTestChain's genesis leaves that field zero,
// which is fine for ordinary block processing (ValidateBody never checks
// it) but state sync's header verification checks it against the chunk it
// names, so this constructor builds genesis by hand instead.
func newStateSyncChain(t *testing.T) (*Chain, *epochAdapter) {
	db := rawdb.NewDatabase(memorydb.New())
	inner := newFakeAdapter(1)
	adapter := &epochAdapter{fakeAdapter: inner}
	config := *params.SandboxChainConfig

	access := NewChainStoreAccess(db)
	c := &Chain{
		config:        &config,
		engine:        fakeEngine{},
		adapter:       adapter,
		access:        access,
		validator:     NewValidator(&config, fakeEngine{}, adapter),
		applier:       NewChunkApplier(adapter, 0),
		merkle:        NewMerkleIndex(access),
		orphans:       NewOrphanPool(),
		missingChunks: NewMissingChunksPool(),
	}

	roots, err := adapter.GenesisState(context.Background())
	require.NoError(t, err)

	ch := &types.ChunkHeader{ShardID: 0, HeightCreated: 0, HeightIncluded: 0, PrevStateRoot: roots[0]}
	header := &types.Header{
		EpochID:          inner.epoch,
		NextEpochID:      inner.nextEpoch,
		NextBPHash:       common.HexToHash("0xb9"),
		ChunkMask:        []bool{true},
		GasPrice:         testGasPrice(),
		Timestamp:        1000,
		ChunkHeadersRoot: ch.Hash(),
	}
	genesisBlock := types.NewBlock(header, &types.Body{ChunkHeaders: []*types.ChunkHeader{ch}})
	require.NoError(t, c.commitGenesis(genesisBlock))

	return c, adapter
}

// TestStateSyncRoundTripRecoversChunkExtra: a node requests state as of an
// epoch boundary, verifies the header, finalizes it, and ends up with the
// same ChunkExtra a node that processed the block directly would have
// computed; state-root chaining holds across the state-sync path too.
func TestStateSyncRoundTripRecoversChunkExtra(t *testing.T) {
	chain, adapter := newStateSyncChain(t)
	genesis := chain.Genesis().Header
	ctx := context.Background()

	r0 := genesisRoot(chain, genesis)
	r1 := nextRoot(r0, shard0())

	b1 := buildChild(genesis, genesis.Timestamp+1, true)
	ch1 := b1.Body.ChunkHeaders[0]
	ch1.PrevStateRoot = r0
	ch1.OutgoingReceiptsRoot = crypto.Keccak256Hash()
	b1.Header.ChunkHeadersRoot = ch1.Hash()
	saveChunkBody(t, chain, ch1)

	tip, err := chain.ProcessBlock(ctx, b1, types.ProvenanceProduced)
	require.NoError(t, err)
	require.NotNil(t, tip)
	require.Equal(t, r1, chain.access.GetChunkExtra(b1.Hash(), shard0()).StateRoot)

	// b2 is the epoch-start block following b1, so a state-sync request
	// naming it as sync_hash asks for the state as of b1.
	adapter.epochStartAfter = b1.Hash()
	b2 := buildChild(b1.Header, b1.Header.Timestamp+1, false)

	_, err = chain.ProcessBlock(ctx, b2, types.ProvenanceProduced)
	require.NoError(t, err)
	require.Equal(t, b2.Hash(), chain.HeadTip().Hash)

	sync := NewStateSync(chain)

	header, err := sync.GetStateResponseHeader(types.ShardID(0), b2.Hash())
	require.NoError(t, err)
	require.Equal(t, ch1.Hash(), header.Chunk.Hash())
	require.NotNil(t, header.PrevChunk)

	require.NoError(t, sync.SetStateHeader(types.ShardID(0), b2.Hash(), header))
	require.NoError(t, sync.SetStateFinalize(ctx, types.ShardID(0), b2.Hash()))

	recovered := chain.access.GetChunkExtra(b1.Hash(), shard0())
	require.NotNil(t, recovered)
	require.Equal(t, r1, recovered.StateRoot)
}

// TestStateSyncSetStateHeaderRejectsBadChunkProof covers the chunk-proof
// rejection path: a header whose chunk doesn't match the named block's
// chunk-headers root must fail verification rather than get cached.
func TestStateSyncSetStateHeaderRejectsBadChunkProof(t *testing.T) {
	chain, adapter := newStateSyncChain(t)
	genesis := chain.Genesis().Header
	ctx := context.Background()

	r0 := genesisRoot(chain, genesis)

	b1 := buildChild(genesis, genesis.Timestamp+1, true)
	ch1 := b1.Body.ChunkHeaders[0]
	ch1.PrevStateRoot = r0
	ch1.OutgoingReceiptsRoot = crypto.Keccak256Hash()
	b1.Header.ChunkHeadersRoot = ch1.Hash()
	saveChunkBody(t, chain, ch1)

	_, err := chain.ProcessBlock(ctx, b1, types.ProvenanceProduced)
	require.NoError(t, err)

	adapter.epochStartAfter = b1.Hash()
	b2 := buildChild(b1.Header, b1.Header.Timestamp+1, false)
	_, err = chain.ProcessBlock(ctx, b2, types.ProvenanceProduced)
	require.NoError(t, err)

	sync := NewStateSync(chain)
	header, err := sync.GetStateResponseHeader(types.ShardID(0), b2.Hash())
	require.NoError(t, err)

	// A fresh struct literal, not a shallow copy of header.Chunk: ChunkHeader
	// caches its hash lazily, and copying the struct would copy that cache
	// too, leaving Hash() stale with respect to the GasLimit change below.
	header.Chunk = &types.ChunkHeader{
		ShardID:              header.Chunk.ShardID,
		HeightCreated:        header.Chunk.HeightCreated,
		HeightIncluded:       header.Chunk.HeightIncluded,
		PrevStateRoot:        header.Chunk.PrevStateRoot,
		OutgoingReceiptsRoot: header.Chunk.OutgoingReceiptsRoot,
		GasLimit:             header.Chunk.GasLimit + 1,
		GasUsed:              header.Chunk.GasUsed,
		ValidatorProposals:   header.Chunk.ValidatorProposals,
		Signature:            header.Chunk.Signature,
	}

	err = sync.SetStateHeader(types.ShardID(0), b2.Hash(), header)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindValidation, kind)
}
