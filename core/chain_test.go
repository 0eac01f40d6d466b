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
)

// End-to-end ProcessBlock scenarios (plain advance, orphan resolution,
// missing chunks, fork/reorg) against the single-shard fake adapter in
// chain_test_helpers_test.go.

func shard0() types.ShardUId { return types.ShardUId{Version: 0, ShardID: 0} }

// nextRoot mirrors fakeAdapter's default ApplyTransactions result, so tests
// can predict a chunk header's required PrevStateRoot without reaching into
// the applier.
func nextRoot(prevRoot common.Hash, shard types.ShardUId) common.Hash {
	return crypto.Keccak256Hash(prevRoot.Bytes(), shard.Bytes())
}

// genesisRoot reads back the per-shard genesis state root that commitGenesis
// recorded, rather than reaching into fakeAdapter (which never stores the
// roots GenesisState computed for it).
func genesisRoot(chain *Chain, genesis *types.Header) common.Hash {
	return chain.access.GetChunkExtra(genesis.Hash(), shard0()).StateRoot
}

// saveChunkBody persists an empty chunk body for ch so blocks carrying it
// don't land in the missing-chunks pool.
func saveChunkBody(t *testing.T, chain *Chain, ch *types.ChunkHeader) {
	update := NewUpdate(chain.access)
	update.SaveChunk(&types.Chunk{Header: ch})
	require.NoError(t, update.Commit())
}

// newChunkChild builds a single-shard child block carrying a new chunk whose
// declared PrevStateRoot is prevRoot, satisfying verifyChunkContinuity
// against whatever extra the chain has recorded for parent,
// and saves the chunk body so the block is immediately acceptable.
func newChunkChild(t *testing.T, chain *Chain, parent *types.Header, timestamp uint64, prevRoot common.Hash) *types.Block {
	block := buildChild(parent, timestamp, true)
	block.Body.ChunkHeaders[0].PrevStateRoot = prevRoot
	saveChunkBody(t, chain, block.Body.ChunkHeaders[0])
	return block
}

func TestChainProcessBlockNextAdvance(t *testing.T) {
	chain, _, _ := newTestChain(t)
	genesis := chain.Genesis().Header

	var accepted []types.BlockStatus
	chain.callbacks = &Callbacks{
		OnBlockAccepted: func(hash common.Hash, status types.BlockStatus, provenance types.Provenance) {
			require.Equal(t, types.ProvenanceProduced, provenance)
			accepted = append(accepted, status)
		},
	}

	r0 := genesisRoot(chain, genesis)
	b1 := newChunkChild(t, chain, genesis, genesis.Timestamp+1, r0)

	tip, err := chain.ProcessBlock(context.Background(), b1, types.ProvenanceProduced)
	require.NoError(t, err)
	require.NotNil(t, tip)
	require.Equal(t, b1.Hash(), tip.Hash)

	require.Equal(t, b1.Hash(), chain.HeadTip().Hash)
	require.Equal(t, genesis.Hash(), chain.FinalHeadTip().Hash)
	require.Equal(t, b1.Hash(), chain.access.GetCanonicalHash(1))

	extra := chain.access.GetChunkExtra(b1.Hash(), shard0())
	require.NotNil(t, extra)
	require.Equal(t, nextRoot(r0, shard0()), extra.StateRoot)

	require.Equal(t, []types.BlockStatus{{Kind: types.BlockStatusNext}}, accepted)
}

func TestChainProcessBlockOrphanThenParent(t *testing.T) {
	chain, _, _ := newTestChain(t)
	genesis := chain.Genesis().Header
	ctx := context.Background()

	r0 := genesisRoot(chain, genesis)
	r1 := nextRoot(r0, shard0())

	b1 := newChunkChild(t, chain, genesis, genesis.Timestamp+1, r0)
	b2 := newChunkChild(t, chain, b1.Header, genesis.Timestamp+2, r1)

	_, err := chain.ProcessBlock(ctx, b2, types.ProvenanceNone)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindOrphan, kind)
	require.Equal(t, 1, chain.orphans.Len())

	tip, err := chain.ProcessBlock(ctx, b1, types.ProvenanceProduced)
	require.NoError(t, err)
	require.NotNil(t, tip)

	require.Equal(t, b2.Hash(), chain.HeadTip().Hash)
	require.Equal(t, 0, chain.orphans.Len())
}

func TestChainProcessBlockMissingChunks(t *testing.T) {
	chain, _, _ := newTestChain(t)
	genesis := chain.Genesis().Header
	ctx := context.Background()

	r0 := genesisRoot(chain, genesis)
	b1 := buildChild(genesis, genesis.Timestamp+1, true)
	b1.Body.ChunkHeaders[0].PrevStateRoot = r0
	ch := b1.Body.ChunkHeaders[0]

	var missed []common.Hash
	chain.callbacks = &Callbacks{
		OnBlockMissesChunks: func(prevHash common.Hash, missing []common.Hash, blockHash common.Hash) {
			missed = missing
		},
	}

	_, err := chain.ProcessBlock(ctx, b1, types.ProvenanceNone)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindChunksMissing, kind)
	require.Equal(t, []common.Hash{ch.Hash()}, missed)
	require.True(t, chain.missingChunks.Contains(b1.Hash()))
	require.Equal(t, genesis.Hash(), chain.HeadTip().Hash) // head still at genesis

	saveChunkBody(t, chain, ch)

	chain.CheckBlocksWithMissingChunks(ctx, ch.Hash())

	require.Equal(t, b1.Hash(), chain.HeadTip().Hash)
	require.False(t, chain.missingChunks.Contains(b1.Hash()))
}

func TestChainProcessBlockForkAndReorg(t *testing.T) {
	chain, _, _ := newTestChain(t)
	genesis := chain.Genesis().Header
	ctx := context.Background()

	r0 := genesisRoot(chain, genesis)
	r1 := nextRoot(r0, shard0())
	r2 := nextRoot(r1, shard0())
	r3 := nextRoot(r2, shard0())

	a1 := newChunkChild(t, chain, genesis, genesis.Timestamp+1, r0)
	a2 := newChunkChild(t, chain, a1.Header, genesis.Timestamp+2, r1)
	a3 := newChunkChild(t, chain, a2.Header, genesis.Timestamp+3, r2)

	for _, b := range []*types.Block{a1, a2, a3} {
		tip, err := chain.ProcessBlock(ctx, b, types.ProvenanceProduced)
		require.NoError(t, err)
		require.NotNil(t, tip)
	}
	require.Equal(t, a3.Hash(), chain.HeadTip().Hash)

	// A separate branch off genesis, distinguished by timestamp so it never
	// collides with the A-branch block hashes.
	b1 := newChunkChild(t, chain, genesis, genesis.Timestamp+1001, r0)
	b2 := newChunkChild(t, chain, b1.Header, genesis.Timestamp+1002, r1)
	b3 := newChunkChild(t, chain, b2.Header, genesis.Timestamp+1003, r2)
	b4 := newChunkChild(t, chain, b3.Header, genesis.Timestamp+1004, r3)

	for _, b := range []*types.Block{b1, b2, b3} {
		tip, err := chain.ProcessBlock(ctx, b, types.ProvenanceProduced)
		require.NoError(t, err)
		require.Nil(t, tip, "lower/equal-height fork block must not advance head")
		require.Equal(t, a3.Hash(), chain.HeadTip().Hash)
	}

	oldHead := chain.HeadTip().Hash
	require.Equal(t, a3.Hash(), oldHead)

	var lastStatus types.BlockStatus
	chain.callbacks = &Callbacks{
		OnBlockAccepted: func(hash common.Hash, status types.BlockStatus, provenance types.Provenance) {
			lastStatus = status
		},
	}
	tip, err := chain.ProcessBlock(ctx, b4, types.ProvenanceProduced)
	require.NoError(t, err)
	require.NotNil(t, tip)
	require.Equal(t, b4.Hash(), tip.Hash)
	require.Equal(t, types.BlockStatusReorg, lastStatus.Kind)
	require.Equal(t, oldHead, lastStatus.OldHead, "reorg status must name the replaced head")

	require.Equal(t, b4.Hash(), chain.HeadTip().Hash)

	// The canonical-hash index must now follow the B-branch at every height
	// it diverged from A.
	require.Equal(t, b1.Hash(), chain.access.GetCanonicalHash(1))
	require.Equal(t, b2.Hash(), chain.access.GetCanonicalHash(2))
	require.Equal(t, b3.Hash(), chain.access.GetCanonicalHash(3))
	require.Equal(t, b4.Hash(), chain.access.GetCanonicalHash(4))

	// The block-merkle forest followed the reorg: every canonical leaf
	// proves against the root over the first five ordinals.
	root := chain.merkle.RootAt(5)
	leaves := map[uint64]common.Hash{
		0: genesis.Hash(), 1: b1.Hash(), 2: b2.Hash(), 3: b3.Hash(), 4: b4.Hash(),
	}
	for ordinal, leaf := range leaves {
		require.True(t, VerifyPath(chain.merkle.Proof(ordinal, 5), leaf, root), "ordinal %d", ordinal)
	}
}

// epochSwitchAdapter flips the derived epoch once a designated prev block
// is crossed, so one block in the test chain starts a new epoch.
type epochSwitchAdapter struct {
	*fakeAdapter
	switchAfter common.Hash
}

func (a *epochSwitchAdapter) GetEpochIDFromPrevBlock(prev common.Hash) (common.Hash, error) {
	if prev == a.switchAfter {
		return a.nextEpoch, nil
	}
	return a.epoch, nil
}

func (a *epochSwitchAdapter) IsNextBlockEpochStart(prev common.Hash) (bool, error) {
	return prev == a.switchAfter, nil
}

func TestChainEpochCrossingEmitsLightClientBlock(t *testing.T) {
	db := rawdb.NewDatabase(memorydb.New())
	adapter := &epochSwitchAdapter{fakeAdapter: newFakeAdapter(1)}
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

	// b2 opens the next epoch, carrying b1's chunk forward as a continuation
	// and naming b1 as its last final block.
	adapter.switchAfter = b1.Hash()
	header := &types.Header{
		ParentHash:     b1.Hash(),
		Height:         2,
		EpochID:        adapter.nextEpoch,
		NextEpochID:    adapter.nextEpoch,
		NextBPHash:     hashValidatorSet(nil),
		LastFinalBlock: b1.Hash(),
		ChunkMask:      []bool{false},
		GasPrice:       testGasPrice(),
		Timestamp:      genesis.Timestamp + 2,
	}
	b2 := types.NewBlock(header, &types.Body{ChunkHeaders: []*types.ChunkHeader{b1.Body.ChunkHeaders[0]}})

	tip, err := chain.ProcessBlock(ctx, b2, types.ProvenanceProduced)
	require.NoError(t, err)
	require.NotNil(t, tip)

	require.Equal(t, b1.Hash(), chain.FinalHeadTip().Hash)

	lcb := chain.access.GetLightClientBlock(adapter.epoch)
	require.NotNil(t, lcb, "crossing out of an epoch must record its light-client block")
	require.Equal(t, b1.Hash(), lcb.Header.Hash())
}

// TestChainValidatesFinalityInfoForNonLocalBlocks drives the finality
// check with distinct, non-zero references: by height 3 a consecutive
// chain has last-doomslug-final = parent and last-final = grandparent, and
// a peer block carrying them swapped must be rejected.
func TestChainValidatesFinalityInfoForNonLocalBlocks(t *testing.T) {
	chain, _, _ := newTestChain(t)
	genesis := chain.Genesis().Header
	ctx := context.Background()

	r0 := genesisRoot(chain, genesis)
	r1 := nextRoot(r0, shard0())
	r2 := nextRoot(r1, shard0())

	b1 := newChunkChild(t, chain, genesis, genesis.Timestamp+1, r0)
	b2 := newChunkChild(t, chain, b1.Header, genesis.Timestamp+2, r1)
	for _, b := range []*types.Block{b1, b2} {
		_, err := chain.ProcessBlock(ctx, b, types.ProvenanceProduced)
		require.NoError(t, err)
	}

	b3 := newChunkChild(t, chain, b2.Header, genesis.Timestamp+3, r2)
	require.Equal(t, b2.Hash(), b3.Header.LastDSFinalBlock)
	require.Equal(t, b1.Hash(), b3.Header.LastFinalBlock)
	require.NotEqual(t, b3.Header.LastFinalBlock, b3.Header.LastDSFinalBlock)

	tip, err := chain.ProcessBlock(ctx, b3, types.ProvenanceNone)
	require.NoError(t, err)
	require.NotNil(t, tip)

	// A sibling at the same height with the two references swapped fails
	// the finality prediction.
	bad := newChunkChild(t, chain, b2.Header, genesis.Timestamp+103, r2)
	bad.Header.LastFinalBlock, bad.Header.LastDSFinalBlock = bad.Header.LastDSFinalBlock, bad.Header.LastFinalBlock
	_, err = chain.ProcessBlock(ctx, bad, types.ProvenanceNone)
	require.ErrorIs(t, err, ErrInvalidFinalityInfo)
}

func TestChainProcessBlockRejectsWrongMerkleRoot(t *testing.T) {
	chain, _, _ := newTestChain(t)
	genesis := chain.Genesis().Header
	ctx := context.Background()

	r0 := genesisRoot(chain, genesis)

	// At height 1 the forest holds exactly one leaf, so the expected root
	// is the genesis hash itself.
	good := newChunkChild(t, chain, genesis, genesis.Timestamp+1, r0)
	good.Header.BlockMerkleRoot = genesis.Hash()
	_, err := chain.ProcessBlock(ctx, good, types.ProvenanceNone)
	require.NoError(t, err)

	chain2, _, _ := newTestChain(t)
	genesis2 := chain2.Genesis().Header
	bad := newChunkChild(t, chain2, genesis2, genesis2.Timestamp+1, genesisRoot(chain2, genesis2))
	bad.Header.BlockMerkleRoot = crypto.Keccak256Hash([]byte("not the root"))
	_, err = chain2.ProcessBlock(ctx, bad, types.ProvenanceNone)
	require.ErrorIs(t, err, ErrInvalidBlockMerkleRoot)
}

func TestChainProcessBlockKnownIsIdempotent(t *testing.T) {
	chain, _, _ := newTestChain(t)
	genesis := chain.Genesis().Header
	ctx := context.Background()

	r0 := genesisRoot(chain, genesis)
	b1 := newChunkChild(t, chain, genesis, genesis.Timestamp+1, r0)

	_, err := chain.ProcessBlock(ctx, b1, types.ProvenanceProduced)
	require.NoError(t, err)

	_, err = chain.ProcessBlock(ctx, b1, types.ProvenanceProduced)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindKnown, kind)
}
