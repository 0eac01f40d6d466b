package core

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/shardnode/shardnode/consensus"
	"github.com/shardnode/shardnode/core/types"
	"github.com/shardnode/shardnode/params"
	"github.com/shardnode/shardnode/runtime"
)

// fakeAdapter is a hand-rolled fake for runtime.Adapter: function fields
// with a sane zero-value default rather than a generated mock, the
// chainReaderFake/chainValidatorFake style of go-ethereum's own tests.
// Most tests use a single shard and a single epoch, so most methods
// answer with fixed, permissive values. Tests that need more shards pass
// the count to newFakeAdapter; the few methods that matter to a given test
// are overridden through a field on the struct or by a small wrapper type.
type fakeAdapter struct {
	epoch     common.Hash
	nextEpoch common.Hash
	numShards int

	genesisRoots []common.Hash

	gcStopHeight uint64

	applyTransactions func(ctx context.Context, in runtime.ApplyInput) (*runtime.ApplyTransactionResult, error)
}

func newFakeAdapter(numShards int) *fakeAdapter {
	return &fakeAdapter{
		epoch:     common.HexToHash("0xe1"),
		nextEpoch: common.HexToHash("0xe2"),
		numShards: numShards,
	}
}

func (a *fakeAdapter) GenesisState(ctx context.Context) ([]common.Hash, error) {
	if a.genesisRoots != nil {
		return a.genesisRoots, nil
	}
	roots := make([]common.Hash, a.numShards)
	for i := range roots {
		roots[i] = crypto.Keccak256Hash([]byte{byte(i)})
	}
	return roots, nil
}

func (a *fakeAdapter) NumShards(epoch common.Hash) (int, error) { return a.numShards, nil }
func (a *fakeAdapter) NumTotalParts() (uint64, error)           { return 1, nil }
func (a *fakeAdapter) GetPartOwner(prev common.Hash, partID uint64) (common.Hash, error) {
	return common.Hash{}, nil
}

func (a *fakeAdapter) ShardIDToUId(shard types.ShardID, epoch common.Hash) (types.ShardUId, error) {
	return types.ShardUId{Version: 0, ShardID: shard}, nil
}
func (a *fakeAdapter) GetShardLayout(epoch common.Hash) (uint32, int, error) {
	return 0, a.numShards, nil
}
func (a *fakeAdapter) GetEpochIDFromPrevBlock(prev common.Hash) (common.Hash, error) {
	return a.epoch, nil
}
func (a *fakeAdapter) GetNextEpochIDFromPrevBlock(prev common.Hash) (common.Hash, error) {
	return a.nextEpoch, nil
}
func (a *fakeAdapter) IsNextBlockEpochStart(prev common.Hash) (bool, error)      { return false, nil }
func (a *fakeAdapter) WillShardLayoutChangeNextEpoch(prev common.Hash) (bool, error) {
	return false, nil
}

func (a *fakeAdapter) CaresAboutShard(me, prev common.Hash, shard types.ShardID, includeNext bool) (bool, error) {
	return true, nil
}
func (a *fakeAdapter) WillCareAboutShard(me, prev common.Hash, shard types.ShardID) (bool, error) {
	return true, nil
}

func (a *fakeAdapter) GetChunkProducer(epoch common.Hash, height uint64, shard types.ShardID) (common.Hash, error) {
	return common.Hash{}, nil
}
func (a *fakeAdapter) GetBlockProducer(epoch common.Hash, height uint64) (common.Hash, error) {
	return common.Hash{}, nil
}
func (a *fakeAdapter) GetEpochBlockProducersOrdered(epoch common.Hash) ([]types.ValidatorStake, error) {
	return nil, nil
}
func (a *fakeAdapter) GetEpochBlockApproversOrdered(epoch common.Hash) ([]types.ValidatorStake, error) {
	return nil, nil
}
func (a *fakeAdapter) GetValidatorByAccountID(epoch, accountID common.Hash) (types.ValidatorStake, error) {
	return types.ValidatorStake{}, nil
}

func (a *fakeAdapter) VerifyHeaderSignature(header *types.Header) (bool, error)      { return true, nil }
func (a *fakeAdapter) VerifyChunkHeaderSignature(header *types.ChunkHeader, epoch common.Hash) (bool, error) {
	return true, nil
}
func (a *fakeAdapter) VerifyApproval(approval []byte, header *types.Header) (bool, error) {
	return true, nil
}
func (a *fakeAdapter) VerifyBlockVRF(header *types.Header, prevRandomValue common.Hash) (bool, error) {
	return true, nil
}
func (a *fakeAdapter) VerifyApprovalsAndThresholdOrphan(header *types.Header) (bool, error) {
	return true, nil
}

func (a *fakeAdapter) ApplyTransactions(ctx context.Context, in runtime.ApplyInput) (*runtime.ApplyTransactionResult, error) {
	if a.applyTransactions != nil {
		return a.applyTransactions(ctx, in)
	}
	return &runtime.ApplyTransactionResult{
		NewRoot: crypto.Keccak256Hash(in.PrevStateRoot.Bytes(), in.Shard.Bytes()),
	}, nil
}
func (a *fakeAdapter) ApplyTransactionsWithOptionalStorageProof(ctx context.Context, in runtime.ApplyInput) (*runtime.ApplyTransactionResult, error) {
	return a.ApplyTransactions(ctx, in)
}
func (a *fakeAdapter) ApplyUpdateToSplitStates(ctx context.Context, parentResult *runtime.ApplyTransactionResult, childShards []types.ShardUId) ([]runtime.ApplySplitStateResult, error) {
	return nil, nil
}

func (a *fakeAdapter) ObtainStatePart(shard types.ShardID, syncHash common.Hash, partID, numParts uint64) ([]byte, error) {
	return nil, nil
}
func (a *fakeAdapter) ValidateStatePart(shard types.ShardID, stateRoot common.Hash, partID, numParts uint64, data []byte) (bool, error) {
	return true, nil
}
func (a *fakeAdapter) GetStateRootNode(shard types.ShardID, stateRoot common.Hash) (types.StateRootNode, error) {
	return types.StateRootNode{}, nil
}
func (a *fakeAdapter) ValidateStateRootNode(node types.StateRootNode, stateRoot common.Hash) (bool, error) {
	return true, nil
}

func (a *fakeAdapter) AddValidatorProposals(header *types.Header, lastFinalizedHeight uint64) error {
	return nil
}

func (a *fakeAdapter) GetGCStopHeight(head common.Hash) (uint64, error) { return a.gcStopHeight, nil }
func (a *fakeAdapter) GetPrevShardIDs(hash common.Hash, shards []types.ShardID) ([]types.ShardID, error) {
	return shards, nil
}
func (a *fakeAdapter) GetEpochProtocolVersion(epoch common.Hash) (uint32, error) { return 0, nil }

var _ runtime.Adapter = (*fakeAdapter)(nil)

// fakeEngine is a no-op consensus.Engine that accepts every header and
// every approval set. Blocks submitted as ProvenanceProduced skip the
// approval check entirely; blocks submitted as ProvenanceNone reach it and
// pass.
type fakeEngine struct{}

func (fakeEngine) VerifyHeader(chain consensus.ChainHeaderReader, header *types.Header) error {
	return nil
}
func (fakeEngine) VerifyHeaders(chain consensus.ChainHeaderReader, headers []*types.Header) (chan<- struct{}, <-chan error) {
	quit := make(chan struct{})
	results := make(chan error, len(headers))
	for range headers {
		results <- nil
	}
	return quit, results
}
func (fakeEngine) VerifyApprovals(chain consensus.ChainHeaderReader, header *types.Header) error {
	return nil
}
func (fakeEngine) BlockProducer(epoch common.Hash, height uint64) (common.Hash, error) {
	return common.Hash{}, nil
}
func (fakeEngine) ChunkProducer(epoch common.Hash, height uint64, shard types.ShardID) (common.Hash, error) {
	return common.Hash{}, nil
}
func (fakeEngine) APIs(chain consensus.ChainHeaderReader) []rpc.API { return nil }
func (fakeEngine) Close() error                                    { return nil }

var _ consensus.Engine = fakeEngine{}

func testGasPrice() *big.Int { return new(big.Int).Set(params.MainnetChainConfig.MinGasPrice) }

// newTestChain builds a single-shard Chain over an in-memory database, with
// a fake adapter/engine and a lenient (sandbox) time-skew tolerance so
// fixed test timestamps never trip the future/past checks.
func newTestChain(t interface{ Fatalf(string, ...interface{}) }) (*Chain, *fakeAdapter, ethdb.Database) {
	db := rawdb.NewDatabase(memorydb.New())
	adapter := newFakeAdapter(1)
	config := *params.SandboxChainConfig
	genesis := &Genesis{
		EpochID:     adapter.epoch,
		NextEpochID: adapter.nextEpoch,
		NextBPHash:  common.HexToHash("0xb9"),
		GasPrice:    testGasPrice(),
		Timestamp:   1000,
	}
	chain, err := NewChain(context.Background(), db, &config, fakeEngine{}, adapter, genesis, nil, 0)
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	return chain, adapter, db
}

// buildChild assembles a single-shard block extending parent, reissuing a
// continuation chunk header (no new chunk) unless newChunk is set. The
// finality references follow the consecutive-height rule: the parent
// becomes doomslug-final and the parent's doomslug-final block final.
func buildChild(parent *types.Header, timestamp uint64, newChunk bool) *types.Block {
	header := &types.Header{
		ParentHash:       parent.Hash(),
		Height:           parent.Height + 1,
		EpochID:          parent.EpochID,
		NextEpochID:      parent.NextEpochID,
		LastFinalBlock:   parent.LastDSFinalBlock,
		LastDSFinalBlock: parent.Hash(),
		NextBPHash:       parent.NextBPHash,
		ChunkMask:        []bool{newChunk},
		GasPrice:         testGasPrice(),
		Timestamp:        timestamp,
	}
	ch := &types.ChunkHeader{
		ShardID:       0,
		HeightCreated: parent.Height + 1,
	}
	if newChunk {
		ch.HeightIncluded = parent.Height + 1
	} else {
		ch.HeightIncluded = parent.Height // a continuation points at some earlier height
	}
	body := &types.Body{ChunkHeaders: []*types.ChunkHeader{ch}}
	return types.NewBlock(header, body)
}
