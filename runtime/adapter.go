// Package runtime declares the capability interface the block-ingestion
// core consumes from the transaction-executing runtime adapter. Nothing in
// this repository implements Adapter: it is the external collaborator
// boundary, a Merkleized state trie executor living outside the core,
// named here only by the operations core/chunk_applier.go,
// core/validator.go and core/statesync.go call through it. The boundary is
// a capability interface the core holds by cheap reference and never
// mutates.
package runtime

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/shardnode/shardnode/core/types"
)

// ApplyTransactionResult is the runtime's output from applying one shard's
// chunk transactions.
type ApplyTransactionResult struct {
	NewRoot                common.Hash
	TrieChanges            []byte
	OutgoingReceipts       []types.OutgoingReceipt
	ValidatorProposals     []types.ValidatorStake
	Outcomes               [][]byte
	TotalGasBurnt          uint64
	TotalBalanceBurnt      uint64
	ProcessedDelayedReceipts uint64
	StorageProof           []byte // non-nil only when requested via ApplyWithOptionalStorageProof
}

// ApplySplitStateResult is one child shard's share of a parent shard's
// post-chunk state, produced while preparing for a resharding boundary.
type ApplySplitStateResult struct {
	ChildShard   types.ShardUId
	NewRoot      common.Hash
	TrieChanges  []byte
	GasBurnt     uint64
	BalanceBurnt uint64
}

// ApplyInput bundles one shard's chunk-application job inputs: everything a worker needs to run in isolation,
// owned by value so the job can execute on any goroutine with no shared
// state.
type ApplyInput struct {
	Shard               types.ShardUId
	PrevStateRoot        common.Hash
	PrevChunkHeightIncl  uint64
	IncomingReceipts     []types.ReceiptProof
	Transactions         []types.Transaction
	GasPrice             uint64
	GasLimit             uint64
	RandomValue          common.Hash
	ChallengesResult      []*types.Challenge
	IsFirstBlockOfVersion bool

	// StatePatch is populated only in sandbox mode, letting a test harness
	// patch state records directly.
	StatePatch []byte
}

// Adapter is the consumed runtime capability set. This interface's entire
// purpose is to name an external boundary precisely, so method names track
// the operations the executor actually provides rather than inventing new
// ones.
type Adapter interface {
	// GenesisState returns the per-shard genesis state roots.
	GenesisState(ctx context.Context) (genesisRoots []common.Hash, err error)

	NumShards(epoch common.Hash) (int, error)
	NumTotalParts() (uint64, error)
	GetPartOwner(prev common.Hash, partID uint64) (common.Hash, error)

	ShardIDToUId(shard types.ShardID, epoch common.Hash) (types.ShardUId, error)
	GetShardLayout(epoch common.Hash) (layoutVersion uint32, numShards int, err error)
	GetEpochIDFromPrevBlock(prev common.Hash) (common.Hash, error)
	GetNextEpochIDFromPrevBlock(prev common.Hash) (common.Hash, error)
	IsNextBlockEpochStart(prev common.Hash) (bool, error)
	WillShardLayoutChangeNextEpoch(prev common.Hash) (bool, error)

	CaresAboutShard(me common.Hash, prev common.Hash, shard types.ShardID, includeNext bool) (bool, error)
	WillCareAboutShard(me common.Hash, prev common.Hash, shard types.ShardID) (bool, error)

	GetChunkProducer(epoch common.Hash, height uint64, shard types.ShardID) (common.Hash, error)
	GetBlockProducer(epoch common.Hash, height uint64) (common.Hash, error)
	GetEpochBlockProducersOrdered(epoch common.Hash) ([]types.ValidatorStake, error)
	GetEpochBlockApproversOrdered(epoch common.Hash) ([]types.ValidatorStake, error)
	GetValidatorByAccountID(epoch common.Hash, accountID common.Hash) (types.ValidatorStake, error)

	VerifyHeaderSignature(header *types.Header) (bool, error)
	VerifyChunkHeaderSignature(header *types.ChunkHeader, epoch common.Hash) (bool, error)
	VerifyApproval(approval []byte, header *types.Header) (bool, error)
	VerifyBlockVRF(header *types.Header, prevRandomValue common.Hash) (bool, error)
	VerifyApprovalsAndThresholdOrphan(header *types.Header) (bool, error)

	ApplyTransactions(ctx context.Context, in ApplyInput) (*ApplyTransactionResult, error)
	ApplyTransactionsWithOptionalStorageProof(ctx context.Context, in ApplyInput) (*ApplyTransactionResult, error)
	ApplyUpdateToSplitStates(ctx context.Context, parentResult *ApplyTransactionResult, childShards []types.ShardUId) ([]ApplySplitStateResult, error)

	ObtainStatePart(shard types.ShardID, syncHash common.Hash, partID, numParts uint64) ([]byte, error)
	ValidateStatePart(shard types.ShardID, stateRoot common.Hash, partID, numParts uint64, data []byte) (bool, error)
	GetStateRootNode(shard types.ShardID, stateRoot common.Hash) (types.StateRootNode, error)
	ValidateStateRootNode(node types.StateRootNode, stateRoot common.Hash) (bool, error)

	AddValidatorProposals(header *types.Header, lastFinalizedHeight uint64) error

	GetGCStopHeight(head common.Hash) (uint64, error)
	GetPrevShardIDs(hash common.Hash, shards []types.ShardID) ([]types.ShardID, error)
	GetEpochProtocolVersion(epoch common.Hash) (uint32, error)
}
