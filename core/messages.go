package core

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/shardnode/shardnode/core/types"
	"github.com/shardnode/shardnode/runtime"
)

// This file defines the out-of-band request/response pairs the core sends
// to the runtime/actor layer, each carrying
// correlation keys its response echoes back.

// ApplyStatePartsRequest asks the runtime/actor layer to apply downloaded
// state parts for a shard at a sync point.
type ApplyStatePartsRequest struct {
	Shard    types.ShardID
	SyncHash common.Hash
	NumParts uint64
}

// ApplyStatePartsResponse echoes the request's correlation keys with a
// result; Err is nil on success.
type ApplyStatePartsResponse struct {
	Shard    types.ShardID
	SyncHash common.Hash
	Err      error
}

// BlockCatchUpRequest asks the scheduler to preprocess the chunk-apply jobs
// for a block during catch-up.
type BlockCatchUpRequest struct {
	BlockHash common.Hash
	EpochID   common.Hash
	Jobs      []ChunkApplyJob
}

// BlockCatchUpResponse carries the postprocess-ready results plus the
// saved store update produced while preprocessing.
type BlockCatchUpResponse struct {
	BlockHash common.Hash
	Results   []ChunkApplyResult
	Saved     SavedStoreUpdate
	Err       error
}

// StateSplitRequest asks the runtime/actor layer to apply a parent shard's
// post-chunk state changes onto its child shards ahead of a resharding
// boundary.
type StateSplitRequest struct {
	BlockHash   common.Hash
	ParentShard types.ShardUId
	ChildShards []types.ShardUId
}

// StateSplitResponse carries one ApplySplitStateResult per child shard.
type StateSplitResponse struct {
	BlockHash common.Hash
	Results   []runtime.ApplySplitStateResult
	Err       error
}
