package types

import "github.com/ethereum/go-ethereum/common"

// ChunkKey names a (shard, chunk) pair whose full state must be downloaded
// for the next epoch.
type ChunkKey struct {
	ShardID   ShardID
	ChunkHash common.Hash
}

// StateSyncInfo is the set of (shard id, chunk hash) pairs a node must
// fetch full state for ahead of an epoch boundary.
type StateSyncInfo struct {
	EpochTailHash common.Hash
	Chunks        []ChunkKey
}

// StateRootNode describes a state trie root sufficiently to count parts
// (memory_usage) without pulling the whole trie, per the runtime adapter's
// get_state_root_node/validate_state_root_node capability.
type StateRootNode struct {
	Data        []byte
	MemoryUsage uint64
}

// StateSyncHeader is the response to get_state_response_header: the
// chunk at prev-of-sync for the shard and its inclusion proof, the
// preceding chunk's equivalent pair, the incoming-receipt proof chain from
// the chunk's prior height-included up to sync_hash, and a state-root-node
// descriptor used to derive the part count.
type StateSyncHeader struct {
	Shard ShardID

	Chunk      *ChunkHeader
	ChunkProof MerklePath

	PrevChunk      *ChunkHeader `rlp:"nil"`
	PrevChunkProof MerklePath

	IncomingReceiptProofs []ReceiptProof

	StateRootNode StateRootNode
}

// StateSyncPart is one part of a shard's state, addressed by (shard,
// part_id, sync_hash).
type StateSyncPart struct {
	Shard  ShardID
	PartID uint64
	Data   []byte
}

// NumStateParts derives the number of parts a given memory usage splits
// into, mirroring the runtime adapter's get_num_state_parts(memory_usage).
// The ratio (state bytes per part) is a protocol constant; 1<<20 (1 MiB)
// matches the magnitude used across the sharded-chain examples for state
// part sizing.
const stateBytesPerPart = 1 << 20

func NumStateParts(memoryUsage uint64) uint64 {
	if memoryUsage == 0 {
		return 1
	}
	n := memoryUsage / stateBytesPerPart
	if memoryUsage%stateBytesPerPart != 0 {
		n++
	}
	if n == 0 {
		n = 1
	}
	return n
}
