// Package rawdb defines the on-disk column layout for the chain store and
// typed accessors over it, in the shape of go-ethereum's core/rawdb.
// Every column here is domain-specific: a sharded chunk-based chain has no
// go-ethereum equivalent to reuse.
package rawdb

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"

	"github.com/shardnode/shardnode/core/types"
)

// Key prefixes, one byte each, following the single-byte-prefix idiom of
// go-ethereum's core/rawdb/schema.go.
var (
	headerPrefix      = []byte("h") // headerPrefix + num (8 bytes big-endian) + hash -> header
	headerHashPrefix  = []byte("H") // headerHashPrefix + hash -> num (reverse lookup)
	blockBodyPrefix   = []byte("b") // blockBodyPrefix + num + hash -> body
	chunkPrefix       = []byte("c") // chunkPrefix + chunkHash -> chunk (may be absent)
	chunkExtraPrefix  = []byte("e") // chunkExtraPrefix + blockHash + shardUId -> ChunkExtra
	refcountPrefix    = []byte("r") // refcountPrefix + blockHash -> uint64
	heightToHashPrefix = []byte("n") // heightToHashPrefix + num -> hash (canonical)
	blocksAtHeightPrefix = []byte("a") // blocksAtHeightPrefix + num -> concatenated hash list (every block stored at this height, canonical or forked, for GC forks-clearing enumeration)
	ordinalToHashPrefix = []byte("o") // ordinalToHashPrefix + ordinal -> hash (merkle forest leaves)
	merkleSubtreePrefix = []byte("m") // merkleSubtreePrefix + level + index -> hash
	processedPrefix   = []byte("p") // processedPrefix + hash -> []byte{1} (height-processed flag)
	stateSyncInfoPrefix = []byte("y") // stateSyncInfoPrefix + epochTailHash -> StateSyncInfo
	stateHeaderPrefix = []byte("z") // stateHeaderPrefix + shard + syncHash -> StateSyncHeader
	statePartPrefix   = []byte("Z") // statePartPrefix + shard + syncHash + partID -> bytes
	catchupPrefix     = []byte("u") // catchupPrefix + epochID -> []blockHash pending catch-up
	splitChangesPrefix = []byte("t") // splitChangesPrefix + blockHash + childShardUId -> pending split-state change blob
	lightClientPrefix  = []byte("l") // lightClientPrefix + epochID -> LightClientBlock for that (closed) epoch

	headHeaderKey  = []byte("LastHeader")
	headBlockKey   = []byte("LastBlock")
	headFinalKey   = []byte("LastFinal")
	tailKey        = []byte("Tail")
	forkTailKey    = []byte("ForkTail")
	chunkTailKey   = []byte("ChunkTail")
)

func encodeHeight(number uint64) []byte {
	enc := make([]byte, 8)
	binary.BigEndian.PutUint64(enc, number)
	return enc
}

func headerKey(number uint64, hash common.Hash) []byte {
	return append(append(headerPrefix, encodeHeight(number)...), hash.Bytes()...)
}

func headerHashKey(hash common.Hash) []byte {
	return append(headerHashPrefix, hash.Bytes()...)
}

func bodyKey(number uint64, hash common.Hash) []byte {
	return append(append(blockBodyPrefix, encodeHeight(number)...), hash.Bytes()...)
}

func chunkKey(chunkHash common.Hash) []byte {
	return append(chunkPrefix, chunkHash.Bytes()...)
}

func chunkExtraKey(blockHash common.Hash, shard types.ShardUId) []byte {
	return append(append(chunkExtraPrefix, blockHash.Bytes()...), shard.Bytes()...)
}

func refcountKey(hash common.Hash) []byte {
	return append(refcountPrefix, hash.Bytes()...)
}

func heightToHashKey(number uint64) []byte {
	return append(heightToHashPrefix, encodeHeight(number)...)
}

func blocksAtHeightKey(number uint64) []byte {
	return append(blocksAtHeightPrefix, encodeHeight(number)...)
}

func ordinalToHashKey(ordinal uint64) []byte {
	return append(ordinalToHashPrefix, encodeHeight(ordinal)...)
}

func merkleSubtreeKey(level uint8, index uint64) []byte {
	key := append(merkleSubtreePrefix, level)
	return append(key, encodeHeight(index)...)
}

func processedKey(hash common.Hash) []byte {
	return append(processedPrefix, hash.Bytes()...)
}

func stateSyncInfoKey(epochTailHash common.Hash) []byte {
	return append(stateSyncInfoPrefix, epochTailHash.Bytes()...)
}

func stateHeaderKey(shard types.ShardID, syncHash common.Hash) []byte {
	key := append(stateHeaderPrefix, encodeHeight(uint64(shard))...)
	return append(key, syncHash.Bytes()...)
}

func statePartKey(shard types.ShardID, syncHash common.Hash, partID uint64) []byte {
	key := append(statePartPrefix, encodeHeight(uint64(shard))...)
	key = append(key, syncHash.Bytes()...)
	return append(key, encodeHeight(partID)...)
}

func catchupKey(epochID common.Hash) []byte {
	return append(catchupPrefix, epochID.Bytes()...)
}

func splitChangesKey(blockHash common.Hash, child types.ShardUId) []byte {
	return append(append(splitChangesPrefix, blockHash.Bytes()...), child.Bytes()...)
}

func lightClientKey(epochID common.Hash) []byte {
	return append(lightClientPrefix, epochID.Bytes()...)
}
