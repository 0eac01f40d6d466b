package rawdb

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/shardnode/shardnode/core/types"
)

// ReadHeaderNumber retrieves the height corresponding to a header hash,
// the reverse lookup used to translate hash-only callers into the
// (number, hash) keys the rest of this package expects.
func ReadHeaderNumber(db ethdb.KeyValueReader, hash common.Hash) *uint64 {
	data, _ := db.Get(headerHashKey(hash))
	if len(data) != 8 {
		return nil
	}
	number := decodeHeight(data)
	return &number
}

func decodeHeight(data []byte) uint64 {
	var n uint64
	for _, b := range data {
		n = n<<8 | uint64(b)
	}
	return n
}

// WriteHeaderNumber stores the hash-to-number reverse lookup.
func WriteHeaderNumber(db ethdb.KeyValueWriter, hash common.Hash, number uint64) {
	if err := db.Put(headerHashKey(hash), encodeHeight(number)); err != nil {
		log.Crit("Failed to store header number", "err", err)
	}
}

// ReadHeader retrieves a block header by hash and height.
func ReadHeader(db ethdb.KeyValueReader, hash common.Hash, number uint64) *types.Header {
	data, _ := db.Get(headerKey(number, hash))
	if len(data) == 0 {
		return nil
	}
	header := new(types.Header)
	if err := rlp.DecodeBytes(data, header); err != nil {
		log.Error("Invalid header RLP", "hash", hash, "err", err)
		return nil
	}
	return header
}

// WriteHeader stores a header and its hash-to-number mapping.
func WriteHeader(db ethdb.KeyValueWriter, header *types.Header) {
	hash, number := header.Hash(), header.Height
	WriteHeaderNumber(db, hash, number)

	data, err := rlp.EncodeToBytes(header)
	if err != nil {
		log.Crit("Failed to RLP encode header", "err", err)
	}
	if err := db.Put(headerKey(number, hash), data); err != nil {
		log.Crit("Failed to store header", "err", err)
	}
}

// ReadBody retrieves a block body by hash and height.
func ReadBody(db ethdb.KeyValueReader, hash common.Hash, number uint64) *types.Body {
	data, _ := db.Get(bodyKey(number, hash))
	if len(data) == 0 {
		return nil
	}
	body := new(types.Body)
	if err := rlp.DecodeBytes(data, body); err != nil {
		log.Error("Invalid body RLP", "hash", hash, "err", err)
		return nil
	}
	return body
}

// WriteBody stores a block body.
func WriteBody(db ethdb.KeyValueWriter, hash common.Hash, number uint64, body *types.Body) {
	data, err := rlp.EncodeToBytes(body)
	if err != nil {
		log.Crit("Failed to RLP encode body", "err", err)
	}
	if err := db.Put(bodyKey(number, hash), data); err != nil {
		log.Crit("Failed to store body", "err", err)
	}
}

// ReadChunk retrieves a chunk body by its header hash. Returns nil if the
// body has not arrived yet.
func ReadChunk(db ethdb.KeyValueReader, chunkHash common.Hash) *types.Chunk {
	data, _ := db.Get(chunkKey(chunkHash))
	if len(data) == 0 {
		return nil
	}
	chunk := new(types.Chunk)
	if err := rlp.DecodeBytes(data, chunk); err != nil {
		log.Error("Invalid chunk RLP", "hash", chunkHash, "err", err)
		return nil
	}
	return chunk
}

// WriteChunk stores a chunk body.
func WriteChunk(db ethdb.KeyValueWriter, chunk *types.Chunk) {
	data, err := rlp.EncodeToBytes(chunk)
	if err != nil {
		log.Crit("Failed to RLP encode chunk", "err", err)
	}
	if err := db.Put(chunkKey(chunk.Hash()), data); err != nil {
		log.Crit("Failed to store chunk", "err", err)
	}
}

// HasChunk reports whether a chunk body is present.
func HasChunk(db ethdb.KeyValueReader, chunkHash common.Hash) bool {
	ok, _ := db.Has(chunkKey(chunkHash))
	return ok
}

// ReadChunkExtra retrieves the post-application summary for (blockHash, shard).
func ReadChunkExtra(db ethdb.KeyValueReader, blockHash common.Hash, shard types.ShardUId) *types.ChunkExtra {
	data, _ := db.Get(chunkExtraKey(blockHash, shard))
	if len(data) == 0 {
		return nil
	}
	extra := new(types.ChunkExtra)
	if err := rlp.DecodeBytes(data, extra); err != nil {
		log.Error("Invalid chunk extra RLP", "block", blockHash, "shard", shard, "err", err)
		return nil
	}
	return extra
}

// WriteChunkExtra stores a ChunkExtra, written exactly once per (block,
// shard) pair.
func WriteChunkExtra(db ethdb.KeyValueWriter, blockHash common.Hash, shard types.ShardUId, extra *types.ChunkExtra) {
	data, err := rlp.EncodeToBytes(extra)
	if err != nil {
		log.Crit("Failed to RLP encode chunk extra", "err", err)
	}
	if err := db.Put(chunkExtraKey(blockHash, shard), data); err != nil {
		log.Crit("Failed to store chunk extra", "err", err)
	}
}

// ReadRefcount retrieves a block's successor count; missing entries
// are treated as zero by the caller.
func ReadRefcount(db ethdb.KeyValueReader, hash common.Hash) (uint64, bool) {
	data, _ := db.Get(refcountKey(hash))
	if len(data) != 8 {
		return 0, false
	}
	return decodeHeight(data), true
}

// WriteRefcount stores a block's refcount.
func WriteRefcount(db ethdb.KeyValueWriter, hash common.Hash, count uint64) {
	if err := db.Put(refcountKey(hash), encodeHeight(count)); err != nil {
		log.Crit("Failed to store refcount", "err", err)
	}
}

// DeleteRefcount removes a block's refcount entry (used by GC once a block
// is fully cleared).
func DeleteRefcount(db ethdb.KeyValueWriter, hash common.Hash) {
	if err := db.Delete(refcountKey(hash)); err != nil {
		log.Crit("Failed to delete refcount", "err", err)
	}
}

// ReadCanonicalHash retrieves the canonical block hash at a height.
func ReadCanonicalHash(db ethdb.KeyValueReader, number uint64) common.Hash {
	data, _ := db.Get(heightToHashKey(number))
	if len(data) == 0 {
		return common.Hash{}
	}
	return common.BytesToHash(data)
}

// WriteCanonicalHash stores the canonical block hash at a height.
func WriteCanonicalHash(db ethdb.KeyValueWriter, hash common.Hash, number uint64) {
	if err := db.Put(heightToHashKey(number), hash.Bytes()); err != nil {
		log.Crit("Failed to store canonical hash", "err", err)
	}
}

// DeleteCanonicalHash removes the canonical-hash entry at a height (GC).
func DeleteCanonicalHash(db ethdb.KeyValueWriter, number uint64) {
	if err := db.Delete(heightToHashKey(number)); err != nil {
		log.Crit("Failed to delete canonical hash", "err", err)
	}
}

// ReadBlocksAtHeight retrieves every block hash ever stored at number,
// canonical or forked: the enumeration GC's forks-clearing pass needs to
// find non-canonical blocks at a height, which the canonical-only
// heightToHashPrefix index cannot answer.
func ReadBlocksAtHeight(db ethdb.KeyValueReader, number uint64) []common.Hash {
	data, _ := db.Get(blocksAtHeightKey(number))
	if len(data)%common.HashLength != 0 {
		return nil
	}
	n := len(data) / common.HashLength
	out := make([]common.Hash, n)
	for i := 0; i < n; i++ {
		copy(out[i][:], data[i*common.HashLength:(i+1)*common.HashLength])
	}
	return out
}

// AddBlockAtHeight records hash as present at number, read-modify-write
// against reader and written through writer; called once per accepted
// block alongside WriteHeader.
func AddBlockAtHeight(reader ethdb.KeyValueReader, writer ethdb.KeyValueWriter, number uint64, hash common.Hash) {
	existing := ReadBlocksAtHeight(reader, number)
	for _, h := range existing {
		if h == hash {
			return
		}
	}
	existing = append(existing, hash)
	writeBlocksAtHeight(writer, number, existing)
}

// RemoveBlockAtHeight drops hash from number's block set, used once GC has
// deleted that block.
func RemoveBlockAtHeight(reader ethdb.KeyValueReader, writer ethdb.KeyValueWriter, number uint64, hash common.Hash) {
	existing := ReadBlocksAtHeight(reader, number)
	out := existing[:0]
	for _, h := range existing {
		if h != hash {
			out = append(out, h)
		}
	}
	writeBlocksAtHeight(writer, number, out)
}

func writeBlocksAtHeight(writer ethdb.KeyValueWriter, number uint64, hashes []common.Hash) {
	data := make([]byte, 0, len(hashes)*common.HashLength)
	for _, h := range hashes {
		data = append(data, h.Bytes()...)
	}
	if len(data) == 0 {
		if err := writer.Delete(blocksAtHeightKey(number)); err != nil {
			log.Crit("Failed to delete blocks-at-height", "err", err)
		}
		return
	}
	if err := writer.Put(blocksAtHeightKey(number), data); err != nil {
		log.Crit("Failed to store blocks-at-height", "err", err)
	}
}

// ReadHeightProcessed reports whether a block height+hash has already been
// run through a ChainUpdate, the dedup index that keeps a failed block
// from being retried pathologically.
func ReadHeightProcessed(db ethdb.KeyValueReader, hash common.Hash) bool {
	ok, _ := db.Has(processedKey(hash))
	return ok
}

// WriteHeightProcessed marks a block hash as processed.
func WriteHeightProcessed(db ethdb.KeyValueWriter, hash common.Hash) {
	if err := db.Put(processedKey(hash), []byte{1}); err != nil {
		log.Crit("Failed to store processed flag", "err", err)
	}
}

// DeleteHeader removes a header and its hash-to-number mapping.
func DeleteHeader(db ethdb.KeyValueWriter, hash common.Hash, number uint64) {
	if err := db.Delete(headerKey(number, hash)); err != nil {
		log.Crit("Failed to delete header", "err", err)
	}
	if err := db.Delete(headerHashKey(hash)); err != nil {
		log.Crit("Failed to delete header number", "err", err)
	}
}

// DeleteBody removes a block body.
func DeleteBody(db ethdb.KeyValueWriter, hash common.Hash, number uint64) {
	if err := db.Delete(bodyKey(number, hash)); err != nil {
		log.Crit("Failed to delete body", "err", err)
	}
}

// DeleteChunk removes a chunk body, leaving its header-derived data (which
// lives under other columns) untouched; used by full GC and by the
// pre-state-sync reset. Archive-node GC does not call it.
func DeleteChunk(db ethdb.KeyValueWriter, chunkHash common.Hash) {
	if err := db.Delete(chunkKey(chunkHash)); err != nil {
		log.Crit("Failed to delete chunk", "err", err)
	}
}

// DeleteChunkExtra removes one (block, shard) chunk extra.
func DeleteChunkExtra(db ethdb.KeyValueWriter, blockHash common.Hash, shard types.ShardUId) {
	if err := db.Delete(chunkExtraKey(blockHash, shard)); err != nil {
		log.Crit("Failed to delete chunk extra", "err", err)
	}
}

// DeleteHeightProcessed removes the processed-height dedup marker.
func DeleteHeightProcessed(db ethdb.KeyValueWriter, hash common.Hash) {
	if err := db.Delete(processedKey(hash)); err != nil {
		log.Crit("Failed to delete processed flag", "err", err)
	}
}

// DeleteStateSyncInfo removes a cached state-sync-info entry.
func DeleteStateSyncInfo(db ethdb.KeyValueWriter, epochTailHash common.Hash) {
	if err := db.Delete(stateSyncInfoKey(epochTailHash)); err != nil {
		log.Crit("Failed to delete state sync info", "err", err)
	}
}

// --- tip accessors ---

func readTip(db ethdb.KeyValueReader, key []byte) *types.Tip {
	data, _ := db.Get(key)
	if len(data) == 0 {
		return nil
	}
	tip := new(types.Tip)
	if err := rlp.DecodeBytes(data, tip); err != nil {
		log.Error("Invalid tip RLP", "err", err)
		return nil
	}
	return tip
}

func writeTip(db ethdb.KeyValueWriter, key []byte, tip types.Tip) {
	data, err := rlp.EncodeToBytes(&tip)
	if err != nil {
		log.Crit("Failed to RLP encode tip", "err", err)
	}
	if err := db.Put(key, data); err != nil {
		log.Crit("Failed to store tip", "err", err)
	}
}

func ReadHeadHeaderTip(db ethdb.KeyValueReader) *types.Tip { return readTip(db, headHeaderKey) }
func WriteHeadHeaderTip(db ethdb.KeyValueWriter, tip types.Tip) { writeTip(db, headHeaderKey, tip) }

func ReadHeadBlockTip(db ethdb.KeyValueReader) *types.Tip { return readTip(db, headBlockKey) }
func WriteHeadBlockTip(db ethdb.KeyValueWriter, tip types.Tip) { writeTip(db, headBlockKey, tip) }

func ReadFinalHeadTip(db ethdb.KeyValueReader) *types.Tip { return readTip(db, headFinalKey) }
func WriteFinalHeadTip(db ethdb.KeyValueWriter, tip types.Tip) { writeTip(db, headFinalKey, tip) }

// ReadTailHeight/WriteTailHeight track the lowest surviving canonical
// height.
func ReadTailHeight(db ethdb.KeyValueReader) (uint64, bool) {
	data, _ := db.Get(tailKey)
	if len(data) != 8 {
		return 0, false
	}
	return decodeHeight(data), true
}

func WriteTailHeight(db ethdb.KeyValueWriter, height uint64) {
	if err := db.Put(tailKey, encodeHeight(height)); err != nil {
		log.Crit("Failed to store tail height", "err", err)
	}
}

func ReadForkTailHeight(db ethdb.KeyValueReader) (uint64, bool) {
	data, _ := db.Get(forkTailKey)
	if len(data) != 8 {
		return 0, false
	}
	return decodeHeight(data), true
}

func WriteForkTailHeight(db ethdb.KeyValueWriter, height uint64) {
	if err := db.Put(forkTailKey, encodeHeight(height)); err != nil {
		log.Crit("Failed to store fork tail height", "err", err)
	}
}

func ReadChunkTailHeight(db ethdb.KeyValueReader) (uint64, bool) {
	data, _ := db.Get(chunkTailKey)
	if len(data) != 8 {
		return 0, false
	}
	return decodeHeight(data), true
}

func WriteChunkTailHeight(db ethdb.KeyValueWriter, height uint64) {
	if err := db.Put(chunkTailKey, encodeHeight(height)); err != nil {
		log.Crit("Failed to store chunk tail height", "err", err)
	}
}

// --- merkle forest accessors (core/merkle.go) ---

func ReadOrdinalHash(db ethdb.KeyValueReader, ordinal uint64) (common.Hash, bool) {
	data, _ := db.Get(ordinalToHashKey(ordinal))
	if len(data) == 0 {
		return common.Hash{}, false
	}
	return common.BytesToHash(data), true
}

func WriteOrdinalHash(db ethdb.KeyValueWriter, ordinal uint64, hash common.Hash) {
	if err := db.Put(ordinalToHashKey(ordinal), hash.Bytes()); err != nil {
		log.Crit("Failed to store ordinal hash", "err", err)
	}
}

func ReadMerkleSubtree(db ethdb.KeyValueReader, level uint8, index uint64) (common.Hash, bool) {
	data, _ := db.Get(merkleSubtreeKey(level, index))
	if len(data) == 0 {
		return common.Hash{}, false
	}
	return common.BytesToHash(data), true
}

func WriteMerkleSubtree(db ethdb.KeyValueWriter, level uint8, index uint64, hash common.Hash) {
	if err := db.Put(merkleSubtreeKey(level, index), hash.Bytes()); err != nil {
		log.Crit("Failed to store merkle subtree", "err", err)
	}
}

// --- state sync accessors ---

func ReadStateSyncInfo(db ethdb.KeyValueReader, epochTailHash common.Hash) *types.StateSyncInfo {
	data, _ := db.Get(stateSyncInfoKey(epochTailHash))
	if len(data) == 0 {
		return nil
	}
	info := new(types.StateSyncInfo)
	if err := rlp.DecodeBytes(data, info); err != nil {
		log.Error("Invalid state sync info RLP", "err", err)
		return nil
	}
	return info
}

func WriteStateSyncInfo(db ethdb.KeyValueWriter, info *types.StateSyncInfo) {
	data, err := rlp.EncodeToBytes(info)
	if err != nil {
		log.Crit("Failed to RLP encode state sync info", "err", err)
	}
	if err := db.Put(stateSyncInfoKey(info.EpochTailHash), data); err != nil {
		log.Crit("Failed to store state sync info", "err", err)
	}
}

func ReadStateSyncHeader(db ethdb.KeyValueReader, shard types.ShardID, syncHash common.Hash) *types.StateSyncHeader {
	data, _ := db.Get(stateHeaderKey(shard, syncHash))
	if len(data) == 0 {
		return nil
	}
	h := new(types.StateSyncHeader)
	if err := rlp.DecodeBytes(data, h); err != nil {
		log.Error("Invalid state sync header RLP", "err", err)
		return nil
	}
	return h
}

func WriteStateSyncHeader(db ethdb.KeyValueWriter, shard types.ShardID, syncHash common.Hash, h *types.StateSyncHeader) {
	data, err := rlp.EncodeToBytes(h)
	if err != nil {
		log.Crit("Failed to RLP encode state sync header", "err", err)
	}
	if err := db.Put(stateHeaderKey(shard, syncHash), data); err != nil {
		log.Crit("Failed to store state sync header", "err", err)
	}
}

func ReadStatePart(db ethdb.KeyValueReader, shard types.ShardID, syncHash common.Hash, partID uint64) []byte {
	data, _ := db.Get(statePartKey(shard, syncHash, partID))
	return data
}

func WriteStatePart(db ethdb.KeyValueWriter, shard types.ShardID, syncHash common.Hash, partID uint64, data []byte) {
	if err := db.Put(statePartKey(shard, syncHash, partID), data); err != nil {
		log.Crit("Failed to store state part", "err", err)
	}
}

// --- pending split-state change accessors ---

// ReadSplitStateChanges retrieves a parent shard's post-chunk state-change
// blob staged for a child shard during the NotCaughtUp resharding path,
// replayed once the child's split-state trie becomes available.
func ReadSplitStateChanges(db ethdb.KeyValueReader, blockHash common.Hash, child types.ShardUId) []byte {
	data, _ := db.Get(splitChangesKey(blockHash, child))
	return data
}

func WriteSplitStateChanges(db ethdb.KeyValueWriter, blockHash common.Hash, child types.ShardUId, data []byte) {
	if err := db.Put(splitChangesKey(blockHash, child), data); err != nil {
		log.Crit("Failed to store split state changes", "err", err)
	}
}

func DeleteSplitStateChanges(db ethdb.KeyValueWriter, blockHash common.Hash, child types.ShardUId) {
	if err := db.Delete(splitChangesKey(blockHash, child)); err != nil {
		log.Crit("Failed to delete split state changes", "err", err)
	}
}

// --- light-client accessors ---

// ReadLightClientBlock retrieves the per-epoch light-client block recorded
// when head first crossed out of epochID.
func ReadLightClientBlock(db ethdb.KeyValueReader, epochID common.Hash) *types.LightClientBlock {
	data, _ := db.Get(lightClientKey(epochID))
	if len(data) == 0 {
		return nil
	}
	lcb := new(types.LightClientBlock)
	if err := rlp.DecodeBytes(data, lcb); err != nil {
		log.Error("Invalid light client block RLP", "epoch", epochID, "err", err)
		return nil
	}
	return lcb
}

func WriteLightClientBlock(db ethdb.KeyValueWriter, epochID common.Hash, lcb *types.LightClientBlock) {
	data, err := rlp.EncodeToBytes(lcb)
	if err != nil {
		log.Crit("Failed to RLP encode light client block", "err", err)
	}
	if err := db.Put(lightClientKey(epochID), data); err != nil {
		log.Crit("Failed to store light client block", "err", err)
	}
}

// --- catch-up accessors ---

func ReadBlocksToCatchup(db ethdb.KeyValueReader, epochID common.Hash) []common.Hash {
	data, _ := db.Get(catchupKey(epochID))
	if len(data)%common.HashLength != 0 {
		return nil
	}
	n := len(data) / common.HashLength
	out := make([]common.Hash, n)
	for i := 0; i < n; i++ {
		copy(out[i][:], data[i*common.HashLength:(i+1)*common.HashLength])
	}
	return out
}

func WriteBlocksToCatchup(db ethdb.KeyValueWriter, epochID common.Hash, hashes []common.Hash) {
	data := make([]byte, 0, len(hashes)*common.HashLength)
	for _, h := range hashes {
		data = append(data, h.Bytes()...)
	}
	if err := db.Put(catchupKey(epochID), data); err != nil {
		log.Crit("Failed to store blocks-to-catchup", "err", err)
	}
}
