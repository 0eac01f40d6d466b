package core

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/log"

	"github.com/shardnode/shardnode/core/rawdb"
	"github.com/shardnode/shardnode/core/types"
)

// chunkExtraWrite is a pending (block, shard) -> extra write, buffered
// until Commit so readers never observe a partial ChainUpdate.
type chunkExtraWrite struct {
	block common.Hash
	shard types.ShardUId
	extra *types.ChunkExtra
}

// ChainStoreUpdate is a buffered write transaction over the store,
// following go-ethereum's db.NewBatch()/batch.Write() discipline, plus a
// Merge method so runtime-produced edits (trie changes, split-state blobs)
// can be folded into the transaction that is currently open.
type ChainStoreUpdate struct {
	access *ChainStoreAccess
	batch  ethdb.Batch

	headers     []*types.Header
	bodies      map[common.Hash]bodyWrite
	chunks      []*types.Chunk
	chunkExtras []chunkExtraWrite
	refcounts   map[common.Hash]uint64
	deleteRefs  map[common.Hash]struct{}
	canonical   map[uint64]common.Hash
	deleteCanon map[uint64]struct{}
	processed   []common.Hash

	headHeader *types.Tip
	headBlock  *types.Tip
	finalHead  *types.Tip
	tail       *uint64
	forkTail   *uint64
	chunkTail  *uint64

	stateSyncInfo    []*types.StateSyncInfo
	stateSyncHeaders []stateSyncHeaderWrite
	stateSyncParts   []stateSyncPartWrite
	catchup          map[common.Hash][]common.Hash

	ordinalHashes  []ordinalHashWrite
	merkleSubtrees []merkleSubtreeWrite

	splitChanges []splitChangeWrite

	lightClient map[common.Hash]*types.LightClientBlock
}

type splitChangeWrite struct {
	block common.Hash
	child types.ShardUId
	data  []byte
}

type bodyWrite struct {
	number uint64
	body   *types.Body
}

type stateSyncHeaderWrite struct {
	shard    types.ShardID
	syncHash common.Hash
	header   *types.StateSyncHeader
}

type stateSyncPartWrite struct {
	shard    types.ShardID
	syncHash common.Hash
	partID   uint64
	data     []byte
}

type ordinalHashWrite struct {
	ordinal uint64
	hash    common.Hash
}

type merkleSubtreeWrite struct {
	level uint8
	index uint64
	hash  common.Hash
}

// NewUpdate opens a new buffered transaction against access.
func NewUpdate(access *ChainStoreAccess) *ChainStoreUpdate {
	return &ChainStoreUpdate{
		access:      access,
		batch:       access.db.NewBatch(),
		bodies:      make(map[common.Hash]bodyWrite),
		refcounts:   make(map[common.Hash]uint64),
		deleteRefs:  make(map[common.Hash]struct{}),
		canonical:   make(map[uint64]common.Hash),
		deleteCanon: make(map[uint64]struct{}),
		catchup:     make(map[common.Hash][]common.Hash),
		lightClient: make(map[common.Hash]*types.LightClientBlock),
	}
}

func (u *ChainStoreUpdate) SaveHeader(h *types.Header) { u.headers = append(u.headers, h) }

func (u *ChainStoreUpdate) SaveBody(hash common.Hash, number uint64, body *types.Body) {
	u.bodies[hash] = bodyWrite{number, body}
}

func (u *ChainStoreUpdate) SaveChunk(c *types.Chunk) { u.chunks = append(u.chunks, c) }

func (u *ChainStoreUpdate) SaveChunkExtra(block common.Hash, shard types.ShardUId, extra *types.ChunkExtra) {
	u.chunkExtras = append(u.chunkExtras, chunkExtraWrite{block, shard, extra})
}

func (u *ChainStoreUpdate) SetRefcount(hash common.Hash, count uint64) {
	delete(u.deleteRefs, hash)
	u.refcounts[hash] = count
}

func (u *ChainStoreUpdate) DeleteRefcount(hash common.Hash) {
	delete(u.refcounts, hash)
	u.deleteRefs[hash] = struct{}{}
}

func (u *ChainStoreUpdate) SaveCanonicalHash(number uint64, hash common.Hash) {
	delete(u.deleteCanon, number)
	u.canonical[number] = hash
}

func (u *ChainStoreUpdate) DeleteCanonicalHash(number uint64) {
	delete(u.canonical, number)
	u.deleteCanon[number] = struct{}{}
}

func (u *ChainStoreUpdate) MarkProcessed(hash common.Hash) { u.processed = append(u.processed, hash) }

func (u *ChainStoreUpdate) SetHeadHeader(t types.Tip) { u.headHeader = &t }
func (u *ChainStoreUpdate) SetHeadBlock(t types.Tip)  { u.headBlock = &t }
func (u *ChainStoreUpdate) SetFinalHead(t types.Tip)  { u.finalHead = &t }
func (u *ChainStoreUpdate) SetTail(h uint64)          { u.tail = &h }
func (u *ChainStoreUpdate) SetForkTail(h uint64)      { u.forkTail = &h }
func (u *ChainStoreUpdate) SetChunkTail(h uint64)     { u.chunkTail = &h }

func (u *ChainStoreUpdate) SaveStateSyncInfo(info *types.StateSyncInfo) {
	u.stateSyncInfo = append(u.stateSyncInfo, info)
}

func (u *ChainStoreUpdate) SaveStateSyncHeader(shard types.ShardID, syncHash common.Hash, h *types.StateSyncHeader) {
	u.stateSyncHeaders = append(u.stateSyncHeaders, stateSyncHeaderWrite{shard, syncHash, h})
}

func (u *ChainStoreUpdate) SaveStatePart(shard types.ShardID, syncHash common.Hash, partID uint64, data []byte) {
	u.stateSyncParts = append(u.stateSyncParts, stateSyncPartWrite{shard, syncHash, partID, data})
}

func (u *ChainStoreUpdate) SaveOrdinalHash(ordinal uint64, hash common.Hash) {
	u.ordinalHashes = append(u.ordinalHashes, ordinalHashWrite{ordinal, hash})
}

func (u *ChainStoreUpdate) SaveMerkleSubtree(level uint8, index uint64, hash common.Hash) {
	u.merkleSubtrees = append(u.merkleSubtrees, merkleSubtreeWrite{level, index, hash})
}

func (u *ChainStoreUpdate) SaveBlocksToCatchup(epochID common.Hash, hashes []common.Hash) {
	u.catchup[epochID] = hashes
}

func (u *ChainStoreUpdate) SaveSplitStateChanges(block common.Hash, child types.ShardUId, data []byte) {
	u.splitChanges = append(u.splitChanges, splitChangeWrite{block, child, data})
}

func (u *ChainStoreUpdate) SaveLightClientBlock(epochID common.Hash, lcb *types.LightClientBlock) {
	u.lightClient[epochID] = lcb
}

// Merge folds another update's pending writes into u, used to combine a
// runtime-produced store edit (trie changes, split-state results) into the
// ChainUpdate transaction currently open.
func (u *ChainStoreUpdate) Merge(other *ChainStoreUpdate) {
	u.headers = append(u.headers, other.headers...)
	for h, b := range other.bodies {
		u.bodies[h] = b
	}
	u.chunks = append(u.chunks, other.chunks...)
	u.chunkExtras = append(u.chunkExtras, other.chunkExtras...)
	for h, c := range other.refcounts {
		u.SetRefcount(h, c)
	}
	for h := range other.deleteRefs {
		u.DeleteRefcount(h)
	}
	for n, h := range other.canonical {
		u.SaveCanonicalHash(n, h)
	}
	for n := range other.deleteCanon {
		u.DeleteCanonicalHash(n)
	}
	u.processed = append(u.processed, other.processed...)
	if other.headHeader != nil {
		u.headHeader = other.headHeader
	}
	if other.headBlock != nil {
		u.headBlock = other.headBlock
	}
	if other.finalHead != nil {
		u.finalHead = other.finalHead
	}
	if other.tail != nil {
		u.tail = other.tail
	}
	if other.forkTail != nil {
		u.forkTail = other.forkTail
	}
	if other.chunkTail != nil {
		u.chunkTail = other.chunkTail
	}
	u.stateSyncInfo = append(u.stateSyncInfo, other.stateSyncInfo...)
	u.stateSyncHeaders = append(u.stateSyncHeaders, other.stateSyncHeaders...)
	u.stateSyncParts = append(u.stateSyncParts, other.stateSyncParts...)
	for e, h := range other.catchup {
		u.catchup[e] = h
	}
	u.ordinalHashes = append(u.ordinalHashes, other.ordinalHashes...)
	u.merkleSubtrees = append(u.merkleSubtrees, other.merkleSubtrees...)
	u.splitChanges = append(u.splitChanges, other.splitChanges...)
	for e, lcb := range other.lightClient {
		u.lightClient[e] = lcb
	}
}

// Commit writes every buffered change atomically and refreshes the read
// caches. Any error here is operational and the caller should treat the
// process as needing a clean abort.
func (u *ChainStoreUpdate) Commit() error {
	db := u.batch

	for _, h := range u.headers {
		rawdb.WriteHeader(db, h)
		rawdb.AddBlockAtHeight(u.access.db, db, h.Height, h.Hash())
	}
	for hash, bw := range u.bodies {
		rawdb.WriteBody(db, hash, bw.number, bw.body)
	}
	for _, c := range u.chunks {
		rawdb.WriteChunk(db, c)
	}
	for _, w := range u.chunkExtras {
		rawdb.WriteChunkExtra(db, w.block, w.shard, w.extra)
	}
	for hash, count := range u.refcounts {
		rawdb.WriteRefcount(db, hash, count)
	}
	for hash := range u.deleteRefs {
		rawdb.DeleteRefcount(db, hash)
	}
	for number, hash := range u.canonical {
		rawdb.WriteCanonicalHash(db, hash, number)
	}
	for number := range u.deleteCanon {
		rawdb.DeleteCanonicalHash(db, number)
	}
	for _, hash := range u.processed {
		rawdb.WriteHeightProcessed(db, hash)
	}
	if u.headHeader != nil {
		rawdb.WriteHeadHeaderTip(db, *u.headHeader)
	}
	if u.headBlock != nil {
		rawdb.WriteHeadBlockTip(db, *u.headBlock)
	}
	if u.finalHead != nil {
		rawdb.WriteFinalHeadTip(db, *u.finalHead)
	}
	if u.tail != nil {
		rawdb.WriteTailHeight(db, *u.tail)
	}
	if u.forkTail != nil {
		rawdb.WriteForkTailHeight(db, *u.forkTail)
	}
	if u.chunkTail != nil {
		rawdb.WriteChunkTailHeight(db, *u.chunkTail)
	}
	for _, info := range u.stateSyncInfo {
		rawdb.WriteStateSyncInfo(db, info)
	}
	for _, w := range u.stateSyncHeaders {
		rawdb.WriteStateSyncHeader(db, w.shard, w.syncHash, w.header)
	}
	for _, w := range u.stateSyncParts {
		rawdb.WriteStatePart(db, w.shard, w.syncHash, w.partID, w.data)
	}
	for epochID, hashes := range u.catchup {
		rawdb.WriteBlocksToCatchup(db, epochID, hashes)
	}
	for _, w := range u.ordinalHashes {
		rawdb.WriteOrdinalHash(db, w.ordinal, w.hash)
	}
	for _, w := range u.merkleSubtrees {
		rawdb.WriteMerkleSubtree(db, w.level, w.index, w.hash)
	}
	for _, w := range u.splitChanges {
		rawdb.WriteSplitStateChanges(db, w.block, w.child, w.data)
	}
	for epochID, lcb := range u.lightClient {
		rawdb.WriteLightClientBlock(db, epochID, lcb)
	}

	if err := db.Write(); err != nil {
		log.Error("Failed to commit chain store update", "err", err)
		return err
	}

	for _, h := range u.headers {
		u.access.headerCache.Add(h.Hash(), h)
	}
	for _, c := range u.chunks {
		u.access.chunkCache.Add(c.Hash(), c)
	}
	for _, w := range u.chunkExtras {
		u.access.chunkExtraCache.Add(chunkExtraCacheKey{w.block, w.shard}, w.extra)
	}
	return nil
}

// Discard drops every buffered write without touching the database. The
// ChainUpdate path does not call it: an update that fails is simply never
// committed.
func (u *ChainStoreUpdate) Discard() {
	*u = *NewUpdate(u.access)
}
