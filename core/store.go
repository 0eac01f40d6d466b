package core

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/lru"
	"github.com/ethereum/go-ethereum/ethdb"

	"github.com/shardnode/shardnode/core/rawdb"
	"github.com/shardnode/shardnode/core/types"
)

// Cache sizes follow go-ethereum's HeaderChain sizing: fixed small LRUs
// for hot header/block lookups. The chunk-extra cache is sized larger
// since extras are looked up on every chunk-apply step.
const (
	headerCacheLimit     = 512
	blockCacheLimit      = 256
	chunkCacheLimit      = 256
	chunkExtraCacheLimit = 1024
)

// ChainStoreAccess is the read-side façade over the persistent store. It
// never mutates anything; all writes go through a ChainStoreUpdate.
type ChainStoreAccess struct {
	db ethdb.Database

	headerCache     *lru.Cache[common.Hash, *types.Header]
	blockCache      *lru.Cache[common.Hash, *types.Block]
	chunkCache      *lru.Cache[common.Hash, *types.Chunk]
	chunkExtraCache *lru.Cache[chunkExtraCacheKey, *types.ChunkExtra]
}

type chunkExtraCacheKey struct {
	block common.Hash
	shard types.ShardUId
}

// NewChainStoreAccess wraps db with the cached read façade.
func NewChainStoreAccess(db ethdb.Database) *ChainStoreAccess {
	return &ChainStoreAccess{
		db:              db,
		headerCache:     lru.NewCache[common.Hash, *types.Header](headerCacheLimit),
		blockCache:      lru.NewCache[common.Hash, *types.Block](blockCacheLimit),
		chunkCache:      lru.NewCache[common.Hash, *types.Chunk](chunkCacheLimit),
		chunkExtraCache: lru.NewCache[chunkExtraCacheKey, *types.ChunkExtra](chunkExtraCacheLimit),
	}
}

// DB exposes the underlying database for ChainStoreUpdate and the genesis
// writer; nothing outside core/ should need raw db access.
func (s *ChainStoreAccess) DB() ethdb.Database { return s.db }

func (s *ChainStoreAccess) GetHeader(hash common.Hash, number uint64) *types.Header {
	if h, ok := s.headerCache.Get(hash); ok {
		return h
	}
	h := rawdb.ReadHeader(s.db, hash, number)
	if h == nil {
		return nil
	}
	s.headerCache.Add(hash, h)
	return h
}

func (s *ChainStoreAccess) GetHeaderByHash(hash common.Hash) *types.Header {
	number := rawdb.ReadHeaderNumber(s.db, hash)
	if number == nil {
		return nil
	}
	return s.GetHeader(hash, *number)
}

func (s *ChainStoreAccess) HasHeader(hash common.Hash, number uint64) bool {
	if s.headerCache.Contains(hash) {
		return true
	}
	return rawdb.ReadHeader(s.db, hash, number) != nil
}

func (s *ChainStoreAccess) GetBlock(hash common.Hash, number uint64) *types.Block {
	if b, ok := s.blockCache.Get(hash); ok {
		return b
	}
	header := s.GetHeader(hash, number)
	if header == nil {
		return nil
	}
	body := rawdb.ReadBody(s.db, hash, number)
	if body == nil {
		return nil
	}
	block := types.NewBlock(header, body)
	s.blockCache.Add(hash, block)
	return block
}

func (s *ChainStoreAccess) GetBlockByHash(hash common.Hash) *types.Block {
	number := rawdb.ReadHeaderNumber(s.db, hash)
	if number == nil {
		return nil
	}
	return s.GetBlock(hash, *number)
}

func (s *ChainStoreAccess) GetChunk(chunkHash common.Hash) *types.Chunk {
	if c, ok := s.chunkCache.Get(chunkHash); ok {
		return c
	}
	c := rawdb.ReadChunk(s.db, chunkHash)
	if c == nil {
		return nil
	}
	s.chunkCache.Add(chunkHash, c)
	return c
}

func (s *ChainStoreAccess) HasChunk(chunkHash common.Hash) bool {
	if s.chunkCache.Contains(chunkHash) {
		return true
	}
	return rawdb.HasChunk(s.db, chunkHash)
}

func (s *ChainStoreAccess) GetChunkExtra(blockHash common.Hash, shard types.ShardUId) *types.ChunkExtra {
	key := chunkExtraCacheKey{blockHash, shard}
	if e, ok := s.chunkExtraCache.Get(key); ok {
		return e
	}
	e := rawdb.ReadChunkExtra(s.db, blockHash, shard)
	if e == nil {
		return nil
	}
	s.chunkExtraCache.Add(key, e)
	return e
}

func (s *ChainStoreAccess) GetRefcount(hash common.Hash) uint64 {
	count, ok := rawdb.ReadRefcount(s.db, hash)
	if !ok {
		return 0
	}
	return count
}

func (s *ChainStoreAccess) GetCanonicalHash(number uint64) common.Hash {
	return rawdb.ReadCanonicalHash(s.db, number)
}

// GetBlocksAtHeight returns every block hash ever stored at number,
// canonical or forked.
func (s *ChainStoreAccess) GetBlocksAtHeight(number uint64) []common.Hash {
	return rawdb.ReadBlocksAtHeight(s.db, number)
}

func (s *ChainStoreAccess) IsHeightProcessed(hash common.Hash) bool {
	return rawdb.ReadHeightProcessed(s.db, hash)
}

func (s *ChainStoreAccess) HeadHeader() *types.Tip   { return rawdb.ReadHeadHeaderTip(s.db) }
func (s *ChainStoreAccess) HeadBlock() *types.Tip    { return rawdb.ReadHeadBlockTip(s.db) }
func (s *ChainStoreAccess) FinalHead() *types.Tip    { return rawdb.ReadFinalHeadTip(s.db) }

func (s *ChainStoreAccess) Tail() uint64 {
	h, _ := rawdb.ReadTailHeight(s.db)
	return h
}

func (s *ChainStoreAccess) ForkTail() uint64 {
	h, _ := rawdb.ReadForkTailHeight(s.db)
	return h
}

func (s *ChainStoreAccess) ChunkTail() uint64 {
	h, _ := rawdb.ReadChunkTailHeight(s.db)
	return h
}

func (s *ChainStoreAccess) GetStateSyncInfo(epochTailHash common.Hash) *types.StateSyncInfo {
	return rawdb.ReadStateSyncInfo(s.db, epochTailHash)
}

func (s *ChainStoreAccess) GetBlocksToCatchup(epochID common.Hash) []common.Hash {
	return rawdb.ReadBlocksToCatchup(s.db, epochID)
}

// GetLightClientBlock returns the per-epoch light-client view recorded when
// head first crossed out of epochID, or nil before that crossing.
func (s *ChainStoreAccess) GetLightClientBlock(epochID common.Hash) *types.LightClientBlock {
	return rawdb.ReadLightClientBlock(s.db, epochID)
}

// invalidateBlock drops a hash from the header and block read caches; used
// by GC after it deletes a block so stale reads cannot resurrect it.
func (s *ChainStoreAccess) invalidateBlock(hash common.Hash) {
	s.headerCache.Remove(hash)
	s.blockCache.Remove(hash)
}
