package core

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/shardnode/shardnode/core/types"
)

var missingChunksGauge = metrics.NewRegisteredGauge("chain/missingchunks/size", nil)

// blockWaitingOnChunks is a block parked pending chunk bodies, keyed by the
// hashes of the chunks it is still missing.
type blockWaitingOnChunks struct {
	block   *types.Block
	missing map[common.Hash]struct{}
}

// MissingChunksPool holds blocks whose new chunk bodies have not all
// arrived, keyed by chunk hash so a single incoming chunk can unblock every
// waiting block at once.
type MissingChunksPool struct {
	byBlock map[common.Hash]*blockWaitingOnChunks
	byChunk map[common.Hash]map[common.Hash]struct{} // chunk hash -> blocked block hashes
}

func NewMissingChunksPool() *MissingChunksPool {
	return &MissingChunksPool{
		byBlock: make(map[common.Hash]*blockWaitingOnChunks),
		byChunk: make(map[common.Hash]map[common.Hash]struct{}),
	}
}

func (p *MissingChunksPool) Len() int { return len(p.byBlock) }

func (p *MissingChunksPool) Contains(hash common.Hash) bool {
	_, ok := p.byBlock[hash]
	return ok
}

// Add parks block pending the given missing chunk hashes.
func (p *MissingChunksPool) Add(block *types.Block, missing []common.Hash) {
	hash := block.Hash()
	set := make(map[common.Hash]struct{}, len(missing))
	for _, m := range missing {
		set[m] = struct{}{}
		if p.byChunk[m] == nil {
			p.byChunk[m] = make(map[common.Hash]struct{})
		}
		p.byChunk[m][hash] = struct{}{}
	}
	p.byBlock[hash] = &blockWaitingOnChunks{block: block, missing: set}
	missingChunksGauge.Update(int64(p.Len()))
}

func (p *MissingChunksPool) remove(hash common.Hash) {
	w, ok := p.byBlock[hash]
	if !ok {
		return
	}
	for chunkHash := range w.missing {
		if set := p.byChunk[chunkHash]; set != nil {
			delete(set, hash)
			if len(set) == 0 {
				delete(p.byChunk, chunkHash)
			}
		}
	}
	delete(p.byBlock, hash)
}

// ChunkArrived reports which previously-blocked blocks are now fully
// satisfied (every new chunk present) given that chunkHash just arrived.
// Callers should re-submit these blocks to ChainUpdate.
func (p *MissingChunksPool) ChunkArrived(chunkHash common.Hash) []*types.Block {
	blocked := p.byChunk[chunkHash]
	if len(blocked) == 0 {
		return nil
	}
	var ready []*types.Block
	for blockHash := range blocked {
		w := p.byBlock[blockHash]
		delete(w.missing, chunkHash)
		if len(w.missing) == 0 {
			ready = append(ready, w.block)
		}
	}
	for _, b := range ready {
		p.remove(b.Hash())
	}
	missingChunksGauge.Update(int64(p.Len()))
	return ready
}
