package core

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/shardnode/shardnode/core/types"
	"github.com/shardnode/shardnode/params"
)

var (
	orphanEvictedMeter = metrics.NewRegisteredMeter("chain/orphan/evicted", nil)
	orphanAddedMeter   = metrics.NewRegisteredMeter("chain/orphan/added", nil)
	orphanGauge        = metrics.NewRegisteredGauge("chain/orphan/size", nil)
)

// OrphanPool is the bounded in-memory map of blocks whose parent is
// unknown. It keeps three mutually consistent indices (by hash, by
// height, and by prev hash), all plain Go maps.
type OrphanPool struct {
	byHash     map[common.Hash]*types.Orphan
	byHeight   map[uint64]map[common.Hash]struct{}
	byPrevHash map[common.Hash]map[common.Hash]struct{}

	outstandingRequests int
	evicted             uint64

	now func() time.Time
}

// NewOrphanPool creates an empty pool.
func NewOrphanPool() *OrphanPool {
	return &OrphanPool{
		byHash:     make(map[common.Hash]*types.Orphan),
		byHeight:   make(map[uint64]map[common.Hash]struct{}),
		byPrevHash: make(map[common.Hash]map[common.Hash]struct{}),
		now:        time.Now,
	}
}

func (p *OrphanPool) Len() int { return len(p.byHash) }

func (p *OrphanPool) Contains(hash common.Hash) bool {
	_, ok := p.byHash[hash]
	return ok
}

func (p *OrphanPool) Get(hash common.Hash) *types.Orphan { return p.byHash[hash] }

// Add inserts orphan, evicting if the pool is over capacity afterward.
// Idempotent: re-adding the same hash updates the entry without creating a
// duplicate index record.
func (p *OrphanPool) Add(orphan *types.Orphan) {
	hash := orphan.Block.Hash()
	prev := orphan.Block.ParentHash()
	height := orphan.Block.Height()

	if _, exists := p.byHash[hash]; !exists {
		orphanAddedMeter.Mark(1)
	}
	p.byHash[hash] = orphan

	if p.byHeight[height] == nil {
		p.byHeight[height] = make(map[common.Hash]struct{})
	}
	p.byHeight[height][hash] = struct{}{}

	if p.byPrevHash[prev] == nil {
		p.byPrevHash[prev] = make(map[common.Hash]struct{})
	}
	p.byPrevHash[prev][hash] = struct{}{}

	orphanGauge.Update(int64(p.Len()))
	if p.Len() > params.MaxOrphanSize {
		p.evictOverflow()
	}
}

// remove deletes hash from all three indices without any eviction-policy
// side effects.
func (p *OrphanPool) remove(hash common.Hash) {
	o, ok := p.byHash[hash]
	if !ok {
		return
	}
	delete(p.byHash, hash)

	height := o.Block.Height()
	if set := p.byHeight[height]; set != nil {
		delete(set, hash)
		if len(set) == 0 {
			delete(p.byHeight, height)
		}
	}

	prev := o.Block.ParentHash()
	if set := p.byPrevHash[prev]; set != nil {
		delete(set, hash)
		if len(set) == 0 {
			delete(p.byPrevHash, prev)
		}
	}
	if o.RequestedChunks {
		p.outstandingRequests--
	}
}

// RemoveByPrev pops and returns every orphan whose parent is prevHash,
// called once that parent lands in store.
func (p *OrphanPool) RemoveByPrev(prevHash common.Hash) []*types.Orphan {
	set := p.byPrevHash[prevHash]
	if len(set) == 0 {
		return nil
	}
	out := make([]*types.Orphan, 0, len(set))
	hashes := make([]common.Hash, 0, len(set))
	for h := range set {
		hashes = append(hashes, h)
	}
	for _, h := range hashes {
		out = append(out, p.byHash[h])
		p.remove(h)
	}
	orphanGauge.Update(int64(p.Len()))
	return out
}

// DescendantsWithinDepth performs a breadth-limited BFS from anchor through
// the by-prev-hash index, returning hashes of orphans within depth
// generations. The 100*depth bound is an anomaly signal, not a correctness
// requirement.
func (p *OrphanPool) DescendantsWithinDepth(anchor common.Hash, depth int) []common.Hash {
	var out []common.Hash
	frontier := []common.Hash{anchor}
	for d := 0; d < depth && len(frontier) > 0; d++ {
		var next []common.Hash
		for _, h := range frontier {
			for child := range p.byPrevHash[h] {
				out = append(out, child)
				next = append(next, child)
			}
		}
		frontier = next
	}
	if limit := 100 * depth; len(out) > limit {
		log.Warn("Orphan descendant set exceeds safety bound", "anchor", anchor, "depth", depth, "count", len(out), "limit", limit)
	}
	return out
}

// CanRequestMissingChunks reports whether the pool has capacity to issue
// another outstanding chunk request.
func (p *OrphanPool) CanRequestMissingChunks() bool {
	return p.outstandingRequests < params.MaxOrphanMissingChunks
}

// MarkRequested records that a chunk request has been issued for hash.
func (p *OrphanPool) MarkRequested(hash common.Hash) {
	o, ok := p.byHash[hash]
	if !ok || o.RequestedChunks {
		return
	}
	o.RequestedChunks = true
	p.outstandingRequests++
}

// Evicted returns the monotonically increasing eviction counter.
func (p *OrphanPool) Evicted() uint64 { return p.evicted }

// evictOverflow applies the two-phase eviction policy: first drop orphans
// older than MaxOrphanAgeSecs; if still over capacity, drop starting from
// the highest height. The rebuild-by-filtering approach is O(n) per
// overflow event, accepted given the fixed cap.
func (p *OrphanPool) evictOverflow() {
	now := p.now()
	cutoff := time.Duration(params.MaxOrphanAgeSecs) * time.Second

	var stale []common.Hash
	for hash, o := range p.byHash {
		if o.Age(now) > cutoff {
			stale = append(stale, hash)
		}
	}
	for _, hash := range stale {
		p.remove(hash)
		p.evicted++
	}
	orphanEvictedMeter.Mark(int64(len(stale)))

	if p.Len() <= params.MaxOrphanSize {
		orphanGauge.Update(int64(p.Len()))
		return
	}

	// Still over capacity: drop starting from the highest height until
	// within bounds.
	heights := make([]uint64, 0, len(p.byHeight))
	for h := range p.byHeight {
		heights = append(heights, h)
	}
	sortDescending(heights)

	for _, height := range heights {
		if p.Len() <= params.MaxOrphanSize {
			break
		}
		for hash := range p.byHeight[height] {
			if p.Len() <= params.MaxOrphanSize {
				break
			}
			p.remove(hash)
			p.evicted++
		}
	}
	orphanGauge.Update(int64(p.Len()))
}

func sortDescending(xs []uint64) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j-1] < xs[j]; j-- {
			xs[j-1], xs[j] = xs[j], xs[j-1]
		}
	}
}
