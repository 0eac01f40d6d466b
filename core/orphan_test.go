package core

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/shardnode/shardnode/core/types"
	"github.com/shardnode/shardnode/params"
)

func orphanAt(height uint64, parent common.Hash) *types.Orphan {
	header := &types.Header{
		ParentHash: parent,
		Height:     height,
		GasPrice:   big.NewInt(1),
		Timestamp:  height,
	}
	block := types.NewBlock(header, &types.Body{ChunkHeaders: []*types.ChunkHeader{{ShardID: 0, HeightCreated: height}}})
	return &types.Orphan{Block: block, Provenance: types.ProvenanceSync, Added: time.Unix(int64(height), 0)}
}

func TestOrphanPoolAddContainsRemoveByPrev(t *testing.T) {
	pool := NewOrphanPool()
	parent := common.HexToHash("0xp")

	o1 := orphanAt(5, parent)
	o2 := orphanAt(5, parent)
	o2.Block.Header.Timestamp++ // a distinct sibling of o1, not a duplicate of it
	o3 := orphanAt(6, o1.Block.Hash())

	pool.Add(o1)
	pool.Add(o2)
	pool.Add(o3)
	require.Equal(t, 3, pool.Len())
	require.True(t, pool.Contains(o1.Block.Hash()))

	children := pool.RemoveByPrev(parent)
	require.Len(t, children, 2)
	require.Equal(t, 1, pool.Len())
	require.False(t, pool.Contains(o1.Block.Hash()))
	require.True(t, pool.Contains(o3.Block.Hash()))
}

func TestOrphanPoolAddIsIdempotent(t *testing.T) {
	pool := NewOrphanPool()
	o := orphanAt(1, common.HexToHash("0xa"))

	pool.Add(o)
	pool.Add(o)
	require.Equal(t, 1, pool.Len())
}

func TestOrphanPoolDescendantsWithinDepth(t *testing.T) {
	pool := NewOrphanPool()
	anchor := common.HexToHash("0xroot")

	gen1 := orphanAt(1, anchor)
	gen2 := orphanAt(2, gen1.Block.Hash())
	gen3 := orphanAt(3, gen2.Block.Hash())

	pool.Add(gen1)
	pool.Add(gen2)
	pool.Add(gen3)

	within1 := pool.DescendantsWithinDepth(anchor, 1)
	require.ElementsMatch(t, []common.Hash{gen1.Block.Hash()}, within1)

	within2 := pool.DescendantsWithinDepth(anchor, 2)
	require.ElementsMatch(t, []common.Hash{gen1.Block.Hash(), gen2.Block.Hash()}, within2)

	withinAll := pool.DescendantsWithinDepth(anchor, 10)
	require.ElementsMatch(t, []common.Hash{gen1.Block.Hash(), gen2.Block.Hash(), gen3.Block.Hash()}, withinAll)
}

func TestOrphanPoolMarkRequestedRespectsCap(t *testing.T) {
	pool := NewOrphanPool()

	var hashes []common.Hash
	for i := 0; i < params.MaxOrphanMissingChunks; i++ {
		o := orphanAt(uint64(i+1), common.HexToHash("0xa"))
		pool.Add(o)
		hashes = append(hashes, o.Block.Hash())
		require.True(t, pool.CanRequestMissingChunks())
		pool.MarkRequested(o.Block.Hash())
	}
	require.False(t, pool.CanRequestMissingChunks())

	// Removing one outstanding request frees capacity again.
	pool.remove(hashes[0])
	require.True(t, pool.CanRequestMissingChunks())
}

func TestOrphanPoolEvictsStaleByAge(t *testing.T) {
	pool := NewOrphanPool()
	base := time.Unix(10_000, 0)
	pool.now = func() time.Time { return base }

	stale := &types.Orphan{
		Block: types.NewBlock(&types.Header{
			ParentHash: common.HexToHash("0xa"),
			Height:     1,
			GasPrice:   big.NewInt(1),
		}, &types.Body{}),
		Added: base.Add(-2 * time.Duration(params.MaxOrphanAgeSecs) * time.Second),
	}
	fresh := &types.Orphan{
		Block: types.NewBlock(&types.Header{
			ParentHash: common.HexToHash("0xb"),
			Height:     2,
			GasPrice:   big.NewInt(1),
		}, &types.Body{}),
		Added: base,
	}

	pool.Add(stale)
	pool.Add(fresh)
	require.Equal(t, 2, pool.Len())

	pool.evictOverflow()

	require.Equal(t, 1, pool.Len())
	require.False(t, pool.Contains(stale.Block.Hash()))
	require.True(t, pool.Contains(fresh.Block.Hash()))
	require.Equal(t, uint64(1), pool.Evicted())
}

func TestOrphanPoolEvictsByHeightWhenOverCapacity(t *testing.T) {
	pool := NewOrphanPool()
	base := time.Unix(1, 0)
	pool.now = func() time.Time { return base }

	for i := 0; i < params.MaxOrphanSize+5; i++ {
		o := &types.Orphan{
			Block: types.NewBlock(&types.Header{
				ParentHash: common.HexToHash("0xa"),
				Height:     uint64(i),
				GasPrice:   big.NewInt(1),
				Timestamp:  uint64(i),
			}, &types.Body{}),
			Added: base,
		}
		pool.Add(o)
	}

	require.LessOrEqual(t, pool.Len(), params.MaxOrphanSize)
}
