package core

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/shardnode/shardnode/core/types"
	"github.com/shardnode/shardnode/runtime"
)

// Genesis describes the parameters needed to build a chain's first block.
// The genesis state root per shard comes from runtime.Adapter.GenesisState
// rather than a decoded allocation map, since state tries live entirely
// behind that boundary.
type Genesis struct {
	EpochID     common.Hash
	NextEpochID common.Hash
	NextBPHash  common.Hash
	GasPrice    *big.Int
	Timestamp   uint64
}

// ToBlock asks adapter for the genesis state roots and assembles the
// genesis block together with one reissued chunk header per shard, each
// marked new at height 0.
func (g *Genesis) ToBlock(ctx context.Context, adapter runtime.Adapter) (*types.Block, error) {
	roots, err := adapter.GenesisState(ctx)
	if err != nil {
		return nil, newErrf(KindOperational, "genesis state: %w", err)
	}

	mask := make([]bool, len(roots))
	chunks := make([]*types.ChunkHeader, len(roots))
	for i, root := range roots {
		mask[i] = true
		chunks[i] = &types.ChunkHeader{
			ShardID:        types.ShardID(i),
			HeightCreated:  0,
			HeightIncluded: 0,
			PrevStateRoot:  root,
		}
	}

	gasPrice := g.GasPrice
	if gasPrice == nil {
		gasPrice = new(big.Int)
	}
	header := &types.Header{
		ParentHash:  common.Hash{},
		Height:      0,
		EpochID:     g.EpochID,
		NextEpochID: g.NextEpochID,
		NextBPHash:  g.NextBPHash,
		ChunkMask:   mask,
		GasPrice:    gasPrice,
		Timestamp:   g.Timestamp,
	}
	body := &types.Body{ChunkHeaders: chunks}
	return types.NewBlock(header, body), nil
}
