package core

import (
	"bytes"
	"sort"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/shardnode/shardnode/core/types"
	"github.com/shardnode/shardnode/params"
)

func TestValidateChunkTransactionsOrder(t *testing.T) {
	v := NewValidator(params.SandboxChainConfig, fakeEngine{}, newFakeAdapter(1))

	txs := []types.Transaction{{Raw: []byte("alpha")}, {Raw: []byte("beta")}, {Raw: []byte("gamma")}}
	sort.Slice(txs, func(i, j int) bool {
		return bytes.Compare(crypto.Keccak256(txs[i].Raw), crypto.Keccak256(txs[j].Raw)) < 0
	})

	chunk := &types.Chunk{Header: &types.ChunkHeader{}, Transactions: txs}
	require.NoError(t, v.ValidateChunkTransactionsOrder(chunk))

	reversed := make([]types.Transaction, len(txs))
	for i, tx := range txs {
		reversed[len(txs)-1-i] = tx
	}
	chunk.Transactions = reversed
	err := v.ValidateChunkTransactionsOrder(chunk)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindValidation, kind)
}

func TestValidateBodyRejectsChunkMaskMismatch(t *testing.T) {
	v := NewValidator(params.SandboxChainConfig, fakeEngine{}, newFakeAdapter(1))

	header := &types.Header{
		Height:    5,
		ChunkMask: []bool{true},
		GasPrice:  testGasPrice(),
	}
	// Mask claims a new chunk but the header points at an old inclusion.
	body := &types.Body{ChunkHeaders: []*types.ChunkHeader{{ShardID: 0, HeightIncluded: 3}}}
	err := v.ValidateBody(types.NewBlock(header, body), nil)
	require.ErrorIs(t, err, ErrInvalidChunkMask)

	// Mask length must match the chunk-header count.
	body = &types.Body{ChunkHeaders: nil}
	err = v.ValidateBody(types.NewBlock(header, body), nil)
	require.ErrorIs(t, err, ErrIncorrectNumberOfChunkHeaders)
}
