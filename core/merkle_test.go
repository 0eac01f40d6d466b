package core

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/stretchr/testify/require"
)

func leafHash(i int) common.Hash {
	return crypto.Keccak256Hash([]byte{byte(i)})
}

func TestMerkleIndexRootAndProofRoundTrip(t *testing.T) {
	access := NewChainStoreAccess(rawdb.NewDatabase(memorydb.New()))
	index := NewMerkleIndex(access)

	const leaves = 11
	for i := 0; i < leaves; i++ {
		update := NewUpdate(access)
		index.AppendLeaf(update, uint64(i), leafHash(i))
		require.NoError(t, update.Commit())
	}

	for size := 1; size <= leaves; size++ {
		root := index.RootAt(uint64(size))
		require.NotEqual(t, common.Hash{}, root, "root at size %d", size)

		for ordinal := 0; ordinal < size; ordinal++ {
			path := index.Proof(uint64(ordinal), uint64(size))
			ok := VerifyPath(path, leafHash(ordinal), root)
			require.True(t, ok, "verify ordinal %d against size %d", ordinal, size)
		}
	}
}

func TestMerkleIndexRootAtZeroIsEmpty(t *testing.T) {
	access := NewChainStoreAccess(rawdb.NewDatabase(memorydb.New()))
	index := NewMerkleIndex(access)
	require.Equal(t, common.Hash{}, index.RootAt(0))
}

func TestMerkleIndexGrowingRootsDiffer(t *testing.T) {
	access := NewChainStoreAccess(rawdb.NewDatabase(memorydb.New()))
	index := NewMerkleIndex(access)

	update := NewUpdate(access)
	index.AppendLeaf(update, 0, leafHash(0))
	require.NoError(t, update.Commit())
	root1 := index.RootAt(1)

	update = NewUpdate(access)
	index.AppendLeaf(update, 1, leafHash(1))
	require.NoError(t, update.Commit())
	root2 := index.RootAt(2)

	require.NotEqual(t, root1, root2)
}
