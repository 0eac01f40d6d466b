package types

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// hasherPool reuses keccak states across rlpHash calls, the same pattern
// go-ethereum's core/types uses for header/body hashing.
var hasherPool = sync.Pool{
	New: func() any { return crypto.NewKeccakState() },
}

// rlpHash encodes val and returns its Keccak256 hash.
func rlpHash(val any) common.Hash {
	sha := hasherPool.Get().(crypto.KeccakState)
	defer hasherPool.Put(sha)
	sha.Reset()

	var h common.Hash
	rlp.Encode(sha, val)
	sha.Read(h[:])
	return h
}
