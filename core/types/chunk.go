package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ChunkHeader is the per-shard summary carried in a block's body.
// A chunk is "new at block H" iff HeightIncluded == H; otherwise the block
// carries a pointer to the most recent chunk for that shard.
type ChunkHeader struct {
	ShardID          ShardID     `json:"shardId"`
	HeightCreated    uint64      `json:"heightCreated"`
	HeightIncluded   uint64      `json:"heightIncluded"`
	PrevStateRoot    common.Hash `json:"prevStateRoot"`
	OutgoingReceiptsRoot common.Hash `json:"outgoingReceiptsRoot"`
	GasLimit         uint64      `json:"gasLimit"`
	GasUsed          uint64      `json:"gasUsed"`
	ValidatorProposals []ValidatorStake `json:"validatorProposals"`
	Signature        []byte      `json:"signature"`

	hash *common.Hash
}

// Hash returns the RLP hash of the chunk header.
func (c *ChunkHeader) Hash() common.Hash {
	if c.hash != nil {
		return *c.hash
	}
	h := rlpHash(c)
	c.hash = &h
	return h
}

// IsNewAt reports whether this chunk header is a new chunk at height.
func (c *ChunkHeader) IsNewAt(height uint64) bool {
	return c.HeightIncluded == height
}

// Transaction is an opaque shard transaction; its interpretation belongs to
// the runtime adapter, so the core only needs to move
// it around and order it, never decode it.
type Transaction struct {
	Raw []byte
}

// OutgoingReceipt is a cross-shard message produced by applying a chunk's
// transactions, destined for ToShard.
type OutgoingReceipt struct {
	ToShard ShardID
	Raw     []byte
}

// Chunk is the body fetched separately from its header: transactions plus
// outgoing receipts. It may be absent when a block first arrives.
type Chunk struct {
	Header       *ChunkHeader
	Transactions []Transaction
	Receipts     []OutgoingReceipt
}

// Hash returns the owning chunk header's hash, the key chunks are addressed
// by throughout the store and the missing-chunks pool.
func (c *Chunk) Hash() common.Hash { return c.Header.Hash() }

// ChunkExtra is the post-application summary for one (block, ShardUId),
// written exactly once per accepted (block, shard) pair.
type ChunkExtra struct {
	StateRoot          common.Hash      `json:"stateRoot"`
	OutcomeRoot        common.Hash      `json:"outcomeRoot"`
	ValidatorProposals []ValidatorStake `json:"validatorProposals"`
	GasLimit           uint64           `json:"gasLimit"`
	GasUsed            uint64           `json:"gasUsed"`
	BalanceBurnt       *big.Int         `json:"balanceBurnt"`
}

// Clone returns a deep-enough copy suitable for a continuation chunk's
// extra, which copies the previous extra verbatim except for the state
// root.
func (e *ChunkExtra) Clone() *ChunkExtra {
	proposals := make([]ValidatorStake, len(e.ValidatorProposals))
	copy(proposals, e.ValidatorProposals)
	balance := new(big.Int)
	if e.BalanceBurnt != nil {
		balance.Set(e.BalanceBurnt)
	}
	return &ChunkExtra{
		StateRoot:          e.StateRoot,
		OutcomeRoot:        e.OutcomeRoot,
		ValidatorProposals: proposals,
		GasLimit:           e.GasLimit,
		GasUsed:            e.GasUsed,
		BalanceBurnt:       balance,
	}
}
