package types

import "github.com/ethereum/go-ethereum/common"

// Body is the non-header part of a block: one chunk header per shard
// plus any challenges
// produced against this block's ancestors.
type Body struct {
	ChunkHeaders []*ChunkHeader `json:"chunkHeaders"`
	Challenges   []*Challenge   `json:"challenges"`
}

// Block is header + body, immutable once hashed.
type Block struct {
	Header *Header `json:"header"`
	Body   *Body   `json:"body"`
}

// NewBlock assembles a block from a header and body. The header is not
// mutated further; Hash() is deterministic once called.
func NewBlock(header *Header, body *Body) *Block {
	return &Block{Header: header, Body: body}
}

func (b *Block) Hash() common.Hash    { return b.Header.Hash() }
func (b *Block) Height() uint64       { return b.Header.Height }
func (b *Block) ParentHash() common.Hash { return b.Header.ParentHash }

// NewChunks returns the chunk headers that are new at this block's height,
// i.e. the chunks ChunkApplier must actually apply rather than continue.
func (b *Block) NewChunks() []*ChunkHeader {
	var out []*ChunkHeader
	for _, ch := range b.Body.ChunkHeaders {
		if ch.IsNewAt(b.Height()) {
			out = append(out, ch)
		}
	}
	return out
}
