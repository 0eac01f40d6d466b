package types

import "github.com/ethereum/go-ethereum/common"

// ChallengeKind discriminates the three evidence shapes the Validator can
// produce.
type ChallengeKind uint8

const (
	ChallengeBlockDoubleSign ChallengeKind = iota
	ChallengeChunkProofs
	ChallengeChunkState
)

func (k ChallengeKind) String() string {
	switch k {
	case ChallengeBlockDoubleSign:
		return "BlockDoubleSign"
	case ChallengeChunkProofs:
		return "ChunkProofs"
	case ChallengeChunkState:
		return "ChunkState"
	default:
		return "Unknown"
	}
}

// BlockDoubleSignEvidence carries both conflicting headers at the same
// (epoch, height), enough for a verifier with no chain context to
// adjudicate.
type BlockDoubleSignEvidence struct {
	Left  *Header
	Right *Header
}

// ChunkProofsEvidence is produced when a chunk body does not match its
// included header, or transactions are out of canonical order.
type ChunkProofsEvidence struct {
	Header *ChunkHeader `rlp:"nil"`
	Chunk  *Chunk       `rlp:"nil"`
	// MerkleProof proves Header belongs to the block body that carried it.
	MerkleProof MerklePath
	BlockHash   common.Hash
}

// ChunkStateEvidence is produced when a chunk's declared post-state
// disagrees with the state recomputed by replaying the previous chunk. It
// carries the previous chunk, a storage proof of the disputed keys, and
// both the claimed and recomputed state roots.
type ChunkStateEvidence struct {
	PrevChunk      *Chunk `rlp:"nil"`
	PrevChunkHash  common.Hash
	ClaimedRoot    common.Hash
	RecomputedRoot common.Hash
	StorageProof   []byte
}

// Challenge is a self-contained evidence object: it
// embeds whichever of the three evidence payloads matches its Kind so
// downstream verifiers need no chain context.
type Challenge struct {
	Kind ChallengeKind

	DoubleSign  *BlockDoubleSignEvidence  `rlp:"nil"`
	ChunkProofs *ChunkProofsEvidence      `rlp:"nil"`
	ChunkState  *ChunkStateEvidence       `rlp:"nil"`
}

func NewBlockDoubleSignChallenge(left, right *Header) *Challenge {
	return &Challenge{Kind: ChallengeBlockDoubleSign, DoubleSign: &BlockDoubleSignEvidence{Left: left, Right: right}}
}

func NewChunkProofsChallenge(e *ChunkProofsEvidence) *Challenge {
	return &Challenge{Kind: ChallengeChunkProofs, ChunkProofs: e}
}

func NewChunkStateChallenge(e *ChunkStateEvidence) *Challenge {
	return &Challenge{Kind: ChallengeChunkState, ChunkState: e}
}
