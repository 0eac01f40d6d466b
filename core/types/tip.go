package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Tip identifies a chain pointer: last block hash, prev block hash, height
// and epoch id. Three distinct tips are persisted: Head (canonical
// body tip), HeaderHead (canonical header tip, may lead Head during
// header-first sync) and FinalHead (last irreversibly final block).
type Tip struct {
	Hash       common.Hash `json:"hash"`
	PrevHash   common.Hash `json:"prevHash"`
	Height     uint64      `json:"height"`
	EpochID    common.Hash `json:"epochId"`
}

// TipFromHeader builds a Tip view of a header.
func TipFromHeader(h *Header) Tip {
	return Tip{
		Hash:     h.Hash(),
		PrevHash: h.ParentHash,
		Height:   h.Height,
		EpochID:  h.EpochID,
	}
}

// BlockStatusKind discriminates how a newly-accepted block relates to the
// previous head.
type BlockStatusKind int

const (
	BlockStatusNext BlockStatusKind = iota
	BlockStatusReorg
	BlockStatusFork
)

func (k BlockStatusKind) String() string {
	switch k {
	case BlockStatusNext:
		return "Next"
	case BlockStatusReorg:
		return "Reorg"
	case BlockStatusFork:
		return "Fork"
	default:
		return "Unknown"
	}
}

// BlockStatus pairs the kind with the head it replaced: OldHead is set only
// on a reorg, naming the block that was un-canonicalized so consumers
// (e.g. transaction resubmission) can walk the abandoned branch.
type BlockStatus struct {
	Kind    BlockStatusKind
	OldHead common.Hash
}

func (s BlockStatus) String() string {
	if s.Kind == BlockStatusReorg && s.OldHead != (common.Hash{}) {
		return fmt.Sprintf("Reorg(%s)", s.OldHead)
	}
	return s.Kind.String()
}

// Provenance records where a candidate block came from.
type Provenance int

const (
	ProvenanceNone Provenance = iota
	ProvenanceProduced
	ProvenanceSync
)

func (p Provenance) String() string {
	switch p {
	case ProvenanceProduced:
		return "Produced"
	case ProvenanceSync:
		return "Sync"
	default:
		return "None"
	}
}
