package core

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Kind is the error taxonomy callers branch on (not just presence of an
// error), so it is carried as a typed field rather than inferred from
// error string matching. A handful of sentinel errors, go-ethereum style,
// does not scale to this many dispositions.
type Kind int

const (
	KindOrphan Kind = iota
	KindChunksMissing
	KindEpochOutOfBounds
	KindKnown
	KindValidation
	KindChallenge
	KindOperational
	KindByzantine
)

func (k Kind) String() string {
	switch k {
	case KindOrphan:
		return "Orphan"
	case KindChunksMissing:
		return "ChunksMissing"
	case KindEpochOutOfBounds:
		return "EpochOutOfBounds"
	case KindKnown:
		return "Known"
	case KindValidation:
		return "Validation"
	case KindChallenge:
		return "Challenge"
	case KindOperational:
		return "Operational"
	case KindByzantine:
		return "Byzantine"
	default:
		return "Unknown"
	}
}

// ChainError wraps an underlying error with its Kind so callers can
// recover disposition with errors.As, and optionally the set of chunk
// headers a ChunksMissing error is blocked on.
type ChainError struct {
	Kind          Kind
	Err           error
	MissingChunks []common.Hash
}

func (e *ChainError) Error() string {
	if len(e.MissingChunks) > 0 {
		return fmt.Sprintf("%s: %v (missing %d chunks)", e.Kind, e.Err, len(e.MissingChunks))
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ChainError) Unwrap() error { return e.Err }

func newErr(kind Kind, err error) *ChainError {
	return &ChainError{Kind: kind, Err: err}
}

func newErrf(kind Kind, format string, args ...any) *ChainError {
	return &ChainError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind from err if it (or something it wraps) is a
// *ChainError; ok is false for plain errors, which callers should treat as
// operational/unclassified.
func KindOf(err error) (Kind, bool) {
	var ce *ChainError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return 0, false
}

// Sentinel validation errors, package-level in the
// errInsertionInterrupted/errChainStopped style of go-ethereum.
var (
	ErrInvalidSignature           = errors.New("invalid signature")
	ErrInvalidEpochHash            = errors.New("invalid epoch hash")
	ErrInvalidNextBPHash            = errors.New("invalid next block producer hash")
	ErrInvalidChunkMask             = errors.New("invalid chunk mask")
	ErrInvalidChunk                 = errors.New("invalid chunk")
	ErrInvalidGasPrice              = errors.New("invalid gas price")
	ErrInvalidValidatorProposals    = errors.New("invalid validator proposals")
	ErrInvalidFinalityInfo          = errors.New("invalid finality info")
	ErrInvalidBlockMerkleRoot       = errors.New("invalid block merkle root")
	ErrInvalidBlockPastTime         = errors.New("block timestamp not after parent")
	ErrInvalidBlockFutureTime       = errors.New("block timestamp too far in the future")
	ErrInvalidBlockHeight           = errors.New("invalid block height")
	ErrInvalidRandomnessBeaconOutput = errors.New("invalid randomness beacon output")
	ErrInvalidApprovals             = errors.New("invalid approvals")
	ErrNotEnoughApprovals           = errors.New("not enough approvals for doomslug threshold")
	ErrInvalidTransactions          = errors.New("invalid transaction order")
	ErrIncorrectNumberOfChunkHeaders = errors.New("incorrect number of chunk headers")
	ErrInvalidChunkState            = errors.New("chunk post-state disagrees with recomputed state")

	ErrInvalidStateRequest = errors.New("invalid state sync request")
	ErrGC                  = errors.New("garbage collection invariant violated")
	ErrDBNotFound          = errors.New("not found in chain store")
)

// BlockKnownReason distinguishes where a known block was already found.
type BlockKnownReason int

const (
	BlockKnownInHead BlockKnownReason = iota
	BlockKnownInHeader
	BlockKnownInStore
	BlockKnownInOrphan
	BlockKnownInMissingChunks
)

func (r BlockKnownReason) String() string {
	switch r {
	case BlockKnownInHead:
		return "InHead"
	case BlockKnownInHeader:
		return "InHeader"
	case BlockKnownInStore:
		return "InStore"
	case BlockKnownInOrphan:
		return "InOrphan"
	case BlockKnownInMissingChunks:
		return "InMissingChunks"
	default:
		return "Unknown"
	}
}

// ErrBlockKnown reports that process_block found the block already present
// somewhere, so processing can skip it silently.
func ErrBlockKnown(reason BlockKnownReason) *ChainError {
	return newErrf(KindKnown, "block known: %s", reason)
}

// ErrOrphan reports that the block was parked in the orphan pool.
func ErrOrphan(prevHash common.Hash) *ChainError {
	return newErrf(KindOrphan, "prev block %s unknown", prevHash)
}

// ErrChunksMissing reports that the block is parked in the missing-chunks
// pool, carrying the chunk hashes it is blocked on.
func ErrChunksMissing(missing []common.Hash) *ChainError {
	return &ChainError{Kind: KindChunksMissing, Err: fmt.Errorf("%d chunks missing", len(missing)), MissingChunks: missing}
}

// ErrEpochOutOfBounds reports a block too far ahead of head.
func ErrEpochOutOfBounds(height uint64) *ChainError {
	return newErrf(KindEpochOutOfBounds, "height %d exceeds accepted horizon", height)
}

// ByzantineAssert reports a checkpoint that should be unreachable under
// honest inputs: in hardened builds it returns
// an error with evidence; callers that need the "may panic in test builds"
// behavior should wrap this in their own build-tagged helper rather than
// baking a panic into library code.
func ByzantineAssert(msg string) *ChainError {
	return newErrf(KindByzantine, "byzantine invariant violated: %s", msg)
}
