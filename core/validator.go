package core

import (
	"bytes"
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/shardnode/shardnode/consensus"
	"github.com/shardnode/shardnode/core/types"
	"github.com/shardnode/shardnode/params"
	"github.com/shardnode/shardnode/runtime"
)

// Validator implements the structural and cryptographic header, block and
// chunk checks. It is built from pure functions taking a
// consensus.ChainHeaderReader, the same shape as go-ethereum's
// consensus.Engine.VerifyHeader, extended here with the shard-aware
// lookups the runtime adapter provides.
type Validator struct {
	config  *params.ChainConfig
	engine  consensus.Engine
	adapter runtime.Adapter
}

// NewValidator builds a Validator over config, engine and adapter.
func NewValidator(config *params.ChainConfig, engine consensus.Engine, adapter runtime.Adapter) *Validator {
	return &Validator{config: config, engine: engine, adapter: adapter}
}

// nowFunc is overridable in tests.
var nowFunc = time.Now

// ValidateHeader runs the full header validation contract against header,
// given its previously-stored parent (nil only for genesis, which is
// assumed pre-validated).
func (v *Validator) ValidateHeader(ctx context.Context, chain consensus.ChainHeaderReader, header, parent *types.Header, locallyProduced bool) (*types.Challenge, error) {
	// Timestamp not in the far future.
	if header.Time().After(nowFunc().Add(v.config.TimeSkewTolerance)) {
		return nil, newErr(KindValidation, ErrInvalidBlockFutureTime)
	}

	// Strict monotone timestamp (checked before signature, cheap).
	if parent != nil && header.Timestamp <= parent.Timestamp {
		return nil, newErr(KindValidation, ErrInvalidBlockPastTime)
	}

	// Signature against the designated block producer.
	if !locallyProduced {
		ok, err := v.adapter.VerifyHeaderSignature(header)
		if err != nil {
			return nil, newErrf(KindOperational, "verify header signature: %w", err)
		}
		if !ok {
			return nil, newErr(KindValidation, ErrInvalidSignature)
		}
	}

	// epoch_id / next_epoch_id must be derivable from the prev header.
	if parent != nil {
		wantEpoch, err := v.adapter.GetEpochIDFromPrevBlock(parent.Hash())
		if err != nil {
			return nil, newErrf(KindOperational, "derive epoch id: %w", err)
		}
		if header.EpochID != wantEpoch {
			return nil, newErr(KindValidation, ErrInvalidEpochHash)
		}
		wantNextEpoch, err := v.adapter.GetNextEpochIDFromPrevBlock(parent.Hash())
		if err != nil {
			return nil, newErrf(KindOperational, "derive next epoch id: %w", err)
		}
		if header.NextEpochID != wantNextEpoch {
			return nil, newErr(KindValidation, ErrInvalidEpochHash)
		}
	}

	// next_bp_hash: inherited within an epoch, recomputed at a boundary.
	if parent != nil {
		sameEpoch := header.EpochID == parent.EpochID
		if sameEpoch {
			if header.NextBPHash != parent.NextBPHash {
				return nil, newErr(KindValidation, ErrInvalidNextBPHash)
			}
		} else {
			producers, err := v.adapter.GetEpochBlockProducersOrdered(header.NextEpochID)
			if err != nil {
				return nil, newErrf(KindOperational, "load next epoch producers: %w", err)
			}
			if header.NextBPHash != hashValidatorSet(producers) {
				return nil, newErr(KindValidation, ErrInvalidNextBPHash)
			}
		}
	}

	// Chunk mask length and height_included consistency is checked
	// against the body in ValidateBody, since the header alone does not
	// carry chunk headers.

	// Non-local headers need approvals/finality checks.
	if !locallyProduced && parent != nil {
		if err := v.engine.VerifyApprovals(chain, header); err != nil {
			return nil, newErrf(KindValidation, "%w: %v", ErrNotEnoughApprovals, err)
		}
		wantLastFinal, wantLastDSFinal := predictFinality(header, parent)
		if header.LastFinalBlock != wantLastFinal || header.LastDSFinalBlock != wantLastDSFinal {
			return nil, newErr(KindValidation, ErrInvalidFinalityInfo)
		}
	}

	// VRF output.
	if parent != nil {
		ok, err := v.adapter.VerifyBlockVRF(header, parent.RandomValue)
		if err != nil {
			return nil, newErrf(KindOperational, "verify vrf: %w", err)
		}
		if !ok {
			return nil, newErr(KindValidation, ErrInvalidRandomnessBeaconOutput)
		}
	}

	// Double-sign detection is non-fatal: it emits a challenge but
	// lets processing continue, since both headers may be valid chain
	// members and only one is canonical.
	if existing := chain.GetHeaderByNumber(header.Height); existing != nil && existing.Hash() != header.Hash() && existing.EpochID == header.EpochID {
		log.Warn("Double-sign detected", "height", header.Height, "a", existing.Hash(), "b", header.Hash())
		return types.NewBlockDoubleSignChallenge(existing, header), nil
	}
	return nil, nil
}

// predictFinality computes the last-final and last-doomslug-final hashes a
// header following parent must carry. When the heights are consecutive the
// parent itself becomes doomslug-final and the parent's doomslug-final
// block becomes final; when a height was skipped both references are
// inherited from the parent unchanged. The actual Doomslug bookkeeping
// lives behind the consensus engine; this derives only the references a
// header must agree with.
func predictFinality(header, parent *types.Header) (lastFinal, lastDSFinal common.Hash) {
	if header.Height == parent.Height+1 {
		return parent.LastDSFinalBlock, parent.Hash()
	}
	return parent.LastFinalBlock, parent.LastDSFinalBlock
}

// hashValidatorSet hashes an ordered validator set, the value stored in
// NextBPHash at an epoch boundary.
func hashValidatorSet(set []types.ValidatorStake) common.Hash {
	data, err := rlp.EncodeToBytes(set)
	if err != nil {
		log.Crit("Failed to RLP encode validator set", "err", err)
	}
	return crypto.Keccak256Hash(data)
}

// ValidateBody checks the chunk mask against the body and the block-level
// rules: chunk height consistency, gas price bounds and adjustment.
// Signature and VRF checks belong to ValidateHeader.
func (v *Validator) ValidateBody(block *types.Block, prevGasPrice *types.Header) error {
	header := block.Header
	body := block.Body

	if len(header.ChunkMask) != len(body.ChunkHeaders) {
		return newErr(KindValidation, ErrIncorrectNumberOfChunkHeaders)
	}
	for i, ch := range body.ChunkHeaders {
		wantNew := header.ChunkMask[i]
		if wantNew != ch.IsNewAt(header.Height) {
			return newErr(KindValidation, ErrInvalidChunkMask)
		}
		if ch.HeightIncluded > header.Height {
			return newErr(KindValidation, ErrInvalidChunk)
		}
	}

	if !v.config.GasPriceInRange(header.GasPrice) {
		return newErr(KindValidation, ErrInvalidGasPrice)
	}
	if prevGasPrice != nil && !v.config.GasPriceAdjustedFrom(prevGasPrice.GasPrice, header.GasPrice) {
		return newErr(KindValidation, ErrInvalidGasPrice)
	}
	return nil
}

// ValidateChunkTransactionsOrder checks that a chunk body's transactions
// follow the canonical order, ascending hash of the raw transaction
// bytes. Transactions are opaque to the chain core, so the order is
// defined over their hashes rather than any decoded field.
func (v *Validator) ValidateChunkTransactionsOrder(chunk *types.Chunk) error {
	var prev common.Hash
	for i, tx := range chunk.Transactions {
		h := crypto.Keccak256Hash(tx.Raw)
		if i > 0 && bytes.Compare(h.Bytes(), prev.Bytes()) < 0 {
			return newErr(KindValidation, ErrInvalidTransactions)
		}
		prev = h
	}
	return nil
}

// ValidateChunkSignatures verifies each new chunk header's signature,
// except genesis-reissued chunks which must instead match their genesis
// counterpart bit-for-bit.
func (v *Validator) ValidateChunkSignatures(epoch common.Hash, block *types.Block, genesisChunks map[types.ShardID]*types.ChunkHeader) error {
	for _, ch := range block.NewChunks() {
		if genesisChunks != nil {
			if g, ok := genesisChunks[ch.ShardID]; ok {
				if ch.Hash() != g.Hash() {
					return newErr(KindValidation, ErrInvalidChunk)
				}
				continue
			}
		}
		ok, err := v.adapter.VerifyChunkHeaderSignature(ch, epoch)
		if err != nil {
			return newErrf(KindOperational, "verify chunk signature: %w", err)
		}
		if !ok {
			return newErr(KindValidation, ErrInvalidChunk)
		}
	}
	return nil
}
