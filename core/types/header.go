package types

import (
	"io"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

// Header is a block header: height, previous block hash, epoch id,
// next-epoch id, last-final block reference, approvals, validator
// proposals, chunk-mask, three roots, randomness, gas price, timestamp,
// signature. The RLP methods are hand-written rather than
// gencodec-generated since the field set is domain-specific.
type Header struct {
	ParentHash common.Hash `json:"parentHash" gencodec:"required"`
	Height     uint64      `json:"height"     gencodec:"required"`

	EpochID     common.Hash `json:"epochId"     gencodec:"required"`
	NextEpochID common.Hash `json:"nextEpochId" gencodec:"required"`

	LastFinalBlock   common.Hash `json:"lastFinalBlock"`
	LastDSFinalBlock common.Hash `json:"lastDsFinalBlock"`

	NextBPHash common.Hash `json:"nextBpHash" gencodec:"required"`

	ChunkHeadersRoot common.Hash `json:"chunkHeadersRoot" gencodec:"required"`
	ChunkReceiptsRoot common.Hash `json:"chunkReceiptsRoot" gencodec:"required"`
	BlockMerkleRoot  common.Hash `json:"blockMerkleRoot"  gencodec:"required"`

	ChunkMask []bool `json:"chunkMask" gencodec:"required"`

	ValidatorProposals []ValidatorStake `json:"validatorProposals"`
	Approvals          [][]byte         `json:"approvals"`

	RandomValue common.Hash `json:"randomValue"`
	VRFProof    []byte      `json:"vrfProof"`

	GasPrice *big.Int `json:"gasPrice" gencodec:"required"`

	Timestamp uint64 `json:"timestamp" gencodec:"required"`

	Signature []byte `json:"signature"`

	// hash caches the block hash so repeated Hash() calls are cheap.
	hash atomic.Pointer[common.Hash]
}

// rlpHeader is the on-wire/on-disk representation; it excludes the cached
// hash field, which is derived rather than stored.
type rlpHeader struct {
	ParentHash         common.Hash
	Height             uint64
	EpochID            common.Hash
	NextEpochID        common.Hash
	LastFinalBlock     common.Hash
	LastDSFinalBlock   common.Hash
	NextBPHash         common.Hash
	ChunkHeadersRoot   common.Hash
	ChunkReceiptsRoot  common.Hash
	BlockMerkleRoot    common.Hash
	ChunkMask          []bool
	ValidatorProposals []ValidatorStake
	Approvals          [][]byte
	RandomValue        common.Hash
	VRFProof           []byte
	GasPrice           *big.Int
	Timestamp          uint64
	Signature          []byte
}

func (h *Header) toRLP() *rlpHeader {
	return &rlpHeader{
		ParentHash: h.ParentHash, Height: h.Height,
		EpochID: h.EpochID, NextEpochID: h.NextEpochID,
		LastFinalBlock: h.LastFinalBlock, LastDSFinalBlock: h.LastDSFinalBlock,
		NextBPHash:        h.NextBPHash,
		ChunkHeadersRoot:  h.ChunkHeadersRoot,
		ChunkReceiptsRoot: h.ChunkReceiptsRoot,
		BlockMerkleRoot:   h.BlockMerkleRoot,
		ChunkMask:         h.ChunkMask, ValidatorProposals: h.ValidatorProposals,
		Approvals: h.Approvals, RandomValue: h.RandomValue, VRFProof: h.VRFProof,
		GasPrice: h.GasPrice, Timestamp: h.Timestamp, Signature: h.Signature,
	}
}

// EncodeRLP implements rlp.Encoder.
func (h *Header) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, h.toRLP())
}

// DecodeRLP implements rlp.Decoder.
func (h *Header) DecodeRLP(s *rlp.Stream) error {
	var dec rlpHeader
	if err := s.Decode(&dec); err != nil {
		return err
	}
	h.ParentHash, h.Height = dec.ParentHash, dec.Height
	h.EpochID, h.NextEpochID = dec.EpochID, dec.NextEpochID
	h.LastFinalBlock, h.LastDSFinalBlock = dec.LastFinalBlock, dec.LastDSFinalBlock
	h.NextBPHash = dec.NextBPHash
	h.ChunkHeadersRoot, h.ChunkReceiptsRoot, h.BlockMerkleRoot = dec.ChunkHeadersRoot, dec.ChunkReceiptsRoot, dec.BlockMerkleRoot
	h.ChunkMask, h.ValidatorProposals, h.Approvals = dec.ChunkMask, dec.ValidatorProposals, dec.Approvals
	h.RandomValue, h.VRFProof = dec.RandomValue, dec.VRFProof
	h.GasPrice, h.Timestamp, h.Signature = dec.GasPrice, dec.Timestamp, dec.Signature
	return nil
}

// Hash returns the RLP hash of the header, computed once and cached.
func (h *Header) Hash() common.Hash {
	if cached := h.hash.Load(); cached != nil {
		return *cached
	}
	hash := rlpHash(h.toRLP())
	h.hash.Store(&hash)
	return hash
}

// Time returns the header's timestamp as a time.Time for comparisons against
// the time-skew tolerance.
func (h *Header) Time() time.Time {
	return time.Unix(0, int64(h.Timestamp))
}

// NumShards returns the chunk-mask length, the number of shards active in
// this header's epoch.
func (h *Header) NumShards() int {
	return len(h.ChunkMask)
}
