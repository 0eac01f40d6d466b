package types

import "github.com/ethereum/go-ethereum/common"

// MerklePath is an authentication path: sibling hashes from leaf to root,
// shared by RootProof, ReceiptProof and the block-merkle proofs in
// core/merkle.go.
type MerklePath []MerklePathItem

// MerklePathItem is one step of a merkle authentication path: the sibling
// hash and which side it sits on.
type MerklePathItem struct {
	Hash      common.Hash
	OnRight   bool
}

// RootProof proves a chunk's outgoing-receipts root is included under its
// block's receipts-root.
type RootProof struct {
	BlockHash           common.Hash
	ChunkOutgoingRoot   common.Hash
	Proof               MerklePath
}

// ReceiptProof is a cross-shard receipt plus its inclusion proof against
// the producing chunk's outgoing-receipts root.
type ReceiptProof struct {
	FromShard ShardID
	Receipts  []OutgoingReceipt
	Proof     MerklePath
	RootProof RootProof
}
