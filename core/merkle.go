package core

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	"github.com/shardnode/shardnode/core/rawdb"
	"github.com/shardnode/shardnode/core/types"
)

// MerkleIndex answers authentication-path queries against the growing
// ordinal-indexed block-hash merkle forest, reusing the same keccak
// hashing primitive the rest of core/types uses rather than introducing a
// second hash construction.
type MerkleIndex struct {
	access *ChainStoreAccess
}

// NewMerkleIndex builds a MerkleIndex reading through access.
func NewMerkleIndex(access *ChainStoreAccess) *MerkleIndex {
	return &MerkleIndex{access: access}
}

// AppendLeaf records the block hash at ordinal as the tree's newest leaf
// and eagerly persists every now-complete power-of-two subtree root it
// closes off, so later proofs favor cached subtree reads over
// recomputation.
func (m *MerkleIndex) AppendLeaf(update *ChainStoreUpdate, ordinal uint64, hash common.Hash) {
	update.SaveOrdinalHash(ordinal, hash)

	treeSize := ordinal + 1
	// The new leaf is still only buffered in update, so it is supplied as
	// an overlay rather than read back from the database.
	overlay := map[uint64]common.Hash{ordinal: hash}
	for level := uint8(1); ; level++ {
		span := uint64(1) << level
		if treeSize%span != 0 {
			break
		}
		index := treeSize/span - 1
		if root := m.nodeWithOverlay(level, index, treeSize, overlay); root != nil {
			update.SaveMerkleSubtree(level, index, *root)
		}
	}
}

// RewriteLeaves replaces the given (ordinal -> hash) leaves and re-saves
// every completed subtree root covering one of them, reading rewritten
// leaves from the overlay so stale persisted roots from a replaced branch
// cannot leak into later proofs. A single-entry overlay at the tree's edge
// degenerates to AppendLeaf; a reorg passes the whole diverged range.
func (m *MerkleIndex) RewriteLeaves(update *ChainStoreUpdate, leaves map[uint64]common.Hash, treeSize uint64) {
	for ordinal, hash := range leaves {
		update.SaveOrdinalHash(ordinal, hash)
	}
	for level := uint8(1); uint64(1)<<level <= treeSize; level++ {
		span := uint64(1) << level
		touched := make(map[uint64]struct{})
		for ordinal := range leaves {
			touched[ordinal/span] = struct{}{}
		}
		for index := range touched {
			if (index+1)*span > treeSize {
				continue // subtree not complete yet
			}
			if root := m.nodeWithOverlay(level, index, treeSize, leaves); root != nil {
				update.SaveMerkleSubtree(level, index, *root)
			}
		}
	}
}

// nodeWithOverlay resolves (level, index) like node, except subtrees that
// contain an overlaid leaf are recomputed from children instead of trusting
// the (now stale) persisted root.
func (m *MerkleIndex) nodeWithOverlay(level uint8, index, treeSize uint64, overlay map[uint64]common.Hash) *common.Hash {
	span := uint64(1) << level
	start := index * span
	if start >= treeSize {
		return nil
	}
	overlaid := false
	for ordinal := range overlay {
		if ordinal >= start && ordinal < start+span {
			overlaid = true
			break
		}
	}
	if !overlaid {
		return m.node(level, index, treeSize)
	}
	if level == 0 {
		h := overlay[index]
		return &h
	}
	left := m.nodeWithOverlay(level-1, index*2, treeSize, overlay)
	right := m.nodeWithOverlay(level-1, index*2+1, treeSize, overlay)
	return combine(left, right)
}

// RootAt returns the merkle root over the first treeSize leaves, the value
// stored as a header's BlockMerkleRoot once treeSize == header.Height (the
// tree excludes the block carrying the root itself).
func (m *MerkleIndex) RootAt(treeSize uint64) common.Hash {
	if treeSize == 0 {
		return common.Hash{}
	}
	root := m.node(treeDepth(treeSize), 0, treeSize)
	if root == nil {
		return common.Hash{}
	}
	return *root
}

// Proof builds the authentication path from ordinal up to the root at
// treeSize; the direction bit at each step follows whether the current
// index is even or odd.
func (m *MerkleIndex) Proof(ordinal, treeSize uint64) types.MerklePath {
	var path types.MerklePath
	idx := ordinal
	for level := uint8(0); level < treeDepth(treeSize); level++ {
		var siblingIdx uint64
		var onRight bool
		if idx%2 == 0 {
			siblingIdx, onRight = idx+1, true
		} else {
			siblingIdx, onRight = idx-1, false
		}
		if h := m.node(level, siblingIdx, treeSize); h != nil {
			path = append(path, types.MerklePathItem{Hash: *h, OnRight: onRight})
		}
		idx /= 2
	}
	return path
}

// VerifyPath recomputes the root implied by path starting from leaf and
// reports whether it matches root.
func VerifyPath(path types.MerklePath, leaf, root common.Hash) bool {
	h := leaf
	for _, item := range path {
		if item.OnRight {
			h = crypto.Keccak256Hash(h.Bytes(), item.Hash.Bytes())
		} else {
			h = crypto.Keccak256Hash(item.Hash.Bytes(), h.Bytes())
		}
	}
	return h == root
}

// node resolves the hash at (level, index) against a forest of treeSize
// leaves: a leaf read at level 0, otherwise the persisted subtree root when
// this node's span lies fully within treeSize, falling back to recursively
// combining its two children.
func (m *MerkleIndex) node(level uint8, index, treeSize uint64) *common.Hash {
	if level == 0 {
		return m.leaf(index, treeSize)
	}
	span := uint64(1) << level
	start := index * span
	if start >= treeSize {
		return nil
	}
	if start+span <= treeSize {
		if h, ok := rawdb.ReadMerkleSubtree(m.access.db, level, index); ok {
			return &h
		}
	}
	left := m.node(level-1, index*2, treeSize)
	right := m.node(level-1, index*2+1, treeSize)
	return combine(left, right)
}

func (m *MerkleIndex) leaf(ordinal, treeSize uint64) *common.Hash {
	if ordinal >= treeSize {
		return nil
	}
	h, ok := rawdb.ReadOrdinalHash(m.access.db, ordinal)
	if !ok {
		return nil
	}
	return &h
}

// combine merges two child hashes. The nil handling is asymmetric on
// purpose (a right-only child is an anomaly while a left-only child is a
// normal partial subtree) and historical chain data depends on exactly
// this shape, so do not "fix" it into a symmetric combinator.
func combine(l, r *common.Hash) *common.Hash {
	switch {
	case l != nil && r != nil:
		h := crypto.Keccak256Hash(l.Bytes(), r.Bytes())
		return &h
	case l != nil && r == nil:
		return l
	case l == nil && r != nil:
		log.Warn("merkle: combine(None, Some) invariant violated")
		return nil
	default:
		return nil
	}
}

// buildMerkle computes the root over a fixed leaf set together with one
// authentication path per leaf, using the same combine rule as the
// block-hash forest. Used for per-chunk outcome roots, where every leaf is
// known up front and every proof is wanted at once.
func buildMerkle(leaves []common.Hash) (common.Hash, []types.MerklePath) {
	if len(leaves) == 0 {
		return common.Hash{}, nil
	}
	paths := make([]types.MerklePath, len(leaves))
	level := make([]*common.Hash, len(leaves))
	for i := range leaves {
		h := leaves[i]
		level[i] = &h
	}
	idx := make([]int, len(leaves))
	for i := range idx {
		idx[i] = i
	}
	for len(level) > 1 {
		for leaf := range paths {
			i := idx[leaf]
			if i%2 == 0 {
				if i+1 < len(level) && level[i+1] != nil {
					paths[leaf] = append(paths[leaf], types.MerklePathItem{Hash: *level[i+1], OnRight: true})
				}
			} else {
				paths[leaf] = append(paths[leaf], types.MerklePathItem{Hash: *level[i-1], OnRight: false})
			}
			idx[leaf] = i / 2
		}
		var next []*common.Hash
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, combine(level[i], level[i+1]))
			} else {
				next = append(next, level[i])
			}
		}
		level = next
	}
	return *level[0], paths
}

// treeDepth returns the smallest d with 1<<d >= treeSize.
func treeDepth(treeSize uint64) uint8 {
	var d uint8
	for (uint64(1) << d) < treeSize {
		d++
	}
	return d
}
