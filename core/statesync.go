package core

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	"github.com/shardnode/shardnode/core/rawdb"
	"github.com/shardnode/shardnode/core/types"
	"github.com/shardnode/shardnode/runtime"
)

// StateSync serves and verifies bulk state transfer at epoch boundaries:
// building response headers and parts, verifying received headers, and
// finalizing by replay. It holds no state of its own beyond the Chain it
// reads and writes through, the same stateless-service-over-a-shared-store
// shape core/gc.go and core/catchup.go use.
type StateSync struct {
	chain *Chain
}

// NewStateSync builds a StateSync driver over chain.
func NewStateSync(chain *Chain) *StateSync {
	return &StateSync{chain: chain}
}

// GetStateResponseHeader implements get_state_response_header(shard,
// sync_hash). sync_hash must name the first block of
// an epoch; the response is cached by (shard, sync_hash) so repeat
// requests for the same sync point are free.
func (s *StateSync) GetStateResponseHeader(shard types.ShardID, syncHash common.Hash) (*types.StateSyncHeader, error) {
	c := s.chain

	if cached := rawdb.ReadStateSyncHeader(c.access.DB(), shard, syncHash); cached != nil {
		return cached, nil
	}

	syncHeader := c.access.GetHeaderByHash(syncHash)
	if syncHeader == nil {
		return nil, newErr(KindOperational, ErrInvalidStateRequest)
	}
	isEpochStart, err := c.adapter.IsNextBlockEpochStart(syncHeader.ParentHash)
	if err != nil {
		return nil, newErrf(KindOperational, "is next block epoch start: %w", err)
	}
	if !isEpochStart {
		return nil, newErr(KindValidation, ErrInvalidStateRequest)
	}

	prevOfSync := c.access.GetHeaderByHash(syncHeader.ParentHash)
	if prevOfSync == nil {
		return nil, newErrf(KindOperational, "prev-of-sync header %s not found", syncHeader.ParentHash)
	}
	block := c.access.GetBlockByHash(prevOfSync.Hash())
	if block == nil {
		return nil, newErrf(KindOperational, "prev-of-sync block %s not found", prevOfSync.Hash())
	}

	uid, err := c.adapter.ShardIDToUId(shard, prevOfSync.EpochID)
	if err != nil {
		return nil, newErrf(KindOperational, "shard id to uid: %w", err)
	}
	chunk, chunkProof, err := s.findChunkWithProof(block, uid.ShardID)
	if err != nil {
		return nil, err
	}

	var prevChunk *types.ChunkHeader
	var prevChunkProof types.MerklePath
	if chunk.HeightIncluded > 0 {
		priorBlock := c.access.GetHeader(prevOfSync.ParentHash, safeSub(prevOfSync.Height, 1))
		if priorBlock == nil {
			return nil, newErrf(KindOperational, "prior block for chunk chain not found")
		}
		priorFull := c.access.GetBlockByHash(priorBlock.Hash())
		if priorFull != nil {
			prevChunk, prevChunkProof, err = s.findChunkWithProof(priorFull, uid.ShardID)
			if err != nil {
				return nil, err
			}
		}
	}

	proofs, err := s.receiptProofChain(chunk, block, uid.ShardID)
	if err != nil {
		return nil, err
	}

	extra := c.access.GetChunkExtra(block.Hash(), uid)
	if extra == nil {
		return nil, newErrf(KindOperational, "missing chunk extra for %s at %s", uid, block.Hash())
	}
	rootNode, err := c.adapter.GetStateRootNode(shard, extra.StateRoot)
	if err != nil {
		return nil, newErrf(KindOperational, "get state root node: %w", err)
	}

	header := &types.StateSyncHeader{
		Shard:                 shard,
		Chunk:                 chunk,
		ChunkProof:            chunkProof,
		PrevChunk:             prevChunk,
		PrevChunkProof:        prevChunkProof,
		IncomingReceiptProofs: proofs,
		StateRootNode:         rootNode,
	}

	update := NewUpdate(c.access)
	update.SaveStateSyncHeader(shard, syncHash, header)
	if err := update.Commit(); err != nil {
		log.Error("Failed to cache state sync header", "err", err)
	}
	return header, nil
}

// findChunkWithProof locates shard's chunk header in block's body and
// builds its inclusion proof under the block's chunk-headers-root.
func (s *StateSync) findChunkWithProof(block *types.Block, shard types.ShardID) (*types.ChunkHeader, types.MerklePath, error) {
	for i, ch := range block.Body.ChunkHeaders {
		if ch.ShardID == shard {
			return ch, chunkHeaderProof(block.Body.ChunkHeaders, i), nil
		}
	}
	return nil, nil, newErrf(KindOperational, "shard %d chunk not found in block %s", shard, block.Hash())
}

// receiptProofChain builds one RootProof per included chunk from
// chunk.HeightIncluded up to block, proving no outgoing receipt was
// omitted.
func (s *StateSync) receiptProofChain(chunk *types.ChunkHeader, block *types.Block, shard types.ShardID) ([]types.ReceiptProof, error) {
	c := s.chain
	var proofs []types.ReceiptProof

	hash, height := block.Hash(), block.Height()
	for height >= chunk.HeightIncluded {
		b := c.access.GetBlock(hash, height)
		if b == nil {
			break
		}
		for i, ch := range b.Body.ChunkHeaders {
			if !ch.IsNewAt(height) {
				continue
			}
			fullChunk := c.access.GetChunk(ch.Hash())
			if fullChunk == nil {
				continue
			}
			proofs = append(proofs, types.ReceiptProof{
				FromShard: ch.ShardID,
				Receipts:  fullChunk.Receipts,
				Proof:     nil,
				RootProof: types.RootProof{
					BlockHash:         hash,
					ChunkOutgoingRoot: ch.OutgoingReceiptsRoot,
					Proof:             chunkHeaderProof(b.Body.ChunkHeaders, i),
				},
			})
		}
		if height == 0 {
			break
		}
		header := c.access.GetHeader(hash, height)
		if header == nil {
			break
		}
		hash, height = header.ParentHash, height-1
	}
	return proofs, nil
}

// chunkHeaderProof builds a small merkle path over a block's own chunk
// headers list (distinct from core/merkle.go's cross-block forest), used
// to prove one chunk header's membership under the block's
// chunk-headers-root.
func chunkHeaderProof(chunks []*types.ChunkHeader, index int) types.MerklePath {
	hashes := make([]*common.Hash, len(chunks))
	for i, ch := range chunks {
		h := ch.Hash()
		hashes[i] = &h
	}
	var path types.MerklePath
	idx := index
	for len(hashes) > 1 {
		var next []*common.Hash
		for i := 0; i < len(hashes); i += 2 {
			if i+1 < len(hashes) {
				if i == idx || i+1 == idx {
					if i == idx {
						path = append(path, types.MerklePathItem{Hash: *hashes[i+1], OnRight: true})
					} else {
						path = append(path, types.MerklePathItem{Hash: *hashes[i], OnRight: false})
					}
				}
				next = append(next, combine(hashes[i], hashes[i+1]))
			} else {
				next = append(next, hashes[i])
			}
		}
		idx /= 2
		hashes = next
	}
	return path
}

// GetStateResponsePart implements get_state_response_part(shard, part_id,
// sync_hash).
func (s *StateSync) GetStateResponsePart(ctx context.Context, shard types.ShardID, partID uint64, syncHash common.Hash) ([]byte, error) {
	header, err := s.GetStateResponseHeader(shard, syncHash)
	if err != nil {
		return nil, err
	}
	numParts := types.NumStateParts(header.StateRootNode.MemoryUsage)
	if partID >= numParts {
		return nil, newErr(KindValidation, ErrInvalidStateRequest)
	}
	data, err := s.chain.adapter.ObtainStatePart(shard, syncHash, partID, numParts)
	if err != nil {
		return nil, newErrf(KindOperational, "obtain state part: %w", err)
	}
	stateSyncPartsMeter.Mark(1)
	return data, nil
}

// SetStateHeader verifies a state-sync header received from a peer before
// caching it: chunk proofs, prev-chunk linkage, the incoming-receipt
// chain, and the state-root-node descriptor.
func (s *StateSync) SetStateHeader(shard types.ShardID, syncHash common.Hash, header *types.StateSyncHeader) error {
	c := s.chain

	syncHeader := c.access.GetHeaderByHash(syncHash)
	if syncHeader == nil {
		return newErr(KindOperational, ErrInvalidStateRequest)
	}
	prevOfSync := c.access.GetHeaderByHash(syncHeader.ParentHash)
	if prevOfSync == nil {
		return newErrf(KindOperational, "prev-of-sync header %s not found", syncHeader.ParentHash)
	}
	block := c.access.GetBlockByHash(prevOfSync.Hash())
	if block == nil {
		return newErrf(KindOperational, "prev-of-sync block %s not found", prevOfSync.Hash())
	}

	// The chunk proof must recompute the named block's chunk-headers root,
	// which also pins height_included.
	leaf := header.Chunk.Hash()
	root := chunkHeadersRootFromProof(leaf, header.ChunkProof)
	if root != block.Header.ChunkHeadersRoot {
		return newErr(KindValidation, ErrInvalidChunk)
	}

	// Prev-chunk pair, or absence only legal at height_included==0.
	if header.PrevChunk == nil {
		if header.Chunk.HeightIncluded != 0 {
			return newErr(KindValidation, ErrInvalidStateRequest)
		}
	} else {
		priorHeader := c.access.GetHeader(block.Header.ParentHash, safeSub(header.Chunk.HeightIncluded, 1))
		if priorHeader == nil {
			return newErrf(KindOperational, "prior block for height %d not found", header.Chunk.HeightIncluded-1)
		}
		priorLeaf := header.PrevChunk.Hash()
		priorRoot := chunkHeadersRootFromProof(priorLeaf, header.PrevChunkProof)
		if priorRoot != priorHeader.ChunkHeadersRoot {
			return newErr(KindValidation, ErrInvalidChunk)
		}
	}

	// Steps 4+5: the incoming-receipt chain arrives as a flat list in
	// descending height order, one proof per new chunk; group it back by
	// block and check, per group, (a) pigeonhole completeness: exactly one
	// proof per chunk the block's mask says it included, with no repeated
	// from-shard inside a block; (b) contiguity: each group's block is the
	// parent of the previous group's (headers are available here because
	// header sync runs ahead of state sync); and (c) the receipt set's hash
	// verifying under its chunk's declared outgoing-receipts root.
	groups := groupReceiptProofsByBlock(header.IncomingReceiptProofs)
	var prevGroupParent common.Hash
	for gi, group := range groups {
		blockHash := group[0].RootProof.BlockHash
		if gi > 0 && blockHash != prevGroupParent {
			return newErr(KindValidation, ErrInvalidStateRequest)
		}
		hdr := c.access.GetHeaderByHash(blockHash)
		if hdr == nil {
			return newErrf(KindOperational, "receipt-chain block %s not found", blockHash)
		}
		prevGroupParent = hdr.ParentHash
		if len(group) != chunksIncluded(hdr.ChunkMask) {
			return newErr(KindValidation, ErrInvalidStateRequest)
		}
		seenShards := make(map[types.ShardID]struct{}, len(group))
		for _, proof := range group {
			if _, dup := seenShards[proof.FromShard]; dup {
				return newErr(KindValidation, ErrInvalidStateRequest)
			}
			seenShards[proof.FromShard] = struct{}{}
			if hashReceipts(proof.Receipts) != proof.RootProof.ChunkOutgoingRoot {
				return newErr(KindValidation, ErrInvalidStateRequest)
			}
		}
	}

	// state_root_node must be consistent with the chunk's prev state root.
	ok, err := c.adapter.ValidateStateRootNode(header.StateRootNode, header.Chunk.PrevStateRoot)
	if err != nil {
		return newErrf(KindOperational, "validate state root node: %w", err)
	}
	if !ok {
		return newErr(KindValidation, ErrInvalidStateRequest)
	}

	update := NewUpdate(c.access)
	update.SaveStateSyncHeader(shard, syncHash, header)
	return update.Commit()
}

// SetStateFinalize implements set_state_finalize:
// re-run the chunk at its height_included using the gathered receipts to
// produce the canonical ChunkExtra, then replay continuations forward to
// sync_hash - 1.
func (s *StateSync) SetStateFinalize(ctx context.Context, shard types.ShardID, syncHash common.Hash) error {
	c := s.chain

	header := rawdb.ReadStateSyncHeader(c.access.DB(), shard, syncHash)
	if header == nil {
		return newErrf(KindOperational, "no cached state sync header for shard %d at %s", shard, syncHash)
	}

	syncHeader := c.access.GetHeaderByHash(syncHash)
	if syncHeader == nil {
		return newErrf(KindOperational, "sync header %s not found", syncHash)
	}
	prevOfSync := c.access.GetHeaderByHash(syncHeader.ParentHash)
	if prevOfSync == nil {
		return newErrf(KindOperational, "prev-of-sync header %s not found", syncHeader.ParentHash)
	}
	uid, err := c.adapter.ShardIDToUId(shard, prevOfSync.EpochID)
	if err != nil {
		return newErrf(KindOperational, "shard id to uid: %w", err)
	}

	// Walk back from prevOfSync to the header carrying this shard's last
	// new chunk, collecting the continuation headers to replay forward
	// over afterward.
	includedHeader := prevOfSync
	var replay []*types.Header
	for includedHeader != nil && includedHeader.Height > header.Chunk.HeightIncluded {
		replay = append(replay, includedHeader)
		includedHeader = c.access.GetHeader(includedHeader.ParentHash, includedHeader.Height-1)
	}
	if includedHeader == nil {
		return newErrf(KindOperational, "chunk-included header at height %d not found", header.Chunk.HeightIncluded)
	}
	for i, j := 0, len(replay)-1; i < j; i, j = i+1, j-1 {
		replay[i], replay[j] = replay[j], replay[i]
	}

	result, err := c.adapter.ApplyTransactions(ctx, runtime.ApplyInput{
		Shard:               uid,
		PrevStateRoot:       header.Chunk.PrevStateRoot,
		PrevChunkHeightIncl: header.Chunk.HeightIncluded,
		IncomingReceipts:    header.IncomingReceiptProofs,
		GasPrice:            includedHeader.GasPrice.Uint64(),
		GasLimit:            header.Chunk.GasLimit,
		RandomValue:         includedHeader.RandomValue,
	})
	if err != nil {
		return newErrf(KindOperational, "finalize chunk application: %w", err)
	}
	outcomeRoot, _ := outcomeMerkle(result.Outcomes)
	extra := &types.ChunkExtra{
		StateRoot:          result.NewRoot,
		OutcomeRoot:        outcomeRoot,
		ValidatorProposals: result.ValidatorProposals,
		GasLimit:           header.Chunk.GasLimit,
		GasUsed:            result.TotalGasBurnt,
		BalanceBurnt:       new(big.Int).SetUint64(result.TotalBalanceBurnt),
	}

	update := NewUpdate(c.access)
	update.SaveChunkExtra(includedHeader.Hash(), uid, extra)

	// Replay forward through every height without a new chunk for this
	// shard, applying an empty chunk so the state root keeps chaining.
	curExtra := extra
	for _, h := range replay {
		emptyResult, err := c.adapter.ApplyTransactions(ctx, runtime.ApplyInput{
			Shard:         uid,
			PrevStateRoot: curExtra.StateRoot,
		})
		if err != nil {
			return newErrf(KindOperational, "replay continuation: %w", err)
		}
		curExtra = curExtra.Clone()
		curExtra.StateRoot = emptyResult.NewRoot
		update.SaveChunkExtra(h.Hash(), uid, curExtra)
	}

	return update.Commit()
}

// ResetDataPreStateSync wipes local history ahead of a state sync: GC
// every block in [tail, min(head+1, sync_height)), clear chunks up to
// min(head+2, sync_height), and reset the tail. The "+2" margin is
// intentional slack so a continuation chunk one height past the new sync
// point is never clipped mid-replay; do not tighten it to "+1".
func (s *StateSync) ResetDataPreStateSync(syncHeight uint64) error {
	c := s.chain
	c.chainmu.Lock()
	defer c.chainmu.Unlock()

	headHeight := c.HeadTip().Height
	gcStop := min64(headHeight+1, syncHeight)
	chunkStop := min64(headHeight+2, syncHeight)

	update := NewUpdate(c.access)
	tail := c.access.Tail()
	for h := tail; h < gcStop; h++ {
		hash := c.access.GetCanonicalHash(h)
		if hash == (common.Hash{}) {
			continue
		}
		rawdb.DeleteHeader(c.access.DB(), hash, h)
		rawdb.DeleteBody(c.access.DB(), hash, h)
		rawdb.DeleteHeightProcessed(c.access.DB(), hash)
	}
	for h := tail; h < chunkStop; h++ {
		hash := c.access.GetCanonicalHash(h)
		if hash == (common.Hash{}) {
			continue
		}
		if b := c.access.GetBlockByHash(hash); b != nil {
			for _, ch := range b.Body.ChunkHeaders {
				if ch.IsNewAt(h) {
					rawdb.DeleteChunk(c.access.DB(), ch.Hash())
				}
			}
		}
	}
	update.SetTail(gcStop)
	if err := update.Commit(); err != nil {
		return newErrf(KindOperational, "commit pre-state-sync reset: %w", err)
	}
	return nil
}

// groupReceiptProofsByBlock splits a flat proof chain into runs sharing a
// block hash, preserving the descending-height order receiptProofChain
// produced them in.
func groupReceiptProofsByBlock(proofs []types.ReceiptProof) [][]types.ReceiptProof {
	var groups [][]types.ReceiptProof
	for _, proof := range proofs {
		n := len(groups)
		if n > 0 && groups[n-1][0].RootProof.BlockHash == proof.RootProof.BlockHash {
			groups[n-1] = append(groups[n-1], proof)
			continue
		}
		groups = append(groups, []types.ReceiptProof{proof})
	}
	return groups
}

func chunksIncluded(mask []bool) int {
	n := 0
	for _, newChunk := range mask {
		if newChunk {
			n++
		}
	}
	return n
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func hashReceipts(receipts []types.OutgoingReceipt) common.Hash {
	data := make([]byte, 0)
	for _, r := range receipts {
		data = append(data, r.Raw...)
	}
	return crypto.Keccak256Hash(data)
}

// chunkHeadersRootFromProof recomputes the root implied by a leaf and its
// authentication path, reusing core/merkle.go's combine rule.
func chunkHeadersRootFromProof(leaf common.Hash, path types.MerklePath) common.Hash {
	h := &leaf
	for _, item := range path {
		sib := item.Hash
		if item.OnRight {
			h = combine(h, &sib)
		} else {
			h = combine(&sib, h)
		}
	}
	if h == nil {
		return common.Hash{}
	}
	return *h
}
