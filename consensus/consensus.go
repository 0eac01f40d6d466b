// Package consensus defines the small capability interfaces the block
// ingestion core needs from the consensus layer: a header-reading view of
// the chain plus an Engine that can verify headers and approvals. Block
// production and Doomslug timing themselves live elsewhere; only the
// verification surface the Validator calls into is defined here.
package consensus

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/shardnode/shardnode/core/types"
	"github.com/shardnode/shardnode/params"
)

// ChainHeaderReader is the read-only header view the Engine and Validator
// need during verification.
type ChainHeaderReader interface {
	Config() *params.ChainConfig
	CurrentHeader() *types.Header
	GetHeader(hash common.Hash, number uint64) *types.Header
	GetHeaderByNumber(number uint64) *types.Header
	GetHeaderByHash(hash common.Hash) *types.Header
}

// Engine is the consensus-verification capability set: signature/approval
// verification and producer-set derivation, consumed by core/validator.go.
// It deliberately excludes block production and Doomslug approval timing.
type Engine interface {
	// VerifyHeader checks header-level consensus rules not already covered
	// by the Validator's own structural checks: signature, producer
	// identity, VRF output.
	VerifyHeader(chain ChainHeaderReader, header *types.Header) error

	// VerifyHeaders verifies a batch concurrently; returns a quit channel
	// to abort and a results channel in input order.
	VerifyHeaders(chain ChainHeaderReader, headers []*types.Header) (chan<- struct{}, <-chan error)

	// VerifyApprovals checks that aggregated approvals meet the Doomslug
	// threshold for (epoch, height) without re-deriving the threshold
	// itself.
	VerifyApprovals(chain ChainHeaderReader, header *types.Header) error

	// BlockProducer returns the account designated to produce the block at
	// (epoch, height), used by VerifyHeader and by challenge evidence.
	BlockProducer(epoch common.Hash, height uint64) (common.Hash, error)

	// ChunkProducer returns the account designated to produce shard's
	// chunk at (epoch, height).
	ChunkProducer(epoch common.Hash, height uint64, shard types.ShardID) (common.Hash, error)

	// APIs returns the RPC APIs this consensus engine provides.
	APIs(chain ChainHeaderReader) []rpc.API

	// Close terminates any background threads maintained by the engine.
	Close() error
}
