package core

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/shardnode/shardnode/core/types"
)

// Callbacks are caller-provided sinks for out-of-band notifications: a
// plain struct of typed function fields rather than an interface with one
// method per sink. Callers assemble exactly the handlers they want, a nil
// field is simply not invoked, and cancellation stays explicit because the
// caller's own closures own their context.
type Callbacks struct {
	// OnBlockAccepted fires once the committing transaction has succeeded.
	OnBlockAccepted func(hash common.Hash, status types.BlockStatus, provenance types.Provenance)

	// OnBlockMissesChunks fires when a block is parked in MissingChunksPool.
	OnBlockMissesChunks func(prevHash common.Hash, missing []common.Hash, blockHash common.Hash)

	// OnOrphanMissesChunks fires when an orphan's chunks are requested,
	// subject to the pool's outstanding-request cap.
	OnOrphanMissesChunks func(missing []common.Hash, epochID common.Hash, ancestorHash, requestorHash common.Hash)

	// OnChallenge fires whenever the Validator produces challenge evidence.
	OnChallenge func(challenge *types.Challenge)
}

func (c *Callbacks) blockAccepted(hash common.Hash, status types.BlockStatus, provenance types.Provenance) {
	if c != nil && c.OnBlockAccepted != nil {
		c.OnBlockAccepted(hash, status, provenance)
	}
}

func (c *Callbacks) blockMissesChunks(prevHash common.Hash, missing []common.Hash, blockHash common.Hash) {
	if c != nil && c.OnBlockMissesChunks != nil {
		c.OnBlockMissesChunks(prevHash, missing, blockHash)
	}
}

func (c *Callbacks) orphanMissesChunks(missing []common.Hash, epochID common.Hash, ancestorHash, requestorHash common.Hash) {
	if c != nil && c.OnOrphanMissesChunks != nil {
		c.OnOrphanMissesChunks(missing, epochID, ancestorHash, requestorHash)
	}
}

func (c *Callbacks) challenge(ch *types.Challenge) {
	if c != nil && c.OnChallenge != nil {
		c.OnChallenge(ch)
	}
}
