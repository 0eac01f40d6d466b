// Package service is the lifecycle host that wires core.Chain into a
// node.Node: it owns the chain database handle and registers itself as a
// node.Lifecycle, but delegates every block-ingestion decision to
// core.Chain.
package service

import (
	"github.com/shardnode/shardnode/core"
	"github.com/shardnode/shardnode/params"
)

// Config bundles the knobs cmd/shardnode exposes as flags/TOML fields.
// There is no remote RPC endpoint to dial: the store is embedded.
type Config struct {
	Genesis *core.Genesis

	ChainConfig *params.ChainConfig

	DatabaseCache   int
	DatabaseHandles int

	// Workers bounds the ChunkApplier worker pool.
	Workers int

	// GCBlocksLimit bounds how much GC work runs per opportunistic pass
	// after a head advance.
	GCBlocksLimit int

	// Archive disables canonical-chain pruning in GC, keeping only the
	// "redundant chunk data" clearing path.
	Archive bool

	// ChallengeFilter is an optional go-bexpr expression over challenge
	// fields (currently `kind`) restricting which produced challenges get
	// logged; empty logs all of them.
	ChallengeFilter string
}

// DefaultConfig is the zero-configuration fallback;
// cmd/shardnode/config.go merges file and flag values on top of it.
var DefaultConfig = Config{
	ChainConfig:     params.MainnetChainConfig,
	DatabaseCache:   512,
	DatabaseHandles: 256,
	Workers:         0,
	GCBlocksLimit:   1000,
}
