package core

import "github.com/ethereum/go-ethereum/metrics"

// Registered metrics for the chain-update/head-advance path, following
// go-ethereum's naming and registration style: one gauge/timer/meter per
// concern, registered once at package init rather than per-call, and held
// by reference so a null metrics.Registry can be swapped in for tests.
var (
	headBlockGauge      = metrics.NewRegisteredGauge("chain/head/block", nil)
	headHeaderGauge     = metrics.NewRegisteredGauge("chain/head/header", nil)
	headFinalGauge      = metrics.NewRegisteredGauge("chain/head/final", nil)

	blockProcessTimer   = metrics.NewRegisteredTimer("chain/block/process", nil)
	blockReorgMeter     = metrics.NewRegisteredMeter("chain/block/reorg", nil)
	blockKnownMeter      = metrics.NewRegisteredMeter("chain/block/known", nil)

	chunkApplyTimer     = metrics.NewRegisteredTimer("chain/chunk/apply", nil)
	chunkContinuationMeter = metrics.NewRegisteredMeter("chain/chunk/continuation", nil)

	gcForksMeter        = metrics.NewRegisteredMeter("chain/gc/forks", nil)
	gcCanonicalMeter    = metrics.NewRegisteredMeter("chain/gc/canonical", nil)

	stateSyncPartsMeter = metrics.NewRegisteredMeter("chain/statesync/parts", nil)
)
