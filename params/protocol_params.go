package params

import (
	"math"
	"time"
)

// Admission and pool bounds.
const (
	MaxOrphanSize           = 1024          // capacity of the orphan pool
	MaxOrphanAgeSecs        = 300           // orphans older than this are evicted first
	NumOrphanAncestorsCheck = 3             // depth of ancestor reachability check before requesting chunks for an orphan
	MaxOrphanMissingChunks  = 5             // outstanding chunk requests across all orphans
	OrphanDescendantsSafety = 100           // multiplier: descendants_within_depth(anchor, d) is anomalous past 100*d results
)

// Block/epoch horizons.
const (
	TxRoutingHeightHorizon    = 4    // heights ahead of head a transaction may be routed
	NumEpochsToKeepStoreData  = 5    // epochs of history retained before GC may remove them
	GCForkCleanStep           = 1000 // heights walked per forks-clearing pass
	HeightHorizonEpochs       = 20   // reject blocks more than HeightHorizonEpochs*epoch_length ahead of head
)

// DefaultBlockTime is the nominal spacing between blocks, used to derive the
// production time-skew tolerance (12 * block_time).
const DefaultBlockTime = time.Second

// DefaultAcceptableTimeDifference is the production bound on how far into the
// future a header's timestamp may be.
const DefaultAcceptableTimeDifference = 12 * DefaultBlockTime

// SandboxAcceptableTimeDifference stands in for "effectively unlimited" in
// sandbox mode; the gate lives in configuration
// (ChainConfig.TimeSkewTolerance) rather than behind a build tag.
const SandboxAcceptableTimeDifference = time.Duration(math.MaxInt64)
