package types

import "time"

// Orphan holds a Block whose parent is not (yet) in store, plus its
// provenance and arrival instant, used for the age-based eviction policy in
// the orphan pool.
type Orphan struct {
	Block      *Block
	Provenance Provenance
	Added      time.Time

	// RequestedChunks is set once a chunk request has been sent for this
	// orphan, enforcing the pool's outstanding-request cap.
	RequestedChunks bool
}

// Age reports how long ago the orphan arrived, relative to now.
func (o *Orphan) Age(now time.Time) time.Duration {
	return now.Sub(o.Added)
}
