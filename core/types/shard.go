package types

import "fmt"

// ShardID is the ephemeral per-epoch identifier of a shard: a plain ordinal
// in [0, num_shards(epoch)). It is only meaningful together with the epoch
// it was looked up in.
type ShardID uint64

// ShardUId pairs a ShardID with the shard-layout version in effect when it
// was assigned. Every persistent key that must survive a resharding boundary
// (chunk extras, trie roots, trie changes) is keyed by ShardUId rather than
// by bare ShardID: shard ids are not stable across resharding, and
// conflating the two corrupts every shard-scoped column at the first
// layout change.
type ShardUId struct {
	Version uint32
	ShardID ShardID
}

func (s ShardUId) String() string {
	return fmt.Sprintf("s%d.v%d", s.ShardID, s.Version)
}

// Bytes returns the 12-byte big-endian encoding (4-byte version, 8-byte
// shard id) used as a key-prefix component in core/rawdb.
func (s ShardUId) Bytes() []byte {
	b := make([]byte, 12)
	b[0] = byte(s.Version >> 24)
	b[1] = byte(s.Version >> 16)
	b[2] = byte(s.Version >> 8)
	b[3] = byte(s.Version)
	for i := 0; i < 8; i++ {
		b[4+i] = byte(s.ShardID >> (8 * (7 - i)))
	}
	return b
}
