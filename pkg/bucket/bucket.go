// Package bucket maps chain coordinates to fixed-width scheduling buckets.
package bucket

import "github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/models"

const (
	// BlockWidth is the number of blocks covered by one block bucket
	BlockWidth uint64 = 240
	// TimestampWidth is the number of seconds covered by one timestamp bucket
	TimestampWidth uint64 = 3600
)

// Bucket identifies a fixed-width slice of block or timestamp space
type Bucket uint64

// Pair holds the bucket of a coordinate in both spaces
type Pair struct {
	Block     Bucket
	Timestamp Bucket
}

// ForBlock returns the bucket containing a block number
func ForBlock(block uint64) Bucket {
	return Bucket(block / BlockWidth)
}

// ForTimestamp returns the bucket containing a unix timestamp
func ForTimestamp(ts uint64) Bucket {
	return Bucket(ts / TimestampWidth)
}

// Width returns the bucket width of a temporal unit
func Width(unit models.TemporalUnit) uint64 {
	if unit == models.UnitTimestamp {
		return TimestampWidth
	}
	return BlockWidth
}

// For returns the bucket of a coordinate expressed in the given unit
func For(unit models.TemporalUnit, coordinate uint64) Bucket {
	if unit == models.UnitTimestamp {
		return ForTimestamp(coordinate)
	}
	return ForBlock(coordinate)
}

// Get returns the member of the pair matching the unit
func (p Pair) Get(unit models.TemporalUnit) Bucket {
	if unit == models.UnitTimestamp {
		return p.Timestamp
	}
	return p.Block
}

// PairFor returns the buckets of a chain head
func PairFor(head models.Head) Pair {
	return Pair{
		Block:     ForBlock(head.Block),
		Timestamp: ForTimestamp(head.Timestamp),
	}
}

// Compute returns the current and next bucket pairs for a chain head.
// Next is the bucket of head+width, computed independently in each space.
func Compute(head models.Head) (current Pair, next Pair) {
	current = PairFor(head)
	next = PairFor(models.Head{
		Block:     head.Block + BlockWidth,
		Timestamp: head.Timestamp + TimestampWidth,
	})
	return current, next
}

// Window is the pair of bucket pairs the cache considers actionable
type Window struct {
	Current Pair
	Next    Pair
}

// WindowFor computes the actionable window of a chain head
func WindowFor(head models.Head) Window {
	current, next := Compute(head)
	return Window{Current: current, Next: next}
}

// Advance moves the window to a new head and reports whether a bucket
// boundary was crossed in either space. Promoting Next to Current after one
// full width yields the same window as recomputing from the head.
func (w Window) Advance(head models.Head) (Window, bool) {
	fresh := WindowFor(head)
	return fresh, fresh.Current != w.Current
}
