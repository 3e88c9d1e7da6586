// Package cache keeps the scheduled requests known to the agent, indexed by
// the bucket in which each one first becomes actionable.
package cache

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/bucket"
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/lifecycle"
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/logger"
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/models"
)

const (
	// DefaultIntervalSpread is the share of a bucket width, in percent, ahead
	// of a request's next action coordinate during which it is re-read on chain
	DefaultIntervalSpread uint64 = 50
	// DefaultStaleThreshold is the number of consecutive failed lookups after
	// which a request is evicted
	DefaultStaleThreshold = 3
)

var (
	// ErrNotTracked is returned for addresses the cache does not hold
	ErrNotTracked = errors.New("request not tracked")
	// ErrRequestDone is returned when adding a request that is already settled
	ErrRequestDone = errors.New("request is done")
)

// Config holds the cache tunables
type Config struct {
	IntervalSpread uint64
	StaleThreshold int
}

type indexKey struct {
	unit   models.TemporalUnit
	bucket bucket.Bucket
}

type entry struct {
	mu         sync.Mutex
	record     models.TxRequest
	key        indexKey
	staleCount int
}

// RequestCache owns the set of tracked requests. The maps are guarded by mu;
// each record is guarded by its entry lock so updates to one record never
// block reads of another.
type RequestCache struct {
	mu      sync.RWMutex
	entries map[common.Address]*entry
	index   map[indexKey]map[common.Address]struct{}

	intervalSpread uint64
	staleThreshold int
	logger         logger.Logger
}

// New creates an empty request cache
func New(cfg Config, log logger.Logger) *RequestCache {
	if cfg.IntervalSpread == 0 || cfg.IntervalSpread > 100 {
		cfg.IntervalSpread = DefaultIntervalSpread
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = DefaultStaleThreshold
	}
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &RequestCache{
		entries:        make(map[common.Address]*entry),
		index:          make(map[indexKey]map[common.Address]struct{}),
		intervalSpread: cfg.IntervalSpread,
		staleThreshold: cfg.StaleThreshold,
		logger:         log,
	}
}

// keyFor returns the index key of a record: the bucket of its claim window start
func keyFor(r *models.TxRequest) indexKey {
	return indexKey{unit: r.Unit, bucket: bucket.For(r.Unit, r.ClaimWindowStart)}
}

// Add inserts a record or merges it into the tracked one with the same address.
// Invalid records are rejected and a record already Done is evicted instead.
func (c *RequestCache) Add(record models.TxRequest) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("rejecting request %s: %w", record.Address.Hex(), err)
	}
	if record.Status == models.Done {
		c.Remove(record.Address)
		return ErrRequestDone
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.entries[record.Address]
	if !exists {
		e = &entry{record: record.Clone(), key: keyFor(&record)}
		c.entries[record.Address] = e
		c.indexLocked(e.key, record.Address)
		c.logger.CacheWithRequest(record.Address, "stored in %s bucket %d", record.Unit, e.key.bucket)
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rescheduled := e.record.Unit != record.Unit || e.record.ClaimWindowStart != record.ClaimWindowStart
	e.record = merge(e.record, record)
	e.staleCount = 0
	if key := keyFor(&e.record); rescheduled && key != e.key {
		c.unindexLocked(e.key, record.Address)
		c.indexLocked(key, record.Address)
		c.logger.CacheWithRequest(record.Address, "moved to %s bucket %d", key.unit, key.bucket)
		e.key = key
	}
	return nil
}

// merge applies fresh scheduling data over a tracked record without losing
// state the agent observed locally. Monotonic fields only move forward.
func merge(old, fresh models.TxRequest) models.TxRequest {
	merged := fresh.Clone()

	if old.Status > merged.Status {
		merged.Status = old.Status
	}
	if old.Claimed && !merged.Claimed {
		merged.Claimed = true
		merged.ClaimedBy = old.ClaimedBy
	}
	merged.ClaimSubmitted = merged.ClaimSubmitted || old.ClaimSubmitted
	merged.ExecuteSubmitted = merged.ExecuteSubmitted || old.ExecuteSubmitted
	merged.WasCalled = merged.WasCalled || old.WasCalled
	merged.WasCancelled = merged.WasCancelled || old.WasCancelled
	return merged
}

// Update stores the status the scanner derived for a record. A Done record is
// evicted. Returns ErrNotTracked if the record was removed meanwhile.
func (c *RequestCache) Update(address common.Address, fn func(r *models.TxRequest)) error {
	c.mu.RLock()
	e, ok := c.entries[address]
	c.mu.RUnlock()
	if !ok {
		return ErrNotTracked
	}

	e.mu.Lock()
	fn(&e.record)
	done := e.record.Status == models.Done
	e.mu.Unlock()

	if done {
		c.Remove(address)
	}
	return nil
}

// Remove evicts a record. Removing an unknown address is a no-op.
func (c *RequestCache) Remove(address common.Address) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[address]
	if !ok {
		return false
	}
	delete(c.entries, address)
	c.unindexLocked(e.key, address)
	c.logger.CacheWithRequest(address, "evicted")
	return true
}

// MarkStale records that a request could not be resolved on chain. The record
// is evicted once the configured number of consecutive misses is reached.
func (c *RequestCache) MarkStale(address common.Address) (evicted bool) {
	c.mu.RLock()
	e, ok := c.entries[address]
	c.mu.RUnlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	e.staleCount++
	count := e.staleCount
	e.mu.Unlock()

	if count < c.staleThreshold {
		c.logger.CacheWithRequest(address, "not resolvable (%d/%d)", count, c.staleThreshold)
		return false
	}
	c.logger.CacheWithRequest(address, "stale after %d misses", count)
	return c.Remove(address)
}

// RequestsDueFor returns the addresses scheduled in the current or next bucket
// of the window, each compared in its own temporal unit. Buckets already left
// behind count as current so a live record is never skipped.
func (c *RequestCache) RequestsDueFor(w bucket.Window) []common.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var due []common.Address
	for key, addrs := range c.index {
		if key.bucket > w.Next.Get(key.unit) {
			continue
		}
		for addr := range addrs {
			due = append(due, addr)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].Cmp(due[j]) < 0
	})
	return due
}

// Promote folds every bucket below the window's current bucket into the
// current one and returns the number of records moved.
func (c *RequestCache) Promote(w bucket.Window) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	moved := 0
	for key, addrs := range c.index {
		current := w.Current.Get(key.unit)
		if key.bucket >= current {
			continue
		}
		target := indexKey{unit: key.unit, bucket: current}
		for addr := range addrs {
			c.indexLocked(target, addr)
			if e, ok := c.entries[addr]; ok {
				e.mu.Lock()
				e.key = target
				e.mu.Unlock()
			}
			moved++
		}
		delete(c.index, key)
	}
	if moved > 0 {
		c.logger.Cache("promoted %d requests to blocks bucket %d / timestamp bucket %d",
			moved, w.Current.Block, w.Current.Timestamp)
	}
	return moved
}

// NeedsRefresh reports whether a record should be re-read on chain before it
// is evaluated at head. Records in an actionable window are always refreshed;
// others only once head is within the interval spread of their next action.
func (c *RequestCache) NeedsRefresh(r *models.TxRequest, head models.Head) bool {
	status := lifecycle.Evaluate(r, head)
	if status == models.ClaimWindow || status == models.ExecutionWindow {
		return true
	}

	now := r.Now(head)
	target := lifecycle.ActionableAt(r, status)
	if now >= target {
		return true
	}
	spread := bucket.Width(r.Unit) * c.intervalSpread / 100
	return target-now <= spread
}

// Get returns a snapshot of a tracked record
func (c *RequestCache) Get(address common.Address) (models.TxRequest, bool) {
	c.mu.RLock()
	e, ok := c.entries[address]
	c.mu.RUnlock()
	if !ok {
		return models.TxRequest{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.record.Clone(), true
}

// Snapshot returns copies of all tracked records ordered by address
func (c *RequestCache) Snapshot() []models.TxRequest {
	c.mu.RLock()
	entries := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	c.mu.RUnlock()

	out := make([]models.TxRequest, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.record.Clone())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.Cmp(out[j].Address) < 0
	})
	return out
}

// Len returns the number of tracked records
func (c *RequestCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *RequestCache) indexLocked(key indexKey, address common.Address) {
	addrs, ok := c.index[key]
	if !ok {
		addrs = make(map[common.Address]struct{})
		c.index[key] = addrs
	}
	addrs[address] = struct{}{}
}

func (c *RequestCache) unindexLocked(key indexKey, address common.Address) {
	addrs, ok := c.index[key]
	if !ok {
		return
	}
	delete(addrs, address)
	if len(addrs) == 0 {
		delete(c.index, key)
	}
}
