package cache

import (
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/bucket"
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/models"
)

var (
	requestA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	requestB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	claimer  = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

func blockRequest(addr common.Address, claimStart uint64) models.TxRequest {
	return models.TxRequest{
		Address:              addr,
		Unit:                 models.UnitBlocks,
		ClaimWindowStart:     claimStart,
		FreezeStart:          claimStart + 100,
		ExecutionWindowStart: claimStart + 120,
		ExecutionWindowEnd:   claimStart + 200,
		ReservedWindowEnd:    claimStart + 136,
		Bounty:               big.NewInt(1e15),
		RequiredDeposit:      big.NewInt(1e16),
		GasPrice:             big.NewInt(20e9),
		CallGas:              100000,
	}
}

func timestampRequest(addr common.Address, claimStart uint64) models.TxRequest {
	r := blockRequest(addr, claimStart)
	r.Unit = models.UnitTimestamp
	r.FreezeStart = claimStart + 1800
	r.ExecutionWindowStart = claimStart + 2100
	r.ExecutionWindowEnd = claimStart + 3900
	r.ReservedWindowEnd = claimStart + 2400
	return r
}

func newTestCache() *RequestCache {
	return New(Config{}, nil)
}

func TestRequestsDueForBlockRequest(t *testing.T) {
	c := newTestCache()
	require.NoError(t, c.Add(blockRequest(requestA, 1000)))

	tests := []struct {
		name string
		head uint64
		due  bool
	}{
		{"both buckets below", 500, false},
		{"last block before next reaches it", 719, false},
		{"next bucket reaches it", 720, true},
		{"current bucket reaches it", 960, true},
		{"past it", 1500, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := bucket.WindowFor(models.Head{Block: tt.head, Timestamp: 1})
			due := c.RequestsDueFor(w)
			if tt.due {
				assert.Contains(t, due, requestA)
			} else {
				assert.NotContains(t, due, requestA)
			}
		})
	}
}

func TestRequestsDueForMatchesUnit(t *testing.T) {
	c := newTestCache()
	require.NoError(t, c.Add(timestampRequest(requestA, 1700000000)))

	// A block head far in the future must not make a timestamp request due.
	early := bucket.WindowFor(models.Head{Block: 1e9, Timestamp: 1699990000})
	assert.Empty(t, c.RequestsDueFor(early))

	onTime := bucket.WindowFor(models.Head{Block: 1, Timestamp: 1699999000})
	assert.Equal(t, []common.Address{requestA}, c.RequestsDueFor(onTime))
}

func TestAddRejectsInvalidRecords(t *testing.T) {
	c := newTestCache()

	bad := blockRequest(requestA, 1000)
	bad.FreezeStart = 900
	err := c.Add(bad)
	assert.ErrorIs(t, err, models.ErrInvalidWindows)

	unknown := blockRequest(requestB, 1000)
	unknown.Unit = 7
	assert.ErrorIs(t, c.Add(unknown), models.ErrInvalidTemporalUnit)

	assert.Equal(t, 0, c.Len())
}

func TestAddDoneRequestEvicts(t *testing.T) {
	c := newTestCache()
	require.NoError(t, c.Add(blockRequest(requestA, 1000)))

	done := blockRequest(requestA, 1000)
	done.Status = models.Done
	assert.ErrorIs(t, c.Add(done), ErrRequestDone)
	assert.Equal(t, 0, c.Len())
}

func TestAddMergePreservesLocalState(t *testing.T) {
	c := newTestCache()

	first := blockRequest(requestA, 1000)
	first.Claimed = true
	first.ClaimedBy = claimer
	first.ExecuteSubmitted = true
	first.Status = models.ExecutionWindow
	require.NoError(t, c.Add(first))

	// Fresh chain data that lags behind what the agent saw locally.
	fresh := blockRequest(requestA, 1000)
	fresh.Bounty = big.NewInt(2e15)
	require.NoError(t, c.Add(fresh))

	got, ok := c.Get(requestA)
	require.True(t, ok)
	assert.Equal(t, big.NewInt(2e15), got.Bounty)
	assert.True(t, got.Claimed)
	assert.Equal(t, claimer, got.ClaimedBy)
	assert.True(t, got.ExecuteSubmitted)
	assert.Equal(t, models.ExecutionWindow, got.Status)
	assert.Equal(t, 1, c.Len())
}

func TestAddMergeReschedules(t *testing.T) {
	c := newTestCache()
	require.NoError(t, c.Add(blockRequest(requestA, 1000)))
	require.NoError(t, c.Add(blockRequest(requestA, 5000)))

	w := bucket.WindowFor(models.Head{Block: 1000})
	assert.NotContains(t, c.RequestsDueFor(w), requestA)

	w = bucket.WindowFor(models.Head{Block: 4900})
	assert.Contains(t, c.RequestsDueFor(w), requestA)
}

func TestUpdateEvictsDone(t *testing.T) {
	c := newTestCache()
	require.NoError(t, c.Add(blockRequest(requestA, 1000)))

	require.NoError(t, c.Update(requestA, func(r *models.TxRequest) {
		r.Status = models.ClaimWindow
	}))
	got, _ := c.Get(requestA)
	assert.Equal(t, models.ClaimWindow, got.Status)

	require.NoError(t, c.Update(requestA, func(r *models.TxRequest) {
		r.Status = models.Done
	}))
	_, ok := c.Get(requestA)
	assert.False(t, ok)

	assert.ErrorIs(t, c.Update(requestA, func(r *models.TxRequest) {}), ErrNotTracked)
}

func TestMarkStaleEvictsAfterThreshold(t *testing.T) {
	c := New(Config{StaleThreshold: 2}, nil)
	require.NoError(t, c.Add(blockRequest(requestA, 1000)))

	assert.False(t, c.MarkStale(requestA))
	// A successful refresh resets the miss counter.
	require.NoError(t, c.Add(blockRequest(requestA, 1000)))
	assert.False(t, c.MarkStale(requestA))
	assert.True(t, c.MarkStale(requestA))
	assert.Equal(t, 0, c.Len())

	assert.False(t, c.MarkStale(requestB))
}

func TestPromoteFoldsOldBuckets(t *testing.T) {
	c := newTestCache()
	require.NoError(t, c.Add(blockRequest(requestA, 100)))
	require.NoError(t, c.Add(blockRequest(requestB, 5000)))

	w := bucket.WindowFor(models.Head{Block: 1000})
	assert.Equal(t, 1, c.Promote(w))
	assert.Equal(t, 0, c.Promote(w))

	due := c.RequestsDueFor(w)
	assert.Equal(t, []common.Address{requestA}, due)

	// The promoted record keeps its own scheduling data.
	got, ok := c.Get(requestA)
	require.True(t, ok)
	assert.Equal(t, uint64(100), got.ClaimWindowStart)
}

func TestNeedsRefresh(t *testing.T) {
	c := newTestCache()
	r := blockRequest(requestA, 1000)

	assert.False(t, c.NeedsRefresh(&r, models.Head{Block: 700}))
	// 50% of a 240 block bucket ahead of the claim window.
	assert.True(t, c.NeedsRefresh(&r, models.Head{Block: 880}))
	assert.False(t, c.NeedsRefresh(&r, models.Head{Block: 879}))
	// Always refreshed while actionable.
	assert.True(t, c.NeedsRefresh(&r, models.Head{Block: 1050}))
	assert.True(t, c.NeedsRefresh(&r, models.Head{Block: 1150}))

	narrow := New(Config{IntervalSpread: 10}, nil)
	assert.False(t, narrow.NeedsRefresh(&r, models.Head{Block: 880}))
	assert.True(t, narrow.NeedsRefresh(&r, models.Head{Block: 976}))
}

func TestSnapshotIsACopy(t *testing.T) {
	c := newTestCache()
	require.NoError(t, c.Add(blockRequest(requestB, 1000)))
	require.NoError(t, c.Add(blockRequest(requestA, 1000)))

	snap := c.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, requestA, snap[0].Address)

	snap[0].Bounty.SetInt64(0)
	got, _ := c.Get(requestA)
	assert.Equal(t, big.NewInt(1e15), got.Bounty)
}

func TestConcurrentUpdates(t *testing.T) {
	c := newTestCache()
	require.NoError(t, c.Add(blockRequest(requestA, 1000)))
	require.NoError(t, c.Add(blockRequest(requestB, 1000)))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = c.Update(requestA, func(r *models.TxRequest) { r.CallGas++ })
		}()
		go func() {
			defer wg.Done()
			_ = c.RequestsDueFor(bucket.WindowFor(models.Head{Block: 1000}))
			_ = c.Snapshot()
		}()
	}
	wg.Wait()

	got, _ := c.Get(requestA)
	assert.Equal(t, uint64(100050), got.CallGas)
}
