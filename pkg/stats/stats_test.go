package stats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/models"
)

var (
	accountA = common.HexToAddress("0xa001")
	accountB = common.HexToAddress("0xa002")
	request  = common.HexToAddress("0xaa")
)

func TestRecord(t *testing.T) {
	c := NewCollector(nil)
	fixed := time.Unix(1700000000, 0)
	c.now = func() time.Time { return fixed }

	c.Record(models.ActionOutcome{Request: request, Kind: models.ActionNone})
	c.Record(models.ActionOutcome{Request: request, Kind: models.ActionClaim, Claim: models.ClaimSuccess, Account: accountB})
	c.Record(models.ActionOutcome{Request: request, Kind: models.ActionClaim, Claim: models.ClaimNotProfitable})
	c.Record(models.ActionOutcome{Request: request, Kind: models.ActionExecute, Execute: models.ExecuteSuccess, Account: accountA})
	c.Record(models.ActionOutcome{Request: request, Kind: models.ActionExecute, Execute: models.ExecuteUnknownError, Account: accountA, Err: errors.New("nonce too low")})

	s := c.Summary()
	assert.Equal(t, 4, s.Total)
	require.Len(t, s.Accounts, 2)
	assert.Equal(t, accountA, s.Accounts[0].Account)
	assert.Equal(t, 1, s.Accounts[0].Executed)
	assert.Equal(t, 1, s.Accounts[0].Failed)
	assert.Equal(t, fixed, s.Accounts[0].LastAction)
	assert.Equal(t, 1, s.Accounts[1].Claimed)
	assert.Equal(t, 1, s.Outcomes["claim:NOT_PROFITABLE"])
	assert.Equal(t, 1, s.Outcomes["execute:SUCCESS"])

	acc, ok := c.Account(accountB)
	require.True(t, ok)
	assert.Equal(t, 1, acc.Claimed)
	_, ok = c.Account(common.HexToAddress("0xdead"))
	assert.False(t, ok)
}

func TestSummaryIsCopy(t *testing.T) {
	c := NewCollector(nil)
	c.Record(models.ActionOutcome{Kind: models.ActionClaim, Claim: models.ClaimSuccess, Account: accountA})

	s := c.Summary()
	s.Accounts[0].Claimed = 99
	s.Outcomes["claim:SUCCESS"] = 99

	again := c.Summary()
	assert.Equal(t, 1, again.Accounts[0].Claimed)
	assert.Equal(t, 1, again.Outcomes["claim:SUCCESS"])
}

type feedSource struct {
	feed event.Feed
}

func (f *feedSource) Subscribe(ch chan<- models.ActionOutcome, _ ...models.ActionKind) event.Subscription {
	return f.feed.Subscribe(ch)
}

func TestRunConsumesStream(t *testing.T) {
	src := &feedSource{}
	c := NewCollector(nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, src) }()

	require.Eventually(t, func() bool {
		return src.feed.Send(models.ActionOutcome{Kind: models.ActionClaim, Claim: models.ClaimSuccess, Account: accountA}) > 0
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		acc, ok := c.Account(accountA)
		return ok && acc.Claimed >= 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("collector did not stop")
	}
}
