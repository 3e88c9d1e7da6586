// Package stats keeps in-memory counters of the actions taken by the agent's accounts.
package stats

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"

	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/logger"
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/models"
)

const outcomeBuffer = 64

// OutcomeSource is anything that streams action outcomes
type OutcomeSource interface {
	Subscribe(ch chan<- models.ActionOutcome, kinds ...models.ActionKind) event.Subscription
}

// AccountStats holds the counters of one account
type AccountStats struct {
	Account    common.Address `json:"account"`
	Claimed    int            `json:"claimed"`
	Executed   int            `json:"executed"`
	Failed     int            `json:"failed"`
	LastAction time.Time      `json:"last_action"`
}

// Summary is a point-in-time copy of every counter
type Summary struct {
	Accounts []AccountStats `json:"accounts"`
	Outcomes map[string]int `json:"outcomes"`
	Total    int            `json:"total"`
}

// Collector aggregates claim and execute outcomes per account
type Collector struct {
	mu       sync.Mutex
	accounts map[common.Address]*AccountStats
	outcomes map[string]int
	total    int
	now      func() time.Time
	logger   logger.Logger
}

// NewCollector creates an empty collector
func NewCollector(log logger.Logger) *Collector {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Collector{
		accounts: make(map[common.Address]*AccountStats),
		outcomes: make(map[string]int),
		now:      time.Now,
		logger:   log,
	}
}

// Record counts one outcome. Outcomes without an action are ignored.
func (c *Collector) Record(out models.ActionOutcome) {
	if out.Kind == models.ActionNone {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.total++
	c.outcomes[out.Kind.String()+":"+out.Code()]++

	if out.Account == (common.Address{}) {
		return
	}
	acc, ok := c.accounts[out.Account]
	if !ok {
		acc = &AccountStats{Account: out.Account}
		c.accounts[out.Account] = acc
	}
	acc.LastAction = c.now()

	switch {
	case out.Err != nil:
		acc.Failed++
	case out.Kind == models.ActionClaim && out.Claim == models.ClaimSuccess:
		acc.Claimed++
	case out.Kind == models.ActionExecute && out.Execute == models.ExecuteSuccess:
		acc.Executed++
	}
}

// Run records claim and execute outcomes from src until ctx is done
func (c *Collector) Run(ctx context.Context, src OutcomeSource) error {
	ch := make(chan models.ActionOutcome, outcomeBuffer)
	sub := src.Subscribe(ch, models.ActionClaim, models.ActionExecute)
	defer sub.Unsubscribe()

	c.logger.Info("Stats collector started")
	for {
		select {
		case out := <-ch:
			c.Record(out)
		case err := <-sub.Err():
			return err
		case <-ctx.Done():
			c.logger.Info("Stats collector shutting down")
			return nil
		}
	}
}

// Account returns the counters of one account
func (c *Collector) Account(account common.Address) (AccountStats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	acc, ok := c.accounts[account]
	if !ok {
		return AccountStats{}, false
	}
	return *acc, true
}

// Summary returns a copy of every counter, accounts sorted by address
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Summary{
		Accounts: make([]AccountStats, 0, len(c.accounts)),
		Outcomes: make(map[string]int, len(c.outcomes)),
		Total:    c.total,
	}
	for _, acc := range c.accounts {
		s.Accounts = append(s.Accounts, *acc)
	}
	sort.Slice(s.Accounts, func(i, j int) bool {
		return s.Accounts[i].Account.Cmp(s.Accounts[j].Account) < 0
	})
	for code, n := range c.outcomes {
		s.Outcomes[code] = n
	}
	return s
}
