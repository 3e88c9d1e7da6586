// Package actions decides whether a request should be claimed or executed
// and dispatches the corresponding transaction through the wallet guard.
package actions

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/models"
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/wallet"
)

const (
	// DefaultClaimGasLimit is the gas limit used for claim transactions
	DefaultClaimGasLimit uint64 = 120000
	// DefaultExecutionOverhead is the gas the request contract spends around the scheduled call
	DefaultExecutionOverhead uint64 = 180000
)

// Wallet is the subset of the wallet guard the policies depend on
type Wallet interface {
	NextAvailableAccount() (common.Address, bool)
	IsBusy(account common.Address) bool
	IsOwnAccount(account common.Address) bool
	HasPending(request common.Address, kind models.ActionKind) bool
	Dispatch(ctx context.Context, account common.Address, action wallet.Action) (wallet.Result, error)
}

// GasPriceSource reports gas prices. A nil price means unknown.
type GasPriceSource interface {
	// GasPrice is the price the agent bids for its own claims
	GasPrice() *big.Int
	// NetworkGasPrice is the chain's current price, unpadded
	NetworkGasPrice() *big.Int
}

// Config holds the economic settings shared by both policies
type Config struct {
	ClaimingEnabled bool
	// MaxDeposit caps the deposit the agent puts up for a claim; nil means no cap
	MaxDeposit *big.Int
	// MinBounty is the smallest bounty worth claiming for; nil means any
	MinBounty *big.Int
	// MinGasPrice is the lowest request gas price the agent executes at; nil means any
	MinGasPrice *big.Int
	// MaxExecutionGas caps the gas of an execute transaction; zero means no cap
	MaxExecutionGas   uint64
	ClaimGasLimit     uint64
	ExecutionOverhead uint64
}

func (c Config) withDefaults() Config {
	if c.ClaimGasLimit == 0 {
		c.ClaimGasLimit = DefaultClaimGasLimit
	}
	if c.ExecutionOverhead == 0 {
		c.ExecutionOverhead = DefaultExecutionOverhead
	}
	return c
}

type attemptKey struct {
	request common.Address
	kind    models.ActionKind
}

// attempts remembers which request was dispatched during which tick
type attempts struct {
	mu   sync.Mutex
	seen map[attemptKey]uint64
}

func newAttempts() *attempts {
	return &attempts{seen: make(map[attemptKey]uint64)}
}

func (a *attempts) inTick(request common.Address, kind models.ActionKind, tick uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.seen[attemptKey{request, kind}]
	return ok && t == tick
}

// begin records an attempt for the tick and reports false if one was already recorded
func (a *attempts) begin(request common.Address, kind models.ActionKind, tick uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := attemptKey{request, kind}
	if t, ok := a.seen[key]; ok && t == tick {
		return false
	}
	a.seen[key] = tick
	return true
}

func (a *attempts) clear(request common.Address, kind models.ActionKind) {
	a.mu.Lock()
	delete(a.seen, attemptKey{request, kind})
	a.mu.Unlock()
}

func (a *attempts) forget(request common.Address) {
	a.mu.Lock()
	delete(a.seen, attemptKey{request, models.ActionClaim})
	delete(a.seen, attemptKey{request, models.ActionExecute})
	a.mu.Unlock()
}

func outcomeFor(r *models.TxRequest, head models.Head, kind models.ActionKind) models.ActionOutcome {
	return models.ActionOutcome{
		Request: r.Address,
		Kind:    kind,
		Head:    head,
	}
}

func isBelow(v, min *big.Int) bool {
	if min == nil {
		return false
	}
	if v == nil {
		return min.Sign() > 0
	}
	return v.Cmp(min) < 0
}

func isAbove(v, max *big.Int) bool {
	return max != nil && v != nil && v.Cmp(max) > 0
}
