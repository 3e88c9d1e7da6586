// Package wallet serializes chain-submitting actions across a fixed pool of
// signing accounts. Each account carries at most one in-flight action and its
// own monotonic nonce sequence.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/circuitbreaker"
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/logger"
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/metrics"
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/models"
)

// DefaultActionTimeout bounds a single submission round-trip
const DefaultActionTimeout = 30 * time.Second

var (
	// ErrWalletBusy is returned when the account already has an action in flight
	ErrWalletBusy = errors.New("wallet busy")
	// ErrUnknownAccount is returned for accounts outside the pool
	ErrUnknownAccount = errors.New("unknown account")
	// ErrNoAccounts is returned when a guard is built without accounts
	ErrNoAccounts = errors.New("no accounts configured")
	// ErrCircuitOpen is returned while the submission circuit breaker is tripped
	ErrCircuitOpen = errors.New("circuit breaker open")
	// ErrSubmissionTimeout is returned when the submitter did not answer in time
	ErrSubmissionTimeout = errors.New("submission timed out")
)

// Action is a claim or execute transaction to be sent for a request
type Action struct {
	Kind     models.ActionKind
	Request  common.Address
	Value    *big.Int
	GasLimit uint64
	GasPrice *big.Int
}

// AbortedError reports that the submitter refused an action because the
// request rejected it, before anything was broadcast
type AbortedError struct {
	Reason models.ExecuteStatus
	Err    error
}

func (e *AbortedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason.Code(), e.Err)
	}
	return e.Reason.Code()
}

func (e *AbortedError) Unwrap() error {
	return e.Err
}

// Submitter signs and sends actions. Submit returns once the transaction is
// accepted by the node; mining is observed separately through receipts.
type Submitter interface {
	Submit(ctx context.Context, account common.Address, nonce uint64, action Action) (common.Hash, error)
}

// NonceSource reports the next nonce the chain expects from an account
type NonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// ReceiptSource looks up the receipt of a submitted transaction
type ReceiptSource interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Result describes an accepted submission
type Result struct {
	Account common.Address
	Nonce   uint64
	TxHash  common.Hash
}

// AccountSlot is the guard's record of one signing account
type AccountSlot struct {
	Address common.Address
	index   int

	mu         sync.Mutex
	busy       bool
	nonce      uint64
	synced     bool
	lastUsed   time.Time
	dispatches uint64
}

// tryAcquire marks the slot busy and reports whether it was idle
func (s *AccountSlot) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return false
	}
	s.busy = true
	return true
}

func (s *AccountSlot) release() {
	s.mu.Lock()
	s.busy = false
	s.lastUsed = time.Now()
	s.mu.Unlock()
}

func (s *AccountSlot) isBusy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// reserveNonce returns the next nonce and advances the sequence, syncing from
// the chain first when the slot has not been synced yet
func (s *AccountSlot) reserveNonce(ctx context.Context, source NonceSource) (nonce uint64, resynced bool, err error) {
	s.mu.Lock()
	needsSync := !s.synced
	s.mu.Unlock()

	if needsSync {
		remote, err := source.PendingNonceAt(ctx, s.Address)
		if err != nil {
			return 0, false, fmt.Errorf("failed to get pending nonce: %w", err)
		}
		s.mu.Lock()
		s.nonce = remote
		s.synced = true
		s.mu.Unlock()
		resynced = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	nonce = s.nonce
	s.nonce++
	s.dispatches++
	return nonce, resynced, nil
}

// releaseNonce hands back a nonce that was never broadcast. Only the tip of
// the sequence can be released.
func (s *AccountSlot) releaseNonce(nonce uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nonce == nonce+1 {
		s.nonce = nonce
	}
}

// invalidate forces a resync from the chain before the next dispatch
func (s *AccountSlot) invalidate() {
	s.mu.Lock()
	s.synced = false
	s.mu.Unlock()
}

// AccountState is a point-in-time view of an account slot
type AccountState struct {
	Address    common.Address `json:"address"`
	Busy       bool           `json:"busy"`
	NextNonce  uint64         `json:"next_nonce"`
	Synced     bool           `json:"synced"`
	Dispatches uint64         `json:"dispatches"`
	LastUsed   time.Time      `json:"last_used"`
}

func (s *AccountSlot) state() AccountState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return AccountState{
		Address:    s.Address,
		Busy:       s.busy,
		NextNonce:  s.nonce,
		Synced:     s.synced,
		Dispatches: s.dispatches,
		LastUsed:   s.lastUsed,
	}
}

// Config holds the guard settings
type Config struct {
	ActionTimeout time.Duration
	LedgerTimeout time.Duration
}

// Guard arbitrates actions across the account pool. The pool is fixed at
// construction; there is no lock shared across accounts during submission.
type Guard struct {
	accounts []*AccountSlot
	byAddr   map[common.Address]*AccountSlot

	mu   sync.Mutex
	last int

	submitter Submitter
	nonces    NonceSource
	ledger    *Ledger
	breaker   *circuitbreaker.CircuitBreaker
	timeout   time.Duration
	logger    logger.Logger
}

// NewGuard creates a guard over the given accounts. The breaker may be nil.
func NewGuard(
	accounts []common.Address,
	submitter Submitter,
	nonces NonceSource,
	breaker *circuitbreaker.CircuitBreaker,
	cfg Config,
	log logger.Logger,
) (*Guard, error) {
	if len(accounts) == 0 {
		return nil, ErrNoAccounts
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = DefaultActionTimeout
	}
	if log == nil {
		log = &logger.EmptyLogger{}
	}

	g := &Guard{
		byAddr:    make(map[common.Address]*AccountSlot, len(accounts)),
		last:      -1,
		submitter: submitter,
		nonces:    nonces,
		ledger:    NewLedger(cfg.LedgerTimeout),
		breaker:   breaker,
		timeout:   cfg.ActionTimeout,
		logger:    log,
	}
	for _, addr := range accounts {
		if _, dup := g.byAddr[addr]; dup {
			return nil, fmt.Errorf("duplicate account %s", addr.Hex())
		}
		slot := &AccountSlot{Address: addr, index: len(g.accounts)}
		g.accounts = append(g.accounts, slot)
		g.byAddr[addr] = slot
	}
	return g, nil
}

// Accounts returns the pool addresses in configuration order
func (g *Guard) Accounts() []common.Address {
	out := make([]common.Address, len(g.accounts))
	for i, slot := range g.accounts {
		out[i] = slot.Address
	}
	return out
}

// IsOwnAccount reports whether the address belongs to the pool
func (g *Guard) IsOwnAccount(addr common.Address) bool {
	_, ok := g.byAddr[addr]
	return ok
}

// Ledger returns the pending submission ledger
func (g *Guard) Ledger() *Ledger {
	return g.ledger
}

// HasPending reports whether a submission of the given kind awaits a receipt for the request
func (g *Guard) HasPending(request common.Address, kind models.ActionKind) bool {
	return g.ledger.HasPending(request, kind)
}

// NextAvailableAccount returns the first idle account after the last one
// used for a dispatch, or false when every account is busy. Selecting an
// account does not move the rotation.
func (g *Guard) NextAvailableAccount() (common.Address, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := len(g.accounts)
	for i := 0; i < n; i++ {
		idx := (g.last + 1 + i) % n
		if !g.accounts[idx].isBusy() {
			return g.accounts[idx].Address, true
		}
	}
	return common.Address{}, false
}

func (g *Guard) markUsed(slot *AccountSlot) {
	g.mu.Lock()
	g.last = slot.index
	g.mu.Unlock()
}

// IsBusy reports whether the account has an action in flight
func (g *Guard) IsBusy(account common.Address) bool {
	slot, ok := g.byAddr[account]
	return ok && slot.isBusy()
}

// Dispatch submits an action from the account. The account is busy for the
// duration of the call and released on every return path.
func (g *Guard) Dispatch(ctx context.Context, account common.Address, action Action) (Result, error) {
	slot, ok := g.byAddr[account]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownAccount, account.Hex())
	}
	if g.breaker != nil && g.breaker.IsOpen() {
		return Result{}, ErrCircuitOpen
	}
	if !slot.tryAcquire() {
		return Result{}, ErrWalletBusy
	}
	g.markUsed(slot)
	metrics.BusyAccounts.Inc()
	defer func() {
		slot.release()
		metrics.BusyAccounts.Dec()
	}()

	subCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	nonce, resynced, err := slot.reserveNonce(subCtx, g.nonces)
	if err != nil {
		g.recordFailure()
		return Result{}, err
	}
	if resynced {
		metrics.NonceResyncs.WithLabelValues(account.Hex()).Inc()
		g.logger.Debug("Synced nonce for %s: %d", account.Hex(), nonce)
	}

	kind := action.Kind.String()
	hash, err := g.submitter.Submit(subCtx, account, nonce, action)
	if err != nil {
		var aborted *AbortedError
		switch {
		case errors.As(err, &aborted):
			slot.releaseNonce(nonce)
			metrics.Submissions.WithLabelValues(kind, "aborted").Inc()
			return Result{}, err
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(subCtx.Err(), context.DeadlineExceeded):
			// The transaction may still reach the pool; the chain decides the next nonce.
			slot.invalidate()
			g.recordFailure()
			metrics.Submissions.WithLabelValues(kind, "timeout").Inc()
			return Result{}, fmt.Errorf("%w after %s: %v", ErrSubmissionTimeout, g.timeout, err)
		default:
			slot.releaseNonce(nonce)
			slot.invalidate()
			g.recordFailure()
			metrics.Submissions.WithLabelValues(kind, "rejected").Inc()
			return Result{}, fmt.Errorf("submission rejected: %w", err)
		}
	}

	g.ledger.Track(Submission{
		Hash:    hash,
		Account: account,
		Nonce:   nonce,
		Kind:    action.Kind,
		Request: action.Request,
	})
	metrics.Submissions.WithLabelValues(kind, "accepted").Inc()
	g.logger.InfoWithRequest(action.Request, "%s sent from %s with nonce %d: %s", kind, account.Hex(), nonce, hash.Hex())

	return Result{Account: account, Nonce: nonce, TxHash: hash}, nil
}

func (g *Guard) recordFailure() {
	if g.breaker != nil {
		g.breaker.RecordFailure()
	}
}

// Reconcile checks the receipts of pending submissions. Mined submissions are
// returned and removed; submissions without a receipt past the ledger timeout
// are dropped and their accounts resynced from the chain.
func (g *Guard) Reconcile(ctx context.Context, receipts ReceiptSource) []Submission {
	var resolved []Submission
	for _, sub := range g.ledger.Pending() {
		receipt, err := receipts.TransactionReceipt(ctx, sub.Hash)
		if err != nil {
			if !errors.Is(err, ethereum.NotFound) {
				g.logger.ErrorWithRequest(sub.Request, "Failed to get receipt for %s: %v", sub.Hash.Hex(), err)
			}
			continue
		}
		done, ok := g.ledger.Resolve(sub.Hash, receipt.Status == types.ReceiptStatusSuccessful)
		if !ok {
			continue
		}
		if done.Status == SubmissionFailed {
			g.logger.ErrorWithRequest(done.Request, "%s transaction %s reverted", done.Kind, done.Hash.Hex())
		} else {
			g.logger.InfoWithRequest(done.Request, "%s transaction %s mined in block %d", done.Kind, done.Hash.Hex(), receipt.BlockNumber)
		}
		resolved = append(resolved, done)
	}

	for _, sub := range g.ledger.Sweep() {
		g.logger.ErrorWithRequest(sub.Request, "%s transaction %s timed out without receipt", sub.Kind, sub.Hash.Hex())
		if slot, ok := g.byAddr[sub.Account]; ok {
			slot.invalidate()
		}
		resolved = append(resolved, sub)
	}
	return resolved
}

// States returns a view of every account slot
func (g *Guard) States() []AccountState {
	out := make([]AccountState, len(g.accounts))
	for i, slot := range g.accounts {
		out[i] = slot.state()
	}
	return out
}

// BusyCount returns the number of accounts with an action in flight
func (g *Guard) BusyCount() int {
	n := 0
	for _, slot := range g.accounts {
		if slot.isBusy() {
			n++
		}
	}
	return n
}
