package wallet

import (
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/metrics"
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/models"
)

// SubmissionStatus represents the status of a submitted transaction
type SubmissionStatus int

const (
	// SubmissionPending indicates the transaction has no receipt yet
	SubmissionPending SubmissionStatus = iota
	// SubmissionConfirmed indicates the transaction was mined successfully
	SubmissionConfirmed
	// SubmissionFailed indicates the transaction was mined and reverted
	SubmissionFailed
	// SubmissionTimedOut indicates no receipt was seen before the ledger timeout
	SubmissionTimedOut
)

func (s SubmissionStatus) String() string {
	switch s {
	case SubmissionPending:
		return "pending"
	case SubmissionConfirmed:
		return "confirmed"
	case SubmissionFailed:
		return "failed"
	case SubmissionTimedOut:
		return "timed out"
	default:
		return "unknown"
	}
}

// Submission tracks a transaction the agent sent for a request
type Submission struct {
	Hash      common.Hash
	Account   common.Address
	Nonce     uint64
	Kind      models.ActionKind
	Request   common.Address
	CreatedAt time.Time
	UpdatedAt time.Time
	Status    SubmissionStatus
}

// Ledger keeps submissions until a receipt is observed or they time out
type Ledger struct {
	pending map[common.Hash]*Submission
	timeout time.Duration
	now     func() time.Time
	mu      sync.Mutex
}

// NewLedger creates a new submission ledger
func NewLedger(timeout time.Duration) *Ledger {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Ledger{
		pending: make(map[common.Hash]*Submission),
		timeout: timeout,
		now:     time.Now,
	}
}

// Track records a new submission
func (l *Ledger) Track(sub Submission) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	sub.Status = SubmissionPending
	l.pending[sub.Hash] = &sub
	metrics.PendingSubmissions.Set(float64(len(l.pending)))
}

// HasPending reports whether a submission of the given kind is still in flight for a request
func (l *Ledger) HasPending(request common.Address, kind models.ActionKind) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, sub := range l.pending {
		if sub.Request == request && sub.Kind == kind {
			return true
		}
	}
	return false
}

// Pending returns copies of the in-flight submissions, oldest first
func (l *Ledger) Pending() []Submission {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Submission, 0, len(l.pending))
	for _, sub := range l.pending {
		out = append(out, *sub)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Nonce < out[j].Nonce
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Resolve marks a submission as mined and removes it from the ledger
func (l *Ledger) Resolve(hash common.Hash, success bool) (Submission, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sub, exists := l.pending[hash]
	if !exists {
		return Submission{}, false
	}

	sub.UpdatedAt = l.now()
	if success {
		sub.Status = SubmissionConfirmed
	} else {
		sub.Status = SubmissionFailed
	}
	delete(l.pending, hash)
	metrics.PendingSubmissions.Set(float64(len(l.pending)))
	return *sub, true
}

// Sweep removes and returns the submissions older than the ledger timeout
func (l *Ledger) Sweep() []Submission {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var timedOut []Submission
	for hash, sub := range l.pending {
		if now.Sub(sub.CreatedAt) > l.timeout {
			sub.Status = SubmissionTimedOut
			sub.UpdatedAt = now
			timedOut = append(timedOut, *sub)
			delete(l.pending, hash)
		}
	}
	metrics.PendingSubmissions.Set(float64(len(l.pending)))
	return timedOut
}

// Count returns the number of in-flight submissions
func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}
