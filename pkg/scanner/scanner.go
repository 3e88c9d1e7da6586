// Package scanner drives the request cache, the lifecycle evaluation and the
// action policies once per chain tick.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"golang.org/x/sync/errgroup"

	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/bucket"
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/cache"
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/lifecycle"
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/logger"
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/metrics"
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/models"
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/wallet"
)

// DefaultConcurrency is the number of requests processed in parallel within one tick
const DefaultConcurrency = 8

// ErrStaleTick is returned for a tick older than the last processed one
var ErrStaleTick = errors.New("tick older than last processed head")

// RequestReader returns the current on-chain state of a request
type RequestReader interface {
	ReadRequest(ctx context.Context, address common.Address) (models.TxRequest, error)
}

// ClaimPolicy decides on and dispatches claims
type ClaimPolicy interface {
	Claim(ctx context.Context, r models.TxRequest, head models.Head) models.ActionOutcome
	Forget(request common.Address)
}

// ExecutePolicy decides on and dispatches executions
type ExecutePolicy interface {
	Execute(ctx context.Context, r models.TxRequest, head models.Head) models.ActionOutcome
	Forget(request common.Address)
}

// SubmissionReconciler settles the agent's own in-flight submissions
type SubmissionReconciler interface {
	Reconcile(ctx context.Context, receipts wallet.ReceiptSource) []wallet.Submission
}

// Config holds the scanner collaborators. Reader, Reconciler and Receipts are optional.
type Config struct {
	Cache       *cache.RequestCache
	Reader      RequestReader
	Claim       ClaimPolicy
	Execute     ExecutePolicy
	Reconciler  SubmissionReconciler
	Receipts    wallet.ReceiptSource
	Concurrency int
}

// Scanner processes chain ticks one at a time in chain order
type Scanner struct {
	cache       *cache.RequestCache
	reader      RequestReader
	claim       ClaimPolicy
	execute     ExecutePolicy
	reconciler  SubmissionReconciler
	receipts    wallet.ReceiptSource
	concurrency int

	feeds map[models.ActionKind]*event.Feed
	scope event.SubscriptionScope

	tickMu sync.Mutex

	stateMu  sync.RWMutex
	window   bucket.Window
	lastHead models.Head
	started  bool

	logger logger.Logger
}

// New creates a scanner
func New(cfg Config, log logger.Logger) (*Scanner, error) {
	if cfg.Cache == nil || cfg.Claim == nil || cfg.Execute == nil {
		return nil, errors.New("scanner requires a cache and both policies")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Scanner{
		cache:       cfg.Cache,
		reader:      cfg.Reader,
		claim:       cfg.Claim,
		execute:     cfg.Execute,
		reconciler:  cfg.Reconciler,
		receipts:    cfg.Receipts,
		concurrency: cfg.Concurrency,
		feeds: map[models.ActionKind]*event.Feed{
			models.ActionNone:    new(event.Feed),
			models.ActionClaim:   new(event.Feed),
			models.ActionExecute: new(event.Feed),
		},
		logger: log,
	}, nil
}

// Subscribe delivers the outcomes of the given kinds, or of every kind when
// none is given. Delivery blocks the tick until the channel accepts the
// outcome, so subscribers should use buffered channels.
func (s *Scanner) Subscribe(ch chan<- models.ActionOutcome, kinds ...models.ActionKind) event.Subscription {
	if len(kinds) == 0 {
		kinds = []models.ActionKind{models.ActionNone, models.ActionClaim, models.ActionExecute}
	}
	subs := make([]event.Subscription, 0, len(kinds))
	for _, kind := range kinds {
		if feed, ok := s.feeds[kind]; ok {
			subs = append(subs, feed.Subscribe(ch))
		}
	}
	return s.scope.Track(event.JoinSubscriptions(subs...))
}

// Close unsubscribes every outcome subscriber
func (s *Scanner) Close() {
	s.scope.Close()
}

// Window returns the bucket window of the last processed tick
func (s *Scanner) Window() bucket.Window {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.window
}

// LastHead returns the last processed chain head
func (s *Scanner) LastHead() (models.Head, bool) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.lastHead, s.started
}

// TrackRequest starts tracking a request
func (s *Scanner) TrackRequest(record models.TxRequest) error {
	if err := s.cache.Add(record); err != nil {
		return err
	}
	metrics.TrackedRequests.Set(float64(s.cache.Len()))
	return nil
}

// TrackAddress reads a request from the chain and starts tracking it
func (s *Scanner) TrackAddress(ctx context.Context, address common.Address) error {
	if s.reader == nil {
		return errors.New("no request reader configured")
	}
	record, err := s.reader.ReadRequest(ctx, address)
	if err != nil {
		return fmt.Errorf("failed to read request %s: %w", address.Hex(), err)
	}
	if head, ok := s.LastHead(); ok {
		record.Status = lifecycle.Evaluate(&record, head)
	}
	return s.TrackRequest(record)
}

// UntrackRequest stops tracking a request
func (s *Scanner) UntrackRequest(address common.Address) bool {
	s.claim.Forget(address)
	s.execute.Forget(address)
	removed := s.cache.Remove(address)
	metrics.TrackedRequests.Set(float64(s.cache.Len()))
	return removed
}

// ScanTick processes one chain tick. Ticks older than the last processed
// head are rejected; a failing request never aborts the tick.
func (s *Scanner) ScanTick(ctx context.Context, head models.Head) error {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	s.stateMu.Lock()
	if s.started && head.Block < s.lastHead.Block {
		last := s.lastHead.Block
		s.stateMu.Unlock()
		return fmt.Errorf("%w: %d < %d", ErrStaleTick, head.Block, last)
	}
	window, crossed := s.window.Advance(head)
	if !s.started {
		crossed = true
	}
	s.window = window
	s.lastHead = head
	s.started = true
	s.stateMu.Unlock()

	start := time.Now()

	if crossed {
		if moved := s.cache.Promote(window); moved > 0 {
			metrics.PromotedRequests.Add(float64(moved))
		}
	}

	if s.reconciler != nil && s.receipts != nil {
		for _, sub := range s.reconciler.Reconcile(ctx, s.receipts) {
			s.applySubmission(sub)
		}
	}

	due := s.cache.RequestsDueFor(window)
	metrics.DueRequests.Set(float64(len(due)))
	if len(due) > 0 {
		s.logger.Debug("Block %d: %d requests due", head.Block, len(due))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, addr := range due {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s.publish(s.process(gctx, addr, head))
			return nil
		})
	}
	err := g.Wait()

	metrics.TrackedRequests.Set(float64(s.cache.Len()))
	metrics.LastProcessedBlock.Set(float64(head.Block))
	metrics.TickDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		return fmt.Errorf("tick %d interrupted: %w", head.Block, err)
	}
	return nil
}

// process evaluates one request and applies the chosen action
func (s *Scanner) process(ctx context.Context, addr common.Address, head models.Head) models.ActionOutcome {
	none := models.ActionOutcome{Request: addr, Kind: models.ActionNone, Head: head}

	r, ok := s.cache.Get(addr)
	if !ok {
		none.State = models.Done
		return none
	}

	if s.reader != nil && s.cache.NeedsRefresh(&r, head) {
		refreshed, out, ok := s.refresh(ctx, r, head)
		if !ok {
			return out
		}
		r = refreshed
	}

	status := lifecycle.Evaluate(&r, head)
	out := none
	switch status {
	case models.ClaimWindow:
		out = s.claim.Claim(ctx, r, head)
	case models.ExecutionWindow:
		out = s.execute.Execute(ctx, r, head)
	case models.Executed:
		// First tick past a window the agent never executed in: report the miss once.
		if !r.ExecuteSubmitted && !r.Status.IsTerminal() {
			out = s.execute.Execute(ctx, r, head)
		}
	}
	out.State = status

	claimed := out.Kind == models.ActionClaim && out.Claim == models.ClaimSuccess
	executed := out.Kind == models.ActionExecute && out.Execute == models.ExecuteSuccess
	if executed {
		out.State = models.Executed
	}

	err := s.cache.Update(addr, func(rec *models.TxRequest) {
		rec.Status = out.State
		if claimed {
			rec.ClaimSubmitted = true
		}
		if executed {
			rec.ExecuteSubmitted = true
		}
	})
	if err != nil {
		s.logger.DebugWithRequest(addr, "Dropped while processing: %v", err)
	}
	if out.State == models.Done {
		s.claim.Forget(addr)
		s.execute.Forget(addr)
		s.logger.InfoWithRequest(addr, "Done, no longer tracked")
	}

	s.logOutcome(out)
	return out
}

// refresh re-reads a request from the chain and merges it into the cache.
// It returns false with the outcome to publish when processing must stop.
func (s *Scanner) refresh(ctx context.Context, r models.TxRequest, head models.Head) (models.TxRequest, models.ActionOutcome, bool) {
	out := models.ActionOutcome{Request: r.Address, Kind: models.ActionNone, Head: head, State: r.Status}

	fresh, err := s.reader.ReadRequest(ctx, r.Address)
	switch {
	case errors.Is(err, models.ErrRequestNotFound):
		metrics.RefreshErrors.WithLabelValues("not_found").Inc()
		if s.cache.MarkStale(r.Address) {
			metrics.StaleEvictions.Inc()
			s.claim.Forget(r.Address)
			s.execute.Forget(r.Address)
			out.State = models.Done
		}
		return r, out, false
	case err != nil && models.IsIntegrityError(err):
		return r, s.reject(r.Address, out, err), false
	case err != nil:
		// Work from the cached copy; the next tick reads again.
		metrics.RefreshErrors.WithLabelValues("read").Inc()
		s.logger.ErrorWithRequest(r.Address, "Failed to refresh request: %v", err)
		return r, out, true
	}

	fresh.Status = r.Status
	if err := s.cache.Add(fresh); err != nil {
		if errors.Is(err, cache.ErrRequestDone) {
			out.State = models.Done
			return r, out, false
		}
		return r, s.reject(r.Address, out, err), false
	}

	merged, ok := s.cache.Get(r.Address)
	if !ok {
		out.State = models.Done
		return r, out, false
	}
	return merged, out, true
}

// reject drops a request whose on-chain data is structurally invalid
func (s *Scanner) reject(addr common.Address, out models.ActionOutcome, err error) models.ActionOutcome {
	metrics.RefreshErrors.WithLabelValues("integrity").Inc()
	s.logger.ErrorWithRequest(addr, "Rejecting request with invalid data: %v", err)
	s.UntrackRequest(addr)
	out.State = models.Done
	out.Err = err
	return out
}

// applySubmission folds a settled submission back into the cached request
func (s *Scanner) applySubmission(sub wallet.Submission) {
	confirmed := sub.Status == wallet.SubmissionConfirmed
	_ = s.cache.Update(sub.Request, func(r *models.TxRequest) {
		switch sub.Kind {
		case models.ActionClaim:
			if confirmed {
				r.Claimed = true
				r.ClaimedBy = sub.Account
			} else {
				r.ClaimSubmitted = false
			}
		case models.ActionExecute:
			if !confirmed {
				// Let the request be executed again while its window is open.
				r.ExecuteSubmitted = false
			}
		}
	})
	if !confirmed {
		s.logger.InfoWithRequest(sub.Request, "Own %s transaction %s", sub.Kind, sub.Status)
	}
}

func (s *Scanner) publish(out models.ActionOutcome) {
	metrics.Outcomes.WithLabelValues(out.Kind.String(), out.Code()).Inc()
	if feed, ok := s.feeds[out.Kind]; ok {
		feed.Send(out)
	}
}

// logOutcome logs an outcome at the level of its error class: backpressure at
// debug, policy aborts at info and infrastructure failures at error
func (s *Scanner) logOutcome(out models.ActionOutcome) {
	switch {
	case out.Err != nil:
		s.logger.ErrorWithRequest(out.Request, "%s: %v", out.Code(), out.Err)
	case out.Kind == models.ActionNone:
		s.logger.DebugWithRequest(out.Request, "%s", out.State)
	case isBackpressure(out):
		s.logger.DebugWithRequest(out.Request, "%s", out)
	default:
		s.logger.InfoWithRequest(out.Request, "%s", out)
	}
}

func isBackpressure(out models.ActionOutcome) bool {
	switch out.Kind {
	case models.ActionClaim:
		switch out.Claim {
		case models.ClaimNotEnabled, models.ClaimPending, models.ClaimWalletBusy, models.ClaimInProgress:
			return true
		}
	case models.ActionExecute:
		switch out.Execute {
		case models.ExecuteWalletBusy, models.ExecuteInProgress:
			return true
		}
	}
	return false
}
