// Package timenode wires the chain client, the request cache, the action
// policies and the scanner into a running agent.
package timenode

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/actions"
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/bucket"
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/cache"
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/chainclient"
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/circuitbreaker"
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/config"
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/health"
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/logger"
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/models"
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/scanner"
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/stats"
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/wallet"
)

const headBuffer = 16

// Backend is the node API the service reads from
type Backend interface {
	chainclient.HeaderSource
	chainclient.GasPriceSuggester
	wallet.NonceSource
	wallet.ReceiptSource
	bind.ContractCaller
}

// Deps are the chain facing collaborators of the service
type Deps struct {
	Backend   Backend
	Submitter wallet.Submitter
	Accounts  []common.Address
}

// Service runs the TimeNode
type Service struct {
	config  *config.Config
	backend Backend
	client  *chainclient.Client

	breaker *circuitbreaker.CircuitBreaker
	guard   *wallet.Guard
	cache   *cache.RequestCache
	scanner *scanner.Scanner
	stats   *stats.Collector
	poller  *chainclient.HeadPoller
	gas     *chainclient.GasPriceRoutine

	logger logger.Logger
}

// NewService connects to the configured node and creates the service
func NewService(ctx context.Context, cfg *config.Config, log logger.Logger) (*Service, error) {
	client, err := chainclient.Dial(ctx, cfg.RPCURL)
	if err != nil {
		return nil, err
	}

	keys, err := chainclient.ParsePrivateKeys(cfg.PrivateKeys)
	if err != nil {
		client.Close()
		return nil, err
	}

	submitter, err := chainclient.NewSubmitter(client.Eth, client.ChainID, keys)
	if err != nil {
		client.Close()
		return nil, err
	}

	s, err := New(cfg, Deps{
		Backend:   client.Eth,
		Submitter: submitter,
		Accounts:  submitter.Accounts(),
	}, log)
	if err != nil {
		client.Close()
		return nil, err
	}
	s.client = client
	s.logger.Info("Connected to chain %s at %s with %d accounts", client.ChainID, cfg.RPCURL, len(keys))
	return s, nil
}

// New creates the service on top of the given collaborators
func New(cfg *config.Config, deps Deps, log logger.Logger) (*Service, error) {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	if deps.Backend == nil || deps.Submitter == nil {
		return nil, errors.New("a backend and a submitter are required")
	}

	breaker := circuitbreaker.NewCircuitBreaker(
		cfg.CircuitBreaker.Enabled,
		cfg.CircuitBreaker.Threshold,
		cfg.CircuitBreaker.WindowDuration,
		cfg.CircuitBreaker.ResetTimeout,
		log,
	)

	guard, err := wallet.NewGuard(deps.Accounts, deps.Submitter, deps.Backend, breaker, wallet.Config{
		ActionTimeout: cfg.Wallet.ActionTimeout,
		LedgerTimeout: cfg.Wallet.SubmissionTimeout,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet guard: %w", err)
	}

	gas := chainclient.NewGasPriceRoutine(deps.Backend, cfg.GasPriceInterval, cfg.GasMultiplier, log)

	actCfg := actions.Config{
		ClaimingEnabled: cfg.Claiming.Enabled,
		MaxDeposit:      cfg.Claiming.MaxDeposit,
		MinBounty:       cfg.Claiming.MinBounty,
		MinGasPrice:     cfg.Execution.MinGasPrice,
		MaxExecutionGas: cfg.Execution.MaxExecutionGas,
	}

	requests := cache.New(cache.Config{
		IntervalSpread: cfg.Cache.IntervalSpread,
		StaleThreshold: cfg.Cache.StaleThreshold,
	}, log)

	scan, err := scanner.New(scanner.Config{
		Cache:       requests,
		Reader:      chainclient.NewRequestReader(deps.Backend),
		Claim:       actions.NewClaimingPolicy(actCfg, guard, gas, log),
		Execute:     actions.NewExecutionPolicy(actCfg, guard, gas, log),
		Reconciler:  guard,
		Receipts:    deps.Backend,
		Concurrency: cfg.ScanConcurrency,
	}, log)
	if err != nil {
		return nil, err
	}

	return &Service{
		config:  cfg,
		backend: deps.Backend,
		breaker: breaker,
		guard:   guard,
		cache:   requests,
		scanner: scan,
		stats:   stats.NewCollector(log),
		poller:  chainclient.NewHeadPoller(deps.Backend, cfg.PollingInterval, log),
		gas:     gas,
		logger:  log,
	}, nil
}

// Start runs the service until ctx is cancelled
func (s *Service) Start(ctx context.Context) error {
	defer s.scanner.Close()
	if s.client != nil {
		defer s.client.Close()
	}

	for _, addr := range s.config.RequestAddresses {
		if err := s.TrackAddress(ctx, addr); err != nil {
			s.logger.ErrorWithRequest(addr, "Failed to track configured request: %v", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	healthServer := health.NewServer(s.config.MetricsPort, s, s.config.MetricsAPIKey, s.logger)
	g.Go(func() error {
		return healthServer.Start(gctx)
	})

	g.Go(func() error {
		return s.stats.Run(gctx, s.scanner)
	})

	s.gas.Start(gctx)
	defer s.gas.Stop()

	heads := make(chan models.Head, headBuffer)
	g.Go(func() error {
		s.poller.Run(gctx, heads)
		return nil
	})

	g.Go(func() error {
		s.logger.Info("Starting TimeNode with polling interval %v", s.config.PollingInterval)
		for {
			select {
			case <-gctx.Done():
				s.logger.Info("Context cancelled, shutting down service")
				return nil
			case head := <-heads:
				s.handleHead(gctx, head)
			}
		}
	})

	return g.Wait()
}

// handleHead runs one scanner tick
func (s *Service) handleHead(ctx context.Context, head models.Head) {
	err := s.scanner.ScanTick(ctx, head)
	switch {
	case err == nil:
	case errors.Is(err, scanner.ErrStaleTick):
		s.logger.Debug("Skipping block %d: %v", head.Block, err)
	case ctx.Err() != nil:
	default:
		s.logger.Error("Block %d: %v", head.Block, err)
	}
}

// Ready reports whether the service has processed a chain head
func (s *Service) Ready() error {
	if _, ok := s.scanner.LastHead(); !ok {
		return errors.New("no chain head processed yet")
	}
	if s.breaker.IsOpen() {
		return errors.New("circuit breaker is open")
	}
	return nil
}

// LastHead returns the last processed chain head
func (s *Service) LastHead() (models.Head, bool) {
	return s.scanner.LastHead()
}

// Window returns the bucket window of the last processed head
func (s *Service) Window() bucket.Window {
	return s.scanner.Window()
}

// Requests returns a snapshot of the tracked requests
func (s *Service) Requests() []models.TxRequest {
	return s.cache.Snapshot()
}

// TrackAddress reads a request from the chain and starts tracking it
func (s *Service) TrackAddress(ctx context.Context, address common.Address) error {
	return s.scanner.TrackAddress(ctx, address)
}

// UntrackRequest stops tracking a request
func (s *Service) UntrackRequest(address common.Address) bool {
	return s.scanner.UntrackRequest(address)
}

// Accounts returns the state of every agent account
func (s *Service) Accounts() []wallet.AccountState {
	return s.guard.States()
}

// Stats returns the action counters
func (s *Service) Stats() stats.Summary {
	return s.stats.Summary()
}

// BreakerState returns the circuit breaker state
func (s *Service) BreakerState() circuitbreaker.State {
	return s.breaker.GetState()
}

// ResetBreaker closes the circuit breaker
func (s *Service) ResetBreaker() {
	s.breaker.Reset()
}
