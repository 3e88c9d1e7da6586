package chainclient

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/logger"
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/metrics"
)

// DefaultGasMultiplier pads the suggested gas price by 10%
const DefaultGasMultiplier = 1.1

// GasPriceSuggester returns the node's suggested gas price
type GasPriceSuggester interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// GasPriceRoutine periodically refreshes the network gas price. The raw
// suggestion is the minimum the execution policy accepts; the padded price is
// what the agent bids for its own claims.
type GasPriceRoutine struct {
	source     GasPriceSuggester
	interval   time.Duration
	multiplier float64
	logger     logger.Logger

	mu       sync.RWMutex
	network  *big.Int
	price    *big.Int
	stopChan chan struct{}
	running  bool
}

// NewGasPriceRoutine creates a gas price routine. A non-positive multiplier
// falls back to DefaultGasMultiplier.
func NewGasPriceRoutine(source GasPriceSuggester, interval time.Duration, multiplier float64, log logger.Logger) *GasPriceRoutine {
	if multiplier <= 0 {
		multiplier = DefaultGasMultiplier
	}
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &GasPriceRoutine{
		source:     source,
		interval:   interval,
		multiplier: multiplier,
		logger:     log,
	}
}

// Start begins the periodic updates
func (r *GasPriceRoutine) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return
	}

	r.stopChan = make(chan struct{})
	r.running = true

	go r.run(ctx, r.stopChan)
}

// Stop halts the periodic updates
func (r *GasPriceRoutine) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}

	close(r.stopChan)
	r.stopChan = nil
	r.running = false
}

// IsRunning returns whether the routine is currently running
func (r *GasPriceRoutine) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// GasPrice returns the last suggested gas price with the multiplier applied,
// or nil before the first update
func (r *GasPriceRoutine) GasPrice() *big.Int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyPrice(r.price)
}

// NetworkGasPrice returns the last suggested gas price as reported by the node
func (r *GasPriceRoutine) NetworkGasPrice() *big.Int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyPrice(r.network)
}

func copyPrice(p *big.Int) *big.Int {
	if p == nil {
		return nil
	}
	return new(big.Int).Set(p)
}

func (r *GasPriceRoutine) run(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	if err := r.Update(ctx); err != nil {
		r.logger.Error("%v", err)
	}

	for {
		select {
		case <-ticker.C:
			if err := r.Update(ctx); err != nil {
				r.logger.Error("%v", err)
			}
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Update fetches the suggested gas price once and stores it with and without the multiplier
func (r *GasPriceRoutine) Update(ctx context.Context) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	suggested, err := r.source.SuggestGasPrice(timeoutCtx)
	if err != nil {
		return fmt.Errorf("failed to update gas price: %w", err)
	}

	price := applyMultiplier(suggested, r.multiplier)

	r.mu.Lock()
	r.network = new(big.Int).Set(suggested)
	r.price = price
	r.mu.Unlock()

	gwei, _ := new(big.Float).Quo(new(big.Float).SetInt(suggested), big.NewFloat(1e9)).Float64()
	metrics.GasPrice.Set(gwei)
	r.logger.Debug("Updated network gas price: %.2f gwei", gwei)
	return nil
}

func applyMultiplier(price *big.Int, multiplier float64) *big.Int {
	multiplied := new(big.Float).Mul(new(big.Float).SetInt(price), big.NewFloat(multiplier))
	out, _ := multiplied.Int(nil)
	return out
}
