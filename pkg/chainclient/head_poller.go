package chainclient

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/logger"
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/models"
)

// HeaderSource returns block headers; a nil number means the latest block
type HeaderSource interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// HeadPoller turns the latest chain header into a stream of strictly increasing heads
type HeadPoller struct {
	source   HeaderSource
	interval time.Duration
	logger   logger.Logger

	mu      sync.Mutex
	last    models.Head
	started bool
}

// NewHeadPoller creates a head poller
func NewHeadPoller(source HeaderSource, interval time.Duration, log logger.Logger) *HeadPoller {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &HeadPoller{
		source:   source,
		interval: interval,
		logger:   log,
	}
}

// Poll fetches the latest header. It reports false when the head did not
// move past the last one returned.
func (p *HeadPoller) Poll(ctx context.Context) (models.Head, bool, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	header, err := p.source.HeaderByNumber(timeoutCtx, nil)
	if err != nil {
		return models.Head{}, false, fmt.Errorf("failed to get latest header: %w", err)
	}
	if header == nil || header.Number == nil {
		return models.Head{}, false, fmt.Errorf("node returned an empty header")
	}

	head := models.Head{Block: header.Number.Uint64(), Timestamp: header.Time}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started && head.Block <= p.last.Block {
		return p.last, false, nil
	}
	p.last = head
	p.started = true
	return head, true, nil
}

// Run polls until ctx is done and sends every new head to out
func (p *HeadPoller) Run(ctx context.Context, out chan<- models.Head) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("Head poller started, polling every %s", p.interval)
	for {
		head, fresh, err := p.Poll(ctx)
		switch {
		case err != nil:
			p.logger.Error("Failed to poll chain head: %v", err)
		case fresh:
			select {
			case out <- head:
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-ctx.Done():
			p.logger.Info("Head poller shutting down")
			return
		case <-ticker.C:
		}
	}
}
