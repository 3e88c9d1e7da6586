package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring
var (
	// Outcomes counts every processed request by action kind and outcome code
	Outcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "timenode_outcomes_total",
		Help: "The total number of request outcomes by action kind and code",
	}, []string{"kind", "code"})

	TrackedRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "timenode_tracked_requests",
		Help: "The number of scheduled requests currently tracked",
	})

	DueRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "timenode_due_requests",
		Help: "The number of requests due in the last processed tick",
	})

	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "timenode_tick_duration_seconds",
		Help:    "Time taken to process one chain tick",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // Start at 10ms with 12 buckets doubling in size
	})

	LastProcessedBlock = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "timenode_last_processed_block",
		Help: "Block number of the last processed tick",
	})

	PromotedRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "timenode_promoted_requests_total",
		Help: "Number of requests moved forward into the current bucket",
	})

	StaleEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "timenode_stale_evictions_total",
		Help: "Number of requests evicted because they no longer resolve on chain",
	})

	RefreshErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "timenode_refresh_errors_total",
		Help: "Total number of failed on-chain request reads by type",
	}, []string{"error_type"})

	BusyAccounts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "timenode_busy_accounts",
		Help: "The number of accounts with an action in flight",
	})

	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "timenode_submissions_total",
		Help: "The total number of submitted actions by kind and result",
	}, []string{"kind", "result"})

	PendingSubmissions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "timenode_pending_submissions",
		Help: "The number of submitted transactions waiting for a receipt",
	})

	NonceResyncs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "timenode_nonce_resyncs_total",
		Help: "Number of nonce resynchronisations with the chain by account",
	}, []string{"account"})

	GasPrice = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "timenode_gas_price_gwei",
		Help: "Current suggested gas price in gwei",
	})

	CircuitBreakerTrips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "timenode_circuit_breaker_trips_total",
		Help: "Number of times the submission circuit breaker tripped",
	})
)
