package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for CurveLedger.
type Metrics struct {
	// --- Trading ---
	TradesApplied     *prometheus.CounterVec
	TradesRejected    *prometheus.CounterVec
	TradeDuration     *prometheus.HistogramVec
	TradeKeys         *prometheus.CounterVec
	TradeVolume       *prometheus.CounterVec
	ConflictRetries   prometheus.Counter
	ConflictExhausted prometheus.Counter

	// --- Fees ---
	FeeBucketTotal *prometheus.CounterVec

	// --- Lifecycle ---
	CurvesCreated  prometheus.Counter
	CurvesFrozen   prometheus.Counter
	CurvesLaunched prometheus.Counter
	FreezeRejected *prometheus.CounterVec

	// --- Distribution ---
	SnapshotsTaken       prometheus.Counter
	DistributionAttempts prometheus.Counter
	DistributionFailures prometheus.Counter
	DistributionDuration prometheus.Histogram
	TokensDistributed    prometheus.Counter

	// --- Persistence ---
	StoreErrors *prometheus.CounterVec

	// --- Rewards ---
	RewardsDeposited *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	tradeBuckets := []float64{
		0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005,
		0.01, 0.025, 0.05, 0.1, 0.25, 0.5,
	}

	return &Metrics{
		TradesApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "curve_trades_applied_total",
			Help: "Trades successfully committed",
		}, []string{"kind"}),

		TradesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "curve_trades_rejected_total",
			Help: "Trades rejected (validation, state, balance, conflict)",
		}, []string{"kind", "reason"}),

		TradeDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "curve_trade_duration_seconds",
			Help:    "End-to-end trade execution time including retries",
			Buckets: tradeBuckets,
		}, []string{"kind"}),

		TradeKeys: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "curve_trade_keys_total",
			Help: "Keys bought/sold",
		}, []string{"kind"}),

		TradeVolume: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "curve_trade_volume_total",
			Help: "Gross trade volume in smallest currency units",
		}, []string{"kind"}),

		ConflictRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "curve_trade_conflict_retries_total",
			Help: "Optimistic concurrency retries",
		}),

		ConflictExhausted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "curve_trade_conflict_exhausted_total",
			Help: "Trades failed after exhausting the retry budget",
		}),

		FeeBucketTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "curve_fee_bucket_total",
			Help: "Fee amounts by bucket (reserve, project, platform, referral, rewards)",
		}, []string{"bucket"}),

		CurvesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "curve_curves_created_total",
			Help: "Curves created",
		}),

		CurvesFrozen: promauto.NewCounter(prometheus.CounterOpts{
			Name: "curve_curves_frozen_total",
			Help: "Curves frozen for launch",
		}),

		CurvesLaunched: promauto.NewCounter(prometheus.CounterOpts{
			Name: "curve_curves_launched_total",
			Help: "Curves launched (terminal)",
		}),

		FreezeRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "curve_freeze_rejected_total",
			Help: "Freeze attempts rejected by a launch gate",
		}, []string{"gate"}),

		SnapshotsTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "curve_snapshots_taken_total",
			Help: "Holder snapshots created",
		}),

		DistributionAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "curve_distribution_attempts_total",
			Help: "Token distribution attempts",
		}),

		DistributionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "curve_distribution_failures_total",
			Help: "Token distribution failures after retry exhaustion",
		}),

		DistributionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "curve_distribution_duration_seconds",
			Help:    "Snapshot-to-distribution completion time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0, 30.0},
		}),

		TokensDistributed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "curve_tokens_distributed_total",
			Help: "Tokens allocated to participants across launches",
		}),

		StoreErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "curve_store_errors_total",
			Help: "Store operation errors",
		}, []string{"op"}),

		RewardsDeposited: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "curve_rewards_deposited_total",
			Help: "Amounts deposited into rewards pools",
		}, []string{"source"}),
	}
}
