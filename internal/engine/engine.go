// Package engine implements the trading core: trade execution against
// the bonding curve, fee splitting, the curve lifecycle, and the
// snapshot/distribution path at launch.
package engine

import (
	"time"

	"github.com/rs/zerolog"

	"CurveLedger/internal/chain"
	"CurveLedger/internal/curve"
	fpmath "CurveLedger/internal/math"
	"CurveLedger/internal/observability"
	"CurveLedger/internal/store"
)

// Config carries every tunable of the trading core. All values are
// deployment configuration; Default() mirrors the production tuning.
type Config struct {
	Pricing curve.Params
	Fees    Weights

	// SellFeeBps is carved out of the seller's reserve withdrawal and
	// deposited into the rewards pool. Zero makes the spread fully
	// symmetric.
	SellFeeBps int64

	MinTradeKeys        int64
	MinSupplyForLaunch  int64
	MinHoldersForLaunch int64
	MinReserveForLaunch int64

	TotalTokenSupply   int64
	ParticipantPoolBps int64

	MaxTradeRetries int

	// MaxReadRetries bounds the backoff retry of idempotent store
	// reads; writes are never retried here.
	MaxReadRetries int
}

// Default returns the production defaults: 0.01 base price with a
// gentle quadratic ramp, 94/3/2/1 fee split, 5% sell fee, and the
// 79.3%/20.7% participant/liquidity token split.
func Default() Config {
	return Config{
		Pricing: curve.Params{
			BasePrice:  10_000_000, // 0.01
			LinearCoef: 300_000,    // 0.0003
			QuadCoef:   1_200,      // 0.0000012
		},
		Fees: Weights{
			ReserveBps:  9_400,
			ProjectBps:  300,
			PlatformBps: 200,
			ReferralBps: 100,
			RewardsBps:  0,
		},
		SellFeeBps:          500,
		MinTradeKeys:        1,
		MinSupplyForLaunch:  100,
		MinHoldersForLaunch: 4,
		MinReserveForLaunch: 10 * fpmath.AmountConfig.Scale,
		TotalTokenSupply:    1_000_000_000,
		ParticipantPoolBps:  7_930,
		MaxTradeRetries:     8,
		MaxReadRetries:      3,
	}
}

// Engine wires the pricing function, fee splitter, store, and
// distributor into the operations the service exposes.
type Engine struct {
	cfg     Config
	store   store.Store
	dist    chain.Distributor
	log     zerolog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

type Option func(*Engine)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func New(cfg Config, st store.Store, dist chain.Distributor, log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		cfg:   cfg,
		store: st,
		dist:  dist,
		log:   log,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Config() Config { return e.cfg }
