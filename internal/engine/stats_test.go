package engine

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CurveLedger/internal/chain"
	"CurveLedger/internal/errs"
	"CurveLedger/internal/model"
	"CurveLedger/internal/store"
)

// newClockedEngine returns an engine whose clock the test can advance.
func newClockedEngine(t *testing.T) (*Engine, *store.Memory, *time.Time) {
	t.Helper()

	cfg := Default()
	cfg.MaxTradeRetries = 64
	st := store.NewMemory()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	eng := New(cfg, st, chain.Noop{}, zerolog.Nop(),
		WithClock(func() time.Time { return now }))
	return eng, st, &now
}

func TestPriceChangeOverWindow(t *testing.T) {
	eng, _, now := newClockedEngine(t)
	ctx := context.Background()
	c := newActiveCurve(t, eng, "owner-1")

	first := buyKeys(t, eng, c, "alice", 10)
	p1 := first.Event.Price

	*now = now.Add(48 * time.Hour)
	second := buyKeys(t, eng, c, "alice", 10)
	p2 := second.Event.Price

	change, err := eng.PriceChange(ctx, c.ID, 24*time.Hour)
	require.NoError(t, err)

	want := decimal.NewFromInt(p2 - p1).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(p1))
	assert.True(t, change.Equal(want), "got %s, want %s", change, want)
	assert.True(t, change.IsPositive(), "buys push the price up")
}

func TestPriceChangeAnchorsOnBasePrice(t *testing.T) {
	eng, _, _ := newClockedEngine(t)
	ctx := context.Background()
	c := newActiveCurve(t, eng, "owner-1")

	// No trade predates the window: the base price is the reference.
	buyKeys(t, eng, c, "alice", 10)

	cur, err := eng.Curve(ctx, c.ID)
	require.NoError(t, err)

	change, err := eng.PriceChange(ctx, c.ID, 24*time.Hour)
	require.NoError(t, err)

	want := decimal.NewFromInt(cur.Price - cur.BasePrice).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(cur.BasePrice))
	assert.True(t, change.Equal(want), "got %s, want %s", change, want)
}

func TestPriceChangeNoTrades(t *testing.T) {
	eng, _, _ := newClockedEngine(t)
	c := newActiveCurve(t, eng, "owner-1")

	change, err := eng.PriceChange(context.Background(), c.ID, 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, change.IsZero())
}

func TestVolumeWindow(t *testing.T) {
	eng, _, now := newClockedEngine(t)
	ctx := context.Background()
	c := newActiveCurve(t, eng, "owner-1")

	old := buyKeys(t, eng, c, "alice", 10)
	*now = now.Add(48 * time.Hour)
	recent := buyKeys(t, eng, c, "bob", 5)

	vol24, err := eng.Volume(ctx, c.ID, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, recent.Event.Amount, vol24)

	volAll, err := eng.Volume(ctx, c.ID, 100*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, old.Event.Amount+recent.Event.Amount, volAll)
}

func TestCurveStats(t *testing.T) {
	eng, _, now := newClockedEngine(t)
	ctx := context.Background()
	c := newActiveCurve(t, eng, "owner-1")

	old := buyKeys(t, eng, c, "alice", 10)
	*now = now.Add(48 * time.Hour)
	recent := buyKeys(t, eng, c, "bob", 5)
	sell, err := eng.Sell(ctx, c.ID, "alice", 2)
	require.NoError(t, err)

	stats, err := eng.CurveStats(ctx, c.ID)
	require.NoError(t, err)

	assert.Equal(t, int64(13), stats.Supply)
	assert.Equal(t, int64(2), stats.HolderCount)
	assert.Equal(t, int64(3), stats.TradeCount)
	assert.Equal(t, int64(2), stats.UniqueTraders)
	assert.Equal(t, old.Event.Amount+recent.Event.Amount+sell.Event.Amount, stats.TotalVolume)
	assert.Equal(t, recent.Event.Amount+sell.Event.Amount, stats.Volume24h)
}

func TestEventsFilterByKind(t *testing.T) {
	eng, st := newTestEngine(t)
	ctx := context.Background()
	c := newActiveCurve(t, eng, "owner-1")

	buyKeys(t, eng, c, "alice", 10)
	_, err := eng.Sell(ctx, c.ID, "alice", 3)
	require.NoError(t, err)

	buys, err := eng.Events(ctx, store.EventFilter{
		CurveID: c.ID,
		Kinds:   []model.EventKind{model.EventKindBuy},
	})
	require.NoError(t, err)
	require.Len(t, buys, 1)
	assert.Equal(t, model.EventKindBuy, buys[0].Kind)

	all, err := st.ListEvents(ctx, store.EventFilter{CurveID: c.ID})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = eng.Events(ctx, store.EventFilter{
		CurveID: c.ID,
		Kinds:   []model.EventKind{"airdrop"},
	})
	assert.True(t, errs.HasCode(err, errs.CodeValidation), "unknown kind rejected, got %v", err)
}
