package engine

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"CurveLedger/internal/chain"
	"CurveLedger/internal/model"
	"CurveLedger/internal/store"
)

// newTestEngine builds an engine on the in-memory store with a
// generous retry budget so contention tests cannot flake.
func newTestEngine(t *testing.T, mutate ...func(*Config)) (*Engine, *store.Memory) {
	t.Helper()

	cfg := Default()
	cfg.MaxTradeRetries = 64
	for _, m := range mutate {
		m(&cfg)
	}
	require.NoError(t, cfg.Fees.Validate())
	require.NoError(t, cfg.Pricing.Validate())

	st := store.NewMemory()
	eng := New(cfg, st, chain.Noop{}, zerolog.Nop())
	return eng, st
}

func newActiveCurve(t *testing.T, eng *Engine, ownerID string) *model.Curve {
	t.Helper()
	c, err := eng.CreateCurve(context.Background(), model.OwnerTypeUser, ownerID)
	require.NoError(t, err)
	require.Equal(t, model.CurveStateActive, c.State)
	return c
}

// buyKeys is a test shortcut for a referral-less buy.
func buyKeys(t *testing.T, eng *Engine, c *model.Curve, participantID string, keys int64) *TradeResult {
	t.Helper()
	res, err := eng.Buy(context.Background(), c.ID, participantID, keys, "")
	require.NoError(t, err)
	return res
}

// fundForLaunch pushes a curve past every launch gate: four holders
// and enough keys that the reserve clears the minimum.
func fundForLaunch(t *testing.T, eng *Engine, c *model.Curve) {
	t.Helper()
	buyKeys(t, eng, c, "alice", 60)
	buyKeys(t, eng, c, "bob", 30)
	buyKeys(t, eng, c, "carol", 10)
	buyKeys(t, eng, c, "dave", 100)
}
