package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CurveLedger/internal/chain"
	"CurveLedger/internal/errs"
	fpmath "CurveLedger/internal/math"
	"CurveLedger/internal/model"
	"CurveLedger/internal/store"
)

func TestBuyFirstKey(t *testing.T) {
	eng, _ := newTestEngine(t)
	c := newActiveCurve(t, eng, "owner-1")

	res, err := eng.Buy(context.Background(), c.ID, "alice", 1, "")
	require.NoError(t, err)

	gross, err := eng.Config().Pricing.Cost(0, 1)
	require.NoError(t, err)
	assert.Equal(t, eng.Config().Pricing.BasePrice, gross, "first key costs exactly the base price")

	assert.Equal(t, int64(1), res.Curve.Supply)
	assert.Equal(t, int64(1), res.Curve.HolderCount)
	assert.Equal(t, fpmath.ApplyBps(gross, eng.Config().Fees.ReserveBps), res.Curve.Reserve)

	wantPrice, err := eng.Config().Pricing.Price(1)
	require.NoError(t, err)
	assert.Equal(t, wantPrice, res.Curve.Price, "price recomputed from new supply")

	assert.Equal(t, int64(1), res.Holder.Balance)
	assert.Equal(t, gross, res.Holder.TotalInvested)
	assert.Equal(t, gross, res.Holder.AvgPrice)
	assert.Equal(t, wantPrice-gross, res.Holder.UnrealizedPnl)

	assert.Equal(t, model.EventKindBuy, res.Event.Kind)
	assert.Equal(t, gross, res.Event.Amount)
	assert.Equal(t, gross, res.Split.Sum(), "fee buckets partition the gross exactly")
}

func TestBuyAccumulatesPosition(t *testing.T) {
	eng, _ := newTestEngine(t)
	c := newActiveCurve(t, eng, "owner-1")

	first := buyKeys(t, eng, c, "alice", 10)
	second := buyKeys(t, eng, c, "alice", 5)

	wantInvested := first.Event.Amount + second.Event.Amount
	assert.Equal(t, int64(15), second.Holder.Balance)
	assert.Equal(t, wantInvested, second.Holder.TotalInvested)
	assert.Equal(t, fpmath.ComputeAvgPrice(wantInvested, 15), second.Holder.AvgPrice)
	assert.Equal(t, int64(1), second.Curve.HolderCount, "same participant counts once")
}

func TestBuySecondKeyCostsMore(t *testing.T) {
	eng, _ := newTestEngine(t)
	c := newActiveCurve(t, eng, "owner-1")

	first := buyKeys(t, eng, c, "alice", 1)
	second := buyKeys(t, eng, c, "alice", 1)
	assert.Greater(t, second.Event.Amount, first.Event.Amount)
}

func TestBuyWithReferrer(t *testing.T) {
	eng, st := newTestEngine(t)
	c := newActiveCurve(t, eng, "owner-1")

	res, err := eng.Buy(context.Background(), c.ID, "alice", 10, "bob")
	require.NoError(t, err)
	assert.Positive(t, res.Split.Referral)
	assert.Zero(t, res.Split.Rewards)

	refs := st.Referrals()
	require.Len(t, refs, 1)
	assert.Equal(t, "bob", refs[0].ReferrerID)
	assert.Equal(t, "alice", refs[0].ReferredID)
	assert.Equal(t, res.Split.Referral, refs[0].ReferralAmount)

	_, err = st.GetRewardsPool(context.Background(), PlatformRewardsScope)
	assert.ErrorIs(t, err, store.ErrNotFound, "attributed referral leaves the rewards pool untouched")
}

func TestBuyWithoutReferrerFeedsRewardsPool(t *testing.T) {
	eng, st := newTestEngine(t)
	c := newActiveCurve(t, eng, "owner-1")

	res := buyKeys(t, eng, c, "alice", 10)
	require.Positive(t, res.Split.Rewards, "referral bucket redirected")

	pool, err := st.GetRewardsPool(context.Background(), PlatformRewardsScope)
	require.NoError(t, err)
	assert.Equal(t, res.Split.Rewards, pool.Balance)
	assert.Empty(t, st.Referrals())
}

func TestBuySelfReferralRejected(t *testing.T) {
	eng, _ := newTestEngine(t)
	c := newActiveCurve(t, eng, "owner-1")

	_, err := eng.Buy(context.Background(), c.ID, "alice", 1, "alice")
	assert.True(t, errs.HasCode(err, errs.CodeValidation))
}

func TestBuyBelowMinimumKeys(t *testing.T) {
	eng, _ := newTestEngine(t)
	c := newActiveCurve(t, eng, "owner-1")

	_, err := eng.Buy(context.Background(), c.ID, "alice", 0, "")
	assert.True(t, errs.HasCode(err, errs.CodeValidation))
}

func TestSellRealizesPnl(t *testing.T) {
	eng, st := newTestEngine(t)
	c := newActiveCurve(t, eng, "owner-1")

	buy := buyKeys(t, eng, c, "alice", 10)
	avgPrice := buy.Holder.AvgPrice

	res, err := eng.Sell(context.Background(), c.ID, "alice", 4)
	require.NoError(t, err)

	costBasis := fpmath.ComputeCostBasis(avgPrice, 4)
	assert.Equal(t, res.Event.Amount-costBasis, res.Holder.RealizedPnl)
	assert.Equal(t, int64(6), res.Holder.Balance)
	assert.Equal(t, int64(6), res.Curve.Supply)
	assert.Equal(t, int64(1), res.Curve.HolderCount)
	assert.GreaterOrEqual(t, res.Curve.Reserve, int64(0))

	pool, err := st.GetRewardsPool(context.Background(), PlatformRewardsScope)
	require.NoError(t, err)
	assert.Equal(t, buy.Split.Rewards+res.Event.RewardsFee, pool.Balance,
		"sell fee lands in the rewards pool")
}

func TestSellFullPositionZeroesHolder(t *testing.T) {
	eng, _ := newTestEngine(t)
	c := newActiveCurve(t, eng, "owner-1")

	buyKeys(t, eng, c, "alice", 10)
	res, err := eng.Sell(context.Background(), c.ID, "alice", 10)
	require.NoError(t, err)

	assert.Zero(t, res.Holder.Balance)
	assert.Zero(t, res.Holder.AvgPrice)
	assert.Zero(t, res.Holder.TotalInvested)
	assert.Zero(t, res.Holder.UnrealizedPnl)
	assert.Zero(t, res.Curve.HolderCount)
	assert.Zero(t, res.Curve.Supply)
	assert.Equal(t, eng.Config().Pricing.BasePrice, res.Curve.Price,
		"price returns to the base price with the supply")
	assert.NotZero(t, res.Holder.RealizedPnl, "realized history survives")
}

func TestSellMoreThanBalance(t *testing.T) {
	eng, _ := newTestEngine(t)
	c := newActiveCurve(t, eng, "owner-1")

	buyKeys(t, eng, c, "alice", 5)
	_, err := eng.Sell(context.Background(), c.ID, "alice", 6)
	assert.True(t, errs.HasCode(err, errs.CodeInsufficientBalance))
}

func TestSellWithoutPosition(t *testing.T) {
	eng, _ := newTestEngine(t)
	c := newActiveCurve(t, eng, "owner-1")

	buyKeys(t, eng, c, "alice", 5)
	_, err := eng.Sell(context.Background(), c.ID, "mallory", 1)
	assert.True(t, errs.HasCode(err, errs.CodeInsufficientBalance))
}

func TestTradeRequiresActiveCurve(t *testing.T) {
	eng, _ := newTestEngine(t, func(cfg *Config) {
		cfg.MinReserveForLaunch = 1
		cfg.MinSupplyForLaunch = 1
		cfg.MinHoldersForLaunch = 1
	})
	c := newActiveCurve(t, eng, "owner-1")
	buyKeys(t, eng, c, "alice", 5)

	_, err := eng.Freeze(context.Background(), c.ID, "owner-1")
	require.NoError(t, err)

	_, err = eng.Buy(context.Background(), c.ID, "alice", 1, "")
	assert.True(t, errs.HasCode(err, errs.CodeInvalidState))
	_, err = eng.Sell(context.Background(), c.ID, "alice", 1)
	assert.True(t, errs.HasCode(err, errs.CodeInvalidState))
}

func TestTradeUnknownCurve(t *testing.T) {
	eng, _ := newTestEngine(t)
	c := newActiveCurve(t, eng, "owner-1")
	_ = c

	_, err := eng.Buy(context.Background(), uuid.New(), "alice", 1, "")
	assert.True(t, errs.HasCode(err, errs.CodeNotFound))
}

func TestConcurrentBuysSerialize(t *testing.T) {
	eng, st := newTestEngine(t)
	c := newActiveCurve(t, eng, "owner-1")

	const buyers = 20
	var wg sync.WaitGroup
	errCh := make(chan error, buyers)

	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := eng.Buy(context.Background(), c.ID, fmt.Sprintf("p-%02d", i), 1, "")
			errCh <- err
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	final, err := st.GetCurve(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(buyers), final.Supply, "every buy applied exactly once")
	assert.Equal(t, int64(buyers), final.HolderCount)

	events, err := st.ListEvents(context.Background(), store.EventFilter{CurveID: c.ID})
	require.NoError(t, err)
	assert.Len(t, events, buyers)

	var reserveFromEvents int64
	for _, ev := range events {
		reserveFromEvents += ev.ReserveFee
	}
	assert.Equal(t, reserveFromEvents, final.Reserve, "reserve equals the sum of reserve fees")
}

// flakyStore fails GetCurve with a transient error while remaining is
// positive, then delegates to the in-memory store.
type flakyStore struct {
	*store.Memory
	remaining int32
	calls     int32
}

func (s *flakyStore) GetCurve(ctx context.Context, id uuid.UUID) (*model.Curve, error) {
	atomic.AddInt32(&s.calls, 1)
	if atomic.AddInt32(&s.remaining, -1) >= 0 {
		return nil, errors.New("connection reset by peer")
	}
	return s.Memory.GetCurve(ctx, id)
}

func TestBuyRetriesTransientReads(t *testing.T) {
	fs := &flakyStore{Memory: store.NewMemory()}
	eng := New(Default(), fs, chain.Noop{}, zerolog.Nop())
	c := newActiveCurve(t, eng, "owner-1")

	// Two connection blips, three read attempts budgeted: the buy
	// must ride them out instead of surfacing an error.
	atomic.StoreInt32(&fs.remaining, 2)

	res, err := eng.Buy(context.Background(), c.ID, "alice", 1, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Curve.Supply)
}

func TestReadRetriesExhausted(t *testing.T) {
	cfg := Default()
	fs := &flakyStore{Memory: store.NewMemory(), remaining: 1 << 30}
	eng := New(cfg, fs, chain.Noop{}, zerolog.Nop())

	_, err := eng.Buy(context.Background(), uuid.New(), "alice", 1, "")
	assert.True(t, errs.HasCode(err, errs.CodeExternalDependency), "got %v", err)
	assert.Equal(t, int32(cfg.MaxReadRetries), atomic.LoadInt32(&fs.calls),
		"reads retried up to the budget, then surfaced")
}

func TestReserveNeverNegative(t *testing.T) {
	eng, st := newTestEngine(t)
	c := newActiveCurve(t, eng, "owner-1")

	ctx := context.Background()
	buyKeys(t, eng, c, "alice", 7)
	buyKeys(t, eng, c, "bob", 3)

	for i := 0; i < 7; i++ {
		_, err := eng.Sell(ctx, c.ID, "alice", 1)
		require.NoError(t, err)
		cur, err := st.GetCurve(ctx, c.ID)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, cur.Reserve, int64(0))
	}
	_, err := eng.Sell(ctx, c.ID, "bob", 3)
	require.NoError(t, err)

	cur, err := st.GetCurve(ctx, c.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, cur.Reserve, int64(0))
	assert.Zero(t, cur.Supply)
}
