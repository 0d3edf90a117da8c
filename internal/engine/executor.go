package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"CurveLedger/internal/errs"
	fpmath "CurveLedger/internal/math"
	"CurveLedger/internal/model"
	"CurveLedger/internal/store"
)

// PlatformRewardsScope is the scope of the shared rewards pool that
// collects unattributed referral fees and sell fees.
const PlatformRewardsScope = "platform"

// TradeResult is the committed outcome of a buy or sell.
type TradeResult struct {
	Curve  *model.Curve
	Holder *model.Holder
	Event  *model.TradeEvent
	Split  Split
}

// Buy purchases keys keys for participantID on curveID. The gross cost
// is the exact curve integral over [supply, supply+keys); the fee
// split routes ReserveBps of it into the reserve and the rest to the
// project/platform/referral/rewards buckets.
//
// The read-compute-commit cycle runs under optimistic concurrency:
// a version conflict re-reads fresh state and recomputes, bounded by
// MaxTradeRetries.
func (e *Engine) Buy(ctx context.Context, curveID uuid.UUID, participantID string, keys int64, referrerID string) (*TradeResult, error) {
	const op = "engine.Buy"
	start := e.now()

	if err := e.validateTrade(op, participantID, keys, referrerID); err != nil {
		e.countRejected(model.EventKindBuy, "validation")
		return nil, err
	}

	res, err := e.withTradeRetries(ctx, op, func() (*TradeResult, error) {
		return e.buyOnce(ctx, op, curveID, participantID, keys, referrerID)
	})
	if err != nil {
		e.countRejected(model.EventKindBuy, string(errs.CodeOf(err)))
		return nil, err
	}

	e.afterTrade(ctx, res, referrerID)
	e.observeTrade(model.EventKindBuy, res, start)

	e.log.Info().
		Str("curve_id", curveID.String()).
		Str("participant_id", participantID).
		Int64("keys", keys).
		Int64("gross", res.Split.Sum()).
		Int64("supply", res.Curve.Supply).
		Int64("price", res.Curve.Price).
		Msg("buy committed")
	return res, nil
}

func (e *Engine) buyOnce(ctx context.Context, op string, curveID uuid.UUID, participantID string, keys int64, referrerID string) (*TradeResult, error) {
	c, err := e.getCurve(ctx, op, curveID)
	if err != nil {
		return nil, err
	}
	if c.State != model.CurveStateActive {
		return nil, errs.E(errs.CodeInvalidState, op, "curve is %s, trades require active", c.State)
	}

	gross, err := e.cfg.Pricing.Cost(c.Supply, c.Supply+keys)
	if err != nil {
		return nil, errs.Wrap(errs.CodeValidation, op, err, "cost for %d keys at supply %d", keys, c.Supply)
	}

	split := e.cfg.Fees.Apply(gross, referrerID != "")

	now := e.now()
	c.Supply += keys
	c.Reserve += split.Reserve
	newPrice, err := e.cfg.Pricing.Price(c.Supply)
	if err != nil {
		return nil, errs.Wrap(errs.CodeValidation, op, err, "price at supply %d", c.Supply)
	}
	c.Price = newPrice

	expectedCurveVersion := c.Version

	h, err := e.getHolder(ctx, curveID, participantID)
	var expectedHolderVersion int64
	switch {
	case errors.Is(err, store.ErrNotFound):
		h = &model.Holder{
			ID:            uuid.New(),
			CurveID:       curveID,
			ParticipantID: participantID,
			FirstBuyAt:    now,
		}
	case err != nil:
		return nil, errs.Wrap(errs.CodeExternalDependency, op, err, "load holder")
	default:
		expectedHolderVersion = h.Version
	}

	if h.Balance == 0 {
		c.HolderCount++
	}
	h.Balance += keys
	h.TotalInvested += gross
	h.AvgPrice = fpmath.ComputeAvgPrice(h.TotalInvested, h.Balance)
	h.UnrealizedPnl = fpmath.ComputeUnrealizedPnl(h.Balance, c.Price, h.AvgPrice)
	h.LastTradeAt = now

	event := &model.TradeEvent{
		ID:            uuid.New(),
		CurveID:       curveID,
		Kind:          model.EventKindBuy,
		Keys:          keys,
		Amount:        gross,
		Price:         c.Price,
		ParticipantID: participantID,
		ReferrerID:    referrerID,
		ReserveFee:    split.Reserve,
		ProjectFee:    split.Project,
		PlatformFee:   split.Platform,
		ReferralFee:   split.Referral,
		RewardsFee:    split.Rewards,
		Timestamp:     now,
	}

	if err := e.store.CommitTrade(ctx, &store.TradeCommit{
		Curve:                 c,
		ExpectedCurveVersion:  expectedCurveVersion,
		Holder:                h,
		ExpectedHolderVersion: expectedHolderVersion,
		Event:                 event,
	}); err != nil {
		return nil, e.mapCommitErr(op, err)
	}

	return &TradeResult{Curve: c, Holder: h, Event: event, Split: split}, nil
}

// Sell disposes keys keys back into the curve. The withdrawal is the
// ReserveBps share of the mirrored integral — the same share the buys
// deposited — so the reserve can never be overdrawn; SellFeeBps of the
// withdrawal is carved off into the rewards pool and the seller nets
// the remainder. P&L realizes against the cost-weighted average price.
func (e *Engine) Sell(ctx context.Context, curveID uuid.UUID, participantID string, keys int64) (*TradeResult, error) {
	const op = "engine.Sell"
	start := e.now()

	if err := e.validateTrade(op, participantID, keys, ""); err != nil {
		e.countRejected(model.EventKindSell, "validation")
		return nil, err
	}

	res, err := e.withTradeRetries(ctx, op, func() (*TradeResult, error) {
		return e.sellOnce(ctx, op, curveID, participantID, keys)
	})
	if err != nil {
		e.countRejected(model.EventKindSell, string(errs.CodeOf(err)))
		return nil, err
	}

	e.afterTrade(ctx, res, "")
	e.observeTrade(model.EventKindSell, res, start)

	e.log.Info().
		Str("curve_id", curveID.String()).
		Str("participant_id", participantID).
		Int64("keys", keys).
		Int64("payout", res.Event.Amount).
		Int64("supply", res.Curve.Supply).
		Int64("price", res.Curve.Price).
		Msg("sell committed")
	return res, nil
}

func (e *Engine) sellOnce(ctx context.Context, op string, curveID uuid.UUID, participantID string, keys int64) (*TradeResult, error) {
	c, err := e.getCurve(ctx, op, curveID)
	if err != nil {
		return nil, err
	}
	if c.State != model.CurveStateActive {
		return nil, errs.E(errs.CodeInvalidState, op, "curve is %s, trades require active", c.State)
	}
	if keys > c.Supply {
		return nil, errs.E(errs.CodeInsufficientBalance, op, "sell %d keys exceeds supply %d", keys, c.Supply)
	}

	h, err := e.getHolder(ctx, curveID, participantID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errs.E(errs.CodeInsufficientBalance, op, "participant holds no keys")
	}
	if err != nil {
		return nil, errs.Wrap(errs.CodeExternalDependency, op, err, "load holder")
	}
	if keys > h.Balance {
		return nil, errs.E(errs.CodeInsufficientBalance, op, "sell %d keys exceeds balance %d", keys, h.Balance)
	}

	gross, err := e.cfg.Pricing.Cost(c.Supply-keys, c.Supply)
	if err != nil {
		return nil, errs.Wrap(errs.CodeValidation, op, err, "cost for %d keys at supply %d", keys, c.Supply)
	}

	// Withdraw only the share the buys deposited. Clamp covers the
	// partition dust accumulated by the platform-anchor rounding.
	reserveOut := fpmath.ApplyBps(gross, e.cfg.Fees.ReserveBps)
	if reserveOut > c.Reserve {
		reserveOut = c.Reserve
	}
	sellFee := fpmath.ApplyBps(reserveOut, e.cfg.SellFeeBps)
	payout := reserveOut - sellFee

	now := e.now()
	expectedCurveVersion := c.Version
	expectedHolderVersion := h.Version

	c.Supply -= keys
	c.Reserve -= reserveOut
	newPrice, err := e.cfg.Pricing.Price(c.Supply)
	if err != nil {
		return nil, errs.Wrap(errs.CodeValidation, op, err, "price at supply %d", c.Supply)
	}
	c.Price = newPrice

	costBasis := fpmath.ComputeCostBasis(h.AvgPrice, keys)
	h.Balance -= keys
	h.RealizedPnl += payout - costBasis
	h.TotalInvested -= costBasis
	if h.TotalInvested < 0 {
		h.TotalInvested = 0
	}
	if h.Balance == 0 {
		h.AvgPrice = 0
		h.TotalInvested = 0
		h.UnrealizedPnl = 0
		c.HolderCount--
	} else {
		h.AvgPrice = fpmath.ComputeAvgPrice(h.TotalInvested, h.Balance)
		h.UnrealizedPnl = fpmath.ComputeUnrealizedPnl(h.Balance, c.Price, h.AvgPrice)
	}
	h.LastTradeAt = now

	event := &model.TradeEvent{
		ID:            uuid.New(),
		CurveID:       curveID,
		Kind:          model.EventKindSell,
		Keys:          keys,
		Amount:        payout,
		Price:         c.Price,
		ParticipantID: participantID,
		RewardsFee:    sellFee,
		Timestamp:     now,
	}

	if err := e.store.CommitTrade(ctx, &store.TradeCommit{
		Curve:                 c,
		ExpectedCurveVersion:  expectedCurveVersion,
		Holder:                h,
		ExpectedHolderVersion: expectedHolderVersion,
		Event:                 event,
	}); err != nil {
		return nil, e.mapCommitErr(op, err)
	}

	return &TradeResult{Curve: c, Holder: h, Event: event, Split: Split{Rewards: sellFee}}, nil
}

func (e *Engine) validateTrade(op, participantID string, keys int64, referrerID string) error {
	if participantID == "" {
		return errs.E(errs.CodeValidation, op, "participant id required")
	}
	if keys < e.cfg.MinTradeKeys {
		return errs.E(errs.CodeValidation, op, "keys %d below minimum %d", keys, e.cfg.MinTradeKeys)
	}
	if referrerID != "" && referrerID == participantID {
		return errs.E(errs.CodeValidation, op, "self-referral not allowed")
	}
	return nil
}

// withTradeRetries re-runs fn against fresh state on version conflicts
// until it succeeds, fails for another reason, or the budget runs out.
func (e *Engine) withTradeRetries(ctx context.Context, op string, fn func() (*TradeResult, error)) (*TradeResult, error) {
	var lastErr error
	for attempt := 0; attempt < e.cfg.MaxTradeRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, errs.Wrap(errs.CodeExternalDependency, op, err, "trade aborted")
		}
		res, err := fn()
		if err == nil {
			return res, nil
		}
		if !errs.HasCode(err, errs.CodeConcurrencyConflict) {
			return nil, err
		}
		lastErr = err
		if e.metrics != nil {
			e.metrics.ConflictRetries.Inc()
		}
	}
	if e.metrics != nil {
		e.metrics.ConflictExhausted.Inc()
	}
	return nil, errs.Wrap(errs.CodeConcurrencyConflict, op, lastErr,
		"contention exceeded %d retries", e.cfg.MaxTradeRetries)
}

func (e *Engine) getCurve(ctx context.Context, op string, curveID uuid.UUID) (*model.Curve, error) {
	c, err := retryRead(ctx, e.cfg.MaxReadRetries, func() (*model.Curve, error) {
		return e.store.GetCurve(ctx, curveID)
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, errs.E(errs.CodeNotFound, op, "curve %s not found", curveID)
	}
	if err != nil {
		return nil, errs.Wrap(errs.CodeExternalDependency, op, err, "load curve")
	}
	return c, nil
}

// getHolder reads one position with the read-retry discipline. The
// raw store sentinel is preserved so callers can branch on not-found.
func (e *Engine) getHolder(ctx context.Context, curveID uuid.UUID, participantID string) (*model.Holder, error) {
	return retryRead(ctx, e.cfg.MaxReadRetries, func() (*model.Holder, error) {
		return e.store.GetHolder(ctx, curveID, participantID)
	})
}

func (e *Engine) mapCommitErr(op string, err error) error {
	if errors.Is(err, store.ErrVersionConflict) {
		return errs.Wrap(errs.CodeConcurrencyConflict, op, err, "stale state")
	}
	return errs.Wrap(errs.CodeExternalDependency, op, err, "commit trade")
}

// afterTrade records the referral and rewards-pool side effects.
// These are best-effort bookkeeping outside the atomic trade commit:
// the event log carries the authoritative fee buckets, so a failure
// here is logged and the trade stands.
func (e *Engine) afterTrade(ctx context.Context, res *TradeResult, referrerID string) {
	ev := res.Event

	if referrerID != "" && res.Split.Referral > 0 {
		ref := &model.Referral{
			ID:             uuid.New(),
			CurveID:        ev.CurveID,
			ReferrerID:     referrerID,
			ReferredID:     ev.ParticipantID,
			Action:         ev.Kind,
			GrossAmount:    res.Split.Sum(),
			ReserveAmount:  res.Split.Reserve,
			ProjectAmount:  res.Split.Project,
			PlatformAmount: res.Split.Platform,
			ReferralAmount: res.Split.Referral,
			Timestamp:      ev.Timestamp,
		}
		if err := e.store.CreateReferral(ctx, ref); err != nil {
			e.countStoreError("create_referral")
			e.log.Error().Err(err).Str("curve_id", ev.CurveID.String()).Msg("referral record failed")
		}
	}

	if res.Split.Rewards > 0 {
		source := "referral_redirect"
		if ev.Kind == model.EventKindSell {
			source = "sell_fee"
		}
		if err := e.depositRewards(ctx, PlatformRewardsScope, res.Split.Rewards, ev.Timestamp); err != nil {
			e.countStoreError("rewards_deposit")
			e.log.Error().Err(err).Str("curve_id", ev.CurveID.String()).Msg("rewards deposit failed")
		} else if e.metrics != nil {
			e.metrics.RewardsDeposited.WithLabelValues(source).Add(float64(res.Split.Rewards))
		}
	}
}

// depositRewards applies a CAS-retried deposit into the scoped pool.
func (e *Engine) depositRewards(ctx context.Context, scope string, amount int64, at time.Time) error {
	for attempt := 0; attempt < e.cfg.MaxTradeRetries; attempt++ {
		pool, err := retryRead(ctx, e.cfg.MaxReadRetries, func() (*model.RewardsPool, error) {
			return e.store.GetRewardsPool(ctx, scope)
		})
		if errors.Is(err, store.ErrNotFound) {
			pool = &model.RewardsPool{
				ID:        uuid.New(),
				Scope:     scope,
				CreatedAt: at,
				UpdatedAt: at,
			}
		} else if err != nil {
			return err
		}
		expected := pool.Version
		pool.Deposit(amount, at)
		err = e.store.UpsertRewardsPool(ctx, pool, expected)
		if errors.Is(err, store.ErrVersionConflict) {
			continue
		}
		return err
	}
	return store.ErrVersionConflict
}

func (e *Engine) countRejected(kind model.EventKind, reason string) {
	if e.metrics != nil {
		e.metrics.TradesRejected.WithLabelValues(string(kind), reason).Inc()
	}
}

func (e *Engine) countStoreError(op string) {
	if e.metrics != nil {
		e.metrics.StoreErrors.WithLabelValues(op).Inc()
	}
}

func (e *Engine) observeTrade(kind model.EventKind, res *TradeResult, start time.Time) {
	if e.metrics == nil {
		return
	}
	k := string(kind)
	e.metrics.TradesApplied.WithLabelValues(k).Inc()
	e.metrics.TradeDuration.WithLabelValues(k).Observe(e.now().Sub(start).Seconds())
	e.metrics.TradeKeys.WithLabelValues(k).Add(float64(res.Event.Keys))
	e.metrics.TradeVolume.WithLabelValues(k).Add(float64(res.Event.Amount))

	s := res.Split
	for bucket, amount := range map[string]int64{
		"reserve":  s.Reserve,
		"project":  s.Project,
		"platform": s.Platform,
		"referral": s.Referral,
		"rewards":  s.Rewards,
	} {
		if amount > 0 {
			e.metrics.FeeBucketTotal.WithLabelValues(bucket).Add(float64(amount))
		}
	}
}
