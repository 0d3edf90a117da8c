package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"CurveLedger/internal/errs"
	"CurveLedger/internal/model"
	"CurveLedger/internal/store"
)

// CreateCurve opens a new active curve for the owner. At most one
// curve exists per (ownerType, ownerID); a second create fails with
// AlreadyExists.
func (e *Engine) CreateCurve(ctx context.Context, ownerType model.OwnerType, ownerID string) (*model.Curve, error) {
	const op = "engine.CreateCurve"

	if !ownerType.Valid() {
		return nil, errs.E(errs.CodeValidation, op, "invalid owner type %q", ownerType)
	}
	if ownerID == "" {
		return nil, errs.E(errs.CodeValidation, op, "owner id required")
	}

	price, err := e.cfg.Pricing.Price(0)
	if err != nil {
		return nil, errs.Wrap(errs.CodeValidation, op, err, "base price")
	}

	c := &model.Curve{
		ID:        uuid.New(),
		OwnerType: ownerType,
		OwnerID:   ownerID,
		State:     model.CurveStateActive,
		Price:     price,
		BasePrice: e.cfg.Pricing.BasePrice,
		Version:   1,
		CreatedAt: e.now(),
	}

	if err := e.store.CreateCurve(ctx, c); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, errs.E(errs.CodeAlreadyExists, op, "curve exists for %s/%s", ownerType, ownerID)
		}
		return nil, errs.Wrap(errs.CodeExternalDependency, op, err, "create curve")
	}

	if e.metrics != nil {
		e.metrics.CurvesCreated.Inc()
	}
	e.log.Info().
		Str("curve_id", c.ID.String()).
		Str("owner_type", string(ownerType)).
		Str("owner_id", ownerID).
		Msg("curve created")
	return c, nil
}

// Freeze halts trading ahead of launch. Only the curve owner may
// freeze, and only when every launch gate passes: minimum supply,
// minimum distinct holders, minimum reserve.
func (e *Engine) Freeze(ctx context.Context, curveID uuid.UUID, actorID string) (*model.Curve, error) {
	const op = "engine.Freeze"

	c, err := e.getCurve(ctx, op, curveID)
	if err != nil {
		return nil, err
	}
	if actorID != c.OwnerID {
		return nil, errs.E(errs.CodeUnauthorized, op, "only the curve owner may freeze")
	}
	if !c.State.CanTransitionTo(model.CurveStateFrozen) {
		return nil, errs.E(errs.CodeInvalidState, op, "cannot freeze a %s curve", c.State)
	}

	if c.Supply < e.cfg.MinSupplyForLaunch {
		e.countFreezeRejected("supply")
		return nil, errs.E(errs.CodeBelowThreshold, op,
			"supply %d below launch minimum %d", c.Supply, e.cfg.MinSupplyForLaunch)
	}
	if c.HolderCount < e.cfg.MinHoldersForLaunch {
		e.countFreezeRejected("holders")
		return nil, errs.E(errs.CodeBelowThreshold, op,
			"holder count %d below launch minimum %d", c.HolderCount, e.cfg.MinHoldersForLaunch)
	}
	if c.Reserve < e.cfg.MinReserveForLaunch {
		e.countFreezeRejected("reserve")
		return nil, errs.E(errs.CodeBelowThreshold, op,
			"reserve %d below launch minimum %d", c.Reserve, e.cfg.MinReserveForLaunch)
	}

	now := e.now()
	expectedVersion := c.Version
	c.State = model.CurveStateFrozen
	c.FrozenAt = &now

	if err := e.store.UpdateCurve(ctx, c, expectedVersion); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return nil, errs.Wrap(errs.CodeConcurrencyConflict, op, err, "curve changed during freeze")
		}
		return nil, errs.Wrap(errs.CodeExternalDependency, op, err, "update curve")
	}

	e.appendLifecycleEvent(ctx, c, model.EventKindFreeze, actorID, now)

	if e.metrics != nil {
		e.metrics.CurvesFrozen.Inc()
	}
	e.log.Info().
		Str("curve_id", c.ID.String()).
		Int64("supply", c.Supply).
		Int64("reserve", c.Reserve).
		Int64("holders", c.HolderCount).
		Msg("curve frozen")
	return c, nil
}

// LaunchResult is the outcome of a launch, stored and returned
// verbatim on repeat calls.
type LaunchResult struct {
	Curve    *model.Curve
	Snapshot *model.Snapshot
}

// Launch takes a frozen curve terminal: snapshot the holder ledger,
// allocate the participant token pool, hand the allocations to the
// distributor, and mark the curve launched.
//
// The operation is idempotent and crash-resumable. A snapshot is
// created at most once per curve; distribution re-runs only while
// DistributionCompleted is unset, and always from the persisted
// snapshot, never from the live ledger. Launching an already-launched
// curve returns the stored result.
func (e *Engine) Launch(ctx context.Context, curveID uuid.UUID) (*LaunchResult, error) {
	const op = "engine.Launch"
	start := e.now()

	c, err := e.getCurve(ctx, op, curveID)
	if err != nil {
		return nil, err
	}

	if c.State == model.CurveStateLaunched {
		snap, err := e.getSnapshot(ctx, curveID)
		if err != nil {
			return nil, errs.Wrap(errs.CodeExternalDependency, op, err, "load snapshot for launched curve")
		}
		return &LaunchResult{Curve: c, Snapshot: snap}, nil
	}
	if !c.State.CanTransitionTo(model.CurveStateLaunched) {
		return nil, errs.E(errs.CodeInvalidState, op, "cannot launch a %s curve", c.State)
	}

	snap, err := e.ensureSnapshot(ctx, op, c)
	if err != nil {
		return nil, err
	}

	if !snap.DistributionCompleted {
		if e.metrics != nil {
			e.metrics.DistributionAttempts.Inc()
		}

		receipt, err := e.dist.MintAndDistribute(ctx, mintRequest(snap))
		if err != nil {
			if e.metrics != nil {
				e.metrics.DistributionFailures.Inc()
			}
			e.log.Error().Err(err).Str("curve_id", curveID.String()).Msg("distribution failed")
			return nil, err
		}

		now := e.now()
		expectedVersion := snap.Version
		snap.TokenMint = receipt.TokenMint
		snap.DistributionCompleted = true
		snap.DistributionCompletedAt = &now
		if err := e.store.UpdateSnapshot(ctx, snap, expectedVersion); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				// A concurrent launch finished distribution first; re-read
				// and continue with its result.
				snap, err = e.getSnapshot(ctx, curveID)
				if err != nil {
					return nil, errs.Wrap(errs.CodeExternalDependency, op, err, "reload snapshot")
				}
			} else {
				return nil, errs.Wrap(errs.CodeExternalDependency, op, err, "record distribution")
			}
		}

		if e.metrics != nil {
			e.metrics.DistributionDuration.Observe(e.now().Sub(start).Seconds())
			e.metrics.TokensDistributed.Add(float64(snap.PoolTokens))
		}
	}

	now := e.now()
	expectedVersion := c.Version
	c.State = model.CurveStateLaunched
	c.LaunchedAt = &now
	c.TokenMint = snap.TokenMint
	if err := e.store.UpdateCurve(ctx, c, expectedVersion); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			// Lost the race to another launcher; return its state.
			c, gerr := retryRead(ctx, e.cfg.MaxReadRetries, func() (*model.Curve, error) {
				return e.store.GetCurve(ctx, curveID)
			})
			if gerr != nil {
				return nil, errs.Wrap(errs.CodeExternalDependency, op, gerr, "reload curve")
			}
			return &LaunchResult{Curve: c, Snapshot: snap}, nil
		}
		return nil, errs.Wrap(errs.CodeExternalDependency, op, err, "update curve")
	}

	e.appendLifecycleEvent(ctx, c, model.EventKindLaunch, c.OwnerID, now)

	if e.metrics != nil {
		e.metrics.CurvesLaunched.Inc()
	}
	e.log.Info().
		Str("curve_id", c.ID.String()).
		Str("token_mint", snap.TokenMint).
		Int64("pool_tokens", snap.PoolTokens).
		Int64("holders", snap.TotalHolders).
		Msg("curve launched")
	return &LaunchResult{Curve: c, Snapshot: snap}, nil
}

// getSnapshot reads a curve's snapshot with the read-retry
// discipline, preserving the raw store sentinel.
func (e *Engine) getSnapshot(ctx context.Context, curveID uuid.UUID) (*model.Snapshot, error) {
	return retryRead(ctx, e.cfg.MaxReadRetries, func() (*model.Snapshot, error) {
		return e.store.GetSnapshotByCurve(ctx, curveID)
	})
}

// ensureSnapshot returns the curve's snapshot, creating it from the
// live holder ledger exactly once.
func (e *Engine) ensureSnapshot(ctx context.Context, op string, c *model.Curve) (*model.Snapshot, error) {
	snap, err := e.getSnapshot(ctx, c.ID)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, errs.Wrap(errs.CodeExternalDependency, op, err, "load snapshot")
	}

	holders, err := retryRead(ctx, e.cfg.MaxReadRetries, func() ([]*model.Holder, error) {
		return e.store.ListHolders(ctx, store.HolderFilter{
			CurveID:        c.ID,
			MinBalance:     1,
			OrderByBalance: true,
		})
	})
	if err != nil {
		return nil, errs.Wrap(errs.CodeExternalDependency, op, err, "list holders")
	}

	snap, err = e.buildSnapshot(c, holders)
	if err != nil {
		return nil, errs.Wrap(errs.CodeValidation, op, err, "build snapshot")
	}

	if err := e.store.CreateSnapshot(ctx, snap); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			// Concurrent launcher won the create; use its snapshot.
			snap, err = e.getSnapshot(ctx, c.ID)
			if err != nil {
				return nil, errs.Wrap(errs.CodeExternalDependency, op, err, "reload snapshot")
			}
			return snap, nil
		}
		return nil, errs.Wrap(errs.CodeExternalDependency, op, err, "create snapshot")
	}

	if e.metrics != nil {
		e.metrics.SnapshotsTaken.Inc()
	}
	return snap, nil
}

func (e *Engine) countFreezeRejected(gate string) {
	if e.metrics != nil {
		e.metrics.FreezeRejected.WithLabelValues(gate).Inc()
	}
}

func (e *Engine) appendLifecycleEvent(ctx context.Context, c *model.Curve, kind model.EventKind, actorID string, at time.Time) {
	event := &model.TradeEvent{
		ID:            uuid.New(),
		CurveID:       c.ID,
		Kind:          kind,
		Price:         c.Price,
		ParticipantID: actorID,
		Timestamp:     at,
	}
	if err := e.store.AppendEvent(ctx, event); err != nil {
		e.countStoreError("append_event")
		e.log.Error().Err(err).
			Str("curve_id", c.ID.String()).
			Str("kind", string(kind)).
			Msg("lifecycle event append failed")
	}
}
