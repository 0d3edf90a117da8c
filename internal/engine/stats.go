package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"CurveLedger/internal/errs"
	"CurveLedger/internal/model"
	"CurveLedger/internal/store"
)

// Stats is the aggregate trading picture of one curve.
type Stats struct {
	CurveID       uuid.UUID       `json:"curve_id"`
	Supply        int64           `json:"supply"`
	Reserve       int64           `json:"reserve"`
	Price         int64           `json:"price"`
	HolderCount   int64           `json:"holder_count"`
	Volume24h     int64           `json:"volume_24h"`
	TotalVolume   int64           `json:"total_volume"`
	TradeCount    int64           `json:"trade_count"`
	UniqueTraders int64           `json:"unique_traders"`
	PriceChange   decimal.Decimal `json:"price_change_24h"`
}

var tradeKinds = []model.EventKind{model.EventKindBuy, model.EventKindSell}

// listEvents reads the event log with the read-retry discipline.
func (e *Engine) listEvents(ctx context.Context, f store.EventFilter) ([]*model.TradeEvent, error) {
	return retryRead(ctx, e.cfg.MaxReadRetries, func() ([]*model.TradeEvent, error) {
		return e.store.ListEvents(ctx, f)
	})
}

// PriceChange returns the percentage change of the curve price over
// the window. The reference price is the price of the last trade
// before the window opened; if no trade predates the window, the base
// price anchors the comparison. The current price is the price after
// the latest trade (or the base price on a curve that never traded).
func (e *Engine) PriceChange(ctx context.Context, curveID uuid.UUID, window time.Duration) (decimal.Decimal, error) {
	const op = "engine.PriceChange"

	c, err := e.getCurve(ctx, op, curveID)
	if err != nil {
		return decimal.Zero, err
	}

	windowStart := e.now().Add(-window)

	before, err := e.listEvents(ctx, store.EventFilter{
		CurveID: curveID,
		Kinds:   tradeKinds,
		Until:   windowStart,
		Limit:   1,
	})
	if err != nil {
		return decimal.Zero, errs.Wrap(errs.CodeExternalDependency, op, err, "list events")
	}

	reference := c.BasePrice
	if len(before) > 0 {
		reference = before[0].Price
	}
	current := c.Price
	if reference == 0 {
		return decimal.Zero, nil
	}

	return decimal.NewFromInt(current - reference).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(reference)), nil
}

// Volume sums gross trade amounts over the window.
func (e *Engine) Volume(ctx context.Context, curveID uuid.UUID, window time.Duration) (int64, error) {
	const op = "engine.Volume"

	events, err := e.listEvents(ctx, store.EventFilter{
		CurveID: curveID,
		Kinds:   tradeKinds,
		Since:   e.now().Add(-window),
	})
	if err != nil {
		return 0, errs.Wrap(errs.CodeExternalDependency, op, err, "list events")
	}

	var total int64
	for _, ev := range events {
		total += ev.Amount
	}
	return total, nil
}

// CurveStats assembles the full stat block from the curve row and a
// single scan of its trade history.
func (e *Engine) CurveStats(ctx context.Context, curveID uuid.UUID) (*Stats, error) {
	const op = "engine.CurveStats"

	c, err := e.getCurve(ctx, op, curveID)
	if err != nil {
		return nil, err
	}

	events, err := e.listEvents(ctx, store.EventFilter{
		CurveID: curveID,
		Kinds:   tradeKinds,
	})
	if err != nil {
		return nil, errs.Wrap(errs.CodeExternalDependency, op, err, "list events")
	}

	dayAgo := e.now().Add(-24 * time.Hour)
	traders := make(map[string]struct{})
	stats := &Stats{
		CurveID:     c.ID,
		Supply:      c.Supply,
		Reserve:     c.Reserve,
		Price:       c.Price,
		HolderCount: c.HolderCount,
	}
	for _, ev := range events {
		stats.TotalVolume += ev.Amount
		stats.TradeCount++
		traders[ev.ParticipantID] = struct{}{}
		if !ev.Timestamp.Before(dayAgo) {
			stats.Volume24h += ev.Amount
		}
	}
	stats.UniqueTraders = int64(len(traders))

	change, err := e.PriceChange(ctx, curveID, 24*time.Hour)
	if err != nil {
		return nil, err
	}
	stats.PriceChange = change

	return stats, nil
}

// Events exposes the event log with the store's filter surface. Kind
// filters are checked against the closed kind set so a typo'd kind
// fails loudly instead of silently matching nothing.
func (e *Engine) Events(ctx context.Context, f store.EventFilter) ([]*model.TradeEvent, error) {
	const op = "engine.Events"
	for _, k := range f.Kinds {
		if !k.Valid() {
			return nil, errs.E(errs.CodeValidation, op, "unknown event kind %q", k)
		}
	}
	events, err := e.listEvents(ctx, f)
	if err != nil {
		return nil, errs.Wrap(errs.CodeExternalDependency, op, err, "list events")
	}
	return events, nil
}

// Holder returns one participant's position on a curve.
func (e *Engine) Holder(ctx context.Context, curveID uuid.UUID, participantID string) (*model.Holder, error) {
	const op = "engine.Holder"
	h, err := e.getHolder(ctx, curveID, participantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errs.E(errs.CodeNotFound, op, "no position for %s on %s", participantID, curveID)
		}
		return nil, errs.Wrap(errs.CodeExternalDependency, op, err, "load holder")
	}
	return h, nil
}

// Curve returns the curve row.
func (e *Engine) Curve(ctx context.Context, curveID uuid.UUID) (*model.Curve, error) {
	return e.getCurve(ctx, "engine.Curve", curveID)
}
