package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"CurveLedger/internal/model"
)

// Sentinel errors shared by all implementations. The engine maps these
// onto its typed error taxonomy at the boundary.
var (
	ErrNotFound        = errors.New("store: record not found")
	ErrAlreadyExists   = errors.New("store: record already exists")
	ErrVersionConflict = errors.New("store: stale version")
)

// CurveFilter selects curves by equality filters with ordering and
// limit/offset — the only query surface the core depends on.
type CurveFilter struct {
	State     model.CurveState
	OwnerType model.OwnerType
	Limit     int
	Offset    int
}

// HolderFilter selects holder records for one curve.
type HolderFilter struct {
	CurveID        uuid.UUID
	MinBalance     int64 // exclusive lower bound when > 0 semantics are wanted, pass 1
	OrderByBalance bool  // descending
	Limit          int
	Offset         int
}

// EventFilter selects trade events by curve and time range.
type EventFilter struct {
	CurveID   uuid.UUID
	Kinds     []model.EventKind
	Since     time.Time // inclusive, zero = unbounded
	Until     time.Time // exclusive, zero = unbounded
	Ascending bool
	Limit     int
	Offset    int
}

// TradeCommit is the primary ledger mutation of a trade: curve update,
// holder upsert, and event append applied as one atomic unit. The
// curve write is conditioned on ExpectedCurveVersion; a stale version
// fails the whole commit with ErrVersionConflict and no partial state.
type TradeCommit struct {
	Curve                 *model.Curve
	ExpectedCurveVersion  int64
	Holder                *model.Holder
	ExpectedHolderVersion int64 // 0 means the holder record is being created
	Event                 *model.TradeEvent
}

// Store is the external persistence collaborator. Implementations must
// honor context deadlines on every call.
type Store interface {
	CreateCurve(ctx context.Context, c *model.Curve) error
	GetCurve(ctx context.Context, id uuid.UUID) (*model.Curve, error)
	GetCurveByOwner(ctx context.Context, ownerType model.OwnerType, ownerID string) (*model.Curve, error)
	UpdateCurve(ctx context.Context, c *model.Curve, expectedVersion int64) error
	ListCurves(ctx context.Context, f CurveFilter) ([]*model.Curve, error)

	GetHolder(ctx context.Context, curveID uuid.UUID, participantID string) (*model.Holder, error)
	ListHolders(ctx context.Context, f HolderFilter) ([]*model.Holder, error)

	CommitTrade(ctx context.Context, tc *TradeCommit) error

	AppendEvent(ctx context.Context, e *model.TradeEvent) error
	ListEvents(ctx context.Context, f EventFilter) ([]*model.TradeEvent, error)

	CreateSnapshot(ctx context.Context, s *model.Snapshot) error
	GetSnapshotByCurve(ctx context.Context, curveID uuid.UUID) (*model.Snapshot, error)
	UpdateSnapshot(ctx context.Context, s *model.Snapshot, expectedVersion int64) error

	CreateReferral(ctx context.Context, r *model.Referral) error
	GetRewardsPool(ctx context.Context, scope string) (*model.RewardsPool, error)
	UpsertRewardsPool(ctx context.Context, p *model.RewardsPool, expectedVersion int64) error
}
