package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OwnerType identifies who a curve belongs to.
type OwnerType string

const (
	OwnerTypeUser    OwnerType = "user"
	OwnerTypeProject OwnerType = "project"
)

func (t OwnerType) Valid() bool {
	return t == OwnerTypeUser || t == OwnerTypeProject
}

// CurveState is the lifecycle state of a curve.
// pending/active → frozen → launched (terminal).
type CurveState string

const (
	CurveStatePending  CurveState = "pending"
	CurveStateActive   CurveState = "active"
	CurveStateFrozen   CurveState = "frozen"
	CurveStateLaunched CurveState = "launched"
)

// CanTransitionTo enforces the lifecycle graph: no transition skips a
// state and launched has no outgoing edge.
func (s CurveState) CanTransitionTo(next CurveState) bool {
	switch s {
	case CurveStatePending:
		return next == CurveStateActive
	case CurveStateActive:
		return next == CurveStateFrozen
	case CurveStateFrozen:
		return next == CurveStateLaunched
	case CurveStateLaunched:
		return false
	}
	return false
}

// EventKind is the closed set of ledger event types. Loose payloads are
// validated against this before they ever reach the trade executor.
type EventKind string

const (
	EventKindBuy    EventKind = "buy"
	EventKindSell   EventKind = "sell"
	EventKindFreeze EventKind = "freeze"
	EventKindLaunch EventKind = "launch"
)

func (k EventKind) Valid() bool {
	switch k {
	case EventKindBuy, EventKindSell, EventKindFreeze, EventKindLaunch:
		return true
	}
	return false
}

// Curve is the per-owner reserve ledger. All monetary fields are
// smallest currency units (scale 1e9); Supply is whole keys.
//
// Invariants: Price is always derived from Supply via the pricing
// function; Supply and Reserve never go negative; Reserve only moves
// through trade and fee operations. Version guards every write
// (optimistic concurrency).
type Curve struct {
	ID          uuid.UUID  `json:"id"`
	OwnerType   OwnerType  `json:"owner_type"`
	OwnerID     string     `json:"owner_id"`
	State       CurveState `json:"state"`
	Supply      int64      `json:"supply"`
	Reserve     int64      `json:"reserve"`
	Price       int64      `json:"price"`
	HolderCount int64      `json:"holder_count"`
	BasePrice   int64      `json:"base_price"`
	Version     int64      `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	FrozenAt    *time.Time `json:"frozen_at,omitempty"`
	LaunchedAt  *time.Time `json:"launched_at,omitempty"`
	TokenMint   string     `json:"token_mint,omitempty"`
}

// Holder is the per-(curve, participant) position.
// UnrealizedPnl = Balance × (currentPrice − AvgPrice), recomputed on
// every trade. A holder whose balance returns to zero is kept with
// zeroed exposure so realized P&L history survives.
type Holder struct {
	ID            uuid.UUID `json:"id"`
	CurveID       uuid.UUID `json:"curve_id"`
	ParticipantID string    `json:"participant_id"`
	Balance       int64     `json:"balance"`
	AvgPrice      int64     `json:"avg_price"`
	TotalInvested int64     `json:"total_invested"`
	RealizedPnl   int64     `json:"realized_pnl"`
	UnrealizedPnl int64     `json:"unrealized_pnl"`
	Version       int64     `json:"version"`
	FirstBuyAt    time.Time `json:"first_buy_at"`
	LastTradeAt   time.Time `json:"last_trade_at"`
}

// TradeEvent is an immutable, append-only ledger entry. Ordering by
// Timestamp (then insertion) defines the windows for volume and
// price-change statistics.
type TradeEvent struct {
	ID            uuid.UUID `json:"id"`
	CurveID       uuid.UUID `json:"curve_id"`
	Kind          EventKind `json:"kind"`
	Keys          int64     `json:"keys"`
	Amount        int64     `json:"amount"` // gross cost on buy, net proceeds on sell
	Price         int64     `json:"price"`  // curve price after the event
	ParticipantID string    `json:"participant_id"`
	ReferrerID    string    `json:"referrer_id,omitempty"`
	ReserveFee    int64     `json:"reserve_fee"`
	ProjectFee    int64     `json:"project_fee"`
	PlatformFee   int64     `json:"platform_fee"`
	ReferralFee   int64     `json:"referral_fee"`
	RewardsFee    int64     `json:"rewards_fee"`
	Timestamp     time.Time `json:"timestamp"`
}

// SnapshotHolder is one row of the frozen holder list.
type SnapshotHolder struct {
	ParticipantID string          `json:"participant_id"`
	Balance       int64           `json:"balance"`
	Percentage    decimal.Decimal `json:"percentage"`
}

// Allocation is one participant's share of the distributed token pool.
type Allocation struct {
	ParticipantID string `json:"participant_id"`
	Tokens        int64  `json:"tokens"`
}

// Snapshot freezes the holder ledger at the frozen→launched transition.
// Exactly one exists per curve. ContentHash is a SHA-256 over the
// canonical ordered holder list, for tamper detection.
//
// DistributionCompleted is the idempotence guard for launch: once set,
// re-running distribution returns the stored Allocations without
// recomputation, and a crash between snapshot-write and
// distribution-write resumes from this record, never from the live
// holder ledger.
type Snapshot struct {
	ID                      uuid.UUID        `json:"id"`
	CurveID                 uuid.UUID        `json:"curve_id"`
	ContentHash             string           `json:"content_hash"`
	Holders                 []SnapshotHolder `json:"holders"`
	TotalSupply             int64            `json:"total_supply"`
	TotalHolders            int64            `json:"total_holders"`
	PoolTokens              int64            `json:"pool_tokens"`
	LiquidityTokens         int64            `json:"liquidity_tokens"`
	Allocations             []Allocation     `json:"allocations,omitempty"`
	TokenMint               string           `json:"token_mint,omitempty"`
	DistributionCompleted   bool             `json:"distribution_completed"`
	DistributionCompletedAt *time.Time       `json:"distribution_completed_at,omitempty"`
	Version                 int64            `json:"version"`
	CreatedAt               time.Time        `json:"created_at"`
}

// Referral records a fee share owed to a referrer. Created only when a
// referrer exists; without one the referral bucket flows to the
// rewards pool instead.
type Referral struct {
	ID             uuid.UUID `json:"id"`
	CurveID        uuid.UUID `json:"curve_id"`
	ReferrerID     string    `json:"referrer_id"`
	ReferredID     string    `json:"referred_id"`
	Action         EventKind `json:"action"`
	GrossAmount    int64     `json:"gross_amount"`
	ReserveAmount  int64     `json:"reserve_amount"`
	ProjectAmount  int64     `json:"project_amount"`
	PlatformAmount int64     `json:"platform_amount"`
	ReferralAmount int64     `json:"referral_amount"`
	Timestamp      time.Time `json:"timestamp"`
}

// RewardsPool accumulates unattributed referral fees and sell-side
// fees. Inflow keeps per-day totals (UTC date → amount) so the rolling
// 7d/30d figures are derivable without a separate event scan; buckets
// older than 30 days are pruned on write.
type RewardsPool struct {
	ID             uuid.UUID        `json:"id"`
	Scope          string           `json:"scope"` // "platform" or a project owner id
	Balance        int64            `json:"balance"`
	TotalDeposited int64            `json:"total_deposited"`
	TotalClaimed   int64            `json:"total_claimed"`
	Inflow         map[string]int64 `json:"inflow"`
	Version        int64            `json:"version"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

const inflowDateLayout = "2006-01-02"

// Deposit adds amount to the pool and the day bucket, pruning buckets
// beyond the 30-day horizon.
func (p *RewardsPool) Deposit(amount int64, at time.Time) {
	if amount <= 0 {
		return
	}
	p.Balance += amount
	p.TotalDeposited += amount
	if p.Inflow == nil {
		p.Inflow = make(map[string]int64)
	}
	day := at.UTC().Format(inflowDateLayout)
	p.Inflow[day] += amount

	horizon := at.UTC().AddDate(0, 0, -30).Format(inflowDateLayout)
	for d := range p.Inflow {
		if d < horizon {
			delete(p.Inflow, d)
		}
	}
	p.UpdatedAt = at
}

// InflowSince sums day buckets within the last `days` days.
func (p *RewardsPool) InflowSince(days int, now time.Time) int64 {
	cutoff := now.UTC().AddDate(0, 0, -days).Format(inflowDateLayout)
	var total int64
	for d, v := range p.Inflow {
		if d >= cutoff {
			total += v
		}
	}
	return total
}
