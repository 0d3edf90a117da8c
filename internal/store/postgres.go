package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"CurveLedger/internal/model"
)

// Postgres is the durable Store backed by lib/pq. Every conditional
// write is expressed as `UPDATE ... WHERE id = $1 AND version = $2`;
// zero rows affected maps to ErrVersionConflict. CommitTrade wraps the
// curve CAS, holder upsert, and event append in one transaction so a
// lost race leaves no partial state behind.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Open connects and verifies the connection.
func Open(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(32)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) DB() *sql.DB { return p.db }

func (p *Postgres) Close() error { return p.db.Close() }

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

const curveColumns = `id, owner_type, owner_id, state, supply, reserve, price, holder_count,
	base_price, version, created_at, frozen_at, launched_at, token_mint`

func scanCurve(row interface{ Scan(...interface{}) error }) (*model.Curve, error) {
	var c model.Curve
	var frozenAt, launchedAt sql.NullTime
	var tokenMint sql.NullString
	err := row.Scan(
		&c.ID, &c.OwnerType, &c.OwnerID, &c.State, &c.Supply, &c.Reserve,
		&c.Price, &c.HolderCount, &c.BasePrice, &c.Version, &c.CreatedAt,
		&frozenAt, &launchedAt, &tokenMint,
	)
	if err != nil {
		return nil, err
	}
	if frozenAt.Valid {
		t := frozenAt.Time
		c.FrozenAt = &t
	}
	if launchedAt.Valid {
		t := launchedAt.Time
		c.LaunchedAt = &t
	}
	c.TokenMint = tokenMint.String
	return &c, nil
}

func (p *Postgres) CreateCurve(ctx context.Context, c *model.Curve) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO curves (`+curveColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		c.ID, c.OwnerType, c.OwnerID, c.State, c.Supply, c.Reserve,
		c.Price, c.HolderCount, c.BasePrice, c.Version, c.CreatedAt,
		c.FrozenAt, c.LaunchedAt, nullIfEmpty(c.TokenMint),
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (p *Postgres) GetCurve(ctx context.Context, id uuid.UUID) (*model.Curve, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+curveColumns+` FROM curves WHERE id = $1`, id)
	c, err := scanCurve(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

func (p *Postgres) GetCurveByOwner(ctx context.Context, ownerType model.OwnerType, ownerID string) (*model.Curve, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+curveColumns+` FROM curves WHERE owner_type = $1 AND owner_id = $2`,
		ownerType, ownerID)
	c, err := scanCurve(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

func (p *Postgres) UpdateCurve(ctx context.Context, c *model.Curve, expectedVersion int64) error {
	return p.updateCurveTx(ctx, p.db, c, expectedVersion)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (p *Postgres) updateCurveTx(ctx context.Context, ex execer, c *model.Curve, expectedVersion int64) error {
	res, err := ex.ExecContext(ctx, `
		UPDATE curves SET
			state = $1, supply = $2, reserve = $3, price = $4,
			holder_count = $5, version = $6, frozen_at = $7,
			launched_at = $8, token_mint = $9
		WHERE id = $10 AND version = $11`,
		c.State, c.Supply, c.Reserve, c.Price,
		c.HolderCount, expectedVersion+1, c.FrozenAt,
		c.LaunchedAt, nullIfEmpty(c.TokenMint),
		c.ID, expectedVersion,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish missing row from stale version.
		var exists bool
		if qerr := p.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM curves WHERE id = $1)`, c.ID,
		).Scan(&exists); qerr == nil && !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	c.Version = expectedVersion + 1
	return nil
}

func (p *Postgres) ListCurves(ctx context.Context, f CurveFilter) ([]*model.Curve, error) {
	var (
		conds []string
		args  []interface{}
	)
	if f.State != "" {
		args = append(args, f.State)
		conds = append(conds, fmt.Sprintf("state = $%d", len(args)))
	}
	if f.OwnerType != "" {
		args = append(args, f.OwnerType)
		conds = append(conds, fmt.Sprintf("owner_type = $%d", len(args)))
	}

	query := `SELECT ` + curveColumns + ` FROM curves`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at ASC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Curve
	for rows.Next() {
		c, err := scanCurve(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const holderColumns = `id, curve_id, participant_id, balance, avg_price, total_invested,
	realized_pnl, unrealized_pnl, version, first_buy_at, last_trade_at`

func scanHolder(row interface{ Scan(...interface{}) error }) (*model.Holder, error) {
	var h model.Holder
	err := row.Scan(
		&h.ID, &h.CurveID, &h.ParticipantID, &h.Balance, &h.AvgPrice,
		&h.TotalInvested, &h.RealizedPnl, &h.UnrealizedPnl, &h.Version,
		&h.FirstBuyAt, &h.LastTradeAt,
	)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (p *Postgres) GetHolder(ctx context.Context, curveID uuid.UUID, participantID string) (*model.Holder, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+holderColumns+` FROM holders WHERE curve_id = $1 AND participant_id = $2`,
		curveID, participantID)
	h, err := scanHolder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return h, err
}

func (p *Postgres) ListHolders(ctx context.Context, f HolderFilter) ([]*model.Holder, error) {
	args := []interface{}{f.CurveID, f.MinBalance}
	query := `SELECT ` + holderColumns + ` FROM holders WHERE curve_id = $1 AND balance >= $2`
	if f.OrderByBalance {
		query += " ORDER BY balance DESC, participant_id ASC"
	} else {
		query += " ORDER BY participant_id ASC"
	}
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Holder
	for rows.Next() {
		h, err := scanHolder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (p *Postgres) CommitTrade(ctx context.Context, tc *TradeCommit) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin trade tx: %w", err)
	}
	defer tx.Rollback()

	if err := p.updateCurveTx(ctx, tx, tc.Curve, tc.ExpectedCurveVersion); err != nil {
		return err
	}

	h := tc.Holder
	if tc.ExpectedHolderVersion == 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO holders (`+holderColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			h.ID, h.CurveID, h.ParticipantID, h.Balance, h.AvgPrice,
			h.TotalInvested, h.RealizedPnl, h.UnrealizedPnl, int64(1),
			h.FirstBuyAt, h.LastTradeAt,
		)
		if isUniqueViolation(err) {
			// Another trade created the record between read and commit.
			return ErrVersionConflict
		}
		if err != nil {
			return err
		}
		h.Version = 1
	} else {
		res, err := tx.ExecContext(ctx, `
			UPDATE holders SET
				balance = $1, avg_price = $2, total_invested = $3,
				realized_pnl = $4, unrealized_pnl = $5, version = $6,
				last_trade_at = $7
			WHERE curve_id = $8 AND participant_id = $9 AND version = $10`,
			h.Balance, h.AvgPrice, h.TotalInvested,
			h.RealizedPnl, h.UnrealizedPnl, tc.ExpectedHolderVersion+1,
			h.LastTradeAt,
			h.CurveID, h.ParticipantID, tc.ExpectedHolderVersion,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrVersionConflict
		}
		h.Version = tc.ExpectedHolderVersion + 1
	}

	if err := appendEventTx(ctx, tx, tc.Event); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit trade tx: %w", err)
	}
	return nil
}

func appendEventTx(ctx context.Context, ex execer, e *model.TradeEvent) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO curve_events
			(id, curve_id, kind, keys, amount, price, participant_id, referrer_id,
			 reserve_fee, project_fee, platform_fee, referral_fee, rewards_fee, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		e.ID, e.CurveID, e.Kind, e.Keys, e.Amount, e.Price,
		e.ParticipantID, nullIfEmpty(e.ReferrerID),
		e.ReserveFee, e.ProjectFee, e.PlatformFee, e.ReferralFee, e.RewardsFee,
		e.Timestamp,
	)
	return err
}

func (p *Postgres) AppendEvent(ctx context.Context, e *model.TradeEvent) error {
	return appendEventTx(ctx, p.db, e)
}

func (p *Postgres) ListEvents(ctx context.Context, f EventFilter) ([]*model.TradeEvent, error) {
	args := []interface{}{f.CurveID}
	conds := []string{"curve_id = $1"}

	if len(f.Kinds) > 0 {
		kinds := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			kinds[i] = string(k)
		}
		args = append(args, pq.Array(kinds))
		conds = append(conds, fmt.Sprintf("kind = ANY($%d)", len(args)))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		conds = append(conds, fmt.Sprintf("timestamp >= $%d", len(args)))
	}
	if !f.Until.IsZero() {
		args = append(args, f.Until)
		conds = append(conds, fmt.Sprintf("timestamp < $%d", len(args)))
	}

	query := `SELECT id, curve_id, kind, keys, amount, price, participant_id,
		COALESCE(referrer_id, ''), reserve_fee, project_fee, platform_fee,
		referral_fee, rewards_fee, timestamp
		FROM curve_events WHERE ` + strings.Join(conds, " AND ")
	if f.Ascending {
		query += " ORDER BY timestamp ASC, id ASC"
	} else {
		query += " ORDER BY timestamp DESC, id DESC"
	}
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.TradeEvent
	for rows.Next() {
		var e model.TradeEvent
		if err := rows.Scan(
			&e.ID, &e.CurveID, &e.Kind, &e.Keys, &e.Amount, &e.Price,
			&e.ParticipantID, &e.ReferrerID, &e.ReserveFee, &e.ProjectFee,
			&e.PlatformFee, &e.ReferralFee, &e.RewardsFee, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateSnapshot(ctx context.Context, s *model.Snapshot) error {
	holders, err := json.Marshal(s.Holders)
	if err != nil {
		return fmt.Errorf("marshal snapshot holders: %w", err)
	}
	allocations, err := json.Marshal(s.Allocations)
	if err != nil {
		return fmt.Errorf("marshal snapshot allocations: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO snapshots
			(id, curve_id, content_hash, holders, total_supply, total_holders,
			 pool_tokens, liquidity_tokens, allocations, token_mint,
			 distribution_completed, distribution_completed_at, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		s.ID, s.CurveID, s.ContentHash, holders, s.TotalSupply, s.TotalHolders,
		s.PoolTokens, s.LiquidityTokens, allocations, nullIfEmpty(s.TokenMint),
		s.DistributionCompleted, s.DistributionCompletedAt, s.Version, s.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (p *Postgres) GetSnapshotByCurve(ctx context.Context, curveID uuid.UUID) (*model.Snapshot, error) {
	var (
		s           model.Snapshot
		holders     []byte
		allocations []byte
		completedAt sql.NullTime
		tokenMint   sql.NullString
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT id, curve_id, content_hash, holders, total_supply, total_holders,
			pool_tokens, liquidity_tokens, allocations, token_mint,
			distribution_completed, distribution_completed_at, version, created_at
		FROM snapshots WHERE curve_id = $1`, curveID,
	).Scan(
		&s.ID, &s.CurveID, &s.ContentHash, &holders, &s.TotalSupply, &s.TotalHolders,
		&s.PoolTokens, &s.LiquidityTokens, &allocations, &tokenMint,
		&s.DistributionCompleted, &completedAt, &s.Version, &s.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(holders, &s.Holders); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot holders: %w", err)
	}
	if len(allocations) > 0 {
		if err := json.Unmarshal(allocations, &s.Allocations); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot allocations: %w", err)
		}
	}
	if completedAt.Valid {
		t := completedAt.Time
		s.DistributionCompletedAt = &t
	}
	s.TokenMint = tokenMint.String
	return &s, nil
}

func (p *Postgres) UpdateSnapshot(ctx context.Context, s *model.Snapshot, expectedVersion int64) error {
	allocations, err := json.Marshal(s.Allocations)
	if err != nil {
		return fmt.Errorf("marshal snapshot allocations: %w", err)
	}

	res, err := p.db.ExecContext(ctx, `
		UPDATE snapshots SET
			allocations = $1, token_mint = $2, distribution_completed = $3,
			distribution_completed_at = $4, version = $5
		WHERE curve_id = $6 AND version = $7`,
		allocations, nullIfEmpty(s.TokenMint), s.DistributionCompleted,
		s.DistributionCompletedAt, expectedVersion+1,
		s.CurveID, expectedVersion,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}
	s.Version = expectedVersion + 1
	return nil
}

func (p *Postgres) CreateReferral(ctx context.Context, r *model.Referral) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO referrals
			(id, curve_id, referrer_id, referred_id, action, gross_amount,
			 reserve_amount, project_amount, platform_amount, referral_amount, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.ID, r.CurveID, r.ReferrerID, r.ReferredID, r.Action, r.GrossAmount,
		r.ReserveAmount, r.ProjectAmount, r.PlatformAmount, r.ReferralAmount, r.Timestamp,
	)
	return err
}

func (p *Postgres) GetRewardsPool(ctx context.Context, scope string) (*model.RewardsPool, error) {
	var (
		pool   model.RewardsPool
		inflow []byte
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT id, scope, balance, total_deposited, total_claimed, inflow,
			version, created_at, updated_at
		FROM rewards_pools WHERE scope = $1`, scope,
	).Scan(
		&pool.ID, &pool.Scope, &pool.Balance, &pool.TotalDeposited,
		&pool.TotalClaimed, &inflow, &pool.Version, &pool.CreatedAt, &pool.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(inflow) > 0 {
		if err := json.Unmarshal(inflow, &pool.Inflow); err != nil {
			return nil, fmt.Errorf("unmarshal pool inflow: %w", err)
		}
	}
	return &pool, nil
}

func (p *Postgres) UpsertRewardsPool(ctx context.Context, pool *model.RewardsPool, expectedVersion int64) error {
	inflow, err := json.Marshal(pool.Inflow)
	if err != nil {
		return fmt.Errorf("marshal pool inflow: %w", err)
	}

	if expectedVersion == 0 {
		_, err := p.db.ExecContext(ctx, `
			INSERT INTO rewards_pools
				(id, scope, balance, total_deposited, total_claimed, inflow,
				 version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $8)`,
			pool.ID, pool.Scope, pool.Balance, pool.TotalDeposited,
			pool.TotalClaimed, inflow, pool.CreatedAt, pool.UpdatedAt,
		)
		if isUniqueViolation(err) {
			return ErrVersionConflict
		}
		if err != nil {
			return err
		}
		pool.Version = 1
		return nil
	}

	res, err := p.db.ExecContext(ctx, `
		UPDATE rewards_pools SET
			balance = $1, total_deposited = $2, total_claimed = $3,
			inflow = $4, version = $5, updated_at = $6
		WHERE scope = $7 AND version = $8`,
		pool.Balance, pool.TotalDeposited, pool.TotalClaimed,
		inflow, expectedVersion+1, pool.UpdatedAt,
		pool.Scope, expectedVersion,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}
	pool.Version = expectedVersion + 1
	return nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
