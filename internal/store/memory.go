package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"CurveLedger/internal/model"
)

// Memory is an in-process Store used by tests and local development.
// A single mutex serializes all mutations, which also makes
// CommitTrade trivially atomic; version checks still run so the
// optimistic-concurrency paths are exercised exactly as against
// Postgres.
type Memory struct {
	mu        sync.RWMutex
	curves    map[uuid.UUID]*model.Curve
	ownerIdx  map[string]uuid.UUID // ownerType/ownerID → curve
	holders   map[uuid.UUID]map[string]*model.Holder
	events    map[uuid.UUID][]*model.TradeEvent
	snapshots map[uuid.UUID]*model.Snapshot // keyed by curve ID
	referrals []*model.Referral
	pools     map[string]*model.RewardsPool
}

func NewMemory() *Memory {
	return &Memory{
		curves:    make(map[uuid.UUID]*model.Curve),
		ownerIdx:  make(map[string]uuid.UUID),
		holders:   make(map[uuid.UUID]map[string]*model.Holder),
		events:    make(map[uuid.UUID][]*model.TradeEvent),
		snapshots: make(map[uuid.UUID]*model.Snapshot),
		pools:     make(map[string]*model.RewardsPool),
	}
}

func ownerKey(t model.OwnerType, id string) string {
	return string(t) + "/" + id
}

func copyCurve(c *model.Curve) *model.Curve {
	out := *c
	return &out
}

func copyHolder(h *model.Holder) *model.Holder {
	out := *h
	return &out
}

func copyEvent(e *model.TradeEvent) *model.TradeEvent {
	out := *e
	return &out
}

func copySnapshot(s *model.Snapshot) *model.Snapshot {
	out := *s
	out.Holders = append([]model.SnapshotHolder(nil), s.Holders...)
	out.Allocations = append([]model.Allocation(nil), s.Allocations...)
	return &out
}

func copyPool(p *model.RewardsPool) *model.RewardsPool {
	out := *p
	out.Inflow = make(map[string]int64, len(p.Inflow))
	for k, v := range p.Inflow {
		out.Inflow[k] = v
	}
	return &out
}

func (m *Memory) CreateCurve(ctx context.Context, c *model.Curve) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := ownerKey(c.OwnerType, c.OwnerID)
	if _, ok := m.ownerIdx[key]; ok {
		return ErrAlreadyExists
	}
	m.curves[c.ID] = copyCurve(c)
	m.ownerIdx[key] = c.ID
	return nil
}

func (m *Memory) GetCurve(ctx context.Context, id uuid.UUID) (*model.Curve, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.curves[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyCurve(c), nil
}

func (m *Memory) GetCurveByOwner(ctx context.Context, ownerType model.OwnerType, ownerID string) (*model.Curve, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.ownerIdx[ownerKey(ownerType, ownerID)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyCurve(m.curves[id]), nil
}

func (m *Memory) UpdateCurve(ctx context.Context, c *model.Curve, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.updateCurveLocked(c, expectedVersion)
}

func (m *Memory) updateCurveLocked(c *model.Curve, expectedVersion int64) error {
	cur, ok := m.curves[c.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expectedVersion {
		return ErrVersionConflict
	}
	next := copyCurve(c)
	next.Version = expectedVersion + 1
	m.curves[c.ID] = next
	c.Version = next.Version
	return nil
}

func (m *Memory) ListCurves(ctx context.Context, f CurveFilter) ([]*model.Curve, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.Curve
	for _, c := range m.curves {
		if f.State != "" && c.State != f.State {
			continue
		}
		if f.OwnerType != "" && c.OwnerType != f.OwnerType {
			continue
		}
		out = append(out, copyCurve(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return applyWindow(out, f.Limit, f.Offset), nil
}

func (m *Memory) GetHolder(ctx context.Context, curveID uuid.UUID, participantID string) (*model.Holder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.holders[curveID][participantID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyHolder(h), nil
}

func (m *Memory) ListHolders(ctx context.Context, f HolderFilter) ([]*model.Holder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.Holder
	for _, h := range m.holders[f.CurveID] {
		if h.Balance < f.MinBalance {
			continue
		}
		out = append(out, copyHolder(h))
	}
	if f.OrderByBalance {
		sort.Slice(out, func(i, j int) bool {
			if out[i].Balance != out[j].Balance {
				return out[i].Balance > out[j].Balance
			}
			return out[i].ParticipantID < out[j].ParticipantID
		})
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	}
	return applyWindow(out, f.Limit, f.Offset), nil
}

func (m *Memory) CommitTrade(ctx context.Context, tc *TradeCommit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Curve CAS first: it is the serialization point for the whole trade.
	cur, ok := m.curves[tc.Curve.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != tc.ExpectedCurveVersion {
		return ErrVersionConflict
	}

	if tc.ExpectedHolderVersion > 0 {
		existing, ok := m.holders[tc.Curve.ID][tc.Holder.ParticipantID]
		if !ok || existing.Version != tc.ExpectedHolderVersion {
			return ErrVersionConflict
		}
	}

	nextCurve := copyCurve(tc.Curve)
	nextCurve.Version = tc.ExpectedCurveVersion + 1
	m.curves[tc.Curve.ID] = nextCurve
	tc.Curve.Version = nextCurve.Version

	nextHolder := copyHolder(tc.Holder)
	nextHolder.Version = tc.ExpectedHolderVersion + 1
	if m.holders[tc.Curve.ID] == nil {
		m.holders[tc.Curve.ID] = make(map[string]*model.Holder)
	}
	m.holders[tc.Curve.ID][tc.Holder.ParticipantID] = nextHolder
	tc.Holder.Version = nextHolder.Version

	m.events[tc.Curve.ID] = append(m.events[tc.Curve.ID], copyEvent(tc.Event))
	return nil
}

func (m *Memory) AppendEvent(ctx context.Context, e *model.TradeEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events[e.CurveID] = append(m.events[e.CurveID], copyEvent(e))
	return nil
}

func (m *Memory) ListEvents(ctx context.Context, f EventFilter) ([]*model.TradeEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	kindSet := make(map[model.EventKind]bool, len(f.Kinds))
	for _, k := range f.Kinds {
		kindSet[k] = true
	}

	var out []*model.TradeEvent
	for _, e := range m.events[f.CurveID] {
		if len(kindSet) > 0 && !kindSet[e.Kind] {
			continue
		}
		if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && !e.Timestamp.Before(f.Until) {
			continue
		}
		out = append(out, copyEvent(e))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if f.Ascending {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[j].Timestamp.Before(out[i].Timestamp)
	})
	return applyWindow(out, f.Limit, f.Offset), nil
}

func (m *Memory) CreateSnapshot(ctx context.Context, s *model.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.snapshots[s.CurveID]; ok {
		return ErrAlreadyExists
	}
	m.snapshots[s.CurveID] = copySnapshot(s)
	return nil
}

func (m *Memory) GetSnapshotByCurve(ctx context.Context, curveID uuid.UUID) (*model.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.snapshots[curveID]
	if !ok {
		return nil, ErrNotFound
	}
	return copySnapshot(s), nil
}

func (m *Memory) UpdateSnapshot(ctx context.Context, s *model.Snapshot, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.snapshots[s.CurveID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expectedVersion {
		return ErrVersionConflict
	}
	next := copySnapshot(s)
	next.Version = expectedVersion + 1
	m.snapshots[s.CurveID] = next
	s.Version = next.Version
	return nil
}

func (m *Memory) CreateReferral(ctx context.Context, r *model.Referral) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *r
	m.referrals = append(m.referrals, &cp)
	return nil
}

func (m *Memory) GetRewardsPool(ctx context.Context, scope string) (*model.RewardsPool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.pools[scope]
	if !ok {
		return nil, ErrNotFound
	}
	return copyPool(p), nil
}

func (m *Memory) UpsertRewardsPool(ctx context.Context, p *model.RewardsPool, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.pools[p.Scope]
	if !ok {
		if expectedVersion != 0 {
			return ErrVersionConflict
		}
		next := copyPool(p)
		next.Version = 1
		m.pools[p.Scope] = next
		p.Version = 1
		return nil
	}
	if cur.Version != expectedVersion {
		return ErrVersionConflict
	}
	next := copyPool(p)
	next.Version = expectedVersion + 1
	m.pools[p.Scope] = next
	p.Version = next.Version
	return nil
}

// Referrals returns all referral records (test helper).
func (m *Memory) Referrals() []*model.Referral {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*model.Referral, 0, len(m.referrals))
	for _, r := range m.referrals {
		cp := *r
		out = append(out, &cp)
	}
	return out
}

func applyWindow[T any](in []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(in) {
			return nil
		}
		in = in[offset:]
	}
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}
