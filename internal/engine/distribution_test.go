package engine

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CurveLedger/internal/model"
)

func holderRows(rows ...model.SnapshotHolder) []model.SnapshotHolder {
	return rows
}

func TestAllocateProportionalSplit(t *testing.T) {
	// 60/30/10 over a 793M pool divides evenly: 475.8M / 237.9M / 79.3M.
	holders := holderRows(
		model.SnapshotHolder{ParticipantID: "alice", Balance: 60},
		model.SnapshotHolder{ParticipantID: "bob", Balance: 30},
		model.SnapshotHolder{ParticipantID: "carol", Balance: 10},
	)

	got := Allocate(holders, 793_000_000, 100)
	require.Len(t, got, 3)
	assert.Equal(t, int64(475_800_000), got[0].Tokens)
	assert.Equal(t, int64(237_900_000), got[1].Tokens)
	assert.Equal(t, int64(79_300_000), got[2].Tokens)
}

func TestAllocateLargestRemainder(t *testing.T) {
	// 3-way even split of 100 leaves one leftover token; it goes to the
	// largest remainder, tie-broken by balance then participant id.
	holders := holderRows(
		model.SnapshotHolder{ParticipantID: "a", Balance: 1},
		model.SnapshotHolder{ParticipantID: "b", Balance: 1},
		model.SnapshotHolder{ParticipantID: "c", Balance: 1},
	)

	got := Allocate(holders, 100, 3)
	require.Len(t, got, 3)

	var sum int64
	for _, a := range got {
		sum += a.Tokens
	}
	assert.Equal(t, int64(100), sum)

	// Equal remainders and balances: "a" wins the extra token.
	assert.Equal(t, int64(34), got[0].Tokens)
	assert.Equal(t, int64(33), got[1].Tokens)
	assert.Equal(t, int64(33), got[2].Tokens)
}

func TestAllocateSumsExactly(t *testing.T) {
	cases := []struct {
		name     string
		balances []int64
		pool     int64
	}{
		{"uneven", []int64{7, 13, 29, 51}, 1_000_000},
		{"prime pool", []int64{3, 5, 8}, 999_983},
		{"single holder", []int64{42}, 793_000_000},
		{"dust pool", []int64{100, 200, 300}, 7},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var holders []model.SnapshotHolder
			var total int64
			for i, b := range tc.balances {
				holders = append(holders, model.SnapshotHolder{
					ParticipantID: string(rune('a' + i)),
					Balance:       b,
				})
				total += b
			}

			got := Allocate(holders, tc.pool, total)
			require.Len(t, got, len(holders))

			var sum int64
			for _, a := range got {
				sum += a.Tokens
			}
			assert.Equal(t, tc.pool, sum)
		})
	}
}

func TestAllocateDeterministicAcrossInputOrder(t *testing.T) {
	forward := holderRows(
		model.SnapshotHolder{ParticipantID: "a", Balance: 17},
		model.SnapshotHolder{ParticipantID: "b", Balance: 23},
		model.SnapshotHolder{ParticipantID: "c", Balance: 60},
	)
	reversed := holderRows(forward[2], forward[1], forward[0])

	fw := Allocate(forward, 999_999, 100)
	rv := Allocate(reversed, 999_999, 100)

	byID := func(allocs []model.Allocation) map[string]int64 {
		m := make(map[string]int64)
		for _, a := range allocs {
			m[a.ParticipantID] = a.Tokens
		}
		return m
	}
	assert.Equal(t, byID(fw), byID(rv))
}

func TestAllocateEmptyInputs(t *testing.T) {
	assert.Nil(t, Allocate(nil, 100, 0))
	assert.Nil(t, Allocate(holderRows(model.SnapshotHolder{ParticipantID: "a", Balance: 1}), 0, 1))
}

func TestSnapshotHashSensitivity(t *testing.T) {
	base := holderRows(
		model.SnapshotHolder{ParticipantID: "alice", Balance: 60},
		model.SnapshotHolder{ParticipantID: "bob", Balance: 30},
	)

	h1 := snapshotHash(base)
	assert.Equal(t, h1, snapshotHash(base), "hash is deterministic")

	reordered := holderRows(base[1], base[0])
	assert.NotEqual(t, h1, snapshotHash(reordered), "order is part of the content")

	changed := holderRows(
		model.SnapshotHolder{ParticipantID: "alice", Balance: 61},
		model.SnapshotHolder{ParticipantID: "bob", Balance: 30},
	)
	assert.NotEqual(t, h1, snapshotHash(changed), "balance is part of the content")
}

func TestBuildSnapshotOrdersAndPercentages(t *testing.T) {
	eng, st := newTestEngine(t)
	c := newActiveCurve(t, eng, "owner-1")
	fundForLaunch(t, eng, c)
	ctx := context.Background()

	_, err := eng.Freeze(ctx, c.ID, "owner-1")
	require.NoError(t, err)
	res, err := eng.Launch(ctx, c.ID)
	require.NoError(t, err)

	snap := res.Snapshot
	require.Len(t, snap.Holders, 4)
	assert.Equal(t, "dave", snap.Holders[0].ParticipantID, "largest balance first")
	assert.Equal(t, "alice", snap.Holders[1].ParticipantID)
	assert.Equal(t, "bob", snap.Holders[2].ParticipantID)
	assert.Equal(t, "carol", snap.Holders[3].ParticipantID)

	// dave holds 100/200 = 50%.
	assert.True(t, snap.Holders[0].Percentage.Equal(decimal.NewFromInt(50)),
		"got %s", snap.Holders[0].Percentage)

	// Persisted snapshot matches the returned one.
	stored, err := st.GetSnapshotByCurve(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, snap.ContentHash, stored.ContentHash)
}
