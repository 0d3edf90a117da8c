package engine

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"CurveLedger/internal/chain"
	fpmath "CurveLedger/internal/math"
	"CurveLedger/internal/model"
)

// buildSnapshot freezes the holder ledger into an immutable record:
// holders with a positive balance ordered by balance descending (ties
// by participant id), ownership percentages, the participant/liquidity
// token split, and the full allocation computed with the
// largest-remainder method. The snapshot is the only input
// distribution ever reads.
func (e *Engine) buildSnapshot(c *model.Curve, holders []*model.Holder) (*model.Snapshot, error) {
	rows := make([]model.SnapshotHolder, 0, len(holders))
	var totalBalance int64
	for _, h := range holders {
		if h.Balance <= 0 {
			continue
		}
		rows = append(rows, model.SnapshotHolder{
			ParticipantID: h.ParticipantID,
			Balance:       h.Balance,
		})
		totalBalance += h.Balance
	}
	if totalBalance == 0 {
		return nil, fmt.Errorf("no holder balances to snapshot")
	}
	if totalBalance != c.Supply {
		return nil, fmt.Errorf("holder balances sum to %d, curve supply is %d", totalBalance, c.Supply)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Balance != rows[j].Balance {
			return rows[i].Balance > rows[j].Balance
		}
		return rows[i].ParticipantID < rows[j].ParticipantID
	})

	hundred := decimal.NewFromInt(100)
	total := decimal.NewFromInt(totalBalance)
	for i := range rows {
		rows[i].Percentage = decimal.NewFromInt(rows[i].Balance).Mul(hundred).Div(total)
	}

	poolTokens := fpmath.ApplyBps(e.cfg.TotalTokenSupply, e.cfg.ParticipantPoolBps)
	allocations := Allocate(rows, poolTokens, totalBalance)

	return &model.Snapshot{
		ID:              uuid.New(),
		CurveID:         c.ID,
		ContentHash:     snapshotHash(rows),
		Holders:         rows,
		TotalSupply:     totalBalance,
		TotalHolders:    int64(len(rows)),
		PoolTokens:      poolTokens,
		LiquidityTokens: e.cfg.TotalTokenSupply - poolTokens,
		Allocations:     allocations,
		Version:         1,
		CreatedAt:       e.now(),
	}, nil
}

// Allocate splits poolTokens across holders proportionally to balance
// using the largest-remainder method: every holder gets the floor of
// its exact share, then the leftover tokens go one each to the largest
// remainders. Ties break by remainder, then balance, then participant
// id, so the result is deterministic for any input order.
// The allocations always sum to exactly poolTokens.
func Allocate(holders []model.SnapshotHolder, poolTokens, totalBalance int64) []model.Allocation {
	if poolTokens <= 0 || totalBalance <= 0 || len(holders) == 0 {
		return nil
	}

	type share struct {
		idx       int
		remainder *big.Int
	}

	out := make([]model.Allocation, len(holders))
	shares := make([]share, len(holders))
	pool := big.NewInt(poolTokens)
	total := big.NewInt(totalBalance)

	var floorSum int64
	for i, h := range holders {
		exact := new(big.Int).Mul(pool, big.NewInt(h.Balance))
		floor, rem := new(big.Int).QuoRem(exact, total, new(big.Int))
		out[i] = model.Allocation{ParticipantID: h.ParticipantID, Tokens: floor.Int64()}
		shares[i] = share{idx: i, remainder: rem}
		floorSum += floor.Int64()
	}

	leftover := poolTokens - floorSum
	sort.Slice(shares, func(a, b int) bool {
		ia, ib := shares[a], shares[b]
		if c := ia.remainder.Cmp(ib.remainder); c != 0 {
			return c > 0
		}
		if holders[ia.idx].Balance != holders[ib.idx].Balance {
			return holders[ia.idx].Balance > holders[ib.idx].Balance
		}
		return holders[ia.idx].ParticipantID < holders[ib.idx].ParticipantID
	})
	for i := int64(0); i < leftover; i++ {
		out[shares[i].idx].Tokens++
	}

	return out
}

// snapshotHash computes the SHA-256 content hash of the canonical
// ordered holder list. Each row contributes a length-prefixed
// participant id and a little-endian balance, so the hash changes if
// any row, order, or balance changes.
func snapshotHash(rows []model.SnapshotHolder) string {
	h := sha256.New()
	var buf [8]byte
	for _, r := range rows {
		binary.LittleEndian.PutUint32(buf[:4], uint32(len(r.ParticipantID)))
		h.Write(buf[:4])
		h.Write([]byte(r.ParticipantID))
		binary.LittleEndian.PutUint64(buf[:], uint64(r.Balance))
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func mintRequest(snap *model.Snapshot) *chain.MintRequest {
	return &chain.MintRequest{
		CurveID:         snap.CurveID,
		SnapshotHash:    snap.ContentHash,
		TotalSupply:     snap.TotalSupply,
		PoolTokens:      snap.PoolTokens,
		LiquidityTokens: snap.LiquidityTokens,
		Allocations:     snap.Allocations,
	}
}
