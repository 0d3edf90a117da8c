package chain

import (
	"context"

	"github.com/google/uuid"

	"CurveLedger/internal/model"
)

// MintRequest asks the execution layer to mint the launch token and
// transfer each allocation to its participant. The request is
// idempotent by curve: re-sending after a crash must not double-mint,
// which the execution layer enforces by curve ID.
type MintRequest struct {
	CurveID         uuid.UUID          `json:"curve_id"`
	SnapshotHash    string             `json:"snapshot_hash"`
	TotalSupply     int64              `json:"total_supply"`
	PoolTokens      int64              `json:"pool_tokens"`
	LiquidityTokens int64              `json:"liquidity_tokens"`
	Allocations     []model.Allocation `json:"allocations"`
}

// MintReceipt is the execution layer's confirmation.
type MintReceipt struct {
	CurveID   uuid.UUID `json:"curve_id"`
	TokenMint string    `json:"token_mint"`
	TxRef     string    `json:"tx_ref"`
}

// Distributor is the opaque mint-and-distribute capability. The ledger
// never sees chain mechanics; it hands over allocations and gets back
// a receipt or an error.
type Distributor interface {
	MintAndDistribute(ctx context.Context, req *MintRequest) (*MintReceipt, error)
}

// Noop is a Distributor for tests and local development. It fabricates
// a deterministic mint address from the curve ID.
type Noop struct{}

func (Noop) MintAndDistribute(ctx context.Context, req *MintRequest) (*MintReceipt, error) {
	return &MintReceipt{
		CurveID:   req.CurveID,
		TokenMint: "mint-" + req.CurveID.String(),
		TxRef:     "noop",
	}, nil
}
