package math

import (
	"testing"
)

func TestApplyBpsTruncates(t *testing.T) {
	tests := []struct {
		amount int64
		bps    int64
		want   int64
	}{
		{10_000, 9_400, 9_400},
		{10_000, 300, 300},
		{10_000, 100, 100},
		{1, 9_400, 0},     // truncates toward zero
		{999, 100, 9},      // 9.99 -> 9
		{12_345, 500, 617}, // 617.25 -> 617
	}
	for _, tt := range tests {
		if got := ApplyBps(tt.amount, tt.bps); got != tt.want {
			t.Errorf("ApplyBps(%d, %d) = %d, want %d", tt.amount, tt.bps, got, tt.want)
		}
	}
}

func TestComputeAvgPriceBankersRounding(t *testing.T) {
	tests := []struct {
		invested int64
		balance  int64
		want     int64
	}{
		{100, 3, 33},  // 33.33 rounds down
		{200, 3, 67},  // 66.67 rounds up
		{5, 2, 2},     // 2.5 rounds to even
		{7, 2, 4},     // 3.5 rounds to even
		{100, 0, 0},   // zero balance guard
		{0, 10, 0},
	}
	for _, tt := range tests {
		if got := ComputeAvgPrice(tt.invested, tt.balance); got != tt.want {
			t.Errorf("ComputeAvgPrice(%d, %d) = %d, want %d", tt.invested, tt.balance, got, tt.want)
		}
	}
}

func TestComputeCostBasis(t *testing.T) {
	if got := ComputeCostBasis(1_000_000, 50); got != 50_000_000 {
		t.Errorf("ComputeCostBasis = %d, want 50000000", got)
	}
	if got := ComputeCostBasis(0, 50); got != 0 {
		t.Errorf("ComputeCostBasis with zero avg price = %d, want 0", got)
	}
}

func TestComputeUnrealizedPnl(t *testing.T) {
	tests := []struct {
		balance, current, avg, want int64
	}{
		{10, 150, 100, 500},
		{10, 100, 150, -500},
		{0, 150, 100, 0},
		{10, 100, 100, 0},
	}
	for _, tt := range tests {
		if got := ComputeUnrealizedPnl(tt.balance, tt.current, tt.avg); got != tt.want {
			t.Errorf("ComputeUnrealizedPnl(%d, %d, %d) = %d, want %d",
				tt.balance, tt.current, tt.avg, got, tt.want)
		}
	}
}

func TestDivideRounding(t *testing.T) {
	n := multiplyInt128(7, 1)
	defer putInt128(n)

	if got := divideInt128(n, 2, roundDown); got != 3 {
		t.Errorf("roundDown 7/2 = %d, want 3", got)
	}
	if got := divideInt128(n, 2, roundUp); got != 4 {
		t.Errorf("roundUp 7/2 = %d, want 4", got)
	}
	if got := divideInt128(n, 2, roundHalfEven); got != 4 {
		t.Errorf("roundHalfEven 7/2 = %d, want 4", got)
	}
}

func TestAmountConfigScale(t *testing.T) {
	want := int64(1)
	for i := 0; i < AmountConfig.DecimalPrecision; i++ {
		want *= 10
	}
	if AmountConfig.Scale != want {
		t.Errorf("Scale = %d, want 10^%d = %d", AmountConfig.Scale, AmountConfig.DecimalPrecision, want)
	}
}
