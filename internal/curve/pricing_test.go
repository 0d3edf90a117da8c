package curve

import (
	"testing"
)

func testParams() Params {
	return Params{
		BasePrice:  10_000_000, // 0.01
		LinearCoef: 300_000,
		QuadCoef:   1_200,
	}
}

func TestPriceAtZeroIsBasePrice(t *testing.T) {
	p := testParams()
	got, err := p.Price(0)
	if err != nil {
		t.Fatalf("Price(0): %v", err)
	}
	if got != p.BasePrice {
		t.Errorf("Price(0) = %d, want %d", got, p.BasePrice)
	}
}

func TestPriceMonotonic(t *testing.T) {
	p := testParams()
	prev := int64(-1)
	for s := int64(0); s <= 10_000; s += 97 {
		got, err := p.Price(s)
		if err != nil {
			t.Fatalf("Price(%d): %v", s, err)
		}
		if got <= prev {
			t.Fatalf("Price(%d) = %d not greater than previous %d", s, got, prev)
		}
		prev = got
	}
}

func TestPriceDeterministic(t *testing.T) {
	p := testParams()
	a, _ := p.Price(12_345)
	b, _ := p.Price(12_345)
	if a != b {
		t.Errorf("Price not deterministic: %d vs %d", a, b)
	}
}

func TestCostFirstKeyIsBasePrice(t *testing.T) {
	p := testParams()
	got, err := p.Cost(0, 1)
	if err != nil {
		t.Fatalf("Cost(0, 1): %v", err)
	}
	if got != p.BasePrice {
		t.Errorf("Cost(0, 1) = %d, want %d", got, p.BasePrice)
	}
}

func TestCostMatchesDiscreteSum(t *testing.T) {
	p := testParams()
	intervals := [][2]int64{
		{0, 1}, {0, 10}, {5, 6}, {0, 100}, {37, 149}, {100, 101}, {999, 1500},
	}
	for _, iv := range intervals {
		from, to := iv[0], iv[1]
		var want int64
		for s := from; s < to; s++ {
			price, err := p.Price(s)
			if err != nil {
				t.Fatalf("Price(%d): %v", s, err)
			}
			want += price
		}
		got, err := p.Cost(from, to)
		if err != nil {
			t.Fatalf("Cost(%d, %d): %v", from, to, err)
		}
		if got != want {
			t.Errorf("Cost(%d, %d) = %d, want discrete sum %d", from, to, got, want)
		}
	}
}

func TestCostAdditive(t *testing.T) {
	// Cost(a, c) == Cost(a, b) + Cost(b, c): a sell right after a buy
	// mirrors the exact amounts, no drift.
	p := testParams()
	ab, _ := p.Cost(0, 50)
	bc, _ := p.Cost(50, 120)
	ac, _ := p.Cost(0, 120)
	if ab+bc != ac {
		t.Errorf("Cost not additive: %d + %d != %d", ab, bc, ac)
	}
}

func TestCostZeroInterval(t *testing.T) {
	p := testParams()
	got, err := p.Cost(42, 42)
	if err != nil {
		t.Fatalf("Cost(42, 42): %v", err)
	}
	if got != 0 {
		t.Errorf("Cost(42, 42) = %d, want 0", got)
	}
}

func TestCostInvalidInterval(t *testing.T) {
	p := testParams()
	if _, err := p.Cost(10, 5); err == nil {
		t.Error("Cost(10, 5) should fail")
	}
	if _, err := p.Cost(-1, 5); err == nil {
		t.Error("Cost(-1, 5) should fail")
	}
	if _, err := p.Price(-1); err == nil {
		t.Error("Price(-1) should fail")
	}
}

func TestCostOverflow(t *testing.T) {
	p := Params{BasePrice: 1 << 62, LinearCoef: 0, QuadCoef: 0}
	if _, err := p.Cost(0, 4); err != ErrAmountOverflow {
		t.Errorf("expected ErrAmountOverflow, got %v", err)
	}
}

func TestValidateRejectsNegativeCoefficients(t *testing.T) {
	p := Params{BasePrice: 1, LinearCoef: -1}
	if err := p.Validate(); err == nil {
		t.Error("negative coefficient should fail validation")
	}
}
