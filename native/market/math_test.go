package market

import (
	"errors"
	"math"
	"testing"
)

func TestSplitRoyalty(t *testing.T) {
	cases := []struct {
		price   uint64
		percent uint8
		royalty uint64
		seller  uint64
	}{
		{price: 1000, percent: 5, royalty: 50, seller: 950},
		{price: 999, percent: 10, royalty: 99, seller: 900},
		{price: 19, percent: 5, royalty: 0, seller: 19},
		{price: 0, percent: 5, royalty: 0, seller: 0},
		{price: 100, percent: 0, royalty: 0, seller: 100},
		{price: 100, percent: 100, royalty: 100, seller: 0},
		{price: math.MaxUint64, percent: 100, royalty: math.MaxUint64, seller: 0},
		{price: math.MaxUint64, percent: 5, royalty: 922337203685477580, seller: math.MaxUint64 - 922337203685477580},
	}
	for _, tc := range cases {
		royalty, seller, err := SplitRoyalty(tc.price, tc.percent)
		if err != nil {
			t.Fatalf("split %d@%d: %v", tc.price, tc.percent, err)
		}
		if royalty != tc.royalty || seller != tc.seller {
			t.Fatalf("split %d@%d = %d/%d, want %d/%d", tc.price, tc.percent, royalty, seller, tc.royalty, tc.seller)
		}
	}
}

func TestSplitRoyaltyConserves(t *testing.T) {
	prices := []uint64{1, 7, 99, 101, 12345, 1 << 40, math.MaxUint64 / 3, math.MaxUint64}
	for _, price := range prices {
		for pct := 0; pct <= 100; pct++ {
			royalty, seller, err := SplitRoyalty(price, uint8(pct))
			if err != nil {
				t.Fatalf("split %d@%d: %v", price, pct, err)
			}
			if royalty+seller != price {
				t.Fatalf("split %d@%d does not conserve: %d+%d", price, pct, royalty, seller)
			}
		}
	}
}

func TestSplitRoyaltyRejectsPercentAboveHundred(t *testing.T) {
	if _, _, err := SplitRoyalty(10, 101); !errors.Is(err, ErrInvalidRoyalty) {
		t.Fatalf("expected ErrInvalidRoyalty, got %v", err)
	}
}

func TestCheckedArithmetic(t *testing.T) {
	if _, err := checkedAdd(math.MaxUint64, 1); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if _, err := checkedSub(1, 2); !errors.Is(err, ErrArithmeticUnderflow) {
		t.Fatalf("expected underflow, got %v", err)
	}
}
