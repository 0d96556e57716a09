package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

// mustDecimal parses s or fails the test
func mustDecimal(t testing.TB, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("invalid decimal %q: %v", s, err)
	}
	return d
}

func newBid(t testing.TB, id, sell, buy string, ts uint64) Bid {
	t.Helper()
	return Bid{
		ID:             id,
		Bidder:         "0x" + id,
		SellAmount:     mustDecimal(t, sell),
		BuyAmount:      mustDecimal(t, buy),
		BlockTimestamp: ts,
	}
}
