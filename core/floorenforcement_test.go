package core

import (
	"testing"

	"github.com/peterldowns/testy/check"
)

func TestBidMeetsMinimumPrice(t *testing.T) {
	tests := []struct {
		name     string
		sell     string
		buy      string
		minPrice string
		expected bool
	}{
		{"bid above floor", "1", "3", "2.5", true},
		{"bid at floor", "2", "5", "2.5", true},
		{"bid below floor", "1", "2", "2.5", false},
		{"zero floor - always passes", "1", "1", "0", true},
		{"repeating decimal at floor", "3", "1", "0.333333333333333333", true},
		{"repeating decimal just above price", "3", "1", "0.333333333333333334", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bid := newBid(t, "bid", tt.sell, tt.buy, 0)
			check.Equal(t, tt.expected, BidMeetsMinimumPrice(bid, mustDecimal(t, tt.minPrice)))
		})
	}
}

func TestEnforceMinimumPrice(t *testing.T) {
	bids := []Bid{
		newBid(t, "bid1", "1", "1", 0),
		newBid(t, "bid2", "1", "2", 0),
		newBid(t, "bid3", "2", "1", 0),
	}

	t.Run("no floor (zero) - all bids pass", func(t *testing.T) {
		eligible, rejected := EnforceMinimumPrice(bids, mustDecimal(t, "0"))
		check.Equal(t, 3, len(eligible))
		check.Equal(t, 0, len(rejected))
	})

	t.Run("floor rejects cheap bids in input order", func(t *testing.T) {
		eligible, rejected := EnforceMinimumPrice(bids, mustDecimal(t, "1"))
		check.Equal(t, 2, len(eligible))
		check.Equal(t, "bid1", eligible[0].ID)
		check.Equal(t, "bid2", eligible[1].ID)
		check.Equal(t, []string{"bid3"}, rejected)
	})

	t.Run("floor above every bid", func(t *testing.T) {
		eligible, rejected := EnforceMinimumPrice(bids, mustDecimal(t, "10"))
		check.Equal(t, 0, len(eligible))
		check.Equal(t, []string{"bid1", "bid2", "bid3"}, rejected)
	})
}
