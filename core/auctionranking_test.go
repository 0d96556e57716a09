package core

import (
	"testing"

	"github.com/peterldowns/testy/check"
)

func TestRankBids_ByLimitPrice(t *testing.T) {
	bids := []Bid{
		newBid(t, "bid_a", "10", "25", 1), // 2.50
		newBid(t, "bid_b", "4", "9", 1),   // 2.25
		newBid(t, "bid_c", "4", "11", 1),  // 2.75
	}

	ranked := RankBids(bids)

	check.Equal(t, 3, len(ranked))
	check.Equal(t, "bid_c", ranked[0].ID) // Highest (2.75)
	check.Equal(t, "bid_a", ranked[1].ID) // Middle (2.50)
	check.Equal(t, "bid_b", ranked[2].ID) // Lowest (2.25)
}

func TestRankBids_SingleBid(t *testing.T) {
	ranked := RankBids([]Bid{newBid(t, "bid1", "1", "2", 0)})

	check.Equal(t, 1, len(ranked))
	check.Equal(t, "bid1", ranked[0].ID)
}

func TestRankBids_EmptyBids(t *testing.T) {
	ranked := RankBids([]Bid{})

	check.NotNil(t, ranked)
	check.Equal(t, 0, len(ranked))
}

func TestRankBids_TieBrokenByTimestamp(t *testing.T) {
	bids := []Bid{
		newBid(t, "late", "2", "5", 200),
		newBid(t, "early", "4", "10", 100), // same 2.5 price, scaled amounts
		newBid(t, "low", "1", "1", 50),
	}

	ranked := RankBids(bids)

	check.Equal(t, []string{"early", "late", "low"}, []string{ranked[0].ID, ranked[1].ID, ranked[2].ID})
}

func TestRankBids_TieBrokenByID(t *testing.T) {
	bids := []Bid{
		newBid(t, "bid_c", "1", "2", 100),
		newBid(t, "bid_a", "1", "2", 100),
		newBid(t, "bid_b", "1", "2", 100),
	}

	for i := 0; i < 5; i++ {
		check.Equal(t, []string{"bid_a", "bid_b", "bid_c"}, RankedBidIDs(bids))
	}
}

func TestRankBids_DoesNotMutateInput(t *testing.T) {
	bids := []Bid{
		newBid(t, "bid1", "1", "1", 0),
		newBid(t, "bid2", "1", "3", 0),
	}

	_ = RankBids(bids)

	check.Equal(t, "bid1", bids[0].ID)
	check.Equal(t, "bid2", bids[1].ID)
}

func TestCompareLimitPrice_NearEqualPrices(t *testing.T) {
	// 1/3 vs 333333333333333333/1000000000000000000 differ only beyond 18 digits
	third := newBid(t, "third", "3", "1", 0)
	approx := newBid(t, "approx", "1000000000000000000", "333333333333333333", 0)

	check.Equal(t, 1, CompareLimitPrice(third, approx))
	check.Equal(t, -1, CompareLimitPrice(approx, third))
	check.Equal(t, 0, CompareLimitPrice(third, newBid(t, "x", "6", "2", 0)))
}
