package core

import (
	"cmp"
	"slices"
	"strings"
)

// CompareLimitPrice compares the limit prices of a and b exactly by
// cross-multiplying (a.Buy * b.Sell vs b.Buy * a.Sell), so no rounding can
// make two different prices look equal. Both sell amounts must be positive.
func CompareLimitPrice(a, b Bid) int {
	return a.BuyAmount.Mul(b.SellAmount).Cmp(b.BuyAmount.Mul(a.SellAmount))
}

// compareRank orders bids for service: higher limit price first, then earlier
// block timestamp, then lexicographically smaller id.
func compareRank(a, b Bid) int {
	if c := CompareLimitPrice(a, b); c != 0 {
		return -c
	}
	if c := cmp.Compare(a.BlockTimestamp, b.BlockTimestamp); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// RankBids returns a copy of bids in service order. The order is total for
// bids with distinct ids, so the result does not depend on input order.
func RankBids(bids []Bid) []Bid {
	ranked := slices.Clone(bids)
	slices.SortStableFunc(ranked, compareRank)
	return ranked
}

// RankedBidIDs returns the ids of bids in service order.
func RankedBidIDs(bids []Bid) []string {
	ranked := RankBids(bids)
	ids := make([]string, len(ranked))
	for i, bid := range ranked {
		ids[i] = bid.ID
	}
	return ids
}
