package core

import (
	"github.com/shopspring/decimal"
)

// BidMeetsMinimumPrice returns true if the bid's limit price meets or exceeds minPrice.
// The comparison is exact: BuyAmount >= minPrice * SellAmount.
func BidMeetsMinimumPrice(bid Bid, minPrice decimal.Decimal) bool {
	return bid.BuyAmount.GreaterThanOrEqual(minPrice.Mul(bid.SellAmount))
}

// EnforceMinimumPrice filters bids below minPrice.
// Returns eligible bids and IDs of rejected bids, both in input order.
// A zero or negative minPrice disables enforcement.
func EnforceMinimumPrice(bids []Bid, minPrice decimal.Decimal) (eligible []Bid, rejectedBidIDs []string) {
	eligibleBids := make([]Bid, 0, len(bids))
	rejectedIDs := make([]string, 0)

	if !minPrice.IsPositive() {
		return append(eligibleBids, bids...), rejectedIDs
	}

	for _, bid := range bids {
		if BidMeetsMinimumPrice(bid, minPrice) {
			eligibleBids = append(eligibleBids, bid)
		} else {
			rejectedIDs = append(rejectedIDs, bid.ID)
		}
	}

	return eligibleBids, rejectedIDs
}
