package core

// RunClearing executes the clearing pipeline for one auction: floor enforcement → clearing.
//
// Parameters:
//   - auction: catalog record supplying the total supply and optional minimum price
//   - bids: the auction's current bid set as held by the ledger
//
// Returns:
//   - ClearingRun containing the clearing result, eligible bids and floor-rejected bid IDs
//   - ErrInvalidSupply (wrapped) when the auction's supply is not positive
func RunClearing(auction Auction, bids []Bid) (*ClearingRun, error) {
	// Step 1: Enforce the auction's minimum price
	eligibleBids, rejectedBids := EnforceMinimumPrice(bids, auction.MinimumPrice)

	// Step 2: Clear eligible bids against the supply
	result, err := ComputeClearing(eligibleBids, auction.TotalSellSupply)
	if err != nil {
		return nil, err
	}

	return &ClearingRun{
		Result:              result,
		EligibleBids:        eligibleBids,
		FloorRejectedBidIDs: rejectedBids,
	}, nil
}
