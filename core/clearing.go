package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ComputeClearing derives the uniform clearing price for bids against
// totalSellSupply.
//
// Processing flow:
//  1. Empty bid set: StatusNoBids with a zero price
//  2. Rank bids (see RankBids)
//  3. Walk the ranking accumulating sell amounts until supply is reached; that bid is marginal
//  4. Supply never reached: StatusUndersubscribed, every bid filled, price of the last bid
//  5. Otherwise StatusCleared at the marginal bid's price, marginal bid partially filled
//
// The inputs are never mutated. A non-positive supply returns ErrInvalidSupply.
func ComputeClearing(bids []Bid, totalSellSupply decimal.Decimal) (*ClearingResult, error) {
	if !totalSellSupply.IsPositive() {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidSupply, totalSellSupply.String())
	}

	if len(bids) == 0 {
		return &ClearingResult{
			Status:             StatusNoBids,
			ClearingPrice:      decimal.Zero,
			FullyFilledBidIDs:  []string{},
			PartialFillRatio:   decimal.Zero,
			MarginalFillAmount: decimal.Zero,
			FilledSellAmount:   decimal.Zero,
			Fills:              []BidFill{},
		}, nil
	}

	ranked := RankBids(bids)

	marginal := -1
	cumulativeBefore := decimal.Zero
	cumulative := decimal.Zero
	for i, bid := range ranked {
		cumulativeBefore = cumulative
		cumulative = cumulative.Add(bid.SellAmount)
		if cumulative.GreaterThanOrEqual(totalSellSupply) {
			marginal = i
			break
		}
	}

	if marginal < 0 {
		return undersubscribed(ranked, cumulative), nil
	}

	marginalBid := ranked[marginal]
	fillAmount := totalSellSupply.Sub(cumulativeBefore)
	ratio := clampUnit(divSignificant(fillAmount, marginalBid.SellAmount))

	result := &ClearingResult{
		Status:             StatusCleared,
		ClearingPrice:      marginalBid.LimitPrice(),
		MarginalBidID:      marginalBid.ID,
		FullyFilledBidIDs:  make([]string, 0, marginal),
		PartialFillRatio:   ratio,
		MarginalFillAmount: fillAmount,
		FilledSellAmount:   cumulativeBefore.Add(fillAmount),
		Fills:              make([]BidFill, 0, len(ranked)),
		PriceSellAmount:    marginalBid.SellAmount,
		PriceBuyAmount:     marginalBid.BuyAmount,
	}

	for i, bid := range ranked {
		fill := BidFill{BidID: bid.ID, Bidder: bid.Bidder, SellAmount: bid.SellAmount}
		switch {
		case i < marginal:
			fill.FilledSell = bid.SellAmount
			fill.FillRatio = decimal.NewFromInt(1)
			result.FullyFilledBidIDs = append(result.FullyFilledBidIDs, bid.ID)
		case i == marginal:
			fill.FilledSell = fillAmount
			fill.FillRatio = ratio
		default:
			fill.FilledSell = decimal.Zero
			fill.FillRatio = decimal.Zero
		}
		result.Fills = append(result.Fills, fill)
	}

	return result, nil
}

func undersubscribed(ranked []Bid, total decimal.Decimal) *ClearingResult {
	last := ranked[len(ranked)-1]
	result := &ClearingResult{
		Status:             StatusUndersubscribed,
		ClearingPrice:      last.LimitPrice(),
		PriceSellAmount:    last.SellAmount,
		PriceBuyAmount:     last.BuyAmount,
		FullyFilledBidIDs:  make([]string, 0, len(ranked)),
		PartialFillRatio:   decimal.NewFromInt(1),
		MarginalFillAmount: decimal.Zero,
		FilledSellAmount:   total,
		Fills:              make([]BidFill, 0, len(ranked)),
	}
	for _, bid := range ranked {
		result.FullyFilledBidIDs = append(result.FullyFilledBidIDs, bid.ID)
		result.Fills = append(result.Fills, BidFill{
			BidID:      bid.ID,
			Bidder:     bid.Bidder,
			SellAmount: bid.SellAmount,
			FilledSell: bid.SellAmount,
			FillRatio:  decimal.NewFromInt(1),
		})
	}
	return result
}

func clampUnit(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	one := decimal.NewFromInt(1)
	if d.GreaterThan(one) {
		return one
	}
	return d
}
