package core

import (
	"errors"

	"github.com/shopspring/decimal"
)

// priceDigits is the number of significant digits kept when a ratio has to be
// materialized (clearing price, fill ratio, price per token). Ranking and the
// minimum price check never divide.
const priceDigits = 32

// ErrInvalidSupply is returned when clearing is requested with a non-positive total supply.
var ErrInvalidSupply = errors.New("total sell supply must be positive")

// AuctionKind identifies the sale mechanism, using the indexer's entity names.
type AuctionKind string

const (
	AuctionKindFixedPrice AuctionKind = "fixedPriceSale"
	AuctionKindBatch      AuctionKind = "fairSale"
)

// Valid reports whether k is a known auction kind.
func (k AuctionKind) Valid() bool {
	return k == AuctionKindFixedPrice || k == AuctionKindBatch
}

// Bid is a single immutable bid as recorded on the ledger.
// SellAmount and BuyAmount are always strictly positive once constructed by ingestion.
type Bid struct {
	ID             string          `json:"id"`
	Bidder         string          `json:"bidder"`
	SellAmount     decimal.Decimal `json:"sell_amount"`
	BuyAmount      decimal.Decimal `json:"buy_amount"`
	BlockTimestamp uint64          `json:"block_timestamp"`
}

// LimitPrice returns BuyAmount / SellAmount rounded to priceDigits significant digits.
// Use CompareLimitPrice for ordering; it is exact.
func (b Bid) LimitPrice() decimal.Decimal {
	return divSignificant(b.BuyAmount, b.SellAmount)
}

// divSignificant returns num / den rounded to priceDigits significant digits,
// whatever the magnitude of the quotient. Zero when either operand is zero.
func divSignificant(num, den decimal.Decimal) decimal.Decimal {
	if num.IsZero() || den.IsZero() {
		return decimal.Zero
	}
	// a value with n coefficient digits and exponent e lies in [10^(n+e-1), 10^(n+e))
	magnitude := int64(num.NumDigits()) + int64(num.Exponent()) -
		int64(den.NumDigits()) - int64(den.Exponent())
	return num.DivRound(den, int32(priceDigits-magnitude))
}

// Auction is the catalog record of a sale. Its bids live in the ledger, not here.
type Auction struct {
	ID              string          `json:"id"`
	Kind            AuctionKind     `json:"kind"`
	TotalSellSupply decimal.Decimal `json:"total_sell_supply"`
	StartTime       uint64          `json:"start_time"`
	EndTime         uint64          `json:"end_time"`
	Settled         bool            `json:"settled"`
	TokenInSymbol   string          `json:"token_in_symbol"`
	TokenOutSymbol  string          `json:"token_out_symbol"`

	// SalePrice is the fixed per-unit price of a fixed-price sale (zero for batch auctions)
	SalePrice decimal.Decimal `json:"sale_price"`

	// MinimumPrice excludes bids whose limit price is below it. Zero disables the floor.
	MinimumPrice decimal.Decimal `json:"minimum_price"`
}

// ClearingStatus describes the outcome of a clearing computation.
type ClearingStatus string

const (
	StatusCleared         ClearingStatus = "cleared"
	StatusUndersubscribed ClearingStatus = "undersubscribed"
	StatusNoBids          ClearingStatus = "no_bids"
)

// BidFill is the allocation of one ranked bid.
type BidFill struct {
	BidID      string          `json:"bid_id"`
	Bidder     string          `json:"bidder"`
	SellAmount decimal.Decimal `json:"sell_amount"`
	FilledSell decimal.Decimal `json:"filled_sell"`
	FillRatio  decimal.Decimal `json:"fill_ratio"`
}

// ClearingResult is the uniform-price outcome for one bid set and supply.
// It is derived data and is never cached.
type ClearingResult struct {
	Status        ClearingStatus  `json:"status"`
	ClearingPrice decimal.Decimal `json:"clearing_price"`

	// MarginalBidID is empty unless Status is StatusCleared
	MarginalBidID string `json:"marginal_bid_id,omitempty"`

	// FullyFilledBidIDs lists bids ranked strictly above the marginal bid, in rank order
	FullyFilledBidIDs []string `json:"fully_filled_bid_ids"`

	PartialFillRatio   decimal.Decimal `json:"partial_fill_ratio"`
	MarginalFillAmount decimal.Decimal `json:"marginal_fill_amount"`

	// FilledSellAmount is the total sell amount allocated across all bids
	FilledSellAmount decimal.Decimal `json:"filled_sell_amount"`

	// Fills holds every bid in rank order, including zero fills below the marginal bid
	Fills []BidFill `json:"fills"`

	// PriceSellAmount and PriceBuyAmount are the amounts of the bid that set
	// ClearingPrice. Zero when the result was rebuilt from its fields.
	PriceSellAmount decimal.Decimal `json:"-"`
	PriceBuyAmount  decimal.Decimal `json:"-"`
}

// IsFullyFilled reports whether bidID received its entire sell amount.
func (r *ClearingResult) IsFullyFilled(bidID string) bool {
	for _, id := range r.FullyFilledBidIDs {
		if id == bidID {
			return true
		}
	}
	return false
}

// FillRatio returns the filled fraction of bidID, zero for unknown bids.
func (r *ClearingResult) FillRatio(bidID string) decimal.Decimal {
	for _, f := range r.Fills {
		if f.BidID == bidID {
			return f.FillRatio
		}
	}
	return decimal.Zero
}

// FilledByBidder sums filled sell amounts per bidder.
func (r *ClearingResult) FilledByBidder() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, f := range r.Fills {
		out[f.Bidder] = out[f.Bidder].Add(f.FilledSell)
	}
	return out
}

// PricePerToken is the inverse of the clearing price, the figure shown to buyers.
// It divides the price-setting bid's own amounts so the inverse is not taken of
// an already rounded price. Zero when there is no clearing price.
func (r *ClearingResult) PricePerToken() decimal.Decimal {
	if !r.PriceBuyAmount.IsZero() {
		return divSignificant(r.PriceSellAmount, r.PriceBuyAmount)
	}
	return divSignificant(decimal.NewFromInt(1), r.ClearingPrice)
}

// ClearingRun contains the complete results of clearing one auction.
type ClearingRun struct {
	Result *ClearingResult

	// EligibleBids are the bids that passed the minimum price and were cleared
	EligibleBids []Bid

	// FloorRejectedBidIDs contains IDs of bids below the auction's minimum price
	FloorRejectedBidIDs []string
}
