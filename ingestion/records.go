package ingestion

// RawBidRecord is a bid as delivered by the indexer, before validation.
// Amounts are decimal strings because the indexer serializes big integers as text.
type RawBidRecord interface {
	RecordID() string
}

// FairSaleBidRecord is a bid of a batch (fair sale) auction.
type FairSaleBidRecord struct {
	ID             string `json:"id"`
	Bidder         string `json:"bidder"`
	TokenInAmount  string `json:"tokenInAmount"`
	TokenOutAmount string `json:"tokenOutAmount"`
	CreatedAt      string `json:"createdAt,omitempty"`
}

func (r FairSaleBidRecord) RecordID() string { return r.ID }

// FixedPricePurchaseRecord is a purchase in a fixed-price sale. SalePrice is not
// part of the purchase entity: a fetcher may copy it from the sale, otherwise
// NormalizeBidsForAuction takes it from the auction.
type FixedPricePurchaseRecord struct {
	ID        string `json:"id"`
	Buyer     string `json:"buyer"`
	Amount    string `json:"amount"`
	CreatedAt string `json:"createdAt,omitempty"`
	SalePrice string `json:"-"`
}

func (r FixedPricePurchaseRecord) RecordID() string { return r.ID }

// TokenRecord is the nested token entity of a sale.
type TokenRecord struct {
	Symbol string `json:"symbol"`
}

// RawAuctionRecord is a sale entity as delivered by the indexer or the catalog store.
type RawAuctionRecord struct {
	ID              string      `json:"id"`
	Kind            string      `json:"kind"`
	TotalSellSupply string      `json:"tokensForSale"`
	StartTime       string      `json:"startDate"`
	EndTime         string      `json:"endDate"`
	Status          string      `json:"status"`
	TokenIn         TokenRecord `json:"tokenIn"`
	TokenOut        TokenRecord `json:"tokenOut"`
	SalePrice       string      `json:"tokenPrice,omitempty"`
	MinimumPrice    string      `json:"minPrice,omitempty"`
}
