package clearingapi

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cloudx-io/batchclearing/core"
)

// Amounts and prices are decimal.Decimal, which marshals to a JSON string so
// no precision is lost in transport.

// AuctionView is the catalog entry of one auction with its state at response time.
type AuctionView struct {
	ID              string            `json:"id"`
	Kind            core.AuctionKind  `json:"kind"`
	State           core.AuctionState `json:"state"`
	TotalSellSupply decimal.Decimal   `json:"total_sell_supply"`
	StartTime       uint64            `json:"start_time"`
	EndTime         uint64            `json:"end_time"`
	Settled         bool              `json:"settled"`
	TokenInSymbol   string            `json:"token_in_symbol"`
	TokenOutSymbol  string            `json:"token_out_symbol"`
	SalePrice       *decimal.Decimal  `json:"sale_price,omitempty"`
	MinimumPrice    *decimal.Decimal  `json:"minimum_price,omitempty"`
}

// AuctionListResponse is returned by the auction listing endpoint.
type AuctionListResponse struct {
	Type     string        `json:"type"`
	State    string        `json:"state,omitempty"`
	Auctions []AuctionView `json:"auctions"`
}

// BidView is a bid as exchanged with clients and the validator CLI.
type BidView struct {
	ID             string          `json:"id"`
	Bidder         string          `json:"bidder"`
	SellAmount     decimal.Decimal `json:"sell_amount"`
	BuyAmount      decimal.Decimal `json:"buy_amount"`
	BlockTimestamp uint64          `json:"block_timestamp"`
}

// ClearingResponse is the clearing outcome of one auction.
type ClearingResponse struct {
	Type                string               `json:"type"`
	AuctionID           string               `json:"auction_id"`
	State               core.AuctionState    `json:"state"`
	LedgerUpdatedAt     uint64               `json:"ledger_updated_at"`
	BidCount            int                  `json:"bid_count"`
	Result              *core.ClearingResult `json:"result"`
	PricePerToken       decimal.Decimal      `json:"price_per_token"`
	FloorRejectedBidIDs []string             `json:"floor_rejected_bid_ids,omitempty"`
	ProcessingTime      int64                `json:"processing_time_ms"`
}

// RefreshResponse reports the ledger snapshot after a refresh.
type RefreshResponse struct {
	Type        string    `json:"type"`
	AuctionID   string    `json:"auction_id"`
	LastUpdated uint64    `json:"last_updated"`
	BidCount    int       `json:"bid_count"`
	Bids        []BidView `json:"bids"`
}

// ClearingAttestation is the signed payload of a clearing attestation. It
// commits to the bid set and the clearing outcome without listing bidders.
type ClearingAttestation struct {
	DocumentID          string              `json:"document_id" cbor:"document_id"`
	AuctionID           string              `json:"auction_id" cbor:"auction_id"`
	AuctionKind         core.AuctionKind    `json:"auction_kind" cbor:"auction_kind"`
	TotalSellSupply     string              `json:"total_sell_supply" cbor:"total_sell_supply"`
	MinimumPrice        string              `json:"minimum_price" cbor:"minimum_price"`
	LedgerUpdatedAt     uint64              `json:"ledger_updated_at" cbor:"ledger_updated_at"`
	BidCount            int                 `json:"bid_count" cbor:"bid_count"`
	BidHashes           []string            `json:"bid_hashes" cbor:"bid_hashes"`
	BidSetHash          string              `json:"bid_set_hash" cbor:"bid_set_hash"`
	BidHashNonce        string              `json:"bid_hash_nonce" cbor:"bid_hash_nonce"`
	Status              core.ClearingStatus `json:"status" cbor:"status"`
	ClearingPrice       string              `json:"clearing_price" cbor:"clearing_price"`
	MarginalBidID       string              `json:"marginal_bid_id,omitempty" cbor:"marginal_bid_id,omitempty"`
	PartialFillRatio    string              `json:"partial_fill_ratio" cbor:"partial_fill_ratio"`
	FullyFilledBidIDs   []string            `json:"fully_filled_bid_ids" cbor:"fully_filled_bid_ids"`
	FloorRejectedBidIDs []string            `json:"floor_rejected_bid_ids,omitempty" cbor:"floor_rejected_bid_ids,omitempty"`
	ClearingHash        string              `json:"clearing_hash" cbor:"clearing_hash"`
	ClearingNonce       string              `json:"clearing_nonce" cbor:"clearing_nonce"`
	Timestamp           time.Time           `json:"timestamp" cbor:"timestamp"`
}

// AttestationResponse carries a clearing attestation and its decoded payload.
type AttestationResponse struct {
	Type                  string                `json:"type"`
	AttestationCOSEBase64 AttestationCOSEBase64 `json:"attestation_cose_base64"`
	AttestationCOSEGzip   AttestationCOSEGzip   `json:"attestation_cose_gzip"`
	Attestation           *ClearingAttestation  `json:"attestation"`
}

// KeyResponse publishes the attestation verification key.
type KeyResponse struct {
	Type         string `json:"type"`
	KeyAlgorithm string `json:"key_algorithm"`
	PublicKey    string `json:"public_key"` // PEM format
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Type    string `json:"type"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewAuctionView converts a catalog auction. Zero prices are omitted.
func NewAuctionView(a core.Auction, now uint64) AuctionView {
	view := AuctionView{
		ID:              a.ID,
		Kind:            a.Kind,
		State:           core.StateOf(a, now),
		TotalSellSupply: a.TotalSellSupply,
		StartTime:       a.StartTime,
		EndTime:         a.EndTime,
		Settled:         a.Settled,
		TokenInSymbol:   a.TokenInSymbol,
		TokenOutSymbol:  a.TokenOutSymbol,
	}
	if !a.SalePrice.IsZero() {
		price := a.SalePrice
		view.SalePrice = &price
	}
	if !a.MinimumPrice.IsZero() {
		price := a.MinimumPrice
		view.MinimumPrice = &price
	}
	return view
}

// NewBidViews converts ledger bids.
func NewBidViews(bids []core.Bid) []BidView {
	views := make([]BidView, len(bids))
	for i, b := range bids {
		views[i] = BidView{
			ID:             b.ID,
			Bidder:         b.Bidder,
			SellAmount:     b.SellAmount,
			BuyAmount:      b.BuyAmount,
			BlockTimestamp: b.BlockTimestamp,
		}
	}
	return views
}

// ToBids converts views back into bids, rejecting non-positive amounts.
func ToBids(views []BidView) ([]core.Bid, error) {
	bids := make([]core.Bid, len(views))
	for i, v := range views {
		if v.ID == "" {
			return nil, fmt.Errorf("bid %d: missing id", i)
		}
		if !v.SellAmount.IsPositive() || !v.BuyAmount.IsPositive() {
			return nil, fmt.Errorf("bid %s: amounts must be positive", v.ID)
		}
		bids[i] = core.Bid{
			ID:             v.ID,
			Bidder:         v.Bidder,
			SellAmount:     v.SellAmount,
			BuyAmount:      v.BuyAmount,
			BlockTimestamp: v.BlockTimestamp,
		}
	}
	return bids, nil
}
