package ingestion

import (
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/cloudx-io/batchclearing/core"
)

// NormalizeBids validates raw records and converts them into bids.
//
// Malformed records are skipped and logged; when any were skipped the returned
// error is an *IngestionError and the valid bids are still returned.
// Duplicate ids resolve to the later record, kept at the position of the first
// occurrence. Output otherwise follows input order.
func NormalizeBids(records []RawBidRecord) ([]core.Bid, error) {
	bids := make([]core.Bid, 0, len(records))
	positions := make(map[string]int, len(records))
	var skipped []*MalformedRecordError

	for i, record := range records {
		bid, err := normalizeBid(record)
		if err != nil {
			malformed := &MalformedRecordError{Index: i, RecordID: recordID(record), Reason: err.Error()}
			logSkipped(malformed)
			skipped = append(skipped, malformed)
			continue
		}

		if pos, seen := positions[bid.ID]; seen {
			bids[pos] = bid
			continue
		}
		positions[bid.ID] = len(bids)
		bids = append(bids, bid)
	}

	if len(skipped) > 0 {
		return bids, &IngestionError{Skipped: skipped}
	}
	return bids, nil
}

// NormalizeBidsForAuction normalizes records fetched for auction. Purchases of
// a fixed-price sale that carry no sale price take the auction's SalePrice;
// the records themselves are not modified.
func NormalizeBidsForAuction(auction core.Auction, records []RawBidRecord) ([]core.Bid, error) {
	if auction.Kind != core.AuctionKindFixedPrice || !auction.SalePrice.IsPositive() {
		return NormalizeBids(records)
	}

	salePrice := auction.SalePrice.String()
	priced := make([]RawBidRecord, len(records))
	for i, record := range records {
		switch r := record.(type) {
		case FixedPricePurchaseRecord:
			if strings.TrimSpace(r.SalePrice) == "" {
				r.SalePrice = salePrice
			}
			priced[i] = r
		case *FixedPricePurchaseRecord:
			if r != nil && strings.TrimSpace(r.SalePrice) == "" {
				withPrice := *r
				withPrice.SalePrice = salePrice
				priced[i] = withPrice
				continue
			}
			priced[i] = record
		default:
			priced[i] = record
		}
	}
	return NormalizeBids(priced)
}

func logSkipped(malformed *MalformedRecordError) {
	log.Printf("WARNING: Skipping %v", malformed)
}

func recordID(record RawBidRecord) string {
	switch r := record.(type) {
	case nil:
		return ""
	case *FairSaleBidRecord:
		if r == nil {
			return ""
		}
	case *FixedPricePurchaseRecord:
		if r == nil {
			return ""
		}
	}
	return record.RecordID()
}

func normalizeBid(record RawBidRecord) (core.Bid, error) {
	switch r := record.(type) {
	case FairSaleBidRecord:
		return normalizeFairSaleBid(r)
	case *FairSaleBidRecord:
		if r == nil {
			return core.Bid{}, fmt.Errorf("nil record")
		}
		return normalizeFairSaleBid(*r)
	case FixedPricePurchaseRecord:
		return normalizePurchase(r)
	case *FixedPricePurchaseRecord:
		if r == nil {
			return core.Bid{}, fmt.Errorf("nil record")
		}
		return normalizePurchase(*r)
	case nil:
		return core.Bid{}, fmt.Errorf("nil record")
	default:
		return core.Bid{}, fmt.Errorf("unsupported record type %T", record)
	}
}

func normalizeFairSaleBid(r FairSaleBidRecord) (core.Bid, error) {
	id, bidder, ts, err := normalizeIdentity(r.ID, r.Bidder, r.CreatedAt)
	if err != nil {
		return core.Bid{}, err
	}

	sell, err := parsePositive("tokenInAmount", r.TokenInAmount)
	if err != nil {
		return core.Bid{}, err
	}
	buy, err := parsePositive("tokenOutAmount", r.TokenOutAmount)
	if err != nil {
		return core.Bid{}, err
	}

	return core.Bid{ID: id, Bidder: bidder, SellAmount: sell, BuyAmount: buy, BlockTimestamp: ts}, nil
}

// normalizePurchase maps a fixed-price purchase onto a bid whose limit price
// is the sale price: sell = amount, buy = amount * salePrice.
func normalizePurchase(r FixedPricePurchaseRecord) (core.Bid, error) {
	id, buyer, ts, err := normalizeIdentity(r.ID, r.Buyer, r.CreatedAt)
	if err != nil {
		return core.Bid{}, err
	}

	amount, err := parsePositive("amount", r.Amount)
	if err != nil {
		return core.Bid{}, err
	}
	price, err := parsePositive("salePrice", r.SalePrice)
	if err != nil {
		return core.Bid{}, err
	}

	return core.Bid{ID: id, Bidder: buyer, SellAmount: amount, BuyAmount: amount.Mul(price), BlockTimestamp: ts}, nil
}

func normalizeIdentity(id, address, createdAt string) (string, string, uint64, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", "", 0, fmt.Errorf("missing id")
	}

	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" {
		return "", "", 0, fmt.Errorf("missing bidder address")
	}

	ts, err := parseTimestamp("createdAt", createdAt, true)
	if err != nil {
		return "", "", 0, err
	}
	return id, address, ts, nil
}

func parsePositive(field, value string) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Decimal{}, fmt.Errorf("missing %s", field)
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid %s %q: %w", field, value, err)
	}
	if !d.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("non-positive %s %s", field, value)
	}
	return d, nil
}

func parseTimestamp(field, value string, optional bool) (uint64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		if optional {
			return 0, nil
		}
		return 0, fmt.Errorf("missing %s", field)
	}
	ts, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, value, err)
	}
	return ts, nil
}
