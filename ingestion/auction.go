package ingestion

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/cloudx-io/batchclearing/core"
)

// settledStatuses are the indexer sale statuses after which no bid can change.
var settledStatuses = map[string]bool{
	"settled": true,
	"closed":  true,
	"failed":  true,
}

// NormalizeAuction validates a catalog record and converts it into an Auction.
// Any failure is a *MalformedRecordError.
func NormalizeAuction(raw RawAuctionRecord) (core.Auction, error) {
	auction, err := normalizeAuction(raw)
	if err != nil {
		return core.Auction{}, &MalformedRecordError{RecordID: raw.ID, Reason: err.Error()}
	}
	return auction, nil
}

func normalizeAuction(raw RawAuctionRecord) (core.Auction, error) {
	id := strings.TrimSpace(raw.ID)
	if id == "" {
		return core.Auction{}, fmt.Errorf("missing id")
	}

	kind := core.AuctionKind(raw.Kind)
	if !kind.Valid() {
		return core.Auction{}, fmt.Errorf("unknown auction kind %q", raw.Kind)
	}

	supply, err := parsePositive("tokensForSale", raw.TotalSellSupply)
	if err != nil {
		return core.Auction{}, err
	}

	start, err := parseTimestamp("startDate", raw.StartTime, false)
	if err != nil {
		return core.Auction{}, err
	}
	end, err := parseTimestamp("endDate", raw.EndTime, false)
	if err != nil {
		return core.Auction{}, err
	}
	if start >= end {
		return core.Auction{}, fmt.Errorf("startDate %d not before endDate %d", start, end)
	}

	salePrice := decimal.Zero
	if kind == core.AuctionKindFixedPrice {
		if salePrice, err = parsePositive("tokenPrice", raw.SalePrice); err != nil {
			return core.Auction{}, err
		}
	}

	minPrice := decimal.Zero
	if strings.TrimSpace(raw.MinimumPrice) != "" {
		if minPrice, err = decimal.NewFromString(strings.TrimSpace(raw.MinimumPrice)); err != nil {
			return core.Auction{}, fmt.Errorf("invalid minPrice %q: %w", raw.MinimumPrice, err)
		}
		if minPrice.IsNegative() {
			return core.Auction{}, fmt.Errorf("negative minPrice %s", raw.MinimumPrice)
		}
	}

	return core.Auction{
		ID:              id,
		Kind:            kind,
		TotalSellSupply: supply,
		StartTime:       start,
		EndTime:         end,
		Settled:         settledStatuses[strings.ToLower(strings.TrimSpace(raw.Status))],
		TokenInSymbol:   raw.TokenIn.Symbol,
		TokenOutSymbol:  raw.TokenOut.Symbol,
		SalePrice:       salePrice,
		MinimumPrice:    minPrice,
	}, nil
}

// NormalizeAuctions converts a catalog listing, skipping and logging malformed
// records the same way NormalizeBids does. Source order is preserved.
func NormalizeAuctions(raws []RawAuctionRecord) ([]core.Auction, error) {
	auctions := make([]core.Auction, 0, len(raws))
	var skipped []*MalformedRecordError

	for i, raw := range raws {
		auction, err := normalizeAuction(raw)
		if err != nil {
			malformed := &MalformedRecordError{Index: i, RecordID: raw.ID, Reason: err.Error()}
			logSkipped(malformed)
			skipped = append(skipped, malformed)
			continue
		}
		auctions = append(auctions, auction)
	}

	if len(skipped) > 0 {
		return auctions, &IngestionError{Skipped: skipped}
	}
	return auctions, nil
}
