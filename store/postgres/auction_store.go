package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/cloudx-io/batchclearing/core"
	"github.com/cloudx-io/batchclearing/ingestion"
)

// ErrNotFound is returned when no auction has the requested id.
var ErrNotFound = errors.New("auction not found")

const auctionColumns = `
	id, kind, tokens_for_sale::text, start_time::text, end_time::text, status,
	token_in_symbol, token_out_symbol,
	COALESCE(token_price::text, ''), COALESCE(min_price::text, '')
`

// AuctionStore reads the auction catalog from PostgreSQL.
type AuctionStore struct {
	pool *Pool
}

// NewAuctionStore creates a new AuctionStore.
func NewAuctionStore(pool *Pool) *AuctionStore {
	return &AuctionStore{pool: pool}
}

// ListAuctions returns every valid auction in the order of the listing it was
// last written with. Rows that fail validation are logged and left out.
func (s *AuctionStore) ListAuctions(ctx context.Context) ([]core.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions ORDER BY catalog_position, id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list auctions: %w", err)
	}
	defer rows.Close()

	var raws []ingestion.RawAuctionRecord
	for rows.Next() {
		raw, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan auction: %w", err)
		}
		raws = append(raws, raw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate auctions: %w", err)
	}

	auctions, _ := ingestion.NormalizeAuctions(raws)
	return auctions, nil
}

// GetAuction retrieves one auction by id. Returns ErrNotFound if not exists.
func (s *AuctionStore) GetAuction(ctx context.Context, id string) (core.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE id = $1`

	raw, err := scanAuction(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return core.Auction{}, ErrNotFound
		}
		return core.Auction{}, fmt.Errorf("get auction %s: %w", id, err)
	}
	return ingestion.NormalizeAuction(raw)
}

// UpsertAuctions writes auctions in one batch, replacing rows with the same id.
// Each row records its index in auctions as its catalog position.
func (s *AuctionStore) UpsertAuctions(ctx context.Context, auctions []core.Auction) error {
	query := `
		INSERT INTO auctions (
			id, kind, tokens_for_sale, start_time, end_time, status,
			token_in_symbol, token_out_symbol, token_price, min_price, catalog_position
		) VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, NULLIF($9, '')::numeric, NULLIF($10, '')::numeric, $11)
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind,
			tokens_for_sale = EXCLUDED.tokens_for_sale,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			status = EXCLUDED.status,
			token_in_symbol = EXCLUDED.token_in_symbol,
			token_out_symbol = EXCLUDED.token_out_symbol,
			token_price = EXCLUDED.token_price,
			min_price = EXCLUDED.min_price,
			catalog_position = EXCLUDED.catalog_position
	`

	batch := &pgx.Batch{}
	for i, a := range auctions {
		batch.Queue(query, auctionArgs(a, i)...)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for _, a := range auctions {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert auction %s: %w", a.ID, err)
		}
	}
	return nil
}

// auctionArgs maps an auction at position in its listing onto the insert
// parameters. Zero prices are stored as NULL.
func auctionArgs(a core.Auction, position int) []any {
	status := "open"
	if a.Settled {
		status = "settled"
	}
	return []any{
		a.ID,
		string(a.Kind),
		a.TotalSellSupply.String(),
		int64(a.StartTime),
		int64(a.EndTime),
		status,
		a.TokenInSymbol,
		a.TokenOutSymbol,
		optionalDecimal(a.SalePrice),
		optionalDecimal(a.MinimumPrice),
		int64(position),
	}
}

func optionalDecimal(d decimal.Decimal) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}

// scanAuction scans a single row in auctionColumns order.
func scanAuction(row pgx.Row) (ingestion.RawAuctionRecord, error) {
	var r ingestion.RawAuctionRecord

	err := row.Scan(
		&r.ID,
		&r.Kind,
		&r.TotalSellSupply,
		&r.StartTime,
		&r.EndTime,
		&r.Status,
		&r.TokenIn.Symbol,
		&r.TokenOut.Symbol,
		&r.SalePrice,
		&r.MinimumPrice,
	)
	if err != nil {
		return ingestion.RawAuctionRecord{}, err
	}
	return r, nil
}
