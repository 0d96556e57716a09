package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/cloudx-io/batchclearing/core"
	"github.com/cloudx-io/batchclearing/ingestion"
)

// Defaults for indexer queries. A failed query is retried with exponential
// backoff starting at DefaultRetryDelay and capped at DefaultMaxDelay.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// ErrSaleNotFound is returned when the indexer has no sale with the requested id.
var ErrSaleNotFound = errors.New("sale not found")

// Client queries a sale indexer over GraphQL-over-HTTP.
type Client struct {
	endpoint    string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout bounds each indexer query, including reading the response.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets how many times a failed indexer query is retried.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets the wait before the first retry of an indexer query.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithMaxDelay caps the backoff between indexer query retries.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.maxDelay = d
	}
}

// WithHTTPClient sets the http.Client used for indexer requests. It replaces
// the timeout set by WithTimeout, so apply WithTimeout after it if both are used.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// NewClient creates a client that posts GraphQL queries to the indexer's
// endpoint URL. Options are applied over the package defaults.
func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:    endpoint,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type graphqlRequest struct {
	Query string `json:"query"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors GraphQLErrors   `json:"errors,omitempty"`
}

// GraphQLError is one entry of a response's errors list.
type GraphQLError struct {
	Message string `json:"message"`
}

// GraphQLErrors is returned when the indexer answers with a non-empty errors list.
type GraphQLErrors []GraphQLError

func (e GraphQLErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Message
	}
	return "graphql: " + strings.Join(msgs, "; ")
}

// Query posts query and decodes the data member of the response into result.
// Transport failures, 429 and non-200 responses are retried with exponential
// backoff; GraphQL errors are not.
func (c *Client) Query(ctx context.Context, query string, result any) error {
	body, err := json.Marshal(graphqlRequest{Query: query})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
			log.Printf("WARNING: Retrying indexer query (attempt %d/%d): %v", attempt, c.maxRetries, lastErr)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
			continue
		}

		var gqlResp graphqlResponse
		if err := json.Unmarshal(respBody, &gqlResp); err != nil {
			lastErr = fmt.Errorf("unmarshal response: %w", err)
			continue
		}
		if len(gqlResp.Errors) > 0 {
			return gqlResp.Errors
		}

		if result != nil && len(gqlResp.Data) > 0 {
			if err := json.Unmarshal(gqlResp.Data, result); err != nil {
				return fmt.Errorf("unmarshal data: %w", err)
			}
		}
		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

type fairSaleBidsData struct {
	FairSale *struct {
		Bids []ingestion.FairSaleBidRecord `json:"bids"`
	} `json:"fairSale"`
}

type fixedPricePurchasesData struct {
	FixedPriceSale *struct {
		TokenPrice string                               `json:"tokenPrice"`
		Purchases  []ingestion.FixedPricePurchaseRecord `json:"purchases"`
	} `json:"fixedPriceSale"`
}

// FetchBids returns the raw bid records of one sale.
func (c *Client) FetchBids(ctx context.Context, auctionID string, kind core.AuctionKind) ([]ingestion.RawBidRecord, error) {
	query, err := BidsQuery(auctionID, kind)
	if err != nil {
		return nil, err
	}

	switch kind {
	case core.AuctionKindFixedPrice:
		var data fixedPricePurchasesData
		if err := c.Query(ctx, query, &data); err != nil {
			return nil, err
		}
		if data.FixedPriceSale == nil {
			return nil, fmt.Errorf("%w: %s", ErrSaleNotFound, auctionID)
		}
		records := make([]ingestion.RawBidRecord, len(data.FixedPriceSale.Purchases))
		for i, p := range data.FixedPriceSale.Purchases {
			p.SalePrice = data.FixedPriceSale.TokenPrice
			records[i] = p
		}
		return records, nil

	default:
		var data fairSaleBidsData
		if err := c.Query(ctx, query, &data); err != nil {
			return nil, err
		}
		if data.FairSale == nil {
			return nil, fmt.Errorf("%w: %s", ErrSaleNotFound, auctionID)
		}
		records := make([]ingestion.RawBidRecord, len(data.FairSale.Bids))
		for i, b := range data.FairSale.Bids {
			records[i] = b
		}
		return records, nil
	}
}

type auctionsData struct {
	FairSales       []ingestion.RawAuctionRecord `json:"fairSales"`
	FixedPriceSales []ingestion.RawAuctionRecord `json:"fixedPriceSales"`
}

// ListAuctions returns the sale catalog: batch sales first, then fixed-price
// sales, each in indexer order. Malformed sales are logged and left out.
func (c *Client) ListAuctions(ctx context.Context) ([]core.Auction, error) {
	var data auctionsData
	if err := c.Query(ctx, AuctionsQuery, &data); err != nil {
		return nil, err
	}

	raws := make([]ingestion.RawAuctionRecord, 0, len(data.FairSales)+len(data.FixedPriceSales))
	for _, r := range data.FairSales {
		r.Kind = string(core.AuctionKindBatch)
		raws = append(raws, r)
	}
	for _, r := range data.FixedPriceSales {
		r.Kind = string(core.AuctionKindFixedPrice)
		raws = append(raws, r)
	}

	// Skipped records are already logged by NormalizeAuctions
	auctions, _ := ingestion.NormalizeAuctions(raws)
	return auctions, nil
}
