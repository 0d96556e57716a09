package subgraph

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/batchclearing/core"
	"github.com/cloudx-io/batchclearing/ingestion"
	"github.com/cloudx-io/batchclearing/ledger"
)

// indexerServer answers every query with the given data payload and records
// the last query it saw.
func indexerServer(t *testing.T, data string, lastQuery *atomic.Value) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req graphqlRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if lastQuery != nil {
			lastQuery.Store(req.Query)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":` + data + `}`))
	}))
}

func fastClient(url string) *Client {
	return NewClient(url, WithRetryDelay(time.Millisecond), WithMaxDelay(5*time.Millisecond))
}

func TestClient_FetchBidsFairSale(t *testing.T) {
	var lastQuery atomic.Value
	server := indexerServer(t, `{"fairSale":{"bids":[
		{"id":"bid1","bidder":"0xA","tokenInAmount":"10","tokenOutAmount":"12","createdAt":"5"},
		{"id":"bid2","bidder":"0xB","tokenInAmount":"3","tokenOutAmount":"3"}
	]}}`, &lastQuery)
	defer server.Close()

	records, err := fastClient(server.URL).FetchBids(context.Background(), "0xsale", core.AuctionKindBatch)
	assert.NoError(t, err)

	check.Equal(t, 2, len(records))
	check.Equal(t, "bid1", records[0].RecordID())
	bid, ok := records[0].(ingestion.FairSaleBidRecord)
	assert.True(t, ok)
	check.Equal(t, "12", bid.TokenOutAmount)
	check.Equal(t, "5", bid.CreatedAt)
	check.True(t, strings.Contains(lastQuery.Load().(string), `fairSale(id: "0xsale")`))
}

func TestClient_FetchBidsFixedPriceCopiesSalePrice(t *testing.T) {
	server := indexerServer(t, `{"fixedPriceSale":{"tokenPrice":"0.5","purchases":[
		{"id":"p1","buyer":"0xA","amount":"4"}
	]}}`, nil)
	defer server.Close()

	records, err := fastClient(server.URL).FetchBids(context.Background(), "0xsale", core.AuctionKindFixedPrice)
	assert.NoError(t, err)

	bids, err := ingestion.NormalizeBids(records)
	assert.NoError(t, err)
	check.Equal(t, 1, len(bids))
	check.Equal(t, "2", bids[0].BuyAmount.String())
}

func TestClient_FetchBidsUnknownSale(t *testing.T) {
	server := indexerServer(t, `{"fairSale":null}`, nil)
	defer server.Close()

	_, err := fastClient(server.URL).FetchBids(context.Background(), "0xnone", core.AuctionKindBatch)
	check.True(t, errors.Is(err, ErrSaleNotFound))
}

func TestClient_GraphQLErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"errors":[{"message":"bad field"},{"message":"second"}]}`))
	}))
	defer server.Close()

	err := fastClient(server.URL).Query(context.Background(), "{ x }", nil)

	var gqlErrs GraphQLErrors
	assert.True(t, errors.As(err, &gqlErrs))
	check.Equal(t, 2, len(gqlErrs))
	check.Equal(t, "graphql: bad field; second", err.Error())
	check.Equal(t, int32(1), calls.Load())
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"data":{"fairSale":{"bids":[]}}}`))
	}))
	defer server.Close()

	records, err := fastClient(server.URL).FetchBids(context.Background(), "0xsale", core.AuctionKindBatch)
	assert.NoError(t, err)
	check.Equal(t, 0, len(records))
	check.Equal(t, int32(3), calls.Load())
}

func TestClient_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL, WithMaxRetries(2), WithRetryDelay(time.Millisecond))
	err := client.Query(context.Background(), "{ x }", nil)

	check.Error(t, err)
	check.True(t, strings.Contains(err.Error(), "max retries exceeded"))
	check.Equal(t, int32(3), calls.Load())
}

func TestClient_ContextCancelStopsRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient(server.URL, WithRetryDelay(time.Hour))
	err := client.Query(ctx, "{ x }", nil)
	check.Error(t, err)
}

func TestClient_ListAuctions(t *testing.T) {
	server := indexerServer(t, `{
		"fairSales":[
			{"id":"f1","tokensForSale":"100","startDate":"10","endDate":"20","status":"open","tokenIn":{"symbol":"DAI"},"tokenOut":{"symbol":"AQUA"}},
			{"id":"broken","tokensForSale":"0","startDate":"10","endDate":"20"}
		],
		"fixedPriceSales":[
			{"id":"x1","tokensForSale":"50","startDate":"1","endDate":"2","status":"settled","tokenPrice":"0.1"}
		]
	}`, nil)
	defer server.Close()

	auctions, err := fastClient(server.URL).ListAuctions(context.Background())
	assert.NoError(t, err)

	check.Equal(t, 2, len(auctions))
	check.Equal(t, "f1", auctions[0].ID)
	check.Equal(t, core.AuctionKindBatch, auctions[0].Kind)
	check.Equal(t, "x1", auctions[1].ID)
	check.Equal(t, core.AuctionKindFixedPrice, auctions[1].Kind)
	check.True(t, auctions[1].Settled)
}

func TestClient_ServesLedger(t *testing.T) {
	server := indexerServer(t, `{"fairSale":{"bids":[
		{"id":"bid1","bidder":"0xA","tokenInAmount":"10","tokenOutAmount":"12"}
	]}}`, nil)
	defer server.Close()

	l := ledger.New()
	entry, err := l.Refresh(context.Background(), core.Auction{ID: "0xsale", Kind: core.AuctionKindBatch}, fastClient(server.URL))
	assert.NoError(t, err)
	check.Equal(t, 1, len(entry.Bids))
}

func TestNewClient_Options(t *testing.T) {
	defaults := NewClient("http://indexer")
	check.Equal(t, DefaultTimeout, defaults.client.Timeout)
	check.Equal(t, DefaultMaxRetries, defaults.maxRetries)
	check.Equal(t, DefaultRetryDelay, defaults.retryDelay)
	check.Equal(t, DefaultMaxDelay, defaults.maxDelay)

	custom := &http.Client{}
	c := NewClient("http://indexer",
		WithHTTPClient(custom),
		WithTimeout(5*time.Second),
		WithMaxRetries(1),
	)
	check.True(t, c.client == custom)
	check.Equal(t, 5*time.Second, custom.Timeout)
	check.Equal(t, 1, c.maxRetries)
}
