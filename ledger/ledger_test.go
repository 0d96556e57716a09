package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"github.com/cloudx-io/batchclearing/core"
	"github.com/cloudx-io/batchclearing/ingestion"
)

// fakeClock is a manually advanced clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(unix int64) *fakeClock {
	return &fakeClock{now: time.Unix(unix, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// mockFetcher returns canned records and counts calls. When gate is set every
// fetch blocks until it is closed.
type mockFetcher struct {
	calls   atomic.Int32
	records []ingestion.RawBidRecord
	err     error
	gate    chan struct{}
	started chan struct{}
}

func (m *mockFetcher) FetchBids(ctx context.Context, auctionID string, kind core.AuctionKind) ([]ingestion.RawBidRecord, error) {
	m.calls.Add(1)
	if m.started != nil {
		select {
		case m.started <- struct{}{}:
		default:
		}
	}
	if m.gate != nil {
		<-m.gate
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.records, nil
}

func batchAuction(id string) core.Auction {
	return core.Auction{ID: id, Kind: core.AuctionKindBatch}
}

func fairBid(id, sell, buy string) ingestion.FairSaleBidRecord {
	return ingestion.FairSaleBidRecord{ID: id, Bidder: "0x" + id, TokenInAmount: sell, TokenOutAmount: buy}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestLedger_RefreshStoresNormalizedBids(t *testing.T) {
	clock := newFakeClock(1_700_000_000)
	l := New(WithClock(clock))
	fetcher := &mockFetcher{records: []ingestion.RawBidRecord{
		fairBid("bid1", "10", "10"),
		fairBid("bid2", "0", "10"), // malformed, skipped
		fairBid("bid3", "5", "6"),
	}}

	entry, err := l.Refresh(context.Background(), batchAuction("sale-1"), fetcher)
	assert.NoError(t, err)

	check.Equal(t, "sale-1", entry.AuctionID)
	check.Equal(t, uint64(1_700_000_000), entry.LastUpdated)
	check.Equal(t, 2, len(entry.Bids))
	check.Equal(t, "bid1", entry.Bids[0].ID)
	check.Equal(t, "bid3", entry.Bids[1].ID)

	stored, ok := l.Get("sale-1")
	check.True(t, ok)
	check.Equal(t, 2, len(stored.Bids))
	check.Equal(t, 1, l.Len())
}

func TestLedger_GetMissing(t *testing.T) {
	l := New()

	_, ok := l.Get("unknown")
	check.False(t, ok)
}

func TestLedger_SnapshotsAreIsolated(t *testing.T) {
	l := New()
	fetcher := &mockFetcher{records: []ingestion.RawBidRecord{fairBid("bid1", "1", "1")}}

	_, err := l.Refresh(context.Background(), batchAuction("sale-1"), fetcher)
	assert.NoError(t, err)

	first, _ := l.Get("sale-1")
	first.Bids[0].ID = "tampered"

	second, _ := l.Get("sale-1")
	check.Equal(t, "bid1", second.Bids[0].ID)
}

func TestLedger_FailedRefreshKeepsPreviousSnapshot(t *testing.T) {
	l := New()
	fetcher := &mockFetcher{records: []ingestion.RawBidRecord{fairBid("bid1", "1", "1")}}

	_, err := l.Refresh(context.Background(), batchAuction("sale-1"), fetcher)
	assert.NoError(t, err)

	cause := errors.New("indexer unavailable")
	fetcher.err = cause

	_, err = l.Refresh(context.Background(), batchAuction("sale-1"), fetcher)
	check.Error(t, err)
	check.True(t, errors.Is(err, ErrFetch))
	check.True(t, errors.Is(err, cause))

	var fetchErr *FetchError
	assert.True(t, errors.As(err, &fetchErr))
	check.Equal(t, "sale-1", fetchErr.AuctionID)

	entry, ok := l.Get("sale-1")
	check.True(t, ok)
	check.Equal(t, 1, len(entry.Bids))
	check.True(t, errors.Is(l.LastError("sale-1"), ErrFetch))

	// A later success clears the error
	fetcher.err = nil
	_, err = l.Refresh(context.Background(), batchAuction("sale-1"), fetcher)
	assert.NoError(t, err)
	check.Nil(t, l.LastError("sale-1"))
}

func TestLedger_FailedFirstRefreshLeavesNoEntry(t *testing.T) {
	l := New()
	fetcher := &mockFetcher{err: errors.New("boom")}

	_, err := l.Refresh(context.Background(), batchAuction("sale-1"), fetcher)
	check.Error(t, err)

	_, ok := l.Get("sale-1")
	check.False(t, ok)
}

func TestLedger_PanickingFetcherBecomesFetchError(t *testing.T) {
	l := New()
	fetcher := FetcherFunc(func(context.Context, string, core.AuctionKind) ([]ingestion.RawBidRecord, error) {
		panic("decoder exploded")
	})

	_, err := l.Refresh(context.Background(), batchAuction("sale-1"), fetcher)
	check.True(t, errors.Is(err, ErrFetch))
	check.False(t, l.Loading("sale-1"))
}

func TestLedger_ConcurrentRefreshesCoalesce(t *testing.T) {
	const callers = 8

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")
	l := New(WithMetrics(metrics))
	fetcher := &mockFetcher{
		records: []ingestion.RawBidRecord{fairBid("bid1", "1", "1")},
		gate:    make(chan struct{}),
		started: make(chan struct{}, 1),
	}

	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, err := l.Refresh(context.Background(), batchAuction("sale-1"), fetcher)
			if err == nil && len(entry.Bids) != 1 {
				err = fmt.Errorf("got %d bids", len(entry.Bids))
			}
			errs <- err
		}()
	}

	<-fetcher.started
	waitFor(t, func() bool { return testutil.ToFloat64(metrics.RefreshRequests) == callers })
	check.True(t, l.Loading("sale-1"))

	close(fetcher.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		check.NoError(t, err)
	}
	check.Equal(t, int32(1), fetcher.calls.Load())
	check.Equal(t, float64(callers), testutil.ToFloat64(metrics.RefreshRequests))
	check.Equal(t, float64(callers), testutil.ToFloat64(metrics.CoalescedRefreshes))
	check.Equal(t, float64(1), testutil.ToFloat64(metrics.Fetches.WithLabelValues("success")))
	check.False(t, l.Loading("sale-1"))
}

func TestLedger_SoleRefreshIsNotCoalesced(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry(), "test")
	l := New(WithMetrics(metrics))
	fetcher := &mockFetcher{records: []ingestion.RawBidRecord{fairBid("bid1", "1", "1")}}

	_, err := l.Refresh(context.Background(), batchAuction("sale-1"), fetcher)
	assert.NoError(t, err)

	check.Equal(t, float64(1), testutil.ToFloat64(metrics.RefreshRequests))
	check.Equal(t, float64(0), testutil.ToFloat64(metrics.CoalescedRefreshes))
}

func TestLedger_PurchasesTakeSalePriceFromAuction(t *testing.T) {
	l := New()
	fetcher := &mockFetcher{records: []ingestion.RawBidRecord{
		ingestion.FixedPricePurchaseRecord{ID: "p1", Buyer: "0xbuyer", Amount: "4"},
		ingestion.FixedPricePurchaseRecord{ID: "p2", Buyer: "0xother", Amount: "6"},
	}}
	auction := core.Auction{ID: "fixed", Kind: core.AuctionKindFixedPrice, SalePrice: decimal.RequireFromString("0.25")}

	entry, err := l.Refresh(context.Background(), auction, fetcher)
	assert.NoError(t, err)

	check.Equal(t, 2, len(entry.Bids))
	check.Equal(t, "1", entry.Bids[0].BuyAmount.String())
	check.Equal(t, "1.5", entry.Bids[1].BuyAmount.String())
	check.Nil(t, l.LastError("fixed"))
}

func TestLedger_DifferentAuctionsFetchIndependently(t *testing.T) {
	l := New()
	fetcher := &mockFetcher{records: []ingestion.RawBidRecord{fairBid("bid1", "1", "1")}}

	_, err := l.Refresh(context.Background(), batchAuction("sale-1"), fetcher)
	assert.NoError(t, err)
	_, err = l.Refresh(context.Background(), batchAuction("sale-2"), fetcher)
	assert.NoError(t, err)

	check.Equal(t, int32(2), fetcher.calls.Load())
	check.Equal(t, 2, l.Len())
}

func TestLedger_CancelledCallerDoesNotAbortFetch(t *testing.T) {
	l := New()
	fetcher := &mockFetcher{
		records: []ingestion.RawBidRecord{fairBid("bid1", "1", "1")},
		gate:    make(chan struct{}),
		started: make(chan struct{}, 1),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := l.Refresh(ctx, batchAuction("sale-1"), fetcher)
		done <- err
	}()

	<-fetcher.started
	cancel()
	check.True(t, errors.Is(<-done, context.Canceled))

	// The fetch completes and still populates the ledger
	close(fetcher.gate)
	waitFor(t, func() bool {
		_, ok := l.Get("sale-1")
		return ok
	})
	check.Equal(t, int32(1), fetcher.calls.Load())
}

func TestLedger_IsStale(t *testing.T) {
	clock := newFakeClock(1000)
	l := New(WithClock(clock))
	fetcher := &mockFetcher{}

	// Missing entries are always stale
	check.True(t, l.IsStale("sale-1", time.Hour))

	_, err := l.Refresh(context.Background(), batchAuction("sale-1"), fetcher)
	assert.NoError(t, err)

	check.True(t, l.IsStale("sale-1", 0)) // zero ttl: always stale
	check.False(t, l.IsStale("sale-1", 30*time.Second))

	clock.Advance(29 * time.Second)
	check.False(t, l.IsStale("sale-1", 30*time.Second))

	clock.Advance(time.Second)
	check.True(t, l.IsStale("sale-1", 30*time.Second))
}

func TestLedger_GetOrRefresh(t *testing.T) {
	clock := newFakeClock(1000)
	l := New(WithClock(clock))
	fetcher := &mockFetcher{records: []ingestion.RawBidRecord{fairBid("bid1", "1", "1")}}

	// Missing: fetched synchronously
	entry, err := l.GetOrRefresh(context.Background(), batchAuction("sale-1"), fetcher, time.Minute)
	assert.NoError(t, err)
	check.Equal(t, 1, len(entry.Bids))
	check.Equal(t, int32(1), fetcher.calls.Load())

	// Fresh: served from cache
	_, err = l.GetOrRefresh(context.Background(), batchAuction("sale-1"), fetcher, time.Minute)
	assert.NoError(t, err)
	check.Equal(t, int32(1), fetcher.calls.Load())

	// Stale: old snapshot returned, refresh happens in the background
	clock.Advance(2 * time.Minute)
	fetcher.records = []ingestion.RawBidRecord{fairBid("bid1", "1", "1"), fairBid("bid2", "2", "2")}

	entry, err = l.GetOrRefresh(context.Background(), batchAuction("sale-1"), fetcher, time.Minute)
	assert.NoError(t, err)
	check.Equal(t, 1, len(entry.Bids))

	waitFor(t, func() bool {
		e, _ := l.Get("sale-1")
		return len(e.Bids) == 2
	})
	check.Equal(t, int32(2), fetcher.calls.Load())
}

func TestLedger_MalformedRecordsCounted(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "")
	l := New(WithMetrics(metrics))
	fetcher := &mockFetcher{records: []ingestion.RawBidRecord{
		fairBid("bid1", "1", "1"),
		fairBid("bid2", "x", "1"),
		ingestion.FairSaleBidRecord{ID: "bid3", TokenInAmount: "1", TokenOutAmount: "1"},
	}}

	_, err := l.Refresh(context.Background(), batchAuction("sale-1"), fetcher)
	assert.NoError(t, err)

	check.Equal(t, float64(2), testutil.ToFloat64(metrics.MalformedRecords))
	check.Equal(t, float64(1), testutil.ToFloat64(metrics.Entries))
}
