package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/cloudx-io/batchclearing/core"
	"github.com/cloudx-io/batchclearing/ingestion"
)

// ErrFetch matches every failure of the external bid fetch.
var ErrFetch = errors.New("bid fetch failed")

// FetchError is returned by Refresh when the fetcher fails. The previous
// snapshot of the auction, if any, is left in place.
type FetchError struct {
	AuctionID string
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch bids for auction %s: %v", e.AuctionID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrFetch }

// Fetcher retrieves the raw bid records of one auction from the indexer.
type Fetcher interface {
	FetchBids(ctx context.Context, auctionID string, kind core.AuctionKind) ([]ingestion.RawBidRecord, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, auctionID string, kind core.AuctionKind) ([]ingestion.RawBidRecord, error)

func (f FetcherFunc) FetchBids(ctx context.Context, auctionID string, kind core.AuctionKind) ([]ingestion.RawBidRecord, error) {
	return f(ctx, auctionID, kind)
}

// Clock provides the current time for lastUpdated stamps and staleness.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Entry is a read-only snapshot of one auction's bids.
type Entry struct {
	AuctionID   string
	LastUpdated uint64 // epoch seconds of the last successful refresh
	Bids        []core.Bid
}

// Ledger caches the bid set of each auction.
//
// Entries are replaced wholesale on a successful refresh and never modified in
// place, so readers always see a complete bid list. At most one fetch per
// auction is outstanding: concurrent Refresh calls for the same id share it.
type Ledger struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	loading map[string]bool
	lastErr map[string]error

	group   singleflight.Group
	clock   Clock
	metrics *Metrics
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock sets the clock used for lastUpdated and staleness.
func WithClock(c Clock) Option {
	return func(l *Ledger) {
		l.clock = c
	}
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(l *Ledger) {
		l.metrics = m
	}
}

// New creates an empty Ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		entries: make(map[string]*Entry),
		loading: make(map[string]bool),
		lastErr: make(map[string]error),
		clock:   systemClock{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Get returns the current snapshot for auctionID.
func (l *Ledger) Get(auctionID string) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entry, ok := l.entries[auctionID]
	if !ok {
		return Entry{}, false
	}
	return entry.snapshot(), true
}

// IsStale reports whether auctionID has no snapshot or one at least ttl old.
// A zero ttl makes every entry stale.
func (l *Ledger) IsStale(auctionID string, ttl time.Duration) bool {
	l.mu.RLock()
	entry, ok := l.entries[auctionID]
	l.mu.RUnlock()
	if !ok {
		return true
	}

	age := l.clock.Now().Unix() - int64(entry.LastUpdated)
	return time.Duration(age)*time.Second >= ttl
}

// Loading reports whether a fetch for auctionID is in flight.
func (l *Ledger) Loading(auctionID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loading[auctionID]
}

// LastError returns the error of the most recent failed refresh of auctionID,
// cleared by the next successful one.
func (l *Ledger) LastError(auctionID string) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastErr[auctionID]
}

// Len returns the number of cached auctions.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Refresh fetches the bids of auction, normalizes them against the auction
// and replaces the cached entry. If a refresh of the same auction is already in flight the call
// waits for that one instead of fetching again.
//
// ctx only bounds how long this caller waits. The fetch itself is not
// cancelled when ctx is, because other callers may share it; its result is
// still stored.
func (l *Ledger) Refresh(ctx context.Context, auction core.Auction, fetcher Fetcher) (Entry, error) {
	fetchCtx := context.WithoutCancel(ctx)
	ch := l.group.DoChan(auction.ID, func() (any, error) {
		return l.fetchAndStore(fetchCtx, auction, fetcher)
	})
	// counted once joined, so the request count never runs ahead of the group
	l.metrics.refreshRequested()

	select {
	case res := <-ch:
		l.metrics.refreshAnswered(res.Shared)
		if res.Err != nil {
			return Entry{}, res.Err
		}
		entry := res.Val.(*Entry)
		return entry.snapshot(), nil
	case <-ctx.Done():
		return Entry{}, ctx.Err()
	}
}

// GetOrRefresh serves auction stale-while-revalidate: a fresh entry is
// returned as is, a stale one is returned immediately while a background
// refresh runs, and a missing one is fetched synchronously.
func (l *Ledger) GetOrRefresh(ctx context.Context, auction core.Auction, fetcher Fetcher, ttl time.Duration) (Entry, error) {
	entry, ok := l.Get(auction.ID)
	if !ok {
		return l.Refresh(ctx, auction, fetcher)
	}

	if l.IsStale(auction.ID, ttl) {
		go func() {
			if _, err := l.Refresh(context.WithoutCancel(ctx), auction, fetcher); err != nil {
				log.Printf("WARNING: Background refresh of auction %s failed, serving snapshot from %d: %v",
					auction.ID, entry.LastUpdated, err)
			}
		}()
	}
	return entry, nil
}

func (l *Ledger) fetchAndStore(ctx context.Context, auction core.Auction, fetcher Fetcher) (entry *Entry, err error) {
	auctionID := auction.ID
	fetchID := uuid.NewString()
	start := time.Now()

	l.setLoading(auctionID, true)
	defer l.setLoading(auctionID, false)

	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: Panic recovered in fetch %s for auction %s: %v", fetchID, auctionID, r)
			entry, err = nil, l.fail(auctionID, fmt.Errorf("fetcher panic: %v", r))
		}
	}()

	log.Printf("INFO: Fetching bids for auction %s (kind=%s, fetch=%s)", auctionID, auction.Kind, fetchID)

	records, fetchErr := fetcher.FetchBids(ctx, auctionID, auction.Kind)
	if fetchErr != nil {
		l.metrics.fetched("error", time.Since(start))
		log.Printf("ERROR: Fetch %s for auction %s failed: %v", fetchID, auctionID, fetchErr)
		return nil, l.fail(auctionID, fetchErr)
	}
	l.metrics.fetched("success", time.Since(start))

	bids, normErr := ingestion.NormalizeBidsForAuction(auction, records)
	if normErr != nil {
		var ingestionErr *ingestion.IngestionError
		if errors.As(normErr, &ingestionErr) {
			l.metrics.malformed(len(ingestionErr.Skipped))
		}
		log.Printf("WARNING: Auction %s: %d of %d bid records kept: %v", auctionID, len(bids), len(records), normErr)
	}

	entry = &Entry{
		AuctionID:   auctionID,
		LastUpdated: uint64(l.clock.Now().Unix()),
		Bids:        bids,
	}

	l.mu.Lock()
	l.entries[auctionID] = entry
	delete(l.lastErr, auctionID)
	count := len(l.entries)
	l.mu.Unlock()
	l.metrics.entries(count)

	log.Printf("INFO: Fetch %s stored %d bids for auction %s in %dms", fetchID, len(bids), auctionID, time.Since(start).Milliseconds())
	return entry, nil
}

func (l *Ledger) fail(auctionID string, cause error) error {
	err := &FetchError{AuctionID: auctionID, Err: cause}
	l.mu.Lock()
	l.lastErr[auctionID] = err
	l.mu.Unlock()
	return err
}

func (l *Ledger) setLoading(auctionID string, loading bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if loading {
		l.loading[auctionID] = true
	} else {
		delete(l.loading, auctionID)
	}
}

func (e *Entry) snapshot() Entry {
	return Entry{
		AuctionID:   e.AuctionID,
		LastUpdated: e.LastUpdated,
		Bids:        slices.Clone(e.Bids),
	}
}
