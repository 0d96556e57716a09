package facade

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/cloudx-io/batchclearing/core"
	"github.com/cloudx-io/batchclearing/ledger"
)

// ErrAuctionNotFound is returned for auction ids missing from the catalog.
var ErrAuctionNotFound = errors.New("auction not found")

// AuctionSource lists the auction catalog.
type AuctionSource interface {
	ListAuctions(ctx context.Context) ([]core.Auction, error)
}

// Clearing is the clearing outcome of one auction together with the bid
// snapshot it was computed from.
type Clearing struct {
	Auction     core.Auction
	State       core.AuctionState
	Bids        []core.Bid
	LastUpdated uint64
	Run         *core.ClearingRun
}

// Service is the query surface over the catalog, the bid ledger and the
// clearing engine. Callers never touch ledger entries directly.
type Service struct {
	source  AuctionSource
	ledger  *ledger.Ledger
	fetcher ledger.Fetcher
	clock   ledger.Clock
	ttl     time.Duration

	mu       sync.RWMutex
	auctions []core.Auction
	index    map[string]int
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock used for lifecycle state.
func WithClock(c ledger.Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

// WithStaleAfter makes ClearingFor revalidate cached bids older than ttl in
// the background. Without it cached bids are used until an explicit Refresh.
func WithStaleAfter(ttl time.Duration) Option {
	return func(s *Service) {
		s.ttl = ttl
	}
}

// NewService creates a Service with an empty catalog. Call ReloadAuctions to load it.
func NewService(source AuctionSource, l *ledger.Ledger, fetcher ledger.Fetcher, opts ...Option) *Service {
	s := &Service{
		source:  source,
		ledger:  l,
		fetcher: fetcher,
		clock:   systemClock{},
		index:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// ReloadAuctions replaces the catalog with the source's current listing,
// keeping source order. On error the previous catalog stays in place.
func (s *Service) ReloadAuctions(ctx context.Context) error {
	auctions, err := s.source.ListAuctions(ctx)
	if err != nil {
		return fmt.Errorf("reload auctions: %w", err)
	}

	index := make(map[string]int, len(auctions))
	kept := make([]core.Auction, 0, len(auctions))
	for _, a := range auctions {
		if _, dup := index[a.ID]; dup {
			log.Printf("WARNING: Duplicate auction %s in catalog, keeping first", a.ID)
			continue
		}
		index[a.ID] = len(kept)
		kept = append(kept, a)
	}

	s.mu.Lock()
	s.auctions = kept
	s.index = index
	s.mu.Unlock()

	log.Printf("INFO: Loaded %d auctions", len(kept))
	return nil
}

// Auctions returns the whole catalog in source order.
func (s *Service) Auctions() []core.Auction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.auctions)
}

// Auction looks up one auction by id.
func (s *Service) Auction(auctionID string) (core.Auction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[auctionID]
	if !ok {
		return core.Auction{}, false
	}
	return s.auctions[i], true
}

// ListByState returns the auctions in state at time now, in source order.
func (s *Service) ListByState(state core.AuctionState, now uint64) []core.Auction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return core.FilterByState(s.auctions, state, now)
}

// ListByStateNow is ListByState at the service clock's current time.
func (s *Service) ListByStateNow(state core.AuctionState) []core.Auction {
	return s.ListByState(state, s.Now())
}

// ClearingFor computes the clearing result of auctionID from its cached bids,
// fetching them first when the ledger has none.
//
// Returns ErrAuctionNotFound for ids outside the catalog and a
// *ledger.FetchError when the bids could not be fetched.
func (s *Service) ClearingFor(ctx context.Context, auctionID string) (*Clearing, error) {
	auction, ok := s.Auction(auctionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAuctionNotFound, auctionID)
	}

	entry, err := s.entryFor(ctx, auction)
	if err != nil {
		return nil, err
	}

	run, err := core.RunClearing(auction, entry.Bids)
	if err != nil {
		return nil, fmt.Errorf("clear auction %s: %w", auctionID, err)
	}

	return &Clearing{
		Auction:     auction,
		State:       core.StateOf(auction, s.Now()),
		Bids:        entry.Bids,
		LastUpdated: entry.LastUpdated,
		Run:         run,
	}, nil
}

// Refresh re-fetches the bids of auctionID. Concurrent calls for the same
// auction share one fetch.
func (s *Service) Refresh(ctx context.Context, auctionID string) (ledger.Entry, error) {
	auction, ok := s.Auction(auctionID)
	if !ok {
		return ledger.Entry{}, fmt.Errorf("%w: %s", ErrAuctionNotFound, auctionID)
	}
	return s.ledger.Refresh(ctx, auction, s.fetcher)
}

func (s *Service) entryFor(ctx context.Context, auction core.Auction) (ledger.Entry, error) {
	if s.ttl > 0 {
		return s.ledger.GetOrRefresh(ctx, auction, s.fetcher, s.ttl)
	}
	if entry, ok := s.ledger.Get(auction.ID); ok {
		return entry, nil
	}
	return s.ledger.Refresh(ctx, auction, s.fetcher)
}

// Now returns the service clock as unix seconds.
func (s *Service) Now() uint64 {
	return uint64(s.clock.Now().Unix())
}
