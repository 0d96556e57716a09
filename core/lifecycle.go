package core

import "fmt"

// AuctionState is the lifecycle state of an auction at a point in time.
// It is always recomputed from the auction's bounds and never stored.
type AuctionState string

const (
	StateUpcoming AuctionState = "upcoming"
	StateOpen     AuctionState = "open"
	StateClosed   AuctionState = "closed"
)

// ParseAuctionState maps a filter string onto an AuctionState.
func ParseAuctionState(s string) (AuctionState, error) {
	switch AuctionState(s) {
	case StateUpcoming, StateOpen, StateClosed:
		return AuctionState(s), nil
	}
	return "", fmt.Errorf("unknown auction state %q", s)
}

// StateOf computes the state of a at now (epoch seconds).
// Bounds are half-open: the auction is open on [StartTime, EndTime).
// Settlement is authoritative: a settled auction is closed regardless of its bounds.
func StateOf(a Auction, now uint64) AuctionState {
	if a.Settled || now >= a.EndTime {
		return StateClosed
	}
	if now < a.StartTime {
		return StateUpcoming
	}
	return StateOpen
}

func IsAuctionOpen(a Auction, now uint64) bool     { return StateOf(a, now) == StateOpen }
func IsAuctionUpcoming(a Auction, now uint64) bool { return StateOf(a, now) == StateUpcoming }
func IsAuctionClosed(a Auction, now uint64) bool   { return StateOf(a, now) == StateClosed }

// FilterByState returns the auctions in state at now, preserving their input order.
func FilterByState(auctions []Auction, state AuctionState, now uint64) []Auction {
	result := make([]Auction, 0, len(auctions))
	for _, a := range auctions {
		if StateOf(a, now) == state {
			result = append(result, a)
		}
	}
	return result
}
