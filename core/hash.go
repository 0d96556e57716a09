package core

import (
	"crypto/sha256"
	"fmt"
	"slices"
	"strings"
)

// ComputeBidHash computes the commitment for a single bid.
// This is used by both the signer (to generate hashes) and validation (to verify hashes).
//
// Formula: SHA256(bid_id + "|" + bidder + "|" + sell + "|" + buy + "|" + block_timestamp + "|" + nonce)
//
// Amounts use decimal.String(), which has no trailing zeros, so equal amounts
// always hash identically regardless of how they were parsed.
func ComputeBidHash(bid Bid, nonce string) string {
	data := fmt.Sprintf("%s|%s|%s|%s|%d|%s",
		bid.ID, strings.ToLower(bid.Bidder), bid.SellAmount.String(), bid.BuyAmount.String(), bid.BlockTimestamp, nonce)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// ComputeBidSetHash computes an order-independent commitment over a bid set.
//
// Formula: SHA256(nonce + "|" + bid_hash_1 + "|" + bid_hash_2 + ...) with bid hashes sorted
func ComputeBidSetHash(bids []Bid, nonce string) string {
	hashes := make([]string, 0, len(bids))
	for _, bid := range bids {
		hashes = append(hashes, ComputeBidHash(bid, nonce))
	}
	return ComputeBidSetHashFromHashes(hashes, nonce)
}

// ComputeBidSetHashFromHashes is ComputeBidSetHash for bids that are already
// hashed with nonce. The input order does not matter.
func ComputeBidSetHashFromHashes(bidHashes []string, nonce string) string {
	hashes := slices.Clone(bidHashes)
	slices.Sort(hashes)

	data := nonce
	for _, h := range hashes {
		data += "|" + h
	}
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// ComputeClearingHash commits to the outcome of a clearing run.
//
// Formula: SHA256(auction_id + "|" + status + "|" + price + "|" + marginal_id + "|" + ratio + "|" + filled_ids + "|" + nonce)
// where filled_ids is the comma-joined rank-ordered list of fully filled bids.
func ComputeClearingHash(auctionID string, result *ClearingResult, nonce string) string {
	data := fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s",
		auctionID,
		result.Status,
		result.ClearingPrice.String(),
		result.MarginalBidID,
		result.PartialFillRatio.String(),
		strings.Join(result.FullyFilledBidIDs, ","),
		nonce)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}
