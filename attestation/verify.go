package attestation

import (
	"crypto/ecdsa"
	"fmt"
	"slices"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/shopspring/decimal"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/batchclearing/clearingapi"
	"github.com/cloudx-io/batchclearing/core"
)

// VerificationInput contains everything needed to check a clearing attestation.
type VerificationInput struct {
	AttestationCOSE clearingapi.AttestationCOSE
	PublicKey       *ecdsa.PublicKey

	// Bids is the full bid set the verifier believes was cleared. When nil the
	// bid set and clearing checks only test the attestation's own consistency.
	Bids []core.Bid

	// Bid, when set, is checked for inclusion in the attested bid set.
	Bid *core.Bid
}

// ValidationResult contains the outcome of each verification step.
type ValidationResult struct {
	SignatureValid    bool
	BidSetHashValid   bool
	ClearingValid     bool
	BidChecked        bool
	BidIncluded       bool
	ValidationDetails []string
	Attestation       *clearingapi.ClearingAttestation
}

// IsValid returns true if all performed checks passed.
func (r *ValidationResult) IsValid() bool {
	return r.SignatureValid && r.BidSetHashValid && r.ClearingValid && (!r.BidChecked || r.BidIncluded)
}

func (r *ValidationResult) addDetail(format string, args ...any) {
	r.ValidationDetails = append(r.ValidationDetails, fmt.Sprintf(format, args...))
}

// Verify checks a clearing attestation and verifies:
// - COSE signature against the given public key
// - Bid set hash against the supplied bids (or the attested bid hashes)
// - Clearing outcome, recomputed from the supplied bids when present
// - Inclusion of a single bid, when one is given
//
// Returns:
//   - ValidationResult with detailed results (call result.IsValid() to check overall status)
//   - error if verification cannot be performed (e.g. the input is not a COSE_Sign1 message)
func Verify(input *VerificationInput) (*ValidationResult, error) {
	if input == nil || input.PublicKey == nil {
		return nil, fmt.Errorf("public key is required")
	}

	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(input.AttestationCOSE); err != nil {
		return nil, fmt.Errorf("parse COSE_Sign1: %w", err)
	}

	var doc clearingapi.ClearingAttestation
	if err := cbor.Unmarshal(msg.Payload, &doc); err != nil {
		return nil, fmt.Errorf("parse attestation payload: %w", err)
	}

	result := &ValidationResult{
		ValidationDetails: []string{},
		Attestation:       &doc,
	}

	result.SignatureValid = verifySignature(&msg, input.PublicKey, result)
	result.BidSetHashValid = verifyBidSetHash(&doc, input.Bids, result)
	result.ClearingValid = verifyClearing(&doc, input.Bids, result)

	if input.Bid != nil {
		result.BidChecked = true
		result.BidIncluded = verifyBidInclusion(&doc, *input.Bid, result)
	}

	return result, nil
}

func verifySignature(msg *cose.Sign1Message, publicKey *ecdsa.PublicKey, result *ValidationResult) bool {
	alg, err := msg.Headers.Protected.Algorithm()
	if err != nil || alg != cose.AlgorithmES384 {
		result.addDetail("Unexpected signature algorithm in protected header")
		return false
	}

	verifier, err := cose.NewVerifier(cose.AlgorithmES384, publicKey)
	if err != nil {
		result.addDetail("Create verifier failed: %v", err)
		return false
	}

	if err := msg.Verify(nil, verifier); err != nil {
		result.addDetail("COSE signature verification failed: %v", err)
		return false
	}
	result.addDetail("COSE signature verified")
	return true
}

func verifyBidSetHash(doc *clearingapi.ClearingAttestation, bids []core.Bid, result *ValidationResult) bool {
	if doc.BidHashNonce == "" {
		result.addDetail("Bid hash nonce missing from attestation")
		return false
	}

	var computed string
	if bids != nil {
		computed = core.ComputeBidSetHash(bids, doc.BidHashNonce)
		if len(bids) != doc.BidCount {
			result.addDetail("Bid count mismatch: supplied %d, attestation has %d", len(bids), doc.BidCount)
			return false
		}
	} else {
		computed = core.ComputeBidSetHashFromHashes(doc.BidHashes, doc.BidHashNonce)
		result.addDetail("No bids supplied, checking bid set hash against attested bid hashes")
	}

	if computed == doc.BidSetHash {
		result.addDetail("Bid set hash validation passed: %s", computed)
		return true
	}
	result.addDetail("Bid set hash mismatch: computed %s, attestation has %s", computed, doc.BidSetHash)
	return false
}

func verifyClearing(doc *clearingapi.ClearingAttestation, bids []core.Bid, result *ValidationResult) bool {
	claimed, err := claimedResult(doc)
	if err != nil {
		result.addDetail("Attested clearing result malformed: %v", err)
		return false
	}

	if core.ComputeClearingHash(doc.AuctionID, claimed, doc.ClearingNonce) != doc.ClearingHash {
		result.addDetail("Clearing hash does not match attested clearing fields")
		return false
	}

	if bids == nil {
		result.addDetail("No bids supplied, clearing result not recomputed")
		return true
	}

	auction, err := attestedAuction(doc)
	if err != nil {
		result.addDetail("Attested auction parameters malformed: %v", err)
		return false
	}

	run, err := core.RunClearing(auction, bids)
	if err != nil {
		result.addDetail("Recomputing clearing failed: %v", err)
		return false
	}

	recomputed := core.ComputeClearingHash(doc.AuctionID, run.Result, doc.ClearingNonce)
	if recomputed != doc.ClearingHash {
		result.addDetail("Clearing mismatch: recomputed status=%s price=%s, attestation has status=%s price=%s",
			run.Result.Status, run.Result.ClearingPrice, doc.Status, doc.ClearingPrice)
		return false
	}

	result.addDetail("Clearing validation passed: status=%s price=%s", doc.Status, doc.ClearingPrice)
	return true
}

func verifyBidInclusion(doc *clearingapi.ClearingAttestation, bid core.Bid, result *ValidationResult) bool {
	computed := core.ComputeBidHash(bid, doc.BidHashNonce)
	if slices.Contains(doc.BidHashes, computed) {
		result.addDetail("Bid hash found in attestation: %s", computed)
		return true
	}
	result.addDetail("Bid hash NOT found in attestation. Computed: %s", computed)
	result.addDetail("Total hashes in attestation: %d", len(doc.BidHashes))
	return false
}

func claimedResult(doc *clearingapi.ClearingAttestation) (*core.ClearingResult, error) {
	price, err := decimal.NewFromString(doc.ClearingPrice)
	if err != nil {
		return nil, fmt.Errorf("clearing price: %w", err)
	}
	ratio, err := decimal.NewFromString(doc.PartialFillRatio)
	if err != nil {
		return nil, fmt.Errorf("partial fill ratio: %w", err)
	}
	return &core.ClearingResult{
		Status:            doc.Status,
		ClearingPrice:     price,
		MarginalBidID:     doc.MarginalBidID,
		PartialFillRatio:  ratio,
		FullyFilledBidIDs: doc.FullyFilledBidIDs,
	}, nil
}

func attestedAuction(doc *clearingapi.ClearingAttestation) (core.Auction, error) {
	supply, err := decimal.NewFromString(doc.TotalSellSupply)
	if err != nil {
		return core.Auction{}, fmt.Errorf("total sell supply: %w", err)
	}
	minPrice := decimal.Zero
	if strings.TrimSpace(doc.MinimumPrice) != "" {
		if minPrice, err = decimal.NewFromString(doc.MinimumPrice); err != nil {
			return core.Auction{}, fmt.Errorf("minimum price: %w", err)
		}
	}
	return core.Auction{
		ID:              doc.AuctionID,
		Kind:            doc.AuctionKind,
		TotalSellSupply: supply,
		MinimumPrice:    minPrice,
	}, nil
}
