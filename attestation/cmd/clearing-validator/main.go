package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/cloudx-io/batchclearing/attestation"
	"github.com/cloudx-io/batchclearing/clearingapi"
	"github.com/cloudx-io/batchclearing/core"
)

func main() {
	var (
		attestationInput = flag.String("attestation", "", "Clearing attestation (file path or inline gzip/base64 string)")
		publicKeyInput   = flag.String("public-key", "", "Verification public key (PEM file path or inline PEM)")
		bidsInput        = flag.String("bids", "", "Full bid set JSON array (file path or inline JSON)")
		bidID            = flag.String("bid-id", "", "Check inclusion of this bid from --bids")
		outputFormat     = flag.String("format", "text", "Output format: text or json")
		help             = flag.Bool("help", false, "Show usage information")
	)

	flag.Parse()

	if *help {
		showUsage()
		os.Exit(0)
	}

	if *attestationInput == "" || *publicKeyInput == "" {
		showUsage()
		fmt.Fprintf(os.Stderr, "\nError: --attestation and --public-key are required\n")
		os.Exit(1)
	}

	input, err := buildVerificationInput(*attestationInput, *publicKeyInput, *bidsInput, *bidID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading inputs: %v\n", err)
		os.Exit(2)
	}

	result, err := attestation.Verify(input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation error: %v\n", err)
		os.Exit(2)
	}

	if *outputFormat == "json" {
		outputJSON(result)
	} else {
		outputText(result)
	}

	if !result.IsValid() {
		os.Exit(1)
	}
	os.Exit(0)
}

func showUsage() {
	fmt.Println("Clearing Attestation Validator")
	fmt.Println()
	fmt.Println("Verifies a signed clearing attestation and recomputes the clearing from the bid set.")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  clearing-validator --attestation <gzip|base64> --public-key <pem> [--bids <json>] [--bid-id <id>] [options]")
	fmt.Println()
	fmt.Println("Required Flags:")
	fmt.Println("  --attestation <value>             attestation_cose_gzip or attestation_cose_base64 from the API")
	fmt.Println("  --public-key <pem>                Key published at /attestation/key")
	fmt.Println()
	fmt.Println("Optional Flags:")
	fmt.Println("  --bids <json>                     Full bid set; enables bid set and clearing recomputation")
	fmt.Println("  --bid-id <id>                     Check that this bid from --bids is in the attested set")
	fmt.Println("  --format <text|json>              Output format (default: text)")
	fmt.Println("  --help                            Show this help message")
	fmt.Println()
	fmt.Println("Bids Format:")
	fmt.Println("  [")
	fmt.Println("    {\"id\": \"bid1\", \"bidder\": \"0xabc\", \"sell_amount\": \"10\", \"buy_amount\": \"12\", \"block_timestamp\": 1700000000}")
	fmt.Println("  ]")
	fmt.Println()
	fmt.Println("Exit Codes:")
	fmt.Println("  0 - Validation passed")
	fmt.Println("  1 - Validation failed")
	fmt.Println("  2 - Invalid input or runtime error")
}

// readInput returns the file contents when input names a readable file and
// input itself otherwise.
func readInput(input string) []byte {
	if data, err := os.ReadFile(input); err == nil {
		return data
	}
	return []byte(input)
}

func buildVerificationInput(attestationArg, publicKeyArg, bidsArg, bidID string) (*attestation.VerificationInput, error) {
	coseBytes, err := clearingapi.ParseAttestation(string(readInput(attestationArg)))
	if err != nil {
		return nil, fmt.Errorf("parse attestation: %w", err)
	}

	publicKey, err := attestation.ParsePublicKeyPEM(readInput(publicKeyArg))
	if err != nil {
		return nil, err
	}

	input := &attestation.VerificationInput{
		AttestationCOSE: coseBytes,
		PublicKey:       publicKey,
	}

	if bidsArg == "" {
		if bidID != "" {
			return nil, fmt.Errorf("--bid-id requires --bids")
		}
		return input, nil
	}

	var views []clearingapi.BidView
	if err := json.Unmarshal(readInput(bidsArg), &views); err != nil {
		return nil, fmt.Errorf("parse bids: %w", err)
	}
	bids, err := clearingapi.ToBids(views)
	if err != nil {
		return nil, fmt.Errorf("parse bids: %w", err)
	}
	input.Bids = bids

	if bidID != "" {
		bid, ok := findBid(bids, bidID)
		if !ok {
			return nil, fmt.Errorf("bid %s not found in --bids", bidID)
		}
		input.Bid = &bid
	}
	return input, nil
}

func findBid(bids []core.Bid, id string) (core.Bid, bool) {
	for _, b := range bids {
		if b.ID == id {
			return b, true
		}
	}
	return core.Bid{}, false
}

func outputText(result *attestation.ValidationResult) {
	fmt.Println("Clearing Attestation Validator")
	fmt.Println("==============================")
	fmt.Println()

	if doc := result.Attestation; doc != nil {
		fmt.Println("Attestation:")
		fmt.Printf("  Document:                %s\n", doc.DocumentID)
		fmt.Printf("  Auction:                 %s (%s)\n", doc.AuctionID, doc.AuctionKind)
		fmt.Printf("  Status:                  %s\n", doc.Status)
		fmt.Printf("  Clearing Price:          %s\n", doc.ClearingPrice)
		fmt.Printf("  Bids:                    %d\n", doc.BidCount)
		if len(doc.FullyFilledBidIDs) > 0 {
			fmt.Printf("  Fully Filled:            %s\n", strings.Join(doc.FullyFilledBidIDs, ", "))
		}
		if doc.MarginalBidID != "" {
			fmt.Printf("  Marginal Bid:            %s (ratio %s)\n", doc.MarginalBidID, doc.PartialFillRatio)
		}
		fmt.Println()
	}

	fmt.Println("Summary:")
	fmt.Printf("  Signature Valid:         %v\n", result.SignatureValid)
	fmt.Printf("  Bid Set Hash Valid:      %v\n", result.BidSetHashValid)
	fmt.Printf("  Clearing Valid:          %v\n", result.ClearingValid)
	if result.BidChecked {
		fmt.Printf("  Bid Included:            %v\n", result.BidIncluded)
	}

	fmt.Println()
	fmt.Println("Details:")
	for _, detail := range result.ValidationDetails {
		fmt.Printf("  - %s\n", detail)
	}

	fmt.Println()
	fmt.Println("==============================")
	if result.IsValid() {
		fmt.Println("VALIDATION: ✓ PASSED")
		fmt.Println("Exit Code: 0")
	} else {
		fmt.Println("VALIDATION: ✗ FAILED")
		fmt.Println("Exit Code: 1")
	}
}

func outputJSON(result *attestation.ValidationResult) {
	output := map[string]any{
		"valid":              result.IsValid(),
		"signature_valid":    result.SignatureValid,
		"bid_set_hash_valid": result.BidSetHashValid,
		"clearing_valid":     result.ClearingValid,
		"details":            result.ValidationDetails,
		"attestation":        result.Attestation,
	}
	if result.BidChecked {
		output["bid_included"] = result.BidIncluded
	}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		os.Exit(2)
	}
	fmt.Println(string(data))
}
