package attestation

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"log"
	"slices"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/batchclearing/clearingapi"
	"github.com/cloudx-io/batchclearing/core"
)

// KeyAlgorithm names the signing scheme of every clearing attestation.
const KeyAlgorithm = "ECDSA-P384"

// ContentType is set in the protected header of every attestation.
const ContentType = "application/cbor"

var encMode = mustEncMode()

func mustEncMode() cbor.EncMode {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	mode, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return mode
}

// Signer signs clearing attestations with an ECDSA P-384 key.
type Signer struct {
	privateKey *ecdsa.PrivateKey // Keep private - sensitive!
	PublicKey  *ecdsa.PublicKey
	signer     cose.Signer
	now        func() time.Time
}

// NewSigner creates a Signer with a freshly generated key.
func NewSigner() (*Signer, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	return newSigner(privateKey)
}

// NewSignerFromPEM creates a Signer from a PEM "EC PRIVATE KEY" or PKCS#8 "PRIVATE KEY" block.
func NewSignerFromPEM(pemData []byte) (*Signer, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in signing key")
	}

	var privateKey *ecdsa.PrivateKey
	switch block.Type {
	case "EC PRIVATE KEY":
		key, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse EC private key: %w", err)
		}
		privateKey = key
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse PKCS#8 private key: %w", err)
		}
		ecKey, ok := key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("signing key is %T, not ECDSA", key)
		}
		privateKey = ecKey
	default:
		return nil, fmt.Errorf("unsupported PEM block type %q", block.Type)
	}

	if privateKey.Curve != elliptic.P384() {
		return nil, fmt.Errorf("signing key must use curve P-384, got %s", privateKey.Curve.Params().Name)
	}
	return newSigner(privateKey)
}

func newSigner(privateKey *ecdsa.PrivateKey) (*Signer, error) {
	signer, err := cose.NewSigner(cose.AlgorithmES384, privateKey)
	if err != nil {
		return nil, fmt.Errorf("create COSE signer: %w", err)
	}
	return &Signer{
		privateKey: privateKey,
		PublicKey:  &privateKey.PublicKey,
		signer:     signer,
		now:        time.Now,
	}, nil
}

// PublicKeyPEM returns the verification key in PEM format.
func (s *Signer) PublicKeyPEM() (string, error) {
	return PublicKeyToPEM(s.PublicKey)
}

// PublicKeyToPEM encodes an ECDSA public key as a PKIX "PUBLIC KEY" PEM block.
func PublicKeyToPEM(publicKey *ecdsa.PublicKey) (string, error) {
	derBytes, err := x509.MarshalPKIXPublicKey(publicKey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	pemBlock := &pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: derBytes,
	}
	return string(pem.EncodeToMemory(pemBlock)), nil
}

// ParsePublicKeyPEM decodes a PKIX "PUBLIC KEY" PEM block holding an ECDSA key.
func ParsePublicKeyPEM(pemData []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in public key")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	ecKey, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, not ECDSA", key)
	}
	return ecKey, nil
}

// Sign commits to an auction's bid set and clearing outcome.
//
// Processing flow:
//  1. Generate fresh nonces for the bid hashes and the clearing hash
//  2. Hash every bid of the snapshot (including floor-rejected ones)
//  3. Build the attestation payload and encode it as deterministic CBOR
//  4. Wrap the payload in a COSE_Sign1 message signed with ES384
func (s *Signer) Sign(auction core.Auction, bids []core.Bid, ledgerUpdatedAt uint64, run *core.ClearingRun) (clearingapi.AttestationCOSE, *clearingapi.ClearingAttestation, error) {
	if run == nil || run.Result == nil {
		return nil, nil, fmt.Errorf("clearing run is nil")
	}

	bidHashNonce, err := generateNonce()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate bid hash nonce: %w", err)
	}
	clearingNonce, err := generateNonce()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate clearing nonce: %w", err)
	}

	bidHashes := make([]string, 0, len(bids))
	for _, bid := range bids {
		bidHashes = append(bidHashes, core.ComputeBidHash(bid, bidHashNonce))
	}
	slices.Sort(bidHashes)

	result := run.Result
	doc := &clearingapi.ClearingAttestation{
		DocumentID:          uuid.NewString(),
		AuctionID:           auction.ID,
		AuctionKind:         auction.Kind,
		TotalSellSupply:     auction.TotalSellSupply.String(),
		MinimumPrice:        auction.MinimumPrice.String(),
		LedgerUpdatedAt:     ledgerUpdatedAt,
		BidCount:            len(bids),
		BidHashes:           bidHashes,
		BidSetHash:          core.ComputeBidSetHash(bids, bidHashNonce),
		BidHashNonce:        bidHashNonce,
		Status:              result.Status,
		ClearingPrice:       result.ClearingPrice.String(),
		MarginalBidID:       result.MarginalBidID,
		PartialFillRatio:    result.PartialFillRatio.String(),
		FullyFilledBidIDs:   slices.Clone(result.FullyFilledBidIDs),
		FloorRejectedBidIDs: slices.Clone(run.FloorRejectedBidIDs),
		ClearingHash:        core.ComputeClearingHash(auction.ID, result, clearingNonce),
		ClearingNonce:       clearingNonce,
		Timestamp:           s.now().UTC(),
	}
	if doc.FullyFilledBidIDs == nil {
		doc.FullyFilledBidIDs = []string{}
	}

	payload, err := encMode.Marshal(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal attestation payload: %w", err)
	}

	msg := cose.NewSign1Message()
	msg.Headers.Protected.SetAlgorithm(cose.AlgorithmES384)
	msg.Headers.Protected[cose.HeaderLabelContentType] = ContentType
	msg.Payload = payload

	if err := msg.Sign(rand.Reader, nil, s.signer); err != nil {
		log.Printf("ERROR: Signing attestation for auction %s failed: %v", auction.ID, err)
		return nil, nil, fmt.Errorf("sign attestation: %w", err)
	}

	coseBytes, err := msg.MarshalCBOR()
	if err != nil {
		return nil, nil, fmt.Errorf("marshal COSE_Sign1: %w", err)
	}

	log.Printf("INFO: Clearing attestation %s generated for auction %s: %d bytes", doc.DocumentID, auction.ID, len(coseBytes))
	return clearingapi.AttestationCOSE(coseBytes), doc, nil
}

func generateNonce() (string, error) {
	randomBytes := make([]byte, 32) // 256 bits of entropy
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("entropy generation failed: %w", err)
	}
	return hex.EncodeToString(randomBytes), nil
}
