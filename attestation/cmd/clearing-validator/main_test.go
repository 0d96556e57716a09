package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/cloudx-io/batchclearing/attestation"
	"github.com/cloudx-io/batchclearing/core"
)

func TestBuildVerificationInput_FromFiles(t *testing.T) {
	signer, err := attestation.NewSigner()
	assert.NoError(t, err)

	auction := core.Auction{ID: "sale", Kind: core.AuctionKindBatch, TotalSellSupply: decimal.NewFromInt(5)}
	bids := []core.Bid{{ID: "bid1", Bidder: "0x1", SellAmount: decimal.NewFromInt(2), BuyAmount: decimal.NewFromInt(3)}}
	run, err := core.RunClearing(auction, bids)
	assert.NoError(t, err)
	coseBytes, _, err := signer.Sign(auction, bids, 1, run)
	assert.NoError(t, err)

	dir := t.TempDir()
	keyPEM, err := signer.PublicKeyPEM()
	assert.NoError(t, err)
	keyPath := filepath.Join(dir, "key.pem")
	assert.NoError(t, os.WriteFile(keyPath, []byte(keyPEM), 0o600))

	bidsJSON := `[{"id":"bid1","bidder":"0x1","sell_amount":"2","buy_amount":"3","block_timestamp":0}]`

	input, err := buildVerificationInput(coseBytes.EncodeBase64().String(), keyPath, bidsJSON, "bid1")
	assert.NoError(t, err)
	check.Equal(t, 1, len(input.Bids))
	check.NotNil(t, input.Bid)

	result, err := attestation.Verify(input)
	assert.NoError(t, err)
	check.True(t, result.IsValid())
}

func TestBuildVerificationInput_Errors(t *testing.T) {
	_, err := buildVerificationInput("%%%", "key", "", "")
	check.Error(t, err)

	signer, err := attestation.NewSigner()
	assert.NoError(t, err)
	keyPEM, err := signer.PublicKeyPEM()
	assert.NoError(t, err)

	_, err = buildVerificationInput("YWJj", keyPEM, "", "bid1")
	check.Error(t, err) // --bid-id without --bids

	_, err = buildVerificationInput("YWJj", keyPEM, "[]", "bid1")
	check.Error(t, err) // bid not in set
}
