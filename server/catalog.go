package main

import (
	"context"
	"fmt"
	"log"

	"github.com/cloudx-io/batchclearing/core"
	"github.com/cloudx-io/batchclearing/facade"
)

// catalogMirror is the persistent copy of the auction catalog.
type catalogMirror interface {
	ListAuctions(ctx context.Context) ([]core.Auction, error)
	UpsertAuctions(ctx context.Context, auctions []core.Auction) error
}

// mirroredCatalog lists auctions from the indexer and keeps a copy in the
// mirror. When the indexer is unreachable the last mirrored catalog is served.
type mirroredCatalog struct {
	primary facade.AuctionSource
	mirror  catalogMirror
}

func (c *mirroredCatalog) ListAuctions(ctx context.Context) ([]core.Auction, error) {
	auctions, err := c.primary.ListAuctions(ctx)
	if err != nil {
		log.Printf("WARNING: Indexer catalog unavailable, serving mirrored catalog: %v", err)
		mirrored, mirrorErr := c.mirror.ListAuctions(ctx)
		if mirrorErr != nil {
			return nil, fmt.Errorf("indexer: %w; mirror: %w", err, mirrorErr)
		}
		return mirrored, nil
	}

	if err := c.mirror.UpsertAuctions(ctx, auctions); err != nil {
		log.Printf("WARNING: Failed to mirror %d auctions: %v", len(auctions), err)
	}
	return auctions, nil
}
