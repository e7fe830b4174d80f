package handler

import (
	"context"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"github.com/feral-file/ff-marketplace-indexer/internal/domain"
	"github.com/feral-file/ff-marketplace-indexer/internal/entity"
	"github.com/feral-file/ff-marketplace-indexer/internal/listingindex"
	"github.com/feral-file/ff-marketplace-indexer/internal/logger"
	"github.com/feral-file/ff-marketplace-indexer/internal/rollup"
	"github.com/feral-file/ff-marketplace-indexer/internal/stats"
	"github.com/feral-file/ff-marketplace-indexer/internal/store"
	"github.com/feral-file/ff-marketplace-indexer/internal/store/schema"
	"github.com/feral-file/ff-marketplace-indexer/internal/types"
)

func (e *engine) handleListed(ctx context.Context, s *store.Session, event *domain.Event) error {
	p := event.Listed
	ts := event.BlockTimestamp
	id := event.ID()

	if err := ensureNew(ctx, s, schema.KindListing, id); err != nil {
		return err
	}

	listing := &schema.Listing{
		ID:              id,
		Seller:          domain.NormalizeAddress(p.Seller),
		NFTAddress:      domain.NormalizeAddress(p.NFTAddress),
		TokenID:         new(big.Int).Set(p.TokenID),
		Price:           new(big.Int).Set(p.Price),
		ListedAt:        ts,
		TransactionHash: event.TxHash,
	}
	s.Put(listing)

	seller, err := entity.User(ctx, s, p.Seller, ts)
	if err != nil {
		return err
	}
	seller.TotalListings++
	entity.Touch(s, seller, ts)

	collection, err := entity.Collection(ctx, s, p.NFTAddress, ts)
	if err != nil {
		return err
	}
	stats.ApplyListingPrice(collection, p.Price, ts)
	s.Put(collection)

	stat, err := entity.MarketplaceStat(ctx, s)
	if err != nil {
		return err
	}

	previous, err := listingindex.Put(ctx, s, p.NFTAddress, p.TokenID, id)
	if err != nil {
		return err
	}
	if previous != "" {
		if err := supersede(ctx, s, stat, previous, id, ts); err != nil {
			return err
		}
	}

	delta := rollup.Delta{Listings: 1}
	if err := rollup.Update(ctx, s, rollup.CollectionScope(collection.ID), ts, delta); err != nil {
		return err
	}
	if err := rollup.Update(ctx, s, rollup.MarketplaceScope(), ts, delta); err != nil {
		return err
	}

	stats.ApplyMarketplaceListing(stat, ts)
	s.Put(stat)

	return nil
}

// supersede cancels a still-open listing replaced by a relist of the same item
func supersede(ctx context.Context, s *store.Session, stat *schema.MarketplaceStat, previousID, newID string, ts uint64) error {
	prev, err := store.Get[schema.Listing](ctx, s, schema.KindListing, previousID)
	if err != nil {
		return fmt.Errorf("failed to load superseded listing %s: %w", previousID, err)
	}
	if prev == nil || prev.IsSold || prev.IsCancelled {
		return nil
	}

	prev.IsCancelled = true
	prev.CancelledAt = types.Uint64Ptr(ts)
	prev.SupersededBy = types.StringPtr(newID)
	s.Put(prev)

	stat.SupersededListings++

	logger.DebugCtx(ctx, "Listing superseded by relist",
		zap.String("listing", previousID),
		zap.String("supersededBy", newID))

	return nil
}

func (e *engine) handleBought(ctx context.Context, s *store.Session, event *domain.Event) error {
	p := event.Bought
	ts := event.BlockTimestamp
	id := event.ID()

	if err := ensureNew(ctx, s, schema.KindPurchase, id); err != nil {
		return err
	}

	buyer, err := entity.User(ctx, s, p.Buyer, ts)
	if err != nil {
		return err
	}

	listing, err := takeListing(ctx, s, p.NFTAddress, p.TokenID)
	if err != nil {
		return err
	}

	purchase := &schema.Purchase{
		ID:              id,
		Buyer:           buyer.ID,
		Seller:          domain.UnresolvedSeller,
		NFTAddress:      domain.NormalizeAddress(p.NFTAddress),
		TokenID:         new(big.Int).Set(p.TokenID),
		Price:           new(big.Int).Set(p.Price),
		Timestamp:       ts,
		TransactionHash: event.TxHash,
	}

	if listing != nil {
		listing.IsSold = true
		listing.SoldAt = types.Uint64Ptr(ts)
		s.Put(listing)

		purchase.Seller = listing.Seller
		purchase.SellerResolved = true
		purchase.Listing = types.StringPtr(listing.ID)
	} else {
		logger.WarnCtx(ctx, "Purchase matched no active listing",
			zap.String("txHash", event.TxHash),
			zap.Uint64("logIndex", event.LogIndex),
			zap.String("item", listingindex.Key(p.NFTAddress, p.TokenID)))
	}
	s.Put(purchase)

	stats.ApplyBuyerPurchase(buyer, p.Price)
	entity.Touch(s, buyer, ts)

	if purchase.SellerResolved {
		seller, err := entity.User(ctx, s, purchase.Seller, ts)
		if err != nil {
			return err
		}
		stats.ApplySellerSale(seller, p.Price)
		entity.Touch(s, seller, ts)
	}

	collection, err := entity.Collection(ctx, s, p.NFTAddress, ts)
	if err != nil {
		return err
	}
	stats.ApplyCollectionSale(collection, p.Price, ts)
	s.Put(collection)

	delta := rollup.Delta{Price: p.Price, Sales: 1}
	if err := rollup.Update(ctx, s, rollup.CollectionScope(collection.ID), ts, delta); err != nil {
		return err
	}
	if err := rollup.Update(ctx, s, rollup.MarketplaceScope(), ts, delta); err != nil {
		return err
	}

	stat, err := entity.MarketplaceStat(ctx, s)
	if err != nil {
		return err
	}
	stats.ApplyMarketplaceSale(stat, p.Price, ts)
	if !purchase.SellerResolved {
		stat.UnmatchedPurchases++
	}
	s.Put(stat)

	return nil
}

// takeListing removes the item's open listing from the index and loads it.
// It returns nil on an index miss or when the indexed listing is gone.
func takeListing(ctx context.Context, s *store.Session, nftAddress string, tokenID *big.Int) (*schema.Listing, error) {
	listingID, ok, err := listingindex.Take(ctx, s, nftAddress, tokenID)
	if err != nil || !ok {
		return nil, err
	}

	listing, err := store.Get[schema.Listing](ctx, s, schema.KindListing, listingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load listing %s: %w", listingID, err)
	}
	if listing == nil {
		logger.WarnCtx(ctx, "Active listing index points to a missing listing", zap.String("listing", listingID))
		return nil, nil
	}

	return listing, nil
}
