// Package listingindex keeps the mapping from an item (nft address, token id)
// to its currently open listing. Bought events carry no listing reference,
// so this index is how a purchase finds the listing it fulfils.
package listingindex

import (
	"context"
	"fmt"
	"math/big"

	"github.com/feral-file/ff-marketplace-indexer/internal/domain"
	"github.com/feral-file/ff-marketplace-indexer/internal/store"
	"github.com/feral-file/ff-marketplace-indexer/internal/store/schema"
)

// Key returns the index key of an item, `{nftAddress}-{tokenId}`
func Key(nftAddress string, tokenID *big.Int) string {
	return fmt.Sprintf("%s-%s", domain.NormalizeAddress(nftAddress), tokenID.String())
}

// Put records listingID as the open listing for the item. It returns the id
// of the listing it replaced, or "" when none was open.
func Put(ctx context.Context, s *store.Session, nftAddress string, tokenID *big.Int, listingID string) (string, error) {
	key := Key(nftAddress, tokenID)

	entry, err := store.Get[schema.ActiveListing](ctx, s, schema.KindActiveListing, key)
	if err != nil {
		return "", fmt.Errorf("failed to read active listing %s: %w", key, err)
	}

	previous := ""
	if entry == nil {
		entry = &schema.ActiveListing{
			ID:         key,
			NFTAddress: domain.NormalizeAddress(nftAddress),
			TokenID:    new(big.Int).Set(tokenID),
		}
	} else {
		previous = entry.ListingID
	}

	entry.ListingID = listingID
	s.Put(entry)

	return previous, nil
}

// Take returns the open listing for the item and clears the mapping.
// ok is false when no listing is open.
func Take(ctx context.Context, s *store.Session, nftAddress string, tokenID *big.Int) (string, bool, error) {
	key := Key(nftAddress, tokenID)

	entry, err := store.Get[schema.ActiveListing](ctx, s, schema.KindActiveListing, key)
	if err != nil {
		return "", false, fmt.Errorf("failed to read active listing %s: %w", key, err)
	}
	if entry == nil || entry.ListingID == "" {
		return "", false, nil
	}

	listingID := entry.ListingID
	// The store has no delete, so a cleared entry is saved with an empty id
	entry.ListingID = ""
	s.Put(entry)

	return listingID, true, nil
}
