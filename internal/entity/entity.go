// Package entity implements get-or-create for the aggregate entities. Every
// function is safe to call repeatedly within one session: the first call
// creates and stages the entity, later calls return the same pointer.
package entity

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/feral-file/ff-marketplace-indexer/internal/domain"
	"github.com/feral-file/ff-marketplace-indexer/internal/logger"
	"github.com/feral-file/ff-marketplace-indexer/internal/store"
	"github.com/feral-file/ff-marketplace-indexer/internal/store/schema"
	"github.com/feral-file/ff-marketplace-indexer/internal/types"
)

// CollectionInfoReader reads descriptive fields of a collection contract
type CollectionInfoReader interface {
	Name(ctx context.Context, contract string) (string, error)
	Symbol(ctx context.Context, contract string) (string, error)
}

// MarketplaceStat returns the marketplace singleton, creating it zeroed
func MarketplaceStat(ctx context.Context, s *store.Session) (*schema.MarketplaceStat, error) {
	stat, err := store.Get[schema.MarketplaceStat](ctx, s, schema.KindMarketplaceStat, domain.MarketplaceStatID)
	if err != nil {
		return nil, fmt.Errorf("failed to load marketplace stats: %w", err)
	}
	if stat != nil {
		return stat, nil
	}

	stat = &schema.MarketplaceStat{
		ID:           domain.MarketplaceStatID,
		TotalVolume:  types.BigZero(),
		AveragePrice: types.BigZero(),
	}
	s.Put(stat)
	return stat, nil
}

// User returns the user for address, creating it at ts. A creation counts
// towards MarketplaceStat.TotalUsers.
func User(ctx context.Context, s *store.Session, address string, ts uint64) (*schema.User, error) {
	id := domain.NormalizeAddress(address)
	user, err := store.Get[schema.User](ctx, s, schema.KindUser, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", id, err)
	}
	if user != nil {
		return user, nil
	}

	user = &schema.User{
		ID:                  id,
		TotalVolumeAsBuyer:  types.BigZero(),
		TotalVolumeAsSeller: types.BigZero(),
		FirstActivityAt:     ts,
		LastActivityAt:      ts,
	}
	s.Put(user)

	stat, err := MarketplaceStat(ctx, s)
	if err != nil {
		return nil, err
	}
	stat.TotalUsers++
	s.Put(stat)

	return user, nil
}

// Collection returns the marketplace collection for an nft contract,
// creating it at ts. A creation counts towards MarketplaceStat.TotalCollections.
func Collection(ctx context.Context, s *store.Session, address string, ts uint64) (*schema.Collection, error) {
	id := domain.NormalizeAddress(address)
	col, err := store.Get[schema.Collection](ctx, s, schema.KindCollection, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load collection %s: %w", id, err)
	}
	if col != nil {
		return col, nil
	}

	col = &schema.Collection{
		ID:            id,
		TotalVolume:   types.BigZero(),
		FloorPrice:    types.BigZero(),
		CeilingPrice:  types.BigZero(),
		AveragePrice:  types.BigZero(),
		LastSalePrice: types.BigZero(),
		CreatedAt:     ts,
		UpdatedAt:     ts,
	}
	s.Put(col)

	stat, err := MarketplaceStat(ctx, s)
	if err != nil {
		return nil, err
	}
	stat.TotalCollections++
	s.Put(stat)

	return col, nil
}

// NFTCollection returns the supply record of a collection contract, creating
// it at ts. On creation name and symbol are read through reader when one is
// given; read failures leave them empty.
func NFTCollection(ctx context.Context, s *store.Session, address string, ts uint64, reader CollectionInfoReader) (*schema.NFTCollection, error) {
	id := domain.NormalizeAddress(address)
	col, err := store.Get[schema.NFTCollection](ctx, s, schema.KindNFTCollection, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load nft collection %s: %w", id, err)
	}
	if col != nil {
		return col, nil
	}

	col = &schema.NFTCollection{
		ID:        id,
		CreatedAt: ts,
	}
	if reader != nil {
		if name, err := reader.Name(ctx, id); err == nil {
			col.Name = domain.SanitizeText(name)
		} else {
			logger.DebugCtx(ctx, "Collection name unavailable", zap.String("contract", id), zap.Error(err))
		}
		if symbol, err := reader.Symbol(ctx, id); err == nil {
			col.Symbol = domain.SanitizeText(symbol)
		} else {
			logger.DebugCtx(ctx, "Collection symbol unavailable", zap.String("contract", id), zap.Error(err))
		}
	}
	s.Put(col)

	return col, nil
}

// Touch moves the user's last activity forward to ts
func Touch(s *store.Session, user *schema.User, ts uint64) {
	if ts > user.LastActivityAt {
		user.LastActivityAt = ts
	}
	s.Put(user)
}
