package handler

import (
	"context"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"github.com/feral-file/ff-marketplace-indexer/internal/domain"
	"github.com/feral-file/ff-marketplace-indexer/internal/entity"
	"github.com/feral-file/ff-marketplace-indexer/internal/logger"
	"github.com/feral-file/ff-marketplace-indexer/internal/metadata"
	"github.com/feral-file/ff-marketplace-indexer/internal/store"
	"github.com/feral-file/ff-marketplace-indexer/internal/store/schema"
)

// NFTID returns `{contract}-{tokenId}`
func NFTID(contract string, tokenID *big.Int) string {
	return fmt.Sprintf("%s-%s", domain.NormalizeAddress(contract), tokenID.String())
}

// AttributeID returns `{nftId}-{traitType}`
func AttributeID(nftID, traitType string) string {
	return fmt.Sprintf("%s-%s", nftID, traitType)
}

func (e *engine) handleMinted(ctx context.Context, s *store.Session, event *domain.Event) error {
	p := event.Minted
	return e.mint(ctx, s, event, p.To, p.TokenID, p.TokenURI)
}

func (e *engine) handleTransferred(ctx context.Context, s *store.Session, event *domain.Event) error {
	p := event.Transferred

	if domain.IsZeroAddress(p.From) {
		if domain.IsZeroAddress(p.To) {
			logger.DebugCtx(ctx, "Ignoring transfer from and to the zero address", zap.String("txHash", event.TxHash))
			return nil
		}
		return e.mint(ctx, s, event, p.To, p.TokenID, "")
	}

	return e.transfer(ctx, s, event, p.From, p.To, p.TokenID)
}

func (e *engine) mint(ctx context.Context, s *store.Session, event *domain.Event, to string, tokenID *big.Int, tokenURI string) error {
	if err := ensureNew(ctx, s, schema.KindTransfer, event.ID()); err != nil {
		return err
	}

	ts := event.BlockTimestamp
	nftID := NFTID(event.Contract, tokenID)

	existing, err := store.Get[schema.NFT](ctx, s, schema.KindNFT, nftID)
	if err != nil {
		return fmt.Errorf("failed to load nft %s: %w", nftID, err)
	}
	if existing != nil {
		// Already minted, e.g. both NFTMinted and Transfer were emitted
		return e.transfer(ctx, s, event, domain.ZeroAddress, to, tokenID)
	}

	collection, err := entity.NFTCollection(ctx, s, event.Contract, ts, e.reader)
	if err != nil {
		return err
	}
	collection.TotalSupply++
	s.Put(collection)

	res := e.resolve(ctx, event.Contract, tokenID, tokenURI)
	md := res.Metadata

	nft := &schema.NFT{
		ID:               nftID,
		Contract:         collection.ID,
		TokenID:          new(big.Int).Set(tokenID),
		Owner:            domain.NormalizeAddress(to),
		TokenURI:         domain.SanitizeText(res.URI),
		Name:             md.Name,
		Description:      md.Description,
		Image:            md.Image,
		MetadataResolved: res.OK(),
		CreatedAt:        ts,
		UpdatedAt:        ts,
	}
	if hash, err := md.Hash(); err == nil {
		nft.MetadataHash = hash
	} else {
		logger.WarnCtx(ctx, "Failed to hash token metadata", zap.String("nft", nftID), zap.Error(err))
	}
	s.Put(nft)

	for _, attr := range md.Attributes {
		s.Put(&schema.NFTAttribute{
			ID:        AttributeID(nftID, attr.TraitType),
			NFT:       nftID,
			TraitType: attr.TraitType,
			Value:     attr.Value,
		})
	}

	owner, err := entity.User(ctx, s, to, ts)
	if err != nil {
		return err
	}
	entity.Touch(s, owner, ts)

	s.Put(transferRecord(event, nftID, collection.ID, tokenID, domain.ZeroAddress, to))

	return nil
}

func (e *engine) resolve(ctx context.Context, contract string, tokenID *big.Int, tokenURI string) metadata.Result {
	if e.resolver == nil {
		return metadata.Result{Metadata: metadata.Placeholder(tokenID), URI: tokenURI, Err: metadata.ErrNoTokenURI}
	}

	res := e.resolver.Resolve(ctx, contract, tokenID, tokenURI)
	if res.Metadata == nil {
		res.Metadata = metadata.Placeholder(tokenID)
	}
	if !res.OK() {
		logger.WarnCtx(ctx, "Token metadata unresolved, using placeholder",
			zap.String("contract", contract),
			zap.String("tokenId", tokenID.String()),
			zap.String("uri", res.URI),
			zap.Error(res.Err))
	}
	return res
}

func (e *engine) transfer(ctx context.Context, s *store.Session, event *domain.Event, from, to string, tokenID *big.Int) error {
	if err := ensureNew(ctx, s, schema.KindTransfer, event.ID()); err != nil {
		return err
	}

	ts := event.BlockTimestamp
	nftID := NFTID(event.Contract, tokenID)

	nft, err := store.Get[schema.NFT](ctx, s, schema.KindNFT, nftID)
	if err != nil {
		return fmt.Errorf("failed to load nft %s: %w", nftID, err)
	}
	if nft == nil {
		// Nothing is written, users included, so the event is not recorded
		// as seen and a redelivery after the mint applies it in full
		logger.DebugCtx(ctx, "Skipping transfer of unknown token", zap.String("nft", nftID), zap.String("txHash", event.TxHash))
		return nil
	}

	nft.Owner = domain.NormalizeAddress(to)
	nft.UpdatedAt = ts

	if domain.IsZeroAddress(to) && !nft.Burned {
		nft.Burned = true
		collection, err := entity.NFTCollection(ctx, s, event.Contract, ts, e.reader)
		if err != nil {
			return err
		}
		collection.TotalBurned++
		s.Put(collection)
	}
	s.Put(nft)

	for _, party := range []string{from, to} {
		if domain.IsZeroAddress(party) {
			continue
		}
		user, err := entity.User(ctx, s, party, ts)
		if err != nil {
			return err
		}
		entity.Touch(s, user, ts)
	}

	s.Put(transferRecord(event, nftID, nft.Contract, tokenID, from, to))

	return nil
}

func transferRecord(event *domain.Event, nftID, contract string, tokenID *big.Int, from, to string) *schema.Transfer {
	return &schema.Transfer{
		ID:              event.ID(),
		NFT:             nftID,
		Contract:        contract,
		TokenID:         new(big.Int).Set(tokenID),
		From:            domain.NormalizeAddress(from),
		To:              domain.NormalizeAddress(to),
		BlockNumber:     event.BlockNumber,
		Timestamp:       event.BlockTimestamp,
		TransactionHash: event.TxHash,
	}
}
