package handler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/feral-file/ff-marketplace-indexer/internal/adapter"
	"github.com/feral-file/ff-marketplace-indexer/internal/domain"
	"github.com/feral-file/ff-marketplace-indexer/internal/entity"
	"github.com/feral-file/ff-marketplace-indexer/internal/logger"
	"github.com/feral-file/ff-marketplace-indexer/internal/metadata"
	"github.com/feral-file/ff-marketplace-indexer/internal/store"
	"github.com/feral-file/ff-marketplace-indexer/internal/store/schema"
)

// Engine applies events to the entity store, one event at a time
//
//go:generate mockgen -source=engine.go -destination=../mocks/engine.go -package=mocks -mock_names=Engine=MockEngine
type Engine interface {
	// Handle validates the event and applies all of its mutations in a single
	// batch. It returns ErrMalformedEvent for invalid events and
	// ErrDuplicateEvent for events already applied; neither writes anything.
	Handle(ctx context.Context, event *domain.Event) error
}

type engine struct {
	store    store.Store
	json     adapter.JSON
	resolver metadata.Resolver
	reader   entity.CollectionInfoReader
}

// NewEngine creates an engine over st. resolver and reader are optional;
// without a resolver minted tokens get placeholder metadata.
func NewEngine(st store.Store, json adapter.JSON, resolver metadata.Resolver, reader entity.CollectionInfoReader) Engine {
	return &engine{
		store:    st,
		json:     json,
		resolver: resolver,
		reader:   reader,
	}
}

func (e *engine) Handle(ctx context.Context, event *domain.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}

	logger.DebugCtx(ctx, "Handling event",
		zap.String("kind", string(event.Kind)),
		zap.String("txHash", event.TxHash),
		zap.Uint64("logIndex", event.LogIndex),
		zap.Uint64("block", event.BlockNumber))

	s := store.NewSession(e.store, e.json)

	var err error
	switch event.Kind {
	case domain.EventKindListed:
		err = e.handleListed(ctx, s, event)
	case domain.EventKindBought:
		err = e.handleBought(ctx, s, event)
	case domain.EventKindMinted:
		err = e.handleMinted(ctx, s, event)
	case domain.EventKindTransferred:
		err = e.handleTransferred(ctx, s, event)
	default:
		err = fmt.Errorf("%w: %q", domain.ErrUnknownEventKind, event.Kind)
	}
	if err != nil {
		return err
	}

	if err := s.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit %s event %s: %w", event.Kind, event.ID(), err)
	}

	return nil
}

// ensureNew returns ErrDuplicateEvent when the record this event creates already exists
func ensureNew(ctx context.Context, s *store.Session, kind schema.Kind, id string) error {
	exists, err := s.Exists(ctx, kind, id)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s %s", domain.ErrDuplicateEvent, kind, id)
	}
	return nil
}
