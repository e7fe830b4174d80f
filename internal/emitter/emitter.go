package emitter

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/feral-file/ff-marketplace-indexer/internal/adapter"
	"github.com/feral-file/ff-marketplace-indexer/internal/domain"
	"github.com/feral-file/ff-marketplace-indexer/internal/logger"
	"github.com/feral-file/ff-marketplace-indexer/internal/messaging"
	"github.com/feral-file/ff-marketplace-indexer/internal/store"
)

// Config holds the configuration for the event emitter
type Config struct {
	ChainID         domain.Chain
	StartBlock      uint64
	CursorSaveFreq  uint64        // Save cursor every N blocks
	CursorSaveDelay time.Duration // Or save cursor every N seconds
}

// Emitter defines the interface for the event emitter
type Emitter interface {
	// Run starts the event emitter
	Run(ctx context.Context) error
	// Close closes the emitter and cleans up resources
	Close()
}

// emitter follows chain events and publishes them to NATS
type emitter struct {
	subscriber messaging.Subscriber
	publisher  messaging.Publisher
	cursors    store.CursorStore
	config     Config
	clock      adapter.Clock
}

// NewEmitter creates a new event emitter
func NewEmitter(
	sub messaging.Subscriber,
	pub messaging.Publisher,
	cursors store.CursorStore,
	cfg Config,
	clock adapter.Clock,
) Emitter {
	return &emitter{
		subscriber: sub,
		publisher:  pub,
		cursors:    cursors,
		config:     cfg,
		clock:      clock,
	}
}

// startBlock resolves where to subscribe from: the configured block, the
// block after the saved cursor, or the chain head
func (e *emitter) startBlock(ctx context.Context) (uint64, error) {
	chain := string(e.config.ChainID)

	if e.config.StartBlock > 0 {
		logger.InfoCtx(ctx, "Starting from configured block", zap.String("chain", chain), zap.Uint64("block", e.config.StartBlock))
		return e.config.StartBlock, nil
	}

	lastBlock, err := e.cursors.GetBlockCursor(ctx, chain)
	if err != nil {
		return 0, fmt.Errorf("failed to get block cursor: %w", err)
	}
	if lastBlock > 0 {
		logger.InfoCtx(ctx, "Resuming from last processed block", zap.String("chain", chain), zap.Uint64("block", lastBlock+1))
		return lastBlock + 1, nil
	}

	latestBlock, err := e.subscriber.GetLatestBlock(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block number: %w", err)
	}
	logger.InfoCtx(ctx, "Starting from latest block", zap.String("chain", chain), zap.Uint64("block", latestBlock))
	return latestBlock, nil
}

// Run starts the event emitter
func (e *emitter) Run(ctx context.Context) error {
	startBlock, err := e.startBlock(ctx)
	if err != nil {
		return err
	}

	chain := string(e.config.ChainID)
	errCh := make(chan error, 1)

	go func() {
		logger.InfoCtx(ctx, "Starting event subscription", zap.String("chain", chain))

		// The cursor only ever names a block whose events were all
		// published, i.e. a block before the one currently in flight
		var currentBlock, savedBlock uint64
		lastSaveTime := e.clock.Now()

		handler := func(event *domain.Event) error {
			if err := e.publisher.PublishEvent(ctx, event); err != nil {
				return fmt.Errorf("failed to publish event %s: %w", event.ID(), err)
			}

			if event.BlockNumber <= currentBlock {
				return nil
			}
			completed := event.BlockNumber - 1
			currentBlock = event.BlockNumber

			if completed < startBlock {
				return nil
			}

			shouldSave := completed-savedBlock >= e.config.CursorSaveFreq ||
				e.clock.Since(lastSaveTime) >= e.config.CursorSaveDelay
			if !shouldSave {
				return nil
			}

			if err := e.cursors.SetBlockCursor(ctx, chain, completed); err != nil {
				logger.WarnCtx(ctx, "Failed to save block cursor", zap.Uint64("block", completed), zap.Error(err))
				return nil
			}
			savedBlock = completed
			lastSaveTime = e.clock.Now()

			return nil
		}

		errCh <- e.subscriber.SubscribeEvents(ctx, startBlock, handler)
	}()

	select {
	case err := <-errCh:
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the emitter and cleans up resources
func (e *emitter) Close() {
	e.subscriber.Close()
}
