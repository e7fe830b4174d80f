package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/feral-file/ff-marketplace-indexer/internal/adapter"
	"github.com/feral-file/ff-marketplace-indexer/internal/domain"
	"github.com/feral-file/ff-marketplace-indexer/internal/handler"
	"github.com/feral-file/ff-marketplace-indexer/internal/logger"
	eventstream "github.com/feral-file/ff-marketplace-indexer/internal/providers/jetstream"
)

// Config holds the configuration for the event processor
type Config struct {
	Stream         eventstream.Config
	ConsumerName   string
	AckWaitTimeout time.Duration
	MaxDeliver     int

	// RetryInitialInterval and RetryMaxElapsed bound the in-process retries of
	// a failing event before it is handed back to JetStream. A zero
	// RetryMaxElapsed disables in-process retries.
	RetryInitialInterval time.Duration
	RetryMaxElapsed      time.Duration
}

// Processor consumes events from JetStream and applies them to the engine
type Processor interface {
	// Run consumes events until ctx is done
	Run(ctx context.Context) error
	// Close closes the processor and cleans up resources
	Close()
}

type processor struct {
	nc     adapter.NatsConn
	js     adapter.JetStream
	engine handler.Engine
	json   adapter.JSON
	config Config
}

// NewProcessor connects to NATS and makes sure the event stream exists
func NewProcessor(
	ctx context.Context,
	cfg Config,
	natsJS adapter.NatsJetStream,
	engine handler.Engine,
	jsonAdapter adapter.JSON,
) (Processor, error) {
	nc, js, err := natsJS.Connect(cfg.Stream.URL, eventstream.ConnectOptions(cfg.Stream, nil)...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS and create JetStream: %w", err)
	}

	if err := js.CreateOrUpdateStream(ctx, eventstream.StreamConfig(cfg.Stream)); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create/update stream %s: %w", cfg.Stream.StreamName, err)
	}

	return &processor{
		nc:     nc,
		js:     js,
		engine: engine,
		json:   jsonAdapter,
		config: cfg,
	}, nil
}

// ConsumerConfig is the durable consumer the processor reads through. A
// single pending acknowledgement keeps delivery in stream order.
func ConsumerConfig(cfg Config) jetstream.ConsumerConfig {
	return jetstream.ConsumerConfig{
		Durable:       cfg.ConsumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       cfg.AckWaitTimeout,
		MaxDeliver:    cfg.MaxDeliver,
		MaxAckPending: 1,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		FilterSubject: eventstream.SubjectFilter,
	}
}

// Run starts consuming
func (p *processor) Run(ctx context.Context) error {
	logger.InfoCtx(ctx, "Starting event processor",
		zap.String("stream", p.config.Stream.StreamName),
		zap.String("consumer", p.config.ConsumerName))

	consumer, err := p.js.CreateOrUpdateConsumer(ctx, p.config.Stream.StreamName, ConsumerConfig(p.config))
	if err != nil {
		return fmt.Errorf("failed to create/update consumer: %w", err)
	}

	info, err := consumer.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get consumer info: %w", err)
	}
	logger.InfoCtx(ctx, "Consumer created/retrieved",
		zap.String("consumer", info.Name),
		zap.Uint64("pending", info.NumPending))

	msgChan := make(chan adapter.Message)
	sub, err := consumer.Consume(func(msg adapter.Message) {
		select {
		case msgChan <- msg:
		case <-ctx.Done():
		}
	}, jetstream.PullMaxMessages(1))
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	defer sub.Stop()

	// Messages are handled inline, one at a time
	for {
		select {
		case <-ctx.Done():
			logger.InfoCtx(ctx, "Shutting down event processor")
			return ctx.Err()
		case <-sub.Closed():
			return fmt.Errorf("%w: consumer closed", domain.ErrSubscriptionFailed)
		case msg := <-msgChan:
			p.handleMessage(ctx, msg)
		}
	}
}

// handleMessage applies one message and settles it:
// malformed data is terminated, duplicates and successes are acknowledged
// and anything else is handed back for redelivery
func (p *processor) handleMessage(ctx context.Context, msg adapter.Message) {
	var delivered uint64
	if md, err := msg.Metadata(); err == nil && md != nil {
		delivered = md.NumDelivered
	}

	var event domain.Event
	if err := p.json.Unmarshal(msg.Data(), &event); err != nil {
		logger.ErrorCtx(ctx, err, zap.String("message", "Failed to unmarshal event, terminating"),
			zap.String("subject", msg.Subject()))
		settle(ctx, msg.Term, "terminate")
		return
	}

	logger.DebugCtx(ctx, "Received event",
		zap.String("kind", string(event.Kind)),
		zap.String("id", event.ID()),
		zap.Uint64("block", event.BlockNumber),
		zap.Uint64("deliveryCount", delivered))

	err := p.apply(ctx, &event)
	switch {
	case err == nil:
		settle(ctx, msg.Ack, "ack")

	case errors.Is(err, domain.ErrDuplicateEvent):
		logger.DebugCtx(ctx, "Event already applied", zap.String("id", event.ID()))
		settle(ctx, msg.Ack, "ack")

	case errors.Is(err, domain.ErrMalformedEvent):
		logger.WarnCtx(ctx, "Rejecting malformed event",
			zap.String("id", event.ID()),
			zap.String("reason", err.Error()))
		settle(ctx, msg.Term, "terminate")

	default:
		logger.ErrorCtx(ctx, err, zap.String("message", "Failed to apply event, requesting redelivery"),
			zap.String("id", event.ID()),
			zap.Uint64("deliveryCount", delivered))
		settle(ctx, msg.Nak, "nak")
	}
}

// apply runs the event through the engine, retrying errors that are neither
// malformed nor duplicate
func (p *processor) apply(ctx context.Context, event *domain.Event) error {
	if p.config.RetryMaxElapsed <= 0 {
		return p.engine.Handle(ctx, event)
	}

	b := backoff.NewExponentialBackOff()
	if p.config.RetryInitialInterval > 0 {
		b.InitialInterval = p.config.RetryInitialInterval
	}
	b.MaxElapsedTime = p.config.RetryMaxElapsed

	operation := func() error {
		err := p.engine.Handle(ctx, event)
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrDuplicateEvent) || errors.Is(err, domain.ErrMalformedEvent) {
			return backoff.Permanent(err)
		}
		logger.WarnCtx(ctx, "Applying event failed, retrying", zap.String("id", event.ID()), zap.Error(err))
		return err
	}

	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}

func settle(ctx context.Context, fn func() error, action string) {
	if err := fn(); err != nil {
		logger.ErrorCtx(ctx, err, zap.String("message", "Failed to "+action+" message"))
	}
}

// Close closes the processor and cleans up resources
func (p *processor) Close() {
	if p.nc == nil {
		return
	}

	p.nc.Close()
}
