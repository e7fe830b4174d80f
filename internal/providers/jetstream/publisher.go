package jetstream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/feral-file/ff-marketplace-indexer/internal/adapter"
	"github.com/feral-file/ff-marketplace-indexer/internal/domain"
	"github.com/feral-file/ff-marketplace-indexer/internal/logger"
	"github.com/feral-file/ff-marketplace-indexer/internal/messaging"
)

// SubjectPrefix is the first token of every event subject
const SubjectPrefix = "marketplace"

// SubjectFilter matches every event subject
const SubjectFilter = SubjectPrefix + ".>"

// Subject returns `marketplace.{chain-slug}.{kind}`, e.g. marketplace.eip155-1.listed
func Subject(chain domain.Chain, kind domain.EventKind) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, chain.Slug(), kind)
}

// Config holds the configuration for NATS JetStream connection
type Config struct {
	URL            string
	StreamName     string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectionName string

	// DuplicateWindow is how long JetStream remembers message ids. Events are
	// published with their `{txHash}-{logIndex}` id, so an emitter that resumes
	// from an older cursor does not enqueue the same event twice.
	DuplicateWindow time.Duration
}

// ConnectOptions returns the NATS connection options shared by publishers and consumers
func ConnectOptions(cfg Config, closed chan<- struct{}) []nats.Option {
	return []nats.Option{
		nats.Name(cfg.ConnectionName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Error(err, zap.String("message", "Disconnected from NATS"))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
			if closed != nil {
				close(closed)
			}
		}),
	}
}

// StreamConfig is the stream every event subject is stored in
func StreamConfig(cfg Config) jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:       cfg.StreamName,
		Subjects:   []string{SubjectFilter},
		Retention:  jetstream.LimitsPolicy,
		Storage:    jetstream.FileStorage,
		Duplicates: cfg.DuplicateWindow,
	}
}

type publisher struct {
	nc         adapter.NatsConn
	js         adapter.JetStream
	streamName string
	json       adapter.JSON

	closed    chan struct{}
	closeOnce sync.Once
}

// NewPublisher connects to NATS and makes sure the event stream exists
func NewPublisher(ctx context.Context, cfg Config, natsJS adapter.NatsJetStream, jsonAdapter adapter.JSON) (messaging.Publisher, error) {
	closed := make(chan struct{})

	nc, js, err := natsJS.Connect(cfg.URL, ConnectOptions(cfg, closed)...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS and create JetStream: %w", err)
	}

	if err := js.CreateOrUpdateStream(ctx, StreamConfig(cfg)); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create/update stream %s: %w", cfg.StreamName, err)
	}

	return &publisher{
		nc:         nc,
		js:         js,
		streamName: cfg.StreamName,
		json:       jsonAdapter,
		closed:     closed,
	}, nil
}

// PublishEvent publishes an event to NATS JetStream
func (p *publisher) PublishEvent(ctx context.Context, event *domain.Event) error {
	data, err := p.json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	subject := Subject(event.Chain, event.Kind)

	logger.DebugCtx(ctx, "Publishing event",
		zap.String("subject", subject),
		zap.String("id", event.ID()),
		zap.Uint64("block", event.BlockNumber))

	ack, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(event.ID()))
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	if ack != nil && ack.Duplicate {
		logger.DebugCtx(ctx, "Event already in stream", zap.String("id", event.ID()))
	}

	return nil
}

// CloseChan is closed once the underlying connection is closed
func (p *publisher) CloseChan() <-chan struct{} {
	return p.closed
}

// Close closes the NATS connection
func (p *publisher) Close() {
	p.closeOnce.Do(func() {
		if p.nc == nil {
			return
		}
		p.nc.Close()
	})
}
