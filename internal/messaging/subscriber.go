package messaging

import (
	"context"

	"github.com/feral-file/ff-marketplace-indexer/internal/domain"
)

// EventHandler is called for every decoded event, in chain order
type EventHandler func(event *domain.Event) error

// Subscriber defines the interface for following chain events
//
//go:generate mockgen -source=subscriber.go -destination=../mocks/subscriber.go -package=mocks -mock_names=Subscriber=MockSubscriber
type Subscriber interface {
	// SubscribeEvents delivers every event from fromBlock onwards to handler.
	// It returns when ctx is done, the subscription breaks or handler fails.
	SubscribeEvents(ctx context.Context, fromBlock uint64, handler EventHandler) error

	// GetLatestBlock returns the latest block number
	GetLatestBlock(ctx context.Context) (uint64, error)

	// Close closes the connection and cleans up resources
	Close()
}
