package block

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/feral-file/ff-marketplace-indexer/internal/adapter"
	"github.com/feral-file/ff-marketplace-indexer/internal/logger"
)

// DefaultMaxTimestamps bounds the timestamp cache when Config.MaxTimestamps is zero
const DefaultMaxTimestamps = 10_000

// head is the cached chain head
type head struct {
	number    uint64
	fetchedAt time.Time
}

// BlockProvider provides cached access to the chain head and to block
// timestamps. Events carry only a block number; every decoded log needs the
// block's timestamp, and a backfill hits the same block many times.
//
//go:generate mockgen -source=block.go -destination=../mocks/block_provider.go -package=mocks -mock_names=BlockProvider=MockBlockProvider,BlockFetcher=MockBlockFetcher
type BlockProvider interface {
	// GetLatestBlock returns the latest block number, potentially from cache
	GetLatestBlock(ctx context.Context) (uint64, error)

	// GetBlockTimestamp returns the timestamp for a given block number, potentially from cache
	GetBlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error)
}

// BlockFetcher is the interface for fetching block information from the blockchain
type BlockFetcher interface {
	// FetchLatestBlock fetches the latest block from the blockchain
	FetchLatestBlock(ctx context.Context) (uint64, error)

	// FetchBlockTimestamp fetches the timestamp for a given block number
	FetchBlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error)
}

// Config holds configuration for the BlockProvider
type Config struct {
	// TTL is how long to cache the head block number
	TTL time.Duration

	// StaleWindow is how long a cached head may still be served when fetching fails
	StaleWindow time.Duration

	// MaxTimestamps caps the number of cached block timestamps. The oldest
	// inserted entries are evicted first.
	MaxTimestamps int
}

type blockProvider struct {
	fetcher BlockFetcher
	config  Config
	clock   adapter.Clock

	mu         sync.RWMutex
	head       *head
	timestamps map[uint64]time.Time
	order      []uint64 // insertion order of timestamps, for eviction
}

// NewBlockProvider creates a new BlockProvider with caching
func NewBlockProvider(fetcher BlockFetcher, config Config, clock adapter.Clock) BlockProvider {
	if config.MaxTimestamps <= 0 {
		config.MaxTimestamps = DefaultMaxTimestamps
	}
	return &blockProvider{
		fetcher:    fetcher,
		config:     config,
		clock:      clock,
		timestamps: make(map[uint64]time.Time),
	}
}

// GetLatestBlock returns the latest block number, using cache if valid
func (p *blockProvider) GetLatestBlock(ctx context.Context) (uint64, error) {
	p.mu.RLock()
	cached := p.head
	p.mu.RUnlock()

	now := p.clock.Now()

	if cached != nil && now.Sub(cached.fetchedAt) < p.config.TTL {
		logger.DebugCtx(ctx, "Using cached block number", zap.Uint64("block_number", cached.number))
		return cached.number, nil
	}

	blockNumber, err := p.fetcher.FetchLatestBlock(ctx)
	if err != nil {
		if cached != nil && now.Sub(cached.fetchedAt) < p.config.StaleWindow {
			logger.WarnCtx(ctx, "Using stale block number",
				zap.Uint64("block_number", cached.number),
				zap.Error(err))
			return cached.number, nil
		}
		return 0, fmt.Errorf("failed to fetch latest block and no valid cache available: %w", err)
	}

	p.mu.Lock()
	p.head = &head{number: blockNumber, fetchedAt: now}
	p.mu.Unlock()

	return blockNumber, nil
}

// GetBlockTimestamp returns the timestamp of a block. Timestamps of
// confirmed blocks never change, so cached entries never expire.
func (p *blockProvider) GetBlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error) {
	p.mu.RLock()
	ts, ok := p.timestamps[blockNumber]
	p.mu.RUnlock()
	if ok {
		return ts, nil
	}

	logger.DebugCtx(ctx, "Fetching block timestamp", zap.Uint64("block_number", blockNumber))
	ts, err := p.fetcher.FetchBlockTimestamp(ctx, blockNumber)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to fetch block timestamp for block %d: %w", blockNumber, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.timestamps[blockNumber]; !ok {
		p.timestamps[blockNumber] = ts
		p.order = append(p.order, blockNumber)
		for len(p.order) > p.config.MaxTimestamps {
			delete(p.timestamps, p.order[0])
			p.order = p.order[1:]
		}
	}

	return ts, nil
}
