package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/feral-file/ff-marketplace-indexer/internal/domain"
	"github.com/feral-file/ff-marketplace-indexer/internal/logger"
	"github.com/feral-file/ff-marketplace-indexer/internal/messaging"
)

// Config holds the configuration for Ethereum subscription
type Config struct {
	WebSocketURL string       // WebSocket URL (e.g., wss://mainnet.infura.io/ws/v3/YOUR_PROJECT_ID)
	ChainID      domain.Chain // e.g., "eip155:1" for Ethereum mainnet

	// Contracts are the marketplace and collection contracts to follow.
	// An empty list follows every contract emitting a known event.
	Contracts []string
}

type ethSubscriber struct {
	client    MarketplaceClient
	chainID   domain.Chain
	addresses []common.Address
}

// NewSubscriber creates a new Ethereum event subscriber
func NewSubscriber(cfg Config, client MarketplaceClient) (messaging.Subscriber, error) {
	addresses := make([]common.Address, 0, len(cfg.Contracts))
	for _, c := range cfg.Contracts {
		if !common.IsHexAddress(c) {
			return nil, fmt.Errorf("invalid contract address: %q", c)
		}
		addresses = append(addresses, common.HexToAddress(c))
	}

	return &ethSubscriber{
		client:    client,
		chainID:   cfg.ChainID,
		addresses: addresses,
	}, nil
}

func (s *ethSubscriber) query(fromBlock *big.Int) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: fromBlock,
		Addresses: s.addresses,
		Topics:    [][]common.Hash{EventSignatures()},
	}
}

// SubscribeEvents backfills every log from fromBlock up to the current head in
// (block, log index) order, then follows new logs as they arrive
func (s *ethSubscriber) SubscribeEvents(ctx context.Context, fromBlock uint64, handler messaging.EventHandler) error {
	// Subscribe before backfilling so no block falls between the two
	logs := make(chan types.Log, 256)
	sub, err := s.client.SubscribeFilterLogs(ctx, s.query(nil), logs)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrSubscriptionFailed, err)
	}
	defer func() {
		logger.InfoCtx(ctx, "Unsubscribing from ethereum events logs")
		sub.Unsubscribe()
	}()

	head, err := s.GetLatestBlock(ctx)
	if err != nil {
		return err
	}

	if fromBlock <= head {
		logger.InfoCtx(ctx, "Backfilling ethereum events",
			zap.String("chain", string(s.chainID)),
			zap.Uint64("fromBlock", fromBlock),
			zap.Uint64("toBlock", head))

		query := s.query(new(big.Int).SetUint64(fromBlock))
		query.ToBlock = new(big.Int).SetUint64(head)

		history, err := s.client.FilterLogs(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to backfill logs: %w", err)
		}
		SortLogs(history)

		for _, vLog := range history {
			if err := s.dispatch(ctx, vLog, handler); err != nil {
				return err
			}
		}
	}

	logger.InfoCtx(ctx, "Following ethereum events", zap.String("chain", string(s.chainID)), zap.Uint64("afterBlock", head))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return fmt.Errorf("%w: %w", domain.ErrSubscriptionFailed, err)
		case vLog := <-logs:
			// Already delivered by the backfill
			if vLog.BlockNumber <= head || vLog.BlockNumber < fromBlock {
				continue
			}
			if err := s.dispatch(ctx, vLog, handler); err != nil {
				return err
			}
		}
	}
}

// dispatch parses a log and hands the event to the handler. Unparseable logs
// are logged and skipped; handler errors stop the subscription.
func (s *ethSubscriber) dispatch(ctx context.Context, vLog types.Log, handler messaging.EventHandler) error {
	if vLog.Removed {
		logger.WarnCtx(ctx, "Skipping removed log",
			zap.String("txHash", vLog.TxHash.Hex()),
			zap.Uint("logIndex", vLog.Index))
		return nil
	}

	event, err := s.client.ParseEventLog(ctx, vLog)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		logger.ErrorCtx(ctx, err, zap.String("message", "Error parsing log"),
			zap.String("txHash", vLog.TxHash.Hex()),
			zap.Uint("logIndex", vLog.Index))
		return nil
	}
	if event == nil {
		return nil
	}

	if err := handler(event); err != nil {
		return fmt.Errorf("failed to handle event %s: %w", event.ID(), err)
	}
	return nil
}

// SortLogs orders logs by block number, then log index
func SortLogs(logs []types.Log) {
	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})
}

// GetLatestBlock returns the latest block number
func (s *ethSubscriber) GetLatestBlock(ctx context.Context) (uint64, error) {
	header, err := s.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block: %w", err)
	}
	return header.Number.Uint64(), nil
}

// Close closes the connection
func (s *ethSubscriber) Close() {
	if s.client == nil {
		return
	}

	s.client.Close()
	logger.Info("Ethereum WebSocket connection closed")
}
