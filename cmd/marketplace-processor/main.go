package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/feral-file/ff-marketplace-indexer/internal/adapter"
	"github.com/feral-file/ff-marketplace-indexer/internal/block"
	"github.com/feral-file/ff-marketplace-indexer/internal/config"
	"github.com/feral-file/ff-marketplace-indexer/internal/handler"
	"github.com/feral-file/ff-marketplace-indexer/internal/logger"
	"github.com/feral-file/ff-marketplace-indexer/internal/metadata"
	"github.com/feral-file/ff-marketplace-indexer/internal/processor"
	"github.com/feral-file/ff-marketplace-indexer/internal/providers/ethereum"
	"github.com/feral-file/ff-marketplace-indexer/internal/providers/jetstream"
	"github.com/feral-file/ff-marketplace-indexer/internal/store"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

func main() {
	flag.Parse()

	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadProcessorConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger with sentry integration
	err = logger.Initialize(logger.Config{
		Debug:           cfg.Debug,
		SentryDSN:       cfg.SentryDSN,
		BreadcrumbLevel: zapcore.InfoLevel,
		Tags: map[string]string{
			"service": "marketplace-processor",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting Marketplace Processor")

	dataStore := openStore(ctx, cfg)

	// Initialize adapters
	clockAdapter := adapter.NewClock()
	jsonAdapter := adapter.NewJSON()
	natsJS := adapter.NewNatsJetStream()
	httpClient := adapter.NewHTTPClient(cfg.Metadata.HTTPTimeout, cfg.Metadata.MaxElapsedTime)

	// Contract reads are optional; without an RPC endpoint minted tokens keep
	// the URI from the event and collections get empty names
	var contractReader ethereum.MarketplaceClient
	if cfg.Ethereum.RPCURL != "" {
		ethClient, err := adapter.NewEthClientDialer().Dial(ctx, cfg.Ethereum.RPCURL)
		if err != nil {
			logger.FatalCtx(ctx, "Failed to dial Ethereum RPC", zap.Error(err), zap.String("rpc_url", cfg.Ethereum.RPCURL))
		}
		defer ethClient.Close()

		blockProvider := block.NewBlockProvider(
			ethereum.NewEthereumBlockFetcher(ethClient),
			block.Config{TTL: 12 * time.Second, StaleWindow: time.Minute},
			clockAdapter,
		)
		contractReader = ethereum.NewClient(cfg.Ethereum.ChainID, ethClient, clockAdapter, blockProvider)
		logger.InfoCtx(ctx, "Connected to Ethereum RPC")
	}

	resolver := metadata.NewResolver(contractReader, httpClient, adapter.NewBase64(), metadata.Config{
		FetchRemote:     cfg.Metadata.FetchRemote,
		IPFSGateways:    cfg.Metadata.IPFSGateways,
		ArweaveGateways: cfg.Metadata.ArweaveGateways,
	})
	engine := handler.NewEngine(dataStore, jsonAdapter, resolver, contractReader)

	eventProcessor, err := processor.NewProcessor(ctx, processor.Config{
		Stream: jetstream.Config{
			URL:             cfg.NATS.URL,
			StreamName:      cfg.NATS.StreamName,
			MaxReconnects:   cfg.NATS.MaxReconnects,
			ReconnectWait:   cfg.NATS.ReconnectWait,
			ConnectionName:  cfg.NATS.ConnectionName,
			DuplicateWindow: cfg.NATS.DuplicateWindow,
		},
		ConsumerName:         cfg.NATS.ConsumerName,
		AckWaitTimeout:       cfg.NATS.AckWait,
		MaxDeliver:           cfg.NATS.MaxDeliver,
		RetryInitialInterval: cfg.NATS.RetryInitialInterval,
		RetryMaxElapsed:      cfg.NATS.RetryMaxElapsed,
	}, natsJS, engine, jsonAdapter)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to create event processor", zap.Error(err), zap.String("url", cfg.NATS.URL))
	}
	defer eventProcessor.Close()
	logger.InfoCtx(ctx, "Connected to NATS JetStream")

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := eventProcessor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	case err := <-errCh:
		logger.ErrorCtx(ctx, err, zap.String("component", "processor"))
		cancel()
	}

	// Give some time for the in-flight event to settle
	time.Sleep(time.Second)

	logger.Info("Marketplace Processor stopped")
}

// openStore returns the entity store selected by store.backend
func openStore(ctx context.Context, cfg *config.ProcessorConfig) store.Store {
	if cfg.Store.Backend == config.StoreBackendMemory {
		logger.WarnCtx(ctx, "Using in-memory store, entities are lost on restart")
		return store.NewMemoryStore()
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to database", zap.Error(err), zap.String("host", cfg.Database.Host))
	}
	if err := store.ConfigureConnectionPool(db,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
		cfg.Database.ConnMaxLifetime,
		cfg.Database.ConnMaxIdleTime); err != nil {
		logger.FatalCtx(ctx, "Failed to configure connection pool", zap.Error(err))
	}
	if err := store.Migrate(db); err != nil {
		logger.FatalCtx(ctx, "Failed to migrate database", zap.Error(err))
	}
	logger.InfoCtx(ctx, "Connected to database")

	return store.NewPGStore(db)
}
