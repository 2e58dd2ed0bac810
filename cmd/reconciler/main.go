package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/landgrid/registry/internal/adapter"
	"github.com/landgrid/registry/internal/config"
	"github.com/landgrid/registry/internal/contentstore"
	"github.com/landgrid/registry/internal/document"
	"github.com/landgrid/registry/internal/domain"
	"github.com/landgrid/registry/internal/headcache"
	"github.com/landgrid/registry/internal/invalidation"
	"github.com/landgrid/registry/internal/logger"
	"github.com/landgrid/registry/internal/messaging"
	"github.com/landgrid/registry/internal/reconcile"
	"github.com/landgrid/registry/internal/registry"
	"github.com/landgrid/registry/internal/store"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger with sentry integration
	err = logger.Initialize(logger.Config{
		Debug:           cfg.Debug,
		SentryDSN:       cfg.Sentry.DSN,
		BreadcrumbLevel: zapcore.InfoLevel,
		Tags: map[string]string{
			"service": "reconciler",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting reconciler")

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to database", zap.Error(err))
	}
	if err := store.ConfigureConnectionPool(db,
		cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime); err != nil {
		logger.FatalCtx(ctx, "Failed to configure connection pool", zap.Error(err))
	}
	if err := store.AutoMigrate(db); err != nil {
		logger.FatalCtx(ctx, "Failed to migrate database", zap.Error(err))
	}
	logger.InfoCtx(ctx, "Connected to database")

	dataStore := store.NewPGStore(db)

	// Initialize adapters
	clockAdapter := adapter.NewClock()
	jsonAdapter := adapter.NewJSON()
	natsJS := adapter.NewNatsJetStream()

	// Initialize ethereum client
	ethDialer := adapter.NewEthClientDialer()
	ethClient, err := ethDialer.Dial(ctx, cfg.Ethereum.RPCURL)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to dial ledger RPC", zap.Error(err), zap.String("rpc_url", cfg.Ethereum.RPCURL))
	}
	defer ethClient.Close()

	chain := domain.Chain(fmt.Sprintf("eip155:%d", cfg.Ethereum.ChainID))
	contract := common.HexToAddress(cfg.Ethereum.ContractAddress)

	// Sanity check: the node must serve the configured chain
	nodeChainID, err := ethClient.ChainID(ctx)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to query chain ID", zap.Error(err))
	}
	if nodeChainID.Cmp(big.NewInt(cfg.Ethereum.ChainID)) != 0 {
		logger.FatalCtx(ctx, "Ledger chain ID mismatch",
			zap.Int64("configured", cfg.Ethereum.ChainID),
			zap.String("node", nodeChainID.String()))
	}

	// Initialize NATS publisher
	publisher, err := messaging.NewPublisher(ctx, messaging.Config{
		URL:            cfg.NATS.URL,
		StreamName:     cfg.NATS.StreamName,
		SubjectPrefix:  cfg.NATS.Subject,
		MaxReconnects:  -1,
		ReconnectWait:  2 * time.Second,
		ConnectionName: "landgrid-reconciler",
	}, natsJS, jsonAdapter)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to create NATS publisher", zap.Error(err), zap.String("url", cfg.NATS.URL))
	}
	defer publisher.Close()
	logger.InfoCtx(ctx, "Connected to NATS JetStream")

	// Initialize cache invalidator; optional, the reconciler runs without it
	var invalidator invalidation.Invalidator
	if cfg.Redis.URL != "" {
		redisClient, err := adapter.NewRedisClient(cfg.Redis.URL)
		if err != nil {
			logger.FatalCtx(ctx, "Failed to create Redis client", zap.Error(err))
		}
		defer func() { _ = redisClient.Close() }()
		if err := redisClient.Ping(ctx); err != nil {
			logger.FatalCtx(ctx, "Failed to ping Redis", zap.Error(err))
		}
		invalidator = invalidation.NewRedisInvalidator(
			invalidation.Config{Channel: cfg.Redis.Channel}, redisClient, clockAdapter)
		logger.InfoCtx(ctx, "Connected to Redis")
	}

	// Build the reconciliation engine
	source := registry.NewEventSource(ethClient, chain, contract)
	heads := headcache.NewProvider(
		headcache.NewEthFetcher(ethClient),
		headcache.Config{TTL: 5 * time.Second, StaleWindow: time.Minute},
		clockAdapter,
	)
	projector := reconcile.NewProjector(dataStore)
	engine := reconcile.NewEngine(reconcile.Config{
		Chain:        chain,
		Contract:     contract.Hex(),
		StartBlock:   cfg.Ethereum.StartBlock,
		PollInterval: cfg.Ethereum.PollInterval,
		BatchWindow:  cfg.Ethereum.BatchWindow,
	}, dataStore, source, projector, heads, publisher, invalidator, clockAdapter)

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	// Push delivery is additive: pushed events land on the same ledger_events
	// rows the polling cycle would create, so losing the subscription is safe
	if cfg.Ethereum.WSURL != "" {
		wsClient, err := ethDialer.Dial(ctx, cfg.Ethereum.WSURL)
		if err != nil {
			logger.FatalCtx(ctx, "Failed to dial ledger websocket", zap.Error(err), zap.String("ws_url", cfg.Ethereum.WSURL))
		}
		defer wsClient.Close()

		push := reconcile.NewPushDelivery(engine, wsClient)
		go func() {
			if err := push.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.ErrorCtx(ctx, err, zap.String("component", "push-delivery"))
			}
		}()
	}

	// Expired grants already deny access; purging them is housekeeping
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				purged, err := dataStore.PurgeExpiredGrants(ctx, clockAdapter.Now())
				if err != nil {
					logger.WarnCtx(ctx, "grant purge failed", zap.Error(err))
				} else if purged > 0 {
					logger.InfoCtx(ctx, "expired grants purged", zap.Int64("count", purged))
				}
			}
		}
	}()

	// Periodically release pins left behind by registrations that never landed
	if cfg.ContentStore.ReapOrphans {
		gateway := contentstore.NewPinataGateway(contentstore.Config{
			APIURL:     cfg.ContentStore.APIURL,
			GatewayURL: cfg.ContentStore.GatewayURL,
			APIKey:     cfg.ContentStore.APIKey,
			APISecret:  cfg.ContentStore.APISecret,
			Timeout:    cfg.ContentStore.Timeout,
		}, adapter.NewHTTPClient(cfg.ContentStore.Timeout))

		var sealer *document.Sealer
		if cfg.Document.EncryptionKey != "" {
			sealer, err = document.NewSealer(cfg.Document.EncryptionKey)
			if err != nil {
				logger.FatalCtx(ctx, "Failed to load document encryption key", zap.Error(err))
			}
		}
		documents := document.NewService(document.Config{
			MaxFileSize:  cfg.Document.MaxFileSize,
			AllowedTypes: cfg.Document.AllowedTypes,
		}, dataStore, gateway, sealer, clockAdapter)

		go func() {
			ticker := time.NewTicker(time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if _, err := documents.ReapOrphans(ctx, clockAdapter.Now().Add(-24*time.Hour)); err != nil {
						logger.WarnCtx(ctx, "orphan reap failed", zap.Error(err))
					}
				}
			}
		}()
	}

	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	case err := <-errCh:
		logger.ErrorCtx(ctx, err, zap.String("component", "reconciler"))
		cancel()
	}

	// Give some time for graceful shutdown
	time.Sleep(time.Second)

	logger.Info("Reconciler stopped")
}
