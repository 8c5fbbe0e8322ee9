package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"treasury/apps/treasury/internal/api"
	"treasury/apps/treasury/internal/bridge"
	"treasury/apps/treasury/internal/config"
	"treasury/apps/treasury/internal/gateway"
	"treasury/apps/treasury/internal/invoices"
	"treasury/apps/treasury/internal/notifier"
	"treasury/apps/treasury/internal/reconcile"
	"treasury/apps/treasury/internal/repository"
	"treasury/apps/treasury/internal/scanner"
	"treasury/apps/treasury/internal/treasury"
)

// scanInterval is how often the background scanner sweeps every chain for
// USDC transfers touching the treasury wallet.
const scanInterval = 2 * time.Minute

func main() {
	// Initialize zap logger
	logger, err := zap.NewProduction()
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	// Load configuration from environment variables
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	logger.Info("Starting treasury daemon with configuration",
		zap.Strings("chains", cfg.ChainKeys()),
		zap.String("wallet", cfg.Wallet.Hex()),
		zap.String("db_url", cfg.DbURL),
		zap.String("kafka_broker", cfg.KafkaBroker),
		zap.String("kafka_topic", cfg.KafkaTopic),
		zap.Int("api_port", cfg.APIPort))

	// Connect to the database
	db, err := sql.Open("postgres", cfg.DbURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := repository.InitMigration(db); err != nil {
		logger.Fatal("Failed to run database migration", zap.Error(err))
	}

	// Repositories
	transactionRepository := repository.NewTransactionRepository(db, logger)
	invoiceRepository := repository.NewInvoiceRepository(db, logger)
	bridgeRepository := repository.NewBridgeRepository(db, logger)
	highWaterMarkRepository := repository.NewHighWaterMarkRepository(db, logger)
	budgetRepository := repository.NewBudgetRepository(db, logger)
	outboxRepository := repository.NewOutboxRepository(db, logger)

	// One RPC connection per configured chain, shared by every service
	gateways := make(map[string]*gateway.Gateway)
	for key, chain := range cfg.Chains {
		g, err := gateway.NewGateway(chain, cfg.PrivateKeyHex, logger)
		if err != nil {
			logger.Fatal("Failed to connect to chain RPC",
				zap.String("chain", key), zap.Error(err))
		}
		gateways[key] = g
	}
	defer func() {
		for _, g := range gateways {
			g.Close()
		}
	}()

	bridgeGateways := make(map[string]bridge.Gateway, len(gateways))
	treasuryGateways := make(map[string]treasury.Gateway, len(gateways))
	scannerGateways := make(map[string]scanner.Gateway, len(gateways))
	reconcileGateways := make(map[string]reconcile.Gateway, len(gateways))
	for key, g := range gateways {
		bridgeGateways[key] = g
		treasuryGateways[key] = g
		scannerGateways[key] = g
		reconcileGateways[key] = g
	}

	// Services
	attestationClient := bridge.NewAttestationClient(cfg.AttestationAPI, logger)
	bridgeService := bridge.NewService(cfg, bridgeGateways, bridgeRepository,
		transactionRepository, attestationClient, outboxRepository, logger)
	treasuryService := treasury.NewService(cfg, treasuryGateways,
		transactionRepository, budgetRepository, outboxRepository, logger)
	invoiceService := invoices.NewService(cfg, invoiceRepository,
		treasuryService, transactionRepository, outboxRepository, logger)
	reconciler := reconcile.NewReconciler(cfg, reconcileGateways,
		transactionRepository, invoiceRepository, cfg.DefaultLookback, logger)
	transferScanner := scanner.NewScanner(scannerGateways,
		highWaterMarkRepository, transactionRepository, cfg.DefaultLookback, logger)

	// Kafka notifier is optional; without a broker events stay in the outbox
	if cfg.KafkaBroker != "" {
		eventNotifier, err := notifier.NewNotifier(cfg.KafkaBroker, cfg.KafkaTopic, logger, outboxRepository)
		if err != nil {
			logger.Fatal("Failed to create Kafka notifier", zap.Error(err))
		}
		defer eventNotifier.Close()
		go eventNotifier.StartPublishing()
	} else {
		logger.Info("KAFKA_BROKER not set, event notifications disabled")
	}

	// REST API
	handler := api.NewHandler(treasuryService, invoiceService, bridgeService,
		reconciler, cfg.Wallet, logger)
	apiServer := api.NewServer(cfg.APIPort, handler, cfg.APIKey, logger)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("API server stopped", zap.Error(err))
		}
	}()

	// Background transfer scanner
	scanCtx, cancelScan := context.WithCancel(context.Background())
	defer cancelScan()
	go runScanner(scanCtx, transferScanner, reconciler, cfg, logger)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	cancelScan()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping API server", zap.Error(err))
	}

	logger.Info("Treasury daemon shutdown complete")
}

// runScanner sweeps all chains immediately, then on a fixed interval.
// Incoming transfers feed the auto-matcher, which settles them against open
// receivable invoices or records them for manual review.
func runScanner(ctx context.Context, s *scanner.Scanner, reconciler *reconcile.Reconciler, cfg *config.Config, logger *zap.Logger) {
	scan := func() {
		results, errs := s.ScanAll(ctx, cfg.Wallet)
		for _, err := range errs {
			logger.Error("Chain scan failed", zap.Error(err))
		}
		for _, result := range results {
			logger.Info("Chain scan complete",
				zap.String("chain", result.Chain),
				zap.Uint64("from_block", result.FromBlock),
				zap.Uint64("to_block", result.ToBlock),
				zap.Int("transfers", len(result.Transfers)),
				zap.Uint64("new_mark", result.NewMark))
			matches, err := reconciler.AutoMatch(ctx, result.Chain, result.Transfers)
			if err != nil {
				logger.Error("Auto-match failed", zap.String("chain", result.Chain), zap.Error(err))
				continue
			}
			for _, match := range matches {
				logger.Info("Incoming transfer processed",
					zap.String("chain", result.Chain),
					zap.String("tx_hash", match.TxHash),
					zap.String("invoice_number", match.InvoiceNumber),
					zap.String("action", match.Action))
			}
		}
	}

	scan()
	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			scan()
		}
	}
}
