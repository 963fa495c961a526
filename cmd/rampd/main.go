package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/velora/ramp-backend/internal/alert"
	"github.com/velora/ramp-backend/internal/config"
	"github.com/velora/ramp-backend/internal/payment"
	"github.com/velora/ramp-backend/internal/ramp"
	"github.com/velora/ramp-backend/internal/receipt"
	"github.com/velora/ramp-backend/internal/server"
	"github.com/velora/ramp-backend/internal/settlement"
	"github.com/velora/ramp-backend/internal/storage"
)

func main() {
	// Setup logger
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(log)

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found")
	}

	// Load config
	cfg := config.Load()

	if cfg.PaymentSecret == "" && !cfg.AllowDevBypass {
		log.Error("PAYMENT_SECRET is required (or PAYMENT_ALLOW_DEV_BYPASS for local development)")
		os.Exit(1)
	}
	if cfg.AllowDevBypass {
		log.Warn("payment signature dev bypass is ENABLED; never run this in production")
	}

	// Initialize storage
	store, err := storage.New(cfg.DBPath)
	if err != nil {
		log.Error("init storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	log.Info("storage initialized", "path", cfg.DBPath)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Select settlement backend. Degraded modes are opt-in flags, never an
	// implicit consequence of missing environment variables.
	var settler settlement.Backend
	if cfg.ChainConfigured() {
		chainBackend, err := settlement.NewChainBackend(ctx, cfg.RPCURL, cfg.OperatorPrivateKey, cfg.USDCAddress, cfg.VaultAddress, cfg.USDCDecimals, log)
		if err != nil {
			log.Error("init chain settlement", "error", err)
			os.Exit(1)
		}
		settler = chainBackend
		log.Info("chain settlement initialized",
			"rpc", cfg.RPCURL,
			"token", cfg.USDCAddress,
			"decimals", cfg.USDCDecimals,
			"vault", cfg.VaultAddress != "",
		)
	} else if cfg.AllowMockSettle {
		settler = settlement.NewMockBackend(cfg.USDCDecimals, log)
		log.Warn("mock settlement enabled; transfers will NOT touch a chain")
	} else {
		log.Error("chain settlement not configured; set OG_RPC_URL, OPERATOR_PRIVATE_KEY and USDC_ADDRESS, or opt in with ALLOW_MOCK_SETTLEMENT=true")
		os.Exit(1)
	}

	// Select receipt backend with the same opt-in rule.
	var receipts receipt.Backend
	if cfg.StorageConfigured() {
		receipts = receipt.NewRemoteBackend(cfg.StorageURL, cfg.StorageAPIKey, log)
		log.Info("receipt storage initialized", "url", cfg.StorageURL)
	} else if cfg.AllowLocalCIDs {
		receipts = receipt.NewLocalBackend(log)
		log.Warn("local receipt fallback enabled; receipts will NOT be uploaded")
	} else {
		log.Error("receipt storage not configured; set OG_STORAGE_URL and OG_STORAGE_API_KEY, or opt in with ALLOW_LOCAL_RECEIPTS=true")
		os.Exit(1)
	}

	// Optional operator alerts
	var alerts ramp.Alerter
	if cfg.AlertsConfigured() {
		notifier, err := alert.New(cfg.BotToken, cfg.OpsChatID, log)
		if err != nil {
			log.Error("init alert notifier", "error", err)
			os.Exit(1)
		}
		alerts = notifier
		log.Info("ops alerts initialized", "chat_id", cfg.OpsChatID)
	} else {
		log.Info("ops alerts disabled: BOT_TOKEN/OPS_CHAT_ID not set")
	}

	// Wire the core
	payments := payment.NewClient(cfg.PaymentProviderURL, cfg.PaymentAPIKey)
	verifier := payment.NewVerifier(cfg.PaymentSecret, cfg.AllowDevBypass)
	sessions := ramp.NewService(store, payments, log)
	processor := ramp.NewProcessor(store, verifier, settler, receipts, alerts, log)

	// Start reconciliation sweeper
	sweeper := ramp.NewSweeper(store, alerts, log)
	go sweeper.Start(ctx, time.Duration(cfg.SweepIntervalSeconds)*time.Second)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Info("shutting down...")
		cancel()
	}()

	// Serve the API
	srv := server.New(sessions, processor, store, receipts, log)
	if err := srv.Start(ctx, cfg.Port); err != nil && err != http.ErrServerClosed {
		log.Error("api server", "error", err)
		os.Exit(1)
	}
}
