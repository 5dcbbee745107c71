// voidd is the enclave-side wallet daemon. It serves the REST API, ingests
// deposit webhooks, and keeps the on-chain state root commitment alive.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/voidwallet/voidd/internal/app"
	"github.com/voidwallet/voidd/internal/app/httpapi"
	"github.com/voidwallet/voidd/internal/app/storage"
	"github.com/voidwallet/voidd/internal/chain"
	"github.com/voidwallet/voidd/internal/config"
	"github.com/voidwallet/voidd/internal/kvstore"
	"github.com/voidwallet/voidd/internal/middleware"
	"github.com/voidwallet/voidd/pkg/logger"
)

func main() {
	var (
		addr     = flag.String("addr", "", "listen address (overrides LISTEN_ADDR)")
		dbPath   = flag.String("db", "", "database path (overrides DB_PATH)")
		logLevel = flag.String("log-level", "", "log level (overrides LOG_LEVEL)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault("voidd").WithError(err).Error("invalid configuration")
		os.Exit(1)
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	log := logger.New("voidd", cfg.LogLevel)

	if cfg.RPCURL == "" || cfg.TEESignerKey == "" {
		log.Error("RPC_URL and TEE_SIGNER_KEY are required, refusing to run without a chain connection")
		os.Exit(1)
	}

	signer, err := chain.NewSigner(cfg.TEESignerKey)
	if err != nil {
		log.WithError(err).Error("load signer key")
		os.Exit(1)
	}
	log.WithField("address", signer.Address().Hex()).Info("enclave signer loaded")

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 30*time.Second)
	client, err := chain.Dial(dialCtx, cfg.RPCURL, common.HexToAddress(cfg.ContractAddress), signer, log.WithField("component", "chain"))
	dialCancel()
	if err != nil {
		log.WithError(err).Error("connect to chain RPC")
		os.Exit(1)
	}
	defer client.Close()

	db, err := kvstore.OpenLevelDB(cfg.DBPath)
	if err != nil {
		log.WithError(err).WithField("path", cfg.DBPath).Error("open database")
		os.Exit(1)
	}
	defer db.Close()

	application, err := app.New(cfg, db, client, log)
	if err != nil {
		log.WithError(err).Error("build application")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx, cfg.ContractAddress); err != nil {
		log.WithError(err).Error("start application")
		os.Exit(1)
	}

	handler := httpapi.New(
		application.Auth,
		application.Secrets,
		application.Ledger,
		application.Bridge,
		signer.Address().Hex(),
		log.WithField("component", "httpapi"),
	)
	router := handler.Router(httpapi.Middlewares{
		Auth:        middleware.NewAuthMiddleware(application.Auth, log.WithField("component", "auth-mw")),
		BalanceGate: middleware.NewSecretGate(application.Secrets, storage.SecretBalance),
		TxGate:      middleware.NewSecretGate(application.Secrets, storage.SecretTransaction),
		CORS:        middleware.NewCORSMiddleware(nil),
		RateLimit:   middleware.NewRateLimiter(20, 40, log.WithField("component", "ratelimit")),
	})

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("wallet API listening")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.WithError(err).Error("server error")
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Error("application stop")
	}

	log.Info("voidd stopped")
}
