// Package app wires stores and services into one application context.
package app

import (
	"context"
	"fmt"

	authsvc "github.com/voidwallet/voidd/internal/app/services/auth"
	bridgesvc "github.com/voidwallet/voidd/internal/app/services/bridge"
	ledgersvc "github.com/voidwallet/voidd/internal/app/services/ledger"
	secretssvc "github.com/voidwallet/voidd/internal/app/services/secrets"
	"github.com/voidwallet/voidd/internal/app/storage/kv"
	"github.com/voidwallet/voidd/internal/app/system"
	"github.com/voidwallet/voidd/internal/config"
	"github.com/voidwallet/voidd/internal/kvstore"
	"github.com/voidwallet/voidd/pkg/logger"
)

// Application ties domain services together and manages their lifecycle.
// The enclave signer and the database handle live here, never in package
// globals.
type Application struct {
	manager *system.Manager
	db      kvstore.Store
	log     *logger.Logger

	Auth    *authsvc.Service
	Secrets *secretssvc.Service
	Ledger  *ledgersvc.Service
	Bridge  *bridgesvc.Service
}

// New builds a fully initialised application on top of the given database
// and chain client. A nil db falls back to the in-memory store.
func New(cfg *config.Config, db kvstore.Store, chainClient bridgesvc.ChainClient, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if db == nil {
		db = kvstore.NewMemory()
	}

	store := kv.New(db)

	ledger, err := ledgersvc.New(db, store, cfg.ContractAddress, log.WithField("component", "ledger"))
	if err != nil {
		return nil, fmt.Errorf("init ledger: %w", err)
	}
	secrets := secretssvc.New(store, log.WithField("component", "secrets"))
	auth := authsvc.New(cfg.JWTSecret, cfg.SessionExpiry, log.WithField("component", "auth"))
	bridge := bridgesvc.New(
		chainClient, ledger, secrets, store, store,
		cfg.ContractAddress, cfg.AlchemySigningKey,
		log.WithField("component", "bridge"),
	)

	manager := system.NewManager()
	if err := manager.Register(bridgesvc.NewCommitter(bridge, cfg.CommitInterval, log.WithField("component", "committer"))); err != nil {
		return nil, err
	}
	if err := manager.Register(bridgesvc.NewPendingWorker(bridge, cfg.PendingRetryInterval, log.WithField("component", "pending-deposits"))); err != nil {
		return nil, err
	}

	return &Application{
		manager: manager,
		db:      db,
		log:     log,
		Auth:    auth,
		Secrets: secrets,
		Ledger:  ledger,
		Bridge:  bridge,
	}, nil
}

// Start seeds the contract sentinel secrets and launches the background
// services.
func (a *Application) Start(ctx context.Context, contract string) error {
	if err := a.Secrets.SeedSentinel(ctx, contract); err != nil {
		return fmt.Errorf("seed sentinel secrets: %w", err)
	}
	return a.manager.Start(ctx)
}

// Stop shuts the background services down in reverse order.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
