package app

import (
	"context"
	"fmt"

	"github.com/tradeit-market/tradeit/internal/app/reconcile"
	"github.com/tradeit-market/tradeit/internal/app/services/categories"
	"github.com/tradeit-market/tradeit/internal/app/services/items"
	"github.com/tradeit-market/tradeit/internal/app/services/transactions"
	"github.com/tradeit-market/tradeit/internal/app/system"
	"github.com/tradeit-market/tradeit/internal/treestore"
	"github.com/tradeit-market/tradeit/pkg/logger"
)

// Options tune optional application behaviour.
type Options struct {
	// ReconcileSchedule overrides how often the ledger sweeper runs.
	ReconcileSchedule string
}

// Application ties the marketplace services together and manages their
// lifecycle. A nil store defaults to the in-memory implementation.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Store        treestore.Store
	Categories   *categories.Service
	Items        *items.Service
	Transactions *transactions.Service
	Sweeper      *reconcile.Sweeper
}

// New builds a fully initialised application over the given store.
func New(store treestore.Store, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if store == nil {
		store = treestore.NewMemory()
		log.Warn("no store configured; using in-memory store")
	}

	manager := system.NewManager()

	catService := categories.New(store, log)
	itemService := items.New(store, log)
	txnService := transactions.New(store, itemService, log)
	sweeper := reconcile.NewSweeper(store, opts.ReconcileSchedule, log)

	if err := manager.Register(sweeper); err != nil {
		return nil, fmt.Errorf("register sweeper: %w", err)
	}

	return &Application{
		manager:      manager,
		log:          log,
		Store:        store,
		Categories:   catService,
		Items:        itemService,
		Transactions: txnService,
		Sweeper:      sweeper,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before
// Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
