// Package app wires the storefront services together and manages their
// lifecycle.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/beatforge/storefront/internal/app/auth"
	"github.com/beatforge/storefront/internal/app/services/accounts"
	catalogsvc "github.com/beatforge/storefront/internal/app/services/catalog"
	checkoutsvc "github.com/beatforge/storefront/internal/app/services/checkout"
	downloadssvc "github.com/beatforge/storefront/internal/app/services/downloads"
	orderssvc "github.com/beatforge/storefront/internal/app/services/orders"
	"github.com/beatforge/storefront/internal/app/storage"
	"github.com/beatforge/storefront/internal/app/storage/memory"
	"github.com/beatforge/storefront/internal/app/system"
	"github.com/beatforge/storefront/internal/mediastore"
	"github.com/beatforge/storefront/internal/payments"
	"github.com/beatforge/storefront/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Accounts storage.AccountStore
	Beats    storage.BeatStore
	Orders   storage.OrderStore
	Grants   storage.GrantStore
	Stats    storage.StatsStore
}

// Options carries the external collaborators the services need.
type Options struct {
	Tokens         *auth.Manager
	Gateway        payments.Gateway
	Signer         *mediastore.Signer
	SuccessURL     string
	CancelURL      string
	WebhookSecret  string
	PendingTimeout time.Duration
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	WebhookSecret string

	Accounts  *accounts.Service
	Catalog   *catalogsvc.Service
	Checkout  *checkoutsvc.Service
	Orders    *orderssvc.Service
	Downloads *downloadssvc.Service
	Stats     storage.StatsStore
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if opts.Gateway == nil {
		return nil, fmt.Errorf("payments gateway is required")
	}
	if opts.Tokens == nil {
		return nil, fmt.Errorf("token manager is required")
	}
	if opts.Signer == nil {
		return nil, fmt.Errorf("media signer is required")
	}

	mem := memory.New()
	if stores.Accounts == nil {
		stores.Accounts = mem
	}
	if stores.Beats == nil {
		stores.Beats = mem
	}
	if stores.Orders == nil {
		stores.Orders = mem
	}
	if stores.Grants == nil {
		stores.Grants = mem
	}
	if stores.Stats == nil {
		stores.Stats = mem
	}

	manager := system.NewManager()

	acctService := accounts.New(stores.Accounts, opts.Tokens, log)
	catalogService := catalogsvc.New(stores.Beats, log)
	checkoutService := checkoutsvc.New(stores.Beats, opts.Gateway, opts.SuccessURL, opts.CancelURL, log)
	orderService := orderssvc.New(stores.Orders, log)
	downloadService := downloadssvc.New(stores.Grants, stores.Beats, opts.Signer, log)
	orderService.AttachIssuer(downloadService)

	for _, name := range []string{"accounts", "catalog", "checkout"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}
	sweeper := orderssvc.NewSweeper(stores.Orders, stores.Grants, opts.PendingTimeout, log)
	if err := manager.Register(sweeper); err != nil {
		return nil, fmt.Errorf("register %s: %w", sweeper.Name(), err)
	}

	return &Application{
		manager:       manager,
		log:           log,
		WebhookSecret: opts.WebhookSecret,
		Accounts:      acctService,
		Catalog:       catalogService,
		Checkout:      checkoutService,
		Orders:        orderService,
		Downloads:     downloadService,
		Stats:         stores.Stats,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
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
