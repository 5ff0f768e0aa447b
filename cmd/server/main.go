// Package main runs the storefront API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	app "github.com/beatforge/storefront/internal/app"
	"github.com/beatforge/storefront/internal/app/auth"
	"github.com/beatforge/storefront/internal/app/httpapi"
	"github.com/beatforge/storefront/internal/config"
	"github.com/beatforge/storefront/internal/mediastore"
	"github.com/beatforge/storefront/internal/middleware"
	"github.com/beatforge/storefront/internal/payments"
	"github.com/beatforge/storefront/internal/app/storage/postgres"
	"github.com/beatforge/storefront/internal/platform/database"
	"github.com/beatforge/storefront/internal/platform/migrations"
	"github.com/beatforge/storefront/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}).WithField("service", "storefront")

	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("server exited")
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores := app.Stores{}
	if cfg.Database.DSN != "" {
		db, err := database.Open(ctx, cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		if err := migrations.Apply(ctx, db); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		pg := postgres.New(db)
		stores = app.Stores{Accounts: pg, Beats: pg, Orders: pg, Grants: pg, Stats: pg}
		log.Info("using postgres storage")
	} else {
		log.Warn("DATABASE_URL not set; using in-memory storage")
	}

	gateway := payments.NewHTTPGateway(payments.Config{
		BaseURL: cfg.Payments.BaseURL,
		APIKey:  cfg.Payments.APIKey,
		Timeout: cfg.Payments.Timeout,
	}, log)

	tokens := auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	signer := mediastore.NewSigner(cfg.Media.BaseURL, cfg.Media.SigningSecret, cfg.Media.URLTTL)

	application, err := app.New(stores, app.Options{
		Tokens:        tokens,
		Gateway:       gateway,
		Signer:        signer,
		SuccessURL:    cfg.Payments.SuccessURL,
		CancelURL:     cfg.Payments.CancelURL,
		WebhookSecret: cfg.Payments.WebhookSecret,
	}, log)
	if err != nil {
		return err
	}

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start application: %w", err)
	}

	authn := middleware.NewAuthenticator(tokens, log)
	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log)
	limiter.StartCleanup(ctx, time.Hour)
	handler := httpapi.NewHandler(application, authn, limiter, log)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("storefront listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("application shutdown")
	}
	return nil
}
