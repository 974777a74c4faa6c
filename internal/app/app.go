package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adwave/pointpay/internal/config"
	"github.com/adwave/pointpay/internal/feecalc"
	"github.com/adwave/pointpay/internal/feecalc/taxclient"
	"github.com/adwave/pointpay/internal/gateway"
	"github.com/adwave/pointpay/internal/httpclient"
	"github.com/adwave/pointpay/internal/logger"
	"github.com/adwave/pointpay/internal/notifier"
	"github.com/adwave/pointpay/internal/reconciler"
	"github.com/adwave/pointpay/internal/server"
	"github.com/adwave/pointpay/internal/server/router"
	"github.com/adwave/pointpay/internal/settlement"
	"github.com/adwave/pointpay/internal/storage"
	"github.com/adwave/pointpay/internal/storage/inmemory"
	"github.com/adwave/pointpay/internal/storage/pgstorage"
	"github.com/adwave/pointpay/internal/verification"
)

type Application struct {
	log        *slog.Logger
	server     *server.Server
	reconciler *reconciler.Reconciler
	store      storage.Storage
}

func New() (*Application, error) {
	cfg, err := config.NewConfig()
	if err != nil {
		return nil, fmt.Errorf("config.NewConfig: %w", err)
	}

	logLevel, err := logger.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger.ParseLogLevel: %w", err)
	}

	logg := logger.NewLogger(
		logger.WithLevel(logLevel),
		logger.WithFormat(logger.LogFormatJSON),
		logger.WithAddSource(false),
	)

	store, err := newStorage(cfg)
	if err != nil {
		return nil, err
	}

	calc := feecalc.New(
		feecalc.WithLogger(logg),
		feecalc.WithTaxClient(taxclient.New(
			taxclient.WithLogger(logg),
			taxclient.WithClient(httpclient.New(httpclient.WithBaseURL(cfg.TaxServiceURI))),
		)),
	)

	gw := gateway.New(
		gateway.WithLogger(logg),
		gateway.WithClient(httpclient.New(
			httpclient.WithBaseURL(cfg.GatewayURI),
			httpclient.WithTimeout(cfg.GatewayTimeout),
			httpclient.WithRetryCount(0),
		)),
		gateway.WithAPIKey(cfg.GatewayAPIKey),
	)

	verifier := verification.New(
		verification.WithLogger(logg),
		verification.WithClient(httpclient.New(httpclient.WithBaseURL(cfg.VerificationURI))),
	)

	settlerOpts := []settlement.Option{
		settlement.WithLogger(logg),
	}

	if cfg.NotificationURI != "" {
		settlerOpts = append(settlerOpts, settlement.WithNotifier(notifier.New(
			notifier.WithLogger(logg),
			notifier.WithClient(httpclient.New(httpclient.WithBaseURL(cfg.NotificationURI))),
		)))
	}

	settler := settlement.New(store, calc, gw, verifier, settlerOpts...)

	srv := server.NewServer(
		router.NewRouter(settler, store,
			router.WithLogger(logg),
			router.WithSecret([]byte(cfg.JWTSecretKey)),
		),
		server.WithServerAddr(cfg.ServerAddr),
		server.WithLogger(logg),
	)

	rec := reconciler.New(store, settler,
		reconciler.WithLogger(logg),
		reconciler.WithInterval(cfg.ReconcileInterval),
		reconciler.WithGrace(cfg.ReconcileGrace),
	)

	return &Application{
		log:        logg,
		server:     srv,
		reconciler: rec,
		store:      store,
	}, nil
}

func newStorage(cfg config.Config) (storage.Storage, error) {
	if cfg.DatabaseURI == "" {
		return storage.NewStorage(inmemory.NewStorage()), nil
	}

	pgstore, err := pgstorage.NewStorage(cfg.DatabaseURI)
	if err != nil {
		return nil, fmt.Errorf("pgstorage.NewStorage: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := pgstore.Bootstrap(ctx); err != nil {
		return nil, fmt.Errorf("pgstore.Bootstrap: %w", err)
	}

	return storage.NewStorage(pgstore), nil
}

func (a *Application) Run() error {
	errChan := make(chan error, 1)

	go func() {
		if err := a.server.Start(); err != nil {
			errChan <- fmt.Errorf("server.Start: %w", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := a.reconciler.Run(ctx); err != nil {
			errChan <- fmt.Errorf("reconciler.Run: %w", err)
		}
	}()

	// Graceful shutdown handler
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case err := <-errChan:
			return err

		case <-quit:
			a.log.Info("Gracefully shutting down application...")

			cancel()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()

			if err := a.server.Shutdown(shutdownCtx); err != nil {
				a.log.Error("server.Shutdown", slog.Any("error", err))
			}

			if err := a.store.Close(); err != nil {
				a.log.Error("store.Close", slog.Any("error", err))
			}

			return nil
		}
	}
}
