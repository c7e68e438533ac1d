// Package server assembles the settlement engine: services, HTTP surface and
// the background workers that run beside it.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/agentpay/agentpay/internal/budget"
	"github.com/agentpay/agentpay/internal/config"
	"github.com/agentpay/agentpay/internal/engagement"
	"github.com/agentpay/agentpay/internal/escrow"
	"github.com/agentpay/agentpay/internal/fees"
	"github.com/agentpay/agentpay/internal/funding"
	"github.com/agentpay/agentpay/internal/ledger"
	"github.com/agentpay/agentpay/internal/negotiation"
	"github.com/agentpay/agentpay/internal/notification"
	"github.com/agentpay/agentpay/internal/payments"
	"github.com/agentpay/agentpay/internal/reconcile"
	"github.com/agentpay/agentpay/internal/routes"
	"github.com/agentpay/agentpay/internal/store"
	"github.com/agentpay/agentpay/internal/wallet"
)

const recorderMaxAttempts = 5

// Backends are the infrastructure the engine runs on. Store is required;
// Cache, Queue and Acquirer are optional.
type Backends struct {
	Store    store.Store
	Cache    *redis.Client
	Queue    engagement.Queue
	Acquirer funding.Acquirer
}

// Server wraps the Fiber application and the engine's long-running parts.
type Server struct {
	app        *fiber.App
	cfg        config.Config
	logger     *slog.Logger
	backends   Backends
	recorder   *engagement.Recorder
	reconciler *reconcile.Reconciler
}

// New builds every service on top of b and wires the HTTP routes.
func New(cfg config.Config, b Backends, logger *slog.Logger) (*Server, error) {
	if b.Store == nil {
		return nil, errors.New("store is required")
	}

	schedule := fees.Default(cfg.DefaultFeeBPS)
	if cfg.FeeSchedulePath != "" {
		var err error
		if schedule, err = fees.Load(cfg.FeeSchedulePath, cfg.DefaultFeeBPS); err != nil {
			return nil, fmt.Errorf("load fee schedule: %w", err)
		}
	}

	notifier := notification.Fanout{notification.NewLoggerNotifier(logger)}
	if b.Cache != nil {
		notifier = append(notifier, notification.NewRedisNotifier(b.Cache, ""))
	}

	led := ledger.New(b.Store, logger)
	wallets := wallet.NewService(led, logger, cfg.DefaultCurrency)
	budgets := budget.NewService(led, wallets, logger, cfg.DefaultMonthlyLimit)
	escrows := escrow.NewService(led, wallets, logger)
	recorder := engagement.NewRecorder(b.Store, b.Queue, logger, recorderMaxAttempts)
	negotiations := negotiation.NewService(negotiation.Deps{
		Ledger:   led,
		Wallets:  wallets,
		Budgets:  budgets,
		Escrows:  escrows,
		Fees:     schedule,
		Recorder: recorder,
		Notifier: notifier,
		Logger:   logger,
	})
	pay := payments.NewService(led, wallets, budgets, recorder, notifier, logger)
	fund := funding.NewService(led, b.Acquirer, logger)

	app := fiber.New(fiber.Config{
		AppName:               cfg.AppName,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		ErrorHandler:          ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	routes.Setup(app, routes.Deps{
		Cfg:       cfg,
		Store:     b.Store,
		Cache:     b.Cache,
		Logger:    logger,
		AccessLog: !cfg.IsDevelopment() || cfg.LogLevel == "debug",
		Handlers: routes.Handlers{
			Wallets:      wallet.NewHandler(wallets),
			Budgets:      budget.NewHandler(budgets),
			Escrows:      escrow.NewHandler(escrows),
			Negotiations: negotiation.NewHandler(negotiations),
			Payments:     payments.NewHandler(pay),
			Funding:      funding.NewHandler(fund),
		},
	})

	return &Server{
		app:        app,
		cfg:        cfg,
		logger:     logger,
		backends:   b,
		recorder:   recorder,
		reconciler: reconcile.New(led, logger),
	}, nil
}

// App exposes the Fiber application, mostly for app.Test.
func (s *Server) App() *fiber.App { return s.app }

// Reconciler exposes the ledger auditor.
func (s *Server) Reconciler() *reconcile.Reconciler { return s.reconciler }

// Run serves HTTP and runs the engagement workers and the reconciliation
// loop until ctx ends or one of them fails, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("http server listening", slog.String("addr", s.cfg.Address()))
		return s.app.Listen(s.cfg.Address())
	})
	g.Go(func() error {
		// A stopped recorder is logged; the API keeps serving.
		if err := ignoreCancel(s.recorder.Run(gctx, s.cfg.MetricsWorkers)); err != nil {
			s.logger.Error("engagement workers stopped", slog.Any("error", err))
		}
		return nil
	})
	g.Go(func() error {
		return ignoreCancel(s.reconciler.Loop(gctx, s.cfg.ReconcileInterval))
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownPeriod)
		defer cancel()
		s.logger.Info("shutting down", slog.Duration("timeout", s.cfg.ShutdownPeriod))
		return s.app.ShutdownWithContext(shutdownCtx)
	})

	err := g.Wait()
	s.backends.Close(s.logger)
	return err
}

// Close releases every backend that is set. The queue goes first so no
// worker writes to a closed store.
func (b Backends) Close(logger *slog.Logger) {
	if b.Queue != nil {
		if err := b.Queue.Close(); err != nil {
			logger.Warn("close metrics queue", slog.Any("error", err))
		}
	}
	if b.Cache != nil {
		if err := b.Cache.Close(); err != nil {
			logger.Warn("close redis", slog.Any("error", err))
		}
	}
	if b.Store != nil {
		b.Store.Close()
	}
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
