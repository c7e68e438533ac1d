package cli

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agentpay/agentpay/internal/config"
	"github.com/agentpay/agentpay/internal/infra"
	"github.com/agentpay/agentpay/internal/server"
)

func newServeCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the engagement workers and periodic reconciliation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, flags)
		},
	}
}

func runServe(cmd *cobra.Command, flags *rootFlags) error {
	cfg, logger, err := flags.load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	srv, err := server.New(cfg, b, logger)
	if err != nil {
		b.Close(logger)
		return err
	}

	logger.Info("agentpay starting",
		slog.String("metrics_queue", cfg.MetricsQueue),
		slog.Bool("redis", b.Cache != nil),
		slog.Bool("postgres", cfg.DatabaseURL != ""),
	)
	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("server exited cleanly")
	return nil
}

// openBackends opens the store, Redis and the metrics queue. On failure
// whatever was already opened is closed again.
func openBackends(ctx context.Context, cfg config.Config, logger *slog.Logger) (server.Backends, error) {
	var b server.Backends
	st, err := infra.OpenStore(ctx, cfg, logger)
	if err != nil {
		return b, err
	}
	b.Store = st
	if b.Cache, err = infra.NewRedisClient(ctx, cfg.RedisURL); err != nil {
		b.Close(logger)
		return server.Backends{}, err
	}
	if b.Queue, err = infra.NewMetricsQueue(cfg, b.Cache, logger); err != nil {
		b.Close(logger)
		return server.Backends{}, err
	}
	return b, nil
}
