// Package cli holds the agentpay command tree.
package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/agentpay/agentpay/internal/config"
	"github.com/agentpay/agentpay/internal/logging"
)

type rootFlags struct {
	port        string
	logLevel    string
	databaseURL string
	redisURL    string
}

// NewRootCommand creates the agentpay command. Running it without a
// subcommand starts the server.
func NewRootCommand(info VersionInfo) *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "agentpay",
		Short:         "Agent-to-agent settlement engine",
		Long:          `agentpay settles payments between autonomous agents: wallets, monthly budgets, escrowed negotiations and engagement metrics.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, flags)
		},
	}

	root.PersistentFlags().StringVar(&flags.port, "port", "", "HTTP port (overrides PORT)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	root.PersistentFlags().StringVar(&flags.databaseURL, "database-url", "", "PostgreSQL URL (overrides DATABASE_URL)")
	root.PersistentFlags().StringVar(&flags.redisURL, "redis-url", "", "Redis URL (overrides REDIS_URL)")

	root.AddCommand(newServeCommand(flags))
	root.AddCommand(newMigrateCommand(flags))
	root.AddCommand(newReconcileCommand(flags))
	root.AddCommand(NewVersionCommand(info))
	return root
}

// load reads the environment and applies flag overrides. Overrides are
// applied before validation so --database-url can satisfy production checks.
func (f *rootFlags) load() (config.Config, *slog.Logger, error) {
	overrides := map[string]string{
		"PORT":         f.port,
		"LOG_LEVEL":    f.logLevel,
		"DATABASE_URL": f.databaseURL,
		"REDIS_URL":    f.redisURL,
	}
	cfg, err := config.LoadWith(overrides)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := logging.NewWithOptions(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Attrs: []slog.Attr{
			slog.String("app", cfg.AppName),
			slog.String("env", cfg.AppEnv),
		},
	})
	return cfg, logger, nil
}
