package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentpay/agentpay/internal/infra"
	"github.com/agentpay/agentpay/internal/store"
)

func newMigrateCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending PostgreSQL migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("migrate needs DATABASE_URL or --database-url")
			}
			pool, err := infra.NewPostgresPool(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := store.Migrate(cmd.Context(), pool)
			if err != nil {
				return err
			}
			for _, v := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", v)
			}
			logger.Info("migrations complete", "applied", len(applied))
			return nil
		},
	}
}
