package cli

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/agentpay/agentpay/internal/infra"
	"github.com/agentpay/agentpay/internal/ledger"
	"github.com/agentpay/agentpay/internal/reconcile"
)

// ErrDrift is returned by the reconcile command when a pass finds drift, so
// the process exits non-zero.
var ErrDrift = errors.New("ledger drift detected")

func newReconcileCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass and print the report as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			st, err := infra.OpenStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			report, err := reconcile.New(ledger.New(st, logger), logger).Run(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			if !report.Clean() {
				return ErrDrift
			}
			return nil
		},
	}
}
