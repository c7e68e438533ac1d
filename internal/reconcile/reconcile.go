// Package reconcile audits cached wallet totals, escrow coverage and budget
// bounds against the ledger. It reports drift and never corrects it.
package reconcile

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agentpay/agentpay/internal/errs"
	"github.com/agentpay/agentpay/internal/ledger"
	"github.com/agentpay/agentpay/internal/model"
	"github.com/agentpay/agentpay/internal/store"
)

// Drift kinds.
const (
	DriftBalance        = "wallet_balance"
	DriftReserved       = "wallet_reserved"
	DriftReservedBounds = "reserved_bounds"
	DriftEscrowCoverage = "escrow_coverage"
	DriftBudgetBounds   = "budget_bounds"
)

// Drift is one mismatch between a cached value and what the ledger implies.
type Drift struct {
	Kind     string          `json:"kind"`
	Subject  string          `json:"subject"`
	Expected decimal.Decimal `json:"expected"`
	Actual   decimal.Decimal `json:"actual"`
}

// Report summarizes one reconciliation pass.
type Report struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Wallets   int           `json:"wallets"`
	Escrows   int           `json:"escrows"`
	Budgets   int           `json:"budgets"`
	Drifts    []Drift       `json:"drifts"`
}

// Clean reports whether the pass found nothing.
func (r Report) Clean() bool { return len(r.Drifts) == 0 }

// Reconciler runs reconciliation passes.
type Reconciler struct {
	store  store.Store
	ledger *ledger.Ledger
	logger *slog.Logger
	now    func() time.Time
}

// New builds a Reconciler.
func New(led *ledger.Ledger, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:  led.Store(),
		ledger: led,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run performs one pass and logs every drift at error level.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	report := Report{StartedAt: r.now()}

	var wallets []model.Wallet
	if err := r.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		wallets, err = tx.Wallets().List(ctx)
		return err
	}); err != nil {
		return Report{}, err
	}
	for _, w := range wallets {
		drifts, err := r.checkWallet(ctx, w.ID)
		if err != nil {
			return Report{}, err
		}
		report.Drifts = append(report.Drifts, drifts...)
	}
	report.Wallets = len(wallets)

	escrows, drifts, err := r.checkEscrows(ctx)
	if err != nil {
		return Report{}, err
	}
	report.Escrows = escrows
	report.Drifts = append(report.Drifts, drifts...)

	budgets, drifts, err := r.checkBudgets(ctx, report.StartedAt)
	if err != nil {
		return Report{}, err
	}
	report.Budgets = budgets
	report.Drifts = append(report.Drifts, drifts...)

	report.Duration = r.now().Sub(report.StartedAt)
	for _, d := range report.Drifts {
		r.logger.Error("ledger drift",
			slog.String("kind", d.Kind),
			slog.String("subject", d.Subject),
			slog.String("expected", d.Expected.String()),
			slog.String("actual", d.Actual.String()),
			slog.String("severity", string(errs.SeverityCritical)),
		)
	}
	r.logger.Info("reconciliation finished",
		slog.Int("wallets", report.Wallets),
		slog.Int("escrows", report.Escrows),
		slog.Int("budgets", report.Budgets),
		slog.Int("drifts", len(report.Drifts)),
		slog.Duration("duration", report.Duration),
	)
	return report, nil
}

// Loop runs a pass every interval until ctx ends. Failed passes are logged
// and retried on the next tick.
func (r *Reconciler) Loop(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if _, err := r.Run(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("reconciliation failed", slog.Any("error", err))
		}
	}
}

// checkWallet compares the cached totals with the settled entries while the
// wallet row is locked, so no writer can sit between the two reads.
func (r *Reconciler) checkWallet(ctx context.Context, walletID string) ([]Drift, error) {
	var drifts []Drift
	err := r.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		w, err := tx.Wallets().GetForUpdate(ctx, walletID)
		if err != nil {
			return err
		}
		totals, err := tx.Transactions().SettledTotals(ctx, walletID)
		if err != nil {
			return err
		}
		if !totals.Balance().Equal(w.Balance) {
			drifts = append(drifts, Drift{Kind: DriftBalance, Subject: w.ID, Expected: totals.Balance(), Actual: w.Balance})
		}
		if !totals.Reserved().Equal(w.Reserved) {
			drifts = append(drifts, Drift{Kind: DriftReserved, Subject: w.ID, Expected: totals.Reserved(), Actual: w.Reserved})
		}
		if w.Balance.IsNegative() || w.Reserved.IsNegative() || w.Reserved.GreaterThan(w.Balance) {
			drifts = append(drifts, Drift{Kind: DriftReservedBounds, Subject: w.ID, Expected: w.Balance, Actual: w.Reserved})
		}
		return nil
	})
	return drifts, err
}

// checkEscrows verifies that each source wallet reserves at least the sum of
// its HELD escrows.
func (r *Reconciler) checkEscrows(ctx context.Context) (int, []Drift, error) {
	var (
		count  int
		drifts []Drift
	)
	err := r.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		held, err := tx.Escrows().ListByStatus(ctx, model.EscrowHeld)
		if err != nil {
			return err
		}
		bySource := make(map[string][]string)
		for _, e := range held {
			bySource[e.SourceWalletID] = append(bySource[e.SourceWalletID], e.ID)
		}
		ids := make([]string, 0, len(bySource))
		for id := range bySource {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		wallets, err := r.ledger.LockWalletsTx(ctx, tx, ids...)
		if err != nil {
			return err
		}
		for _, walletID := range ids {
			covered := decimal.Zero
			for _, escrowID := range bySource[walletID] {
				// Re-read under the wallet lock; a release may have committed
				// since the listing.
				e, err := tx.Escrows().Get(ctx, escrowID)
				if err != nil {
					return err
				}
				if e.Status != model.EscrowHeld {
					continue
				}
				count++
				covered = covered.Add(e.Amount)
			}
			if w := wallets[walletID]; w.Reserved.LessThan(covered) {
				drifts = append(drifts, Drift{Kind: DriftEscrowCoverage, Subject: walletID, Expected: covered, Actual: w.Reserved})
			}
		}
		return nil
	})
	return count, drifts, err
}

func (r *Reconciler) checkBudgets(ctx context.Context, at time.Time) (int, []Drift, error) {
	start, _ := model.PeriodBounds(at)
	var (
		count  int
		drifts []Drift
	)
	err := r.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		budgets, err := tx.Budgets().ListForPeriod(ctx, start)
		if err != nil {
			return err
		}
		count = len(budgets)
		for _, b := range budgets {
			if b.Remaining.IsNegative() || b.Remaining.GreaterThan(b.MonthlyLimit) {
				drifts = append(drifts, Drift{Kind: DriftBudgetBounds, Subject: b.ID, Expected: b.MonthlyLimit, Actual: b.Remaining})
			}
		}
		return nil
	})
	return count, drifts, err
}
