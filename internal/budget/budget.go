// Package budget enforces per-agent monthly spending envelopes on top of
// wallet holds.
package budget

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agentpay/agentpay/internal/errs"
	"github.com/agentpay/agentpay/internal/ledger"
	"github.com/agentpay/agentpay/internal/model"
	"github.com/agentpay/agentpay/internal/money"
	"github.com/agentpay/agentpay/internal/store"
	"github.com/agentpay/agentpay/internal/wallet"
)

// Request asks for amount to be reserved against an agent's budget.
type Request struct {
	AgentID   string
	Amount    decimal.Decimal
	Reference string
	Metadata  map[string]string
	// Direct marks a payment that bypasses escrow. Budgets in ESCROW mode
	// refuse direct payments.
	Direct bool
}

// Authorization is the outcome of a successful Authorize.
type Authorization struct {
	Budget model.AgentBudget
	Wallet model.Wallet
	Hold   model.Transaction
}

// Update carries a partial change to an agent's spend controls.
type Update struct {
	MonthlyLimit         *decimal.Decimal
	ApprovalMode         *model.ApprovalMode
	SpendCeiling         *decimal.Decimal
	AutoApproveThreshold *decimal.Decimal
}

// View is an agent's current budget together with its wallet.
type View struct {
	Budget model.AgentBudget
	Wallet model.Wallet
}

// Service is the budget enforcer.
type Service struct {
	store        store.Store
	ledger       *ledger.Ledger
	wallets      *wallet.Service
	logger       *slog.Logger
	defaultLimit decimal.Decimal
	now          func() time.Time
}

// NewService constructs a budget enforcer. New budgets start with
// defaultLimit in AUTO mode.
func NewService(led *ledger.Ledger, wallets *wallet.Service, logger *slog.Logger, defaultLimit decimal.Decimal) *Service {
	return &Service{
		store:        led.Store(),
		ledger:       led,
		wallets:      wallets,
		logger:       logger,
		defaultLimit: defaultLimit,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source used for period boundaries.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// CurrentTx returns the agent's budget for the current period, locked for
// the rest of the unit of work. A missing period row is created from the
// latest expired period's settings, or from the defaults.
func (s *Service) CurrentTx(ctx context.Context, tx store.Tx, agentID string) (model.AgentBudget, model.Wallet, error) {
	w, err := s.wallets.AgentTx(ctx, tx, agentID)
	if err != nil {
		return model.AgentBudget{}, model.Wallet{}, err
	}
	start, next := model.PeriodBounds(s.now())

	b, err := tx.Budgets().GetForPeriod(ctx, agentID, start)
	if err == nil {
		return b, w, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return model.AgentBudget{}, model.Wallet{}, err
	}

	limit, mode := s.defaultLimit, model.ApprovalAuto
	prev, err := tx.Budgets().Latest(ctx, agentID)
	switch {
	case err == nil:
		limit, mode = prev.MonthlyLimit, prev.ApprovalMode
	case !errors.Is(err, errs.ErrNotFound):
		return model.AgentBudget{}, model.Wallet{}, err
	}

	now := s.now()
	if err := tx.Budgets().InsertIfAbsent(ctx, model.AgentBudget{
		ID:           uuid.NewString(),
		AgentID:      agentID,
		WalletID:     w.ID,
		MonthlyLimit: limit,
		Remaining:    limit,
		ApprovalMode: mode,
		PeriodStart:  start,
		ResetsOn:     next,
		CreatedAt:    now,
		UpdatedAt:    now,
	}); err != nil {
		return model.AgentBudget{}, model.Wallet{}, err
	}
	s.logger.Debug("budget period opened", slog.String("agent_id", agentID), slog.Time("period_start", start))

	b, err = tx.Budgets().GetForPeriod(ctx, agentID, start)
	if err != nil {
		return model.AgentBudget{}, model.Wallet{}, err
	}
	return b, w, nil
}

// AuthorizeTx checks the agent's envelope, decrements it and places a hold on
// the agent's wallet. Both changes belong to tx, so a failed hold leaves the
// budget untouched.
func (s *Service) AuthorizeTx(ctx context.Context, tx store.Tx, req Request) (Authorization, error) {
	b, w, err := s.CurrentTx(ctx, tx, req.AgentID)
	if err != nil {
		return Authorization{}, err
	}
	if err := money.ValidatePositive(req.Amount, w.Currency); err != nil {
		return Authorization{}, err
	}

	switch b.ApprovalMode {
	case model.ApprovalManual:
		if w.AutoApproveThreshold == nil || req.Amount.GreaterThan(*w.AutoApproveThreshold) {
			return Authorization{}, errs.Newf(errs.CodeApprovalRequired, "agent %s requires manual approval for %s", req.AgentID, req.Amount)
		}
	case model.ApprovalEscrow:
		if req.Direct {
			return Authorization{}, errs.Newf(errs.CodeApprovalRequired, "agent %s only pays through escrow", req.AgentID)
		}
	}
	if w.SpendCeiling != nil && req.Amount.GreaterThan(*w.SpendCeiling) {
		return Authorization{}, errs.Newf(errs.CodeApprovalRequired, "%s exceeds spend ceiling %s", req.Amount, *w.SpendCeiling)
	}
	if b.Remaining.LessThan(req.Amount) {
		return Authorization{}, errs.Newf(errs.CodeBudgetExhausted, "agent %s has %s left this period, %s requested", req.AgentID, b.Remaining, req.Amount)
	}

	b.Remaining = b.Remaining.Sub(req.Amount)
	b.UpdatedAt = s.now()
	if err := tx.Budgets().Update(ctx, b); err != nil {
		return Authorization{}, err
	}

	hold, err := s.ledger.HoldTx(ctx, tx, ledger.Entry{
		WalletID:  w.ID,
		Amount:    req.Amount,
		Reference: req.Reference,
		Metadata:  req.Metadata,
	})
	if err != nil {
		return Authorization{}, err
	}
	w, err = tx.Wallets().Get(ctx, w.ID)
	if err != nil {
		return Authorization{}, err
	}
	return Authorization{Budget: b, Wallet: w, Hold: hold}, nil
}

// Authorize is AuthorizeTx in its own unit of work.
func (s *Service) Authorize(ctx context.Context, req Request) (Authorization, error) {
	var out Authorization
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = s.AuthorizeTx(ctx, tx, req)
		return err
	})
	return out, err
}

// Get returns the agent's current budget, opening the period if needed.
func (s *Service) Get(ctx context.Context, agentID string) (View, error) {
	var out View
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		b, w, err := s.CurrentTx(ctx, tx, agentID)
		out = View{Budget: b, Wallet: w}
		return err
	})
	return out, err
}

// Update applies a partial change to the agent's controls. Lowering the
// monthly limit clamps remaining; raising it leaves remaining unchanged until
// the next period.
func (s *Service) Update(ctx context.Context, agentID string, in Update) (View, error) {
	if in.ApprovalMode != nil && !in.ApprovalMode.Valid() {
		return View{}, errs.Newf(errs.CodeInvalidArgument, "unknown approval mode %q", *in.ApprovalMode)
	}
	var out View
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		b, w, err := s.CurrentTx(ctx, tx, agentID)
		if err != nil {
			return err
		}
		if in.MonthlyLimit != nil {
			if err := money.Validate(*in.MonthlyLimit, w.Currency); err != nil {
				return err
			}
			b.MonthlyLimit = *in.MonthlyLimit
			b.Remaining = money.Min(b.Remaining, b.MonthlyLimit)
		}
		if in.ApprovalMode != nil {
			b.ApprovalMode = *in.ApprovalMode
		}
		b.UpdatedAt = s.now()
		if err := tx.Budgets().Update(ctx, b); err != nil {
			return err
		}
		w, err = s.wallets.SetLimitsTx(ctx, tx, w.ID, wallet.Limits{
			SpendCeiling:         in.SpendCeiling,
			AutoApproveThreshold: in.AutoApproveThreshold,
		})
		if err != nil {
			return err
		}
		out = View{Budget: b, Wallet: w}
		return nil
	})
	if err == nil {
		s.logger.Info("budget updated",
			slog.String("agent_id", agentID),
			slog.String("monthly_limit", out.Budget.MonthlyLimit.String()),
			slog.String("approval_mode", string(out.Budget.ApprovalMode)),
		)
	}
	return out, err
}
