package wallet

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agentpay/agentpay/internal/errs"
	"github.com/agentpay/agentpay/internal/ledger"
	"github.com/agentpay/agentpay/internal/model"
	"github.com/agentpay/agentpay/internal/money"
	"github.com/agentpay/agentpay/internal/store"
)

const defaultListLimit = 50

// Service provisions wallets and reads their state. Money movement goes
// through the ledger.
type Service struct {
	store    store.Store
	logger   *slog.Logger
	currency string
}

// NewService builds a wallet service instance. currency is used for wallets
// created without an explicit currency.
func NewService(led *ledger.Ledger, logger *slog.Logger, currency string) *Service {
	if currency == "" {
		currency = "USD"
	}
	return &Service{store: led.Store(), logger: logger, currency: strings.ToUpper(currency)}
}

// Owner identifies the party a wallet belongs to.
type Owner struct {
	Type     model.OwnerType
	ID       string
	Currency string
}

// Snapshot is a wallet with its derived spendable amount.
type Snapshot struct {
	model.Wallet
	Spendable decimal.Decimal
}

// Limits are the per-wallet spend controls. Nil leaves a field unchanged.
type Limits struct {
	SpendCeiling         *decimal.Decimal
	AutoApproveThreshold *decimal.Decimal
}

// EnsureTx returns the owner's wallet, creating it when missing.
func (s *Service) EnsureTx(ctx context.Context, tx store.Tx, owner Owner) (model.Wallet, error) {
	if !owner.Type.Valid() {
		return model.Wallet{}, errs.Newf(errs.CodeInvalidArgument, "unknown owner type %q", owner.Type)
	}
	if strings.TrimSpace(owner.ID) == "" {
		return model.Wallet{}, errs.New(errs.CodeInvalidArgument, "owner id is required")
	}
	w, err := tx.Wallets().GetByOwner(ctx, owner.Type, owner.ID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return model.Wallet{}, err
	}

	currency := strings.ToUpper(owner.Currency)
	if currency == "" {
		currency = s.currency
	}
	now := time.Now().UTC()
	return tx.Wallets().CreateIfAbsent(ctx, model.Wallet{
		ID:        uuid.NewString(),
		OwnerType: owner.Type,
		OwnerID:   owner.ID,
		Currency:  currency,
		Balance:   decimal.Zero,
		Reserved:  decimal.Zero,
		Status:    model.WalletActive,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// Ensure is EnsureTx in its own unit of work.
func (s *Service) Ensure(ctx context.Context, owner Owner) (model.Wallet, error) {
	var out model.Wallet
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = s.EnsureTx(ctx, tx, owner)
		return err
	})
	return out, err
}

// AgentTx returns the agent's wallet, creating it when missing.
func (s *Service) AgentTx(ctx context.Context, tx store.Tx, agentID string) (model.Wallet, error) {
	return s.EnsureTx(ctx, tx, Owner{Type: model.OwnerAgent, ID: agentID})
}

// PlatformTx returns the platform fee wallet.
func (s *Service) PlatformTx(ctx context.Context, tx store.Tx) (model.Wallet, error) {
	return s.EnsureTx(ctx, tx, Owner{Type: model.OwnerPlatform, ID: model.PlatformOwnerID})
}

// Get retrieves a wallet.
func (s *Service) Get(ctx context.Context, id string) (model.Wallet, error) {
	var out model.Wallet
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.Wallets().Get(ctx, id)
		return err
	})
	return out, err
}

// Snapshot returns the wallet together with its spendable balance.
func (s *Service) Snapshot(ctx context.Context, id string) (Snapshot, error) {
	w, err := s.Get(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Wallet: w, Spendable: w.Spendable()}, nil
}

// SetStatus suspends, reactivates or closes a wallet. CLOSED is terminal.
func (s *Service) SetStatus(ctx context.Context, id string, status model.WalletStatus) (model.Wallet, error) {
	if !status.Valid() {
		return model.Wallet{}, errs.Newf(errs.CodeInvalidArgument, "unknown wallet status %q", status)
	}
	var out model.Wallet
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		w, err := tx.Wallets().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if w.Status == status {
			out = w
			return nil
		}
		if w.Status == model.WalletClosed {
			return errs.Newf(errs.CodeInvalidTransition, "wallet %s is closed", id)
		}
		if w.OwnerType == model.OwnerPlatform && status != model.WalletActive {
			return errs.New(errs.CodeInvalidArgument, "platform wallet must stay active")
		}
		w.Status = status
		out, err = tx.Wallets().Update(ctx, w)
		return err
	})
	if err == nil {
		s.logger.Info("wallet status changed", slog.String("wallet_id", id), slog.String("status", string(status)))
	}
	return out, err
}

// SetLimitsTx updates the wallet's spend ceiling and auto-approve threshold.
// A zero value clears the control.
func (s *Service) SetLimitsTx(ctx context.Context, tx store.Tx, id string, limits Limits) (model.Wallet, error) {
	w, err := tx.Wallets().GetForUpdate(ctx, id)
	if err != nil {
		return model.Wallet{}, err
	}
	if limits.SpendCeiling == nil && limits.AutoApproveThreshold == nil {
		return w, nil
	}
	if limits.SpendCeiling != nil {
		if w.SpendCeiling, err = limitValue(*limits.SpendCeiling, w.Currency); err != nil {
			return model.Wallet{}, err
		}
	}
	if limits.AutoApproveThreshold != nil {
		if w.AutoApproveThreshold, err = limitValue(*limits.AutoApproveThreshold, w.Currency); err != nil {
			return model.Wallet{}, err
		}
	}
	return tx.Wallets().Update(ctx, w)
}

func limitValue(v decimal.Decimal, currency string) (*decimal.Decimal, error) {
	if err := money.Validate(v, currency); err != nil {
		return nil, err
	}
	if v.IsZero() {
		return nil, nil
	}
	return &v, nil
}

// ListTransactions returns the wallet's ledger entries, newest first.
func (s *Service) ListTransactions(ctx context.Context, id string, limit int) ([]model.Transaction, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var out []model.Transaction
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.Wallets().Get(ctx, id); err != nil {
			return err
		}
		var err error
		out, err = tx.Transactions().ListByWallet(ctx, id, limit)
		return err
	})
	return out, err
}
