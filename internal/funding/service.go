// Package funding moves money between wallets and external cards. Both
// directions are recorded PENDING and finish when the acquirer reports
// settlement.
package funding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agentpay/agentpay/internal/errs"
	"github.com/agentpay/agentpay/internal/ledger"
	"github.com/agentpay/agentpay/internal/model"
	"github.com/agentpay/agentpay/internal/money"
	"github.com/agentpay/agentpay/internal/store"
)

const metaAcquirerReference = "acquirer_reference"

// Service coordinates card top-ups and withdrawals with the ledger.
type Service struct {
	store    store.Store
	ledger   *ledger.Ledger
	acquirer Acquirer
	logger   *slog.Logger
}

// NewService prepares a funding service. A nil acquirer approves everything.
func NewService(led *ledger.Ledger, acquirer Acquirer, logger *slog.Logger) *Service {
	if acquirer == nil {
		acquirer = StaticAcquirer{}
	}
	return &Service{store: led.Store(), ledger: led, acquirer: acquirer, logger: logger}
}

// CardInInput captures the data for a card top-up.
type CardInInput struct {
	WalletID   string
	Amount     decimal.Decimal
	ClientTxID string
	CardNumber string
	Expiry     string
	CVV        string
}

// CardOutInput captures the data for a card withdrawal.
type CardOutInput struct {
	WalletID   string
	Amount     decimal.Decimal
	ClientTxID string
	CardNumber string
}

// FundingResult is the ledger outcome of a card operation or a settlement
// callback.
type FundingResult struct {
	Transaction       model.Transaction
	Wallet            model.Wallet
	AcquirerReference string
	Replayed          bool
}

// CardIn authorizes a top-up with the acquirer and records a PENDING CREDIT.
// The balance only grows when the credit settles. A repeated ClientTxID
// returns the original entry together with errs.ErrDuplicateTransaction.
func (s *Service) CardIn(ctx context.Context, input CardInInput) (FundingResult, error) {
	if err := validateCardNumber(input.CardNumber); err != nil {
		return FundingResult{}, err
	}
	if input.ClientTxID == "" {
		input.ClientTxID = uuid.NewString()
	}
	ref := "card-in:" + input.ClientTxID

	w, prior, err := s.lookup(ctx, input.WalletID, ref, model.TxCredit, input.Amount)
	if err != nil || prior != nil {
		return s.replayed(prior), err
	}

	decision, err := s.acquirer.AuthorizeCardIn(ctx, CardInAuthorization{
		CardNumber: input.CardNumber,
		Expiry:     input.Expiry,
		CVV:        input.CVV,
		Amount:     input.Amount,
		Currency:   w.Currency,
	})
	if err != nil {
		return FundingResult{}, fmt.Errorf("authorize card in: %w", err)
	}
	if decision.Status != DecisionApproved {
		return FundingResult{}, errs.Newf(errs.CodeInvalidArgument, "card top-up %s", decision.Status)
	}

	return s.record(ctx, input.WalletID, ref, model.TxCredit, func(ctx context.Context, tx store.Tx) (model.Transaction, error) {
		return s.ledger.PendingCreditTx(ctx, tx, ledger.Entry{
			WalletID:  input.WalletID,
			Amount:    input.Amount,
			Reference: ref,
			Metadata:  map[string]string{model.MetaKind: "card_in", metaAcquirerReference: decision.Reference},
		})
	})
}

// CardOut reserves the amount and records a PENDING DEBIT covered by the
// reservation, then asks the acquirer to push the payout. Settlement
// consumes the hold; failure releases it.
func (s *Service) CardOut(ctx context.Context, input CardOutInput) (FundingResult, error) {
	if err := validateCardNumber(input.CardNumber); err != nil {
		return FundingResult{}, err
	}
	if input.ClientTxID == "" {
		input.ClientTxID = uuid.NewString()
	}
	ref := "card-out:" + input.ClientTxID

	w, prior, err := s.lookup(ctx, input.WalletID, ref, model.TxDebit, input.Amount)
	if err != nil || prior != nil {
		return s.replayed(prior), err
	}
	if w.Spendable().LessThan(input.Amount) {
		return FundingResult{}, errs.Newf(errs.CodeInsufficientFunds,
			"wallet %s has %s spendable, %s requested", w.ID, w.Spendable(), input.Amount)
	}

	decision, err := s.acquirer.AuthorizeCardOut(ctx, CardOutAuthorization{
		CardNumber: input.CardNumber,
		Amount:     input.Amount,
		Currency:   w.Currency,
	})
	if err != nil {
		return FundingResult{}, fmt.Errorf("authorize card out: %w", err)
	}
	if decision.Status != DecisionApproved {
		return FundingResult{}, errs.Newf(errs.CodeInvalidArgument, "card withdrawal %s", decision.Status)
	}

	return s.record(ctx, input.WalletID, ref, model.TxDebit, func(ctx context.Context, tx store.Tx) (model.Transaction, error) {
		return s.ledger.PendingDebitTx(ctx, tx, ledger.Entry{
			WalletID:  input.WalletID,
			Amount:    input.Amount,
			Reference: ref,
			Metadata:  map[string]string{model.MetaKind: "card_out", metaAcquirerReference: decision.Reference},
		})
	})
}

// Settle applies the acquirer's settlement of a PENDING entry.
func (s *Service) Settle(ctx context.Context, transactionID string) (FundingResult, error) {
	return s.finish(ctx, transactionID, s.ledger.SettleTx)
}

// Fail records that the acquirer could not settle a PENDING entry.
func (s *Service) Fail(ctx context.Context, transactionID string) (FundingResult, error) {
	return s.finish(ctx, transactionID, s.ledger.FailTx)
}

func (s *Service) finish(ctx context.Context, transactionID string, apply func(context.Context, store.Tx, string) (model.Transaction, error)) (FundingResult, error) {
	var out FundingResult
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		t, err := apply(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		w, err := tx.Wallets().Get(ctx, t.WalletID)
		if err != nil {
			return err
		}
		out = FundingResult{Transaction: t, Wallet: w, AcquirerReference: t.Metadata[metaAcquirerReference]}
		return nil
	})
	if err != nil {
		return FundingResult{}, err
	}
	s.logger.Info("funding settled",
		slog.String("transaction_id", out.Transaction.ID),
		slog.String("wallet_id", out.Wallet.ID),
		slog.String("status", string(out.Transaction.Status)),
	)
	return out, nil
}

// lookup validates the request against the wallet and returns the entry a
// previous call with the same reference wrote, if any.
func (s *Service) lookup(ctx context.Context, walletID, ref string, typ model.TransactionType, amount decimal.Decimal) (model.Wallet, *FundingResult, error) {
	var (
		w     model.Wallet
		prior *FundingResult
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		w, err = tx.Wallets().Get(ctx, walletID)
		if err != nil {
			return err
		}
		if err := money.ValidatePositive(amount, w.Currency); err != nil {
			return err
		}
		if !w.Active() {
			return errs.Wrap(errs.CodeWalletUnavailable, errs.ErrWalletClosed, fmt.Sprintf("wallet %s is %s", w.ID, w.Status))
		}
		t, err := tx.Transactions().FindByReference(ctx, walletID, ref, typ)
		if errors.Is(err, errs.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		prior = &FundingResult{Transaction: t, Wallet: w, AcquirerReference: t.Metadata[metaAcquirerReference], Replayed: true}
		return nil
	})
	if err != nil {
		return model.Wallet{}, nil, err
	}
	if prior != nil {
		return w, prior, errs.ErrDuplicateTransaction
	}
	return w, nil, nil
}

func (s *Service) replayed(prior *FundingResult) FundingResult {
	if prior == nil {
		return FundingResult{}
	}
	return *prior
}

// record writes the pending entry. The reference is checked again under the
// wallet lock so two concurrent calls cannot both record it.
func (s *Service) record(ctx context.Context, walletID, ref string, typ model.TransactionType, write func(context.Context, store.Tx) (model.Transaction, error)) (FundingResult, error) {
	var (
		out FundingResult
		dup error
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.Wallets().GetForUpdate(ctx, walletID); err != nil {
			return err
		}
		prior, err := tx.Transactions().FindByReference(ctx, walletID, ref, typ)
		switch {
		case err == nil:
			w, err := tx.Wallets().Get(ctx, walletID)
			if err != nil {
				return err
			}
			out = FundingResult{Transaction: prior, Wallet: w, AcquirerReference: prior.Metadata[metaAcquirerReference], Replayed: true}
			dup = errs.ErrDuplicateTransaction
			return nil
		case !errors.Is(err, errs.ErrNotFound):
			return err
		}

		t, err := write(ctx, tx)
		if err != nil {
			return err
		}
		w, err := tx.Wallets().Get(ctx, t.WalletID)
		if err != nil {
			return err
		}
		out = FundingResult{Transaction: t, Wallet: w, AcquirerReference: t.Metadata[metaAcquirerReference]}
		return nil
	})
	if err != nil {
		return FundingResult{}, err
	}
	if dup != nil {
		return out, dup
	}
	s.logger.Info("funding recorded",
		slog.String("transaction_id", out.Transaction.ID),
		slog.String("wallet_id", out.Wallet.ID),
		slog.String("type", string(out.Transaction.Type)),
		slog.String("amount", out.Transaction.Amount.String()),
	)
	return out, nil
}

func validateCardNumber(card string) error {
	digits := strings.ReplaceAll(card, " ", "")
	if len(digits) < 12 || len(digits) > 19 {
		return errs.New(errs.CodeInvalidArgument, "card number must be between 12 and 19 digits")
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return errs.New(errs.CodeInvalidArgument, "card number must be numeric")
		}
	}
	return nil
}
