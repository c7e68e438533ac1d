// Package ledger owns every write to wallet balances and the transaction log.
//
// The *Tx methods run inside a caller's unit of work so that budget, escrow
// and negotiation changes commit together with the money they move. The
// unsuffixed methods open their own unit of work.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agentpay/agentpay/internal/errs"
	"github.com/agentpay/agentpay/internal/model"
	"github.com/agentpay/agentpay/internal/money"
	"github.com/agentpay/agentpay/internal/store"
)

// Entry describes one ledger write.
type Entry struct {
	WalletID  string
	Amount    decimal.Decimal
	Reference string
	Metadata  map[string]string
}

// TransferResult captures the outcome of a wallet-to-wallet transfer.
type TransferResult struct {
	Debit       model.Transaction
	Credit      model.Transaction
	Source      model.Wallet
	Destination model.Wallet
}

// Ledger applies entries to wallets.
type Ledger struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
}

// New constructs a Ledger.
func New(st store.Store, logger *slog.Logger) *Ledger {
	return &Ledger{store: st, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Store returns the unit-of-work factory the ledger writes through.
func (l *Ledger) Store() store.Store {
	return l.store
}

// LockWalletsTx locks the given wallets in ascending id order and returns
// them keyed by id. Callers touching more than one wallet lock them all here
// first so concurrent units of work cannot deadlock.
func (l *Ledger) LockWalletsTx(ctx context.Context, tx store.Tx, ids ...string) (map[string]model.Wallet, error) {
	unique := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	sort.Strings(unique)

	out := make(map[string]model.Wallet, len(unique))
	for _, id := range unique {
		w, err := tx.Wallets().GetForUpdate(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = w
	}
	return out, nil
}

// CreditTx increases a wallet's balance with a settled CREDIT.
func (l *Ledger) CreditTx(ctx context.Context, tx store.Tx, e Entry) (model.Transaction, error) {
	w, err := l.lockActive(ctx, tx, e)
	if err != nil {
		return model.Transaction{}, err
	}
	w.Balance = w.Balance.Add(e.Amount)
	return l.write(ctx, tx, w, model.TxCredit, model.TxSettled, e)
}

// PendingCreditTx records an incoming amount that only counts once settled.
func (l *Ledger) PendingCreditTx(ctx context.Context, tx store.Tx, e Entry) (model.Transaction, error) {
	if _, err := l.lockActive(ctx, tx, e); err != nil {
		return model.Transaction{}, err
	}
	return l.insert(ctx, tx, model.TxCredit, model.TxPending, e)
}

// HoldTx reserves part of a wallet's spendable balance.
func (l *Ledger) HoldTx(ctx context.Context, tx store.Tx, e Entry) (model.Transaction, error) {
	w, err := l.lockActive(ctx, tx, e)
	if err != nil {
		return model.Transaction{}, err
	}
	if w.Spendable().LessThan(e.Amount) {
		return model.Transaction{}, errs.Newf(errs.CodeInsufficientFunds,
			"wallet %s has %s spendable, %s requested", w.ID, w.Spendable(), e.Amount)
	}
	w.Reserved = w.Reserved.Add(e.Amount)
	return l.write(ctx, tx, w, model.TxHold, model.TxSettled, e)
}

// ReleaseTx returns a reservation to the spendable balance. Releasing more
// than is reserved is an invariant violation and is never clamped.
func (l *Ledger) ReleaseTx(ctx context.Context, tx store.Tx, e Entry) (model.Transaction, error) {
	w, err := tx.Wallets().GetForUpdate(ctx, e.WalletID)
	if err != nil {
		return model.Transaction{}, err
	}
	if err := money.ValidatePositive(e.Amount, w.Currency); err != nil {
		return model.Transaction{}, err
	}
	if w.Reserved.LessThan(e.Amount) {
		return model.Transaction{}, l.violation(w, "release of %s exceeds reserved %s on wallet %s", e.Amount, w.Reserved, w.ID)
	}
	w.Reserved = w.Reserved.Sub(e.Amount)
	return l.write(ctx, tx, w, model.TxRelease, model.TxSettled, e)
}

// DebitTx removes money from a wallet. With fromHold the amount is taken out
// of an existing reservation; otherwise it must be spendable.
func (l *Ledger) DebitTx(ctx context.Context, tx store.Tx, e Entry, fromHold bool) (model.Transaction, error) {
	w, err := l.lockActive(ctx, tx, e)
	if err != nil {
		return model.Transaction{}, err
	}
	if fromHold {
		if w.Reserved.LessThan(e.Amount) {
			return model.Transaction{}, l.violation(w, "debit of %s from hold exceeds reserved %s on wallet %s", e.Amount, w.Reserved, w.ID)
		}
		w.Reserved = w.Reserved.Sub(e.Amount)
		w, err = tx.Wallets().Update(ctx, w)
		if err != nil {
			return model.Transaction{}, err
		}
		if _, err := l.insert(ctx, tx, model.TxRelease, model.TxSettled, e); err != nil {
			return model.Transaction{}, err
		}
	} else if w.Spendable().LessThan(e.Amount) {
		return model.Transaction{}, errs.Newf(errs.CodeInsufficientFunds,
			"wallet %s has %s spendable, %s requested", w.ID, w.Spendable(), e.Amount)
	}
	w.Balance = w.Balance.Sub(e.Amount)
	return l.write(ctx, tx, w, model.TxDebit, model.TxSettled, e)
}

// PendingDebitTx reserves amount and records a PENDING DEBIT covered by that
// reservation. Settling the debit consumes the hold; failing it releases it.
func (l *Ledger) PendingDebitTx(ctx context.Context, tx store.Tx, e Entry) (model.Transaction, error) {
	hold, err := l.HoldTx(ctx, tx, e)
	if err != nil {
		return model.Transaction{}, err
	}
	debit := e
	debit.Metadata = withMeta(e.Metadata, model.MetaCoveringHold, hold.ID)
	return l.insert(ctx, tx, model.TxDebit, model.TxPending, debit)
}

// TransferTx debits source and credits destination. A non-empty reference
// already used for a debit on source returns the original transfer together
// with errs.ErrDuplicateTransaction.
func (l *Ledger) TransferTx(ctx context.Context, tx store.Tx, sourceID, destID string, amount decimal.Decimal, reference string, fromHold bool) (TransferResult, error) {
	if sourceID == destID {
		return TransferResult{}, errs.New(errs.CodeInvalidArgument, "source and destination wallets must differ")
	}
	wallets, err := l.LockWalletsTx(ctx, tx, sourceID, destID)
	if err != nil {
		return TransferResult{}, err
	}

	if reference != "" {
		existing, err := tx.Transactions().FindByReference(ctx, sourceID, reference, model.TxDebit)
		if err == nil {
			credit, cerr := tx.Transactions().FindByReference(ctx, destID, reference, model.TxCredit)
			if cerr != nil {
				return TransferResult{}, cerr
			}
			return TransferResult{
				Debit:       existing,
				Credit:      credit,
				Source:      wallets[sourceID],
				Destination: wallets[destID],
			}, errs.ErrDuplicateTransaction
		}
		if !errors.Is(err, errs.ErrNotFound) {
			return TransferResult{}, err
		}
	}

	src, dst := wallets[sourceID], wallets[destID]
	if src.Currency != dst.Currency {
		return TransferResult{}, errs.Newf(errs.CodeInvalidArgument, "currency mismatch %s to %s", src.Currency, dst.Currency)
	}

	debit, err := l.DebitTx(ctx, tx, Entry{WalletID: sourceID, Amount: amount, Reference: reference}, fromHold)
	if err != nil {
		return TransferResult{}, err
	}
	credit, err := l.CreditTx(ctx, tx, Entry{WalletID: destID, Amount: amount, Reference: reference})
	if err != nil {
		return TransferResult{}, err
	}

	src, err = tx.Wallets().Get(ctx, sourceID)
	if err != nil {
		return TransferResult{}, err
	}
	dst, err = tx.Wallets().Get(ctx, destID)
	if err != nil {
		return TransferResult{}, err
	}
	return TransferResult{Debit: debit, Credit: credit, Source: src, Destination: dst}, nil
}

// SettleTx moves a PENDING entry to SETTLED and applies its effect. Settling
// an already SETTLED entry is a no-op.
func (l *Ledger) SettleTx(ctx context.Context, tx store.Tx, transactionID string) (model.Transaction, error) {
	t, err := tx.Transactions().GetForUpdate(ctx, transactionID)
	if err != nil {
		return model.Transaction{}, err
	}
	switch t.Status {
	case model.TxSettled:
		return t, nil
	case model.TxPending:
	default:
		return model.Transaction{}, errs.Newf(errs.CodeInvalidTransition, "transaction %s is %s", t.ID, t.Status)
	}

	w, err := tx.Wallets().GetForUpdate(ctx, t.WalletID)
	if err != nil {
		return model.Transaction{}, err
	}
	// Only unwinding reserved funds may land on a wallet that is no longer ACTIVE.
	covered := t.Type == model.TxRelease || (t.Type == model.TxDebit && t.Metadata[model.MetaCoveringHold] != "")
	if !w.Active() && !covered {
		return model.Transaction{}, errs.Wrap(errs.CodeWalletUnavailable, errs.ErrWalletClosed, "wallet "+w.ID+" is "+string(w.Status))
	}
	switch t.Type {
	case model.TxCredit:
		w.Balance = w.Balance.Add(t.Amount)
	case model.TxDebit:
		if holdID := t.Metadata[model.MetaCoveringHold]; holdID != "" {
			if w.Reserved.LessThan(t.Amount) {
				return model.Transaction{}, l.violation(w, "settling debit %s exceeds reserved %s", t.ID, w.Reserved)
			}
			w.Reserved = w.Reserved.Sub(t.Amount)
			if _, err := l.insert(ctx, tx, model.TxRelease, model.TxSettled, Entry{
				WalletID:  w.ID,
				Amount:    t.Amount,
				Reference: t.Reference,
				Metadata:  map[string]string{model.MetaCoveringHold: holdID},
			}); err != nil {
				return model.Transaction{}, err
			}
		} else if w.Spendable().LessThan(t.Amount) {
			return model.Transaction{}, errs.Newf(errs.CodeInsufficientFunds, "wallet %s cannot settle debit %s", w.ID, t.ID)
		}
		w.Balance = w.Balance.Sub(t.Amount)
	case model.TxHold:
		if w.Spendable().LessThan(t.Amount) {
			return model.Transaction{}, errs.Newf(errs.CodeInsufficientFunds, "wallet %s cannot settle hold %s", w.ID, t.ID)
		}
		w.Reserved = w.Reserved.Add(t.Amount)
	case model.TxRelease:
		if w.Reserved.LessThan(t.Amount) {
			return model.Transaction{}, l.violation(w, "settling release %s exceeds reserved %s", t.ID, w.Reserved)
		}
		w.Reserved = w.Reserved.Sub(t.Amount)
	}
	if err := l.checkInvariant(w); err != nil {
		return model.Transaction{}, err
	}
	if _, err := tx.Wallets().Update(ctx, w); err != nil {
		return model.Transaction{}, err
	}

	settledAt := l.now()
	if err := tx.Transactions().UpdateStatus(ctx, t.ID, model.TxSettled, &settledAt); err != nil {
		return model.Transaction{}, err
	}
	t.Status = model.TxSettled
	t.SettledAt = &settledAt
	return t, nil
}

// FailTx moves a PENDING entry to FAILED without applying it.
func (l *Ledger) FailTx(ctx context.Context, tx store.Tx, transactionID string) (model.Transaction, error) {
	return l.abandon(ctx, tx, transactionID, model.TxFailed)
}

// CancelTx moves a PENDING entry to CANCELLED without applying it.
func (l *Ledger) CancelTx(ctx context.Context, tx store.Tx, transactionID string) (model.Transaction, error) {
	return l.abandon(ctx, tx, transactionID, model.TxCancelled)
}

func (l *Ledger) abandon(ctx context.Context, tx store.Tx, transactionID string, status model.TransactionStatus) (model.Transaction, error) {
	t, err := tx.Transactions().GetForUpdate(ctx, transactionID)
	if err != nil {
		return model.Transaction{}, err
	}
	if t.Status == status {
		return t, nil
	}
	if t.Status != model.TxPending {
		return model.Transaction{}, errs.Newf(errs.CodeInvalidTransition, "transaction %s is %s", t.ID, t.Status)
	}
	if t.Type == model.TxDebit && t.Metadata[model.MetaCoveringHold] != "" {
		if _, err := l.ReleaseTx(ctx, tx, Entry{
			WalletID:  t.WalletID,
			Amount:    t.Amount,
			Reference: t.Reference,
			Metadata:  map[string]string{model.MetaCoveringHold: t.Metadata[model.MetaCoveringHold]},
		}); err != nil {
			return model.Transaction{}, err
		}
	}
	if err := tx.Transactions().UpdateStatus(ctx, t.ID, status, nil); err != nil {
		return model.Transaction{}, err
	}
	t.Status = status
	return t, nil
}

// RecordEventTx appends a settlement audit row.
func (l *Ledger) RecordEventTx(ctx context.Context, tx store.Tx, ev model.PaymentEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = l.now()
	}
	return tx.PaymentEvents().Insert(ctx, ev)
}

// Credit is CreditTx in its own unit of work.
func (l *Ledger) Credit(ctx context.Context, e Entry) (model.Transaction, error) {
	var out model.Transaction
	err := l.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = l.CreditTx(ctx, tx, e)
		return err
	})
	return out, err
}

// Hold is HoldTx in its own unit of work.
func (l *Ledger) Hold(ctx context.Context, e Entry) (model.Transaction, error) {
	var out model.Transaction
	err := l.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = l.HoldTx(ctx, tx, e)
		return err
	})
	return out, err
}

// Release is ReleaseTx in its own unit of work.
func (l *Ledger) Release(ctx context.Context, e Entry) (model.Transaction, error) {
	var out model.Transaction
	err := l.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = l.ReleaseTx(ctx, tx, e)
		return err
	})
	return out, err
}

// Transfer is TransferTx in its own unit of work. On a duplicate reference the
// original result is returned with errs.ErrDuplicateTransaction.
func (l *Ledger) Transfer(ctx context.Context, sourceID, destID string, amount decimal.Decimal, reference string) (TransferResult, error) {
	var out TransferResult
	var dup error
	err := l.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		res, err := l.TransferTx(ctx, tx, sourceID, destID, amount, reference, false)
		if errors.Is(err, errs.ErrDuplicateTransaction) {
			out, dup = res, err
			return nil
		}
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return TransferResult{}, err
	}
	return out, dup
}

// Settle is SettleTx in its own unit of work.
func (l *Ledger) Settle(ctx context.Context, transactionID string) (model.Transaction, error) {
	var out model.Transaction
	err := l.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = l.SettleTx(ctx, tx, transactionID)
		return err
	})
	return out, err
}

// Fail is FailTx in its own unit of work.
func (l *Ledger) Fail(ctx context.Context, transactionID string) (model.Transaction, error) {
	var out model.Transaction
	err := l.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = l.FailTx(ctx, tx, transactionID)
		return err
	})
	return out, err
}

func (l *Ledger) lockActive(ctx context.Context, tx store.Tx, e Entry) (model.Wallet, error) {
	w, err := tx.Wallets().GetForUpdate(ctx, e.WalletID)
	if err != nil {
		return model.Wallet{}, err
	}
	if !w.Active() {
		return model.Wallet{}, errs.Wrap(errs.CodeWalletUnavailable, errs.ErrWalletClosed, "wallet "+w.ID+" is "+string(w.Status))
	}
	if err := money.ValidatePositive(e.Amount, w.Currency); err != nil {
		return model.Wallet{}, err
	}
	return w, nil
}

func (l *Ledger) write(ctx context.Context, tx store.Tx, w model.Wallet, typ model.TransactionType, status model.TransactionStatus, e Entry) (model.Transaction, error) {
	if err := l.checkInvariant(w); err != nil {
		return model.Transaction{}, err
	}
	if _, err := tx.Wallets().Update(ctx, w); err != nil {
		return model.Transaction{}, err
	}
	return l.insert(ctx, tx, typ, status, e)
}

func (l *Ledger) insert(ctx context.Context, tx store.Tx, typ model.TransactionType, status model.TransactionStatus, e Entry) (model.Transaction, error) {
	now := l.now()
	t := model.Transaction{
		ID:        uuid.NewString(),
		WalletID:  e.WalletID,
		Type:      typ,
		Status:    status,
		Amount:    e.Amount,
		Reference: e.Reference,
		Metadata:  e.Metadata,
		CreatedAt: now,
	}
	if status == model.TxSettled {
		t.SettledAt = &now
	}
	if err := tx.Transactions().Insert(ctx, t); err != nil {
		return model.Transaction{}, err
	}
	return t, nil
}

func (l *Ledger) checkInvariant(w model.Wallet) error {
	if w.Reserved.IsNegative() || w.Balance.IsNegative() || w.Reserved.GreaterThan(w.Balance) {
		return l.violation(w, "wallet %s would hold balance %s reserved %s", w.ID, w.Balance, w.Reserved)
	}
	return nil
}

func (l *Ledger) violation(w model.Wallet, format string, args ...any) error {
	err := errs.Newf(errs.CodeInvariantViolation, format, args...)
	l.logger.Error("ledger invariant violated",
		slog.String("severity", string(errs.SeverityCritical)),
		slog.String("wallet_id", w.ID),
		slog.String("balance", w.Balance.String()),
		slog.String("reserved", w.Reserved.String()),
		slog.Any("error", err),
	)
	return err
}

func withMeta(base map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(base)+1)
	for k, v := range base {
		out[k] = v
	}
	out[key] = value
	return out
}
