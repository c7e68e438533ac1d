// Package store is the engine's unit of work. Every mutation runs inside
// Store.InTx so that the wallet, transaction, escrow, budget and negotiation
// rows it touches commit or roll back together.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agentpay/agentpay/internal/model"
)

// Store opens units of work.
type Store interface {
	// InTx runs fn inside one transaction. fn's error rolls everything back.
	// Implementations may call fn more than once when the backend reports a
	// transient conflict, so fn must not have side effects outside tx.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Ping(ctx context.Context) error
	Close()
}

// Tx exposes the repositories bound to one unit of work.
type Tx interface {
	Wallets() WalletRepository
	Transactions() TransactionRepository
	Escrows() EscrowRepository
	Budgets() BudgetRepository
	Negotiations() NegotiationRepository
	Agreements() AgreementRepository
	Verifications() VerificationRepository
	PaymentEvents() PaymentEventRepository
	Metrics() MetricRepository
}

// WalletRepository persists wallets.
type WalletRepository interface {
	Get(ctx context.Context, id string) (model.Wallet, error)
	// GetForUpdate locks the row until the unit of work ends.
	GetForUpdate(ctx context.Context, id string) (model.Wallet, error)
	GetByOwner(ctx context.Context, ownerType model.OwnerType, ownerID string) (model.Wallet, error)
	// CreateIfAbsent inserts w unless a wallet already exists for its owner,
	// and returns whichever row is stored.
	CreateIfAbsent(ctx context.Context, w model.Wallet) (model.Wallet, error)
	// Update writes the mutable columns and bumps Version.
	Update(ctx context.Context, w model.Wallet) (model.Wallet, error)
	List(ctx context.Context) ([]model.Wallet, error)
}

// SettledTotals sums a wallet's SETTLED entries by type.
type SettledTotals struct {
	Credit  decimal.Decimal
	Debit   decimal.Decimal
	Hold    decimal.Decimal
	Release decimal.Decimal
}

// Balance is credits minus debits.
func (t SettledTotals) Balance() decimal.Decimal {
	return t.Credit.Sub(t.Debit)
}

// Reserved is holds minus releases.
func (t SettledTotals) Reserved() decimal.Decimal {
	return t.Hold.Sub(t.Release)
}

// TransactionRepository persists ledger entries.
type TransactionRepository interface {
	Insert(ctx context.Context, t model.Transaction) error
	Get(ctx context.Context, id string) (model.Transaction, error)
	GetForUpdate(ctx context.Context, id string) (model.Transaction, error)
	// FindByReference returns the entry of type typ written against walletID
	// with reference, or an errs.ErrNotFound error.
	FindByReference(ctx context.Context, walletID, reference string, typ model.TransactionType) (model.Transaction, error)
	UpdateStatus(ctx context.Context, id string, status model.TransactionStatus, settledAt *time.Time) error
	ListByWallet(ctx context.Context, walletID string, limit int) ([]model.Transaction, error)
	SettledTotals(ctx context.Context, walletID string) (SettledTotals, error)
}

// EscrowRepository persists escrows.
type EscrowRepository interface {
	Insert(ctx context.Context, e model.Escrow) error
	Get(ctx context.Context, id string) (model.Escrow, error)
	GetForUpdate(ctx context.Context, id string) (model.Escrow, error)
	Update(ctx context.Context, e model.Escrow) error
	ListByStatus(ctx context.Context, status model.EscrowStatus) ([]model.Escrow, error)
}

// BudgetRepository persists agent budgets, one row per agent per period.
type BudgetRepository interface {
	// GetForPeriod locks and returns the agent's budget starting at periodStart.
	GetForPeriod(ctx context.Context, agentID string, periodStart time.Time) (model.AgentBudget, error)
	// Latest returns the agent's most recent budget of any period.
	Latest(ctx context.Context, agentID string) (model.AgentBudget, error)
	// InsertIfAbsent is a no-op when a row for (agent, period) exists.
	InsertIfAbsent(ctx context.Context, b model.AgentBudget) error
	Update(ctx context.Context, b model.AgentBudget) error
	ListForPeriod(ctx context.Context, periodStart time.Time) ([]model.AgentBudget, error)
}

// NegotiationRepository persists negotiations.
type NegotiationRepository interface {
	Insert(ctx context.Context, n model.Negotiation) error
	Get(ctx context.Context, id string) (model.Negotiation, error)
	GetForUpdate(ctx context.Context, id string) (model.Negotiation, error)
	Update(ctx context.Context, n model.Negotiation) (model.Negotiation, error)
}

// AgreementRepository persists service agreements.
type AgreementRepository interface {
	Insert(ctx context.Context, a model.ServiceAgreement) error
	Get(ctx context.Context, id string) (model.ServiceAgreement, error)
	GetForUpdate(ctx context.Context, id string) (model.ServiceAgreement, error)
	Update(ctx context.Context, a model.ServiceAgreement) error
}

// VerificationRepository appends outcome verifications.
type VerificationRepository interface {
	Insert(ctx context.Context, v model.OutcomeVerification) error
	ListByAgreement(ctx context.Context, agreementID string) ([]model.OutcomeVerification, error)
}

// PaymentEventRepository appends settlement audit rows.
type PaymentEventRepository interface {
	Insert(ctx context.Context, e model.PaymentEvent) error
	ListByReference(ctx context.Context, reference string) ([]model.PaymentEvent, error)
}

// MetricRepository maintains engagement counters.
type MetricRepository interface {
	// Increment adds one interaction of amount to the counter keyed by
	// (agentID, counterAgentID, initiatorType), creating it when missing.
	Increment(ctx context.Context, agentID, counterAgentID, initiatorType string, amount decimal.Decimal, at time.Time) error
	Get(ctx context.Context, agentID, counterAgentID, initiatorType string) (model.EngagementMetric, error)
}
