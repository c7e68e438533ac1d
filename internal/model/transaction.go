package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType is the effect a ledger entry has once settled.
type TransactionType string

const (
	TxCredit  TransactionType = "CREDIT"
	TxDebit   TransactionType = "DEBIT"
	TxHold    TransactionType = "HOLD"
	TxRelease TransactionType = "RELEASE"
)

// TransactionStatus only moves forward, from PENDING to one terminal value.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "PENDING"
	TxSettled   TransactionStatus = "SETTLED"
	TxFailed    TransactionStatus = "FAILED"
	TxCancelled TransactionStatus = "CANCELLED"
)

// Terminal reports whether s can no longer change.
func (s TransactionStatus) Terminal() bool {
	return s != TxPending
}

// Metadata keys written by the engine.
const (
	MetaCoveringHold = "covering_hold_id"
	MetaNegotiation  = "negotiation_id"
	MetaEscrow       = "escrow_id"
	MetaKind         = "kind"
)

// Transaction is an immutable ledger entry. Amount is never negative; the
// sign comes from Type.
type Transaction struct {
	ID        string
	WalletID  string
	Type      TransactionType
	Status    TransactionStatus
	Amount    decimal.Decimal
	Reference string
	Metadata  map[string]string
	CreatedAt time.Time
	SettledAt *time.Time
}

// PaymentEvent is the write-once audit row for one settlement leg.
type PaymentEvent struct {
	ID                  string
	SourceWalletID      string
	DestinationWalletID string
	Amount              decimal.Decimal
	InitiatorType       string
	Status              string
	Reference           string
	TransactionID       string
	CreatedAt           time.Time
}
