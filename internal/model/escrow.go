package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// EscrowStatus is HELD until exactly one of RELEASED or REFUNDED.
type EscrowStatus string

const (
	EscrowHeld     EscrowStatus = "HELD"
	EscrowReleased EscrowStatus = "RELEASED"
	EscrowRefunded EscrowStatus = "REFUNDED"
)

// Escrow pins Amount of the source wallet's reservation against one deal.
type Escrow struct {
	ID                  string
	SourceWalletID      string
	DestinationWalletID string
	TransactionID       string
	Amount              decimal.Decimal
	Status              EscrowStatus
	Reference           string
	ReleaseCondition    string
	FeeBasisPoints      int
	FeeAmount           decimal.Decimal
	PayoutAmount        decimal.Decimal
	PayoutTransactionID string
	FeeTransactionID    string
	DebitTransactionID  string
	RefundTransactionID string
	CreatedAt           time.Time
	ReleasedAt          *time.Time
	RefundedAt          *time.Time
}
