package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ApprovalMode controls how spend requests against a budget are gated.
type ApprovalMode string

const (
	ApprovalAuto   ApprovalMode = "AUTO"
	ApprovalManual ApprovalMode = "MANUAL"
	ApprovalEscrow ApprovalMode = "ESCROW"
)

// Valid reports whether m is a known approval mode.
func (m ApprovalMode) Valid() bool {
	switch m {
	case ApprovalAuto, ApprovalManual, ApprovalEscrow:
		return true
	}
	return false
}

// AgentBudget is one agent's spending envelope for one calendar month (UTC).
type AgentBudget struct {
	ID           string
	AgentID      string
	WalletID     string
	MonthlyLimit decimal.Decimal
	Remaining    decimal.Decimal
	ApprovalMode ApprovalMode
	PeriodStart  time.Time
	ResetsOn     time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PeriodBounds returns the first instant of the UTC month containing t and
// the first instant of the following month.
func PeriodBounds(t time.Time) (start, next time.Time) {
	t = t.UTC()
	start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}
