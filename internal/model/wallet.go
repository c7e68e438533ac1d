// Package model declares the settlement engine's persisted entities.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OwnerType names the kind of party a wallet belongs to.
type OwnerType string

const (
	OwnerUser         OwnerType = "USER"
	OwnerAgent        OwnerType = "AGENT"
	OwnerOrganization OwnerType = "ORGANIZATION"
	OwnerPlatform     OwnerType = "PLATFORM"
)

// PlatformOwnerID is the owner id of the single platform fee wallet.
const PlatformOwnerID = "platform"

// Valid reports whether t is a known owner type.
func (t OwnerType) Valid() bool {
	switch t {
	case OwnerUser, OwnerAgent, OwnerOrganization, OwnerPlatform:
		return true
	}
	return false
}

// WalletStatus is the lifecycle state of a wallet.
type WalletStatus string

const (
	WalletActive    WalletStatus = "ACTIVE"
	WalletSuspended WalletStatus = "SUSPENDED"
	WalletClosed    WalletStatus = "CLOSED"
)

// Valid reports whether s is a known wallet status.
func (s WalletStatus) Valid() bool {
	switch s {
	case WalletActive, WalletSuspended, WalletClosed:
		return true
	}
	return false
}

// Wallet holds cached totals of the settled ledger entries written against it.
// Reserved is the part of Balance pinned by holds.
type Wallet struct {
	ID                   string
	OwnerType            OwnerType
	OwnerID              string
	Currency             string
	Balance              decimal.Decimal
	Reserved             decimal.Decimal
	SpendCeiling         *decimal.Decimal
	AutoApproveThreshold *decimal.Decimal
	Status               WalletStatus
	Version              int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Spendable is the amount that may be held, spent or withdrawn.
func (w Wallet) Spendable() decimal.Decimal {
	return w.Balance.Sub(w.Reserved)
}

// Active reports whether the wallet accepts ledger writes.
func (w Wallet) Active() bool {
	return w.Status == WalletActive
}
