package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// NegotiationStatus is the state of an agent-to-agent deal.
type NegotiationStatus string

const (
	NegotiationPending   NegotiationStatus = "PENDING"
	NegotiationAccepted  NegotiationStatus = "ACCEPTED"
	NegotiationDeclined  NegotiationStatus = "DECLINED"
	NegotiationCountered NegotiationStatus = "COUNTERED"
	NegotiationCompleted NegotiationStatus = "COMPLETED"
	NegotiationCancelled NegotiationStatus = "CANCELLED"
	NegotiationDisputed  NegotiationStatus = "DISPUTED"
)

// Terminal reports whether no further transition is possible.
func (s NegotiationStatus) Terminal() bool {
	switch s {
	case NegotiationDeclined, NegotiationCancelled, NegotiationCompleted, NegotiationDisputed:
		return true
	}
	return false
}

// Negotiation tracks a deal from proposal to settlement. HoldAmount is the part
// of the requester's reservation this negotiation owns while it is open.
type Negotiation struct {
	ID                string
	RequesterAgentID  string
	ResponderAgentID  string
	RequesterWalletID string
	ResponderWalletID string
	Status            NegotiationStatus
	Payload           Proposal
	CounterPayload    *Counter
	AwaitingAgentID   string
	Round             int
	HoldAmount        decimal.Decimal
	HoldTransactionID string
	AgreedPrice       *decimal.Decimal
	AgreementID       string
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// AgreementStatus is the state of a service agreement.
type AgreementStatus string

const (
	AgreementPending   AgreementStatus = "PENDING"
	AgreementActive    AgreementStatus = "ACTIVE"
	AgreementCompleted AgreementStatus = "COMPLETED"
	AgreementDisputed  AgreementStatus = "DISPUTED"
	AgreementCancelled AgreementStatus = "CANCELLED"
)

// ServiceAgreement is created when a negotiation is accepted and carries the
// escrow and delivery record.
type ServiceAgreement struct {
	ID            string
	NegotiationID string
	AgentID       string
	BuyerID       string
	WorkflowID    string
	EscrowID      string
	OutcomeType   string
	Price         decimal.Decimal
	Status        AgreementStatus
	Result        string
	Evidence      string
	DeliveredAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Delivered reports whether a delivery has been recorded.
func (a ServiceAgreement) Delivered() bool {
	return a.DeliveredAt != nil
}

// VerificationStatus is the verdict on a delivery.
type VerificationStatus string

const (
	VerificationVerified VerificationStatus = "VERIFIED"
	VerificationRejected VerificationStatus = "REJECTED"
)

// OutcomeVerification is an append-only verdict on an agreement.
type OutcomeVerification struct {
	ID          string
	AgreementID string
	Status      VerificationStatus
	Evidence    string
	CreatedAt   time.Time
}

// EngagementMetric is a denormalized interaction counter.
type EngagementMetric struct {
	AgentID         string
	CounterAgentID  string
	InitiatorType   string
	Count           int64
	TotalSpend      decimal.Decimal
	LastInteraction time.Time
}
