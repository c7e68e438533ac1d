package funding

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Acquirer is a connector to an external card processor.
type Acquirer interface {
	AuthorizeCardIn(ctx context.Context, input CardInAuthorization) (AuthorizationDecision, error)
	AuthorizeCardOut(ctx context.Context, input CardOutAuthorization) (AuthorizationDecision, error)
}

const (
	DecisionApproved = "approved"
	DecisionDeclined = "declined"
)

// AuthorizationDecision is the acquirer's answer. Settlement arrives later
// through the settle and fail callbacks.
type AuthorizationDecision struct {
	Reference string
	Status    string
}

// CardInAuthorization carries what the acquirer needs to pull a top-up.
type CardInAuthorization struct {
	CardNumber string
	Expiry     string
	CVV        string
	Amount     decimal.Decimal
	Currency   string
}

// CardOutAuthorization carries what the acquirer needs to push a payout.
type CardOutAuthorization struct {
	CardNumber string
	Amount     decimal.Decimal
	Currency   string
}

// StaticAcquirer approves everything with a synthetic reference.
type StaticAcquirer struct{}

// AuthorizeCardIn approves the top-up.
func (StaticAcquirer) AuthorizeCardIn(_ context.Context, _ CardInAuthorization) (AuthorizationDecision, error) {
	return AuthorizationDecision{Reference: uuid.NewString(), Status: DecisionApproved}, nil
}

// AuthorizeCardOut approves the withdrawal.
func (StaticAcquirer) AuthorizeCardOut(_ context.Context, _ CardOutAuthorization) (AuthorizationDecision, error) {
	return AuthorizationDecision{Reference: uuid.NewString(), Status: DecisionApproved}, nil
}
