// Package negotiation drives an agent-to-agent deal from proposal through
// acceptance, delivery and outcome verification. It is the only writer of
// negotiation, agreement and verification status, and it moves money only
// through the budget, ledger and escrow services.
package negotiation

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agentpay/agentpay/internal/budget"
	"github.com/agentpay/agentpay/internal/engagement"
	"github.com/agentpay/agentpay/internal/errs"
	"github.com/agentpay/agentpay/internal/escrow"
	"github.com/agentpay/agentpay/internal/ledger"
	"github.com/agentpay/agentpay/internal/model"
	"github.com/agentpay/agentpay/internal/money"
	"github.com/agentpay/agentpay/internal/notification"
	"github.com/agentpay/agentpay/internal/store"
	"github.com/agentpay/agentpay/internal/wallet"
)

const releaseConditionVerified = "outcome_verified"

// StatusRejected is accepted by Respond as a synonym for DECLINED.
const StatusRejected = "REJECTED"

// FeeSource resolves the platform fee charged on payouts to an agent.
type FeeSource interface {
	FeeBasisPoints(ctx context.Context, agentID string) (int, error)
}

// EngagementRecorder observes completed deals.
type EngagementRecorder interface {
	Record(ctx context.Context, ev engagement.Event)
}

// Deps are the collaborators of the state machine.
type Deps struct {
	Ledger   *ledger.Ledger
	Wallets  *wallet.Service
	Budgets  *budget.Service
	Escrows  *escrow.Service
	Fees     FeeSource
	Recorder EngagementRecorder
	Notifier notification.Notifier
	Logger   *slog.Logger
}

// Service is the negotiation state machine.
type Service struct {
	store    store.Store
	ledger   *ledger.Ledger
	wallets  *wallet.Service
	budgets  *budget.Service
	escrows  *escrow.Service
	fees     FeeSource
	recorder EngagementRecorder
	notifier notification.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService wires the state machine.
func NewService(d Deps) *Service {
	return &Service{
		store:    d.Ledger.Store(),
		ledger:   d.Ledger,
		wallets:  d.Wallets,
		budgets:  d.Budgets,
		escrows:  d.Escrows,
		fees:     d.Fees,
		recorder: d.Recorder,
		notifier: d.Notifier,
		logger:   d.Logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ProposeInput opens a negotiation.
type ProposeInput struct {
	RequesterAgentID string
	ResponderAgentID string
	Proposal         model.Proposal
}

// RespondInput answers the offer on the table. AgentID, when set, must be the
// party the negotiation is waiting on.
type RespondInput struct {
	NegotiationID string
	AgentID       string
	Status        string
	Price         *decimal.Decimal
	Terms         string
	WorkflowID    string
}

// DeliverInput records the responder's delivery.
type DeliverInput struct {
	NegotiationID string
	AgentID       string
	Result        string
	Evidence      string
}

// VerifyInput is a verdict on a delivery.
type VerifyInput struct {
	AgreementID string
	Status      model.VerificationStatus
	Evidence    string
}

// Outcome is the state of a negotiation after a transition.
type Outcome struct {
	Negotiation model.Negotiation
	Agreement   *model.ServiceAgreement
	Escrow      *model.Escrow
}

// Verification is the result of Verify.
type Verification struct {
	Negotiation  model.Negotiation
	Agreement    model.ServiceAgreement
	Verification model.OutcomeVerification
	Escrow       model.Escrow
	Replayed     bool
}

// AgreementView is an agreement with its verification history.
type AgreementView struct {
	Agreement     model.ServiceAgreement
	Verifications []model.OutcomeVerification
}

func reference(negotiationID string) string {
	return "negotiation:" + negotiationID
}

// Propose authorizes the requester's budget and opens a PENDING negotiation
// in one unit of work. When authorization fails no negotiation exists and
// the authorization error is returned unchanged.
func (s *Service) Propose(ctx context.Context, in ProposeInput) (model.Negotiation, error) {
	requester := strings.TrimSpace(in.RequesterAgentID)
	responder := strings.TrimSpace(in.ResponderAgentID)
	if requester == "" || responder == "" {
		return model.Negotiation{}, errs.New(errs.CodeInvalidArgument, "requester and responder are required")
	}
	if requester == responder {
		return model.Negotiation{}, errs.New(errs.CodeInvalidArgument, "an agent cannot negotiate with itself")
	}
	if err := in.Proposal.Validate(); err != nil {
		return model.Negotiation{}, errs.Wrap(errs.CodeInvalidArgument, err, "invalid proposal")
	}

	var out model.Negotiation
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		reqWallet, err := s.wallets.AgentTx(ctx, tx, requester)
		if err != nil {
			return err
		}
		respWallet, err := s.wallets.AgentTx(ctx, tx, responder)
		if err != nil {
			return err
		}
		if err := usable(reqWallet, respWallet); err != nil {
			return err
		}
		if reqWallet.Currency != respWallet.Currency {
			return errs.Newf(errs.CodeInvalidArgument, "currency mismatch %s to %s", reqWallet.Currency, respWallet.Currency)
		}

		id := uuid.NewString()
		auth, err := s.budgets.AuthorizeTx(ctx, tx, budget.Request{
			AgentID:   requester,
			Amount:    in.Proposal.Budget,
			Reference: reference(id),
			Metadata:  map[string]string{model.MetaNegotiation: id},
		})
		if err != nil {
			return err
		}

		now := s.now()
		n := model.Negotiation{
			ID:                id,
			RequesterAgentID:  requester,
			ResponderAgentID:  responder,
			RequesterWalletID: reqWallet.ID,
			ResponderWalletID: respWallet.ID,
			Status:            model.NegotiationPending,
			Payload:           in.Proposal,
			AwaitingAgentID:   responder,
			HoldAmount:        in.Proposal.Budget,
			HoldTransactionID: auth.Hold.ID,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := tx.Negotiations().Insert(ctx, n); err != nil {
			return err
		}
		out = n
		return nil
	})
	if err != nil {
		return model.Negotiation{}, err
	}

	s.logger.Info("negotiation proposed",
		slog.String("negotiation_id", out.ID),
		slog.String("requester", out.RequesterAgentID),
		slog.String("responder", out.ResponderAgentID),
		slog.String("budget", out.HoldAmount.String()),
	)
	notification.Notify(ctx, s.notifier, s.logger, notification.Message{
		Kind:        notification.KindProposalReceived,
		Destination: out.ResponderAgentID,
		Subject:     out.ID,
		Body:        "proposal for " + out.Payload.Service + " at " + out.HoldAmount.String(),
	})
	return out, nil
}

// Respond applies ACCEPTED, DECLINED (or REJECTED) or COUNTERED to a PENDING
// or COUNTERED negotiation. Responses on one negotiation are serialized by
// its row lock, so at most one of them moves it out of the open states.
func (s *Service) Respond(ctx context.Context, in RespondInput) (Outcome, error) {
	status := model.NegotiationStatus(strings.ToUpper(strings.TrimSpace(in.Status)))
	if status == StatusRejected {
		status = model.NegotiationDeclined
	}
	switch status {
	case model.NegotiationAccepted, model.NegotiationDeclined, model.NegotiationCountered:
	default:
		return Outcome{}, errs.Newf(errs.CodeInvalidTransition, "cannot respond with %q", in.Status)
	}

	if strings.TrimSpace(in.AgentID) == "" {
		return Outcome{}, errs.New(errs.CodeInvalidArgument, "agent_id is required")
	}

	var out Outcome
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		n, err := tx.Negotiations().GetForUpdate(ctx, in.NegotiationID)
		if err != nil {
			return err
		}
		if n.Status != model.NegotiationPending && n.Status != model.NegotiationCountered {
			return errs.Newf(errs.CodeInvalidTransition, "negotiation %s is %s", n.ID, n.Status)
		}
		if in.AgentID != n.AwaitingAgentID {
			return errs.Newf(errs.CodeInvalidTransition, "negotiation %s is waiting on %s", n.ID, n.AwaitingAgentID)
		}

		// Budget before wallets, wallets in ascending id order.
		if status == model.NegotiationAccepted && acceptPrice(n, in).GreaterThan(n.HoldAmount) {
			if _, _, err := s.budgets.CurrentTx(ctx, tx, n.RequesterAgentID); err != nil {
				return err
			}
		}
		wallets, err := s.ledger.LockWalletsTx(ctx, tx, n.RequesterWalletID, n.ResponderWalletID)
		if err != nil {
			return err
		}
		reqWallet, respWallet := wallets[n.RequesterWalletID], wallets[n.ResponderWalletID]
		if err := usable(reqWallet, respWallet); err != nil {
			return err
		}

		switch status {
		case model.NegotiationAccepted:
			out, err = s.acceptTx(ctx, tx, n, reqWallet, in)
		case model.NegotiationDeclined:
			out, err = s.declineTx(ctx, tx, n)
		case model.NegotiationCountered:
			out, err = s.counterTx(ctx, tx, n, reqWallet, in)
		}
		return err
	})
	if err != nil {
		return Outcome{}, err
	}

	n := out.Negotiation
	s.logger.Info("negotiation updated",
		slog.String("negotiation_id", n.ID),
		slog.String("status", string(n.Status)),
		slog.Int("round", n.Round),
	)
	notification.Notify(ctx, s.notifier, s.logger, notification.Message{
		Kind:        notification.KindNegotiationUpdated,
		Destination: counterparty(n, in.AgentID),
		Subject:     n.ID,
		Body:        string(n.Status),
	})
	return out, nil
}

func (s *Service) acceptTx(ctx context.Context, tx store.Tx, n model.Negotiation, reqWallet model.Wallet, in RespondInput) (Outcome, error) {
	offer := currentOffer(n)
	price := acceptPrice(n, in)
	if err := money.ValidatePositive(price, reqWallet.Currency); err != nil {
		return Outcome{}, err
	}
	if price.GreaterThan(offer) {
		return Outcome{}, errs.Newf(errs.CodeInvalidArgument, "price %s exceeds the offer of %s", price, offer)
	}

	switch {
	case price.LessThan(n.HoldAmount):
		if _, err := s.ledger.ReleaseTx(ctx, tx, ledger.Entry{
			WalletID:  n.RequesterWalletID,
			Amount:    n.HoldAmount.Sub(price),
			Reference: reference(n.ID),
			Metadata:  map[string]string{model.MetaNegotiation: n.ID, model.MetaKind: "price_adjustment"},
		}); err != nil {
			return Outcome{}, err
		}
	case price.GreaterThan(n.HoldAmount):
		if _, err := s.budgets.AuthorizeTx(ctx, tx, budget.Request{
			AgentID:   n.RequesterAgentID,
			Amount:    price.Sub(n.HoldAmount),
			Reference: reference(n.ID),
			Metadata:  map[string]string{model.MetaNegotiation: n.ID, model.MetaKind: "price_adjustment"},
		}); err != nil {
			return Outcome{}, err
		}
	}

	e, err := s.escrows.OpenTx(ctx, tx, escrow.OpenRequest{
		SourceWalletID:      n.RequesterWalletID,
		DestinationWalletID: n.ResponderWalletID,
		Amount:              price,
		Reference:           reference(n.ID),
		ReleaseCondition:    releaseConditionVerified,
	})
	if err != nil {
		return Outcome{}, err
	}

	now := s.now()
	a := model.ServiceAgreement{
		ID:            uuid.NewString(),
		NegotiationID: n.ID,
		AgentID:       n.ResponderAgentID,
		BuyerID:       n.RequesterAgentID,
		WorkflowID:    in.WorkflowID,
		EscrowID:      e.ID,
		OutcomeType:   n.Payload.Service,
		Price:         price,
		Status:        model.AgreementActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := tx.Agreements().Insert(ctx, a); err != nil {
		return Outcome{}, err
	}

	n.Status = model.NegotiationAccepted
	n.AgreedPrice = &price
	n.AgreementID = a.ID
	n.HoldAmount = decimal.Zero
	n.AwaitingAgentID = n.ResponderAgentID
	n, err = tx.Negotiations().Update(ctx, n)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Negotiation: n, Agreement: &a, Escrow: &e}, nil
}

func currentOffer(n model.Negotiation) decimal.Decimal {
	if n.CounterPayload != nil {
		return n.CounterPayload.Price
	}
	return n.Payload.Budget
}

// acceptPrice is the explicit price when given, otherwise the outstanding offer.
func acceptPrice(n model.Negotiation, in RespondInput) decimal.Decimal {
	if in.Price != nil {
		return *in.Price
	}
	return currentOffer(n)
}

func (s *Service) declineTx(ctx context.Context, tx store.Tx, n model.Negotiation) (Outcome, error) {
	if err := s.releaseHoldTx(ctx, tx, &n, "declined"); err != nil {
		return Outcome{}, err
	}
	n.Status = model.NegotiationDeclined
	n.AwaitingAgentID = ""
	n, err := tx.Negotiations().Update(ctx, n)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Negotiation: n}, nil
}

func (s *Service) counterTx(ctx context.Context, tx store.Tx, n model.Negotiation, reqWallet model.Wallet, in RespondInput) (Outcome, error) {
	if in.Price == nil {
		return Outcome{}, errs.New(errs.CodeInvalidArgument, "a counter offer needs a price")
	}
	counter := model.Counter{Price: *in.Price, Terms: in.Terms}
	if err := counter.Validate(); err != nil {
		return Outcome{}, errs.Wrap(errs.CodeInvalidArgument, err, "invalid counter")
	}
	if err := money.Validate(counter.Price, reqWallet.Currency); err != nil {
		return Outcome{}, err
	}

	n.Status = model.NegotiationCountered
	n.CounterPayload = &counter
	n.Round++
	if n.AwaitingAgentID == n.ResponderAgentID {
		n.AwaitingAgentID = n.RequesterAgentID
	} else {
		n.AwaitingAgentID = n.ResponderAgentID
	}
	n, err := tx.Negotiations().Update(ctx, n)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Negotiation: n}, nil
}

// Cancel withdraws a PENDING negotiation and releases the requester's hold.
// An accepted deal can only be unwound through a REJECTED verification.
func (s *Service) Cancel(ctx context.Context, negotiationID, agentID string) (model.Negotiation, error) {
	if strings.TrimSpace(agentID) == "" {
		return model.Negotiation{}, errs.New(errs.CodeInvalidArgument, "agent_id is required")
	}
	var out model.Negotiation
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		n, err := tx.Negotiations().GetForUpdate(ctx, negotiationID)
		if err != nil {
			return err
		}
		if n.Status != model.NegotiationPending {
			return errs.Newf(errs.CodeInvalidTransition, "negotiation %s is %s", n.ID, n.Status)
		}
		if agentID != n.RequesterAgentID {
			return errs.Newf(errs.CodeInvalidTransition, "only the requester may cancel negotiation %s", n.ID)
		}
		if err := s.releaseHoldTx(ctx, tx, &n, "cancelled"); err != nil {
			return err
		}
		n.Status = model.NegotiationCancelled
		n.AwaitingAgentID = ""
		out, err = tx.Negotiations().Update(ctx, n)
		return err
	})
	if err != nil {
		return model.Negotiation{}, err
	}
	s.logger.Info("negotiation cancelled", slog.String("negotiation_id", out.ID))
	return out, nil
}

func (s *Service) releaseHoldTx(ctx context.Context, tx store.Tx, n *model.Negotiation, kind string) error {
	if !n.HoldAmount.IsPositive() {
		return nil
	}
	if _, err := s.ledger.ReleaseTx(ctx, tx, ledger.Entry{
		WalletID:  n.RequesterWalletID,
		Amount:    n.HoldAmount,
		Reference: reference(n.ID),
		Metadata:  map[string]string{model.MetaNegotiation: n.ID, model.MetaKind: kind},
	}); err != nil {
		return err
	}
	n.HoldAmount = decimal.Zero
	return nil
}

// Deliver records the responder's result on the agreement of an ACCEPTED
// negotiation. No money moves.
func (s *Service) Deliver(ctx context.Context, in DeliverInput) (model.ServiceAgreement, error) {
	if strings.TrimSpace(in.AgentID) == "" {
		return model.ServiceAgreement{}, errs.New(errs.CodeInvalidArgument, "agent_id is required")
	}
	var (
		out model.ServiceAgreement
		n   model.Negotiation
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		n, err = tx.Negotiations().GetForUpdate(ctx, in.NegotiationID)
		if err != nil {
			return err
		}
		if n.Status != model.NegotiationAccepted {
			return errs.Newf(errs.CodeInvalidState, "negotiation %s is %s", n.ID, n.Status)
		}
		if in.AgentID != n.ResponderAgentID {
			return errs.Newf(errs.CodeInvalidState, "only the responder may deliver on negotiation %s", n.ID)
		}
		a, err := tx.Agreements().GetForUpdate(ctx, n.AgreementID)
		if err != nil {
			return err
		}
		if a.Status != model.AgreementActive || a.Delivered() {
			return errs.Newf(errs.CodeInvalidState, "agreement %s already delivered", a.ID)
		}
		e, err := tx.Escrows().Get(ctx, a.EscrowID)
		if err != nil {
			return err
		}
		if e.Status != model.EscrowHeld {
			return errs.Newf(errs.CodeInvalidState, "escrow %s is %s", e.ID, e.Status)
		}

		now := s.now()
		a.Result = in.Result
		a.Evidence = in.Evidence
		a.DeliveredAt = &now
		if err := tx.Agreements().Update(ctx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return model.ServiceAgreement{}, err
	}
	notification.Notify(ctx, s.notifier, s.logger, notification.Message{
		Kind:        notification.KindDeliveryRecorded,
		Destination: n.RequesterAgentID,
		Subject:     out.ID,
		Body:        "delivery ready for verification",
	})
	return out, nil
}

// Verify appends a verdict to an agreement. VERIFIED releases the escrow to
// the responder minus its tier's fee and completes the deal; REJECTED
// refunds the requester and marks the deal DISPUTED. Repeating the verdict
// that settled the agreement returns the stored outcome.
func (s *Service) Verify(ctx context.Context, in VerifyInput) (Verification, error) {
	in.Status = model.VerificationStatus(strings.ToUpper(strings.TrimSpace(string(in.Status))))
	switch in.Status {
	case model.VerificationVerified, model.VerificationRejected:
	default:
		return Verification{}, errs.Newf(errs.CodeInvalidArgument, "unknown verification status %q", in.Status)
	}

	var out Verification
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		peek, err := tx.Agreements().Get(ctx, in.AgreementID)
		if err != nil {
			return err
		}
		n, err := tx.Negotiations().GetForUpdate(ctx, peek.NegotiationID)
		if err != nil {
			return err
		}
		a, err := tx.Agreements().GetForUpdate(ctx, in.AgreementID)
		if err != nil {
			return err
		}

		if settled, ok := settledVerdict(a.Status); ok {
			if settled != in.Status {
				return errs.Newf(errs.CodeInvalidState, "agreement %s is already %s", a.ID, a.Status)
			}
			out, err = s.storedVerification(ctx, tx, n, a)
			return err
		}
		if a.Status != model.AgreementActive {
			return errs.Newf(errs.CodeInvalidState, "agreement %s is %s", a.ID, a.Status)
		}

		var e model.Escrow
		switch in.Status {
		case model.VerificationVerified:
			if !a.Delivered() {
				return errs.Newf(errs.CodeInvalidState, "agreement %s has no delivery to verify", a.ID)
			}
			bps, err := s.fees.FeeBasisPoints(ctx, a.AgentID)
			if err != nil {
				return err
			}
			settlement, err := s.escrows.ReleaseTx(ctx, tx, a.EscrowID, bps)
			if err != nil {
				return err
			}
			e = settlement.Escrow
			a.Status = model.AgreementCompleted
			n.Status = model.NegotiationCompleted
		case model.VerificationRejected:
			refund, err := s.escrows.RefundTx(ctx, tx, a.EscrowID)
			if err != nil {
				return err
			}
			e = refund.Escrow
			a.Status = model.AgreementDisputed
			n.Status = model.NegotiationDisputed
		}

		v := model.OutcomeVerification{
			ID:          uuid.NewString(),
			AgreementID: a.ID,
			Status:      in.Status,
			Evidence:    in.Evidence,
			CreatedAt:   s.now(),
		}
		if err := tx.Verifications().Insert(ctx, v); err != nil {
			return err
		}
		if err := tx.Agreements().Update(ctx, a); err != nil {
			return err
		}
		n.AwaitingAgentID = ""
		if n, err = tx.Negotiations().Update(ctx, n); err != nil {
			return err
		}
		out = Verification{Negotiation: n, Agreement: a, Verification: v, Escrow: e}
		return nil
	})
	if err != nil {
		return Verification{}, err
	}
	if out.Replayed {
		return out, nil
	}

	s.logger.Info("agreement verified",
		slog.String("agreement_id", out.Agreement.ID),
		slog.String("verdict", string(out.Verification.Status)),
		slog.String("escrow_status", string(out.Escrow.Status)),
	)
	if out.Agreement.Status == model.AgreementCompleted {
		if s.recorder != nil {
			s.recorder.Record(ctx, engagement.Event{
				AgentID:        out.Negotiation.RequesterAgentID,
				CounterAgentID: out.Negotiation.ResponderAgentID,
				InitiatorType:  engagement.InitiatorNegotiation,
				Amount:         out.Agreement.Price,
				At:             out.Verification.CreatedAt,
			})
		}
		notification.Notify(ctx, s.notifier, s.logger, notification.Message{
			Kind:        notification.KindEscrowReleased,
			Destination: out.Agreement.AgentID,
			Subject:     out.Escrow.ID,
			Body:        "payout " + out.Escrow.PayoutAmount.String(),
		})
	} else {
		notification.Notify(ctx, s.notifier, s.logger, notification.Message{
			Kind:        notification.KindEscrowRefunded,
			Destination: out.Agreement.AgentID,
			Subject:     out.Escrow.ID,
			Body:        "delivery rejected",
		})
	}
	return out, nil
}

func (s *Service) storedVerification(ctx context.Context, tx store.Tx, n model.Negotiation, a model.ServiceAgreement) (Verification, error) {
	history, err := tx.Verifications().ListByAgreement(ctx, a.ID)
	if err != nil {
		return Verification{}, err
	}
	if len(history) == 0 {
		return Verification{}, errs.Newf(errs.CodeInvariantViolation, "agreement %s is %s without a verification", a.ID, a.Status)
	}
	e, err := tx.Escrows().Get(ctx, a.EscrowID)
	if err != nil {
		return Verification{}, err
	}
	return Verification{
		Negotiation:  n,
		Agreement:    a,
		Verification: history[len(history)-1],
		Escrow:       e,
		Replayed:     true,
	}, nil
}

// Get returns a negotiation.
func (s *Service) Get(ctx context.Context, negotiationID string) (model.Negotiation, error) {
	var out model.Negotiation
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.Negotiations().Get(ctx, negotiationID)
		return err
	})
	return out, err
}

// GetAgreement returns an agreement with its verification history.
func (s *Service) GetAgreement(ctx context.Context, agreementID string) (AgreementView, error) {
	var out AgreementView
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		a, err := tx.Agreements().Get(ctx, agreementID)
		if err != nil {
			return err
		}
		history, err := tx.Verifications().ListByAgreement(ctx, agreementID)
		if err != nil {
			return err
		}
		out = AgreementView{Agreement: a, Verifications: history}
		return nil
	})
	return out, err
}

func usable(wallets ...model.Wallet) error {
	for _, w := range wallets {
		if !w.Active() {
			return errs.Newf(errs.CodeWalletUnavailable, "wallet %s is %s", w.ID, w.Status)
		}
	}
	return nil
}

func settledVerdict(status model.AgreementStatus) (model.VerificationStatus, bool) {
	switch status {
	case model.AgreementCompleted:
		return model.VerificationVerified, true
	case model.AgreementDisputed:
		return model.VerificationRejected, true
	}
	return "", false
}

func counterparty(n model.Negotiation, actor string) string {
	if actor == n.RequesterAgentID {
		return n.ResponderAgentID
	}
	if actor == n.ResponderAgentID {
		return n.RequesterAgentID
	}
	return n.AwaitingAgentID
}
