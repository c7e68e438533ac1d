// Package payments executes direct agent-to-agent payments that bypass
// negotiation, such as per-call execution fees.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agentpay/agentpay/internal/budget"
	"github.com/agentpay/agentpay/internal/engagement"
	"github.com/agentpay/agentpay/internal/errs"
	"github.com/agentpay/agentpay/internal/ledger"
	"github.com/agentpay/agentpay/internal/model"
	"github.com/agentpay/agentpay/internal/notification"
	"github.com/agentpay/agentpay/internal/store"
	"github.com/agentpay/agentpay/internal/wallet"
)

// EngagementRecorder observes completed payments.
type EngagementRecorder interface {
	Record(ctx context.Context, ev engagement.Event)
}

// Service authorizes and settles direct payments.
type Service struct {
	store    store.Store
	ledger   *ledger.Ledger
	wallets  *wallet.Service
	budgets  *budget.Service
	recorder EngagementRecorder
	notifier notification.Notifier
	logger   *slog.Logger
}

// NewService constructs a payment service.
func NewService(led *ledger.Ledger, wallets *wallet.Service, budgets *budget.Service, recorder EngagementRecorder, notifier notification.Notifier, logger *slog.Logger) *Service {
	return &Service{
		store:    led.Store(),
		ledger:   led,
		wallets:  wallets,
		budgets:  budgets,
		recorder: recorder,
		notifier: notifier,
		logger:   logger,
	}
}

// ExecuteInput describes a payment from payer to payee.
type ExecuteInput struct {
	PayerAgentID  string
	PayeeAgentID  string
	Amount        decimal.Decimal
	Reference     string
	InitiatorType string
}

// Payment is the ledger outcome of a direct payment.
type Payment struct {
	Reference   string
	Debit       model.Transaction
	Credit      model.Transaction
	Payer       model.Wallet
	Payee       model.Wallet
	Remaining   decimal.Decimal
	CompletedAt time.Time
	Replayed    bool
}

// Execute authorizes the payer's budget and transfers from the resulting hold
// to the payee in one unit of work. A reference that already paid returns the
// original payment with Replayed set and moves nothing.
func (s *Service) Execute(ctx context.Context, in ExecuteInput) (Payment, error) {
	in.PayerAgentID = strings.TrimSpace(in.PayerAgentID)
	in.PayeeAgentID = strings.TrimSpace(in.PayeeAgentID)
	if in.PayerAgentID == "" || in.PayeeAgentID == "" {
		return Payment{}, errs.New(errs.CodeInvalidArgument, "payer and payee are required")
	}
	if in.PayerAgentID == in.PayeeAgentID {
		return Payment{}, errs.New(errs.CodeInvalidArgument, "payer and payee must differ")
	}
	if in.Reference == "" {
		in.Reference = uuid.NewString()
	}
	if in.InitiatorType == "" {
		in.InitiatorType = engagement.InitiatorExecution
	}

	out, err := s.execute(ctx, in)
	if errors.Is(err, errs.ErrDuplicateTransaction) {
		// Lost a race on the reference; the winner's transfer is the answer.
		out, err = s.replay(ctx, in)
	}
	if err != nil {
		return Payment{}, err
	}
	if out.Replayed {
		return out, nil
	}

	s.logger.Info("payment executed",
		slog.String("reference", out.Reference),
		slog.String("payer", in.PayerAgentID),
		slog.String("payee", in.PayeeAgentID),
		slog.String("amount", in.Amount.String()),
	)
	if s.recorder != nil {
		s.recorder.Record(ctx, engagement.Event{
			AgentID:        in.PayerAgentID,
			CounterAgentID: in.PayeeAgentID,
			InitiatorType:  in.InitiatorType,
			Amount:         in.Amount,
			At:             out.CompletedAt,
		})
	}
	notification.Notify(ctx, s.notifier, s.logger, notification.Message{
		Kind:        notification.KindPaymentReceived,
		Destination: in.PayeeAgentID,
		Subject:     out.Reference,
		Body:        fmt.Sprintf("received %s from %s", in.Amount, in.PayerAgentID),
	})
	return out, nil
}

func (s *Service) execute(ctx context.Context, in ExecuteInput) (Payment, error) {
	var out Payment
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		payer, err := s.wallets.AgentTx(ctx, tx, in.PayerAgentID)
		if err != nil {
			return err
		}
		payee, err := s.wallets.AgentTx(ctx, tx, in.PayeeAgentID)
		if err != nil {
			return err
		}

		// Unlocked lookup: the budget row must be locked before any wallet.
		_, err = tx.Transactions().FindByReference(ctx, payer.ID, in.Reference, model.TxDebit)
		if err == nil {
			out, err = s.replayTx(ctx, tx, payer.ID, payee.ID, in)
			return err
		}
		if !errors.Is(err, errs.ErrNotFound) {
			return err
		}

		// Budget row, then both wallets in ascending id order.
		if _, _, err := s.budgets.CurrentTx(ctx, tx, in.PayerAgentID); err != nil {
			return err
		}
		if _, err := s.ledger.LockWalletsTx(ctx, tx, payer.ID, payee.ID); err != nil {
			return err
		}

		auth, err := s.budgets.AuthorizeTx(ctx, tx, budget.Request{
			AgentID:   in.PayerAgentID,
			Amount:    in.Amount,
			Reference: in.Reference,
			Metadata:  map[string]string{model.MetaKind: strings.ToLower(in.InitiatorType)},
			Direct:    true,
		})
		if err != nil {
			return err
		}
		res, err := s.ledger.TransferTx(ctx, tx, payer.ID, payee.ID, in.Amount, in.Reference, true)
		if err != nil {
			return err
		}
		if err := s.ledger.RecordEventTx(ctx, tx, model.PaymentEvent{
			SourceWalletID:      payer.ID,
			DestinationWalletID: payee.ID,
			Amount:              in.Amount,
			InitiatorType:       in.InitiatorType,
			Status:              string(model.TxSettled),
			Reference:           in.Reference,
			TransactionID:       res.Debit.ID,
		}); err != nil {
			return err
		}
		out = Payment{
			Reference:   in.Reference,
			Debit:       res.Debit,
			Credit:      res.Credit,
			Payer:       res.Source,
			Payee:       res.Destination,
			Remaining:   auth.Budget.Remaining,
			CompletedAt: res.Debit.CreatedAt,
		}
		return nil
	})
	return out, err
}

func (s *Service) replay(ctx context.Context, in ExecuteInput) (Payment, error) {
	var out Payment
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		payer, err := s.wallets.AgentTx(ctx, tx, in.PayerAgentID)
		if err != nil {
			return err
		}
		payee, err := s.wallets.AgentTx(ctx, tx, in.PayeeAgentID)
		if err != nil {
			return err
		}
		out, err = s.replayTx(ctx, tx, payer.ID, payee.ID, in)
		return err
	})
	return out, err
}

func (s *Service) replayTx(ctx context.Context, tx store.Tx, payerID, payeeID string, in ExecuteInput) (Payment, error) {
	res, err := s.ledger.TransferTx(ctx, tx, payerID, payeeID, in.Amount, in.Reference, true)
	if !errors.Is(err, errs.ErrDuplicateTransaction) {
		if err == nil {
			return Payment{}, errs.Newf(errs.CodeInvariantViolation, "reference %s replayed as a new transfer", in.Reference)
		}
		return Payment{}, err
	}
	if !res.Debit.Amount.Equal(in.Amount) {
		return Payment{}, errs.Newf(errs.CodeDuplicateTransaction, "reference %s already paid %s", in.Reference, res.Debit.Amount)
	}
	return Payment{
		Reference:   in.Reference,
		Debit:       res.Debit,
		Credit:      res.Credit,
		Payer:       res.Source,
		Payee:       res.Destination,
		CompletedAt: res.Debit.CreatedAt,
		Replayed:    true,
	}, nil
}
