// Package escrow moves a reservation through HELD to exactly one of RELEASED
// or REFUNDED.
package escrow

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agentpay/agentpay/internal/errs"
	"github.com/agentpay/agentpay/internal/ledger"
	"github.com/agentpay/agentpay/internal/model"
	"github.com/agentpay/agentpay/internal/money"
	"github.com/agentpay/agentpay/internal/store"
	"github.com/agentpay/agentpay/internal/wallet"
)

const initiatorEscrow = "ESCROW"

// OpenRequest describes a new escrow. The source wallet must already hold
// at least Amount in reservation.
type OpenRequest struct {
	SourceWalletID      string
	DestinationWalletID string
	Amount              decimal.Decimal
	Reference           string
	ReleaseCondition    string
}

// Settlement is the result of releasing an escrow.
type Settlement struct {
	Escrow   model.Escrow
	Payout   *model.Transaction
	Fee      *model.Transaction
	Replayed bool
}

// Refund is the result of refunding an escrow.
type Refund struct {
	Escrow      model.Escrow
	Transaction model.Transaction
	Replayed    bool
}

// Service is the escrow manager.
type Service struct {
	store   store.Store
	ledger  *ledger.Ledger
	wallets *wallet.Service
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs an escrow manager.
func NewService(led *ledger.Ledger, wallets *wallet.Service, logger *slog.Logger) *Service {
	return &Service{
		store:   led.Store(),
		ledger:  led,
		wallets: wallets,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// OpenTx converts part of the source wallet's reservation into a HELD escrow
// backed by its own HOLD entry.
func (s *Service) OpenTx(ctx context.Context, tx store.Tx, req OpenRequest) (model.Escrow, error) {
	wallets, err := s.ledger.LockWalletsTx(ctx, tx, req.SourceWalletID, req.DestinationWalletID)
	if err != nil {
		return model.Escrow{}, err
	}
	src, dst := wallets[req.SourceWalletID], wallets[req.DestinationWalletID]
	if src.ID == dst.ID {
		return model.Escrow{}, errs.New(errs.CodeInvalidArgument, "escrow source and destination must differ")
	}
	if src.Currency != dst.Currency {
		return model.Escrow{}, errs.Newf(errs.CodeInvalidArgument, "currency mismatch %s to %s", src.Currency, dst.Currency)
	}
	if err := money.ValidatePositive(req.Amount, src.Currency); err != nil {
		return model.Escrow{}, err
	}

	id := uuid.NewString()
	meta := map[string]string{model.MetaEscrow: id}
	if _, err := s.ledger.ReleaseTx(ctx, tx, ledger.Entry{
		WalletID:  src.ID,
		Amount:    req.Amount,
		Reference: req.Reference,
		Metadata:  meta,
	}); err != nil {
		return model.Escrow{}, err
	}
	hold, err := s.ledger.HoldTx(ctx, tx, ledger.Entry{
		WalletID:  src.ID,
		Amount:    req.Amount,
		Reference: req.Reference,
		Metadata:  meta,
	})
	if err != nil {
		return model.Escrow{}, err
	}

	e := model.Escrow{
		ID:                  id,
		SourceWalletID:      src.ID,
		DestinationWalletID: dst.ID,
		TransactionID:       hold.ID,
		Amount:              req.Amount,
		Status:              model.EscrowHeld,
		Reference:           req.Reference,
		ReleaseCondition:    req.ReleaseCondition,
		FeeAmount:           decimal.Zero,
		PayoutAmount:        decimal.Zero,
		CreatedAt:           s.now(),
	}
	if err := tx.Escrows().Insert(ctx, e); err != nil {
		return model.Escrow{}, err
	}
	s.logger.Info("escrow opened",
		slog.String("escrow_id", e.ID),
		slog.String("source_wallet_id", e.SourceWalletID),
		slog.String("destination_wallet_id", e.DestinationWalletID),
		slog.String("amount", e.Amount.String()),
	)
	return e, nil
}

// ReleaseTx pays out a HELD escrow, splitting feeBasisPoints off to the
// platform wallet. Releasing an already RELEASED escrow returns the stored
// settlement without touching the ledger.
func (s *Service) ReleaseTx(ctx context.Context, tx store.Tx, escrowID string, feeBasisPoints int) (Settlement, error) {
	e, err := tx.Escrows().GetForUpdate(ctx, escrowID)
	if err != nil {
		return Settlement{}, err
	}
	switch e.Status {
	case model.EscrowReleased:
		return s.storedSettlement(ctx, tx, e)
	case model.EscrowRefunded:
		return Settlement{}, errs.Newf(errs.CodeInvalidTransition, "escrow %s was refunded", e.ID)
	}

	platform, err := s.wallets.PlatformTx(ctx, tx)
	if err != nil {
		return Settlement{}, err
	}
	wallets, err := s.ledger.LockWalletsTx(ctx, tx, e.SourceWalletID, e.DestinationWalletID, platform.ID)
	if err != nil {
		return Settlement{}, err
	}
	split, err := money.SplitFee(e.Amount, feeBasisPoints, wallets[e.SourceWalletID].Currency)
	if err != nil {
		return Settlement{}, err
	}

	meta := map[string]string{model.MetaEscrow: e.ID}
	debit, err := s.ledger.DebitTx(ctx, tx, ledger.Entry{
		WalletID:  e.SourceWalletID,
		Amount:    e.Amount,
		Reference: e.Reference,
		Metadata:  meta,
	}, true)
	if err != nil {
		return Settlement{}, err
	}

	out := Settlement{}
	if split.Payout.IsPositive() {
		payout, err := s.ledger.CreditTx(ctx, tx, ledger.Entry{
			WalletID:  e.DestinationWalletID,
			Amount:    split.Payout,
			Reference: e.Reference,
			Metadata:  withKind(meta, "payout"),
		})
		if err != nil {
			return Settlement{}, err
		}
		out.Payout = &payout
		e.PayoutTransactionID = payout.ID
		if err := s.recordLeg(ctx, tx, e, e.DestinationWalletID, split.Payout, payout.ID); err != nil {
			return Settlement{}, err
		}
	}
	if split.Fee.IsPositive() {
		fee, err := s.ledger.CreditTx(ctx, tx, ledger.Entry{
			WalletID:  platform.ID,
			Amount:    split.Fee,
			Reference: e.Reference,
			Metadata:  withKind(meta, "fee"),
		})
		if err != nil {
			return Settlement{}, err
		}
		out.Fee = &fee
		e.FeeTransactionID = fee.ID
		if err := s.recordLeg(ctx, tx, e, platform.ID, split.Fee, fee.ID); err != nil {
			return Settlement{}, err
		}
	}

	now := s.now()
	e.Status = model.EscrowReleased
	e.FeeBasisPoints = feeBasisPoints
	e.FeeAmount = split.Fee
	e.PayoutAmount = split.Payout
	e.DebitTransactionID = debit.ID
	e.ReleasedAt = &now
	if err := tx.Escrows().Update(ctx, e); err != nil {
		return Settlement{}, err
	}
	out.Escrow = e
	return out, nil
}

// RefundTx returns a HELD escrow's amount to the source wallet's spendable
// balance. Refunding an already REFUNDED escrow returns the original entry.
func (s *Service) RefundTx(ctx context.Context, tx store.Tx, escrowID string) (Refund, error) {
	e, err := tx.Escrows().GetForUpdate(ctx, escrowID)
	if err != nil {
		return Refund{}, err
	}
	switch e.Status {
	case model.EscrowRefunded:
		t, err := tx.Transactions().Get(ctx, e.RefundTransactionID)
		if err != nil {
			return Refund{}, err
		}
		return Refund{Escrow: e, Transaction: t, Replayed: true}, nil
	case model.EscrowReleased:
		return Refund{}, errs.Newf(errs.CodeInvalidTransition, "escrow %s was released", e.ID)
	}

	release, err := s.ledger.ReleaseTx(ctx, tx, ledger.Entry{
		WalletID:  e.SourceWalletID,
		Amount:    e.Amount,
		Reference: e.Reference,
		Metadata:  map[string]string{model.MetaEscrow: e.ID, model.MetaKind: "refund"},
	})
	if err != nil {
		return Refund{}, err
	}
	if err := s.ledger.RecordEventTx(ctx, tx, model.PaymentEvent{
		SourceWalletID:      e.SourceWalletID,
		DestinationWalletID: e.SourceWalletID,
		Amount:              e.Amount,
		InitiatorType:       initiatorEscrow,
		Status:              string(model.EscrowRefunded),
		Reference:           e.Reference,
		TransactionID:       release.ID,
	}); err != nil {
		return Refund{}, err
	}

	now := s.now()
	e.Status = model.EscrowRefunded
	e.RefundTransactionID = release.ID
	e.RefundedAt = &now
	if err := tx.Escrows().Update(ctx, e); err != nil {
		return Refund{}, err
	}
	return Refund{Escrow: e, Transaction: release}, nil
}

// Open is OpenTx in its own unit of work.
func (s *Service) Open(ctx context.Context, req OpenRequest) (model.Escrow, error) {
	var out model.Escrow
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = s.OpenTx(ctx, tx, req)
		return err
	})
	return out, err
}

// Release is ReleaseTx in its own unit of work.
func (s *Service) Release(ctx context.Context, escrowID string, feeBasisPoints int) (Settlement, error) {
	var out Settlement
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = s.ReleaseTx(ctx, tx, escrowID, feeBasisPoints)
		return err
	})
	if err == nil && !out.Replayed {
		s.logger.Info("escrow released",
			slog.String("escrow_id", escrowID),
			slog.String("payout", out.Escrow.PayoutAmount.String()),
			slog.String("fee", out.Escrow.FeeAmount.String()),
		)
	}
	return out, err
}

// Refund is RefundTx in its own unit of work.
func (s *Service) Refund(ctx context.Context, escrowID string) (Refund, error) {
	var out Refund
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = s.RefundTx(ctx, tx, escrowID)
		return err
	})
	return out, err
}

// Get returns an escrow.
func (s *Service) Get(ctx context.Context, escrowID string) (model.Escrow, error) {
	var out model.Escrow
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.Escrows().Get(ctx, escrowID)
		return err
	})
	return out, err
}

func (s *Service) storedSettlement(ctx context.Context, tx store.Tx, e model.Escrow) (Settlement, error) {
	out := Settlement{Escrow: e, Replayed: true}
	if e.PayoutTransactionID != "" {
		t, err := tx.Transactions().Get(ctx, e.PayoutTransactionID)
		if err != nil {
			return Settlement{}, err
		}
		out.Payout = &t
	}
	if e.FeeTransactionID != "" {
		t, err := tx.Transactions().Get(ctx, e.FeeTransactionID)
		if err != nil {
			return Settlement{}, err
		}
		out.Fee = &t
	}
	return out, nil
}

func (s *Service) recordLeg(ctx context.Context, tx store.Tx, e model.Escrow, destWalletID string, amount decimal.Decimal, transactionID string) error {
	return s.ledger.RecordEventTx(ctx, tx, model.PaymentEvent{
		SourceWalletID:      e.SourceWalletID,
		DestinationWalletID: destWalletID,
		Amount:              amount,
		InitiatorType:       initiatorEscrow,
		Status:              string(model.EscrowReleased),
		Reference:           e.Reference,
		TransactionID:       transactionID,
	})
}

func withKind(meta map[string]string, kind string) map[string]string {
	out := make(map[string]string, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	out[model.MetaKind] = kind
	return out
}
