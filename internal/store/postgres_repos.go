package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/agentpay/agentpay/internal/errs"
	"github.com/agentpay/agentpay/internal/model"
)

// Amounts cross the driver boundary as text so NUMERIC precision is never
// routed through float64.

type rowScanner interface {
	Scan(dest ...any) error
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.Newf(errs.CodeNotFound, format, args...)
	}
	return err
}

func parseAmounts(raw []string, dst []*decimal.Decimal) error {
	for i, s := range raw {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return fmt.Errorf("parse numeric %q: %w", s, err)
		}
		*dst[i] = d
	}
	return nil
}

func parseOptional(raw *string) (*decimal.Decimal, error) {
	if raw == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*raw)
	if err != nil {
		return nil, fmt.Errorf("parse numeric %q: %w", *raw, err)
	}
	return &d, nil
}

func optionalText(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

// Wallets

const walletColumns = `id, owner_type, owner_id, currency, balance::text, reserved::text,
        spend_ceiling::text, auto_approve_threshold::text, status, version, created_at, updated_at`

type pgWallets struct{ tx pgx.Tx }

func scanWallet(row rowScanner) (model.Wallet, error) {
	var (
		w                  model.Wallet
		ownerType, status  string
		balance, reserved  string
		ceiling, threshold *string
	)
	if err := row.Scan(&w.ID, &ownerType, &w.OwnerID, &w.Currency, &balance, &reserved,
		&ceiling, &threshold, &status, &w.Version, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return model.Wallet{}, err
	}
	w.OwnerType = model.OwnerType(ownerType)
	w.Status = model.WalletStatus(status)
	if err := parseAmounts([]string{balance, reserved}, []*decimal.Decimal{&w.Balance, &w.Reserved}); err != nil {
		return model.Wallet{}, err
	}
	var err error
	if w.SpendCeiling, err = parseOptional(ceiling); err != nil {
		return model.Wallet{}, err
	}
	if w.AutoApproveThreshold, err = parseOptional(threshold); err != nil {
		return model.Wallet{}, err
	}
	return w, nil
}

func (r pgWallets) Get(ctx context.Context, id string) (model.Wallet, error) {
	w, err := scanWallet(r.tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id))
	if err != nil {
		return model.Wallet{}, notFound(err, "wallet %s not found", id)
	}
	return w, nil
}

func (r pgWallets) GetForUpdate(ctx context.Context, id string) (model.Wallet, error) {
	w, err := scanWallet(r.tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return model.Wallet{}, notFound(err, "wallet %s not found", id)
	}
	return w, nil
}

func (r pgWallets) GetByOwner(ctx context.Context, ownerType model.OwnerType, ownerID string) (model.Wallet, error) {
	w, err := scanWallet(r.tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE owner_type = $1 AND owner_id = $2`,
		string(ownerType), ownerID))
	if err != nil {
		return model.Wallet{}, notFound(err, "wallet for %s %s not found", ownerType, ownerID)
	}
	return w, nil
}

func (r pgWallets) CreateIfAbsent(ctx context.Context, w model.Wallet) (model.Wallet, error) {
	const query = `INSERT INTO wallets (id, owner_type, owner_id, currency, balance, reserved,
            spend_ceiling, auto_approve_threshold, status, version, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10, $10)
        ON CONFLICT (owner_type, owner_id) DO NOTHING`
	if _, err := r.tx.Exec(ctx, query, w.ID, string(w.OwnerType), w.OwnerID, w.Currency,
		w.Balance.String(), w.Reserved.String(), optionalText(w.SpendCeiling), optionalText(w.AutoApproveThreshold),
		string(w.Status), w.CreatedAt); err != nil {
		return model.Wallet{}, err
	}
	return r.GetByOwner(ctx, w.OwnerType, w.OwnerID)
}

func (r pgWallets) Update(ctx context.Context, w model.Wallet) (model.Wallet, error) {
	const query = `UPDATE wallets SET balance = $2, reserved = $3, spend_ceiling = $4,
            auto_approve_threshold = $5, status = $6, version = version + 1, updated_at = now()
        WHERE id = $1
        RETURNING ` + walletColumns
	updated, err := scanWallet(r.tx.QueryRow(ctx, query, w.ID, w.Balance.String(), w.Reserved.String(),
		optionalText(w.SpendCeiling), optionalText(w.AutoApproveThreshold), string(w.Status)))
	if err != nil {
		return model.Wallet{}, notFound(err, "wallet %s not found", w.ID)
	}
	return updated, nil
}

func (r pgWallets) List(ctx context.Context) ([]model.Wallet, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+walletColumns+` FROM wallets ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// Transactions

const transactionColumns = `id, wallet_id, type, status, amount::text, reference, metadata, created_at, settled_at`

type pgTransactions struct{ tx pgx.Tx }

func scanTransaction(row rowScanner) (model.Transaction, error) {
	var (
		t           model.Transaction
		typ, status string
		amount      string
	)
	if err := row.Scan(&t.ID, &t.WalletID, &typ, &status, &amount, &t.Reference, &t.Metadata, &t.CreatedAt, &t.SettledAt); err != nil {
		return model.Transaction{}, err
	}
	t.Type = model.TransactionType(typ)
	t.Status = model.TransactionStatus(status)
	if err := parseAmounts([]string{amount}, []*decimal.Decimal{&t.Amount}); err != nil {
		return model.Transaction{}, err
	}
	return t, nil
}

func (r pgTransactions) Insert(ctx context.Context, t model.Transaction) error {
	metadata := t.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	_, err := r.tx.Exec(ctx, `INSERT INTO transactions (id, wallet_id, type, status, amount, reference, metadata, created_at, settled_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.WalletID, string(t.Type), string(t.Status), t.Amount.String(), t.Reference, metadata, t.CreatedAt, t.SettledAt)
	return err
}

func (r pgTransactions) Get(ctx context.Context, id string) (model.Transaction, error) {
	t, err := scanTransaction(r.tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
	if err != nil {
		return model.Transaction{}, notFound(err, "transaction %s not found", id)
	}
	return t, nil
}

func (r pgTransactions) GetForUpdate(ctx context.Context, id string) (model.Transaction, error) {
	t, err := scanTransaction(r.tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return model.Transaction{}, notFound(err, "transaction %s not found", id)
	}
	return t, nil
}

func (r pgTransactions) FindByReference(ctx context.Context, walletID, reference string, typ model.TransactionType) (model.Transaction, error) {
	const query = `SELECT ` + transactionColumns + ` FROM transactions
        WHERE wallet_id = $1 AND reference = $2 AND type = $3 ORDER BY seq LIMIT 1`
	t, err := scanTransaction(r.tx.QueryRow(ctx, query, walletID, reference, string(typ)))
	if err != nil {
		return model.Transaction{}, notFound(err, "no %s entry with reference %s", typ, reference)
	}
	return t, nil
}

func (r pgTransactions) UpdateStatus(ctx context.Context, id string, status model.TransactionStatus, settledAt *time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE transactions SET status = $2, settled_at = $3 WHERE id = $1`, id, string(status), settledAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.Newf(errs.CodeNotFound, "transaction %s not found", id)
	}
	return nil
}

func (r pgTransactions) ListByWallet(ctx context.Context, walletID string, limit int) ([]model.Transaction, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.tx.Query(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE wallet_id = $1 ORDER BY seq DESC LIMIT $2`, walletID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r pgTransactions) SettledTotals(ctx context.Context, walletID string) (SettledTotals, error) {
	const query = `SELECT
            COALESCE(SUM(amount) FILTER (WHERE type = 'CREDIT'), 0)::text,
            COALESCE(SUM(amount) FILTER (WHERE type = 'DEBIT'), 0)::text,
            COALESCE(SUM(amount) FILTER (WHERE type = 'HOLD'), 0)::text,
            COALESCE(SUM(amount) FILTER (WHERE type = 'RELEASE'), 0)::text
        FROM transactions WHERE wallet_id = $1 AND status = 'SETTLED'`
	var credit, debit, hold, release string
	if err := r.tx.QueryRow(ctx, query, walletID).Scan(&credit, &debit, &hold, &release); err != nil {
		return SettledTotals{}, err
	}
	var totals SettledTotals
	err := parseAmounts([]string{credit, debit, hold, release},
		[]*decimal.Decimal{&totals.Credit, &totals.Debit, &totals.Hold, &totals.Release})
	return totals, err
}

// Escrows

const escrowColumns = `id, source_wallet_id, destination_wallet_id, transaction_id, amount::text, status,
        reference, release_condition, fee_basis_points, fee_amount::text, payout_amount::text,
        payout_transaction_id, fee_transaction_id, debit_transaction_id, refund_transaction_id,
        created_at, released_at, refunded_at`

type pgEscrows struct{ tx pgx.Tx }

func scanEscrow(row rowScanner) (model.Escrow, error) {
	var (
		e                   model.Escrow
		status              string
		amount, fee, payout string
	)
	if err := row.Scan(&e.ID, &e.SourceWalletID, &e.DestinationWalletID, &e.TransactionID, &amount, &status,
		&e.Reference, &e.ReleaseCondition, &e.FeeBasisPoints, &fee, &payout,
		&e.PayoutTransactionID, &e.FeeTransactionID, &e.DebitTransactionID, &e.RefundTransactionID,
		&e.CreatedAt, &e.ReleasedAt, &e.RefundedAt); err != nil {
		return model.Escrow{}, err
	}
	e.Status = model.EscrowStatus(status)
	if err := parseAmounts([]string{amount, fee, payout}, []*decimal.Decimal{&e.Amount, &e.FeeAmount, &e.PayoutAmount}); err != nil {
		return model.Escrow{}, err
	}
	return e, nil
}

func (r pgEscrows) Insert(ctx context.Context, e model.Escrow) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO escrows (id, source_wallet_id, destination_wallet_id, transaction_id, amount, status,
            reference, release_condition, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.SourceWalletID, e.DestinationWalletID, e.TransactionID, e.Amount.String(), string(e.Status),
		e.Reference, e.ReleaseCondition, e.CreatedAt)
	return err
}

func (r pgEscrows) Get(ctx context.Context, id string) (model.Escrow, error) {
	e, err := scanEscrow(r.tx.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, id))
	if err != nil {
		return model.Escrow{}, notFound(err, "escrow %s not found", id)
	}
	return e, nil
}

func (r pgEscrows) GetForUpdate(ctx context.Context, id string) (model.Escrow, error) {
	e, err := scanEscrow(r.tx.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return model.Escrow{}, notFound(err, "escrow %s not found", id)
	}
	return e, nil
}

func (r pgEscrows) Update(ctx context.Context, e model.Escrow) error {
	tag, err := r.tx.Exec(ctx, `UPDATE escrows SET status = $2, fee_basis_points = $3, fee_amount = $4, payout_amount = $5,
            payout_transaction_id = $6, fee_transaction_id = $7, debit_transaction_id = $8, refund_transaction_id = $9,
            released_at = $10, refunded_at = $11
        WHERE id = $1`,
		e.ID, string(e.Status), e.FeeBasisPoints, e.FeeAmount.String(), e.PayoutAmount.String(),
		e.PayoutTransactionID, e.FeeTransactionID, e.DebitTransactionID, e.RefundTransactionID,
		e.ReleasedAt, e.RefundedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.Newf(errs.CodeNotFound, "escrow %s not found", e.ID)
	}
	return nil
}

func (r pgEscrows) ListByStatus(ctx context.Context, status model.EscrowStatus) ([]model.Escrow, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE status = $1 ORDER BY id`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Budgets

const budgetColumns = `id, agent_id, wallet_id, monthly_limit::text, remaining::text, approval_mode,
        period_start, resets_on, created_at, updated_at`

type pgBudgets struct{ tx pgx.Tx }

func scanBudget(row rowScanner) (model.AgentBudget, error) {
	var (
		b                model.AgentBudget
		limit, remaining string
		mode             string
	)
	if err := row.Scan(&b.ID, &b.AgentID, &b.WalletID, &limit, &remaining, &mode,
		&b.PeriodStart, &b.ResetsOn, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return model.AgentBudget{}, err
	}
	b.ApprovalMode = model.ApprovalMode(mode)
	b.PeriodStart = b.PeriodStart.UTC()
	b.ResetsOn = b.ResetsOn.UTC()
	if err := parseAmounts([]string{limit, remaining}, []*decimal.Decimal{&b.MonthlyLimit, &b.Remaining}); err != nil {
		return model.AgentBudget{}, err
	}
	return b, nil
}

func (r pgBudgets) GetForPeriod(ctx context.Context, agentID string, periodStart time.Time) (model.AgentBudget, error) {
	b, err := scanBudget(r.tx.QueryRow(ctx, `SELECT `+budgetColumns+` FROM agent_budgets
        WHERE agent_id = $1 AND period_start = $2 FOR UPDATE`, agentID, periodStart))
	if err != nil {
		return model.AgentBudget{}, notFound(err, "budget for agent %s not found", agentID)
	}
	return b, nil
}

func (r pgBudgets) Latest(ctx context.Context, agentID string) (model.AgentBudget, error) {
	b, err := scanBudget(r.tx.QueryRow(ctx, `SELECT `+budgetColumns+` FROM agent_budgets
        WHERE agent_id = $1 ORDER BY period_start DESC LIMIT 1`, agentID))
	if err != nil {
		return model.AgentBudget{}, notFound(err, "budget for agent %s not found", agentID)
	}
	return b, nil
}

func (r pgBudgets) InsertIfAbsent(ctx context.Context, b model.AgentBudget) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO agent_budgets (id, agent_id, wallet_id, monthly_limit, remaining, approval_mode,
            period_start, resets_on, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
        ON CONFLICT (agent_id, period_start) DO NOTHING`,
		b.ID, b.AgentID, b.WalletID, b.MonthlyLimit.String(), b.Remaining.String(), string(b.ApprovalMode),
		b.PeriodStart, b.ResetsOn, b.CreatedAt)
	return err
}

func (r pgBudgets) Update(ctx context.Context, b model.AgentBudget) error {
	tag, err := r.tx.Exec(ctx, `UPDATE agent_budgets SET monthly_limit = $2, remaining = $3, approval_mode = $4, updated_at = now()
        WHERE id = $1`, b.ID, b.MonthlyLimit.String(), b.Remaining.String(), string(b.ApprovalMode))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.Newf(errs.CodeNotFound, "budget %s not found", b.ID)
	}
	return nil
}

func (r pgBudgets) ListForPeriod(ctx context.Context, periodStart time.Time) ([]model.AgentBudget, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+budgetColumns+` FROM agent_budgets WHERE period_start = $1 ORDER BY agent_id`, periodStart)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.AgentBudget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Negotiations

const negotiationColumns = `id, requester_agent_id, responder_agent_id, requester_wallet_id, responder_wallet_id,
        status, payload, counter_payload, awaiting_agent_id, round, hold_amount::text, hold_transaction_id,
        agreed_price::text, agreement_id, version, created_at, updated_at`

type pgNegotiations struct{ tx pgx.Tx }

func scanNegotiation(row rowScanner) (model.Negotiation, error) {
	var (
		n            model.Negotiation
		status       string
		payload, ctr []byte
		holdAmount   string
		agreedPrice  *string
	)
	if err := row.Scan(&n.ID, &n.RequesterAgentID, &n.ResponderAgentID, &n.RequesterWalletID, &n.ResponderWalletID,
		&status, &payload, &ctr, &n.AwaitingAgentID, &n.Round, &holdAmount, &n.HoldTransactionID,
		&agreedPrice, &n.AgreementID, &n.Version, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return model.Negotiation{}, err
	}
	n.Status = model.NegotiationStatus(status)

	var decoded model.ProposalPayload
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return model.Negotiation{}, fmt.Errorf("decode payload of negotiation %s: %w", n.ID, err)
	}
	if decoded.Proposal == nil {
		return model.Negotiation{}, fmt.Errorf("negotiation %s payload is not a proposal", n.ID)
	}
	n.Payload = *decoded.Proposal

	if len(ctr) > 0 && string(ctr) != "null" {
		var counter model.ProposalPayload
		if err := json.Unmarshal(ctr, &counter); err != nil {
			return model.Negotiation{}, fmt.Errorf("decode counter of negotiation %s: %w", n.ID, err)
		}
		n.CounterPayload = counter.Counter
	}

	if err := parseAmounts([]string{holdAmount}, []*decimal.Decimal{&n.HoldAmount}); err != nil {
		return model.Negotiation{}, err
	}
	var err error
	if n.AgreedPrice, err = parseOptional(agreedPrice); err != nil {
		return model.Negotiation{}, err
	}
	return n, nil
}

func encodeNegotiationPayloads(n model.Negotiation) (payload, counter []byte, err error) {
	proposal := n.Payload
	if payload, err = json.Marshal(model.ProposalPayload{Proposal: &proposal}); err != nil {
		return nil, nil, err
	}
	if n.CounterPayload != nil {
		if counter, err = json.Marshal(model.ProposalPayload{Counter: n.CounterPayload}); err != nil {
			return nil, nil, err
		}
	}
	return payload, counter, nil
}

func (r pgNegotiations) Insert(ctx context.Context, n model.Negotiation) error {
	payload, counter, err := encodeNegotiationPayloads(n)
	if err != nil {
		return err
	}
	_, err = r.tx.Exec(ctx, `INSERT INTO negotiations (id, requester_agent_id, responder_agent_id, requester_wallet_id,
            responder_wallet_id, status, payload, counter_payload, awaiting_agent_id, round, hold_amount,
            hold_transaction_id, agreed_price, agreement_id, version, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, 0, $15, $15)`,
		n.ID, n.RequesterAgentID, n.ResponderAgentID, n.RequesterWalletID, n.ResponderWalletID, string(n.Status),
		payload, counter, n.AwaitingAgentID, n.Round, n.HoldAmount.String(), n.HoldTransactionID,
		optionalText(n.AgreedPrice), n.AgreementID, n.CreatedAt)
	return err
}

func (r pgNegotiations) Get(ctx context.Context, id string) (model.Negotiation, error) {
	n, err := scanNegotiation(r.tx.QueryRow(ctx, `SELECT `+negotiationColumns+` FROM negotiations WHERE id = $1`, id))
	if err != nil {
		return model.Negotiation{}, notFound(err, "negotiation %s not found", id)
	}
	return n, nil
}

func (r pgNegotiations) GetForUpdate(ctx context.Context, id string) (model.Negotiation, error) {
	n, err := scanNegotiation(r.tx.QueryRow(ctx, `SELECT `+negotiationColumns+` FROM negotiations WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return model.Negotiation{}, notFound(err, "negotiation %s not found", id)
	}
	return n, nil
}

func (r pgNegotiations) Update(ctx context.Context, n model.Negotiation) (model.Negotiation, error) {
	payload, counter, err := encodeNegotiationPayloads(n)
	if err != nil {
		return model.Negotiation{}, err
	}
	updated, err := scanNegotiation(r.tx.QueryRow(ctx, `UPDATE negotiations SET status = $2, payload = $3, counter_payload = $4,
            awaiting_agent_id = $5, round = $6, hold_amount = $7, hold_transaction_id = $8, agreed_price = $9,
            agreement_id = $10, version = version + 1, updated_at = now()
        WHERE id = $1
        RETURNING `+negotiationColumns,
		n.ID, string(n.Status), payload, counter, n.AwaitingAgentID, n.Round, n.HoldAmount.String(),
		n.HoldTransactionID, optionalText(n.AgreedPrice), n.AgreementID))
	if err != nil {
		return model.Negotiation{}, notFound(err, "negotiation %s not found", n.ID)
	}
	return updated, nil
}

// Agreements

const agreementColumns = `id, negotiation_id, agent_id, buyer_id, workflow_id, escrow_id, outcome_type, price::text,
        status, result, evidence, delivered_at, created_at, updated_at`

type pgAgreements struct{ tx pgx.Tx }

func scanAgreement(row rowScanner) (model.ServiceAgreement, error) {
	var (
		a             model.ServiceAgreement
		price, status string
	)
	if err := row.Scan(&a.ID, &a.NegotiationID, &a.AgentID, &a.BuyerID, &a.WorkflowID, &a.EscrowID, &a.OutcomeType,
		&price, &status, &a.Result, &a.Evidence, &a.DeliveredAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return model.ServiceAgreement{}, err
	}
	a.Status = model.AgreementStatus(status)
	if err := parseAmounts([]string{price}, []*decimal.Decimal{&a.Price}); err != nil {
		return model.ServiceAgreement{}, err
	}
	return a, nil
}

func (r pgAgreements) Insert(ctx context.Context, a model.ServiceAgreement) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO service_agreements (id, negotiation_id, agent_id, buyer_id, workflow_id, escrow_id,
            outcome_type, price, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
		a.ID, a.NegotiationID, a.AgentID, a.BuyerID, a.WorkflowID, a.EscrowID, a.OutcomeType, a.Price.String(),
		string(a.Status), a.CreatedAt)
	return err
}

func (r pgAgreements) Get(ctx context.Context, id string) (model.ServiceAgreement, error) {
	a, err := scanAgreement(r.tx.QueryRow(ctx, `SELECT `+agreementColumns+` FROM service_agreements WHERE id = $1`, id))
	if err != nil {
		return model.ServiceAgreement{}, notFound(err, "agreement %s not found", id)
	}
	return a, nil
}

func (r pgAgreements) GetForUpdate(ctx context.Context, id string) (model.ServiceAgreement, error) {
	a, err := scanAgreement(r.tx.QueryRow(ctx, `SELECT `+agreementColumns+` FROM service_agreements WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return model.ServiceAgreement{}, notFound(err, "agreement %s not found", id)
	}
	return a, nil
}

func (r pgAgreements) Update(ctx context.Context, a model.ServiceAgreement) error {
	tag, err := r.tx.Exec(ctx, `UPDATE service_agreements SET status = $2, result = $3, evidence = $4, delivered_at = $5,
            updated_at = now()
        WHERE id = $1`, a.ID, string(a.Status), a.Result, a.Evidence, a.DeliveredAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.Newf(errs.CodeNotFound, "agreement %s not found", a.ID)
	}
	return nil
}

// Verifications

type pgVerifications struct{ tx pgx.Tx }

func (r pgVerifications) Insert(ctx context.Context, v model.OutcomeVerification) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO outcome_verifications (id, agreement_id, status, evidence, created_at)
        VALUES ($1, $2, $3, $4, $5)`, v.ID, v.AgreementID, string(v.Status), v.Evidence, v.CreatedAt)
	return err
}

func (r pgVerifications) ListByAgreement(ctx context.Context, agreementID string) ([]model.OutcomeVerification, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, agreement_id, status, evidence, created_at
        FROM outcome_verifications WHERE agreement_id = $1 ORDER BY created_at, id`, agreementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.OutcomeVerification
	for rows.Next() {
		var (
			v      model.OutcomeVerification
			status string
		)
		if err := rows.Scan(&v.ID, &v.AgreementID, &status, &v.Evidence, &v.CreatedAt); err != nil {
			return nil, err
		}
		v.Status = model.VerificationStatus(status)
		out = append(out, v)
	}
	return out, rows.Err()
}

// Payment events

type pgEvents struct{ tx pgx.Tx }

func (r pgEvents) Insert(ctx context.Context, e model.PaymentEvent) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO payment_events (id, source_wallet_id, destination_wallet_id, amount, initiator_type,
            status, reference, transaction_id, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.SourceWalletID, e.DestinationWalletID, e.Amount.String(), e.InitiatorType, e.Status, e.Reference,
		e.TransactionID, e.CreatedAt)
	return err
}

func (r pgEvents) ListByReference(ctx context.Context, reference string) ([]model.PaymentEvent, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, source_wallet_id, destination_wallet_id, amount::text, initiator_type, status,
            reference, transaction_id, created_at
        FROM payment_events WHERE reference = $1 ORDER BY created_at, id`, reference)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.PaymentEvent
	for rows.Next() {
		var (
			e      model.PaymentEvent
			amount string
		)
		if err := rows.Scan(&e.ID, &e.SourceWalletID, &e.DestinationWalletID, &amount, &e.InitiatorType, &e.Status,
			&e.Reference, &e.TransactionID, &e.CreatedAt); err != nil {
			return nil, err
		}
		if err := parseAmounts([]string{amount}, []*decimal.Decimal{&e.Amount}); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Engagement metrics

type pgMetrics struct{ tx pgx.Tx }

func (r pgMetrics) Increment(ctx context.Context, agentID, counterAgentID, initiatorType string, amount decimal.Decimal, at time.Time) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO agent_engagement_metrics (agent_id, counter_agent_id, initiator_type, count,
            total_spend, last_interaction)
        VALUES ($1, $2, $3, 1, $4, $5)
        ON CONFLICT (agent_id, counter_agent_id, initiator_type) DO UPDATE SET
            count = agent_engagement_metrics.count + 1,
            total_spend = agent_engagement_metrics.total_spend + EXCLUDED.total_spend,
            last_interaction = GREATEST(agent_engagement_metrics.last_interaction, EXCLUDED.last_interaction)`,
		agentID, counterAgentID, initiatorType, amount.String(), at)
	return err
}

func (r pgMetrics) Get(ctx context.Context, agentID, counterAgentID, initiatorType string) (model.EngagementMetric, error) {
	var (
		m     model.EngagementMetric
		spend string
	)
	err := r.tx.QueryRow(ctx, `SELECT agent_id, counter_agent_id, initiator_type, count, total_spend::text, last_interaction
        FROM agent_engagement_metrics WHERE agent_id = $1 AND counter_agent_id = $2 AND initiator_type = $3`,
		agentID, counterAgentID, initiatorType).Scan(&m.AgentID, &m.CounterAgentID, &m.InitiatorType, &m.Count, &spend, &m.LastInteraction)
	if err != nil {
		return model.EngagementMetric{}, notFound(err, "no engagement between %s and %s", agentID, counterAgentID)
	}
	if err := parseAmounts([]string{spend}, []*decimal.Decimal{&m.TotalSpend}); err != nil {
		return model.EngagementMetric{}, err
	}
	return m, nil
}
