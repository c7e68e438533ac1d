package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agentpay/agentpay/internal/errs"
	"github.com/agentpay/agentpay/internal/model"
)

// Memory is an in-process Store. Units of work are serialized behind one mutex
// and applied copy-on-write, so a failed unit of work leaves no trace. InTx
// must not be called from inside another InTx on the same Memory.
type Memory struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	wallets       map[string]model.Wallet
	walletOwners  map[string]string
	txs           map[string]model.Transaction
	txOrder       []string
	escrows       map[string]model.Escrow
	budgets       map[string]model.AgentBudget
	negotiations  map[string]model.Negotiation
	agreements    map[string]model.ServiceAgreement
	verifications map[string][]model.OutcomeVerification
	events        []model.PaymentEvent
	metrics       map[string]model.EngagementMetric
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{state: &memState{
		wallets:       map[string]model.Wallet{},
		walletOwners:  map[string]string{},
		txs:           map[string]model.Transaction{},
		escrows:       map[string]model.Escrow{},
		budgets:       map[string]model.AgentBudget{},
		negotiations:  map[string]model.Negotiation{},
		agreements:    map[string]model.ServiceAgreement{},
		verifications: map[string][]model.OutcomeVerification{},
		metrics:       map[string]model.EngagementMetric{},
	}}
}

func cloneMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func (s *memState) clone() *memState {
	verifications := make(map[string][]model.OutcomeVerification, len(s.verifications))
	for k, v := range s.verifications {
		verifications[k] = append([]model.OutcomeVerification(nil), v...)
	}
	return &memState{
		wallets:       cloneMap(s.wallets),
		walletOwners:  cloneMap(s.walletOwners),
		txs:           cloneMap(s.txs),
		txOrder:       append([]string(nil), s.txOrder...),
		escrows:       cloneMap(s.escrows),
		budgets:       cloneMap(s.budgets),
		negotiations:  cloneMap(s.negotiations),
		agreements:    cloneMap(s.agreements),
		verifications: verifications,
		events:        append([]model.PaymentEvent(nil), s.events...),
		metrics:       cloneMap(s.metrics),
	}
}

// InTx implements Store.
func (m *Memory) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	working := m.state.clone()
	if err := fn(ctx, &memTx{s: working}); err != nil {
		return err
	}
	m.state = working
	return nil
}

// Ping implements Store.
func (m *Memory) Ping(context.Context) error { return nil }

// Close implements Store.
func (m *Memory) Close() {}

type memTx struct {
	s *memState
}

func (t *memTx) Wallets() WalletRepository             { return memWallets{t.s} }
func (t *memTx) Transactions() TransactionRepository   { return memTransactions{t.s} }
func (t *memTx) Escrows() EscrowRepository             { return memEscrows{t.s} }
func (t *memTx) Budgets() BudgetRepository             { return memBudgets{t.s} }
func (t *memTx) Negotiations() NegotiationRepository   { return memNegotiations{t.s} }
func (t *memTx) Agreements() AgreementRepository       { return memAgreements{t.s} }
func (t *memTx) Verifications() VerificationRepository { return memVerifications{t.s} }
func (t *memTx) PaymentEvents() PaymentEventRepository { return memEvents{t.s} }
func (t *memTx) Metrics() MetricRepository             { return memMetrics{t.s} }

type memWallets struct{ s *memState }

func ownerKey(ownerType model.OwnerType, ownerID string) string {
	return string(ownerType) + "|" + ownerID
}

func (r memWallets) Get(_ context.Context, id string) (model.Wallet, error) {
	w, ok := r.s.wallets[id]
	if !ok {
		return model.Wallet{}, errs.Newf(errs.CodeNotFound, "wallet %s not found", id)
	}
	return w, nil
}

func (r memWallets) GetForUpdate(ctx context.Context, id string) (model.Wallet, error) {
	return r.Get(ctx, id)
}

func (r memWallets) GetByOwner(ctx context.Context, ownerType model.OwnerType, ownerID string) (model.Wallet, error) {
	id, ok := r.s.walletOwners[ownerKey(ownerType, ownerID)]
	if !ok {
		return model.Wallet{}, errs.Newf(errs.CodeNotFound, "wallet for %s %s not found", ownerType, ownerID)
	}
	return r.Get(ctx, id)
}

func (r memWallets) CreateIfAbsent(ctx context.Context, w model.Wallet) (model.Wallet, error) {
	key := ownerKey(w.OwnerType, w.OwnerID)
	if id, ok := r.s.walletOwners[key]; ok {
		return r.Get(ctx, id)
	}
	r.s.wallets[w.ID] = w
	r.s.walletOwners[key] = w.ID
	return w, nil
}

func (r memWallets) Update(_ context.Context, w model.Wallet) (model.Wallet, error) {
	if _, ok := r.s.wallets[w.ID]; !ok {
		return model.Wallet{}, errs.Newf(errs.CodeNotFound, "wallet %s not found", w.ID)
	}
	w.Version++
	w.UpdatedAt = time.Now().UTC()
	r.s.wallets[w.ID] = w
	return w, nil
}

func (r memWallets) List(context.Context) ([]model.Wallet, error) {
	out := make([]model.Wallet, 0, len(r.s.wallets))
	for _, w := range r.s.wallets {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memTransactions struct{ s *memState }

func (r memTransactions) Insert(_ context.Context, t model.Transaction) error {
	if _, ok := r.s.txs[t.ID]; ok {
		return errs.Newf(errs.CodeDuplicateTransaction, "transaction %s exists", t.ID)
	}
	r.s.txs[t.ID] = t
	r.s.txOrder = append(r.s.txOrder, t.ID)
	return nil
}

func (r memTransactions) Get(_ context.Context, id string) (model.Transaction, error) {
	t, ok := r.s.txs[id]
	if !ok {
		return model.Transaction{}, errs.Newf(errs.CodeNotFound, "transaction %s not found", id)
	}
	return t, nil
}

func (r memTransactions) GetForUpdate(ctx context.Context, id string) (model.Transaction, error) {
	return r.Get(ctx, id)
}

func (r memTransactions) FindByReference(_ context.Context, walletID, reference string, typ model.TransactionType) (model.Transaction, error) {
	for _, id := range r.s.txOrder {
		t := r.s.txs[id]
		if t.WalletID == walletID && t.Reference == reference && t.Type == typ {
			return t, nil
		}
	}
	return model.Transaction{}, errs.Newf(errs.CodeNotFound, "no %s entry with reference %s", typ, reference)
}

func (r memTransactions) UpdateStatus(_ context.Context, id string, status model.TransactionStatus, settledAt *time.Time) error {
	t, ok := r.s.txs[id]
	if !ok {
		return errs.Newf(errs.CodeNotFound, "transaction %s not found", id)
	}
	t.Status = status
	t.SettledAt = settledAt
	r.s.txs[id] = t
	return nil
}

func (r memTransactions) ListByWallet(_ context.Context, walletID string, limit int) ([]model.Transaction, error) {
	var out []model.Transaction
	for i := len(r.s.txOrder) - 1; i >= 0; i-- {
		t := r.s.txs[r.s.txOrder[i]]
		if t.WalletID != walletID {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r memTransactions) SettledTotals(_ context.Context, walletID string) (SettledTotals, error) {
	totals := SettledTotals{Credit: decimal.Zero, Debit: decimal.Zero, Hold: decimal.Zero, Release: decimal.Zero}
	for _, t := range r.s.txs {
		if t.WalletID != walletID || t.Status != model.TxSettled {
			continue
		}
		switch t.Type {
		case model.TxCredit:
			totals.Credit = totals.Credit.Add(t.Amount)
		case model.TxDebit:
			totals.Debit = totals.Debit.Add(t.Amount)
		case model.TxHold:
			totals.Hold = totals.Hold.Add(t.Amount)
		case model.TxRelease:
			totals.Release = totals.Release.Add(t.Amount)
		}
	}
	return totals, nil
}

type memEscrows struct{ s *memState }

func (r memEscrows) Insert(_ context.Context, e model.Escrow) error {
	r.s.escrows[e.ID] = e
	return nil
}

func (r memEscrows) Get(_ context.Context, id string) (model.Escrow, error) {
	e, ok := r.s.escrows[id]
	if !ok {
		return model.Escrow{}, errs.Newf(errs.CodeNotFound, "escrow %s not found", id)
	}
	return e, nil
}

func (r memEscrows) GetForUpdate(ctx context.Context, id string) (model.Escrow, error) {
	return r.Get(ctx, id)
}

func (r memEscrows) Update(_ context.Context, e model.Escrow) error {
	if _, ok := r.s.escrows[e.ID]; !ok {
		return errs.Newf(errs.CodeNotFound, "escrow %s not found", e.ID)
	}
	r.s.escrows[e.ID] = e
	return nil
}

func (r memEscrows) ListByStatus(_ context.Context, status model.EscrowStatus) ([]model.Escrow, error) {
	var out []model.Escrow
	for _, e := range r.s.escrows {
		if e.Status == status {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memBudgets struct{ s *memState }

func budgetKey(agentID string, periodStart time.Time) string {
	return agentID + "|" + periodStart.UTC().Format(time.RFC3339)
}

func (r memBudgets) GetForPeriod(_ context.Context, agentID string, periodStart time.Time) (model.AgentBudget, error) {
	b, ok := r.s.budgets[budgetKey(agentID, periodStart)]
	if !ok {
		return model.AgentBudget{}, errs.Newf(errs.CodeNotFound, "budget for agent %s not found", agentID)
	}
	return b, nil
}

func (r memBudgets) Latest(_ context.Context, agentID string) (model.AgentBudget, error) {
	var (
		latest model.AgentBudget
		found  bool
	)
	for _, b := range r.s.budgets {
		if b.AgentID != agentID {
			continue
		}
		if !found || b.PeriodStart.After(latest.PeriodStart) {
			latest, found = b, true
		}
	}
	if !found {
		return model.AgentBudget{}, errs.Newf(errs.CodeNotFound, "budget for agent %s not found", agentID)
	}
	return latest, nil
}

func (r memBudgets) InsertIfAbsent(_ context.Context, b model.AgentBudget) error {
	key := budgetKey(b.AgentID, b.PeriodStart)
	if _, ok := r.s.budgets[key]; ok {
		return nil
	}
	r.s.budgets[key] = b
	return nil
}

func (r memBudgets) Update(_ context.Context, b model.AgentBudget) error {
	key := budgetKey(b.AgentID, b.PeriodStart)
	if _, ok := r.s.budgets[key]; !ok {
		return errs.Newf(errs.CodeNotFound, "budget for agent %s not found", b.AgentID)
	}
	b.UpdatedAt = time.Now().UTC()
	r.s.budgets[key] = b
	return nil
}

func (r memBudgets) ListForPeriod(_ context.Context, periodStart time.Time) ([]model.AgentBudget, error) {
	var out []model.AgentBudget
	for _, b := range r.s.budgets {
		if b.PeriodStart.Equal(periodStart) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}

type memNegotiations struct{ s *memState }

func (r memNegotiations) Insert(_ context.Context, n model.Negotiation) error {
	r.s.negotiations[n.ID] = n
	return nil
}

func (r memNegotiations) Get(_ context.Context, id string) (model.Negotiation, error) {
	n, ok := r.s.negotiations[id]
	if !ok {
		return model.Negotiation{}, errs.Newf(errs.CodeNotFound, "negotiation %s not found", id)
	}
	return n, nil
}

func (r memNegotiations) GetForUpdate(ctx context.Context, id string) (model.Negotiation, error) {
	return r.Get(ctx, id)
}

func (r memNegotiations) Update(_ context.Context, n model.Negotiation) (model.Negotiation, error) {
	if _, ok := r.s.negotiations[n.ID]; !ok {
		return model.Negotiation{}, errs.Newf(errs.CodeNotFound, "negotiation %s not found", n.ID)
	}
	n.Version++
	n.UpdatedAt = time.Now().UTC()
	r.s.negotiations[n.ID] = n
	return n, nil
}

type memAgreements struct{ s *memState }

func (r memAgreements) Insert(_ context.Context, a model.ServiceAgreement) error {
	r.s.agreements[a.ID] = a
	return nil
}

func (r memAgreements) Get(_ context.Context, id string) (model.ServiceAgreement, error) {
	a, ok := r.s.agreements[id]
	if !ok {
		return model.ServiceAgreement{}, errs.Newf(errs.CodeNotFound, "agreement %s not found", id)
	}
	return a, nil
}

func (r memAgreements) GetForUpdate(ctx context.Context, id string) (model.ServiceAgreement, error) {
	return r.Get(ctx, id)
}

func (r memAgreements) Update(_ context.Context, a model.ServiceAgreement) error {
	if _, ok := r.s.agreements[a.ID]; !ok {
		return errs.Newf(errs.CodeNotFound, "agreement %s not found", a.ID)
	}
	a.UpdatedAt = time.Now().UTC()
	r.s.agreements[a.ID] = a
	return nil
}

type memVerifications struct{ s *memState }

func (r memVerifications) Insert(_ context.Context, v model.OutcomeVerification) error {
	r.s.verifications[v.AgreementID] = append(r.s.verifications[v.AgreementID], v)
	return nil
}

func (r memVerifications) ListByAgreement(_ context.Context, agreementID string) ([]model.OutcomeVerification, error) {
	return append([]model.OutcomeVerification(nil), r.s.verifications[agreementID]...), nil
}

type memEvents struct{ s *memState }

func (r memEvents) Insert(_ context.Context, e model.PaymentEvent) error {
	r.s.events = append(r.s.events, e)
	return nil
}

func (r memEvents) ListByReference(_ context.Context, reference string) ([]model.PaymentEvent, error) {
	var out []model.PaymentEvent
	for _, e := range r.s.events {
		if e.Reference == reference {
			out = append(out, e)
		}
	}
	return out, nil
}

type memMetrics struct{ s *memState }

func metricKey(agentID, counterAgentID, initiatorType string) string {
	return agentID + "|" + counterAgentID + "|" + initiatorType
}

func (r memMetrics) Increment(_ context.Context, agentID, counterAgentID, initiatorType string, amount decimal.Decimal, at time.Time) error {
	key := metricKey(agentID, counterAgentID, initiatorType)
	m, ok := r.s.metrics[key]
	if !ok {
		m = model.EngagementMetric{AgentID: agentID, CounterAgentID: counterAgentID, InitiatorType: initiatorType, TotalSpend: decimal.Zero}
	}
	m.Count++
	m.TotalSpend = m.TotalSpend.Add(amount)
	if at.After(m.LastInteraction) {
		m.LastInteraction = at
	}
	r.s.metrics[key] = m
	return nil
}

func (r memMetrics) Get(_ context.Context, agentID, counterAgentID, initiatorType string) (model.EngagementMetric, error) {
	m, ok := r.s.metrics[metricKey(agentID, counterAgentID, initiatorType)]
	if !ok {
		return model.EngagementMetric{}, errs.Newf(errs.CodeNotFound, "no engagement between %s and %s", agentID, counterAgentID)
	}
	return m, nil
}
