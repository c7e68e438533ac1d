package payments

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentpay/agentpay/internal/budget"
	"github.com/agentpay/agentpay/internal/engagement"
	"github.com/agentpay/agentpay/internal/errs"
	"github.com/agentpay/agentpay/internal/ledger"
	"github.com/agentpay/agentpay/internal/logging"
	"github.com/agentpay/agentpay/internal/model"
	"github.com/agentpay/agentpay/internal/notification"
	"github.com/agentpay/agentpay/internal/store"
	"github.com/agentpay/agentpay/internal/wallet"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type testNotifier struct {
	mu   sync.Mutex
	sent []notification.Message
}

func (n *testNotifier) Send(_ context.Context, msg notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

type fixture struct {
	svc      *Service
	ledger   *ledger.Ledger
	wallets  *wallet.Service
	budgets  *budget.Service
	recorder *engagement.Recorder
	notifier *testNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, store.NewMemory())
}

func newFixtureWith(t *testing.T, st store.Store) *fixture {
	t.Helper()
	log := logging.Discard()
	led := ledger.New(st, log)
	wallets := wallet.NewService(led, log, "USD")
	budgets := budget.NewService(led, wallets, log, d("100"))
	f := &fixture{
		ledger:   led,
		wallets:  wallets,
		budgets:  budgets,
		recorder: engagement.NewRecorder(st, nil, log, 0),
		notifier: &testNotifier{},
	}
	f.svc = NewService(led, wallets, budgets, f.recorder, f.notifier, log)
	return f
}

func (f *fixture) fund(t *testing.T, agentID, amount string) model.Wallet {
	t.Helper()
	ctx := context.Background()
	w, err := f.wallets.Ensure(ctx, wallet.Owner{Type: model.OwnerAgent, ID: agentID})
	require.NoError(t, err)
	if a := d(amount); a.IsPositive() {
		_, err = f.ledger.Credit(ctx, ledger.Entry{WalletID: w.ID, Amount: a, Reference: "topup"})
		require.NoError(t, err)
	}
	return w
}

func (f *fixture) wallet(t *testing.T, id string) model.Wallet {
	t.Helper()
	w, err := f.wallets.Get(context.Background(), id)
	require.NoError(t, err)
	return w
}

func TestExecutePaysFromBudget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payer := f.fund(t, "caller", "50")
	payee := f.fund(t, "tool", "0")

	p, err := f.svc.Execute(ctx, ExecuteInput{PayerAgentID: "caller", PayeeAgentID: "tool", Amount: d("2.5"), Reference: "call-1"})
	require.NoError(t, err)
	assert.False(t, p.Replayed)
	assert.Equal(t, "97.5", p.Remaining.String())
	assert.Equal(t, model.TxDebit, p.Debit.Type)
	assert.Equal(t, model.TxCredit, p.Credit.Type)

	w := f.wallet(t, payer.ID)
	assert.Equal(t, "47.5", w.Balance.String())
	assert.True(t, w.Reserved.IsZero())
	assert.Equal(t, "2.5", f.wallet(t, payee.ID).Balance.String())

	m, err := f.recorder.Get(ctx, "caller", "tool", engagement.InitiatorExecution)
	require.NoError(t, err)
	assert.EqualValues(t, 1, m.Count)

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, notification.KindPaymentReceived, f.notifier.sent[0].Kind)
	assert.Equal(t, "tool", f.notifier.sent[0].Destination)
}

func TestExecuteReplaysReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payer := f.fund(t, "caller", "50")
	f.fund(t, "tool", "0")

	first, err := f.svc.Execute(ctx, ExecuteInput{PayerAgentID: "caller", PayeeAgentID: "tool", Amount: d("5"), Reference: "call-1"})
	require.NoError(t, err)
	again, err := f.svc.Execute(ctx, ExecuteInput{PayerAgentID: "caller", PayeeAgentID: "tool", Amount: d("5"), Reference: "call-1"})
	require.NoError(t, err)

	assert.True(t, again.Replayed)
	assert.Equal(t, first.Debit.ID, again.Debit.ID)
	assert.Equal(t, "45", f.wallet(t, payer.ID).Balance.String())

	view, err := f.budgets.Get(ctx, "caller")
	require.NoError(t, err)
	assert.Equal(t, "95", view.Budget.Remaining.String())
	assert.Len(t, f.notifier.sent, 1)

	_, err = f.svc.Execute(ctx, ExecuteInput{PayerAgentID: "caller", PayeeAgentID: "tool", Amount: d("7"), Reference: "call-1"})
	assert.True(t, errors.Is(err, errs.ErrDuplicateTransaction))
}

func TestExecuteFailuresLeaveNoTrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payer := f.fund(t, "caller", "10")
	f.fund(t, "tool", "0")

	_, err := f.svc.Execute(ctx, ExecuteInput{PayerAgentID: "caller", PayeeAgentID: "tool", Amount: d("20"), Reference: "big"})
	assert.True(t, errors.Is(err, errs.ErrInsufficientFunds))

	_, err = f.svc.Execute(ctx, ExecuteInput{PayerAgentID: "caller", PayeeAgentID: "tool", Amount: d("200"), Reference: "huge"})
	assert.True(t, errors.Is(err, errs.ErrBudgetExhausted))

	w := f.wallet(t, payer.ID)
	assert.Equal(t, "10", w.Balance.String())
	assert.True(t, w.Reserved.IsZero())
	view, err := f.budgets.Get(ctx, "caller")
	require.NoError(t, err)
	assert.Equal(t, "100", view.Budget.Remaining.String())
	assert.Empty(t, f.notifier.sent)
}

func TestExecuteRefusedInEscrowMode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "caller", "50")
	f.fund(t, "tool", "0")
	mode := model.ApprovalEscrow
	_, err := f.budgets.Update(ctx, "caller", budget.Update{ApprovalMode: &mode})
	require.NoError(t, err)

	_, err = f.svc.Execute(ctx, ExecuteInput{PayerAgentID: "caller", PayeeAgentID: "tool", Amount: d("1")})
	assert.True(t, errors.Is(err, errs.ErrApprovalRequired))
}

func TestExecuteRejectsSelfPayment(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Execute(context.Background(), ExecuteInput{PayerAgentID: "caller", PayeeAgentID: "caller", Amount: d("1")})
	assert.True(t, errors.Is(err, errs.ErrInvalidArgument))
}

func TestExecuteLocksBudgetThenWalletsAscending(t *testing.T) {
	trace := store.NewLockTrace(store.NewMemory())
	f := newFixtureWith(t, trace)
	ctx := context.Background()
	a := f.fund(t, "a", "50")
	b := f.fund(t, "b", "50")
	ascending := []string{a.ID, b.ID}
	sort.Strings(ascending)

	for _, pair := range [][3]string{{"a", "b", "lock-1"}, {"b", "a", "lock-2"}} {
		trace.Reset()
		_, err := f.svc.Execute(ctx, ExecuteInput{PayerAgentID: pair[0], PayeeAgentID: pair[1], Amount: d("1"), Reference: pair[2]})
		require.NoError(t, err)
		assert.Equal(t, append([]string{"budget:" + pair[0]}, ascending...), trace.FirstLocks(), "%s paying %s", pair[0], pair[1])
	}
}
