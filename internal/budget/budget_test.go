package budget

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentpay/agentpay/internal/errs"
	"github.com/agentpay/agentpay/internal/ledger"
	"github.com/agentpay/agentpay/internal/logging"
	"github.com/agentpay/agentpay/internal/model"
	"github.com/agentpay/agentpay/internal/store"
	"github.com/agentpay/agentpay/internal/wallet"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	svc     *Service
	ledger  *ledger.Ledger
	wallets *wallet.Service
	clock   time.Time
}

func newFixture(t *testing.T, defaultLimit string) *fixture {
	t.Helper()
	led := ledger.New(store.NewMemory(), logging.Discard())
	wallets := wallet.NewService(led, logging.Discard(), "USD")
	f := &fixture{
		ledger:  led,
		wallets: wallets,
		svc:     NewService(led, wallets, logging.Discard(), d(defaultLimit)),
		clock:   time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC),
	}
	f.svc.SetClock(func() time.Time { return f.clock })
	return f
}

func (f *fixture) fund(t *testing.T, agentID, amount string) model.Wallet {
	t.Helper()
	ctx := context.Background()
	w, err := f.wallets.Ensure(ctx, wallet.Owner{Type: model.OwnerAgent, ID: agentID})
	require.NoError(t, err)
	_, err = f.ledger.Credit(ctx, ledger.Entry{WalletID: w.ID, Amount: d(amount), Reference: "topup"})
	require.NoError(t, err)
	return w
}

func (f *fixture) setRemaining(t *testing.T, agentID, remaining string) {
	t.Helper()
	require.NoError(t, f.ledger.Store().InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		b, _, err := f.svc.CurrentTx(ctx, tx, agentID)
		if err != nil {
			return err
		}
		b.Remaining = d(remaining)
		return tx.Budgets().Update(ctx, b)
	}))
}

func TestAuthorizeDecrementsAndHolds(t *testing.T) {
	f := newFixture(t, "500.00")
	w := f.fund(t, "agent-1", "100.00")

	auth, err := f.svc.Authorize(context.Background(), Request{AgentID: "agent-1", Amount: d("50.00")})
	require.NoError(t, err)

	assert.Equal(t, "450", auth.Budget.Remaining.String())
	assert.Equal(t, "50", auth.Wallet.Reserved.String())
	assert.Equal(t, model.TxHold, auth.Hold.Type)
	assert.Equal(t, w.ID, auth.Hold.WalletID)
}

func TestAuthorizeBudgetExhaustedPlacesNoHold(t *testing.T) {
	f := newFixture(t, "500.00")
	w := f.fund(t, "agent-1", "100.00")
	f.setRemaining(t, "agent-1", "20.00")

	_, err := f.svc.Authorize(context.Background(), Request{AgentID: "agent-1", Amount: d("30.00")})
	require.ErrorIs(t, err, errs.ErrBudgetExhausted)

	v, err := f.svc.Get(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "20", v.Budget.Remaining.String())
	got, err := f.wallets.Get(context.Background(), w.ID)
	require.NoError(t, err)
	assert.True(t, got.Reserved.IsZero())
}

func TestAuthorizeRollsBackBudgetWhenHoldFails(t *testing.T) {
	f := newFixture(t, "500.00")
	f.fund(t, "agent-1", "10.00")

	_, err := f.svc.Authorize(context.Background(), Request{AgentID: "agent-1", Amount: d("50.00")})
	require.ErrorIs(t, err, errs.ErrInsufficientFunds)

	v, err := f.svc.Get(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "500", v.Budget.Remaining.String())
}

func TestManualModeRequiresApprovalAboveThreshold(t *testing.T) {
	f := newFixture(t, "500.00")
	f.fund(t, "agent-1", "100.00")
	ctx := context.Background()

	manual := model.ApprovalManual
	_, err := f.svc.Update(ctx, "agent-1", Update{ApprovalMode: &manual})
	require.NoError(t, err)

	_, err = f.svc.Authorize(ctx, Request{AgentID: "agent-1", Amount: d("5.00")})
	require.ErrorIs(t, err, errs.ErrApprovalRequired)

	threshold := d("5.00")
	_, err = f.svc.Update(ctx, "agent-1", Update{AutoApproveThreshold: &threshold})
	require.NoError(t, err)

	_, err = f.svc.Authorize(ctx, Request{AgentID: "agent-1", Amount: d("5.00")})
	require.NoError(t, err)
	_, err = f.svc.Authorize(ctx, Request{AgentID: "agent-1", Amount: d("5.01")})
	require.ErrorIs(t, err, errs.ErrApprovalRequired)
}

func TestSpendCeilingRequiresApproval(t *testing.T) {
	f := newFixture(t, "500.00")
	f.fund(t, "agent-1", "100.00")
	ctx := context.Background()

	ceiling := d("25.00")
	_, err := f.svc.Update(ctx, "agent-1", Update{SpendCeiling: &ceiling})
	require.NoError(t, err)

	_, err = f.svc.Authorize(ctx, Request{AgentID: "agent-1", Amount: d("30.00")})
	require.ErrorIs(t, err, errs.ErrApprovalRequired)
}

func TestEscrowModeRefusesDirectPayments(t *testing.T) {
	f := newFixture(t, "500.00")
	f.fund(t, "agent-1", "100.00")
	ctx := context.Background()

	mode := model.ApprovalEscrow
	_, err := f.svc.Update(ctx, "agent-1", Update{ApprovalMode: &mode})
	require.NoError(t, err)

	_, err = f.svc.Authorize(ctx, Request{AgentID: "agent-1", Amount: d("5.00"), Direct: true})
	require.ErrorIs(t, err, errs.ErrApprovalRequired)
	_, err = f.svc.Authorize(ctx, Request{AgentID: "agent-1", Amount: d("5.00")})
	require.NoError(t, err)
}

func TestUpdateLimitNeverRaisesRemaining(t *testing.T) {
	f := newFixture(t, "100.00")
	f.fund(t, "agent-1", "100.00")
	ctx := context.Background()

	_, err := f.svc.Authorize(ctx, Request{AgentID: "agent-1", Amount: d("30.00")})
	require.NoError(t, err)

	raised := d("1000.00")
	v, err := f.svc.Update(ctx, "agent-1", Update{MonthlyLimit: &raised})
	require.NoError(t, err)
	assert.Equal(t, "70", v.Budget.Remaining.String())

	lowered := d("40.00")
	v, err = f.svc.Update(ctx, "agent-1", Update{MonthlyLimit: &lowered})
	require.NoError(t, err)
	assert.Equal(t, "40", v.Budget.Remaining.String())
	assert.Equal(t, "40", v.Budget.MonthlyLimit.String())
}

func TestRolloverCarriesSettingsAndKeepsExpiredPeriod(t *testing.T) {
	f := newFixture(t, "100.00")
	f.fund(t, "agent-1", "500.00")
	ctx := context.Background()

	limit := d("200.00")
	mode := model.ApprovalEscrow
	_, err := f.svc.Update(ctx, "agent-1", Update{MonthlyLimit: &limit, ApprovalMode: &mode})
	require.NoError(t, err)
	_, err = f.svc.Authorize(ctx, Request{AgentID: "agent-1", Amount: d("60.00")})
	require.NoError(t, err)

	march := f.clock
	f.clock = time.Date(2026, time.April, 1, 0, 0, 1, 0, time.UTC)

	v, err := f.svc.Get(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "200", v.Budget.Remaining.String())
	assert.Equal(t, model.ApprovalEscrow, v.Budget.ApprovalMode)
	assert.Equal(t, time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC), v.Budget.ResetsOn)

	require.NoError(t, f.ledger.Store().InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		start, _ := model.PeriodBounds(march)
		old, err := tx.Budgets().GetForPeriod(ctx, "agent-1", start)
		if err != nil {
			return err
		}
		assert.Equal(t, "40", old.Remaining.String())
		return nil
	}))
}
