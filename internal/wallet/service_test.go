package wallet

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentpay/agentpay/internal/errs"
	"github.com/agentpay/agentpay/internal/ledger"
	"github.com/agentpay/agentpay/internal/logging"
	"github.com/agentpay/agentpay/internal/model"
	"github.com/agentpay/agentpay/internal/store"
)

func newService(t *testing.T) (*Service, *ledger.Ledger) {
	t.Helper()
	led := ledger.New(store.NewMemory(), logging.Discard())
	return NewService(led, logging.Discard(), "usd"), led
}

func TestEnsureIsIdempotentPerOwner(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	first, err := svc.Ensure(ctx, Owner{Type: model.OwnerAgent, ID: "agent-1"})
	require.NoError(t, err)
	second, err := svc.Ensure(ctx, Owner{Type: model.OwnerAgent, ID: "agent-1", Currency: "EUR"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "USD", second.Currency)
	assert.Equal(t, model.WalletActive, second.Status)

	other, err := svc.Ensure(ctx, Owner{Type: model.OwnerUser, ID: "agent-1"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestEnsureValidatesOwner(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.Ensure(context.Background(), Owner{Type: "ROBOT", ID: "x"})
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
	_, err = svc.Ensure(context.Background(), Owner{Type: model.OwnerAgent, ID: " "})
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestSnapshotReportsSpendable(t *testing.T) {
	svc, led := newService(t)
	ctx := context.Background()
	w, err := svc.Ensure(ctx, Owner{Type: model.OwnerAgent, ID: "agent-1"})
	require.NoError(t, err)

	_, err = led.Credit(ctx, ledger.Entry{WalletID: w.ID, Amount: decimal.RequireFromString("40.00")})
	require.NoError(t, err)
	_, err = led.Hold(ctx, ledger.Entry{WalletID: w.ID, Amount: decimal.RequireFromString("15.00")})
	require.NoError(t, err)

	snap, err := svc.Snapshot(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, "40", snap.Balance.String())
	assert.Equal(t, "15", snap.Reserved.String())
	assert.Equal(t, "25", snap.Spendable.String())

	txs, err := svc.ListTransactions(ctx, w.ID, 0)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, model.TxHold, txs[0].Type)
}

func TestClosedIsTerminal(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	w, err := svc.Ensure(ctx, Owner{Type: model.OwnerAgent, ID: "agent-1"})
	require.NoError(t, err)

	suspended, err := svc.SetStatus(ctx, w.ID, model.WalletSuspended)
	require.NoError(t, err)
	assert.Equal(t, model.WalletSuspended, suspended.Status)

	_, err = svc.SetStatus(ctx, w.ID, model.WalletClosed)
	require.NoError(t, err)

	_, err = svc.SetStatus(ctx, w.ID, model.WalletActive)
	require.ErrorIs(t, err, errs.ErrInvalidTransition)
}

func TestPlatformWalletStaysActive(t *testing.T) {
	svc, led := newService(t)
	ctx := context.Background()

	var platform model.Wallet
	require.NoError(t, led.Store().InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		platform, err = svc.PlatformTx(ctx, tx)
		return err
	}))
	assert.Equal(t, model.OwnerPlatform, platform.OwnerType)

	_, err := svc.SetStatus(ctx, platform.ID, model.WalletSuspended)
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestSetLimitsClearsOnZero(t *testing.T) {
	svc, led := newService(t)
	ctx := context.Background()
	w, err := svc.Ensure(ctx, Owner{Type: model.OwnerAgent, ID: "agent-1"})
	require.NoError(t, err)

	ceiling := decimal.RequireFromString("100.00")
	threshold := decimal.RequireFromString("5.00")
	require.NoError(t, led.Store().InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := svc.SetLimitsTx(ctx, tx, w.ID, Limits{SpendCeiling: &ceiling, AutoApproveThreshold: &threshold})
		return err
	}))
	got, err := svc.Get(ctx, w.ID)
	require.NoError(t, err)
	require.NotNil(t, got.SpendCeiling)
	assert.True(t, got.SpendCeiling.Equal(ceiling))

	zero := decimal.Zero
	require.NoError(t, led.Store().InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := svc.SetLimitsTx(ctx, tx, w.ID, Limits{SpendCeiling: &zero})
		return err
	}))
	got, err = svc.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Nil(t, got.SpendCeiling)
	require.NotNil(t, got.AutoApproveThreshold)
}
