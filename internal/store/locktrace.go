package store

import (
	"context"
	"sync"
	"time"

	"github.com/agentpay/agentpay/internal/model"
)

// LockTrace wraps a Store and records the order in which a unit of work
// takes wallet and budget row locks. Tests use it to check the lock
// hierarchy on backends that serialize everything anyway.
type LockTrace struct {
	Store

	mu    sync.Mutex
	locks []string
}

// NewLockTrace wraps st.
func NewLockTrace(st Store) *LockTrace {
	return &LockTrace{Store: st}
}

func (l *LockTrace) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return l.Store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		return fn(ctx, traceTx{Tx: tx, trace: l})
	})
}

// Reset forgets the recorded locks.
func (l *LockTrace) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locks = nil
}

// FirstLocks returns each locked row once, in the order it was first locked.
// Wallet rows appear as their id, budget rows as "budget:<agent>".
func (l *LockTrace) FirstLocks() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	seen := make(map[string]struct{}, len(l.locks))
	out := make([]string, 0, len(l.locks))
	for _, k := range l.locks {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

func (l *LockTrace) record(key string) {
	l.mu.Lock()
	l.locks = append(l.locks, key)
	l.mu.Unlock()
}

type traceTx struct {
	Tx
	trace *LockTrace
}

func (t traceTx) Wallets() WalletRepository {
	return traceWallets{WalletRepository: t.Tx.Wallets(), trace: t.trace}
}

func (t traceTx) Budgets() BudgetRepository {
	return traceBudgets{BudgetRepository: t.Tx.Budgets(), trace: t.trace}
}

type traceWallets struct {
	WalletRepository
	trace *LockTrace
}

func (w traceWallets) GetForUpdate(ctx context.Context, id string) (model.Wallet, error) {
	w.trace.record(id)
	return w.WalletRepository.GetForUpdate(ctx, id)
}

type traceBudgets struct {
	BudgetRepository
	trace *LockTrace
}

func (b traceBudgets) GetForPeriod(ctx context.Context, agentID string, periodStart time.Time) (model.AgentBudget, error) {
	b.trace.record("budget:" + agentID)
	return b.BudgetRepository.GetForPeriod(ctx, agentID, periodStart)
}
