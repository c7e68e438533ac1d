package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentpay/agentpay/internal/errs"
	"github.com/agentpay/agentpay/internal/logging"
)

const (
	defaultMaxAttempts = 3
	defaultLockTimeout = 5 * time.Second
	defaultBackoff     = 25 * time.Millisecond
)

// Postgres runs units of work as READ COMMITTED transactions that take
// explicit row locks. Serialization failures, deadlocks and lock timeouts are
// retried with exponential backoff.
type Postgres struct {
	db          *pgxpool.Pool
	logger      *slog.Logger
	maxAttempts int
	lockTimeout time.Duration
	backoff     time.Duration
}

// PostgresOption tunes a Postgres store.
type PostgresOption func(*Postgres)

// WithMaxAttempts bounds how often a unit of work is tried.
func WithMaxAttempts(n int) PostgresOption {
	return func(p *Postgres) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithLockTimeout sets the per-transaction lock_timeout.
func WithLockTimeout(d time.Duration) PostgresOption {
	return func(p *Postgres) { p.lockTimeout = d }
}

// WithLogger attaches a logger for retry diagnostics.
func WithLogger(logger *slog.Logger) PostgresOption {
	return func(p *Postgres) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPostgres wraps a pgx pool.
func NewPostgres(db *pgxpool.Pool, opts ...PostgresOption) *Postgres {
	p := &Postgres{
		db:          db,
		logger:      logging.Discard(),
		maxAttempts: defaultMaxAttempts,
		lockTimeout: defaultLockTimeout,
		backoff:     defaultBackoff,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// InTx implements Store.
func (p *Postgres) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	var err error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		err = p.runOnce(ctx, fn)
		if err == nil || !transient(err) {
			return err
		}
		if attempt == p.maxAttempts {
			break
		}
		wait := p.backoff << (attempt - 1)
		p.logger.Warn("retrying unit of work", slog.Int("attempt", attempt), slog.Duration("backoff", wait), slog.Any("error", err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return errs.Wrap(errs.CodeStorageFailure, err, fmt.Sprintf("unit of work failed after %d attempts", p.maxAttempts))
}

func (p *Postgres) runOnce(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if p.lockTimeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", p.lockTimeout.Milliseconds())); err != nil {
			return err
		}
	}

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// transient reports whether err is a conflict worth retrying.
func transient(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01", "55P03":
		return true
	}
	return false
}

// Ping implements Store.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.Ping(ctx)
}

// Close implements Store and closes the underlying pool.
func (p *Postgres) Close() { p.db.Close() }

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Wallets() WalletRepository             { return pgWallets{t.tx} }
func (t *pgTx) Transactions() TransactionRepository   { return pgTransactions{t.tx} }
func (t *pgTx) Escrows() EscrowRepository             { return pgEscrows{t.tx} }
func (t *pgTx) Budgets() BudgetRepository             { return pgBudgets{t.tx} }
func (t *pgTx) Negotiations() NegotiationRepository   { return pgNegotiations{t.tx} }
func (t *pgTx) Agreements() AgreementRepository       { return pgAgreements{t.tx} }
func (t *pgTx) Verifications() VerificationRepository { return pgVerifications{t.tx} }
func (t *pgTx) PaymentEvents() PaymentEventRepository { return pgEvents{t.tx} }
func (t *pgTx) Metrics() MetricRepository             { return pgMetrics{t.tx} }
