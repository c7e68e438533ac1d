// Package engagement keeps denormalized counters of settled interactions
// between agents. Counters are not authoritative and are never allowed to
// fail or roll back the settlement that produced them.
package engagement

import (
	"context"
	"log/slog"
	"time"

	"github.com/agentpay/agentpay/internal/model"
	"github.com/agentpay/agentpay/internal/store"
)

const defaultMaxAttempts = 5

// Recorder applies engagement events, deferring failures to a retry queue.
type Recorder struct {
	store       store.Store
	queue       Queue
	logger      *slog.Logger
	maxAttempts int
	backoff     time.Duration
}

// NewRecorder builds a recorder. A nil queue disables retries.
func NewRecorder(st store.Store, queue Queue, logger *slog.Logger, maxAttempts int) *Recorder {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &Recorder{store: st, queue: queue, logger: logger, maxAttempts: maxAttempts, backoff: 200 * time.Millisecond}
}

// Record applies ev once and hands it to the retry queue on failure. It
// never returns an error; call it after the settlement has committed.
func (r *Recorder) Record(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	if ev.Attempt == 0 {
		ev.Attempt = 1
	}
	if err := r.apply(ctx, ev); err != nil {
		r.logger.Warn("engagement update failed, queueing retry",
			slog.String("agent_id", ev.AgentID),
			slog.String("counter_agent_id", ev.CounterAgentID),
			slog.Any("error", err),
		)
		r.retry(context.WithoutCancel(ctx), ev)
	}
}

// Run drains the retry queue with workers until ctx ends.
func (r *Recorder) Run(ctx context.Context, workers int) error {
	if r.queue == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	return r.queue.Consume(ctx, workers, r.handle)
}

// Get returns one counter.
func (r *Recorder) Get(ctx context.Context, agentID, counterAgentID, initiatorType string) (model.EngagementMetric, error) {
	var out model.EngagementMetric
	err := r.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.Metrics().Get(ctx, agentID, counterAgentID, initiatorType)
		return err
	})
	return out, err
}

func (r *Recorder) handle(ctx context.Context, ev Event) error {
	if err := r.apply(ctx, ev); err != nil {
		select {
		case <-ctx.Done():
		case <-time.After(r.backoff * time.Duration(ev.Attempt)):
		}
		r.retry(ctx, ev)
		return err
	}
	return nil
}

func (r *Recorder) retry(ctx context.Context, ev Event) {
	if ev.Attempt >= r.maxAttempts || r.queue == nil {
		r.logger.Error("engagement event dropped",
			slog.String("agent_id", ev.AgentID),
			slog.String("counter_agent_id", ev.CounterAgentID),
			slog.String("initiator_type", ev.InitiatorType),
			slog.String("amount", ev.Amount.String()),
			slog.Int("attempt", ev.Attempt),
		)
		return
	}
	ev.Attempt++
	if err := r.queue.Publish(ctx, ev); err != nil {
		r.logger.Error("engagement retry publish failed", slog.String("agent_id", ev.AgentID), slog.Any("error", err))
	}
}

func (r *Recorder) apply(ctx context.Context, ev Event) error {
	return r.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Metrics().Increment(ctx, ev.AgentID, ev.CounterAgentID, ev.InitiatorType, ev.Amount, ev.At)
	})
}
