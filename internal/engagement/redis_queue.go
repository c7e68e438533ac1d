package engagement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentpay/agentpay/internal/logging"
)

const defaultRedisKey = "agentpay:engagement:retry"

// RedisQueue keeps events on a Redis list: LPUSH to publish, BRPOP to consume.
type RedisQueue struct {
	client     *redis.Client
	key        string
	wait       time.Duration
	logger     *slog.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
}

// RedisOption customises a RedisQueue.
type RedisOption func(*RedisQueue)

// WithRedisLogger sets the logger for consumer errors.
func WithRedisLogger(logger *slog.Logger) RedisOption {
	return func(q *RedisQueue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithRedisBackoff bounds the pause between failed reads.
func WithRedisBackoff(min, max time.Duration) RedisOption {
	return func(q *RedisQueue) {
		if min > 0 {
			q.minBackoff = min
		}
		if max >= q.minBackoff {
			q.maxBackoff = max
		}
	}
}

// NewRedisQueue builds a queue on an existing client. The client is owned by
// the caller.
func NewRedisQueue(client *redis.Client, key string, wait time.Duration, opts ...RedisOption) (*RedisQueue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if key == "" {
		key = defaultRedisKey
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	q := &RedisQueue{
		client:     client,
		key:        key,
		wait:       wait,
		logger:     logging.Discard(),
		minBackoff: 100 * time.Millisecond,
		maxBackoff: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Publish implements Producer.
func (q *RedisQueue) Publish(ctx context.Context, ev Event) error {
	body, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.key, body).Err(); err != nil {
		return fmt.Errorf("publish engagement event: %w", err)
	}
	return nil
}

// Consume implements Consumer. Undecodable entries are dropped. Read errors
// are logged and retried with backoff; workers stop only when ctx ends or
// the client is closed.
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	errCh := make(chan error, workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			errCh <- q.work(ctx, handler)
		}()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (q *RedisQueue) work(ctx context.Context, handler Handler) error {
	backoff := q.minBackoff
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		values, err := q.client.BRPop(ctx, q.wait, q.key).Result()
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				continue
			case ctx.Err() != nil:
				return ctx.Err()
			case errors.Is(err, redis.ErrClosed):
				return err
			}
			q.logger.Warn("engagement queue read failed", slog.String("key", q.key), slog.Duration("retry_in", backoff), slog.Any("error", err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > q.maxBackoff {
				backoff = q.maxBackoff
			}
			continue
		}
		backoff = q.minBackoff
		if len(values) != 2 {
			continue
		}
		ev, err := decodeEvent([]byte(values[1]))
		if err != nil {
			q.logger.Warn("dropping undecodable engagement event", slog.Any("error", err))
			continue
		}
		_ = handler(ctx, ev)
	}
}

// Len reports how many events are waiting.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

// Close implements Producer and Consumer. The shared client stays open.
func (q *RedisQueue) Close() error {
	return nil
}
