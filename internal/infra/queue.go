package infra

import (
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/agentpay/agentpay/internal/config"
	"github.com/agentpay/agentpay/internal/engagement"
)

const memoryQueueSize = 1024

// NewMetricsQueue builds the engagement retry queue selected by
// METRICS_QUEUE. The redis backend shares cache; the caller keeps owning it.
func NewMetricsQueue(cfg config.Config, cache *redis.Client, logger *slog.Logger) (engagement.Queue, error) {
	switch cfg.MetricsQueue {
	case config.QueueRedis:
		if cache == nil {
			return nil, fmt.Errorf("metrics queue %q needs a redis client", cfg.MetricsQueue)
		}
		q, err := engagement.NewRedisQueue(cache, "", 0, engagement.WithRedisLogger(logger))
		if err != nil {
			return nil, err
		}
		return q, nil
	case config.QueueRabbitMQ:
		q, err := engagement.NewRabbitMQQueue(engagement.RabbitMQConfig{
			URL:      cfg.RabbitMQURL,
			Prefetch: cfg.MetricsWorkers,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		return q, nil
	default:
		return engagement.NewMemoryQueue(memoryQueueSize), nil
	}
}
