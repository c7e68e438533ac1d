// Package notification tells agents about events that concern them. Delivery
// is best effort and happens after the triggering unit of work commits.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const (
	KindProposalReceived   = "negotiation.proposed"
	KindNegotiationUpdated = "negotiation.updated"
	KindDeliveryRecorded   = "agreement.delivered"
	KindEscrowReleased     = "escrow.released"
	KindEscrowRefunded     = "escrow.refunded"
	KindPaymentReceived    = "payment.received"
)

// Message describes a notification payload. Destination is an agent or
// owner id.
type Message struct {
	Kind        string `json:"kind"`
	Destination string `json:"destination"`
	Subject     string `json:"subject,omitempty"`
	Body        string `json:"body"`
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the structured logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		slog.String("kind", message.Kind),
		slog.String("destination", message.Destination),
		slog.String("subject", message.Subject),
		slog.String("body", message.Body),
	)
	return nil
}

// RedisNotifier publishes each message as JSON on a per-destination Redis
// channel, prefix + destination.
type RedisNotifier struct {
	client *redis.Client
	prefix string
}

// NewRedisNotifier builds a pub/sub notifier on an existing client.
func NewRedisNotifier(client *redis.Client, prefix string) *RedisNotifier {
	if prefix == "" {
		prefix = "agentpay:notify:"
	}
	return &RedisNotifier{client: client, prefix: prefix}
}

// Channel returns the channel messages for destination are published on.
func (n *RedisNotifier) Channel(destination string) string {
	return n.prefix + destination
}

// Send publishes the message.
func (n *RedisNotifier) Send(ctx context.Context, message Message) error {
	body, err := json.Marshal(message)
	if err != nil {
		return err
	}
	if err := n.client.Publish(ctx, n.Channel(message.Destination), body).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Fanout sends to every notifier and returns the first error.
type Fanout []Notifier

// Send implements Notifier.
func (f Fanout) Send(ctx context.Context, message Message) error {
	var first error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Send(ctx, message); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Notify sends message and logs a failure instead of returning it.
func Notify(ctx context.Context, n Notifier, logger *slog.Logger, message Message) {
	if n == nil {
		return
	}
	if err := n.Send(ctx, message); err != nil && logger != nil {
		logger.Warn("notification failed", slog.String("kind", message.Kind), slog.String("destination", message.Destination), slog.Any("error", err))
	}
}
