package engagement

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Initiator types recorded on engagement counters.
const (
	InitiatorNegotiation = "NEGOTIATION"
	InitiatorExecution   = "EXECUTION"
)

// Event is one settled interaction between two agents.
type Event struct {
	AgentID        string          `json:"agent_id"`
	CounterAgentID string          `json:"counter_agent_id"`
	InitiatorType  string          `json:"initiator_type"`
	Amount         decimal.Decimal `json:"amount"`
	At             time.Time       `json:"at"`
	Attempt        int             `json:"attempt"`
}

func encodeEvent(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

func decodeEvent(body []byte) (Event, error) {
	var ev Event
	err := json.Unmarshal(body, &ev)
	return ev, err
}

// Handler processes one queued event.
type Handler func(ctx context.Context, ev Event) error

// Producer publishes events for asynchronous processing.
type Producer interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Consumer drains events with a pool of workers until ctx ends.
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue is both ends of the retry queue.
type Queue interface {
	Producer
	Consumer
}
