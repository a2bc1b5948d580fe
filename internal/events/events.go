package events

import (
	"context"
	"time"
)

const (
	TypeInvoiceFinalized  = "invoice.finalized"
	TypeTransactionVoided = "transaction.voided"
	TypePendingCreated    = "pending.created"
)

// Event is published after a settlement commits. Key is the pending
// transaction id so every event for one sale lands on the same partition.
type Event struct {
	Type       string    `json:"type"`
	Key        string    `json:"key"`
	OccurredAt time.Time `json:"occurredAt"`
	Payload    any       `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

type NopPublisher struct{}

func (NopPublisher) Publish(_ context.Context, _ Event) error { return nil }

func (NopPublisher) Close() error { return nil }
