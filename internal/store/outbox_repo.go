package store

import (
	"context"
	"time"
)

// OutboxStatus is the delivery state of a queued notification.
type OutboxStatus string

// A message moves queued -> sending -> sent, or back to queued on a retryable failure,
// or to failed once its attempts are spent.
const (
	OutboxStatusQueued  OutboxStatus = "queued"
	OutboxStatusSending OutboxStatus = "sending"
	OutboxStatusSent    OutboxStatus = "sent"
	OutboxStatusFailed  OutboxStatus = "failed"
)

// OutboxMessage is a durable outgoing notification (lead welcome, internal or lawyer alert).
type OutboxMessage struct {
	ID            string       `json:"id"`
	Recipient     string       `json:"recipient"`
	Kind          string       `json:"kind"`
	PayloadJSON   string       `json:"payload_json"`
	Status        OutboxStatus `json:"status"`
	Attempts      int          `json:"attempts"`
	NextAttemptAt *time.Time   `json:"next_attempt_at"`
	DedupeKey     string       `json:"dedupe_key"`
	LockedAt      *time.Time   `json:"locked_at"`
	LastError     string       `json:"last_error"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// OutboxRepo persists outgoing notifications so they survive restarts and transport outages.
type OutboxRepo interface {
	// EnqueueOutboxMessage queues a message. While a queued, sending or sent message holds
	// dedupeKey, its id is returned instead; only a failed message frees the key.
	EnqueueOutboxMessage(ctx context.Context, recipient, kind, payloadJSON, dedupeKey string) (string, error)

	// ClaimDueOutboxMessages moves up to limit due queued messages to sending, oldest first.
	ClaimDueOutboxMessages(ctx context.Context, now time.Time, limit int) ([]OutboxMessage, error)

	MarkOutboxMessageSent(ctx context.Context, id string) error

	// FailOutboxMessage requeues a message for another attempt at nextAttemptAt.
	FailOutboxMessage(ctx context.Context, id string, errMsg string, nextAttemptAt time.Time) error

	// AbandonOutboxMessage marks a message failed for good.
	AbandonOutboxMessage(ctx context.Context, id string, errMsg string) error

	// RequeueStaleSendingMessages returns messages claimed before staleBefore to queued.
	RequeueStaleSendingMessages(ctx context.Context, staleBefore time.Time) (int, error)
}

// OutboxInspector exposes read access for health reporting and tests.
type OutboxInspector interface {
	OutboxBacklog(ctx context.Context) (map[OutboxStatus]int, error)
	GetOutboxMessage(ctx context.Context, id string) (*OutboxMessage, error)
}
