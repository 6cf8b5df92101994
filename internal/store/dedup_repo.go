// Package store provides the DedupRepo interface for inbound message deduplication.
package store

import (
	"context"
	"time"
)

// DefaultDedupTTL bounds how long a transport message id is remembered by expiring backends.
const DefaultDedupTTL = 72 * time.Hour

// DedupRecord represents an inbound message deduplication record.
type DedupRecord struct {
	MessageID   string     `json:"message_id"`
	SessionID   string     `json:"session_id"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// DedupRepo defines the interface for inbound message deduplication.
//
// A message id is recorded before processing and marked processed once the reply has been
// committed. A recorded but unprocessed id may be processed again, so a delivery whose first
// attempt failed is retried rather than dropped.
type DedupRepo interface {
	// RecordInbound inserts a new inbound message record. Returns false if the
	// message was already recorded.
	RecordInbound(ctx context.Context, messageID, sessionID string) (bool, error)

	// IsProcessed reports whether a message id has been fully processed.
	IsProcessed(ctx context.Context, messageID string) (bool, error)

	// MarkProcessed sets the processed_at timestamp for a message.
	MarkProcessed(ctx context.Context, messageID string) error
}

// DedupPruner is implemented by backends whose dedup records do not expire on their own.
type DedupPruner interface {
	// PruneDedup deletes records received before cutoff and returns how many were removed.
	PruneDedup(ctx context.Context, cutoff time.Time) (int, error)
}
