package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Compile-time check that SQLiteStore implements DedupRepo.
var _ DedupRepo = (*SQLiteStore)(nil)

func (s *SQLiteStore) RecordInbound(ctx context.Context, messageID, sessionID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO inbound_dedup (message_id, session_id, received_at) VALUES (?, ?, ?)`,
		messageID, sessionID, time.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("dedup rows affected check failed: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	var processedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `SELECT processed_at FROM inbound_dedup WHERE message_id = ?`, messageID).Scan(&processedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return processedAt.Valid, nil
}

func (s *SQLiteStore) MarkProcessed(ctx context.Context, messageID string) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO inbound_dedup (message_id, received_at, processed_at) VALUES (?, ?, ?)
		 ON CONFLICT (message_id) DO UPDATE SET processed_at = excluded.processed_at`,
		messageID, now, now,
	)
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

var _ DedupPruner = (*SQLiteStore)(nil)

func (s *SQLiteStore) PruneDedup(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM inbound_dedup WHERE received_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune dedup failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
