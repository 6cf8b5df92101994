package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Compile-time check that PostgresStore implements DedupRepo.
var _ DedupRepo = (*PostgresStore)(nil)

func (s *PostgresStore) RecordInbound(ctx context.Context, messageID, sessionID string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO inbound_dedup (message_id, session_id, received_at) VALUES ($1, $2, $3) ON CONFLICT (message_id) DO NOTHING`,
		messageID, sessionID, time.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("dedup rows affected check failed: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	var processedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `SELECT processed_at FROM inbound_dedup WHERE message_id = $1`, messageID).Scan(&processedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return processedAt.Valid, nil
}

func (s *PostgresStore) MarkProcessed(ctx context.Context, messageID string) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO inbound_dedup (message_id, received_at, processed_at) VALUES ($1, $2, $2)
		 ON CONFLICT (message_id) DO UPDATE SET processed_at = EXCLUDED.processed_at`,
		messageID, now,
	)
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

var _ DedupPruner = (*PostgresStore)(nil)

func (s *PostgresStore) PruneDedup(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM inbound_dedup WHERE received_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune dedup failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
