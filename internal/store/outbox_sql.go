package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/util"
)

const outboxColumns = `id, recipient, kind, payload_json, status, attempts, next_attempt_at, dedupe_key, locked_at, last_error, created_at, updated_at`

// outboxTable implements OutboxRepo over database/sql for both SQL backends. Queries are
// written with ? placeholders and rebound for Postgres.
type outboxTable struct {
	db       *sql.DB
	postgres bool
	name     string // owning store, for logs
}

var _ OutboxRepo = (*outboxTable)(nil)

func (t *outboxTable) rebind(query string) string {
	if !t.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (t *outboxTable) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.db.ExecContext(ctx, t.rebind(query), args...)
}

func (t *outboxTable) EnqueueOutboxMessage(ctx context.Context, recipient, kind, payloadJSON, dedupeKey string) (string, error) {
	id := util.GenerateRandomID("outbox_", 32)
	now := time.Now()

	// The partial unique index on dedupe_key makes the insert a no-op while a live message holds the key.
	res, err := t.exec(ctx,
		`INSERT INTO outbox_messages (id, recipient, kind, payload_json, status, attempts, dedupe_key, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 'queued', 0, ?, ?, ?)
		 ON CONFLICT (dedupe_key) WHERE status <> 'failed' DO NOTHING`,
		id, recipient, kind, payloadJSON, nullable(dedupeKey), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("enqueue outbox message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		slog.Debug(t.name+".EnqueueOutboxMessage: queued", "id", id, "recipient", recipient, "kind", kind)
		return id, nil
	}

	var existing string
	err = t.db.QueryRowContext(ctx,
		t.rebind(`SELECT id FROM outbox_messages WHERE dedupe_key = ? AND status <> 'failed'`), dedupeKey,
	).Scan(&existing)
	if err != nil {
		return "", fmt.Errorf("outbox dedupe lookup for %s: %w", dedupeKey, err)
	}
	slog.Debug(t.name+".EnqueueOutboxMessage: dedupe hit", "dedupeKey", dedupeKey, "existingID", existing)
	return existing, nil
}

func (t *outboxTable) ClaimDueOutboxMessages(ctx context.Context, now time.Time, limit int) ([]OutboxMessage, error) {
	lock := ""
	if t.postgres {
		lock = " FOR UPDATE SKIP LOCKED"
	}
	rows, err := t.db.QueryContext(ctx, t.rebind(
		`UPDATE outbox_messages SET status = 'sending', locked_at = ?, updated_at = ?
		 WHERE id IN (
		   SELECT id FROM outbox_messages
		   WHERE status = 'queued' AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		   ORDER BY created_at ASC LIMIT ?`+lock+`
		 )
		 RETURNING `+outboxColumns),
		now, now, now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due outbox messages: %w", err)
	}
	defer rows.Close()

	var msgs []OutboxMessage
	for rows.Next() {
		m, err := scanOutboxMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim due outbox messages: %w", err)
	}
	// RETURNING order is unspecified.
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	return msgs, nil
}

func (t *outboxTable) MarkOutboxMessageSent(ctx context.Context, id string) error {
	if _, err := t.exec(ctx,
		`UPDATE outbox_messages SET status = 'sent', locked_at = NULL, updated_at = ? WHERE id = ?`,
		time.Now(), id,
	); err != nil {
		return fmt.Errorf("mark outbox message %s sent: %w", id, err)
	}
	return nil
}

func (t *outboxTable) FailOutboxMessage(ctx context.Context, id string, errMsg string, nextAttemptAt time.Time) error {
	if _, err := t.exec(ctx,
		`UPDATE outbox_messages
		 SET status = 'queued', attempts = attempts + 1, last_error = ?, next_attempt_at = ?, locked_at = NULL, updated_at = ?
		 WHERE id = ?`,
		errMsg, nextAttemptAt, time.Now(), id,
	); err != nil {
		return fmt.Errorf("reschedule outbox message %s: %w", id, err)
	}
	return nil
}

func (t *outboxTable) AbandonOutboxMessage(ctx context.Context, id string, errMsg string) error {
	if _, err := t.exec(ctx,
		`UPDATE outbox_messages SET status = 'failed', attempts = attempts + 1, last_error = ?, locked_at = NULL, updated_at = ? WHERE id = ?`,
		errMsg, time.Now(), id,
	); err != nil {
		return fmt.Errorf("abandon outbox message %s: %w", id, err)
	}
	return nil
}

func (t *outboxTable) RequeueStaleSendingMessages(ctx context.Context, staleBefore time.Time) (int, error) {
	res, err := t.exec(ctx,
		`UPDATE outbox_messages SET status = 'queued', locked_at = NULL, updated_at = ? WHERE status = 'sending' AND locked_at < ?`,
		time.Now(), staleBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale outbox messages: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		slog.Info(t.name+".RequeueStaleSendingMessages: requeued", "count", n)
	}
	return int(n), nil
}

// OutboxBacklog counts messages by status.
func (t *outboxTable) OutboxBacklog(ctx context.Context) (map[OutboxStatus]int, error) {
	rows, err := t.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM outbox_messages GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("outbox backlog: %w", err)
	}
	defer rows.Close()
	counts := make(map[OutboxStatus]int)
	for rows.Next() {
		var status OutboxStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("outbox backlog: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// GetOutboxMessage loads one message by id.
func (t *outboxTable) GetOutboxMessage(ctx context.Context, id string) (*OutboxMessage, error) {
	rows, err := t.db.QueryContext(ctx, t.rebind(`SELECT `+outboxColumns+` FROM outbox_messages WHERE id = ?`), id)
	if err != nil {
		return nil, fmt.Errorf("get outbox message %s: %w", id, err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	m, err := scanOutboxMessage(rows)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func scanOutboxMessage(rows *sql.Rows) (OutboxMessage, error) {
	var (
		m                             OutboxMessage
		payload, dedupeKey, lastError sql.NullString
		nextAttemptAt, lockedAt       sql.NullTime
	)
	if err := rows.Scan(
		&m.ID, &m.Recipient, &m.Kind, &payload, &m.Status, &m.Attempts,
		&nextAttemptAt, &dedupeKey, &lockedAt, &lastError, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return m, fmt.Errorf("scan outbox message: %w", err)
	}
	m.PayloadJSON = payload.String
	m.DedupeKey = dedupeKey.String
	m.LastError = lastError.String
	if nextAttemptAt.Valid {
		m.NextAttemptAt = &nextAttemptAt.Time
	}
	if lockedAt.Valid {
		m.LockedAt = &lockedAt.Time
	}
	return m, nil
}

// nullable maps "" to SQL NULL so empty dedupe keys never collide.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
