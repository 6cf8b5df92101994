package store

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSQLiteStore_Outbox_EnqueueDedupe(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	id1, err := s.EnqueueOutboxMessage(ctx, "5511999999999", "welcome", `{"text":"oi"}`, "lead_1:5511999999999")
	if err != nil {
		t.Fatalf("EnqueueOutboxMessage failed: %v", err)
	}
	id2, err := s.EnqueueOutboxMessage(ctx, "5511999999999", "welcome", `{"text":"oi"}`, "lead_1:5511999999999")
	if err != nil {
		t.Fatalf("second EnqueueOutboxMessage failed: %v", err)
	}
	if id1 != id2 {
		t.Errorf("expected dedupe to return %q, got %q", id1, id2)
	}

	// A sent message still blocks a re-enqueue under the same key.
	if err := s.MarkOutboxMessageSent(ctx, id1); err != nil {
		t.Fatalf("MarkOutboxMessageSent failed: %v", err)
	}
	id3, err := s.EnqueueOutboxMessage(ctx, "5511999999999", "welcome", `{"text":"oi"}`, "lead_1:5511999999999")
	if err != nil {
		t.Fatalf("third EnqueueOutboxMessage failed: %v", err)
	}
	if id3 != id1 {
		t.Errorf("expected sent message to dedupe, got new id %q", id3)
	}

	id4, err := s.EnqueueOutboxMessage(ctx, "5511888888888", "lawyer_notification", `{"text":"novo lead"}`, "")
	if err != nil {
		t.Fatalf("EnqueueOutboxMessage without key failed: %v", err)
	}
	if id4 == id1 {
		t.Error("expected a new id for a message without dedupe key")
	}
}

func TestSQLiteStore_Outbox_ClaimAndRequeue(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	if _, err := s.EnqueueOutboxMessage(ctx, "5511999999999", "welcome", `{"text":"a"}`, ""); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if _, err := s.EnqueueOutboxMessage(ctx, "5511888888888", "welcome", `{"text":"b"}`, ""); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	now := time.Now()
	msgs, err := s.ClaimDueOutboxMessages(ctx, now, 10)
	if err != nil {
		t.Fatalf("ClaimDueOutboxMessages failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 claimed messages, got %d", len(msgs))
	}
	for _, m := range msgs {
		if m.Status != OutboxStatusSending {
			t.Errorf("expected sending status, got %q", m.Status)
		}
	}

	again, err := s.ClaimDueOutboxMessages(ctx, now, 10)
	if err != nil {
		t.Fatalf("second claim failed: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("expected claimed messages to be skipped, got %d", len(again))
	}

	n, err := s.RequeueStaleSendingMessages(ctx, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("RequeueStaleSendingMessages failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 requeued messages, got %d", n)
	}
}

func TestSQLiteStore_Outbox_FailSchedulesRetry(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	id, err := s.EnqueueOutboxMessage(ctx, "5511999999999", "welcome", `{}`, "")
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	now := time.Now()
	if _, err := s.ClaimDueOutboxMessages(ctx, now, 10); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if err := s.FailOutboxMessage(ctx, id, "boom", now.Add(time.Hour)); err != nil {
		t.Fatalf("FailOutboxMessage failed: %v", err)
	}

	msgs, err := s.ClaimDueOutboxMessages(ctx, now, 10)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected retry to wait for next_attempt_at, got %d messages", len(msgs))
	}
	msgs, err = s.ClaimDueOutboxMessages(ctx, now.Add(2*time.Hour), 10)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Attempts != 1 || msgs[0].LastError != "boom" {
		t.Errorf("unexpected retried message: %+v", msgs)
	}
}

func TestOutboxSender_SendsAndMarks(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	if _, err := s.EnqueueOutboxMessage(ctx, "5511999999999", "welcome", `{"text":"a"}`, ""); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	var sent atomic.Int32
	sender := NewOutboxSender(s, func(ctx context.Context, msg OutboxMessage) error {
		if msg.Recipient != "5511999999999" {
			t.Errorf("unexpected recipient %q", msg.Recipient)
		}
		sent.Add(1)
		return nil
	}, time.Second, WithSendRate(1000, 10))

	if n := sender.Poll(ctx); n != 1 {
		t.Errorf("Poll = %d, want 1", n)
	}
	if sent.Load() != 1 {
		t.Fatalf("expected 1 send, got %d", sent.Load())
	}

	var status string
	if err := s.db.QueryRow(`SELECT status FROM outbox_messages`).Scan(&status); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if status != string(OutboxStatusSent) {
		t.Errorf("expected sent status, got %q", status)
	}
}

func TestOutboxSender_AbandonsAfterMaxAttempts(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	if _, err := s.EnqueueOutboxMessage(ctx, "5511999999999", "welcome", `{}`, ""); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	clock := time.Now()
	var abandoned []string
	sender := NewOutboxSender(s, func(context.Context, OutboxMessage) error {
		return errors.New("transport down")
	}, time.Second, WithSendRate(1000, 10), WithMaxAttempts(2),
		WithAbandonHook(func(m OutboxMessage, _ error) { abandoned = append(abandoned, m.Kind) }))
	sender.now = func() time.Time { return clock }

	sender.Poll(ctx)
	clock = clock.Add(time.Hour)
	sender.Poll(ctx)

	var status string
	var attempts int
	if err := s.db.QueryRow(`SELECT status, attempts FROM outbox_messages`).Scan(&status, &attempts); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if status != string(OutboxStatusFailed) || attempts != 2 {
		t.Errorf("expected failed after 2 attempts, got status=%q attempts=%d", status, attempts)
	}
	if len(abandoned) != 1 || abandoned[0] != "welcome" {
		t.Errorf("abandon hook calls = %v", abandoned)
	}
}

func TestOutboxBackoff(t *testing.T) {
	cases := []struct {
		prior int
		want  time.Duration
	}{
		{0, 10 * time.Second},
		{1, 20 * time.Second},
		{3, 80 * time.Second},
		{6, 10 * time.Minute},
		{40, 10 * time.Minute},
	}
	for _, tc := range cases {
		if got := outboxBackoff(tc.prior); got != tc.want {
			t.Errorf("outboxBackoff(%d) = %v, want %v", tc.prior, got, tc.want)
		}
	}
}

func TestSQLiteStore_Outbox_FailedMessageFreesDedupeKey(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	key := "lead:lead_1:lawyer:+5511977776666"

	id1, err := s.EnqueueOutboxMessage(ctx, "5511977776666", "lawyer", `{"text":"novo lead"}`, key)
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := s.AbandonOutboxMessage(ctx, id1, "number not on WhatsApp"); err != nil {
		t.Fatalf("abandon failed: %v", err)
	}
	id2, err := s.EnqueueOutboxMessage(ctx, "5511977776666", "lawyer", `{"text":"novo lead"}`, key)
	if err != nil {
		t.Fatalf("re-enqueue failed: %v", err)
	}
	if id2 == id1 {
		t.Error("expected a failed message to free its dedupe key")
	}

	m, err := s.GetOutboxMessage(ctx, id1)
	if err != nil {
		t.Fatalf("GetOutboxMessage failed: %v", err)
	}
	if m.Status != OutboxStatusFailed || m.LastError != "number not on WhatsApp" || m.DedupeKey != key {
		t.Errorf("abandoned message = %+v", m)
	}
	if _, err := s.GetOutboxMessage(ctx, "outbox_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing message error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_Outbox_Backlog(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	for _, r := range []string{"5511900000001", "5511900000002", "5511900000003"} {
		if _, err := s.EnqueueOutboxMessage(ctx, r, "welcome", `{}`, ""); err != nil {
			t.Fatal(err)
		}
	}
	msgs, err := s.ClaimDueOutboxMessages(ctx, time.Now(), 1)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("claim = %v, %v", msgs, err)
	}
	if err := s.MarkOutboxMessageSent(ctx, msgs[0].ID); err != nil {
		t.Fatal(err)
	}

	counts, err := s.OutboxBacklog(ctx)
	if err != nil {
		t.Fatalf("OutboxBacklog failed: %v", err)
	}
	if counts[OutboxStatusQueued] != 2 || counts[OutboxStatusSent] != 1 || counts[OutboxStatusSending] != 0 {
		t.Errorf("backlog = %v", counts)
	}
}

func TestOutboxRebind(t *testing.T) {
	pg := &outboxTable{postgres: true}
	if got := pg.rebind(`UPDATE t SET a = ? WHERE b = ? AND c = ?`); got != `UPDATE t SET a = $1 WHERE b = $2 AND c = $3` {
		t.Errorf("postgres rebind = %q", got)
	}
	lite := &outboxTable{}
	if got := lite.rebind(`SELECT ?`); got != `SELECT ?` {
		t.Errorf("sqlite rebind = %q", got)
	}
}
