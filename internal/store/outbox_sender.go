package store

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// Outbox delivery defaults.
const (
	DefaultOutboxMaxAttempts = 6
	DefaultOutboxPoll        = 5 * time.Second
	DefaultOutboxStaleAfter  = 5 * time.Minute
	DefaultOutboxBatch       = 10

	outboxBaseBackoff = 10 * time.Second
	outboxMaxBackoff  = 10 * time.Minute
)

// OutboxSendFunc delivers one claimed message. A non-nil error schedules a retry.
type OutboxSendFunc func(ctx context.Context, msg OutboxMessage) error

// AbandonFunc is told about a message that ran out of attempts.
type AbandonFunc func(msg OutboxMessage, lastErr error)

// OutboxSender drains the outbox: it claims due messages in batches, paces delivery with a
// token bucket and reschedules failures with capped exponential backoff.
type OutboxSender struct {
	repo        OutboxRepo
	send        OutboxSendFunc
	interval    time.Duration
	staleAfter  time.Duration
	batch       int
	maxAttempts int
	limiter     *rate.Limiter
	onAbandon   AbandonFunc
	now         func() time.Time
}

// OutboxSenderOption configures an OutboxSender.
type OutboxSenderOption func(*OutboxSender)

// WithSendRate limits delivery to perSecond messages with the given burst.
func WithSendRate(perSecond float64, burst int) OutboxSenderOption {
	return func(s *OutboxSender) {
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
	}
}

func WithMaxAttempts(n int) OutboxSenderOption {
	return func(s *OutboxSender) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithAbandonHook registers fn to run after a message is marked failed for good.
func WithAbandonHook(fn AbandonFunc) OutboxSenderOption {
	return func(s *OutboxSender) { s.onAbandon = fn }
}

// NewOutboxSender builds a sender over repo. A non-positive interval uses DefaultOutboxPoll.
func NewOutboxSender(repo OutboxRepo, send OutboxSendFunc, interval time.Duration, opts ...OutboxSenderOption) *OutboxSender {
	if interval <= 0 {
		interval = DefaultOutboxPoll
	}
	s := &OutboxSender{
		repo:        repo,
		send:        send,
		interval:    interval,
		staleAfter:  DefaultOutboxStaleAfter,
		batch:       DefaultOutboxBatch,
		maxAttempts: DefaultOutboxMaxAttempts,
		limiter:     rate.NewLimiter(rate.Limit(1), 3),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecoverStaleMessages puts messages left in the sending state by a crashed process back in
// the queue. It runs at startup and periodically from the scheduler.
func (s *OutboxSender) RecoverStaleMessages(ctx context.Context) error {
	n, err := s.repo.RequeueStaleSendingMessages(ctx, s.now().Add(-s.staleAfter))
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("OutboxSender.RecoverStaleMessages: requeued stale messages", "count", n)
	}
	return nil
}

// Run polls until ctx is done.
func (s *OutboxSender) Run(ctx context.Context) {
	slog.Info("OutboxSender.Run: started", "interval", s.interval, "maxAttempts", s.maxAttempts)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("OutboxSender.Run: stopped")
			return
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll claims one batch of due messages and delivers them. It returns how many were sent.
func (s *OutboxSender) Poll(ctx context.Context) int {
	now := s.now()
	claimed, err := s.repo.ClaimDueOutboxMessages(ctx, now, s.batch)
	if err != nil {
		slog.Error("OutboxSender.Poll: claim failed", "error", err)
		return 0
	}

	sent := 0
	for i, msg := range claimed {
		if err := s.limiter.Wait(ctx); err != nil {
			s.release(context.WithoutCancel(ctx), claimed[i:], now)
			return sent
		}
		if err := s.send(ctx, msg); err != nil {
			s.retryOrAbandon(ctx, msg, err, now)
			continue
		}
		if err := s.repo.MarkOutboxMessageSent(ctx, msg.ID); err != nil {
			slog.Error("OutboxSender.Poll: mark sent failed", "id", msg.ID, "error", err)
			continue
		}
		sent++
		slog.Debug("OutboxSender.Poll: delivered", "id", msg.ID, "kind", msg.Kind, "recipient", msg.Recipient)
	}
	return sent
}

// release hands claimed but unsent messages back to the queue, due immediately.
func (s *OutboxSender) release(ctx context.Context, msgs []OutboxMessage, due time.Time) {
	for _, m := range msgs {
		if err := s.repo.FailOutboxMessage(ctx, m.ID, "sender stopped", due); err != nil {
			slog.Error("OutboxSender.release: requeue failed", "id", m.ID, "error", err)
		}
	}
}

func (s *OutboxSender) retryOrAbandon(ctx context.Context, msg OutboxMessage, sendErr error, now time.Time) {
	attempt := msg.Attempts + 1
	if attempt >= s.maxAttempts {
		slog.Error("OutboxSender.Poll: abandoning message", "id", msg.ID, "kind", msg.Kind, "attempts", attempt, "error", sendErr)
		if err := s.repo.AbandonOutboxMessage(ctx, msg.ID, sendErr.Error()); err != nil {
			slog.Error("OutboxSender.Poll: abandon failed", "id", msg.ID, "error", err)
			return
		}
		if s.onAbandon != nil {
			s.onAbandon(msg, sendErr)
		}
		return
	}
	next := now.Add(outboxBackoff(msg.Attempts))
	slog.Warn("OutboxSender.Poll: send failed, will retry", "id", msg.ID, "attempt", attempt, "next", next, "error", sendErr)
	if err := s.repo.FailOutboxMessage(ctx, msg.ID, sendErr.Error(), next); err != nil {
		slog.Error("OutboxSender.Poll: reschedule failed", "id", msg.ID, "error", err)
	}
}

// outboxBackoff doubles from outboxBaseBackoff per prior attempt, capped at outboxMaxBackoff.
func outboxBackoff(prior int) time.Duration {
	if prior >= 16 {
		return outboxMaxBackoff
	}
	return min(outboxBaseBackoff<<prior, outboxMaxBackoff)
}
