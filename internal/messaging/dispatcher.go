package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/IntakePipe/internal/flow"
	"github.com/BTreeMap/IntakePipe/internal/store"
)

// OutboxKindText is the outbox kind of a plain text message.
const OutboxKindText = "text"

// DirectDispatcher sends completion messages immediately through a Service.
type DirectDispatcher struct {
	svc Service
}

var _ flow.MessageDispatcher = (*DirectDispatcher)(nil)

func NewDirectDispatcher(svc Service) *DirectDispatcher {
	return &DirectDispatcher{svc: svc}
}

func (d *DirectDispatcher) Send(ctx context.Context, recipient, text string) (string, error) {
	return d.svc.SendMessage(ctx, recipient, text)
}

type textPayload struct {
	Text string `json:"text"`
}

// OutboxDispatcher enqueues completion messages into the durable outbox; an
// store.OutboxSender built with OutboxSendFunc delivers them.
type OutboxDispatcher struct {
	repo store.OutboxRepo
}

var (
	_ flow.MessageDispatcher = (*OutboxDispatcher)(nil)
	_ flow.OnceDispatcher    = (*OutboxDispatcher)(nil)
)

func NewOutboxDispatcher(repo store.OutboxRepo) *OutboxDispatcher {
	return &OutboxDispatcher{repo: repo}
}

// Send enqueues text without a dedupe key and returns the outbox id.
func (d *OutboxDispatcher) Send(ctx context.Context, recipient, text string) (string, error) {
	return d.SendOnce(ctx, "", recipient, text)
}

// SendOnce enqueues text unless a message with the same dedupe key is pending or sent.
func (d *OutboxDispatcher) SendOnce(ctx context.Context, dedupeKey, recipient, text string) (string, error) {
	payload, err := json.Marshal(textPayload{Text: text})
	if err != nil {
		return "", err
	}
	id, err := d.repo.EnqueueOutboxMessage(ctx, recipient, OutboxKindText, string(payload), dedupeKey)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue outbox message: %w", err)
	}
	slog.Debug("OutboxDispatcher.SendOnce: enqueued", "id", id, "recipient", recipient, "dedupeKey", dedupeKey)
	return id, nil
}

// OutboxSendFunc delivers outbox messages through svc.
func OutboxSendFunc(svc Service) store.OutboxSendFunc {
	return func(ctx context.Context, msg store.OutboxMessage) error {
		if msg.Kind != OutboxKindText {
			return fmt.Errorf("unsupported outbox kind %q", msg.Kind)
		}
		var p textPayload
		if err := json.Unmarshal([]byte(msg.PayloadJSON), &p); err != nil {
			return fmt.Errorf("invalid outbox payload: %w", err)
		}
		_, err := svc.SendMessage(ctx, msg.Recipient, p.Text)
		return err
	}
}
