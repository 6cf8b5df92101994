package messaging

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/flow"
	"github.com/BTreeMap/IntakePipe/internal/models"
	"golang.org/x/sync/semaphore"
)

// SessionPrefix prefixes session ids derived from a WhatsApp number.
const SessionPrefix = "whatsapp_"

// Processor handles one inbound message; implemented by flow.Orchestrator.
type Processor interface {
	ProcessMessage(ctx context.Context, in flow.Incoming) (flow.Response, error)
}

// Router defaults.
const (
	DefaultMaxConcurrentSessions = 32
	DefaultSessionQueueSize      = 16
	DefaultSessionIdle           = 30 * time.Second
)

// InboundRouter feeds inbound messages from a Service into the orchestrator and sends
// each reply back to the sender. Each session gets its own worker, so messages from one
// sender stay ordered while a slow AI call for one sender does not hold up the others.
type InboundRouter struct {
	svc       Service
	processor Processor
	sem       *semaphore.Weighted
	idle      time.Duration

	mu      sync.Mutex
	queues  map[string]chan models.InboundMessage
	workers sync.WaitGroup
}

// RouterOption configures an InboundRouter.
type RouterOption func(*InboundRouter)

// WithMaxConcurrentSessions caps how many sessions are processed at the same time.
func WithMaxConcurrentSessions(n int) RouterOption {
	return func(r *InboundRouter) {
		if n > 0 {
			r.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithSessionIdle sets how long a session worker waits for more messages before exiting.
func WithSessionIdle(d time.Duration) RouterOption {
	return func(r *InboundRouter) {
		if d > 0 {
			r.idle = d
		}
	}
}

// NewInboundRouter creates a router.
func NewInboundRouter(svc Service, processor Processor, opts ...RouterOption) *InboundRouter {
	r := &InboundRouter{
		svc:       svc,
		processor: processor,
		sem:       semaphore.NewWeighted(DefaultMaxConcurrentSessions),
		idle:      DefaultSessionIdle,
		queues:    make(map[string]chan models.InboundMessage),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SessionIDFor derives the stable session id for a sender phone number.
func SessionIDFor(digits string) string {
	return SessionPrefix + digits
}

// Run consumes Responses() until the channel closes or ctx is done. When the channel closes,
// queued messages are finished before Run returns.
func (r *InboundRouter) Run(ctx context.Context) {
	slog.Info("InboundRouter.Run: started")
	defer slog.Info("InboundRouter.Run: stopped")
	defer r.workers.Wait()
	for {
		select {
		case msg, ok := <-r.svc.Responses():
			if !ok {
				r.closeQueues()
				return
			}
			from, err := r.svc.ValidateAndCanonicalizeRecipient(msg.From)
			if err != nil {
				slog.Warn("InboundRouter.Run: dropping message from invalid sender", "error", err, "from", msg.From, "id", msg.ID)
				continue
			}
			r.enqueue(ctx, SessionIDFor(from), msg)
		case <-ctx.Done():
			return
		}
	}
}

// enqueue hands msg to the worker of sessionID, starting one if needed. A worker only retires
// with an empty queue, checked under mu, so a message placed here is always picked up.
func (r *InboundRouter) enqueue(ctx context.Context, sessionID string, msg models.InboundMessage) {
	r.mu.Lock()
	q, ok := r.queues[sessionID]
	if !ok {
		q = make(chan models.InboundMessage, DefaultSessionQueueSize)
		r.queues[sessionID] = q
		r.workers.Add(1)
		go r.work(ctx, sessionID, q)
	}
	select {
	case q <- msg:
		r.mu.Unlock()
		return
	default:
	}
	r.mu.Unlock()

	slog.Warn("InboundRouter.enqueue: session queue full, waiting", "sessionID", sessionID)
	select {
	case q <- msg:
	case <-ctx.Done():
	}
}

func (r *InboundRouter) closeQueues() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, q := range r.queues {
		close(q)
		delete(r.queues, id)
	}
}

// work processes the messages of one session in arrival order and exits after r.idle without
// new messages.
func (r *InboundRouter) work(ctx context.Context, sessionID string, q chan models.InboundMessage) {
	defer r.workers.Done()
	idle := time.NewTimer(r.idle)
	defer idle.Stop()
	for {
		select {
		case msg, ok := <-q:
			if !ok {
				return
			}
			r.handleLimited(ctx, msg)
			idle.Reset(r.idle)
		case <-idle.C:
			if r.retire(sessionID, q) {
				return
			}
			idle.Reset(r.idle)
		case <-ctx.Done():
			return
		}
	}
}

// retire removes the worker's queue if nothing arrived in the meantime.
func (r *InboundRouter) retire(sessionID string, q chan models.InboundMessage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(q) > 0 {
		return false
	}
	if r.queues[sessionID] == q {
		delete(r.queues, sessionID)
	}
	return true
}

func (r *InboundRouter) handleLimited(ctx context.Context, msg models.InboundMessage) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer r.sem.Release(1)
	if err := r.Handle(ctx, msg); err != nil {
		slog.Error("InboundRouter.Run: failed to handle message", "error", err, "from", msg.From, "id", msg.ID)
	}
}

// Handle processes one inbound message and sends the reply.
func (r *InboundRouter) Handle(ctx context.Context, msg models.InboundMessage) error {
	from, err := r.svc.ValidateAndCanonicalizeRecipient(msg.From)
	if err != nil {
		return err
	}
	in := flow.Incoming{
		Message:   msg.Body,
		SessionID: SessionIDFor(from),
		Platform:  models.PlatformMessaging,
		MessageID: msg.ID,
		From:      from,
	}

	resp, err := r.processor.ProcessMessage(ctx, in)
	if errors.Is(err, flow.ErrSessionConflict) {
		slog.Debug("InboundRouter.Handle: session conflict, retrying once", "sessionID", in.SessionID)
		resp, err = r.processor.ProcessMessage(ctx, in)
	}
	if err != nil {
		slog.Error("InboundRouter.Handle: processing failed", "error", err, "sessionID", in.SessionID)
		if _, sendErr := r.svc.SendMessage(ctx, from, flow.RetryLaterMessage); sendErr != nil {
			slog.Error("InboundRouter.Handle: failed to send retry notice", "error", sendErr, "to", from)
		}
		return err
	}
	if resp.Duplicate {
		slog.Info("InboundRouter.Handle: duplicate delivery, reply already sent", "sessionID", in.SessionID, "id", msg.ID)
		return nil
	}
	if resp.Text == "" {
		return nil
	}
	if _, err := r.svc.SendMessage(ctx, from, resp.Text); err != nil {
		return err
	}
	slog.Debug("InboundRouter.Handle: reply sent", "sessionID", in.SessionID, "mode", resp.Mode)
	return nil
}
