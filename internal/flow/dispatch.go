package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BTreeMap/IntakePipe/internal/metrics"
	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/phone"
	"golang.org/x/sync/errgroup"
)

// MessageDispatcher delivers a text to a recipient phone number.
type MessageDispatcher interface {
	Send(ctx context.Context, recipient, text string) (messageID string, err error)
}

// OnceDispatcher is implemented by dispatchers that can drop repeated sends sharing a key.
type OnceDispatcher interface {
	SendOnce(ctx context.Context, dedupeKey, recipient, text string) (messageID string, err error)
}

// Lawyer is a notification recipient. An empty Specialties list matches every area.
type Lawyer struct {
	Name        string   `yaml:"name"`
	Phone       string   `yaml:"phone"`
	Specialties []string `yaml:"specialties"`
}

// Dispatch kinds, used as metric labels and in dedupe keys.
const (
	DispatchWelcome      = "welcome"
	DispatchNotification = "notification"
	DispatchLawyer       = "lawyer"
)

// CompletionNotifier sends the messages that follow a stored lead.
type CompletionNotifier struct {
	dispatcher MessageDispatcher
	notifyTo   string
	lawyers    []Lawyer
	metrics    *metrics.Metrics
}

// NewCompletionNotifier creates a notifier. A nil dispatcher disables notifications.
func NewCompletionNotifier(d MessageDispatcher, notifyTo string, lawyers []Lawyer, m *metrics.Metrics) *CompletionNotifier {
	return &CompletionNotifier{dispatcher: d, notifyTo: notifyTo, lawyers: lawyers, metrics: m}
}

type delivery struct {
	kind      string
	recipient string
	text      string
}

// Notify sends the welcome message to the client and the lead notification to the internal
// recipient and matching lawyers, concurrently. Failures are logged and counted; the returned
// value is the number of failed deliveries.
func (n *CompletionNotifier) Notify(ctx context.Context, lead *models.Lead) int {
	if n == nil || n.dispatcher == nil {
		slog.Debug("CompletionNotifier.Notify: no dispatcher configured", "leadID", lead.ID)
		return 0
	}
	deliveries := n.deliveries(lead)

	var (
		mu     sync.Mutex
		failed int
		g      errgroup.Group
	)
	for _, d := range deliveries {
		g.Go(func() error {
			if err := n.send(ctx, lead.ID, d); err != nil {
				slog.Warn("CompletionNotifier.Notify: delivery failed", "error", err, "leadID", lead.ID, "kind", d.kind, "recipient", d.recipient)
				n.metrics.ObserveDispatchFailure(d.kind)
				mu.Lock()
				failed++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	slog.Info("CompletionNotifier.Notify: completion messages dispatched", "leadID", lead.ID, "total", len(deliveries), "failed", failed)
	return failed
}

func (n *CompletionNotifier) send(ctx context.Context, leadID string, d delivery) error {
	if d.recipient == "" {
		return fmt.Errorf("empty %s recipient", d.kind)
	}
	var err error
	if once, ok := n.dispatcher.(OnceDispatcher); ok {
		_, err = once.SendOnce(ctx, fmt.Sprintf("lead:%s:%s:%s", leadID, d.kind, d.recipient), d.recipient, d.text)
	} else {
		_, err = n.dispatcher.Send(ctx, d.recipient, d.text)
	}
	return err
}

func (n *CompletionNotifier) deliveries(lead *models.Lead) []delivery {
	notification := NotificationMessage(lead)
	out := []delivery{{kind: DispatchWelcome, recipient: phone.NormalizeE164(lead.Phone()), text: WelcomeMessage(lead)}}
	seen := map[string]bool{}
	if n.notifyTo != "" {
		to := phone.NormalizeE164(n.notifyTo)
		seen[to] = true
		out = append(out, delivery{kind: DispatchNotification, recipient: to, text: notification})
	}
	for _, l := range lawyersFor(n.lawyers, answerFor(lead, models.StepKey(2))) {
		to := phone.NormalizeE164(l.Phone)
		if seen[to] {
			continue
		}
		seen[to] = true
		out = append(out, delivery{kind: DispatchLawyer, recipient: to, text: notification})
	}
	return out
}

// lawyersFor returns the lawyers whose specialties include area, or all lawyers when none match.
func lawyersFor(lawyers []Lawyer, area string) []Lawyer {
	folded := foldAccents(area)
	var matched []Lawyer
	for _, l := range lawyers {
		if len(l.Specialties) == 0 {
			matched = append(matched, l)
			continue
		}
		for _, sp := range l.Specialties {
			if foldAccents(sp) == folded {
				matched = append(matched, l)
				break
			}
		}
	}
	if len(matched) == 0 {
		return lawyers
	}
	return matched
}
