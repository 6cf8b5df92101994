// Package flow implements the hybrid intake: an AI conversation first, and a scripted
// fallback questionnaire that collects a lead whenever the AI is unavailable.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/genai"
	"github.com/BTreeMap/IntakePipe/internal/metrics"
	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/store"
	"github.com/google/uuid"
)

// DefaultAIDeadline bounds a single AI attempt.
const DefaultAIDeadline = 15 * time.Second

// Reply modes.
const (
	ModeAI         = "ai"
	ModeFallback   = "fallback"
	ModeCompleted  = "completed"
	ModePostIntake = "post_intake"
)

// Stores is the persistence the orchestrator needs.
type Stores interface {
	store.SessionStore
	store.FlowStore
	store.LeadStore
}

// Incoming is one inbound user message.
type Incoming struct {
	Message   string
	SessionID string
	Platform  models.Platform
	MessageID string // transport message id, optional
	From      string // sender address for messaging platforms, optional
}

// Response is the reply to an Incoming message.
type Response struct {
	Text      string
	SessionID string
	Mode      string
	Step      *int
	LeadID    string
	Session   models.Session
	Duplicate bool
}

// Orchestrator routes each message to the AI or to the fallback state machine and persists
// the session with compare-and-set.
type Orchestrator struct {
	stores     Stores
	ai         genai.Backend
	dedup      store.DedupRepo
	tracker    *AvailabilityTracker
	persister  *LeadPersister
	notifier   *CompletionNotifier
	validator  *AnswerValidator
	metrics    *metrics.Metrics
	flowKey    string
	aiDeadline time.Duration
	now        func() time.Time

	// collected by options, applied in NewOrchestrator
	dispatcher MessageDispatcher
	notifyTo   string
	lawyers    []Lawyer
	health     HealthObserver
	areas      *AreaTable
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithAIDeadline overrides DefaultAIDeadline.
func WithAIDeadline(d time.Duration) Option {
	return func(o *Orchestrator) { o.aiDeadline = d }
}

// WithMetrics records Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithDispatcher sets the dispatcher for completion messages.
func WithDispatcher(d MessageDispatcher) Option {
	return func(o *Orchestrator) { o.dispatcher = d }
}

// WithNotifyRecipient sets the internal number notified of every new lead.
func WithNotifyRecipient(phone string) Option {
	return func(o *Orchestrator) { o.notifyTo = phone }
}

// WithLawyers sets the lawyers notified of new leads.
func WithLawyers(lawyers []Lawyer) Option {
	return func(o *Orchestrator) { o.lawyers = lawyers }
}

// WithHealthObserver forwards AI outcomes to h.
func WithHealthObserver(h HealthObserver) Option {
	return func(o *Orchestrator) { o.health = h }
}

// WithDedup enables transport message id deduplication.
func WithDedup(d store.DedupRepo) Option {
	return func(o *Orchestrator) { o.dedup = d }
}

// WithFlowKey selects the flow definition; defaults to models.DefaultFlowKey.
func WithFlowKey(key string) Option {
	return func(o *Orchestrator) { o.flowKey = key }
}

// WithAreaTable overrides the legal area synonyms.
func WithAreaTable(t *AreaTable) Option {
	return func(o *Orchestrator) { o.areas = t }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator creates an orchestrator. ai may be nil, in which case every message is
// handled by the fallback.
func NewOrchestrator(stores Stores, ai genai.Backend, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		stores:     stores,
		ai:         ai,
		flowKey:    models.DefaultFlowKey,
		aiDeadline: DefaultAIDeadline,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.tracker = NewAvailabilityTracker(o.health)
	o.persister = NewLeadPersister(stores, o.now)
	o.notifier = NewCompletionNotifier(o.dispatcher, o.notifyTo, o.lawyers, o.metrics)
	o.validator = NewAnswerValidator(o.areas)
	return o
}

// EnsureFlow loads the configured flow, seeding the default one when absent.
func (o *Orchestrator) EnsureFlow(ctx context.Context) (*models.FlowDefinition, error) {
	def, err := o.stores.GetFlow(ctx, o.flowKey)
	if errors.Is(err, store.ErrNotFound) {
		slog.Info("Orchestrator.EnsureFlow: flow not found, creating default", "key", o.flowKey)
		def, err = o.stores.CreateDefaultFlow(ctx, o.flowKey)
	}
	if err != nil {
		slog.Error("Orchestrator.EnsureFlow: failed to load flow", "error", err, "key", o.flowKey)
		return nil, fmt.Errorf("%w: %v", ErrConfigurationMissing, err)
	}
	if err := def.Validate(); err != nil {
		slog.Error("Orchestrator.EnsureFlow: stored flow is invalid", "error", err, "key", o.flowKey)
		return nil, fmt.Errorf("%w: %v", ErrConfigurationMissing, err)
	}
	return def, nil
}

// GetFlow returns the current flow definition.
func (o *Orchestrator) GetFlow(ctx context.Context) (*models.FlowDefinition, error) {
	return o.EnsureFlow(ctx)
}

// StartSession creates a new empty session and returns it.
func (o *Orchestrator) StartSession(ctx context.Context, platform models.Platform) (*models.Session, error) {
	s := models.NewSession(uuid.NewString(), platform, o.now())
	if err := o.putSession(ctx, s, 0); err != nil {
		return nil, err
	}
	slog.Info("Orchestrator.StartSession: session created", "sessionID", s.ID, "platform", platform)
	return s, nil
}

// GetSession returns the stored session or store.ErrNotFound.
func (o *Orchestrator) GetSession(ctx context.Context, id string) (*models.Session, error) {
	s, err := o.stores.GetSession(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: failed to get session: %v", ErrPersistenceUnavailable, err)
	}
	return s, err
}

// GetLead returns the stored lead or store.ErrNotFound.
func (o *Orchestrator) GetLead(ctx context.Context, id string) (*models.Lead, error) {
	l, err := o.stores.GetLead(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: failed to get lead: %v", ErrPersistenceUnavailable, err)
	}
	return l, err
}

// ProcessMessage handles one inbound message and returns the reply to send.
func (o *Orchestrator) ProcessMessage(ctx context.Context, in Incoming) (Response, error) {
	slog.Debug("Orchestrator.ProcessMessage: processing message", "sessionID", in.SessionID, "platform", in.Platform, "messageID", in.MessageID)

	if dup, ok, err := o.checkDuplicate(ctx, in); err != nil {
		return Response{}, err
	} else if ok {
		return dup, nil
	}

	def, err := o.EnsureFlow(ctx)
	if err != nil {
		return Response{}, err
	}

	s, err := o.stores.GetSession(ctx, in.SessionID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s = models.NewSession(in.SessionID, in.Platform, o.now())
	case err != nil:
		slog.Error("Orchestrator.ProcessMessage: failed to get session", "error", err, "sessionID", in.SessionID)
		return Response{}, fmt.Errorf("%w: failed to get session: %v", ErrPersistenceUnavailable, err)
	}
	expected := s.MessageCount
	s.MessageCount++

	resp, completed, err := o.route(ctx, s, def, in.Message)
	if err != nil {
		return Response{}, err
	}

	s.LastReply = resp.Text
	s.UpdatedAt = o.now()
	if err := o.putSession(ctx, s, expected); err != nil {
		return Response{}, err
	}
	o.markProcessed(ctx, in.MessageID)
	o.metrics.ObserveMessage(string(s.Platform), resp.Mode)

	if completed {
		o.metrics.ObserveLead()
		o.notifyCompletion(ctx, s)
	}

	resp.SessionID = s.ID
	resp.LeadID = s.LeadID
	resp.Session = *s.Clone()
	slog.Info("Orchestrator.ProcessMessage: reply ready", "sessionID", s.ID, "mode", resp.Mode, "step", s.FallbackStep)
	return resp, nil
}

// route produces the reply and mutates s. completed reports that a lead was stored by this message.
func (o *Orchestrator) route(ctx context.Context, s *models.Session, def *models.FlowDefinition, msg string) (Response, bool, error) {
	if s.FallbackCompleted {
		return o.postIntake(ctx, s, msg), false, nil
	}

	sm := NewStateMachine(def, o.validator)
	if !s.HasFallbackProgress() {
		text, outcome := o.attemptAI(ctx, s, msg)
		if outcome == models.AIOutcomeSuccess {
			s.AppendTurn("user", msg)
			s.AppendTurn("assistant", text)
			return Response{Text: text, Mode: ModeAI}, false, nil
		}
		slog.Warn("Orchestrator.route: AI unavailable, starting fallback", "sessionID", s.ID, "outcome", outcome)
		t := sm.Start(s)
		return Response{Text: t.Prompt, Mode: ModeFallback, Step: stepOf(s)}, false, nil
	}

	t, err := sm.Advance(s, msg)
	if err != nil {
		return Response{}, false, err
	}
	if t.Rejection != nil {
		o.metrics.ObserveRejection(string(t.Rejection.Kind), string(t.Rejection.Reason))
	}
	if !t.Completed {
		return Response{Text: t.Prompt, Mode: ModeFallback, Step: stepOf(s)}, false, nil
	}

	if _, err := o.persister.Persist(ctx, s); err != nil {
		return Response{}, false, err
	}
	return Response{Text: t.Prompt, Mode: ModeCompleted, Step: stepOf(s)}, true, nil
}

// postIntake answers a completed session. No lead is created here.
func (o *Orchestrator) postIntake(ctx context.Context, s *models.Session, msg string) Response {
	text, outcome := o.attemptAI(ctx, s, msg)
	if outcome == models.AIOutcomeSuccess {
		s.AppendTurn("user", msg)
		s.AppendTurn("assistant", text)
		return Response{Text: text, Mode: ModePostIntake}
	}
	return Response{Text: AlreadyRegisteredMessage, Mode: ModePostIntake}
}

// attemptAI runs one bounded AI call and records its outcome on s.
func (o *Orchestrator) attemptAI(ctx context.Context, s *models.Session, msg string) (string, models.AIOutcome) {
	start := o.now()
	if o.ai == nil {
		o.tracker.Record(s, models.AIOutcomeAuthError, start)
		return "", models.AIOutcomeAuthError
	}

	aiCtx, cancel := context.WithTimeout(ctx, o.aiDeadline)
	defer cancel()
	text, err := o.ai.Generate(aiCtx, genai.Request{History: s.History, Message: msg})
	outcome := models.AIOutcomeSuccess
	switch {
	case err != nil:
		outcome = genai.Classify(err)
		slog.Warn("Orchestrator.attemptAI: AI attempt failed", "sessionID", s.ID, "backend", o.ai.Name(), "outcome", outcome)
	case strings.TrimSpace(text) == "":
		outcome = models.AIOutcomeNetworkError
		slog.Warn("Orchestrator.attemptAI: empty completion", "sessionID", s.ID, "backend", o.ai.Name())
	}
	o.tracker.Record(s, outcome, o.now())
	o.metrics.ObserveAI(string(outcome), o.now().Sub(start))
	if outcome != models.AIOutcomeSuccess {
		return "", outcome
	}
	return text, outcome
}

func (o *Orchestrator) putSession(ctx context.Context, s *models.Session, expected int) error {
	err := o.stores.PutSession(ctx, s, expected)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrConflict):
		slog.Warn("Orchestrator.putSession: session modified concurrently", "sessionID", s.ID, "expected", expected)
		return fmt.Errorf("%w: session %s", ErrSessionConflict, s.ID)
	default:
		slog.Error("Orchestrator.putSession: failed to save session", "error", err, "sessionID", s.ID)
		return fmt.Errorf("%w: failed to save session: %v", ErrPersistenceUnavailable, err)
	}
}

// checkDuplicate short-circuits a transport message id that was already processed.
func (o *Orchestrator) checkDuplicate(ctx context.Context, in Incoming) (Response, bool, error) {
	if o.dedup == nil || in.MessageID == "" {
		return Response{}, false, nil
	}
	processed, err := o.dedup.IsProcessed(ctx, in.MessageID)
	if err != nil {
		slog.Error("Orchestrator.checkDuplicate: dedup lookup failed", "error", err, "messageID", in.MessageID)
		return Response{}, false, fmt.Errorf("%w: dedup lookup: %v", ErrPersistenceUnavailable, err)
	}
	if !processed {
		if _, err := o.dedup.RecordInbound(ctx, in.MessageID, in.SessionID); err != nil {
			slog.Warn("Orchestrator.checkDuplicate: failed to record inbound message", "error", err, "messageID", in.MessageID)
		}
		return Response{}, false, nil
	}

	o.metrics.ObserveDuplicate()
	slog.Info("Orchestrator.checkDuplicate: duplicate message", "sessionID", in.SessionID, "messageID", in.MessageID)
	resp := Response{SessionID: in.SessionID, Duplicate: true, Mode: ModeFallback}
	s, err := o.stores.GetSession(ctx, in.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return resp, true, nil
		}
		return Response{}, false, fmt.Errorf("%w: failed to get session: %v", ErrPersistenceUnavailable, err)
	}
	resp.Text = s.LastReply
	resp.LeadID = s.LeadID
	resp.Mode = modeOf(s)
	resp.Step = stepOf(s)
	resp.Session = *s
	return resp, true, nil
}

func (o *Orchestrator) markProcessed(ctx context.Context, messageID string) {
	if o.dedup == nil || messageID == "" {
		return
	}
	if err := o.dedup.MarkProcessed(ctx, messageID); err != nil {
		slog.Warn("Orchestrator.markProcessed: failed to mark message processed", "error", err, "messageID", messageID)
	}
}

func (o *Orchestrator) notifyCompletion(ctx context.Context, s *models.Session) {
	lead, err := o.stores.GetLead(ctx, s.LeadID)
	if err != nil {
		slog.Warn("Orchestrator.notifyCompletion: failed to load lead", "error", err, "leadID", s.LeadID)
		o.metrics.ObserveDispatchFailure(DispatchWelcome)
		return
	}
	o.notifier.Notify(ctx, lead)
}

func stepOf(s *models.Session) *int {
	if s.FallbackStep == 0 {
		return nil
	}
	step := s.FallbackStep
	return &step
}

func modeOf(s *models.Session) string {
	switch {
	case s.FallbackCompleted:
		return ModeCompleted
	case s.HasFallbackProgress():
		return ModeFallback
	default:
		return ModeAI
	}
}
