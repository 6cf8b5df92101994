// Package api provides the HTTP server for IntakePipe.
//
// It exposes the conversation endpoints used by the web chat widget, lead lookup, health,
// Prometheus metrics and the Twilio inbound webhook.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/flow"
	"github.com/BTreeMap/IntakePipe/internal/metrics"
	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
	// RetryAfterSeconds is sent with 503 responses for retryable persistence failures.
	RetryAfterSeconds = "2"
)

// Intake is the conversation core served over HTTP; implemented by flow.Orchestrator.
type Intake interface {
	ProcessMessage(ctx context.Context, in flow.Incoming) (flow.Response, error)
	StartSession(ctx context.Context, platform models.Platform) (*models.Session, error)
	GetSession(ctx context.Context, id string) (*models.Session, error)
	GetFlow(ctx context.Context) (*models.FlowDefinition, error)
	GetLead(ctx context.Context, id string) (*models.Lead, error)
}

// Pinger reports store connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// OutboxBacklog reports queued notification counts.
type OutboxBacklog interface {
	OutboxBacklog(ctx context.Context) (map[store.OutboxStatus]int, error)
}

// Connector reports whether a transport session is currently up.
type Connector interface {
	Connected() bool
}

// Opts holds optional server collaborators.
type Opts struct {
	Addr          string
	Store         Pinger
	Outbox        OutboxBacklog
	AIHealth      *flow.AIHealth
	AIBackend     string // backend name, empty when no AI is configured
	Messaging     string // messaging provider name, empty when disabled
	MessagingLink Connector
	TwilioWebhook http.HandlerFunc
	Metrics       http.Handler
}

// Option configures the server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithStore reports store health through p.
func WithStore(p Pinger) Option {
	return func(o *Opts) { o.Store = p }
}

// WithOutbox reports the notification backlog on /health.
func WithOutbox(b OutboxBacklog) Option {
	return func(o *Opts) { o.Outbox = b }
}

// WithAIHealth reports the last AI outcome of backend name.
func WithAIHealth(h *flow.AIHealth, name string) Option {
	return func(o *Opts) {
		o.AIHealth = h
		o.AIBackend = name
	}
}

// WithMessaging names the active messaging provider.
func WithMessaging(name string) Option {
	return func(o *Opts) { o.Messaging = name }
}

// WithMessagingLink reports link as part of the messaging status.
func WithMessagingLink(link Connector) Option {
	return func(o *Opts) { o.MessagingLink = link }
}

// WithTwilioWebhook mounts the Twilio inbound webhook.
func WithTwilioWebhook(h http.HandlerFunc) Option {
	return func(o *Opts) { o.TwilioWebhook = h }
}

// WithMetricsHandler overrides the /metrics handler.
func WithMetricsHandler(h http.Handler) Option {
	return func(o *Opts) { o.Metrics = h }
}

// Server serves the HTTP API.
type Server struct {
	intake   Intake
	opts     Opts
	validate *validator.Validate
}

// NewServer creates a server over intake.
func NewServer(intake Intake, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr, Metrics: metrics.Handler()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{intake: intake, opts: cfg, validate: validator.New()}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Get("/health", s.healthHandler)
	r.Handle("/metrics", s.opts.Metrics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/conversation/start", s.startConversationHandler)
		r.Post("/conversation/respond", s.respondHandler)
		r.Get("/conversation/status/{sessionId}", s.statusHandler)
		r.Get("/conversation/flow", s.flowHandler)
		r.Get("/leads/{leadId}", s.leadHandler)
		if s.opts.TwilioWebhook != nil {
			r.Post("/messaging/twilio/webhook", s.opts.TwilioWebhook)
		}
	})
	return r
}

// Run serves HTTP and runs workers until ctx is cancelled or one of them fails.
func (s *Server) Run(ctx context.Context, workers ...func(context.Context)) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Server.Run: listening", "addr", s.opts.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultShutdownTimeout)
		defer cancel()
		slog.Info("Server.Run: shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	for _, w := range workers {
		g.Go(func() error {
			w(gctx)
			return nil
		})
	}
	return g.Wait()
}

// cors allows the chat widget to be embedded on other origins.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
