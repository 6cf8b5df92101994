package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/flow"
	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/store"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 64 << 10

// startConversationHandler handles POST /api/v1/conversation/start.
func (s *Server) startConversationHandler(w http.ResponseWriter, r *http.Request) {
	sess, err := s.intake.StartSession(r.Context(), models.PlatformWeb)
	if err != nil {
		slog.Error("Server.startConversationHandler: failed to start session", "error", err)
		writeFlowError(w, err)
		return
	}
	slog.Debug("Server.startConversationHandler: session started", "sessionID", sess.ID)
	writeJSONResponse(w, http.StatusOK, models.StartConversationResponse{SessionID: sess.ID})
}

// respondHandler handles POST /api/v1/conversation/respond.
func (s *Server) respondHandler(w http.ResponseWriter, r *http.Request) {
	var req models.RespondRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		slog.Warn("Server.respondHandler: invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		slog.Warn("Server.respondHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if req.Platform == "" {
		req.Platform = models.PlatformWeb
	}

	resp, err := s.intake.ProcessMessage(r.Context(), flow.Incoming{
		Message:   req.Message,
		SessionID: req.SessionID,
		Platform:  req.Platform,
		MessageID: req.MessageID,
	})
	if err != nil {
		slog.Error("Server.respondHandler: failed to process message", "error", err, "sessionID", req.SessionID)
		writeFlowError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.RespondResponse{
		Response:  resp.Text,
		SessionID: resp.SessionID,
		Step:      resp.Step,
		Mode:      resp.Mode,
		LeadID:    resp.LeadID,
		Duplicate: resp.Duplicate,
	})
}

// statusHandler handles GET /api/v1/conversation/status/{sessionId}.
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionId")
	sess, err := s.intake.GetSession(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return
	}
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, sess)
}

// flowHandler handles GET /api/v1/conversation/flow.
func (s *Server) flowHandler(w http.ResponseWriter, r *http.Request) {
	def, err := s.intake.GetFlow(r.Context())
	if err != nil {
		slog.Error("Server.flowHandler: flow unavailable", "error", err)
		writeFlowError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, def)
}

// leadHandler handles GET /api/v1/leads/{leadId}.
func (s *Server) leadHandler(w http.ResponseWriter, r *http.Request) {
	lead, err := s.intake.GetLead(r.Context(), chi.URLParam(r, "leadId"))
	if errors.Is(err, store.ErrNotFound) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Lead not found"))
		return
	}
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, lead)
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := models.HealthResponse{Status: "healthy"}
	svc := &resp.Services

	svc.AIBackend = AIStatusUnavailable
	svc.AIProvider = s.opts.AIBackend
	if s.opts.AIBackend != "" {
		svc.AIBackend = AIStatusUnknown
		if s.opts.AIHealth != nil {
			if outcome, at, ok := s.opts.AIHealth.Last(); ok {
				svc.AIBackend = aiStatus(outcome)
				resp.LastAICheck = &at
			}
		}
	}
	svc.FallbackModeActive = s.opts.AIBackend == "" || (s.opts.AIHealth != nil && s.opts.AIHealth.FallbackActive())

	svc.Store = "ok"
	if s.opts.Store == nil {
		svc.Store = "unknown"
	} else if err := s.opts.Store.Ping(ctx); err != nil {
		slog.Warn("Server.healthHandler: store ping failed", "error", err)
		svc.Store = "unavailable"
		resp.Status = "degraded"
	}

	svc.Messaging = "disabled"
	if s.opts.Messaging != "" {
		svc.Messaging = s.opts.Messaging
		if s.opts.MessagingLink != nil && !s.opts.MessagingLink.Connected() {
			svc.Messaging += " (disconnected)"
		}
	}

	if s.opts.Outbox != nil {
		svc.Outbox = outboxStatus(ctx, s.opts.Outbox)
	}

	svc.Flow = "ok"
	if _, err := s.intake.GetFlow(ctx); err != nil {
		svc.Flow = "missing"
		resp.Status = "degraded"
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, resp)
}

// outboxStatus summarizes undelivered notifications. A backlog does not degrade health; the
// sender retries on its own.
func outboxStatus(ctx context.Context, b OutboxBacklog) string {
	counts, err := b.OutboxBacklog(ctx)
	if err != nil {
		slog.Warn("Server.healthHandler: outbox backlog unavailable", "error", err)
		return "unknown"
	}
	pending := counts[store.OutboxStatusQueued] + counts[store.OutboxStatusSending]
	failed := counts[store.OutboxStatusFailed]
	if pending == 0 && failed == 0 {
		return "ok"
	}
	return fmt.Sprintf("%d pending, %d failed", pending, failed)
}

// AI backend states reported by /health besides the classified failure outcomes.
const (
	AIStatusAvailable   = "available"
	AIStatusUnavailable = "unavailable" // no backend configured
	AIStatusUnknown     = "unknown"     // configured, no attempt observed yet
)

// aiStatus maps the last classified outcome onto the /health vocabulary.
func aiStatus(o models.AIOutcome) string {
	if o == models.AIOutcomeSuccess {
		return AIStatusAvailable
	}
	return string(o)
}
