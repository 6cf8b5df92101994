package flow

import (
	"sync"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// HealthObserver receives every classified AI outcome.
type HealthObserver interface {
	ObserveAI(outcome models.AIOutcome, at time.Time)
}

// AvailabilityTracker stamps the outcome of an AI attempt on the session. It never gates
// later attempts: every message tries the AI again unless the fallback has started.
type AvailabilityTracker struct {
	observer HealthObserver
}

// NewAvailabilityTracker creates a tracker forwarding outcomes to observer, which may be nil.
func NewAvailabilityTracker(observer HealthObserver) *AvailabilityTracker {
	return &AvailabilityTracker{observer: observer}
}

// Record stores outcome on s.
func (t *AvailabilityTracker) Record(s *models.Session, outcome models.AIOutcome, at time.Time) {
	s.AIAvailable = outcome == models.AIOutcomeSuccess
	s.LastAIOutcome = outcome
	stamp := at
	s.LastAICheck = &stamp
	if t != nil && t.observer != nil {
		t.observer.ObserveAI(outcome, at)
	}
}

// AIHealth remembers the most recent AI outcome across all sessions for the health endpoint.
type AIHealth struct {
	mu      sync.RWMutex
	outcome models.AIOutcome
	at      time.Time
}

var _ HealthObserver = (*AIHealth)(nil)

func (h *AIHealth) ObserveAI(outcome models.AIOutcome, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.outcome = outcome
	h.at = at
}

// Last returns the last outcome and when it was observed. ok is false before the first attempt.
func (h *AIHealth) Last() (outcome models.AIOutcome, at time.Time, ok bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.outcome, h.at, h.outcome != ""
}

// FallbackActive reports whether the last AI attempt failed.
func (h *AIHealth) FallbackActive() bool {
	outcome, _, ok := h.Last()
	return ok && outcome != models.AIOutcomeSuccess
}
