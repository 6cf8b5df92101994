package flow

import (
	"errors"
	"fmt"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

var (
	// ErrPersistenceUnavailable wraps session and lead store failures. The caller may resend
	// the same message; lead creation is idempotent per session.
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
	// ErrSessionConflict is returned when a concurrent write changed the session first.
	ErrSessionConflict = errors.New("session modified concurrently")
	// ErrConfigurationMissing is returned when no usable flow definition exists and the
	// default could not be created.
	ErrConfigurationMissing = errors.New("flow configuration missing")
	// ErrIntakeCompleted is returned by StateMachine.Advance for a completed session.
	ErrIntakeCompleted = errors.New("intake already completed")
)

// ValidationReason classifies why an answer was rejected.
type ValidationReason string

const (
	ReasonTooShort      ValidationReason = "too_short"
	ReasonTooFewTokens  ValidationReason = "too_few_tokens"
	ReasonInvalidFormat ValidationReason = "invalid_format"
)

// ValidationError is an answer rejection. It never leaves the orchestrator; the hint is
// shown to the user in front of the repeated question.
type ValidationError struct {
	Kind   models.StepKind
	Reason ValidationReason
	Hint   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s answer: %s", e.Kind, e.Reason)
}

func reject(kind models.StepKind, reason ValidationReason, hint string) *ValidationError {
	return &ValidationError{Kind: kind, Reason: reason, Hint: hint}
}
