package genai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/openai/openai-go"
	gemini "google.golang.org/genai"
)

// ErrEmptyCompletion is returned when the provider answers with no usable text.
var ErrEmptyCompletion = errors.New("genai: empty completion")

// Error is an AI failure with its classified outcome.
type Error struct {
	Outcome models.AIOutcome
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("genai: %s: %v", e.Outcome, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// wrap classifies err into an *Error.
func wrap(err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{Outcome: Classify(err), Err: err}
}

var quotaIndicators = []string{
	"429",
	"quota",
	"rate limit",
	"ratelimit",
	"resource exhausted",
	"resourceexhausted",
	"resource_exhausted",
	"billing",
	"too many requests",
}

var authIndicators = []string{
	"api key",
	"api_key",
	"unauthenticated",
	"permission_denied",
	"permission denied",
	"unauthorized",
}

// Classify maps an AI backend error onto an outcome. Deadline expiry is a timeout; rate
// limits and quota exhaustion are QuotaExceeded; credential failures are AuthError; anything
// else (connection failures, 5xx, empty completions) is NetworkError.
func Classify(err error) models.AIOutcome {
	if err == nil {
		return models.AIOutcomeSuccess
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Outcome
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.AIOutcomeTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return models.AIOutcomeTimeout
	}

	if code, status, ok := apiStatus(err); ok {
		switch {
		case code == 429 || status == "RESOURCE_EXHAUSTED":
			return models.AIOutcomeQuotaExceeded
		case code == 401 || code == 403 || status == "UNAUTHENTICATED" || status == "PERMISSION_DENIED":
			return models.AIOutcomeAuthError
		default:
			return models.AIOutcomeNetworkError
		}
	}

	msg := strings.ToLower(err.Error())
	for _, ind := range quotaIndicators {
		if strings.Contains(msg, ind) {
			return models.AIOutcomeQuotaExceeded
		}
	}
	for _, ind := range authIndicators {
		if strings.Contains(msg, ind) {
			return models.AIOutcomeAuthError
		}
	}
	return models.AIOutcomeNetworkError
}

// apiStatus extracts the HTTP code and RPC status from a provider API error.
func apiStatus(err error) (int, string, bool) {
	var oe *openai.Error
	if errors.As(err, &oe) {
		return oe.StatusCode, "", true
	}
	var ge gemini.APIError
	if errors.As(err, &ge) {
		return ge.Code, ge.Status, true
	}
	var gep *gemini.APIError
	if errors.As(err, &gep) && gep != nil {
		return gep.Code, gep.Status, true
	}
	return 0, "", false
}
