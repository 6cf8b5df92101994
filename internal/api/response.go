package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/IntakePipe/internal/flow"
	"github.com/BTreeMap/IntakePipe/internal/models"
)

// internalErrorBody is written when a response cannot be encoded.
var internalErrorBody = mustMarshal(models.Error("Internal server error"))

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("api: cannot marshal static response: %v", err))
	}
	return b
}

// writeJSONResponse encodes v before touching headers so an encoding failure still yields a
// well-formed 500.
func writeJSONResponse(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		body, status = internalErrorBody, http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", err)
	}
}

// flowErrors maps orchestrator errors to client responses, first match wins.
var flowErrors = []struct {
	target  error
	status  int
	message string
	retry   bool
}{
	{flow.ErrSessionConflict, http.StatusConflict, "Session was modified concurrently, please retry", false},
	{flow.ErrPersistenceUnavailable, http.StatusServiceUnavailable, "Storage temporarily unavailable, please retry", true},
	{flow.ErrConfigurationMissing, http.StatusServiceUnavailable, "Intake flow is not configured", false},
}

func writeFlowError(w http.ResponseWriter, err error) {
	for _, fe := range flowErrors {
		if !errors.Is(err, fe.target) {
			continue
		}
		if fe.retry {
			w.Header().Set("Retry-After", RetryAfterSeconds)
		}
		writeJSONResponse(w, fe.status, models.Error(fe.message))
		return
	}
	writeJSONResponse(w, http.StatusInternalServerError, models.Error("Internal server error"))
}
