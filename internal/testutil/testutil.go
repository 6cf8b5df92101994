// Package testutil provides shared helpers for IntakePipe tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/BTreeMap/IntakePipe/internal/store"
)

// NewSQLiteStore opens a store in a fresh temporary directory that is removed when the
// test ends.
func NewSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	dir, err := os.MkdirTemp("", "intakepipe_test_")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	st, err := store.NewSQLiteStore(store.WithSQLiteDSN(filepath.Join(dir, "test.db")))
	if err != nil {
		os.RemoveAll(dir)
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
		os.RemoveAll(dir)
	})
	return st
}

// DoJSON sends body as JSON to h and returns the recorded response. A string body is sent
// verbatim.
func DoJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// AssertHTTPStatus fails the test when the recorded status differs from expected.
func AssertHTTPStatus(t *testing.T, rec *httptest.ResponseRecorder, expected int, context string) {
	t.Helper()
	if rec.Code != expected {
		t.Errorf("%s: expected status %d, got %d (body %s)", context, expected, rec.Code, rec.Body.String())
	}
}

// DecodeJSON decodes the recorded body into v.
func DecodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}
}
