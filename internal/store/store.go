// Package store provides storage backends for IntakePipe.
//
// Sessions, flow definitions and leads are stored as JSON documents keyed by id. Session writes
// use compare-and-set on the session's message count so that a stale read-modify-write is
// rejected instead of silently overwriting a newer state. Backends: in-memory, SQLite and
// PostgreSQL; inbound deduplication can additionally be served by Redis.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned by PutSession when the stored version differs from the expected one.
	ErrConflict = errors.New("store: version conflict")
)

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string // database connection string or file path
}

// Option configures a store.
type Option func(*Opts)

// WithPostgresDSN sets the Postgres connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType returns the database/sql driver name for dsn: "postgres" or "sqlite3".
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return "postgres"
	}
	// key=value connection strings
	if strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") || strings.Contains(lower, "user=") {
		return "postgres"
	}
	return "sqlite3"
}

// SessionStore persists conversation sessions.
type SessionStore interface {
	// GetSession returns ErrNotFound when the session does not exist.
	GetSession(ctx context.Context, id string) (*models.Session, error)
	// PutSession writes s only if the stored MessageCount equals expected, or the session
	// is absent and expected is 0. Otherwise it returns ErrConflict.
	PutSession(ctx context.Context, s *models.Session, expected int) error
}

// FlowStore supplies intake flow definitions.
type FlowStore interface {
	// GetFlow returns ErrNotFound when no flow is stored under key.
	GetFlow(ctx context.Context, key string) (*models.FlowDefinition, error)
	// CreateDefaultFlow seeds the canonical flow under key when absent and returns the stored flow.
	CreateDefaultFlow(ctx context.Context, key string) (*models.FlowDefinition, error)
	// SaveFlow inserts or replaces a flow definition.
	SaveFlow(ctx context.Context, def models.FlowDefinition) error
}

// LeadStore persists completed intake leads.
type LeadStore interface {
	// AppendLead stores lead and returns its id. At most one lead exists per session:
	// appending for a session that already has one returns the existing id.
	AppendLead(ctx context.Context, lead models.Lead) (string, error)
	// GetLead returns ErrNotFound when no lead has the given id.
	GetLead(ctx context.Context, id string) (*models.Lead, error)
}

// Store is the full document store used by the service.
type Store interface {
	SessionStore
	FlowStore
	LeadStore
	DedupRepo
	Ping(ctx context.Context) error
	Close() error
}
