// Package store provides storage backends for IntakePipe.
//
// This file implements a PostgreSQL-backed document store for sessions, flows and leads.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/IntakePipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
	outboxTable
}

// Compile-time checks for the PostgresStore interfaces.
var (
	_ Store           = (*PostgresStore)(nil)
	_ OutboxRepo      = (*PostgresStore)(nil)
	_ OutboxInspector = (*PostgresStore)(nil)
)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db, outboxTable: outboxTable{db: db, postgres: true, name: "PostgresStore"}}, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM sessions WHERE session_id = $1`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		slog.Error("PostgresStore GetSession failed", "error", err, "sessionID", id)
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return decodeSession(doc)
}

func (s *PostgresStore) PutSession(ctx context.Context, sess *models.Session, expected int) error {
	doc, err := encodeDoc(sess)
	if err != nil {
		return err
	}
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET message_count = $1, doc = $2, updated_at = $3 WHERE session_id = $4 AND message_count = $5`,
		sess.MessageCount, doc, now, sess.ID, expected,
	)
	if err != nil {
		slog.Error("PostgresStore PutSession update failed", "error", err, "sessionID", sess.ID)
		return fmt.Errorf("update session %s: %w", sess.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if expected != 0 {
		return ErrConflict
	}

	res, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, message_count, doc, created_at, updated_at) VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (session_id) DO NOTHING`,
		sess.ID, sess.MessageCount, doc, now,
	)
	if err != nil {
		slog.Error("PostgresStore PutSession insert failed", "error", err, "sessionID", sess.ID)
		return fmt.Errorf("insert session %s: %w", sess.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

func (s *PostgresStore) GetFlow(ctx context.Context, key string) (*models.FlowDefinition, error) {
	var doc string
	var updatedAt time.Time
	err := s.db.QueryRowContext(ctx, `SELECT doc, updated_at FROM flows WHERE flow_key = $1`, key).Scan(&doc, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		slog.Error("PostgresStore GetFlow failed", "error", err, "key", key)
		return nil, fmt.Errorf("get flow %s: %w", key, err)
	}
	f, err := decodeFlow(doc)
	if err != nil {
		return nil, err
	}
	f.UpdatedAt = updatedAt
	return f, nil
}

func (s *PostgresStore) CreateDefaultFlow(ctx context.Context, key string) (*models.FlowDefinition, error) {
	doc, err := encodeDoc(models.DefaultFlowDefinition(key))
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO flows (flow_key, doc, updated_at) VALUES ($1, $2, $3) ON CONFLICT (flow_key) DO NOTHING`,
		key, doc, time.Now(),
	)
	if err != nil {
		slog.Error("PostgresStore CreateDefaultFlow failed", "error", err, "key", key)
		return nil, fmt.Errorf("create default flow %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Info("PostgresStore CreateDefaultFlow: seeded default flow", "key", key)
	}
	return s.GetFlow(ctx, key)
}

func (s *PostgresStore) SaveFlow(ctx context.Context, def models.FlowDefinition) error {
	doc, err := encodeDoc(def)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO flows (flow_key, doc, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (flow_key) DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at`,
		def.Key, doc, time.Now(),
	)
	if err != nil {
		slog.Error("PostgresStore SaveFlow failed", "error", err, "key", def.Key)
		return fmt.Errorf("save flow %s: %w", def.Key, err)
	}
	return nil
}

func (s *PostgresStore) AppendLead(ctx context.Context, lead models.Lead) (string, error) {
	ensureLeadID(&lead)
	doc, err := encodeDoc(lead)
	if err != nil {
		return "", err
	}
	var id string
	// The no-op update makes RETURNING yield the existing row on conflict.
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO leads (id, session_id, doc, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (session_id) DO UPDATE SET session_id = EXCLUDED.session_id
		 RETURNING id`,
		lead.ID, lead.SessionID, doc, lead.CreatedAt,
	).Scan(&id)
	if err != nil {
		slog.Error("PostgresStore AppendLead failed", "error", err, "sessionID", lead.SessionID)
		return "", fmt.Errorf("append lead for session %s: %w", lead.SessionID, err)
	}
	if id != lead.ID {
		slog.Debug("PostgresStore AppendLead: lead already exists for session", "sessionID", lead.SessionID, "leadID", id)
	}
	return id, nil
}

func (s *PostgresStore) GetLead(ctx context.Context, id string) (*models.Lead, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM leads WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lead %s: %w", id, err)
	}
	return decodeLead(doc)
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close PostgreSQL database", "error", err)
	}
	return err
}
