// Package store provides storage backends for IntakePipe.
//
// This file implements an SQLite-backed document store for sessions, flows and leads.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/IntakePipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
	outboxTable
}

// Compile-time checks for the SQLiteStore interfaces.
var (
	_ Store           = (*SQLiteStore)(nil)
	_ OutboxRepo      = (*SQLiteStore)(nil)
	_ OutboxInspector = (*SQLiteStore)(nil)
)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// SQLite allows a single writer; serializing connections avoids SQLITE_BUSY under concurrent requests.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db, outboxTable: outboxTable{db: db, postgres: false, name: "SQLiteStore"}}, nil
}

// GetSession loads a session document.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM sessions WHERE session_id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore GetSession failed", "error", err, "sessionID", id)
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return decodeSession(doc)
}

// PutSession writes a session document with compare-and-set on message_count.
func (s *SQLiteStore) PutSession(ctx context.Context, sess *models.Session, expected int) error {
	doc, err := encodeDoc(sess)
	if err != nil {
		return err
	}
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET message_count = ?, doc = ?, updated_at = ? WHERE session_id = ? AND message_count = ?`,
		sess.MessageCount, doc, now, sess.ID, expected,
	)
	if err != nil {
		slog.Error("SQLiteStore PutSession update failed", "error", err, "sessionID", sess.ID)
		return fmt.Errorf("update session %s: %w", sess.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		slog.Debug("SQLiteStore PutSession updated", "sessionID", sess.ID, "messageCount", sess.MessageCount)
		return nil
	}
	if expected != 0 {
		return ErrConflict
	}

	res, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (session_id, message_count, doc, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.MessageCount, doc, now, now,
	)
	if err != nil {
		slog.Error("SQLiteStore PutSession insert failed", "error", err, "sessionID", sess.ID)
		return fmt.Errorf("insert session %s: %w", sess.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	slog.Debug("SQLiteStore PutSession inserted", "sessionID", sess.ID)
	return nil
}

// GetFlow loads a flow definition.
func (s *SQLiteStore) GetFlow(ctx context.Context, key string) (*models.FlowDefinition, error) {
	var doc string
	var updatedAt time.Time
	err := s.db.QueryRowContext(ctx, `SELECT doc, updated_at FROM flows WHERE flow_key = ?`, key).Scan(&doc, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore GetFlow failed", "error", err, "key", key)
		return nil, fmt.Errorf("get flow %s: %w", key, err)
	}
	f, err := decodeFlow(doc)
	if err != nil {
		return nil, err
	}
	f.UpdatedAt = updatedAt
	return f, nil
}

// CreateDefaultFlow seeds the canonical flow under key unless one exists.
func (s *SQLiteStore) CreateDefaultFlow(ctx context.Context, key string) (*models.FlowDefinition, error) {
	doc, err := encodeDoc(models.DefaultFlowDefinition(key))
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO flows (flow_key, doc, updated_at) VALUES (?, ?, ?)`,
		key, doc, time.Now(),
	)
	if err != nil {
		slog.Error("SQLiteStore CreateDefaultFlow failed", "error", err, "key", key)
		return nil, fmt.Errorf("create default flow %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Info("SQLiteStore CreateDefaultFlow: seeded default flow", "key", key)
	}
	return s.GetFlow(ctx, key)
}

// SaveFlow inserts or replaces a flow definition.
func (s *SQLiteStore) SaveFlow(ctx context.Context, def models.FlowDefinition) error {
	doc, err := encodeDoc(def)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO flows (flow_key, doc, updated_at) VALUES (?, ?, ?)`,
		def.Key, doc, time.Now(),
	)
	if err != nil {
		slog.Error("SQLiteStore SaveFlow failed", "error", err, "key", def.Key)
		return fmt.Errorf("save flow %s: %w", def.Key, err)
	}
	return nil
}

// AppendLead inserts a lead unless the session already has one.
func (s *SQLiteStore) AppendLead(ctx context.Context, lead models.Lead) (string, error) {
	ensureLeadID(&lead)
	doc, err := encodeDoc(lead)
	if err != nil {
		return "", err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO leads (id, session_id, doc, created_at) VALUES (?, ?, ?, ?)`,
		lead.ID, lead.SessionID, doc, lead.CreatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore AppendLead failed", "error", err, "sessionID", lead.SessionID)
		return "", fmt.Errorf("append lead for session %s: %w", lead.SessionID, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		slog.Debug("SQLiteStore AppendLead inserted", "leadID", lead.ID, "sessionID", lead.SessionID)
		return lead.ID, nil
	}

	var existing string
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM leads WHERE session_id = ?`, lead.SessionID).Scan(&existing); err != nil {
		return "", fmt.Errorf("lookup existing lead for session %s: %w", lead.SessionID, err)
	}
	slog.Debug("SQLiteStore AppendLead: lead already exists for session", "sessionID", lead.SessionID, "leadID", existing)
	return existing, nil
}

// GetLead loads a lead by id.
func (s *SQLiteStore) GetLead(ctx context.Context, id string) (*models.Lead, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM leads WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lead %s: %w", id, err)
	}
	return decodeLead(doc)
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
