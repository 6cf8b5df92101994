package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// InMemoryStore is a process-local Store. Documents are copied on the way in and out so
// callers never share state with the store.
type InMemoryStore struct {
	mu            sync.Mutex
	sessions      map[string]*models.Session
	flows         map[string]models.FlowDefinition
	leads         map[string]models.Lead
	leadBySession map[string]string
	dedup         map[string]*DedupRecord
}

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions:      make(map[string]*models.Session),
		flows:         make(map[string]models.FlowDefinition),
		leads:         make(map[string]models.Lead),
		leadBySession: make(map[string]string),
		dedup:         make(map[string]*DedupRecord),
	}
}

func (s *InMemoryStore) GetSession(_ context.Context, id string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess.Clone(), nil
}

func (s *InMemoryStore) PutSession(_ context.Context, sess *models.Session, expected int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.sessions[sess.ID]
	switch {
	case !ok && expected != 0:
		return ErrConflict
	case ok && cur.MessageCount != expected:
		slog.Debug("InMemoryStore.PutSession: version conflict", "sessionID", sess.ID, "stored", cur.MessageCount, "expected", expected)
		return ErrConflict
	}
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

func (s *InMemoryStore) GetFlow(_ context.Context, key string) (*models.FlowDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flows[key]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneFlow(f), nil
}

func (s *InMemoryStore) CreateDefaultFlow(_ context.Context, key string) (*models.FlowDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.flows[key]; ok {
		return cloneFlow(f), nil
	}
	def := models.DefaultFlowDefinition(key)
	def.UpdatedAt = time.Now()
	s.flows[key] = def
	slog.Info("InMemoryStore.CreateDefaultFlow: seeded default flow", "key", key)
	return cloneFlow(def), nil
}

func (s *InMemoryStore) SaveFlow(_ context.Context, def models.FlowDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	def.UpdatedAt = time.Now()
	s.flows[def.Key] = *cloneFlow(def)
	return nil
}

func (s *InMemoryStore) AppendLead(_ context.Context, lead models.Lead) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.leadBySession[lead.SessionID]; ok {
		slog.Debug("InMemoryStore.AppendLead: lead already exists for session", "sessionID", lead.SessionID, "leadID", id)
		return id, nil
	}
	ensureLeadID(&lead)
	lead.Answers = append([]models.LeadAnswer(nil), lead.Answers...)
	s.leads[lead.ID] = lead
	s.leadBySession[lead.SessionID] = lead.ID
	return lead.ID, nil
}

func (s *InMemoryStore) GetLead(_ context.Context, id string) (*models.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[id]
	if !ok {
		return nil, ErrNotFound
	}
	l.Answers = append([]models.LeadAnswer(nil), l.Answers...)
	return &l, nil
}

// LeadCount returns the number of stored leads.
func (s *InMemoryStore) LeadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.leads)
}

func (s *InMemoryStore) RecordInbound(_ context.Context, messageID, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedup[messageID]; ok {
		return false, nil
	}
	s.dedup[messageID] = &DedupRecord{MessageID: messageID, SessionID: sessionID, ReceivedAt: time.Now()}
	return true, nil
}

func (s *InMemoryStore) IsProcessed(_ context.Context, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.dedup[messageID]
	return ok && rec.ProcessedAt != nil, nil
}

func (s *InMemoryStore) MarkProcessed(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	rec, ok := s.dedup[messageID]
	if !ok {
		rec = &DedupRecord{MessageID: messageID, ReceivedAt: now}
		s.dedup[messageID] = rec
	}
	rec.ProcessedAt = &now
	return nil
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }

func (s *InMemoryStore) Close() error { return nil }

func cloneFlow(f models.FlowDefinition) *models.FlowDefinition {
	f.Steps = append([]models.Step(nil), f.Steps...)
	return &f
}
