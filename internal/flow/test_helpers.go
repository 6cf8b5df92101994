package flow

import (
	"context"
	"errors"
	"sync"

	"github.com/BTreeMap/IntakePipe/internal/genai"
	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/store"
)

// mockAI replies with text, or fails with err, or blocks until the context is done.
type mockAI struct {
	mu       sync.Mutex
	text     string
	err      error
	block    bool
	calls    int
	requests []genai.Request
}

func (m *mockAI) Generate(ctx context.Context, req genai.Request) (string, error) {
	m.mu.Lock()
	m.calls++
	m.requests = append(m.requests, req)
	text, err, block := m.text, m.err, m.block
	m.mu.Unlock()
	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return text, err
}

func (m *mockAI) Name() string { return "mock" }

func (m *mockAI) set(text string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.text, m.err = text, err
}

func quotaErr() error {
	return &genai.Error{Outcome: models.AIOutcomeQuotaExceeded, Err: errors.New("429 quota exceeded")}
}

// sentMessage is a message captured by mockDispatcher.
type sentMessage struct {
	Recipient string
	Text      string
}

type mockDispatcher struct {
	mu   sync.Mutex
	sent []sentMessage
	fail map[string]bool // recipients that fail
}

func (d *mockDispatcher) Send(_ context.Context, recipient, text string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail[recipient] {
		return "", errors.New("send failed")
	}
	d.sent = append(d.sent, sentMessage{Recipient: recipient, Text: text})
	return "msg", nil
}

func (d *mockDispatcher) recipients() map[string]bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := map[string]bool{}
	for _, m := range d.sent {
		out[m.Recipient] = true
	}
	return out
}

// failingStore makes selected operations fail on top of an in-memory store.
type failingStore struct {
	*store.InMemoryStore
	putErr    error
	appendErr error
}

func (f *failingStore) PutSession(ctx context.Context, s *models.Session, expected int) error {
	if f.putErr != nil {
		return f.putErr
	}
	return f.InMemoryStore.PutSession(ctx, s, expected)
}

func (f *failingStore) AppendLead(ctx context.Context, lead models.Lead) (string, error) {
	if f.appendErr != nil {
		return "", f.appendErr
	}
	return f.InMemoryStore.AppendLead(ctx, lead)
}

func defaultFlow() *models.FlowDefinition {
	def := models.DefaultFlowDefinition(models.DefaultFlowKey)
	return &def
}

// gatedStore holds every GetSession until two callers have arrived, so two messages for the
// same session both read it before either writes.
type gatedStore struct {
	*store.InMemoryStore
	gate sync.WaitGroup
}

func newGatedStore(st *store.InMemoryStore) *gatedStore {
	g := &gatedStore{InMemoryStore: st}
	g.gate.Add(2)
	return g
}

func (g *gatedStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	g.gate.Done()
	g.gate.Wait()
	return g.InMemoryStore.GetSession(ctx, id)
}
