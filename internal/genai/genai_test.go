package genai

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	gemini "google.golang.org/genai"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp   *openai.ChatCompletion
	err    error
	params openai.ChatCompletionNewParams
}

func (m *mockChatService) New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	m.params = params
	return m.resp, m.err
}

type mockGenerator struct {
	resp     *gemini.GenerateContentResponse
	err      error
	contents []*gemini.Content
	config   *gemini.GenerateContentConfig
}

func (m *mockGenerator) GenerateContent(ctx context.Context, model string, contents []*gemini.Content, config *gemini.GenerateContentConfig) (*gemini.GenerateContentResponse, error) {
	m.contents = contents
	m.config = config
	return m.resp, m.err
}

func TestOpenAIBackend_Success(t *testing.T) {
	mock := &mockChatService{resp: &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: " Olá! Qual é o seu nome? "}}},
	}}
	b := &OpenAIBackend{chat: mock, model: DefaultOpenAIModel}
	out, err := b.Generate(context.Background(), Request{
		SystemPrompt: "sys",
		History:      []models.Turn{{Role: "user", Text: "oi"}, {Role: "assistant", Text: "olá"}},
		Message:      "preciso de ajuda",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "Olá! Qual é o seu nome?" {
		t.Errorf("unexpected output %q", out)
	}
	if len(mock.params.Messages) != 4 {
		t.Errorf("expected system + 2 history + user messages, got %d", len(mock.params.Messages))
	}
}

func TestOpenAIBackend_NoChoices(t *testing.T) {
	b := &OpenAIBackend{chat: &mockChatService{resp: &openai.ChatCompletion{}}, model: DefaultOpenAIModel}
	_, err := b.Generate(context.Background(), Request{Message: "oi"})
	if !errors.Is(err, ErrEmptyCompletion) {
		t.Fatalf("expected ErrEmptyCompletion, got %v", err)
	}
	if Classify(err) != models.AIOutcomeNetworkError {
		t.Errorf("expected network_error outcome, got %s", Classify(err))
	}
}

func TestOpenAIBackend_RateLimited(t *testing.T) {
	b := &OpenAIBackend{chat: &mockChatService{err: &openai.Error{StatusCode: 429}}, model: DefaultOpenAIModel}
	_, err := b.Generate(context.Background(), Request{Message: "oi"})
	var ae *Error
	if !errors.As(err, &ae) {
		t.Fatal("expected *Error")
	}
	if ae.Outcome != models.AIOutcomeQuotaExceeded {
		t.Errorf("expected quota_exceeded, got %s", ae.Outcome)
	}
}

func TestGeminiBackend_Success(t *testing.T) {
	mock := &mockGenerator{resp: &gemini.GenerateContentResponse{
		Candidates: []*gemini.Candidate{{Content: &gemini.Content{Parts: []*gemini.Part{
			{Text: "pensando", Thought: true},
			{Text: "Olá! "},
			{Text: "Como posso ajudar?"},
		}}}},
	}}
	b := &GeminiBackend{models: mock, model: DefaultGeminiModel}
	out, err := b.Generate(context.Background(), Request{
		SystemPrompt: "sys",
		History:      []models.Turn{{Role: "user", Text: "oi"}, {Role: "assistant", Text: "olá"}},
		Message:      "tudo bem?",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "Olá! Como posso ajudar?" {
		t.Errorf("unexpected output %q", out)
	}
	if len(mock.contents) != 3 || mock.contents[1].Role != gemini.RoleModel {
		t.Errorf("unexpected contents: %d", len(mock.contents))
	}
	if mock.config == nil || mock.config.SystemInstruction == nil {
		t.Error("expected system instruction to be set")
	}
}

func TestGeminiBackend_EmptyCandidates(t *testing.T) {
	b := &GeminiBackend{models: &mockGenerator{resp: &gemini.GenerateContentResponse{}}, model: DefaultGeminiModel}
	_, err := b.Generate(context.Background(), Request{Message: "oi"})
	if !errors.Is(err, ErrEmptyCompletion) {
		t.Fatalf("expected ErrEmptyCompletion, got %v", err)
	}
}

func TestGeminiBackend_ResourceExhausted(t *testing.T) {
	apiErr := gemini.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED", Message: "Quota exceeded"}
	b := &GeminiBackend{models: &mockGenerator{err: apiErr}, model: DefaultGeminiModel}
	_, err := b.Generate(context.Background(), Request{Message: "oi"})
	if Classify(err) != models.AIOutcomeQuotaExceeded {
		t.Errorf("expected quota_exceeded, got %s", Classify(err))
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want models.AIOutcome
	}{
		{"nil", nil, models.AIOutcomeSuccess},
		{"deadline", context.DeadlineExceeded, models.AIOutcomeTimeout},
		{"wrapped deadline", fmt.Errorf("post: %w", context.DeadlineExceeded), models.AIOutcomeTimeout},
		{"openai 429", &openai.Error{StatusCode: 429}, models.AIOutcomeQuotaExceeded},
		{"openai 401", &openai.Error{StatusCode: 401}, models.AIOutcomeAuthError},
		{"openai 503", &openai.Error{StatusCode: 503}, models.AIOutcomeNetworkError},
		{"gemini exhausted", gemini.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED"}, models.AIOutcomeQuotaExceeded},
		{"gemini permission", gemini.APIError{Code: 403, Status: "PERMISSION_DENIED"}, models.AIOutcomeAuthError},
		{"gemini pointer", &gemini.APIError{Code: 401, Status: "UNAUTHENTICATED"}, models.AIOutcomeAuthError},
		{"gemini internal", gemini.APIError{Code: 500, Status: "INTERNAL"}, models.AIOutcomeNetworkError},
		{"quota text", errors.New("You exceeded your current quota"), models.AIOutcomeQuotaExceeded},
		{"billing text", errors.New("billing account disabled"), models.AIOutcomeQuotaExceeded},
		{"too many requests", errors.New("Too Many Requests"), models.AIOutcomeQuotaExceeded},
		{"api key text", errors.New("API key not valid. Please pass a valid API key."), models.AIOutcomeAuthError},
		{"connection refused", errors.New("dial tcp 127.0.0.1:443: connect: connection refused"), models.AIOutcomeNetworkError},
		{"empty completion", ErrEmptyCompletion, models.AIOutcomeNetworkError},
		{"classified", &Error{Outcome: models.AIOutcomeTimeout, Err: errors.New("x")}, models.AIOutcomeTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNew_RequiresKey(t *testing.T) {
	if _, err := New(context.Background(), WithProvider("openai")); err == nil {
		t.Error("expected error when API key not provided, got nil")
	}
}

func TestNew_UnknownProvider(t *testing.T) {
	if _, err := New(context.Background(), WithProvider("llama"), WithAPIKey("k")); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestNew_OpenAIAppliesDefaultPrompt(t *testing.T) {
	b, err := New(context.Background(), WithProvider("OpenAI"), WithAPIKey("sk-test"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if b.Name() != "openai/"+DefaultOpenAIModel {
		t.Errorf("unexpected name %q", b.Name())
	}
	pb, ok := b.(*promptedBackend)
	if !ok || pb.systemPrompt != DefaultSystemPrompt {
		t.Error("expected default system prompt to be applied")
	}
}
