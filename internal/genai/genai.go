// Package genai provides the generative AI backends used for the conversational path.
//
// Two providers are supported: Google Gemini (google.golang.org/genai) and OpenAI
// (github.com/openai/openai-go). Both are built with SDK retries disabled; the caller's
// context deadline is the only bound on an attempt. Failures are returned as *Error carrying
// the classified outcome.
package genai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// Provider names accepted by New.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Default model names per provider.
const (
	DefaultGeminiModel = "gemini-2.0-flash"
	DefaultOpenAIModel = "gpt-4o-mini"
)

// DefaultSystemPrompt instructs the model to collect the intake data conversationally.
const DefaultSystemPrompt = `Você é um assistente virtual de um escritório de advocacia no Brasil.
Seu papel é apenas coletar informações básicas do cliente para que um advogado humano dê continuidade.

Informações a coletar, nesta ordem:
1. Nome completo.
2. Área jurídica (Penal ou Saúde Liminar).
3. Breve descrição da situação.
4. Número de WhatsApp válido (com DDD), somente no final.

Regras:
- Responda sempre em português brasileiro, com no máximo 2 frases.
- Confirme cada informação antes de seguir para a próxima.
- Se já tiver a resposta de algum item no contexto, não repita a pergunta.
- Nunca ofereça agendamento automático ou horários de consulta.
- Finalize cada mensagem com uma pergunta que leve o cliente a responder.`

// Request is one AI generation request.
type Request struct {
	SystemPrompt string
	History      []models.Turn // prior exchange, oldest first
	Message      string
}

// Backend generates a reply for a request. Implementations return *Error on failure.
type Backend interface {
	Generate(ctx context.Context, req Request) (string, error)
	// Name identifies the provider and model for logs and health.
	Name() string
}

// Opts holds configuration for backend construction.
type Opts struct {
	Provider     string
	APIKey       string
	Model        string
	SystemPrompt string
}

// Option configures a backend.
type Option func(*Opts)

// WithProvider selects "gemini" or "openai".
func WithProvider(p string) Option {
	return func(o *Opts) { o.Provider = strings.ToLower(strings.TrimSpace(p)) }
}

// WithAPIKey sets the provider API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the provider's default model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithSystemPrompt overrides DefaultSystemPrompt.
func WithSystemPrompt(prompt string) Option {
	return func(o *Opts) { o.SystemPrompt = prompt }
}

// New builds the configured backend. The returned backend applies the configured system
// prompt whenever a request does not carry its own.
func New(ctx context.Context, opts ...Option) (Backend, error) {
	cfg := Opts{Provider: ProviderGemini}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("genai: API key not set for provider %q", cfg.Provider)
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	slog.Debug("genai.New: building backend", "provider", cfg.Provider, "model", cfg.Model)

	var (
		b   Backend
		err error
	)
	switch cfg.Provider {
	case ProviderGemini:
		b, err = NewGeminiBackend(ctx, cfg.APIKey, cfg.Model)
	case ProviderOpenAI:
		b = NewOpenAIBackend(cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("genai: unknown provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return &promptedBackend{Backend: b, systemPrompt: cfg.SystemPrompt}, nil
}

// promptedBackend fills in the default system prompt.
type promptedBackend struct {
	Backend
	systemPrompt string
}

func (p *promptedBackend) Generate(ctx context.Context, req Request) (string, error) {
	if req.SystemPrompt == "" {
		req.SystemPrompt = p.systemPrompt
	}
	return p.Backend.Generate(ctx, req)
}
