package genai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	gemini "google.golang.org/genai"
)

// contentGenerator is the subset of the Gemini models service used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*gemini.Content, config *gemini.GenerateContentConfig) (*gemini.GenerateContentResponse, error)
}

// GeminiBackend generates replies with the Gemini API.
type GeminiBackend struct {
	models contentGenerator
	model  string
}

// NewGeminiBackend creates a Gemini API backend.
func NewGeminiBackend(ctx context.Context, apiKey, model string) (*GeminiBackend, error) {
	if model == "" {
		model = DefaultGeminiModel
	}
	client, err := gemini.NewClient(ctx, &gemini.ClientConfig{
		APIKey:  apiKey,
		Backend: gemini.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("genai: create gemini client: %w", err)
	}
	return &GeminiBackend{models: client.Models, model: model}, nil
}

func (b *GeminiBackend) Name() string { return ProviderGemini + "/" + b.model }

// Generate sends the history as alternating user/model contents followed by the new message.
func (b *GeminiBackend) Generate(ctx context.Context, req Request) (string, error) {
	contents := make([]*gemini.Content, 0, len(req.History)+1)
	for _, turn := range req.History {
		role := gemini.RoleUser
		if turn.Role == "assistant" {
			role = gemini.RoleModel
		}
		contents = append(contents, &gemini.Content{Role: role, Parts: []*gemini.Part{{Text: turn.Text}}})
	}
	contents = append(contents, &gemini.Content{Role: gemini.RoleUser, Parts: []*gemini.Part{{Text: req.Message}}})

	var config *gemini.GenerateContentConfig
	if req.SystemPrompt != "" {
		config = &gemini.GenerateContentConfig{
			SystemInstruction: &gemini.Content{Parts: []*gemini.Part{{Text: req.SystemPrompt}}},
		}
	}

	resp, err := b.models.GenerateContent(ctx, b.model, contents, config)
	if err != nil {
		return "", wrap(err)
	}
	text := strings.TrimSpace(responseText(resp))
	if text == "" {
		return "", wrap(ErrEmptyCompletion)
	}
	slog.Debug("GeminiBackend.Generate: completion received", "model", b.model, "length", len(text))
	return text, nil
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *gemini.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && !part.Thought {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}
