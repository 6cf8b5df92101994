package genai

import (
	"context"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// chatService defines minimal interface for chat completions.
type chatService interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAIBackend generates replies with the OpenAI chat completions API.
type OpenAIBackend struct {
	chat  chatService
	model string
}

// NewOpenAIBackend creates an OpenAI backend. SDK retries are disabled.
func NewOpenAIBackend(apiKey, model string) *OpenAIBackend {
	if model == "" {
		model = DefaultOpenAIModel
	}
	client := openai.NewClient(option.WithAPIKey(apiKey), option.WithMaxRetries(0))
	return &OpenAIBackend{chat: &client.Chat.Completions, model: model}
}

func (b *OpenAIBackend) Name() string { return ProviderOpenAI + "/" + b.model }

// Generate sends the system prompt, the stored history and the new message.
func (b *OpenAIBackend) Generate(ctx context.Context, req Request) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	for _, turn := range req.History {
		if turn.Role == "assistant" {
			messages = append(messages, openai.AssistantMessage(turn.Text))
		} else {
			messages = append(messages, openai.UserMessage(turn.Text))
		}
	}
	messages = append(messages, openai.UserMessage(req.Message))

	resp, err := b.chat.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(b.model),
		Messages: messages,
	})
	if err != nil {
		return "", wrap(err)
	}
	if len(resp.Choices) == 0 {
		return "", wrap(ErrEmptyCompletion)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", wrap(ErrEmptyCompletion)
	}
	slog.Debug("OpenAIBackend.Generate: completion received", "model", b.model, "length", len(text))
	return text, nil
}
