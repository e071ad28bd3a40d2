// Package advisor wraps the chat model behind the conversational CMS. The
// model decides when to emit a structured action block; this package only
// handles transport and prompt assembly.
package advisor

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Completer is the slice of the OpenAI client the advisor uses.
type Completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Service struct {
	client Completer
	model  string
}

// New creates an advisor against any OpenAI-compatible endpoint. An empty
// baseURL targets the hosted API.
func New(baseURL, apiKey, model string) *Service {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Service{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// NewWithCompleter is used by tests to substitute the model.
func NewWithCompleter(completer Completer, model string) *Service {
	return &Service{client: completer, model: model}
}

// Respond sends the system prompt plus conversation history and returns the
// assistant's reply.
func (s *Service) Respond(ctx context.Context, system string, history []Message) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: system,
	})
	for _, msg := range history {
		role := openai.ChatMessageRoleUser
		if msg.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: msg.Content,
		})
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.model,
		Messages:    messages,
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}
