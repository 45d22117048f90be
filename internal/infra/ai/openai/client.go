package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"

	domain "github.com/qtrade-labs/insight-api/internal/domain/reports"
	"github.com/qtrade-labs/insight-api/internal/infra/ai/prompt"
)

const (
	defaultModel       = "gpt-3.5-turbo"
	defaultMaxTokens   = 2500
	defaultTemperature = 0.7
)

// Client adapts the OpenAI chat API to the Analyzer port. It is constructed
// once at startup and injected into the pipeline; there is no package-level
// instance.
type Client struct {
	api         *openai.Client
	Model       string
	MaxTokens   int
	Temperature float32
}

func NewClient(apiKey, model string) *Client {
	return &Client{api: openai.NewClient(apiKey), Model: model}
}

// Analyze runs one chat completion. Retries and the total deadline are owned
// by the caller; the context passed in already carries them.
func (c *Client) Analyze(ctx context.Context, req domain.AnalysisRequest) (string, error) {
	model := c.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := c.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	temperature := c.Temperature
	if temperature <= 0 {
		temperature = defaultTemperature
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.SystemPrompt()},
			{Role: openai.ChatMessageRoleUser, Content: prompt.UserPrompt(req)},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
