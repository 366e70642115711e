package grade

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIModel grades through an OpenAI-compatible chat completion API.
type OpenAIModel struct {
	api    *openai.Client
	apiKey string
	model  string
}

// NewOpenAIModel creates an OpenAI-backed grading model. baseURL may be
// empty for the default endpoint or point at any compatible server.
func NewOpenAIModel(baseURL, apiKey, modelName string) *OpenAIModel {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIModel{
		api:    openai.NewClientWithConfig(config),
		apiKey: apiKey,
		model:  modelName,
	}
}

func (m *OpenAIModel) Name() string { return "openai/" + m.model }

func (m *OpenAIModel) Available() error {
	if m.apiKey == "" {
		return errors.New("OPENAI_API_KEY is empty")
	}
	return nil
}

func (m *OpenAIModel) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := m.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: m.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
