// Package openai implements the extraction provider backed by an
// OpenAI-compatible vision endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/gradescan/internal/extract"
	"github.com/pavelanni/gradescan/internal/util"
)

type Provider struct {
	api    *openai.Client
	apiKey string
	model  string
}

// New creates an OpenAI provider. baseURL may point at any
// OpenAI-compatible endpoint; empty means the default API.
func New(baseURL, apiKey, model string) *Provider {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Provider{
		api:    openai.NewClientWithConfig(config),
		apiKey: strings.TrimSpace(apiKey),
		model:  model,
	}
}

func (p *Provider) Name() string { return "openai" }

func (p *Provider) Available() error {
	if p.apiKey == "" {
		return errors.New("OPENAI_API_KEY is empty")
	}
	return nil
}

func (p *Provider) Extract(ctx context.Context, image []byte, mime string, intent extract.Intent) (extract.Fields, error) {
	resp, err := p.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: extract.Prompt(intent),
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    util.MakeDataURL(mime, image),
							Detail: openai.ImageURLDetailAuto,
						},
					},
				},
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return extract.Fields{}, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return extract.Fields{}, errors.New("openai: no choices returned")
	}
	return extract.DecodeFields(resp.Choices[0].Message.Content, intent)
}
