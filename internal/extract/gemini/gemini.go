// Package gemini implements the extraction provider backed by the Gemini
// vision models.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/pavelanni/gradescan/internal/extract"
)

type Provider struct {
	apiKey string
	model  string
}

// New creates a Gemini provider. An empty API key leaves the provider
// configured but unavailable; the router will skip it.
func New(apiKey, model string) *Provider {
	return &Provider{
		apiKey: strings.TrimSpace(apiKey),
		model:  strings.TrimSpace(model),
	}
}

func (p *Provider) Name() string { return "gemini" }

func (p *Provider) Available() error {
	if p.apiKey == "" {
		return errors.New("GEMINI_API_KEY is empty")
	}
	return nil
}

func (p *Provider) Extract(ctx context.Context, image []byte, mime string, intent extract.Intent) (extract.Fields, error) {
	cl, err := genai.NewClient(ctx, option.WithAPIKey(p.apiKey))
	if err != nil {
		return extract.Fields{}, err
	}
	defer cl.Close()

	m := cl.GenerativeModel(p.model)
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptrFloat32(0),
		ResponseMIMEType: "application/json",
	}

	parts := []genai.Part{
		genai.Text(extract.Prompt(intent)),
		&genai.Blob{MIMEType: mime, Data: image},
	}

	resp, err := m.GenerateContent(ctx, parts...)
	if err != nil {
		return extract.Fields{}, fmt.Errorf("gemini: %w", err)
	}
	text := joinText(resp)
	if text == "" {
		return extract.Fields{}, errors.New("gemini: empty response")
	}
	return extract.DecodeFields(text, intent)
}

func joinText(resp *genai.GenerateContentResponse) string {
	var sb strings.Builder
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, part := range c.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
	}
	return strings.TrimSpace(sb.String())
}

func ptrFloat32(v float32) *float32 { return &v }
