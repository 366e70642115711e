package grade

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiModel grades through the Gemini text models.
type GeminiModel struct {
	apiKey string
	model  string
}

func NewGeminiModel(apiKey, model string) *GeminiModel {
	return &GeminiModel{
		apiKey: strings.TrimSpace(apiKey),
		model:  strings.TrimSpace(model),
	}
}

func (m *GeminiModel) Name() string { return "gemini/" + m.model }

func (m *GeminiModel) Available() error {
	if m.apiKey == "" {
		return errors.New("GEMINI_API_KEY is empty")
	}
	return nil
}

func (m *GeminiModel) Complete(ctx context.Context, system, user string) (string, error) {
	cl, err := genai.NewClient(ctx, option.WithAPIKey(m.apiKey))
	if err != nil {
		return "", err
	}
	defer cl.Close()

	gm := cl.GenerativeModel(m.model)
	gm.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptrFloat32(0.1),
		ResponseMIMEType: "application/json",
	}
	gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}

	resp, err := gm.GenerateContent(ctx, genai.Text(user))
	if err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}

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
	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "", errors.New("gemini: empty response")
	}
	return out, nil
}

func ptrFloat32(v float32) *float32 { return &v }
