// Package genai talks to the generative-language backends that transcribe audio and
// summarize transcripts.
package genai

import (
	"context"
	"fmt"
	"strings"

	"github.com/fedutinova/meetnotes/internal/config"
)

// Audio is one base64-encoded clip with its MIME type.
type Audio struct {
	MIMEType string
	Base64   string
}

// Provider is a backend able to do both halves of the pipeline.
type Provider interface {
	Transcribe(ctx context.Context, prompt string, audio Audio) (string, error)
	Summarize(ctx context.Context, prompt string) (string, error)
	Name() string
}

// APIError is a non-2xx answer from a backend.
type APIError struct {
	Provider string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.Provider, e.Status, e.Body)
}

const maxErrorBody = 500

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// New builds the provider selected by GENAI_PROVIDER.
func New(ctx context.Context, cfg config.Config) (Provider, error) {
	switch strings.ToLower(cfg.GenAIProvider) {
	case "", "gemini", "google":
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required for the gemini provider")
		}
		c, err := NewGeminiClient(ctx, cfg.GeminiBaseURL, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
		}
		return NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel), nil
	default:
		return nil, fmt.Errorf("unknown genai provider: %s", cfg.GenAIProvider)
	}
}
