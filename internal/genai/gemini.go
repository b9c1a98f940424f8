package genai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gemini "google.golang.org/genai"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
	geminiAPIVersion     = "v1beta"
)

// GeminiClient calls generateContent through the Google Gen AI SDK.
type GeminiClient struct {
	client *gemini.Client
	model  string
}

func NewGeminiClient(ctx context.Context, baseURL, apiKey, model string) (*GeminiClient, error) {
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	client, err := gemini.NewClient(ctx, &gemini.ClientConfig{
		APIKey:  apiKey,
		Backend: gemini.BackendGeminiAPI,
		HTTPOptions: gemini.HTTPOptions{
			BaseURL:    baseURL,
			APIVersion: geminiAPIVersion,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiClient{client: client, model: model}, nil
}

func (c *GeminiClient) Name() string { return "gemini" }

// BlockedError is returned when the model answers with no candidates.
type BlockedError struct {
	Reason  string
	Message string
}

func (e *BlockedError) Error() string {
	if e.Reason == "" {
		return "gemini returned no candidates"
	}
	if e.Message != "" {
		return fmt.Sprintf("gemini blocked the prompt: %s (%s)", e.Reason, e.Message)
	}
	return "gemini blocked the prompt: " + e.Reason
}

func (c *GeminiClient) Transcribe(ctx context.Context, prompt string, audio Audio) (string, error) {
	data, err := base64.StdEncoding.DecodeString(audio.Base64)
	if err != nil {
		return "", fmt.Errorf("invalid base64 audio: %w", err)
	}
	parts := []*gemini.Part{
		gemini.NewPartFromText(prompt),
		gemini.NewPartFromBytes(data, audio.MIMEType),
	}
	return c.generate(ctx, parts, nil)
}

func (c *GeminiClient) Summarize(ctx context.Context, prompt string) (string, error) {
	temperature := float32(0.2)
	cfg := &gemini.GenerateContentConfig{
		Temperature:      &temperature,
		ResponseMIMEType: "application/json",
	}
	return c.generate(ctx, []*gemini.Part{gemini.NewPartFromText(prompt)}, cfg)
}

func (c *GeminiClient) generate(ctx context.Context, parts []*gemini.Part, cfg *gemini.GenerateContentConfig) (string, error) {
	start := time.Now()

	contents := []*gemini.Content{{Role: "user", Parts: parts}}
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		if apiErr, ok := geminiAPIError(err); ok {
			slog.Error("gemini API error", "status", apiErr.Code, "model", c.model)
			return "", &APIError{Provider: c.Name(), Status: apiErr.Code, Body: truncate(apiErr.Message, maxErrorBody)}
		}
		return "", fmt.Errorf("gemini request failed: %w", err)
	}
	if len(resp.Candidates) == 0 {
		blocked := &BlockedError{}
		if fb := resp.PromptFeedback; fb != nil {
			blocked.Reason = string(fb.BlockReason)
			blocked.Message = fb.BlockReasonMessage
		}
		slog.Warn("gemini returned no candidates", "model", c.model, "block_reason", blocked.Reason)
		return "", blocked
	}

	text := resp.Text()
	slog.Debug("gemini response received",
		"model", c.model,
		"response_length", len(text),
		"duration_ms", time.Since(start).Milliseconds())
	return text, nil
}

// geminiAPIError matches the SDK error whether it arrives as a value or a pointer.
func geminiAPIError(err error) (gemini.APIError, bool) {
	var v gemini.APIError
	if errors.As(err, &v) {
		return v, true
	}
	var p *gemini.APIError
	if errors.As(err, &p) && p != nil {
		return *p, true
	}
	return gemini.APIError{}, false
}
