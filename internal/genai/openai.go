package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"mime"

	"github.com/sashabaranov/go-openai"
)

type OpenAIClient struct {
	openAI *openai.Client
	model  string
}

func NewOpenAIClient(apiKey, baseURL, model string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4o
	}
	return &OpenAIClient{
		openAI: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (c *OpenAIClient) Name() string { return "openai" }

// Transcribe sends the clip to Whisper. The prompt is not forwarded since Whisper
// treats it as preceding transcript text.
func (c *OpenAIClient) Transcribe(ctx context.Context, _ string, audio Audio) (string, error) {
	data, err := base64.StdEncoding.DecodeString(audio.Base64)
	if err != nil {
		return "", fmt.Errorf("invalid base64 audio: %w", err)
	}

	resp, err := c.openAI.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: "segment" + extensionFor(audio.MIMEType),
		Reader:   bytes.NewReader(data),
		Format:   openai.AudioResponseFormatText,
	})
	if err != nil {
		slog.Error("OpenAI transcription error", "error", err)
		return "", c.wrap(err)
	}
	return resp.Text, nil
}

func (c *OpenAIClient) Summarize(ctx context.Context, prompt string) (string, error) {
	resp, err := c.openAI.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		slog.Error("OpenAI API error", "error", err, "model", c.model)
		return "", c.wrap(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from OpenAI")
	}

	slog.Debug("received response from OpenAI",
		"model", resp.Model,
		"tokens_used", resp.Usage.TotalTokens,
		"response_length", len(resp.Choices[0].Message.Content))
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) wrap(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{Provider: c.Name(), Status: apiErr.HTTPStatusCode, Body: truncate(apiErr.Message, maxErrorBody)}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &APIError{Provider: c.Name(), Status: reqErr.HTTPStatusCode, Body: truncate(string(reqErr.Body), maxErrorBody)}
	}
	return fmt.Errorf("OpenAI API error: %w", err)
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "audio/webm", "video/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	case "audio/mpeg":
		return ".mp3"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".webm"
}
