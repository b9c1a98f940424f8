package genai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fedutinova/meetnotes/internal/config"
)

func newTestGemini(t *testing.T, h http.HandlerFunc) *GeminiClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewGeminiClient(context.Background(), srv.URL, "secret", "gemini-1.5-pro")
	require.NoError(t, err)
	return c
}

func writeGeminiJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestGemini_TranscribeSendsInlineAudio(t *testing.T) {
	var got map[string]any
	c := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "models/gemini-1.5-pro:generateContent"), r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-goog-api-key"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		writeGeminiJSON(w, http.StatusOK, `{"candidates":[{"content":{"role":"model","parts":[{"text":"hello there"}]}}]}`)
	})

	text, err := c.Transcribe(context.Background(), "Transcribe.", Audio{MIMEType: "audio/webm", Base64: "QUJD"})
	require.NoError(t, err)
	assert.Equal(t, "hello there", text)

	parts := got["contents"].([]any)[0].(map[string]any)["parts"].([]any)
	require.Len(t, parts, 2)
	assert.Equal(t, "Transcribe.", parts[0].(map[string]any)["text"])
	inline := parts[1].(map[string]any)["inlineData"].(map[string]any)
	assert.Equal(t, "audio/webm", inline["mimeType"])
	assert.Equal(t, "QUJD", inline["data"])
}

func TestGemini_TranscribeRejectsBadBase64(t *testing.T) {
	c := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	_, err := c.Transcribe(context.Background(), "p", Audio{MIMEType: "audio/webm", Base64: "not base64!"})
	assert.Error(t, err)
}

func TestGemini_SummarizeRequestsJSON(t *testing.T) {
	var got map[string]any
	c := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeGeminiJSON(w, http.StatusOK, `{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"summary\":\"ok\"}"}]}}]}`)
	})

	out, err := c.Summarize(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, `{"summary":"ok"}`, out)

	genCfg, ok := got["generationConfig"].(map[string]any)
	require.True(t, ok, "generationConfig missing: %v", got)
	assert.InDelta(t, 0.2, genCfg["temperature"], 0.0001)
	assert.Equal(t, "application/json", genCfg["responseMimeType"])
}

func TestGemini_EmptyCandidatesCarryBlockReason(t *testing.T) {
	c := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		writeGeminiJSON(w, http.StatusOK, `{"candidates":[],"promptFeedback":{"blockReason":"SAFETY","blockReasonMessage":"unsafe prompt"}}`)
	})

	out, err := c.Summarize(context.Background(), "p")
	assert.Empty(t, out)
	var blocked *BlockedError
	require.True(t, errors.As(err, &blocked), "got %v", err)
	assert.Equal(t, "SAFETY", blocked.Reason)
	assert.Contains(t, err.Error(), "SAFETY")
	assert.Contains(t, err.Error(), "unsafe prompt")
}

func TestGemini_EmptyCandidatesWithoutFeedback(t *testing.T) {
	c := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		writeGeminiJSON(w, http.StatusOK, `{"candidates":[]}`)
	})

	_, err := c.Summarize(context.Background(), "p")
	var blocked *BlockedError
	require.True(t, errors.As(err, &blocked), "got %v", err)
	assert.Empty(t, blocked.Reason)
}

func TestGemini_NonSuccessStatus(t *testing.T) {
	msg := strings.Repeat("x", 1000)
	c := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		writeGeminiJSON(w, http.StatusBadRequest, `{"error":{"code":400,"message":"`+msg+`","status":"INVALID_ARGUMENT"}}`)
	})

	_, err := c.Summarize(context.Background(), "p")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, "gemini", apiErr.Provider)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.LessOrEqual(t, len(apiErr.Body), maxErrorBody+3)
	assert.Contains(t, err.Error(), "400")
}

func TestOpenAI_SummarizeUsesJSONMode(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"gpt-4o","choices":[{"index":0,"message":{"role":"assistant","content":"{\"summary\":\"s\"}"}}],"usage":{"total_tokens":7}}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("k", srv.URL+"/v1", "gpt-4o")
	out, err := c.Summarize(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, `{"summary":"s"}`, out)
	assert.Equal(t, "json_object", got["response_format"].(map[string]any)["type"])
	assert.InDelta(t, 0.2, got["temperature"], 0.0001)
}

func TestOpenAI_APIErrorCarriesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad prompt","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	_, err := NewOpenAIClient("k", srv.URL+"/v1", "").Summarize(context.Background(), "p")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "bad prompt", apiErr.Body)
}

func TestNew_SelectsProvider(t *testing.T) {
	p, err := New(context.Background(), config.Config{GenAIProvider: "gemini", GeminiAPIKey: "k", GeminiModel: "m"})
	require.NoError(t, err)
	assert.Equal(t, "gemini", p.Name())

	p, err = New(context.Background(), config.Config{GenAIProvider: "openai", OpenAIAPIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	_, err = New(context.Background(), config.Config{GenAIProvider: "openai"})
	assert.Error(t, err)
	_, err = New(context.Background(), config.Config{GenAIProvider: "other", GeminiAPIKey: "k"})
	assert.Error(t, err)
}

func TestExtensionFor(t *testing.T) {
	assert.Equal(t, ".webm", extensionFor("video/webm"))
	assert.Equal(t, ".ogg", extensionFor("audio/ogg"))
	assert.Equal(t, ".webm", extensionFor("application/x-unknown-thing"))
}
