// Package pipeline turns a job's ordered audio segments into a structured note.
package pipeline

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/fedutinova/meetnotes/internal/common"
	"github.com/fedutinova/meetnotes/internal/genai"
	"github.com/fedutinova/meetnotes/internal/job"
)

const (
	TranscribePrompt = "Transcribe the audio and return plain transcript text only."
	SummaryPrompt    = "Please analyze this transcript and return JSON with keys transcript, summary, actionItems[], decisions[], attendees[]. Transcript follows:\n"

	DefaultAudioMIMEType = "audio/webm"
)

type Transcriber interface {
	Transcribe(ctx context.Context, prompt string, audio genai.Audio) (string, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

type Driver struct {
	transcriber  Transcriber
	summarizer   Summarizer
	fallbackMIME string
}

func NewDriver(t Transcriber, s Summarizer, fallbackMIME string) *Driver {
	if fallbackMIME == "" {
		fallbackMIME = DefaultAudioMIMEType
	}
	return &Driver{transcriber: t, summarizer: s, fallbackMIME: fallbackMIME}
}

// Run transcribes segments in index order, merges the text and summarizes it.
// Gaps are skipped. The first failing segment aborts the run.
func (d *Driver) Run(ctx context.Context, jobID string, segments []*job.Segment) (*job.Note, error) {
	start := time.Now()

	fragments := make([]string, 0, len(segments))
	for i, seg := range segments {
		if seg == nil || seg.Payload == nil {
			slog.Warn("skipping missing segment", "job_id", jobID, "index", i)
			continue
		}
		audio, err := d.audio(seg.Payload)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w: %w", i, common.ErrTranscriptionFailed, err)
		}

		text, err := d.transcriber.Transcribe(ctx, TranscribePrompt, audio)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w: %w", i, common.ErrTranscriptionFailed, err)
		}
		slog.Info("segment transcribed", "job_id", jobID, "index", i, "mime_type", audio.MIMEType, "chars", len(text))
		fragments = append(fragments, text)
	}

	transcript := strings.Join(fragments, "\n")
	note, err := d.Summarize(ctx, transcript)
	if err != nil {
		return nil, err
	}

	slog.Info("pipeline finished",
		"job_id", jobID,
		"segments", len(fragments),
		"transcript_chars", len(transcript),
		"action_items", len(note.ActionItems),
		"duration_ms", time.Since(start).Milliseconds())
	return note, nil
}

// Summarize asks for a structured note over transcript.
func (d *Driver) Summarize(ctx context.Context, transcript string) (*job.Note, error) {
	raw, err := d.summarizer.Summarize(ctx, SummaryPrompt+transcript)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrSummarizationFailed, err)
	}
	note, err := ParseNote(raw)
	if err != nil {
		return nil, err
	}
	if note.Transcript == "" {
		note.Transcript = transcript
	}
	return note, nil
}

// ParseNote decodes a summary response. Only malformed JSON is rejected; absent or
// mistyped fields stay empty.
func ParseNote(raw string) (*job.Note, error) {
	var note job.Note
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &note); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return nil, fmt.Errorf("%w: invalid JSON at offset %d", common.ErrMalformedSummary, syntaxErr.Offset)
		}
		return nil, fmt.Errorf("%w: %w", common.ErrMalformedSummary, err)
	}
	return &note, nil
}

func (d *Driver) audio(p job.Payload) (genai.Audio, error) {
	b64, err := p.Base64()
	if err != nil {
		return genai.Audio{}, err
	}
	raw, err := p.Bytes()
	if err != nil {
		return genai.Audio{}, err
	}
	// Re-encode data URLs and other text so the backend always sees standard base64.
	if p.Kind() == job.KindBase64 {
		b64 = base64.StdEncoding.EncodeToString(raw)
	}
	return genai.Audio{MIMEType: d.detectMIME(raw), Base64: b64}, nil
}

func (d *Driver) detectMIME(raw []byte) string {
	m := mimetype.Detect(raw)
	switch {
	case m.Is("video/webm"):
		return "audio/webm"
	case strings.HasPrefix(m.String(), "audio/"):
		mt, _, _ := strings.Cut(m.String(), ";")
		return mt
	default:
		return d.fallbackMIME
	}
}
