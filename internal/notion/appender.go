package notion

import (
	"context"
	"log/slog"
	"time"

	"github.com/jomei/notionapi"

	"github.com/fedutinova/meetnotes/internal/common"
	"github.com/fedutinova/meetnotes/internal/job"
)

type BlockAppender interface {
	AppendBlocks(ctx context.Context, pageID string, blocks []notionapi.Block) error
}

// DefaultSource supplies the stored default document.
type DefaultSource interface {
	DefaultDocument(ctx context.Context) (id, title string, err error)
}

type Appender struct {
	client   BlockAppender
	defaults DefaultSource
	fallback string
	now      func() time.Time
}

// NewAppender resolves targets per job, then from defaults, then fallback.
// defaults may be nil.
func NewAppender(client BlockAppender, defaults DefaultSource, fallback string) *Appender {
	return &Appender{client: client, defaults: defaults, fallback: fallback, now: time.Now}
}

// Resolve picks the document a note for target should land in.
func (a *Appender) Resolve(ctx context.Context, target string) (string, error) {
	if target != "" {
		return target, nil
	}
	if a.defaults != nil {
		id, _, err := a.defaults.DefaultDocument(ctx)
		if err != nil {
			slog.Warn("failed to read default document", "error", err)
		} else if id != "" {
			return id, nil
		}
	}
	if a.fallback != "" {
		return a.fallback, nil
	}
	return "", common.ErrNoTargetConfigured
}

// Append renders note and adds it to the resolved document. It returns the page id used.
func (a *Appender) Append(ctx context.Context, target string, note *job.Note) (string, error) {
	pageID, err := a.Resolve(ctx, target)
	if err != nil {
		return "", err
	}
	blocks, err := RenderNote(note, a.now())
	if err != nil {
		slog.Error("note does not fit one Notion append", "page_id", pageID, "error", err)
		return pageID, err
	}
	if err := a.client.AppendBlocks(ctx, pageID, blocks); err != nil {
		slog.Error("append to Notion page failed", "page_id", pageID, "error", err)
		return pageID, err
	}
	slog.Info("append to Notion page succeeded", "page_id", pageID, "blocks", len(blocks))
	return pageID, nil
}
