// Package notion appends meeting notes to Notion pages through the notionapi SDK.
package notion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jomei/notionapi"

	"github.com/fedutinova/meetnotes/internal/common"
)

const (
	DefaultBaseURL = "https://api.notion.com"

	pageSize    = 50
	maxChildren = 100
)

// APIError is a non-2xx answer from Notion outside of block appends.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("notion %s failed: Notion API error: %d", e.Op, e.Status)
}

// AppendError is a rejected block append. It matches common.ErrAppendFailed, and
// common.ErrDocumentMissing when the page does not exist.
type AppendError struct {
	Status int
	Body   string
}

func (e *AppendError) Error() string {
	return fmt.Sprintf("Notion API error: %d", e.Status)
}

func (e *AppendError) Unwrap() []error {
	if e.Status == http.StatusNotFound {
		return []error{common.ErrAppendFailed, common.ErrDocumentMissing}
	}
	return []error{common.ErrAppendFailed}
}

var ErrNotConfigured = errors.New("notion configuration missing")

type Client struct {
	api        *notionapi.Client
	token      string
	databaseID string
}

// NewClient builds a client for token. A baseURL other than DefaultBaseURL
// redirects every request to that host.
func NewClient(baseURL, token, databaseID string) *Client {
	opts := []notionapi.ClientOption{}
	if baseURL != "" && strings.TrimRight(baseURL, "/") != DefaultBaseURL {
		if target, err := url.Parse(baseURL); err == nil {
			opts = append(opts, notionapi.WithHTTPClient(&http.Client{
				Transport: &hostRewriter{target: target, next: http.DefaultTransport},
			}))
		} else {
			slog.Warn("ignoring invalid Notion base URL", "url", baseURL, "error", err)
		}
	}
	return &Client{
		api:        notionapi.NewClient(notionapi.Token(token), opts...),
		token:      token,
		databaseID: databaseID,
	}
}

// hostRewriter sends SDK requests to a different scheme and host.
type hostRewriter struct {
	target *url.URL
	next   http.RoundTripper
}

func (h *hostRewriter) RoundTrip(r *http.Request) (*http.Response, error) {
	out := r.Clone(r.Context())
	out.URL.Scheme = h.target.Scheme
	out.URL.Host = h.target.Host
	if prefix := strings.TrimRight(h.target.Path, "/"); prefix != "" {
		out.URL.Path = prefix + out.URL.Path
	}
	out.Host = h.target.Host
	return h.next.RoundTrip(out)
}

type Page struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	URL            string `json:"url,omitempty"`
	LastEditedTime string `json:"lastEditedTime,omitempty"`
}

type Database struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url,omitempty"`
}

func plainText(parts []notionapi.RichText) string {
	var b strings.Builder
	for _, p := range parts {
		if p.PlainText != "" {
			b.WriteString(p.PlainText)
		} else if p.Text != nil {
			b.WriteString(p.Text.Content)
		}
	}
	return b.String()
}

func pageFrom(p *notionapi.Page) Page {
	out := Page{ID: string(p.ID), URL: p.URL}
	if !p.LastEditedTime.IsZero() {
		out.LastEditedTime = p.LastEditedTime.UTC().Format(time.RFC3339)
	}
	for _, prop := range p.Properties {
		if title, ok := prop.(*notionapi.TitleProperty); ok {
			out.Title = plainText(title.Title)
			break
		}
	}
	return out
}

func (c *Client) configured(needDatabase bool) error {
	if c.token == "" || (needDatabase && c.databaseID == "") {
		return ErrNotConfigured
	}
	return nil
}

// apiError turns SDK failures into *APIError when Notion answered.
func apiError(op string, err error) error {
	var nerr *notionapi.Error
	if errors.As(err, &nerr) {
		slog.Error("Notion request failed", "op", op, "status", nerr.Status, "code", nerr.Code)
		return &APIError{Op: op, Status: nerr.Status, Body: errorBody(nerr)}
	}
	return fmt.Errorf("notion %s request failed: %w", op, err)
}

func errorBody(e *notionapi.Error) string {
	if e.Code == "" {
		return e.Message
	}
	return string(e.Code) + ": " + e.Message
}

// QueryPages lists every page of the configured database.
func (c *Client) QueryPages(ctx context.Context) ([]Page, error) {
	if err := c.configured(true); err != nil {
		return nil, err
	}
	var (
		pages  []Page
		cursor notionapi.Cursor
	)
	for {
		resp, err := c.api.Database.Query(ctx, notionapi.DatabaseID(c.databaseID), &notionapi.DatabaseQueryRequest{
			StartCursor: cursor,
			PageSize:    pageSize,
		})
		if err != nil {
			return nil, apiError("query", err)
		}
		for i := range resp.Results {
			pages = append(pages, pageFrom(&resp.Results[i]))
		}
		if !resp.HasMore || resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}
	slog.Info("fetched Notion pages", "count", len(pages))
	return pages, nil
}

// SearchDatabases lists every database shared with the integration.
func (c *Client) SearchDatabases(ctx context.Context) ([]Database, error) {
	if err := c.configured(false); err != nil {
		return nil, err
	}
	var (
		dbs    []Database
		cursor notionapi.Cursor
	)
	for {
		resp, err := c.api.Search.Do(ctx, &notionapi.SearchRequest{
			Filter:      notionapi.SearchFilter{Property: "object", Value: "database"},
			StartCursor: cursor,
			PageSize:    pageSize,
		})
		if err != nil {
			return nil, apiError("search", err)
		}
		for _, obj := range resp.Results {
			if db, ok := obj.(*notionapi.Database); ok {
				dbs = append(dbs, Database{ID: string(db.ID), Title: plainText(db.Title), URL: db.URL})
			}
		}
		if !resp.HasMore || resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}
	slog.Info("fetched Notion databases", "count", len(dbs))
	return dbs, nil
}

// CreatePage adds a page titled title to the configured database.
func (c *Client) CreatePage(ctx context.Context, title string) (*Page, error) {
	if err := c.configured(true); err != nil {
		return nil, err
	}

	db, err := c.api.Database.Get(ctx, notionapi.DatabaseID(c.databaseID))
	if err != nil {
		return nil, apiError("load database", err)
	}
	titleProp := ""
	for name, prop := range db.Properties {
		if prop != nil && string(prop.GetType()) == "title" {
			titleProp = name
			break
		}
	}
	if titleProp == "" {
		return nil, errors.New("no title property found in database")
	}

	created, err := c.api.Page.Create(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(c.databaseID),
		},
		Properties: notionapi.Properties{
			titleProp: &notionapi.TitleProperty{Title: []notionapi.RichText{text(title)}},
		},
	})
	if err != nil {
		return nil, apiError("create page", err)
	}
	page := pageFrom(created)
	if page.Title == "" {
		page.Title = title
	}
	slog.Info("Notion page created", "page_id", page.ID)
	return &page, nil
}

// AppendBlocks adds blocks to the end of pageID in a single request, so a
// rejected append leaves the page untouched.
func (c *Client) AppendBlocks(ctx context.Context, pageID string, blocks []notionapi.Block) error {
	if err := c.configured(false); err != nil {
		return err
	}
	if len(blocks) > maxChildren {
		return fmt.Errorf("%w: %d blocks exceed the %d block limit", common.ErrAppendFailed, len(blocks), maxChildren)
	}
	_, err := c.api.Block.AppendChildren(ctx, notionapi.BlockID(pageID), &notionapi.AppendBlockChildrenRequest{
		Children: blocks,
	})
	if err != nil {
		var nerr *notionapi.Error
		if errors.As(err, &nerr) {
			slog.Error("Notion append rejected", "page_id", pageID, "status", nerr.Status, "code", nerr.Code)
			return &AppendError{Status: nerr.Status, Body: errorBody(nerr)}
		}
		return fmt.Errorf("%w: %w", common.ErrAppendFailed, err)
	}
	return nil
}
