package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fedutinova/meetnotes/internal/job"
	"github.com/fedutinova/meetnotes/internal/notion"
)

func (h *Handlers) notionClient(w http.ResponseWriter) (*notion.Client, bool) {
	if h.Notion == nil {
		writeError(w, notion.ErrNotConfigured)
		return nil, false
	}
	return h.Notion, true
}

func (h *Handlers) listDocuments(w http.ResponseWriter, r *http.Request) {
	client, ok := h.notionClient(w)
	if !ok {
		return
	}
	pages, err := client.QueryPages(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": pages})
}

type createDocumentRequest struct {
	Title string `json:"title" validate:"required,max=2000"`
}

func (h *Handlers) createDocument(w http.ResponseWriter, r *http.Request) {
	client, ok := h.notionClient(w)
	if !ok {
		return
	}
	var req createDocumentRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	page, err := client.CreatePage(r.Context(), req.Title)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, page)
}

// appendNote commits a caller-supplied note without running the pipeline.
func (h *Handlers) appendNote(w http.ResponseWriter, r *http.Request) {
	if h.Appender == nil {
		writeError(w, notion.ErrNotConfigured)
		return
	}
	var note job.Note
	if err := decode(r, &note); err != nil {
		writeError(w, err)
		return
	}
	pageID, err := h.Appender.Append(r.Context(), chi.URLParam(r, "id"), &note)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"pageId": pageID})
}

func (h *Handlers) listDatabases(w http.ResponseWriter, r *http.Request) {
	client, ok := h.notionClient(w)
	if !ok {
		return
	}
	dbs, err := client.SearchDatabases(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"databases": dbs})
}

func (h *Handlers) getSettings(w http.ResponseWriter, r *http.Request) {
	st, err := h.Settings.Get(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type defaultDocumentRequest struct {
	ID    string `json:"id" validate:"max=128"`
	Title string `json:"title" validate:"max=2000"`
}

func (h *Handlers) setDefaultDocument(w http.ResponseWriter, r *http.Request) {
	var req defaultDocumentRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	st, err := h.Settings.SetDefaultDocument(r.Context(), req.ID, req.Title)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
