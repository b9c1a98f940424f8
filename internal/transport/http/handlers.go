package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fedutinova/meetnotes/internal/common"
	"github.com/fedutinova/meetnotes/internal/config"
	"github.com/fedutinova/meetnotes/internal/job"
	"github.com/fedutinova/meetnotes/internal/logbuf"
	"github.com/fedutinova/meetnotes/internal/memq"
	"github.com/fedutinova/meetnotes/internal/notion"
	"github.com/fedutinova/meetnotes/internal/settings"
	"github.com/fedutinova/meetnotes/internal/storage"
	"github.com/fedutinova/meetnotes/internal/validation"
	"github.com/fedutinova/meetnotes/internal/workers"
)

type Handlers struct {
	Jobs     *workers.Orchestrator
	Q        memq.JobQueue
	Storage  storage.KV
	Notion   *notion.Client
	Appender *notion.Appender
	Settings *settings.Store
	Logs     *logbuf.Buffer
	Config   config.Config
}

func (h *Handlers) Routers(r chi.Router) {
	r.Route("/v1/jobs", func(r chi.Router) {
		r.Post("/", h.startJob)
		r.Get("/", h.listJobs)
		r.Delete("/finished", h.clearFinished)
		r.Get("/{id}", h.getJob)
		r.Post("/{id}/segments", h.submitSegment)
		r.Put("/{id}/segments/{index}", h.putSegment)
	})
	r.Post("/v1/recordings", h.submitRecording)

	r.Get("/v1/documents", h.listDocuments)
	r.Post("/v1/documents", h.createDocument)
	r.Post("/v1/documents/{id}/notes", h.appendNote)
	r.Get("/v1/databases", h.listDatabases)

	r.Get("/v1/settings", h.getSettings)
	r.Put("/v1/settings/default-document", h.setDefaultDocument)

	r.Get("/v1/logs", h.getLogs)
	r.Post("/v1/logs", h.addLog)
	r.Delete("/v1/logs", h.clearLogs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "err", err)
	}
}

// writeError maps domain errors onto status codes.
func writeError(w http.ResponseWriter, err error) {
	var (
		verrs     validation.ValidationErrors
		appendErr *notion.AppendError
		apiErr    *notion.APIError
	)
	switch {
	case errors.As(err, &verrs):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "validation failed", "fields": verrs})
	case common.IsNotFound(err):
		http.Error(w, err.Error(), http.StatusNotFound)
	case common.IsBadInput(err), errors.Is(err, common.ErrNoTargetConfigured):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case common.IsConflict(err):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, notion.ErrNotConfigured):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.As(err, &appendErr), errors.As(err, &apiErr), errors.Is(err, common.ErrAppendFailed):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		slog.Error("request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// decode reads a JSON body into v and validates it.
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return common.ValidationError{Field: "body", Message: "invalid request body"}
	}
	return validation.Struct(v)
}

type startJobRequest struct {
	JobID          string `json:"jobId" validate:"omitempty,max=128"`
	Platform       string `json:"platform" validate:"omitempty,max=64"`
	TargetDocument string `json:"targetDocument" validate:"omitempty,max=128"`
	TotalSegments  int    `json:"totalSegments" validate:"required,min=1,max=10000"`
}

func (h *Handlers) startJob(w http.ResponseWriter, r *http.Request) {
	var req startJobRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	info, err := h.Jobs.StartJob(r.Context(), workers.StartRequest{
		JobID:          req.JobID,
		Platform:       req.Platform,
		TargetDocument: req.TargetDocument,
		TotalSegments:  req.TotalSegments,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (h *Handlers) listJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": h.Jobs.Jobs()})
}

func (h *Handlers) getJob(w http.ResponseWriter, r *http.Request) {
	info, err := h.Jobs.Job(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handlers) clearFinished(w http.ResponseWriter, r *http.Request) {
	n := h.Jobs.ClearFinished(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

type segmentRequest struct {
	Index         *int   `json:"index" validate:"required,min=0"`
	TotalSegments int    `json:"totalSegments" validate:"required,min=1,max=10000"`
	Base64        string `json:"base64"`
	Buffer        []byte `json:"buffer"`
	Uint8Array    []int  `json:"uint8Array"`
}

func (h *Handlers) submitSegment(w http.ResponseWriter, r *http.Request) {
	// base64 inflates by a third
	r.Body = http.MaxBytesReader(w, r.Body, validation.MaxSegmentBytes*2)

	var req segmentRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.Jobs.SubmitSegment(r.Context(), chi.URLParam(r, "id"), *req.Index, req.TotalSegments, job.SegmentInput{
		Base64:    req.Base64,
		Buffer:    req.Buffer,
		ByteArray: req.Uint8Array,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

// putSegment accepts one raw segment as the request body.
func (h *Handlers) putSegment(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, common.ValidationError{Field: "index", Message: "must be an integer"})
		return
	}
	total, err := strconv.Atoi(r.URL.Query().Get("total"))
	if err != nil {
		writeError(w, common.ValidationError{Field: "total", Message: "must be an integer"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, validation.MaxSegmentBytes))
	if err != nil {
		http.Error(w, "segment too large", http.StatusRequestEntityTooLarge)
		return
	}
	res, err := h.Jobs.SubmitSegment(r.Context(), chi.URLParam(r, "id"), index, total, job.SegmentInput{Buffer: body})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

type recordingRequest struct {
	JobID          string `json:"jobId" validate:"omitempty,max=128"`
	Platform       string `json:"platform" validate:"omitempty,max=64"`
	TargetDocument string `json:"targetDocument" validate:"omitempty,max=128"`
	Base64         string `json:"base64" validate:"required"`
}

func (h *Handlers) submitRecording(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, validation.MaxRecordingBytes*2)

	var req recordingRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.Jobs.SubmitRecording(r.Context(), workers.RecordingRequest{
		JobID:          req.JobID,
		Platform:       req.Platform,
		TargetDocument: req.TargetDocument,
		Audio:          job.SegmentInput{Base64: req.Base64},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

type logRequest struct {
	Level string         `json:"level" validate:"required,oneof=debug info warn error"`
	Msg   string         `json:"msg" validate:"required,max=2000"`
	Meta  map[string]any `json:"meta"`
}

func (h *Handlers) getLogs(w http.ResponseWriter, r *http.Request) {
	entries := h.Logs.Entries()
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 && n < len(entries) {
			entries = entries[len(entries)-n:]
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": entries})
}

// addLog records an entry reported by a client.
func (h *Handlers) addLog(w http.ResponseWriter, r *http.Request) {
	var req logRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	h.Logs.Add(req.Level, req.Msg, req.Meta)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) clearLogs(w http.ResponseWriter, r *http.Request) {
	h.Logs.Clear(r.Context())
	w.WriteHeader(http.StatusNoContent)
}
