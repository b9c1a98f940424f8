package http

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fedutinova/meetnotes/internal/config"
	"github.com/fedutinova/meetnotes/internal/job"
	"github.com/fedutinova/meetnotes/internal/jobstore"
	"github.com/fedutinova/meetnotes/internal/logbuf"
	"github.com/fedutinova/meetnotes/internal/memq"
	"github.com/fedutinova/meetnotes/internal/notion"
	"github.com/fedutinova/meetnotes/internal/settings"
	"github.com/fedutinova/meetnotes/internal/storage"
	"github.com/fedutinova/meetnotes/internal/workers"
)

type testAPI struct {
	router http.Handler
	queue  memq.JobQueue
	store  *jobstore.Store
}

func newTestAPI(t *testing.T, notionURL string) *testAPI {
	t.Helper()
	kv := storage.NewMemoryStorage()
	store := jobstore.New(kv, jobstore.Options{})
	q := memq.NewMemoryQueue(16, 0)
	st := settings.New(kv)

	h := &Handlers{
		Jobs:     workers.NewOrchestrator(store, nil, nil, q, workers.Options{Defaults: st}),
		Q:        q,
		Storage:  kv,
		Settings: st,
		Logs:     logbuf.New(kv, 10),
		Config:   config.Config{StorageMode: "memory"},
	}
	if notionURL != "" {
		h.Notion = notion.NewClient(notionURL, "tok", "db-1")
		h.Appender = notion.NewAppender(h.Notion, st, "")
	}

	r := chi.NewRouter()
	r.Get("/readyz", h.Ready)
	h.Routers(r)
	return &testAPI{router: r, queue: q, store: store}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case []byte:
		buf.Write(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func TestStartJobAndSubmitSegments(t *testing.T) {
	api := newTestAPI(t, "")

	rec := api.do(t, http.MethodPost, "/v1/jobs", map[string]any{"jobId": "job-1", "platform": "meet", "totalSegments": 2})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var info job.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, job.StatusQueued, info.Status)

	seg := base64.StdEncoding.EncodeToString([]byte("B"))
	rec = api.do(t, http.MethodPost, "/v1/jobs/job-1/segments", map[string]any{"index": 1, "totalSegments": 2, "base64": seg})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = api.do(t, http.MethodPut, "/v1/jobs/job-1/segments/0?total=2", []byte("raw audio"))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var res workers.SegmentResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 2, res.Received)
	assert.True(t, res.Triggered)
	assert.Equal(t, 1, api.queue.Len())

	rec = api.do(t, http.MethodGet, "/v1/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"receivedSegments":2`)
	assert.NotContains(t, rec.Body.String(), "segments\":[")
}

func TestSubmitSegment_ByteArrayFallback(t *testing.T) {
	api := newTestAPI(t, "")
	api.do(t, http.MethodPost, "/v1/jobs", map[string]any{"jobId": "j", "totalSegments": 1})

	rec := api.do(t, http.MethodPost, "/v1/jobs/j/segments", map[string]any{"index": 0, "totalSegments": 1, "uint8Array": []int{1, 2, 3}})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	j, ok := api.store.Get("j")
	require.True(t, ok)
	assert.Equal(t, job.KindBuffer, j.Segments[0].Kind())
}

func TestSubmitSegment_ErrorMapping(t *testing.T) {
	api := newTestAPI(t, "")
	api.do(t, http.MethodPost, "/v1/jobs", map[string]any{"jobId": "j", "totalSegments": 2})

	tests := []struct {
		name string
		path string
		body any
		want int
	}{
		{"unknown job", "/v1/jobs/nope/segments", map[string]any{"index": 0, "totalSegments": 1, "base64": "QUJD"}, http.StatusNotFound},
		{"empty payload", "/v1/jobs/j/segments", map[string]any{"index": 0, "totalSegments": 2}, http.StatusBadRequest},
		{"index out of range", "/v1/jobs/j/segments", map[string]any{"index": 5, "totalSegments": 2, "base64": "QUJD"}, http.StatusBadRequest},
		{"missing index", "/v1/jobs/j/segments", map[string]any{"totalSegments": 2, "base64": "QUJD"}, http.StatusBadRequest},
		{"broken json", "/v1/jobs/j/segments", []byte(`{"index":`), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestPutSegment_RejectsHugeTotal(t *testing.T) {
	api := newTestAPI(t, "")
	api.do(t, http.MethodPost, "/v1/jobs", map[string]any{"jobId": "j", "totalSegments": 1})

	rec := api.do(t, http.MethodPut, "/v1/jobs/j/segments/0?total=4611686018427387904", []byte("x"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	j, ok := api.store.Get("j")
	require.True(t, ok)
	assert.Equal(t, 1, j.TotalSegments)
}

func TestSubmitSegment_FinishedJobConflicts(t *testing.T) {
	api := newTestAPI(t, "")
	api.do(t, http.MethodPost, "/v1/jobs", map[string]any{"jobId": "j", "totalSegments": 1})
	require.NoError(t, api.store.MarkFailed(t.Context(), "j", "boom"))

	rec := api.do(t, http.MethodPut, "/v1/jobs/j/segments/0?total=1", []byte("late"))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStartJob_Validation(t *testing.T) {
	api := newTestAPI(t, "")
	rec := api.do(t, http.MethodPost, "/v1/jobs", map[string]any{"platform": "zoom"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "totalSegments")
}

func TestGetJob_NotFound(t *testing.T) {
	api := newTestAPI(t, "")
	rec := api.do(t, http.MethodGet, "/v1/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClearFinished(t *testing.T) {
	api := newTestAPI(t, "")
	api.do(t, http.MethodPost, "/v1/jobs", map[string]any{"jobId": "a", "totalSegments": 1})
	api.do(t, http.MethodPost, "/v1/jobs", map[string]any{"jobId": "b", "totalSegments": 1})
	require.NoError(t, api.store.MarkFailed(t.Context(), "a", "boom"))

	rec := api.do(t, http.MethodDelete, "/v1/jobs/finished", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"removed":1}`, rec.Body.String())
}

func TestSubmitRecording(t *testing.T) {
	api := newTestAPI(t, "")
	rec := api.do(t, http.MethodPost, "/v1/recordings", map[string]any{"platform": "teams", "base64": "data:audio/webm;base64,QUJD"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, 1, api.queue.Len())
}

func TestDocuments_NotConfigured(t *testing.T) {
	api := newTestAPI(t, "")
	rec := api.do(t, http.MethodGet, "/v1/documents", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func writeJSONBody(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestDocuments_ListAndAppend(t *testing.T) {
	notionSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v1/databases/db-1/query":
			writeJSONBody(w, http.StatusOK, `{"object":"list","results":[{"object":"page","id":"p1","properties":{"Name":{"id":"title","type":"title","title":[{"type":"text","text":{"content":"Weekly"},"plain_text":"Weekly"}]}}}],"has_more":false,"next_cursor":null}`)
		case r.URL.Path == "/v1/blocks/p1/children":
			writeJSONBody(w, http.StatusOK, `{"object":"list","results":[]}`)
		case r.URL.Path == "/v1/blocks/bad/children":
			writeJSONBody(w, http.StatusBadRequest, `{"object":"error","status":400,"code":"validation_error","message":"bad block"}`)
		default:
			writeJSONBody(w, http.StatusNotFound, `{"object":"error","status":404,"code":"object_not_found","message":"missing"}`)
		}
	}))
	defer notionSrv.Close()
	api := newTestAPI(t, notionSrv.URL)

	rec := api.do(t, http.MethodGet, "/v1/documents", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Weekly")

	note := map[string]any{"summary": "s", "actionItems": []any{"do it"}}
	rec = api.do(t, http.MethodPost, "/v1/documents/p1/notes", note)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"pageId":"p1"}`, rec.Body.String())

	rec = api.do(t, http.MethodPost, "/v1/documents/bad/notes", note)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "400")

	rec = api.do(t, http.MethodPost, "/v1/documents/gone/notes", note)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSettings_DefaultDocument(t *testing.T) {
	api := newTestAPI(t, "")

	rec := api.do(t, http.MethodPut, "/v1/settings/default-document", map[string]string{"id": "p9", "title": "Standups"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodGet, "/v1/settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"defaultDocumentId":"p9","defaultDocumentTitle":"Standups"}`, rec.Body.String())

	rec = api.do(t, http.MethodPost, "/v1/jobs", map[string]any{"jobId": "titled", "targetDocument": "p9", "totalSegments": 1})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"selectedPageTitle":"Standups"`)
}

func TestLogs(t *testing.T) {
	api := newTestAPI(t, "")

	rec := api.do(t, http.MethodPost, "/v1/logs", map[string]any{"level": "warn", "msg": "mic muted", "meta": map[string]any{"tab": 3}})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.do(t, http.MethodPost, "/v1/logs", map[string]any{"level": "loud", "msg": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodGet, "/v1/logs?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mic muted")

	rec = api.do(t, http.MethodDelete, "/v1/logs", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = api.do(t, http.MethodGet, "/v1/logs", nil)
	assert.False(t, strings.Contains(rec.Body.String(), "mic muted"))
}

func TestReady(t *testing.T) {
	api := newTestAPI(t, "")
	rec := api.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, StatusHealthy, status.Status)
	assert.Equal(t, StatusHealthy, status.Checks["storage"].Status)
	assert.Contains(t, status.Checks["queue"].Message, "pending: 0")
}
