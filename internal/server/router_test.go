package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fedutinova/meetnotes/internal/config"
	"github.com/fedutinova/meetnotes/internal/jobstore"
	"github.com/fedutinova/meetnotes/internal/logbuf"
	"github.com/fedutinova/meetnotes/internal/memq"
	"github.com/fedutinova/meetnotes/internal/settings"
	"github.com/fedutinova/meetnotes/internal/storage"
	httpapi "github.com/fedutinova/meetnotes/internal/transport/http"
	"github.com/fedutinova/meetnotes/internal/workers"
)

func newHandlers(cfg config.Config) *httpapi.Handlers {
	kv := storage.NewMemoryStorage()
	q := memq.NewMemoryQueue(4, 0)
	st := settings.New(kv)
	return &httpapi.Handlers{
		Jobs:     workers.NewOrchestrator(jobstore.New(kv, jobstore.Options{}), nil, nil, q, workers.Options{Defaults: st}),
		Q:        q,
		Storage:  kv,
		Settings: st,
		Logs:     logbuf.New(nil, 10),
		Config:   cfg,
	}
}

func TestRouter_Health(t *testing.T) {
	r := NewRouter(newHandlers(config.Config{StorageMode: "memory"}))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_CORSPreflight(t *testing.T) {
	r := NewRouter(newHandlers(config.Config{CORSOrigins: []string{"http://localhost:3000"}}))

	req := httptest.NewRequest(http.MethodOptions, "/v1/jobs", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_RateLimit(t *testing.T) {
	r := NewRouter(newHandlers(config.Config{RateLimitPerMinute: 2}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
