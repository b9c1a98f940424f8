package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	appconfig "github.com/fedutinova/meetnotes/internal/config"
	"github.com/fedutinova/meetnotes/internal/genai"
	"github.com/fedutinova/meetnotes/internal/jobstore"
	"github.com/fedutinova/meetnotes/internal/logbuf"
	"github.com/fedutinova/meetnotes/internal/memq"
	"github.com/fedutinova/meetnotes/internal/notion"
	"github.com/fedutinova/meetnotes/internal/pipeline"
	"github.com/fedutinova/meetnotes/internal/queue"
	"github.com/fedutinova/meetnotes/internal/redis"
	"github.com/fedutinova/meetnotes/internal/server"
	"github.com/fedutinova/meetnotes/internal/settings"
	"github.com/fedutinova/meetnotes/internal/storage"
	httpapi "github.com/fedutinova/meetnotes/internal/transport/http"
	"github.com/fedutinova/meetnotes/internal/workers"
)

func main() {
	cfg := appconfig.Load()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kv, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize storage", "err", err)
		os.Exit(1)
	}
	defer kv.Close()
	slog.Info("storage initialized", "type", storage.GetStorageType(cfg))

	logs := logbuf.New(kv, cfg.MaxLogs)
	logs.Load(ctx)
	slog.SetDefault(slog.New(logbuf.NewHandler(
		slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}), logs)))
	slog.Info("starting meetnotes", "addr", cfg.HTTPAddr, "workers", cfg.QueueWorkers)

	store := jobstore.New(kv, jobstore.Options{MaxJobs: cfg.MaxJobs, LeaseTTL: cfg.JobLeaseTTL})
	settingsStore := settings.New(kv)

	provider, err := genai.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to configure model provider", "err", err)
		os.Exit(1)
	}
	slog.Info("model provider configured", "provider", provider.Name())
	driver := pipeline.NewDriver(provider, provider, cfg.AudioMIMEType)

	notionClient := notion.NewClient(cfg.NotionBaseURL, cfg.NotionToken, cfg.NotionDatabaseID)
	appender := notion.NewAppender(notionClient, settingsStore, cfg.NotionDefaultPageID)

	q, closeQueue := newQueue(ctx, cfg)
	defer closeQueue()

	orch := workers.NewOrchestrator(store, driver, appender, q, workers.Options{
		LeaseTTL: cfg.JobLeaseTTL,
		Defaults: settingsStore,
	})

	handlers := &httpapi.Handlers{
		Jobs:     orch,
		Q:        q,
		Storage:  kv,
		Notion:   notionClient,
		Appender: appender,
		Settings: settingsStore,
		Logs:     logs,
		Config:   cfg,
	}
	r := server.NewRouter(handlers)

	q.StartConsumers(ctx, cfg.QueueWorkers, orch.Process)

	if n, err := orch.Resume(ctx); err != nil {
		slog.Error("failed to resume jobs", "err", err)
	} else if n > 0 {
		slog.Info("resumed unfinished jobs", "count", n)
	}

	var bg sync.WaitGroup
	bg.Add(1)
	go func() {
		defer bg.Done()
		logs.Run(ctx, cfg.LogFlushEvery)
	}()

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
		// segment uploads can be large on slow links
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  90 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
	slog.Info("shutting down")

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	_ = srv.Shutdown(shCtx)
	orch.Close()
	cancel()
	if err := q.Close(); err != nil {
		slog.Warn("failed to close queue", "err", err)
	}
	bg.Wait()
}

// newQueue builds the trigger queue selected by QUEUE_MODE.
func newQueue(ctx context.Context, cfg appconfig.Config) (memq.JobQueue, func()) {
	if cfg.QueueMode != "redis" {
		return memq.NewMemoryQueue(cfg.QueueBuf, cfg.JobMaxDuration), func() {}
	}

	redisService, err := redis.New(cfg.RedisURL, "meetnotes")
	if err != nil {
		slog.Error("failed to connect to Redis", "err", err)
		os.Exit(1)
	}
	host, _ := os.Hostname()
	q, err := queue.NewRedisQueue(ctx, redisService.Client(), queue.RedisQueueConfig{
		Stream:     cfg.QueueStream,
		Consumer:   host,
		MaxJobTime: cfg.JobMaxDuration,
	})
	if err != nil {
		_ = redisService.Close()
		slog.Error("failed to initialize Redis queue", "err", err)
		os.Exit(1)
	}
	return q, func() { _ = redisService.Close() }
}
