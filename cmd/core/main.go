package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/your-org/vidtrack/internal/api"
	"github.com/your-org/vidtrack/internal/api/handlers"
	"github.com/your-org/vidtrack/internal/api/ws"
	"github.com/your-org/vidtrack/internal/config"
	"github.com/your-org/vidtrack/internal/inference"
	"github.com/your-org/vidtrack/internal/models"
	"github.com/your-org/vidtrack/internal/observability"
	"github.com/your-org/vidtrack/internal/pipeline"
	"github.com/your-org/vidtrack/internal/queue"
	"github.com/your-org/vidtrack/internal/scheduler"
	"github.com/your-org/vidtrack/internal/storage"
	"github.com/your-org/vidtrack/internal/video"
	"github.com/your-org/vidtrack/pkg/dto"
)

// store is what the service needs from its persistence backend.
type store interface {
	handlers.Store
	Ping(ctx context.Context) error
	Close()
}

// rootFetcher translates local paths under the video root back into object
// store keys. The orchestrator only knows local paths; MinIO only knows keys.
type rootFetcher struct {
	inner pipeline.VideoFetcher
	root  string
}

func (f rootFetcher) FetchVideo(ctx context.Context, key, dest string) error {
	if rel, err := filepath.Rel(f.root, key); err == nil && !strings.HasPrefix(rel, "..") {
		key = rel
	}
	return f.inner.FetchVideo(ctx, key, dest)
}

func orchFetcher(inner pipeline.VideoFetcher, root string) pipeline.VideoFetcher {
	if inner == nil {
		return nil
	}
	return rootFetcher{inner: inner, root: root}
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting vidtrack core",
		"port", cfg.Server.Port,
		"batch_size", cfg.Core.BatchSize,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persistence: Postgres when configured, in-memory otherwise.
	var db store
	checks := map[string]handlers.Pinger{}
	if cfg.Database.Host != "" {
		pg, err := storage.NewPostgresStore(cfg.Database)
		if err != nil {
			slog.Error("connect to postgres", "error", err)
			os.Exit(1)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			slog.Error("ensure schema", "error", err)
			os.Exit(1)
		}
		db = pg
		checks["postgres"] = pg.Ping
	} else {
		slog.Warn("no database configured, job state will not survive restarts")
		db = storage.NewMemoryStore()
	}
	defer db.Close()

	// Object store for source videos, optional.
	var fetcher pipeline.VideoFetcher
	if cfg.MinIO.Endpoint != "" {
		minioStore, err := storage.NewMinIOStore(cfg.MinIO)
		if err != nil {
			slog.Error("connect to minio", "error", err)
			os.Exit(1)
		}
		if err := minioStore.EnsureBucket(ctx); err != nil {
			slog.Warn("ensure minio bucket", "error", err)
		}
		fetcher = minioStore
		checks["minio"] = minioStore.Ping
	}

	// Work queue: NATS when configured, in-process otherwise.
	var jobQueue queue.JobQueue
	var natsQueue *queue.NATS
	if cfg.NATS.URL != "" {
		nq, err := queue.NewNATS(cfg.NATS.URL, cfg.Core.QueueSize)
		if err != nil {
			slog.Error("connect to nats", "error", err)
			os.Exit(1)
		}
		if err := nq.EnsureStreams(ctx); err != nil {
			slog.Error("ensure nats streams", "error", err)
			os.Exit(1)
		}
		jobQueue = nq
		natsQueue = nq
		checks["nats"] = func(context.Context) error { return nq.Ping() }
	} else {
		jobQueue = queue.NewMemory(cfg.Core.QueueSize)
	}
	defer jobQueue.Close()

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Progress events go through NATS when available so other processes can
	// follow along; the hub subscribes like any other reader. Without NATS
	// the orchestrator feeds the hub directly.
	var publisher pipeline.ProgressPublisher = hub
	if natsQueue != nil {
		publisher = natsQueue
		err := natsQueue.ConsumeProgress(ctx, "ws-progress", func(ctx context.Context, ev dto.ProgressEvent) {
			_ = hub.PublishProgress(ctx, ev)
		})
		if err != nil {
			slog.Warn("start progress consumer", "error", err)
		}
	}

	orch := pipeline.NewOrchestrator(pipeline.Config{
		Repo: db,
		NewDetector: func(ctx context.Context) (pipeline.Detector, error) {
			det, err := inference.NewDetector(ctx, cfg.Detection.URL, cfg.Detection.Timeout)
			if err != nil {
				return nil, err
			}
			if !det.HasModel(cfg.Detection.ModelName) {
				return nil, fmt.Errorf("detection service does not serve model %q", cfg.Detection.ModelName)
			}
			return det, nil
		},
		Tracker:   inference.NewTracker(cfg.Tracking.URL, cfg.Tracking.Timeout),
		Streamer:  pipeline.NewFFmpegStreamer(),
		BatchSize: cfg.Core.BatchSize,
		ModelName: cfg.Detection.ModelName,
		Fetcher:   orchFetcher(fetcher, cfg.Core.VideoRoot),
		Publisher: publisher,
	})

	sched := scheduler.New(db, jobQueue, orch, cfg.Core.PollTimeout)
	sched.Start()

	resolve := func(ctx context.Context, path string) (*models.Video, error) {
		full := filepath.Join(cfg.Core.VideoRoot, path)
		if fetcher != nil {
			if err := fetcher.FetchVideo(ctx, path, full); err != nil {
				return nil, err
			}
		}
		return video.FromPath(ctx, full, cfg.Core.OutputWidth, cfg.Core.OutputHeight)
	}

	router := api.NewRouter(api.RouterConfig{
		APIKey:    cfg.Server.APIKey,
		DB:        db,
		Submitter: sched,
		Resolve:   resolve,
		Hub:       hub,
		Checks:    checks,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")
	cancel()

	// Stop the worker first: a running job pauses at the next batch boundary
	// and persists its position before we stop serving reads.
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("core stopped")
}
