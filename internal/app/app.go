package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/veroniica/detector-de-mentiras/internal/aggregator"
	"github.com/veroniica/detector-de-mentiras/internal/db"
	"github.com/veroniica/detector-de-mentiras/internal/dedup"
	"github.com/veroniica/detector-de-mentiras/internal/executor"
	"github.com/veroniica/detector-de-mentiras/internal/handlers"
	"github.com/veroniica/detector-de-mentiras/internal/observability"
	"github.com/veroniica/detector-de-mentiras/internal/orchestrator"
	"github.com/veroniica/detector-de-mentiras/internal/pkg/logger"
	"github.com/veroniica/detector-de-mentiras/internal/stage"
	"github.com/veroniica/detector-de-mentiras/internal/store"
	"github.com/veroniica/detector-de-mentiras/internal/worker"
)

type App struct {
	Log        *logger.Logger
	Cfg        Config
	Router     *gin.Engine
	Worker     *worker.Worker
	Aggregator *aggregator.Aggregator

	transcriberCloser func() error
	otelShutdown      func(context.Context) error
	cancel            context.CancelFunc
}

func New(ctx context.Context) (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	otelShutdown := observability.Init(ctx, log, observability.Config{
		ServiceName: "detector-de-mentiras",
		Environment: os.Getenv("APP_ENV"),
		Version:     os.Getenv("APP_VERSION"),
	})

	st, err := wireStore(log, cfg)
	if err != nil {
		log.Sync()
		return nil, err
	}

	dd, err := wireDedup(log, cfg)
	if err != nil {
		log.Sync()
		return nil, err
	}

	stages, closeTranscriber, err := wireStages(ctx, log, cfg)
	if err != nil {
		log.Sync()
		return nil, err
	}

	exec := executor.New(st, log, executor.Policy{
		StageTimeout:   cfg.StageTimeout,
		MaxAttempts:    cfg.MaxStageAttempts,
		InitialBackoff: cfg.BackoffInitial,
		MaxBackoff:     cfg.BackoffMax,
	})

	agg := aggregator.New(st, stages.Detect, log)

	orch, err := orchestrator.New(st, exec, stages, log, func(ctx context.Context, caseID string) {
		if _, err := agg.Recompute(ctx, caseID); err != nil {
			log.Warn("Case recomputation failed", "case_id", caseID, "error", err)
		}
	})
	if err != nil {
		log.Sync()
		return nil, err
	}
	orch.Deadline = cfg.ExecutionDeadline

	wk := worker.New(st, dd, orch, log, cfg.WorkerConcurrency, cfg.QueueSize)

	pipelineHandler := handlers.NewPipelineHandler(log, wk)
	caseHandler := handlers.NewCaseHandler(log, agg)
	router := NewRouter(RouterConfig{
		PipelineHandler: pipelineHandler,
		CaseHandler:     caseHandler,
	})

	return &App{
		Log:               log,
		Cfg:               cfg,
		Router:            router,
		Worker:            wk,
		Aggregator:        agg,
		transcriberCloser: closeTranscriber,
		otelShutdown:      otelShutdown,
	}, nil
}

// Start launches the background worker pool. Close cancels it.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.Worker.Start(ctx)
}

func (a *App) Run() error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Router.Run(":" + a.Cfg.HTTPPort)
}

// Close stops the worker pool and waits for in-flight executions to
// yield. Interrupted executions stay non-terminal and are resumed on the
// next start.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
		a.Worker.Wait()
	}
	if a.transcriberCloser != nil {
		if err := a.transcriberCloser(); err != nil {
			a.Log.Warn("Transcriber close failed", "error", err)
		}
	}
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.otelShutdown(ctx); err != nil {
			a.Log.Warn("Otel shutdown failed", "error", err)
		}
		cancel()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}

func wireStore(log *logger.Logger, cfg Config) (store.Store, error) {
	if cfg.StorageBackend == "memory" {
		log.Info("Using in-memory store")
		return store.NewMemory(), nil
	}
	pg, err := db.NewPostgresService(log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	return store.NewGormStore(pg.DB(), log), nil
}

func wireDedup(log *logger.Logger, cfg Config) (dedup.Deduplicator, error) {
	if cfg.StorageBackend == "memory" {
		return dedup.NewMemoryDeduplicator(cfg.DedupWindow), nil
	}
	dd, err := dedup.NewRedisDeduplicator(log, cfg.DedupWindow)
	if err != nil {
		return nil, fmt.Errorf("init redis dedup: %w", err)
	}
	return dd, nil
}

func wireStages(ctx context.Context, log *logger.Logger, cfg Config) (stage.Set, func() error, error) {
	var (
		transcribe stage.TranscribeFunc
		closer     func() error
	)
	switch cfg.TranscribeProvider {
	case "file":
		transcribe = stage.NewFileTranscriber(log).Transcribe
	default:
		st, err := stage.NewSpeechTranscriber(ctx, log, stage.SpeechConfig{
			LanguageCode: cfg.LanguageCode,
		})
		if err != nil {
			return stage.Set{}, nil, fmt.Errorf("init speech transcriber: %w", err)
		}
		transcribe = st.Transcribe
		closer = st.Close
	}

	set := stage.Set{
		Transcribe: transcribe,
		Summarize:  stage.NewSummarizer(log).Summarize,
		Sentiment:  stage.NewSentimentAnalyzer(log).Analyze,
		Detect:     stage.NewInconsistencyDetector(log).Detect,
	}
	return set, closer, nil
}
