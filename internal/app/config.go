package app

import (
	"time"

	"github.com/veroniica/detector-de-mentiras/internal/pkg/logger"
	"github.com/veroniica/detector-de-mentiras/internal/utils"
)

type Config struct {
	HTTPPort          string
	StageTimeout      time.Duration
	MaxStageAttempts  int
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	ExecutionDeadline time.Duration
	DedupWindow       time.Duration
	WorkerConcurrency int
	QueueSize         int
	LanguageCode      string

	// "gcp" for Cloud Speech-to-Text, "file" for script sidecars.
	TranscribeProvider string
	// "postgres" or "memory"; "memory" also selects the in-memory
	// deduplicator so the whole pipeline can run without infrastructure.
	StorageBackend string
}

func LoadConfig(log *logger.Logger) Config {
	return Config{
		HTTPPort:           utils.GetEnv("PORT", "8080", log),
		StageTimeout:       utils.GetEnvAsDuration("STAGE_TIMEOUT", 5*time.Minute, log),
		MaxStageAttempts:   utils.GetEnvAsInt("MAX_STAGE_ATTEMPTS", 4, log),
		BackoffInitial:     utils.GetEnvAsDuration("BACKOFF_INITIAL", time.Second, log),
		BackoffMax:         utils.GetEnvAsDuration("BACKOFF_MAX", 30*time.Second, log),
		ExecutionDeadline:  utils.GetEnvAsDuration("EXECUTION_DEADLINE", 30*time.Minute, log),
		DedupWindow:        utils.GetEnvAsDuration("DEDUP_WINDOW", 15*time.Minute, log),
		WorkerConcurrency:  utils.GetEnvAsInt("WORKER_CONCURRENCY", 4, log),
		QueueSize:          utils.GetEnvAsInt("QUEUE_SIZE", 256, log),
		LanguageCode:       utils.GetEnv("TRANSCRIBE_LANGUAGE", "es-ES", log),
		TranscribeProvider: utils.GetEnv("TRANSCRIBE_PROVIDER", "gcp", log),
		StorageBackend:     utils.GetEnv("STORAGE_BACKEND", "postgres", log),
	}
}
