// Package worker consumes ingestion triggers and drives executions
// through the orchestrator on a bounded pool of goroutines.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/veroniica/detector-de-mentiras/internal/dedup"
	"github.com/veroniica/detector-de-mentiras/internal/domain"
	"github.com/veroniica/detector-de-mentiras/internal/orchestrator"
	"github.com/veroniica/detector-de-mentiras/internal/pkg/logger"
	"github.com/veroniica/detector-de-mentiras/internal/store"
)

type execKey struct {
	AudioID string
	Version int
}

type Worker struct {
	store store.Store
	dedup dedup.Deduplicator
	orch  *orchestrator.Orchestrator
	log   *logger.Logger

	concurrency int
	queue       chan execKey
	wg          sync.WaitGroup
}

func New(st store.Store, dd dedup.Deduplicator, orch *orchestrator.Orchestrator, baseLog *logger.Logger, concurrency, queueSize int) *Worker {
	if concurrency <= 0 {
		concurrency = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Worker{
		store:       st,
		dedup:       dd,
		orch:        orch,
		log:         baseLog.With("component", "PipelineWorker"),
		concurrency: concurrency,
		queue:       make(chan execKey, queueSize),
	}
}

// Submit validates and deduplicates one ingestion trigger. The first
// trigger per (sourceRef, version) creates the audio record and enqueues
// its execution; redeliveries return dedup.ErrSuppressed. A losing race
// on record creation is treated the same way: someone else is already
// driving this execution.
func (w *Worker) Submit(ctx context.Context, ev domain.IngestEvent) (string, error) {
	if strings.TrimSpace(ev.SourceRef) == "" || strings.TrimSpace(ev.CaseID) == "" {
		return "", fmt.Errorf("ingest event requires sourceRef and caseId")
	}
	if ev.Version <= 0 {
		ev.Version = 1
	}
	if ev.EventTime.IsZero() {
		ev.EventTime = time.Now().UTC()
	}

	audioID := domain.AudioIDFor(ev.CaseID, ev.SourceRef)
	log := w.log.With("audio_id", audioID, "version", ev.Version, "case_id", ev.CaseID)

	if err := w.dedup.Accept(ctx, ev.SourceRef, ev.Version); err != nil {
		if errors.Is(err, dedup.ErrSuppressed) {
			log.Debug("Duplicate ingestion trigger dropped")
			return audioID, err
		}
		return "", fmt.Errorf("dedup check: %w", err)
	}

	existing, err := w.store.GetAudio(ctx, audioID, ev.Version)
	if err != nil {
		return "", fmt.Errorf("load audio record: %w", err)
	}
	if existing == nil {
		rec := &domain.AudioRecord{
			AudioID:     audioID,
			Version:     ev.Version,
			CaseID:      ev.CaseID,
			SourceRef:   ev.SourceRef,
			FileName:    ev.FileName,
			ContentType: ev.ContentType,
			SizeBytes:   ev.SizeBytes,
			Status:      domain.StatusCreated,
		}
		if err := w.store.PutAudioIfRev(ctx, rec, 0); err != nil {
			if errors.Is(err, store.ErrConflict) {
				log.Debug("Record already created by a concurrent trigger")
				return audioID, dedup.ErrSuppressed
			}
			return "", fmt.Errorf("create audio record: %w", err)
		}
		log.Info("Audio record created", "source_ref", ev.SourceRef)
	} else if existing.Status.Terminal() {
		// Same version, already finished: idempotent no-op.
		log.Debug("Trigger for terminal execution ignored", "status", existing.Status)
		return audioID, nil
	}

	select {
	case w.queue <- execKey{AudioID: audioID, Version: ev.Version}:
		return audioID, nil
	case <-ctx.Done():
		// The record is durable; a restart will pick it up from
		// ListPendingAudio.
		return audioID, ctx.Err()
	}
}

// Describe resolves one execution record, the latest version when
// version is zero.
func (w *Worker) Describe(ctx context.Context, audioID string, version int) (*domain.AudioRecord, error) {
	return w.orch.Describe(ctx, audioID, version)
}

// ListPending returns executions that have not reached a terminal state.
func (w *Worker) ListPending(ctx context.Context) ([]*domain.AudioRecord, error) {
	return w.orch.ListPending(ctx)
}

// Start launches the worker pool and re-enqueues executions that were
// in flight when the previous process stopped. Cancel ctx to begin a
// graceful shutdown; Wait blocks until in-flight executions yield.
func (w *Worker) Start(ctx context.Context) {
	w.resume(ctx)
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.loop(ctx, i)
	}
	w.log.Info("Worker pool started", "concurrency", w.concurrency)
}

// Wait blocks until every worker goroutine has exited.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) resume(ctx context.Context) {
	pending, err := w.store.ListPendingAudio(ctx)
	if err != nil {
		w.log.Warn("Failed to list pending executions on startup", "error", err)
		return
	}
	for _, rec := range pending {
		select {
		case w.queue <- execKey{AudioID: rec.AudioID, Version: rec.Version}:
		default:
			w.log.Warn("Queue full while resuming, execution deferred",
				"audio_id", rec.AudioID, "version", rec.Version)
		}
	}
	if len(pending) > 0 {
		w.log.Info("Resumed pending executions", "count", len(pending))
	}
}

func (w *Worker) loop(ctx context.Context, id int) {
	defer w.wg.Done()
	log := w.log.With("worker", id)
	for {
		select {
		case <-ctx.Done():
			return
		case key := <-w.queue:
			w.runOne(ctx, log, key)
		}
	}
}

// runOne drives one execution, recovering from stage-handler panics so a
// bad input cannot take the worker down.
func (w *Worker) runOne(ctx context.Context, log *logger.Logger, key execKey) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Execution panicked", "audio_id", key.AudioID, "version", key.Version, "panic", r)
		}
	}()
	if err := w.orch.Run(ctx, key.AudioID, key.Version); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("Execution yielded for shutdown", "audio_id", key.AudioID, "version", key.Version)
			return
		}
		log.Error("Execution error", "audio_id", key.AudioID, "version", key.Version, "error", err)
	}
}
