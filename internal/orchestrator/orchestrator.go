// Package orchestrator drives the per-audio analysis state machine:
//
//	created -> transcribing -> analyzing (summary ∥ sentiment) -> completing -> complete
//
// with failed reachable from every non-terminal state. Each (audioID,
// version) execution is independent; the only shared mutable resource is
// the record store, written through check-and-set.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/veroniica/detector-de-mentiras/internal/domain"
	"github.com/veroniica/detector-de-mentiras/internal/executor"
	"github.com/veroniica/detector-de-mentiras/internal/pkg/logger"
	"github.com/veroniica/detector-de-mentiras/internal/stage"
	"github.com/veroniica/detector-de-mentiras/internal/store"
)

// maxCASRetries bounds transparent retries of a read-modify-write after an
// optimistic-concurrency conflict. Exceeding it indicates pathological
// contention and surfaces as an operational error.
const maxCASRetries = 5

// CompletionFunc is called after an execution reaches complete, so the
// case aggregator can recompute. Aggregation failures are isolated: they
// are logged, never propagated onto the audio record.
type CompletionFunc func(ctx context.Context, caseID string)

type Orchestrator struct {
	store  store.Store
	exec   *executor.Executor
	stages stage.Set
	log    *logger.Logger

	// Deadline caps the wall-clock life of one execution run. Zero
	// means no cap.
	Deadline time.Duration

	onComplete CompletionFunc
}

func New(st store.Store, exec *executor.Executor, stages stage.Set, baseLog *logger.Logger, onComplete CompletionFunc) (*Orchestrator, error) {
	if err := stages.Validate(); err != nil {
		return nil, err
	}
	return &Orchestrator{
		store:      st,
		exec:       exec,
		stages:     stages,
		log:        baseLog.With("component", "Orchestrator"),
		onComplete: onComplete,
	}, nil
}

// Run advances the execution for (audioID, version) to a terminal state.
// Running against a terminal execution is a no-op, which is what makes
// redelivered triggers harmless. Context cancellation leaves the record
// in its current durable state so a restart can resume it.
func (o *Orchestrator) Run(ctx context.Context, audioID string, version int) (err error) {
	log := o.log.With("audio_id", audioID, "version", version)

	ctx, span := otel.Tracer("orchestrator").Start(ctx, "pipeline.execution")
	span.SetAttributes(
		attribute.String("audio.id", audioID),
		attribute.Int("audio.version", version),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if o.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.Deadline)
		defer cancel()
	}

	rec, err := o.store.GetAudio(ctx, audioID, version)
	if err != nil {
		return fmt.Errorf("load audio record: %w", err)
	}
	if rec == nil {
		return fmt.Errorf("audio record %s v%d not found", audioID, version)
	}
	if rec.Status.Terminal() {
		log.Debug("Execution already terminal, ignoring trigger", "status", rec.Status)
		return nil
	}

	if rec.Status == domain.StatusCreated {
		rec, err = o.transition(ctx, rec, domain.StatusTranscribing, nil)
		if err != nil {
			return err
		}
	}

	tr, rec, err := o.runTranscription(ctx, log, rec)
	if err != nil || tr == nil {
		return err
	}

	return o.runAnalysis(ctx, log, rec, tr)
}

// runTranscription covers the transcribing state. On a resumed execution
// past transcription the stored success row is reused via the executor's
// idempotency short-circuit.
func (o *Orchestrator) runTranscription(ctx context.Context, log *logger.Logger, rec *domain.AudioRecord) (*domain.TranscriptResult, *domain.AudioRecord, error) {
	exec, err := o.exec.Run(ctx, rec.AudioID, rec.Version, stage.NameTranscribe, func(ctx context.Context) (any, string, error) {
		res, ferr := o.stages.Transcribe(ctx, rec.AudioID, rec.SourceRef)
		if ferr != nil {
			return nil, "", ferr
		}
		return res, resultRef(rec, stage.NameTranscribe), nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, nil, err
		}
		if stage.KindOf(err) != stage.KindPermanent {
			// Store or infrastructure trouble, not a stage verdict. The
			// record stays pending so a later trigger resumes it.
			return nil, nil, err
		}
		_, ferr := o.fail(ctx, rec, stage.NameTranscribe, err)
		return nil, nil, ferr
	}

	var tr domain.TranscriptResult
	if err := json.Unmarshal(exec.Result, &tr); err != nil {
		_, ferr := o.fail(ctx, rec, stage.NameTranscribe, fmt.Errorf("decode transcript: %w", err))
		return nil, nil, ferr
	}

	if rec.Status == domain.StatusTranscribing {
		rec.SetResult(stage.NameTranscribe, domain.StageResultRef{Ref: exec.ResultRef, CompletedAt: finishedAt(exec)})
		var terr error
		rec, terr = o.transition(ctx, rec, domain.StatusAnalyzing, nil)
		if terr != nil {
			return nil, nil, terr
		}
		log.Info("Transcription complete, fanning out analysis")
	}
	return &tr, rec, nil
}

// runAnalysis covers the analyzing join and the completing/complete tail.
// The two branches run concurrently and neither is cancelled when its
// sibling fails: completed analysis is never thrown away, and the overall
// verdict waits until both settle.
func (o *Orchestrator) runAnalysis(ctx context.Context, log *logger.Logger, rec *domain.AudioRecord, tr *domain.TranscriptResult) error {
	var (
		summaryExec, sentimentExec *domain.StageExecution
		summaryErr, sentimentErr   error
	)

	var g errgroup.Group
	g.Go(func() error {
		summaryExec, summaryErr = o.exec.Run(ctx, rec.AudioID, rec.Version, stage.NameSummary, func(ctx context.Context) (any, string, error) {
			res, ferr := o.stages.Summarize(ctx, rec.AudioID, tr)
			if ferr != nil {
				return nil, "", ferr
			}
			return res, resultRef(rec, stage.NameSummary), nil
		})
		return nil
	})
	g.Go(func() error {
		sentimentExec, sentimentErr = o.exec.Run(ctx, rec.AudioID, rec.Version, stage.NameSentiment, func(ctx context.Context) (any, string, error) {
			res, ferr := o.stages.Sentiment(ctx, rec.AudioID, tr)
			if ferr != nil {
				return nil, "", ferr
			}
			return res, resultRef(rec, stage.NameSentiment), nil
		})
		return nil
	})
	_ = g.Wait() // join barrier: both branches settled

	if errors.Is(summaryErr, context.Canceled) || errors.Is(sentimentErr, context.Canceled) {
		return context.Canceled
	}

	// Record whatever succeeded before deciding the verdict, so a
	// successful branch's artifact stays visible even on failure.
	if summaryExec != nil {
		rec.SetResult(stage.NameSummary, domain.StageResultRef{Ref: summaryExec.ResultRef, CompletedAt: finishedAt(summaryExec)})
	}
	if sentimentExec != nil {
		rec.SetResult(stage.NameSentiment, domain.StageResultRef{Ref: sentimentExec.ResultRef, CompletedAt: finishedAt(sentimentExec)})
	}

	if summaryErr != nil && stage.KindOf(summaryErr) == stage.KindPermanent {
		_, err := o.fail(ctx, rec, stage.NameSummary, summaryErr)
		return err
	}
	if sentimentErr != nil && stage.KindOf(sentimentErr) == stage.KindPermanent {
		_, err := o.fail(ctx, rec, stage.NameSentiment, sentimentErr)
		return err
	}
	// Transient-kind errors here are operational (the stage verdict is
	// still open): leave the record pending for a resume.
	if summaryErr != nil {
		return summaryErr
	}
	if sentimentErr != nil {
		return sentimentErr
	}

	// The verdict is decided; the terminal commits must land even if the
	// execution deadline expired while the branches were settling.
	commitCtx := context.WithoutCancel(ctx)
	rec, err := o.transition(commitCtx, rec, domain.StatusCompleting, nil)
	if err != nil {
		return err
	}
	rec, err = o.transition(commitCtx, rec, domain.StatusComplete, nil)
	if err != nil {
		return err
	}
	log.Info("Execution complete", "case_id", rec.CaseID)

	if o.onComplete != nil {
		o.onComplete(commitCtx, rec.CaseID)
	}
	return nil
}

// Describe implements the execution status API.
func (o *Orchestrator) Describe(ctx context.Context, audioID string, version int) (*domain.AudioRecord, error) {
	if version > 0 {
		return o.store.GetAudio(ctx, audioID, version)
	}
	return o.store.GetLatestAudio(ctx, audioID)
}

// ListPending implements the operational pending-executions API.
func (o *Orchestrator) ListPending(ctx context.Context) ([]*domain.AudioRecord, error) {
	return o.store.ListPendingAudio(ctx)
}

// transition commits a status change with optimistic concurrency,
// retrying the read-modify-write on conflicts.
func (o *Orchestrator) transition(ctx context.Context, rec *domain.AudioRecord, next domain.ExecStatus, mutate func(*domain.AudioRecord)) (*domain.AudioRecord, error) {
	for i := 0; i < maxCASRetries; i++ {
		if rec.Status.Terminal() {
			return rec, nil
		}
		updated := *rec
		updated.Status = next
		if mutate != nil {
			mutate(&updated)
		}
		err := o.store.PutAudioIfRev(ctx, &updated, rec.Rev)
		if err == nil {
			return &updated, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("transition to %s: %w", next, err)
		}
		fresh, gerr := o.store.GetAudio(ctx, rec.AudioID, rec.Version)
		if gerr != nil {
			return nil, gerr
		}
		if fresh == nil {
			return nil, fmt.Errorf("audio record %s v%d vanished mid-transition", rec.AudioID, rec.Version)
		}
		// Preserve stage results recorded on the in-flight copy.
		for name, ref := range rec.Results() {
			if _, ok := fresh.Results()[name]; !ok {
				fresh.SetResult(name, ref)
			}
		}
		rec = fresh
	}
	return nil, fmt.Errorf("transition to %s: %w after %d retries", next, store.ErrConflict, maxCASRetries)
}

// fail moves the execution to the failed terminal state. Permanent
// failures never disappear silently: the stage and reason land on the
// record and surface through the status API.
func (o *Orchestrator) fail(ctx context.Context, rec *domain.AudioRecord, stageName string, cause error) (*domain.AudioRecord, error) {
	o.log.Warn("Execution failed",
		"audio_id", rec.AudioID, "version", rec.Version, "stage", stageName, "error", cause)
	// The verdict commonly arrives because the execution deadline expired;
	// committing it must not itself be blocked by that expired deadline,
	// or the record would stay pending and earn a fresh budget per run.
	ctx = context.WithoutCancel(ctx)
	return o.transition(ctx, rec, domain.StatusFailed, func(r *domain.AudioRecord) {
		r.FailureStage = stageName
		r.FailureReason = cause.Error()
	})
}

func resultRef(rec *domain.AudioRecord, stageName string) string {
	return fmt.Sprintf("analysis/%s/v%d/%s.json", rec.AudioID, rec.Version, stageName)
}

func finishedAt(exec *domain.StageExecution) time.Time {
	if exec.FinishedAt != nil {
		return *exec.FinishedAt
	}
	return exec.StartedAt
}
