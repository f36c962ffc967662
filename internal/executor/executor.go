// Package executor runs a single analysis stage for a single audio
// version with timeout, retry and idempotency guarantees.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/datatypes"

	"github.com/veroniica/detector-de-mentiras/internal/domain"
	"github.com/veroniica/detector-de-mentiras/internal/pkg/logger"
	"github.com/veroniica/detector-de-mentiras/internal/stage"
	"github.com/veroniica/detector-de-mentiras/internal/store"
)

// Policy is the retry surface for one stage invocation. Zero values fall
// back to the defaults below.
type Policy struct {
	StageTimeout   time.Duration // per attempt
	MaxAttempts    int           // total invocations, including the first
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxElapsed     time.Duration // wall-clock cap across all retries, 0 = unbounded
}

const (
	defaultStageTimeout   = 5 * time.Minute
	defaultMaxAttempts    = 4
	defaultInitialBackoff = 1 * time.Second
	defaultMaxBackoff     = 30 * time.Second
)

func (p Policy) withDefaults() Policy {
	if p.StageTimeout <= 0 {
		p.StageTimeout = defaultStageTimeout
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = defaultInitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = defaultMaxBackoff
	}
	return p
}

// Invoke wraps one stage function call. It returns the typed result (to be
// serialized onto the execution row) and the storage reference of the
// produced artifact.
type Invoke func(ctx context.Context) (result any, ref string, err error)

type Executor struct {
	store  store.Store
	log    *logger.Logger
	policy Policy
}

func New(st store.Store, baseLog *logger.Logger, policy Policy) *Executor {
	return &Executor{
		store:  st,
		log:    baseLog.With("component", "StageExecutor"),
		policy: policy.withDefaults(),
	}
}

// Run executes one stage for (audioID, version). If a success row already
// exists it is returned without invoking the stage function. Transient
// failures are retried with exponential backoff up to the policy budget;
// once the budget is exhausted the error is reclassified permanent. The
// first success wins: a concurrent duplicate success is discarded and the
// committed row returned instead.
func (e *Executor) Run(ctx context.Context, audioID string, version int, stageName string, invoke Invoke) (exec *domain.StageExecution, err error) {
	log := e.log.With("audio_id", audioID, "version", version, "stage", stageName)

	ctx, span := otel.Tracer("executor").Start(ctx, "stage.execute")
	span.SetAttributes(
		attribute.String("audio.id", audioID),
		attribute.Int("audio.version", version),
		attribute.String("stage.name", stageName),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	prev, err := e.store.GetStageSuccess(ctx, audioID, version, stageName)
	if err != nil {
		return nil, fmt.Errorf("check stage success: %w", err)
	}
	if prev != nil {
		log.Debug("Stage already succeeded, short-circuiting")
		return prev, nil
	}

	priorAttempts, err := e.store.CountStageAttempts(ctx, audioID, version, stageName)
	if err != nil {
		return nil, fmt.Errorf("count stage attempts: %w", err)
	}
	// The attempt budget spans runs: recorded attempts from earlier
	// triggers count against it, so a re-trigger never earns a fresh one.
	remaining := e.policy.MaxAttempts - priorAttempts
	if remaining <= 0 {
		return nil, stage.Permanent(fmt.Errorf("retry budget exhausted after %d attempt(s)", priorAttempts))
	}

	attempt := priorAttempts
	var success *domain.StageExecution

	op := func() error {
		attempt++
		started := time.Now().UTC()

		result, ref, invokeErr := e.invokeWithTimeout(ctx, invoke)
		if invokeErr != nil {
			kind := stage.KindOf(invokeErr)
			e.recordFailure(ctx, audioID, version, stageName, attempt, kind, invokeErr, started)
			if kind == stage.KindPermanent {
				log.Warn("Stage failed permanently", "attempt", attempt, "error", invokeErr)
				return backoff.Permanent(invokeErr)
			}
			log.Warn("Stage failed, will retry", "attempt", attempt, "error", invokeErr)
			return invokeErr
		}

		row, buildErr := e.successRow(audioID, version, stageName, attempt, result, ref, started)
		if buildErr != nil {
			return backoff.Permanent(stage.Permanent(buildErr))
		}
		if err := e.store.AppendStageExecution(ctx, row); err != nil {
			if errors.Is(err, store.ErrConflict) {
				winner, werr := e.store.GetStageSuccess(ctx, audioID, version, stageName)
				if werr == nil && winner != nil {
					log.Debug("Concurrent success won, discarding duplicate result")
					success = winner
					return nil
				}
			}
			return fmt.Errorf("record stage success: %w", err)
		}
		success = row
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.policy.InitialBackoff
	bo.MaxInterval = e.policy.MaxBackoff
	bo.MaxElapsedTime = e.policy.MaxElapsed

	b := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(remaining-1)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		if stage.KindOf(err) == stage.KindTransient && !errors.Is(err, context.Canceled) {
			err = stage.Permanent(fmt.Errorf("retry budget exhausted after %d attempt(s): %w", attempt, err))
		}
		return nil, err
	}
	return success, nil
}

// invokeWithTimeout runs the stage function under the per-attempt timeout
// in its own goroutine so a call that ignores its context still cannot
// stall the pipeline. A timeout counts as a transient failure.
func (e *Executor) invokeWithTimeout(ctx context.Context, invoke Invoke) (any, string, error) {
	actx, cancel := context.WithTimeout(ctx, e.policy.StageTimeout)
	defer cancel()

	type outcome struct {
		result any
		ref    string
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		r, ref, err := invoke(actx)
		ch <- outcome{result: r, ref: ref, err: err}
	}()

	select {
	case <-actx.Done():
		if ctx.Err() != nil {
			// Outer cancellation (shutdown or execution deadline), not
			// a per-attempt timeout.
			return nil, "", stage.Transient(ctx.Err())
		}
		return nil, "", stage.Transient(fmt.Errorf("stage timed out after %s: %w", e.policy.StageTimeout, actx.Err()))
	case o := <-ch:
		return o.result, o.ref, o.err
	}
}

func (e *Executor) successRow(audioID string, version int, stageName string, attempt int, result any, ref string, started time.Time) (*domain.StageExecution, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal %s result: %w", stageName, err)
	}
	now := time.Now().UTC()
	return &domain.StageExecution{
		ID:         uuid.New(),
		AudioID:    audioID,
		Version:    version,
		StageName:  stageName,
		Attempt:    attempt,
		Outcome:    domain.OutcomeSuccess,
		ResultRef:  ref,
		Result:     datatypes.JSON(payload),
		StartedAt:  started,
		FinishedAt: &now,
	}, nil
}

func (e *Executor) recordFailure(ctx context.Context, audioID string, version int, stageName string, attempt int, kind stage.ErrorKind, cause error, started time.Time) {
	// Attempt rows count against the cross-run budget, so they must land
	// even when the attempt failed because the execution deadline expired.
	ctx = context.WithoutCancel(ctx)
	now := time.Now().UTC()
	row := &domain.StageExecution{
		ID:         uuid.New(),
		AudioID:    audioID,
		Version:    version,
		StageName:  stageName,
		Attempt:    attempt,
		Outcome:    domain.OutcomeFailed,
		ErrorKind:  string(kind),
		LastError:  cause.Error(),
		StartedAt:  started,
		FinishedAt: &now,
	}
	if err := e.store.AppendStageExecution(ctx, row); err != nil {
		e.log.Warn("Failed to record stage attempt", "audio_id", audioID, "stage", stageName, "error", err)
	}
}
