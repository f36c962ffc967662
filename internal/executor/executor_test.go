package executor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/veroniica/detector-de-mentiras/internal/domain"
	"github.com/veroniica/detector-de-mentiras/internal/pkg/logger"
	"github.com/veroniica/detector-de-mentiras/internal/stage"
	"github.com/veroniica/detector-de-mentiras/internal/store"
)

func fastPolicy() Policy {
	return Policy{
		StageTimeout:   100 * time.Millisecond,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}
}

func TestRun_SuccessShortCircuitsOnReplay(t *testing.T) {
	mem := store.NewMemory()
	e := New(mem, logger.NewNop(), fastPolicy())
	ctx := context.Background()

	var calls int32
	invoke := func(ctx context.Context) (any, string, error) {
		atomic.AddInt32(&calls, 1)
		return &domain.SummaryResult{AudioID: "audio-a", Summary: "resumen"}, "analysis/audio-a/v1/summary.json", nil
	}

	first, err := e.Run(ctx, "audio-a", 1, stage.NameSummary, invoke)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	replay, err := e.Run(ctx, "audio-a", 1, stage.NameSummary, invoke)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("invocations: want=1 got=%d", got)
	}
	if replay.ID != first.ID {
		t.Fatalf("replay must return the committed row: want=%s got=%s", first.ID, replay.ID)
	}
	if replay.ResultRef != "analysis/audio-a/v1/summary.json" {
		t.Fatalf("result ref: got=%q", replay.ResultRef)
	}
}

func TestRun_TransientExhaustionBecomesPermanent(t *testing.T) {
	mem := store.NewMemory()
	e := New(mem, logger.NewNop(), fastPolicy())
	ctx := context.Background()

	var calls int32
	invoke := func(ctx context.Context) (any, string, error) {
		atomic.AddInt32(&calls, 1)
		return nil, "", stage.Transient(fmt.Errorf("model endpoint unavailable"))
	}

	_, err := e.Run(ctx, "audio-a", 1, stage.NameSentiment, invoke)
	if err == nil {
		t.Fatal("expected exhaustion error")
	}
	if stage.KindOf(err) != stage.KindPermanent {
		t.Fatalf("exhausted error kind: want=%s got=%s", stage.KindPermanent, stage.KindOf(err))
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("invocations: want=3 got=%d", got)
	}

	n, cerr := mem.CountStageAttempts(ctx, "audio-a", 1, stage.NameSentiment)
	if cerr != nil {
		t.Fatalf("count attempts: %v", cerr)
	}
	if n != 3 {
		t.Fatalf("recorded attempts: want=3 got=%d", n)
	}
}

func TestRun_PermanentFailureIsNotRetried(t *testing.T) {
	mem := store.NewMemory()
	e := New(mem, logger.NewNop(), fastPolicy())

	var calls int32
	invoke := func(ctx context.Context) (any, string, error) {
		atomic.AddInt32(&calls, 1)
		return nil, "", stage.Permanent(fmt.Errorf("audio file is not audio"))
	}

	_, err := e.Run(context.Background(), "audio-a", 1, stage.NameTranscribe, invoke)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("invocations: want=1 got=%d", got)
	}
}

func TestRun_AttemptTimeoutIsTransient(t *testing.T) {
	mem := store.NewMemory()
	e := New(mem, logger.NewNop(), fastPolicy())

	var calls int32
	invoke := func(ctx context.Context) (any, string, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			<-ctx.Done() // overrun the per-attempt budget
			return nil, "", ctx.Err()
		}
		return &domain.TranscriptResult{AudioID: "audio-a", Script: "[00:01] spk_0: hola"},
			"analysis/audio-a/v1/transcribe.json", nil
	}

	exec, err := e.Run(context.Background(), "audio-a", 1, stage.NameTranscribe, invoke)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("invocations: want=2 got=%d", got)
	}
	if exec.Outcome != domain.OutcomeSuccess {
		t.Fatalf("outcome: want=%s got=%s", domain.OutcomeSuccess, exec.Outcome)
	}
}

func seedFailedAttempts(t *testing.T, st store.Store, audioID string, version int, stageName string, n int) {
	t.Helper()
	now := time.Now().UTC()
	for i := 1; i <= n; i++ {
		row := &domain.StageExecution{
			ID:         uuid.New(),
			AudioID:    audioID,
			Version:    version,
			StageName:  stageName,
			Attempt:    i,
			Outcome:    domain.OutcomeFailed,
			ErrorKind:  string(stage.KindTransient),
			LastError:  "model endpoint unavailable",
			StartedAt:  now,
			FinishedAt: &now,
		}
		if err := st.AppendStageExecution(context.Background(), row); err != nil {
			t.Fatalf("seed attempt %d: %v", i, err)
		}
	}
}

func TestRun_PriorAttemptsCountAgainstBudget(t *testing.T) {
	mem := store.NewMemory()
	e := New(mem, logger.NewNop(), fastPolicy())
	ctx := context.Background()

	// Two of the three attempts were spent on an earlier trigger, so this
	// run gets exactly one invocation before the budget is exhausted.
	seedFailedAttempts(t, mem, "audio-a", 1, stage.NameSentiment, 2)

	var calls int32
	invoke := func(ctx context.Context) (any, string, error) {
		atomic.AddInt32(&calls, 1)
		return nil, "", stage.Transient(fmt.Errorf("model endpoint unavailable"))
	}

	_, err := e.Run(ctx, "audio-a", 1, stage.NameSentiment, invoke)
	if err == nil {
		t.Fatal("expected exhaustion error")
	}
	if stage.KindOf(err) != stage.KindPermanent {
		t.Fatalf("exhausted error kind: want=%s got=%s", stage.KindPermanent, stage.KindOf(err))
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("invocations: want=1 got=%d", got)
	}

	n, cerr := mem.CountStageAttempts(ctx, "audio-a", 1, stage.NameSentiment)
	if cerr != nil {
		t.Fatalf("count attempts: %v", cerr)
	}
	if n != 3 {
		t.Fatalf("recorded attempts: want=3 got=%d", n)
	}
}

func TestRun_SpentBudgetFailsWithoutInvoking(t *testing.T) {
	mem := store.NewMemory()
	e := New(mem, logger.NewNop(), fastPolicy())

	seedFailedAttempts(t, mem, "audio-a", 1, stage.NameSummary, 3)

	var calls int32
	invoke := func(ctx context.Context) (any, string, error) {
		atomic.AddInt32(&calls, 1)
		return &domain.SummaryResult{AudioID: "audio-a"}, "analysis/audio-a/v1/summary.json", nil
	}

	_, err := e.Run(context.Background(), "audio-a", 1, stage.NameSummary, invoke)
	if err == nil {
		t.Fatal("expected exhaustion error")
	}
	if stage.KindOf(err) != stage.KindPermanent {
		t.Fatalf("error kind: want=%s got=%s", stage.KindPermanent, stage.KindOf(err))
	}
	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Fatalf("invocations: want=0 got=%d", got)
	}
}

func TestRun_OuterCancellationPropagates(t *testing.T) {
	mem := store.NewMemory()
	e := New(mem, logger.NewNop(), fastPolicy())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	invoke := func(ctx context.Context) (any, string, error) {
		<-ctx.Done()
		return nil, "", ctx.Err()
	}

	_, err := e.Run(ctx, "audio-a", 1, stage.NameSummary, invoke)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got=%v", err)
	}
}
