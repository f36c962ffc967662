package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/veroniica/detector-de-mentiras/internal/domain"
	"github.com/veroniica/detector-de-mentiras/internal/executor"
	"github.com/veroniica/detector-de-mentiras/internal/pkg/logger"
	"github.com/veroniica/detector-de-mentiras/internal/stage"
	"github.com/veroniica/detector-de-mentiras/internal/store"
)

const testScript = "[00:05] spk_0: yo estaba en el mercado\n[00:12] spk_1: ¿vio usted al sospechoso?"

type stageCounters struct {
	transcribe int32
	summary    int32
	sentiment  int32
}

func testStages(c *stageCounters, sentimentErr error) stage.Set {
	return stage.Set{
		Transcribe: func(ctx context.Context, audioID, sourceRef string) (*domain.TranscriptResult, error) {
			atomic.AddInt32(&c.transcribe, 1)
			return &domain.TranscriptResult{AudioID: audioID, Script: testScript, Speakers: []string{"spk_0", "spk_1"}}, nil
		},
		Summarize: func(ctx context.Context, audioID string, tr *domain.TranscriptResult) (*domain.SummaryResult, error) {
			atomic.AddInt32(&c.summary, 1)
			return &domain.SummaryResult{AudioID: audioID, Summary: "resumen"}, nil
		},
		Sentiment: func(ctx context.Context, audioID string, tr *domain.TranscriptResult) (*domain.SentimentResult, error) {
			atomic.AddInt32(&c.sentiment, 1)
			if sentimentErr != nil {
				return nil, sentimentErr
			}
			return &domain.SentimentResult{AudioID: audioID}, nil
		},
		Detect: func(ctx context.Context, caseID string, members []domain.MemberAnalysis) (*domain.InconsistencyReport, error) {
			return &domain.InconsistencyReport{}, nil
		},
	}
}

func testOrchestrator(t *testing.T, mem *store.Memory, stages stage.Set, onComplete CompletionFunc) *Orchestrator {
	t.Helper()
	exec := executor.New(mem, logger.NewNop(), executor.Policy{
		StageTimeout:   time.Second,
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	})
	o, err := New(mem, exec, stages, logger.NewNop(), onComplete)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return o
}

func createAudio(t *testing.T, mem *store.Memory, audioID string) {
	t.Helper()
	rec := &domain.AudioRecord{
		AudioID:   audioID,
		Version:   1,
		CaseID:    "case-1",
		SourceRef: "uploads/" + audioID + ".wav",
		Status:    domain.StatusCreated,
	}
	if err := mem.PutAudioIfRev(context.Background(), rec, 0); err != nil {
		t.Fatalf("create record: %v", err)
	}
}

func TestRun_HappyPathReachesComplete(t *testing.T) {
	mem := store.NewMemory()
	var counters stageCounters
	var completedCase atomic.Value
	o := testOrchestrator(t, mem, testStages(&counters, nil), func(ctx context.Context, caseID string) {
		completedCase.Store(caseID)
	})
	createAudio(t, mem, "audio-a")

	if err := o.Run(context.Background(), "audio-a", 1); err != nil {
		t.Fatalf("run: %v", err)
	}

	rec, err := mem.GetAudio(context.Background(), "audio-a", 1)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if rec.Status != domain.StatusComplete {
		t.Fatalf("status: want=%s got=%s", domain.StatusComplete, rec.Status)
	}

	results := rec.Results()
	for _, name := range []string{stage.NameTranscribe, stage.NameSummary, stage.NameSentiment} {
		if _, ok := results[name]; !ok {
			t.Fatalf("missing result ref for %s: %+v", name, results)
		}
	}
	if got := completedCase.Load(); got != "case-1" {
		t.Fatalf("completion callback: want=case-1 got=%v", got)
	}
	if counters.transcribe != 1 || counters.summary != 1 || counters.sentiment != 1 {
		t.Fatalf("stage invocations: %+v", counters)
	}
}

func TestRun_BranchFailureStillRunsSibling(t *testing.T) {
	mem := store.NewMemory()
	var counters stageCounters
	sentimentErr := stage.Permanent(fmt.Errorf("sentiment model rejected input"))
	var completions int32
	o := testOrchestrator(t, mem, testStages(&counters, sentimentErr), func(ctx context.Context, caseID string) {
		atomic.AddInt32(&completions, 1)
	})
	createAudio(t, mem, "audio-a")

	if err := o.Run(context.Background(), "audio-a", 1); err != nil {
		t.Fatalf("run should terminate the record, not error: %v", err)
	}

	rec, err := mem.GetAudio(context.Background(), "audio-a", 1)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if rec.Status != domain.StatusFailed {
		t.Fatalf("status: want=%s got=%s", domain.StatusFailed, rec.Status)
	}
	if rec.FailureStage != stage.NameSentiment {
		t.Fatalf("failure stage: want=%s got=%s", stage.NameSentiment, rec.FailureStage)
	}
	if rec.FailureReason == "" {
		t.Fatal("failure reason must be recorded")
	}

	// The summary branch ran to completion and its artifact stays visible.
	if counters.summary != 1 {
		t.Fatalf("summary invocations: want=1 got=%d", counters.summary)
	}
	if _, ok := rec.Results()[stage.NameSummary]; !ok {
		t.Fatalf("summary result ref missing on failed record: %+v", rec.Results())
	}
	if atomic.LoadInt32(&completions) != 0 {
		t.Fatal("failed execution must not trigger case aggregation")
	}
}

// deadlineStore rejects writes once the request context is done, the way
// the gorm-backed store does.
type deadlineStore struct {
	store.Store
}

func (s *deadlineStore) PutAudioIfRev(ctx context.Context, rec *domain.AudioRecord, expectedRev int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.PutAudioIfRev(ctx, rec, expectedRev)
}

func TestRun_ExpiredDeadlineStillCommitsFailed(t *testing.T) {
	mem := store.NewMemory()
	st := &deadlineStore{Store: mem}
	stages := stage.Set{
		Transcribe: func(ctx context.Context, audioID, sourceRef string) (*domain.TranscriptResult, error) {
			<-ctx.Done() // outlive the execution deadline
			return nil, stage.Transient(ctx.Err())
		},
		Summarize: func(ctx context.Context, audioID string, tr *domain.TranscriptResult) (*domain.SummaryResult, error) {
			return &domain.SummaryResult{AudioID: audioID}, nil
		},
		Sentiment: func(ctx context.Context, audioID string, tr *domain.TranscriptResult) (*domain.SentimentResult, error) {
			return &domain.SentimentResult{AudioID: audioID}, nil
		},
		Detect: func(ctx context.Context, caseID string, members []domain.MemberAnalysis) (*domain.InconsistencyReport, error) {
			return &domain.InconsistencyReport{}, nil
		},
	}
	exec := executor.New(st, logger.NewNop(), executor.Policy{
		StageTimeout:   time.Second,
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	})
	o, err := New(st, exec, stages, logger.NewNop(), nil)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	o.Deadline = 80 * time.Millisecond
	createAudio(t, mem, "audio-a")

	if err := o.Run(context.Background(), "audio-a", 1); err != nil {
		t.Fatalf("run should terminate the record, not error: %v", err)
	}

	rec, err := mem.GetAudio(context.Background(), "audio-a", 1)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	// Without a detached commit the failed write would be rejected with
	// the expired deadline and the record would stay pending forever.
	if rec.Status != domain.StatusFailed {
		t.Fatalf("status: want=%s got=%s", domain.StatusFailed, rec.Status)
	}
	if rec.FailureStage != stage.NameTranscribe {
		t.Fatalf("failure stage: want=%s got=%s", stage.NameTranscribe, rec.FailureStage)
	}
}

// flakyStore fails GetStageSuccess a fixed number of times before
// delegating, standing in for a briefly unreachable database.
type flakyStore struct {
	store.Store
	failures int32
}

func (s *flakyStore) GetStageSuccess(ctx context.Context, audioID string, version int, stageName string) (*domain.StageExecution, error) {
	if atomic.AddInt32(&s.failures, -1) >= 0 {
		return nil, fmt.Errorf("store unavailable")
	}
	return s.Store.GetStageSuccess(ctx, audioID, version, stageName)
}

func TestRun_StoreErrorLeavesRecordPending(t *testing.T) {
	mem := store.NewMemory()
	st := &flakyStore{Store: mem, failures: 1}
	var counters stageCounters
	stages := testStages(&counters, nil)
	exec := executor.New(st, logger.NewNop(), executor.Policy{
		StageTimeout:   time.Second,
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	})
	o, err := New(st, exec, stages, logger.NewNop(), nil)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	createAudio(t, mem, "audio-a")

	if err := o.Run(context.Background(), "audio-a", 1); err == nil {
		t.Fatal("expected the store error to surface")
	}

	rec, gerr := mem.GetAudio(context.Background(), "audio-a", 1)
	if gerr != nil {
		t.Fatalf("get record: %v", gerr)
	}
	// An infrastructure hiccup is not a verdict: the record must stay
	// non-terminal so a later trigger resumes it.
	if rec.Status != domain.StatusTranscribing {
		t.Fatalf("status: want=%s got=%s", domain.StatusTranscribing, rec.Status)
	}

	if err := o.Run(context.Background(), "audio-a", 1); err != nil {
		t.Fatalf("resumed run: %v", err)
	}
	rec, gerr = mem.GetAudio(context.Background(), "audio-a", 1)
	if gerr != nil {
		t.Fatalf("get record: %v", gerr)
	}
	if rec.Status != domain.StatusComplete {
		t.Fatalf("status after resume: want=%s got=%s", domain.StatusComplete, rec.Status)
	}
}

func TestRun_TerminalExecutionIsNoOp(t *testing.T) {
	mem := store.NewMemory()
	var counters stageCounters
	o := testOrchestrator(t, mem, testStages(&counters, nil), nil)
	createAudio(t, mem, "audio-a")

	if err := o.Run(context.Background(), "audio-a", 1); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := o.Run(context.Background(), "audio-a", 1); err != nil {
		t.Fatalf("replayed run: %v", err)
	}
	if counters.transcribe != 1 || counters.summary != 1 || counters.sentiment != 1 {
		t.Fatalf("replay must not re-invoke stages: %+v", counters)
	}
}

func TestRun_UnknownRecordErrors(t *testing.T) {
	mem := store.NewMemory()
	var counters stageCounters
	o := testOrchestrator(t, mem, testStages(&counters, nil), nil)

	if err := o.Run(context.Background(), "audio-missing", 1); err == nil {
		t.Fatal("expected error for unknown record")
	}
}

func TestDescribe_LatestVersionWhenUnspecified(t *testing.T) {
	mem := store.NewMemory()
	var counters stageCounters
	o := testOrchestrator(t, mem, testStages(&counters, nil), nil)
	ctx := context.Background()

	for v := 1; v <= 2; v++ {
		rec := &domain.AudioRecord{
			AudioID: "audio-a", Version: v, CaseID: "case-1",
			SourceRef: "uploads/audio-a.wav", Status: domain.StatusCreated,
		}
		if err := mem.PutAudioIfRev(ctx, rec, 0); err != nil {
			t.Fatalf("create v%d: %v", v, err)
		}
	}

	got, err := o.Describe(ctx, "audio-a", 0)
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if got.Version != 2 {
		t.Fatalf("latest version: want=2 got=%d", got.Version)
	}

	got, err = o.Describe(ctx, "audio-a", 1)
	if err != nil {
		t.Fatalf("describe v1: %v", err)
	}
	if got.Version != 1 {
		t.Fatalf("explicit version: want=1 got=%d", got.Version)
	}
}
