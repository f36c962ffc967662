package store

import (
	"context"
	"errors"

	"github.com/veroniica/detector-de-mentiras/internal/domain"
)

// ErrConflict signals an optimistic-concurrency collision: another writer
// changed the row since it was read. Callers retry the read-modify-write,
// not the business operation.
var ErrConflict = errors.New("store: version conflict")

// Store is the durable keyed state shared by the orchestrator, the stage
// executor and the case aggregator. All writes are check-and-set; absent
// records read back as (nil, nil).
type Store interface {
	GetAudio(ctx context.Context, audioID string, version int) (*domain.AudioRecord, error)
	GetLatestAudio(ctx context.Context, audioID string) (*domain.AudioRecord, error)
	// PutAudioIfRev creates rec when expectedRev is 0 and otherwise
	// replaces the row only if its current Rev equals expectedRev.
	// On success rec.Rev is bumped to expectedRev+1.
	PutAudioIfRev(ctx context.Context, rec *domain.AudioRecord, expectedRev int64) error
	ListAudioByCase(ctx context.Context, caseID string, status domain.ExecStatus) ([]*domain.AudioRecord, error)
	ListPendingAudio(ctx context.Context) ([]*domain.AudioRecord, error)

	// AppendStageExecution inserts an attempt row. For success rows the
	// write is first-success-wins: a second success for the same
	// (audioID, version, stageName) returns ErrConflict and is discarded.
	AppendStageExecution(ctx context.Context, exec *domain.StageExecution) error
	GetStageSuccess(ctx context.Context, audioID string, version int, stageName string) (*domain.StageExecution, error)
	CountStageAttempts(ctx context.Context, audioID string, version int, stageName string) (int, error)

	GetAggregate(ctx context.Context, caseID string) (*domain.CaseAggregate, error)
	// PutAggregateIfGen commits agg only if the stored generation still
	// equals expectedGen (0 when no aggregate exists yet).
	PutAggregateIfGen(ctx context.Context, agg *domain.CaseAggregate, expectedGen int64) error
}
