package stage

import (
	"context"
	"errors"
	"fmt"

	"github.com/veroniica/detector-de-mentiras/internal/domain"
)

// Stage names, in pipeline order. Transcribe runs alone, summary and
// sentiment fan out after it, inconsistency runs at case level.
const (
	NameTranscribe    = "transcribe"
	NameSummary       = "summary"
	NameSentiment     = "sentiment"
	NameInconsistency = "inconsistency"
)

// ErrorKind classifies a stage failure for the retry policy.
type ErrorKind string

const (
	KindTransient ErrorKind = "transient"
	KindPermanent ErrorKind = "permanent"
)

// Error tags an underlying failure with its retry classification.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s stage error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient marks err as retryable (network, timeout, throttling).
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindTransient, Err: err}
}

// Permanent marks err as not retryable (invalid input, rejected content).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindPermanent, Err: err}
}

// KindOf resolves the classification of an arbitrary error. Untagged
// errors and deadline expiries count as transient so the retry budget,
// not a single hiccup, decides the execution's fate.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindTransient
}

// Stage functions are pure with respect to the orchestrator: same input,
// semantically equivalent output, re-invocation allowed. Persistence of
// results is the executor's job, never the stage's.
type (
	TranscribeFunc func(ctx context.Context, audioID, sourceRef string) (*domain.TranscriptResult, error)
	SummarizeFunc  func(ctx context.Context, audioID string, tr *domain.TranscriptResult) (*domain.SummaryResult, error)
	SentimentFunc  func(ctx context.Context, audioID string, tr *domain.TranscriptResult) (*domain.SentimentResult, error)
	DetectFunc     func(ctx context.Context, caseID string, members []domain.MemberAnalysis) (*domain.InconsistencyReport, error)
)

// Set bundles the four concrete stage functions the pipeline invokes.
type Set struct {
	Transcribe TranscribeFunc
	Summarize  SummarizeFunc
	Sentiment  SentimentFunc
	Detect     DetectFunc
}

func (s Set) Validate() error {
	if s.Transcribe == nil || s.Summarize == nil || s.Sentiment == nil || s.Detect == nil {
		return errors.New("stage set incomplete: all four stage functions are required")
	}
	return nil
}
