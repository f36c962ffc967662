// Package aggregator recomputes the case-level inconsistency report
// whenever an interview finishes its per-file pipeline.
package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/veroniica/detector-de-mentiras/internal/domain"
	"github.com/veroniica/detector-de-mentiras/internal/pkg/logger"
	"github.com/veroniica/detector-de-mentiras/internal/stage"
	"github.com/veroniica/detector-de-mentiras/internal/store"
)

// maxRecomputeRetries bounds the generation check-and-set loop. Each
// retry re-reads membership, so losing the race to a sibling completion
// just folds that sibling into the next attempt.
const maxRecomputeRetries = 5

type Aggregator struct {
	store  store.Store
	detect stage.DetectFunc
	log    *logger.Logger
}

func New(st store.Store, detect stage.DetectFunc, baseLog *logger.Logger) *Aggregator {
	return &Aggregator{
		store:  st,
		detect: detect,
		log:    baseLog.With("component", "CaseAggregator"),
	}
}

// Recompute rebuilds the case aggregate from the set of currently
// complete audio records. The report is a pure function of that member
// set, so concurrent completions converge on the same content no matter
// which one fired last; the generation counter only arbitrates which
// write commits.
func (a *Aggregator) Recompute(ctx context.Context, caseID string) (*domain.CaseAggregate, error) {
	log := a.log.With("case_id", caseID)

	for attempt := 1; attempt <= maxRecomputeRetries; attempt++ {
		cur, err := a.store.GetAggregate(ctx, caseID)
		if err != nil {
			return nil, fmt.Errorf("load aggregate: %w", err)
		}
		var expectedGen int64
		if cur != nil {
			expectedGen = cur.Generation
		}

		members, err := a.collectMembers(ctx, caseID)
		if err != nil {
			return nil, err
		}

		memberIDs := make([]string, 0, len(members))
		for _, m := range members {
			memberIDs = append(memberIDs, m.AudioID)
		}

		report, err := a.detect(ctx, caseID, members)
		if err != nil {
			return nil, fmt.Errorf("detect inconsistencies: %w", err)
		}

		agg := &domain.CaseAggregate{
			CaseID:     caseID,
			ComputedAt: time.Now().UTC(),
		}
		agg.SetMembers(memberIDs)
		agg.SetReport(report)

		err = a.store.PutAggregateIfGen(ctx, agg, expectedGen)
		if err == nil {
			log.Info("Case aggregate recomputed",
				"generation", agg.Generation,
				"members", len(memberIDs),
				"inconsistencies", len(report.Inconsistencies))
			return agg, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("commit aggregate: %w", err)
		}
		log.Debug("Aggregate generation conflict, recomputing", "attempt", attempt)
	}
	return nil, fmt.Errorf("commit aggregate for case %s: %w after %d retries", caseID, store.ErrConflict, maxRecomputeRetries)
}

// collectMembers loads the per-file analysis of every complete audio
// record in the case, sorted by audio id for order independence.
func (a *Aggregator) collectMembers(ctx context.Context, caseID string) ([]domain.MemberAnalysis, error) {
	all, err := a.store.ListAudioByCase(ctx, caseID, domain.StatusComplete)
	if err != nil {
		return nil, fmt.Errorf("list complete records: %w", err)
	}

	// A re-uploaded interview can have more than one complete version;
	// only the newest one represents it in the case.
	latest := map[string]*domain.AudioRecord{}
	var order []string
	for _, rec := range all {
		if prev, ok := latest[rec.AudioID]; !ok {
			latest[rec.AudioID] = rec
			order = append(order, rec.AudioID)
		} else if rec.Version > prev.Version {
			latest[rec.AudioID] = rec
		}
	}

	members := make([]domain.MemberAnalysis, 0, len(order))
	for _, id := range order {
		rec := latest[id]
		m := domain.MemberAnalysis{AudioID: rec.AudioID}
		if err := a.loadStageResult(ctx, rec, stage.NameTranscribe, &m.Transcript); err != nil {
			return nil, err
		}
		if err := a.loadStageResult(ctx, rec, stage.NameSentiment, &m.Sentiment); err != nil {
			return nil, err
		}
		if err := a.loadStageResult(ctx, rec, stage.NameSummary, &m.Summary); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, nil
}

func (a *Aggregator) loadStageResult(ctx context.Context, rec *domain.AudioRecord, stageName string, out any) error {
	exec, err := a.store.GetStageSuccess(ctx, rec.AudioID, rec.Version, stageName)
	if err != nil {
		return fmt.Errorf("load %s result for %s: %w", stageName, rec.AudioID, err)
	}
	if exec == nil {
		return fmt.Errorf("audio %s v%d is complete but has no %s success", rec.AudioID, rec.Version, stageName)
	}
	if err := json.Unmarshal(exec.Result, out); err != nil {
		return fmt.Errorf("decode %s result for %s: %w", stageName, rec.AudioID, err)
	}
	return nil
}

// Report implements the case report API.
func (a *Aggregator) Report(ctx context.Context, caseID string) (*domain.CaseAggregate, error) {
	return a.store.GetAggregate(ctx, caseID)
}
