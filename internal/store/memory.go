package store

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/veroniica/detector-de-mentiras/internal/domain"
)

// Memory is an in-process Store with the same check-and-set semantics as
// the Postgres-backed one. It backs tests and credential-less local runs.
type Memory struct {
	mu    sync.RWMutex
	audio map[string]*domain.AudioRecord // key audioID#vN
	execs []*domain.StageExecution
	aggs  map[string]*domain.CaseAggregate // key caseID
}

func NewMemory() *Memory {
	return &Memory{
		audio: map[string]*domain.AudioRecord{},
		aggs:  map[string]*domain.CaseAggregate{},
	}
}

func audioKey(audioID string, version int) string {
	return audioID + "#v" + strconv.Itoa(version)
}

func (m *Memory) GetAudio(_ context.Context, audioID string, version int) (*domain.AudioRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.audio[audioKey(audioID, version)]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *Memory) GetLatestAudio(_ context.Context, audioID string) (*domain.AudioRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *domain.AudioRecord
	for _, rec := range m.audio {
		if rec.AudioID != audioID {
			continue
		}
		if latest == nil || rec.Version > latest.Version {
			latest = rec
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (m *Memory) PutAudioIfRev(_ context.Context, rec *domain.AudioRecord, expectedRev int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := audioKey(rec.AudioID, rec.Version)
	cur, exists := m.audio[key]
	now := time.Now().UTC()
	if expectedRev == 0 {
		if exists {
			return ErrConflict
		}
		rec.Rev = 1
		rec.CreatedAt = now
		rec.UpdatedAt = now
		cp := *rec
		m.audio[key] = &cp
		return nil
	}
	if !exists || cur.Rev != expectedRev {
		return ErrConflict
	}
	rec.Rev = expectedRev + 1
	rec.CreatedAt = cur.CreatedAt
	rec.UpdatedAt = now
	cp := *rec
	m.audio[key] = &cp
	return nil
}

func (m *Memory) ListAudioByCase(_ context.Context, caseID string, status domain.ExecStatus) ([]*domain.AudioRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.AudioRecord
	for _, rec := range m.audio {
		if rec.CaseID != caseID {
			continue
		}
		if status != "" && rec.Status != status {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AudioID != out[j].AudioID {
			return out[i].AudioID < out[j].AudioID
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}

func (m *Memory) ListPendingAudio(_ context.Context) ([]*domain.AudioRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.AudioRecord
	for _, rec := range m.audio {
		if rec.Status.Terminal() {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) AppendStageExecution(_ context.Context, exec *domain.StageExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if exec.Outcome == domain.OutcomeSuccess {
		for _, e := range m.execs {
			if e.AudioID == exec.AudioID && e.Version == exec.Version &&
				e.StageName == exec.StageName && e.Outcome == domain.OutcomeSuccess {
				return ErrConflict
			}
		}
		key := domain.StageSuccessKey(exec.AudioID, exec.Version, exec.StageName)
		exec.SuccessKey = &key
	}
	cp := *exec
	m.execs = append(m.execs, &cp)
	return nil
}

func (m *Memory) GetStageSuccess(_ context.Context, audioID string, version int, stageName string) (*domain.StageExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.execs {
		if e.AudioID == audioID && e.Version == version &&
			e.StageName == stageName && e.Outcome == domain.OutcomeSuccess {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) CountStageAttempts(_ context.Context, audioID string, version int, stageName string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.execs {
		if e.AudioID == audioID && e.Version == version && e.StageName == stageName {
			n++
		}
	}
	return n, nil
}

func (m *Memory) GetAggregate(_ context.Context, caseID string) (*domain.CaseAggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agg, ok := m.aggs[caseID]
	if !ok {
		return nil, nil
	}
	cp := *agg
	return &cp, nil
}

func (m *Memory) PutAggregateIfGen(_ context.Context, agg *domain.CaseAggregate, expectedGen int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, exists := m.aggs[agg.CaseID]
	if expectedGen == 0 {
		if exists {
			return ErrConflict
		}
		agg.Generation = 1
		cp := *agg
		m.aggs[agg.CaseID] = &cp
		return nil
	}
	if !exists || cur.Generation != expectedGen {
		return ErrConflict
	}
	agg.Generation = expectedGen + 1
	cp := *agg
	m.aggs[agg.CaseID] = &cp
	return nil
}
