package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/veroniica/detector-de-mentiras/internal/domain"
	"github.com/veroniica/detector-de-mentiras/internal/pkg/logger"
)

// GormStore persists pipeline state in Postgres. Check-and-set updates go
// through guarded UPDATE ... WHERE rev = ? statements; uniqueness of stage
// successes is enforced by the unique index on StageExecution.SuccessKey.
type GormStore struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGormStore(db *gorm.DB, baseLog *logger.Logger) *GormStore {
	return &GormStore{db: db, log: baseLog.With("store", "GormStore")}
}

func (s *GormStore) GetAudio(ctx context.Context, audioID string, version int) (*domain.AudioRecord, error) {
	var rec domain.AudioRecord
	err := s.db.WithContext(ctx).
		Where("audio_id = ? AND version = ?", audioID, version).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *GormStore) GetLatestAudio(ctx context.Context, audioID string) (*domain.AudioRecord, error) {
	var rec domain.AudioRecord
	err := s.db.WithContext(ctx).
		Where("audio_id = ?", audioID).
		Order("version DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *GormStore) PutAudioIfRev(ctx context.Context, rec *domain.AudioRecord, expectedRev int64) error {
	now := time.Now().UTC()
	if expectedRev == 0 {
		rec.Rev = 1
		rec.CreatedAt = now
		rec.UpdatedAt = now
		err := s.db.WithContext(ctx).Create(rec).Error
		if isDuplicateKey(err) {
			return ErrConflict
		}
		return err
	}
	rec.Rev = expectedRev + 1
	rec.UpdatedAt = now
	res := s.db.WithContext(ctx).
		Model(&domain.AudioRecord{}).
		Where("audio_id = ? AND version = ? AND rev = ?", rec.AudioID, rec.Version, expectedRev).
		Updates(map[string]any{
			"status":         rec.Status,
			"failure_stage":  rec.FailureStage,
			"failure_reason": rec.FailureReason,
			"stage_results":  rec.StageResults,
			"rev":            rec.Rev,
			"updated_at":     rec.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func (s *GormStore) ListAudioByCase(ctx context.Context, caseID string, status domain.ExecStatus) ([]*domain.AudioRecord, error) {
	var out []*domain.AudioRecord
	q := s.db.WithContext(ctx).Where("case_id = ?", caseID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Order("audio_id ASC, version ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) ListPendingAudio(ctx context.Context) ([]*domain.AudioRecord, error) {
	var out []*domain.AudioRecord
	err := s.db.WithContext(ctx).
		Where("status NOT IN ?", []domain.ExecStatus{domain.StatusComplete, domain.StatusFailed}).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) AppendStageExecution(ctx context.Context, exec *domain.StageExecution) error {
	if exec.Outcome == domain.OutcomeSuccess && exec.SuccessKey == nil {
		key := domain.StageSuccessKey(exec.AudioID, exec.Version, exec.StageName)
		exec.SuccessKey = &key
	}
	err := s.db.WithContext(ctx).Create(exec).Error
	if isDuplicateKey(err) {
		return ErrConflict
	}
	return err
}

func (s *GormStore) GetStageSuccess(ctx context.Context, audioID string, version int, stageName string) (*domain.StageExecution, error) {
	var exec domain.StageExecution
	err := s.db.WithContext(ctx).
		Where("audio_id = ? AND version = ? AND stage_name = ? AND outcome = ?",
			audioID, version, stageName, domain.OutcomeSuccess).
		First(&exec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &exec, nil
}

func (s *GormStore) CountStageAttempts(ctx context.Context, audioID string, version int, stageName string) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&domain.StageExecution{}).
		Where("audio_id = ? AND version = ? AND stage_name = ?", audioID, version, stageName).
		Count(&n).Error
	return int(n), err
}

func (s *GormStore) GetAggregate(ctx context.Context, caseID string) (*domain.CaseAggregate, error) {
	var agg domain.CaseAggregate
	err := s.db.WithContext(ctx).Where("case_id = ?", caseID).First(&agg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

func (s *GormStore) PutAggregateIfGen(ctx context.Context, agg *domain.CaseAggregate, expectedGen int64) error {
	if expectedGen == 0 {
		agg.Generation = 1
		err := s.db.WithContext(ctx).Create(agg).Error
		if isDuplicateKey(err) {
			return ErrConflict
		}
		return err
	}
	agg.Generation = expectedGen + 1
	res := s.db.WithContext(ctx).
		Model(&domain.CaseAggregate{}).
		Where("case_id = ? AND generation = ?", agg.CaseID, expectedGen).
		Updates(map[string]any{
			"generation":       agg.Generation,
			"member_audio_ids": agg.MemberAudioIDs,
			"report":           agg.Report,
			"computed_at":      agg.ComputedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
