package domain

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type StageOutcome string

const (
	OutcomePending StageOutcome = "pending"
	OutcomeSuccess StageOutcome = "success"
	OutcomeFailed  StageOutcome = "failed"
)

// StageExecution is one attempt of one stage for one audio version.
// SuccessKey is set only on success rows; the unique index on it is what
// enforces at most one success per (audioID, version, stageName) even
// across concurrent writers.
type StageExecution struct {
	ID        uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	AudioID   string       `gorm:"index:idx_stage_exec;size:64" json:"audioId"`
	Version   int          `gorm:"index:idx_stage_exec" json:"version"`
	StageName string       `gorm:"index:idx_stage_exec;size:32" json:"stageName"`
	Attempt   int          `json:"attempt"`
	Outcome   StageOutcome `gorm:"size:16" json:"outcome"`
	ErrorKind string       `gorm:"size:16" json:"errorKind,omitempty"`
	LastError string       `json:"lastError,omitempty"`

	SuccessKey *string `gorm:"uniqueIndex;size:160" json:"-"`

	ResultRef string         `gorm:"size:512" json:"resultRef,omitempty"`
	Result    datatypes.JSON `json:"result,omitempty"`

	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

func StageSuccessKey(audioID string, version int, stageName string) string {
	return audioID + "#v" + strconv.Itoa(version) + "#" + stageName
}
