package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ExecStatus is the state of one (audioID, version) execution.
type ExecStatus string

const (
	StatusCreated      ExecStatus = "created"
	StatusTranscribing ExecStatus = "transcribing"
	StatusAnalyzing    ExecStatus = "analyzing"
	StatusCompleting   ExecStatus = "completing"
	StatusComplete     ExecStatus = "complete"
	StatusFailed       ExecStatus = "failed"
)

// Terminal reports whether the status admits no further transitions for
// this version. A re-upload starts a new version from StatusCreated.
func (s ExecStatus) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// audioIDNamespace makes AudioIDFor deterministic: the same (caseID,
// sourceRef) pair always maps to the same audio id, so redelivered
// ingestion events collapse onto one record.
var audioIDNamespace = uuid.MustParse("9f2c1a44-6c1e-4f1b-9a63-5f20c9e4a7d1")

func AudioIDFor(caseID, sourceRef string) string {
	return uuid.NewSHA1(audioIDNamespace, []byte(caseID+"\x00"+sourceRef)).String()
}

// AudioRecord is one submitted interview audio file at one upload version.
// Rev is the optimistic-concurrency counter for the row itself and is
// unrelated to Version (which counts re-uploads of the same sourceRef).
type AudioRecord struct {
	AudioID     string     `gorm:"primaryKey;size:64" json:"audioId"`
	Version     int        `gorm:"primaryKey" json:"version"`
	CaseID      string     `gorm:"index;size:128" json:"caseId"`
	SourceRef   string     `gorm:"index;size:512" json:"sourceRef"`
	FileName    string     `gorm:"size:256" json:"fileName,omitempty"`
	ContentType string     `gorm:"size:128" json:"contentType,omitempty"`
	SizeBytes   int64      `json:"sizeBytes,omitempty"`
	Status      ExecStatus `gorm:"size:24;index" json:"status"`

	// Populated on StatusFailed only.
	FailureStage  string `gorm:"size:32" json:"failureStage,omitempty"`
	FailureReason string `json:"failureReason,omitempty"`

	// StageResults maps stage name -> StageResultRef.
	StageResults datatypes.JSON `json:"stageResults,omitempty"`

	Rev       int64     `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StageResultRef points at a stage's persisted artifact.
type StageResultRef struct {
	Ref         string    `json:"ref"`
	CompletedAt time.Time `json:"completedAt"`
}

func (r *AudioRecord) Results() map[string]StageResultRef {
	out := map[string]StageResultRef{}
	if len(r.StageResults) == 0 {
		return out
	}
	_ = json.Unmarshal(r.StageResults, &out)
	return out
}

func (r *AudioRecord) SetResult(stageName string, ref StageResultRef) {
	m := r.Results()
	m[stageName] = ref
	b, _ := json.Marshal(m)
	r.StageResults = datatypes.JSON(b)
}
