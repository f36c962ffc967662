package domain

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// CaseAggregate is the cross-interview inconsistency result for one case.
// Generation is the optimistic-concurrency guard: a recomputation commits
// only if no higher generation landed first.
type CaseAggregate struct {
	CaseID         string         `gorm:"primaryKey;size:128" json:"caseId"`
	Generation     int64          `json:"generation"`
	MemberAudioIDs datatypes.JSON `json:"memberAudioIds"`
	Report         datatypes.JSON `json:"report"`
	ComputedAt     time.Time      `json:"computedAt"`
}

func (a *CaseAggregate) Members() []string {
	var out []string
	if len(a.MemberAudioIDs) > 0 {
		_ = json.Unmarshal(a.MemberAudioIDs, &out)
	}
	return out
}

func (a *CaseAggregate) SetMembers(ids []string) {
	b, _ := json.Marshal(ids)
	a.MemberAudioIDs = datatypes.JSON(b)
}

func (a *CaseAggregate) InconsistencyReport() (*InconsistencyReport, error) {
	rep := &InconsistencyReport{}
	if len(a.Report) == 0 {
		return rep, nil
	}
	if err := json.Unmarshal(a.Report, rep); err != nil {
		return nil, err
	}
	return rep, nil
}

func (a *CaseAggregate) SetReport(rep *InconsistencyReport) {
	b, _ := json.Marshal(rep)
	a.Report = datatypes.JSON(b)
}
