package models

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed
}

func (s RunStatus) IsInFlight() bool {
	return s == RunStatusPending || s == RunStatusRunning
}

// RunStep is the last completed step of the analysis workflow.
// It's persisted so a crashed execution resumes from it.
type RunStep string

const (
	RunStepLockAcquired   RunStep = "lock_acquired"
	RunStepMetricsFetched RunStep = "metrics_fetched"
	RunStepClassified     RunStep = "classified"
	RunStepPersisted      RunStep = "persisted"
	RunStepFailed         RunStep = "failed"
)

const (
	FailReasonMetricsUnavailable = "metrics-unavailable"
	FailReasonLockLost           = "lock-lost"
	FailReasonScheduleFailed     = "schedule-failed"

	// FailReasonAttemptsExhausted is set by the restarter to runs no execution has finished.
	FailReasonAttemptsExhausted = "attempts-exhausted"
)

type AnalysisRun struct {
	ID      string `gorm:"primary_key"`
	Owner   string
	Project string

	Status      RunStatus
	Step        RunStep
	StartedAt   time.Time
	CompletedAt *time.Time

	// LockToken fences writes: empty once the run is terminal.
	LockToken string `json:"-"`

	MetricsJSON []byte `gorm:"column:metrics_json" json:"-"`
	Category    RiskCategory
	Score       *float64

	FailReason    string
	AttemptNumber int

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (AnalysisRun) TableName() string {
	return "analysis_runs"
}

func (r AnalysisRun) RepositoryKey() RepositoryKey {
	return RepositoryKey{Owner: r.Owner, Project: r.Project}
}

func (r AnalysisRun) Metrics() (*MetricsPayload, error) {
	if len(r.MetricsJSON) == 0 {
		return nil, nil
	}

	var m MetricsPayload
	if err := json.Unmarshal(r.MetricsJSON, &m); err != nil {
		return nil, errors.Wrapf(err, "can't unmarshal metrics of run %s", r.ID)
	}

	return &m, nil
}

// Result is present only for succeeded runs.
func (r AnalysisRun) Result() *RunResult {
	if r.Status != RunStatusSucceeded || r.Score == nil {
		return nil
	}

	m, err := r.Metrics()
	if err != nil || m == nil {
		return nil
	}

	return &RunResult{
		Metrics:  *m,
		Category: r.Category,
		Score:    *r.Score,
	}
}

type RunResult struct {
	Metrics  MetricsPayload `json:"metrics"`
	Category RiskCategory   `json:"category"`
	Score    float64        `json:"score"`
}
