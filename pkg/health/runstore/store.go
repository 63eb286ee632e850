// Package runstore persists analysis runs. Runs are never deleted and terminal
// runs are never mutated.
package runstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/golangci/repohealth/pkg/health/models"
	"github.com/pkg/errors"
)

var (
	ErrNotFound = errors.New("analysis run not found")
	// ErrConflict is returned by UpdateRun when the run is terminal or its lock token differs.
	ErrConflict = errors.New("analysis run was changed concurrently")
)

type Store interface {
	CreateRun(ctx context.Context, key models.RepositoryKey, lockToken string, startedAt time.Time) (*models.AnalysisRun, error)
	GetRun(ctx context.Context, id string) (*models.AnalysisRun, error)
	// GetLatestRun selects by startedAt, returns nil if the repository was never analyzed.
	GetLatestRun(ctx context.Context, key models.RepositoryKey) (*models.AnalysisRun, error)
	// UpdateRun applies patch only if the run is in flight and holds expectedLockToken.
	UpdateRun(ctx context.Context, id, expectedLockToken string, patch Patch) (*models.AnalysisRun, error)

	ListRecent(ctx context.Context, limit int) ([]models.AnalysisRun, error)
	// ListUnfinished returns in-flight runs without progress since the given time.
	ListUnfinished(ctx context.Context, updatedBefore time.Time) ([]models.AnalysisRun, error)
	// ListStaleRepositories returns analyzed repositories without runs started since the given time.
	ListStaleRepositories(ctx context.Context, startedBefore time.Time, limit int) ([]models.RepositoryKey, error)
}

// Patch lists changed fields, nil fields are kept.
type Patch struct {
	Status        *models.RunStatus
	Step          *models.RunStep
	CompletedAt   *time.Time
	Metrics       *models.MetricsPayload
	Category      *models.RiskCategory
	Score         *float64
	FailReason    *string
	AttemptNumber *int
}

func StatusPatch(status models.RunStatus, step models.RunStep) Patch {
	return Patch{Status: &status, Step: &step}
}

func SucceededPatch(completedAt time.Time, m models.MetricsPayload, category models.RiskCategory, score float64) Patch {
	p := StatusPatch(models.RunStatusSucceeded, models.RunStepPersisted)
	p.CompletedAt = &completedAt
	p.Metrics = &m
	p.Category = &category
	p.Score = &score
	return p
}

func FailedPatch(completedAt time.Time, reason string) Patch {
	p := StatusPatch(models.RunStatusFailed, models.RunStepFailed)
	p.CompletedAt = &completedAt
	p.FailReason = &reason
	return p
}

func (p Patch) validate() error {
	terminal := p.Status != nil && p.Status.IsTerminal()
	if terminal != (p.CompletedAt != nil) {
		return errors.New("completedAt must be set iff status is terminal")
	}

	hasResult := p.Metrics != nil || p.Category != nil || p.Score != nil
	if hasResult && (p.Status == nil || *p.Status != models.RunStatusSucceeded) {
		return errors.New("result can be set only for succeeded runs")
	}
	if p.Status != nil && *p.Status == models.RunStatusSucceeded &&
		(p.Metrics == nil || p.Category == nil || p.Score == nil) {
		return errors.New("succeeded run must have a complete result")
	}

	return nil
}

// columns returns changed columns of the patch.
func (p Patch) columns() (map[string]interface{}, error) {
	if err := p.validate(); err != nil {
		return nil, errors.Wrap(err, "invalid patch")
	}

	cols := map[string]interface{}{}
	if p.Status != nil {
		cols["status"] = *p.Status
		if p.Status.IsTerminal() {
			cols["lock_token"] = ""
		}
	}
	if p.Step != nil {
		cols["step"] = *p.Step
	}
	if p.CompletedAt != nil {
		cols["completed_at"] = *p.CompletedAt
	}
	if p.Metrics != nil {
		metricsJSON, err := json.Marshal(p.Metrics)
		if err != nil {
			return nil, errors.Wrap(err, "can't marshal metrics")
		}
		cols["metrics_json"] = metricsJSON
	}
	if p.Category != nil {
		cols["category"] = *p.Category
	}
	if p.Score != nil {
		cols["score"] = *p.Score
	}
	if p.FailReason != nil {
		cols["fail_reason"] = *p.FailReason
	}
	if p.AttemptNumber != nil {
		cols["attempt_number"] = *p.AttemptNumber
	}

	return cols, nil
}

func (p Patch) apply(run *models.AnalysisRun) error {
	cols, err := p.columns()
	if err != nil {
		return err
	}

	if p.Status != nil {
		run.Status = *p.Status
		if _, ok := cols["lock_token"]; ok {
			run.LockToken = ""
		}
	}
	if p.Step != nil {
		run.Step = *p.Step
	}
	if p.CompletedAt != nil {
		completedAt := *p.CompletedAt
		run.CompletedAt = &completedAt
	}
	if v, ok := cols["metrics_json"]; ok {
		run.MetricsJSON = v.([]byte)
	}
	if p.Category != nil {
		run.Category = *p.Category
	}
	if p.Score != nil {
		score := *p.Score
		run.Score = &score
	}
	if p.FailReason != nil {
		run.FailReason = *p.FailReason
	}
	if p.AttemptNumber != nil {
		run.AttemptNumber = *p.AttemptNumber
	}

	return nil
}
