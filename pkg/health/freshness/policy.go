// Package freshness decides whether a stored assessment may still be used.
package freshness

import (
	"time"

	"github.com/golangci/repohealth/pkg/health/models"
)

const DefaultWindow = 7 * 24 * time.Hour

type Policy struct {
	Window time.Duration
}

func NewPolicy(window time.Duration) Policy {
	return Policy{Window: window}
}

// Timestamp is the moment an assessment refers to: completion time, or start time
// of a run that hasn't completed.
func Timestamp(run *models.AnalysisRun) time.Time {
	if run == nil {
		return time.Time{}
	}
	if run.CompletedAt != nil && !run.CompletedAt.IsZero() {
		return *run.CompletedAt
	}
	return run.StartedAt
}

// IsFresh never fails: no run or no timestamps means not fresh.
func (p Policy) IsFresh(run *models.AnalysisRun, now time.Time) bool {
	ts := Timestamp(run)
	if ts.IsZero() {
		return false
	}

	return now.Sub(ts) < p.Window
}
