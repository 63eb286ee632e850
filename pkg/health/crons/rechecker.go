package crons

import (
	"context"
	"time"

	"github.com/golangci/repohealth/internal/shared/logutil"
	"github.com/golangci/repohealth/pkg/health/orchestrator"
	"github.com/golangci/repohealth/pkg/health/runstore"
	"github.com/pkg/errors"
)

type AnalysisRequester interface {
	RequestAnalysis(ctx context.Context, owner, project string) (*orchestrator.RunHandle, error)
}

// Rechecker requests new analyses of repositories whose assessments left the freshness window.
type Rechecker struct {
	Store     runstore.Store
	Requester AnalysisRequester
	Log       logutil.Log
	Window    time.Duration
	Interval  time.Duration
	BatchSize int

	now func() time.Time
}

func (r Rechecker) Run(ctx context.Context) {
	t := time.NewTicker(r.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := r.runIteration(ctx); err != nil {
				r.Log.Warnf("Can't run iteration of rechecking of stale repos: %s", err)
			}
		}
	}
}

func (r Rechecker) runIteration(ctx context.Context) error {
	now := time.Now()
	if r.now != nil {
		now = r.now()
	}

	keys, err := r.Store.ListStaleRepositories(ctx, now.Add(-r.Window), r.BatchSize)
	if err != nil {
		return errors.Wrap(err, "can't get stale repos")
	}

	for _, key := range keys {
		h, err := r.Requester.RequestAnalysis(ctx, key.Owner, key.Project)
		if err != nil {
			r.Log.Warnf("Can't request analysis of stale repo %s: %s", key, err)
			continue
		}

		r.Log.Infof("Requested analysis of stale repo %s: %s run %q", key, h.State, h.RunID)
	}

	return nil
}
