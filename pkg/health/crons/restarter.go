// Package crons holds periodic maintenance jobs of analysis runs.
package crons

import (
	"context"
	"math"
	"time"

	"github.com/golangci/repohealth/internal/shared/logutil"
	"github.com/golangci/repohealth/pkg/health/invalidation"
	"github.com/golangci/repohealth/pkg/health/models"
	"github.com/golangci/repohealth/pkg/health/orchestrator"
	"github.com/golangci/repohealth/pkg/health/runstore"
	"github.com/pkg/errors"
)

const maxAttemptsCount = 3

// Restarter resends to the queue runs whose executions were lost: a run without
// progress for longer than the lock ttl has no live executor.
type Restarter struct {
	Store   runstore.Store
	Queue   orchestrator.Scheduler
	Log     logutil.Log
	LockTTL time.Duration

	// Invalidator is optional.
	Invalidator invalidation.Gateway

	now func() time.Time
}

func (r Restarter) getNow() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now()
}

func (r Restarter) Run(ctx context.Context) {
	t := time.NewTicker(r.LockTTL / 2)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := r.runIteration(ctx); err != nil {
				r.Log.Warnf("Can't run iteration of restarting of analysis runs: %s", err)
			}
		}
	}
}

func (r Restarter) getNextRetryTime(run *models.AnalysisRun) time.Time {
	const maxRetryInterval = time.Hour * 24

	// 1 => 2**1 = 2 => 1 ttl
	// 2 => 2**2 = 4 => 2 ttl
	// 3 => 2**3 = 8 => 4 ttl

	retryInterval := r.LockTTL * time.Duration(math.Exp2(float64(run.AttemptNumber))) / 2
	if retryInterval > maxRetryInterval {
		retryInterval = maxRetryInterval
	}

	return run.UpdatedAt.Add(retryInterval)
}

func (r Restarter) runIteration(ctx context.Context) error {
	now := r.getNow()
	runs, err := r.Store.ListUnfinished(ctx, now.Add(-r.LockTTL))
	if err != nil {
		return errors.Wrap(err, "can't get unfinished runs")
	}

	for i := range runs {
		run := &runs[i]
		if run.AttemptNumber >= maxAttemptsCount {
			r.giveUp(ctx, run, now)
			continue
		}

		if r.getNextRetryTime(run).After(now) {
			continue
		}

		attemptNumber := run.AttemptNumber + 1
		_, err = r.Store.UpdateRun(ctx, run.ID, run.LockToken, runstore.Patch{AttemptNumber: &attemptNumber})
		if err != nil {
			if errors.Cause(err) == runstore.ErrConflict {
				r.Log.Infof("Run %s was finished while restarting it", run.ID)
				continue
			}
			return errors.Wrapf(err, "can't update attempt number of run %s", run.ID)
		}

		if err = r.Queue.Put(run.ID); err != nil {
			return errors.Wrapf(err, "can't resend run %s into queue", run.ID)
		}

		r.Log.Warnf("Restarted analysis run %s of %s in status %s with %d-th attempt",
			run.ID, run.RepositoryKey(), run.Status, attemptNumber)
	}

	return nil
}

func (r Restarter) giveUp(ctx context.Context, run *models.AnalysisRun, now time.Time) {
	if r.getNextRetryTime(run).After(now) {
		return // the last attempt can still be running
	}

	_, err := r.Store.UpdateRun(ctx, run.ID, run.LockToken,
		runstore.FailedPatch(now, models.FailReasonAttemptsExhausted))
	if err != nil {
		if errors.Cause(err) != runstore.ErrConflict {
			r.Log.Warnf("Can't mark run %s as failed after %d attempts: %s", run.ID, run.AttemptNumber, err)
		}
		return
	}

	if r.Invalidator != nil {
		tags := []string{invalidation.ProjectTag(run.RepositoryKey())}
		if err = r.Invalidator.Invalidate(ctx, tags); err != nil {
			r.Log.Warnf("Can't invalidate cache of run %s: %s", run.ID, err)
		}
	}

	r.Log.Warnf("Gave up on analysis run %s of %s after %d attempts", run.ID, run.RepositoryKey(), run.AttemptNumber)
}
