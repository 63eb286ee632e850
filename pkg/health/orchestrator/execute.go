package orchestrator

import (
	"context"
	"fmt"

	"github.com/golangci/repohealth/internal/shared/analytics"
	"github.com/golangci/repohealth/pkg/health/invalidation"
	"github.com/golangci/repohealth/pkg/health/models"
	"github.com/golangci/repohealth/pkg/health/runlock"
	"github.com/golangci/repohealth/pkg/health/runstore"
	"github.com/pkg/errors"
)

var errAlreadyPersisted = errors.New("run was already persisted")

type execution struct {
	run  *models.AnalysisRun
	lock *runlock.Handle

	metrics  *models.MetricsPayload
	category models.RiskCategory
	score    float64
}

// Execute drives the run to a terminal state resuming from its persisted step.
// It returns nil once the run is terminal, ErrLockLost when the run was fenced
// out and any other error when execution must be retried later.
func (o Orchestrator) Execute(ctx context.Context, runID string) error {
	storeCtx, cancel := o.storeCtx(ctx)
	run, err := o.store.GetRun(storeCtx, runID)
	cancel()
	if err != nil {
		return errors.Wrapf(err, "can't get run %s", runID)
	}

	if run.Status.IsTerminal() {
		o.log.Infof("Run %s is already %s, nothing to execute", run.ID, run.Status)
		return nil
	}

	e := &execution{
		run:  run,
		lock: o.locker.Attach(run.RepositoryKey(), run.LockToken),
	}

	err = o.execute(ctx, e)
	if err == errAlreadyPersisted {
		return nil
	}

	return err
}

func (o Orchestrator) execute(ctx context.Context, e *execution) error {
	if err := o.renewLock(ctx, e); err != nil {
		return err
	}

	if e.run.Status == models.RunStatusPending {
		if err := o.advance(ctx, e, runstore.StatusPatch(models.RunStatusRunning, e.run.Step)); err != nil {
			return err
		}
	}

	return o.processSteps(ctx, e)
}

func (o Orchestrator) processSteps(ctx context.Context, e *execution) error {
	for {
		o.log.Infof("Run %s: handling step %s", e.run.ID, e.run.Step)
		switch e.run.Step {
		case models.RunStepLockAcquired:
			if err := o.fetchMetrics(ctx, e); err != nil {
				return err
			}
			if e.run.Status.IsTerminal() {
				return nil
			}
		case models.RunStepMetricsFetched, models.RunStepClassified:
			if e.metrics == nil {
				// results are stored only by the terminal update: fetch again
				e.run.Step = models.RunStepLockAcquired
				continue
			}

			var err error
			if e.run.Step == models.RunStepMetricsFetched {
				err = o.classify(ctx, e)
			} else {
				err = o.persist(ctx, e)
			}
			if err != nil {
				return err
			}
		case models.RunStepPersisted:
			o.complete(ctx, e)
			return nil
		default:
			return fmt.Errorf("invalid step %s of run %s", e.run.Step, e.run.ID)
		}
	}
}

func (o Orchestrator) fetchMetrics(ctx context.Context, e *execution) error {
	key := e.run.RepositoryKey()
	m, err := o.provider.FetchMetrics(ctx, key)
	if err != nil {
		if ctx.Err() != nil {
			return errors.Wrapf(ctx.Err(), "fetching metrics for run %s was interrupted", e.run.ID)
		}

		o.log.Warnf("Can't fetch metrics of %s for run %s: %s", key, e.run.ID, err)
		return o.finishFailed(ctx, e, models.FailReasonMetricsUnavailable)
	}

	e.metrics = m
	return o.advance(ctx, e, runstore.StatusPatch(models.RunStatusRunning, models.RunStepMetricsFetched))
}

func (o Orchestrator) classify(ctx context.Context, e *execution) error {
	e.category, e.score = o.classifier.Classify(*e.metrics)
	return o.advance(ctx, e, runstore.StatusPatch(models.RunStatusRunning, models.RunStepClassified))
}

func (o Orchestrator) persist(ctx context.Context, e *execution) error {
	if err := o.renewLock(ctx, e); err != nil {
		return err
	}

	patch := runstore.SucceededPatch(o.now(), *e.metrics, e.category, e.score)
	return o.advance(ctx, e, patch)
}

func (o Orchestrator) complete(ctx context.Context, e *execution) {
	key := e.run.RepositoryKey()

	o.invalidate(ctx, e.run, invalidation.TagsForRun(key)...)

	o.tracker.Track(ctx, analytics.EventRepoHealthAnalyzed, map[string]interface{}{
		"repoName": key.String(),
		"runId":    e.run.ID,
		"category": string(e.category),
		"score":    e.score,
	})

	o.releaseLock(e.lock)
	o.log.Infof("Run %s of %s succeeded: %s with score %.3f", e.run.ID, key, e.category, e.score)
}

func (o Orchestrator) finishFailed(ctx context.Context, e *execution, reason string) error {
	updated, err := o.failRun(ctx, e.run, reason)
	if err != nil {
		if errors.Cause(err) == runstore.ErrConflict {
			return o.resolveConflict(ctx, e)
		}
		return errors.Wrapf(err, "can't mark run %s as failed", e.run.ID)
	}

	e.run = updated
	o.invalidate(ctx, e.run, invalidation.ProjectTag(e.run.RepositoryKey()))
	o.releaseLock(e.lock)
	return nil
}

// advance persists the patch fenced by the run's lock token.
func (o Orchestrator) advance(ctx context.Context, e *execution, patch runstore.Patch) error {
	updated, err := o.updateRun(ctx, e.run, patch)
	if err != nil {
		if errors.Cause(err) == runstore.ErrConflict {
			return o.resolveConflict(ctx, e)
		}
		return errors.Wrapf(err, "can't update run %s", e.run.ID)
	}

	e.run = updated
	return nil
}

func (o Orchestrator) renewLock(ctx context.Context, e *execution) error {
	err := o.locker.Renew(e.lock)
	if err == nil {
		return nil
	}

	if errors.Cause(err) != runlock.ErrExpired {
		return errors.Wrapf(err, "can't renew lock of run %s", e.run.ID)
	}

	o.log.Warnf("Run %s of %s has lost its lock, aborting it", e.run.ID, e.run.RepositoryKey())
	_, err = o.failRun(ctx, e.run, models.FailReasonLockLost)
	if err != nil {
		if errors.Cause(err) == runstore.ErrConflict {
			return o.resolveConflict(ctx, e)
		}
		return errors.Wrapf(err, "can't mark run %s as lock-lost", e.run.ID)
	}

	o.invalidate(ctx, e.run, invalidation.ProjectTag(e.run.RepositoryKey()))
	return errors.Wrapf(ErrLockLost, "run %s", e.run.ID)
}

// resolveConflict tells a concurrent execution of the same run from a lost lock.
func (o Orchestrator) resolveConflict(ctx context.Context, e *execution) error {
	storeCtx, cancel := o.storeCtx(ctx)
	run, err := o.store.GetRun(storeCtx, e.run.ID)
	cancel()
	if err != nil {
		return errors.Wrapf(err, "can't reload run %s after conflict", e.run.ID)
	}

	if run.Status == models.RunStatusSucceeded {
		o.log.Infof("Run %s was already persisted by another execution", run.ID)
		return errAlreadyPersisted
	}

	o.log.Warnf("Run %s was fenced out: status %s, reason %q", run.ID, run.Status, run.FailReason)
	return errors.Wrapf(ErrLockLost, "run %s", run.ID)
}
