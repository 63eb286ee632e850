// Package orchestrator runs health analyses: it decides whether a repository needs
// a new analysis, serializes analyses per repository and drives every run to a
// terminal state.
package orchestrator

import (
	"context"
	"time"

	"github.com/golangci/repohealth/internal/shared/analytics"
	"github.com/golangci/repohealth/internal/shared/logutil"
	"github.com/golangci/repohealth/internal/shared/providers/implementations"
	"github.com/golangci/repohealth/internal/shared/providers/provider"
	"github.com/golangci/repohealth/pkg/health/classifier"
	"github.com/golangci/repohealth/pkg/health/freshness"
	"github.com/golangci/repohealth/pkg/health/invalidation"
	"github.com/golangci/repohealth/pkg/health/models"
	"github.com/golangci/repohealth/pkg/health/runlock"
	"github.com/golangci/repohealth/pkg/health/runstore"
	"github.com/golangci/repohealth/pkg/health/settings"
	"github.com/pkg/errors"
)

// ErrLockLost means the run was fenced out: its lock expired or was reclaimed.
var ErrLockLost = errors.New("analysis lock was lost")

type HandleState string

const (
	StateStarted    HandleState = "started"
	StateInProgress HandleState = "in-progress"
	StateFresh      HandleState = "fresh"
)

type RunHandle struct {
	// RunID can be empty for in-progress handles when the concurrent run isn't stored yet.
	RunID string              `json:"runId"`
	State HandleState         `json:"state"`
	Run   *models.AnalysisRun `json:"run,omitempty"`
}

// Scheduler hands a run to a worker which calls Execute.
type Scheduler interface {
	Put(runID string) error
}

type Orchestrator struct {
	store       runstore.Store
	locker      runlock.Locker
	provider    provider.MetricsProvider
	classifier  *classifier.Classifier
	invalidator invalidation.Gateway
	tracker     analytics.Tracker
	scheduler   Scheduler
	settings    settings.Settings
	policy      freshness.Policy
	log         logutil.Log
	now         func() time.Time
}

func New(store runstore.Store, locker runlock.Locker, p provider.MetricsProvider, c *classifier.Classifier,
	invalidator invalidation.Gateway, tracker analytics.Tracker, scheduler Scheduler,
	s settings.Settings, log logutil.Log) *Orchestrator {

	return &Orchestrator{
		store:       store,
		locker:      locker,
		provider:    implementations.NewStableProvider(p, s.RetryConfig(), log),
		classifier:  c,
		invalidator: invalidator,
		tracker:     tracker,
		scheduler:   scheduler,
		settings:    s,
		policy:      s.FreshnessPolicy(),
		log:         log,
		now:         time.Now,
	}
}

func (o Orchestrator) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.settings.StoreTimeout)
}

func (o Orchestrator) getLatestRun(ctx context.Context, key models.RepositoryKey) (*models.AnalysisRun, error) {
	ctx, cancel := o.storeCtx(ctx)
	defer cancel()

	run, err := o.store.GetLatestRun(ctx, key)
	if err != nil {
		return nil, errors.Wrapf(err, "can't get latest run of %s", key)
	}

	return run, nil
}

// RequestAnalysis returns a fresh assessment, the in-flight run or a newly started run.
// A concurrent request for the same repository is not an error.
func (o Orchestrator) RequestAnalysis(ctx context.Context, owner, project string) (*RunHandle, error) {
	key, err := models.NewRepositoryKey(owner, project)
	if err != nil {
		return nil, err
	}

	latest, err := o.getLatestRun(ctx, key)
	if err != nil {
		return nil, err
	}

	if latest != nil && latest.Status == models.RunStatusSucceeded && o.policy.IsFresh(latest, o.now()) {
		return &RunHandle{
			RunID: latest.ID,
			State: StateFresh,
			Run:   latest,
		}, nil
	}

	h, err := o.locker.Acquire(key)
	if err != nil {
		if errors.Cause(err) == runlock.ErrBusy {
			return o.inProgressHandle(ctx, key, latest)
		}
		return nil, errors.Wrapf(err, "can't acquire lock of %s", key)
	}

	if latest != nil && latest.Status.IsInFlight() {
		o.failAbandonedRun(ctx, latest)
	}

	return o.startRun(ctx, key, h)
}

func (o Orchestrator) inProgressHandle(ctx context.Context, key models.RepositoryKey,
	latest *models.AnalysisRun) (*RunHandle, error) {

	if latest == nil || !latest.Status.IsInFlight() {
		// the lock holder could have stored its run after our first read
		var err error
		if latest, err = o.getLatestRun(ctx, key); err != nil {
			return nil, err
		}
	}

	ret := &RunHandle{
		State: StateInProgress,
	}
	if latest != nil && latest.Status.IsInFlight() {
		ret.RunID = latest.ID
		ret.Run = latest
	}

	o.log.Infof("Analysis of %s is already in progress (run %q)", key, ret.RunID)
	return ret, nil
}

// failAbandonedRun fences out an in-flight run whose lock has expired, so that
// it doesn't stay running next to the run started instead of it.
func (o Orchestrator) failAbandonedRun(ctx context.Context, run *models.AnalysisRun) {
	o.log.Infof("Run %s of %s has lost its lock, starting a new run", run.ID, run.RepositoryKey())

	if _, err := o.failRun(ctx, run, models.FailReasonLockLost); err != nil {
		if errors.Cause(err) == runstore.ErrConflict {
			o.log.Infof("Run %s was finished concurrently", run.ID)
			return
		}
		o.log.Warnf("Can't mark abandoned run %s as lock-lost: %s", run.ID, err)
	}
}

func (o Orchestrator) startRun(ctx context.Context, key models.RepositoryKey, h *runlock.Handle) (*RunHandle, error) {
	storeCtx, cancel := o.storeCtx(ctx)
	defer cancel()

	run, err := o.store.CreateRun(storeCtx, key, h.Token, o.now())
	if err != nil {
		o.releaseLock(h)
		return nil, errors.Wrapf(err, "can't create run of %s", key)
	}

	o.invalidate(ctx, run, invalidation.ProjectTag(key))

	if err = o.scheduler.Put(run.ID); err != nil {
		o.log.Warnf("Can't schedule run %s of %s: %s", run.ID, key, err)
		if _, failErr := o.failRun(ctx, run, models.FailReasonScheduleFailed); failErr != nil {
			o.log.Warnf("Can't mark run %s as failed: %s", run.ID, failErr)
		} else {
			o.invalidate(ctx, run, invalidation.ProjectTag(key))
		}
		o.releaseLock(h)
		return nil, errors.Wrapf(err, "can't schedule run %s", run.ID)
	}

	o.log.Infof("Started analysis run %s of %s", run.ID, key)
	return &RunHandle{
		RunID: run.ID,
		State: StateStarted,
		Run:   run,
	}, nil
}

func (o Orchestrator) releaseLock(h *runlock.Handle) {
	if err := o.locker.Release(h); err != nil {
		o.log.Warnf("Can't release lock of %s: %s", h.Key, err)
	}
}

func (o Orchestrator) updateRun(ctx context.Context, run *models.AnalysisRun, patch runstore.Patch) (*models.AnalysisRun, error) {
	ctx, cancel := o.storeCtx(ctx)
	defer cancel()

	return o.store.UpdateRun(ctx, run.ID, run.LockToken, patch)
}

func (o Orchestrator) failRun(ctx context.Context, run *models.AnalysisRun, reason string) (*models.AnalysisRun, error) {
	return o.updateRun(ctx, run, runstore.FailedPatch(o.now(), reason))
}

// invalidate drops cached views showing the run, failures are only logged.
func (o Orchestrator) invalidate(ctx context.Context, run *models.AnalysisRun, tags ...string) {
	ctx, cancel := context.WithTimeout(ctx, o.settings.InvalidateTimeout)
	defer cancel()

	if err := o.invalidator.Invalidate(ctx, tags); err != nil {
		o.log.Warnf("Can't invalidate cache of %s after run %s: %s", run.RepositoryKey(), run.ID, err)
	}
}
