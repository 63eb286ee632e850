package health

import (
	"context"
	"time"

	"github.com/golangci/repohealth/internal/api/apierrors"
	"github.com/golangci/repohealth/pkg/api/request"
	"github.com/golangci/repohealth/pkg/health/classifier"
	"github.com/golangci/repohealth/pkg/health/freshness"
	"github.com/golangci/repohealth/pkg/health/invalidation"
	"github.com/golangci/repohealth/pkg/health/models"
	"github.com/golangci/repohealth/pkg/health/orchestrator"
	"github.com/golangci/repohealth/pkg/health/runlock"
	"github.com/golangci/repohealth/pkg/health/runstore"
	"github.com/golangci/repohealth/pkg/health/viewcache"
	"github.com/pkg/errors"
)

const (
	DefaultRecentLimit = 20
	maxRecentLimit     = 100
)

type Run struct {
	ID            string                `json:"id"`
	Repo          string                `json:"repo"`
	Status        models.RunStatus      `json:"status"`
	Step          models.RunStep        `json:"step"`
	StartedAt     time.Time             `json:"startedAt"`
	CompletedAt   *time.Time            `json:"completedAt,omitempty"`
	FailReason    string                `json:"failReason,omitempty"`
	AttemptNumber int                   `json:"attemptNumber"`
	Result        *models.RunResult     `json:"result,omitempty"`
	Breakdown     *classifier.Breakdown `json:"breakdown,omitempty"`
}

type AnalysisRequest struct {
	RunID string                   `json:"runId"`
	State orchestrator.HandleState `json:"state"`
	Run   *Run                     `json:"run,omitempty"`
}

// CacheInfo describes the cached view a response was built from.
type CacheInfo struct {
	State  freshness.CacheState
	MaxAge time.Duration
}

type ProjectHealth struct {
	Repo    string `json:"repo"`
	Latest  *Run   `json:"latest"`
	IsFresh bool   `json:"isFresh"`

	Cache CacheInfo `json:"-"`
}

type RecentAnalyses struct {
	Runs []Run `json:"runs"`

	Cache CacheInfo `json:"-"`
}

type AnalysisRequester interface {
	RequestAnalysis(ctx context.Context, owner, project string) (*orchestrator.RunHandle, error)
}

type Service interface {
	//url:/v1/repos/{owner}/{name}/health/analyses method:POST
	RequestAnalysis(rc *request.Context, repo *request.Repo) (*AnalysisRequest, error)

	//url:/v1/repos/{owner}/{name}/health
	GetProjectHealth(rc *request.Context, repo *request.Repo) (*ProjectHealth, error)

	//url:/v1/health/analyses/recent
	ListRecent(rc *request.Context, limit *request.Limit) (*RecentAnalyses, error)

	//url:/v1/health/analyses/{runid}
	GetRun(rc *request.Context, runID *request.RunID) (*Run, error)
}

type BasicService struct {
	Requester  AnalysisRequester
	Store      runstore.Store
	Views      *viewcache.ViewCache
	Policy     freshness.Policy
	Classifier *classifier.Classifier

	now func() time.Time
}

func (s BasicService) getNow() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func (s BasicService) buildRun(run *models.AnalysisRun) *Run {
	ret := &Run{
		ID:            run.ID,
		Repo:          run.RepositoryKey().String(),
		Status:        run.Status,
		Step:          run.Step,
		StartedAt:     run.StartedAt,
		CompletedAt:   run.CompletedAt,
		FailReason:    run.FailReason,
		AttemptNumber: run.AttemptNumber,
		Result:        run.Result(),
	}

	if ret.Result != nil {
		b := s.Classifier.Breakdown(ret.Result.Metrics)
		ret.Breakdown = &b
	}

	return ret
}

func (s BasicService) RequestAnalysis(rc *request.Context, repo *request.Repo) (*AnalysisRequest, error) {
	key, err := repo.Key()
	if err != nil {
		return nil, err
	}

	h, err := s.Requester.RequestAnalysis(rc.Ctx, key.Owner, key.Project)
	if err != nil {
		if errors.Cause(err) == runlock.ErrUnavailable {
			rc.Log.Warnf("Can't request analysis of %s: %s", key, err)
			return nil, apierrors.ErrServiceUnavailable
		}
		return nil, errors.Wrapf(err, "can't request analysis of %s", key)
	}

	ret := &AnalysisRequest{
		RunID: h.RunID,
		State: h.State,
	}
	if h.Run != nil {
		ret.Run = s.buildRun(h.Run)
	}

	rc.Log.Infof("Requested analysis of %s: %s run %q", key, h.State, h.RunID)
	return ret, nil
}

func (s BasicService) GetProjectHealth(rc *request.Context, repo *request.Repo) (*ProjectHealth, error) {
	key, err := repo.Key()
	if err != nil {
		return nil, err
	}

	var latest Run
	tags := []string{invalidation.ProjectTag(key)}
	res, err := s.Views.Get(rc.Ctx, "project/"+key.String(), tags, &latest, func(ctx context.Context) (interface{}, error) {
		run, err := s.Store.GetLatestRun(ctx, key)
		if err != nil {
			return nil, errors.Wrapf(err, "can't get latest run of %s", key)
		}
		if run == nil {
			return nil, errors.Wrapf(apierrors.ErrNotFound, "%s was never analyzed", key)
		}

		return s.buildRun(run), nil
	})
	if err != nil {
		return nil, err
	}

	isFresh := latest.Status == models.RunStatusSucceeded && s.Policy.IsFresh(&models.AnalysisRun{
		StartedAt:   latest.StartedAt,
		CompletedAt: latest.CompletedAt,
	}, s.getNow())

	return &ProjectHealth{
		Repo:    key.String(),
		Latest:  &latest,
		IsFresh: isFresh,
		Cache: CacheInfo{
			State:  res.State,
			MaxAge: s.Views.Bands().Stale,
		},
	}, nil
}

func (s BasicService) ListRecent(rc *request.Context, limit *request.Limit) (*RecentAnalyses, error) {
	// only the default page is cached
	if limit.Limit != 0 && limit.Limit != DefaultRecentLimit {
		if limit.Limit < 0 || limit.Limit > maxRecentLimit {
			return nil, errors.Wrapf(apierrors.ErrBadRequest, "limit must be in [1, %d]", maxRecentLimit)
		}

		runs, err := s.listRecent(rc.Ctx, limit.Limit)
		if err != nil {
			return nil, err
		}

		return &RecentAnalyses{
			Runs: runs,
			Cache: CacheInfo{
				State: freshness.CacheFresh,
			},
		}, nil
	}

	var runs []Run
	tags := []string{invalidation.RecentAnalysesTag}
	res, err := s.Views.Get(rc.Ctx, "recent", tags, &runs, func(ctx context.Context) (interface{}, error) {
		return s.listRecent(ctx, DefaultRecentLimit)
	})
	if err != nil {
		return nil, err
	}

	return &RecentAnalyses{
		Runs: runs,
		Cache: CacheInfo{
			State:  res.State,
			MaxAge: s.Views.Bands().Stale,
		},
	}, nil
}

func (s BasicService) listRecent(ctx context.Context, limit int) ([]Run, error) {
	runs, err := s.Store.ListRecent(ctx, limit)
	if err != nil {
		return nil, errors.Wrap(err, "can't list recent runs")
	}

	ret := []Run{}
	for i := range runs {
		ret = append(ret, *s.buildRun(&runs[i]))
	}

	return ret, nil
}

func (s BasicService) GetRun(rc *request.Context, runID *request.RunID) (*Run, error) {
	run, err := s.Store.GetRun(rc.Ctx, runID.RunID)
	if err != nil {
		if errors.Cause(err) == runstore.ErrNotFound {
			return nil, errors.Wrapf(apierrors.ErrNotFound, "no run %s", runID.RunID)
		}
		return nil, errors.Wrapf(err, "can't get run %s", runID.RunID)
	}

	return s.buildRun(run), nil
}
