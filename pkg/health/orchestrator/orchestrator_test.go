package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/garyburd/redigo/redis"
	"github.com/golang/mock/gomock"
	"github.com/golangci/repohealth/internal/shared/analytics"
	"github.com/golangci/repohealth/internal/shared/logutil"
	"github.com/golangci/repohealth/internal/shared/providers/provider"
	"github.com/golangci/repohealth/pkg/health/classifier"
	"github.com/golangci/repohealth/pkg/health/invalidation"
	"github.com/golangci/repohealth/pkg/health/models"
	"github.com/golangci/repohealth/pkg/health/runlock"
	"github.com/golangci/repohealth/pkg/health/runstore"
	"github.com/golangci/repohealth/pkg/health/settings"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	anyArg  = gomock.Any()
	testKey = models.RepositoryKey{Owner: "golangci", Project: "golangci-lint"}
)

const lockTTL = time.Minute

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingScheduler struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (s *recordingScheduler) Put(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.ids = append(s.ids, runID)
	return nil
}

type recordingGateway struct {
	mu   sync.Mutex
	tags [][]string
	err  error
}

func (g *recordingGateway) Invalidate(ctx context.Context, tags []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tags = append(g.tags, tags)
	return g.err
}

func (g *recordingGateway) invalidatedRecent() bool {
	for _, tags := range g.tags {
		for _, tag := range tags {
			if tag == invalidation.RecentAnalysesTag {
				return true
			}
		}
	}
	return false
}

type recordingTracker struct {
	events []map[string]interface{}
}

func (t *recordingTracker) Track(ctx context.Context, event analytics.EventName, props map[string]interface{}) {
	t.events = append(t.events, props)
}

type testEnv struct {
	orch      *Orchestrator
	store     *runstore.MemoryStore
	lock      *runlock.Redis
	mr        *miniredis.Miniredis
	provider  *provider.MockMetricsProvider
	scheduler *recordingScheduler
	gateway   *recordingGateway
	tracker   *recordingTracker
	clock     *clock
	settings  settings.Settings
}

func newTestEnv(t *testing.T) *testEnv {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	pool := &redis.Pool{
		MaxIdle:   10,
		MaxActive: 100,
		Wait:      true,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", addr)
		},
	}
	t.Cleanup(func() { pool.Close() })

	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	s := settings.Default()
	s.LockTTL = lockTTL
	s.FetchBaseDelay = time.Millisecond
	s.FetchMaxDelay = 2 * time.Millisecond
	s.FetchTimeout = time.Second

	env := &testEnv{
		clock:     &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		lock:      runlock.NewRedis(pool, lockTTL),
		mr:        mr,
		provider:  provider.NewMockMetricsProvider(ctrl),
		scheduler: &recordingScheduler{},
		gateway:   &recordingGateway{},
		tracker:   &recordingTracker{},
		settings:  s,
	}
	env.store = runstore.NewMemoryStore(env.clock.now)
	env.useStore(env.store)
	return env
}

func (env *testEnv) useStore(store runstore.Store) {
	env.orch = New(store, env.lock, env.provider, classifier.Default(), env.gateway, env.tracker,
		env.scheduler, env.settings, logutil.NewStderrLog("test"))
	env.orch.now = env.clock.now
}

// flakyStore times out the first update storing a run result.
type flakyStore struct {
	runstore.Store
	failed bool
}

func (s *flakyStore) UpdateRun(ctx context.Context, id, expectedLockToken string,
	patch runstore.Patch) (*models.AnalysisRun, error) {

	if !s.failed && patch.Status != nil && *patch.Status == models.RunStatusSucceeded {
		s.failed = true
		return nil, errors.New("store timeout")
	}

	return s.Store.UpdateRun(ctx, id, expectedLockToken, patch)
}

func (env *testEnv) getRun(t *testing.T, id string) *models.AnalysisRun {
	run, err := env.store.GetRun(context.Background(), id)
	require.NoError(t, err)
	return run
}

func (env *testEnv) holder(t *testing.T) string {
	token, err := env.lock.Holder(testKey)
	require.NoError(t, err)
	return token
}

func healthyPayload() *models.MetricsPayload {
	return &models.MetricsPayload{
		DaysSinceLastCommit:       models.IntPtr(10),
		CommitsLast90Days:         models.IntPtr(40),
		DaysSinceLastRelease:      models.IntPtr(60),
		OpenIssuesPercent:         models.FloatPtr(0.05),
		MedianIssueResolutionDays: models.FloatPtr(5),
		OpenPRsCount:              models.IntPtr(2),
	}
}

func TestRequestAnalysisStartsRun(t *testing.T) {
	env := newTestEnv(t)

	h, err := env.orch.RequestAnalysis(context.Background(), " GolangCI ", "golangci-lint")
	require.NoError(t, err)
	assert.Equal(t, StateStarted, h.State)
	assert.Equal(t, []string{h.RunID}, env.scheduler.ids)

	run := env.getRun(t, h.RunID)
	assert.Equal(t, testKey, run.RepositoryKey())
	assert.Equal(t, models.RunStatusPending, run.Status)
	assert.Equal(t, env.clock.now(), run.StartedAt)
	assert.Equal(t, env.holder(t), run.LockToken)

	h2, err := env.orch.RequestAnalysis(context.Background(), "golangci", "golangci-lint")
	require.NoError(t, err)
	assert.Equal(t, StateInProgress, h2.State)
	assert.Equal(t, h.RunID, h2.RunID)
	assert.Len(t, env.scheduler.ids, 1)
}

func TestRequestAnalysisRejectsInvalidRepository(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.orch.RequestAnalysis(context.Background(), "", "golangci-lint")
	assert.Error(t, err)
	assert.Empty(t, env.scheduler.ids)
}

func TestConcurrentRequestsStartSingleRun(t *testing.T) {
	env := newTestEnv(t)

	const n = 10
	handles := make([]*RunHandle, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := env.orch.RequestAnalysis(context.Background(), testKey.Owner, testKey.Project)
			assert.NoError(t, err)
			handles[i] = h
		}(i)
	}
	wg.Wait()

	var started []*RunHandle
	inProgress := 0
	for _, h := range handles {
		require.NotNil(t, h)
		switch h.State {
		case StateStarted:
			started = append(started, h)
		case StateInProgress:
			inProgress++
		}
	}
	require.Len(t, started, 1)
	assert.Equal(t, n-1, inProgress)
	assert.Equal(t, []string{started[0].RunID}, env.scheduler.ids)

	for _, h := range handles {
		if h.State == StateInProgress && h.RunID != "" {
			assert.Equal(t, started[0].RunID, h.RunID)
		}
	}
}

func TestExecuteHealthyRepository(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	h, err := env.orch.RequestAnalysis(ctx, testKey.Owner, testKey.Project)
	require.NoError(t, err)

	env.provider.EXPECT().FetchMetrics(anyArg, testKey).Return(healthyPayload(), nil)
	require.NoError(t, env.orch.Execute(ctx, h.RunID))

	run := env.getRun(t, h.RunID)
	assert.Equal(t, models.RunStatusSucceeded, run.Status)
	assert.Equal(t, models.RunStepPersisted, run.Step)
	assert.Empty(t, run.LockToken)
	require.NotNil(t, run.CompletedAt)

	res := run.Result()
	require.NotNil(t, res)
	assert.Equal(t, models.RiskHealthy, res.Category)
	assert.InDelta(t, 0.981, res.Score, 1e-9)
	assert.Equal(t, *healthyPayload(), res.Metrics)

	projectTag := "project/golangci/golangci-lint"
	assert.Equal(t, [][]string{{projectTag}, {projectTag, invalidation.RecentAnalysesTag}}, env.gateway.tags)
	require.Len(t, env.tracker.events, 1)
	assert.Equal(t, "healthy", env.tracker.events[0]["category"])
	assert.Empty(t, env.holder(t))
}

func TestExecuteModerateRepository(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	h, err := env.orch.RequestAnalysis(ctx, testKey.Owner, testKey.Project)
	require.NoError(t, err)

	env.provider.EXPECT().FetchMetrics(anyArg, testKey).Return(&models.MetricsPayload{OpenPRsCount: models.IntPtr(0)}, nil)
	require.NoError(t, env.orch.Execute(ctx, h.RunID))

	res := env.getRun(t, h.RunID).Result()
	require.NotNil(t, res)
	assert.Equal(t, models.RiskModerate, res.Category)
	assert.InDelta(t, 0.565, res.Score, 1e-9)
}

func TestFreshRunIsReused(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	h, err := env.orch.RequestAnalysis(ctx, testKey.Owner, testKey.Project)
	require.NoError(t, err)
	env.provider.EXPECT().FetchMetrics(anyArg, testKey).Return(healthyPayload(), nil)
	require.NoError(t, env.orch.Execute(ctx, h.RunID))

	env.clock.advance(6 * 24 * time.Hour)
	fresh, err := env.orch.RequestAnalysis(ctx, testKey.Owner, testKey.Project)
	require.NoError(t, err)
	assert.Equal(t, StateFresh, fresh.State)
	assert.Equal(t, h.RunID, fresh.RunID)
	assert.Len(t, env.scheduler.ids, 1)

	env.clock.advance(2 * 24 * time.Hour)
	next, err := env.orch.RequestAnalysis(ctx, testKey.Owner, testKey.Project)
	require.NoError(t, err)
	assert.Equal(t, StateStarted, next.State)
	assert.NotEqual(t, h.RunID, next.RunID)
	assert.Len(t, env.scheduler.ids, 2)
}

func TestExecuteIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	h, err := env.orch.RequestAnalysis(ctx, testKey.Owner, testKey.Project)
	require.NoError(t, err)

	env.provider.EXPECT().FetchMetrics(anyArg, testKey).Return(healthyPayload(), nil).Times(1)
	require.NoError(t, env.orch.Execute(ctx, h.RunID))
	persisted := env.getRun(t, h.RunID)

	env.clock.advance(time.Hour)
	require.NoError(t, env.orch.Execute(ctx, h.RunID))
	assert.Equal(t, persisted, env.getRun(t, h.RunID))
	assert.Len(t, env.tracker.events, 1)
}

func TestExecuteFailsAfterTransientErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	h, err := env.orch.RequestAnalysis(ctx, testKey.Owner, testKey.Project)
	require.NoError(t, err)

	env.provider.EXPECT().FetchMetrics(anyArg, testKey).
		Return(nil, provider.NewTransientError(errors.New("rate limited"))).Times(3)
	require.NoError(t, env.orch.Execute(ctx, h.RunID))

	run := env.getRun(t, h.RunID)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, models.RunStepFailed, run.Step)
	assert.Equal(t, models.FailReasonMetricsUnavailable, run.FailReason)
	assert.NotNil(t, run.CompletedAt)
	assert.Nil(t, run.Result())

	assert.Empty(t, env.holder(t))
	assert.Len(t, env.gateway.tags, 2)
	assert.False(t, env.gateway.invalidatedRecent())
	assert.Empty(t, env.tracker.events)
}

func TestExecuteFailsOnPermanentError(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	h, err := env.orch.RequestAnalysis(ctx, testKey.Owner, testKey.Project)
	require.NoError(t, err)

	env.provider.EXPECT().FetchMetrics(anyArg, testKey).Return(nil, errors.Wrap(provider.ErrNotFound, "no repo")).Times(1)
	require.NoError(t, env.orch.Execute(ctx, h.RunID))

	run := env.getRun(t, h.RunID)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, models.FailReasonMetricsUnavailable, run.FailReason)
	assert.Empty(t, env.holder(t))

	// a failed run doesn't block new requests
	h2, err := env.orch.RequestAnalysis(ctx, testKey.Owner, testKey.Project)
	require.NoError(t, err)
	assert.Equal(t, StateStarted, h2.State)
}

func TestInvalidationFailureDoesNotFailRun(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.gateway.err = errors.New("cache is down")

	h, err := env.orch.RequestAnalysis(ctx, testKey.Owner, testKey.Project)
	require.NoError(t, err)

	env.provider.EXPECT().FetchMetrics(anyArg, testKey).Return(healthyPayload(), nil)
	require.NoError(t, env.orch.Execute(ctx, h.RunID))

	assert.Equal(t, models.RunStatusSucceeded, env.getRun(t, h.RunID).Status)
	assert.Len(t, env.gateway.tags, 2)
	assert.Empty(t, env.holder(t))
}

func TestExpiredLockIsRecovered(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	h1, err := env.orch.RequestAnalysis(ctx, testKey.Owner, testKey.Project)
	require.NoError(t, err)

	// the executor of the first run crashed
	env.mr.FastForward(lockTTL + time.Second)
	env.clock.advance(lockTTL + time.Second)

	h2, err := env.orch.RequestAnalysis(ctx, testKey.Owner, testKey.Project)
	require.NoError(t, err)
	assert.Equal(t, StateStarted, h2.State)
	assert.NotEqual(t, h1.RunID, h2.RunID)

	// the abandoned run is failed right away: one running run per repository
	run1 := env.getRun(t, h1.RunID)
	assert.Equal(t, models.RunStatusFailed, run1.Status)
	assert.Equal(t, models.FailReasonLockLost, run1.FailReason)
	assert.NotNil(t, run1.CompletedAt)
	assert.Equal(t, models.RunStatusPending, env.getRun(t, h2.RunID).Status)

	// a late execution of the abandoned run is a no-op
	require.NoError(t, env.orch.Execute(ctx, h1.RunID))
	assert.Equal(t, run1, env.getRun(t, h1.RunID))
	assert.Equal(t, env.getRun(t, h2.RunID).LockToken, env.holder(t))

	env.provider.EXPECT().FetchMetrics(anyArg, testKey).Return(healthyPayload(), nil)
	require.NoError(t, env.orch.Execute(ctx, h2.RunID))
	assert.Equal(t, models.RunStatusSucceeded, env.getRun(t, h2.RunID).Status)
}

func TestStaleExecutorCantPersist(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	h1, err := env.orch.RequestAnalysis(ctx, testKey.Owner, testKey.Project)
	require.NoError(t, err)

	var h2 *RunHandle
	env.provider.EXPECT().FetchMetrics(anyArg, testKey).Do(func(ctx context.Context, key models.RepositoryKey) {
		// the fetch takes longer than the lock ttl and another request takes over
		env.mr.FastForward(lockTTL + time.Second)
		var reqErr error
		h2, reqErr = env.orch.RequestAnalysis(context.Background(), key.Owner, key.Project)
		require.NoError(t, reqErr)
	}).Return(healthyPayload(), nil)

	err = env.orch.Execute(ctx, h1.RunID)
	assert.Equal(t, ErrLockLost, errors.Cause(err))

	run1 := env.getRun(t, h1.RunID)
	assert.Equal(t, models.RunStatusFailed, run1.Status)
	assert.Equal(t, models.FailReasonLockLost, run1.FailReason)
	assert.Nil(t, run1.Result())

	require.NotNil(t, h2)
	assert.Equal(t, StateStarted, h2.State)
	assert.Equal(t, env.getRun(t, h2.RunID).LockToken, env.holder(t))
	assert.False(t, env.gateway.invalidatedRecent())
}

func TestCancelledExecutionIsResumed(t *testing.T) {
	env := newTestEnv(t)

	h, err := env.orch.RequestAnalysis(context.Background(), testKey.Owner, testKey.Project)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	env.provider.EXPECT().FetchMetrics(anyArg, testKey).Do(func(ctx context.Context, key models.RepositoryKey) {
		cancel()
	}).Return(nil, context.Canceled)

	err = env.orch.Execute(ctx, h.RunID)
	assert.Equal(t, context.Canceled, errors.Cause(err))

	run := env.getRun(t, h.RunID)
	assert.Equal(t, models.RunStatusRunning, run.Status)
	assert.Equal(t, models.RunStepLockAcquired, run.Step)
	assert.Equal(t, run.LockToken, env.holder(t))

	env.provider.EXPECT().FetchMetrics(anyArg, testKey).Return(healthyPayload(), nil)
	require.NoError(t, env.orch.Execute(context.Background(), h.RunID))
	assert.Equal(t, models.RunStatusSucceeded, env.getRun(t, h.RunID).Status)
}

func TestExecutionResumesAfterStoreErrorWithinLease(t *testing.T) {
	env := newTestEnv(t)
	env.useStore(&flakyStore{Store: env.store})
	ctx := context.Background()

	h, err := env.orch.RequestAnalysis(ctx, testKey.Owner, testKey.Project)
	require.NoError(t, err)

	env.provider.EXPECT().FetchMetrics(anyArg, testKey).Return(healthyPayload(), nil).Times(2)

	err = env.orch.Execute(ctx, h.RunID)
	require.Error(t, err)
	assert.NotEqual(t, ErrLockLost, errors.Cause(err))

	run := env.getRun(t, h.RunID)
	assert.Equal(t, models.RunStatusRunning, run.Status)
	assert.Equal(t, models.RunStepClassified, run.Step)
	assert.Equal(t, run.LockToken, env.holder(t))

	// redelivered by the queue before the lease ends
	env.mr.FastForward(lockTTL / 2)
	env.clock.advance(lockTTL / 2)

	require.NoError(t, env.orch.Execute(ctx, h.RunID))
	run = env.getRun(t, h.RunID)
	assert.Equal(t, models.RunStatusSucceeded, run.Status)
	assert.Empty(t, run.FailReason)
	assert.Empty(t, env.holder(t))
}

func TestResumeFromPersistedStep(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	h, err := env.orch.RequestAnalysis(ctx, testKey.Owner, testKey.Project)
	require.NoError(t, err)

	run := env.getRun(t, h.RunID)
	_, err = env.store.UpdateRun(ctx, run.ID, run.LockToken,
		runstore.StatusPatch(models.RunStatusRunning, models.RunStepClassified))
	require.NoError(t, err)

	env.provider.EXPECT().FetchMetrics(anyArg, testKey).Return(healthyPayload(), nil)
	require.NoError(t, env.orch.Execute(ctx, h.RunID))
	assert.Equal(t, models.RunStatusSucceeded, env.getRun(t, h.RunID).Status)
}

func TestScheduleFailure(t *testing.T) {
	env := newTestEnv(t)
	env.scheduler.err = errors.New("queue is down")

	_, err := env.orch.RequestAnalysis(context.Background(), testKey.Owner, testKey.Project)
	assert.Error(t, err)

	latest, err := env.store.GetLatestRun(context.Background(), testKey)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, models.RunStatusFailed, latest.Status)
	assert.Equal(t, models.FailReasonScheduleFailed, latest.FailReason)
	assert.Empty(t, env.holder(t))
}

func TestExecuteUnknownRun(t *testing.T) {
	env := newTestEnv(t)

	err := env.orch.Execute(context.Background(), "no-such-run")
	assert.Equal(t, runstore.ErrNotFound, errors.Cause(err))
}
