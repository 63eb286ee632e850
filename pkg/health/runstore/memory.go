package runstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/golangci/repohealth/pkg/health/models"
	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
)

// MemoryStore keeps runs in the process memory. It serves single-node
// setups without a database and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*models.AnalysisRun
	now  func() time.Time
}

var _ Store = &MemoryStore{}

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}

	return &MemoryStore{
		runs: map[string]*models.AnalysisRun{},
		now:  now,
	}
}

func copyRun(run *models.AnalysisRun) *models.AnalysisRun {
	ret := *run
	if run.CompletedAt != nil {
		completedAt := *run.CompletedAt
		ret.CompletedAt = &completedAt
	}
	if run.Score != nil {
		score := *run.Score
		ret.Score = &score
	}
	ret.MetricsJSON = append([]byte(nil), run.MetricsJSON...)
	if len(ret.MetricsJSON) == 0 {
		ret.MetricsJSON = nil
	}
	return &ret
}

func (s *MemoryStore) CreateRun(ctx context.Context, key models.RepositoryKey, lockToken string,
	startedAt time.Time) (*models.AnalysisRun, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := s.now()
	run := &models.AnalysisRun{
		ID:            uuid.NewV4().String(),
		Owner:         key.Owner,
		Project:       key.Project,
		Status:        models.RunStatusPending,
		Step:          models.RunStepLockAcquired,
		StartedAt:     startedAt,
		LockToken:     lockToken,
		AttemptNumber: 1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run

	return copyRun(run), nil
}

func (s *MemoryStore) GetRun(ctx context.Context, id string) (*models.AnalysisRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	run := s.runs[id]
	if run == nil {
		return nil, errors.Wrapf(ErrNotFound, "no run with id %s", id)
	}

	return copyRun(run), nil
}

// sortedRuns must be called under the lock.
func (s *MemoryStore) sortedRuns(filter func(run *models.AnalysisRun) bool, less func(a, b *models.AnalysisRun) bool) []*models.AnalysisRun {
	var ret []*models.AnalysisRun
	for _, run := range s.runs {
		if filter(run) {
			ret = append(ret, run)
		}
	}

	sort.Slice(ret, func(i, j int) bool {
		return less(ret[i], ret[j])
	})
	return ret
}

func startedLater(a, b *models.AnalysisRun) bool {
	if !a.StartedAt.Equal(b.StartedAt) {
		return a.StartedAt.After(b.StartedAt)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func (s *MemoryStore) GetLatestRun(ctx context.Context, key models.RepositoryKey) (*models.AnalysisRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := s.sortedRuns(func(run *models.AnalysisRun) bool {
		return run.RepositoryKey() == key
	}, startedLater)
	if len(runs) == 0 {
		return nil, nil
	}

	return copyRun(runs[0]), nil
}

func (s *MemoryStore) UpdateRun(ctx context.Context, id, expectedLockToken string, patch Patch) (*models.AnalysisRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := patch.validate(); err != nil {
		return nil, errors.Wrap(err, "invalid patch")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	run := s.runs[id]
	if run == nil || run.LockToken == "" || run.LockToken != expectedLockToken || !run.Status.IsInFlight() {
		return nil, errors.Wrapf(ErrConflict, "got race condition updating analysis run %s", id)
	}

	updated := copyRun(run)
	if err := patch.apply(updated); err != nil {
		return nil, err
	}
	updated.UpdatedAt = s.now()
	s.runs[id] = updated

	return copyRun(updated), nil
}

func (s *MemoryStore) ListRecent(ctx context.Context, limit int) ([]models.AnalysisRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := s.sortedRuns(func(run *models.AnalysisRun) bool {
		return run.Status == models.RunStatusSucceeded
	}, func(a, b *models.AnalysisRun) bool {
		return a.CompletedAt.After(*b.CompletedAt)
	})

	ret := []models.AnalysisRun{}
	for i := 0; i < len(runs) && i < limit; i++ {
		ret = append(ret, *copyRun(runs[i]))
	}
	return ret, nil
}

func (s *MemoryStore) ListUnfinished(ctx context.Context, updatedBefore time.Time) ([]models.AnalysisRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := s.sortedRuns(func(run *models.AnalysisRun) bool {
		return run.Status.IsInFlight() && run.UpdatedAt.Before(updatedBefore)
	}, func(a, b *models.AnalysisRun) bool {
		return a.UpdatedAt.Before(b.UpdatedAt)
	})

	ret := []models.AnalysisRun{}
	for _, run := range runs {
		ret = append(ret, *copyRun(run))
	}
	return ret, nil
}

func (s *MemoryStore) ListStaleRepositories(ctx context.Context, startedBefore time.Time, limit int) ([]models.RepositoryKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type repoState struct {
		key           models.RepositoryKey
		lastStartedAt time.Time
		hasSucceeded  bool
	}
	states := map[models.RepositoryKey]*repoState{}
	for _, run := range s.runs {
		key := run.RepositoryKey()
		st := states[key]
		if st == nil {
			st = &repoState{key: key}
			states[key] = st
		}
		if run.StartedAt.After(st.lastStartedAt) {
			st.lastStartedAt = run.StartedAt
		}
		if run.Status == models.RunStatusSucceeded {
			st.hasSucceeded = true
		}
	}

	var stale []*repoState
	for _, st := range states {
		if st.hasSucceeded && st.lastStartedAt.Before(startedBefore) {
			stale = append(stale, st)
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		if !stale[i].lastStartedAt.Equal(stale[j].lastStartedAt) {
			return stale[i].lastStartedAt.Before(stale[j].lastStartedAt)
		}
		return stale[i].key.String() < stale[j].key.String()
	})

	ret := []models.RepositoryKey{}
	for i := 0; i < len(stale) && i < limit; i++ {
		ret = append(ret, stale[i].key)
	}
	return ret, nil
}
