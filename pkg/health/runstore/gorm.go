package runstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/golangci/repohealth/internal/shared/db/gormdb"
	"github.com/golangci/repohealth/internal/shared/logutil"
	"github.com/golangci/repohealth/pkg/health/models"
	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
)

type GormStore struct {
	db  *sql.DB
	log logutil.Log
}

var _ Store = &GormStore{}

func NewGormStore(db *sql.DB, log logutil.Log) *GormStore {
	return &GormStore{
		db:  db,
		log: log,
	}
}

func (s GormStore) gormDB(ctx context.Context) (*gorm.DB, error) {
	db, err := gormdb.FromSQL(ctx, s.db, s.log)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get gorm db")
	}

	return db, nil
}

func inFlightStatuses() []models.RunStatus {
	return []models.RunStatus{models.RunStatusPending, models.RunStatusRunning}
}

func (s GormStore) CreateRun(ctx context.Context, key models.RepositoryKey, lockToken string,
	startedAt time.Time) (*models.AnalysisRun, error) {

	db, err := s.gormDB(ctx)
	if err != nil {
		return nil, err
	}

	run := models.AnalysisRun{
		ID:            uuid.NewV4().String(),
		Owner:         key.Owner,
		Project:       key.Project,
		Status:        models.RunStatusPending,
		Step:          models.RunStepLockAcquired,
		StartedAt:     startedAt,
		LockToken:     lockToken,
		AttemptNumber: 1,
	}
	if err = db.Create(&run).Error; err != nil {
		return nil, errors.Wrapf(err, "can't create analysis run for %s", key)
	}

	return &run, nil
}

func (s GormStore) GetRun(ctx context.Context, id string) (*models.AnalysisRun, error) {
	db, err := s.gormDB(ctx)
	if err != nil {
		return nil, err
	}

	var run models.AnalysisRun
	if err = db.Where("id = ?", id).First(&run).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.Wrapf(ErrNotFound, "no run with id %s", id)
		}
		return nil, errors.Wrapf(err, "can't get analysis run %s", id)
	}

	return &run, nil
}

func (s GormStore) GetLatestRun(ctx context.Context, key models.RepositoryKey) (*models.AnalysisRun, error) {
	db, err := s.gormDB(ctx)
	if err != nil {
		return nil, err
	}

	var run models.AnalysisRun
	err = db.Where("owner = ? AND project = ?", key.Owner, key.Project).
		Order("started_at DESC, created_at DESC").
		First(&run).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "can't get latest analysis run of %s", key)
	}

	return &run, nil
}

func (s GormStore) UpdateRun(ctx context.Context, id, expectedLockToken string, patch Patch) (*models.AnalysisRun, error) {
	cols, err := patch.columns()
	if err != nil {
		return nil, err
	}

	db, err := s.gormDB(ctx)
	if err != nil {
		return nil, err
	}

	res := db.Model(&models.AnalysisRun{}).
		Where("id = ? AND lock_token = ? AND lock_token <> '' AND status IN (?)", id, expectedLockToken, inFlightStatuses()).
		Updates(cols)
	if res.Error != nil {
		return nil, errors.Wrapf(res.Error, "can't update analysis run %s", id)
	}
	if res.RowsAffected == 0 {
		return nil, errors.Wrapf(ErrConflict, "got race condition updating analysis run %s", id)
	}

	return s.GetRun(ctx, id)
}

func (s GormStore) ListRecent(ctx context.Context, limit int) ([]models.AnalysisRun, error) {
	db, err := s.gormDB(ctx)
	if err != nil {
		return nil, err
	}

	var runs []models.AnalysisRun
	err = db.Where("status = ?", models.RunStatusSucceeded).
		Order("completed_at DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, errors.Wrap(err, "can't list recent analysis runs")
	}

	return runs, nil
}

func (s GormStore) ListUnfinished(ctx context.Context, updatedBefore time.Time) ([]models.AnalysisRun, error) {
	db, err := s.gormDB(ctx)
	if err != nil {
		return nil, err
	}

	var runs []models.AnalysisRun
	err = db.Where("status IN (?) AND updated_at < ?", inFlightStatuses(), updatedBefore).
		Order("updated_at").
		Find(&runs).Error
	if err != nil {
		return nil, errors.Wrap(err, "can't list unfinished analysis runs")
	}

	return runs, nil
}

func (s GormStore) ListStaleRepositories(ctx context.Context, startedBefore time.Time, limit int) ([]models.RepositoryKey, error) {
	db, err := s.gormDB(ctx)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Owner   string
		Project string
	}
	err = db.Raw(`SELECT owner, project FROM analysis_runs
		GROUP BY owner, project
		HAVING MAX(started_at) < ? AND SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) > 0
		ORDER BY MAX(started_at)
		LIMIT ?`, startedBefore, models.RunStatusSucceeded, limit).
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "can't list stale repositories")
	}

	ret := make([]models.RepositoryKey, 0, len(rows))
	for _, r := range rows {
		ret = append(ret, models.RepositoryKey{Owner: r.Owner, Project: r.Project})
	}

	return ret, nil
}
