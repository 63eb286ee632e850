package migrations

import (
	"fmt"
	"path/filepath"

	"github.com/golangci/repohealth/internal/shared/logutil"
	"github.com/mattes/migrate"
	_ "github.com/mattes/migrate/database/postgres" // postgres migrations driver
	_ "github.com/mattes/migrate/source/file"       // file:// migrations source
	"github.com/pkg/errors"
	redsync "gopkg.in/redsync.v1"
)

// Runner applies the analysis runs schema. Instances starting together
// serialize on distLock, so only one of them migrates.
type Runner struct {
	distLock     *redsync.Mutex
	log          logutil.Log
	dbConnString string
	dir          string
}

func NewRunner(distLock *redsync.Mutex, log logutil.Log, dbConnString, projectRoot string) *Runner {
	return &Runner{
		distLock:     distLock,
		log:          log,
		dbConnString: dbConnString,
		dir:          filepath.Join(projectRoot, "migrations"),
	}
}

func (r Runner) Run() error {
	if err := r.distLock.Lock(); err != nil {
		return errors.Wrap(err, "can't acquire migrations lock")
	}
	defer r.distLock.Unlock()

	m, err := migrate.New(fmt.Sprintf("file://%s", r.dir), r.dbConnString)
	if err != nil {
		return errors.Wrapf(err, "can't load migrations from %s", r.dir)
	}
	defer m.Close()

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return errors.Wrap(err, "can't execute migrations")
	}

	version, dirty, verr := m.Version()
	if verr != nil && verr != migrate.ErrNilVersion {
		return errors.Wrap(verr, "can't get schema version")
	}
	if dirty {
		return errors.Errorf("schema version %d is dirty, fix it manually", version)
	}

	if err == migrate.ErrNoChange {
		r.log.Infof("Schema is up to date at version %d", version)
	} else {
		r.log.Infof("Migrated schema to version %d", version)
	}
	return nil
}
