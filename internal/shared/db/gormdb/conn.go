package gormdb

import (
	"database/sql"
	"net/url"
	"strings"
	"time"

	"github.com/golangci/repohealth/internal/shared/config"
	_ "github.com/jinzhu/gorm/dialects/postgres" // init pg dialect
	_ "github.com/lib/pq"                        // init pg driver for GetSQLDB
	"github.com/pkg/errors"
)

// GetDBConnString returns DATABASE_URL or builds a postgres url from DATABASE_* parts.
func GetDBConnString(cfg config.Config) (string, error) {
	if dbURL := cfg.GetString("DATABASE_URL"); dbURL != "" {
		if strings.HasPrefix(dbURL, "postgresql://") {
			dbURL = "postgres://" + strings.TrimPrefix(dbURL, "postgresql://")
		}
		return dbURL, nil
	}

	host := cfg.GetString("DATABASE_HOST")
	username := cfg.GetString("DATABASE_USERNAME")
	password := cfg.GetString("DATABASE_PASSWORD")
	name := cfg.GetString("DATABASE_NAME")
	if host == "" || username == "" || password == "" || name == "" {
		return "", errors.New("no DATABASE_URL or DATABASE_{HOST,USERNAME,PASSWORD,NAME} in config")
	}

	sslMode := cfg.GetString("DATABASE_SSLMODE")
	if sslMode == "" {
		sslMode = "disable"
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(username, password),
		Host:     host,
		Path:     "/" + name,
		RawQuery: url.Values{"sslmode": []string{sslMode}}.Encode(),
	}
	return u.String(), nil
}

func GetSQLDB(cfg config.Config, connString string) (*sql.DB, error) {
	adapter := strings.Split(connString, "://")[0]

	db, err := sql.Open(adapter, connString)
	if err != nil {
		return nil, errors.Wrap(err, "can't open db connection")
	}

	db.SetMaxOpenConns(cfg.GetInt("DATABASE_MAX_OPEN_CONNS", 20))
	db.SetMaxIdleConns(cfg.GetInt("DATABASE_MAX_IDLE_CONNS", 5))
	db.SetConnMaxLifetime(cfg.GetDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute))
	return db, nil
}
