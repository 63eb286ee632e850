package gormdb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type mapConfig map[string]string

func (c mapConfig) GetString(key string) string {
	return c[key]
}

func (c mapConfig) GetStringList(key string) []string {
	return nil
}

func (c mapConfig) GetDuration(key string, def time.Duration) time.Duration {
	return def
}

func (c mapConfig) GetInt(key string, def int) int {
	return def
}

func (c mapConfig) GetBool(key string, def bool) bool {
	return def
}

func TestGetDBConnString(t *testing.T) {
	s, err := GetDBConnString(mapConfig{"DATABASE_URL": "postgresql://u:p@db:5432/health"})
	assert.NoError(t, err)
	assert.Equal(t, "postgres://u:p@db:5432/health", s)

	s, err = GetDBConnString(mapConfig{
		"DATABASE_HOST":     "db:5432",
		"DATABASE_USERNAME": "health",
		"DATABASE_PASSWORD": "p@ss",
		"DATABASE_NAME":     "repohealth",
	})
	assert.NoError(t, err)
	assert.Equal(t, "postgres://health:p%40ss@db:5432/repohealth?sslmode=disable", s)

	_, err = GetDBConnString(mapConfig{"DATABASE_HOST": "db"})
	assert.Error(t, err)
}
