package providers

import (
	"testing"
	"time"

	"github.com/golangci/repohealth/internal/shared/logutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapConfig map[string]string

func (c mapConfig) GetString(key string) string                             { return c[key] }
func (c mapConfig) GetStringList(key string) []string                       { return nil }
func (c mapConfig) GetDuration(key string, def time.Duration) time.Duration { return def }
func (c mapConfig) GetInt(key string, def int) int                          { return def }
func (c mapConfig) GetBool(key string, def bool) bool                       { return def }

func TestBasicFactoryBuild(t *testing.T) {
	log := logutil.NewStderrLog("test")

	p, err := NewBasicFactory(mapConfig{}, log).Build()
	require.NoError(t, err)
	assert.Equal(t, "github.com", p.Name())

	p, err = NewBasicFactory(mapConfig{"GITHUB_API_URL": "https://ghe.example.com/api/v3"}, log).Build()
	require.NoError(t, err)
	assert.Equal(t, "github.com", p.Name())

	_, err = NewBasicFactory(mapConfig{"METRICS_PROVIDER": "gitlab.com"}, log).Build()
	assert.Error(t, err)
}
