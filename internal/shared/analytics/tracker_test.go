package analytics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golangci/repohealth/internal/shared/logutil"
	"github.com/stretchr/testify/assert"
)

type mapConfig map[string]string

func (c mapConfig) GetString(key string) string                             { return c[key] }
func (c mapConfig) GetStringList(key string) []string                       { return nil }
func (c mapConfig) GetDuration(key string, def time.Duration) time.Duration { return def }
func (c mapConfig) GetInt(key string, def int) int                          { return def }
func (c mapConfig) GetBool(key string, def bool) bool                       { return def }

func TestNewTrackerWithoutKeysIsNop(t *testing.T) {
	tr := NewTracker(mapConfig{}, logutil.NewStderrLog("test"))
	assert.IsType(t, NopTracker{}, tr)
	tr.Track(context.Background(), EventRepoHealthAnalyzed, nil)
}

func TestTrackerPublishesToMixpanel(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		w.Write([]byte("1"))
	}))
	defer server.Close()

	tr := NewTracker(mapConfig{
		"MIXPANEL_API_KEY": "token",
		"MIXPANEL_API_URL": server.URL,
	}, logutil.NewStderrLog("test"))
	tr.Track(context.Background(), EventRepoHealthAnalyzed, map[string]interface{}{
		"repoName": "golangci/golangci-lint",
		"category": "healthy",
	})

	mu.Lock()
	defer mu.Unlock()
	if assert.Len(t, paths, 1) {
		assert.Contains(t, paths[0], "track")
	}
}
