package sharedtest

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gavv/httpexpect"
	"github.com/golangci/repohealth/internal/shared/db/redis"
	"github.com/golangci/repohealth/internal/shared/logutil"
	app "github.com/golangci/repohealth/pkg/api"
	"github.com/golangci/repohealth/pkg/health/runstore"
	"github.com/golangci/repohealth/pkg/health/settings"
)

type App struct {
	app              *app.App
	testserver       *httptest.Server
	fakeGithubServer *httptest.Server

	Store *runstore.MemoryStore
}

// RunApp starts the whole app against in-process redis, run store and github.
func RunApp(t *testing.T) *App {
	ta := App{
		fakeGithubServer: newFakeGithubServer(),
		Store:            runstore.NewMemoryStore(nil),
	}
	t.Cleanup(ta.fakeGithubServer.Close)

	mr := miniredis.RunT(t)

	s := settings.Default()
	s.FetchBaseDelay = 10 * time.Millisecond
	s.FetchMaxDelay = 50 * time.Millisecond

	ta.app = app.NewApp(
		app.SetLog(logutil.NewStderrLog("test")),
		app.SetConfig(Config{
			"GITHUB_API_URL": ta.fakeGithubServer.URL,
			"GITHUB_TOKEN":   "test-token",
		}),
		app.SetSettings(s),
		app.SetRunStore(ta.Store),
		app.SetRedisPool(redis.NewPool("redis://"+mr.Addr(), redis.OptionsFromConfig(Config{}))),
	)

	ta.testserver = httptest.NewServer(ta.app.GetHTTPHandler())
	t.Cleanup(ta.testserver.Close)
	t.Cleanup(ta.app.WaitLocalRuns)

	return &ta
}

func (ta App) Expect(t *testing.T) *httpexpect.Expect {
	return httpexpect.New(t, ta.testserver.URL)
}

// WaitRuns blocks until scheduled analysis runs complete.
func (ta App) WaitRuns() {
	ta.app.WaitLocalRuns()
}
