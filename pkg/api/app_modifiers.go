package app

import (
	redigo "github.com/garyburd/redigo/redis"
	"github.com/golangci/repohealth/internal/shared/analytics"
	"github.com/golangci/repohealth/internal/shared/config"
	"github.com/golangci/repohealth/internal/shared/logutil"
	"github.com/golangci/repohealth/internal/shared/providers"
	"github.com/golangci/repohealth/pkg/health/runstore"
	"github.com/golangci/repohealth/pkg/health/settings"
)

type Modifier func(a *App)

func SetProviderFactory(pf providers.Factory) Modifier {
	return func(a *App) {
		a.providerFactory = pf
	}
}

func SetRunStore(s runstore.Store) Modifier {
	return func(a *App) {
		a.runStore = s
	}
}

func SetRedisPool(p *redigo.Pool) Modifier {
	return func(a *App) {
		a.redisPool = p
	}
}

func SetConfig(cfg config.Config) Modifier {
	return func(a *App) {
		a.cfg = cfg
	}
}

func SetLog(log logutil.Log) Modifier {
	return func(a *App) {
		a.log = log
	}
}

func SetSettings(s settings.Settings) Modifier {
	return func(a *App) {
		a.settings = &s
	}
}

func SetAnalyticsTracker(t analytics.Tracker) Modifier {
	return func(a *App) {
		a.analyticsTracker = t
	}
}
