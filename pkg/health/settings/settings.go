// Package settings holds tunables of the health analysis engine.
package settings

import (
	"time"

	"github.com/golangci/repohealth/internal/shared/config"
	"github.com/golangci/repohealth/internal/shared/providers/implementations"
	"github.com/golangci/repohealth/pkg/health/freshness"
	"github.com/golangci/repohealth/pkg/health/runlock"
	"github.com/pkg/errors"
)

const (
	DefaultFetchAttempts     = 3
	DefaultFetchBaseDelay    = 2 * time.Second
	DefaultFetchMaxDelay     = 30 * time.Second
	DefaultFetchTimeout      = time.Minute
	DefaultStoreTimeout      = 10 * time.Second
	DefaultInvalidateTimeout = 5 * time.Second
	DefaultRedeliveryDelay   = 10 * time.Second
)

type Settings struct {
	FreshnessWindow time.Duration
	LockTTL         time.Duration

	FetchAttempts  int
	FetchBaseDelay time.Duration
	FetchMaxDelay  time.Duration
	FetchTimeout   time.Duration

	StoreTimeout      time.Duration
	InvalidateTimeout time.Duration

	// RedeliveryDelay is the first pause before a failed run execution is
	// delivered again. Redeliveries inside the lock lease resume the run.
	RedeliveryDelay time.Duration

	CacheBands freshness.Bands
}

func Default() Settings {
	return Settings{
		FreshnessWindow:   freshness.DefaultWindow,
		LockTTL:           runlock.DefaultTTL,
		FetchAttempts:     DefaultFetchAttempts,
		FetchBaseDelay:    DefaultFetchBaseDelay,
		FetchMaxDelay:     DefaultFetchMaxDelay,
		FetchTimeout:      DefaultFetchTimeout,
		StoreTimeout:      DefaultStoreTimeout,
		InvalidateTimeout: DefaultInvalidateTimeout,
		RedeliveryDelay:   DefaultRedeliveryDelay,
		CacheBands:        freshness.DefaultBands(freshness.DefaultWindow),
	}
}

func getSeconds(cfg config.Config, key string, def time.Duration) time.Duration {
	return time.Duration(cfg.GetInt(key, int(def/time.Second))) * time.Second
}

// FromConfig reads HEALTH_* keys, all durations are in seconds.
func FromConfig(cfg config.Config) (*Settings, error) {
	s := Default()

	s.FreshnessWindow = getSeconds(cfg, "HEALTH_FRESHNESS_WINDOW_SEC", s.FreshnessWindow)
	s.LockTTL = getSeconds(cfg, "HEALTH_LOCK_TTL_SEC", s.LockTTL)
	s.FetchAttempts = cfg.GetInt("HEALTH_FETCH_ATTEMPTS", s.FetchAttempts)
	s.FetchBaseDelay = getSeconds(cfg, "HEALTH_FETCH_BASE_DELAY_SEC", s.FetchBaseDelay)
	s.FetchMaxDelay = getSeconds(cfg, "HEALTH_FETCH_MAX_DELAY_SEC", s.FetchMaxDelay)
	s.FetchTimeout = getSeconds(cfg, "HEALTH_FETCH_TIMEOUT_SEC", s.FetchTimeout)
	s.StoreTimeout = getSeconds(cfg, "HEALTH_STORE_TIMEOUT_SEC", s.StoreTimeout)
	s.InvalidateTimeout = getSeconds(cfg, "HEALTH_INVALIDATE_TIMEOUT_SEC", s.InvalidateTimeout)
	s.RedeliveryDelay = getSeconds(cfg, "HEALTH_REDELIVERY_DELAY_SEC", s.RedeliveryDelay)

	// revalidation follows the freshness window unless set explicitly
	defBands := freshness.DefaultBands(s.FreshnessWindow)
	s.CacheBands = freshness.Bands{
		Stale:      getSeconds(cfg, "HEALTH_CACHE_STALE_SEC", defBands.Stale),
		Revalidate: getSeconds(cfg, "HEALTH_CACHE_REVALIDATE_SEC", defBands.Revalidate),
		Expire:     getSeconds(cfg, "HEALTH_CACHE_EXPIRE_SEC", defBands.Expire),
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	return &s, nil
}

func (s Settings) Validate() error {
	if s.FreshnessWindow <= 0 {
		return errors.Errorf("freshness window must be positive, got %s", s.FreshnessWindow)
	}
	if s.LockTTL <= 0 {
		return errors.Errorf("lock ttl must be positive, got %s", s.LockTTL)
	}
	if s.RedeliveryDelay <= 0 || 2*s.RedeliveryDelay >= s.LockTTL {
		return errors.Errorf("redelivery delay must be positive and below half of lock ttl %s, got %s",
			s.LockTTL, s.RedeliveryDelay)
	}
	if s.FetchAttempts < 1 {
		return errors.Errorf("at least one fetch attempt is required, got %d", s.FetchAttempts)
	}
	if s.FetchBaseDelay < 0 || s.FetchMaxDelay < s.FetchBaseDelay {
		return errors.Errorf("invalid fetch delays: base %s, max %s", s.FetchBaseDelay, s.FetchMaxDelay)
	}
	for name, d := range map[string]time.Duration{
		"fetch":      s.FetchTimeout,
		"store":      s.StoreTimeout,
		"invalidate": s.InvalidateTimeout,
	} {
		if d <= 0 {
			return errors.Errorf("%s timeout must be positive, got %s", name, d)
		}
	}

	return errors.Wrap(s.CacheBands.Validate(), "invalid cache bands")
}

func (s Settings) FreshnessPolicy() freshness.Policy {
	return freshness.NewPolicy(s.FreshnessWindow)
}

func (s Settings) RetryConfig() implementations.RetryConfig {
	return implementations.RetryConfig{
		MaxAttempts:     s.FetchAttempts,
		InitialInterval: s.FetchBaseDelay,
		MaxInterval:     s.FetchMaxDelay,
		AttemptTimeout:  s.FetchTimeout,
	}
}
