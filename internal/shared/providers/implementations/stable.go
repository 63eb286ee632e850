package implementations

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/golangci/repohealth/internal/shared/logutil"
	"github.com/golangci/repohealth/internal/shared/providers/provider"
	"github.com/golangci/repohealth/pkg/health/models"
	"github.com/pkg/errors"
)

// Check the struct is implementing the MetricsProvider interface.
var _ provider.MetricsProvider = &StableProvider{}

type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	AttemptTimeout  time.Duration
}

// StableProvider retries transient failures of the underlying provider with
// an exponential backoff. Permanent errors and invalid payloads stop retrying.
type StableProvider struct {
	underlying provider.MetricsProvider
	cfg        RetryConfig
	log        logutil.Log
}

func NewStableProvider(underlying provider.MetricsProvider, cfg RetryConfig, log logutil.Log) *StableProvider {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	return &StableProvider{
		underlying: underlying,
		cfg:        cfg,
		log:        log,
	}
}

func (p StableProvider) Name() string {
	return p.underlying.Name()
}

func (p StableProvider) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.InitialInterval
	b.MaxInterval = p.cfg.MaxInterval
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0 // attempts are limited by count only

	bmr := backoff.WithMaxRetries(b, uint64(p.cfg.MaxAttempts-1))
	return backoff.WithContext(bmr, ctx)
}

func (p StableProvider) fetchOnce(ctx context.Context, key models.RepositoryKey) (*models.MetricsPayload, error) {
	if p.cfg.AttemptTimeout != 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.AttemptTimeout)
		defer cancel()
	}

	m, err := p.underlying.FetchMetrics(ctx, key)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, provider.NewPermanentError(errors.New("provider returned no metrics"))
	}
	if err = m.Validate(); err != nil {
		return nil, provider.NewPermanentError(errors.Wrap(err, "provider returned invalid metrics"))
	}

	return m, nil
}

func (p StableProvider) FetchMetrics(ctx context.Context, key models.RepositoryKey) (*models.MetricsPayload, error) {
	var ret *models.MetricsPayload
	var permanentErr error
	attempt := 0

	err := backoff.Retry(func() error {
		attempt++
		m, err := p.fetchOnce(ctx, key)
		if err == nil {
			ret = m
			return nil
		}

		if ctx.Err() != nil {
			permanentErr = ctx.Err()
			return nil
		}
		if provider.IsPermanentError(err) {
			permanentErr = err
			return nil // stop retrying
		}

		p.log.Infof("Fetching metrics of %s failed on %d/%d attempt: %s", key, attempt, p.cfg.MaxAttempts, err)
		return err
	}, p.newBackOff(ctx))

	if permanentErr != nil {
		return nil, permanentErr
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrapf(err, "failed to fetch metrics after %d attempts", attempt)
	}

	return ret, nil
}
