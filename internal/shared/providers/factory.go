package providers

import (
	"fmt"

	"github.com/golangci/repohealth/internal/shared/config"
	"github.com/golangci/repohealth/internal/shared/logutil"
	"github.com/golangci/repohealth/internal/shared/providers/implementations"
	"github.com/golangci/repohealth/internal/shared/providers/provider"
	"github.com/pkg/errors"
)

type Factory interface {
	Build() (provider.MetricsProvider, error)
}

// BasicFactory builds the provider configured by METRICS_PROVIDER (github.com by default).
type BasicFactory struct {
	cfg config.Config
	log logutil.Log
}

func NewBasicFactory(cfg config.Config, log logutil.Log) *BasicFactory {
	return &BasicFactory{
		cfg: cfg,
		log: log,
	}
}

func (f BasicFactory) Build() (provider.MetricsProvider, error) {
	name := f.cfg.GetString("METRICS_PROVIDER")
	if name == "" {
		name = implementations.GithubProviderName
	}

	switch name {
	case implementations.GithubProviderName:
		p := implementations.NewGithub(f.cfg.GetString("GITHUB_TOKEN"), f.log.Child("github"))
		if baseURL := f.cfg.GetString("GITHUB_API_URL"); baseURL != "" {
			if err := p.SetBaseURL(baseURL); err != nil {
				return nil, errors.Wrap(err, "invalid GITHUB_API_URL")
			}
		}
		return p, nil
	}

	return nil, fmt.Errorf("invalid metrics provider name %q", name)
}
