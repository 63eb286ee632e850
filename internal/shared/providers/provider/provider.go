package provider

import (
	"context"

	"github.com/golangci/repohealth/pkg/health/models"
)

//go:generate mockgen -package provider -source provider.go -destination mock_provider.go

// MetricsProvider collects raw activity signals of a repository from a VCS hosting.
type MetricsProvider interface {
	Name() string

	// FetchMetrics returns *Error, ErrNotFound or ErrUnauthorized on failures;
	// any other error is treated as transient.
	FetchMetrics(ctx context.Context, key models.RepositoryKey) (*models.MetricsPayload, error)
}
