// Package invalidation marks read-through caches depending on analysis results stale.
package invalidation

import (
	"context"
	"strings"

	"github.com/golangci/repohealth/internal/shared/cache"
	"github.com/golangci/repohealth/internal/shared/logutil"
	"github.com/golangci/repohealth/pkg/health/models"
	"github.com/pkg/errors"
)

const RecentAnalysesTag = "recent-analyses"

func ProjectTag(key models.RepositoryKey) string {
	return "project/" + key.String()
}

// TagsForRun are the tags to invalidate when a run of the repository completes.
func TagsForRun(key models.RepositoryKey) []string {
	return []string{ProjectTag(key), RecentAnalysesTag}
}

// Gateway is best effort: callers log its errors and go on.
type Gateway interface {
	Invalidate(ctx context.Context, tags []string) error
}

// CacheGateway drops tagged entries of a cache.
type CacheGateway struct {
	cache cache.Cache
	log   logutil.Log
}

var _ Gateway = &CacheGateway{}

func NewCacheGateway(c cache.Cache, log logutil.Log) *CacheGateway {
	return &CacheGateway{
		cache: c,
		log:   log,
	}
}

func (g CacheGateway) Invalidate(ctx context.Context, tags []string) error {
	if len(tags) == 0 {
		return nil
	}

	// the cache has no context support: don't wait for it longer than ctx allows
	errCh := make(chan error, 1)
	go func() {
		errCh <- g.cache.InvalidateTags(tags...)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Wrapf(err, "can't invalidate tags %s", strings.Join(tags, ","))
		}
		g.log.Infof("Invalidated cache tags %s", strings.Join(tags, ","))
		return nil
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "invalidation of tags %s timed out", strings.Join(tags, ","))
	}
}
