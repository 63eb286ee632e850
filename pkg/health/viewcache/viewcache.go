// Package viewcache is a read-through cache of API views with freshness bands.
package viewcache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/golangci/repohealth/internal/shared/cache"
	"github.com/golangci/repohealth/internal/shared/logutil"
	"github.com/golangci/repohealth/pkg/health/freshness"
	"github.com/pkg/errors"
)

const keyPrefix = "views/"

type LoadFunc func(ctx context.Context) (interface{}, error)

type entry struct {
	StoredAt time.Time
	Value    json.RawMessage
}

type Result struct {
	State    freshness.CacheState
	StoredAt time.Time
	// Hit is false when the value was loaded synchronously.
	Hit bool
}

type ViewCache struct {
	cache          cache.Cache
	bands          freshness.Bands
	log            logutil.Log
	refreshTimeout time.Duration
	now            func() time.Time

	refreshing sync.Map
	wg         sync.WaitGroup
}

func New(c cache.Cache, bands freshness.Bands, refreshTimeout time.Duration, log logutil.Log) *ViewCache {
	return &ViewCache{
		cache:          c,
		bands:          bands,
		log:            log,
		refreshTimeout: refreshTimeout,
		now:            time.Now,
	}
}

func (vc *ViewCache) Bands() freshness.Bands {
	return vc.bands
}

// Get fills dest with the cached view or with the result of load. Stale views are
// served while load runs in background; expired views are never served.
func (vc *ViewCache) Get(ctx context.Context, key string, tags []string, dest interface{}, load LoadFunc) (*Result, error) {
	var e entry
	found, err := vc.cache.Get(keyPrefix+key, &e)
	if err != nil {
		vc.log.Warnf("Can't get view %s from cache: %s", key, err)
		found = false
	}

	if found {
		state := vc.bands.StateFor(vc.now().Sub(e.StoredAt))
		if state != freshness.CacheExpired {
			if err = json.Unmarshal(e.Value, dest); err == nil {
				if state == freshness.CacheStale {
					vc.refreshInBackground(key, tags, load)
				}
				return &Result{State: state, StoredAt: e.StoredAt, Hit: true}, nil
			}
			vc.log.Warnf("Can't unmarshal cached view %s: %s", key, err)
		}
	}

	e, err = vc.load(ctx, key, tags, load)
	if err != nil {
		return nil, err
	}
	if err = json.Unmarshal(e.Value, dest); err != nil {
		return nil, errors.Wrapf(err, "can't unmarshal view %s", key)
	}

	return &Result{State: freshness.CacheFresh, StoredAt: e.StoredAt}, nil
}

func (vc *ViewCache) load(ctx context.Context, key string, tags []string, load LoadFunc) (entry, error) {
	v, err := load(ctx)
	if err != nil {
		return entry{}, errors.Wrapf(err, "can't load view %s", key)
	}

	value, err := json.Marshal(v)
	if err != nil {
		return entry{}, errors.Wrapf(err, "can't marshal view %s", key)
	}

	e := entry{
		StoredAt: vc.now(),
		Value:    value,
	}
	if err = vc.cache.Set(keyPrefix+key, vc.bands.Expire, e, tags...); err != nil {
		vc.log.Warnf("Can't save view %s to cache: %s", key, err)
	}

	return e, nil
}

func (vc *ViewCache) refreshInBackground(key string, tags []string, load LoadFunc) {
	if _, alreadyRefreshing := vc.refreshing.LoadOrStore(key, true); alreadyRefreshing {
		return
	}

	vc.wg.Add(1)
	go func() {
		defer vc.wg.Done()
		defer vc.refreshing.Delete(key)

		ctx, cancel := context.WithTimeout(context.Background(), vc.refreshTimeout)
		defer cancel()

		if _, err := vc.load(ctx, key, tags, load); err != nil {
			vc.log.Warnf("Background refresh of view %s failed: %s", key, err)
		}
	}()
}

// Wait blocks until background refreshes finish.
func (vc *ViewCache) Wait() {
	vc.wg.Wait()
}
