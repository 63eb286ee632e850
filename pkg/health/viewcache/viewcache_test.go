package viewcache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/garyburd/redigo/redis"
	"github.com/golangci/repohealth/internal/shared/cache"
	"github.com/golangci/repohealth/internal/shared/logutil"
	"github.com/golangci/repohealth/pkg/health/freshness"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type view struct {
	Version int
}

type testEnv struct {
	vc    *ViewCache
	cache *cache.Redis
	now   time.Time
	loads int32
}

func newTestEnv(t *testing.T) *testEnv {
	mr := miniredis.RunT(t)
	pool := &redis.Pool{
		MaxIdle: 3,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", mr.Addr())
		},
	}
	t.Cleanup(func() { pool.Close() })

	env := &testEnv{
		cache: cache.NewRedis(pool),
		now:   time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	bands := freshness.Bands{Stale: time.Minute, Revalidate: time.Hour, Expire: 2 * time.Hour}
	env.vc = New(env.cache, bands, time.Second, logutil.NewStderrLog("test"))
	env.vc.now = func() time.Time { return env.now }
	return env
}

func (env *testEnv) load(ctx context.Context) (interface{}, error) {
	n := atomic.AddInt32(&env.loads, 1)
	return view{Version: int(n)}, nil
}

func TestViewCacheBands(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tags := []string{"project/a/b"}

	var v view
	res, err := env.vc.Get(ctx, "k", tags, &v, env.load)
	require.NoError(t, err)
	assert.False(t, res.Hit)
	assert.Equal(t, 1, v.Version)

	env.now = env.now.Add(30 * time.Minute)
	res, err = env.vc.Get(ctx, "k", tags, &v, env.load)
	require.NoError(t, err)
	assert.True(t, res.Hit)
	assert.Equal(t, freshness.CacheFresh, res.State)
	assert.Equal(t, 1, v.Version)

	// stale: served from cache while refreshed in background
	env.now = env.now.Add(time.Hour)
	res, err = env.vc.Get(ctx, "k", tags, &v, env.load)
	require.NoError(t, err)
	assert.Equal(t, freshness.CacheStale, res.State)
	assert.Equal(t, 1, v.Version)
	env.vc.Wait()

	res, err = env.vc.Get(ctx, "k", tags, &v, env.load)
	require.NoError(t, err)
	assert.Equal(t, freshness.CacheFresh, res.State)
	assert.Equal(t, 2, v.Version)

	// expired: never served
	env.now = env.now.Add(3 * time.Hour)
	res, err = env.vc.Get(ctx, "k", tags, &v, env.load)
	require.NoError(t, err)
	assert.False(t, res.Hit)
	assert.Equal(t, 3, v.Version)
}

func TestViewCacheTagInvalidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var v view
	_, err := env.vc.Get(ctx, "k", []string{"project/a/b"}, &v, env.load)
	require.NoError(t, err)

	require.NoError(t, env.cache.InvalidateTags("project/a/b"))

	res, err := env.vc.Get(ctx, "k", []string{"project/a/b"}, &v, env.load)
	require.NoError(t, err)
	assert.False(t, res.Hit)
	assert.Equal(t, 2, v.Version)
}

func TestViewCacheLoadError(t *testing.T) {
	env := newTestEnv(t)

	var v view
	_, err := env.vc.Get(context.Background(), "k", nil, &v, func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("db is down")
	})
	assert.Error(t, err)
}
