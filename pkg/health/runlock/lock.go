// Package runlock is a lease lock over redis keyed by repository.
// Every acquisition gets a random token; release and renewal are fenced by it.
package runlock

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/garyburd/redigo/redis"
	"github.com/golangci/repohealth/pkg/health/models"
	"github.com/pkg/errors"
)

const (
	DefaultTTL = 10 * time.Minute
	keyPrefix  = "health/runlock/"
)

var (
	ErrBusy        = errors.New("analysis is already in progress")
	ErrExpired     = errors.New("lock has expired or was reclaimed")
	ErrUnavailable = errors.New("lock storage is unavailable")
)

// Handle proves an exclusive claim of a repository until ExpiresAt.
type Handle struct {
	Key        models.RepositoryKey
	Token      string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

func (h Handle) redisKey() string {
	return keyPrefix + h.Key.String()
}

type Locker interface {
	Acquire(key models.RepositoryKey) (*Handle, error)
	// Attach restores a handle of a token persisted earlier, e.g. on a run record.
	Attach(key models.RepositoryKey, token string) *Handle
	Renew(h *Handle) error
	Release(h *Handle) error
}

var releaseScript = redis.NewScript(1, `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

var renewScript = redis.NewScript(1, `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end`)

type Redis struct {
	pool *redis.Pool
	ttl  time.Duration
	now  func() time.Time
}

var _ Locker = &Redis{}

func NewRedis(pool *redis.Pool, ttl time.Duration) *Redis {
	return &Redis{
		pool: pool,
		ttl:  ttl,
		now:  time.Now,
	}
}

func (l Redis) TTL() time.Duration {
	return l.ttl
}

func genToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func unavailable(err error, format string, args ...interface{}) error {
	return errors.Wrapf(ErrUnavailable, "%s: %s", errors.Errorf(format, args...), err)
}

func (l Redis) Acquire(key models.RepositoryKey) (*Handle, error) {
	token, err := genToken()
	if err != nil {
		return nil, errors.Wrap(err, "can't generate lock token")
	}

	now := l.now()
	h := &Handle{
		Key:        key,
		Token:      token,
		AcquiredAt: now,
		ExpiresAt:  now.Add(l.ttl),
	}

	conn := l.pool.Get()
	defer conn.Close()

	reply, err := redis.String(conn.Do("SET", h.redisKey(), token, "NX", "PX", int64(l.ttl/time.Millisecond)))
	if err != nil {
		if err == redis.ErrNil {
			return nil, ErrBusy
		}
		return nil, unavailable(err, "can't acquire lock of %s", key)
	}
	if reply != "OK" {
		return nil, unavailable(errors.Errorf("unexpected reply %q", reply), "can't acquire lock of %s", key)
	}

	return h, nil
}

func (l Redis) Attach(key models.RepositoryKey, token string) *Handle {
	return &Handle{
		Key:   key,
		Token: token,
	}
}

func (l Redis) Renew(h *Handle) error {
	if h == nil || h.Token == "" {
		return ErrExpired
	}

	conn := l.pool.Get()
	defer conn.Close()

	n, err := redis.Int(renewScript.Do(conn, h.redisKey(), h.Token, int64(l.ttl/time.Millisecond)))
	if err != nil {
		return unavailable(err, "can't renew lock of %s", h.Key)
	}
	if n == 0 {
		return ErrExpired
	}

	h.ExpiresAt = l.now().Add(l.ttl)
	return nil
}

// Release is a no-op for a lock that has expired or was reclaimed by another holder.
func (l Redis) Release(h *Handle) error {
	if h == nil || h.Token == "" {
		return nil
	}

	conn := l.pool.Get()
	defer conn.Close()

	if _, err := releaseScript.Do(conn, h.redisKey(), h.Token); err != nil {
		return unavailable(err, "can't release lock of %s", h.Key)
	}

	return nil
}

// Holder returns the token of the current holder or "" if the lock is free.
func (l Redis) Holder(key models.RepositoryKey) (string, error) {
	conn := l.pool.Get()
	defer conn.Close()

	token, err := redis.String(conn.Do("GET", keyPrefix+key.String()))
	if err != nil {
		if err == redis.ErrNil {
			return "", nil
		}
		return "", unavailable(err, "can't get lock holder of %s", key)
	}

	return token, nil
}
