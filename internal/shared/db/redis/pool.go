package redis

import (
	"fmt"
	"time"

	"github.com/garyburd/redigo/redis"
	"github.com/golangci/repohealth/internal/shared/config"
	"github.com/pkg/errors"
)

// PoolOptions bound every connection of the pool. Lock renewals and cache
// reads go through it, so the timeouts must stay below the lock TTL.
type PoolOptions struct {
	MaxIdle     int
	MaxActive   int
	IdleTimeout time.Duration
	IOTimeout   time.Duration
}

func OptionsFromConfig(cfg config.Config) PoolOptions {
	return PoolOptions{
		MaxIdle:     cfg.GetInt("REDIS_MAX_IDLE", 10),
		MaxActive:   cfg.GetInt("REDIS_MAX_ACTIVE", 0),
		IdleTimeout: cfg.GetDuration("REDIS_IDLE_TIMEOUT", 4*time.Minute),
		IOTimeout:   cfg.GetDuration("REDIS_IO_TIMEOUT", 5*time.Second),
	}
}

func GetPool(cfg config.Config) (*redis.Pool, error) {
	redisURL, err := GetURL(cfg)
	if err != nil {
		return nil, err
	}

	return NewPool(redisURL, OptionsFromConfig(cfg)), nil
}

func NewPool(redisURL string, opts PoolOptions) *redis.Pool {
	return &redis.Pool{
		MaxIdle:     opts.MaxIdle,
		MaxActive:   opts.MaxActive,
		IdleTimeout: opts.IdleTimeout,
		TestOnBorrow: func(c redis.Conn, usedAt time.Time) error {
			if time.Since(usedAt) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
		Dial: func() (redis.Conn, error) {
			return redis.DialURL(redisURL,
				redis.DialConnectTimeout(opts.IOTimeout),
				redis.DialReadTimeout(opts.IOTimeout),
				redis.DialWriteTimeout(opts.IOTimeout))
		},
	}
}

func GetURL(cfg config.Config) (string, error) {
	if redisURL := cfg.GetString("REDIS_URL"); redisURL != "" {
		return redisURL, nil
	}

	host := cfg.GetString("REDIS_HOST")
	if host == "" {
		return "", errors.New("no REDIS_URL or REDIS_HOST in config")
	}

	if password := cfg.GetString("REDIS_PASSWORD"); password != "" {
		return fmt.Sprintf("redis://h:%s@%s", password, host), nil
	}
	return "redis://" + host, nil
}
