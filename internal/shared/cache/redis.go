package cache

import (
	"encoding/json"
	"time"

	"github.com/garyburd/redigo/redis"
	"github.com/pkg/errors"
)

const (
	keyPrefix = "cache/"
	tagPrefix = "cache-tags/"
)

type Redis struct {
	pool *redis.Pool
}

var _ Cache = &Redis{}

func NewRedis(pool *redis.Pool) *Redis {
	return &Redis{
		pool: pool,
	}
}

func (r Redis) Get(key string, dest interface{}) (bool, error) {
	key = keyPrefix + key

	conn := r.pool.Get()
	defer conn.Close()

	data, err := redis.Bytes(conn.Do("GET", key))
	if err != nil {
		if err == redis.ErrNil {
			return false, nil
		}
		return false, errors.Wrapf(err, "error getting key %s", key)
	}

	if err = json.Unmarshal(data, dest); err != nil {
		return false, errors.Wrapf(err, "can't unmarshal json of key %s from redis", key)
	}

	return true, nil
}

func (r Redis) Set(key string, expireTimeout time.Duration, value interface{}, tags ...string) error {
	key = keyPrefix + key

	valueBytes, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, "can't json marshal value")
	}

	expireSec := int(expireTimeout / time.Second)
	if expireSec <= 0 {
		expireSec = 1
	}

	conn := r.pool.Get()
	defer conn.Close()

	if err = conn.Send("MULTI"); err != nil {
		return errors.Wrap(err, "can't start redis transaction")
	}
	if err = conn.Send("SETEX", key, expireSec, valueBytes); err != nil {
		return errors.Wrapf(err, "can't queue setting of key %s", key)
	}
	for _, tag := range tags {
		tagKey := tagPrefix + tag
		if err = conn.Send("SADD", tagKey, key); err != nil {
			return errors.Wrapf(err, "can't queue tagging of key %s with %s", key, tag)
		}
		// tag sets outlive their keys a bit: stale members are harmless
		if err = conn.Send("EXPIRE", tagKey, expireSec*2); err != nil {
			return errors.Wrapf(err, "can't queue expiration of tag %s", tag)
		}
	}

	if _, err = conn.Do("EXEC"); err != nil {
		v := string(valueBytes)
		if len(v) > 15 {
			v = v[0:12] + "..."
		}
		return errors.Wrapf(err, "error setting key %s to %s", key, v)
	}

	return nil
}

func (r Redis) InvalidateTags(tags ...string) error {
	conn := r.pool.Get()
	defer conn.Close()

	for _, tag := range tags {
		tagKey := tagPrefix + tag
		keys, err := redis.Strings(conn.Do("SMEMBERS", tagKey))
		if err != nil {
			return errors.Wrapf(err, "can't get keys of tag %s", tag)
		}

		args := make([]interface{}, 0, len(keys)+1)
		for _, k := range keys {
			args = append(args, k)
		}
		args = append(args, tagKey)

		if _, err = conn.Do("DEL", args...); err != nil {
			return errors.Wrapf(err, "can't delete %d keys of tag %s", len(keys), tag)
		}
	}

	return nil
}
