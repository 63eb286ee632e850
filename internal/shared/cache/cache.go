package cache

import (
	"time"
)

// Cache is a json-values cache with tag based invalidation.
type Cache interface {
	// Get returns false on a cache miss.
	Get(key string, dest interface{}) (bool, error)
	Set(key string, expireTimeout time.Duration, value interface{}, tags ...string) error

	// InvalidateTags drops every key stored with any of the tags.
	InvalidateTags(tags ...string) error
}
