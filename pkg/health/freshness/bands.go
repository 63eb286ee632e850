package freshness

import (
	"fmt"
	"time"
)

const (
	DefaultStale       = 5 * time.Minute
	DefaultExpireGrace = time.Hour
)

type CacheState string

const (
	// CacheFresh values are served as is.
	CacheFresh CacheState = "fresh"
	// CacheStale values are served while a background refresh is scheduled.
	CacheStale CacheState = "stale"
	// CacheExpired values must not be served.
	CacheExpired CacheState = "expired"
)

// Bands govern the read-side cache only, not the decision to launch analyses.
type Bands struct {
	// Stale is how long clients may reuse a response without asking again.
	Stale      time.Duration
	Revalidate time.Duration
	Expire     time.Duration
}

func DefaultBands(window time.Duration) Bands {
	return Bands{
		Stale:      DefaultStale,
		Revalidate: window,
		Expire:     window + DefaultExpireGrace,
	}
}

func (b Bands) Validate() error {
	if b.Stale <= 0 {
		return fmt.Errorf("stale band must be positive, got %s", b.Stale)
	}
	if b.Stale > b.Revalidate || b.Revalidate > b.Expire {
		return fmt.Errorf("bands must be ordered stale <= revalidate <= expire, got %s, %s, %s",
			b.Stale, b.Revalidate, b.Expire)
	}

	return nil
}

func (b Bands) StateFor(age time.Duration) CacheState {
	switch {
	case age < b.Revalidate:
		return CacheFresh
	case age < b.Expire:
		return CacheStale
	default:
		return CacheExpired
	}
}
