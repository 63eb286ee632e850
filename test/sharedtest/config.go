package sharedtest

import (
	"strconv"
	"strings"
	"time"

	"github.com/golangci/repohealth/internal/shared/config"
)

// Config is an in-memory config.Config, tests must not depend on the environment.
type Config map[string]string

var _ config.Config = Config{}

func (c Config) GetString(key string) string {
	return c[key]
}

func (c Config) GetStringList(key string) []string {
	if c[key] == "" {
		return nil
	}
	return strings.Split(c[key], ",")
}

func (c Config) GetDuration(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(c[key])
	if err != nil {
		return def
	}
	return d
}

func (c Config) GetInt(key string, def int) int {
	v, err := strconv.Atoi(c[key])
	if err != nil {
		return def
	}
	return v
}

func (c Config) GetBool(key string, def bool) bool {
	v, err := strconv.ParseBool(c[key])
	if err != nil {
		return def
	}
	return v
}
