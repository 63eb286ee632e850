package apperrors

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/golangci/repohealth/internal/shared/config"
	"github.com/golangci/repohealth/internal/shared/logutil"
)

type Level string

const (
	LevelError Level = "ERROR"
	LevelWarn  Level = "WARN"
)

type Tracker interface {
	Track(level Level, errorText string, ctx map[string]interface{})
	WithHTTPRequest(r *http.Request) Tracker
}

// GetTracker picks the error tracker enabled in cfg, rollbar first.
func GetTracker(cfg config.Config, log logutil.Log, service string) Tracker {
	env := cfg.GetString("GO_ENV")

	if cfg.GetBool("ROLLBAR_ENABLED", false) {
		return NewRollbarTracker(cfg.GetString("ROLLBAR_TOKEN"), service, env)
	}

	if cfg.GetBool("SENTRY_ENABLED", false) {
		t, err := NewSentryTracker(cfg.GetString("SENTRY_DSN"), service, env)
		if err != nil {
			log.Warnf("Can't make sentry error tracker: %s", err)
			return NopTracker{}
		}

		return t
	}

	return NopTracker{}
}

type NopTracker struct{}

func (t NopTracker) Track(level Level, errorText string, ctx map[string]interface{}) {}

func (t NopTracker) WithHTTPRequest(r *http.Request) Tracker {
	return t
}

var (
	runIDRe  = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
	numberRe = regexp.MustCompile(`\b\d+\b`)
)

// splitErrorText returns the grouping class of an error text and the rest of it.
// Run ids and numbers in the class are masked so that one failure of many runs
// lands in one group.
func splitErrorText(errorText string) (string, string) {
	class, detail := errorText, ""
	if parts := strings.SplitN(errorText, ": ", 2); len(parts) == 2 {
		class, detail = parts[0], parts[1]
	}

	class = runIDRe.ReplaceAllString(class, "<run>")
	class = numberRe.ReplaceAllString(class, "<n>")
	return class, detail
}
