package apperrors

import (
	"fmt"
	"net/http"

	"github.com/getsentry/raven-go"
	"github.com/pkg/errors"
)

type SentryTracker struct {
	r       *http.Request
	service string
}

func NewSentryTracker(dsn, service, env string) (*SentryTracker, error) {
	raven.SetEnvironment(env)
	if err := raven.SetDSN(dsn); err != nil {
		return nil, errors.Wrap(err, "can't set sentry dsn")
	}

	return &SentryTracker{service: service}, nil
}

func (t SentryTracker) Track(level Level, errorText string, ctx map[string]interface{}) {
	tags := map[string]string{
		"service": t.service,
	}
	for k, v := range ctx {
		tags[k] = fmt.Sprintf("%v", v)
	}

	var interfaces []raven.Interface
	if t.r != nil {
		interfaces = append(interfaces, raven.NewHttp(t.r))
	}

	errorClass, _ := splitErrorText(errorText)
	p := raven.NewPacket(errorText, interfaces...)
	p.Fingerprint = []string{t.service, errorClass}

	if level == LevelWarn {
		p.Level = raven.WARNING
	} else {
		p.Level = raven.ERROR
	}

	raven.Capture(p, tags)
}

func (t SentryTracker) WithHTTPRequest(r *http.Request) Tracker {
	t.r = r
	return t
}
