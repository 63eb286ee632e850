package apperrors

import (
	"errors"
	"net/http"

	"github.com/stvp/rollbar"
)

type RollbarTracker struct {
	r       *http.Request
	service string
}

func NewRollbarTracker(token, service, env string) *RollbarTracker {
	rollbar.Environment = env
	rollbar.Token = token

	return &RollbarTracker{
		service: service,
	}
}

func rollbarLevel(level Level) string {
	switch level {
	case LevelError:
		return rollbar.ERR
	case LevelWarn:
		return rollbar.WARN
	}

	panic("invalid level " + level)
}

func (t RollbarTracker) Track(level Level, errorText string, ctx map[string]interface{}) {
	errorClass, detail := splitErrorText(errorText)

	props := map[string]interface{}{}
	for k, v := range ctx {
		props[k] = v
	}
	if detail != "" {
		props["error_detail"] = detail
	}

	fields := []*rollbar.Field{
		{Name: "props", Data: props},
		{Name: "service", Data: t.service},
	}

	err := errors.New(errorClass)
	if t.r != nil {
		rollbar.RequestError(rollbarLevel(level), t.r, err, fields...)
		return
	}

	rollbar.Error(rollbarLevel(level), err, fields...)
}

func (t RollbarTracker) WithHTTPRequest(r *http.Request) Tracker {
	t.r = r
	return t
}
