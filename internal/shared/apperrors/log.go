package apperrors

import (
	"fmt"

	"github.com/golangci/repohealth/internal/shared/logutil"
)

// WrapLogWithTracker reports every warning and error written to log into t.
func WrapLogWithTracker(log logutil.Log, lctx logutil.Context, t Tracker) logutil.Log {
	return trackedLog{
		Log:  log,
		lctx: lctx,
		t:    t,
	}
}

// trackedLog passes info and debug lines through untouched.
type trackedLog struct {
	logutil.Log
	lctx logutil.Context
	t    Tracker
}

func (tl trackedLog) track(level Level, format string, args []interface{}) string {
	text := fmt.Sprintf(format, args...)
	tl.t.Track(level, text, tl.lctx)
	return text
}

func (tl trackedLog) Fatalf(format string, args ...interface{}) {
	tl.Log.Fatalf("%s", tl.track(LevelError, format, args))
}

func (tl trackedLog) Errorf(format string, args ...interface{}) {
	tl.Log.Errorf("%s", tl.track(LevelError, format, args))
}

func (tl trackedLog) Warnf(format string, args ...interface{}) {
	tl.Log.Warnf("%s", tl.track(LevelWarn, format, args))
}

func (tl trackedLog) Child(name string) logutil.Log {
	return WrapLogWithTracker(tl.Log.Child(name), tl.lctx, tl.t)
}
