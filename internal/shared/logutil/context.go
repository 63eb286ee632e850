package logutil

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fatih/color"
)

// Context holds request or run attributes appended to every log line.
// It's filled while the request is decoded, so it's read on each write.
type Context map[string]interface{}

func WrapLogWithContext(log Log, lctx Context) Log {
	return contextLog{
		Log:  log,
		lctx: lctx,
	}
}

type contextLog struct {
	Log
	lctx Context
}

func (lctx Context) String() string {
	if len(lctx) == 0 {
		return ""
	}

	keys := make([]string, 0, len(lctx))
	for k := range lctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%v", color.YellowString(k), lctx[k]))
	}
	return "[" + strings.Join(pairs, " ") + "]"
}

func (cl contextLog) line(format string, args []interface{}) string {
	msg := fmt.Sprintf(format, args...)
	if ctx := cl.lctx.String(); ctx != "" {
		return msg + " " + ctx
	}
	return msg
}

func (cl contextLog) Fatalf(format string, args ...interface{}) {
	cl.Log.Fatalf("%s", cl.line(format, args))
}

func (cl contextLog) Errorf(format string, args ...interface{}) {
	cl.Log.Errorf("%s", cl.line(format, args))
}

func (cl contextLog) Warnf(format string, args ...interface{}) {
	cl.Log.Warnf("%s", cl.line(format, args))
}

func (cl contextLog) Infof(format string, args ...interface{}) {
	cl.Log.Infof("%s", cl.line(format, args))
}

func (cl contextLog) Debugf(key string, format string, args ...interface{}) {
	cl.Log.Debugf(key, "%s", cl.line(format, args))
}

func (cl contextLog) Child(name string) Log {
	return WrapLogWithContext(cl.Log.Child(name), cl.lctx)
}
