package logutil

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus" //nolint:depguard
)

type StderrLog struct {
	name      string
	logger    *logrus.Logger
	level     LogLevel
	debugKeys map[string]bool
}

var _ Log = NewStderrLog("")

func NewStderrLog(name string, debugKeys ...string) *StderrLog {
	sl := &StderrLog{
		name:      name,
		logger:    logrus.New(),
		level:     LogLevelWarn,
		debugKeys: map[string]bool{},
	}

	for _, k := range debugKeys {
		sl.debugKeys[k] = true
	}

	// levels are filtered here, logrus passes everything
	sl.logger.SetLevel(logrus.DebugLevel)
	sl.logger.Out = os.Stderr
	sl.logger.Formatter = &logrus.TextFormatter{
		DisableTimestamp: true,
	}
	return sl
}

// SetOutput redirects log lines, mostly for tests.
func (sl *StderrLog) SetOutput(w io.Writer) {
	sl.logger.Out = w
}

// UseJSONFormat switches the shared logger to one JSON object per line
// with the log name in the "component" field. Children share the switch.
func (sl *StderrLog) UseJSONFormat() {
	sl.logger.Formatter = &logrus.JSONFormatter{}
}

func (sl StderrLog) isJSON() bool {
	_, ok := sl.logger.Formatter.(*logrus.JSONFormatter)
	return ok
}

func (sl StderrLog) write(level logrus.Level, format string, args []interface{}) {
	msg := fmt.Sprintf(format, args...)

	var entry *logrus.Entry
	switch {
	case sl.isJSON():
		entry = sl.logger.WithField("component", sl.name)
	case sl.name != "":
		entry = logrus.NewEntry(sl.logger)
		msg = fmt.Sprintf("[%s] %s", sl.name, msg)
	default:
		entry = logrus.NewEntry(sl.logger)
	}

	switch level {
	case logrus.ErrorLevel:
		entry.Error(msg)
	case logrus.WarnLevel:
		entry.Warn(msg)
	case logrus.InfoLevel:
		entry.Info(msg)
	default:
		entry.Debug(msg)
	}
}

func (sl StderrLog) Fatalf(format string, args ...interface{}) {
	sl.write(logrus.ErrorLevel, format, args)
	os.Exit(1)
}

func (sl StderrLog) Errorf(format string, args ...interface{}) {
	if sl.level <= LogLevelError {
		sl.write(logrus.ErrorLevel, format, args)
	}
}

func (sl StderrLog) Warnf(format string, args ...interface{}) {
	if sl.level <= LogLevelWarn {
		sl.write(logrus.WarnLevel, format, args)
	}
}

func (sl StderrLog) Infof(format string, args ...interface{}) {
	if sl.level <= LogLevelInfo {
		sl.write(logrus.InfoLevel, format, args)
	}
}

func (sl StderrLog) Debugf(key string, format string, args ...interface{}) {
	if sl.level <= LogLevelDebug && sl.debugKeys[key] {
		sl.write(logrus.DebugLevel, format, args)
	}
}

func (sl StderrLog) Child(name string) Log {
	child := sl
	if sl.name != "" {
		child.name = sl.name + "/" + name
	} else {
		child.name = name
	}

	return &child
}

func (sl *StderrLog) SetLevel(level LogLevel) {
	sl.level = level
}
