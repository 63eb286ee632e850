package gormdb

import (
	"fmt"
	"strings"
	"time"

	"github.com/golangci/repohealth/internal/shared/logutil"
)

func NewLogger(log logutil.Log) Logger {
	return logger{
		log: log,
	}
}

// Logger is accepted by (*gorm.DB).SetLogger.
type Logger interface {
	Print(values ...interface{})
}

type logger struct {
	log logutil.Log
}

// Print receives gorm log records: ("sql", source, duration, query, values, rows) or (level, source, message...).
func (l logger) Print(values ...interface{}) {
	if len(values) < 2 {
		return
	}

	if values[0] == "sql" && len(values) >= 5 {
		var duration time.Duration
		if d, ok := values[2].(time.Duration); ok {
			duration = d
		}
		l.log.Debugf("sql", "[%s] %s %v", duration, values[3], values[4])
		return
	}

	parts := make([]string, 0, len(values)-2)
	for _, v := range values[2:] {
		parts = append(parts, fmt.Sprint(v))
	}
	l.log.Warnf("gorm: %s (%v)", strings.Join(parts, " "), values[1])
}
