package transportutil

import (
	"fmt"
	"strings"

	"github.com/go-kit/kit/log"
	"github.com/golangci/repohealth/internal/shared/logutil"
)

// AdaptErrorLogger makes log usable as go-kit ServerErrorLogger.
// Encoded errors are already reported by the error encoder, so these lines are info only.
func AdaptErrorLogger(log logutil.Log) log.Logger {
	return errorLog{
		sourceLogger: log,
	}
}

type errorLog struct {
	sourceLogger logutil.Log
}

func (el errorLog) Log(keyvals ...interface{}) error {
	el.sourceLogger.Infof("transport: %s", formatKeyvals(keyvals))
	return nil
}

func formatKeyvals(keyvals []interface{}) string {
	parts := make([]string, 0, (len(keyvals)+1)/2)
	for i := 0; i < len(keyvals); i += 2 {
		if i+1 == len(keyvals) {
			parts = append(parts, fmt.Sprint(keyvals[i]))
			break
		}
		parts = append(parts, fmt.Sprintf("%v=%v", keyvals[i], keyvals[i+1]))
	}

	return strings.Join(parts, " ")
}
