package workers

import (
	"propmarket/logging"
	"propmarket/models"
)

// LogFunc is a function that logs to the ops DB app_logs table
type LogFunc func(level models.LogLevel, source, message string)

// NoOpLogger does nothing (default)
var NoOpLogger LogFunc = func(level models.LogLevel, source, message string) {}

// OpsLogWriter is the part of the ops DB a LogFunc writes to
type OpsLogWriter interface {
	Log(runID *int64, level models.LogLevel, source, message string) error
}

// OpsLogger persists worker log lines. A failed write only goes to the
// process log.
func OpsLogger(w OpsLogWriter) LogFunc {
	if w == nil {
		return NoOpLogger
	}
	return func(level models.LogLevel, source, message string) {
		if err := w.Log(nil, level, source, message); err != nil {
			logging.Warnf("[Ops] failed to persist %s log: %v", source, err)
		}
	}
}
