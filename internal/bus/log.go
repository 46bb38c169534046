package bus

import "log"

// Logger is the small leveled-logging shim the bus uses for
// log_level_no_handler (spec.md §6) and internal diagnostics. The teacher's
// own bus-adjacent modules log with plain stdlib log.Printf/log.Fatalf and
// no leveled-logging library; stdLogger below keeps that convention while
// giving callers an interface they can swap in a test double for.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
}

// stdLogger adapts a *log.Logger (defaulting to log.Default()) to Logger,
// prefixing each line with its level.
type stdLogger struct {
	l *log.Logger
}

// NewStdLogger wraps l as a Logger. A nil l falls back to log.Default().
func NewStdLogger(l *log.Logger) Logger {
	if l == nil {
		l = log.Default()
	}
	return stdLogger{l: l}
}

func (s stdLogger) Debugf(format string, args ...any) { s.l.Printf("DEBUG "+format, args...) }
func (s stdLogger) Infof(format string, args ...any)  { s.l.Printf("INFO "+format, args...) }
func (s stdLogger) Warnf(format string, args ...any)  { s.l.Printf("WARN "+format, args...) }

// logAtLevel dispatches to the Logger method named by level ("debug",
// "info", "warn"), used for log_level_no_handler.
func logAtLevel(logger Logger, level, format string, args ...any) {
	if logger == nil {
		return
	}
	switch level {
	case "info":
		logger.Infof(format, args...)
	case "warn":
		logger.Warnf(format, args...)
	default:
		logger.Debugf(format, args...)
	}
}
