package corert

import (
	"sync"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Package-level structured logger, following the same "shared
// infrastructure, avoid per-instance configuration surface" rationale the
// teacher's logging.go documents: every component instance in a process
// shares logging semantics, and configuring it per-Pool/per-Loop/per-Actor
// would multiply the configuration surface for no benefit.
var globalLogger struct {
	sync.RWMutex
	logger *logiface.Logger[*stumpy.Event]
}

// SetLogger installs the package-level structured logger used by every
// [Pool], [Loop], [Actor], and [Supervisor] in the process. Pass nil to
// disable logging (the default).
func SetLogger(logger *logiface.Logger[*stumpy.Event]) {
	globalLogger.Lock()
	defer globalLogger.Unlock()
	globalLogger.logger = logger
}

// NewStdoutLogger returns a stumpy-backed logger writing JSON lines to
// stdout at the given minimum level, suitable for passing to [SetLogger].
func NewStdoutLogger(level logiface.Level) *logiface.Logger[*stumpy.Event] {
	return stumpy.L.New(
		stumpy.L.WithLevel(level),
		stumpy.L.WithStumpy(),
	)
}

// loggerBuilder is a shorthand for the concrete builder type every
// component's log call sites fill in via a small closure.
type loggerBuilder = logiface.Builder[*stumpy.Event]

func getLogger() *logiface.Logger[*stumpy.Event] {
	globalLogger.RLock()
	defer globalLogger.RUnlock()
	return globalLogger.logger
}

// logEvent is a small convenience used by component internals; it is a
// no-op when no logger has been installed, so the hot dispatch paths never
// pay for string formatting unless logging is enabled.
func logEvent(level logiface.Level, component, name string, fields func(*loggerBuilder), msg string) {
	l := getLogger()
	if l == nil {
		return
	}
	b := l.Build(level)
	if b == nil || !b.Enabled() {
		return
	}
	b = b.Str("component", component).Str("name", name)
	if fields != nil {
		fields(b)
	}
	b.Log(msg)
}

func logInfo(component, name string, fields func(*loggerBuilder), msg string) {
	logEvent(logiface.LevelInformational, component, name, fields, msg)
}

func logWarn(component, name string, fields func(*loggerBuilder), msg string) {
	logEvent(logiface.LevelWarning, component, name, fields, msg)
}

func logErr(component, name string, fields func(*loggerBuilder), msg string) {
	logEvent(logiface.LevelError, component, name, fields, msg)
}

// withDur is a small helper for attaching a duration field, used by several
// call sites logging latency/elapsed time.
func withDur(key string, d time.Duration) func(*loggerBuilder) {
	return func(b *loggerBuilder) { b.Dur(key, d) }
}
