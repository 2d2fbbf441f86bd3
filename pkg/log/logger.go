package log

// Logger receives protocol capture events from streams, the router and
// publish calls. Log is called on stream goroutines, so it must be safe for
// concurrent use and should not block: a slow Log delays event delivery on
// that scope.
type Logger interface {
	Log(event Event)
}

// NoopLogger discards every event. The zero value is ready to use.
type NoopLogger struct{}

// Log does nothing.
func (NoopLogger) Log(Event) {}

// LoggerFunc adapts a function to Logger.
type LoggerFunc func(Event)

// Log calls f(event).
func (f LoggerFunc) Log(event Event) { f(event) }

// MultiLogger fans each event out to several loggers in order, for example
// a FileLogger capture alongside a SlogAdapter echo.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger returns a MultiLogger over loggers. Nil and NoopLogger
// entries are skipped and nested MultiLoggers are flattened.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	m := &MultiLogger{}
	for _, l := range loggers {
		m.add(l)
	}
	return m
}

func (m *MultiLogger) add(l Logger) {
	switch l := l.(type) {
	case nil, NoopLogger, *NoopLogger:
	case *MultiLogger:
		if l != nil {
			m.loggers = append(m.loggers, l.loggers...)
		}
	default:
		m.loggers = append(m.loggers, l)
	}
}

// Len returns the number of loggers events are sent to.
func (m *MultiLogger) Len() int { return len(m.loggers) }

// Log sends event to every logger.
func (m *MultiLogger) Log(event Event) {
	for _, l := range m.loggers {
		l.Log(event)
	}
}

// Combine returns the cheapest Logger covering loggers: NoopLogger when none
// remain after skipping nil and no-op entries, the logger itself when one
// remains, and a MultiLogger otherwise.
func Combine(loggers ...Logger) Logger {
	m := NewMultiLogger(loggers...)
	switch m.Len() {
	case 0:
		return NoopLogger{}
	case 1:
		return m.loggers[0]
	default:
		return m
	}
}

var (
	_ Logger = NoopLogger{}
	_ Logger = LoggerFunc(nil)
	_ Logger = (*MultiLogger)(nil)
)
