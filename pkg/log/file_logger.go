package log

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
)

// FileLogger appends capture records to an .elog file. Captures carry
// private device data, so new files are readable by the owner only.
// It is safe for concurrent use.
type FileLogger struct {
	path    string
	mu      sync.Mutex
	file    *os.File
	encoder *Encoder
	closed  bool

	written atomic.Int64
	failed  atomic.Int64
}

// NewFileLogger opens path for appending, creating it with mode 0600.
func NewFileLogger(path string) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("open capture %s: %w", path, err)
	}
	return &FileLogger{
		path:    path,
		file:    f,
		encoder: NewEncoder(f),
	}, nil
}

// Path returns the capture file path.
func (l *FileLogger) Path() string { return l.path }

// Written returns the number of records written.
func (l *FileLogger) Written() int64 { return l.written.Load() }

// Failed returns the number of records that could not be written.
func (l *FileLogger) Failed() int64 { return l.failed.Load() }

// Log appends one record. Write failures are counted, not returned: a
// broken capture must not stall the stream that produced the event.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	if err := l.encoder.Encode(event); err != nil {
		l.failed.Add(1)
		return
	}
	l.written.Add(1)
}

// Sync flushes written records to stable storage.
func (l *FileLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	return l.file.Sync()
}

// Close closes the file. Later Log calls are ignored. Safe to call twice.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}
