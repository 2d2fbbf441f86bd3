package transport

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phuongtg/spark-cloud-go/pkg/errors"
)

// DefaultIdleTimeout is how long a stream may go without any bytes before it
// is considered dead. The cloud emits keep-alive comments well inside this.
const DefaultIdleTimeout = 90 * time.Second

// ErrIdleTimeout is returned by IdleReader.Read after the watchdog fired.
var ErrIdleTimeout = errors.New("stream idle timeout")

// Watchdog calls onIdle once if Kick is not called within timeout.
type Watchdog struct {
	timeout time.Duration
	onIdle  func()

	mu       sync.Mutex
	timer    *time.Timer
	deadline time.Time
	stopped  bool
	fired    atomic.Bool
}

// NewWatchdog creates and arms a watchdog. A timeout <= 0 selects
// DefaultIdleTimeout.
func NewWatchdog(timeout time.Duration, onIdle func()) *Watchdog {
	if timeout <= 0 {
		timeout = DefaultIdleTimeout
	}
	w := &Watchdog{
		timeout: timeout,
		onIdle:  onIdle,
	}
	w.mu.Lock()
	w.deadline = time.Now().Add(timeout)
	w.timer = time.AfterFunc(timeout, w.fire)
	w.mu.Unlock()
	return w
}

func (w *Watchdog) fire() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	// A Kick may have raced with the timer firing.
	if remaining := time.Until(w.deadline); remaining > 0 {
		w.timer.Reset(remaining)
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.mu.Unlock()

	w.fired.Store(true)
	if w.onIdle != nil {
		w.onIdle()
	}
}

// Kick restarts the idle period. No-op after Stop or after firing.
func (w *Watchdog) Kick() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.deadline = time.Now().Add(w.timeout)
	w.timer.Reset(w.timeout)
}

// Stop disarms the watchdog. Safe to call multiple times.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	w.timer.Stop()
}

// Fired reports whether the idle timeout elapsed.
func (w *Watchdog) Fired() bool {
	return w.fired.Load()
}

// Timeout returns the configured idle period.
func (w *Watchdog) Timeout() time.Duration {
	return w.timeout
}

// IdleReader wraps a stream body and closes it when no bytes arrive for the
// idle timeout. A Read interrupted that way returns ErrIdleTimeout.
type IdleReader struct {
	rc io.ReadCloser
	wd *Watchdog
}

// NewIdleReader starts watching rc.
func NewIdleReader(rc io.ReadCloser, timeout time.Duration) *IdleReader {
	r := &IdleReader{rc: rc}
	r.wd = NewWatchdog(timeout, func() { _ = rc.Close() })
	return r
}

// Read reads from the underlying body, restarting the idle period on data.
func (r *IdleReader) Read(p []byte) (int, error) {
	n, err := r.rc.Read(p)
	if r.wd.Fired() {
		return n, ErrIdleTimeout
	}
	if n > 0 {
		r.wd.Kick()
	}
	return n, err
}

// Close stops the watchdog and closes the body.
func (r *IdleReader) Close() error {
	r.wd.Stop()
	return r.rc.Close()
}
