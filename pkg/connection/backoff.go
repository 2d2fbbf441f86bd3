package connection

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Default reconnect timing.
const (
	InitialBackoff    = 1 * time.Second
	MaxBackoff        = 60 * time.Second
	BackoffMultiplier = 2.0

	// JitterFactor is the largest random extension of a delay, as a
	// fraction of the delay.
	JitterFactor = 0.25
)

// BackoffConfig controls reconnect timing. Zero Initial, Max and Multiplier
// take the defaults; a zero Jitter disables jitter.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// DefaultBackoffConfig returns the default reconnect timing.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    InitialBackoff,
		Max:        MaxBackoff,
		Multiplier: BackoffMultiplier,
		Jitter:     JitterFactor,
	}
}

func (c BackoffConfig) normalized() BackoffConfig {
	if c.Initial <= 0 {
		c.Initial = InitialBackoff
	}
	if c.Max <= 0 {
		c.Max = MaxBackoff
	}
	if c.Max < c.Initial {
		c.Max = c.Initial
	}
	if c.Multiplier <= 1 {
		c.Multiplier = BackoffMultiplier
	}
	c.Jitter = max(c.Jitter, 0)
	return c
}

// Delay returns the un-jittered delay before retry n, counting from zero.
func (c BackoffConfig) Delay(n int) time.Duration {
	c = c.normalized()
	d := float64(c.Initial) * math.Pow(c.Multiplier, float64(n))
	if d >= float64(c.Max) {
		return c.Max
	}
	return time.Duration(d)
}

// Backoff tracks consecutive reconnect attempts of one stream.
type Backoff struct {
	mu       sync.Mutex
	cfg      BackoffConfig
	attempts int
}

// NewBackoff creates a Backoff with the given timing.
func NewBackoff(cfg BackoffConfig) *Backoff {
	return &Backoff{cfg: cfg.normalized()}
}

// Next counts one more attempt and returns how long to wait before it.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := b.cfg.Delay(b.attempts)
	b.attempts++
	if b.cfg.Jitter > 0 {
		d += time.Duration(float64(d) * b.cfg.Jitter * rand.Float64())
	}
	return d
}

// Reset forgets all attempts.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.attempts = 0
	b.mu.Unlock()
}

// ResetIfStable resets the backoff if a connection stayed up longer than the
// current base interval, and reports whether it did. A stream that is
// accepted and then dropped immediately keeps backing off.
func (b *Backoff) ResetIfStable(uptime time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if uptime <= b.cfg.Delay(b.attempts) {
		return false
	}
	b.attempts = 0
	return true
}

// Attempts returns the number of attempts since the last reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Current returns the un-jittered delay the next attempt will wait.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg.Delay(b.attempts)
}
