package connection

import (
	"testing"
	"time"
)

func TestBackoffConfigDelay(t *testing.T) {
	tests := []struct {
		name string
		cfg  BackoffConfig
		want []time.Duration
	}{
		{
			name: "defaults",
			cfg:  DefaultBackoffConfig(),
			want: []time.Duration{
				time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
				16 * time.Second, 32 * time.Second, time.Minute, time.Minute,
			},
		},
		{
			name: "zero config takes defaults",
			cfg:  BackoffConfig{},
			want: []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
		},
		{
			name: "custom",
			cfg:  BackoffConfig{Initial: 100 * time.Millisecond, Max: 500 * time.Millisecond, Multiplier: 3},
			want: []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 500 * time.Millisecond, 500 * time.Millisecond},
		},
		{
			name: "max below initial",
			cfg:  BackoffConfig{Initial: time.Second, Max: time.Millisecond},
			want: []time.Duration{time.Second, time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for n, want := range tt.want {
				if got := tt.cfg.Delay(n); got != want {
					t.Errorf("Delay(%d) = %v, want %v", n, got, want)
				}
			}
		})
	}
}

func TestBackoffNextWithoutJitter(t *testing.T) {
	b := NewBackoff(BackoffConfig{Initial: 10 * time.Millisecond, Max: 35 * time.Millisecond})

	for i, want := range []time.Duration{10, 20, 35, 35} {
		if got := b.Next(); got != want*time.Millisecond {
			t.Errorf("Next() #%d = %v, want %v", i+1, got, want*time.Millisecond)
		}
		if b.Attempts() != i+1 {
			t.Errorf("Attempts() = %d, want %d", b.Attempts(), i+1)
		}
	}

	b.Reset()
	if b.Attempts() != 0 || b.Current() != 10*time.Millisecond {
		t.Errorf("after Reset: attempts %d, current %v", b.Attempts(), b.Current())
	}
}

func TestBackoffJitterStaysInRange(t *testing.T) {
	cfg := DefaultBackoffConfig()
	upper := time.Duration(float64(InitialBackoff) * (1 + JitterFactor))

	seen := make(map[time.Duration]bool)
	for range 20 {
		b := NewBackoff(cfg)
		d := b.Next()
		if d < InitialBackoff || d > upper {
			t.Fatalf("jittered delay %v outside [%v, %v]", d, InitialBackoff, upper)
		}
		seen[d] = true
	}
	if len(seen) < 2 {
		t.Error("jitter produced identical delays")
	}
}

func TestBackoffResetIfStable(t *testing.T) {
	b := NewBackoff(BackoffConfig{Initial: 100 * time.Millisecond, Max: time.Second})

	b.Next()
	b.Next()
	if b.Current() != 400*time.Millisecond {
		t.Fatalf("Current() = %v, want 400ms", b.Current())
	}

	// Dropped before the current interval elapsed.
	if b.ResetIfStable(300 * time.Millisecond) {
		t.Error("ResetIfStable(300ms) reset a 400ms backoff")
	}
	if b.Attempts() != 2 {
		t.Errorf("Attempts() = %d after short uptime, want 2", b.Attempts())
	}

	if !b.ResetIfStable(500 * time.Millisecond) {
		t.Error("ResetIfStable(500ms) did not reset a 400ms backoff")
	}
	if b.Current() != 100*time.Millisecond || b.Attempts() != 0 {
		t.Errorf("after reset: Current() = %v, Attempts() = %d", b.Current(), b.Attempts())
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateConnecting, "CONNECTING"},
		{StateStreaming, "STREAMING"},
		{StateDisconnected, "DISCONNECTED"},
		{StateReconnecting, "RECONNECTING"},
		{StateClosed, "CLOSED"},
		{State(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
			}
		})
	}
}
