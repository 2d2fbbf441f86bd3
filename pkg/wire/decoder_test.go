package wire

import (
	"strings"
	"testing"
	"time"

	"github.com/phuongtg/spark-cloud-go/pkg/errors"
)

type decoded struct {
	events []Event
	errs   []error
}

func collect(d *Decoder, chunks ...string) decoded {
	var out decoded
	for _, c := range chunks {
		for ev, err := range d.Feed([]byte(c)) {
			if err != nil {
				out.errs = append(out.errs, err)
				continue
			}
			out.events = append(out.events, ev)
		}
	}
	return out
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestDecoder() *Decoder {
	d := NewDecoder(0)
	d.SetClock(func() time.Time { return fixedNow })
	return d
}

func TestDecoderSingleFrame(t *testing.T) {
	d := newTestDecoder()
	out := collect(d, "event: temp/reading\ndata: {\"data\":\"72.5\",\"ttl\":30,\"published_at\":\"2024-01-02T03:04:05.000Z\",\"coreid\":\"abc123\"}\n\n")

	if len(out.errs) != 0 {
		t.Fatalf("unexpected errors: %v", out.errs)
	}
	if len(out.events) != 1 {
		t.Fatalf("got %d events, want 1", len(out.events))
	}

	ev := out.events[0]
	if ev.Name != "temp/reading" {
		t.Errorf("Name = %q, want temp/reading", ev.Name)
	}
	if ev.Data != "72.5" {
		t.Errorf("Data = %q, want 72.5", ev.Data)
	}
	if ev.TTL != 30 {
		t.Errorf("TTL = %d, want 30", ev.TTL)
	}
	if ev.DeviceID != "abc123" {
		t.Errorf("DeviceID = %q, want abc123", ev.DeviceID)
	}
	want := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	if !ev.PublishedAt.Equal(want) {
		t.Errorf("PublishedAt = %v, want %v", ev.PublishedAt, want)
	}
	if d.Buffered() != 0 {
		t.Errorf("Buffered() = %d after complete frame, want 0", d.Buffered())
	}
}

func TestDecoderDefaults(t *testing.T) {
	d := newTestDecoder()
	out := collect(d, "event: ping\ndata: {\"data\":\"x\"}\n\n")

	if len(out.events) != 1 {
		t.Fatalf("got %d events, want 1 (errs: %v)", len(out.events), out.errs)
	}
	ev := out.events[0]
	if ev.TTL != DefaultTTL {
		t.Errorf("TTL = %d, want default %d", ev.TTL, DefaultTTL)
	}
	if !ev.PublishedAt.Equal(fixedNow) {
		t.Errorf("PublishedAt = %v, want receipt time %v", ev.PublishedAt, fixedNow)
	}
	if ev.DeviceID != "" {
		t.Errorf("DeviceID = %q, want empty", ev.DeviceID)
	}
}

func TestDecoderNullData(t *testing.T) {
	d := newTestDecoder()
	out := collect(d, "event: flag\ndata: {\"data\":null,\"ttl\":\"120\"}\n\n")

	if len(out.events) != 1 {
		t.Fatalf("got %d events, want 1 (errs: %v)", len(out.events), out.errs)
	}
	if out.events[0].Data != "" {
		t.Errorf("Data = %q, want empty", out.events[0].Data)
	}
	if out.events[0].TTL != 120 {
		t.Errorf("TTL = %d, want 120 from string ttl", out.events[0].TTL)
	}
}

func TestDecoderSplitChunks(t *testing.T) {
	frame := "event: a/b\ndata: {\"data\":\"1\"}\n\nevent: a/c\ndata: {\"data\":\"2\"}\n\n"

	// Feed one byte at a time; both records must come out, in order.
	d := newTestDecoder()
	var chunks []string
	for i := range len(frame) {
		chunks = append(chunks, frame[i:i+1])
	}
	out := collect(d, chunks...)

	if len(out.errs) != 0 {
		t.Fatalf("unexpected errors: %v", out.errs)
	}
	if len(out.events) != 2 {
		t.Fatalf("got %d events, want 2", len(out.events))
	}
	if out.events[0].Name != "a/b" || out.events[1].Name != "a/c" {
		t.Errorf("order = [%s %s], want [a/b a/c]", out.events[0].Name, out.events[1].Name)
	}
}

func TestDecoderLineEndings(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"LF", "event: x\ndata: {\"data\":\"v\"}\n\n"},
		{"CRLF", "event: x\r\ndata: {\"data\":\"v\"}\r\n\r\n"},
		{"CR", "event: x\rdata: {\"data\":\"v\"}\r\r"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDecoder()
			// A trailing CR is ambiguous until the next byte; a following
			// frame resolves it.
			out := collect(d, tt.input, "event: y\ndata: {}\n\n")
			if len(out.errs) != 0 {
				t.Fatalf("unexpected errors: %v", out.errs)
			}
			if len(out.events) != 2 {
				t.Fatalf("got %d events, want 2", len(out.events))
			}
			if out.events[0].Name != "x" || out.events[0].Data != "v" {
				t.Errorf("first event = %+v", out.events[0])
			}
		})
	}
}

func TestDecoderSkipsComments(t *testing.T) {
	d := newTestDecoder()
	out := collect(d, ":ok\n\n", ":keepalive\n\n\n", "event: real\ndata: {\"data\":\"1\"}\n\n")

	if len(out.errs) != 0 {
		t.Fatalf("unexpected errors: %v", out.errs)
	}
	if len(out.events) != 1 || out.events[0].Name != "real" {
		t.Fatalf("events = %+v, want only 'real'", out.events)
	}
}

func TestDecoderMalformedRecordsDoNotAbort(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"MissingName", "data: {\"data\":\"x\"}\n\n"},
		{"EmptyName", "event: \ndata: {\"data\":\"x\"}\n\n"},
		{"MissingData", "event: x\n\n"},
		{"NotJSON", "event: x\ndata: hello\n\n"},
		{"NegativeTTL", "event: x\ndata: {\"ttl\":-5}\n\n"},
		{"BadTimestamp", "event: x\ndata: {\"published_at\":\"yesterday\"}\n\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDecoder()
			out := collect(d, tt.frame+"event: ok\ndata: {\"data\":\"1\"}\n\n")

			if len(out.errs) != 1 {
				t.Fatalf("got %d errors, want 1", len(out.errs))
			}
			if !errors.Is(out.errs[0], errors.ErrDecode) {
				t.Errorf("error %v is not a decode error", out.errs[0])
			}
			if len(out.events) != 1 || out.events[0].Name != "ok" {
				t.Errorf("decoding did not resume: events = %+v", out.events)
			}
		})
	}
}

func TestDecoderMultiLineData(t *testing.T) {
	d := newTestDecoder()
	out := collect(d, "event: multi\ndata: {\"data\":\ndata: \"joined\"}\n\n")

	if len(out.events) != 1 {
		t.Fatalf("got %d events, want 1 (errs: %v)", len(out.events), out.errs)
	}
	if out.events[0].Data != "joined" {
		t.Errorf("Data = %q, want joined", out.events[0].Data)
	}
}

func TestDecoderOversizedFrame(t *testing.T) {
	d := NewDecoder(64)
	big := "event: big\ndata: {\"data\":\"" + strings.Repeat("x", 200)

	out := collect(d, big)
	if len(out.errs) != 1 || !errors.Is(out.errs[0], errors.ErrDecode) {
		t.Fatalf("errs = %v, want one decode error", out.errs)
	}
	if d.Buffered() != 0 {
		t.Errorf("Buffered() = %d after oversize, want 0", d.Buffered())
	}

	// Rest of the oversized frame is skipped; the next frame decodes.
	out = collect(d, strings.Repeat("y", 100), "\"}\n", "\nevent: small\ndata: {}\n\n")
	if len(out.errs) != 0 {
		t.Fatalf("unexpected errors: %v", out.errs)
	}
	if len(out.events) != 1 || out.events[0].Name != "small" {
		t.Fatalf("events = %+v, want only 'small'", out.events)
	}
}

func TestDecoderOversizedFrameInOneChunk(t *testing.T) {
	d := NewDecoder(32)
	big := "event: big\ndata: {\"data\":\"" + strings.Repeat("x", 64) + "\"}\n\n"

	out := collect(d, big+"event: small\ndata: {}\n\n")
	if len(out.errs) != 1 || !errors.Is(out.errs[0], errors.ErrDecode) {
		t.Fatalf("errs = %v, want one decode error", out.errs)
	}
	if len(out.events) != 1 || out.events[0].Name != "small" {
		t.Fatalf("events = %+v, want only 'small'", out.events)
	}
	if d.Buffered() != 0 {
		t.Errorf("Buffered() = %d, want 0", d.Buffered())
	}
}

func TestDecoderReset(t *testing.T) {
	d := newTestDecoder()
	out := collect(d, "event: half\ndata: {\"da")
	if len(out.events) != 0 {
		t.Fatalf("partial frame produced events: %+v", out.events)
	}
	if d.Buffered() == 0 {
		t.Fatal("partial frame not buffered")
	}

	d.Reset()
	if d.Buffered() != 0 {
		t.Errorf("Buffered() = %d after Reset, want 0", d.Buffered())
	}

	out = collect(d, "event: fresh\ndata: {}\n\n")
	if len(out.events) != 1 || out.events[0].Name != "fresh" {
		t.Fatalf("events = %+v, want only 'fresh'", out.events)
	}
}

func TestDecoderEarlyBreak(t *testing.T) {
	d := newTestDecoder()
	_, _ = d.Write([]byte("event: a\ndata: {}\n\nevent: b\ndata: {}\n\n"))

	for ev, err := range d.Events() {
		if err != nil || ev.Name != "a" {
			t.Fatalf("first = %v, %v", ev, err)
		}
		break
	}

	// The second frame remains available.
	var names []string
	for ev := range d.Events() {
		names = append(names, ev.Name)
	}
	if len(names) != 1 || names[0] != "b" {
		t.Errorf("remaining = %v, want [b]", names)
	}
}

func TestEncodeFrameRoundTrip(t *testing.T) {
	in := Event{
		Name:        "temp/reading",
		Data:        "72.5",
		TTL:         60,
		PublishedAt: time.Date(2024, 3, 4, 5, 6, 7, 8_000_000, time.UTC),
		DeviceID:    "dev1",
	}

	d := newTestDecoder()
	out := collect(d, string(EncodeFrame(in)))
	if len(out.events) != 1 {
		t.Fatalf("got %d events, want 1 (errs: %v)", len(out.events), out.errs)
	}
	got := out.events[0]
	if got.Name != in.Name || got.Data != in.Data || got.TTL != in.TTL || got.DeviceID != in.DeviceID {
		t.Errorf("got %+v, want %+v", got, in)
	}
	if !got.PublishedAt.Equal(in.PublishedAt) {
		t.Errorf("PublishedAt = %v, want %v", got.PublishedAt, in.PublishedAt)
	}
}
