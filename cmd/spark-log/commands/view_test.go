package commands

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/phuongtg/spark-cloud-go/pkg/log"
)

func TestFormatFrameEvent(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 15, 32, 123456000, time.UTC)
	event := log.Event{
		Timestamp:    ts,
		ConnectionID: "abc12345-6789-0123-4567-890abcdef012",
		Direction:    log.DirectionIn,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		Scope:        "public",
		Frame:        log.NewFrameEvent([]byte("event: x\ndata: {}\n\n")),
	}

	var buf bytes.Buffer
	formatEvent(&buf, event)
	output := buf.String()

	for _, want := range []string{
		"2026-01-28T10:15:32.123456Z",
		"[conn:abc12345]",
		"IN",
		"TRANSPORT",
		"Frame (public)",
		"19 bytes",
		`"event: x\ndata: {}\n\n"`,
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}
}

func TestFormatBinaryFrame(t *testing.T) {
	event := log.Event{Frame: &log.FrameEvent{Size: 2, Data: []byte{0xff, 0xfe}, Truncated: true}}

	var buf bytes.Buffer
	formatEvent(&buf, event)
	if !strings.Contains(buf.String(), "Data: fffe (truncated)") {
		t.Errorf("expected hex data, got:\n%s", buf.String())
	}
}

func TestFormatRecordEvent(t *testing.T) {
	published := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	private := true
	matched := 3
	event := log.Event{
		Timestamp: published,
		Direction: log.DirectionIn,
		Layer:     log.LayerWire,
		DeviceID:  "dev42",
		Record: &log.RecordEvent{
			Name:        "temp/reading",
			Data:        "72.5",
			TTL:         60,
			PublishedAt: &published,
			Private:     &private,
			Matched:     &matched,
		},
	}

	var buf bytes.Buffer
	formatEvent(&buf, event)
	output := buf.String()

	for _, want := range []string{
		"WIRE Record",
		"Event: temp/reading",
		"Data: 72.5",
		"TTL: 60s",
		"Device: dev42",
		"Published: 2026-01-28T10:00:00Z",
		"Private: true",
		"Matched: 3",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}
}

func TestFormatStateChangeEvent(t *testing.T) {
	event := log.Event{
		Category: log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: "STREAMING",
			NewState: "DISCONNECTED",
			Reason:   "connection read: EOF",
		},
	}

	var buf bytes.Buffer
	formatEvent(&buf, event)
	output := buf.String()

	if !strings.Contains(output, "STREAMING -> DISCONNECTED") {
		t.Errorf("expected transition, got:\n%s", output)
	}
	if !strings.Contains(output, "Reason: connection read: EOF") {
		t.Errorf("expected reason, got:\n%s", output)
	}
}

func TestFormatControlMsgEvent(t *testing.T) {
	tests := []struct {
		ctrl  log.ControlMsgEvent
		label string
		extra string
	}{
		{log.ControlMsgEvent{Type: log.ControlMsgKeepAlive}, "KEEPALIVE", ""},
		{log.ControlMsgEvent{Type: log.ControlMsgRefresh}, "REFRESH", ""},
		{log.ControlMsgEvent{Type: log.ControlMsgBackoff, Attempt: 2, Delay: 1500 * time.Millisecond}, "BACKOFF", "Delay: 1.500s"},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			ctrl := tt.ctrl
			event := log.Event{Category: log.CategoryControl, ControlMsg: &ctrl}

			var buf bytes.Buffer
			formatEvent(&buf, event)
			output := buf.String()

			if !strings.Contains(output, "CTRL "+tt.label) {
				t.Errorf("expected CTRL %s, got:\n%s", tt.label, output)
			}
			if tt.extra != "" && !strings.Contains(output, tt.extra) {
				t.Errorf("expected %q, got:\n%s", tt.extra, output)
			}
		})
	}
}

func TestFormatErrorEvent(t *testing.T) {
	code := 401
	event := log.Event{
		Category: log.CategoryError,
		Error:    &log.ErrorEventData{Layer: log.LayerTransport, Message: "invalid_token", Code: &code, Context: "auth"},
	}

	var buf bytes.Buffer
	formatEvent(&buf, event)
	output := buf.String()
	for _, want := range []string{"Error", "Message: invalid_token", "Code: 401", "Context: auth"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}
}

func TestRunViewAppliesFilter(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	path := createTestLogFile(t, []log.Event{
		recordEvent(ts, "public", "temp/a"),
		recordEvent(ts, "mine", "temp/b"),
		{Timestamp: ts, Layer: log.LayerTransport, Scope: "public", Frame: &log.FrameEvent{Size: 1}},
	})

	wire := log.LayerWire
	var buf bytes.Buffer
	if err := RunView(path, ViewFilter{Layer: &wire, Scope: "public"}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	output := buf.String()

	if !strings.Contains(output, "temp/a") {
		t.Errorf("expected temp/a in output:\n%s", output)
	}
	if strings.Contains(output, "temp/b") || strings.Contains(output, "Frame") {
		t.Errorf("filter not applied:\n%s", output)
	}
}

func TestRunViewStopsAtTruncatedRecord(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	path := createTestLogFile(t, []log.Event{
		recordEvent(ts, "public", "temp/a"),
		recordEvent(ts, "public", "temp/b"),
	})
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := os.WriteFile(path, data[:len(data)-3], 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	var buf bytes.Buffer
	if err := RunView(path, ViewFilter{}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	output := buf.String()
	if !strings.Contains(output, "temp/a") {
		t.Errorf("expected temp/a in output:\n%s", output)
	}
	if !strings.Contains(output, "truncated") {
		t.Errorf("expected truncation note:\n%s", output)
	}
}

func TestParseLayer(t *testing.T) {
	tests := []struct {
		input   string
		want    log.Layer
		wantErr bool
	}{
		{"transport", log.LayerTransport, false},
		{"WIRE", log.LayerWire, false},
		{"Router", log.LayerRouter, false},
		{"service", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseLayer(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseLayer(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseLayer(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseDirection(t *testing.T) {
	tests := []struct {
		input   string
		want    log.Direction
		wantErr bool
	}{
		{"in", log.DirectionIn, false},
		{"OUT", log.DirectionOut, false},
		{"both", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseDirection(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseDirection(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseDirection(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseCategory(t *testing.T) {
	tests := []struct {
		input   string
		want    log.Category
		wantErr bool
	}{
		{"message", log.CategoryMessage, false},
		{"Control", log.CategoryControl, false},
		{"STATE", log.CategoryState, false},
		{"error", log.CategoryError, false},
		{"snapshot", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseCategory(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseCategory(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseCategory(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
