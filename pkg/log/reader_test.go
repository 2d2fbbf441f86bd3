package log

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func createTestLogFile(t *testing.T, events []Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.elog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create test log: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	logger.Close()

	return path
}

func readEvents(t *testing.T, r *Reader) []Event {
	t.Helper()
	var out []Event
	for {
		event, err := r.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		out = append(out, event)
	}
}

// streamSession is a capture of one public stream and one mine stream
// going through a reconnect, plus a publish.
func streamSession(base time.Time) []Event {
	at := func(s int) time.Time { return base.Add(time.Duration(s) * time.Second) }
	matched := 1
	return []Event{
		{Timestamp: at(0), ConnectionID: "pub-1", Category: CategoryState, Scope: "public",
			StateChange: &StateChangeEvent{Entity: StateEntityConnection, OldState: "CONNECTING", NewState: "STREAMING"}},
		{Timestamp: at(1), ConnectionID: "pub-1", Layer: LayerTransport, Scope: "public",
			Frame: NewFrameEvent([]byte("event: temp/a\ndata: {}\n\n"))},
		{Timestamp: at(1), ConnectionID: "pub-1", Layer: LayerWire, Scope: "public", DeviceID: "dev1",
			Record: &RecordEvent{Name: "temp/a", TTL: 60}},
		{Timestamp: at(1), ConnectionID: "pub-1", Layer: LayerRouter, Scope: "public", DeviceID: "dev1",
			Record: &RecordEvent{Name: "temp/a", TTL: 60, Matched: &matched}},
		{Timestamp: at(2), ConnectionID: "mine-1", Layer: LayerWire, Scope: "mine", DeviceID: "dev2",
			Record: &RecordEvent{Name: "door/open", TTL: 60}},
		{Timestamp: at(3), ConnectionID: "mine-1", Category: CategoryError, Scope: "mine",
			Error: &ErrorEventData{Layer: LayerTransport, Message: "unexpected EOF", Context: "read"}},
		{Timestamp: at(3), ConnectionID: "mine-1", Category: CategoryControl, Scope: "mine",
			ControlMsg: &ControlMsgEvent{Type: ControlMsgBackoff, Attempt: 1, Delay: time.Second}},
		{Timestamp: at(5), Direction: DirectionOut, Layer: LayerWire,
			Record: &RecordEvent{Name: "temp/set", Data: "70", TTL: 60}},
	}
}

func TestReaderIteratesEventsInOrder(t *testing.T) {
	base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	events := streamSession(base)

	reader, err := NewReader(createTestLogFile(t, events))
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	read := readEvents(t, reader)
	if len(read) != len(events) {
		t.Fatalf("got %d events, want %d", len(read), len(events))
	}
	for i := range events {
		if !read[i].Timestamp.Equal(events[i].Timestamp) || read[i].ConnectionID != events[i].ConnectionID {
			t.Errorf("event %d = %s/%s, want %s/%s", i,
				read[i].Timestamp, read[i].ConnectionID, events[i].Timestamp, events[i].ConnectionID)
		}
	}
	if read[3].Record == nil || read[3].Record.Matched == nil || *read[3].Record.Matched != 1 {
		t.Errorf("router record lost Matched: %+v", read[3].Record)
	}
}

func TestReaderEmptyFile(t *testing.T) {
	reader, err := NewReader(createTestLogFile(t, nil))
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	if event, err := reader.Next(); err != io.EOF {
		t.Errorf("expected io.EOF, got err=%v, event=%+v", err, event)
	}
}

func TestReaderMissingFile(t *testing.T) {
	if _, err := NewReader(filepath.Join(t.TempDir(), "absent.elog")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestReaderTruncatedTail(t *testing.T) {
	path := createTestLogFile(t, streamSession(time.Now())[:2])

	// Cut the last event in half, as a crash mid-write would.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := os.WriteFile(path, data[:len(data)-5], 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	if _, err := reader.Next(); err != nil {
		t.Fatalf("first event should decode: %v", err)
	}
	if _, err := reader.Next(); !errors.Is(err, ErrTruncated) {
		t.Errorf("Next() = %v, want ErrTruncated", err)
	}
}

func TestReaderFilters(t *testing.T) {
	base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	path := createTestLogFile(t, streamSession(base))

	wire := LayerWire
	router := LayerRouter
	out := DirectionOut
	control := CategoryControl
	start := base.Add(2 * time.Second)
	end := base.Add(5 * time.Second)

	tests := []struct {
		name   string
		filter Filter
		want   int
		check  func(Event) bool
	}{
		{"none", Filter{}, 8, nil},
		{"connection", Filter{ConnectionID: "pub-1"}, 4, func(e Event) bool { return e.ConnectionID == "pub-1" }},
		{"layer", Filter{Layer: &router}, 1, func(e Event) bool { return e.Layer == LayerRouter }},
		{"direction", Filter{Direction: &out}, 1, func(e Event) bool { return e.Record.Name == "temp/set" }},
		{"category", Filter{Category: &control}, 1, func(e Event) bool { return e.ControlMsg != nil }},
		{"time range", Filter{TimeStart: &start, TimeEnd: &end}, 3, func(e Event) bool {
			return !e.Timestamp.Before(start) && e.Timestamp.Before(end)
		}},
		{"scope", Filter{Scope: "mine"}, 3, func(e Event) bool { return e.Scope == "mine" }},
		{"device", Filter{DeviceID: "dev1"}, 2, func(e Event) bool { return e.DeviceID == "dev1" }},
		{"prefix", Filter{EventPrefix: "temp/"}, 3, func(e Event) bool { return e.Record != nil }},
		{"prefix and layer", Filter{EventPrefix: "temp/", Layer: &wire, Direction: new(Direction)}, 1, func(e Event) bool {
			return e.Record.Name == "temp/a" && e.Layer == LayerWire
		}},
		{"no match", Filter{Scope: "device:zzz"}, 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader, err := NewFilteredReader(path, tt.filter)
			if err != nil {
				t.Fatalf("NewFilteredReader failed: %v", err)
			}
			defer reader.Close()

			read := readEvents(t, reader)
			if len(read) != tt.want {
				t.Fatalf("got %d events, want %d", len(read), tt.want)
			}
			if tt.check == nil {
				return
			}
			for _, e := range read {
				if !tt.check(e) {
					t.Errorf("unexpected event %+v", e)
				}
			}
		})
	}
}
