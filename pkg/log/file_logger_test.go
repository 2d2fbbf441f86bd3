package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestFileLoggerCreatesPrivateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.elog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	defer logger.Close()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("log file was not created: %v", err)
	}
	// Captures may hold event payloads from private devices.
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("permissions = %o, want 0600", perm)
	}
}

func TestFileLoggerWritesDecodableRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.elog")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}

	published := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	logger.Log(Event{
		Timestamp:    published.Add(time.Millisecond),
		ConnectionID: "7d9f0c2e-0000-4000-8000-000000000001",
		Layer:        LayerWire,
		Scope:        "device:dev1",
		Endpoint:     "https://api.example.com/v1/devices/dev1/events",
		DeviceID:     "dev1",
		Record:       &RecordEvent{Name: "temp/reading", Data: "72.5", TTL: 60, PublishedAt: &published},
	})
	logger.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	decoded, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("failed to decode event: %v", err)
	}

	if decoded.Scope != "device:dev1" || decoded.DeviceID != "dev1" {
		t.Errorf("identifiers = %q/%q", decoded.Scope, decoded.DeviceID)
	}
	if decoded.Record == nil || decoded.Record.Name != "temp/reading" || decoded.Record.Data != "72.5" {
		t.Fatalf("Record = %+v", decoded.Record)
	}
	if decoded.Record.PublishedAt == nil || !decoded.Record.PublishedAt.Equal(published) {
		t.Errorf("PublishedAt = %v, want %v", decoded.Record.PublishedAt, published)
	}
}

func TestFileLoggerAppendsAcrossRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.elog")

	for run, scope := range []string{"public", "mine"} {
		logger, err := NewFileLogger(path)
		if err != nil {
			t.Fatalf("run %d: NewFileLogger failed: %v", run, err)
		}
		logger.Log(Event{
			Timestamp:    time.Now(),
			ConnectionID: fmt.Sprintf("run-%d", run),
			Category:     CategoryState,
			Scope:        scope,
			StateChange:  &StateChangeEvent{Entity: StateEntityConnection, NewState: "STREAMING"},
		})
		logger.Close()
	}

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	events := readEvents(t, reader)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Scope != "public" || events[1].Scope != "mine" {
		t.Errorf("scopes = [%s %s], want [public mine]", events[0].Scope, events[1].Scope)
	}
}

func TestFileLoggerConcurrentStreams(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.elog")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}

	const streams = 8
	const chunks = 50

	var wg sync.WaitGroup
	for i := range streams {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range chunks {
				logger.Log(Event{
					Timestamp:    time.Now(),
					ConnectionID: fmt.Sprintf("stream-%d", i),
					Frame:        NewFrameEvent([]byte(":keepalive\n\n")),
				})
			}
		}()
	}
	wg.Wait()
	if got := logger.Written(); got != streams*chunks {
		t.Errorf("Written() = %d, want %d", got, streams*chunks)
	}
	if err := logger.Sync(); err != nil {
		t.Errorf("Sync failed: %v", err)
	}
	logger.Close()

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	perStream := make(map[string]int)
	for _, e := range readEvents(t, reader) {
		perStream[e.ConnectionID]++
	}
	if len(perStream) != streams {
		t.Fatalf("got %d streams, want %d", len(perStream), streams)
	}
	for id, n := range perStream {
		if n != chunks {
			t.Errorf("%s: %d events, want %d", id, n, chunks)
		}
	}
}

func TestFileLoggerClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.elog")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	logger.Log(Event{Timestamp: time.Now(), ConnectionID: "before"})

	if err := logger.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}

	// Dropped silently.
	logger.Log(Event{Timestamp: time.Now(), ConnectionID: "after"})
	if logger.Written() != 1 || logger.Failed() != 0 {
		t.Errorf("Written() = %d, Failed() = %d, want 1 and 0", logger.Written(), logger.Failed())
	}
	if err := logger.Sync(); err != nil {
		t.Errorf("Sync after Close = %v, want nil", err)
	}
	if logger.Path() != path {
		t.Errorf("Path() = %q, want %q", logger.Path(), path)
	}

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()
	if events := readEvents(t, reader); len(events) != 1 || events[0].ConnectionID != "before" {
		t.Errorf("events = %+v, want only 'before'", events)
	}
}

func TestFileLoggerOpenError(t *testing.T) {
	if _, err := NewFileLogger(filepath.Join(t.TempDir(), "missing", "capture.elog")); err == nil {
		t.Error("expected error for missing directory")
	}
}

var _ Logger = (*FileLogger)(nil)
