// Package commands implements the spark-log CLI commands.
package commands

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/phuongtg/spark-cloud-go/pkg/log"
)

// ViewFilter specifies criteria for filtering events in the view command.
type ViewFilter struct {
	Layer       *log.Layer
	Direction   *log.Direction
	Category    *log.Category
	Scope       string
	EventPrefix string
}

// toLogFilter converts the view criteria to a reader filter.
func (f ViewFilter) toLogFilter() log.Filter {
	return log.Filter{
		Layer:       f.Layer,
		Direction:   f.Direction,
		Category:    f.Category,
		Scope:       f.Scope,
		EventPrefix: f.EventPrefix,
	}
}

// eventType returns the label of the event's payload.
func eventType(event log.Event) string {
	switch {
	case event.Frame != nil:
		return "Frame"
	case event.Record != nil:
		return "Record"
	case event.StateChange != nil:
		return "State"
	case event.ControlMsg != nil:
		return event.ControlMsg.Type.String()
	case event.Error != nil:
		return "Error"
	default:
		return "Unknown"
	}
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	// Header line: timestamp [conn:id] DIRECTION LAYER Type scope
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	connID := shortenConnID(event.ConnectionID)
	dir := event.Direction.String()

	layerStr := event.Layer.String()
	if event.Category == log.CategoryControl {
		layerStr = "CTRL"
	}

	header := fmt.Sprintf("%s [conn:%s] %-3s %s %s", ts, connID, dir, layerStr, eventType(event))
	if event.Scope != "" {
		header += " (" + event.Scope + ")"
	}
	fmt.Fprintln(w, header)

	switch {
	case event.Frame != nil:
		formatFrameDetails(w, event.Frame)
	case event.Record != nil:
		formatRecordDetails(w, event)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.ControlMsg != nil:
		formatControlDetails(w, event.ControlMsg)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w) // Blank line between events
}

// shortenConnID returns the first 8 characters of the connection ID.
func shortenConnID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

// formatFrameDetails writes frame-specific details. Stream chunks are
// text, so printable data is shown as-is.
func formatFrameDetails(w io.Writer, frame *log.FrameEvent) {
	fmt.Fprintf(w, "  Size: %d bytes\n", frame.Size)
	if len(frame.Data) > 0 {
		if utf8.Valid(frame.Data) {
			fmt.Fprintf(w, "  Data: %q", string(frame.Data))
		} else {
			fmt.Fprintf(w, "  Data: %s", hex.EncodeToString(frame.Data))
		}
		if frame.Truncated {
			fmt.Fprintf(w, " (truncated)")
		}
		fmt.Fprintln(w)
	}
}

// formatRecordDetails writes an event record.
func formatRecordDetails(w io.Writer, event log.Event) {
	rec := event.Record
	fmt.Fprintf(w, "  Event: %s\n", rec.Name)
	if rec.Data != "" {
		fmt.Fprintf(w, "  Data: %s\n", rec.Data)
	}
	fmt.Fprintf(w, "  TTL: %ds\n", rec.TTL)
	if event.DeviceID != "" {
		fmt.Fprintf(w, "  Device: %s\n", event.DeviceID)
	}
	if rec.PublishedAt != nil {
		fmt.Fprintf(w, "  Published: %s\n", rec.PublishedAt.UTC().Format(time.RFC3339Nano))
	}
	if rec.Private != nil {
		fmt.Fprintf(w, "  Private: %t\n", *rec.Private)
	}
	if rec.Matched != nil {
		fmt.Fprintf(w, "  Matched: %d\n", *rec.Matched)
	}
}

// formatStateChangeDetails writes state change details.
func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity.String())
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

// formatControlDetails writes backoff details; other control events have none.
func formatControlDetails(w io.Writer, ctrl *log.ControlMsgEvent) {
	if ctrl.Type != log.ControlMsgBackoff {
		return
	}
	fmt.Fprintf(w, "  Attempt: %d\n", ctrl.Attempt)
	fmt.Fprintf(w, "  Delay: %s\n", formatDuration(ctrl.Delay))
}

// formatErrorDetails writes error details.
func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer.String())
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Code != nil {
		fmt.Fprintf(w, "  Code: %d\n", *err.Code)
	}
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%.3fus", float64(d.Nanoseconds())/1000)
	}
	if d < time.Second {
		return fmt.Sprintf("%.3fms", float64(d.Microseconds())/1000)
	}
	return fmt.Sprintf("%.3fs", d.Seconds())
}

// ParseLayerFlag parses a layer string from command-line flag (case-insensitive).
func ParseLayerFlag(s string) (log.Layer, error) {
	return parseLayer(s)
}

// parseLayer parses a layer string (case-insensitive).
func parseLayer(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "transport":
		return log.LayerTransport, nil
	case "wire":
		return log.LayerWire, nil
	case "router":
		return log.LayerRouter, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be transport, wire, or router)", s)
	}
}

// ParseDirectionFlag parses a direction string from command-line flag (case-insensitive).
func ParseDirectionFlag(s string) (log.Direction, error) {
	return parseDirection(s)
}

// parseDirection parses a direction string (case-insensitive).
func parseDirection(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

// ParseCategoryFlag parses a category string from command-line flag (case-insensitive).
func ParseCategoryFlag(s string) (log.Category, error) {
	return parseCategory(s)
}

// parseCategory parses a category string (case-insensitive).
func parseCategory(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "message":
		return log.CategoryMessage, nil
	case "control":
		return log.CategoryControl, nil
	case "state":
		return log.CategoryState, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be message, control, state, or error)", s)
	}
}

// RunView executes the view command.
func RunView(path string, filter ViewFilter, output io.Writer) error {
	reader, err := log.NewFilteredReader(path, filter.toLogFilter())
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if errors.Is(err, log.ErrTruncated) {
			fmt.Fprintf(output, "-- %v --\n", err)
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(output, event)
	}

	return nil
}
