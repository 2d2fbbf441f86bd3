// Package log provides structured protocol capture for event streams.
//
// This package defines the Logger interface and Event types for capturing
// stream traffic at multiple layers (transport, wire, router). It is
// separate from operational logging (slog): protocol capture provides a
// complete machine-readable trace of what the cloud sent and what was
// routed, for debugging and analysis.
//
// # Basic Usage
//
// Applications configure capture by providing a Logger implementation:
//
//	// For development: log to console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/var/log/spark/events.elog")
//
//	// Both: Combine skips nil entries and returns a MultiLogger
//	cfg.ProtocolLogger = log.Combine(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
// Events are captured at multiple layers:
//   - Transport: Raw stream chunks and publish bodies (FrameEvent)
//   - Wire: Decoded and published records (RecordEvent)
//   - Router: Connection, session and subscription changes (StateChangeEvent)
//
// Keep-alives, idle timeouts, refreshes and reconnect scheduling use
// ControlMsgEvent. Errors have a dedicated event type.
//
// # File Format
//
// Capture files are concatenated CBOR records with the .elog extension.
// Reader and Decoder report a record cut short by a crash as ErrTruncated.
// The spark-log CLI views, filters and exports captures.
package log
