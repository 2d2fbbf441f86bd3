package connection

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/phuongtg/spark-cloud-go/pkg/errors"
	"github.com/phuongtg/spark-cloud-go/pkg/log"
	"github.com/phuongtg/spark-cloud-go/pkg/session"
	"github.com/phuongtg/spark-cloud-go/pkg/transport"
	"github.com/phuongtg/spark-cloud-go/pkg/wire"
)

// Stream errors.
var (
	ErrStreamClosed   = errors.New("stream closed")
	ErrAlreadyStarted = errors.New("stream already started")
)

// DefaultReadBufferSize is the size of the buffer used to read the stream body.
const DefaultReadBufferSize = 4096

// State represents the stream state.
type State uint8

const (
	// StateConnecting indicates a connection attempt is in progress.
	StateConnecting State = iota

	// StateStreaming indicates the stream is open and being read.
	StateStreaming

	// StateDisconnected indicates the stream dropped or an attempt failed.
	StateDisconnected

	// StateReconnecting indicates the stream is waiting out the backoff delay.
	StateReconnecting

	// StateClosed indicates the stream has stopped for good.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateStreaming:
		return "STREAMING"
	case StateDisconnected:
		return "DISCONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// StreamConfig configures a Stream.
type StreamConfig struct {
	// Scope is the feed to stream.
	Scope wire.Scope

	// Opener opens the HTTP stream. Usually a *transport.Client.
	Opener transport.StreamOpener

	// Credentials supplies the bearer token for every attempt.
	Credentials session.Provider

	// Backoff configures reconnection timing. The zero value selects
	// DefaultBackoffConfig.
	Backoff BackoffConfig

	// IdleTimeout closes a stream that delivers no bytes for this long
	// (default: transport.DefaultIdleTimeout).
	IdleTimeout time.Duration

	// MaxFrameSize bounds one buffered frame (default: wire.DefaultMaxFrameSize).
	MaxFrameSize int

	// ReadBufferSize is the body read size (default: 4096).
	ReadBufferSize int

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// ProtocolLogger receives stream traffic and state changes. Optional.
	ProtocolLogger log.Logger
}

// Stream maintains one long-lived event stream with automatic reconnection.
type Stream struct {
	mu sync.RWMutex

	// Current state
	state State

	id      string
	config  StreamConfig
	backoff *Backoff
	logger  *slog.Logger
	plogger log.Logger

	// Context for cancellation
	ctx    context.Context
	cancel context.CancelFunc

	// Wait group for the stream goroutine
	wg      sync.WaitGroup
	started bool

	// Body currently being read, closed by Close to unblock the reader.
	bodyMu sync.Mutex
	body   io.Closer

	connects atomic.Int64

	// Callbacks
	onEvent        func(ev wire.Event)
	onDecodeError  func(err error)
	onFatal        func(err error)
	onStateChange  func(oldState, newState State)
	onReconnecting func(attempt int, delay time.Duration)
}

// NewStream creates a stream. Set callbacks, then call Start.
func NewStream(config StreamConfig) *Stream {
	if config.Backoff == (BackoffConfig{}) {
		config.Backoff = DefaultBackoffConfig()
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = transport.DefaultIdleTimeout
	}
	if config.MaxFrameSize <= 0 {
		config.MaxFrameSize = wire.DefaultMaxFrameSize
	}
	if config.ReadBufferSize <= 0 {
		config.ReadBufferSize = DefaultReadBufferSize
	}
	plogger := config.ProtocolLogger
	if plogger == nil {
		plogger = log.NoopLogger{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Stream{
		state:   StateConnecting,
		id:      uuid.NewString(),
		config:  config,
		backoff: NewBackoff(config.Backoff),
		logger:  config.Logger,
		plogger: plogger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// ID returns the stream's connection id.
func (s *Stream) ID() string {
	return s.id
}

// Scope returns the scope the stream serves.
func (s *Stream) Scope() wire.Scope {
	return s.config.Scope
}

// State returns the current stream state.
func (s *Stream) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Connects returns how many times the stream reached STREAMING.
func (s *Stream) Connects() int64 {
	return s.connects.Load()
}

// BackoffAttempts returns the number of reconnect attempts since the last
// stable connection.
func (s *Stream) BackoffAttempts() int {
	return s.backoff.Attempts()
}

// OnEvent sets the callback for decoded events. Called on the stream
// goroutine, in wire order.
func (s *Stream) OnEvent(fn func(ev wire.Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvent = fn
}

// OnDecodeError sets the callback for malformed records. The stream continues.
func (s *Stream) OnDecodeError(fn func(err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDecodeError = fn
}

// OnFatal sets the callback invoked once when the stream closes itself
// because its credential was rejected. It is not called after Close.
func (s *Stream) OnFatal(fn func(err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFatal = fn
}

// OnStateChange sets a callback for state changes.
func (s *Stream) OnStateChange(fn func(oldState, newState State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStateChange = fn
}

// OnReconnecting sets a callback for scheduled reconnect attempts.
func (s *Stream) OnReconnecting(fn func(attempt int, delay time.Duration)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReconnecting = fn
}

// Start launches the stream goroutine. Callbacks must not call Close.
func (s *Stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return ErrStreamClosed
	}
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	s.wg.Add(1)
	go s.run()
	return nil
}

// Close stops the stream and waits for its goroutine to exit. Pending reads
// and backoff waits are aborted. Safe to call multiple times.
func (s *Stream) Close() {
	s.transition(StateClosed, "closed")
	s.cancel()
	s.closeBody()
	s.wg.Wait()
}

// run is the stream goroutine.
func (s *Stream) run() {
	defer s.wg.Done()

	dec := wire.NewDecoder(s.config.MaxFrameSize)
	buf := make([]byte, s.config.ReadBufferSize)

	for {
		if s.ctx.Err() != nil {
			return
		}
		if !s.transition(StateConnecting, "") {
			return
		}

		body, err := s.connect()
		if s.ctx.Err() != nil {
			if body != nil {
				body.Close()
			}
			return
		}
		if err != nil {
			if errors.Is(err, errors.ErrAuth) {
				s.fail(err)
				return
			}
			s.logError(err, "connect")
			s.transition(StateDisconnected, err.Error())
			if !s.waitBackoff() {
				return
			}
			continue
		}

		s.connects.Add(1)
		if !s.transition(StateStreaming, "") {
			body.Close()
			return
		}
		s.debugLog("stream: connected", "scope", s.config.Scope.String(), "conn_id", s.id)

		started := time.Now()
		err = s.consume(body, dec, buf)
		if s.ctx.Err() != nil {
			return
		}

		s.logError(err, "read")
		s.transition(StateDisconnected, err.Error())
		if s.backoff.ResetIfStable(time.Since(started)) {
			s.debugLog("stream: backoff reset", "scope", s.config.Scope.String())
		}
		if !s.waitBackoff() {
			return
		}
	}
}

// connect borrows a credential and opens the stream. A rejected credential
// is refreshed once and the open retried once.
func (s *Stream) connect() (io.ReadCloser, error) {
	creds := s.config.Credentials

	cred, err := creds.Token(s.ctx)
	if err != nil {
		if s.ctx.Err() != nil {
			return nil, s.ctx.Err()
		}
		return nil, asAuthError(err)
	}

	body, err := s.config.Opener.OpenStream(s.ctx, s.config.Scope, cred.AccessToken)
	if err == nil || !errors.Is(err, errors.ErrAuth) {
		return body, err
	}

	s.debugLog("stream: credential rejected, refreshing", "scope", s.config.Scope.String(), "error", err)
	s.logControl(log.ControlMsgRefresh, 0, 0)

	cred, err = creds.Refresh(s.ctx)
	if err != nil {
		if s.ctx.Err() != nil {
			return nil, s.ctx.Err()
		}
		return nil, asAuthError(err)
	}

	body, err = s.config.Opener.OpenStream(s.ctx, s.config.Scope, cred.AccessToken)
	if err != nil && errors.Is(err, errors.ErrAuth) {
		return nil, asAuthError(err)
	}
	return body, err
}

// consume reads body until it fails, feeding the decoder and dispatching.
// It always returns a *errors.ConnectionError.
func (s *Stream) consume(body io.ReadCloser, dec *wire.Decoder, buf []byte) error {
	rd := transport.NewIdleReader(body, s.config.IdleTimeout)
	s.setBody(rd)
	defer s.clearBody(rd)

	dec.Reset()
	endpoint := s.config.Scope.Path()

	for {
		n, err := rd.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			s.plogger.Log(s.event(log.DirectionIn, log.LayerTransport, log.CategoryMessage, func(ev *log.Event) {
				ev.Frame = log.NewFrameEvent(chunk)
			}))
			for ev, derr := range dec.Feed(chunk) {
				if s.ctx.Err() != nil {
					return errors.NewConnectionError("read", endpoint, s.ctx.Err())
				}
				if derr != nil {
					s.dispatchDecodeError(derr)
					continue
				}
				s.dispatchEvent(ev)
			}
		}
		if err != nil {
			switch {
			case errors.Is(err, transport.ErrIdleTimeout):
				s.logControl(log.ControlMsgIdleTimeout, 0, 0)
				return errors.NewConnectionError("idle", endpoint, err)
			default:
				return errors.NewConnectionError("read", endpoint, err)
			}
		}
	}
}

func (s *Stream) dispatchEvent(ev wire.Event) {
	s.plogger.Log(s.event(log.DirectionIn, log.LayerWire, log.CategoryMessage, func(le *log.Event) {
		published := ev.PublishedAt
		le.DeviceID = ev.DeviceID
		le.Record = &log.RecordEvent{
			Name:        ev.Name,
			Data:        ev.Data,
			TTL:         ev.TTL,
			PublishedAt: &published,
		}
	}))

	s.mu.RLock()
	fn := s.onEvent
	s.mu.RUnlock()
	if fn != nil {
		fn(ev)
	}
}

func (s *Stream) dispatchDecodeError(err error) {
	s.debugLog("stream: malformed record", "scope", s.config.Scope.String(), "error", err)
	s.plogger.Log(s.event(log.DirectionIn, log.LayerWire, log.CategoryError, func(ev *log.Event) {
		ev.Error = &log.ErrorEventData{Layer: log.LayerWire, Message: err.Error(), Context: "decode"}
	}))

	s.mu.RLock()
	fn := s.onDecodeError
	s.mu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

// waitBackoff enters RECONNECTING and sleeps the next backoff delay.
// Returns false if the stream was closed while waiting.
func (s *Stream) waitBackoff() bool {
	if !s.transition(StateReconnecting, "") {
		return false
	}

	delay := s.backoff.Next()
	attempt := s.backoff.Attempts()
	s.logControl(log.ControlMsgBackoff, attempt, delay)
	s.debugLog("stream: reconnecting", "scope", s.config.Scope.String(), "attempt", attempt, "delay", delay)

	s.mu.RLock()
	fn := s.onReconnecting
	s.mu.RUnlock()
	if fn != nil {
		fn(attempt, delay)
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-s.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// fail closes the stream after an unrecoverable error and reports it once.
func (s *Stream) fail(err error) {
	if !s.transition(StateClosed, err.Error()) {
		return
	}
	s.logError(err, "auth")
	if s.logger != nil {
		s.logger.Warn("stream: credential rejected, closing", "scope", s.config.Scope.String(), "error", err)
	}
	s.cancel()

	s.mu.RLock()
	fn := s.onFatal
	s.mu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

// transition moves to newState unless the stream is already closed.
// Returns false if the stream is closed.
func (s *Stream) transition(newState State, reason string) bool {
	s.mu.Lock()
	oldState := s.state
	if oldState == StateClosed {
		s.mu.Unlock()
		return false
	}
	s.state = newState
	fn := s.onStateChange
	s.mu.Unlock()

	if oldState == newState {
		return true
	}

	s.plogger.Log(s.event(log.DirectionIn, log.LayerTransport, log.CategoryState, func(ev *log.Event) {
		ev.StateChange = &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: oldState.String(),
			NewState: newState.String(),
			Reason:   reason,
		}
	}))
	if fn != nil {
		fn(oldState, newState)
	}
	return true
}

func (s *Stream) setBody(c io.Closer) {
	s.bodyMu.Lock()
	s.body = c
	s.bodyMu.Unlock()

	// Close may have run between connect and here.
	if s.ctx.Err() != nil {
		s.closeBody()
	}
}

func (s *Stream) clearBody(c io.Closer) {
	s.bodyMu.Lock()
	if s.body == c {
		s.body = nil
	}
	s.bodyMu.Unlock()
	_ = c.Close()
}

func (s *Stream) closeBody() {
	s.bodyMu.Lock()
	body := s.body
	s.bodyMu.Unlock()
	if body != nil {
		_ = body.Close()
	}
}

func (s *Stream) event(dir log.Direction, layer log.Layer, cat log.Category, fill func(ev *log.Event)) log.Event {
	ev := log.Event{
		Timestamp:    time.Now(),
		ConnectionID: s.id,
		Direction:    dir,
		Layer:        layer,
		Category:     cat,
		Scope:        s.config.Scope.String(),
	}
	fill(&ev)
	return ev
}

func (s *Stream) logControl(typ log.ControlMsgType, attempt int, delay time.Duration) {
	s.plogger.Log(s.event(log.DirectionIn, log.LayerTransport, log.CategoryControl, func(ev *log.Event) {
		ev.ControlMsg = &log.ControlMsgEvent{Type: typ, Attempt: attempt, Delay: delay}
	}))
}

func (s *Stream) logError(err error, op string) {
	s.debugLog("stream: "+op+" failed", "scope", s.config.Scope.String(), "conn_id", s.id, "error", err)
	s.plogger.Log(s.event(log.DirectionIn, log.LayerTransport, log.CategoryError, func(ev *log.Event) {
		ev.Error = &log.ErrorEventData{Layer: log.LayerTransport, Message: err.Error(), Context: op}
		var authErr *errors.AuthError
		if errors.As(err, &authErr) && authErr.StatusCode != 0 {
			code := authErr.StatusCode
			ev.Error.Code = &code
		}
	}))
}

// debugLog logs a debug message if logging is enabled.
func (s *Stream) debugLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

// asAuthError returns err as an *errors.AuthError, wrapping it if needed.
func asAuthError(err error) *errors.AuthError {
	var authErr *errors.AuthError
	if errors.As(err, &authErr) {
		return authErr
	}
	return &errors.AuthError{Message: "credential unavailable", Err: err}
}
