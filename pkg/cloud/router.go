package cloud

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/phuongtg/spark-cloud-go/pkg/connection"
	"github.com/phuongtg/spark-cloud-go/pkg/errors"
	"github.com/phuongtg/spark-cloud-go/pkg/log"
	"github.com/phuongtg/spark-cloud-go/pkg/subscription"
	"github.com/phuongtg/spark-cloud-go/pkg/transport"
	"github.com/phuongtg/spark-cloud-go/pkg/wire"
)

// ErrRouterClosed is returned by calls made after Close.
var ErrRouterClosed = errors.New("router closed")

// Router multiplexes subscriptions onto one stream per scope.
type Router struct {
	// mu guards streams, closing and closed, and makes registry changes
	// atomic with stream creation and teardown. It is never held while a
	// stream closes.
	mu      sync.Mutex
	streams map[wire.Scope]*connection.Stream
	// closing holds retired streams whose Close has not returned. A scope
	// gets no new stream until its old one is gone.
	closing map[wire.Scope]*connection.Stream
	closed  bool

	config    Config
	transport Transport
	registry  *subscription.Registry
	logger    *slog.Logger
	plogger   log.Logger
}

// New creates a router. No connection is made until the first subscription.
func New(config Config) (*Router, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	plogger := config.ProtocolLogger
	if plogger == nil {
		plogger = log.NoopLogger{}
	}

	tr := config.Transport
	if tr == nil {
		client, err := transport.NewClient(transport.ClientConfig{
			BaseURL:        config.BaseURL,
			TLS:            config.TLS,
			ProtocolLogger: config.ProtocolLogger,
		})
		if err != nil {
			return nil, err
		}
		tr = client
	}

	return &Router{
		streams:   make(map[wire.Scope]*connection.Stream),
		closing:   make(map[wire.Scope]*connection.Stream),
		config:    config,
		transport: tr,
		registry:  subscription.NewRegistry(),
		logger:    config.Logger,
		plogger:   plogger,
	}, nil
}

// Subscribe registers handler for events on scope whose name starts with
// prefix, and returns its handle. The scope's stream is started in the
// background if needed; connection problems are never returned here.
func (r *Router) Subscribe(scope wire.Scope, prefix string, handler subscription.Handler) (subscription.Handle, error) {
	if err := scope.Validate(); err != nil {
		return 0, err
	}
	if handler == nil {
		return 0, errors.NewValidationError("handler", nil, "required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, ErrRouterClosed
	}

	sub := r.registry.Add(scope, prefix, handler)
	r.debugLog("router: subscribed", "handle", sub.ID, "scope", scope.String(), "prefix", prefix)

	r.startStreamLocked(scope)
	return sub.ID, nil
}

// startStreamLocked starts the stream for scope unless one is live or the
// previous one is still shutting down; in that case the Unsubscribe closing
// it starts the replacement. r.mu must be held.
func (r *Router) startStreamLocked(scope wire.Scope) {
	if _, ok := r.streams[scope]; ok {
		return
	}
	if _, ok := r.closing[scope]; ok {
		r.debugLog("router: stream start deferred", "scope", scope.String())
		return
	}
	st := r.newStream(scope)
	r.streams[scope] = st
	_ = st.Start() // never fails on a new stream
	r.debugLog("router: stream started", "scope", scope.String(), "conn_id", st.ID())
}

// SubscribeAll subscribes to the public firehose.
func (r *Router) SubscribeAll(prefix string, handler subscription.Handler) (subscription.Handle, error) {
	return r.Subscribe(wire.AllPublic(), prefix, handler)
}

// SubscribeMine subscribes to the events of every device the user owns.
func (r *Router) SubscribeMine(prefix string, handler subscription.Handler) (subscription.Handle, error) {
	return r.Subscribe(wire.AllOwnedDevices(), prefix, handler)
}

// SubscribeDevice subscribes to the events of one device.
func (r *Router) SubscribeDevice(deviceID, prefix string, handler subscription.Handler) (subscription.Handle, error) {
	return r.Subscribe(wire.Device(deviceID), prefix, handler)
}

// Unsubscribe removes a subscription. Events dispatched after it returns
// are not delivered to the handle. Unknown handles are ignored. Safe to
// call from a handler.
func (r *Router) Unsubscribe(h subscription.Handle) {
	r.mu.Lock()
	sub, ok := r.registry.Remove(h)
	var idle *connection.Stream
	if ok && r.registry.Count(sub.Scope) == 0 {
		if idle = r.streams[sub.Scope]; idle != nil {
			delete(r.streams, sub.Scope)
			r.closing[sub.Scope] = idle
		}
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	r.debugLog("router: unsubscribed", "handle", h, "scope", sub.Scope.String())
	if idle == nil {
		return
	}

	r.debugLog("router: closing idle stream", "scope", sub.Scope.String(), "conn_id", idle.ID())
	idle.Close()

	r.mu.Lock()
	if r.closing[sub.Scope] == idle {
		delete(r.closing, sub.Scope)
	}
	// Someone subscribed while the old stream was closing.
	if !r.closed && r.registry.Count(sub.Scope) > 0 {
		r.startStreamLocked(sub.Scope)
	}
	r.mu.Unlock()
}

// Publish sends one event. A rejected credential is refreshed once and the
// publish retried once.
func (r *Router) Publish(ctx context.Context, name, data string, private bool, ttl uint32) error {
	req := wire.PublishRequest{Name: name, Data: data, Private: private, TTL: ttl}
	if err := req.Validate(); err != nil {
		return &errors.PublishError{Name: name, Message: "invalid request", Err: err}
	}

	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrRouterClosed
	}

	creds := r.config.Credentials
	cred, err := creds.Token(ctx)
	if err != nil {
		return err
	}

	err = r.transport.Publish(ctx, cred.AccessToken, req)
	if err == nil || !errors.Is(err, errors.ErrAuth) {
		return err
	}

	r.debugLog("router: publish rejected, refreshing", "event", name, "error", err)
	cred, err = creds.Refresh(ctx)
	if err != nil {
		return err
	}
	return r.transport.Publish(ctx, cred.AccessToken, req)
}

// Close stops every stream and drops every subscription. Handlers receive
// nothing further. Subsequent calls return ErrRouterClosed.
func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	streams := make([]*connection.Stream, 0, len(r.streams)+len(r.closing))
	for _, st := range r.streams {
		streams = append(streams, st)
	}
	for _, st := range r.closing {
		streams = append(streams, st)
	}
	r.streams = make(map[wire.Scope]*connection.Stream)
	r.registry.Clear()
	r.mu.Unlock()

	var g errgroup.Group
	for _, st := range streams {
		g.Go(func() error {
			st.Close()
			return nil
		})
	}
	err := g.Wait()
	r.debugLog("router: closed", "streams", len(streams))
	return err
}

// newStream builds the stream for scope with its callbacks wired.
func (r *Router) newStream(scope wire.Scope) *connection.Stream {
	st := connection.NewStream(connection.StreamConfig{
		Scope:          scope,
		Opener:         r.transport,
		Credentials:    r.config.Credentials,
		Backoff:        r.config.Backoff,
		IdleTimeout:    r.config.IdleTimeout,
		MaxFrameSize:   r.config.MaxFrameSize,
		Logger:         r.logger,
		ProtocolLogger: r.config.ProtocolLogger,
	})

	st.OnEvent(func(ev wire.Event) {
		r.dispatch(st, ev)
	})
	st.OnDecodeError(func(err error) {
		r.mu.Lock()
		var subs []*subscription.Subscription
		if r.streams[scope] == st {
			subs = r.registry.InScope(scope)
		}
		r.mu.Unlock()
		for _, sub := range subs {
			sub.Fail(err)
		}
	})
	st.OnFatal(func(err error) {
		r.terminate(st, err)
	})
	st.OnStateChange(func(oldState, newState connection.State) {
		r.debugLog("router: stream state", "scope", scope.String(), "from", oldState.String(), "to", newState.String())
		if fn := r.config.OnConnectionState; fn != nil {
			fn(scope, oldState, newState)
		}
	})
	return st
}

// dispatch hands ev to every matching subscription on the stream's scope.
// Events from a stream that is no longer the scope's current one are
// dropped.
func (r *Router) dispatch(st *connection.Stream, ev wire.Event) {
	r.mu.Lock()
	if r.streams[st.Scope()] != st {
		r.mu.Unlock()
		r.debugLog("router: event from retired stream dropped", "scope", st.Scope().String(), "conn_id", st.ID(), "event", ev.Name)
		return
	}
	matched := r.registry.Matching(st.Scope(), ev.Name)
	r.mu.Unlock()

	delivered := 0
	for _, sub := range matched {
		if sub.Deliver(ev) {
			delivered++
		}
	}

	r.plogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: st.ID(),
		Direction:    log.DirectionIn,
		Layer:        log.LayerRouter,
		Category:     log.CategoryMessage,
		Scope:        st.Scope().String(),
		DeviceID:     ev.DeviceID,
		Record: &log.RecordEvent{
			Name:    ev.Name,
			TTL:     ev.TTL,
			Matched: &delivered,
		},
	})
}

// terminate removes every subscription on the failed stream's scope and
// gives each the fatal error. Runs on the stream goroutine; the stream has
// already closed itself.
func (r *Router) terminate(st *connection.Stream, err error) {
	scope := st.Scope()

	r.mu.Lock()
	if r.streams[scope] != st {
		r.mu.Unlock()
		return
	}
	delete(r.streams, scope)
	subs := r.registry.RemoveScope(scope)
	r.mu.Unlock()

	if r.logger != nil {
		r.logger.Warn("router: scope terminated", "scope", scope.String(), "subscriptions", len(subs), "error", err)
	}
	for _, sub := range subs {
		sub.Terminate(err)
	}
	r.plogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: st.ID(),
		Direction:    log.DirectionIn,
		Layer:        log.LayerRouter,
		Category:     log.CategoryState,
		Scope:        scope.String(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySubscription,
			OldState: "ACTIVE",
			NewState: "TERMINATED",
			Reason:   err.Error(),
		},
	})
}

// debugLog logs a debug message if logging is enabled.
func (r *Router) debugLog(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Debug(msg, args...)
	}
}
