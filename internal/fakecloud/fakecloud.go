// Package fakecloud provides an in-process event cloud for tests.
//
// It serves the three event feeds and the publish endpoint over
// httptest, checks bearer tokens, fans emitted events out to every open
// feed whose scope admits them, and can drop or refuse streams on demand.
package fakecloud

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/phuongtg/spark-cloud-go/pkg/version"
	"github.com/phuongtg/spark-cloud-go/pkg/wire"
)

// APIDeviceID is the source id the cloud stamps on events published
// through the API.
const APIDeviceID = "api"

// Fake cloud errors.
var (
	// ErrServerClosed is returned when emitting on a closed server.
	ErrServerClosed = errors.New("fake cloud closed")
)

// Published is one accepted publish request.
type Published struct {
	Request wire.PublishRequest
	Token   string
	At      time.Time
}

// Server is a fake event cloud.
type Server struct {
	srv *httptest.Server

	mu        sync.Mutex
	tokens    map[string]bool
	owned     map[string]bool
	streams   map[*feed]struct{}
	opens     map[wire.Scope]int
	published []Published
	closed    bool

	// Status forced on the next stream opens, consumed one per open.
	failOpens []int

	// Status forced on the next publishes, consumed one per publish.
	failPublishes []int

	// Signalled whenever the stream set changes.
	changed chan struct{}
}

// feed is one open event stream.
type feed struct {
	scope wire.Scope
	out   chan []byte
	done  chan struct{}
	once  sync.Once
}

func (f *feed) close() {
	f.once.Do(func() { close(f.done) })
}

// New starts a fake cloud accepting the given tokens.
func New(tokens ...string) *Server {
	s := &Server{
		tokens:  make(map[string]bool),
		owned:   make(map[string]bool),
		streams: make(map[*feed]struct{}),
		opens:   make(map[wire.Scope]int),
		changed: make(chan struct{}),
	}
	for _, t := range tokens {
		s.tokens[t] = true
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/events", s.handleStream(func(*http.Request) wire.Scope { return wire.AllPublic() }))
	mux.HandleFunc("GET /v1/devices/events", s.handleStream(func(*http.Request) wire.Scope { return wire.AllOwnedDevices() }))
	mux.HandleFunc("GET /v1/devices/{id}/events", s.handleStream(func(r *http.Request) wire.Scope { return wire.Device(r.PathValue("id")) }))
	mux.HandleFunc("POST "+wire.PublishPath, s.handlePublish)

	s.srv = httptest.NewServer(mux)
	return s
}

// URL returns the base URL of the fake cloud.
func (s *Server) URL() string {
	return s.srv.URL
}

// Close drops every stream and stops the server.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.DropAll()
	s.srv.Close()
}

// SetTokens replaces the set of accepted tokens.
func (s *Server) SetTokens(tokens ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = make(map[string]bool)
	for _, t := range tokens {
		s.tokens[t] = true
	}
}

// AddOwnedDevice marks a device as owned by the token holder.
func (s *Server) AddOwnedDevice(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owned[id] = true
}

// FailNextOpens makes the next stream opens answer with the given statuses.
func (s *Server) FailNextOpens(statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOpens = append(s.failOpens, statuses...)
}

// FailNextPublishes makes the next publishes answer with the given statuses.
func (s *Server) FailNextPublishes(statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPublishes = append(s.failPublishes, statuses...)
}

// Emit sends an event to every open feed that admits it.
// Returns the number of feeds it was queued on.
func (s *Server) Emit(ev wire.Event, private bool) (int, error) {
	if ev.PublishedAt.IsZero() {
		ev.PublishedAt = time.Now()
	}
	if ev.TTL == 0 {
		ev.TTL = wire.DefaultTTL
	}
	frame := wire.EncodeFrame(ev)
	return s.broadcast(frame, func(scope wire.Scope) bool {
		return s.admits(scope, ev, private)
	})
}

// EmitRaw writes raw bytes to every open feed of scope.
func (s *Server) EmitRaw(scope wire.Scope, raw []byte) (int, error) {
	return s.broadcast(raw, func(sc wire.Scope) bool { return sc == scope })
}

func (s *Server) broadcast(frame []byte, match func(wire.Scope) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrServerClosed
	}
	n := 0
	for f := range s.streams {
		if !match(f.scope) {
			continue
		}
		select {
		case f.out <- frame:
			n++
		case <-f.done:
		}
	}
	return n, nil
}

// admits decides scope visibility. Caller holds s.mu.
func (s *Server) admits(scope wire.Scope, ev wire.Event, private bool) bool {
	switch scope.Kind {
	case wire.ScopeAllPublic:
		return !private
	case wire.ScopeAllOwnedDevices:
		return s.owned[ev.DeviceID] || ev.DeviceID == APIDeviceID
	case wire.ScopeDevice:
		if ev.DeviceID != scope.DeviceID {
			return false
		}
		return !private || s.owned[ev.DeviceID]
	}
	return false
}

// DropAll closes every open stream.
func (s *Server) DropAll() {
	s.drop(func(wire.Scope) bool { return true })
}

// Drop closes every open stream of scope.
func (s *Server) Drop(scope wire.Scope) {
	s.drop(func(sc wire.Scope) bool { return sc == scope })
}

func (s *Server) drop(match func(wire.Scope) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for f := range s.streams {
		if match(f.scope) {
			f.close()
		}
	}
}

// Streams returns the number of open streams of scope.
func (s *Server) Streams(scope wire.Scope) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for f := range s.streams {
		if f.scope == scope {
			n++
		}
	}
	return n
}

// TotalStreams returns the number of open streams.
func (s *Server) TotalStreams() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}

// Opens returns how many times a stream of scope was requested.
func (s *Server) Opens(scope wire.Scope) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens[scope]
}

// Published returns the accepted publish requests.
func (s *Server) Published() []Published {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Published, len(s.published))
	copy(out, s.published)
	return out
}

// WaitStreams waits until scope has exactly n open streams.
func (s *Server) WaitStreams(scope wire.Scope, n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		s.mu.Lock()
		count := 0
		for f := range s.streams {
			if f.scope == scope {
				count++
			}
		}
		changed := s.changed
		s.mu.Unlock()

		if count == n {
			return true
		}
		select {
		case <-changed:
		case <-deadline.C:
			return false
		}
	}
}

// notifyLocked wakes WaitStreams callers. Caller holds s.mu.
func (s *Server) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Server) handleStream(scopeOf func(*http.Request) wire.Scope) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope := scopeOf(r)

		s.mu.Lock()
		s.opens[scope]++
		status := s.nextStatusLocked(&s.failOpens)
		authorized := s.tokens[bearer(r)]
		s.mu.Unlock()

		if status != 0 {
			writeError(w, status, "forced_failure", "forced by test")
			return
		}
		if !clientSupported(r) {
			writeError(w, http.StatusBadRequest, "unsupported_client", "client API version not supported")
			return
		}
		if !authorized {
			writeError(w, http.StatusUnauthorized, "invalid_token", "The access token provided is invalid.")
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "no_flush", "streaming unsupported")
			return
		}

		f := &feed{scope: scope, out: make(chan []byte, 64), done: make(chan struct{})}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.streams[f] = struct{}{}
		s.notifyLocked()
		s.mu.Unlock()

		defer func() {
			f.close()
			s.mu.Lock()
			delete(s.streams, f)
			s.notifyLocked()
			s.mu.Unlock()
		}()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(":ok\n\n"))
		flusher.Flush()

		for {
			select {
			case frame := <-f.out:
				if _, err := w.Write(frame); err != nil {
					return
				}
				flusher.Flush()
			case <-f.done:
				return
			case <-r.Context().Done():
				return
			}
		}
	}
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	token := bearer(r)

	s.mu.Lock()
	status := s.nextStatusLocked(&s.failPublishes)
	authorized := s.tokens[token]
	s.mu.Unlock()

	if status != 0 {
		writeError(w, status, "forced_failure", "forced by test")
		return
	}
	if !clientSupported(r) {
		writeError(w, http.StatusBadRequest, "unsupported_client", "client API version not supported")
		return
	}
	if !authorized {
		writeError(w, http.StatusUnauthorized, "invalid_token", "The access token provided is invalid.")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req, err := wire.ParsePublishForm(r.PostForm)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, wire.PublishResponse{OK: false, Error: err.Error()})
		return
	}

	s.mu.Lock()
	s.published = append(s.published, Published{Request: req, Token: token, At: time.Now()})
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, wire.PublishResponse{OK: true})

	_, _ = s.Emit(wire.Event{
		Name:     req.Name,
		Data:     req.Data,
		TTL:      req.TTL,
		DeviceID: APIDeviceID,
	}, req.Private)
}

// nextStatusLocked pops the next forced status. Caller holds s.mu.
func (s *Server) nextStatusLocked(queue *[]int) int {
	if len(*queue) == 0 {
		return 0
	}
	status := (*queue)[0]
	*queue = (*queue)[1:]
	return status
}

// clientSupported rejects this library's clients built for another API major
// version. Other user agents pass.
func clientSupported(r *http.Request) bool {
	v, err := version.ParseUserAgent(r.UserAgent())
	if err != nil {
		return true
	}
	return v.Compatible(version.Version{Major: version.APIVersion})
}

func bearer(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("access_token")
}

func writeError(w http.ResponseWriter, status int, code, desc string) {
	writeJSON(w, status, wire.PublishResponse{Error: code, Description: desc})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
