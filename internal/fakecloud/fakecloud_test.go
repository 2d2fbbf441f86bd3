package fakecloud

import (
	"bufio"
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phuongtg/spark-cloud-go/pkg/wire"
)

func openFeed(t *testing.T, s *Server, path, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, s.URL()+path, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestStreamRequiresToken(t *testing.T) {
	s := New("good")
	defer s.Close()

	resp := openFeed(t, s, "/v1/events", "bad")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 1, s.Opens(wire.AllPublic()))
	assert.Zero(t, s.TotalStreams())
}

func TestForcedOpenFailures(t *testing.T) {
	s := New("good")
	defer s.Close()
	s.FailNextOpens(503)

	assert.Equal(t, http.StatusServiceUnavailable, openFeed(t, s, "/v1/events", "good").StatusCode)
	assert.Equal(t, http.StatusOK, openFeed(t, s, "/v1/events", "good").StatusCode)
}

func TestEmitFanOut(t *testing.T) {
	s := New("good")
	defer s.Close()
	s.AddOwnedDevice("mine")

	pub := bufio.NewReader(openFeed(t, s, "/v1/events", "good").Body)
	own := bufio.NewReader(openFeed(t, s, "/v1/devices/events", "good").Body)
	dev := bufio.NewReader(openFeed(t, s, "/v1/devices/mine/events", "good").Body)
	require.Eventually(t, func() bool { return s.TotalStreams() == 3 }, time.Second, 5*time.Millisecond)

	tests := []struct {
		name    string
		ev      wire.Event
		private bool
		want    int
	}{
		{"public from owned device", wire.Event{Name: "a", DeviceID: "mine"}, false, 3},
		{"private from owned device", wire.Event{Name: "b", DeviceID: "mine"}, true, 2},
		{"public from stranger", wire.Event{Name: "c", DeviceID: "stranger"}, false, 1},
		{"private from stranger", wire.Event{Name: "d", DeviceID: "stranger"}, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := s.Emit(tt.ev, tt.private)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}

	// Each reader sees the ":ok" preamble then its first frame.
	for _, rd := range []*bufio.Reader{pub, own, dev} {
		line, err := rd.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, ":ok\n", line)
	}
}

func TestPublishEndpoint(t *testing.T) {
	s := New("good")
	defer s.Close()

	form := url.Values{"name": {"temp"}, "data": {"1"}, "private": {"true"}, "ttl": {"30"}}
	req, err := http.NewRequest(http.MethodPost, s.URL()+wire.PublishPath, strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer good")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	published := s.Published()
	require.Len(t, published, 1)
	assert.Equal(t, wire.PublishRequest{Name: "temp", Data: "1", Private: true, TTL: 30}, published[0].Request)
	assert.Equal(t, "good", published[0].Token)
}

func TestDropAndWait(t *testing.T) {
	s := New("good")
	defer s.Close()

	openFeed(t, s, "/v1/devices/x/events", "good")
	require.True(t, s.WaitStreams(wire.Device("x"), 1, time.Second))

	s.Drop(wire.Device("x"))
	assert.True(t, s.WaitStreams(wire.Device("x"), 0, time.Second))
}

func TestEmitAfterClose(t *testing.T) {
	s := New()
	s.Close()
	_, err := s.Emit(wire.Event{Name: "x"}, false)
	assert.ErrorIs(t, err, ErrServerClosed)
}

func TestRejectsIncompatibleClient(t *testing.T) {
	s := New("good")
	defer s.Close()

	tests := []struct {
		ua   string
		want int
	}{
		{"spark-cloud-go/1.4 (go1.25.5; linux/amd64)", http.StatusOK},
		{"spark-cloud-go/2.0", http.StatusBadRequest},
		{"curl/8.5.0", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.ua, func(t *testing.T) {
			req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, s.URL()+"/v1/events", nil)
			require.NoError(t, err)
			req.Header.Set("Authorization", "Bearer good")
			req.Header.Set("User-Agent", tt.ua)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			t.Cleanup(func() { resp.Body.Close() })
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}
