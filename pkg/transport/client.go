package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/phuongtg/spark-cloud-go/pkg/errors"
	"github.com/phuongtg/spark-cloud-go/pkg/log"
	"github.com/phuongtg/spark-cloud-go/pkg/version"
	"github.com/phuongtg/spark-cloud-go/pkg/wire"
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://api.particle.io"

// Client defaults.
const (
	// DefaultConnectTimeout bounds connection setup up to the response headers.
	DefaultConnectTimeout = 30 * time.Second

	// DefaultPublishTimeout bounds a whole publish call.
	DefaultPublishTimeout = 30 * time.Second

	// maxErrorBody limits how much of an error response is read.
	maxErrorBody = 64 << 10
)

// ClientConfig configures a cloud client.
type ClientConfig struct {
	// BaseURL is the API root (default: DefaultBaseURL).
	BaseURL string

	// HTTPClient performs requests. It must not set an overall Timeout,
	// which would cut off long-lived streams. If nil, a client is built from
	// ConnectTimeout and TLS.
	HTTPClient *http.Client

	// TLS configures certificate verification when HTTPClient is nil.
	TLS *TLSConfig

	// ConnectTimeout is the connection and response-header timeout (default: 30s).
	ConnectTimeout time.Duration

	// PublishTimeout bounds publish calls whose context has no deadline
	// (default: 30s).
	PublishTimeout time.Duration

	// UserAgent overrides the User-Agent header (default: version.UserAgent()).
	UserAgent string

	// ProtocolLogger receives publish traffic. Optional.
	ProtocolLogger log.Logger
}

// Client talks to the cloud's event endpoints over HTTP.
type Client struct {
	config  ClientConfig
	base    *url.URL
	http    *http.Client
	plogger log.Logger
}

// NewClient creates a new cloud client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	if config.PublishTimeout == 0 {
		config.PublishTimeout = DefaultPublishTimeout
	}
	if config.UserAgent == "" {
		config.UserAgent = version.UserAgent()
	}
	if config.ProtocolLogger == nil {
		config.ProtocolLogger = log.NoopLogger{}
	}

	base, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", config.BaseURL)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient, err = newHTTPClient(config)
		if err != nil {
			return nil, err
		}
	}

	return &Client{
		config:  config,
		base:    base,
		http:    httpClient,
		plogger: config.ProtocolLogger,
	}, nil
}

func newHTTPClient(config ClientConfig) (*http.Client, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.ResponseHeaderTimeout = config.ConnectTimeout
	tr.TLSHandshakeTimeout = config.ConnectTimeout
	if config.TLS != nil {
		tlsConf, err := NewClientTLSConfig(config.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		tr.TLSClientConfig = tlsConf
	}
	return &http.Client{Transport: tr}, nil
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// StreamURL returns the feed URL of a scope.
func (c *Client) StreamURL(scope wire.Scope) string {
	return c.base.String() + scope.Path()
}

// OpenStream issues the stream request for scope and returns the body once
// the cloud has accepted it. The body stays open until the server ends the
// stream, ctx is cancelled, or the caller closes it.
func (c *Client) OpenStream(ctx context.Context, scope wire.Scope, token string) (io.ReadCloser, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	endpoint := c.StreamURL(scope)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.NewConnectionError("request", endpoint, err)
	}
	c.authorize(req, token)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.NewConnectionError("dial", endpoint, err)
	}

	if resp.StatusCode == http.StatusOK {
		return resp.Body, nil
	}

	apiErr := readAPIError(resp, endpoint)
	if errors.IsAuthStatus(resp.StatusCode) {
		return nil, &errors.AuthError{StatusCode: resp.StatusCode, Message: apiErr.Description, Err: apiErr}
	}
	return nil, errors.NewConnectionError("status", endpoint, apiErr)
}

// Publish sends one event. It is independent of any open stream.
func (c *Client) Publish(ctx context.Context, token string, pr wire.PublishRequest) error {
	if err := pr.Validate(); err != nil {
		return &errors.PublishError{Name: pr.Name, Message: "invalid request", Err: err}
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.PublishTimeout)
		defer cancel()
	}

	endpoint := c.base.String() + wire.PublishPath
	body := pr.Form().Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
	if err != nil {
		return &errors.PublishError{Name: pr.Name, Message: "build request", Err: err}
	}
	c.authorize(req, token)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	c.logPublish(endpoint, pr, len(body))

	resp, err := c.http.Do(req)
	if err != nil {
		cerr := errors.NewConnectionError("publish", endpoint, err)
		c.logError(endpoint, 0, cerr)
		return &errors.PublishError{Name: pr.Name, Message: "request failed", Err: cerr}
	}
	defer resp.Body.Close()

	if errors.IsAuthStatus(resp.StatusCode) {
		apiErr := readAPIError(resp, endpoint)
		c.logError(endpoint, resp.StatusCode, apiErr)
		return &errors.AuthError{StatusCode: resp.StatusCode, Message: apiErr.Description, Err: apiErr}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return &errors.PublishError{Name: pr.Name, StatusCode: resp.StatusCode, Message: "read response", Err: err}
	}

	var pubResp wire.PublishResponse
	decodeErr := json.Unmarshal(data, &pubResp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := pubResp.Message()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		perr := errors.NewPublishError(pr.Name, resp.StatusCode, msg)
		c.logError(endpoint, resp.StatusCode, perr)
		return perr
	}
	if decodeErr != nil {
		return &errors.PublishError{Name: pr.Name, StatusCode: resp.StatusCode, Message: "invalid response", Err: decodeErr}
	}
	if !pubResp.OK {
		msg := pubResp.Message()
		if msg == "" {
			msg = "not accepted"
		}
		perr := errors.NewPublishError(pr.Name, resp.StatusCode, msg)
		c.logError(endpoint, resp.StatusCode, perr)
		return perr
	}
	return nil
}

func (c *Client) authorize(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", c.config.UserAgent)
}

func (c *Client) logPublish(endpoint string, pr wire.PublishRequest, size int) {
	private := pr.Private
	c.plogger.Log(log.Event{
		Timestamp: time.Now(),
		Direction: log.DirectionOut,
		Layer:     log.LayerWire,
		Category:  log.CategoryMessage,
		Endpoint:  endpoint,
		Record: &log.RecordEvent{
			Name:    pr.Name,
			Data:    pr.Data,
			TTL:     pr.TTL,
			Private: &private,
		},
	})
	c.plogger.Log(log.Event{
		Timestamp: time.Now(),
		Direction: log.DirectionOut,
		Layer:     log.LayerTransport,
		Category:  log.CategoryMessage,
		Endpoint:  endpoint,
		Frame:     &log.FrameEvent{Size: size},
	})
}

func (c *Client) logError(endpoint string, status int, err error) {
	ev := log.Event{
		Timestamp: time.Now(),
		Direction: log.DirectionIn,
		Layer:     log.LayerTransport,
		Category:  log.CategoryError,
		Endpoint:  endpoint,
		Error: &log.ErrorEventData{
			Layer:   log.LayerTransport,
			Message: err.Error(),
			Context: "publish",
		},
	}
	if status != 0 {
		ev.Error.Code = &status
	}
	c.plogger.Log(ev)
}

// readAPIError drains a non-success response into an APIError and closes it.
func readAPIError(resp *http.Response, endpoint string) *errors.APIError {
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	apiErr := &errors.APIError{StatusCode: resp.StatusCode, Endpoint: endpoint}
	var body wire.PublishResponse
	if json.Unmarshal(data, &body) == nil {
		apiErr.Code = body.Error
		apiErr.Description = body.Message()
	}
	if apiErr.Description == "" {
		apiErr.Description = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
