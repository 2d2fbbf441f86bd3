package cloud

import (
	"log/slog"
	"time"

	"github.com/phuongtg/spark-cloud-go/pkg/connection"
	"github.com/phuongtg/spark-cloud-go/pkg/errors"
	"github.com/phuongtg/spark-cloud-go/pkg/log"
	"github.com/phuongtg/spark-cloud-go/pkg/session"
	"github.com/phuongtg/spark-cloud-go/pkg/transport"
	"github.com/phuongtg/spark-cloud-go/pkg/wire"
)

// Transport opens event streams and publishes events.
// *transport.Client implements it.
type Transport interface {
	transport.StreamOpener
	transport.Publisher
}

// Config configures a Router.
type Config struct {
	// Transport carries streams and publishes. If nil, a transport.Client
	// is built from BaseURL.
	Transport Transport

	// BaseURL is the API root used when Transport is nil
	// (default: transport.DefaultBaseURL).
	BaseURL string

	// TLS configures the client built when Transport is nil. Optional.
	TLS *transport.TLSConfig

	// Credentials supplies access tokens. Required.
	Credentials session.Provider

	// Backoff configures stream reconnection timing.
	Backoff connection.BackoffConfig

	// IdleTimeout closes a silent stream so it can be reconnected.
	IdleTimeout time.Duration

	// MaxFrameSize bounds one buffered record.
	MaxFrameSize int

	// OnConnectionState is called on every stream state change. It runs on
	// the stream's goroutine and must not call Unsubscribe or Close.
	OnConnectionState func(scope wire.Scope, oldState, newState connection.State)

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// ProtocolLogger captures stream traffic and routing. Optional.
	ProtocolLogger log.Logger
}

// DefaultConfig returns a configuration with the default timings.
// Credentials must still be set.
func DefaultConfig() Config {
	return Config{
		BaseURL:      transport.DefaultBaseURL,
		Backoff:      connection.DefaultBackoffConfig(),
		IdleTimeout:  transport.DefaultIdleTimeout,
		MaxFrameSize: wire.DefaultMaxFrameSize,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Credentials == nil {
		return errors.NewValidationError("Credentials", nil, "required")
	}
	if c.IdleTimeout < 0 {
		return errors.NewValidationError("IdleTimeout", c.IdleTimeout, "must not be negative")
	}
	if c.MaxFrameSize < 0 {
		return errors.NewValidationError("MaxFrameSize", c.MaxFrameSize, "must not be negative")
	}
	return nil
}
