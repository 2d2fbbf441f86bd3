package transport

import (
	"context"
	"io"

	"github.com/phuongtg/spark-cloud-go/pkg/wire"
)

// StreamOpener opens the event stream of a scope.
// Implemented by Client.
type StreamOpener interface {
	// OpenStream returns the response body of an accepted stream request.
	// Rejected credentials yield an error matching errors.ErrAuth.
	OpenStream(ctx context.Context, scope wire.Scope, token string) (io.ReadCloser, error)
}

// Publisher publishes events.
// Implemented by Client.
type Publisher interface {
	// Publish sends one event. Rejected credentials yield an error matching
	// errors.ErrAuth; any other rejection is a *errors.PublishError.
	Publish(ctx context.Context, token string, req wire.PublishRequest) error
}

// Compile-time interface satisfaction checks.
var (
	_ StreamOpener = (*Client)(nil)
	_ Publisher    = (*Client)(nil)
)
