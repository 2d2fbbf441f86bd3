// Package connection manages the long-lived event stream of one scope.
//
// A Stream owns one goroutine that connects, reads, decodes and reconnects:
//
//	CONNECTING -> STREAMING -> DISCONNECTED -> RECONNECTING -> CONNECTING ...
//	any state  -> CLOSED (Close, or an unrecoverable credential rejection)
//
// # Reconnection Strategy
//
// When a stream drops or a connection attempt fails, the next attempt waits
// for an exponential backoff:
//
//  1. Initial delay: 1 second
//  2. Exponential increase: 2s, 4s, 8s, 16s, 32s
//  3. Maximum delay: 60 seconds
//  4. Continue at 60s until successful
//  5. Reset to 1s once a stream stays up longer than the current delay
//
// # Jitter
//
// To prevent thundering herd when many clients reconnect after an outage:
//
//	actual_delay = base_delay + random(0, base_delay * 0.25)
//
// # Credentials
//
// Each attempt borrows a token from the session.Provider. If the cloud
// rejects it, the stream forces one refresh and retries once. A second
// rejection, or a failed refresh, closes the stream and reports an
// *errors.AuthError through OnFatal. Nothing else is fatal.
package connection
