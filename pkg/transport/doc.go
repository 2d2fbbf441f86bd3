// Package transport provides the HTTP transport to the event cloud.
//
// The transport layer handles:
//   - Opening a long-lived Server-Sent Events stream for a scope
//   - Publishing events with a form POST
//   - Classifying HTTP failures (401/403 as auth, others as connection or publish errors)
//   - Idle detection on open streams
//
// # Endpoints
//
//	GET  {base}/v1/events                  public firehose
//	GET  {base}/v1/devices/events          all devices of the user
//	GET  {base}/v1/devices/{id}/events     one device
//	POST {base}/v1/devices/events          publish (name, data, private, ttl)
//
// Every request carries "Authorization: Bearer <token>". The token is passed
// per call and never stored by the transport.
//
// # Keep-Alive
//
// The cloud writes a comment line roughly every 9 seconds while a stream is
// idle. A stream with no bytes for IdleTimeout (default 90 seconds) is
// considered dead; IdleReader closes it so the reader observes
// ErrIdleTimeout.
package transport
