// Package session supplies bearer credentials to the event client.
//
// Streams and publish calls borrow a Credential from a Provider for each
// attempt and never cache it. When the cloud rejects a credential the caller
// asks the Provider to Refresh; a Manager collapses concurrent refreshes so
// that N rejected streams cause one token exchange.
//
// Three providers are available:
//   - Static: a fixed token, for scripts and tests; cannot refresh
//   - Manager: holds an access/refresh token pair, refreshes on demand and
//     optionally persists the pair through persistence.SessionStore
//   - any user type implementing Provider
package session
