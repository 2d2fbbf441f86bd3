// Package persistence provides on-disk state for the event client.
//
// This package handles the JSON serialization of state that must survive a
// restart: the session credential (access and refresh tokens) and the list
// of subscriptions a CLI user asked for. Session files are written with mode
// 0600.
package persistence
