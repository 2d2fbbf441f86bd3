// Package subscription keeps the bookkeeping for event subscriptions.
//
// A Subscription pairs a scope and an optional name prefix with a handler.
// The Registry holds every live subscription grouped by scope and answers
// which subscriptions an event arriving on a scope's stream must reach.
//
// # Matching
//
// An event matches a subscription when the event arrived on the
// subscription's scope and its name starts with the subscription's prefix.
// The comparison is an exact, case-sensitive byte prefix; the empty prefix
// matches every name. Matching returns subscriptions in the order they were
// added.
//
// # Delivery
//
// Each Subscription owns a mailbox. Deliver, Fail and Terminate enqueue
// without blocking, and a drain goroutine started on demand invokes the
// handler one item at a time in enqueue order. Handlers of one subscription
// never run concurrently; handlers of different subscriptions may.
//
// Removing a subscription deactivates it: queued events not yet handed to
// the handler are dropped. An invocation already in progress completes.
// Terminate delivers a final error exactly once, after anything queued
// before it, and leaves the subscription inactive.
//
// # Lifecycle
//
// Subscriptions do not outlive the Registry entry. Removing a handle twice is
// a no-op. Handles are never reused within a process.
package subscription
