package cloud

import (
	"github.com/phuongtg/spark-cloud-go/pkg/connection"
	"github.com/phuongtg/spark-cloud-go/pkg/subscription"
	"github.com/phuongtg/spark-cloud-go/pkg/wire"
)

// ScopeStats describes one scope in use.
type ScopeStats struct {
	Scope           wire.Scope
	State           connection.State
	Subscriptions   int
	Connects        int64
	BackoffAttempts int
	ConnectionID    string
}

// Stats is a point-in-time view of the router.
type Stats struct {
	Connections   int
	Subscriptions int
	Scopes        []ScopeStats
}

// SubscriptionInfo describes one registered subscription.
type SubscriptionInfo struct {
	Handle    subscription.Handle
	Scope     wire.Scope
	Prefix    string
	Delivered int64
	Errors    int64
	Dropped   int64
}

// Stats returns the connection and subscription counts per scope, in the
// order scopes were first subscribed.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Stats{
		Connections:   len(r.streams),
		Subscriptions: r.registry.Len(),
	}
	for _, scope := range r.registry.ScopesInUse() {
		ss := ScopeStats{
			Scope:         scope,
			State:         connection.StateClosed,
			Subscriptions: r.registry.Count(scope),
		}
		if st, ok := r.streams[scope]; ok {
			ss.State = st.State()
			ss.Connects = st.Connects()
			ss.BackoffAttempts = st.BackoffAttempts()
			ss.ConnectionID = st.ID()
		}
		stats.Scopes = append(stats.Scopes, ss)
	}
	return stats
}

// State returns the stream state of scope, and false if the scope has no stream.
func (r *Router) State(scope wire.Scope) (connection.State, bool) {
	r.mu.Lock()
	st, ok := r.streams[scope]
	r.mu.Unlock()
	if !ok {
		return connection.StateClosed, false
	}
	return st.State(), true
}

// Subscriptions lists the registered subscriptions grouped by scope.
func (r *Router) Subscriptions() []SubscriptionInfo {
	var out []SubscriptionInfo
	for _, scope := range r.registry.ScopesInUse() {
		for _, sub := range r.registry.InScope(scope) {
			out = append(out, SubscriptionInfo{
				Handle:    sub.ID,
				Scope:     sub.Scope,
				Prefix:    sub.Prefix,
				Delivered: sub.Delivered(),
				Errors:    sub.Errors(),
				Dropped:   sub.Dropped(),
			})
		}
	}
	return out
}
