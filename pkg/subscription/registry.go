package subscription

import (
	"errors"
	"sync"

	"github.com/phuongtg/spark-cloud-go/pkg/wire"
)

// ErrSubscriptionNotFound is returned by Get for unknown or removed handles.
var ErrSubscriptionNotFound = errors.New("subscription not found")

// Registry holds the live subscriptions, grouped by scope.
// It is safe for concurrent use.
type Registry struct {
	mu sync.RWMutex

	// Active subscriptions by handle
	subscriptions map[Handle]*Subscription

	// Per-scope lists in insertion order
	scopes map[wire.Scope]*scopeList

	// Scopes in first-use order, for stable listings
	order []wire.Scope

	lastID Handle
}

// scopeList keeps a scope's subscriptions in insertion order. Removed
// entries become nil and are compacted once they outnumber live ones.
type scopeList struct {
	subs []*Subscription
	live int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		subscriptions: make(map[Handle]*Subscription),
		scopes:        make(map[wire.Scope]*scopeList),
	}
}

// Add registers a subscription and returns it with a fresh handle.
func (r *Registry) Add(scope wire.Scope, prefix string, handler Handler) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastID++
	sub := NewSubscription(r.lastID, scope, prefix, handler)

	list := r.scopes[scope]
	if list == nil {
		list = &scopeList{}
		r.scopes[scope] = list
		r.order = append(r.order, scope)
	}
	sub.slot = len(list.subs)
	list.subs = append(list.subs, sub)
	list.live++

	r.subscriptions[sub.ID] = sub
	return sub
}

// Remove unregisters and deactivates a subscription. Removing an unknown
// handle returns false and changes nothing.
func (r *Registry) Remove(id Handle) (*Subscription, bool) {
	r.mu.Lock()
	sub, ok := r.subscriptions[id]
	if ok {
		r.removeLocked(sub)
	}
	r.mu.Unlock()

	if !ok {
		return nil, false
	}
	sub.Deactivate()
	return sub, true
}

func (r *Registry) removeLocked(sub *Subscription) {
	delete(r.subscriptions, sub.ID)

	list := r.scopes[sub.Scope]
	list.subs[sub.slot] = nil
	list.live--

	switch {
	case list.live == 0:
		r.dropScopeLocked(sub.Scope)
	case list.live*2 < len(list.subs):
		list.compact()
	}
}

// compact removes tombstones, keeping order.
func (l *scopeList) compact() {
	kept := l.subs[:0]
	for _, s := range l.subs {
		if s != nil {
			s.slot = len(kept)
			kept = append(kept, s)
		}
	}
	clear(l.subs[len(kept):])
	l.subs = kept
}

func (r *Registry) dropScopeLocked(scope wire.Scope) {
	delete(r.scopes, scope)
	for i, s := range r.order {
		if s == scope {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Matching returns, in insertion order, the live subscriptions on scope
// whose prefix matches name. The result is a snapshot owned by the caller.
func (r *Registry) Matching(scope wire.Scope, name string) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.scopes[scope]
	if list == nil {
		return nil
	}
	var out []*Subscription
	for _, s := range list.subs {
		if s != nil && s.Matches(name) {
			out = append(out, s)
		}
	}
	return out
}

// InScope returns every live subscription on scope, in insertion order.
func (r *Registry) InScope(scope wire.Scope) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.scopes[scope]
	if list == nil {
		return nil
	}
	out := make([]*Subscription, 0, list.live)
	for _, s := range list.subs {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// ScopesInUse returns the scopes with at least one subscription, in the
// order they were first used.
func (r *Registry) ScopesInUse() []wire.Scope {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]wire.Scope, len(r.order))
	copy(out, r.order)
	return out
}

// Count returns the number of subscriptions on scope.
func (r *Registry) Count(scope wire.Scope) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if list := r.scopes[scope]; list != nil {
		return list.live
	}
	return 0
}

// RemoveScope unregisters and deactivates every subscription on scope and
// returns them in insertion order.
func (r *Registry) RemoveScope(scope wire.Scope) []*Subscription {
	r.mu.Lock()
	list := r.scopes[scope]
	var removed []*Subscription
	if list != nil {
		for _, s := range list.subs {
			if s != nil {
				delete(r.subscriptions, s.ID)
				removed = append(removed, s)
			}
		}
		r.dropScopeLocked(scope)
	}
	r.mu.Unlock()

	for _, s := range removed {
		s.Deactivate()
	}
	return removed
}

// Clear removes every subscription.
func (r *Registry) Clear() {
	r.mu.Lock()
	subs := make([]*Subscription, 0, len(r.subscriptions))
	for _, s := range r.subscriptions {
		subs = append(subs, s)
	}
	r.subscriptions = make(map[Handle]*Subscription)
	r.scopes = make(map[wire.Scope]*scopeList)
	r.order = nil
	r.mu.Unlock()

	for _, s := range subs {
		s.Deactivate()
	}
}

// Len returns the total number of subscriptions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscriptions)
}

// Get returns a subscription by handle.
func (r *Registry) Get(id Handle) (*Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, exists := r.subscriptions[id]
	if !exists {
		return nil, ErrSubscriptionNotFound
	}
	return sub, nil
}
