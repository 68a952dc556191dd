package plc

import "sync"

// Callback is invoked with the subscriber's own key and the new value.
type Callback func(key Key, value any)

// Subscription is one registered interest in a variable.
type Subscription struct {
	Namespace Namespace
	Name      string

	// Callback is optional. Subscribers without one read through Store observers.
	Callback Callback
}

// Key returns the key spelled the way the subscriber spelled it.
func (s Subscription) Key() Key {
	return NewKey(s.Namespace, s.Name)
}

// Matches reports whether the subscription names the given namespace index and identifier.
func (s Subscription) Matches(index uint16, identifier string) bool {
	return s.Name == identifier && s.Namespace.Canonical() == NamespaceIndex(index).Canonical()
}

// Registry is an append-only, ordered list of subscriptions.
//
// Records can be added from any goroutine at any time. Readers work on
// snapshots so appends never invalidate an iteration in progress.
type Registry struct {
	mu   sync.RWMutex
	subs []Subscription
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add appends a subscription. Duplicates are kept.
func (r *Registry) Add(sub Subscription) {
	r.mu.Lock()
	r.subs = append(r.subs, sub)
	r.mu.Unlock()
}

// Snapshot returns a copy of the current records in registration order.
func (r *Registry) Snapshot() []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Subscription, len(r.subs))
	copy(out, r.subs)
	return out
}

// Match returns every record naming the given namespace index and identifier.
func (r *Registry) Match(index uint16, identifier string) []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Subscription
	for _, s := range r.subs {
		if s.Matches(index, identifier) {
			out = append(out, s)
		}
	}
	return out
}

// Len returns the number of records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Keys returns the distinct keys in registration order.
func (r *Registry) Keys() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[Key]bool, len(r.subs))
	var out []Key
	for _, s := range r.subs {
		k := s.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}
