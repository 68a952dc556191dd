package plc

import (
	"fmt"
	"sync"
)

// Observer receives every value change written to a Store.
type Observer interface {
	VariableChanged(key Key, value any)
}

// funcObserver gives a plain function a stable identity so it can be
// registered and removed again.
type funcObserver struct {
	fn func(Key, any)
}

func (o *funcObserver) VariableChanged(key Key, value any) {
	o.fn(key, value)
}

// ObserverFunc wraps fn as an Observer. Keep the returned value to remove it later.
func ObserverFunc(fn func(key Key, value any)) Observer {
	return &funcObserver{fn: fn}
}

// Deliver wraps an observer so that every notification is posted through exec.
func Deliver(exec Executor, o Observer) Observer {
	return &postedObserver{exec: exec, target: o}
}

type postedObserver struct {
	exec   Executor
	target Observer
}

func (p *postedObserver) VariableChanged(key Key, value any) {
	p.exec.Post(func() { p.target.VariableChanged(key, value) })
}

// Store is the single source of truth for the last known value of every
// observed variable.
//
// Construct one per process and pass it to everything that needs it.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Observers are called outside the lock, from a snapshot of the observer
//     set, so an observer may add or remove observers (itself included).
type Store struct {
	mu     sync.RWMutex
	values map[Key]any

	obsMu     sync.RWMutex
	observers map[Observer]struct{}

	logger Logger
}

// NewStore creates an empty store.
func NewStore(logger Logger) *Store {
	return &Store{
		values:    make(map[Key]any),
		observers: make(map[Observer]struct{}),
		logger:    orNop(logger),
	}
}

// Set overwrites the value for key and notifies every observer.
func (s *Store) Set(key Key, value any) {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()

	s.notify(key, value)
}

// Get returns the last known value for key, or ErrNotSet if the key was never observed.
func (s *Store) Get(key Key) (any, error) {
	s.mu.RLock()
	v, ok := s.values[key]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotSet, key)
	}
	return v, nil
}

// IsSet reports whether key has been observed.
func (s *Store) IsSet(key Key) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.values[key]
	return ok
}

// Bool returns the value for key as a boolean.
func (s *Store) Bool(key Key) (bool, error) {
	v, err := s.Get(key)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s holds %T", ErrNotBool, key, v)
	}
	return b, nil
}

// Snapshot returns a copy of every stored value.
func (s *Store) Snapshot() map[Key]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Key]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Len returns the number of observed keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// AddObserver registers o. Registering the same observer twice has no effect.
//
// Observers are identified by interface equality, so o must be comparable:
// use a pointer, or wrap a function with ObserverFunc. A non-comparable
// observer (a struct value holding a map, slice or func) is rejected with
// ErrObserverNotComparable.
func (s *Store) AddObserver(o Observer) (err error) {
	if o == nil {
		return nil
	}
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %T", ErrObserverNotComparable, o)
		}
	}()
	s.observers[o] = struct{}{}
	return nil
}

// RemoveObserver unregisters o. Removing an unknown or non-comparable
// observer is a no-op.
func (s *Store) RemoveObserver(o Observer) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	defer func() { _ = recover() }()
	delete(s.observers, o)
}

// ObserverCount returns the number of registered observers.
func (s *Store) ObserverCount() int {
	s.obsMu.RLock()
	defer s.obsMu.RUnlock()
	return len(s.observers)
}

func (s *Store) notify(key Key, value any) {
	s.obsMu.RLock()
	observers := make([]Observer, 0, len(s.observers))
	for o := range s.observers {
		observers = append(observers, o)
	}
	s.obsMu.RUnlock()

	for _, o := range observers {
		s.callObserver(o, key, value)
	}
}

func (s *Store) callObserver(o Observer, key Key, value any) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("store observer panic", "key", string(key), "error", fmt.Errorf("%v", r))
		}
	}()
	o.VariableChanged(key, value)
}
