package plc

import (
	"fmt"
	"sync/atomic"

	"github.com/gopcua/opcua/ua"
)

// maxUnwrapDepth bounds Normalize on self-referencing wrappers.
const maxUnwrapDepth = 4

// ChangeEvent is a raw data change reported by the controller.
type ChangeEvent struct {
	// Namespace is the namespace index as reported by the server.
	Namespace uint16

	// Identifier is the node's symbolic identifier.
	Identifier string

	// Value is the raw value; it may still be wrapped in protocol types.
	Value any
}

// Key returns the canonical key of the changed variable.
func (e ChangeEvent) Key() Key {
	return CanonicalKey(e.Namespace, e.Identifier)
}

// valuer matches richly typed protocol wrappers such as *ua.Variant.
type valuer interface {
	Value() any
}

// Normalize unwraps protocol wrappers down to their primitive payload.
// Primitive values are returned unchanged.
func Normalize(v any) any {
	for i := 0; i < maxUnwrapDepth; i++ {
		switch w := v.(type) {
		case *ua.DataValue:
			if w == nil || w.Value == nil {
				return nil
			}
			v = w.Value
		case *ua.Variant:
			if w == nil {
				return nil
			}
			v = w.Value()
		case valuer:
			v = w.Value()
		default:
			return v
		}
	}
	return v
}

// Dispatcher turns raw change events into store updates and subscriber callbacks.
type Dispatcher struct {
	store    *Store
	registry *Registry
	exec     Executor
	logger   Logger

	handled   atomic.Uint64
	unmatched atomic.Uint64
	failures  atomic.Uint64
}

// NewDispatcher creates a dispatcher. A nil executor runs callbacks inline.
func NewDispatcher(store *Store, registry *Registry, exec Executor, logger Logger) *Dispatcher {
	if exec == nil {
		exec = Inline
	}
	return &Dispatcher{
		store:    store,
		registry: registry,
		exec:     exec,
		logger:   orNop(logger),
	}
}

// Handle processes one notification. It never panics.
func (d *Dispatcher) Handle(ev ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.failures.Add(1)
			d.logger.Error("notification handling failed",
				"key", string(ev.Key()),
				"error", fmt.Errorf("%v", r))
		}
	}()

	value := Normalize(ev.Value)
	key := ev.Key()

	d.store.Set(key, value)
	d.handled.Add(1)

	matches := d.registry.Match(ev.Namespace, ev.Identifier)
	if len(matches) == 0 {
		d.unmatched.Add(1)
		d.logger.Warn("no subscription for notification", "key", string(key))
		return
	}

	for _, sub := range matches {
		if sub.Callback == nil {
			continue
		}
		cb := sub.Callback
		subKey := sub.Key()
		d.exec.Post(func() { d.invoke(cb, subKey, value) })
	}
}

func (d *Dispatcher) invoke(cb Callback, key Key, value any) {
	defer func() {
		if r := recover(); r != nil {
			d.failures.Add(1)
			d.logger.Error("subscription callback panic", "key", string(key), "error", fmt.Errorf("%v", r))
		}
	}()
	cb(key, value)
}

// DispatcherStats holds dispatcher counters.
type DispatcherStats struct {
	Handled   uint64
	Unmatched uint64
	Failures  uint64
}

// Stats returns current counters.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Handled:   d.handled.Load(),
		Unmatched: d.unmatched.Load(),
		Failures:  d.failures.Load(),
	}
}
