package plc

import (
	"context"
	"time"
)

// Session is one live connection to the controller.
//
// Implementations are only ever called from the manager's background
// goroutine, so they need no internal locking for these calls.
type Session interface {
	// Subscribe creates the server-side change subscription that monitored
	// items are attached to.
	Subscribe(ctx context.Context, interval time.Duration) error

	// Monitor attaches one variable to the subscription. It fails if the
	// variable does not exist or refuses monitoring.
	Monitor(ctx context.Context, ns Namespace, name string) error

	// Read returns the current value of a variable.
	Read(ctx context.Context, ns Namespace, name string) (any, error)

	// Write sets a variable using an explicit Boolean encoding.
	Write(ctx context.Context, ns Namespace, name string, value bool) error

	// Events delivers data changes for monitored items, in server order.
	Events() <-chan ChangeEvent

	// Alive reports whether the underlying connection is still usable.
	Alive() bool

	// Close releases the connection.
	Close(ctx context.Context) error
}

// Dialer opens sessions.
type Dialer interface {
	Dial(ctx context.Context, url string) (Session, error)
}

// DialFunc adapts a function to the Dialer interface.
type DialFunc func(ctx context.Context, url string) (Session, error)

// Dial implements Dialer.
func (f DialFunc) Dial(ctx context.Context, url string) (Session, error) {
	return f(ctx, url)
}
