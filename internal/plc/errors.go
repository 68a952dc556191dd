package plc

import "errors"

// Domain errors for the plc package.
var (
	// ErrNotSet is returned by Store.Get when a variable has never been observed.
	ErrNotSet = errors.New("plc: variable not set")

	// ErrNotBool is returned by Store.Bool when the stored value is not a boolean.
	ErrNotBool = errors.New("plc: variable is not a boolean")

	// ErrNotConnected is returned when an operation requires a live connection.
	ErrNotConnected = errors.New("plc: not connected")

	// ErrQueueFull is returned when the link's job queue cannot accept more work.
	ErrQueueFull = errors.New("plc: job queue full")

	// ErrConnectionFailed is returned when the controller cannot be reached.
	ErrConnectionFailed = errors.New("plc: connection failed")

	// ErrAttachFailed is returned when a variable cannot be monitored.
	ErrAttachFailed = errors.New("plc: attach failed")

	// ErrWriteFailed is returned when the controller rejects a write.
	ErrWriteFailed = errors.New("plc: write failed")

	// ErrObserverNotComparable is returned when an observer cannot be used as a set member.
	ErrObserverNotComparable = errors.New("plc: observer is not comparable")

	// ErrInvalidKey is returned when a key string cannot be parsed.
	ErrInvalidKey = errors.New("plc: invalid variable key")
)
