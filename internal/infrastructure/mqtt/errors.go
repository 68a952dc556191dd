package mqtt

import "errors"

// Sentinel errors for the broker client. Check with errors.Is.
var (
	// ErrNotConnected means the broker link is down; publishes are not queued.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed is returned by Connect.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	ErrPublishFailed   = errors.New("mqtt: publish failed")
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidQoS rejects levels outside 0..2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic covers empty topics and topics outside the plclink tree.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")
)
