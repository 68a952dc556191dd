package influxdb

import "errors"

// Sentinel errors. Asynchronous write failures arrive wrapped in
// ErrWriteFailed through the SetOnError callback.
var (
	ErrDisabled         = errors.New("influxdb: disabled in configuration")
	ErrConnectionFailed = errors.New("influxdb: connection failed")
	ErrNotConnected     = errors.New("influxdb: not connected")
	ErrWriteFailed      = errors.New("influxdb: write failed")
)
