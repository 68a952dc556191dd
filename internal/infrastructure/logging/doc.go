// Package logging provides structured logging for plclink.
//
// This package wraps Go's standard log/slog package so every component
// logs with the same default fields (service, version) and format.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	manager, _ := plc.NewManager(plc.ManagerOptions{Logger: logger.Component("plc"), ...})
//
// Never log broker passwords or InfluxDB tokens.
package logging
