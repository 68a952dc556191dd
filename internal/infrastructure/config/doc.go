// Package config handles loading and validating plclink configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Loading an optional .env file beside the config file
//   - Overriding with PLCLINK_* environment variables
//   - Validation of required fields, reporting every problem at once
//
// Security Considerations:
//   - Broker passwords and InfluxDB tokens should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.PLC.URL)
package config
