package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/nerrad567/plclink/internal/plc"
)

// Config is the root configuration structure for plclink.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	PLC       PLCConfig       `yaml:"plc"`
	Trigger   TriggerConfig   `yaml:"trigger"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Health    HealthConfig    `yaml:"health"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// PLCConfig contains the controller connection settings.
type PLCConfig struct {
	// URL is the OPC UA endpoint, e.g. "opc.tcp://192.168.0.10:4840".
	URL string `yaml:"url"`

	// ReconnectDelay is the fixed wait between connection attempts.
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`

	// KeepAliveInterval is how often the link checks for stop or loss.
	KeepAliveInterval time.Duration `yaml:"keepalive_interval"`

	// PublishingIntervalMS is the server-side subscription interval.
	PublishingIntervalMS int `yaml:"publishing_interval_ms"`

	// RequestTimeout bounds every request to the controller.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Variables are subscribed at startup in addition to the active profile.
	Variables []VariableConfig `yaml:"variables"`

	// ProfileFile is an optional legacy plc_config.json imported at startup.
	ProfileFile string `yaml:"profile_file"`
}

// VariableConfig names one controller variable.
type VariableConfig struct {
	Namespace plc.Namespace `yaml:"namespace"`
	Name      string        `yaml:"name"`
}

// TriggerConfig configures the detection trigger latch.
type TriggerConfig struct {
	Enabled bool `yaml:"enabled"`

	// Namespace of the trigger, signal and output variables.
	Namespace plc.Namespace `yaml:"namespace"`

	// TriggerName is the variable the controller raises to arm the latch.
	TriggerName string `yaml:"trigger_name"`

	// SignalName is the variable the controller echoes back once it has seen the pulse.
	SignalName string `yaml:"signal_name"`

	// Outputs are the variables written on detection.
	Outputs []string `yaml:"outputs"`

	// RearmAfter clears the sent flag after this long even without an echo.
	// Zero disables re-arming.
	RearmAfter time.Duration `yaml:"rearm_after"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// HealthConfig controls periodic health reporting.
type HealthConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// envPrefix prefixes every environment override.
const envPrefix = "PLCLINK_"

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. A .env file next to the config file, if present
//  3. YAML file values (override defaults)
//  4. Environment variables (override file values)
//
// Environment variables follow the pattern: PLCLINK_SECTION_KEY
// For example: PLCLINK_PLC_URL, PLCLINK_API_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration with environment overrides applied.
// It is used when no config file is given.
func Default() (*Config, error) {
	cfg := defaultConfig()
	if err := loadDotEnv(".env"); err != nil {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		PLC: PLCConfig{
			URL:                  "opc.tcp://localhost:4840",
			ReconnectDelay:       5 * time.Second,
			KeepAliveInterval:    time.Second,
			PublishingIntervalMS: 500,
			RequestTimeout:       10 * time.Second,
		},
		Trigger: TriggerConfig{
			Namespace:  "4",
			SignalName: "SinalPython",
			Outputs:    []string{"SinalPython"},
		},
		Database: DatabaseConfig{
			Path:        "./data/plclink.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "plclink",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			Org:           "plclink",
			Bucket:        "plclink",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Health: HealthConfig{
			Interval: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) error {
	var errs []error

	str := func(name string, dst *string) {
		if v := os.Getenv(envPrefix + name); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v := os.Getenv(envPrefix + name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	flag := func(name string, dst *bool) {
		if v := os.Getenv(envPrefix + name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v := os.Getenv(envPrefix + name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	// PLC
	str("PLC_URL", &cfg.PLC.URL)
	dur("PLC_RECONNECT_DELAY", &cfg.PLC.ReconnectDelay)
	str("PLC_PROFILE_FILE", &cfg.PLC.ProfileFile)

	// Trigger
	flag("TRIGGER_ENABLED", &cfg.Trigger.Enabled)
	str("TRIGGER_NAME", &cfg.Trigger.TriggerName)

	// Database
	str("DATABASE_PATH", &cfg.Database.Path)

	// MQTT
	flag("MQTT_ENABLED", &cfg.MQTT.Enabled)
	str("MQTT_HOST", &cfg.MQTT.Broker.Host)
	num("MQTT_PORT", &cfg.MQTT.Broker.Port)
	str("MQTT_USERNAME", &cfg.MQTT.Auth.Username)
	str("MQTT_PASSWORD", &cfg.MQTT.Auth.Password)

	// API
	str("API_HOST", &cfg.API.Host)
	num("API_PORT", &cfg.API.Port)

	// InfluxDB
	flag("INFLUXDB_ENABLED", &cfg.InfluxDB.Enabled)
	str("INFLUXDB_URL", &cfg.InfluxDB.URL)
	str("INFLUXDB_TOKEN", &cfg.InfluxDB.Token)

	// Logging
	str("LOG_LEVEL", &cfg.Logging.Level)

	return errors.Join(errs...)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	// PLC validation
	if !strings.HasPrefix(c.PLC.URL, "opc.tcp://") {
		errs = append(errs, "plc.url must start with opc.tcp://")
	}
	if c.PLC.ReconnectDelay <= 0 {
		errs = append(errs, "plc.reconnect_delay must be positive")
	}
	if c.PLC.PublishingIntervalMS < 0 {
		errs = append(errs, "plc.publishing_interval_ms must not be negative")
	}
	for i, v := range c.PLC.Variables {
		if strings.TrimSpace(v.Name) == "" {
			errs = append(errs, fmt.Sprintf("plc.variables[%d].name is required", i))
		}
		if _, err := v.Namespace.Index(); err != nil {
			errs = append(errs, fmt.Sprintf("plc.variables[%d].namespace must be an index", i))
		}
	}

	// Trigger validation
	if c.Trigger.Enabled {
		if c.Trigger.TriggerName == "" {
			errs = append(errs, "trigger.trigger_name is required when trigger is enabled")
		}
		if c.Trigger.SignalName == "" {
			errs = append(errs, "trigger.signal_name is required when trigger is enabled")
		}
		if len(c.Trigger.Outputs) == 0 {
			errs = append(errs, "trigger.outputs must not be empty when trigger is enabled")
		}
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// PublishingInterval returns the subscription interval as a Duration.
func (c *PLCConfig) PublishingInterval() time.Duration {
	return time.Duration(c.PublishingIntervalMS) * time.Millisecond
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
