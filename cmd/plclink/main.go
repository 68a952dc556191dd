// plclink keeps a single OPC UA session to a machine controller alive,
// mirrors the variables it monitors and lets other programs write Booleans
// back through MQTT, HTTP or the command line.
//
// Usage:
//
//	plclink [serve] [-config path]
//	plclink send -url opc.tcp://host:4840 -ns 4 -name Start -value=true
//	plclink version
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	_ "github.com/nerrad567/plclink/migrations"

	"github.com/nerrad567/plclink/internal/api"
	"github.com/nerrad567/plclink/internal/bridge"
	"github.com/nerrad567/plclink/internal/infrastructure/config"
	"github.com/nerrad567/plclink/internal/infrastructure/database"
	"github.com/nerrad567/plclink/internal/infrastructure/influxdb"
	"github.com/nerrad567/plclink/internal/infrastructure/logging"
	"github.com/nerrad567/plclink/internal/infrastructure/mqtt"
	"github.com/nerrad567/plclink/internal/plc"
	"github.com/nerrad567/plclink/internal/profile"
	"github.com/nerrad567/plclink/internal/trigger"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	// defaultConfigPath is used when it exists and no other path is given.
	defaultConfigPath = "configs/config.yaml"

	// configEnv names the environment variable holding the config path.
	configEnv = "PLCLINK_CONFIG"

	// linkStopTimeout bounds how long shutdown waits for the link goroutine.
	linkStopTimeout = 5 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run dispatches to a subcommand. Without one it serves.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	cmd := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		return serve(ctx, args)
	case "send":
		return send(ctx, args, stdout)
	case "version":
		fmt.Fprintf(stdout, "plclink %s (commit %s, built %s)\n", version, commit, date)
		return nil
	default:
		return fmt.Errorf("unknown command %q (want serve, send or version)", cmd)
	}
}

// getConfigPath picks the flag value, then $PLCLINK_CONFIG, then the default
// path if it exists. An empty result means built-in defaults.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv(configEnv); path != "" {
		return path
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default()
	}
	return config.Load(path)
}

// serve runs the long-lived link with its MQTT bridge and HTTP API until ctx
// is cancelled.
func serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configFlag := fs.String("config", "", "path to config.yaml (default $"+configEnv+" or "+defaultConfigPath+")")
	if err := fs.Parse(args); err != nil {
		return err
	}

	log := logging.Default()
	log.Info("starting plclink",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath(*configFlag)
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	// Database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// Profiles
	profiles := profile.NewSQLiteRepository(db.DB)
	if cfg.PLC.ProfileFile != "" {
		name := strings.TrimSuffix(filepath.Base(cfg.PLC.ProfileFile), filepath.Ext(cfg.PLC.ProfileFile))
		p, importErr := profile.ImportLegacyFile(ctx, profiles, name, cfg.PLC.ProfileFile)
		if importErr != nil {
			return fmt.Errorf("importing %s: %w", cfg.PLC.ProfileFile, importErr)
		}
		log.Info("legacy profile imported", "name", p.Name, "variables", len(p.Variables), "active", p.Active)
	}

	// Controller link
	store := plc.NewStore(log.Component("store"))
	manager, err := plc.NewManager(plc.ManagerOptions{
		Dialer:             plc.OPCUADialer{RequestTimeout: cfg.PLC.RequestTimeout},
		Store:              store,
		Registry:           plc.NewRegistry(),
		Logger:             log.Component("plc"),
		ReconnectDelay:     cfg.PLC.ReconnectDelay,
		KeepAliveInterval:  cfg.PLC.KeepAliveInterval,
		PublishingInterval: cfg.PLC.PublishingInterval(),
		RequestTimeout:     cfg.PLC.RequestTimeout,
	})
	if err != nil {
		return fmt.Errorf("creating PLC link: %w", err)
	}

	url, err := subscribeStartup(ctx, cfg, manager, profiles, log)
	if err != nil {
		return err
	}

	// Trigger latch
	var latch *trigger.Latch
	var detector interface {
		Check(detected bool) (trigger.Result, error)
	}
	if cfg.Trigger.Enabled {
		latch, err = trigger.NewLatch(trigger.Config{
			Enabled:     true,
			Namespace:   cfg.Trigger.Namespace,
			TriggerName: cfg.Trigger.TriggerName,
			SignalName:  cfg.Trigger.SignalName,
			Outputs:     cfg.Trigger.Outputs,
			RearmAfter:  cfg.Trigger.RearmAfter,
		}, store, manager, log.Component("trigger"))
		if err != nil {
			return fmt.Errorf("creating trigger latch: %w", err)
		}
		detector = latch
		for _, name := range []string{cfg.Trigger.TriggerName, cfg.Trigger.SignalName} {
			manager.Subscribe(cfg.Trigger.Namespace, name, nil)
		}
		log.Info("trigger latch enabled", "trigger", cfg.Trigger.TriggerName, "signal", cfg.Trigger.SignalName)
	}

	// MQTT bridge (optional)
	var mqttClient *mqtt.Client
	var mqttBridge *bridge.Bridge
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttBridge, err = bridge.New(bridge.Options{
			MQTT:     mqttClient,
			Link:     manager,
			Store:    store,
			Detector: detector,
			Logger:   log.Component("bridge"),
		})
		if err != nil {
			return fmt.Errorf("creating MQTT bridge: %w", err)
		}
		if err := mqttBridge.Start(); err != nil {
			return fmt.Errorf("starting MQTT bridge: %w", err)
		}
		defer func() {
			log.Info("stopping MQTT bridge")
			mqttBridge.Stop()
		}()
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	if latch != nil && influxClient != nil {
		latch.SetOnAction(func(r trigger.Result) {
			influxClient.WriteTriggerAction(string(r.Action), r.Action == trigger.ActionSet)
		})
	}

	// Health reporting
	healthCfg := bridge.HealthReporterConfig{
		Version:  version,
		Interval: cfg.Health.Interval,
		Link:     manager,
		Logger:   log.Component("health"),
	}
	if mqttClient != nil {
		healthCfg.Publisher = mqttClient
	}
	if influxClient != nil {
		healthCfg.Metrics = influxClient
	}
	reporter := bridge.NewHealthReporter(healthCfg)
	reporter.Start(ctx)
	defer reporter.Stop()

	// HTTP API
	apiDeps := api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Logger:   log.Component("api"),
		Link:     manager,
		Profiles: profiles,
		Detector: detector,
		DB:       db,
		Version:  version,
	}
	if mqttClient != nil {
		apiDeps.MQTT = mqttClient
	}
	apiServer, err := api.New(apiDeps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	manager.SetOnStateChange(func(state plc.State) {
		log.Info("controller link state changed", "state", state.String(), "url", manager.URL())
		if mqttBridge != nil {
			mqttBridge.LinkStateChanged(state)
		}
		apiServer.LinkStateChanged(state)
		if influxClient != nil {
			influxClient.WriteLinkState(manager.URL(), state)
		}
	})

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	manager.Start(url)
	defer stopLink(manager, log)
	log.Info("initialisation complete, waiting for shutdown signal",
		"url", url,
		"subscriptions", manager.Registry().Len(),
	)

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// subscribeStartup registers configured variables and the active profile.
// It returns the URL to connect to: the active profile's, else the
// configured one.
func subscribeStartup(ctx context.Context, cfg *config.Config, m *plc.Manager, profiles profile.Repository, log *logging.Logger) (string, error) {
	for _, v := range cfg.PLC.Variables {
		m.Subscribe(v.Namespace, v.Name, nil)
	}

	url := cfg.PLC.URL
	active, err := profiles.GetActive(ctx)
	switch {
	case errors.Is(err, profile.ErrNoActive):
	case err != nil:
		return "", fmt.Errorf("loading active profile: %w", err)
	default:
		added := profile.Apply(m, active)
		url = active.URL
		log.Info("active profile applied", "name", active.Name, "url", active.URL, "subscribed", added)
	}
	return url, nil
}

func stopLink(m *plc.Manager, log *logging.Logger) {
	log.Info("stopping PLC link")
	m.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), linkStopTimeout)
	defer cancel()
	if err := m.Wait(ctx); err != nil {
		log.Warn("PLC link did not stop in time", "error", err)
	}
}

// healthCheck verifies the infrastructure connections. mqttClient and
// influxClient may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// sendOptions are the flags of the send subcommand.
type sendOptions struct {
	URL     string
	NS      plc.Namespace
	Name    string
	Value   bool
	Timeout time.Duration
}

func parseSendArgs(args []string, defaultURL string) (sendOptions, error) {
	var opts sendOptions
	var ns string
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.URL, "url", defaultURL, "OPC UA endpoint")
	fs.StringVar(&ns, "ns", "4", "namespace index")
	fs.StringVar(&opts.Name, "name", "", "variable name (required)")
	fs.BoolVar(&opts.Value, "value", true, "value to write; use -value=false to clear")
	fs.DurationVar(&opts.Timeout, "timeout", 10*time.Second, "overall timeout")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	opts.NS = plc.Namespace(ns)
	if opts.Name == "" {
		return opts, errors.New("send: -name is required")
	}
	if _, err := opts.NS.Index(); err != nil {
		return opts, fmt.Errorf("send: -ns: %w", err)
	}
	if !strings.HasPrefix(opts.URL, "opc.tcp://") {
		return opts, fmt.Errorf("send: -url must start with opc.tcp://, got %q", opts.URL)
	}
	if opts.Timeout <= 0 {
		return opts, errors.New("send: -timeout must be positive")
	}
	return opts, nil
}

// send writes one Boolean outside any running link and prints the result
// as JSON.
func send(ctx context.Context, args []string, stdout io.Writer) error {
	defaultURL := "opc.tcp://localhost:4840"
	if cfg, err := config.Default(); err == nil {
		defaultURL = cfg.PLC.URL
	}
	opts, err := parseSendArgs(args, defaultURL)
	if err != nil {
		return err
	}

	log := logging.New(config.LoggingConfig{Level: "info", Format: "text", Output: "stderr"}, version)

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	res, err := plc.SendOnce(ctx, plc.OPCUADialer{}, opts.URL, opts.NS, opts.Name, opts.Value, log)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
