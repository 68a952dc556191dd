package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/plclink/internal/infrastructure/mqtt"
	"github.com/nerrad567/plclink/internal/plc"
)

// defaultHealthInterval is used when HealthReporterConfig.Interval is zero.
const defaultHealthInterval = 30 * time.Second

// HealthPublisher publishes health messages. *mqtt.Client satisfies it.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// StatsSource provides link statistics. *plc.Manager satisfies it.
type StatsSource interface {
	Stats() plc.Stats
}

// MetricsWriter records link statistics. *influxdb.Client satisfies it.
type MetricsWriter interface {
	WriteLinkStats(s plc.Stats)
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	Version string

	// Interval between reports. Default: 30s.
	Interval time.Duration

	// Publisher is optional; without it only metrics are written.
	Publisher HealthPublisher

	// Link is required.
	Link StatsSource

	// Metrics is optional.
	Metrics MetricsWriter

	Logger plc.Logger
}

// HealthReporter periodically publishes link health and records metrics.
type HealthReporter struct {
	version   string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	link      StatsSource
	metrics   MetricsWriter
	logger    plc.Logger
	topics    mqtt.Topics

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewHealthReporter creates a reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	return &HealthReporter{
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		link:      cfg.Link,
		metrics:   cfg.Metrics,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start publishes "starting" and begins periodic reporting.
func (h *HealthReporter) Start(ctx context.Context) {
	if err := h.publish(HealthStarting, "", h.link.Stats()); err != nil {
		h.logger.Warn("failed to publish starting status", "error", err)
	}
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()
		//nolint:errcheck // best effort during shutdown
		h.publish(HealthStopping, "", h.link.Stats())
	})
}

// ReportNow publishes the current status and records metrics.
func (h *HealthReporter) ReportNow() error {
	stats := h.link.Stats()
	if h.metrics != nil {
		h.metrics.WriteLinkStats(stats)
	}
	status, reason := h.determineStatus(stats)
	return h.publish(status, reason, stats)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.ReportNow(); err != nil {
		h.logger.Error("failed to publish initial health", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.ReportNow(); err != nil {
				h.logger.Error("failed to publish health", "error", err)
			}
		}
	}
}

func (h *HealthReporter) determineStatus(stats plc.Stats) (HealthStatus, string) {
	if !stats.Connected {
		return HealthDegraded, "controller " + stats.State.String()
	}
	if h.publisher != nil && !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) publish(status HealthStatus, reason string, stats plc.Stats) error {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return nil
	}
	msg := HealthMessage{
		Status:        status,
		Reason:        reason,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Link:          stats,
		Timestamp:     time.Now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.publisher.Publish(h.topics.Health(), payload, qosAtLeastOnce, true)
}
