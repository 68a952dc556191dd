package bridge

import (
	"time"

	"github.com/nerrad567/plclink/internal/plc"
)

// StateMessage is published retained on plclink/state/{ns}/{name}.
type StateMessage struct {
	Key       plc.Key   `json:"key"`
	Namespace string    `json:"namespace"`
	Name      string    `json:"name"`
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// CommandMessage is received on plclink/command/{ns}/{name}.
type CommandMessage struct {
	// ID correlates the acknowledgement. Generated when empty.
	ID string `json:"id,omitempty"`

	// Value is the Boolean to write. Required.
	Value *bool `json:"value"`

	// Wait asks for an acknowledgement after the controller answered
	// instead of after the write was queued.
	Wait bool `json:"wait,omitempty"`
}

// AckStatus is the outcome reported for a command.
type AckStatus string

const (
	// AckAccepted means the write was queued on the link.
	AckAccepted AckStatus = "accepted"

	// AckConfirmed means the controller accepted the write.
	AckConfirmed AckStatus = "confirmed"

	// AckFailed means the write was rejected, dropped or malformed.
	AckFailed AckStatus = "failed"
)

// AckMessage is published on plclink/ack/{ns}/{name}.
type AckMessage struct {
	ID        string    `json:"id"`
	Key       plc.Key   `json:"key"`
	Status    AckStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// DetectionMessage is received on plclink/detection.
type DetectionMessage struct {
	Detected bool `json:"detected"`
}

// LinkMessage is published retained on plclink/system/link.
type LinkMessage struct {
	State     plc.State `json:"state"`
	URL       string    `json:"url"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthStatus is the overall health reported on plclink/health.
type HealthStatus string

const (
	HealthStarting HealthStatus = "starting"
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is published on plclink/health.
type HealthMessage struct {
	Status        HealthStatus `json:"status"`
	Reason        string       `json:"reason,omitempty"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Link          plc.Stats    `json:"link"`
	Timestamp     time.Time    `json:"timestamp"`
}
