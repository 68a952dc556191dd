package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/plclink/internal/plc"
)

// Measurement names.
const (
	measurementLink    = "plc_link"
	measurementState   = "plc_link_state"
	measurementTrigger = "plc_trigger"
)

// WriteLinkStats records one sample of the controller link counters.
func (c *Client) WriteLinkStats(s plc.Stats) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(linkStatsPoint(s, time.Now()))
}

// WriteLinkState records a link state transition.
func (c *Client) WriteLinkState(url string, state plc.State) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(linkStatePoint(url, state, time.Now()))
}

// WriteTriggerAction records a write issued by the trigger latch.
func (c *Client) WriteTriggerAction(action string, value bool) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(
		measurementTrigger,
		map[string]string{"action": action},
		map[string]any{"value": value},
		time.Now(),
	))
}

// WritePoint writes a custom point.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

func linkStatsPoint(s plc.Stats, ts time.Time) *write.Point {
	// #nosec G115 -- counters stay far below MaxInt64
	fields := map[string]any{
		"connected":        s.Connected,
		"notifications_rx": int64(s.NotificationsRx),
		"unmatched":        int64(s.Unmatched),
		"writes_tx":        int64(s.WritesTx),
		"writes_failed":    int64(s.WritesFailed),
		"writes_dropped":   int64(s.WritesDropped),
		"attach_failures":  int64(s.AttachFailures),
		"reconnects":       int64(s.ReconnectsTotal),
		"subscriptions":    s.Subscriptions,
		"variables":        s.Variables,
	}
	if !s.ConnectedSince.IsZero() {
		fields["uptime_seconds"] = ts.Sub(s.ConnectedSince).Seconds()
	}
	return write.NewPoint(measurementLink, map[string]string{"url": s.URL}, fields, ts)
}

func linkStatePoint(url string, state plc.State, ts time.Time) *write.Point {
	return write.NewPoint(
		measurementState,
		map[string]string{"url": url, "state": state.String()},
		map[string]any{"code": int(state)},
		ts,
	)
}
