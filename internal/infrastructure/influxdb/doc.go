// Package influxdb records controller link metrics in InfluxDB v2.
//
// Points written:
//   - plc_link: periodic link counters (notifications, writes, reconnects)
//   - plc_link_state: one point per state transition
//   - plc_trigger: writes issued by the trigger latch
//
// Writes are non-blocking and batched; asynchronous failures are reported
// through SetOnError. The package is optional: Connect returns ErrDisabled
// when influxdb.enabled is false and callers simply skip metrics.
//
// Usage:
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // metrics off
//	}
//	client.WriteLinkStats(manager.Stats())
package influxdb
