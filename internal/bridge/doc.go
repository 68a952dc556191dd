// Package bridge connects the controller link to the MQTT bus.
//
// Outbound, every value change in the store is published retained to
// plclink/state/{ns}/{name} and every link state transition to
// plclink/system/link. Inbound, commands on plclink/command/{ns}/{name} are
// turned into Boolean writes and acknowledged on plclink/ack/{ns}/{name},
// and detections on plclink/detection are fed to the trigger latch.
//
// Publishing happens on a bounded plc.Queue so a slow broker never stalls
// the link goroutine.
//
// A HealthReporter publishes periodic health to plclink/health and records
// link metrics.
package bridge
