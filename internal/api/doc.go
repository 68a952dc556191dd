// Package api implements the plclink HTTP API and WebSocket status feed.
//
// The API exposes the controller link (state, start, stop), the variable
// store, Boolean writes, detections for the trigger latch, and connection
// profiles. WebSocket clients on /api/v1/ws receive "variable.changed" and
// "link.state" events as they happen.
//
// The server runs with or without MQTT and InfluxDB; only the link and the
// profile repository are required.
//
//	srv, err := api.New(deps)
//	if err != nil {
//	    return err
//	}
//	if err := srv.Start(ctx); err != nil {
//	    return err
//	}
//	defer srv.Close()
package api
