// Package mqtt provides the broker connection used to mirror the controller
// link onto MQTT.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with QoS and payload limits
//   - Wildcard subscriptions restored after every reconnect
//   - Last Will and Testament on plclink/system/status
//
// # Topics
//
//	plclink/state/{ns}/{name}     retained last known value
//	plclink/command/{ns}/{name}   write requests
//	plclink/ack/{ns}/{name}       write acknowledgements
//	plclink/detection             detection signals for the trigger latch
//	plclink/system/status         online/offline (LWT)
//	plclink/system/link           controller link state
//	plclink/health                periodic health report
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        return handleCommand(topic, payload)
//	    })
package mqtt
