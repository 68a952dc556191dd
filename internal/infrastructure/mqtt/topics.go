package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every plclink topic.
const TopicPrefix = "plclink"

// Topics provides builders for plclink MQTT topics.
//
// Variable topics carry the namespace and the symbolic name as two levels:
//
//	topics := mqtt.Topics{}
//	topics.State("4", "SinalPython")   // plclink/state/4/SinalPython
//	topics.Command("4", "SinalPython") // plclink/command/4/SinalPython
//
// Names may themselves contain slashes; ParseVariable joins the remaining levels.
type Topics struct{}

// State returns the retained topic holding a variable's last known value.
func (Topics) State(ns, name string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, ns, name)
}

// Command returns the topic accepting write commands for a variable.
func (Topics) Command(ns, name string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, ns, name)
}

// Ack returns the topic carrying write acknowledgements for a variable.
func (Topics) Ack(ns, name string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, ns, name)
}

// Detection returns the topic the vision pipeline publishes detections on.
func (Topics) Detection() string {
	return TopicPrefix + "/detection"
}

// SystemStatus returns the retained online/offline topic (also the LWT topic).
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// SystemLink returns the retained controller link state topic.
func (Topics) SystemLink() string {
	return TopicPrefix + "/system/link"
}

// Health returns the periodic health report topic.
func (Topics) Health() string {
	return TopicPrefix + "/health"
}

// AllStates matches every variable state topic.
func (Topics) AllStates() string {
	return TopicPrefix + "/state/#"
}

// AllCommands matches every variable command topic.
func (Topics) AllCommands() string {
	return TopicPrefix + "/command/#"
}

// ParseVariable extracts the namespace and name from a state, command or ack topic.
func (Topics) ParseVariable(topic string) (kind, ns, name string, err error) {
	parts := strings.SplitN(topic, "/", 4)
	if len(parts) != 4 || parts[0] != TopicPrefix || parts[2] == "" || parts[3] == "" {
		return "", "", "", fmt.Errorf("%w: %q is not a variable topic", ErrInvalidTopic, topic)
	}
	switch parts[1] {
	case "state", "command", "ack":
	default:
		return "", "", "", fmt.Errorf("%w: unknown category %q", ErrInvalidTopic, parts[1])
	}
	return parts[1], parts[2], parts[3], nil
}
