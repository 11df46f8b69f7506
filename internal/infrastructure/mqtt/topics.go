package mqtt

import "fmt"

// Topic roots.
const (
	TopicPrefix       = "starport"
	TopicPrefixSystem = "starport/system"
	TopicPrefixINDI   = "starport/indi"
)

// Topics builds Starport MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.DriverEvent("mount") // "starport/indi/driver/mount/event"
type Topics struct{}

// SystemStatus is the retained online/offline topic, also used for the LWT.
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// ServerState carries the retained INDI server state.
func (Topics) ServerState() string {
	return TopicPrefixINDI + "/server/state"
}

// ServerStats carries periodic server and control channel statistics.
func (Topics) ServerStats() string {
	return TopicPrefixINDI + "/server/stats"
}

// DriverEvent carries start/stop events for one driver label.
func (Topics) DriverEvent(label string) string {
	return fmt.Sprintf("%s/driver/%s/event", TopicPrefixINDI, label)
}

// Command is where clients publish driver commands for Starport to relay.
func (Topics) Command() string {
	return TopicPrefixINDI + "/command"
}

// CommandResult carries the outcome of each relayed command.
func (Topics) CommandResult() string {
	return TopicPrefixINDI + "/command/result"
}

// AllDriverEvents matches every driver event topic.
func (Topics) AllDriverEvents() string {
	return TopicPrefixINDI + "/driver/+/event"
}

// AllTopics matches everything Starport publishes.
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
