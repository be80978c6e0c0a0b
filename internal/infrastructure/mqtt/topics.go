package mqtt

import "fmt"

// TopicPrefix is the root of every SSCM topic.
const TopicPrefix = "sscm"

// Topics builds SSCM topic names.
//
//	topics := mqtt.Topics{}
//	topics.Event("SSCM-ABC123", "coin-inserted")
//	// "sscm/events/SSCM-ABC123/coin-inserted"
type Topics struct{}

// Event returns the mirror topic for one relayed envelope.
func (Topics) Event(deviceID, kind string) string {
	return fmt.Sprintf("%s/events/%s/%s", TopicPrefix, deviceID, kind)
}

// Command returns the ingress topic for commands addressed to a device.
func (Topics) Command(deviceID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, deviceID)
}

// SystemStatus returns the retained relay status topic (also the LWT topic).
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// AllEvents matches every mirrored envelope.
func (Topics) AllEvents() string {
	return TopicPrefix + "/events/#"
}

// AllCommands matches every command ingress topic.
func (Topics) AllCommands() string {
	return TopicPrefix + "/command/+"
}
