package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the bridge's MQTT surface.
//
// All device topics use the flat scheme: exohome/{category}/{account}/{device}
// Commands carry the target field code as a final segment.
const (
	// TopicPrefix is the base for all bridge topics.
	TopicPrefix = "exohome"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "exohome/system"
)

// Topics provides builders for the bridge's MQTT topics.
// Using these helpers keeps topic naming consistent across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.DeviceState("user@example.com", "dev-a")
//	// Returns: "exohome/state/user@example.com/dev-a"
type Topics struct{}

// DeviceState returns the retained state topic for one device.
//
// Example: exohome/state/user@example.com/dev-a
func (Topics) DeviceState(account, deviceID string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, account, deviceID)
}

// DeviceCommand returns the command topic for one field of one device.
//
// Example: exohome/command/user@example.com/dev-a/H00
func (Topics) DeviceCommand(account, deviceID, field string) string {
	return fmt.Sprintf("%s/command/%s/%s/%s", TopicPrefix, account, deviceID, field)
}

// AccountHealth returns the health topic for one account's coordinator.
//
// Example: exohome/health/user@example.com
func (Topics) AccountHealth(account string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, account)
}

// SystemStatus returns the bridge process status topic, used for the
// online/offline announcements and the LWT.
//
// Example: exohome/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AccountCommands returns a pattern matching every command topic for
// one account.
//
// Pattern: exohome/command/user@example.com/+/+
func (Topics) AccountCommands(account string) string {
	return fmt.Sprintf("%s/command/%s/+/+", TopicPrefix, account)
}

// AllStates returns a pattern matching all device state topics.
//
// Pattern: exohome/state/+/+
func (Topics) AllStates() string {
	return fmt.Sprintf("%s/state/+/+", TopicPrefix)
}

// AllCommands returns a pattern matching all command topics.
//
// Pattern: exohome/command/+/+/+
func (Topics) AllCommands() string {
	return fmt.Sprintf("%s/command/+/+/+", TopicPrefix)
}

// ParseCommandTopic extracts the account, device and field segments
// from a concrete command topic.
//
// Parameters:
//   - topic: A topic of the form exohome/command/{account}/{device}/{field}
//
// Returns:
//   - account, deviceID, field: The extracted segments
//   - error: ErrInvalidTopic if the topic does not match the scheme
func ParseCommandTopic(topic string) (account, deviceID, field string, err error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 5 || parts[0] != TopicPrefix || parts[1] != "command" {
		return "", "", "", fmt.Errorf("%w: %q is not a command topic", ErrInvalidTopic, topic)
	}
	if parts[2] == "" || parts[3] == "" || parts[4] == "" {
		return "", "", "", fmt.Errorf("%w: %q has empty segments", ErrInvalidTopic, topic)
	}
	return parts[2], parts[3], parts[4], nil
}
