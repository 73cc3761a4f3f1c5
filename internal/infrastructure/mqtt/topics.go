package mqtt

import "fmt"

// Topic prefixes on the Gray Logic bus.
const (
	// TopicPrefixCore is the base for topics published by core services.
	TopicPrefixCore = "graylogic/core"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "graylogic/system"
)

// Topics provides builders for the topics this service publishes on.
//
//	topic := mqtt.Topics{}.CoreSecurity("ACCOUNT_LOCKED")
//	// Returns: "graylogic/core/security/ACCOUNT_LOCKED"
type Topics struct{}

// SystemStatus returns the retained online/offline status topic.
//
// Example: graylogic/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// CoreSecurity returns the topic a security event of the given type is
// mirrored to.
//
// Example: graylogic/core/security/LOGIN_SUCCESS
func (Topics) CoreSecurity(eventType string) string {
	return fmt.Sprintf("%s/security/%s", TopicPrefixCore, eventType)
}
