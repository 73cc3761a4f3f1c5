// Package audit is the append-only security log.
//
// Every authentication outcome, lockout, account change and technician
// grant transition is recorded as an Event. The SQLite security_log table is
// the durable record; the Recorder additionally writes a structured log line
// and mirrors the event to any configured Sinks (MQTT bus, metrics).
//
// Events are keyed by username strings, not principal IDs, so history
// survives principal deletion.
package audit

import (
	"time"
)

// EventType is the closed set of security events.
type EventType string

// Security event types.
const (
	EventLoginSuccess    EventType = "LOGIN_SUCCESS"
	EventLoginFailure    EventType = "LOGIN_FAILURE"
	EventLoginLocked     EventType = "LOGIN_LOCKED"
	EventLoginDisabled   EventType = "LOGIN_DISABLED"
	EventLoginConcurrent EventType = "LOGIN_CONCURRENT"
	EventAccountLocked   EventType = "ACCOUNT_LOCKED"
	EventLogout          EventType = "LOGOUT"

	EventUserRegistered EventType = "USER_REGISTERED"
	EventUserEnabled    EventType = "USER_ENABLED"
	EventUserDisabled   EventType = "USER_DISABLED"
	EventUserDeleted    EventType = "USER_DELETED"
	EventAccessDenied   EventType = "ACCESS_DENIED"
	EventReauthFailure  EventType = "REAUTH_FAILURE"
	EventAdminSeeded    EventType = "ADMIN_SEEDED"

	EventTechAccessRequested EventType = "TECH_ACCESS_REQUESTED"
	EventTechAccessActivated EventType = "TECH_ACCESS_ACTIVATED"
	EventTechAccessExpired   EventType = "TECH_ACCESS_EXPIRED"
)

var validEventTypes = map[EventType]bool{
	EventLoginSuccess:        true,
	EventLoginFailure:        true,
	EventLoginLocked:         true,
	EventLoginDisabled:       true,
	EventLoginConcurrent:     true,
	EventAccountLocked:       true,
	EventLogout:              true,
	EventUserRegistered:      true,
	EventUserEnabled:         true,
	EventUserDisabled:        true,
	EventUserDeleted:         true,
	EventAccessDenied:        true,
	EventReauthFailure:       true,
	EventAdminSeeded:         true,
	EventTechAccessRequested: true,
	EventTechAccessActivated: true,
	EventTechAccessExpired:   true,
}

// Valid reports whether t is one of the defined event types.
func (t EventType) Valid() bool {
	return validEventTypes[t]
}

// SystemActor is the actor recorded for events raised by the service itself
// (sweeper expiries, first-boot seeding).
const SystemActor = "system"

// Event is one security log entry.
type Event struct {
	ID          string    `json:"id"`
	Actor       string    `json:"actor"`
	Target      string    `json:"target,omitempty"`
	Type        EventType `json:"event_type"`
	Description string    `json:"description,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}
