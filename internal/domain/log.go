package domain

import (
	"time"
)

// Log event type constants.
const (
	EventStarted      = "started"
	EventStopped      = "stopped"
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
	EventMessageSent  = "message_sent"
	EventError        = "error"
	EventWarning      = "warning"
	EventInfo         = "info"

	// EventConnectionEstablished is the acknowledgement frame sent to a log
	// subscriber when its stream opens.
	EventConnectionEstablished = "connection_established"
)

// System pseudo-device used for frames that do not belong to a simulator.
const (
	SystemDeviceID   = "system"
	SystemDeviceName = "System"
)

// LogEntry is one frame of a project's log stream. ProjectID is only set on
// system frames such as the subscription acknowledgement; entries emitted by
// simulators identify themselves by device instead.
type LogEntry struct {
	Timestamp  time.Time      `json:"timestamp"`
	DeviceID   string         `json:"device_id"`
	DeviceName string         `json:"device_name"`
	EventType  string         `json:"event_type"`
	Message    string         `json:"message"`
	ProjectID  string         `json:"project_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// NewLogEntry builds a log entry stamped with the current UTC time.
func NewLogEntry(deviceID, deviceName, eventType, message string) LogEntry {
	return LogEntry{
		Timestamp:  time.Now().UTC(),
		DeviceID:   deviceID,
		DeviceName: deviceName,
		EventType:  eventType,
		Message:    message,
	}
}
