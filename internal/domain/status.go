package domain

import (
	"time"
)

// BreakerSnapshot is a point-in-time view of a send-path circuit breaker.
type BreakerSnapshot struct {
	State        string     `json:"state"`
	FailureCount int        `json:"failure_count"`
	LastFailure  *time.Time `json:"last_failure_time,omitempty"`
}

// WebSocketStats exposes the resilient WebSocket adapter's internal state for
// status endpoints.
type WebSocketStats struct {
	Connected           bool       `json:"connected"`
	CircuitState        string     `json:"circuit_state"`
	RetryCount          int        `json:"retry_count"`
	FailureCount        int        `json:"failure_count"`
	LastFailureTime     *time.Time `json:"last_failure_time,omitempty"`
	AutoReconnectActive bool       `json:"auto_reconnect_active"`
}

// DeviceStatus is a point-in-time snapshot of one device simulator.
type DeviceStatus struct {
	DeviceID              string           `json:"device_id"`
	DeviceName            string           `json:"device_name"`
	IsRunning             bool             `json:"is_running"`
	IsConnected           bool             `json:"is_connected"`
	MessagesSent          int64            `json:"messages_sent"`
	Errors                int64            `json:"errors"`
	ConnectionErrors      int64            `json:"connection_errors"`
	SendErrors            int64            `json:"send_errors"`
	ConsecutiveErrors     int64            `json:"consecutive_errors"`
	TotalRetries          int64            `json:"total_retries"`
	LastMessageAt         *time.Time       `json:"last_message_at,omitempty"`
	LastSuccessAt         *time.Time       `json:"last_success_at,omitempty"`
	LastError             string           `json:"last_error,omitempty"`
	LastConnectionAttempt *time.Time       `json:"last_connection_attempt,omitempty"`
	CircuitBreaker        *BreakerSnapshot `json:"circuit_breaker,omitempty"`
	WebSocketStats        *WebSocketStats  `json:"websocket_stats,omitempty"`
}

// DeviceError is one entry of a project status error list.
type DeviceError struct {
	DeviceID     string    `json:"device_id"`
	ErrorMessage string    `json:"error_message"`
	Timestamp    time.Time `json:"timestamp"`
}

// SimulationStatus is a point-in-time snapshot of one project's simulation.
type SimulationStatus struct {
	ProjectID     string         `json:"project_id"`
	IsRunning     bool           `json:"is_running"`
	ActiveDevices int            `json:"active_devices"`
	TotalDevices  int            `json:"total_devices"`
	MessagesSent  int64          `json:"messages_sent"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	LastActivity  *time.Time     `json:"last_activity,omitempty"`
	Devices       []DeviceStatus `json:"devices"`
	Errors        []DeviceError  `json:"errors"`
}

// NotRunningStatus returns the default snapshot for a project with no active
// simulation. totalDevices is the store's enabled-device count.
func NotRunningStatus(projectID string, totalDevices int) SimulationStatus {
	return SimulationStatus{
		ProjectID:    projectID,
		IsRunning:    false,
		TotalDevices: totalDevices,
		Devices:      []DeviceStatus{},
		Errors:       []DeviceError{},
	}
}

// ValidationResult is the outcome of validating a project without starting it.
type ValidationResult struct {
	Valid        bool     `json:"valid"`
	Errors       []string `json:"errors"`
	Warnings     []string `json:"warnings"`
	ValidDevices int      `json:"valid_devices"`
	TotalDevices int      `json:"total_devices"`
}
