package domain

import (
	"time"
)

// Send interval bounds in seconds.
const (
	DefaultSendInterval = 10
	MinSendInterval     = 1
	MaxSendInterval     = 3600
)

// SlowIntervalWarning is the threshold below which a send interval produces a
// validation warning (very chatty devices).
const SlowIntervalWarning = 5

// ProjectDescriptor is the immutable project record loaded from the store at
// simulation start.
type ProjectDescriptor struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DeviceDescriptor is the immutable device record loaded from the store at
// simulation start. PayloadID and TargetID are the canonical references to the
// device's payload and target descriptors.
type DeviceDescriptor struct {
	ID           string         `json:"id"`
	ProjectID    string         `json:"project_id"`
	Name         string         `json:"name"`
	Enabled      bool           `json:"enabled"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	PayloadID    string         `json:"payload_id,omitempty"`
	TargetID     string         `json:"target_id,omitempty"`
	SendInterval int            `json:"send_interval"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// EffectiveInterval returns the device's send cadence as a duration, applying
// the default when the interval is unset.
func (d *DeviceDescriptor) EffectiveInterval() time.Duration {
	interval := d.SendInterval
	if interval <= 0 {
		interval = DefaultSendInterval
	}
	return time.Duration(interval) * time.Second
}
