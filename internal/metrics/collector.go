// Package metrics aggregates per-connector and per-device simulation
// statistics. One Collector is shared by every simulator in the process;
// all methods are safe for concurrent use. Snapshots are value copies,
// so readers never observe a record mid-update.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// windowSize bounds the per-connector response-time and outcome windows.
const windowSize = 100

var (
	messagesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simulator_messages_sent_total",
			Help: "Total number of payloads successfully delivered per connector",
		},
		[]string{"connector_id", "connector_type"},
	)

	sendFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simulator_send_failures_total",
			Help: "Total number of failed delivery attempts per connector",
		},
		[]string{"connector_id", "connector_type"},
	)

	bytesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simulator_bytes_sent_total",
			Help: "Total payload bytes delivered per connector",
		},
		[]string{"connector_id", "connector_type"},
	)

	sendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "simulator_send_duration_seconds",
			Help:    "Delivery latency of successful sends",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"connector_type"},
	)
)

// ConnectorSnapshot is a point-in-time copy of one connector's counters.
type ConnectorSnapshot struct {
	ConnectorType      string     `json:"connector_type"`
	TotalAttempts      int64      `json:"total_attempts"`
	SuccessfulSends    int64      `json:"successful_sends"`
	FailedSends        int64      `json:"failed_sends"`
	ConnectionFailures int64      `json:"connection_failures"`
	TotalBytesSent     int64      `json:"total_bytes_sent"`
	SuccessRate        float64    `json:"success_rate"`
	RecentSuccessRate  float64    `json:"recent_success_rate"`
	AvgResponseTime    float64    `json:"avg_response_time"`
	LastSuccessTime    *time.Time `json:"last_success_time,omitempty"`
	LastFailureTime    *time.Time `json:"last_failure_time,omitempty"`
	LastError          string     `json:"last_error,omitempty"`
}

// DeviceSnapshot is a point-in-time copy of one device's counters.
type DeviceSnapshot struct {
	ProjectID                 string     `json:"project_id"`
	DeviceID                  string     `json:"device_id"`
	DeviceName                string     `json:"device_name"`
	MessagesGenerated         int64      `json:"messages_generated"`
	MessagesSent              int64      `json:"messages_sent"`
	PayloadGenerationFailures int64      `json:"payload_generation_failures"`
	SendFailures              int64      `json:"send_failures"`
	TotalRetries              int64      `json:"total_retries"`
	SendSuccessRate           float64    `json:"send_success_rate"`
	UptimeSeconds             float64    `json:"uptime_seconds"`
	LastActivity              *time.Time `json:"last_activity,omitempty"`
}

// SystemSnapshot summarizes the collector itself.
type SystemSnapshot struct {
	UptimeSeconds   float64 `json:"uptime_seconds"`
	TotalConnectors int     `json:"total_connectors"`
	TotalDevices    int     `json:"total_devices"`
}

// Snapshot bundles every tracked series.
type Snapshot struct {
	Connectors map[string]ConnectorSnapshot `json:"connectors"`
	Devices    map[string]DeviceSnapshot    `json:"devices"`
	System     SystemSnapshot               `json:"system"`
}

// ProjectSummary aggregates the device series of one project.
type ProjectSummary struct {
	ProjectID         string  `json:"project_id"`
	TotalDevices      int     `json:"total_devices"`
	TotalMessagesSent int64   `json:"total_messages_sent"`
	TotalFailures     int64   `json:"total_failures"`
	AvgSuccessRate    float64 `json:"avg_success_rate"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
}

// Health reports whether collection is live, for the metrics health route.
type Health struct {
	Status          string  `json:"status"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
	TotalConnectors int     `json:"total_connectors"`
	TotalDevices    int     `json:"total_devices"`
	Active          bool    `json:"metrics_collection_active"`
}

type connectorRecord struct {
	kind               string
	totalAttempts      int64
	successfulSends    int64
	failedSends        int64
	connectionFailures int64
	totalBytesSent     int64
	lastSuccess        time.Time
	lastFailure        time.Time
	lastError          string
	responseTimes      *window
	outcomes           *window
}

// deviceKey separates two projects that happen to reuse a device id.
type deviceKey struct {
	projectID string
	deviceID  string
}

type deviceRecord struct {
	key                       deviceKey
	name                      string
	messagesGenerated         int64
	messagesSent              int64
	payloadGenerationFailures int64
	sendFailures              int64
	totalRetries              int64
	uptimeStart               time.Time
	lastActivity              time.Time
}

// Collector is the process-wide metrics aggregator.
type Collector struct {
	mu         sync.RWMutex
	connectors map[string]*connectorRecord
	devices    map[deviceKey]*deviceRecord
	startTime  time.Time
}

func NewCollector() *Collector {
	return &Collector{
		connectors: make(map[string]*connectorRecord),
		devices:    make(map[deviceKey]*deviceRecord),
		startTime:  time.Now().UTC(),
	}
}

// RegisterDevice creates the device series if absent. Simulators call it at
// construction so a device shows up in snapshots before its first tick.
func (c *Collector) RegisterDevice(projectID, deviceID, deviceName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deviceLocked(projectID, deviceID, deviceName)
}

func (c *Collector) deviceLocked(projectID, deviceID, deviceName string) *deviceRecord {
	key := deviceKey{projectID: projectID, deviceID: deviceID}
	rec, ok := c.devices[key]
	if !ok {
		rec = &deviceRecord{key: key, name: deviceName, uptimeStart: time.Now().UTC()}
		c.devices[key] = rec
	}
	return rec
}

func (c *Collector) connectorLocked(connectorID, kind string) *connectorRecord {
	rec, ok := c.connectors[connectorID]
	if !ok {
		rec = &connectorRecord{
			kind:          kind,
			responseTimes: newWindow(windowSize),
			outcomes:      newWindow(windowSize),
		}
		c.connectors[connectorID] = rec
	}
	return rec
}

// RecordGenerated counts a successful payload generation.
func (c *Collector) RecordGenerated(projectID, deviceID, deviceName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec := c.deviceLocked(projectID, deviceID, deviceName)
	rec.messagesGenerated++
	rec.lastActivity = time.Now().UTC()
}

// RecordPayloadFailure counts a generation failure (the fallback payload is
// still sent, so this does not imply a send failure).
func (c *Collector) RecordPayloadFailure(projectID, deviceID, deviceName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec := c.deviceLocked(projectID, deviceID, deviceName)
	rec.payloadGenerationFailures++
	rec.lastActivity = time.Now().UTC()
}

// RecordSent counts a delivered message for the device series.
func (c *Collector) RecordSent(projectID, deviceID, deviceName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec := c.deviceLocked(projectID, deviceID, deviceName)
	rec.messagesSent++
	rec.lastActivity = time.Now().UTC()
}

// RecordSendFailure counts a tick that exhausted its retries.
func (c *Collector) RecordSendFailure(projectID, deviceID, deviceName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec := c.deviceLocked(projectID, deviceID, deviceName)
	rec.sendFailures++
	rec.lastActivity = time.Now().UTC()
}

// RecordRetry counts one retry attempt.
func (c *Collector) RecordRetry(projectID, deviceID, deviceName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deviceLocked(projectID, deviceID, deviceName).totalRetries++
}

// RecordConnectorSuccess records a delivered payload on the connector series.
func (c *Collector) RecordConnectorSuccess(connectorID, kind string, responseTime time.Duration, bytesSent int) {
	c.mu.Lock()
	rec := c.connectorLocked(connectorID, kind)
	rec.totalAttempts++
	rec.successfulSends++
	rec.totalBytesSent += int64(bytesSent)
	rec.lastSuccess = time.Now().UTC()
	rec.responseTimes.push(responseTime.Seconds())
	rec.outcomes.push(1)
	c.mu.Unlock()

	messagesSentTotal.WithLabelValues(connectorID, kind).Inc()
	bytesSentTotal.WithLabelValues(connectorID, kind).Add(float64(bytesSent))
	sendDuration.WithLabelValues(kind).Observe(responseTime.Seconds())
}

// RecordConnectorFailure records a failed attempt on the connector series.
func (c *Collector) RecordConnectorFailure(connectorID, kind, errMsg string, connectionError bool) {
	c.mu.Lock()
	rec := c.connectorLocked(connectorID, kind)
	rec.totalAttempts++
	rec.failedSends++
	rec.lastFailure = time.Now().UTC()
	rec.lastError = errMsg
	if connectionError {
		rec.connectionFailures++
	}
	rec.outcomes.push(0)
	c.mu.Unlock()

	sendFailuresTotal.WithLabelValues(connectorID, kind).Inc()
}

// ConnectorSnapshots returns every connector series keyed by connector id.
func (c *Collector) ConnectorSnapshots() map[string]ConnectorSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]ConnectorSnapshot, len(c.connectors))
	for id, rec := range c.connectors {
		out[id] = rec.snapshot()
	}
	return out
}

// DeviceSnapshots returns every device series keyed by device id.
func (c *Collector) DeviceSnapshots() map[string]DeviceSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]DeviceSnapshot, len(c.devices))
	for key, rec := range c.devices {
		out[key.deviceID] = rec.snapshot()
	}
	return out
}

// DeviceSnapshot looks a device up by id alone, scanning the index. Should
// two projects reuse an id, their counters are merged into one view.
func (c *Collector) DeviceSnapshot(deviceID string) (DeviceSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var merged DeviceSnapshot
	found := false
	for key, rec := range c.devices {
		if key.deviceID != deviceID {
			continue
		}
		snap := rec.snapshot()
		if !found {
			merged = snap
			found = true
			continue
		}
		merged.MessagesGenerated += snap.MessagesGenerated
		merged.MessagesSent += snap.MessagesSent
		merged.PayloadGenerationFailures += snap.PayloadGenerationFailures
		merged.SendFailures += snap.SendFailures
		merged.TotalRetries += snap.TotalRetries
		if snap.UptimeSeconds > merged.UptimeSeconds {
			merged.UptimeSeconds = snap.UptimeSeconds
		}
		if snap.LastActivity != nil && (merged.LastActivity == nil || snap.LastActivity.After(*merged.LastActivity)) {
			merged.LastActivity = snap.LastActivity
		}
		merged.SendSuccessRate = successRate(merged.MessagesSent, merged.MessagesSent+merged.SendFailures)
	}
	return merged, found
}

// ProjectSummary aggregates the device series recorded under a project id.
func (c *Collector) ProjectSummary(projectID string) ProjectSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	summary := ProjectSummary{
		ProjectID:     projectID,
		UptimeSeconds: time.Since(c.startTime).Seconds(),
	}
	var rateSum float64
	for key, rec := range c.devices {
		if key.projectID != projectID {
			continue
		}
		summary.TotalDevices++
		summary.TotalMessagesSent += rec.messagesSent
		summary.TotalFailures += rec.sendFailures + rec.payloadGenerationFailures
		rateSum += successRate(rec.messagesSent, rec.messagesSent+rec.sendFailures)
	}
	if summary.TotalDevices > 0 {
		summary.AvgSuccessRate = rateSum / float64(summary.TotalDevices)
	}
	return summary
}

// Snapshot returns every series plus the system view.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		Connectors: make(map[string]ConnectorSnapshot, len(c.connectors)),
		Devices:    make(map[string]DeviceSnapshot, len(c.devices)),
		System: SystemSnapshot{
			UptimeSeconds:   time.Since(c.startTime).Seconds(),
			TotalConnectors: len(c.connectors),
			TotalDevices:    len(c.devices),
		},
	}
	for id, rec := range c.connectors {
		snap.Connectors[id] = rec.snapshot()
	}
	for key, rec := range c.devices {
		snap.Devices[key.deviceID] = rec.snapshot()
	}
	return snap
}

// Health reports collection status for the metrics health route.
func (c *Collector) Health() Health {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Health{
		Status:          "healthy",
		UptimeSeconds:   time.Since(c.startTime).Seconds(),
		TotalConnectors: len(c.connectors),
		TotalDevices:    len(c.devices),
		Active:          true,
	}
}

// Reset drops every series and rewinds the uptime clock.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connectors = make(map[string]*connectorRecord)
	c.devices = make(map[deviceKey]*deviceRecord)
	c.startTime = time.Now().UTC()
}

// ResetProject drops the device series recorded under one project id.
// Connector series persist: connector ids do not carry a project.
func (c *Collector) ResetProject(projectID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.devices {
		if key.projectID == projectID {
			delete(c.devices, key)
		}
	}
}

func (r *connectorRecord) snapshot() ConnectorSnapshot {
	return ConnectorSnapshot{
		ConnectorType:      r.kind,
		TotalAttempts:      r.totalAttempts,
		SuccessfulSends:    r.successfulSends,
		FailedSends:        r.failedSends,
		ConnectionFailures: r.connectionFailures,
		TotalBytesSent:     r.totalBytesSent,
		SuccessRate:        successRate(r.successfulSends, r.totalAttempts),
		RecentSuccessRate:  r.outcomes.mean(),
		AvgResponseTime:    r.responseTimes.mean(),
		LastSuccessTime:    timePtr(r.lastSuccess),
		LastFailureTime:    timePtr(r.lastFailure),
		LastError:          r.lastError,
	}
}

func (r *deviceRecord) snapshot() DeviceSnapshot {
	return DeviceSnapshot{
		ProjectID:                 r.key.projectID,
		DeviceID:                  r.key.deviceID,
		DeviceName:                r.name,
		MessagesGenerated:         r.messagesGenerated,
		MessagesSent:              r.messagesSent,
		PayloadGenerationFailures: r.payloadGenerationFailures,
		SendFailures:              r.sendFailures,
		TotalRetries:              r.totalRetries,
		SendSuccessRate:           successRate(r.messagesSent, r.messagesSent+r.sendFailures),
		UptimeSeconds:             time.Since(r.uptimeStart).Seconds(),
		LastActivity:              timePtr(r.lastActivity),
	}
}

// successRate is 0 when nothing was attempted, never NaN.
func successRate(successes, attempts int64) float64 {
	if attempts == 0 {
		return 0
	}
	return float64(successes) / float64(attempts)
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
