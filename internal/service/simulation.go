// Package service exposes the API-facing simulation operations: lifecycle
// control, status and validation, configuration dry-runs, and metrics
// views. It translates engine sentinels into transport-level errors; the
// engine itself stays HTTP-agnostic.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joluben/sigsim/internal/connector"
	"github.com/joluben/sigsim/internal/domain"
	"github.com/joluben/sigsim/internal/engine"
	"github.com/joluben/sigsim/internal/generator"
	"github.com/joluben/sigsim/internal/metrics"
	"github.com/joluben/sigsim/internal/repository"
	apperrors "github.com/joluben/sigsim/pkg/errors"
)

// testTimeout bounds a configuration dry-run end to end.
const testTimeout = 30 * time.Second

// SimulationService implements the control-plane operations behind the
// HTTP API.
type SimulationService struct {
	engine    *engine.Engine
	store     repository.Store
	collector *metrics.Collector
	logger    *slog.Logger
}

func NewSimulationService(eng *engine.Engine, store repository.Store, collector *metrics.Collector, logger *slog.Logger) *SimulationService {
	return &SimulationService{
		engine:    eng,
		store:     store,
		collector: collector,
		logger:    logger,
	}
}

func alreadyRunning(projectID string) *apperrors.AppError {
	return &apperrors.AppError{
		Code:    "ALREADY_RUNNING",
		Message: fmt.Sprintf("simulation already running for project %s", projectID),
		Status:  http.StatusBadRequest,
		Err:     domain.ErrAlreadyRunning,
	}
}

func notRunning(projectID string) *apperrors.AppError {
	return &apperrors.AppError{
		Code:    "NOT_RUNNING",
		Message: fmt.Sprintf("no running simulation for project %s", projectID),
		Status:  http.StatusBadRequest,
		Err:     domain.ErrNotRunning,
	}
}

// Start launches the project's simulation. Already-running and invalid
// configurations are 400s; an unknown project propagates the store's 404.
func (s *SimulationService) Start(ctx context.Context, projectID string) error {
	err := s.engine.StartProject(ctx, projectID)
	switch {
	case err == nil:
		s.logger.Info("simulation start requested", slog.String("project_id", projectID))
		return nil
	case errors.Is(err, domain.ErrAlreadyRunning):
		return alreadyRunning(projectID)
	case errors.Is(err, domain.ErrConfigInvalid):
		return apperrors.InvalidInput(err.Error())
	default:
		return err
	}
}

// Stop halts the project's simulation and waits for its devices to drain.
func (s *SimulationService) Stop(ctx context.Context, projectID string) error {
	if err := s.engine.StopProject(ctx, projectID); err != nil {
		if errors.Is(err, domain.ErrNotRunning) {
			return notRunning(projectID)
		}
		return err
	}
	s.logger.Info("simulation stopped", slog.String("project_id", projectID))
	return nil
}

// Status snapshots one project's simulation, running or not.
func (s *SimulationService) Status(ctx context.Context, projectID string) domain.SimulationStatus {
	return s.engine.Status(ctx, projectID)
}

// StatusAll snapshots every running simulation.
func (s *SimulationService) StatusAll(ctx context.Context) []domain.SimulationStatus {
	return s.engine.StatusAll(ctx)
}

// Validate checks a project's devices without starting anything.
func (s *SimulationService) Validate(ctx context.Context, projectID string) domain.ValidationResult {
	return s.engine.ValidateProject(ctx, projectID)
}

// EmergencyStop stops every running simulation and returns the stopped ids.
func (s *SimulationService) EmergencyStop(ctx context.Context) []string {
	return s.engine.EmergencyStopAll(ctx)
}

// RecentLogs returns up to limit buffered log entries, newest first.
func (s *SimulationService) RecentLogs(projectID string, limit int) ([]domain.LogEntry, error) {
	logs, err := s.engine.RecentLogs(projectID, limit)
	if err != nil {
		if errors.Is(err, domain.ErrNotRunning) {
			return nil, notRunning(projectID)
		}
		return nil, err
	}
	return logs, nil
}

// SubscribeLogs attaches a log-stream subscriber to a running project and
// returns the replay slice.
func (s *SimulationService) SubscribeLogs(projectID string, sub engine.Subscriber) ([]domain.LogEntry, error) {
	return s.engine.SubscribeLogs(projectID, sub)
}

// UnsubscribeLogs detaches a log-stream subscriber.
func (s *SimulationService) UnsubscribeLogs(projectID string, sub engine.Subscriber) {
	s.engine.UnsubscribeLogs(projectID, sub)
}

// ─── Configuration dry-runs ─────────────────────────────────────────────────

// ConnectorTestResult reports one connection dry-run. Either Message and
// TestPayload are set (success) or Error and Details (failure).
type ConnectorTestResult struct {
	Success     bool           `json:"success"`
	Message     string         `json:"message,omitempty"`
	Error       string         `json:"error,omitempty"`
	Details     string         `json:"details,omitempty"`
	TestPayload map[string]any `json:"test_payload,omitempty"`
}

// DeviceTestResult reports a full device dry-run: payload generation plus
// a connection test against the device's target.
type DeviceTestResult struct {
	Success    bool                 `json:"success"`
	Message    string               `json:"message,omitempty"`
	Error      string               `json:"error,omitempty"`
	Payload    map[string]any       `json:"payload,omitempty"`
	TargetInfo *ConnectorTestResult `json:"target_info,omitempty"`
	Details    *ConnectorTestResult `json:"details,omitempty"`
}

// testPayload is the canned frame delivered during connection tests.
func testPayload() map[string]any {
	return map[string]any{
		"test":      true,
		"timestamp": "2024-01-01T00:00:00Z",
		"message":   "Connection test from IoT Simulator",
	}
}

// TestDevice dry-runs one device's configuration: generate a payload from
// its template, then connect, send, and disconnect against its target.
// Configuration problems land in the result, never in the error return.
func (s *SimulationService) TestDevice(ctx context.Context, deviceID string) *DeviceTestResult {
	device, err := s.store.GetDevice(ctx, deviceID)
	if err != nil {
		return &DeviceTestResult{Success: false, Error: "Device not found"}
	}
	if device.PayloadID == "" {
		return &DeviceTestResult{Success: false, Error: "No payload generator assigned"}
	}

	payload, err := s.store.GetPayload(ctx, device.PayloadID)
	if err != nil {
		return &DeviceTestResult{Success: false, Error: "Payload generator not found"}
	}
	gen, err := generator.New(payload)
	if err != nil {
		return &DeviceTestResult{Success: false, Error: fmt.Sprintf("Payload generation failed: %v", err)}
	}
	generated, err := gen.Generate(ctx, device.Metadata)
	if err != nil {
		return &DeviceTestResult{Success: false, Error: fmt.Sprintf("Payload generation failed: %v", err)}
	}

	if device.TargetID == "" {
		return &DeviceTestResult{Success: false, Error: "No target system assigned"}
	}

	targetResult := s.TestTarget(ctx, device.TargetID)
	if !targetResult.Success {
		return &DeviceTestResult{
			Success: false,
			Error:   fmt.Sprintf("Target connection failed: %s", targetResult.Error),
			Payload: generated,
			Details: targetResult,
		}
	}
	return &DeviceTestResult{
		Success:    true,
		Message:    "Device configuration test successful",
		Payload:    generated,
		TargetInfo: targetResult,
	}
}

// TestTarget dry-runs a stored target system: build its connector, connect,
// deliver the canned test payload, disconnect.
func (s *SimulationService) TestTarget(ctx context.Context, targetID string) *ConnectorTestResult {
	target, err := s.store.GetTarget(ctx, targetID)
	if err != nil {
		return &ConnectorTestResult{
			Success: false,
			Error:   fmt.Sprintf("Connection test failed: %v", err),
			Details: err.Error(),
		}
	}

	conn, err := connector.New("test", target, s.logger)
	if err != nil {
		return &ConnectorTestResult{
			Success: false,
			Error:   fmt.Sprintf("Connection test failed: %v", err),
			Details: err.Error(),
		}
	}
	return s.runConnectionTest(ctx, conn)
}

// TestConnector dry-runs an unsaved connector configuration. Unsupported
// kinds and invalid configs are 400s; reachability problems land in the
// result.
func (s *SimulationService) TestConnector(ctx context.Context, kind string, config map[string]any) (*ConnectorTestResult, error) {
	if !domain.IsValidTargetKind(kind) {
		return nil, apperrors.InvalidInput(fmt.Sprintf("Unsupported target type: %s", kind))
	}

	conn, err := connector.New("test", &domain.TargetDescriptor{
		ID:     "test",
		Name:   "connection test",
		Kind:   kind,
		Config: config,
	}, s.logger)
	if err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}
	return s.runConnectionTest(ctx, conn), nil
}

func (s *SimulationService) runConnectionTest(ctx context.Context, conn connector.Connector) *ConnectorTestResult {
	ctx, cancel := context.WithTimeout(ctx, testTimeout)
	defer cancel()

	if err := conn.Connect(ctx); err != nil {
		return &ConnectorTestResult{
			Success: false,
			Error:   "Failed to connect to target system",
			Details: err.Error(),
		}
	}
	defer func() {
		dctx, dcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer dcancel()
		if err := conn.Disconnect(dctx); err != nil {
			s.logger.Warn("disconnect after connection test failed",
				slog.String("connector_id", conn.ID()),
				slog.String("error", err.Error()))
		}
	}()

	payload := testPayload()
	if err := conn.Send(ctx, payload); err != nil {
		return &ConnectorTestResult{
			Success: false,
			Error:   "Failed to send test payload",
			Details: err.Error(),
		}
	}
	return &ConnectorTestResult{
		Success:     true,
		Message:     "Connection test successful",
		TestPayload: payload,
	}
}

// ─── Connector catalogue ────────────────────────────────────────────────────

// ConnectorTypes lists the supported target kinds.
func (s *SimulationService) ConnectorTypes() []string {
	return domain.ValidTargetKinds()
}

// ConnectorSchema describes the config fields of one target kind.
func (s *SimulationService) ConnectorSchema(kind string) (*connector.ConfigSchema, error) {
	schema, err := connector.SchemaFor(kind)
	if err != nil {
		return nil, apperrors.InvalidInput(fmt.Sprintf("Unsupported target type: %s", kind))
	}
	return schema, nil
}

// ─── Metrics views ──────────────────────────────────────────────────────────

// MetricsSnapshot bundles every tracked series.
func (s *SimulationService) MetricsSnapshot() metrics.Snapshot {
	return s.collector.Snapshot()
}

// ProjectMetrics aggregates one project's device series.
func (s *SimulationService) ProjectMetrics(projectID string) metrics.ProjectSummary {
	return s.collector.ProjectSummary(projectID)
}

// ConnectorMetrics snapshots every connector series.
func (s *SimulationService) ConnectorMetrics() map[string]metrics.ConnectorSnapshot {
	return s.collector.ConnectorSnapshots()
}

// DeviceMetrics snapshots every device series.
func (s *SimulationService) DeviceMetrics() map[string]metrics.DeviceSnapshot {
	return s.collector.DeviceSnapshots()
}

// DeviceMetric snapshots one device's series.
func (s *SimulationService) DeviceMetric(deviceID string) (metrics.DeviceSnapshot, error) {
	snap, ok := s.collector.DeviceSnapshot(deviceID)
	if !ok {
		return metrics.DeviceSnapshot{}, apperrors.NotFound("device metrics", deviceID)
	}
	return snap, nil
}

// ResetMetrics clears every series and rewinds the collection clock.
func (s *SimulationService) ResetMetrics() {
	s.collector.Reset()
	s.logger.Info("metrics reset")
}

// ResetProjectMetrics clears one project's device series.
func (s *SimulationService) ResetProjectMetrics(projectID string) {
	s.collector.ResetProject(projectID)
	s.logger.Info("project metrics reset", slog.String("project_id", projectID))
}

// MetricsHealth reports collection liveness.
func (s *SimulationService) MetricsHealth() metrics.Health {
	return s.collector.Health()
}
