// Package engine is the process-wide simulation runtime: a registry of
// running projects, each owning its device simulators, log history, and
// log subscribers. Start and stop mutate the registry; status, validation,
// and log reads observe snapshots.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/joluben/sigsim/internal/connector"
	"github.com/joluben/sigsim/internal/domain"
	"github.com/joluben/sigsim/internal/generator"
	"github.com/joluben/sigsim/internal/metrics"
	"github.com/joluben/sigsim/internal/repository"
	"github.com/joluben/sigsim/internal/simulator"
)

// Engine is the process-wide registry of running simulations. One Engine
// serves the whole process; all methods are safe for concurrent use.
type Engine struct {
	store     repository.Store
	collector *metrics.Collector
	logger    *slog.Logger

	mu       sync.RWMutex
	projects map[string]*Project
}

func New(store repository.Store, collector *metrics.Collector, logger *slog.Logger) *Engine {
	return &Engine{
		store:     store,
		collector: collector,
		logger:    logger,
		projects:  make(map[string]*Project),
	}
}

// StartProject loads the project's descriptors, builds one simulator per
// enabled device, and launches them. Devices whose payload or target is
// missing or fails construction are skipped with a log entry; the start
// succeeds iff at least one simulator launched. Returns ErrAlreadyRunning
// when the project is already in the registry.
func (e *Engine) StartProject(ctx context.Context, projectID string) error {
	e.mu.RLock()
	_, running := e.projects[projectID]
	e.mu.RUnlock()
	if running {
		return domain.ErrAlreadyRunning
	}

	proj, err := e.buildProject(ctx, projectID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if _, exists := e.projects[projectID]; exists {
		e.mu.Unlock()
		return domain.ErrAlreadyRunning
	}
	e.projects[projectID] = proj
	e.mu.Unlock()

	proj.start()
	return nil
}

// buildProject loads descriptors and assembles the simulators without
// touching the registry.
func (e *Engine) buildProject(ctx context.Context, projectID string) (*Project, error) {
	if _, err := e.store.GetProject(ctx, projectID); err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}

	devices, err := e.store.ListDevices(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("%w: project %s has no devices", domain.ErrConfigInvalid, projectID)
	}

	proj := newProject(projectID, e.logger)
	for i := range devices {
		device := devices[i]
		if !device.Enabled {
			continue
		}

		sim, err := e.buildSimulator(ctx, &device, proj)
		if err != nil {
			e.logger.Warn("skipping device",
				slog.String("project_id", projectID),
				slog.String("device_id", device.ID),
				slog.String("device_name", device.Name),
				slog.String("error", err.Error()))
			continue
		}
		proj.addSimulator(sim)
	}

	if len(proj.simulators) == 0 {
		return nil, fmt.Errorf("%w: project %s has no startable devices", domain.ErrConfigInvalid, projectID)
	}
	return proj, nil
}

// buildSimulator resolves one device's payload and target descriptors into
// a generator and a connector, then wraps them in a simulator wired to the
// project's log fan-out.
func (e *Engine) buildSimulator(ctx context.Context, device *domain.DeviceDescriptor, proj *Project) (*simulator.Simulator, error) {
	if device.PayloadID == "" {
		return nil, fmt.Errorf("%w: no payload assigned", domain.ErrConfigInvalid)
	}
	payload, err := e.store.GetPayload(ctx, device.PayloadID)
	if err != nil {
		return nil, fmt.Errorf("load payload: %w", err)
	}
	gen, err := generator.New(payload)
	if err != nil {
		return nil, fmt.Errorf("build generator: %w", err)
	}

	if device.TargetID == "" {
		return nil, fmt.Errorf("%w: no target assigned", domain.ErrConfigInvalid)
	}
	target, err := e.store.GetTarget(ctx, device.TargetID)
	if err != nil {
		return nil, fmt.Errorf("load target: %w", err)
	}
	conn, err := connector.New(device.ID, target, e.logger)
	if err != nil {
		return nil, fmt.Errorf("build connector: %w", err)
	}

	return simulator.New(simulator.Config{
		Device:    device,
		Generator: gen,
		Connector: conn,
		Collector: e.collector,
		LogSink:   proj.Notify,
		Logger:    e.logger,
	}), nil
}

// StopProject cancels every simulator of a running project, waits for them
// to drain, and removes the project from the registry. Returns
// ErrNotRunning when the project is not registered.
func (e *Engine) StopProject(_ context.Context, projectID string) error {
	e.mu.RLock()
	proj, ok := e.projects[projectID]
	e.mu.RUnlock()
	if !ok {
		return domain.ErrNotRunning
	}

	// Stop first, remove after: the registry holds the project until its
	// shutdown path completes, so a concurrent start observes
	// AlreadyRunning rather than a half-stopped duplicate.
	proj.stop()

	e.mu.Lock()
	delete(e.projects, projectID)
	e.mu.Unlock()
	return nil
}

// EmergencyStopAll stops every running project, continuing past individual
// failures, and returns the ids that were stopped.
func (e *Engine) EmergencyStopAll(ctx context.Context) []string {
	e.mu.RLock()
	ids := make([]string, 0, len(e.projects))
	for id := range e.projects {
		ids = append(ids, id)
	}
	e.mu.RUnlock()

	stopped := make([]string, 0, len(ids))
	for _, id := range ids {
		if err := e.StopProject(ctx, id); err != nil {
			e.logger.Error("emergency stop failed for project",
				slog.String("project_id", id),
				slog.String("error", err.Error()))
			continue
		}
		stopped = append(stopped, id)
	}
	e.logger.Info("emergency stop completed", slog.Int("stopped", len(stopped)))
	return stopped
}

// Status returns the project's simulation snapshot. A project with no
// active simulation yields the default not-running snapshot with the
// store's enabled-device count.
func (e *Engine) Status(ctx context.Context, projectID string) domain.SimulationStatus {
	e.mu.RLock()
	proj, ok := e.projects[projectID]
	e.mu.RUnlock()

	if !ok {
		total, err := e.store.CountEnabledDevices(ctx, projectID)
		if err != nil {
			total = 0
		}
		return domain.NotRunningStatus(projectID, total)
	}
	return proj.Status()
}

// StatusAll snapshots every running project.
func (e *Engine) StatusAll(_ context.Context) []domain.SimulationStatus {
	e.mu.RLock()
	projects := make([]*Project, 0, len(e.projects))
	for _, p := range e.projects {
		projects = append(projects, p)
	}
	e.mu.RUnlock()

	out := make([]domain.SimulationStatus, 0, len(projects))
	for _, p := range projects {
		out = append(out, p.Status())
	}
	return out
}

// IsRunning reports whether the project has an active simulation.
func (e *Engine) IsRunning(projectID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.projects[projectID]
	return ok
}

// RunningProjects returns the ids of all registered simulations.
func (e *Engine) RunningProjects() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := make([]string, 0, len(e.projects))
	for id := range e.projects {
		ids = append(ids, id)
	}
	return ids
}

// SubscribeLogs attaches a subscriber to a running project's log stream
// and returns the replay slice (up to the last 20 entries, oldest first).
// Returns ErrNotRunning when the project has no active simulation; the
// caller informs the subscriber and completes.
func (e *Engine) SubscribeLogs(projectID string, sub Subscriber) ([]domain.LogEntry, error) {
	e.mu.RLock()
	proj, ok := e.projects[projectID]
	e.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotRunning
	}
	return proj.Subscribe(sub), nil
}

// UnsubscribeLogs detaches a subscriber. Safe when the project already
// stopped or the subscriber was never registered.
func (e *Engine) UnsubscribeLogs(projectID string, sub Subscriber) {
	e.mu.RLock()
	proj, ok := e.projects[projectID]
	e.mu.RUnlock()
	if ok {
		proj.Unsubscribe(sub)
	}
}

// RecentLogs returns up to limit buffered log entries for a running
// project, newest first. Returns ErrNotRunning when the project has no
// active simulation.
func (e *Engine) RecentLogs(projectID string, limit int) ([]domain.LogEntry, error) {
	e.mu.RLock()
	proj, ok := e.projects[projectID]
	e.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotRunning
	}
	return proj.RecentLogs(limit), nil
}

// ValidateProject inspects a project's devices without starting anything.
// Enabled devices must reference an existing payload and target of a
// supported kind and carry a positive send interval; intervals under five
// seconds warn. The project validates iff there are no errors and at least
// one device passed.
func (e *Engine) ValidateProject(ctx context.Context, projectID string) domain.ValidationResult {
	result := domain.ValidationResult{
		Errors:   []string{},
		Warnings: []string{},
	}

	if _, err := e.store.GetProject(ctx, projectID); err != nil {
		result.Errors = append(result.Errors, "Project not found")
		return result
	}

	devices, err := e.store.ListDevices(ctx, projectID)
	if err != nil || len(devices) == 0 {
		result.Errors = append(result.Errors, "No devices found in project")
		return result
	}

	for i := range devices {
		device := devices[i]
		if !device.Enabled {
			continue
		}
		result.TotalDevices++

		if device.PayloadID == "" {
			result.Errors = append(result.Errors,
				fmt.Sprintf("Device %q has no payload generator assigned", device.Name))
			continue
		}
		payload, err := e.store.GetPayload(ctx, device.PayloadID)
		if err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("Device %q has an invalid payload generator", device.Name))
			continue
		}
		if !domain.IsValidPayloadKind(payload.Kind) {
			result.Errors = append(result.Errors,
				fmt.Sprintf("Device %q payload has unsupported kind %q", device.Name, payload.Kind))
			continue
		}
		if device.TargetID == "" {
			result.Errors = append(result.Errors,
				fmt.Sprintf("Device %q has no target system assigned", device.Name))
			continue
		}
		target, err := e.store.GetTarget(ctx, device.TargetID)
		if err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("Device %q has an invalid target system", device.Name))
			continue
		}
		if !domain.IsValidTargetKind(target.Kind) {
			result.Errors = append(result.Errors,
				fmt.Sprintf("Device %q target has unsupported kind %q", device.Name, target.Kind))
			continue
		}
		if target.Kind == domain.TargetKindPubSub {
			provider, _ := target.Config["provider"].(string)
			if !domain.IsValidPubSubProvider(provider) {
				result.Errors = append(result.Errors,
					fmt.Sprintf("Device %q target has unsupported pub/sub provider %q", device.Name, provider))
				continue
			}
		}
		if device.SendInterval < domain.MinSendInterval {
			result.Errors = append(result.Errors,
				fmt.Sprintf("Device %q has an invalid send interval", device.Name))
			continue
		}
		if device.SendInterval < domain.SlowIntervalWarning {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("Device %q has a very short send interval (%ds)", device.Name, device.SendInterval))
		}
		result.ValidDevices++
	}

	if result.ValidDevices == 0 {
		result.Errors = append(result.Errors, "No valid devices found for simulation")
	}
	result.Valid = len(result.Errors) == 0
	return result
}
