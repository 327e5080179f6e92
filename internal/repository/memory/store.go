package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	apperrors "github.com/joluben/sigsim/pkg/errors"

	"github.com/joluben/sigsim/internal/domain"
)

// Store is an in-memory descriptor store. It backs local development and
// tests; contents are lost on restart unless reloaded from a fixture file.
type Store struct {
	mu       sync.RWMutex
	projects map[string]domain.ProjectDescriptor
	devices  map[string]domain.DeviceDescriptor
	payloads map[string]domain.PayloadDescriptor
	targets  map[string]domain.TargetDescriptor
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		projects: make(map[string]domain.ProjectDescriptor),
		devices:  make(map[string]domain.DeviceDescriptor),
		payloads: make(map[string]domain.PayloadDescriptor),
		targets:  make(map[string]domain.TargetDescriptor),
	}
}

// fixture is the on-disk JSON shape accepted by LoadFile.
type fixture struct {
	Projects []domain.ProjectDescriptor `json:"projects"`
	Devices  []domain.DeviceDescriptor  `json:"devices"`
	Payloads []domain.PayloadDescriptor `json:"payloads"`
	Targets  []domain.TargetDescriptor  `json:"targets"`
}

// LoadFile replaces the store contents with descriptors read from a JSON
// fixture file.
func (s *Store) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read fixture file: %w", err)
	}

	var f fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse fixture file: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.projects = make(map[string]domain.ProjectDescriptor, len(f.Projects))
	s.devices = make(map[string]domain.DeviceDescriptor, len(f.Devices))
	s.payloads = make(map[string]domain.PayloadDescriptor, len(f.Payloads))
	s.targets = make(map[string]domain.TargetDescriptor, len(f.Targets))

	for _, p := range f.Projects {
		s.projects[p.ID] = p
	}
	for _, d := range f.Devices {
		s.devices[d.ID] = d
	}
	for _, p := range f.Payloads {
		s.payloads[p.ID] = p
	}
	for _, t := range f.Targets {
		s.targets[t.ID] = t
	}

	return nil
}

// GetProject retrieves a project descriptor by ID.
func (s *Store) GetProject(_ context.Context, id string) (*domain.ProjectDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[id]
	if !ok {
		return nil, apperrors.NotFound("project", id)
	}
	return &p, nil
}

// ListProjects returns all project descriptors, ordered by creation time.
func (s *Store) ListProjects(_ context.Context) ([]domain.ProjectDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ProjectDescriptor, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// GetDevice retrieves a device descriptor by ID.
func (s *Store) GetDevice(_ context.Context, id string) (*domain.DeviceDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.devices[id]
	if !ok {
		return nil, apperrors.NotFound("device", id)
	}
	return &d, nil
}

// ListDevices returns all device descriptors belonging to a project,
// ordered by creation time.
func (s *Store) ListDevices(_ context.Context, projectID string) ([]domain.DeviceDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.DeviceDescriptor, 0)
	for _, d := range s.devices {
		if d.ProjectID == projectID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// CountEnabledDevices returns the number of enabled devices in a project.
func (s *Store) CountEnabledDevices(_ context.Context, projectID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, d := range s.devices {
		if d.ProjectID == projectID && d.Enabled {
			count++
		}
	}
	return count, nil
}

// GetPayload retrieves a payload descriptor by ID.
func (s *Store) GetPayload(_ context.Context, id string) (*domain.PayloadDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payloads[id]
	if !ok {
		return nil, apperrors.NotFound("payload", id)
	}
	return &p, nil
}

// GetTarget retrieves a target descriptor by ID.
func (s *Store) GetTarget(_ context.Context, id string) (*domain.TargetDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.targets[id]
	if !ok {
		return nil, apperrors.NotFound("target", id)
	}
	return &t, nil
}

// CreateProject inserts a project descriptor.
func (s *Store) CreateProject(_ context.Context, p *domain.ProjectDescriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.projects[p.ID]; exists {
		return apperrors.ErrAlreadyExists
	}
	s.projects[p.ID] = *p
	return nil
}

// CreateDevice inserts a device descriptor.
func (s *Store) CreateDevice(_ context.Context, d *domain.DeviceDescriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.devices[d.ID]; exists {
		return apperrors.ErrAlreadyExists
	}
	s.devices[d.ID] = *d
	return nil
}

// CreatePayload inserts a payload descriptor.
func (s *Store) CreatePayload(_ context.Context, p *domain.PayloadDescriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.payloads[p.ID]; exists {
		return apperrors.ErrAlreadyExists
	}
	s.payloads[p.ID] = *p
	return nil
}

// CreateTarget inserts a target descriptor.
func (s *Store) CreateTarget(_ context.Context, t *domain.TargetDescriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.targets[t.ID]; exists {
		return apperrors.ErrAlreadyExists
	}
	s.targets[t.ID] = *t
	return nil
}
