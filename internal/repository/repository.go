package repository

import (
	"context"

	"github.com/joluben/sigsim/internal/domain"
)

// Store provides read access to simulation descriptors. The engine loads
// immutable snapshots through this interface at start; descriptor lifecycle
// (create/modify) belongs to the surrounding tooling.
type Store interface {
	// GetProject retrieves a project descriptor by ID.
	GetProject(ctx context.Context, id string) (*domain.ProjectDescriptor, error)

	// ListProjects returns all project descriptors.
	ListProjects(ctx context.Context) ([]domain.ProjectDescriptor, error)

	// GetDevice retrieves a device descriptor by ID.
	GetDevice(ctx context.Context, id string) (*domain.DeviceDescriptor, error)

	// ListDevices returns all device descriptors belonging to a project.
	ListDevices(ctx context.Context, projectID string) ([]domain.DeviceDescriptor, error)

	// CountEnabledDevices returns the number of enabled devices in a project.
	CountEnabledDevices(ctx context.Context, projectID string) (int, error)

	// GetPayload retrieves a payload descriptor by ID.
	GetPayload(ctx context.Context, id string) (*domain.PayloadDescriptor, error)

	// GetTarget retrieves a target descriptor by ID.
	GetTarget(ctx context.Context, id string) (*domain.TargetDescriptor, error)
}

// Writer is implemented by stores that support descriptor creation. The
// seeder and tests use it; the runtime itself never writes.
type Writer interface {
	CreateProject(ctx context.Context, p *domain.ProjectDescriptor) error
	CreateDevice(ctx context.Context, d *domain.DeviceDescriptor) error
	CreatePayload(ctx context.Context, p *domain.PayloadDescriptor) error
	CreateTarget(ctx context.Context, t *domain.TargetDescriptor) error
}
