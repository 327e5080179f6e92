package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/joluben/sigsim/pkg/errors"

	"github.com/joluben/sigsim/internal/domain"
)

const (
	projectKeyPrefix = "sim:project:"
	deviceKeyPrefix  = "sim:device:"
	payloadKeyPrefix = "sim:payload:"
	targetKeyPrefix  = "sim:target:"

	projectIndexKey = "sim:projects"
)

// Store implements repository.Store and repository.Writer using Redis.
// Descriptors are stored as JSON documents without TTL; set keys index
// project membership so listings avoid SCAN.
type Store struct {
	client *redis.Client
}

// New creates a new Redis-backed descriptor store.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

func deviceIndexKey(projectID string) string {
	return projectKeyPrefix + projectID + ":devices"
}

// GetProject retrieves a project descriptor by ID.
func (s *Store) GetProject(ctx context.Context, id string) (*domain.ProjectDescriptor, error) {
	data, err := s.client.Get(ctx, projectKeyPrefix+id).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, apperrors.NotFound("project", id)
		}
		return nil, fmt.Errorf("redis get project: %w", err)
	}

	var p domain.ProjectDescriptor
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal project: %w", err)
	}

	return &p, nil
}

// ListProjects returns all project descriptors, ordered by creation time.
func (s *Store) ListProjects(ctx context.Context) ([]domain.ProjectDescriptor, error) {
	ids, err := s.client.SMembers(ctx, projectIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list project ids: %w", err)
	}

	projects := make([]domain.ProjectDescriptor, 0, len(ids))
	for _, id := range ids {
		p, err := s.GetProject(ctx, id)
		if err != nil {
			// Index entries can outlive their documents; skip dangling ids.
			if errors.Is(err, apperrors.ErrNotFound) {
				continue
			}
			return nil, err
		}
		projects = append(projects, *p)
	}

	sort.Slice(projects, func(i, j int) bool {
		if projects[i].CreatedAt.Equal(projects[j].CreatedAt) {
			return projects[i].ID < projects[j].ID
		}
		return projects[i].CreatedAt.Before(projects[j].CreatedAt)
	})

	return projects, nil
}

// GetDevice retrieves a device descriptor by ID.
func (s *Store) GetDevice(ctx context.Context, id string) (*domain.DeviceDescriptor, error) {
	data, err := s.client.Get(ctx, deviceKeyPrefix+id).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, apperrors.NotFound("device", id)
		}
		return nil, fmt.Errorf("redis get device: %w", err)
	}

	var d domain.DeviceDescriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("unmarshal device: %w", err)
	}

	return &d, nil
}

// ListDevices returns all device descriptors belonging to a project,
// ordered by creation time.
func (s *Store) ListDevices(ctx context.Context, projectID string) ([]domain.DeviceDescriptor, error) {
	ids, err := s.client.SMembers(ctx, deviceIndexKey(projectID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list device ids: %w", err)
	}

	devices := make([]domain.DeviceDescriptor, 0, len(ids))
	for _, id := range ids {
		d, err := s.GetDevice(ctx, id)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				continue
			}
			return nil, err
		}
		devices = append(devices, *d)
	}

	sort.Slice(devices, func(i, j int) bool {
		if devices[i].CreatedAt.Equal(devices[j].CreatedAt) {
			return devices[i].ID < devices[j].ID
		}
		return devices[i].CreatedAt.Before(devices[j].CreatedAt)
	})

	return devices, nil
}

// CountEnabledDevices returns the number of enabled devices in a project.
func (s *Store) CountEnabledDevices(ctx context.Context, projectID string) (int, error) {
	devices, err := s.ListDevices(ctx, projectID)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, d := range devices {
		if d.Enabled {
			count++
		}
	}

	return count, nil
}

// GetPayload retrieves a payload descriptor by ID.
func (s *Store) GetPayload(ctx context.Context, id string) (*domain.PayloadDescriptor, error) {
	data, err := s.client.Get(ctx, payloadKeyPrefix+id).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, apperrors.NotFound("payload", id)
		}
		return nil, fmt.Errorf("redis get payload: %w", err)
	}

	var p domain.PayloadDescriptor
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	return &p, nil
}

// GetTarget retrieves a target descriptor by ID.
func (s *Store) GetTarget(ctx context.Context, id string) (*domain.TargetDescriptor, error) {
	data, err := s.client.Get(ctx, targetKeyPrefix+id).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, apperrors.NotFound("target", id)
		}
		return nil, fmt.Errorf("redis get target: %w", err)
	}

	var t domain.TargetDescriptor
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("unmarshal target: %w", err)
	}

	return &t, nil
}

// CreateProject stores a project descriptor and indexes it.
func (s *Store) CreateProject(ctx context.Context, p *domain.ProjectDescriptor) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal project: %w", err)
	}

	ok, err := s.client.SetNX(ctx, projectKeyPrefix+p.ID, data, 0).Result()
	if err != nil {
		return fmt.Errorf("redis set project: %w", err)
	}
	if !ok {
		return apperrors.ErrAlreadyExists
	}

	if err := s.client.SAdd(ctx, projectIndexKey, p.ID).Err(); err != nil {
		return fmt.Errorf("redis index project: %w", err)
	}

	return nil
}

// CreateDevice stores a device descriptor and indexes it under its project.
func (s *Store) CreateDevice(ctx context.Context, d *domain.DeviceDescriptor) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal device: %w", err)
	}

	ok, err := s.client.SetNX(ctx, deviceKeyPrefix+d.ID, data, 0).Result()
	if err != nil {
		return fmt.Errorf("redis set device: %w", err)
	}
	if !ok {
		return apperrors.ErrAlreadyExists
	}

	if err := s.client.SAdd(ctx, deviceIndexKey(d.ProjectID), d.ID).Err(); err != nil {
		return fmt.Errorf("redis index device: %w", err)
	}

	return nil
}

// CreatePayload stores a payload descriptor.
func (s *Store) CreatePayload(ctx context.Context, p *domain.PayloadDescriptor) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	ok, err := s.client.SetNX(ctx, payloadKeyPrefix+p.ID, data, 0).Result()
	if err != nil {
		return fmt.Errorf("redis set payload: %w", err)
	}
	if !ok {
		return apperrors.ErrAlreadyExists
	}

	return nil
}

// CreateTarget stores a target descriptor.
func (s *Store) CreateTarget(ctx context.Context, t *domain.TargetDescriptor) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal target: %w", err)
	}

	ok, err := s.client.SetNX(ctx, targetKeyPrefix+t.ID, data, 0).Result()
	if err != nil {
		return fmt.Errorf("redis set target: %w", err)
	}
	if !ok {
		return apperrors.ErrAlreadyExists
	}

	return nil
}
