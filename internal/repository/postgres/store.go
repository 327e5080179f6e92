package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/joluben/sigsim/pkg/database"
	apperrors "github.com/joluben/sigsim/pkg/errors"

	"github.com/joluben/sigsim/internal/domain"
)

// Store implements repository.Store and repository.Writer using PostgreSQL.
type Store struct {
	pool database.DBTX
}

// New creates a new PostgreSQL-backed descriptor store.
func New(pool database.DBTX) *Store {
	return &Store{pool: pool}
}

const projectColumns = `id, name, description, created_at, updated_at`

// GetProject retrieves a project descriptor by ID.
func (s *Store) GetProject(ctx context.Context, id string) (*domain.ProjectDescriptor, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "GetProject", query)
	var p domain.ProjectDescriptor
	err := s.pool.QueryRow(ctx, query, id).Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	end(err)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("project", id)
		}
		return nil, fmt.Errorf("scan project: %w", err)
	}

	return &p, nil
}

// ListProjects returns all project descriptors.
func (s *Store) ListProjects(ctx context.Context) ([]domain.ProjectDescriptor, error) {
	query := `SELECT ` + projectColumns + ` FROM projects ORDER BY created_at`

	ctx, end := database.TraceQuery(ctx, "ListProjects", query)
	rows, err := s.pool.Query(ctx, query)
	end(err)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer rows.Close()

	projects := make([]domain.ProjectDescriptor, 0)
	for rows.Next() {
		var p domain.ProjectDescriptor
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project row: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate project rows: %w", err)
	}

	return projects, nil
}

const deviceColumns = `id, project_id, name, enabled, metadata, COALESCE(payload_id, ''), COALESCE(target_id, ''), send_interval, created_at, updated_at`

// GetDevice retrieves a device descriptor by ID.
func (s *Store) GetDevice(ctx context.Context, id string) (*domain.DeviceDescriptor, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "GetDevice", query)
	d, err := scanDevice(s.pool.QueryRow(ctx, query, id))
	end(err)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("device", id)
		}
		return nil, err
	}

	return d, nil
}

// ListDevices returns all device descriptors belonging to a project.
func (s *Store) ListDevices(ctx context.Context, projectID string) ([]domain.DeviceDescriptor, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE project_id = $1 ORDER BY created_at`

	ctx, end := database.TraceQuery(ctx, "ListDevices", query)
	rows, err := s.pool.Query(ctx, query, projectID)
	end(err)
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	defer rows.Close()

	devices := make([]domain.DeviceDescriptor, 0)
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate device rows: %w", err)
	}

	return devices, nil
}

// CountEnabledDevices returns the number of enabled devices in a project.
func (s *Store) CountEnabledDevices(ctx context.Context, projectID string) (int, error) {
	query := `SELECT count(*) FROM devices WHERE project_id = $1 AND enabled`

	ctx, end := database.TraceQuery(ctx, "CountEnabledDevices", query)
	var count int
	err := s.pool.QueryRow(ctx, query, projectID).Scan(&count)
	end(err)
	if err != nil {
		return 0, fmt.Errorf("count enabled devices: %w", err)
	}

	return count, nil
}

// GetPayload retrieves a payload descriptor by ID.
func (s *Store) GetPayload(ctx context.Context, id string) (*domain.PayloadDescriptor, error) {
	query := `SELECT id, name, kind, schema, COALESCE(script, '') FROM payloads WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "GetPayload", query)
	var (
		p          domain.PayloadDescriptor
		schemaJSON []byte
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(&p.ID, &p.Name, &p.Kind, &schemaJSON, &p.Script)
	end(err)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("payload", id)
		}
		return nil, fmt.Errorf("scan payload: %w", err)
	}

	if schemaJSON != nil {
		if err := json.Unmarshal(schemaJSON, &p.Schema); err != nil {
			return nil, fmt.Errorf("unmarshal payload schema: %w", err)
		}
	}

	return &p, nil
}

// GetTarget retrieves a target descriptor by ID.
func (s *Store) GetTarget(ctx context.Context, id string) (*domain.TargetDescriptor, error) {
	query := `SELECT id, name, kind, config FROM targets WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "GetTarget", query)
	var (
		t          domain.TargetDescriptor
		configJSON []byte
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(&t.ID, &t.Name, &t.Kind, &configJSON)
	end(err)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("target", id)
		}
		return nil, fmt.Errorf("scan target: %w", err)
	}

	if configJSON != nil {
		if err := json.Unmarshal(configJSON, &t.Config); err != nil {
			return nil, fmt.Errorf("unmarshal target config: %w", err)
		}
	}

	return &t, nil
}

// CreateProject inserts a project descriptor.
func (s *Store) CreateProject(ctx context.Context, p *domain.ProjectDescriptor) error {
	query := `
		INSERT INTO projects (id, name, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`

	ctx, end := database.TraceQuery(ctx, "CreateProject", query)
	_, err := s.pool.Exec(ctx, query, p.ID, p.Name, p.Description, p.CreatedAt, p.UpdatedAt)
	end(err)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}

	return nil
}

// CreateDevice inserts a device descriptor.
func (s *Store) CreateDevice(ctx context.Context, d *domain.DeviceDescriptor) error {
	metadataJSON, err := json.Marshal(d.Metadata)
	if err != nil {
		return fmt.Errorf("marshal device metadata: %w", err)
	}

	query := `
		INSERT INTO devices (id, project_id, name, enabled, metadata, payload_id, target_id, send_interval, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9, $10)`

	ctx, end := database.TraceQuery(ctx, "CreateDevice", query)
	_, err = s.pool.Exec(ctx, query,
		d.ID, d.ProjectID, d.Name, d.Enabled, metadataJSON,
		d.PayloadID, d.TargetID, d.SendInterval, d.CreatedAt, d.UpdatedAt,
	)
	end(err)
	if err != nil {
		return fmt.Errorf("insert device: %w", err)
	}

	return nil
}

// CreatePayload inserts a payload descriptor.
func (s *Store) CreatePayload(ctx context.Context, p *domain.PayloadDescriptor) error {
	schemaJSON, err := json.Marshal(p.Schema)
	if err != nil {
		return fmt.Errorf("marshal payload schema: %w", err)
	}

	query := `
		INSERT INTO payloads (id, name, kind, schema, script)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))`

	ctx, end := database.TraceQuery(ctx, "CreatePayload", query)
	_, err = s.pool.Exec(ctx, query, p.ID, p.Name, p.Kind, schemaJSON, p.Script)
	end(err)
	if err != nil {
		return fmt.Errorf("insert payload: %w", err)
	}

	return nil
}

// CreateTarget inserts a target descriptor.
func (s *Store) CreateTarget(ctx context.Context, t *domain.TargetDescriptor) error {
	configJSON, err := json.Marshal(t.Config)
	if err != nil {
		return fmt.Errorf("marshal target config: %w", err)
	}

	query := `
		INSERT INTO targets (id, name, kind, config)
		VALUES ($1, $2, $3, $4)`

	ctx, end := database.TraceQuery(ctx, "CreateTarget", query)
	_, err = s.pool.Exec(ctx, query, t.ID, t.Name, t.Kind, configJSON)
	end(err)
	if err != nil {
		return fmt.Errorf("insert target: %w", err)
	}

	return nil
}

// scanDevice reads one device row, unmarshalling the metadata JSON column.
func scanDevice(row pgx.Row) (*domain.DeviceDescriptor, error) {
	var (
		d            domain.DeviceDescriptor
		metadataJSON []byte
	)

	if err := row.Scan(
		&d.ID,
		&d.ProjectID,
		&d.Name,
		&d.Enabled,
		&metadataJSON,
		&d.PayloadID,
		&d.TargetID,
		&d.SendInterval,
		&d.CreatedAt,
		&d.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan device row: %w", err)
	}

	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &d.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal device metadata: %w", err)
		}
	}

	return &d, nil
}
