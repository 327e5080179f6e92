package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joluben/sigsim/pkg/database"
	apperrors "github.com/joluben/sigsim/pkg/errors"

	"github.com/joluben/sigsim/internal/domain"
)

// helper to build a sample device for tests.
func sampleDevice() *domain.DeviceDescriptor {
	now := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

	return &domain.DeviceDescriptor{
		ID:           "dev-001",
		ProjectID:    "proj-001",
		Name:         "Temperature Sensor 01",
		Enabled:      true,
		Metadata:     map[string]any{"building": "A", "floor": float64(3)},
		PayloadID:    "pay-001",
		TargetID:     "tgt-001",
		SendInterval: 15,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

var projectColumnNames = []string{"id", "name", "description", "created_at", "updated_at"}

var deviceColumnNames = []string{
	"id", "project_id", "name", "enabled", "metadata",
	"payload_id", "target_id", "send_interval", "created_at", "updated_at",
}

// ─── Projects ────────────────────────────────────────────────────────────────

func TestStore_GetProject_Success(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	store := New(mock)
	now := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT .+ FROM projects").
		WithArgs("proj-001").
		WillReturnRows(
			pgxmock.NewRows(projectColumnNames).
				AddRow("proj-001", "Factory Floor", "Sensors on line 3", now, now),
		)

	p, err := store.GetProject(context.Background(), "proj-001")
	require.NoError(t, err)
	assert.Equal(t, "proj-001", p.ID)
	assert.Equal(t, "Factory Floor", p.Name)
	assert.Equal(t, "Sensors on line 3", p.Description)

	err = mock.ExpectationsWereMet()
	assert.NoError(t, err)
}

func TestStore_GetProject_NotFound(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	store := New(mock)

	mock.ExpectQuery("SELECT .+ FROM projects").
		WithArgs("nonexistent-id").
		WillReturnError(pgx.ErrNoRows)

	p, err := store.GetProject(context.Background(), "nonexistent-id")
	assert.Nil(t, p)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	err = mock.ExpectationsWereMet()
	assert.NoError(t, err)
}

func TestStore_ListProjects_Success(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	store := New(mock)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT .+ FROM projects").
		WillReturnRows(
			pgxmock.NewRows(projectColumnNames).
				AddRow("proj-001", "Factory Floor", "", now, now).
				AddRow("proj-002", "Cold Chain", "Reefer trucks", now, now),
		)

	projects, err := store.ListProjects(context.Background())
	require.NoError(t, err)
	assert.Len(t, projects, 2)
	assert.Equal(t, "proj-001", projects[0].ID)
	assert.Equal(t, "Cold Chain", projects[1].Name)

	err = mock.ExpectationsWereMet()
	assert.NoError(t, err)
}

func TestStore_ListProjects_Empty(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	store := New(mock)

	mock.ExpectQuery("SELECT .+ FROM projects").
		WillReturnRows(pgxmock.NewRows(projectColumnNames))

	projects, err := store.ListProjects(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, projects)
	assert.Empty(t, projects)

	err = mock.ExpectationsWereMet()
	assert.NoError(t, err)
}

func TestStore_ListProjects_QueryError(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	store := New(mock)

	mock.ExpectQuery("SELECT .+ FROM projects").
		WillReturnError(errors.New("database timeout"))

	projects, err := store.ListProjects(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "query projects")
	assert.Nil(t, projects)

	err = mock.ExpectationsWereMet()
	assert.NoError(t, err)
}

// ─── Devices ─────────────────────────────────────────────────────────────────

func TestStore_GetDevice_Success(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	store := New(mock)
	d := sampleDevice()

	metadataJSON, err := json.Marshal(d.Metadata)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT .+ FROM devices").
		WithArgs(d.ID).
		WillReturnRows(
			pgxmock.NewRows(deviceColumnNames).
				AddRow(
					d.ID, d.ProjectID, d.Name, d.Enabled, metadataJSON,
					d.PayloadID, d.TargetID, d.SendInterval, d.CreatedAt, d.UpdatedAt,
				),
		)

	result, err := store.GetDevice(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.ID, result.ID)
	assert.Equal(t, d.ProjectID, result.ProjectID)
	assert.Equal(t, d.Name, result.Name)
	assert.True(t, result.Enabled)
	assert.Equal(t, "A", result.Metadata["building"])
	assert.Equal(t, float64(3), result.Metadata["floor"])
	assert.Equal(t, d.PayloadID, result.PayloadID)
	assert.Equal(t, d.TargetID, result.TargetID)
	assert.Equal(t, 15, result.SendInterval)

	err = mock.ExpectationsWereMet()
	assert.NoError(t, err)
}

func TestStore_GetDevice_NotFound(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	store := New(mock)

	mock.ExpectQuery("SELECT .+ FROM devices").
		WithArgs("nonexistent-id").
		WillReturnError(pgx.ErrNoRows)

	result, err := store.GetDevice(context.Background(), "nonexistent-id")
	assert.Nil(t, result)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	err = mock.ExpectationsWereMet()
	assert.NoError(t, err)
}

func TestStore_ListDevices_Success(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	store := New(mock)
	now := time.Now().UTC()

	meta1JSON, err := json.Marshal(map[string]any{"zone": "north"})
	require.NoError(t, err)

	mock.ExpectQuery("SELECT .+ FROM devices").
		WithArgs("proj-001").
		WillReturnRows(
			pgxmock.NewRows(deviceColumnNames).
				AddRow(
					"dev-001", "proj-001", "Sensor 1", true, meta1JSON,
					"pay-001", "tgt-001", 10, now, now,
				).
				AddRow(
					"dev-002", "proj-001", "Sensor 2", false, []byte(`{}`),
					"", "", 30, now, now,
				),
		)

	devices, err := store.ListDevices(context.Background(), "proj-001")
	require.NoError(t, err)
	assert.Len(t, devices, 2)

	assert.Equal(t, "dev-001", devices[0].ID)
	assert.Equal(t, "north", devices[0].Metadata["zone"])
	assert.True(t, devices[0].Enabled)

	assert.Equal(t, "dev-002", devices[1].ID)
	assert.False(t, devices[1].Enabled)
	assert.Empty(t, devices[1].PayloadID)
	assert.Empty(t, devices[1].TargetID)
	assert.Equal(t, 30, devices[1].SendInterval)

	err = mock.ExpectationsWereMet()
	assert.NoError(t, err)
}

func TestStore_ListDevices_Empty(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	store := New(mock)

	mock.ExpectQuery("SELECT .+ FROM devices").
		WithArgs("proj-empty").
		WillReturnRows(pgxmock.NewRows(deviceColumnNames))

	devices, err := store.ListDevices(context.Background(), "proj-empty")
	require.NoError(t, err)
	assert.NotNil(t, devices)
	assert.Empty(t, devices)

	err = mock.ExpectationsWereMet()
	assert.NoError(t, err)
}

func TestStore_CountEnabledDevices(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	store := New(mock)

	mock.ExpectQuery("SELECT count").
		WithArgs("proj-001").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(7))

	count, err := store.CountEnabledDevices(context.Background(), "proj-001")
	require.NoError(t, err)
	assert.Equal(t, 7, count)

	err = mock.ExpectationsWereMet()
	assert.NoError(t, err)
}

// ─── Payloads ────────────────────────────────────────────────────────────────

func TestStore_GetPayload_Schema(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	store := New(mock)

	schema := []domain.FieldSpec{
		{Name: "temperature", Type: domain.FieldTypeNumber},
		{Name: "unit", Type: domain.FieldTypeString},
	}
	schemaJSON, err := json.Marshal(schema)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT .+ FROM payloads").
		WithArgs("pay-001").
		WillReturnRows(
			pgxmock.NewRows([]string{"id", "name", "kind", "schema", "script"}).
				AddRow("pay-001", "Temperature Reading", "schema", schemaJSON, ""),
		)

	p, err := store.GetPayload(context.Background(), "pay-001")
	require.NoError(t, err)
	assert.Equal(t, "pay-001", p.ID)
	assert.Equal(t, domain.PayloadKindSchema, p.Kind)
	require.Len(t, p.Schema, 2)
	assert.Equal(t, "temperature", p.Schema[0].Name)
	assert.Equal(t, domain.FieldTypeNumber, p.Schema[0].Type)
	assert.Empty(t, p.Script)

	err = mock.ExpectationsWereMet()
	assert.NoError(t, err)
}

func TestStore_GetPayload_NotFound(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	store := New(mock)

	mock.ExpectQuery("SELECT .+ FROM payloads").
		WithArgs("nonexistent-id").
		WillReturnError(pgx.ErrNoRows)

	p, err := store.GetPayload(context.Background(), "nonexistent-id")
	assert.Nil(t, p)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	err = mock.ExpectationsWereMet()
	assert.NoError(t, err)
}

// ─── Targets ─────────────────────────────────────────────────────────────────

func TestStore_GetTarget_Success(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	store := New(mock)

	config := map[string]any{"url": "https://ingest.example.com/telemetry", "method": "POST"}
	configJSON, err := json.Marshal(config)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT .+ FROM targets").
		WithArgs("tgt-001").
		WillReturnRows(
			pgxmock.NewRows([]string{"id", "name", "kind", "config"}).
				AddRow("tgt-001", "Telemetry Ingest", "http", configJSON),
		)

	tgt, err := store.GetTarget(context.Background(), "tgt-001")
	require.NoError(t, err)
	assert.Equal(t, "tgt-001", tgt.ID)
	assert.Equal(t, domain.TargetKindHTTP, tgt.Kind)
	assert.Equal(t, "https://ingest.example.com/telemetry", tgt.Config["url"])
	assert.Equal(t, "POST", tgt.Config["method"])

	err = mock.ExpectationsWereMet()
	assert.NoError(t, err)
}

func TestStore_GetTarget_NotFound(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	store := New(mock)

	mock.ExpectQuery("SELECT .+ FROM targets").
		WithArgs("nonexistent-id").
		WillReturnError(pgx.ErrNoRows)

	tgt, err := store.GetTarget(context.Background(), "nonexistent-id")
	assert.Nil(t, tgt)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	err = mock.ExpectationsWereMet()
	assert.NoError(t, err)
}

// ─── Writes ──────────────────────────────────────────────────────────────────

func TestStore_CreateDevice_Success(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	store := New(mock)
	d := sampleDevice()

	metadataJSON, err := json.Marshal(d.Metadata)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO devices").
		WithArgs(
			d.ID, d.ProjectID, d.Name, d.Enabled, metadataJSON,
			d.PayloadID, d.TargetID, d.SendInterval, d.CreatedAt, d.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = store.CreateDevice(context.Background(), d)
	assert.NoError(t, err)

	err = mock.ExpectationsWereMet()
	assert.NoError(t, err)
}

func TestStore_CreateDevice_ExecError(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	store := New(mock)
	d := sampleDevice()

	metadataJSON, err := json.Marshal(d.Metadata)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO devices").
		WithArgs(
			d.ID, d.ProjectID, d.Name, d.Enabled, metadataJSON,
			d.PayloadID, d.TargetID, d.SendInterval, d.CreatedAt, d.UpdatedAt,
		).
		WillReturnError(errors.New("connection refused"))

	err = store.CreateDevice(context.Background(), d)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "insert device")

	err = mock.ExpectationsWereMet()
	assert.NoError(t, err)
}

func TestStore_CreateProject_Success(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	store := New(mock)
	now := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	p := &domain.ProjectDescriptor{
		ID: "proj-001", Name: "Factory Floor", Description: "Line 3",
		CreatedAt: now, UpdatedAt: now,
	}

	mock.ExpectExec("INSERT INTO projects").
		WithArgs(p.ID, p.Name, p.Description, p.CreatedAt, p.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = store.CreateProject(context.Background(), p)
	assert.NoError(t, err)

	err = mock.ExpectationsWereMet()
	assert.NoError(t, err)
}

func TestStore_CreateTarget_Success(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	store := New(mock)
	tgt := &domain.TargetDescriptor{
		ID:     "tgt-001",
		Name:   "Broker",
		Kind:   domain.TargetKindMQTT,
		Config: map[string]any{"host": "broker.example.com", "port": float64(1883)},
	}

	configJSON, err := json.Marshal(tgt.Config)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO targets").
		WithArgs(tgt.ID, tgt.Name, tgt.Kind, configJSON).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = store.CreateTarget(context.Background(), tgt)
	assert.NoError(t, err)

	err = mock.ExpectationsWereMet()
	assert.NoError(t, err)
}
