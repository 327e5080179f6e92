// Package main implements a standalone seed script that populates the
// simulator's descriptor store with a ready-to-run demo fleet: one
// project, two devices, a schema payload, a CEL script payload, and an
// HTTP and an MQTT target. It writes through the same repository layer
// the server reads from, so the backend is selected with the usual
// STORE_BACKEND / SIGSIM_* environment variables.
//
// The script is idempotent: descriptors that already exist are left
// untouched, so it is safe to run against a populated store.
package main

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joluben/sigsim/internal/config"
	"github.com/joluben/sigsim/internal/domain"
	"github.com/joluben/sigsim/internal/repository"
	pgstore "github.com/joluben/sigsim/internal/repository/postgres"
	redisstore "github.com/joluben/sigsim/internal/repository/redis"
	"github.com/joluben/sigsim/pkg/database"
	apperrors "github.com/joluben/sigsim/pkg/errors"
)

// store is the combined read/write surface the seeder needs: reads to
// detect descriptors that already exist, writes to create the rest.
type store interface {
	repository.Store
	repository.Writer
}

// schema is the descriptor layout the postgres store reads. The seeder
// owns schema creation: the server never writes and assumes the tables
// exist.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS projects (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS payloads (
		id     TEXT PRIMARY KEY,
		name   TEXT NOT NULL,
		kind   TEXT NOT NULL,
		schema JSONB NOT NULL DEFAULT '[]',
		script TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS targets (
		id     TEXT PRIMARY KEY,
		name   TEXT NOT NULL,
		kind   TEXT NOT NULL,
		config JSONB NOT NULL DEFAULT '{}'
	)`,
	`CREATE TABLE IF NOT EXISTS devices (
		id            TEXT PRIMARY KEY,
		project_id    TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		name          TEXT NOT NULL,
		enabled       BOOLEAN NOT NULL DEFAULT true,
		metadata      JSONB NOT NULL DEFAULT '{}',
		payload_id    TEXT REFERENCES payloads(id),
		target_id     TEXT REFERENCES targets(id),
		send_interval INTEGER NOT NULL DEFAULT 10,
		created_at    TIMESTAMPTZ NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_devices_project ON devices (project_id)`,
}

func ensureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

// --------------------------------------------------------------------------
// Idempotent create helpers
// --------------------------------------------------------------------------

func ensureProject(ctx context.Context, st store, p *domain.ProjectDescriptor) error {
	if _, err := st.GetProject(ctx, p.ID); err == nil {
		log.Printf("  Project %q already present, skipping", p.ID)
		return nil
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return err
	}
	if err := st.CreateProject(ctx, p); err != nil {
		return err
	}
	log.Printf("  Project: %s (id=%s)", p.Name, p.ID)
	return nil
}

func ensurePayload(ctx context.Context, st store, p *domain.PayloadDescriptor) error {
	if _, err := st.GetPayload(ctx, p.ID); err == nil {
		log.Printf("  Payload %q already present, skipping", p.ID)
		return nil
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return err
	}
	if err := st.CreatePayload(ctx, p); err != nil {
		return err
	}
	log.Printf("  Payload: %s (id=%s, kind=%s)", p.Name, p.ID, p.Kind)
	return nil
}

func ensureTarget(ctx context.Context, st store, t *domain.TargetDescriptor) error {
	if _, err := st.GetTarget(ctx, t.ID); err == nil {
		log.Printf("  Target %q already present, skipping", t.ID)
		return nil
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return err
	}
	if err := st.CreateTarget(ctx, t); err != nil {
		return err
	}
	log.Printf("  Target: %s (id=%s, kind=%s)", t.Name, t.ID, t.Kind)
	return nil
}

func ensureDevice(ctx context.Context, st store, d *domain.DeviceDescriptor) error {
	if _, err := st.GetDevice(ctx, d.ID); err == nil {
		log.Printf("  Device %q already present, skipping", d.ID)
		return nil
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return err
	}
	if err := st.CreateDevice(ctx, d); err != nil {
		return err
	}
	log.Printf("  Device: %s (id=%s, interval=%ds)", d.Name, d.ID, d.SendInterval)
	return nil
}

// --------------------------------------------------------------------------
// main
// --------------------------------------------------------------------------

func main() {
	log.SetFlags(log.Ltime | log.Lmsgprefix)
	log.SetPrefix("[seed] ")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	// ---------------------------------------------------------------
	// 1. Connect to the descriptor store
	// ---------------------------------------------------------------
	var st store
	switch cfg.StoreBackend {
	case config.StorePostgres:
		log.Println("Connecting to PostgreSQL...")
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN())
		if err != nil {
			log.Fatalf("connect to database: %v", err)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			log.Fatalf("ping database: %v", err)
		}
		log.Println("Connected to PostgreSQL.")

		log.Println("Ensuring descriptor tables...")
		if err := ensureSchema(ctx, pool); err != nil {
			log.Fatalf("create schema: %v", err)
		}
		st = pgstore.New(pool)

	case config.StoreRedis:
		log.Println("Connecting to Redis...")
		client, err := database.NewRedisClient(ctx, database.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			log.Fatalf("connect to redis: %v", err)
		}
		defer client.Close()
		log.Println("Connected to Redis.")
		st = redisstore.New(client)

	default:
		// The in-memory store lives inside the server process; nothing
		// written here would be visible to it.
		log.Fatalf("STORE_BACKEND=%s cannot be seeded from a separate process; use postgres or redis", cfg.StoreBackend)
	}

	now := time.Now().UTC()

	// ---------------------------------------------------------------
	// 2. Demo project
	// ---------------------------------------------------------------
	log.Println("Seeding project...")
	if err := ensureProject(ctx, st, &domain.ProjectDescriptor{
		ID:          "demo-project",
		Name:        "Demo Fleet",
		Description: "Two warehouse sensors publishing telemetry over HTTP and MQTT",
		CreatedAt:   now,
		UpdatedAt:   now,
	}); err != nil {
		log.Fatalf("seed project: %v", err)
	}

	// ---------------------------------------------------------------
	// 3. Payloads: one field-schema, one CEL script
	// ---------------------------------------------------------------
	log.Println("Seeding payloads...")
	if err := ensurePayload(ctx, st, &domain.PayloadDescriptor{
		ID:   "demo-payload-telemetry",
		Name: "Warehouse telemetry",
		Kind: domain.PayloadKindSchema,
		Schema: []domain.FieldSpec{
			{Name: "reading_id", Type: domain.FieldTypeUUID},
			{Name: "recorded_at", Type: domain.FieldTypeTimestamp},
			{Name: "temperature", Type: domain.FieldTypeNumber, Generator: &domain.GeneratorSpec{
				Type: domain.GeneratorRandomFloat, Min: floatPtr(18), Max: floatPtr(28), Decimals: intPtr(1),
			}},
			{Name: "humidity", Type: domain.FieldTypeNumber, Generator: &domain.GeneratorSpec{
				Type: domain.GeneratorRandomInt, Min: floatPtr(30), Max: floatPtr(70),
			}},
			{Name: "status", Type: domain.FieldTypeString, Generator: &domain.GeneratorSpec{
				Type: domain.GeneratorRandomChoice, Choices: []any{"ok", "warning", "critical"},
			}},
			{Name: "door_open", Type: domain.FieldTypeBoolean, Generator: &domain.GeneratorSpec{
				Type: domain.GeneratorRandomBool,
			}},
			{Name: "firmware", Type: domain.FieldTypeString, Generator: &domain.GeneratorSpec{
				Type: domain.GeneratorFixed, Value: "2.4.1",
			}},
		},
	}); err != nil {
		log.Fatalf("seed telemetry payload: %v", err)
	}

	if err := ensurePayload(ctx, st, &domain.PayloadDescriptor{
		ID:   "demo-payload-script",
		Name: "Scripted battery report",
		Kind: domain.PayloadKindScript,
		Script: `{
			"serial": device_metadata.serial,
			"battery_pct": random_int(20, 100),
			"temperature": random_float(18.0, 28.0),
			"reported_at": now()
		}`,
	}); err != nil {
		log.Fatalf("seed script payload: %v", err)
	}

	// ---------------------------------------------------------------
	// 4. Targets: HTTP ingest endpoint and MQTT broker
	// ---------------------------------------------------------------
	log.Println("Seeding targets...")
	if err := ensureTarget(ctx, st, &domain.TargetDescriptor{
		ID:   "demo-target-http",
		Name: "Local HTTP ingest",
		Kind: domain.TargetKindHTTP,
		Config: map[string]any{
			"url":     "http://localhost:9090/ingest",
			"method":  "POST",
			"timeout": 10,
		},
	}); err != nil {
		log.Fatalf("seed http target: %v", err)
	}

	if err := ensureTarget(ctx, st, &domain.TargetDescriptor{
		ID:   "demo-target-mqtt",
		Name: "Local MQTT broker",
		Kind: domain.TargetKindMQTT,
		Config: map[string]any{
			"host":  "localhost",
			"port":  1883,
			"topic": "sigsim/demo/telemetry",
			"qos":   1,
		},
	}); err != nil {
		log.Fatalf("seed mqtt target: %v", err)
	}

	// ---------------------------------------------------------------
	// 5. Devices
	// ---------------------------------------------------------------
	log.Println("Seeding devices...")
	if err := ensureDevice(ctx, st, &domain.DeviceDescriptor{
		ID:        "demo-device-001",
		ProjectID: "demo-project",
		Name:      "Warehouse Sensor A",
		Enabled:   true,
		Metadata: map[string]any{
			"serial":   "WS-A-0001",
			"building": "north",
		},
		PayloadID:    "demo-payload-telemetry",
		TargetID:     "demo-target-http",
		SendInterval: 10,
		CreatedAt:    now,
		UpdatedAt:    now,
	}); err != nil {
		log.Fatalf("seed device: %v", err)
	}

	if err := ensureDevice(ctx, st, &domain.DeviceDescriptor{
		ID:        "demo-device-002",
		ProjectID: "demo-project",
		Name:      "Warehouse Sensor B",
		Enabled:   true,
		Metadata: map[string]any{
			"serial":   "WS-B-0002",
			"building": "south",
		},
		PayloadID:    "demo-payload-script",
		TargetID:     "demo-target-mqtt",
		SendInterval: 15,
		CreatedAt:    now,
		UpdatedAt:    now,
	}); err != nil {
		log.Fatalf("seed device: %v", err)
	}

	log.Println("Seed complete. Start the fleet with:")
	log.Printf("  curl -X POST http://localhost:%d/api/v1/simulation/demo-project/start", cfg.HTTPPort)
}
