// Package testutil provides testing utilities for the StockTrace backend:
// testcontainers for PostgreSQL, sqlmock factories and lot fixtures.
package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresContainer wraps a testcontainers PostgreSQL instance
type PostgresContainer struct {
	*postgres.PostgresContainer
	DSN string
}

// PostgresContainerConfig configures the test PostgreSQL container
type PostgresContainerConfig struct {
	Database string
	Username string
	Password string
	Image    string // Optional: defaults to postgres:15-alpine
}

// DefaultPostgresConfig returns sensible defaults for test containers
func DefaultPostgresConfig() PostgresContainerConfig {
	return PostgresContainerConfig{
		Database: "stocktrace_test",
		Username: "test",
		Password: "test",
		Image:    "postgres:15-alpine",
	}
}

// NewPostgresContainer creates a new PostgreSQL test container.
func NewPostgresContainer(ctx context.Context, cfg PostgresContainerConfig) (*PostgresContainer, error) {
	if cfg.Image == "" {
		cfg.Image = "postgres:15-alpine"
	}
	if cfg.Database == "" {
		cfg.Database = "stocktrace_test"
	}
	if cfg.Username == "" {
		cfg.Username = "test"
	}
	if cfg.Password == "" {
		cfg.Password = "test"
	}

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage(cfg.Image),
		postgres.WithDatabase(cfg.Database),
		postgres.WithUsername(cfg.Username),
		postgres.WithPassword(cfg.Password),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	return &PostgresContainer{
		PostgresContainer: container,
		DSN:               dsn,
	}, nil
}

// Connect returns a sqlx.DB connection to the container
func (c *PostgresContainer) Connect(ctx context.Context) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", c.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test database: %w", err)
	}
	return db, nil
}

// Terminate stops and removes the container
func (c *PostgresContainer) Terminate(ctx context.Context) error {
	return c.PostgresContainer.Terminate(ctx)
}

// LotSchema returns the DDL for the lot service tables.
func LotSchema() string {
	return `
		CREATE TABLE IF NOT EXISTS lots (
			id TEXT PRIMARY KEY,
			display_code TEXT UNIQUE NOT NULL,
			kind TEXT NOT NULL,
			material_name TEXT NOT NULL,
			quantity DOUBLE PRECISION NOT NULL,
			gross_quantity DOUBLE PRECISION,
			current_location TEXT,
			expiry_date TIMESTAMPTZ,
			production_date TIMESTAMPTZ,
			batch_number TEXT NOT NULL DEFAULT '',
			manual_blocked BOOLEAN NOT NULL DEFAULT FALSE,
			block_reason TEXT,
			status TEXT NOT NULL,
			lab_notes TEXT[] NOT NULL DEFAULT '{}',
			documents TEXT[] NOT NULL DEFAULT '{}',
			analysis_results TEXT[] NOT NULL DEFAULT '{}',
			version INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT quantity_non_negative CHECK (quantity >= 0),
			CONSTRAINT kind_valid CHECK (kind IN ('raw_material', 'finished_good', 'packaging')),
			CONSTRAINT status_valid CHECK (status IN (
				'pending_label', 'available', 'blocked',
				'consumed_in_split', 'consumed_in_mixing', 'archived'
			))
		);

		CREATE INDEX IF NOT EXISTS idx_lots_material ON lots (material_name);
		CREATE INDEX IF NOT EXISTS idx_lots_location ON lots (current_location);
		CREATE INDEX IF NOT EXISTS idx_lots_expiry ON lots (expiry_date);

		CREATE TABLE IF NOT EXISTS lot_movements (
			id UUID PRIMARY KEY,
			lot_id TEXT NOT NULL REFERENCES lots(id),
			timestamp TIMESTAMPTZ NOT NULL,
			actor TEXT NOT NULL,
			previous_location TEXT,
			target_location TEXT NOT NULL DEFAULT '',
			action_kind TEXT NOT NULL,
			notes TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_movements_lot ON lot_movements (lot_id, timestamp);

		CREATE TABLE IF NOT EXISTS consumptions (
			id TEXT PRIMARY KEY,
			lot_id TEXT NOT NULL REFERENCES lots(id),
			amount DOUBLE PRECISION NOT NULL,
			context TEXT NOT NULL,
			actor TEXT NOT NULL,
			consumed_at TIMESTAMPTZ NOT NULL,
			is_annulled BOOLEAN NOT NULL DEFAULT FALSE,
			locked BOOLEAN NOT NULL DEFAULT FALSE,
			archived_lot BOOLEAN NOT NULL DEFAULT FALSE
		);

		CREATE INDEX IF NOT EXISTS idx_consumptions_lot ON consumptions (lot_id);

		CREATE TABLE IF NOT EXISTS inventory_sessions (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			created_by TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			locations JSONB NOT NULL,
			snapshot JSONB NOT NULL,
			resolved JSONB NOT NULL DEFAULT '[]',
			CONSTRAINT session_status_valid CHECK (status IN ('ongoing', 'completed', 'cancelled'))
		);
	`
}

// CreateLotSchema creates the lot service tables in the given database.
func (c *PostgresContainer) CreateLotSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, LotSchema()); err != nil {
		return fmt.Errorf("failed to create lot schema: %w", err)
	}
	return nil
}
