package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"

	"github.com/callsight/rag-control-plane/config"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	dsn := cfg.DSN()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return &DB{
		DB:     db,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// Stats returns database connection pool statistics
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// InitSchema initializes the database schema
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
		-- Organizations table (scope chain via parent_id)
		CREATE TABLE IF NOT EXISTS organizations (
			id UUID PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			slug VARCHAR(100) NOT NULL UNIQUE,
			parent_id UUID REFERENCES organizations(id),
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Feature toggles: at most one active toggle per (org, feature)
		CREATE TABLE IF NOT EXISTS feature_toggles (
			id UUID PRIMARY KEY,
			org_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
			feature VARCHAR(100) NOT NULL,
			enabled BOOLEAN NOT NULL,
			locked BOOLEAN NOT NULL DEFAULT false,
			updated_by VARCHAR(255) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(org_id, feature)
		);

		-- Quotas: the CHECK constraints back the conditional consume update
		CREATE TABLE IF NOT EXISTS quotas (
			id UUID PRIMARY KEY,
			org_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
			feature VARCHAR(100) NOT NULL,
			max_limit INTEGER NOT NULL CHECK (max_limit >= 0),
			used INTEGER NOT NULL DEFAULT 0 CHECK (used >= 0),
			period_start TIMESTAMP NOT NULL,
			period_length_seconds BIGINT NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(org_id, feature),
			CHECK (used <= max_limit)
		);

		-- Context items (soft status changes only, never hard-deleted)
		CREATE TABLE IF NOT EXISTS context_items (
			id UUID PRIMARY KEY,
			org_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
			feature VARCHAR(100) NOT NULL,
			status VARCHAR(20) NOT NULL,
			priority INTEGER NOT NULL DEFAULT 0,
			confidence_score DOUBLE PRECISION NOT NULL CHECK (confidence_score >= 0 AND confidence_score <= 1),
			content TEXT NOT NULL,
			created_by VARCHAR(255) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Sharing requests (cross-aggregate workflow edge)
		CREATE TABLE IF NOT EXISTS sharing_requests (
			id UUID PRIMARY KEY,
			source_org_id UUID NOT NULL REFERENCES organizations(id),
			target_org_id UUID NOT NULL REFERENCES organizations(id),
			feature VARCHAR(100) NOT NULL,
			item_ids TEXT[] NOT NULL DEFAULT '{}',
			status VARCHAR(20) NOT NULL,
			requested_by VARCHAR(255) NOT NULL,
			decided_by VARCHAR(255),
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Audit entries (append-only)
		CREATE TABLE IF NOT EXISTS audit_entries (
			id UUID PRIMARY KEY,
			org_id UUID NOT NULL,
			actor VARCHAR(255) NOT NULL,
			action VARCHAR(100) NOT NULL,
			resource_type VARCHAR(100) NOT NULL,
			resource_id UUID,
			decision VARCHAR(10),
			reason TEXT,
			details JSONB,
			timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Indexes for performance
		CREATE INDEX IF NOT EXISTS idx_organizations_parent_id ON organizations(parent_id);

		CREATE INDEX IF NOT EXISTS idx_feature_toggles_org_id ON feature_toggles(org_id);
		CREATE INDEX IF NOT EXISTS idx_feature_toggles_feature ON feature_toggles(feature);

		CREATE INDEX IF NOT EXISTS idx_quotas_org_id ON quotas(org_id);

		CREATE INDEX IF NOT EXISTS idx_context_items_org_id ON context_items(org_id);
		CREATE INDEX IF NOT EXISTS idx_context_items_feature ON context_items(org_id, feature);
		CREATE INDEX IF NOT EXISTS idx_context_items_status ON context_items(status);

		CREATE INDEX IF NOT EXISTS idx_sharing_requests_source ON sharing_requests(source_org_id);
		CREATE INDEX IF NOT EXISTS idx_sharing_requests_target ON sharing_requests(target_org_id, feature, status);

		CREATE INDEX IF NOT EXISTS idx_audit_entries_org_id ON audit_entries(org_id);
		CREATE INDEX IF NOT EXISTS idx_audit_entries_action ON audit_entries(action);
		CREATE INDEX IF NOT EXISTS idx_audit_entries_timestamp ON audit_entries(timestamp);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}

// InitAuditSchema initializes the audit database schema (audit_entries only,
// no FK). Use for the separate audit database when DATABASE_URL_AUDIT is set.
func (db *DB) InitAuditSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS audit_entries (
			id UUID PRIMARY KEY,
			org_id UUID NOT NULL,
			actor VARCHAR(255) NOT NULL,
			action VARCHAR(100) NOT NULL,
			resource_type VARCHAR(100) NOT NULL,
			resource_id UUID,
			decision VARCHAR(10),
			reason TEXT,
			details JSONB,
			timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_audit_entries_org_id ON audit_entries(org_id);
		CREATE INDEX IF NOT EXISTS idx_audit_entries_action ON audit_entries(action);
		CREATE INDEX IF NOT EXISTS idx_audit_entries_timestamp ON audit_entries(timestamp);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	db.logger.Info("audit schema initialized successfully")
	return nil
}
