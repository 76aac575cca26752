package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/syspro/erp-automation/config"
	"go.uber.org/zap"
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

	// Check if we can query
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

// InitSchema initializes the database schema. Idempotent: every
// statement is CREATE IF NOT EXISTS.
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
		-- Tenants table
		CREATE TABLE IF NOT EXISTS tenants (
			id UUID PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			slug VARCHAR(100) NOT NULL UNIQUE,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Policies table
		CREATE TABLE IF NOT EXISTS policies (
			id UUID PRIMARY KEY,
			tenant_slug VARCHAR(100) NOT NULL,
			policy_key VARCHAR(255) NOT NULL,
			name VARCHAR(255) NOT NULL,
			category VARCHAR(100) NOT NULL DEFAULT '',
			scope JSONB,
			status VARCHAR(20) NOT NULL DEFAULT 'draft',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(tenant_slug, policy_key)
		);

		-- Policy versions table
		CREATE TABLE IF NOT EXISTS policy_versions (
			id UUID PRIMARY KEY,
			policy_id UUID NOT NULL REFERENCES policies(id) ON DELETE CASCADE,
			version INTEGER NOT NULL,
			document JSONB NOT NULL,
			effective_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(policy_id, version)
		);

		-- Policy overrides table (audit trail only)
		CREATE TABLE IF NOT EXISTS policy_overrides (
			id UUID PRIMARY KEY,
			policy_id UUID NOT NULL REFERENCES policies(id) ON DELETE CASCADE,
			tenant_slug VARCHAR(100) NOT NULL,
			scope JSONB,
			reason TEXT NOT NULL,
			created_by VARCHAR(255) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Automation rules table
		CREATE TABLE IF NOT EXISTS automation_rules (
			id UUID PRIMARY KEY,
			tenant_slug VARCHAR(100) NOT NULL,
			name VARCHAR(255) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			event_type VARCHAR(100) NOT NULL,
			condition JSONB NOT NULL,
			actions JSONB NOT NULL,
			scope JSONB,
			enabled BOOLEAN NOT NULL DEFAULT true,
			simulation_only BOOLEAN NOT NULL DEFAULT false,
			version INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Automation action queue table
		CREATE TABLE IF NOT EXISTS automation_actions (
			id UUID PRIMARY KEY,
			rule_id UUID REFERENCES automation_rules(id) ON DELETE SET NULL,
			tenant_slug VARCHAR(100) NOT NULL,
			action_type VARCHAR(100) NOT NULL,
			action_payload JSONB NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'pending'
				CHECK (status IN ('pending','processing','completed','failed')),
			error TEXT,
			scheduled_for TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			attempt_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Indexes for performance
		CREATE INDEX IF NOT EXISTS idx_policies_tenant_slug ON policies(tenant_slug);
		CREATE INDEX IF NOT EXISTS idx_policies_status ON policies(status);
		CREATE INDEX IF NOT EXISTS idx_policy_versions_policy_id ON policy_versions(policy_id);
		CREATE INDEX IF NOT EXISTS idx_policy_overrides_policy_id ON policy_overrides(policy_id);
		CREATE INDEX IF NOT EXISTS idx_policy_overrides_tenant_slug ON policy_overrides(tenant_slug);

		CREATE INDEX IF NOT EXISTS idx_automation_rules_tenant_slug ON automation_rules(tenant_slug);
		CREATE INDEX IF NOT EXISTS idx_automation_rules_event_type ON automation_rules(event_type);
		CREATE INDEX IF NOT EXISTS idx_automation_actions_status ON automation_actions(status);
		CREATE INDEX IF NOT EXISTS idx_automation_actions_rule_id ON automation_actions(rule_id);
		CREATE INDEX IF NOT EXISTS idx_automation_actions_tenant_slug ON automation_actions(tenant_slug);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}

// InitAuditSchema initializes the rule-audit schema (automation_rule_audits
// only, no FK). Use for the separate audit database when DATABASE_URL_AUDIT
// is set; otherwise the table lives alongside the main schema.
func (db *DB) InitAuditSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS automation_rule_audits (
			id UUID PRIMARY KEY,
			rule_id UUID,
			tenant_slug VARCHAR(100) NOT NULL,
			trigger_event JSONB,
			matched BOOLEAN NOT NULL DEFAULT false,
			result JSONB,
			actor VARCHAR(255),
			scope JSONB,
			simulation BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_rule_audits_rule_id ON automation_rule_audits(rule_id);
		CREATE INDEX IF NOT EXISTS idx_rule_audits_tenant_slug ON automation_rule_audits(tenant_slug);
		CREATE INDEX IF NOT EXISTS idx_rule_audits_created_at ON automation_rule_audits(created_at);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	db.logger.Info("audit schema initialized successfully")
	return nil
}
