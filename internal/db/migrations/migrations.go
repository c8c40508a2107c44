package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Migration represents a database migration
type Migration struct {
	ID      string
	Name    string
	UpSQL   string
	DownSQL string
}

// All returns every migration in apply order
func All() []*Migration {
	return []*Migration{
		PairingSchema,
		GatewayStats,
	}
}

// Migrator manages database migrations
type Migrator struct {
	db *sql.DB
}

// New creates a new Migrator
func New(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

// Initialize creates the migrations table if it doesn't exist
func (m *Migrator) Initialize(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS migrations (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`
	_, err := m.db.ExecContext(ctx, query)
	return err
}

// GetAppliedMigrations returns the names of applied migrations
func (m *Migrator) GetAppliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT name FROM migrations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			logrus.WithError(cerr).Warn("Error closing rows")
		}
	}()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

// executeMigration runs a migration statement and its bookkeeping in one transaction
func (m *Migrator) executeMigration(ctx context.Context, migration *Migration, stmt, recordQuery string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			logrus.WithError(err).Warn("Failed to rollback transaction")
		}
	}()

	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to execute migration %s: %w", migration.Name, err)
	}

	if _, err := tx.ExecContext(ctx, recordQuery, migration.Name); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", migration.Name, err)
	}

	return tx.Commit()
}

// ApplyMigration applies a single migration
func (m *Migrator) ApplyMigration(ctx context.Context, migration *Migration) error {
	return m.executeMigration(ctx, migration, migration.UpSQL, "INSERT INTO migrations (name) VALUES ($1)")
}

// RollbackMigration rolls back a single migration
func (m *Migrator) RollbackMigration(ctx context.Context, migration *Migration) error {
	return m.executeMigration(ctx, migration, migration.DownSQL, "DELETE FROM migrations WHERE name = $1")
}

// Migrate applies all pending migrations and returns the names it applied
func (m *Migrator) Migrate(ctx context.Context, migrations []*Migration) ([]string, error) {
	if err := m.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize migrations: %w", err)
	}

	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}

	var done []string
	for _, migration := range migrations {
		if applied[migration.Name] {
			continue
		}
		if err := m.ApplyMigration(ctx, migration); err != nil {
			return done, fmt.Errorf("failed to apply migration %s: %w", migration.Name, err)
		}
		logrus.WithField("migration", migration.Name).Info("Applied migration")
		done = append(done, migration.Name)
	}

	return done, nil
}

// Rollback rolls back the most recently applied migration
func (m *Migrator) Rollback(ctx context.Context, migrations []*Migration) (string, error) {
	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get applied migrations: %w", err)
	}

	var last *Migration
	for i := len(migrations) - 1; i >= 0; i-- {
		if applied[migrations[i].Name] {
			last = migrations[i]
			break
		}
	}

	if last == nil {
		return "", fmt.Errorf("no migrations to rollback")
	}

	if err := m.RollbackMigration(ctx, last); err != nil {
		return "", fmt.Errorf("failed to rollback migration %s: %w", last.Name, err)
	}

	logrus.WithField("migration", last.Name).Info("Rolled back migration")
	return last.Name, nil
}
