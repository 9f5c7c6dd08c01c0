package db

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/scribe/scribe/internal/platform/db/migrations"
)

// MigrationStatus is the applied/pending state of one embedded migration.
type MigrationStatus struct {
	Version int64
	Name    string
	Applied bool
}

// Migrator applies the embedded SQL migrations with goose.
type Migrator struct {
	db       *sql.DB
	provider *goose.Provider
}

// NewMigrator wraps pool in a database/sql handle and builds a goose
// provider over the embedded migration files.
func NewMigrator(pool *pgxpool.Pool) (*Migrator, error) {
	return newMigrator(stdlib.OpenDBFromPool(pool), migrations.FS)
}

func newMigrator(sqlDB *sql.DB, fsys fs.FS) (*Migrator, error) {
	provider, err := goose.NewProvider(goose.DialectPostgres, sqlDB, fsys)
	if err != nil {
		return nil, fmt.Errorf("create migration provider: %w", err)
	}
	return &Migrator{db: sqlDB, provider: provider}, nil
}

// Up applies all pending migrations and returns how many ran.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	results, err := m.provider.Up(ctx)
	if err != nil {
		return len(results), fmt.Errorf("apply migrations: %w", err)
	}
	return len(results), nil
}

// Status lists every known migration in version order.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	statuses, err := m.provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("migration status: %w", err)
	}
	out := make([]MigrationStatus, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, MigrationStatus{
			Version: s.Source.Version,
			Name:    s.Source.Path,
			Applied: s.State == goose.StateApplied,
		})
	}
	return out, nil
}

// Close releases the database/sql handle. The underlying pool stays open.
func (m *Migrator) Close() error {
	return m.db.Close()
}
