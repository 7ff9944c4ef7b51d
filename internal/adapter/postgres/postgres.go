// Package postgres implements the task, directory and ledger stores on
// PostgreSQL, plus the connection pool, migrations and queue wake backends.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver "pgx" for goose
	"github.com/pressly/goose/v3"

	"github.com/MFaiqKhan/sweepjudge/internal/config"
)

const applicationName = "sweepjudge"

//go:embed migrations/*.sql
var embedded embed.FS

// NewPool connects and pings. Sessions are tagged with application_name so
// queue listeners and SKIP LOCKED workers are identifiable in pg_stat_activity.
func NewPool(ctx context.Context, cfg config.Postgres) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pc.MaxConns = cfg.MaxConns
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	pc.HealthCheckPeriod = cfg.HealthCheck
	if _, set := pc.ConnConfig.RuntimeParams["application_name"]; !set {
		pc.ConnConfig.RuntimeParams["application_name"] = applicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// migrator opens a short-lived database/sql handle and a goose provider
// over the embedded migrations. The returned close releases both.
func migrator(dsn string) (*goose.Provider, func(), error) {
	dir, err := fs.Sub(embedded, "migrations")
	if err != nil {
		return nil, nil, err
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open migration db: %w", err)
	}
	p, err := goose.NewProvider(goose.DialectPostgres, db, dir)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("goose provider: %w", err)
	}
	return p, func() { _ = p.Close() }, nil
}

// RunMigrations applies every pending migration.
func RunMigrations(ctx context.Context, dsn string) error {
	p, done, err := migrator(dsn)
	if err != nil {
		return err
	}
	defer done()

	results, err := p.Up(ctx)
	if err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	for _, r := range results {
		slog.Info("migration applied", "version", r.Source.Version, "took", r.Duration)
	}
	return nil
}

// RollbackMigrations reverts the newest steps migrations, one at a time.
func RollbackMigrations(ctx context.Context, dsn string, steps int) error {
	p, done, err := migrator(dsn)
	if err != nil {
		return err
	}
	defer done()

	for i := range steps {
		r, err := p.Down(ctx)
		if err != nil {
			return fmt.Errorf("rollback step %d of %d: %w", i+1, steps, err)
		}
		slog.Info("migration rolled back", "version", r.Source.Version)
	}
	return nil
}

// MigrationVersion is the newest applied migration, 0 for an empty schema.
func MigrationVersion(ctx context.Context, dsn string) (int64, error) {
	p, done, err := migrator(dsn)
	if err != nil {
		return 0, err
	}
	defer done()
	return p.GetDBVersion(ctx)
}
