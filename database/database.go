// Package database connects the configured metadata backend and hands back
// the catalog and session repositories built on it.
package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arkivehq/arkive"
	"github.com/arkivehq/arkive/database/postgres"
	"github.com/arkivehq/arkive/database/sqlite"

	_ "modernc.org/sqlite" // SQLite driver
)

// Config holds the configuration for connecting to a metadata backend.
type Config struct {
	// Type specifies the database type: "sqlite" or "postgres"
	Type string
	// DSN is the data source name (connection string)
	DSN string
}

// Repos bundles the repositories served by one backend connection.
type Repos struct {
	Catalog  arkive.Catalog
	Sessions arkive.SessionRepo
}

// Connect establishes a connection to the configured database backend, runs
// migrations, and returns the repositories. The returned cleanup function
// should be called to close the connection.
func Connect(ctx context.Context, cfg Config) (Repos, func(), error) {
	switch cfg.Type {
	case "sqlite":
		return connectSQLite(ctx, cfg.DSN)
	case "postgres":
		return connectPostgres(ctx, cfg.DSN)
	default:
		return Repos{}, nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}

func connectSQLite(ctx context.Context, dsn string) (Repos, func(), error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return Repos{}, nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return Repos{}, nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err = sqlite.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return Repos{}, nil, fmt.Errorf("migrate sqlite: %w", err)
	}

	catalog, err := sqlite.NewCatalog(db)
	if err != nil {
		_ = db.Close()
		return Repos{}, nil, fmt.Errorf("create sqlite catalog: %w", err)
	}

	sessions, err := sqlite.NewSessions(db)
	if err != nil {
		_ = db.Close()
		return Repos{}, nil, fmt.Errorf("create sqlite sessions: %w", err)
	}

	cleanup := func() {
		_ = db.Close()
	}

	return Repos{Catalog: catalog, Sessions: sessions}, cleanup, nil
}

func connectPostgres(ctx context.Context, dsn string) (Repos, func(), error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return Repos{}, nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return Repos{}, nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err = postgres.Migrate(ctx, pool); err != nil {
		pool.Close()
		return Repos{}, nil, fmt.Errorf("migrate postgres: %w", err)
	}

	catalog, err := postgres.NewCatalog(pool)
	if err != nil {
		pool.Close()
		return Repos{}, nil, fmt.Errorf("create postgres catalog: %w", err)
	}

	sessions, err := postgres.NewSessions(pool)
	if err != nil {
		pool.Close()
		return Repos{}, nil, fmt.Errorf("create postgres sessions: %w", err)
	}

	return Repos{Catalog: catalog, Sessions: sessions}, pool.Close, nil
}
