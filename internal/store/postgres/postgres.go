// Package postgres implements the store contract over PostgreSQL with the
// pgvector extension. All similarity queries use cosine distance.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/mattes337/logsink/internal/config"
	"github.com/mattes337/logsink/internal/models"
	"github.com/mattes337/logsink/internal/observability"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the PostgreSQL-backed implementation of store.Store.
type Store struct {
	db     *sqlx.DB
	logger observability.Logger
}

// New opens a connection pool against the configured database and verifies
// connectivity, retrying transient failures with exponential backoff.
func New(ctx context.Context, cfg config.DatabaseConfig, logger observability.Logger) (*Store, error) {
	if logger == nil {
		logger = observability.NewLogger("store.postgres")
	}
	db, err := sqlx.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.PoolMax)
	db.SetMaxIdleConns(cfg.PoolMax / 2)
	db.SetConnMaxIdleTime(cfg.IdleTimeout)
	if err := pingWithRetry(ctx, db, logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// pingWithRetry verifies connectivity, retrying with exponential backoff for
// up to 30 seconds.
func pingWithRetry(ctx context.Context, db *sqlx.DB, logger observability.Logger) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxElapsedTime = 30 * time.Second
	return backoff.Retry(func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			logger.Warn("Database ping failed, retrying", map[string]any{"error": err.Error()})
			return err
		}
		return nil
	}, backoff.WithContext(policy, ctx))
}

// NewWithDB wraps an existing connection pool; used by tests.
func NewWithDB(db *sqlx.DB, logger observability.Logger) *Store {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &Store{db: db, logger: logger}
}

// Migrate applies all pending schema migrations.
func (s *Store) Migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := postgres.WithInstance(s.db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// translateError maps driver errors onto the service taxonomy.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %s", models.ErrConflict, pqErr.Constraint)
	}
	return err
}
