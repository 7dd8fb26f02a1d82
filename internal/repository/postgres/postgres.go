// Package postgres implements the repository interfaces on PostgreSQL.
// Prediction lists are stored as JSONB columns.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/welldanyogia/steel-scrap-yard/internal/repository"
)

// uniqueViolation is the SQLSTATE for unique constraint failures
const uniqueViolation = "23505"

// Open creates the pgx pool and the sqlx handle for one DSN
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, *sqlx.DB, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 5 * time.Minute
	poolConfig.MaxConnIdleTime = 1 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to connect sqlx: %w", err)
	}

	return pool, db, nil
}

// NewStore wires the PostgreSQL repositories into a repository.Store
func NewStore(pool *pgxpool.Pool, db *sqlx.DB) *repository.Store {
	return &repository.Store{
		Users:     NewUserRepository(pool),
		Factories: NewFactoryRepository(pool),
		Sessions:  NewSessionRepository(pool),
		Trucks:    NewTruckRepository(pool),
		Scraps:    NewScrapRepository(db),
		History:   NewHistoryRepository(db),
		Ping:      pool.Ping,
		Counts: func(ctx context.Context) (map[string]int64, error) {
			counts := make(map[string]int64, len(repository.Collections))
			for _, table := range repository.Collections {
				var n int64
				if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
					return nil, err
				}
				counts[table] = n
			}
			return counts, nil
		},
		Reset: func(ctx context.Context) error {
			_, err := pool.Exec(ctx, `TRUNCATE analysis_history, scrap_records, truck_records,
				user_sessions, factories, users`)
			return err
		},
		Close: func(context.Context) error {
			pool.Close()
			return db.Close()
		},
	}
}

func newID() string {
	return uuid.New().String()
}

// mapErr translates driver errors into repository errors
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return repository.ErrDuplicate
	}
	return err
}
