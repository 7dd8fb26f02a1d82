// Package backend opens the repository.Store selected by configuration.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/welldanyogia/steel-scrap-yard/internal/config"
	"github.com/welldanyogia/steel-scrap-yard/internal/logger"
	"github.com/welldanyogia/steel-scrap-yard/internal/repository"
	"github.com/welldanyogia/steel-scrap-yard/internal/repository/memory"
	"github.com/welldanyogia/steel-scrap-yard/internal/repository/mongodb"
	"github.com/welldanyogia/steel-scrap-yard/internal/repository/postgres"
)

// ErrUnknownDriver is returned for a DB_DRIVER value no backend answers to
var ErrUnknownDriver = errors.New("unknown database driver")

// Open connects the configured persistence backend. The pool is returned
// only for Postgres, which exports pool statistics.
func Open(ctx context.Context, cfg *config.DatabaseConfig, log *slog.Logger) (*repository.Store, *pgxpool.Pool, error) {
	log = logger.OrDefault(log)

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "mongodb", "mongo":
		client, db, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, nil, err
		}
		log.Info("Connected to MongoDB", slog.String("database", cfg.MongoDB))
		return mongodb.NewStore(client, db), nil, nil
	case "postgres", "postgresql":
		pool, db, err := postgres.Open(ctx, cfg.DSN())
		if err != nil {
			return nil, nil, err
		}
		log.Info("Connected to PostgreSQL",
			slog.String("database", cfg.DBName),
			slog.String("host", cfg.Host),
		)
		return postgres.NewStore(pool, db), pool, nil
	case "memory":
		log.Warn("Using the in-memory store, data is lost on restart")
		return memory.New().Store(), nil, nil
	default:
		return nil, nil, fmt.Errorf("%w %q", ErrUnknownDriver, cfg.Driver)
	}
}
