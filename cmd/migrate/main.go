// Command migrate applies the PostgreSQL schema with golang-migrate.
// Migrations are compiled in; -path switches to a directory on disk.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/welldanyogia/steel-scrap-yard/internal/config"
	"github.com/welldanyogia/steel-scrap-yard/internal/logger"
	"github.com/welldanyogia/steel-scrap-yard/migrations"
)

// Version is set at build time
var Version = "dev"

const defaultMigrationTimeout = 5 * time.Minute

// options holds one invocation's settings
type options struct {
	dsn     string
	path    string
	timeout time.Duration
	dryRun  bool
	yes     bool
	log     *slog.Logger
}

func main() {
	cfg := config.Load()

	var (
		path    = flag.String("path", os.Getenv("MIGRATIONS_PATH"), "Migrations directory (default: compiled-in migrations)")
		timeout = flag.Duration("timeout", defaultMigrationTimeout, "Lock and connect timeout")
		dryRun  = flag.Bool("dry-run", false, "Show what would be done without executing")
		yes     = flag.Bool("yes", false, "Confirm destructive commands (drop)")
		version = flag.Bool("version", false, "Print version and exit")
	)
	flag.Usage = usage
	flag.Parse()

	if *version {
		fmt.Printf("migrate version %s\n", Version)
		return
	}

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(2)
	}

	opts := &options{
		dsn:     cfg.Database.DSN(),
		path:    *path,
		timeout: *timeout,
		dryRun:  *dryRun,
		yes:     *yes,
		log:     logger.New(logger.Config{Level: cfg.Log.Level, Format: "text", Output: "stderr"}),
	}

	if err := run(opts, args[0], args[1:]); err != nil {
		opts.log.Error("Migration command failed", slog.String("command", args[0]), slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: %s [options] <command> [args]\n\n", os.Args[0])
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  up [N]       Apply all or N up migrations")
	fmt.Fprintln(out, "  down [N]     Roll back all or N migrations")
	fmt.Fprintln(out, "  goto V       Migrate to version V")
	fmt.Fprintln(out, "  force V      Set version V without running migrations")
	fmt.Fprintln(out, "  version      Print current migration version")
	fmt.Fprintln(out, "  drop         Drop every table (requires -yes)")
	fmt.Fprintln(out, "  create NAME  Create a new migration file pair under -path")
	fmt.Fprintln(out, "\nOptions:")
	flag.PrintDefaults()
	fmt.Fprintln(out, "\nConnection settings come from DB_HOST, DB_PORT, DB_USER, DB_PASSWORD, DB_NAME and DB_SSLMODE.")
}

// run dispatches one command
func run(opts *options, cmd string, args []string) error {
	switch cmd {
	case "create":
		if len(args) < 1 {
			return errors.New("create requires a migration name")
		}
		return createMigration(opts, args[0], time.Now())
	case "version":
		return showVersion(opts)
	case "up":
		steps, err := optionalInt(args)
		if err != nil {
			return err
		}
		return step(opts, "up", steps)
	case "down":
		steps, err := optionalInt(args)
		if err != nil {
			return err
		}
		return step(opts, "down", steps)
	case "goto":
		if len(args) < 1 {
			return errors.New("goto requires a version number")
		}
		v, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version: %s", args[0])
		}
		return migrateGoto(opts, uint(v))
	case "force":
		if len(args) < 1 {
			return errors.New("force requires a version number")
		}
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version: %s", args[0])
		}
		return migrateForce(opts, v)
	case "drop":
		return migrateDrop(opts)
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func optionalInt(args []string) (int, error) {
	if len(args) == 0 {
		return 0, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid number of steps: %s", args[0])
	}
	return n, nil
}

// createMigration writes an empty NNNNNN_name.{up,down}.sql pair
func createMigration(opts *options, name string, now time.Time) error {
	if opts.path == "" {
		return errors.New("create needs -path pointing at the migrations directory")
	}

	next, err := nextMigrationNumber(opts.path)
	if err != nil {
		return fmt.Errorf("failed to determine next migration number: %w", err)
	}

	files := map[string]string{
		filepath.Join(opts.path, fmt.Sprintf("%06d_%s.up.sql", next, name)):   "-- Migration: %s\n-- Created: %s\n",
		filepath.Join(opts.path, fmt.Sprintf("%06d_%s.down.sql", next, name)): "-- Migration: %s (rollback)\n-- Created: %s\n",
	}

	if opts.dryRun {
		for file := range files {
			opts.log.Info("[DRY RUN] Would create migration", slog.String("file", file))
		}
		return nil
	}

	if err := os.MkdirAll(opts.path, 0o755); err != nil {
		return fmt.Errorf("failed to create migrations directory: %w", err)
	}
	for file, header := range files {
		body := fmt.Sprintf(header, name, now.Format(time.RFC3339))
		if err := os.WriteFile(file, []byte(body), 0o644); err != nil {
			return fmt.Errorf("failed to create %s: %w", file, err)
		}
		opts.log.Info("Created migration", slog.String("file", file))
	}
	return nil
}

// nextMigrationNumber finds the next available migration number
func nextMigrationNumber(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 1, nil
		}
		return 0, err
	}

	highest := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var num int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &num); err == nil {
			highest = max(highest, num)
		}
	}
	return highest + 1, nil
}

func showVersion(opts *options) error {
	m, err := newMigrate(opts)
	if err != nil {
		return err
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		opts.log.Info("No migrations have been applied yet")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get version: %w", err)
	}
	opts.log.Info("Current migration version", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
	return nil
}

// step applies steps migrations in direction; 0 means all of them
func step(opts *options, direction string, steps int) error {
	if opts.dryRun {
		opts.log.Info("[DRY RUN] Would migrate", slog.String("direction", direction), slog.Int("steps", steps))
		return nil
	}

	m, err := newMigrate(opts)
	if err != nil {
		return err
	}
	defer m.Close()

	from, _, _ := m.Version()
	switch {
	case direction == "up" && steps > 0:
		err = m.Steps(steps)
	case direction == "up":
		err = m.Up()
	case steps > 0:
		err = m.Steps(-steps)
	default:
		err = m.Down()
	}
	if errors.Is(err, migrate.ErrNoChange) {
		opts.log.Info("No migrations to apply", slog.String("direction", direction))
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	to, _, _ := m.Version()
	opts.log.Info("Migration completed",
		slog.String("direction", direction),
		slog.Uint64("from", uint64(from)),
		slog.Uint64("to", uint64(to)),
	)
	return nil
}

func migrateGoto(opts *options, version uint) error {
	if opts.dryRun {
		opts.log.Info("[DRY RUN] Would migrate to version", slog.Uint64("version", uint64(version)))
		return nil
	}

	m, err := newMigrate(opts)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Migrate(version); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	opts.log.Info("Migrated to version", slog.Uint64("version", uint64(version)))
	return nil
}

func migrateForce(opts *options, version int) error {
	if opts.dryRun {
		opts.log.Info("[DRY RUN] Would force version", slog.Int("version", version))
		return nil
	}

	m, err := newMigrate(opts)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Force(version); err != nil {
		return fmt.Errorf("force failed: %w", err)
	}
	opts.log.Warn("Version forced, no migrations were run", slog.Int("version", version))
	return nil
}

func migrateDrop(opts *options) error {
	if !opts.yes {
		return errors.New("drop removes every table; rerun with -yes to confirm")
	}
	if opts.dryRun {
		opts.log.Info("[DRY RUN] Would drop all tables")
		return nil
	}

	m, err := newMigrate(opts)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Drop(); err != nil {
		return fmt.Errorf("drop failed: %w", err)
	}
	opts.log.Warn("All tables dropped")
	return nil
}

// sourceDriver picks the compiled-in migrations unless a directory is given
func sourceDriver(dir string) (string, source.Driver, error) {
	if dir == "" {
		src, err := iofs.New(migrations.FS, ".")
		return "iofs", src, err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", nil, fmt.Errorf("failed to resolve migrations path: %w", err)
	}
	src, err := source.Open("file://" + abs)
	return "file", src, err
}

// newMigrate connects to the database and opens the migration source
func newMigrate(opts *options) (*migrate.Migrate, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	db, err := sql.Open("pgx", opts.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "schema_migrations"})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	name, src, err := sourceDriver(opts.path)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open migrations: %w", err)
	}

	m, err := migrate.NewWithInstance(name, src, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.LockTimeout = opts.timeout
	return m, nil
}
