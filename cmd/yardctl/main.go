// Command yardctl runs operator tasks against the configured database
// and image store: seeding the first admin, wiping data, printing
// collection counts, pruning expired sessions and orphaned images.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/welldanyogia/steel-scrap-yard/internal/auth"
	"github.com/welldanyogia/steel-scrap-yard/internal/config"
	"github.com/welldanyogia/steel-scrap-yard/internal/logger"
	"github.com/welldanyogia/steel-scrap-yard/internal/repository"
	"github.com/welldanyogia/steel-scrap-yard/internal/repository/backend"
	"github.com/welldanyogia/steel-scrap-yard/internal/storage"
)

var errUsage = errors.New("usage")

// app carries the collaborators every command shares
type app struct {
	store     *repository.Store
	passwords *auth.PasswordValidator
	sessions  *auth.SessionService
	blobs     storage.Store
	out       io.Writer
	log       *slog.Logger
}

func newApp(store *repository.Store, sessionTTL time.Duration, out io.Writer, log *slog.Logger) *app {
	return &app{
		store:     store,
		passwords: auth.NewPasswordValidator(),
		sessions:  auth.NewSessionService(store.Sessions, sessionTTL, log),
		out:       out,
		log:       logger.OrDefault(log),
	}
}

func main() {
	cfg := config.Load()
	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: "text", Output: "stderr"})

	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	store, _, err := backend.Open(ctx, &cfg.Database, log)
	if err != nil {
		log.Error("Database unavailable", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close(context.Background())

	a := newApp(store, cfg.Session.TTL, os.Stdout, log)
	if a.blobs, err = storage.New(&cfg.Storage); err != nil {
		log.Warn("Image store unavailable, prune-images disabled", slog.String("error", err.Error()))
	}
	if err := a.run(ctx, os.Args[1], os.Args[2:]); err != nil {
		if errors.Is(err, errUsage) || errors.Is(err, flag.ErrHelp) {
			usage(os.Stderr)
			os.Exit(2)
		}
		log.Error("Command failed", slog.String("command", os.Args[1]), slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "Usage: %s <command> [flags]\n\n", os.Args[0])
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  seed-admin -email E -password P [-name N]  create the first admin when none exists")
	fmt.Fprintln(w, "  reset -yes                                   delete every record")
	fmt.Fprintln(w, "  inspect                                      print record counts per collection")
	fmt.Fprintln(w, "  prune-sessions                               delete expired sessions")
	fmt.Fprintln(w, "  prune-images [-older-than D] [-dry-run]      delete images no analysis references")
	fmt.Fprintln(w, "\nThe database is selected with DB_DRIVER and its connection settings.")
}

// run parses the flags of one command and executes it
func (a *app) run(ctx context.Context, cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	switch cmd {
	case "seed-admin":
		email := fs.String("email", "", "admin email")
		password := fs.String("password", "", "admin password")
		name := fs.String("name", "Administrator", "display name")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return a.seedAdmin(ctx, *email, *password, *name)
	case "reset":
		yes := fs.Bool("yes", false, "confirm deletion")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return a.reset(ctx, *yes)
	case "inspect":
		return a.inspect(ctx)
	case "prune-sessions":
		return a.pruneSessions(ctx)
	case "prune-images":
		olderThan := fs.Duration("older-than", storage.DefaultOrphanCleanupConfig().AgeThreshold, "only images last written before this age")
		dryRun := fs.Bool("dry-run", false, "report orphans without deleting")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return a.pruneImages(ctx, *olderThan, *dryRun)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

// seedAdmin creates an admin unless one already exists
func (a *app) seedAdmin(ctx context.Context, email, password, name string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return fmt.Errorf("%w: -email is required", errUsage)
	}
	if perrs := a.passwords.ValidatePassword(password); len(perrs) > 0 {
		return fmt.Errorf("invalid password: %s", perrs[0].Message)
	}

	admins, err := a.store.Users.Count(ctx, repository.UserFilter{Role: repository.RoleAdmin})
	if err != nil {
		return fmt.Errorf("count admins: %w", err)
	}
	if admins > 0 {
		fmt.Fprintf(a.out, "An admin already exists (%d), nothing to do\n", admins)
		return nil
	}

	hash, err := a.passwords.HashPassword(password)
	if err != nil {
		return err
	}
	admin := &repository.User{
		Email:        email,
		PasswordHash: hash,
		Role:         repository.RoleAdmin,
		Name:         name,
		IsActive:     true,
	}
	if err := a.store.Users.Create(ctx, admin); err != nil {
		return fmt.Errorf("create admin: %w", err)
	}

	a.log.Info("Admin created", slog.String("user_id", admin.ID), slog.String("email", admin.Email))
	fmt.Fprintf(a.out, "Created admin %s (%s)\n", admin.Email, admin.ID)
	return nil
}

// reset deletes every record; indexes are recreated where the backend has them
func (a *app) reset(ctx context.Context, yes bool) error {
	if !yes {
		return errors.New("reset deletes every record; rerun with -yes to confirm")
	}
	if err := a.store.Reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	a.log.Warn("All collections reset")
	fmt.Fprintln(a.out, "All collections reset")
	return nil
}

// inspect prints counts in collection order
func (a *app) inspect(ctx context.Context) error {
	counts, err := a.store.Counts(ctx)
	if err != nil {
		return fmt.Errorf("count records: %w", err)
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COLLECTION\tRECORDS")
	for _, name := range repository.Collections {
		fmt.Fprintf(tw, "%s\t%d\n", name, counts[name])
	}
	return tw.Flush()
}

func (a *app) pruneSessions(ctx context.Context) error {
	n, err := a.sessions.PruneExpired(ctx)
	if err != nil {
		return fmt.Errorf("prune sessions: %w", err)
	}
	fmt.Fprintf(a.out, "Deleted %d expired sessions\n", n)
	return nil
}

// historyRefs is the set of image keys held by analysis records
type historyRefs map[string]bool

const historyPageSize = 500

func collectHistoryRefs(ctx context.Context, repo repository.HistoryRepository) (historyRefs, error) {
	refs := make(historyRefs)
	for offset := 0; ; offset += historyPageSize {
		page, err := repo.List(ctx, repository.HistoryFilter{Limit: historyPageSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		for _, rec := range page {
			if rec.ScrapImage != "" {
				refs[rec.ScrapImage] = true
			}
			if rec.PlateImage != "" {
				refs[rec.PlateImage] = true
			}
		}
		if len(page) < historyPageSize {
			return refs, nil
		}
	}
}

func (h historyRefs) Referenced(_ context.Context, keys []string) (map[string]bool, error) {
	out := make(map[string]bool, len(keys))
	for _, key := range keys {
		out[key] = h[key]
	}
	return out, nil
}

// pruneImages deletes stored images that no analysis record points at
func (a *app) pruneImages(ctx context.Context, olderThan time.Duration, dryRun bool) error {
	if a.blobs == nil {
		return errors.New("image store is not configured")
	}
	refs, err := collectHistoryRefs(ctx, a.store.History)
	if err != nil {
		return fmt.Errorf("collect image references: %w", err)
	}

	cfg := storage.DefaultOrphanCleanupConfig()
	cfg.AgeThreshold = olderThan
	cfg.DryRun = dryRun
	result, err := storage.NewOrphanCleanupJob(a.blobs, refs, cfg, a.log).RunNow(ctx)
	if err != nil {
		return err
	}

	verb := "Deleted"
	count := result.OrphansDeleted
	if dryRun {
		verb, count = "Would delete", result.OrphansFound
	}
	fmt.Fprintf(a.out, "Scanned %d images, %s %d orphans (%d bytes freed)\n", result.FilesScanned, verb, count, result.BytesFreed)
	for _, msg := range result.Errors {
		fmt.Fprintln(a.out, "  error:", msg)
	}
	if len(result.Errors) > 0 {
		return fmt.Errorf("%d images could not be deleted", len(result.Errors))
	}
	return nil
}
