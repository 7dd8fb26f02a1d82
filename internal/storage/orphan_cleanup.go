package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/welldanyogia/steel-scrap-yard/internal/logger"
)

// Object describes one stored blob
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Lister is implemented by stores that can enumerate their objects
type Lister interface {
	List(ctx context.Context, fn func(Object) error) error
}

// batchDeleter is implemented by stores that delete many keys in one call
type batchDeleter interface {
	DeleteBatch(ctx context.Context, keys []string) (map[string]error, error)
}

// ReferenceChecker reports which keys are still referenced by records
type ReferenceChecker interface {
	Referenced(ctx context.Context, keys []string) (map[string]bool, error)
}

// ErrNotListable is returned when the store cannot enumerate its objects
var ErrNotListable = errors.New("store cannot list objects")

// OrphanCleanupConfig holds sweep settings
type OrphanCleanupConfig struct {
	// AgeThreshold protects blobs written by uploads still in flight
	AgeThreshold time.Duration // default 7 days
	BatchSize    int           // default 1000
	DryRun       bool
}

// DefaultOrphanCleanupConfig returns default configuration
func DefaultOrphanCleanupConfig() OrphanCleanupConfig {
	return OrphanCleanupConfig{
		AgeThreshold: 7 * 24 * time.Hour,
		BatchSize:    1000,
	}
}

// CleanupResult holds the result of a sweep
type CleanupResult struct {
	StartTime      time.Time
	EndTime        time.Time
	FilesScanned   int
	OrphansFound   int
	OrphansDeleted int
	BytesFreed     int64
	Errors         []string
}

// OrphanCleanupJob deletes images no analysis record points at
type OrphanCleanupJob struct {
	store  Store
	refs   ReferenceChecker
	config OrphanCleanupConfig
	now    func() time.Time
	logger *slog.Logger
}

// NewOrphanCleanupJob creates a sweep over store. The store must implement Lister.
func NewOrphanCleanupJob(store Store, refs ReferenceChecker, config OrphanCleanupConfig, log *slog.Logger) *OrphanCleanupJob {
	if config.BatchSize <= 0 {
		config.BatchSize = 1000
	}
	if config.AgeThreshold < 0 {
		config.AgeThreshold = 0
	}
	return &OrphanCleanupJob{
		store:  store,
		refs:   refs,
		config: config,
		now:    time.Now,
		logger: logger.OrDefault(log),
	}
}

// SetClock replaces the time source
func (j *OrphanCleanupJob) SetClock(now func() time.Time) {
	j.now = now
}

// RunNow performs one sweep
func (j *OrphanCleanupJob) RunNow(ctx context.Context) (*CleanupResult, error) {
	lister, ok := j.store.(Lister)
	if !ok {
		return nil, ErrNotListable
	}

	result := &CleanupResult{StartTime: j.now()}
	cutoff := result.StartTime.Add(-j.config.AgeThreshold)

	var orphans []Object
	batch := make([]Object, 0, j.config.BatchSize)
	flush := func() error {
		found, err := j.checkBatchForOrphans(ctx, batch)
		if err != nil {
			return err
		}
		orphans = append(orphans, found...)
		batch = batch[:0]
		return nil
	}

	err := lister.List(ctx, func(obj Object) error {
		result.FilesScanned++
		if obj.LastModified.After(cutoff) {
			return nil
		}
		batch = append(batch, obj)
		if len(batch) >= j.config.BatchSize {
			return flush()
		}
		return nil
	})
	if err == nil && len(batch) > 0 {
		err = flush()
	}
	if err != nil {
		return nil, fmt.Errorf("find orphans: %w", err)
	}

	result.OrphansFound = len(orphans)
	if !j.config.DryRun && len(orphans) > 0 {
		j.deleteOrphans(ctx, orphans, result)
	}
	result.EndTime = j.now()

	j.logger.Info("Orphan cleanup completed",
		slog.Int("scanned", result.FilesScanned),
		slog.Int("found", result.OrphansFound),
		slog.Int("deleted", result.OrphansDeleted),
		slog.Int64("bytes_freed", result.BytesFreed),
		slog.Int("errors", len(result.Errors)),
		slog.Bool("dry_run", j.config.DryRun),
		slog.Duration("duration", result.EndTime.Sub(result.StartTime)),
	)
	return result, nil
}

// checkBatchForOrphans keeps the objects no record references
func (j *OrphanCleanupJob) checkBatchForOrphans(ctx context.Context, files []Object) ([]Object, error) {
	if len(files) == 0 {
		return nil, nil
	}

	keys := make([]string, len(files))
	for i, f := range files {
		keys[i] = f.Key
	}

	referenced, err := j.refs.Referenced(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to check references: %w", err)
	}

	var orphans []Object
	for _, f := range files {
		if !referenced[f.Key] {
			orphans = append(orphans, f)
		}
	}
	return orphans, nil
}

// deleteOrphans removes orphans in batches, recording failures per key
func (j *OrphanCleanupJob) deleteOrphans(ctx context.Context, orphans []Object, result *CleanupResult) {
	for i := 0; i < len(orphans); i += j.config.BatchSize {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, "context cancelled during deletion")
			return
		}

		batch := orphans[i:min(i+j.config.BatchSize, len(orphans))]
		failed, err := j.deleteBatch(ctx, batch)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to delete batch at index %d: %v", i, err))
			continue
		}
		for _, f := range batch {
			if ferr, ok := failed[f.Key]; ok {
				result.Errors = append(result.Errors, fmt.Sprintf("failed to delete %s: %v", f.Key, ferr))
				continue
			}
			result.OrphansDeleted++
			result.BytesFreed += f.Size
		}
	}
}

func (j *OrphanCleanupJob) deleteBatch(ctx context.Context, batch []Object) (map[string]error, error) {
	keys := make([]string, len(batch))
	for i, f := range batch {
		keys[i] = f.Key
	}
	if bd, ok := j.store.(batchDeleter); ok {
		return bd.DeleteBatch(ctx, keys)
	}

	failed := make(map[string]error)
	for _, key := range keys {
		if err := j.store.Delete(ctx, key); err != nil {
			failed[key] = err
		}
	}
	return failed, nil
}
