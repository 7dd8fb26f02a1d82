package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/welldanyogia/steel-scrap-yard/internal/repository"
)

// truckRepository implements TruckRepository using PostgreSQL
type truckRepository struct {
	pool *pgxpool.Pool
}

// NewTruckRepository creates a new TruckRepository instance
func NewTruckRepository(pool *pgxpool.Pool) repository.TruckRepository {
	return &truckRepository{pool: pool}
}

// Resolve inserts the truck or returns the existing row for its number.
// The no-op DO UPDATE makes RETURNING yield the stored row on conflict.
func (r *truckRepository) Resolve(ctx context.Context, truck *repository.TruckRecord) (*repository.TruckRecord, error) {
	if err := repository.Validate(truck); err != nil {
		return nil, err
	}
	createdAt := truck.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO truck_records (id, truck_number, plate_image, plate_predictions, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (truck_number) DO UPDATE SET truck_number = EXCLUDED.truck_number
		RETURNING id, truck_number, plate_image, plate_predictions, created_at
	`

	rec := &repository.TruckRecord{}
	err := r.pool.QueryRow(ctx, query,
		newID(),
		truck.TruckNumber,
		truck.PlateImage,
		truck.PlatePredictions,
		createdAt,
	).Scan(&rec.ID, &rec.TruckNumber, &rec.PlateImage, &rec.PlatePredictions, &rec.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return rec, nil
}

func (r *truckRepository) GetByNumber(ctx context.Context, truckNumber string) (*repository.TruckRecord, error) {
	query := `
		SELECT id, truck_number, plate_image, plate_predictions, created_at
		FROM truck_records WHERE truck_number = $1
	`
	rec := &repository.TruckRecord{}
	err := r.pool.QueryRow(ctx, query, truckNumber).
		Scan(&rec.ID, &rec.TruckNumber, &rec.PlateImage, &rec.PlatePredictions, &rec.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return rec, nil
}

func (r *truckRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM truck_records`).Scan(&n)
	return n, err
}

// ScrapRepository handles scrap record operations using sqlx
type ScrapRepository struct {
	db *sqlx.DB
}

// NewScrapRepository creates a new ScrapRepository
func NewScrapRepository(db *sqlx.DB) *ScrapRepository {
	return &ScrapRepository{db: db}
}

// Create inserts a scrap record
func (r *ScrapRepository) Create(ctx context.Context, scrap *repository.ScrapRecord) error {
	if err := repository.Validate(scrap); err != nil {
		return err
	}
	if scrap.ID == "" {
		scrap.ID = newID()
	}

	query := `
		INSERT INTO scrap_records (id, timestamp, scrap_image, scrap_predictions, truck_id)
		VALUES (:id, :timestamp, :scrap_image, :scrap_predictions, :truck_id)
	`
	_, err := r.db.NamedExecContext(ctx, query, scrap)
	return mapErr(err)
}

// ListByTruck returns every scrap record of one truck, newest first
func (r *ScrapRepository) ListByTruck(ctx context.Context, truckID string) ([]repository.ScrapRecord, error) {
	scraps := make([]repository.ScrapRecord, 0)
	query := `SELECT * FROM scrap_records WHERE truck_id = $1 ORDER BY timestamp DESC`
	if err := r.db.SelectContext(ctx, &scraps, query, truckID); err != nil {
		return nil, err
	}
	return scraps, nil
}

// HistoryRepository handles analysis history operations using sqlx
type HistoryRepository struct {
	db *sqlx.DB
}

// NewHistoryRepository creates a new HistoryRepository
func NewHistoryRepository(db *sqlx.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Create inserts an analysis history record
func (r *HistoryRepository) Create(ctx context.Context, record *repository.AnalysisRecord) error {
	if record.VerificationStatus == "" {
		record.VerificationStatus = repository.VerificationPending
	}
	if err := repository.Validate(record); err != nil {
		return err
	}
	if record.ID == "" {
		record.ID = newID()
	}

	query := `
		INSERT INTO analysis_history (
			id, timestamp, truck_number, truck_id, scrap_image, plate_image,
			scrap_predictions, plate_predictions, analysis_id, factory_id, owner_id,
			uploaded_by, verification_status, labourer_notes, owner_notes,
			submitted_at, verified_at, verified_by
		) VALUES (
			:id, :timestamp, :truck_number, :truck_id, :scrap_image, :plate_image,
			:scrap_predictions, :plate_predictions, :analysis_id, :factory_id, :owner_id,
			:uploaded_by, :verification_status, :labourer_notes, :owner_notes,
			:submitted_at, :verified_at, :verified_by
		)
	`
	_, err := r.db.NamedExecContext(ctx, query, record)
	return mapErr(err)
}

func historyWhere(f repository.HistoryFilter) (string, []any) {
	var conds []string
	var args []any
	if f.FactoryID != "" {
		args = append(args, f.FactoryID)
		conds = append(conds, fmt.Sprintf("factory_id = $%d", len(args)))
	}
	if f.Since != nil {
		args = append(args, *f.Since)
		conds = append(conds, fmt.Sprintf("timestamp >= $%d", len(args)))
	}
	if f.VerificationStatus != "" {
		args = append(args, f.VerificationStatus)
		conds = append(conds, fmt.Sprintf("verification_status = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List returns matching records newest first
func (r *HistoryRepository) List(ctx context.Context, filter repository.HistoryFilter) ([]repository.AnalysisRecord, error) {
	where, args := historyWhere(filter)
	query := `SELECT * FROM analysis_history` + where + ` ORDER BY timestamp DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	records := make([]repository.AnalysisRecord, 0)
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, err
	}
	return records, nil
}

// Count returns the number of matching records
func (r *HistoryRepository) Count(ctx context.Context, filter repository.HistoryFilter) (int64, error) {
	where, args := historyWhere(filter)
	var n int64
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM analysis_history`+where, args...)
	return n, err
}

// GetByAnalysisID retrieves one record by its scrap record reference
func (r *HistoryRepository) GetByAnalysisID(ctx context.Context, analysisID string) (*repository.AnalysisRecord, error) {
	var rec repository.AnalysisRecord
	err := r.db.GetContext(ctx, &rec, `SELECT * FROM analysis_history WHERE analysis_id = $1`, analysisID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Submit marks a record as submitted for owner review
func (r *HistoryRepository) Submit(ctx context.Context, analysisID string, u repository.SubmissionUpdate) (*repository.AnalysisRecord, error) {
	query := `
		UPDATE analysis_history
		SET verification_status = $2, labourer_notes = $3, submitted_at = $4
		WHERE analysis_id = $1 AND verification_status IN ($5, $6)
		RETURNING *
	`
	from := repository.SubmittableStatuses
	return r.update(ctx, query, analysisID, repository.VerificationSubmitted, u.Notes, u.SubmittedAt, from[0], from[1])
}

// Verify records the owner's decision and optional corrections
func (r *HistoryRepository) Verify(ctx context.Context, analysisID string, u repository.VerificationUpdate) (*repository.AnalysisRecord, error) {
	query := `
		UPDATE analysis_history
		SET verification_status = $2, owner_notes = $3, verified_by = $4, verified_at = $5,
			scrap_predictions = COALESCE($6, scrap_predictions),
			plate_predictions = COALESCE($7, plate_predictions)
		WHERE analysis_id = $1 AND verification_status IN ($8, $9)
		RETURNING *
	`
	from := repository.DecidableStatuses
	return r.update(ctx, query, analysisID, u.Status, u.OwnerNotes, u.VerifiedBy, u.VerifiedAt,
		nullablePredictions(u.ScrapPredictions), nullablePredictions(u.PlatePredictions), from[0], from[1])
}

// Delete removes one record
func (r *HistoryRepository) Delete(ctx context.Context, analysisID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM analysis_history WHERE analysis_id = $1`, analysisID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// update runs a conditional UPDATE whose first argument is the analysis id.
// No returned row means the record is missing or in the wrong state.
func (r *HistoryRepository) update(ctx context.Context, query string, args ...any) (*repository.AnalysisRecord, error) {
	var rec repository.AnalysisRecord
	err := r.db.GetContext(ctx, &rec, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		err = r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM analysis_history WHERE analysis_id = $1)`, args[0])
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, repository.ErrConflict
		}
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// nullablePredictions keeps the stored column when no correction is given
func nullablePredictions(p repository.Predictions) any {
	if p == nil {
		return nil
	}
	return p
}
