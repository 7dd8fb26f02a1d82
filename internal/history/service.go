// Package history serves the analysis read model: paged history, analytics,
// single records and the labourer/owner verification workflow.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/welldanyogia/steel-scrap-yard/internal/access"
	"github.com/welldanyogia/steel-scrap-yard/internal/logger"
	"github.com/welldanyogia/steel-scrap-yard/internal/metrics"
	"github.com/welldanyogia/steel-scrap-yard/internal/repository"
	"github.com/welldanyogia/steel-scrap-yard/internal/sanitizer"
)

// Service errors
var (
	ErrInvalidTransition = errors.New("analysis is not in a state that allows this action")
	ErrInvalidDecision   = errors.New("verification_status must be approved or rejected")
)

const maxNotesRunes = 2000

// Page is one slice of history
type Page struct {
	Records []repository.AnalysisRecord
	Total   int64
	Page    int
	Limit   int
}

// Decision is an owner's verdict on an analysis
type Decision struct {
	AnalysisID       string
	Status           string
	OwnerNotes       string
	ScrapPredictions repository.Predictions
	PlatePredictions repository.Predictions
}

// Options bound paging
type Options struct {
	DefaultLimit int
	MaxLimit     int
}

// Service reads and updates analysis history
type Service struct {
	history      repository.HistoryRepository
	cache        Cache
	sanitizer    sanitizer.TextSanitizer
	defaultLimit int
	maxLimit     int
	now          func() time.Time
	logger       *slog.Logger
}

// NewService creates a history service. A nil cache disables caching.
func NewService(history repository.HistoryRepository, cache Cache, text sanitizer.TextSanitizer, opts Options, log *slog.Logger) *Service {
	if cache == nil {
		cache = NopCache{}
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 50
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = 200
	}
	opts.DefaultLimit = min(opts.DefaultLimit, opts.MaxLimit)
	return &Service{
		history:      history,
		cache:        cache,
		sanitizer:    text,
		defaultLimit: opts.DefaultLimit,
		maxLimit:     opts.MaxLimit,
		now:          time.Now,
		logger:       logger.OrDefault(log),
	}
}

// SetClock replaces the time source
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// List returns one page of history within scope, newest first. page starts
// at 1; limit is clamped to the configured maximum.
func (s *Service) List(ctx context.Context, scope access.Scope, page, limit int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = s.defaultLimit
	}
	limit = min(limit, s.maxLimit)
	// keep the offset within what every backend accepts
	page = min(page, math.MaxInt32/limit+1)

	filter := repository.HistoryFilter{FactoryID: scope.FactoryID}
	total, err := s.history.Count(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("count history: %w", err)
	}

	filter.Limit = limit
	filter.Offset = (page - 1) * limit
	records, err := s.history.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return &Page{Records: records, Total: total, Page: page, Limit: limit}, nil
}

// Analytics summarises history within scope over r
func (s *Service) Analytics(ctx context.Context, scope access.Scope, r Range) (*Analytics, error) {
	log := logger.WithCorrelationID(ctx, s.logger)
	key := analyticsKey(scope, r)

	data, err := s.cache.Get(ctx, key)
	switch {
	case err == nil:
		var cached Analytics
		if jerr := json.Unmarshal(data, &cached); jerr == nil {
			metrics.AnalyticsCacheTotal.WithLabelValues("hit").Inc()
			return &cached, nil
		}
		metrics.AnalyticsCacheTotal.WithLabelValues("error").Inc()
	case errors.Is(err, ErrCacheMiss):
		metrics.AnalyticsCacheTotal.WithLabelValues("miss").Inc()
	default:
		metrics.AnalyticsCacheTotal.WithLabelValues("error").Inc()
		log.Warn("Analytics cache read failed", slog.String("key", key), slog.Any("error", err))
	}

	records, err := s.history.List(ctx, repository.HistoryFilter{
		FactoryID: scope.FactoryID,
		Since:     r.Since(s.now().UTC()),
	})
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	result := Aggregate(records, r)

	if data, err := json.Marshal(result); err == nil {
		if err := s.cache.Set(ctx, key, data); err != nil {
			log.Warn("Analytics cache write failed", slog.String("key", key), slog.Any("error", err))
		}
	}
	return result, nil
}

func analyticsKey(scope access.Scope, r Range) string {
	factory := scope.FactoryID
	if scope.All() {
		factory = "*"
	}
	return "analytics:" + factory + ":" + string(r)
}

// Get returns one analysis. Records outside scope are reported as missing.
func (s *Service) Get(ctx context.Context, scope access.Scope, analysisID string) (*repository.AnalysisRecord, error) {
	rec, err := s.history.GetByAnalysisID(ctx, analysisID)
	if err != nil {
		return nil, err
	}
	if !scope.Allows(rec.FactoryID) {
		return nil, repository.ErrNotFound
	}
	return rec, nil
}

// Delete removes one analysis within scope
func (s *Service) Delete(ctx context.Context, scope access.Scope, analysisID string) error {
	if _, err := s.Get(ctx, scope, analysisID); err != nil {
		return err
	}
	if err := s.history.Delete(ctx, analysisID); err != nil {
		return err
	}
	logger.WithCorrelationID(ctx, s.logger).Info("Analysis deleted", slog.String("analysis_id", analysisID))
	return nil
}

// Submit marks a pending or rejected analysis as submitted for verification
func (s *Service) Submit(ctx context.Context, scope access.Scope, analysisID, notes string) (*repository.AnalysisRecord, error) {
	rec, err := s.Get(ctx, scope, analysisID)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(repository.SubmittableStatuses, rec.VerificationStatus) {
		return nil, ErrInvalidTransition
	}
	updated, err := s.history.Submit(ctx, analysisID, repository.SubmissionUpdate{
		Notes:       s.sanitizer.Text(notes, maxNotesRunes),
		SubmittedAt: s.now().UTC(),
	})
	if errors.Is(err, repository.ErrConflict) {
		return nil, ErrInvalidTransition
	}
	return updated, err
}

// Pending lists analyses awaiting owner verification, newest first
func (s *Service) Pending(ctx context.Context, scope access.Scope) ([]repository.AnalysisRecord, error) {
	records, err := s.history.List(ctx, repository.HistoryFilter{
		FactoryID:          scope.FactoryID,
		VerificationStatus: repository.VerificationSubmitted,
		Limit:              s.maxLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	return records, nil
}

// Verify applies an owner's decision. Corrected predictions, when given,
// replace the model output on the record.
func (s *Service) Verify(ctx context.Context, scope access.Scope, verifier string, d Decision) (*repository.AnalysisRecord, error) {
	if d.Status != repository.VerificationApproved && d.Status != repository.VerificationRejected {
		return nil, ErrInvalidDecision
	}
	rec, err := s.Get(ctx, scope, d.AnalysisID)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(repository.DecidableStatuses, rec.VerificationStatus) {
		return nil, ErrInvalidTransition
	}

	updated, err := s.history.Verify(ctx, d.AnalysisID, repository.VerificationUpdate{
		Status:           d.Status,
		OwnerNotes:       s.sanitizer.Text(d.OwnerNotes, maxNotesRunes),
		VerifiedBy:       verifier,
		VerifiedAt:       s.now().UTC(),
		ScrapPredictions: d.ScrapPredictions,
		PlatePredictions: d.PlatePredictions,
	})
	if errors.Is(err, repository.ErrConflict) {
		// another decision landed between the read and the write
		return nil, ErrInvalidTransition
	}
	if err != nil {
		return nil, err
	}

	logger.WithCorrelationID(ctx, s.logger).Info("Analysis verified",
		slog.String("analysis_id", d.AnalysisID),
		slog.String("verification_status", d.Status),
		slog.String("verified_by", verifier),
	)
	return updated, nil
}
