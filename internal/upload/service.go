// Package upload runs the truck intake pipeline: store both photos, classify
// the scrap, read the plate, resolve the truck and record the analysis.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/welldanyogia/steel-scrap-yard/internal/inference"
	"github.com/welldanyogia/steel-scrap-yard/internal/logger"
	"github.com/welldanyogia/steel-scrap-yard/internal/metrics"
	"github.com/welldanyogia/steel-scrap-yard/internal/notify"
	"github.com/welldanyogia/steel-scrap-yard/internal/plate"
	"github.com/welldanyogia/steel-scrap-yard/internal/repository"
	"github.com/welldanyogia/steel-scrap-yard/internal/storage"
)

// Status tags the outcome of an upload
type Status string

const (
	// StatusSuccess means every step worked
	StatusSuccess Status = "success"
	// StatusDegraded means at least one step fell back; see Outcome.Warnings
	StatusDegraded Status = "degraded"
)

// factory ids the dashboards send when no factory is selected
var sentinelFactoryIDs = map[string]bool{
	"":                true,
	"default":         true,
	"default_factory": true,
	"null":            true,
	"undefined":       true,
}

// IsSentinelFactory reports whether id means "no factory"
func IsSentinelFactory(id string) bool {
	return sentinelFactoryIDs[strings.ToLower(strings.TrimSpace(id))]
}

// Image is one uploaded photo
type Image struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Request is one upload
type Request struct {
	ScrapImage Image
	PlateImage Image
	FactoryID  string
	OwnerID    string
	UploadedBy string
}

// Outcome reports what the pipeline did
type Outcome struct {
	Status           Status
	PlateNumber      string
	ScrapPredictions repository.Predictions
	PlatePredictions repository.Predictions
	ScrapImage       string
	PlateImage       string
	TruckID          string
	AnalysisID       string
	HistoryRecorded  bool
	Timestamp        time.Time
	Warnings         []string
}

func (o *Outcome) warn(format string, args ...any) {
	o.Warnings = append(o.Warnings, fmt.Sprintf(format, args...))
}

// Inferrer runs a detection model on an image
type Inferrer interface {
	Infer(ctx context.Context, image []byte, filename string, model inference.ModelRef) inference.Result
}

// PlateReader reads plate text from an image given plate detections
type PlateReader interface {
	Extract(ctx context.Context, preds repository.Predictions, image []byte) string
}

// Notifier announces processed uploads
type Notifier interface {
	Notify(ctx context.Context, u notify.Upload) error
}

// Deps are the collaborators of the pipeline. Notifier may be nil.
type Deps struct {
	Blobs      storage.Store
	Inferrer   Inferrer
	Plates     PlateReader
	Notifier   Notifier
	Trucks     repository.TruckRepository
	Scraps     repository.ScrapRepository
	History    repository.HistoryRepository
	Factories  repository.FactoryRepository
	Users      repository.UserRepository
	ScrapModel inference.ModelRef
	PlateModel inference.ModelRef
	Logger     *slog.Logger
}

// Service runs the upload pipeline
type Service struct {
	deps   Deps
	now    func() time.Time
	logger *slog.Logger
}

// NewService creates a pipeline over deps
func NewService(deps Deps) *Service {
	return &Service{deps: deps, now: time.Now, logger: logger.OrDefault(deps.Logger)}
}

// SetClock replaces the time source
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Process runs every step in order. Step failures are recorded as warnings
// and never abort the pipeline.
func (s *Service) Process(ctx context.Context, req Request) *Outcome {
	log := s.logger.With(slog.String("correlation_id", logger.GetCorrelationID(ctx)))
	out := &Outcome{
		Timestamp:        s.now().UTC(),
		ScrapPredictions: repository.Predictions{},
		PlatePredictions: repository.Predictions{},
	}

	scrapKey := s.store(ctx, out, "truck", req.ScrapImage)
	plateKey := s.store(ctx, out, "plate", req.PlateImage)
	out.ScrapImage, out.PlateImage = scrapKey, plateKey

	scrap := s.deps.Inferrer.Infer(ctx, req.ScrapImage.Data, scrapKey, s.deps.ScrapModel)
	if scrap.Predictions != nil {
		out.ScrapPredictions = scrap.Predictions
	}
	if !scrap.OK() {
		out.warn("scrap classification unavailable: %s", scrap.Reason)
	}

	plates := s.deps.Inferrer.Infer(ctx, req.PlateImage.Data, plateKey, s.deps.PlateModel)
	if plates.Predictions != nil {
		out.PlatePredictions = plates.Predictions
	}
	if !plates.OK() {
		out.warn("plate detection unavailable: %s", plates.Reason)
	}

	out.PlateNumber = s.deps.Plates.Extract(ctx, out.PlatePredictions, req.PlateImage.Data)
	if out.PlateNumber == "" {
		out.PlateNumber = plate.NotDetected
	}
	if out.PlateNumber == plate.NotDetected {
		out.warn("plate number not detected")
	}

	truck, err := s.deps.Trucks.Resolve(ctx, &repository.TruckRecord{
		TruckNumber:      out.PlateNumber,
		PlateImage:       plateKey,
		PlatePredictions: out.PlatePredictions,
		CreatedAt:        out.Timestamp,
	})
	if err != nil {
		log.Error("Failed to resolve truck", slog.String("truck_number", out.PlateNumber), slog.Any("error", err))
		out.warn("truck record not saved")
	} else {
		out.TruckID = truck.ID
	}

	var scrapRecord *repository.ScrapRecord
	if out.TruckID != "" {
		scrapRecord = &repository.ScrapRecord{
			Timestamp:        out.Timestamp,
			ScrapImage:       scrapKey,
			ScrapPredictions: out.ScrapPredictions,
			TruckID:          out.TruckID,
		}
		if err := s.deps.Scraps.Create(ctx, scrapRecord); err != nil {
			log.Error("Failed to save scrap record", slog.String("truck_id", out.TruckID), slog.Any("error", err))
			out.warn("scrap record not saved")
			scrapRecord = nil
		} else {
			out.AnalysisID = scrapRecord.ID
		}
	}

	ownerID := strings.TrimSpace(req.OwnerID)
	switch {
	case IsSentinelFactory(req.FactoryID):
		log.Warn("No factory_id on upload, history record skipped", slog.String("truck_number", out.PlateNumber))
	case scrapRecord == nil:
		out.warn("analysis history not saved")
	default:
		ownerID = s.recordHistory(ctx, log, out, req, ownerID)
	}

	s.notify(ctx, log, out, req, ownerID)

	out.Status = StatusSuccess
	if len(out.Warnings) > 0 {
		out.Status = StatusDegraded
	}
	metrics.UploadsTotal.WithLabelValues(string(out.Status)).Inc()

	log.Info("Upload processed",
		slog.String("status", string(out.Status)),
		slog.String("plate_number", out.PlateNumber),
		slog.String("truck_id", out.TruckID),
		slog.String("analysis_id", out.AnalysisID),
		slog.Int("warnings", len(out.Warnings)),
	)
	return out
}

// store writes img and returns its key. The key is the client filename
// reduced to its base name; same-named uploads overwrite each other.
func (s *Service) store(ctx context.Context, out *Outcome, kind string, img Image) string {
	key, err := storage.CleanKey(img.Filename)
	if err != nil {
		key = kind + "-" + uuid.NewString() + path.Ext(img.Filename)
	}
	if err := s.deps.Blobs.Put(ctx, key, img.Data, img.ContentType); err != nil {
		s.logger.Error("Failed to store image",
			slog.String("key", key),
			slog.Any("error", err),
			slog.String("correlation_id", logger.GetCorrelationID(ctx)),
		)
		out.warn("%s image not stored", kind)
	}
	return key
}

// recordHistory writes the analysis record and returns the effective owner
func (s *Service) recordHistory(ctx context.Context, log *slog.Logger, out *Outcome, req Request, ownerID string) string {
	factoryID := strings.TrimSpace(req.FactoryID)
	if ownerID == "" {
		factory, err := s.deps.Factories.GetByID(ctx, factoryID)
		switch {
		case err == nil:
			ownerID = factory.OwnerID
		case errors.Is(err, repository.ErrNotFound):
			log.Warn("Upload references unknown factory", slog.String("factory_id", factoryID))
		default:
			log.Warn("Failed to look up factory owner", slog.String("factory_id", factoryID), slog.Any("error", err))
		}
	}

	record := &repository.AnalysisRecord{
		Timestamp:          out.Timestamp,
		TruckNumber:        out.PlateNumber,
		TruckID:            out.TruckID,
		ScrapImage:         out.ScrapImage,
		PlateImage:         out.PlateImage,
		ScrapPredictions:   out.ScrapPredictions,
		PlatePredictions:   out.PlatePredictions,
		AnalysisID:         out.AnalysisID,
		FactoryID:          factoryID,
		OwnerID:            ownerID,
		UploadedBy:         req.UploadedBy,
		VerificationStatus: repository.VerificationPending,
	}
	if err := s.deps.History.Create(ctx, record); err != nil {
		log.Error("Failed to save analysis history", slog.String("analysis_id", out.AnalysisID), slog.Any("error", err))
		out.warn("analysis history not saved")
		return ownerID
	}
	out.HistoryRecorded = true
	return ownerID
}

func (s *Service) notify(ctx context.Context, log *slog.Logger, out *Outcome, req Request, ownerID string) {
	if s.deps.Notifier == nil {
		return
	}

	var recipients []string
	if ownerID != "" && s.deps.Users != nil {
		if owner, err := s.deps.Users.GetByID(ctx, ownerID); err == nil {
			recipients = append(recipients, owner.Email)
		}
	}

	scrapClass := ""
	if top, ok := out.ScrapPredictions.Top(); ok {
		scrapClass = top.Class
	}

	err := s.deps.Notifier.Notify(ctx, notify.Upload{
		PlateNumber: out.PlateNumber,
		ScrapClass:  scrapClass,
		FactoryID:   req.FactoryID,
		AnalysisID:  out.AnalysisID,
		Recipients:  recipients,
		Images: []notify.Attachment{
			{Filename: out.ScrapImage, Data: req.ScrapImage.Data},
			{Filename: out.PlateImage, Data: req.PlateImage.Data},
		},
	})
	if err != nil {
		log.Warn("Upload notification failed", slog.Any("error", err))
		out.warn("notification not sent")
	}
}
