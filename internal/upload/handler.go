package upload

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/welldanyogia/steel-scrap-yard/internal/access"
	"github.com/welldanyogia/steel-scrap-yard/internal/api"
	appctx "github.com/welldanyogia/steel-scrap-yard/internal/context"
	"github.com/welldanyogia/steel-scrap-yard/internal/logger"
	"github.com/welldanyogia/steel-scrap-yard/internal/repository"
)

// DefaultMaxUploadBytes bounds a whole multipart upload
const DefaultMaxUploadBytes = 32 << 20

var (
	errMissingImages = errors.New("truck_image and plate_image are required")
	errEmptyImage    = errors.New("uploaded image is empty")
)

// Handler serves POST /upload
type Handler struct {
	service  *Service
	mode     access.Mode
	maxBytes int64
	logger   *slog.Logger
}

// NewHandler creates an upload handler
func NewHandler(service *Service, mode access.Mode, maxBytes int64, log *slog.Logger) *Handler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &Handler{service: service, mode: mode, maxBytes: maxBytes, logger: logger.OrDefault(log)}
}

// RegisterRoutes mounts /upload. identify attaches the caller's identity
// when a session token is sent.
func RegisterRoutes(r chi.Router, h *Handler, identify func(http.Handler) http.Handler) {
	r.With(identify).Post("/upload", h.Upload)
}

// Upload handles a truck intake
// POST /upload
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.WriteError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Upload exceeds %d bytes", h.maxBytes))
			return
		}
		api.WriteError(w, http.StatusBadRequest, "Expected a multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	req, err := readImages(r)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	identity, _ := appctx.ExtractIdentity(r.Context())
	req.FactoryID = r.FormValue("factory_id")
	req.OwnerID = r.FormValue("owner_id")

	if h.mode == access.ModeStrict {
		// Tenancy comes from the session; only admins may name a factory.
		// Anonymous intakes are still classified but never attributed.
		switch {
		case identity == nil:
			req.FactoryID = ""
			req.OwnerID = ""
		case repository.Role(identity.Role) != repository.RoleAdmin:
			req.FactoryID = identity.FactoryID
			req.OwnerID = ""
			if repository.Role(identity.Role) == repository.RoleOwner {
				req.OwnerID = identity.UserID
			}
		}
	}
	if identity != nil {
		req.UploadedBy = identity.UserID
	}

	out := h.service.Process(r.Context(), req)

	api.WriteJSON(w, http.StatusOK, api.M{
		"status":       out.Status,
		"plate_number": out.PlateNumber,
		"scrap_result": api.M{"predictions": out.ScrapPredictions},
		"timestamp":    out.Timestamp.Format(time.RFC3339),
		"truck_id":     out.TruckID,
		"analysis_id":  out.AnalysisID,
		"warnings":     warnings(out.Warnings),
	})
}

func warnings(w []string) []string {
	if w == nil {
		return []string{}
	}
	return w
}

func readImages(r *http.Request) (Request, error) {
	scrap, err := readFile(r, "truck_image")
	if err != nil {
		return Request{}, err
	}
	plate, err := readFile(r, "plate_image")
	if err != nil {
		return Request{}, err
	}
	return Request{ScrapImage: scrap, PlateImage: plate}, nil
}

func readFile(r *http.Request, field string) (Image, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return Image{}, errMissingImages
		}
		return Image{}, fmt.Errorf("invalid %s: %w", field, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return Image{}, fmt.Errorf("read %s: %w", field, err)
	}
	if len(data) == 0 {
		return Image{}, fmt.Errorf("%s: %w", field, errEmptyImage)
	}
	return Image{Filename: header.Filename, ContentType: contentType(header, data), Data: data}, nil
}

func contentType(h *multipart.FileHeader, data []byte) string {
	if ct := h.Header.Get("Content-Type"); ct != "" && ct != "application/octet-stream" {
		return ct
	}
	return http.DetectContentType(data)
}
