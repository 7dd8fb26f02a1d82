// Package management provisions owners and labourers and reports
// per-tenant statistics.
package management

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/welldanyogia/steel-scrap-yard/internal/auth"
	"github.com/welldanyogia/steel-scrap-yard/internal/logger"
	"github.com/welldanyogia/steel-scrap-yard/internal/repository"
	"github.com/welldanyogia/steel-scrap-yard/internal/sanitizer"
)

// Management errors
var (
	ErrEmailExists     = errors.New("email already exists")
	ErrFactoryExists   = errors.New("factory name already exists")
	ErrInvalidPassword = errors.New("password must be between 1 and 128 bytes")
)

const generatedPasswordBytes = 12

var validate = validator.New()

// CreateOwnerRequest provisions an owner together with their factory
type CreateOwnerRequest struct {
	Name           string `json:"name" validate:"required,max=200"`
	Email          string `json:"email" validate:"required,email"`
	Phone          string `json:"phone" validate:"max=50"`
	Password       string `json:"password"`
	FactoryName    string `json:"factory_name" validate:"required,max=200"`
	FactoryAddress string `json:"factory_address" validate:"max=500"`
	GSTNumber      string `json:"gst_number" validate:"max=20"`
}

// CreateLabourerRequest provisions a labourer in the caller's factory
type CreateLabourerRequest struct {
	Name       string `json:"name" validate:"required,max=200"`
	Email      string `json:"email" validate:"required,email"`
	Phone      string `json:"phone" validate:"max=50"`
	EmployeeID string `json:"employee_id" validate:"max=50"`
	Department string `json:"department" validate:"max=100"`
	Shift      string `json:"shift" validate:"max=20"`
	Password   string `json:"password" validate:"required"`
}

// StatusRequest toggles an account
type StatusRequest struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

// OwnerView is an owner with their factory
type OwnerView struct {
	repository.User
	FactoryDetails *repository.Factory `json:"factory_details,omitempty"`
}

// CreatedOwner is returned by CreateOwner. GeneratedPassword is set only
// when the request carried no password.
type CreatedOwner struct {
	Owner             OwnerView `json:"owner"`
	GeneratedPassword string    `json:"generated_password,omitempty"`
}

// AdminStats summarises the whole system
type AdminStats struct {
	TotalOwners    int64 `json:"total_owners"`
	TotalFactories int64 `json:"total_factories"`
	TotalLabourers int64 `json:"total_labourers"`
	TotalAnalyses  int64 `json:"total_analyses"`
}

// OwnerStats summarises one factory
type OwnerStats struct {
	TotalLabourers    int64  `json:"total_labourers"`
	TotalAnalyses     int64  `json:"total_analyses"`
	ThisMonthAnalyses int64  `json:"this_month_analyses"`
	FactoryName       string `json:"factory_name"`
}

// Passwords validates and hashes account passwords
type Passwords interface {
	ValidatePassword(password string) []auth.PasswordValidationError
	HashPassword(password string) (string, error)
}

// Service implements admin and owner provisioning
type Service struct {
	users     repository.UserRepository
	factories repository.FactoryRepository
	history   repository.HistoryRepository
	passwords Passwords
	text      sanitizer.TextSanitizer
	now       func() time.Time
	logger    *slog.Logger
}

// NewService creates a management service
func NewService(store *repository.Store, passwords Passwords, text sanitizer.TextSanitizer, log *slog.Logger) *Service {
	return &Service{
		users:     store.Users,
		factories: store.Factories,
		history:   store.History,
		passwords: passwords,
		text:      text,
		now:       time.Now,
		logger:    logger.OrDefault(log),
	}
}

// SetClock replaces the time source
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) hash(password string) (string, error) {
	if len(s.passwords.ValidatePassword(password)) > 0 {
		return "", ErrInvalidPassword
	}
	return s.passwords.HashPassword(password)
}

func generatePassword() (string, error) {
	b := make([]byte, generatedPasswordBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (s *Service) ensureEmailFree(ctx context.Context, email string) error {
	_, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return ErrEmailExists
	case errors.Is(err, repository.ErrNotFound):
		return nil
	}
	return fmt.Errorf("look up email: %w", err)
}

func (s *Service) ensureFactoryNameFree(ctx context.Context, name string) error {
	factories, err := s.factories.List(ctx)
	if err != nil {
		return fmt.Errorf("list factories: %w", err)
	}
	for _, f := range factories {
		if strings.EqualFold(f.Name, name) {
			return ErrFactoryExists
		}
	}
	return nil
}

// CreateOwner creates an owner account and its factory, then links them
func (s *Service) CreateOwner(ctx context.Context, adminID string, req CreateOwnerRequest) (*CreatedOwner, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Name = s.text.Line(req.Name, 200)
	req.FactoryName = s.text.Line(req.FactoryName, 200)
	req.FactoryAddress = s.text.Text(req.FactoryAddress, 500)
	req.Phone = s.text.Line(req.Phone, 50)
	req.GSTNumber = s.text.Line(req.GSTNumber, 20)
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	if err := s.ensureEmailFree(ctx, req.Email); err != nil {
		return nil, err
	}
	if err := s.ensureFactoryNameFree(ctx, req.FactoryName); err != nil {
		return nil, err
	}

	out := &CreatedOwner{}
	password := req.Password
	if password == "" {
		generated, err := generatePassword()
		if err != nil {
			return nil, fmt.Errorf("generate password: %w", err)
		}
		password, out.GeneratedPassword = generated, generated
	}
	hash, err := s.hash(password)
	if err != nil {
		return nil, err
	}

	owner := &repository.User{
		Email:        req.Email,
		PasswordHash: hash,
		Role:         repository.RoleOwner,
		Name:         req.Name,
		Phone:        req.Phone,
		IsActive:     true,
		CreatedAt:    s.now().UTC(),
		CreatedBy:    adminID,
	}
	if err := s.users.Create(ctx, owner); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("create owner: %w", err)
	}

	factory := &repository.Factory{
		Name:          req.FactoryName,
		OwnerID:       owner.ID,
		Address:       req.FactoryAddress,
		GSTNumber:     req.GSTNumber,
		ContactPerson: req.Name,
		Phone:         req.Phone,
		IsActive:      true,
		CreatedAt:     owner.CreatedAt,
	}
	if err := s.factories.Create(ctx, factory); err != nil {
		// the owner cannot log in to a tenant that does not exist
		if derr := s.users.SetActive(ctx, owner.ID, false); derr != nil {
			s.logger.Error("Failed to disable orphaned owner", slog.String("user_id", owner.ID), slog.Any("error", derr))
		}
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrFactoryExists
		}
		return nil, fmt.Errorf("create factory: %w", err)
	}

	if err := s.users.SetFactory(ctx, owner.ID, factory.ID); err != nil {
		return nil, fmt.Errorf("link factory: %w", err)
	}
	owner.FactoryID = factory.ID

	logger.WithCorrelationID(ctx, s.logger).Info("Owner created",
		slog.String("user_id", owner.ID),
		slog.String("factory_id", factory.ID),
		slog.String("created_by", adminID),
	)
	out.Owner = OwnerView{User: *owner, FactoryDetails: factory}
	return out, nil
}

// ListOwners returns every owner with their factory
func (s *Service) ListOwners(ctx context.Context) ([]OwnerView, error) {
	owners, err := s.users.List(ctx, repository.UserFilter{Role: repository.RoleOwner})
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}

	views := make([]OwnerView, 0, len(owners))
	for _, o := range owners {
		view := OwnerView{User: o}
		if f, err := s.factories.GetByOwner(ctx, o.ID); err == nil {
			view.FactoryDetails = f
		} else if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("load factory of %s: %w", o.ID, err)
		}
		views = append(views, view)
	}
	return views, nil
}

// SetOwnerStatus activates or deactivates an owner and their factory
func (s *Service) SetOwnerStatus(ctx context.Context, ownerID string, active bool) (*OwnerView, error) {
	owner, err := s.users.GetByID(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if owner.Role != repository.RoleOwner {
		return nil, repository.ErrNotFound
	}
	if err := s.users.SetActive(ctx, ownerID, active); err != nil {
		return nil, err
	}
	owner.IsActive = active

	view := &OwnerView{User: *owner}
	factory, err := s.factories.GetByOwner(ctx, ownerID)
	switch {
	case err == nil:
		if err := s.factories.SetActive(ctx, factory.ID, active); err != nil {
			return nil, fmt.Errorf("toggle factory: %w", err)
		}
		factory.IsActive = active
		view.FactoryDetails = factory
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("load factory: %w", err)
	}

	logger.WithCorrelationID(ctx, s.logger).Info("Owner status changed",
		slog.String("user_id", ownerID), slog.Bool("is_active", active))
	return view, nil
}

// AdminStats counts owners, factories, labourers and analyses
func (s *Service) AdminStats(ctx context.Context) (*AdminStats, error) {
	var stats AdminStats
	var err error
	if stats.TotalOwners, err = s.users.Count(ctx, repository.UserFilter{Role: repository.RoleOwner}); err != nil {
		return nil, fmt.Errorf("count owners: %w", err)
	}
	if stats.TotalFactories, err = s.factories.Count(ctx); err != nil {
		return nil, fmt.Errorf("count factories: %w", err)
	}
	if stats.TotalLabourers, err = s.users.Count(ctx, repository.UserFilter{Role: repository.RoleLabourer}); err != nil {
		return nil, fmt.Errorf("count labourers: %w", err)
	}
	if stats.TotalAnalyses, err = s.history.Count(ctx, repository.HistoryFilter{}); err != nil {
		return nil, fmt.Errorf("count analyses: %w", err)
	}
	return &stats, nil
}

// CreateLabourer adds a labourer to factoryID on behalf of ownerID
func (s *Service) CreateLabourer(ctx context.Context, ownerID, factoryID string, req CreateLabourerRequest) (*repository.User, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Name = s.text.Line(req.Name, 200)
	req.Phone = s.text.Line(req.Phone, 50)
	req.EmployeeID = s.text.Line(req.EmployeeID, 50)
	req.Department = s.text.Line(req.Department, 100)
	req.Shift = s.text.Line(req.Shift, 20)
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	if _, err := s.factories.GetByID(ctx, factoryID); err != nil {
		return nil, fmt.Errorf("load factory: %w", err)
	}
	if err := s.ensureEmailFree(ctx, req.Email); err != nil {
		return nil, err
	}
	hash, err := s.hash(req.Password)
	if err != nil {
		return nil, err
	}

	labourer := &repository.User{
		Email:        req.Email,
		PasswordHash: hash,
		Role:         repository.RoleLabourer,
		Name:         req.Name,
		Phone:        req.Phone,
		FactoryID:    factoryID,
		EmployeeID:   req.EmployeeID,
		Department:   req.Department,
		Shift:        req.Shift,
		IsActive:     true,
		CreatedAt:    s.now().UTC(),
		CreatedBy:    ownerID,
	}
	if err := s.users.Create(ctx, labourer); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("create labourer: %w", err)
	}

	logger.WithCorrelationID(ctx, s.logger).Info("Labourer created",
		slog.String("user_id", labourer.ID),
		slog.String("factory_id", factoryID),
		slog.String("created_by", ownerID),
	)
	return labourer, nil
}

// ListLabourers returns the labourers of one factory
func (s *Service) ListLabourers(ctx context.Context, factoryID string) ([]repository.User, error) {
	labourers, err := s.users.List(ctx, repository.UserFilter{Role: repository.RoleLabourer, FactoryID: factoryID})
	if err != nil {
		return nil, fmt.Errorf("list labourers: %w", err)
	}
	return labourers, nil
}

// SetLabourerStatus toggles a labourer of factoryID. Labourers of other
// factories are reported as missing.
func (s *Service) SetLabourerStatus(ctx context.Context, factoryID, labourerID string, active bool) (*repository.User, error) {
	labourer, err := s.users.GetByID(ctx, labourerID)
	if err != nil {
		return nil, err
	}
	if labourer.Role != repository.RoleLabourer || labourer.FactoryID != factoryID {
		return nil, repository.ErrNotFound
	}
	if err := s.users.SetActive(ctx, labourerID, active); err != nil {
		return nil, err
	}
	labourer.IsActive = active
	return labourer, nil
}

// OwnerStats summarises one factory. The month is the current UTC month.
func (s *Service) OwnerStats(ctx context.Context, factoryID string) (*OwnerStats, error) {
	factory, err := s.factories.GetByID(ctx, factoryID)
	if err != nil {
		return nil, err
	}

	stats := OwnerStats{FactoryName: factory.Name}
	if stats.TotalLabourers, err = s.users.Count(ctx, repository.UserFilter{Role: repository.RoleLabourer, FactoryID: factoryID}); err != nil {
		return nil, fmt.Errorf("count labourers: %w", err)
	}
	if stats.TotalAnalyses, err = s.history.Count(ctx, repository.HistoryFilter{FactoryID: factoryID}); err != nil {
		return nil, fmt.Errorf("count analyses: %w", err)
	}

	now := s.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	if stats.ThisMonthAnalyses, err = s.history.Count(ctx, repository.HistoryFilter{FactoryID: factoryID, Since: &monthStart}); err != nil {
		return nil, fmt.Errorf("count monthly analyses: %w", err)
	}
	return &stats, nil
}
