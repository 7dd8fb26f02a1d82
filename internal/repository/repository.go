package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Common repository errors
var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
	ErrInvalid   = errors.New("record failed validation")
	// ErrConflict is returned when a conditional update finds the record
	// in a state the update does not accept
	ErrConflict = errors.New("record is not in the expected state")
)

// Collection names shared by every backend
const (
	CollectionUsers     = "users"
	CollectionFactories = "factories"
	CollectionSessions  = "user_sessions"
	CollectionTrucks    = "truck_records"
	CollectionScraps    = "scrap_records"
	CollectionHistory   = "analysis_history"
)

// Collections lists every collection in creation order
var Collections = []string{
	CollectionUsers,
	CollectionFactories,
	CollectionSessions,
	CollectionTrucks,
	CollectionScraps,
	CollectionHistory,
}

// UserRepository defines the interface for user data access
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context, filter UserFilter) ([]User, error)
	Count(ctx context.Context, filter UserFilter) (int64, error)
	SetActive(ctx context.Context, id string, active bool) error
	SetFactory(ctx context.Context, id, factoryID string) error
}

// FactoryRepository defines the interface for factory data access
type FactoryRepository interface {
	Create(ctx context.Context, factory *Factory) error
	GetByID(ctx context.Context, id string) (*Factory, error)
	GetByOwner(ctx context.Context, ownerID string) (*Factory, error)
	List(ctx context.Context) ([]Factory, error)
	Count(ctx context.Context) (int64, error)
	SetActive(ctx context.Context, id string, active bool) error
}

// SessionRepository defines the interface for session data access
type SessionRepository interface {
	Create(ctx context.Context, session *Session) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// TruckRepository defines the interface for truck record access
type TruckRepository interface {
	// Resolve returns the record stored for truck.TruckNumber, inserting
	// truck when none exists. Implementations must be atomic per number.
	Resolve(ctx context.Context, truck *TruckRecord) (*TruckRecord, error)
	GetByNumber(ctx context.Context, truckNumber string) (*TruckRecord, error)
	Count(ctx context.Context) (int64, error)
}

// ScrapRepository defines the interface for scrap record access
type ScrapRepository interface {
	Create(ctx context.Context, scrap *ScrapRecord) error
	ListByTruck(ctx context.Context, truckID string) ([]ScrapRecord, error)
}

// HistoryRepository defines the interface for analysis history access
type HistoryRepository interface {
	Create(ctx context.Context, record *AnalysisRecord) error
	// List returns matching records newest first
	List(ctx context.Context, filter HistoryFilter) ([]AnalysisRecord, error)
	Count(ctx context.Context, filter HistoryFilter) (int64, error)
	GetByAnalysisID(ctx context.Context, analysisID string) (*AnalysisRecord, error)
	// Submit and Verify apply only while the record is in one of
	// SubmittableStatuses or DecidableStatuses respectively, returning
	// ErrConflict otherwise. The check and the write are one atomic step.
	Submit(ctx context.Context, analysisID string, update SubmissionUpdate) (*AnalysisRecord, error)
	Verify(ctx context.Context, analysisID string, update VerificationUpdate) (*AnalysisRecord, error)
	Delete(ctx context.Context, analysisID string) error
}

// Store groups the repositories of one persistence backend
type Store struct {
	Users     UserRepository
	Factories FactoryRepository
	Sessions  SessionRepository
	Trucks    TruckRepository
	Scraps    ScrapRepository
	History   HistoryRepository

	// Ping reports backend availability
	Ping func(ctx context.Context) error
	// Counts returns the number of records per collection
	Counts func(ctx context.Context) (map[string]int64, error)
	// Reset drops every collection
	Reset func(ctx context.Context) error
	// Close releases the backend connection
	Close func(ctx context.Context) error
}

var validate = validator.New()

// Validate checks a record against its struct tags before it is persisted
func Validate(record any) error {
	if err := validate.Struct(record); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}
