package repository

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Role is the access tier of a user account
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOwner    Role = "owner"
	RoleLabourer Role = "labourer"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleOwner, RoleLabourer:
		return true
	}
	return false
}

// Verification states of an analysis record
const (
	VerificationPending   = "pending"
	VerificationSubmitted = "submitted"
	VerificationApproved  = "approved"
	VerificationRejected  = "rejected"
)

// Source states accepted by the verification workflow
var (
	SubmittableStatuses = []string{VerificationPending, VerificationRejected}
	DecidableStatuses   = []string{VerificationPending, VerificationSubmitted}
)

// User represents a user account
type User struct {
	ID           string    `json:"id" bson:"_id" db:"id"`
	Email        string    `json:"email" bson:"email" db:"email" validate:"required,email"`
	PasswordHash string    `json:"-" bson:"password" db:"password_hash" validate:"required"`
	Role         Role      `json:"role" bson:"role" db:"role" validate:"required,oneof=admin owner labourer"`
	Name         string    `json:"name,omitempty" bson:"name,omitempty" db:"name" validate:"max=200"`
	Phone        string    `json:"phone,omitempty" bson:"phone,omitempty" db:"phone" validate:"max=50"`
	FactoryID    string    `json:"factory_id,omitempty" bson:"factory_id,omitempty" db:"factory_id"`
	EmployeeID   string    `json:"employee_id,omitempty" bson:"employee_id,omitempty" db:"employee_id" validate:"max=50"`
	Department   string    `json:"department,omitempty" bson:"department,omitempty" db:"department" validate:"max=100"`
	Shift        string    `json:"shift,omitempty" bson:"shift,omitempty" db:"shift" validate:"max=20"`
	IsActive     bool      `json:"is_active" bson:"is_active" db:"is_active"`
	CreatedAt    time.Time `json:"created_at" bson:"created_at" db:"created_at"`
	CreatedBy    string    `json:"created_by,omitempty" bson:"created_by,omitempty" db:"created_by"`
}

// Factory represents a scrap yard tenant
type Factory struct {
	ID            string    `json:"id" bson:"_id" db:"id"`
	Name          string    `json:"name" bson:"name" db:"name" validate:"required,max=200"`
	OwnerID       string    `json:"owner_id" bson:"owner_id" db:"owner_id" validate:"required"`
	Address       string    `json:"address,omitempty" bson:"address,omitempty" db:"address" validate:"max=500"`
	GSTNumber     string    `json:"gst_number,omitempty" bson:"gst_number,omitempty" db:"gst_number" validate:"max=20"`
	ContactPerson string    `json:"contact_person,omitempty" bson:"contact_person,omitempty" db:"contact_person"`
	Phone         string    `json:"phone,omitempty" bson:"phone,omitempty" db:"phone"`
	IsActive      bool      `json:"is_active" bson:"is_active" db:"is_active"`
	CreatedAt     time.Time `json:"created_at" bson:"created_at" db:"created_at"`
}

// Session represents an issued bearer session. Only the SHA-256 of the
// token is stored.
type Session struct {
	ID        string    `json:"id" bson:"_id" db:"id"`
	TokenHash string    `json:"-" bson:"token_hash" db:"token_hash" validate:"required"`
	UserID    string    `json:"user_id" bson:"user_id" db:"user_id" validate:"required"`
	Email     string    `json:"email" bson:"email" db:"email"`
	Role      Role      `json:"role" bson:"role" db:"role" validate:"required,oneof=admin owner labourer"`
	CreatedAt time.Time `json:"created_at" bson:"created_at" db:"created_at"`
	ExpiresAt time.Time `json:"expires_at" bson:"expires_at" db:"expires_at" validate:"required"`
}

// ActiveAt reports whether the session is still valid at t
func (s *Session) ActiveAt(t time.Time) bool {
	return t.Before(s.ExpiresAt)
}

// Prediction is one normalised detection or classification result.
// The box is expressed as centre x/y plus width/height in pixels.
type Prediction struct {
	Class       string  `json:"class" bson:"class"`
	Confidence  float64 `json:"confidence" bson:"confidence"`
	X           float64 `json:"x" bson:"x"`
	Y           float64 `json:"y" bson:"y"`
	Width       float64 `json:"width" bson:"width"`
	Height      float64 `json:"height" bson:"height"`
	DetectionID string  `json:"detection_id,omitempty" bson:"detection_id,omitempty"`
}

// Predictions is a prediction list persisted as a JSON document column
type Predictions []Prediction

// Top returns the highest-confidence prediction, or false when empty
func (p Predictions) Top() (Prediction, bool) {
	if len(p) == 0 {
		return Prediction{}, false
	}
	best := p[0]
	for _, pred := range p[1:] {
		if pred.Confidence > best.Confidence {
			best = pred
		}
	}
	return best, true
}

// Value implements driver.Valuer for JSONB columns
func (p Predictions) Value() (driver.Value, error) {
	if p == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(p)
}

// Scan implements sql.Scanner for JSONB columns
func (p *Predictions) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*p = Predictions{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("predictions: unsupported column type")
	}
	return json.Unmarshal(data, p)
}

// TruckRecord is the single record kept per distinct plate number
type TruckRecord struct {
	ID               string      `json:"id" bson:"_id" db:"id"`
	TruckNumber      string      `json:"truck_number" bson:"truck_number" db:"truck_number" validate:"required"`
	PlateImage       string      `json:"plate_image" bson:"plate_image" db:"plate_image"`
	PlatePredictions Predictions `json:"plate_predictions" bson:"plate_predictions" db:"plate_predictions"`
	CreatedAt        time.Time   `json:"created_at" bson:"created_at" db:"created_at"`
}

// ScrapRecord is written once per upload
type ScrapRecord struct {
	ID               string      `json:"id" bson:"_id" db:"id"`
	Timestamp        time.Time   `json:"timestamp" bson:"timestamp" db:"timestamp" validate:"required"`
	ScrapImage       string      `json:"scrap_image" bson:"scrap_image" db:"scrap_image"`
	ScrapPredictions Predictions `json:"scrap_predictions" bson:"scrap_predictions" db:"scrap_predictions"`
	TruckID          string      `json:"truck_id" bson:"truck_id" db:"truck_id" validate:"required"`
}

// AnalysisRecord is the denormalised history entry the dashboards read
type AnalysisRecord struct {
	ID                 string      `json:"id" bson:"_id" db:"id"`
	Timestamp          time.Time   `json:"timestamp" bson:"timestamp" db:"timestamp" validate:"required"`
	TruckNumber        string      `json:"truck_number" bson:"truck_number" db:"truck_number" validate:"required"`
	TruckID            string      `json:"truck_id" bson:"truck_id" db:"truck_id" validate:"required"`
	ScrapImage         string      `json:"scrap_image" bson:"scrap_image" db:"scrap_image"`
	PlateImage         string      `json:"plate_image" bson:"plate_image" db:"plate_image"`
	ScrapPredictions   Predictions `json:"scrap_predictions" bson:"scrap_predictions" db:"scrap_predictions"`
	PlatePredictions   Predictions `json:"plate_predictions" bson:"plate_predictions" db:"plate_predictions"`
	AnalysisID         string      `json:"analysis_id" bson:"analysis_id" db:"analysis_id" validate:"required"`
	FactoryID          string      `json:"factory_id" bson:"factory_id" db:"factory_id" validate:"required"`
	OwnerID            string      `json:"owner_id,omitempty" bson:"owner_id,omitempty" db:"owner_id"`
	UploadedBy         string      `json:"uploaded_by,omitempty" bson:"uploaded_by,omitempty" db:"uploaded_by"`
	VerificationStatus string      `json:"verification_status" bson:"verification_status" db:"verification_status" validate:"oneof=pending submitted approved rejected"`
	LabourerNotes      string      `json:"labourer_notes,omitempty" bson:"labourer_notes,omitempty" db:"labourer_notes"`
	OwnerNotes         string      `json:"owner_notes,omitempty" bson:"owner_notes,omitempty" db:"owner_notes"`
	SubmittedAt        *time.Time  `json:"submitted_at,omitempty" bson:"submitted_at,omitempty" db:"submitted_at"`
	VerifiedAt         *time.Time  `json:"verified_at,omitempty" bson:"verified_at,omitempty" db:"verified_at"`
	VerifiedBy         string      `json:"verified_by,omitempty" bson:"verified_by,omitempty" db:"verified_by"`
}

// UserFilter narrows user listings; zero fields are ignored
type UserFilter struct {
	Role      Role
	FactoryID string
	CreatedBy string
}

// HistoryFilter narrows analysis history reads; zero fields are ignored
type HistoryFilter struct {
	FactoryID          string
	Since              *time.Time
	VerificationStatus string
	Limit              int
	Offset             int
}

// VerificationUpdate is applied to an analysis record by its owner
type VerificationUpdate struct {
	Status           string
	OwnerNotes       string
	VerifiedBy       string
	VerifiedAt       time.Time
	ScrapPredictions Predictions
	PlatePredictions Predictions
}

// SubmissionUpdate is applied to an analysis record by a labourer
type SubmissionUpdate struct {
	Notes       string
	SubmittedAt time.Time
}
