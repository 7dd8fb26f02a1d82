// Package memory provides an in-process implementation of the repository
// interfaces. State lives only as long as the process.
package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/welldanyogia/steel-scrap-yard/internal/repository"
)

// DB holds every collection behind a single lock
type DB struct {
	mu        sync.RWMutex
	users     map[string]repository.User
	factories map[string]repository.Factory
	sessions  map[string]repository.Session
	trucks    map[string]repository.TruckRecord
	scraps    map[string]repository.ScrapRecord
	history   map[string]repository.AnalysisRecord
}

// New creates an empty in-memory database
func New() *DB {
	db := &DB{}
	db.reset()
	return db
}

func (db *DB) reset() {
	db.users = make(map[string]repository.User)
	db.factories = make(map[string]repository.Factory)
	db.sessions = make(map[string]repository.Session)
	db.trucks = make(map[string]repository.TruckRecord)
	db.scraps = make(map[string]repository.ScrapRecord)
	db.history = make(map[string]repository.AnalysisRecord)
}

// Store wires the in-memory repositories into a repository.Store
func (db *DB) Store() *repository.Store {
	return &repository.Store{
		Users:     &userRepo{db},
		Factories: &factoryRepo{db},
		Sessions:  &sessionRepo{db},
		Trucks:    &truckRepo{db},
		Scraps:    &scrapRepo{db},
		History:   &historyRepo{db},
		Ping:      func(context.Context) error { return nil },
		Counts:    db.counts,
		Reset: func(context.Context) error {
			db.mu.Lock()
			defer db.mu.Unlock()
			db.reset()
			return nil
		},
		Close: func(context.Context) error { return nil },
	}
}

func (db *DB) counts(context.Context) (map[string]int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return map[string]int64{
		repository.CollectionUsers:     int64(len(db.users)),
		repository.CollectionFactories: int64(len(db.factories)),
		repository.CollectionSessions:  int64(len(db.sessions)),
		repository.CollectionTrucks:    int64(len(db.trucks)),
		repository.CollectionScraps:    int64(len(db.scraps)),
		repository.CollectionHistory:   int64(len(db.history)),
	}, nil
}

func newID() string {
	return uuid.New().String()
}

type userRepo struct{ db *DB }

func (r *userRepo) Create(_ context.Context, user *repository.User) error {
	user.Email = strings.ToLower(user.Email)
	if err := repository.Validate(user); err != nil {
		return err
	}

	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, u := range r.db.users {
		if u.Email == user.Email {
			return repository.ErrDuplicate
		}
	}
	if user.ID == "" {
		user.ID = newID()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	r.db.users[user.ID] = *user
	return nil
}

func (r *userRepo) GetByID(_ context.Context, id string) (*repository.User, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	u, ok := r.db.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (r *userRepo) GetByEmail(_ context.Context, email string) (*repository.User, error) {
	email = strings.ToLower(email)
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	for _, u := range r.db.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func matchUser(u repository.User, f repository.UserFilter) bool {
	if f.Role != "" && u.Role != f.Role {
		return false
	}
	if f.FactoryID != "" && u.FactoryID != f.FactoryID {
		return false
	}
	if f.CreatedBy != "" && u.CreatedBy != f.CreatedBy {
		return false
	}
	return true
}

func (r *userRepo) List(_ context.Context, filter repository.UserFilter) ([]repository.User, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	users := make([]repository.User, 0)
	for _, u := range r.db.users {
		if matchUser(u, filter) {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].CreatedAt.After(users[j].CreatedAt)
	})
	return users, nil
}

func (r *userRepo) Count(_ context.Context, filter repository.UserFilter) (int64, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var n int64
	for _, u := range r.db.users {
		if matchUser(u, filter) {
			n++
		}
	}
	return n, nil
}

func (r *userRepo) SetActive(_ context.Context, id string, active bool) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.IsActive = active
	r.db.users[id] = u
	return nil
}

func (r *userRepo) SetFactory(_ context.Context, id, factoryID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.FactoryID = factoryID
	r.db.users[id] = u
	return nil
}

type factoryRepo struct{ db *DB }

func (r *factoryRepo) Create(_ context.Context, factory *repository.Factory) error {
	if err := repository.Validate(factory); err != nil {
		return err
	}

	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, f := range r.db.factories {
		if f.Name == factory.Name {
			return repository.ErrDuplicate
		}
	}
	if factory.ID == "" {
		factory.ID = newID()
	}
	if factory.CreatedAt.IsZero() {
		factory.CreatedAt = time.Now().UTC()
	}
	r.db.factories[factory.ID] = *factory
	return nil
}

func (r *factoryRepo) GetByID(_ context.Context, id string) (*repository.Factory, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	f, ok := r.db.factories[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &f, nil
}

func (r *factoryRepo) GetByOwner(_ context.Context, ownerID string) (*repository.Factory, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var found *repository.Factory
	for _, f := range r.db.factories {
		if f.OwnerID != ownerID {
			continue
		}
		if found == nil || f.CreatedAt.Before(found.CreatedAt) {
			f := f
			found = &f
		}
	}
	if found == nil {
		return nil, repository.ErrNotFound
	}
	return found, nil
}

func (r *factoryRepo) List(context.Context) ([]repository.Factory, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	factories := make([]repository.Factory, 0, len(r.db.factories))
	for _, f := range r.db.factories {
		factories = append(factories, f)
	}
	sort.Slice(factories, func(i, j int) bool {
		return factories[i].CreatedAt.After(factories[j].CreatedAt)
	})
	return factories, nil
}

func (r *factoryRepo) Count(context.Context) (int64, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	return int64(len(r.db.factories)), nil
}

func (r *factoryRepo) SetActive(_ context.Context, id string, active bool) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	f, ok := r.db.factories[id]
	if !ok {
		return repository.ErrNotFound
	}
	f.IsActive = active
	r.db.factories[id] = f
	return nil
}

type sessionRepo struct{ db *DB }

func (r *sessionRepo) Create(_ context.Context, session *repository.Session) error {
	if err := repository.Validate(session); err != nil {
		return err
	}

	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, exists := r.db.sessions[session.TokenHash]; exists {
		return repository.ErrDuplicate
	}
	if session.ID == "" {
		session.ID = newID()
	}
	r.db.sessions[session.TokenHash] = *session
	return nil
}

func (r *sessionRepo) GetByTokenHash(_ context.Context, tokenHash string) (*repository.Session, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	s, ok := r.db.sessions[tokenHash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &s, nil
}

func (r *sessionRepo) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var n int64
	for hash, s := range r.db.sessions {
		if !s.ExpiresAt.After(before) {
			delete(r.db.sessions, hash)
			n++
		}
	}
	return n, nil
}

// truckRepo keys trucks by number so Resolve is a single locked lookup
type truckRepo struct{ db *DB }

func (r *truckRepo) Resolve(_ context.Context, truck *repository.TruckRecord) (*repository.TruckRecord, error) {
	if err := repository.Validate(truck); err != nil {
		return nil, err
	}

	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if existing, ok := r.db.trucks[truck.TruckNumber]; ok {
		return &existing, nil
	}
	rec := *truck
	if rec.ID == "" {
		rec.ID = newID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	r.db.trucks[rec.TruckNumber] = rec
	return &rec, nil
}

func (r *truckRepo) GetByNumber(_ context.Context, truckNumber string) (*repository.TruckRecord, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	t, ok := r.db.trucks[truckNumber]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &t, nil
}

func (r *truckRepo) Count(context.Context) (int64, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	return int64(len(r.db.trucks)), nil
}

type scrapRepo struct{ db *DB }

func (r *scrapRepo) Create(_ context.Context, scrap *repository.ScrapRecord) error {
	if err := repository.Validate(scrap); err != nil {
		return err
	}

	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if scrap.ID == "" {
		scrap.ID = newID()
	}
	r.db.scraps[scrap.ID] = *scrap
	return nil
}

func (r *scrapRepo) ListByTruck(_ context.Context, truckID string) ([]repository.ScrapRecord, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	scraps := make([]repository.ScrapRecord, 0)
	for _, s := range r.db.scraps {
		if s.TruckID == truckID {
			scraps = append(scraps, s)
		}
	}
	sort.Slice(scraps, func(i, j int) bool {
		return scraps[i].Timestamp.After(scraps[j].Timestamp)
	})
	return scraps, nil
}

type historyRepo struct{ db *DB }

func (r *historyRepo) Create(_ context.Context, record *repository.AnalysisRecord) error {
	if record.VerificationStatus == "" {
		record.VerificationStatus = repository.VerificationPending
	}
	if err := repository.Validate(record); err != nil {
		return err
	}

	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, h := range r.db.history {
		if h.AnalysisID == record.AnalysisID {
			return repository.ErrDuplicate
		}
	}
	if record.ID == "" {
		record.ID = newID()
	}
	r.db.history[record.ID] = *record
	return nil
}

func matchHistory(h repository.AnalysisRecord, f repository.HistoryFilter) bool {
	if f.FactoryID != "" && h.FactoryID != f.FactoryID {
		return false
	}
	if f.Since != nil && h.Timestamp.Before(*f.Since) {
		return false
	}
	if f.VerificationStatus != "" && h.VerificationStatus != f.VerificationStatus {
		return false
	}
	return true
}

func (r *historyRepo) List(_ context.Context, filter repository.HistoryFilter) ([]repository.AnalysisRecord, error) {
	r.db.mu.RLock()
	records := make([]repository.AnalysisRecord, 0)
	for _, h := range r.db.history {
		if matchHistory(h, filter) {
			records = append(records, h)
		}
	}
	r.db.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(records) {
			return []repository.AnalysisRecord{}, nil
		}
		records = records[filter.Offset:]
	}
	if filter.Limit > 0 && len(records) > filter.Limit {
		records = records[:filter.Limit]
	}
	return records, nil
}

func (r *historyRepo) Count(_ context.Context, filter repository.HistoryFilter) (int64, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var n int64
	for _, h := range r.db.history {
		if matchHistory(h, filter) {
			n++
		}
	}
	return n, nil
}

func (r *historyRepo) find(analysisID string) (string, repository.AnalysisRecord, bool) {
	for id, h := range r.db.history {
		if h.AnalysisID == analysisID {
			return id, h, true
		}
	}
	return "", repository.AnalysisRecord{}, false
}

func (r *historyRepo) GetByAnalysisID(_ context.Context, analysisID string) (*repository.AnalysisRecord, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	_, h, ok := r.find(analysisID)
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &h, nil
}

func (r *historyRepo) Submit(_ context.Context, analysisID string, update repository.SubmissionUpdate) (*repository.AnalysisRecord, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	id, h, ok := r.find(analysisID)
	if !ok {
		return nil, repository.ErrNotFound
	}
	if !slices.Contains(repository.SubmittableStatuses, h.VerificationStatus) {
		return nil, repository.ErrConflict
	}
	submitted := update.SubmittedAt
	h.VerificationStatus = repository.VerificationSubmitted
	h.LabourerNotes = update.Notes
	h.SubmittedAt = &submitted
	r.db.history[id] = h
	return &h, nil
}

func (r *historyRepo) Delete(_ context.Context, analysisID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	id, _, ok := r.find(analysisID)
	if !ok {
		return repository.ErrNotFound
	}
	delete(r.db.history, id)
	return nil
}

func (r *historyRepo) Verify(_ context.Context, analysisID string, update repository.VerificationUpdate) (*repository.AnalysisRecord, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	id, h, ok := r.find(analysisID)
	if !ok {
		return nil, repository.ErrNotFound
	}
	if !slices.Contains(repository.DecidableStatuses, h.VerificationStatus) {
		return nil, repository.ErrConflict
	}
	verified := update.VerifiedAt
	h.VerificationStatus = update.Status
	h.OwnerNotes = update.OwnerNotes
	h.VerifiedBy = update.VerifiedBy
	h.VerifiedAt = &verified
	if update.ScrapPredictions != nil {
		h.ScrapPredictions = update.ScrapPredictions
	}
	if update.PlatePredictions != nil {
		h.PlatePredictions = update.PlatePredictions
	}
	r.db.history[id] = h
	return &h, nil
}
