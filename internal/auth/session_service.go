package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/welldanyogia/steel-scrap-yard/internal/logger"
	"github.com/welldanyogia/steel-scrap-yard/internal/repository"
)

// ErrInvalidSession covers missing, expired and unreadable sessions alike
var ErrInvalidSession = errors.New("invalid or expired session")

const (
	// DefaultSessionTTL is the lifetime of a new session
	DefaultSessionTTL = 24 * time.Hour
	// tokenBytes is the token entropy (256 bits)
	tokenBytes = 32
)

// SessionService issues and validates opaque bearer tokens
type SessionService struct {
	repo   repository.SessionRepository
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewSessionService creates a SessionService. A non-positive ttl falls
// back to DefaultSessionTTL.
func NewSessionService(repo repository.SessionRepository, ttl time.Duration, log *slog.Logger) *SessionService {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionService{
		repo:   repo,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.OrDefault(log),
	}
}

// SetClock replaces the time source
func (s *SessionService) SetClock(now func() time.Time) {
	s.now = now
}

// TTL returns the session lifetime
func (s *SessionService) TTL() time.Duration {
	return s.ttl
}

// HashToken returns the hex SHA-256 of a token, the form kept in storage
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Create persists a session for user and returns its plaintext token
func (s *SessionService) Create(ctx context.Context, user *repository.User) (string, *repository.Session, error) {
	token, err := generateToken()
	if err != nil {
		return "", nil, fmt.Errorf("generate session token: %w", err)
	}

	now := s.now()
	session := &repository.Session{
		TokenHash: HashToken(token),
		UserID:    user.ID,
		Email:     user.Email,
		Role:      user.Role,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return "", nil, fmt.Errorf("store session: %w", err)
	}

	return token, session, nil
}

// Verify returns the session for token when it exists and has not expired
func (s *SessionService) Verify(ctx context.Context, token string) (*repository.Session, error) {
	if token == "" {
		return nil, ErrInvalidSession
	}

	session, err := s.repo.GetByTokenHash(ctx, HashToken(token))
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("Session lookup failed", "error", err)
		}
		return nil, ErrInvalidSession
	}

	if !session.ActiveAt(s.now()) {
		return nil, ErrInvalidSession
	}
	return session, nil
}

// PruneExpired deletes sessions whose expiry has passed
func (s *SessionService) PruneExpired(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpired(ctx, s.now())
}
