package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/welldanyogia/steel-scrap-yard/internal/repository"
)

// sessionRepository implements SessionRepository using PostgreSQL
type sessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository instance
func NewSessionRepository(pool *pgxpool.Pool) repository.SessionRepository {
	return &sessionRepository{pool: pool}
}

// Create inserts a new session. Only the token hash is stored.
func (r *sessionRepository) Create(ctx context.Context, session *repository.Session) error {
	if err := repository.Validate(session); err != nil {
		return err
	}
	if session.ID == "" {
		session.ID = newID()
	}

	query := `
		INSERT INTO user_sessions (id, token_hash, user_id, email, role, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.pool.Exec(ctx, query,
		session.ID,
		session.TokenHash,
		session.UserID,
		session.Email,
		session.Role,
		session.CreatedAt,
		session.ExpiresAt,
	)
	return mapErr(err)
}

// GetByTokenHash retrieves a session by its token hash
func (r *sessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*repository.Session, error) {
	query := `
		SELECT id, token_hash, user_id, email, role, created_at, expires_at
		FROM user_sessions
		WHERE token_hash = $1
	`

	session := &repository.Session{}
	err := r.pool.QueryRow(ctx, query, tokenHash).Scan(
		&session.ID,
		&session.TokenHash,
		&session.UserID,
		&session.Email,
		&session.Role,
		&session.CreatedAt,
		&session.ExpiresAt,
	)
	if err != nil {
		return nil, mapErr(err)
	}

	return session, nil
}

// DeleteExpired removes sessions that expired at or before the given time
func (r *sessionRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM user_sessions WHERE expires_at <= $1`, before)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected(), nil
}
