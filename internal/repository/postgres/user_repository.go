package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/welldanyogia/steel-scrap-yard/internal/repository"
)

const userColumns = `id, email, password_hash, role, name, phone, factory_id, employee_id,
	department, shift, is_active, created_at, created_by`

// userRepository implements UserRepository using PostgreSQL
type userRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository instance
func NewUserRepository(pool *pgxpool.Pool) repository.UserRepository {
	return &userRepository{pool: pool}
}

func scanUser(row pgx.Row) (*repository.User, error) {
	u := &repository.User{}
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.Role,
		&u.Name,
		&u.Phone,
		&u.FactoryID,
		&u.EmployeeID,
		&u.Department,
		&u.Shift,
		&u.IsActive,
		&u.CreatedAt,
		&u.CreatedBy,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	return u, nil
}

// Create inserts a new user into the database
func (r *userRepository) Create(ctx context.Context, user *repository.User) error {
	user.Email = strings.ToLower(user.Email)
	if err := repository.Validate(user); err != nil {
		return err
	}
	if user.ID == "" {
		user.ID = newID()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.pool.Exec(ctx, query,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.Role,
		user.Name,
		user.Phone,
		user.FactoryID,
		user.EmployeeID,
		user.Department,
		user.Shift,
		user.IsActive,
		user.CreatedAt,
		user.CreatedBy,
	)
	return mapErr(err)
}

// GetByID retrieves a user by their ID
func (r *userRepository) GetByID(ctx context.Context, id string) (*repository.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.pool.QueryRow(ctx, query, id))
}

// GetByEmail retrieves a user by email (case-insensitive)
func (r *userRepository) GetByEmail(ctx context.Context, email string) (*repository.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER($1)`
	return scanUser(r.pool.QueryRow(ctx, query, email))
}

func userWhere(f repository.UserFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if f.Role != "" {
		add("role", f.Role)
	}
	if f.FactoryID != "" {
		add("factory_id", f.FactoryID)
	}
	if f.CreatedBy != "" {
		add("created_by", f.CreatedBy)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List returns users matching the filter, newest first
func (r *userRepository) List(ctx context.Context, filter repository.UserFilter) ([]repository.User, error) {
	where, args := userWhere(filter)
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users`+where+` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]repository.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// Count returns the number of users matching the filter
func (r *userRepository) Count(ctx context.Context, filter repository.UserFilter) (int64, error) {
	where, args := userWhere(filter)
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`+where, args...).Scan(&n)
	return n, err
}

// SetActive toggles the account status
func (r *userRepository) SetActive(ctx context.Context, id string, active bool) error {
	return r.exec(ctx, `UPDATE users SET is_active = $2 WHERE id = $1`, id, active)
}

// SetFactory links the user to a factory
func (r *userRepository) SetFactory(ctx context.Context, id, factoryID string) error {
	return r.exec(ctx, `UPDATE users SET factory_id = $2 WHERE id = $1`, id, factoryID)
}

func (r *userRepository) exec(ctx context.Context, query string, args ...any) error {
	result, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return mapErr(err)
	}
	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

const factoryColumns = `id, name, owner_id, address, gst_number, contact_person, phone, is_active, created_at`

// factoryRepository implements FactoryRepository using PostgreSQL
type factoryRepository struct {
	pool *pgxpool.Pool
}

// NewFactoryRepository creates a new FactoryRepository instance
func NewFactoryRepository(pool *pgxpool.Pool) repository.FactoryRepository {
	return &factoryRepository{pool: pool}
}

func scanFactory(row pgx.Row) (*repository.Factory, error) {
	f := &repository.Factory{}
	err := row.Scan(&f.ID, &f.Name, &f.OwnerID, &f.Address, &f.GSTNumber,
		&f.ContactPerson, &f.Phone, &f.IsActive, &f.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return f, nil
}

func (r *factoryRepository) Create(ctx context.Context, factory *repository.Factory) error {
	if err := repository.Validate(factory); err != nil {
		return err
	}
	if factory.ID == "" {
		factory.ID = newID()
	}
	if factory.CreatedAt.IsZero() {
		factory.CreatedAt = time.Now().UTC()
	}

	_, err := r.pool.Exec(ctx, `INSERT INTO factories (`+factoryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		factory.ID, factory.Name, factory.OwnerID, factory.Address, factory.GSTNumber,
		factory.ContactPerson, factory.Phone, factory.IsActive, factory.CreatedAt)
	return mapErr(err)
}

func (r *factoryRepository) GetByID(ctx context.Context, id string) (*repository.Factory, error) {
	return scanFactory(r.pool.QueryRow(ctx, `SELECT `+factoryColumns+` FROM factories WHERE id = $1`, id))
}

func (r *factoryRepository) GetByOwner(ctx context.Context, ownerID string) (*repository.Factory, error) {
	query := `SELECT ` + factoryColumns + ` FROM factories WHERE owner_id = $1 ORDER BY created_at LIMIT 1`
	return scanFactory(r.pool.QueryRow(ctx, query, ownerID))
}

func (r *factoryRepository) List(ctx context.Context) ([]repository.Factory, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+factoryColumns+` FROM factories ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	factories := make([]repository.Factory, 0)
	for rows.Next() {
		f, err := scanFactory(rows)
		if err != nil {
			return nil, err
		}
		factories = append(factories, *f)
	}
	return factories, rows.Err()
}

func (r *factoryRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM factories`).Scan(&n)
	return n, err
}

func (r *factoryRepository) SetActive(ctx context.Context, id string, active bool) error {
	result, err := r.pool.Exec(ctx, `UPDATE factories SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
