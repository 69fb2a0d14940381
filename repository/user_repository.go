package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mirlo/model"
)

// UserRepository defines the interface for user data operations.
type UserRepository interface {
	FindByID(ctx context.Context, id int64) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	Create(ctx context.Context, user *model.User) (int64, error)
}

// mysqlUserRepository implements UserRepository for MySQL.
type mysqlUserRepository struct {
	DB *sql.DB
}

// NewMySQLUserRepository creates a new instance of mysqlUserRepository.
func NewMySQLUserRepository(db *sql.DB) UserRepository {
	return &mysqlUserRepository{DB: db}
}

// FindByID retrieves a user by id.
func (r *mysqlUserRepository) FindByID(ctx context.Context, id int64) (*model.User, error) {
	query := `SELECT id, email, name, password_hash, is_admin, created_at, updated_at
	           FROM users WHERE id = ?`
	return r.scanUser(r.DB.QueryRowContext(ctx, query, id))
}

// FindByEmail retrieves a user by email address.
func (r *mysqlUserRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	query := `SELECT id, email, name, password_hash, is_admin, created_at, updated_at
	           FROM users WHERE email = ?`
	return r.scanUser(r.DB.QueryRowContext(ctx, query, email))
}

func (r *mysqlUserRepository) scanUser(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.PasswordHash, &user.IsAdmin, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return user, nil
}

// Create adds a new user to the database.
func (r *mysqlUserRepository) Create(ctx context.Context, user *model.User) (int64, error) {
	query := `INSERT INTO users (email, name, password_hash, is_admin, created_at, updated_at)
	           VALUES (?, ?, ?, ?, ?, ?)`
	stmt, err := r.DB.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement for Create user: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	res, err := stmt.ExecContext(ctx, user.Email, user.Name, user.PasswordHash, user.IsAdmin, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to execute Create user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for Create user: %w", err)
	}
	return id, nil
}
