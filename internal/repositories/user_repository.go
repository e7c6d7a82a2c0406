package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"messenger-service/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository exposes the profile reads the sidebar needs plus the
// last-seen write triggered when a user's final connection drops.
type UserRepository interface {
	ListOthers(ctx context.Context, userID int64) ([]models.User, error)
	GetUser(ctx context.Context, userID int64) (models.User, error)
	UpdateLastSeen(ctx context.Context, userID int64, at time.Time) error
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// ListOthers returns every user except the caller.
func (r *UserRepo) ListOthers(ctx context.Context, userID int64) ([]models.User, error) {
	var users []models.User
	err := r.db.SelectContext(ctx, &users, `SELECT id, full_name, email, profile_pic, bio, last_seen, created_at
        FROM users WHERE id<>$1 ORDER BY full_name ASC`, userID)
	return users, err
}

// GetUser fetches a single user.
func (r *UserRepo) GetUser(ctx context.Context, userID int64) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT id, full_name, email, profile_pic, bio, last_seen, created_at
        FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// UpdateLastSeen stores the last-seen timestamp.
func (r *UserRepo) UpdateLastSeen(ctx context.Context, userID int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET last_seen=$2 WHERE id=$1`, userID, at)
	return err
}
