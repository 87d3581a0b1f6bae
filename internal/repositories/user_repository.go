package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"chat-realtime/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

const userColumns = `id, external_id, email, first_name, last_name, username, avatar_url, is_active, last_seen, created_at, updated_at`

// UserRepository abstracts user persistence.
type UserRepository interface {
	UpsertByExternalID(ctx context.Context, user models.User) (models.User, error)
	GetUser(ctx context.Context, userID int64) (models.User, error)
	GetUsers(ctx context.Context, userIDs []int64) ([]models.User, error)
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

// UpsertByExternalID inserts the user on first sight. On later calls it only
// refreshes liveness fields and fills display fields that are still empty,
// so locally edited profile data is never clobbered.
func (r *UserRepo) UpsertByExternalID(ctx context.Context, user models.User) (models.User, error) {
	query := `INSERT INTO users (external_id, email, first_name, last_name, username, avatar_url, is_active, last_seen)
        VALUES ($1, $2, $3, $4, $5, $6, TRUE, NOW())
        ON CONFLICT (external_id) DO UPDATE SET
            email = CASE WHEN EXCLUDED.email <> '' THEN EXCLUDED.email ELSE users.email END,
            first_name = CASE WHEN users.first_name = '' THEN EXCLUDED.first_name ELSE users.first_name END,
            last_name = CASE WHEN users.last_name = '' THEN EXCLUDED.last_name ELSE users.last_name END,
            username = CASE WHEN users.username = '' THEN EXCLUDED.username ELSE users.username END,
            avatar_url = CASE WHEN users.avatar_url = '' THEN EXCLUDED.avatar_url ELSE users.avatar_url END,
            last_seen = NOW(),
            updated_at = NOW()
        RETURNING ` + userColumns
	var out models.User
	err := r.db.GetContext(ctx, &out, query, user.ExternalID, user.Email, user.FirstName, user.LastName, user.Username, user.AvatarURL)
	return out, err
}

// GetUser fetches a single user.
func (r *UserRepo) GetUser(ctx context.Context, userID int64) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// GetUsers fetches users by id; unknown ids are skipped.
func (r *UserRepo) GetUsers(ctx context.Context, userIDs []int64) ([]models.User, error) {
	if len(userIDs) == 0 {
		return []models.User{}, nil
	}
	var users []models.User
	err := r.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users WHERE id = ANY($1) ORDER BY id`, pq.Array(userIDs))
	return users, err
}

// UpdateLastSeen records when the user was last online.
func (r *UserRepo) UpdateLastSeen(ctx context.Context, userID int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET last_seen=$2, updated_at=NOW() WHERE id=$1`, userID, at)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrUserNotFound
	}
	return nil
}
