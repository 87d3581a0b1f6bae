package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"chat-realtime/internal/models"
)

var ErrSessionNotFound = errors.New("session not found")

const sessionColumns = `id, user_id, connection_id, status, device_type, last_activity, created_at`

// SessionRepository persists one presence row per live connection.
type SessionRepository interface {
	CreateSession(ctx context.Context, session models.Session) (models.Session, error)
	DeleteSession(ctx context.Context, connectionID string) (bool, error)
	GetSession(ctx context.Context, connectionID string) (models.Session, error)
	TouchSession(ctx context.Context, connectionID string, at time.Time) error
	SetStatus(ctx context.Context, connectionID string, status string, at time.Time) error
	ListActiveSessions(ctx context.Context, since time.Time) ([]models.Session, error)
	ListUserSessions(ctx context.Context, userID int64, since time.Time) ([]models.Session, error)
	DeleteExpiredSessions(ctx context.Context, before time.Time) ([]models.Session, error)
}

// SessionRepo is a sqlx implementation of SessionRepository.
type SessionRepo struct {
	db *sqlx.DB
}

// NewSessionRepo constructs a SessionRepo.
func NewSessionRepo(db *sqlx.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

// CreateSession replaces any row for the same connection id with a new one.
func (r *SessionRepo) CreateSession(ctx context.Context, session models.Session) (models.Session, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Session{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE connection_id=$1`, session.ConnectionID); err != nil {
		return models.Session{}, err
	}
	var out models.Session
	if err = tx.GetContext(ctx, &out, `INSERT INTO sessions (user_id, connection_id, status, device_type, last_activity, created_at)
        VALUES ($1, $2, $3, $4, $5, $5) RETURNING `+sessionColumns,
		session.UserID, session.ConnectionID, session.Status, session.DeviceType, session.LastActivity); err != nil {
		return models.Session{}, err
	}
	if err = tx.Commit(); err != nil {
		return models.Session{}, err
	}
	return out, nil
}

// DeleteSession removes the row of a connection and reports whether it existed.
func (r *SessionRepo) DeleteSession(ctx context.Context, connectionID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE connection_id=$1`, connectionID)
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	return count > 0, err
}

// GetSession fetches the row of a connection.
func (r *SessionRepo) GetSession(ctx context.Context, connectionID string) (models.Session, error) {
	var s models.Session
	err := r.db.GetContext(ctx, &s, `SELECT `+sessionColumns+` FROM sessions WHERE connection_id=$1`, connectionID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Session{}, ErrSessionNotFound
	}
	return s, err
}

// TouchSession refreshes last_activity.
func (r *SessionRepo) TouchSession(ctx context.Context, connectionID string, at time.Time) error {
	return r.exec(ctx, `UPDATE sessions SET last_activity=$2 WHERE connection_id=$1`, connectionID, at)
}

// SetStatus changes the status and refreshes last_activity.
func (r *SessionRepo) SetStatus(ctx context.Context, connectionID string, status string, at time.Time) error {
	return r.exec(ctx, `UPDATE sessions SET status=$2, last_activity=$3 WHERE connection_id=$1`, connectionID, status, at)
}

// ListActiveSessions returns online/away rows active since the given time.
func (r *SessionRepo) ListActiveSessions(ctx context.Context, since time.Time) ([]models.Session, error) {
	var sessions []models.Session
	err := r.db.SelectContext(ctx, &sessions, `SELECT `+sessionColumns+` FROM sessions
        WHERE status IN ('online', 'away') AND last_activity > $1 ORDER BY last_activity DESC`, since)
	return sessions, err
}

// ListUserSessions returns a user's rows active since the given time.
func (r *SessionRepo) ListUserSessions(ctx context.Context, userID int64, since time.Time) ([]models.Session, error) {
	var sessions []models.Session
	err := r.db.SelectContext(ctx, &sessions, `SELECT `+sessionColumns+` FROM sessions
        WHERE user_id=$1 AND last_activity > $2 ORDER BY last_activity DESC`, userID, since)
	return sessions, err
}

// DeleteExpiredSessions removes rows idle since before and returns them.
func (r *SessionRepo) DeleteExpiredSessions(ctx context.Context, before time.Time) ([]models.Session, error) {
	var sessions []models.Session
	err := r.db.SelectContext(ctx, &sessions, `DELETE FROM sessions WHERE last_activity <= $1 RETURNING `+sessionColumns, before)
	return sessions, err
}

func (r *SessionRepo) exec(ctx context.Context, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrSessionNotFound
	}
	return nil
}
