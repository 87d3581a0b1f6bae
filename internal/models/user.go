package models

import "time"

// User is the internal record for an identity-provider subject.
type User struct {
	ID         int64      `db:"id" json:"id"`
	ExternalID string     `db:"external_id" json:"external_id"`
	Email      string     `db:"email" json:"email,omitempty"`
	FirstName  string     `db:"first_name" json:"first_name"`
	LastName   string     `db:"last_name" json:"last_name"`
	Username   string     `db:"username" json:"username"`
	AvatarURL  string     `db:"avatar_url" json:"avatar_url,omitempty"`
	IsActive   bool       `db:"is_active" json:"is_active"`
	LastSeen   *time.Time `db:"last_seen" json:"last_seen,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// DisplayName prefers the username and falls back to first/last name.
func (u User) DisplayName() string {
	if u.Username != "" {
		return u.Username
	}
	if u.FirstName != "" || u.LastName != "" {
		if u.LastName == "" {
			return u.FirstName
		}
		if u.FirstName == "" {
			return u.LastName
		}
		return u.FirstName + " " + u.LastName
	}
	return u.ExternalID
}
