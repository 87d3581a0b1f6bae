package models

import "time"

// Member roles.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Group represents a chat group.
type Group struct {
	ID          int64        `db:"id" json:"id"`
	Name        string       `db:"name" json:"name"`
	Description string       `db:"description" json:"description"`
	IsPrivate   bool         `db:"is_private" json:"is_private"`
	IsActive    bool         `db:"is_active" json:"is_active"`
	OwnerID     int64        `db:"owner_id" json:"owner_id"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at" json:"updated_at"`
	Members     []Membership `db:"-" json:"members,omitempty"`
}

// Membership is one entry of a group's member list.
type Membership struct {
	GroupID  int64     `db:"group_id" json:"-"`
	UserID   int64     `db:"user_id" json:"user_id"`
	Role     string    `db:"role" json:"role"`
	JoinedAt time.Time `db:"joined_at" json:"joined_at"`
}

// HasMember reports whether userID is listed in the group's members.
func (g Group) HasMember(userID int64) bool {
	for _, m := range g.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}
