package models

import "time"

// Presence statuses.
const (
	StatusOnline = "online"
	StatusAway   = "away"
)

// Device classes.
const (
	DeviceMobile  = "mobile"
	DeviceWeb     = "web"
	DeviceDesktop = "desktop"
)

// Session is the presence row of one live connection.
type Session struct {
	ID           int64     `db:"id" json:"id"`
	UserID       int64     `db:"user_id" json:"user_id"`
	ConnectionID string    `db:"connection_id" json:"connection_id"`
	Status       string    `db:"status" json:"status"`
	DeviceType   string    `db:"device_type" json:"device_type"`
	LastActivity time.Time `db:"last_activity" json:"last_activity"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// OnlineUser is one user in an online-users listing.
type OnlineUser struct {
	UserID       int64     `json:"user_id"`
	ExternalID   string    `json:"external_id"`
	Username     string    `json:"username"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	AvatarURL    string    `json:"avatar_url,omitempty"`
	Status       string    `json:"status"`
	DeviceType   string    `json:"device_type"`
	LastActivity time.Time `json:"last_activity"`
}

// ValidStatus reports whether s is a status a client may set.
func ValidStatus(s string) bool {
	return s == StatusOnline || s == StatusAway
}

// ValidDeviceType reports whether d is a known device class.
func ValidDeviceType(d string) bool {
	switch d {
	case DeviceMobile, DeviceWeb, DeviceDesktop:
		return true
	}
	return false
}
