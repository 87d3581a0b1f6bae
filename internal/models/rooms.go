package models

import "strconv"

// PresenceRoom is the single global room every authenticated connection joins.
const PresenceRoom = "presence"

const (
	userRoomPrefix  = "user:"
	groupRoomPrefix = "group:"
)

// UserRoom names the private room of a user.
func UserRoom(userID int64) string {
	return userRoomPrefix + strconv.FormatInt(userID, 10)
}

// GroupRoom names the broadcast room of a group.
func GroupRoom(groupID int64) string {
	return groupRoomPrefix + strconv.FormatInt(groupID, 10)
}
