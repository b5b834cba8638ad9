package domain

type RoomID string

// PresenceChannelName is the directory channel naming convention for a room.
func PresenceChannelName(id RoomID) string {
	return "room-presence:" + string(id)
}
