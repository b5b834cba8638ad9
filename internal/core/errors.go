package core

import (
	"errors"
	"fmt"
)

var (
	// ErrDirectoryUnavailable means the presence channel subscription failed or
	// closed before the occupancy probe resolved. Terminal for the join attempt.
	ErrDirectoryUnavailable = errors.New("presence directory unavailable")

	// ErrMediaUnavailable means the local media source could not be acquired.
	ErrMediaUnavailable = errors.New("local media unavailable")

	// ErrSessionActive guards re-entrant joins while a session is not idle.
	ErrSessionActive = errors.New("session already active")
)

// RoomFullError carries the occupant count observed at rejection time.
type RoomFullError struct {
	Count int
}

func (e *RoomFullError) Error() string {
	return fmt.Sprintf("room full (%d occupants)", e.Count)
}

// IsRoomFull reports whether err is a capacity rejection.
func IsRoomFull(err error) bool {
	var rf *RoomFullError
	return errors.As(err, &rf)
}
