package core

import (
	"context"

	"github.com/Boseong0902/webRtc-poc/internal/domain"
)

type PeerEventKind int

const (
	PeerJoined PeerEventKind = iota
	PeerStreamArrived
	PeerLeft
)

// PeerEvent is one entry of the room handle's ordered event stream.
// Stream is set only for PeerStreamArrived.
type PeerEvent struct {
	Kind   PeerEventKind
	PeerID string
	Stream MediaStream
}

// RoomHandle is the fabric's per-room session surface.
// Owned by the adapter; the consumer must Leave() it.
type RoomHandle interface {
	// AddStream attaches the local source for all peers present now and later
	// negotiated through the initial attach.
	AddStream(src MediaStream) error

	// AddStreamTo re-sends the local source to one specific peer. Needed for
	// peers who join after the initial attach.
	AddStreamTo(src MediaStream, peerID string) error

	// Events delivers peer join/stream/leave notifications in arrival order.
	// Closed when the handle is left or the fabric drops the room.
	Events() <-chan PeerEvent

	Leave() error
}

// Fabric opens peer-connection rooms. NAT traversal is the fabric's problem.
type Fabric interface {
	Join(ctx context.Context, roomID domain.RoomID) (RoomHandle, error)
}
