package core

import "context"

// MediaTrack is a single audio or video track.
type MediaTrack interface {
	Kind() string
	Stop() error
}

// MediaStream groups tracks under one stream id. Used for both the local
// outbound source and inbound remote streams.
type MediaStream interface {
	ID() string
	Tracks() []MediaTrack
}

// MediaProvider acquires the exclusive local audio/video source.
// Fails with ErrMediaUnavailable when the device cannot be opened.
type MediaProvider interface {
	Acquire(ctx context.Context) (MediaStream, error)
}
