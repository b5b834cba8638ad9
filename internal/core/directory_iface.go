package core

import (
	"context"

	"github.com/Boseong0902/webRtc-poc/internal/domain"
)

// PresenceChannel is one subscribable broadcast channel of the directory.
// The directory replicates the tracked occupant set and signals every change
// on SyncEvents.
type PresenceChannel interface {
	// Subscribe joins the channel and returns once the subscription is
	// confirmed. A failed subscribe leaves the channel unusable.
	Subscribe(ctx context.Context) error

	// SyncEvents fires whenever the replicated occupant set changes.
	// The channel is buffered; consumers read a snapshot via PresenceState.
	SyncEvents() <-chan struct{}

	// Closed fires when the subscription is lost (directory error or close).
	Closed() <-chan struct{}

	// Track publishes the local occupant record under the participant's key.
	Track(ctx context.Context, rec domain.OccupantRecord) error

	// Untrack removes the local occupant record. Safe when nothing is tracked.
	Untrack(ctx context.Context) error

	// Unsubscribe leaves the channel. Safe to call more than once.
	Unsubscribe() error

	// PresenceState returns the current occupant set keyed by participant key.
	PresenceState() map[string]domain.OccupantRecord
}

// DirectoryClient hands out presence channel bindings.
// Bindings are owned by the caller and must be released back.
type DirectoryClient interface {
	Channel(name string) PresenceChannel
	Release(ch PresenceChannel)
}
