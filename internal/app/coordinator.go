package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Boseong0902/webRtc-poc/internal/core"
	"github.com/Boseong0902/webRtc-poc/internal/domain"
)

// maxOccupants bounds room capacity. Admission operates purely on the
// observed occupant count; there is no separate room entity.
const maxOccupants = 2

// Timings are empirical tuning constants. They narrow the probe race window,
// they do not close it.
type Timings struct {
	SyncTimeout     time.Duration
	SettleDelay     time.Duration
	RecoveryTimeout time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		SyncTimeout:     100 * time.Millisecond,
		SettleDelay:     200 * time.Millisecond,
		RecoveryTimeout: 200 * time.Millisecond,
	}
}

// Coordinator decides admit/reject/recover for join attempts and owns all
// session state: the active channel binding, the fabric handle and the local
// media source live here and nowhere else, so "exactly one active session"
// is enforced by the struct, not by convention.
type Coordinator struct {
	directory core.DirectoryClient
	fabric    core.Fabric
	media     core.MediaProvider
	timings   Timings

	mu          sync.Mutex
	state       domain.SessionState
	roomID      domain.RoomID
	participant domain.ParticipantID
	channel     core.PresenceChannel
	local       core.MediaStream
	session     *peerSession
	lastErr     string
}

func NewCoordinator(dir core.DirectoryClient, fab core.Fabric, media core.MediaProvider, t Timings) *Coordinator {
	return &Coordinator{
		directory: dir,
		fabric:    fab,
		media:     media,
		timings:   t,
		state:     domain.StateIdle,
	}
}

// Join runs one admission attempt for roomID.
//
// Probe occupancy; ≥2 rejects outright. A count of zero is ambiguous: the
// room may be empty or may hold a stale record from a crashed participant
// whose untrack never ran. In that case the binding is discarded, a settling
// delay lets in-flight cleanup land on the directory's replication layer, and
// a fresh binding is re-probed. A fresh count >0 means another participant
// won the race and the attempt is rejected. This narrows the double-admit
// window; it cannot eliminate it without a serializing arbiter.
//
// All failures are terminal for the attempt; the caller retries explicitly.
func (c *Coordinator) Join(ctx context.Context, roomID domain.RoomID) error {
	c.mu.Lock()
	if c.state != domain.StateIdle {
		c.mu.Unlock()
		return core.ErrSessionActive
	}
	c.state = domain.StateProbing
	c.roomID = roomID
	c.lastErr = ""
	c.mu.Unlock()

	name := domain.PresenceChannelName(roomID)
	ch := c.directory.Channel(name)

	count, err := core.ProbeOccupancy(ctx, ch, c.timings.SyncTimeout)
	if err != nil {
		c.releaseBinding(ch)
		return c.failJoin(err)
	}
	log.Info().Str("module", "app.coordinator").Str("room", string(roomID)).Int("count", count).Msg("occupancy probed")

	if count >= maxOccupants {
		c.releaseBinding(ch)
		return c.failJoin(&core.RoomFullError{Count: count})
	}

	if count == 0 {
		// the possibly-stale binding is discarded before the settling
		// delay; the re-probe runs on a fresh one
		c.releaseBinding(ch)
		ch, count, err = c.recoverStaleRoom(ctx, name)
		if err != nil {
			return c.failJoin(err)
		}
		if count > 0 {
			c.releaseBinding(ch)
			return c.failJoin(&core.RoomFullError{Count: count})
		}
	}

	// Acquire media before publishing presence so a MediaUnavailable abort
	// never leaves an occupant record behind.
	local, err := c.media.Acquire(ctx)
	if err != nil {
		c.releaseBinding(ch)
		return c.failJoin(fmt.Errorf("%w: %v", core.ErrMediaUnavailable, err))
	}

	pid := domain.NewParticipantID()
	if err := ch.Track(ctx, domain.NewOccupantRecord(pid)); err != nil {
		c.releaseBinding(ch)
		return c.failJoin(fmt.Errorf("track presence: %w", err))
	}

	c.mu.Lock()
	c.channel = ch
	c.participant = pid
	c.local = local
	c.state = domain.StateAdmitted
	c.mu.Unlock()
	log.Info().Str("module", "app.coordinator").Str("room", string(roomID)).Str("participant", string(pid)).Msg("admitted")

	sess, err := c.setupSession(ctx, roomID)
	if err != nil {
		// unwind partial state so an explicit retry starts clean
		c.runCleanup(ctx)
		c.setLastErr(err)
		return fmt.Errorf("peer session setup: %w", err)
	}

	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()
	// dispatcher starts only after the session is owned, so a peer-leave
	// arriving immediately still finds the handle during cleanup
	go c.dispatchPeerEvents(sess)
	return nil
}

// recoverStaleRoom drops the current binding, waits out the settling delay
// and re-probes on a fresh binding for the same channel name.
func (c *Coordinator) recoverStaleRoom(ctx context.Context, name string) (core.PresenceChannel, int, error) {
	log.Info().Str("module", "app.coordinator").Str("channel", name).Msg("empty probe, re-validating on fresh binding")

	settle := time.NewTimer(c.timings.SettleDelay)
	defer settle.Stop()
	select {
	case <-settle.C:
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}

	fresh := c.directory.Channel(name)
	count, err := core.ProbeOccupancy(ctx, fresh, c.timings.RecoveryTimeout)
	if err != nil {
		c.releaseBinding(fresh)
		return nil, 0, err
	}
	return fresh, count, nil
}

// Disconnect tears the session down on operator request. Idempotent.
func (c *Coordinator) Disconnect(ctx context.Context) {
	c.runCleanup(ctx)
}

// Close is the shutdown path; same convergence as Disconnect.
func (c *Coordinator) Close(ctx context.Context) {
	c.runCleanup(ctx)
}

// releaseBinding unsubscribes and releases a channel that never became the
// active binding (reject and recovery paths).
func (c *Coordinator) releaseBinding(ch core.PresenceChannel) {
	if err := ch.Unsubscribe(); err != nil {
		log.Warn().Err(err).Str("module", "app.coordinator").Msg("unsubscribe on release failed")
	}
	c.directory.Release(ch)
}

func (c *Coordinator) failJoin(err error) error {
	c.mu.Lock()
	c.state = domain.StateIdle
	c.roomID = ""
	c.lastErr = err.Error()
	c.mu.Unlock()
	log.Warn().Err(err).Str("module", "app.coordinator").Msg("join attempt failed")
	return err
}

func (c *Coordinator) setLastErr(err error) {
	c.mu.Lock()
	c.lastErr = err.Error()
	c.mu.Unlock()
}

func (c *Coordinator) setConnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	// a stream arriving mid-teardown must not resurrect the session
	if c.state != domain.StateAdmitted {
		return
	}
	c.state = domain.StateConnected
	log.Info().Str("module", "app.coordinator").Str("room", string(c.roomID)).Msg("connected")
}

// Status is the UI-facing snapshot: status line plus the connected flag that
// gates the join/disconnect controls.
type Status struct {
	State      string `json:"state"`
	Status     string `json:"status"`
	Connected  bool   `json:"connected"`
	RoomID     string `json:"room_id,omitempty"`
	RemotePeer string `json:"remote_peer,omitempty"`
}

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		State:     c.state.String(),
		Status:    c.state.StatusText(),
		Connected: c.state == domain.StateConnected,
		RoomID:    string(c.roomID),
	}
	if c.session != nil {
		st.RemotePeer = c.session.remotePeerID()
	}
	if c.state == domain.StateIdle && c.lastErr != "" {
		st.Status = c.lastErr
	}
	return st
}

// State exposes the current lifecycle state for tests and the control surface.
func (c *Coordinator) State() domain.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
