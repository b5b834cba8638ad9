package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Boseong0902/webRtc-poc/internal/core"
	"github.com/Boseong0902/webRtc-poc/internal/domain"
)

// inboundMedia is the registered remote stream plus its playback flags.
// Capacity is bounded to 2, so at most one of these exists at a time.
type inboundMedia struct {
	stream   core.MediaStream
	peerID   string
	muted    bool
	autoplay bool
}

// peerSession owns the fabric room handle for one admitted session.
type peerSession struct {
	handle core.RoomHandle
	local  core.MediaStream

	mu      sync.Mutex
	inbound *inboundMedia

	leaveOnce sync.Once
}

// setupSession joins the fabric room and attaches the local source. On any
// error the handle is left again so the caller holds no half-initialized
// session. The caller starts the event dispatcher once it owns the session.
func (c *Coordinator) setupSession(ctx context.Context, roomID domain.RoomID) (*peerSession, error) {
	handle, err := c.fabric.Join(ctx, roomID)
	if err != nil {
		return nil, err
	}

	s := &peerSession{handle: handle, local: c.localStream()}

	if s.local != nil {
		if err := handle.AddStream(s.local); err != nil {
			s.leave()
			return nil, err
		}
		log.Info().Str("module", "app.session").Str("stream", s.local.ID()).Msg("local source attached")
	}

	return s, nil
}

// dispatchPeerEvents consumes the handle's single ordered event stream.
// One consumer means stream-before-join and join-before-stream are the same
// code path; both arms are idempotent.
func (c *Coordinator) dispatchPeerEvents(s *peerSession) {
	for ev := range s.handle.Events() {
		switch ev.Kind {
		case core.PeerStreamArrived:
			if s.registerInbound(ev.Stream, ev.PeerID) {
				c.setConnected()
			}

		case core.PeerJoined:
			// The setup-time attach only reaches peers present at setup.
			// A late joiner must get the source re-sent explicitly or the
			// call ends up one-way.
			if s.local != nil {
				if err := s.handle.AddStreamTo(s.local, ev.PeerID); err != nil {
					log.Warn().Err(err).Str("module", "app.session").Str("peer", ev.PeerID).Msg("late-join re-send failed")
				} else {
					log.Info().Str("module", "app.session").Str("peer", ev.PeerID).Msg("local source re-sent to late joiner")
				}
			}

		case core.PeerLeft:
			log.Info().Str("module", "app.session").Str("peer", ev.PeerID).Msg("remote peer left")
			c.runCleanup(context.Background())
			return
		}
	}

	// The fabric dropped the room without a departure event (signaling
	// socket died). If this session is still the active one it must not
	// linger half-connected with its presence record tracked.
	c.mu.Lock()
	active := c.session == s
	c.mu.Unlock()
	if active {
		log.Warn().Str("module", "app.session").Msg("event stream closed by fabric, tearing down")
		c.runCleanup(context.Background())
	}
}

// registerInbound installs the remote stream once; duplicates are dropped.
func (s *peerSession) registerInbound(stream core.MediaStream, peerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inbound != nil {
		log.Debug().Str("module", "app.session").Str("peer", peerID).Msg("duplicate remote stream ignored")
		return false
	}
	s.inbound = &inboundMedia{stream: stream, peerID: peerID, muted: false, autoplay: true}
	log.Info().Str("module", "app.session").Str("peer", peerID).Str("stream", stream.ID()).Msg("remote stream registered")
	return true
}

func (s *peerSession) remotePeerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inbound == nil {
		return ""
	}
	return s.inbound.peerID
}

// stopInbound stops all tracks of the displayed remote stream, if any.
func (s *peerSession) stopInbound() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inbound == nil {
		return
	}
	for _, t := range s.inbound.stream.Tracks() {
		if err := t.Stop(); err != nil {
			log.Warn().Err(err).Str("module", "app.session").Str("kind", t.Kind()).Msg("stop inbound track failed")
		}
	}
	s.inbound = nil
}

// leave leaves the fabric room. Errors are logged, never fatal to the
// surrounding teardown.
func (s *peerSession) leave() {
	s.leaveOnce.Do(func() {
		if err := s.handle.Leave(); err != nil {
			log.Warn().Err(err).Str("module", "app.session").Msg("fabric leave failed")
		}
	})
}

func (c *Coordinator) localStream() core.MediaStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}
