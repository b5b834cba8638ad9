package rtc

import (
	"errors"
	"io"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/Boseong0902/webRtc-poc/internal/core"
)

// remoteStream groups the inbound tracks of one remote media stream.
type remoteStream struct {
	id     string
	mu     sync.Mutex
	tracks []core.MediaTrack
}

func newRemoteStream(id string) *remoteStream {
	return &remoteStream{id: id}
}

func (s *remoteStream) ID() string { return s.id }

func (s *remoteStream) Tracks() []core.MediaTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.MediaTrack(nil), s.tracks...)
}

func (s *remoteStream) addTrack(t core.MediaTrack) {
	s.mu.Lock()
	s.tracks = append(s.tracks, t)
	s.mu.Unlock()
}

// remoteTrack drains the RTP receiver until stopped. Reading must keep going
// or pion stalls the transport.
type remoteTrack struct {
	track    *webrtc.TrackRemote
	stop     chan struct{}
	stopOnce sync.Once
}

func newRemoteTrack(tr *webrtc.TrackRemote) *remoteTrack {
	t := &remoteTrack{track: tr, stop: make(chan struct{})}
	go t.readLoop()
	return t
}

func (t *remoteTrack) Kind() string { return t.track.Kind().String() }

func (t *remoteTrack) Stop() error {
	t.stopOnce.Do(func() { close(t.stop) })
	return nil
}

func (t *remoteTrack) readLoop() {
	for {
		select {
		case <-t.stop:
			return
		default:
		}
		if _, _, err := t.track.ReadRTP(); err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Str("module", "rtc.stream").Str("kind", t.Kind()).Msg("remote track read ended")
			}
			return
		}
	}
}
