package rtc

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/Boseong0902/webRtc-poc/internal/core"
)

// MediaConfig names the local RTP ingest ports. The ports are bound
// exclusively; a second acquisition (or another process holding the port)
// fails the same way a busy capture device would.
type MediaConfig struct {
	AudioPort int
	VideoPort int
}

// RTPMediaProvider acquires the local outbound source from RTP ingest.
// The source is acquired once per process and shared by later sessions, the
// way a capture device would be.
type RTPMediaProvider struct {
	cfg    MediaConfig
	mu     sync.Mutex
	cached *LocalSource
}

func NewRTPMediaProvider(cfg MediaConfig) *RTPMediaProvider {
	return &RTPMediaProvider{cfg: cfg}
}

func (p *RTPMediaProvider) Acquire(ctx context.Context) (core.MediaStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cached != nil {
		return p.cached, nil
	}

	streamID := "local-" + uuid.NewString()
	src := &LocalSource{id: streamID}

	audio, err := newIngestTrack(p.cfg.AudioPort, streamID, "audio",
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2})
	if err != nil {
		return nil, fmt.Errorf("%w: audio: %v", core.ErrMediaUnavailable, err)
	}
	src.tracks = append(src.tracks, audio)

	video, err := newIngestTrack(p.cfg.VideoPort, streamID, "video",
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000})
	if err != nil {
		audio.stopListener()
		return nil, fmt.Errorf("%w: video: %v", core.ErrMediaUnavailable, err)
	}
	src.tracks = append(src.tracks, video)

	log.Info().Str("module", "rtc.media").Str("stream", streamID).
		Int("audio_port", p.cfg.AudioPort).Int("video_port", p.cfg.VideoPort).Msg("local source acquired")
	p.cached = src
	return src, nil
}

// LocalSource is the acquired outbound stream.
type LocalSource struct {
	id     string
	tracks []*ingestTrack
}

func (s *LocalSource) ID() string { return s.id }

func (s *LocalSource) Tracks() []core.MediaTrack {
	out := make([]core.MediaTrack, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}

func (s *LocalSource) PionTracks() []webrtc.TrackLocal {
	out := make([]webrtc.TrackLocal, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t.track)
	}
	return out
}

// ingestTrack forwards RTP packets from a UDP listener into a local track.
type ingestTrack struct {
	kind     string
	track    *webrtc.TrackLocalStaticRTP
	listener *net.UDPConn
	stopOnce sync.Once
}

func newIngestTrack(port int, streamID, kind string, codec webrtc.RTPCodecCapability) (*ingestTrack, error) {
	listener, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port})
	if err != nil {
		return nil, err
	}

	track, err := webrtc.NewTrackLocalStaticRTP(codec, kind, streamID)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	t := &ingestTrack{kind: kind, track: track, listener: listener}
	go t.forward()
	return t, nil
}

func (t *ingestTrack) Kind() string { return t.kind }

func (t *ingestTrack) Stop() error {
	t.stopListener()
	return nil
}

func (t *ingestTrack) stopListener() {
	t.stopOnce.Do(func() {
		if err := t.listener.Close(); err != nil {
			log.Warn().Err(err).Str("module", "rtc.media").Str("kind", t.kind).Msg("close listener")
		}
	})
}

func (t *ingestTrack) forward() {
	buf := make([]byte, 1500)
	for {
		n, _, err := t.listener.ReadFrom(buf)
		if err != nil {
			log.Debug().Err(err).Str("module", "rtc.media").Str("kind", t.kind).Msg("ingest loop ended")
			return
		}
		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			log.Warn().Err(err).Str("module", "rtc.media").Str("kind", t.kind).Msg("bad rtp packet")
			continue
		}
		if err := t.track.WriteRTP(&pkt); err != nil {
			log.Debug().Err(err).Str("module", "rtc.media").Str("kind", t.kind).Msg("write rtp")
		}
	}
}
