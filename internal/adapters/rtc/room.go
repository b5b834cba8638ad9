package rtc

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/Boseong0902/webRtc-poc/internal/core"
	"github.com/Boseong0902/webRtc-poc/internal/domain"
)

// PionSource is implemented by local sources that carry pion tracks.
type PionSource interface {
	core.MediaStream
	PionTracks() []webrtc.TrackLocal
}

type signalMsg struct {
	Type          string   `json:"type"`
	From          string   `json:"from,omitempty"`
	To            string   `json:"to,omitempty"`
	Peer          string   `json:"peer,omitempty"`
	Peers         []string `json:"peers,omitempty"`
	SDP           string   `json:"sdp,omitempty"`
	Candidate     string   `json:"candidate,omitempty"`
	SDPMid        string   `json:"sdpMid,omitempty"`
	SDPMLineIndex uint16   `json:"sdpMLineIndex,omitempty"`
}

// Room is the fabric room handle. Capacity is bounded upstream, so it holds
// at most one peer connection at a time.
type Room struct {
	conn   *websocket.Conn
	cfg    webrtc.Configuration
	selfID string
	roomID domain.RoomID

	mu           sync.Mutex
	pc           *webrtc.PeerConnection
	remoteID     string
	peerGone     bool
	localTracks  []webrtc.TrackLocal
	known        []string
	streams      map[string]*remoteStream
	eventsClosed bool

	events    chan core.PeerEvent
	leaveOnce sync.Once
}

func newRoom(conn *websocket.Conn, cfg webrtc.Configuration, selfID string, roomID domain.RoomID) *Room {
	return &Room{
		conn:    conn,
		cfg:     cfg,
		selfID:  selfID,
		roomID:  roomID,
		streams: make(map[string]*remoteStream),
		events:  make(chan core.PeerEvent, 16),
	}
}

func (r *Room) Events() <-chan core.PeerEvent { return r.events }

// AddStream attaches the local source for peers already present in the room.
func (r *Room) AddStream(src core.MediaStream) error {
	ps, ok := src.(PionSource)
	if !ok {
		return fmt.Errorf("unsupported media source %T", src)
	}

	r.mu.Lock()
	r.localTracks = ps.PionTracks()
	peers := append([]string(nil), r.known...)
	r.mu.Unlock()

	for _, p := range peers {
		if err := r.initiateOffer(p); err != nil {
			return err
		}
	}
	return nil
}

// AddStreamTo sends the local source to one specific, later-arrived peer.
// With an established connection the tracks ride a renegotiation offer;
// before that they are attached when the peer's own offer is answered.
func (r *Room) AddStreamTo(src core.MediaStream, peerID string) error {
	ps, ok := src.(PionSource)
	if !ok {
		return fmt.Errorf("unsupported media source %T", src)
	}

	r.mu.Lock()
	r.localTracks = ps.PionTracks()
	pc := r.pc
	established := pc != nil && r.remoteID == peerID
	r.mu.Unlock()

	if !established {
		return r.initiateOffer(peerID)
	}
	if err := r.attachLocalTracks(pc); err != nil {
		return err
	}
	return r.sendOffer(pc, peerID)
}

func (r *Room) Leave() error {
	var err error
	r.leaveOnce.Do(func() {
		_ = r.send(signalMsg{Type: "leave", From: r.selfID})

		r.mu.Lock()
		pc := r.pc
		r.pc = nil
		r.eventsClosed = true
		close(r.events)
		r.mu.Unlock()

		if pc != nil {
			if cerr := pc.Close(); cerr != nil {
				err = fmt.Errorf("close peer connection: %w", cerr)
			}
		}
		_ = r.conn.Close()
		log.Info().Str("module", "rtc.room").Str("room", string(r.roomID)).Msg("left fabric room")
	})
	return err
}

func (r *Room) readPump() {
	defer func() {
		_ = r.Leave()
	}()
	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Str("module", "rtc.room").Msg("signaling read pump closing")
			return
		}
		r.handleSignal(data)
	}
}

func (r *Room) handleSignal(data []byte) {
	var msg signalMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warn().Err(err).Str("module", "rtc.room").Msg("bad signal json")
		return
	}

	switch msg.Type {
	case "peers":
		r.handlePeers(msg.Peers)
	case "join":
		r.emit(core.PeerEvent{Kind: core.PeerJoined, PeerID: msg.Peer})
	case "offer":
		r.handleOffer(msg)
	case "answer":
		r.handleAnswer(msg)
	case "candidate":
		r.handleCandidate(msg)
	case "leave":
		r.handlePeerLeave(msg.Peer)
	default:
		log.Warn().Str("module", "rtc.room").Str("type", msg.Type).Msg("unknown signal")
	}
}

func (r *Room) handlePeers(peers []string) {
	r.mu.Lock()
	r.known = peers
	haveMedia := len(r.localTracks) > 0
	r.mu.Unlock()

	if !haveMedia {
		return
	}
	for _, p := range peers {
		if err := r.initiateOffer(p); err != nil {
			log.Warn().Err(err).Str("module", "rtc.room").Str("peer", p).Msg("offer to present peer failed")
		}
	}
}

func (r *Room) handlePeerLeave(peerID string) {
	r.mu.Lock()
	pc := r.pc
	if r.remoteID == peerID {
		r.pc = nil
		r.remoteID = ""
	}
	already := r.peerGone
	r.peerGone = true
	r.mu.Unlock()

	if pc != nil {
		if err := pc.Close(); err != nil {
			log.Warn().Err(err).Str("module", "rtc.room").Msg("close on peer leave failed")
		}
	}
	if !already {
		r.emit(core.PeerEvent{Kind: core.PeerLeft, PeerID: peerID})
	}
}

// initiateOffer builds a connection toward peerID and sends the first offer.
func (r *Room) initiateOffer(peerID string) error {
	pc, err := r.ensurePeerConnection(peerID)
	if err != nil {
		return err
	}
	if err := r.attachLocalTracks(pc); err != nil {
		return err
	}
	return r.sendOffer(pc, peerID)
}

func (r *Room) sendOffer(pc *webrtc.PeerConnection, peerID string) error {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return err
	}
	return r.send(signalMsg{Type: "offer", From: r.selfID, To: peerID, SDP: offer.SDP})
}

func (r *Room) handleOffer(msg signalMsg) {
	r.mu.Lock()
	pc := r.pc
	glare := pc != nil && r.remoteID == msg.From && pc.SignalingState() == webrtc.SignalingStateHaveLocalOffer
	r.mu.Unlock()

	if glare {
		// both sides offered at once; the lower peer id's offer stands
		if r.selfID < msg.From {
			log.Debug().Str("module", "rtc.room").Str("peer", msg.From).Msg("glare, ignoring remote offer")
			return
		}
		r.mu.Lock()
		r.pc = nil
		r.mu.Unlock()
		_ = pc.Close()
	}

	pc, err := r.ensurePeerConnection(msg.From)
	if err != nil {
		log.Error().Err(err).Str("module", "rtc.room").Msg("peer connection for offer")
		return
	}
	if err := r.attachLocalTracks(pc); err != nil {
		log.Error().Err(err).Str("module", "rtc.room").Msg("attach tracks for answer")
		return
	}

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP}
	if err := pc.SetRemoteDescription(offer); err != nil {
		log.Error().Err(err).Str("module", "rtc.room").Msg("set remote offer")
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		log.Error().Err(err).Str("module", "rtc.room").Msg("create answer")
		return
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		log.Error().Err(err).Str("module", "rtc.room").Msg("set local answer")
		return
	}
	<-gatherComplete

	local := pc.LocalDescription()
	if err := r.send(signalMsg{Type: "answer", From: r.selfID, To: msg.From, SDP: local.SDP}); err != nil {
		log.Error().Err(err).Str("module", "rtc.room").Msg("send answer")
	}
}

func (r *Room) handleAnswer(msg signalMsg) {
	r.mu.Lock()
	pc := r.pc
	r.mu.Unlock()
	if pc == nil {
		log.Warn().Str("module", "rtc.room").Msg("answer without local offer")
		return
	}
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: msg.SDP}
	if err := pc.SetRemoteDescription(desc); err != nil {
		log.Error().Err(err).Str("module", "rtc.room").Msg("set remote answer")
	}
}

func (r *Room) handleCandidate(msg signalMsg) {
	r.mu.Lock()
	pc := r.pc
	r.mu.Unlock()
	if pc == nil {
		return
	}
	mid := msg.SDPMid
	idx := msg.SDPMLineIndex
	ci := webrtc.ICECandidateInit{Candidate: msg.Candidate, SDPMid: &mid, SDPMLineIndex: &idx}
	if err := pc.AddICECandidate(ci); err != nil {
		log.Warn().Err(err).Str("module", "rtc.room").Msg("add candidate")
	}
}

// ensurePeerConnection returns the connection toward peerID, creating and
// wiring it on first use.
func (r *Room) ensurePeerConnection(peerID string) (*webrtc.PeerConnection, error) {
	r.mu.Lock()
	if r.pc != nil && r.remoteID == peerID {
		pc := r.pc
		r.mu.Unlock()
		return pc, nil
	}
	r.mu.Unlock()

	pc, err := webrtc.NewPeerConnection(r.cfg)
	if err != nil {
		return nil, err
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		ci := cand.ToJSON()
		out := signalMsg{Type: "candidate", From: r.selfID, To: peerID, Candidate: ci.Candidate}
		if ci.SDPMid != nil {
			out.SDPMid = *ci.SDPMid
		}
		if ci.SDPMLineIndex != nil {
			out.SDPMLineIndex = *ci.SDPMLineIndex
		}
		if err := r.send(out); err != nil {
			log.Debug().Err(err).Str("module", "rtc.room").Msg("send candidate")
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc.room").Str("peer", peerID).Str("state", s.String()).Msg("peer state")
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			// connections replaced on glare or closed locally are detached
			// from the room first; only the live one signals a departure
			r.mu.Lock()
			current := r.pc == pc
			r.mu.Unlock()
			if current {
				r.handlePeerLeave(peerID)
			}
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc.room").
			Str("peer", peerID).
			Str("kind", track.Kind().String()).
			Str("stream_id", track.StreamID()).
			Msg("remote track")
		r.onRemoteTrack(peerID, track)
	})

	r.mu.Lock()
	r.pc = pc
	r.remoteID = peerID
	r.peerGone = false
	r.mu.Unlock()
	return pc, nil
}

func (r *Room) attachLocalTracks(pc *webrtc.PeerConnection) error {
	r.mu.Lock()
	tracks := append([]webrtc.TrackLocal(nil), r.localTracks...)
	r.mu.Unlock()

	senders := pc.GetSenders()
	for _, t := range tracks {
		already := false
		for _, s := range senders {
			if s.Track() == t {
				already = true
				break
			}
		}
		if already {
			continue
		}
		if _, err := pc.AddTrack(t); err != nil {
			return fmt.Errorf("add local track: %w", err)
		}
	}
	return nil
}

func (r *Room) onRemoteTrack(peerID string, track *webrtc.TrackRemote) {
	r.mu.Lock()
	stream, ok := r.streams[track.StreamID()]
	if !ok {
		stream = newRemoteStream(track.StreamID())
		r.streams[track.StreamID()] = stream
	}
	r.mu.Unlock()

	stream.addTrack(newRemoteTrack(track))
	if !ok {
		r.emit(core.PeerEvent{Kind: core.PeerStreamArrived, PeerID: peerID, Stream: stream})
	}
}

func (r *Room) emit(ev core.PeerEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.eventsClosed {
		return
	}
	select {
	case r.events <- ev:
	default:
		log.Warn().Str("module", "rtc.room").Str("peer", ev.PeerID).Msg("event buffer full, dropped")
	}
}

func (r *Room) send(msg signalMsg) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return r.conn.WriteJSON(msg)
}

const writeWait = 5 * time.Second
