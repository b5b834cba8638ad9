// Package rtc binds the peer-connection fabric: pion peer connections with
// offer/answer/candidate exchange over a websocket signaling endpoint.
package rtc

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/Boseong0902/webRtc-poc/internal/core"
	"github.com/Boseong0902/webRtc-poc/internal/domain"
)

type TURNConfig struct {
	URL        string
	Username   string
	Credential string
}

type Config struct {
	SignalURL   string
	STUNServers []string
	TURN        TURNConfig
}

// Fabric joins pion-backed rooms over the configured signaling endpoint.
type Fabric struct {
	cfg Config
}

func NewFabric(cfg Config) *Fabric {
	return &Fabric{cfg: cfg}
}

func (f *Fabric) webrtcConfig() webrtc.Configuration {
	servers := []webrtc.ICEServer{}
	if len(f.cfg.STUNServers) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: f.cfg.STUNServers})
	}
	if f.cfg.TURN.URL != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{f.cfg.TURN.URL},
			Username:   f.cfg.TURN.Username,
			Credential: f.cfg.TURN.Credential,
		})
	}
	return webrtc.Configuration{ICEServers: servers}
}

// Join dials the signaling endpoint for roomID and returns a live handle.
func (f *Fabric) Join(ctx context.Context, roomID domain.RoomID) (core.RoomHandle, error) {
	peerID := uuid.NewString()
	endpoint := fmt.Sprintf("%s?room=%s&peer=%s", f.cfg.SignalURL, roomID, peerID)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial fabric signaling: %w", err)
	}

	r := newRoom(conn, f.webrtcConfig(), peerID, roomID)
	go r.readPump()

	log.Info().Str("module", "rtc.fabric").Str("room", string(roomID)).Str("peer", peerID).Msg("joined fabric room")
	return r, nil
}
