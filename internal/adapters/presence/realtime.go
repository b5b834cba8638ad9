// Package presence provides the directory client adapters: a websocket
// realtime driver speaking a phoenix-style presence protocol, and a redis
// driver for deployments that already run redis.
package presence

import (
	"github.com/Boseong0902/webRtc-poc/internal/core"
)

// RealtimeDirectory hands out channel bindings against a realtime presence
// endpoint. Each binding owns its own websocket connection, so discarding a
// binding and opening a fresh one really does start from a clean socket.
type RealtimeDirectory struct {
	url string
	key string
}

// NewRealtimeDirectory takes the directory websocket endpoint and the opaque
// access credential passed as a query parameter.
func NewRealtimeDirectory(url, key string) *RealtimeDirectory {
	return &RealtimeDirectory{url: url, key: key}
}

func (d *RealtimeDirectory) Channel(name string) core.PresenceChannel {
	return newRealtimeChannel(d.url, d.key, name)
}

func (d *RealtimeDirectory) Release(ch core.PresenceChannel) {
	if rc, ok := ch.(*realtimeChannel); ok {
		rc.close()
	}
}
