package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Boseong0902/webRtc-poc/internal/domain"
)

const writeWait = 5 * time.Second

// frame is the wire envelope of the realtime protocol.
type frame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Ref     string          `json:"ref,omitempty"`
}

type presencePayload struct {
	Type   string                 `json:"type"`
	Key    string                 `json:"key,omitempty"`
	Record *domain.OccupantRecord `json:"record,omitempty"`
}

type diffPayload struct {
	Joins  map[string]domain.OccupantRecord `json:"joins"`
	Leaves map[string]domain.OccupantRecord `json:"leaves"`
}

// realtimeChannel is one subscribed topic over its own websocket.
type realtimeChannel struct {
	url   string
	key   string
	topic string

	mu      sync.Mutex
	conn    *websocket.Conn
	state   map[string]domain.OccupantRecord
	selfKey string
	ref     int

	joined    chan error
	syncCh    chan struct{}
	closedCh  chan struct{}
	closeOnce sync.Once
}

func newRealtimeChannel(url, key, topic string) *realtimeChannel {
	return &realtimeChannel{
		url:      url,
		key:      key,
		topic:    topic,
		state:    make(map[string]domain.OccupantRecord),
		joined:   make(chan error, 1),
		syncCh:   make(chan struct{}, 1),
		closedCh: make(chan struct{}),
	}
}

func (c *realtimeChannel) Subscribe(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s?apikey=%s", c.url, c.key)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial directory: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readPump()

	if err := c.send("phx_join", nil); err != nil {
		c.close()
		return fmt.Errorf("join %s: %w", c.topic, err)
	}

	select {
	case err := <-c.joined:
		if err != nil {
			c.close()
			return err
		}
		log.Debug().Str("module", "presence.realtime").Str("topic", c.topic).Msg("subscribed")
		return nil
	case <-c.closedCh:
		return fmt.Errorf("connection closed during join of %s", c.topic)
	case <-ctx.Done():
		c.close()
		return ctx.Err()
	}
}

func (c *realtimeChannel) readPump() {
	defer c.close()
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Str("module", "presence.realtime").Str("topic", c.topic).Msg("read pump closing")
			return
		}
		c.handleFrame(data)
	}
}

func (c *realtimeChannel) handleFrame(data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		log.Warn().Err(err).Str("module", "presence.realtime").Msg("bad frame")
		return
	}
	switch f.Event {
	case "phx_reply":
		var reply struct {
			Status string `json:"status"`
		}
		_ = json.Unmarshal(f.Payload, &reply)
		if reply.Status != "ok" {
			c.deliverJoinResult(fmt.Errorf("join rejected: %s", reply.Status))
			return
		}
		c.deliverJoinResult(nil)
	case "presence_state":
		var state map[string]domain.OccupantRecord
		if err := json.Unmarshal(f.Payload, &state); err != nil {
			log.Warn().Err(err).Str("module", "presence.realtime").Msg("bad presence_state")
			return
		}
		c.mu.Lock()
		c.state = state
		c.mu.Unlock()
		c.signalSync()
	case "presence_diff":
		var diff diffPayload
		if err := json.Unmarshal(f.Payload, &diff); err != nil {
			log.Warn().Err(err).Str("module", "presence.realtime").Msg("bad presence_diff")
			return
		}
		c.mu.Lock()
		for k, rec := range diff.Joins {
			c.state[k] = rec
		}
		for k := range diff.Leaves {
			delete(c.state, k)
		}
		c.mu.Unlock()
		c.signalSync()
	case "phx_error", "phx_close":
		c.close()
	}
}

func (c *realtimeChannel) deliverJoinResult(err error) {
	select {
	case c.joined <- err:
	default:
	}
}

func (c *realtimeChannel) signalSync() {
	select {
	case c.syncCh <- struct{}{}:
	default:
	}
}

func (c *realtimeChannel) Track(ctx context.Context, rec domain.OccupantRecord) error {
	c.mu.Lock()
	c.selfKey = string(rec.ParticipantID)
	c.mu.Unlock()
	return c.send("presence", &presencePayload{Type: "track", Key: string(rec.ParticipantID), Record: &rec})
}

func (c *realtimeChannel) Untrack(ctx context.Context) error {
	c.mu.Lock()
	key := c.selfKey
	c.selfKey = ""
	c.mu.Unlock()
	if key == "" {
		return nil
	}
	return c.send("presence", &presencePayload{Type: "untrack", Key: key})
}

func (c *realtimeChannel) Unsubscribe() error {
	err := c.send("phx_leave", nil)
	c.close()
	if err != nil {
		// the socket may already be gone; unsubscribe of a dead binding is fine
		log.Debug().Err(err).Str("module", "presence.realtime").Str("topic", c.topic).Msg("leave frame not delivered")
	}
	return nil
}

func (c *realtimeChannel) send(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("channel %s not connected", c.topic)
	}
	c.ref++
	f := frame{Topic: c.topic, Event: event, Ref: strconv.Itoa(c.ref)}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		f.Payload = b
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(f)
}

func (c *realtimeChannel) SyncEvents() <-chan struct{} { return c.syncCh }
func (c *realtimeChannel) Closed() <-chan struct{}     { return c.closedCh }

func (c *realtimeChannel) PresenceState() map[string]domain.OccupantRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]domain.OccupantRecord, len(c.state))
	for k, v := range c.state {
		out[k] = v
	}
	return out
}

func (c *realtimeChannel) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.mu.Unlock()
		close(c.closedCh)
	})
}
