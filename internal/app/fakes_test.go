package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Boseong0902/webRtc-poc/internal/core"
	"github.com/Boseong0902/webRtc-poc/internal/domain"
)

func testTimings() Timings {
	return Timings{
		SyncTimeout:     20 * time.Millisecond,
		SettleDelay:     time.Millisecond,
		RecoveryTimeout: 20 * time.Millisecond,
	}
}

// fakeDirectory simulates the presence directory: a shared occupant set per
// channel name, observed through per-binding channels.
type fakeDirectory struct {
	mu           sync.Mutex
	rooms        map[string]map[string]domain.OccupantRecord
	bindings     int
	released     []*fakeChannel
	subscribeErr error
	trackErr     error
	untrackErr   error
	onBinding    func(n int) // called with the 1-based binding ordinal
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{rooms: make(map[string]map[string]domain.OccupantRecord)}
}

func (d *fakeDirectory) setOccupants(name string, recs ...domain.OccupantRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	occ := make(map[string]domain.OccupantRecord)
	for _, r := range recs {
		occ[string(r.ParticipantID)] = r
	}
	d.rooms[name] = occ
}

func (d *fakeDirectory) occupantCount(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.rooms[name])
}

func (d *fakeDirectory) Channel(name string) core.PresenceChannel {
	d.mu.Lock()
	d.bindings++
	n := d.bindings
	hook := d.onBinding
	d.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return &fakeChannel{
		dir:      d,
		name:     name,
		syncCh:   make(chan struct{}, 1),
		closedCh: make(chan struct{}),
	}
}

func (d *fakeDirectory) Release(ch core.PresenceChannel) {
	fc := ch.(*fakeChannel)
	d.mu.Lock()
	d.released = append(d.released, fc)
	d.mu.Unlock()
}

type fakeChannel struct {
	dir        *fakeDirectory
	name       string
	syncCh     chan struct{}
	closedCh   chan struct{}
	subscribed bool
	selfKey    string
}

func (c *fakeChannel) Subscribe(ctx context.Context) error {
	if err := c.dir.subscribeErr; err != nil {
		return err
	}
	c.subscribed = true
	// directories emit an initial sync for non-empty channels
	c.syncCh <- struct{}{}
	return nil
}

func (c *fakeChannel) SyncEvents() <-chan struct{} { return c.syncCh }
func (c *fakeChannel) Closed() <-chan struct{}     { return c.closedCh }

func (c *fakeChannel) Track(ctx context.Context, rec domain.OccupantRecord) error {
	if err := c.dir.trackErr; err != nil {
		return err
	}
	c.dir.mu.Lock()
	defer c.dir.mu.Unlock()
	occ, ok := c.dir.rooms[c.name]
	if !ok {
		occ = make(map[string]domain.OccupantRecord)
		c.dir.rooms[c.name] = occ
	}
	occ[string(rec.ParticipantID)] = rec
	c.selfKey = string(rec.ParticipantID)
	return nil
}

func (c *fakeChannel) Untrack(ctx context.Context) error {
	if err := c.dir.untrackErr; err != nil {
		return err
	}
	if c.selfKey == "" {
		return nil
	}
	c.dir.mu.Lock()
	defer c.dir.mu.Unlock()
	delete(c.dir.rooms[c.name], c.selfKey)
	c.selfKey = ""
	return nil
}

func (c *fakeChannel) Unsubscribe() error {
	c.subscribed = false
	return nil
}

func (c *fakeChannel) PresenceState() map[string]domain.OccupantRecord {
	c.dir.mu.Lock()
	defer c.dir.mu.Unlock()
	out := make(map[string]domain.OccupantRecord, len(c.dir.rooms[c.name]))
	for k, v := range c.dir.rooms[c.name] {
		out[k] = v
	}
	return out
}

// fakeFabric hands out one controllable handle per join.
type fakeFabric struct {
	mu      sync.Mutex
	joinErr error
	handles []*fakeHandle
}

func (f *fakeFabric) Join(ctx context.Context, roomID domain.RoomID) (core.RoomHandle, error) {
	if f.joinErr != nil {
		return nil, f.joinErr
	}
	h := &fakeHandle{
		events: make(chan core.PeerEvent, 16),
		done:   make(chan struct{}),
	}
	f.mu.Lock()
	f.handles = append(f.handles, h)
	f.mu.Unlock()
	return h, nil
}

func (f *fakeFabric) handle(t *testing.T) *fakeHandle {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.handles) == 0 {
		t.Fatal("fabric was never joined")
	}
	return f.handles[len(f.handles)-1]
}

type fakeHandle struct {
	mu        sync.Mutex
	attached  []string // stream ids from AddStream
	sentTo    []string // peer ids from AddStreamTo
	leaveErr  error
	leaves    int
	events    chan core.PeerEvent
	done      chan struct{}
	closeOnce sync.Once
}

func (h *fakeHandle) AddStream(src core.MediaStream) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attached = append(h.attached, src.ID())
	return nil
}

func (h *fakeHandle) AddStreamTo(src core.MediaStream, peerID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sentTo = append(h.sentTo, peerID)
	return nil
}

func (h *fakeHandle) Events() <-chan core.PeerEvent { return h.events }

func (h *fakeHandle) Leave() error {
	h.mu.Lock()
	h.leaves++
	err := h.leaveErr
	h.mu.Unlock()
	h.closeOnce.Do(func() {
		close(h.done)
		close(h.events)
	})
	return err
}

// drop closes the event stream without a departure event, the way the
// fabric does when its signaling socket dies.
func (h *fakeHandle) drop() {
	h.closeOnce.Do(func() {
		close(h.done)
		close(h.events)
	})
}

func (h *fakeHandle) emit(ev core.PeerEvent) {
	select {
	case <-h.done:
	case h.events <- ev:
	}
}

func (h *fakeHandle) sentToPeers() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.sentTo...)
}

func (h *fakeHandle) leaveCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leaves
}

// fakeMedia provides a source whose tracks record Stop calls.
type fakeMedia struct {
	mu         sync.Mutex
	acquireErr error
	acquired   int
}

func (m *fakeMedia) Acquire(ctx context.Context) (core.MediaStream, error) {
	if m.acquireErr != nil {
		return nil, m.acquireErr
	}
	m.mu.Lock()
	m.acquired++
	m.mu.Unlock()
	return newFakeStream("local-stream"), nil
}

type fakeStream struct {
	id     string
	tracks []*fakeTrack
}

func newFakeStream(id string) *fakeStream {
	return &fakeStream{id: id, tracks: []*fakeTrack{{kind: "audio"}, {kind: "video"}}}
}

func (s *fakeStream) ID() string { return s.id }

func (s *fakeStream) Tracks() []core.MediaTrack {
	out := make([]core.MediaTrack, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}

func (s *fakeStream) stoppedTracks() int {
	n := 0
	for _, t := range s.tracks {
		if t.stopped() {
			n++
		}
	}
	return n
}

type fakeTrack struct {
	mu    sync.Mutex
	kind  string
	stops int
}

func (t *fakeTrack) Kind() string { return t.kind }

func (t *fakeTrack) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stops++
	return nil
}

func (t *fakeTrack) stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops > 0
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
