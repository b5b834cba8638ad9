package app

import (
	"context"
	"errors"
	"testing"

	"github.com/Boseong0902/webRtc-poc/internal/core"
	"github.com/Boseong0902/webRtc-poc/internal/domain"
)

func newTestCoordinator(dir *fakeDirectory, fab *fakeFabric, media *fakeMedia) *Coordinator {
	return NewCoordinator(dir, fab, media, testTimings())
}

func TestJoinRejectsFullRoom(t *testing.T) {
	dir := newFakeDirectory()
	dir.setOccupants("room-presence:r1",
		domain.NewOccupantRecord("a"),
		domain.NewOccupantRecord("b"),
	)
	fab := &fakeFabric{}
	c := newTestCoordinator(dir, fab, &fakeMedia{})

	err := c.Join(context.Background(), "r1")

	var rf *core.RoomFullError
	if !errors.As(err, &rf) {
		t.Fatalf("Join error = %v, want RoomFullError", err)
	}
	if rf.Count != 2 {
		t.Errorf("rejected count = %d, want 2", rf.Count)
	}
	if got := c.State(); got != domain.StateIdle {
		t.Errorf("state = %v, want idle", got)
	}
	if len(fab.handles) != 0 {
		t.Error("fabric joined despite rejection")
	}
	if len(dir.released) != 1 {
		t.Errorf("released bindings = %d, want 1", len(dir.released))
	}
	// the local client must not have tracked anything
	if dir.occupantCount("room-presence:r1") != 2 {
		t.Errorf("occupants = %d, want 2", dir.occupantCount("room-presence:r1"))
	}
}

func TestJoinWithOnePeerSkipsRecovery(t *testing.T) {
	dir := newFakeDirectory()
	dir.setOccupants("room-presence:r1", domain.NewOccupantRecord("a"))
	fab := &fakeFabric{}
	c := newTestCoordinator(dir, fab, &fakeMedia{})

	if err := c.Join(context.Background(), "r1"); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if dir.bindings != 1 {
		t.Errorf("bindings = %d, want 1 (no recovery pass for occupied room)", dir.bindings)
	}
	if got := dir.occupantCount("room-presence:r1"); got != 2 {
		t.Errorf("occupants after admit = %d, want 2", got)
	}
	if got := c.State(); got != domain.StateAdmitted {
		t.Errorf("state = %v, want admitted", got)
	}
}

func TestJoinRecoversApparentlyEmptyRoom(t *testing.T) {
	dir := newFakeDirectory()
	fab := &fakeFabric{}
	c := newTestCoordinator(dir, fab, &fakeMedia{})

	if err := c.Join(context.Background(), "r1"); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	// empty room: first binding discarded, fresh binding re-probed
	if dir.bindings != 2 {
		t.Errorf("bindings = %d, want 2", dir.bindings)
	}
	if len(dir.released) != 1 {
		t.Errorf("released = %d, want 1 (the discarded first binding)", len(dir.released))
	}
	if got := dir.occupantCount("room-presence:r1"); got != 1 {
		t.Errorf("occupants after admit = %d, want 1", got)
	}
	if got := c.State(); got != domain.StateAdmitted {
		t.Errorf("state = %v, want admitted", got)
	}
}

func TestJoinLosesRecoveryRace(t *testing.T) {
	dir := newFakeDirectory()
	// a competing client completes its track during the settling window
	dir.onBinding = func(n int) {
		if n == 2 {
			dir.setOccupants("room-presence:r1", domain.NewOccupantRecord("rival"))
		}
	}
	fab := &fakeFabric{}
	c := newTestCoordinator(dir, fab, &fakeMedia{})

	err := c.Join(context.Background(), "r1")

	var rf *core.RoomFullError
	if !errors.As(err, &rf) {
		t.Fatalf("Join error = %v, want RoomFullError", err)
	}
	if rf.Count != 1 {
		t.Errorf("rejected count = %d, want 1", rf.Count)
	}
	if got := c.State(); got != domain.StateIdle {
		t.Errorf("state = %v, want idle", got)
	}
	if len(dir.released) != 2 {
		t.Errorf("released = %d, want 2 (both bindings)", len(dir.released))
	}
	// the rival's record must be untouched
	if got := dir.occupantCount("room-presence:r1"); got != 1 {
		t.Errorf("occupants = %d, want 1", got)
	}
}

func TestJoinGuardsReentry(t *testing.T) {
	dir := newFakeDirectory()
	dir.setOccupants("room-presence:r1", domain.NewOccupantRecord("a"))
	fab := &fakeFabric{}
	c := newTestCoordinator(dir, fab, &fakeMedia{})

	if err := c.Join(context.Background(), "r1"); err != nil {
		t.Fatalf("first Join() error = %v", err)
	}
	if err := c.Join(context.Background(), "r2"); !errors.Is(err, core.ErrSessionActive) {
		t.Errorf("second Join error = %v, want ErrSessionActive", err)
	}
}

func TestJoinDirectoryUnavailable(t *testing.T) {
	dir := newFakeDirectory()
	dir.subscribeErr = errors.New("connection refused")
	fab := &fakeFabric{}
	c := newTestCoordinator(dir, fab, &fakeMedia{})

	err := c.Join(context.Background(), "r1")
	if !errors.Is(err, core.ErrDirectoryUnavailable) {
		t.Fatalf("Join error = %v, want ErrDirectoryUnavailable", err)
	}
	if got := c.State(); got != domain.StateIdle {
		t.Errorf("state = %v, want idle", got)
	}
}

func TestJoinMediaUnavailable(t *testing.T) {
	dir := newFakeDirectory()
	dir.setOccupants("room-presence:r1", domain.NewOccupantRecord("a"))
	fab := &fakeFabric{}
	media := &fakeMedia{acquireErr: errors.New("device busy")}
	c := newTestCoordinator(dir, fab, media)

	err := c.Join(context.Background(), "r1")
	if !errors.Is(err, core.ErrMediaUnavailable) {
		t.Fatalf("Join error = %v, want ErrMediaUnavailable", err)
	}
	if got := c.State(); got != domain.StateIdle {
		t.Errorf("state = %v, want idle (never admitted)", got)
	}
	// no presence record may be left behind
	if got := dir.occupantCount("room-presence:r1"); got != 1 {
		t.Errorf("occupants = %d, want 1", got)
	}
}

func TestJoinTrackFailureLeavesNoState(t *testing.T) {
	dir := newFakeDirectory()
	dir.setOccupants("room-presence:r1", domain.NewOccupantRecord("a"))
	dir.trackErr = errors.New("write failed")
	fab := &fakeFabric{}
	c := newTestCoordinator(dir, fab, &fakeMedia{})

	if err := c.Join(context.Background(), "r1"); err == nil {
		t.Fatal("Join() succeeded despite track failure")
	}
	if got := c.State(); got != domain.StateIdle {
		t.Errorf("state = %v, want idle", got)
	}
	if len(fab.handles) != 0 {
		t.Error("fabric joined despite track failure")
	}
}

// capacity bound: across an admit/leave/admit sequence no admit happens while
// the directory already shows two occupants.
func TestCapacityBoundAcrossJoinLeave(t *testing.T) {
	dir := newFakeDirectory()
	dir.setOccupants("room-presence:r1", domain.NewOccupantRecord("a"))
	fab := &fakeFabric{}
	c := newTestCoordinator(dir, fab, &fakeMedia{})

	if err := c.Join(context.Background(), "r1"); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if got := dir.occupantCount("room-presence:r1"); got != 2 {
		t.Fatalf("occupants = %d, want 2", got)
	}

	// a third client must be rejected while both records are present
	other := newTestCoordinator(dir, &fakeFabric{}, &fakeMedia{})
	if err := other.Join(context.Background(), "r1"); !core.IsRoomFull(err) {
		t.Fatalf("third client Join error = %v, want room full", err)
	}

	c.Disconnect(context.Background())
	if got := dir.occupantCount("room-presence:r1"); got != 1 {
		t.Fatalf("occupants after leave = %d, want 1", got)
	}

	// with a slot free again the next attempt is admitted
	if err := other.Join(context.Background(), "r1"); err != nil {
		t.Fatalf("rejoin after slot freed error = %v", err)
	}
}

func TestStatusSurface(t *testing.T) {
	dir := newFakeDirectory()
	dir.setOccupants("room-presence:r1", domain.NewOccupantRecord("a"))
	fab := &fakeFabric{}
	c := newTestCoordinator(dir, fab, &fakeMedia{})

	st := c.Status()
	if st.Connected {
		t.Error("idle status reports connected")
	}

	if err := c.Join(context.Background(), "r1"); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	st = c.Status()
	if st.State != "admitted" || st.Connected {
		t.Errorf("status = %+v, want admitted and not connected", st)
	}
	if st.RoomID != "r1" {
		t.Errorf("room id = %q, want r1", st.RoomID)
	}

	fab.handle(t).emit(core.PeerEvent{Kind: core.PeerStreamArrived, PeerID: "p2", Stream: newFakeStream("remote")})
	waitFor(t, func() bool { return c.Status().Connected }, "connected status")
}
