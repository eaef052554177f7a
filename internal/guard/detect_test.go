package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"goliveguard/internal/eventbus"
	"goliveguard/internal/platform"
	"goliveguard/internal/store"
	logx "goliveguard/pkg/logx"
)

func newTestDetector(t *testing.T, fs *fakeStore, client *fakeClient, widgets *fakeWidgetFactory) (*Detector, *Registry, *Gateway) {
	t.Helper()
	reg := NewRegistry()
	gw := newTestGateway(t, fs, nil)
	resolver := newTestResolver(client, widgets)
	d := NewDetector(reg, gw, client, resolver, nil, 2, logx.Nop())
	return d, reg, gw
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestDetectorPassPromotesReachableRooms(t *testing.T) {
	t.Parallel()
	client := newFakeClient()
	client.rooms[10] = platform.RoomSnapshot{ID: 10, CommunityID: 1, Members: []platform.Member{
		{ID: 7, Streaming: true}, {ID: 9},
	}}
	d, reg, _ := newTestDetector(t, newFakeStore(), client, &fakeWidgetFactory{})
	reg.SeedUnhandled(NewRoomState(10, 1, 2))

	d.pass(context.Background())

	if got := reg.UnhandledIDs(); len(got) != 0 {
		t.Fatalf("unhandled = %v, want empty", got)
	}
	ok := reg.WithLive(10, func(r *RoomState) {
		if got := r.StreamerIDs(); len(got) != 1 || got[0] != 7 {
			t.Fatalf("streamers = %v, want seeded [7]", got)
		}
	})
	if !ok {
		t.Fatal("room was not promoted")
	}
}

func TestDetectorPassRemovesUnreachableRooms(t *testing.T) {
	t.Parallel()
	fs := newFakeStore(store.CommunityDoc{
		ID:    1,
		Watch: true,
		Rooms: map[int64]store.RoomSetup{10: {Limit: 1}, 11: {Limit: 1}},
	})
	client := newFakeClient()
	client.roomErr[10] = platform.ErrNotFound
	client.rooms[11] = platform.RoomSnapshot{ID: 11, CommunityID: 1}

	d, reg, _ := newTestDetector(t, fs, client, &fakeWidgetFactory{})
	reg.SeedUnhandled(NewRoomState(10, 1, 1), NewRoomState(11, 1, 1))

	d.pass(context.Background())

	if got := reg.UnhandledIDs(); len(got) != 0 {
		t.Fatalf("unhandled = %v, want empty", got)
	}
	if reg.WithLive(10, func(*RoomState) {}) {
		t.Fatal("unreachable room ended up live")
	}
	doc := fs.docs[1]
	if _, ok := doc.Rooms[10]; ok {
		t.Fatal("unreachable room still persisted")
	}
	if _, ok := doc.Rooms[11]; !ok {
		t.Fatal("reachable room lost its setup")
	}
}

func TestDetectorPassKeepsTransientFailures(t *testing.T) {
	t.Parallel()
	fs := newFakeStore()
	client := newFakeClient()
	client.roomErr[10] = errors.New("timeout")

	d, reg, _ := newTestDetector(t, fs, client, &fakeWidgetFactory{})
	reg.SeedUnhandled(NewRoomState(10, 1, 1))

	d.pass(context.Background())

	if got := reg.UnhandledIDs(); len(got) != 1 || got[0] != 10 {
		t.Fatalf("unhandled = %v, want [10]", got)
	}
	if fs.bulkCalls != 0 {
		t.Fatal("transient failure must not touch the store")
	}
}

func TestDetectorPassOpensSessionOnOverflow(t *testing.T) {
	t.Parallel()
	client := newFakeClient()
	client.rooms[10] = platform.RoomSnapshot{ID: 10, CommunityID: 1, Members: []platform.Member{
		{ID: 7, Streaming: true}, {ID: 8, Streaming: true},
	}}
	widgets := &fakeWidgetFactory{}
	d, reg, _ := newTestDetector(t, newFakeStore(), client, widgets)
	reg.SeedUnhandled(NewRoomState(10, 1, 1))

	d.pass(context.Background())

	ok := reg.WithLive(10, func(r *RoomState) {
		if r.Session == nil || r.Session.Finished() {
			t.Fatal("over-limit room has no active session")
		}
	})
	if !ok {
		t.Fatal("room was not promoted")
	}
	// Pre-existing overflow is surfaced, not force-resolved.
	if len(client.disconnected) != 0 {
		t.Fatalf("disconnected = %v, want nobody", client.disconnected)
	}
}

func TestDetectorPassSpawnFailureKeepsRoomUnhandled(t *testing.T) {
	t.Parallel()
	client := newFakeClient()
	client.rooms[10] = platform.RoomSnapshot{ID: 10, CommunityID: 1, Members: []platform.Member{
		{ID: 7, Streaming: true}, {ID: 8, Streaming: true},
	}}
	widgets := &fakeWidgetFactory{next: &fakeWidget{startErr: errors.New("boom")}}
	d, reg, _ := newTestDetector(t, newFakeStore(), client, widgets)
	reg.SeedUnhandled(NewRoomState(10, 1, 1))

	d.pass(context.Background())

	if got := reg.UnhandledIDs(); len(got) != 1 || got[0] != 10 {
		t.Fatalf("unhandled = %v, want [10] retried next pass", got)
	}
}

func TestDetectorRunReadinessAndSignals(t *testing.T) {
	t.Parallel()
	client := newFakeClient()
	client.rooms[10] = platform.RoomSnapshot{ID: 10, CommunityID: 1}

	reg := NewRegistry()
	gw := newTestGateway(t, newFakeStore(), nil)
	resolver := newTestResolver(client, &fakeWidgetFactory{})
	bus := eventbus.New()
	d := NewDetector(reg, gw, client, resolver, bus, 2, logx.Nop())

	hooked := make(chan struct{})
	d.SetReadyHook(func() { close(hooked) })
	busEvents, unsubBus := bus.Subscribe(4)
	defer unsubBus()

	reg.SeedUnhandled(NewRoomState(10, 1, 1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signals := make(chan eventbus.Event)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx, signals)
	}()

	waitFor(t, d.Ready, "detector never became ready")
	<-hooked
	if ev := <-busEvents; ev.Type != eventbus.TypeGuardReady {
		t.Fatalf("event = %q, want %q", ev.Type, eventbus.TypeGuardReady)
	}

	// A setup change wakes the loop and the new room gets handled.
	client.mu.Lock()
	client.rooms[11] = platform.RoomSnapshot{ID: 11, CommunityID: 1}
	client.mu.Unlock()
	reg.SeedUnhandled(NewRoomState(11, 1, 1))
	signals <- eventbus.Event{Type: eventbus.TypeSetupChanged}

	waitFor(t, func() bool {
		return reg.WithLive(11, func(*RoomState) {})
	}, "setup change did not trigger a pass")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on context cancel")
	}
}
