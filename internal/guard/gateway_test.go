package guard

import (
	"context"
	"errors"
	"testing"

	"goliveguard/internal/eventbus"
	"goliveguard/internal/store"
	logx "goliveguard/pkg/logx"
)

func newTestGateway(t *testing.T, fs *fakeStore, bus eventbus.Bus) *Gateway {
	t.Helper()
	gw, err := NewGateway(fs, 8, bus, logx.Nop())
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	return gw
}

func TestGatewayPingRetries(t *testing.T) {
	t.Parallel()
	fs := newFakeStore()
	fs.pingErr = errors.New("down")
	gw := newTestGateway(t, fs, nil)

	if err := gw.Ping(context.Background()); err == nil {
		t.Fatal("expected ping failure")
	}

	fs.pingErr = nil
	if err := gw.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestGatewayGetCachesAndDefaults(t *testing.T) {
	t.Parallel()
	fs := newFakeStore(store.CommunityDoc{
		ID:    1,
		Watch: true,
		Rooms: map[int64]store.RoomSetup{10: {Limit: 2}},
	})
	gw := newTestGateway(t, fs, nil)

	doc := gw.Get(context.Background(), 1)
	if !doc.Watch || doc.Rooms[10].Limit != 2 {
		t.Fatalf("unexpected doc: %+v", doc)
	}

	gw.Get(context.Background(), 1)
	if fs.findCalls != 1 {
		t.Fatalf("findCalls = %d, want 1 (second read from cache)", fs.findCalls)
	}

	// Mutating the returned copy must not leak into the cache.
	doc.Rooms[10] = store.RoomSetup{Limit: 99}
	again := gw.Get(context.Background(), 1)
	if again.Rooms[10].Limit != 2 {
		t.Fatalf("cache was mutated through a returned copy: %+v", again)
	}

	// A community without a document yields the empty default.
	missing := gw.Get(context.Background(), 7)
	if !missing.Empty() || missing.ID != 7 {
		t.Fatalf("missing doc = %+v, want empty default", missing)
	}
}

func TestGatewayGetErrorIsNotCached(t *testing.T) {
	t.Parallel()
	fs := newFakeStore(store.CommunityDoc{ID: 1, Watch: true})
	fs.findErr = errors.New("io")
	gw := newTestGateway(t, fs, nil)

	doc := gw.Get(context.Background(), 1)
	if !doc.Empty() {
		t.Fatalf("read error must yield the default, got %+v", doc)
	}

	fs.findErr = nil
	doc = gw.Get(context.Background(), 1)
	if !doc.Watch {
		t.Fatalf("recovered read still served the default: %+v", doc)
	}
}

func TestGatewayUpdateInvalidatesAndSignals(t *testing.T) {
	t.Parallel()
	fs := newFakeStore(store.CommunityDoc{ID: 1, Watch: false})
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()
	gw := newTestGateway(t, fs, bus)

	gw.Get(context.Background(), 1) // populate cache

	ok := gw.Update(context.Background(), store.CommunityDoc{
		ID:    1,
		Watch: true,
		Rooms: map[int64]store.RoomSetup{10: {Limit: 1}},
	})
	if !ok {
		t.Fatal("update failed")
	}

	doc := gw.Get(context.Background(), 1)
	if !doc.Watch {
		t.Fatalf("stale cache entry survived update: %+v", doc)
	}

	ev := <-events
	if ev.Type != eventbus.TypeSetupChanged {
		t.Fatalf("event = %q, want %q", ev.Type, eventbus.TypeSetupChanged)
	}
}

func TestGatewayUpdateFailure(t *testing.T) {
	t.Parallel()
	fs := newFakeStore()
	fs.upsertErr = errors.New("io")
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()
	gw := newTestGateway(t, fs, bus)

	if gw.Update(context.Background(), store.CommunityDoc{ID: 1}) {
		t.Fatal("expected failed update")
	}
	select {
	case ev := <-events:
		t.Fatalf("failed update must not signal, got %q", ev.Type)
	default:
	}
}

func TestGatewayBatchedWritePartialFailure(t *testing.T) {
	t.Parallel()
	fs := newFakeStore(
		store.CommunityDoc{ID: 1, Rooms: map[int64]store.RoomSetup{10: {Limit: 1}}},
		store.CommunityDoc{ID: 2, Rooms: map[int64]store.RoomSetup{20: {Limit: 1}}},
	)
	fs.failKeys = map[int64]error{2: errors.New("write conflict")}
	gw := newTestGateway(t, fs, nil)

	success := gw.BatchedWrite(context.Background(), map[int64]store.Op{
		1: {Kind: store.OpUnsetRooms, RoomIDs: []int64{10}},
		2: {Kind: store.OpUnsetRooms, RoomIDs: []int64{20}},
	})

	if _, ok := success[1]; !ok {
		t.Fatal("key 1 should have succeeded")
	}
	if _, ok := success[2]; ok {
		t.Fatal("rejected key reported as success")
	}

	// The failed key keeps its data; nothing retried it.
	if fs.bulkCalls != 1 {
		t.Fatalf("bulkCalls = %d, want 1", fs.bulkCalls)
	}
	doc := gw.Get(context.Background(), 2)
	if len(doc.Rooms) != 1 {
		t.Fatalf("failed key's doc changed: %+v", doc)
	}
}

func TestGatewayInvalidateRejectsInvalidID(t *testing.T) {
	t.Parallel()
	gw := newTestGateway(t, newFakeStore(), nil)
	if err := gw.Invalidate(CommunityID(0)); !IsKind(err, KindValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
}
