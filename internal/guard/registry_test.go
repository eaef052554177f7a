package guard

import (
	"sort"
	"testing"
)

func TestRegistryRoomLivesInExactlyOneSet(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	room := NewRoomState(10, 1, 2)

	reg.SeedUnhandled(room)
	if got := reg.UnhandledIDs(); len(got) != 1 || got[0] != 10 {
		t.Fatalf("unhandled = %v, want [10]", got)
	}
	if got := reg.LiveIDs(); len(got) != 0 {
		t.Fatalf("live = %v, want empty", got)
	}

	reg.Promote(room)
	if got := reg.UnhandledIDs(); len(got) != 0 {
		t.Fatalf("unhandled after promote = %v, want empty", got)
	}
	if got := reg.LiveIDs(); len(got) != 1 || got[0] != 10 {
		t.Fatalf("live after promote = %v, want [10]", got)
	}

	// Re-seeding a live room must not duplicate it.
	reg.SeedUnhandled(NewRoomState(10, 1, 2))
	if got := reg.UnhandledIDs(); len(got) != 0 {
		t.Fatalf("unhandled after reseed = %v, want empty", got)
	}
}

func TestRegistrySeedSkipsTracked(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	first := NewRoomState(10, 1, 1)
	reg.SeedUnhandled(first)
	reg.SeedUnhandled(NewRoomState(10, 1, 5), NewRoomState(11, 1, 1), nil)

	snapshot := reg.UnhandledSnapshot()
	ids := make([]int64, 0, len(snapshot))
	for _, room := range snapshot {
		ids = append(ids, room.ID)
		if room.ID == 10 && room.StreamLimit != 1 {
			t.Fatalf("tracked room was replaced: limit = %d, want 1", room.StreamLimit)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) != 2 || ids[0] != 10 || ids[1] != 11 {
		t.Fatalf("unhandled = %v, want [10 11]", ids)
	}
}

func TestRegistryDropRemovesFromBothSets(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	live := NewRoomState(10, 1, 1)
	reg.SeedUnhandled(live, NewRoomState(11, 1, 1))
	reg.Promote(live)

	reg.Drop(10, 11, 999)
	if got := reg.LiveIDs(); len(got) != 0 {
		t.Fatalf("live = %v, want empty", got)
	}
	if got := reg.UnhandledIDs(); len(got) != 0 {
		t.Fatalf("unhandled = %v, want empty", got)
	}
}

func TestRegistryWithLive(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	room := NewRoomState(10, 1, 1)
	reg.SeedUnhandled(room)

	if reg.WithLive(10, func(*RoomState) {}) {
		t.Fatal("unhandled room must not be visible to WithLive")
	}

	reg.Promote(room)
	ok := reg.WithLive(10, func(r *RoomState) {
		r.Streamers[7] = StreamerInfo{MemberID: 7}
	})
	if !ok {
		t.Fatal("expected live room to be found")
	}
	reg.WithLive(10, func(r *RoomState) {
		if _, ok := r.Streamers[7]; !ok {
			t.Fatal("mutation under WithLive was lost")
		}
	})
}
