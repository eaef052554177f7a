package guard

import "sync"

// Registry holds every tracked room in exactly one of two sets: unhandled
// (seeded by reconciliation, waiting for a detection pass) or live (consumed
// by the event dispatcher). One mutex guards both sets and every
// read-modify-write against an individual room, so interleaved events on the
// same room cannot lose an update.
type Registry struct {
	mu        sync.Mutex
	live      map[int64]*RoomState
	unhandled map[int64]*RoomState
}

func NewRegistry() *Registry {
	return &Registry{
		live:      map[int64]*RoomState{},
		unhandled: map[int64]*RoomState{},
	}
}

// SeedUnhandled queues rooms for the next detection pass. Rooms already
// tracked (either set) are left untouched.
func (r *Registry) SeedUnhandled(rooms ...*RoomState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, room := range rooms {
		if room == nil {
			continue
		}
		if _, ok := r.live[room.ID]; ok {
			continue
		}
		if _, ok := r.unhandled[room.ID]; ok {
			continue
		}
		r.unhandled[room.ID] = room
	}
}

// UnhandledSnapshot returns the current unhandled rooms. The detection loop
// is the only mutator of the rooms while they stay unhandled.
func (r *Registry) UnhandledSnapshot() []*RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*RoomState, 0, len(r.unhandled))
	for _, room := range r.unhandled {
		out = append(out, room)
	}
	return out
}

// Promote atomically moves a room from the unhandled set into the live
// registry, so the room id is never a member of both.
func (r *Registry) Promote(room *RoomState) {
	if room == nil {
		return
	}
	r.mu.Lock()
	delete(r.unhandled, room.ID)
	r.live[room.ID] = room
	r.mu.Unlock()
}

// Drop removes the given rooms from both sets.
func (r *Registry) Drop(ids ...int64) {
	if len(ids) == 0 {
		return
	}
	r.mu.Lock()
	for _, id := range ids {
		delete(r.live, id)
		delete(r.unhandled, id)
	}
	r.mu.Unlock()
}

// WithLive runs fn on the live room with the given id while holding the
// registry mutex. It reports whether the room is tracked. fn must not block
// on network calls.
func (r *Registry) WithLive(id int64, fn func(room *RoomState)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.live[id]
	if !ok {
		return false
	}
	fn(room)
	return true
}

// LiveIDs returns the ids currently in the live registry.
func (r *Registry) LiveIDs() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(r.live))
	for id := range r.live {
		ids = append(ids, id)
	}
	return ids
}

// UnhandledIDs returns the ids currently in the unhandled set.
func (r *Registry) UnhandledIDs() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(r.unhandled))
	for id := range r.unhandled {
		ids = append(ids, id)
	}
	return ids
}
