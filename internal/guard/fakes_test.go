package guard

import (
	"context"
	"sync"
	"time"

	"goliveguard/internal/platform"
	"goliveguard/internal/store"
)

// fakeStore is an in-memory store.Store with per-method error injection.
type fakeStore struct {
	mu   sync.Mutex
	docs map[int64]store.CommunityDoc

	pingErr    error
	findErr    error
	upsertErr  error
	deleteErr  error
	bulkErr    error
	failKeys   map[int64]error
	findCalls  int
	bulkCalls  int
	lastOps    map[int64]store.Op
	lastDelete []int64
}

func newFakeStore(docs ...store.CommunityDoc) *fakeStore {
	fs := &fakeStore{docs: map[int64]store.CommunityDoc{}}
	for _, d := range docs {
		fs.docs[d.ID] = d
	}
	return fs
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) FindAll(context.Context) ([]store.CommunityDoc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	out := make([]store.CommunityDoc, 0, len(f.docs))
	for _, d := range f.docs {
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeStore) FindOne(_ context.Context, id int64) (store.CommunityDoc, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findCalls++
	if f.findErr != nil {
		return store.CommunityDoc{}, false, f.findErr
	}
	d, ok := f.docs[id]
	return d, ok, nil
}

func (f *fakeStore) Upsert(_ context.Context, doc store.CommunityDoc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.docs[doc.ID] = doc
	return nil
}

func (f *fakeStore) DeleteOne(_ context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return false, f.deleteErr
	}
	_, ok := f.docs[id]
	delete(f.docs, id)
	return ok, nil
}

func (f *fakeStore) DeleteMany(_ context.Context, ids []int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastDelete = append([]int64(nil), ids...)
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	var n int64
	for _, id := range ids {
		if _, ok := f.docs[id]; ok {
			delete(f.docs, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) BulkWrite(_ context.Context, ops map[int64]store.Op) (map[int64]error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulkCalls++
	f.lastOps = ops
	if f.bulkErr != nil {
		return nil, f.bulkErr
	}
	failed := map[int64]error{}
	for id, op := range ops {
		if err, bad := f.failKeys[id]; bad {
			failed[id] = err
			continue
		}
		switch op.Kind {
		case store.OpDelete:
			delete(f.docs, id)
		case store.OpSetRooms:
			f.docs[id] = op.Doc
		case store.OpUnsetRooms:
			doc, ok := f.docs[id]
			if !ok {
				continue
			}
			for _, roomID := range op.RoomIDs {
				delete(doc.Rooms, roomID)
			}
			f.docs[id] = doc
		}
	}
	return failed, nil
}

func (f *fakeStore) Close() error { return nil }

// fakeClient is a scriptable platform.Client.
type fakeClient struct {
	mu sync.Mutex

	rooms    map[int64]platform.RoomSnapshot
	roomErr  map[int64]error
	roomsOf  map[int64][]int64
	roomsErr map[int64]error

	disconnectErr error
	dmErr         error
	roomMsgErr    error

	disconnected []int64
	dms          []platform.Message
	roomMsgs     []platform.Message
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		rooms:    map[int64]platform.RoomSnapshot{},
		roomErr:  map[int64]error{},
		roomsOf:  map[int64][]int64{},
		roomsErr: map[int64]error{},
	}
}

func (f *fakeClient) Start(ctx context.Context, _ chan<- platform.Update) error {
	<-ctx.Done()
	return nil
}
func (f *fakeClient) Stop(context.Context) error { return nil }

func (f *fakeClient) CommunityIDs() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]int64, 0, len(f.roomsOf))
	for id := range f.roomsOf {
		ids = append(ids, id)
	}
	return ids
}

func (f *fakeClient) RoomIDs(communityID int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.roomsErr[communityID]; err != nil {
		return nil, err
	}
	return f.roomsOf[communityID], nil
}

func (f *fakeClient) FetchRoom(_ context.Context, roomID int64) (platform.RoomSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.roomErr[roomID]; err != nil {
		return platform.RoomSnapshot{}, err
	}
	snap, ok := f.rooms[roomID]
	if !ok {
		return platform.RoomSnapshot{}, platform.ErrNotFound
	}
	return snap, nil
}

func (f *fakeClient) Disconnect(_ context.Context, _, memberID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = append(f.disconnected, memberID)
	return f.disconnectErr
}

func (f *fakeClient) DirectMessage(_ context.Context, _ int64, msg platform.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dmErr != nil {
		return f.dmErr
	}
	f.dms = append(f.dms, msg)
	return nil
}

func (f *fakeClient) RoomMessage(_ context.Context, _ int64, msg platform.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.roomMsgErr != nil {
		return f.roomMsgErr
	}
	f.roomMsgs = append(f.roomMsgs, msg)
	return nil
}

func (f *fakeClient) MemberMention(memberID int64) string { return "<@m>" }
func (f *fakeClient) RoomMention(roomID int64) string     { return "<#r>" }
func (f *fakeClient) RoleMention(_, _ int64) (string, bool) {
	return "<@&mods>", true
}
func (f *fakeClient) Timestamp(time.Time) string { return "<t:now>" }

// fakeWidget records lifecycle calls; finished is toggled by tests.
type fakeWidget struct {
	mu       sync.Mutex
	startErr error
	started  bool
	stopped  bool
	updates  int
	finished bool
}

func (w *fakeWidget) Start(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.startErr != nil {
		return w.startErr
	}
	w.started = true
	return nil
}

func (w *fakeWidget) Update(context.Context, platform.WidgetContext) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.updates++
	return nil
}

func (w *fakeWidget) Finished() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.finished
}

func (w *fakeWidget) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
}

func (w *fakeWidget) setFinished(v bool) {
	w.mu.Lock()
	w.finished = v
	w.mu.Unlock()
}

type fakeWidgetFactory struct {
	mu      sync.Mutex
	next    *fakeWidget
	created []*fakeWidget
}

func (f *fakeWidgetFactory) NewConflictWidget(_ platform.RoomSnapshot, _ []int64, _ int) platform.Widget {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := f.next
	if w == nil {
		w = &fakeWidget{}
	}
	f.next = nil
	f.created = append(f.created, w)
	return w
}
