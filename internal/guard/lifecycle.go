package guard

import (
	"context"
	"sync"

	"goliveguard/internal/store"
	logx "goliveguard/pkg/logx"
)

// Lifecycle reacts to the process joining or leaving a community. Leaving
// purges the community's setup document and its tracked rooms; a purge that
// fails, or arrives before initialization, is parked and retried by the
// periodic sweep.
type Lifecycle struct {
	gw    *Gateway
	reg   *Registry
	ready func() bool
	log   logx.Logger

	mu      sync.Mutex
	pending map[int64][]int64
}

func NewLifecycle(gw *Gateway, reg *Registry, ready func() bool, log logx.Logger) *Lifecycle {
	if ready == nil {
		ready = func() bool { return true }
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Lifecycle{
		gw:      gw,
		reg:     reg,
		ready:   ready,
		log:     log,
		pending: map[int64][]int64{},
	}
}

// OnCommunityJoin only records the fact. No setup document is created until a
// room limit is actually configured.
func (l *Lifecycle) OnCommunityJoin(communityID int64) {
	l.log.Info("joined community", logx.Int64("community_id", communityID))
}

// OnCommunityLeave purges the community's document and drops its rooms from
// the registry. When the purge cannot complete it is deferred to the sweep.
func (l *Lifecycle) OnCommunityLeave(ctx context.Context, communityID int64) {
	doc := l.gw.Get(ctx, communityID)
	rooms := doc.RoomIDs()

	if l.ready() && l.gw.Delete(ctx, communityID) {
		l.reg.Drop(rooms...)
		l.log.Info("left community; setup purged",
			logx.Int64("community_id", communityID), logx.Int("rooms", len(rooms)))
		return
	}

	l.mu.Lock()
	l.pending[communityID] = rooms
	l.mu.Unlock()
	l.log.Warn("community deletion deferred", logx.Int64("community_id", communityID))
}

// Sweep retries every parked purge as one batch. Keys that fail again stay
// parked for the next sweep.
func (l *Lifecycle) Sweep(ctx context.Context) {
	l.mu.Lock()
	if len(l.pending) == 0 {
		l.mu.Unlock()
		return
	}
	ops := make(map[int64]store.Op, len(l.pending))
	for id := range l.pending {
		ops[id] = store.Op{Kind: store.OpDelete}
	}
	l.mu.Unlock()

	success := l.gw.BatchedWrite(ctx, ops)
	if len(success) == 0 {
		return
	}

	var purgedRooms []int64
	l.mu.Lock()
	for id := range success {
		purgedRooms = append(purgedRooms, l.pending[id]...)
		delete(l.pending, id)
	}
	remaining := len(l.pending)
	l.mu.Unlock()

	l.reg.Drop(purgedRooms...)
	l.log.Info("deferred community deletions swept",
		logx.Int("purged", len(success)), logx.Int("remaining", remaining))
}

// PendingCount reports how many purges are parked.
func (l *Lifecycle) PendingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}
