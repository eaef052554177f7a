package guard

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"goliveguard/internal/eventbus"
	"goliveguard/internal/store"
	logx "goliveguard/pkg/logx"
)

const pingAttempts = 3

// Gateway is the cache-aside facade over the setup document store.
//
// Reads go through a bounded LRU; every successful write invalidates the
// affected entries. The gateway never retries on its own: callers decide
// whether a failed operation is resubmitted on their next scheduled cycle.
type Gateway struct {
	store store.Store
	cache *lru.Cache[int64, store.CommunityDoc]
	bus   eventbus.Bus
	log   logx.Logger
}

func NewGateway(st store.Store, cacheSize int, bus eventbus.Bus, log logx.Logger) (*Gateway, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New[int64, store.CommunityDoc](cacheSize)
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Gateway{store: st, cache: cache, bus: bus, log: log}, nil
}

// Ping is the startup connectivity self-test. Failure after all attempts is
// fatal: the process cannot run without persistence.
func (g *Gateway) Ping(ctx context.Context) error {
	var last error
	for attempt := 1; attempt <= pingAttempts; attempt++ {
		if err := g.store.Ping(ctx); err != nil {
			last = err
			g.log.Warn("store ping failed", logx.Int("attempt", attempt), logx.Err(err))
			continue
		}
		g.log.Info("store ping ok", logx.Int("attempt", attempt))
		return nil
	}
	return fmt.Errorf("store unreachable after %d attempts: %w", pingAttempts, last)
}

// Get returns the community's setup document, reading through the cache. A
// community without a document yields the default empty setup (watch
// disabled). Read errors are logged and surfaced as the default; the caller's
// next cycle retries naturally.
func (g *Gateway) Get(ctx context.Context, communityID int64) store.CommunityDoc {
	if doc, ok := g.cache.Get(communityID); ok {
		return cloneDoc(doc)
	}

	doc, found, err := g.store.FindOne(ctx, communityID)
	if err != nil {
		g.log.Warn("setup read failed", logx.Int64("community_id", communityID), logx.Err(err))
		return emptyDoc(communityID)
	}
	if !found {
		doc = emptyDoc(communityID)
	}
	g.cache.Add(communityID, doc)
	return cloneDoc(doc)
}

// Update upserts the document's non-identity fields and invalidates its cache
// entry on success. A successful update also signals the detection loop via
// the event bus.
func (g *Gateway) Update(ctx context.Context, doc store.CommunityDoc) bool {
	if err := g.store.Upsert(ctx, doc); err != nil {
		g.log.Warn("setup update failed", logx.Int64("community_id", doc.ID), logx.Err(err))
		return false
	}
	_ = g.Invalidate(CommunityID(doc.ID))
	if g.bus != nil {
		g.bus.Publish(eventbus.Event{Type: eventbus.TypeSetupChanged, Data: doc.ID})
	}
	return true
}

// Delete removes one community document. The cache entry is invalidated
// regardless of the outcome.
func (g *Gateway) Delete(ctx context.Context, communityID int64) bool {
	deleted, err := g.store.DeleteOne(ctx, communityID)
	_ = g.Invalidate(CommunityID(communityID))
	if err != nil {
		g.log.Warn("setup delete failed", logx.Int64("community_id", communityID), logx.Err(err))
		return false
	}
	return deleted
}

// DeleteMany removes several community documents in one call, invalidating
// each cache entry regardless of outcome. Best-effort: failures are logged.
func (g *Gateway) DeleteMany(ctx context.Context, communityIDs []int64) bool {
	if len(communityIDs) == 0 {
		return true
	}
	for _, id := range communityIDs {
		_ = g.Invalidate(CommunityID(id))
	}
	n, err := g.store.DeleteMany(ctx, communityIDs)
	if err != nil {
		g.log.Warn("bulk setup delete failed", logx.Int("count", len(communityIDs)), logx.Err(err))
		return false
	}
	if n > 0 {
		g.log.Info("stale communities deleted", logx.Int64("deleted", n), logx.Int("requested", len(communityIDs)))
	}
	return true
}

// BatchedWrite executes all operations as one unordered batch and returns the
// set of community ids whose operation succeeded. Failed keys are excluded
// and left for the caller's next cycle; they are not retried here. Every
// succeeded id's cache entry is invalidated.
func (g *Gateway) BatchedWrite(ctx context.Context, ops map[int64]store.Op) map[int64]struct{} {
	if len(ops) == 0 {
		return nil
	}

	failed, err := g.store.BulkWrite(ctx, ops)
	if err != nil {
		g.log.Warn("batched write failed", logx.Int("ops", len(ops)), logx.Err(err))
		return nil
	}

	success := make(map[int64]struct{}, len(ops))
	for id := range ops {
		if cause, bad := failed[id]; bad {
			ge := &Error{Kind: KindPartialBatch, CommunityID: id, Err: cause}
			g.log.Warn("batched write rejected a key", logx.Err(ge))
			continue
		}
		success[id] = struct{}{}
		_ = g.Invalidate(CommunityID(id))
	}
	return success
}

// Invalidate drops one community's cache entry. Invalid ids fail fast with a
// Validation error and are never retried.
func (g *Gateway) Invalidate(id CommunityID) error {
	if err := id.Validate(); err != nil {
		return err
	}
	g.cache.Remove(int64(id))
	return nil
}

// All loads every setup document. Reads bypass the cache; reconciliation is
// the only caller and runs once.
func (g *Gateway) All(ctx context.Context) ([]store.CommunityDoc, error) {
	return g.store.FindAll(ctx)
}

func emptyDoc(communityID int64) store.CommunityDoc {
	return store.CommunityDoc{ID: communityID, Rooms: map[int64]store.RoomSetup{}}
}

func cloneDoc(doc store.CommunityDoc) store.CommunityDoc {
	rooms := make(map[int64]store.RoomSetup, len(doc.Rooms))
	for id, setup := range doc.Rooms {
		rooms[id] = setup
	}
	doc.Rooms = rooms
	return doc
}
