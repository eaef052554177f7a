package guard

import (
	"context"
	"errors"

	"github.com/samber/lo"

	"goliveguard/internal/platform"
	"goliveguard/internal/store"
	logx "goliveguard/pkg/logx"
)

// Reconciler aligns the persisted setup with live room reality exactly once
// at startup: watched communities are loaded, rooms that no longer exist are
// queued for deletion, and everything still valid seeds the unhandled set for
// the detection loop.
type Reconciler struct {
	gw     *Gateway
	reg    *Registry
	client platform.Client
	log    logx.Logger
}

func NewReconciler(gw *Gateway, reg *Registry, client platform.Client, log logx.Logger) *Reconciler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reconciler{gw: gw, reg: reg, client: client, log: log}
}

// Run never blocks startup on an individual community: load errors are
// logged and that community's rooms simply stay pending.
func (r *Reconciler) Run(ctx context.Context) {
	r.log.Info("loading setup documents")

	docs, err := r.gw.All(ctx)
	if err != nil {
		r.log.Error("setup load failed; starting with an empty registry", logx.Err(err))
		return
	}

	var (
		staleCommunities []int64
		unsetOps         = map[int64]store.Op{}
		seeds            []*RoomState
	)

	for _, doc := range docs {
		if !doc.Watch {
			continue
		}

		actual, err := r.client.RoomIDs(doc.ID)
		if err != nil {
			if errors.Is(err, platform.ErrNotFound) {
				// The process no longer sees this community at all.
				staleCommunities = append(staleCommunities, doc.ID)
				continue
			}
			r.log.Warn("community load failed; skipping for now",
				logx.Int64("community_id", doc.ID), logx.Err(err))
			continue
		}

		configured := doc.RoomIDs()
		valid := lo.Intersect(configured, actual)
		stale := lo.Without(configured, valid...)

		if len(stale) > 0 {
			unsetOps[doc.ID] = store.Op{Kind: store.OpUnsetRooms, RoomIDs: stale}
		}
		for _, roomID := range valid {
			seeds = append(seeds, NewRoomState(roomID, doc.ID, doc.Rooms[roomID].Limit))
		}

		r.log.Info("found community setup",
			logx.Int64("community_id", doc.ID),
			logx.Int("unhandled_rooms", len(valid)),
			logx.Int("stale_rooms", len(stale)),
		)
	}

	r.reg.SeedUnhandled(seeds...)

	// Best-effort cleanup; anything that survives is re-queued by the
	// detection loop when it finds the room unreachable.
	if len(staleCommunities) > 0 {
		r.gw.DeleteMany(ctx, staleCommunities)
	}
	if len(unsetOps) > 0 {
		r.gw.BatchedWrite(ctx, unsetOps)
	}
}
