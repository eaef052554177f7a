package guard

import (
	"context"
	"errors"

	"goliveguard/internal/platform"
	logx "goliveguard/pkg/logx"
)

// Resolver owns the per-room conflict state machine ({none, active,
// resolved}) and the forced-removal procedure.
type Resolver struct {
	widgets  platform.WidgetFactory
	client   platform.Client
	notifier *Notifier
	log      logx.Logger
}

func NewResolver(widgets platform.WidgetFactory, client platform.Client, notifier *Notifier, log logx.Logger) *Resolver {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Resolver{widgets: widgets, client: client, notifier: notifier, log: log}
}

// EnsureSession performs the none→active transition: it opens a conflict
// session with a fresh widget unless one is already active. A widget that
// fails to start leaves the session in state none; the overflow condition is
// re-evaluated on the next event or pass.
func (r *Resolver) EnsureSession(ctx context.Context, room *RoomState, snap platform.RoomSnapshot) error {
	if s := room.Session; s != nil && !s.Finished() {
		return nil
	}

	streaming := snap.StreamingMembers()
	ids := make([]int64, 0, len(streaming))
	for _, m := range streaming {
		ids = append(ids, m.ID)
	}

	w := r.widgets.NewConflictWidget(snap, ids, room.StreamLimit)
	if err := w.Start(ctx); err != nil {
		w.Stop()
		room.Session = nil
		return &Error{Kind: KindWidgetSpawn, CommunityID: room.CommunityID, RoomID: room.ID, Err: err}
	}
	room.Session = &ConflictSession{Limit: room.StreamLimit, Streamers: ids, widget: w}
	return nil
}

// RefreshSession applies the active→active and active→resolved transitions.
// A finished session is cleared in place; an active one has its limit
// refreshed and its widget returned so the caller can update it outside the
// registry mutex. ok is false when there is nothing to update.
func (r *Resolver) RefreshSession(room *RoomState) (w platform.Widget, ok bool) {
	s := room.Session
	if s == nil {
		return nil, false
	}
	if s.Finished() {
		room.Session = nil
		return nil, false
	}
	s.Limit = room.StreamLimit
	return s.widget, true
}

// Evict performs the forced-removal procedure for the member whose broadcast
// pushed the room over its limit: disconnect, then warn via the notifier's
// fallback chain.
func (r *Resolver) Evict(ctx context.Context, ev evictionNotice) {
	if err := r.client.Disconnect(ctx, ev.CommunityID, ev.MemberID); err != nil {
		if errors.Is(err, platform.ErrForbidden) {
			ev.DirectBlocked = true
		} else {
			r.log.Warn("forced disconnect failed",
				logx.Int64("member_id", ev.MemberID), logx.Int64("room_id", ev.RoomID), logx.Err(err))
		}
	}
	// The warning is never skipped: there is no silent eviction.
	_ = r.notifier.WarnEvicted(ctx, ev)
}
