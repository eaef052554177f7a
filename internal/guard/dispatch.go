package guard

import (
	"context"
	"time"

	"goliveguard/internal/platform"
	logx "goliveguard/pkg/logx"
)

type transition struct {
	roomID int64
	live   bool
}

// streamTransitions classifies a presence change into broadcast-stop and/or
// broadcast-start transitions, each bound to a specific room. A member moving
// between rooms while streaming yields the stop first so no stale entry is
// left behind.
func streamTransitions(before, after *platform.VoiceState) []transition {
	var out []transition
	if before != nil && before.Streaming &&
		(after == nil || !after.Streaming || after.RoomID != before.RoomID) {
		out = append(out, transition{roomID: before.RoomID, live: false})
	}
	if after != nil && after.Streaming &&
		(before == nil || !before.Streaming || before.RoomID != after.RoomID) {
		out = append(out, transition{roomID: after.RoomID, live: true})
	}
	return out
}

// HandlePresence processes one real-time presence change. Events are ignored
// for service accounts, before initialization completes, and for rooms that
// are not tracked. Overflow caused by the event is resolved synchronously,
// within the same handling step.
func (s *Service) HandlePresence(ctx context.Context, ev platform.PresenceEvent) {
	if ev.Bot || !s.detector.Ready() {
		return
	}
	for _, tr := range streamTransitions(ev.Before, ev.After) {
		s.applyTransition(ctx, ev.MemberID, tr)
	}
}

func (s *Service) applyTransition(ctx context.Context, memberID int64, tr transition) {
	var (
		refreshWidget platform.Widget
		refreshCtx    platform.WidgetContext
		notice        *evictionNotice
	)

	tracked := s.reg.WithLive(tr.roomID, func(room *RoomState) {
		// Session transitions first: a finished session is cleared in place,
		// an active one is captured for an update outside the mutex.
		if w, ok := s.resolver.RefreshSession(room); ok {
			refreshWidget = w
			refreshCtx = platform.WidgetContext{
				Room:  platform.RoomSnapshot{ID: room.ID, CommunityID: room.CommunityID},
				Limit: room.StreamLimit,
			}
		}

		if !tr.live {
			delete(room.Streamers, memberID)
			return
		}

		room.Streamers[memberID] = StreamerInfo{MemberID: memberID, StartedAt: time.Now()}
		if len(room.Streamers) > room.StreamLimit {
			// LIFO single eviction: the member whose start pushed the room
			// over its limit is the one removed.
			delete(room.Streamers, memberID)
			notice = &evictionNotice{
				CommunityID: room.CommunityID,
				RoomID:      room.ID,
				MemberID:    memberID,
				Limit:       room.StreamLimit,
				Streamers:   room.snapshotStreamers(),
			}
		}
	})
	if !tracked {
		return
	}

	if refreshWidget != nil {
		if err := refreshWidget.Update(ctx, refreshCtx); err != nil {
			s.log.Warn("conflict widget update failed", logx.Int64("room_id", tr.roomID), logx.Err(err))
		}
	}

	if notice != nil {
		s.log.Info("stream limit reached; forced disconnection applies",
			logx.Int64("member_id", memberID), logx.Int64("room_id", tr.roomID))
		s.resolver.Evict(ctx, *notice)
	}

	s.log.Debug("stream info updated", logx.Int64("room_id", tr.roomID), logx.Bool("live", tr.live))
}
