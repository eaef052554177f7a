package guard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"goliveguard/internal/platform"
	logx "goliveguard/pkg/logx"
)

// evictionNotice carries everything needed to warn a member who was just
// removed from an over-limit room.
type evictionNotice struct {
	CommunityID int64
	RoomID      int64
	MemberID    int64
	Limit       int

	// Streamers is the room's remaining broadcaster snapshot.
	Streamers []StreamerInfo

	// DirectBlocked is set when the disconnect itself hit a permission wall;
	// the direct message is skipped and the room fallback is used right away.
	DirectBlocked bool
}

// Notifier delivers eviction warnings: a direct message first, then a
// moderator-tagged room notice when the direct path is blocked. Outbound
// sends are rate limited. There is no retry beyond the fallback; a member is
// never evicted silently, but a doubly-failed notice is only logged.
type Notifier struct {
	client    platform.Client
	limiter   *rate.Limiter
	modRoleID int64
	log       logx.Logger
}

func NewNotifier(client platform.Client, ratePerSec int, modRoleID int64, log logx.Logger) *Notifier {
	if ratePerSec <= 0 {
		ratePerSec = defaultWarnRatePerSec
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{
		client:    client,
		limiter:   rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
		modRoleID: modRoleID,
		log:       log,
	}
}

// WarnEvicted notifies the member per the fallback chain. It returns a
// PermissionDenied error when even the fallback could not be posted.
func (n *Notifier) WarnEvicted(ctx context.Context, ev evictionNotice) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return err
	}

	if !ev.DirectBlocked {
		err := n.client.DirectMessage(ctx, ev.MemberID, n.directWarning(ev))
		if err == nil {
			n.log.Debug("eviction warning delivered",
				logx.Int64("member_id", ev.MemberID), logx.Int64("room_id", ev.RoomID))
			return nil
		}
		if !errors.Is(err, platform.ErrForbidden) {
			n.log.Warn("eviction warning failed",
				logx.Int64("member_id", ev.MemberID), logx.Int64("room_id", ev.RoomID), logx.Err(err))
			return err
		}
		// Permission denied: fall through to the room-level notice.
	}

	if err := n.client.RoomMessage(ctx, ev.RoomID, n.fallbackNotice(ev)); err != nil {
		ge := &Error{Kind: KindPermissionDenied, CommunityID: ev.CommunityID, RoomID: ev.RoomID, Err: err}
		n.log.Warn("failed to send warning message to member",
			logx.Int64("member_id", ev.MemberID), logx.Err(ge))
		return ge
	}
	return nil
}

func (n *Notifier) directWarning(ev evictionNotice) platform.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Only %s allowed per voice room here.\n", limitPhrase(ev.Limit))
	b.WriteString("Please consider moving to another room or try again later.")
	if len(ev.Streamers) > 0 {
		mentions := make([]string, 0, len(ev.Streamers))
		for _, s := range ev.Streamers {
			mentions = append(mentions, n.client.MemberMention(s.MemberID))
		}
		fmt.Fprintf(&b, "\nCurrently live: %s", strings.Join(mentions, ", "))
	}
	return platform.Message{
		Content: fmt.Sprintf("%s, the room's stream limit has been reached.", n.client.MemberMention(ev.MemberID)),
		Embed:   b.String(),
	}
}

func (n *Notifier) fallbackNotice(ev evictionNotice) platform.Message {
	mention := ""
	if n.modRoleID != 0 {
		if m, ok := n.client.RoleMention(ev.CommunityID, n.modRoleID); ok {
			mention = " " + m
		}
	}
	since := n.client.Timestamp(time.Now())
	return platform.Message{
		Content: fmt.Sprintf("%s is streaming while exceeding %s stream limit since %s. Please take a look.%s",
			n.client.MemberMention(ev.MemberID), n.client.RoomMention(ev.RoomID), since, mention),
	}
}

func limitPhrase(limit int) string {
	if limit == 1 {
		return "1 stream is"
	}
	return fmt.Sprintf("%d streams are", limit)
}
