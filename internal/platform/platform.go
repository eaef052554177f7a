package platform

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors every Client implementation maps its transport errors onto.
// Anything else coming out of a Client is treated as transient by callers.
var (
	ErrNotFound    = errors.New("platform: not found")
	ErrForbidden   = errors.New("platform: forbidden")
	ErrInvalidData = errors.New("platform: invalid data")
)

// Member is one member currently connected to a voice room.
type Member struct {
	ID        int64
	Bot       bool
	Streaming bool
}

// RoomSnapshot is the live view of one voice room.
type RoomSnapshot struct {
	ID          int64
	CommunityID int64
	Name        string
	Members     []Member
}

// StreamingMembers returns the members currently broadcasting.
func (r RoomSnapshot) StreamingMembers() []Member {
	var out []Member
	for _, m := range r.Members {
		if m.Streaming {
			out = append(out, m)
		}
	}
	return out
}

// VoiceState is a member's voice presence in one room at one instant.
type VoiceState struct {
	RoomID    int64
	Streaming bool
}

// PresenceEvent is one real-time voice presence change.
// Before and/or After may be nil (joined from / left to nowhere).
type PresenceEvent struct {
	CommunityID int64
	MemberID    int64
	Bot         bool
	Before      *VoiceState
	After       *VoiceState
}

// CommunityEvent signals that the process joined or left a community.
type CommunityEvent struct {
	CommunityID int64
	Joined      bool
}

// Update is one event pulled off the platform connection.
// Exactly one field is non-nil.
type Update struct {
	Presence  *PresenceEvent
	Community *CommunityEvent
}

// Message is the payload for direct or room-level notifications.
type Message struct {
	Content string
	// Embed is an optional secondary block rendered under Content.
	Embed string
}

// Client is the platform surface the guard engine runs against.
//
// Connection and session handling live entirely behind this interface; the
// engine only ever sees ids, snapshots and sentinel errors.
type Client interface {
	// Start opens the connection and forwards events into out until ctx ends.
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	// CommunityIDs lists the communities currently visible to the process.
	CommunityIDs() []int64
	// RoomIDs lists the voice rooms visible in one community.
	RoomIDs(communityID int64) ([]int64, error)
	// FetchRoom returns the live membership of one room.
	FetchRoom(ctx context.Context, roomID int64) (RoomSnapshot, error)

	// Disconnect removes a member from whatever voice room they are in.
	Disconnect(ctx context.Context, communityID, memberID int64) error

	DirectMessage(ctx context.Context, memberID int64, msg Message) error
	RoomMessage(ctx context.Context, roomID int64, msg Message) error

	// Mention helpers; RoleMention reports ok=false when the role is unknown.
	MemberMention(memberID int64) string
	RoomMention(roomID int64) string
	RoleMention(communityID, roleID int64) (string, bool)

	// Timestamp renders t in the platform's native inline-timestamp markup.
	Timestamp(t time.Time) string
}

// WidgetContext carries the refreshable parts of a conflict widget.
type WidgetContext struct {
	Room  RoomSnapshot
	Limit int
}

// Widget is the interactive conflict-resolution surface for one room.
//
// Start creates and displays it; Update refreshes the displayed limit/room;
// Finished reports whether the interaction has concluded; Stop tears it down.
type Widget interface {
	Start(ctx context.Context) error
	Update(ctx context.Context, wc WidgetContext) error
	Finished() bool
	Stop()
}

// WidgetFactory builds a conflict widget for a room whose streamer count
// exceeds its limit.
type WidgetFactory interface {
	NewConflictWidget(room RoomSnapshot, streamerIDs []int64, limit int) Widget
}
