package guard

import (
	"sort"
	"time"

	"goliveguard/internal/platform"
)

// StreamerInfo records one live broadcaster in a room. Identity is the member
// id alone; the start timestamp is informational.
type StreamerInfo struct {
	MemberID  int64
	StartedAt time.Time
}

// RoomState is the tracked state of one voice room with a stream limit.
//
// A RoomState lives in exactly one of the registry's two sets (unhandled or
// live) at any instant. While unhandled it is owned exclusively by the
// detection loop; once live, every read-modify-write goes through the
// registry mutex.
type RoomState struct {
	ID          int64
	CommunityID int64
	StreamLimit int

	Streamers map[int64]StreamerInfo

	// Session is non-nil while a conflict session is open for this room.
	Session *ConflictSession
}

func NewRoomState(id, communityID int64, limit int) *RoomState {
	if limit <= 0 {
		limit = 1
	}
	return &RoomState{
		ID:          id,
		CommunityID: communityID,
		StreamLimit: limit,
		Streamers:   map[int64]StreamerInfo{},
	}
}

// StreamerIDs returns the current broadcaster ids in ascending order.
func (r *RoomState) StreamerIDs() []int64 {
	ids := make([]int64, 0, len(r.Streamers))
	for id := range r.Streamers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *RoomState) snapshotStreamers() []StreamerInfo {
	out := make([]StreamerInfo, 0, len(r.Streamers))
	for _, id := range r.StreamerIDs() {
		out = append(out, r.Streamers[id])
	}
	return out
}

// ConflictSession tracks one unresolved over-limit situation. It belongs
// exclusively to its RoomState; at most one is active per room.
type ConflictSession struct {
	Limit     int
	Streamers []int64

	widget platform.Widget
}

// Finished reports whether the interactive widget has concluded.
func (s *ConflictSession) Finished() bool {
	return s.widget == nil || s.widget.Finished()
}

// Config tunes the guard engine. Zero values fall back to the documented
// defaults.
type Config struct {
	// ModeratorRoleID is mentioned in the fallback notice posted to a room
	// when a direct warning cannot be delivered.
	ModeratorRoleID int64

	// SweepInterval is the fixed interval of the pending-deletion sweep.
	SweepInterval time.Duration

	// DetectBatchSize is how many rooms one detection pass processes before
	// yielding to the scheduler.
	DetectBatchSize int

	// WarnRatePerSec bounds outbound eviction warnings.
	WarnRatePerSec int

	// CacheSize bounds the community-setup read cache.
	CacheSize int
}

const (
	defaultSweepInterval   = 10 * time.Minute
	defaultDetectBatchSize = 10
	defaultWarnRatePerSec  = 1
	defaultCacheSize       = 128
)

func (c Config) withDefaults() Config {
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaultSweepInterval
	}
	if c.DetectBatchSize <= 0 {
		c.DetectBatchSize = defaultDetectBatchSize
	}
	if c.WarnRatePerSec <= 0 {
		c.WarnRatePerSec = defaultWarnRatePerSec
	}
	if c.CacheSize <= 0 {
		c.CacheSize = defaultCacheSize
	}
	return c
}
