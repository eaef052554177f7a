package guard

import (
	"errors"
	"fmt"

	"goliveguard/internal/platform"
)

// Kind tags an Error with its failure class. Only KindNotReachable and
// confirmed partial-batch outcomes may cause persisted-state mutation; every
// other kind is local to its owning loop and retried on the next natural
// cycle.
type Kind int

const (
	// KindNotReachable: the room was deleted, is inaccessible, or returned
	// malformed data. Triggers cleanup of its persisted setup.
	KindNotReachable Kind = iota + 1
	// KindTransient: an external fetch or store call failed in a way that is
	// expected to heal; retried on the next scheduled pass.
	KindTransient
	// KindWidgetSpawn: the conflict widget could not be started. The session
	// stays in state none and the overflow is re-evaluated later.
	KindWidgetSpawn
	// KindPartialBatch: some keys of a batched write were rejected by the
	// store; failed keys are resubmitted by a later cycle, never internally.
	KindPartialBatch
	// KindPermissionDenied: a forced removal or direct notification was
	// blocked; handled by falling back to a room-level notice.
	KindPermissionDenied
	// KindValidation: malformed identity input; fails fast, never retried.
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindNotReachable:
		return "not_reachable"
	case KindTransient:
		return "transient"
	case KindWidgetSpawn:
		return "widget_spawn"
	case KindPartialBatch:
		return "partial_batch"
	case KindPermissionDenied:
		return "permission_denied"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error carries the failure class plus the identities it concerns, instead of
// a free-text message.
type Error struct {
	Kind        Kind
	CommunityID int64
	RoomID      int64
	Err         error
}

func (e *Error) Error() string {
	s := e.Kind.String()
	if e.CommunityID != 0 {
		s += fmt.Sprintf(" community=%d", e.CommunityID)
	}
	if e.RoomID != 0 {
		s += fmt.Sprintf(" room=%d", e.RoomID)
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is (or wraps) a guard Error of the given kind.
func IsKind(err error, k Kind) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Kind == k
}

// ClassifyFetch maps a live-room fetch error onto the taxonomy: the platform
// sentinels mean the room is permanently unreachable, anything else is
// transient.
func ClassifyFetch(communityID, roomID int64, err error) *Error {
	kind := KindTransient
	if errors.Is(err, platform.ErrNotFound) ||
		errors.Is(err, platform.ErrForbidden) ||
		errors.Is(err, platform.ErrInvalidData) {
		kind = KindNotReachable
	}
	return &Error{Kind: kind, CommunityID: communityID, RoomID: roomID, Err: err}
}

var errInvalidCommunityID = errors.New("community id must be positive")

// CommunityID is the normalized identifier accepted by cache invalidation.
// Call sites construct it from whatever identity they hold; invalid values
// fail fast instead of being inspected at runtime.
type CommunityID int64

func (id CommunityID) Validate() error {
	if id <= 0 {
		return &Error{Kind: KindValidation, CommunityID: int64(id), Err: errInvalidCommunityID}
	}
	return nil
}
