package store

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("store closed")

// Config configures the community-setup store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// CommunityDoc is one community's persisted setup document.
//
// Rooms maps voice room id to its per-room setup. A community with Watch
// disabled is ignored by reconciliation.
type CommunityDoc struct {
	ID    int64
	Watch bool
	Rooms map[int64]RoomSetup
}

type RoomSetup struct {
	Limit int `json:"limit"`
}

// Empty reports whether the document carries no setup at all.
func (d CommunityDoc) Empty() bool {
	return !d.Watch && len(d.Rooms) == 0
}

// RoomIDs returns the configured room ids (unspecified order).
func (d CommunityDoc) RoomIDs() []int64 {
	ids := make([]int64, 0, len(d.Rooms))
	for id := range d.Rooms {
		ids = append(ids, id)
	}
	return ids
}

// OpKind selects what a bulk operation does to one community document.
type OpKind int

const (
	// OpDelete removes the whole document.
	OpDelete OpKind = iota + 1
	// OpSetRooms upserts the document's non-identity fields (watch + rooms).
	OpSetRooms
	// OpUnsetRooms removes individual room entries from the document.
	// Missing documents and missing rooms are not errors.
	OpUnsetRooms
)

// Op is one entry of a bulk write, keyed by community id at the call site.
type Op struct {
	Kind    OpKind
	Doc     CommunityDoc // OpSetRooms
	RoomIDs []int64      // OpUnsetRooms
}

// Store is the persistence API for community setup documents.
//
// BulkWrite mirrors an unordered multi-document write: every operation is
// attempted, failures are reported per key, and nothing is retried
// internally.
type Store interface {
	Ping(ctx context.Context) error

	FindAll(ctx context.Context) ([]CommunityDoc, error)
	FindOne(ctx context.Context, id int64) (CommunityDoc, bool, error)

	Upsert(ctx context.Context, doc CommunityDoc) error
	DeleteOne(ctx context.Context, id int64) (bool, error)
	DeleteMany(ctx context.Context, ids []int64) (int64, error)

	BulkWrite(ctx context.Context, ops map[int64]Op) (failed map[int64]error, err error)

	Close() error
}
