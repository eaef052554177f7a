package guard

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"goliveguard/internal/eventbus"
	"goliveguard/internal/platform"
	"goliveguard/internal/store"
	logx "goliveguard/pkg/logx"
)

// Detector repeatedly scans the unhandled set: rooms that check out are
// promoted into the live registry, permanently unreachable rooms are queued
// for removal from the store, and transient failures stay put for the next
// pass. After the first completed pass a one-way initialization flag flips;
// real-time event handling is inert until then. Between passes the loop
// blocks until signaled by a setup change.
type Detector struct {
	reg      *Registry
	gw       *Gateway
	client   platform.Client
	resolver *Resolver
	bus      eventbus.Bus
	log      logx.Logger

	batchSize int
	kick      chan struct{}
	ready     atomic.Bool
	onReady   func()
}

func NewDetector(reg *Registry, gw *Gateway, client platform.Client, resolver *Resolver, bus eventbus.Bus, batchSize int, log logx.Logger) *Detector {
	if batchSize <= 0 {
		batchSize = defaultDetectBatchSize
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Detector{
		reg:       reg,
		gw:        gw,
		client:    client,
		resolver:  resolver,
		bus:       bus,
		log:       log,
		batchSize: batchSize,
		kick:      make(chan struct{}, 1),
	}
}

// Ready reports whether the first detection pass has completed.
func (d *Detector) Ready() bool { return d.ready.Load() }

// SetReadyHook installs a callback invoked once, when initialization
// completes. Must be called before Run.
func (d *Detector) SetReadyHook(fn func()) { d.onReady = fn }

// Kick requests another pass. Non-blocking; coalesces with a pending signal.
func (d *Detector) Kick() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Run executes passes for the process lifetime. signals delivers bus events;
// only setup changes trigger a new pass.
func (d *Detector) Run(ctx context.Context, signals <-chan eventbus.Event) error {
	for {
		d.pass(ctx)
		if ctx.Err() != nil {
			return nil
		}

		if d.ready.CompareAndSwap(false, true) {
			d.log.Info("all preparation done; live event handling enabled")
			if d.bus != nil {
				d.bus.Publish(eventbus.Event{Type: eventbus.TypeGuardReady})
			}
			if d.onReady != nil {
				d.onReady()
			}
		}

		// Wait until a setup change elsewhere warrants another pass.
	wait:
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-d.kick:
				break wait
			case ev, ok := <-signals:
				if !ok {
					signals = nil
					continue
				}
				if ev.Type == eventbus.TypeSetupChanged {
					break wait
				}
			}
		}
	}
}

// pass processes a snapshot of the unhandled set. After a fixed batch of
// rooms it yields to the scheduler so one huge community cannot starve other
// work.
func (d *Detector) pass(ctx context.Context) {
	snapshot := d.reg.UnhandledSnapshot()
	if len(snapshot) == 0 {
		return
	}

	var (
		removal      = map[int64]store.Op{}
		removedRooms []int64
		handled      int
		processed    int
	)
	yield := func() {
		processed++
		if processed >= d.batchSize {
			runtime.Gosched()
			processed = 0
		}
	}

	for _, room := range snapshot {
		if ctx.Err() != nil {
			return
		}

		snap, err := d.client.FetchRoom(ctx, room.ID)
		if err != nil {
			ge := ClassifyFetch(room.CommunityID, room.ID, err)
			if ge.Kind == KindNotReachable {
				d.log.Warn("room not found or forbidden or has invalid data; removing from store", logx.Err(ge))
				op := removal[room.CommunityID]
				op.Kind = store.OpUnsetRooms
				op.RoomIDs = append(op.RoomIDs, room.ID)
				removal[room.CommunityID] = op
				removedRooms = append(removedRooms, room.ID)
			} else {
				d.log.Warn("room fetch failed; should be handled later", logx.Err(ge))
			}
			yield()
			continue
		}

		streaming := snap.StreamingMembers()
		if len(streaming) > room.StreamLimit {
			d.log.Warn("stream limit exceeded",
				logx.Int64("room_id", room.ID),
				logx.Int("streamers", len(streaming)),
				logx.Int("limit", room.StreamLimit),
			)
			if err := d.resolver.EnsureSession(ctx, room, snap); err != nil {
				// Session stays none; the room remains unhandled and the
				// overflow is re-evaluated on the next pass.
				d.log.Warn("conflict widget failed to start", logx.Err(err))
				yield()
				continue
			}
		}

		if len(room.Streamers) == 0 {
			for _, m := range streaming {
				room.Streamers[m.ID] = StreamerInfo{MemberID: m.ID, StartedAt: time.Now()}
			}
		}

		d.reg.Promote(room)
		handled++
		d.log.Info("room handled", logx.Int64("room_id", room.ID), logx.Int64("community_id", room.CommunityID))
		yield()
	}

	if len(removedRooms) > 0 {
		d.reg.Drop(removedRooms...)
		d.gw.BatchedWrite(ctx, removal)
	}
	if handled > 0 {
		d.log.Info("detection pass complete", logx.Int("handled", handled), logx.Int("removed", len(removedRooms)))
	}
}
