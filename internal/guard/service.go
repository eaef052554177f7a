package guard

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"goliveguard/internal/eventbus"
	"goliveguard/internal/platform"
	"goliveguard/internal/store"
	logx "goliveguard/pkg/logx"
)

// Service wires the guard engine together: the room registry, the setup
// gateway, the startup reconciler, the detection loop, the conflict resolver
// and the community lifecycle handler. One Service runs per process.
type Service struct {
	cfg Config
	log logx.Logger

	reg       *Registry
	gw        *Gateway
	reconcile *Reconciler
	detector  *Detector
	resolver  *Resolver
	lifecycle *Lifecycle
	bus       eventbus.Bus

	cron             *cron.Cron
	reconcileStarted chan struct{}
}

func New(cfg Config, st store.Store, client platform.Client, widgets platform.WidgetFactory, bus eventbus.Bus, log logx.Logger) (*Service, error) {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}

	gw, err := NewGateway(st, cfg.CacheSize, bus, log.With(logx.String("comp", "gateway")))
	if err != nil {
		return nil, fmt.Errorf("guard: gateway: %w", err)
	}

	reg := NewRegistry()
	notifier := NewNotifier(client, cfg.WarnRatePerSec, cfg.ModeratorRoleID, log.With(logx.String("comp", "notifier")))
	resolver := NewResolver(widgets, client, notifier, log.With(logx.String("comp", "resolver")))
	detector := NewDetector(reg, gw, client, resolver, bus, cfg.DetectBatchSize, log.With(logx.String("comp", "detector")))

	s := &Service{
		cfg:              cfg,
		log:              log,
		reg:              reg,
		gw:               gw,
		reconcile:        NewReconciler(gw, reg, client, log.With(logx.String("comp", "reconcile"))),
		detector:         detector,
		resolver:         resolver,
		bus:              bus,
		reconcileStarted: make(chan struct{}),
	}
	s.lifecycle = NewLifecycle(gw, reg, detector.Ready, log.With(logx.String("comp", "lifecycle")))
	return s, nil
}

// Run drives the engine for the process lifetime: store self-test, one-time
// reconciliation, then the detection loop until ctx is cancelled. A failed
// self-test is fatal.
func (s *Service) Run(ctx context.Context) error {
	if err := s.gw.Ping(ctx); err != nil {
		return err
	}

	// Real-time events may start flowing from here on; the dispatcher stays
	// inert until the first detection pass completes.
	close(s.reconcileStarted)
	s.reconcile.Run(ctx)

	signals, unsubscribe := s.bus.Subscribe(16)
	defer unsubscribe()
	return s.detector.Run(ctx, signals)
}

// ReconcileStarted is closed once the store self-test has passed and
// reconciliation has begun. The platform client should begin delivering
// events only after this point.
func (s *Service) ReconcileStarted() <-chan struct{} { return s.reconcileStarted }

// Ready reports whether initialization has completed.
func (s *Service) Ready() bool { return s.detector.Ready() }

// SetReadyHook installs a callback invoked once when initialization
// completes. Must be called before Run.
func (s *Service) SetReadyHook(fn func()) { s.detector.SetReadyHook(fn) }

// HandleUpdate routes one platform update to the matching handler.
func (s *Service) HandleUpdate(ctx context.Context, u platform.Update) {
	switch {
	case u.Presence != nil:
		s.HandlePresence(ctx, *u.Presence)
	case u.Community != nil:
		if u.Community.Joined {
			s.lifecycle.OnCommunityJoin(u.Community.CommunityID)
		} else {
			s.lifecycle.OnCommunityLeave(ctx, u.Community.CommunityID)
		}
	}
}

// Setup returns the community's current stream-limit setup.
func (s *Service) Setup(ctx context.Context, communityID int64) store.CommunityDoc {
	return s.gw.Get(ctx, communityID)
}

// UpdateSetup persists a community's stream-limit setup. A successful write
// also signals the detection loop. Rooms already live have their limit
// refreshed in place; new rooms are queued for the next detection pass.
func (s *Service) UpdateSetup(ctx context.Context, doc store.CommunityDoc) bool {
	if !s.gw.Update(ctx, doc) {
		return false
	}
	for roomID, setup := range doc.Rooms {
		limit := setup.Limit
		if limit <= 0 {
			limit = 1
		}
		refreshed := s.reg.WithLive(roomID, func(r *RoomState) {
			r.StreamLimit = limit
		})
		if !refreshed {
			s.reg.SeedUnhandled(NewRoomState(roomID, doc.ID, limit))
		}
	}
	return true
}

// StartSweeper schedules the periodic retry of deferred community purges.
func (s *Service) StartSweeper(ctx context.Context) error {
	c := cron.New()
	spec := "@every " + s.cfg.SweepInterval.String()
	if _, err := c.AddFunc(spec, func() { s.lifecycle.Sweep(ctx) }); err != nil {
		return fmt.Errorf("guard: sweeper schedule %q: %w", spec, err)
	}
	c.Start()
	s.cron = c
	s.log.Info("sweeper scheduled", logx.Duration("interval", s.cfg.SweepInterval))
	return nil
}

// Stop halts the sweeper and releases background work.
func (s *Service) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}
