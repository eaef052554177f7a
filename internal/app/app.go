package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"goliveguard/internal/config"
	"goliveguard/internal/eventbus"
	"goliveguard/internal/guard"
	"goliveguard/internal/platform"
	"goliveguard/internal/platform/discord"
	"goliveguard/internal/runtime/supervisor"
	"goliveguard/internal/store"
	logx "goliveguard/pkg/logx"
)

// App wires configuration, logging, the store, the Discord adapter and the
// guard engine, and owns the process lifecycle.
type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store store.Store

	adapter *discord.Adapter
	guard   *guard.Service

	updates chan platform.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	adapter, err := discord.New(discord.Config{Token: cfg.Discord.Token},
		log.With(logx.String("comp", "discord")))
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()

	storeCfg, err := mapStoreConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(storeCfg, log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, err
	}

	guardCfg, err := mapGuardConfig(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	widgets := discord.NewWidgetFactory(adapter, log.With(logx.String("comp", "widget")))
	guardSvc, err := guard.New(guardCfg, st, adapter, widgets, bus, log.With(logx.String("comp", "guard")))
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   st,
		adapter: adapter,
		guard:   guardSvc,
		updates: make(chan platform.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true),
	)

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapStoreConfig(cfg); err != nil {
			return err
		}
		if _, err := mapGuardConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	// Notify the service manager once the first detection pass is done.
	a.guard.SetReadyHook(func() {
		if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
			a.log.Warn("sd_notify failed", logx.Err(err))
		} else if ok {
			a.log.Debug("sd_notify ready sent")
		}
	})

	a.sup.Go("guard.run", func(c context.Context) error {
		return a.guard.Run(c)
	})

	// The gateway connection waits for the store self-test so events never
	// race a dead store.
	a.sup.Go("discord.adapter", func(c context.Context) error {
		select {
		case <-c.Done():
			return nil
		case <-a.guard.ReconcileStarted():
		}
		return a.adapter.Start(c, a.updates)
	})

	a.sup.Go0("updates.dispatch", func(c context.Context) {
		for {
			select {
			case <-c.Done():
				return
			case u := <-a.updates:
				a.guard.HandleUpdate(c, u)
			}
		}
	})

	if err := a.guard.StartSweeper(a.sup.Context()); err != nil {
		return err
	}

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.logs.Apply(logx.Config{
					Level:   newCfg.Logging.Level,
					Console: newCfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: newCfg.Logging.File.Enabled,
						Path:    newCfg.Logging.File.Path,
					},
				})
				// Everything outside logging needs a restart to take effect.
				a.log.Info("config reloaded; non-logging changes apply after restart")
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
	}

	a.guard.Stop()
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("store", time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Stop(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

func mapStoreConfig(cfg *config.Config) (store.Config, error) {
	busy, err := config.ParseDurationField("store.busy_timeout", cfg.Store.BusyTimeout)
	if err != nil {
		return store.Config{}, err
	}
	if cfg.Store.Path == "" {
		return store.Config{}, fmt.Errorf("store.path is required")
	}
	return store.Config{Path: cfg.Store.Path, BusyTimeout: busy}, nil
}

func mapGuardConfig(cfg *config.Config) (guard.Config, error) {
	sweep, err := config.ParseDurationField("guard.sweep_interval", cfg.Guard.SweepInterval)
	if err != nil {
		return guard.Config{}, err
	}
	if cfg.Guard.DetectBatchSize < 0 {
		return guard.Config{}, fmt.Errorf("guard.detect_batch_size must be >= 0")
	}
	if cfg.Guard.WarnRatePerSec < 0 {
		return guard.Config{}, fmt.Errorf("guard.warn_rate_per_sec must be >= 0")
	}
	if cfg.Guard.CacheSize < 0 {
		return guard.Config{}, fmt.Errorf("guard.cache_size must be >= 0")
	}
	return guard.Config{
		ModeratorRoleID: cfg.Discord.ModeratorRoleID,
		SweepInterval:   sweep,
		DetectBatchSize: cfg.Guard.DetectBatchSize,
		WarnRatePerSec:  cfg.Guard.WarnRatePerSec,
		CacheSize:       cfg.Guard.CacheSize,
	}, nil
}
