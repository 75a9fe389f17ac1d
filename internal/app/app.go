package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"straznik/internal/audit"
	"straznik/internal/command"
	"straznik/internal/config"
	"straznik/internal/eventbus"
	"straznik/internal/mirror"
	"straznik/internal/notifier"
	"straznik/internal/pipeline"
	"straznik/internal/reactionrole"
	rtsup "straznik/internal/runtime/supervisor"
	"straznik/internal/snapshot"
	"straznik/internal/stats"
	"straznik/internal/storage"
	"straznik/internal/transport"
	"straznik/internal/transport/discord"
	logx "straznik/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter  *discord.Adapter
	resolver *audit.Resolver
	router   *notifier.Router
	pipe     *pipeline.Pipeline
	roles    *reactionrole.Synchronizer
	cmds     *command.Dispatcher
	mirror   *mirror.Mirror
	stats    *stats.Reporter
}

// NewApp loads the config and wires every component. Nothing talks to
// Discord until Start.
func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load(ctx)
	if err != nil {
		return nil, err
	}

	// The Discord sink gets its sender once the adapter exists.
	logSvc, log := logx.New(mapLogConfig(cfg), nil)
	appLog := log.With(logx.String("comp", "app"))

	a := &App{cfgm: cfgm, log: appLog, logs: logSvc, bus: eventbus.New()}
	fail := func(err error) (*App, error) {
		a.close()
		return nil, err
	}

	a.store, err = OpenStore(cfg, log)
	if err != nil {
		return fail(err)
	}
	logMigration(appLog, a.store)

	dcfg, err := mapDiscordConfig(cfg)
	if err != nil {
		return fail(err)
	}
	a.adapter, err = discord.New(dcfg, log.With(logx.String("comp", "discord")))
	if err != nil {
		return fail(err)
	}
	logSvc.SetSender(a.adapter)

	window, err := attributionWindow(cfg)
	if err != nil {
		return fail(err)
	}
	a.resolver = audit.NewResolver(a.adapter, log.With(logx.String("comp", "audit")), audit.WithWindow(window))
	a.router = notifier.New(mapNotifierConfig(cfg), a.store, a.adapter, a.bus, log)
	a.pipe = pipeline.New(a.router, a.resolver, a.bus, log)

	reg, err := mapRegistry(cfg)
	if err != nil {
		return fail(err)
	}
	a.roles = reactionrole.NewSynchronizer(reg, a.adapter, a.adapter, a.adapter, a.bus, log)

	a.cmds = command.NewDispatcher(cfg.Discord.Prefix, dcfg.HandlerTimeout, log)
	a.cmds.Register("log", (&command.LogChannel{
		Store:    a.store,
		Perms:    a.adapter,
		Channels: a.adapter,
		Replier:  a.adapter,
		Bus:      a.bus,
	}).Handle)

	mcfg, err := mapMirrorConfig(cfg)
	if err != nil {
		return fail(err)
	}
	a.mirror, err = mirror.Connect(mcfg, log)
	if err != nil {
		// The mirror is optional; the bot runs without it.
		appLog.Warn("mirror unavailable", logx.Err(err))
	}

	a.stats = stats.New(mapStatsConfig(cfg), a.bus, a.adapter, log)
	a.stats.Watch("discord.adapter", func() rtsup.Counters { return a.adapter.Supervisor().Counters() })

	a.adapter.SetSinks(discord.Sinks{
		Event: func(ctx context.Context, ev snapshot.Event) { a.pipe.Handle(ctx, ev) },
		Reaction: func(ctx context.Context, r reactionrole.Reaction, added bool) {
			if added {
				a.roles.OnAdd(ctx, r)
			} else {
				a.roles.OnRemove(ctx, r)
			}
		},
		Message: func(ctx context.Context, m transport.Inbound) { a.cmds.Handle(ctx, m) },
	})

	appLog.Info("app configured",
		logx.String("storage", storageDriver(cfg)),
		logx.Int("reaction_roles", reg.Len()),
		logx.Duration("attribution_window", a.resolver.Window()),
		logx.Bool("mirror", a.mirror != nil),
	)
	return a, nil
}

// OpenStore opens the routing store the config selects. A disabled store
// is an error: every feature reads or writes routing.
func OpenStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, errors.New("storage.driver=none: the routing store is required")
	}
	st, err := storage.Open(sc, log)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return st, nil
}

func storageDriver(cfg *config.Config) string {
	sc, _, _ := mapStorageConfig(cfg)
	return sc.Driver
}

func logMigration(log logx.Logger, store storage.Store) {
	m, ok := store.(storage.Migrated)
	if !ok {
		return
	}
	rep := m.Migration()
	if rep.CreatedTable || len(rep.Added) > 0 {
		log.Info("routing store migrated",
			logx.Bool("created_table", rep.CreatedTable),
			logx.Strings("added", rep.Added),
		)
	}
	for _, err := range rep.Failed {
		log.Warn("routing store column unavailable", logx.Err(err))
	}
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
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.stats.Watch("app", a.sup.Counters)

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapDiscordConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapMirrorConfig(cfg); err != nil {
			return err
		}
		if _, err := mapRegistry(cfg); err != nil {
			return err
		}
		if sc := mapStatsConfig(cfg); sc.Enabled {
			if err := a.stats.Validate(sc.Schedule); err != nil {
				return err
			}
		}
		return nil
	})

	if err := a.adapter.Start(a.sup.Context()); err != nil {
		return err
	}

	if a.mirror != nil {
		a.sup.Go("mirror", func(c context.Context) error { return a.mirror.Run(c, a.bus) })
	}
	a.sup.Go("stats", a.stats.Run)

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", a.cfgm.Watch)

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Debug("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("app started")
	return nil
}

// applyConfig pushes the hot-reloadable sections into running components.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLogConfig(newCfg))

	if w, err := attributionWindow(newCfg); err != nil {
		a.log.Warn("invalid attribution window; keeping previous", logx.Err(err))
	} else {
		a.resolver.SetWindow(w)
	}

	a.router.Apply(mapNotifierConfig(newCfg))

	if err := a.stats.Apply(mapStatsConfig(newCfg)); err != nil {
		a.log.Warn("invalid stats config; keeping previous", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.close()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	a.step(ctx, "adapter", 3*time.Second, a.adapter.Stop)
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)
	a.step(ctx, "mirror", time.Second, func(context.Context) error { a.mirror.Close(); return nil })
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// close releases what NewApp opened when Start never ran.
func (a *App) close() {
	if a.store != nil {
		_ = a.store.Close()
	}
	a.mirror.Close()
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

// step runs one shutdown step bounded by max and by ctx's deadline, so one
// component can't stall the whole stop.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			a.log.Info("stop step finished after deadline",
				logx.String("name", name),
				logx.Err(err),
				logx.Duration("took", time.Since(start)),
			)
		}()
	}
}
