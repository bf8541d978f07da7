package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sipcore/internal/api"
	"sipcore/internal/config"
	"sipcore/internal/eventbus"
	"sipcore/internal/notifier"
	"sipcore/internal/pricing"
	"sipcore/internal/processor"
	rtsup "sipcore/internal/runtime/supervisor"
	"sipcore/internal/scheduler"
	"sipcore/internal/storage"
	logx "sipcore/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	// logLevel, when set, wins over logging.level (boot and reload).
	logLevel string

	root  logx.Logger
	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	prices *pricing.Switch
	proc   *processor.Processor
	sched  *scheduler.Supervisor
	api    *api.Service
	notif  *notifier.Service
}

type Option func(*App)

// WithLogLevel overrides the configured log level.
func WithLogLevel(level string) Option {
	return func(a *App) { a.logLevel = strings.TrimSpace(level) }
}

func NewApp(cfgPath string, opts ...Option) (*App, error) {
	a := &App{cfgPath: cfgPath}
	for _, o := range opts {
		if o != nil {
			o(a)
		}
	}

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logSvc, root := logx.New(a.loggingConfig(cfg))
	log := root.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, _ := mapStorageConfig(cfg)
	store, err := storage.Open(sc, root)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	pc, _ := mapPricingConfig(cfg)
	src, err := pricing.New(pc, root)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	prices := pricing.NewSwitch(src)

	proc := processor.New(store, prices, root, bus)

	a.cfgm = cfgm
	a.root, a.log, a.logs = root, log, logSvc
	a.bus = bus
	a.store = store
	a.prices = prices
	a.proc = proc
	return a, nil
}

func (a *App) loggingConfig(cfg *config.Config) logx.Config {
	lc := mapLoggingConfig(cfg)
	if a.logLevel != "" {
		lc.Level = a.logLevel
	}
	return lc
}

// validateConfig runs every section mapping; it is also the hot-reload gate.
func validateConfig(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	var errs []error
	if _, err := mapStorageConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapPricingConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, _, err := mapSchedulerConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapAPIConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapNotifyConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Scheduler returns the job supervisor (nil before Start).
func (a *App) Scheduler() *scheduler.Supervisor { return a.sched }

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
	cfg := a.cfgm.Get()

	a.cfgm.SetLogger(a.root.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error { return validateConfig(c) })

	// Alert sink: error logs become bus events. The hook must not block.
	a.logs.SetAlertHook(func(al logx.Alert) {
		a.bus.Publish(eventbus.Event{Type: eventbus.LogAlert, Time: al.Time, Data: al})
	})

	schedCfg, loc, err := mapSchedulerConfig(cfg)
	if err != nil {
		return err
	}
	a.sched, err = scheduler.New(a.proc, schedCfg, a.root, a.bus,
		scheduler.WithBaseContext(a.sup.Context()),
		scheduler.WithLocation(loc),
	)
	if err != nil {
		return err
	}
	if cfg.Scheduler.AutoStart {
		if err := a.sched.Start(nil); err != nil {
			return err
		}
	}

	apiCfg, err := mapAPIConfig(cfg)
	if err != nil {
		return err
	}
	a.api = api.New(apiCfg, api.Deps{
		Scheduler: a.sched,
		Ledger:    a.store,
		Health:    a.sup.Snapshot,
		Notifications: func() []notifier.HistoryItem {
			if a.notif == nil {
				return nil
			}
			return a.notif.Snapshot()
		},
	}, a.root)
	if apiCfg.Enabled {
		a.api.Start(a.sup.Context())
	}

	notifyCfg, err := mapNotifyConfig(cfg)
	if err != nil {
		return err
	}
	a.notif = notifier.New(notifyCfg, nil, a.root, a.bus)
	if notifyCfg.Enabled {
		a.notif.Start(a.sup.Context())
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.logEvent(e)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := cfg
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
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
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.String("config", a.cfgPath),
		logx.Bool("scheduler", cfg.Scheduler.AutoStart),
		logx.Bool("api", apiCfg.Enabled),
		logx.Bool("notify", notifyCfg.Enabled),
	)
	return nil
}

// logEvent mirrors bus traffic into the log. Alerts are skipped so an alert
// threshold at debug level cannot feed itself.
func (a *App) logEvent(e eventbus.Event) {
	switch e.Type {
	case eventbus.LogAlert:
		return
	case eventbus.TransactionFailed, eventbus.JobFailed:
		a.log.Warn("event", logx.String("type", e.Type), logx.Any("data", e.Data))
	case eventbus.PlanCompleted:
		a.log.Info("event", logx.String("type", e.Type), logx.Any("data", e.Data))
	default:
		a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	}
}

// applyConfig pushes a validated config into the live components. Storage
// and timezone changes need a restart.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	var failed []string
	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(a.loggingConfig(next))
		case "storage":
			a.log.Warn("storage config changed; restart required for changes to take effect")
		case "pricing":
			pc, err := mapPricingConfig(next)
			if err == nil {
				var src pricing.Source
				if src, err = pricing.New(pc, a.root); err == nil {
					a.prices.Set(src)
				}
			}
			if err != nil {
				failed = append(failed, s)
				a.log.Warn("invalid pricing config; keeping previous", logx.Err(err))
			}
		case "scheduler":
			if prev != nil && strings.TrimSpace(prev.Scheduler.Timezone) != strings.TrimSpace(next.Scheduler.Timezone) {
				a.log.Warn("scheduler timezone changed; restart required for changes to take effect")
			}
			sc, _, err := mapSchedulerConfig(next)
			if err == nil {
				err = a.sched.Apply(sc)
			}
			if err != nil {
				failed = append(failed, s)
				a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
			}
		case "api":
			ac, err := mapAPIConfig(next)
			if err != nil {
				failed = append(failed, s)
				a.log.Warn("invalid api config; keeping previous", logx.Err(err))
				continue
			}
			a.api.Reconfigure(ctx, ac)
		case "notify":
			nc, err := mapNotifyConfig(next)
			if err != nil {
				failed = append(failed, s)
				a.log.Warn("invalid notify config; keeping previous", logx.Err(err))
				continue
			}
			a.notif.Reconfigure(ctx, nc)
		}
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Data: sections})
	if len(failed) > 0 {
		fields = append(fields, logx.String("failed", strings.Join(failed, ",")))
	}
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel first so background loops and scheduled runs start unwinding.
	a.sup.Cancel()

	a.stopStep(ctx, "scheduler", 2*time.Second, func(context.Context) error {
		if a.sched != nil {
			a.sched.Stop()
		}
		return nil
	})
	a.stopStep(ctx, "api", 3*time.Second, func(c context.Context) error {
		if a.api != nil {
			a.api.Stop(c)
		}
		return nil
	})
	a.stopStep(ctx, "notifier", 2*time.Second, func(c context.Context) error {
		if a.notif != nil {
			a.notif.Stop(c)
		}
		return nil
	})
	a.stopStep(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.stopStep(ctx, "storage", 1*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// stopStep runs fn with an upper bound so one component can't stall the whole stop.
func (a *App) stopStep(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

	// respect the caller's deadline; never extend it
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	stepCtx, cancel := context.WithTimeout(ctx, max(limit, 0))
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
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			}
		}()
	}
}
