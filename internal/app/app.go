package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"steamwatch/internal/command"
	"steamwatch/internal/config"
	"steamwatch/internal/eventbus"
	"steamwatch/internal/notifier"
	"steamwatch/internal/observability"
	"steamwatch/internal/resolve"
	rtsup "steamwatch/internal/runtime/supervisor"
	"steamwatch/internal/state"
	"steamwatch/internal/steamapi"
	"steamwatch/internal/storage"
	"steamwatch/internal/task/scheduler"
	"steamwatch/internal/transport"
	"steamwatch/internal/transport/discord"
	"steamwatch/internal/transport/telegram"
	"steamwatch/internal/watch"
	"steamwatch/pkg/logx"
)

// Options are the command-line overrides.
type Options struct {
	ConfigPath string
	LogLevel   string
}

type App struct {
	opts Options

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  *eventbus.MemBus

	store    storage.Store
	state    *state.Service
	steam    *steamapi.Client
	resolver *resolve.Resolver
	router   *notifier.Router
	engine   *watch.Engine
	cmds     *command.Dispatcher
	sched    *scheduler.Service
	maint    *maintenance
	obs      *observability.Service

	adapters []transport.Adapter
	updates  chan transport.Update
}

// New loads the config and builds every component. Nothing runs until Start.
func New(ctx context.Context, opts Options) (*App, error) {
	cfgm := config.NewConfigManager(opts.ConfigPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateMaintenance(cfg); err != nil {
		return nil, err
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}

	logSvc, root := logx.New(mapLogConfig(cfg, opts.LogLevel))
	log := root.With(logx.String("comp", "app"))

	store, err := storage.Open(sc, root)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a := &App{
		opts:    opts,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
		store:   store,
		updates: make(chan transport.Update, 256),
	}
	if err := a.build(ctx, cfg, root); err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, cfg *config.Config, root logx.Logger) error {
	norm := mapNormalizer(cfg)

	a.state = state.New(a.store, norm, root)
	loadCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := a.state.Load(loadCtx); err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	steam, err := steamapi.New(mapSteamConfig(cfg), root)
	if err != nil {
		return err
	}
	a.steam = steam
	if !steam.HasKey() {
		a.log.Warn("steam api key is not configured; polling and lookups will fail")
	}
	a.resolver = resolve.New(a.state, steam, cfg.ResolveCacheTTL(), root)
	a.router = notifier.New(mapNotifierConfig(cfg), norm, a.state, a.store, a.bus, root)

	a.engine = watch.New(watch.Options{
		Fetcher:      steam,
		Watch:        a.state,
		Router:       a.router,
		Bus:          a.bus,
		Log:          root,
		Interval:     a.pollInterval,
		NotifyOnStop: func() bool { return a.cfgm.Get().Watch.NotifyOnStop },
	})

	a.sched = scheduler.New(mapSchedulerConfig(cfg), root, a.bus)

	a.cmds = command.New(command.Deps{
		State:    a.state,
		Resolver: a.resolver,
		Steam:    steam,
		Engine:   a.engine,
		Router:   a.router,
		Audit:    a.store,
		Jobs:     a.sched,
		Config:   a.cfgm.Get,
		Log:      root,
	}, command.Options{})

	if err := a.buildAdapters(cfg, root); err != nil {
		return err
	}

	a.logs.SetAlertSender(func(ctx context.Context, text string) error {
		aud := strings.TrimSpace(a.cfgm.Get().Logging.Alert.Audience)
		if aud == "" {
			return nil
		}
		return a.router.Send(ctx, aud, text)
	})

	a.maint = &maintenance{
		state: a.state,
		store: a.store,
		norm:  a.router.Normalizer,
		cfg:   a.cfgm.Get,
		log:   root.With(logx.String("comp", "maintenance")),
		now:   time.Now,
	}
	if err := a.maint.apply(a.sched, cfg); err != nil {
		return err
	}

	a.obs = observability.New(mapObservabilityConfig(cfg), root)
	return a.registerObservability()
}

func (a *App) buildAdapters(cfg *config.Config, root logx.Logger) error {
	if tok := strings.TrimSpace(cfg.Telegram.Token); tok != "" {
		tg, err := telegram.New(telegram.Config{Token: tok, PollTimeout: durationOf(cfg.Telegram.PollTimeout)}, root)
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		a.adapters = append(a.adapters, tg)
	}
	if tok := strings.TrimSpace(cfg.Discord.Token); tok != "" {
		dc, err := discord.New(discord.Config{Token: tok}, root)
		if err != nil {
			return fmt.Errorf("discord: %w", err)
		}
		a.adapters = append(a.adapters, dc)
	}
	if len(a.adapters) == 0 {
		a.log.Warn("no transport configured; notifications and commands are disabled")
	}
	for _, ad := range a.adapters {
		a.router.SetSender(ad.Name(), ad)
		a.cmds.SetReplier(ad.Name(), ad)
	}
	return nil
}

func (a *App) registerObservability() error {
	reg := a.obs.Registry()
	var errs error
	errs = multierr.Append(errs, a.engine.Register(reg))
	errs = multierr.Append(errs, a.router.Register(reg))
	errs = multierr.Append(errs, a.cmds.Register(reg))
	errs = multierr.Append(errs, a.sched.Register(reg))
	errs = multierr.Append(errs, reg.Register(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "steamwatch",
		Name:      "goroutine_restarts_total",
		Help:      "Supervised goroutine restarts after an error or panic.",
	}, func() float64 {
		if a.sup == nil {
			return 0
		}
		return float64(a.sup.Restarts())
	})))
	if errs != nil {
		return fmt.Errorf("register metrics: %w", errs)
	}

	a.obs.AddHealthCheck("poll", func(context.Context) error {
		last := a.engine.LastCycle()
		if last.Error != "" {
			return errors.New(last.Error)
		}
		return nil
	})
	a.obs.AddHealthCheck("supervisor", func(context.Context) error {
		if a.sup == nil {
			return errors.New("not started")
		}
		return a.sup.Err()
	})
	return nil
}

// pollInterval prefers the value set through /sw interval over the config.
func (a *App) pollInterval() time.Duration {
	if raw := a.state.Setting(state.SettingPollInterval); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d >= config.MinPollInterval {
			return d
		}
	}
	return a.cfgm.Get().PollInterval()
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

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		return validateMaintenance(cfg)
	})

	for _, ad := range a.adapters {
		if err := ad.Start(a.sup.Context(), a.updates); err != nil {
			return fmt.Errorf("start %s: %w", ad.Name(), err)
		}
		if mu, ok := ad.(transport.CommandMenuUpdater); ok {
			menuCtx, cancel := context.WithTimeout(a.sup.Context(), 10*time.Second)
			if err := mu.UpdateMenuCommands(menuCtx, a.cmds.MenuCommands()); err != nil {
				a.log.Warn("command menu update failed", logx.String("platform", ad.Name()), logx.Err(err))
			}
			cancel()
		}
	}

	a.sup.GoRestart("watch.poll", a.engine.Run,
		rtsup.WithRestartBackoff(time.Second, time.Minute),
		rtsup.WithPublishFirstError(true),
	)
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmds.Run(c, a.updates)
	})
	a.sched.Start(a.sup.Context())
	a.obs.Start(a.sup.Context())

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
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.Int("transports", len(a.adapters)),
		logx.Int("watched", len(a.state.WatchedIDs())),
		logx.Duration("interval", a.pollInterval()))
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

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
				logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("transports", 3*time.Second, func(c context.Context) error {
		var errs error
		for _, ad := range a.adapters {
			errs = multierr.Append(errs, ad.Stop(c))
		}
		return errs
	})
	step("watch", time.Second, func(context.Context) error { a.engine.Stop(); return nil })
	step("notifier", 3*time.Second, a.router.Stop)
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("observability", time.Second, func(c context.Context) error { a.obs.Stop(c); return nil })
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
