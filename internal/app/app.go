package app

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nautconsole/internal/adminapi"
	"nautconsole/internal/config"
	"nautconsole/internal/endpoints"
	"nautconsole/internal/eventbus"
	"nautconsole/internal/health"
	"nautconsole/internal/httpapi"
	"nautconsole/internal/metrics"
	"nautconsole/internal/nautilus"
	"nautconsole/internal/relay"
	"nautconsole/internal/restclient"
	rtsup "nautconsole/internal/runtime/supervisor"
	"nautconsole/internal/storage"
	"nautconsole/internal/toast"
	logx "nautconsole/pkg/logx"
	"nautconsole/pkg/systemd"
)

type App struct {
	cfgPath string
	version string

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	toasts   *toast.Center
	resolver *endpoints.Resolver
	admin    *adminapi.Client
	trading  *nautilus.Client
	monitor  *health.Monitor
	relay    *relay.Service
	metrics  *metrics.Collector
	http     *httpapi.Service

	relayTarget relayTarget
	sd          systemd.Notifier

	// overrides reads deployment pins; replaced in tests.
	overrides func() config.Overrides
}

// Option customizes an App before Start.
type Option func(*App)

// WithOverrides replaces the environment/build override source.
func WithOverrides(fn func() config.Overrides) Option {
	return func(a *App) { a.overrides = fn }
}

func NewApp(cfgPath, version string, opts ...Option) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	a := &App{
		cfgPath:   cfgPath,
		version:   version,
		cfgm:      cfgm,
		overrides: config.ReadOverrides,
	}
	for _, opt := range opts {
		opt(a)
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	a.logs = logSvc
	a.log = log.With(logx.String("comp", "app"))
	a.bus = eventbus.New()

	if err := a.overrides().Err(); err != nil {
		a.log.Warn("ignoring invalid override", logx.Err(err))
	}

	// Storage (optional)
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, a.abort(err)
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, a.abort(err)
		}
		a.store = st
		a.log.Info("audit journal enabled", logx.String("driver", sc.Driver))
	}

	tc, err := mapToastConfig(cfg)
	if err != nil {
		return nil, a.abort(err)
	}
	a.toasts = toast.New(tc, log.With(logx.String("comp", "toasts")), a.bus)

	defaults, err := mapEndpointDefaults(cfg)
	if err != nil {
		return nil, a.abort(err)
	}
	a.resolver = endpoints.New(endpoints.Config{
		Defaults:  defaults,
		Overrides: a.endpointOverrides,
	}, log.With(logx.String("comp", "endpoints")), a.bus)

	rc, err := mapTradingConfig(cfg)
	if err != nil {
		return nil, a.abort(err)
	}
	a.trading = nautilus.New(a.resolver.TradingAPIURL, rc, log.With(logx.String("comp", "nautilus")))
	a.admin = adminapi.New(a.resolver.AdminAPIURL, restclient.Config{Timeout: rc.Timeout},
		log.With(logx.String("comp", "adminapi")))

	hc, err := mapHealthConfig(cfg, a.overrides().ForceMock)
	if err != nil {
		return nil, a.abort(err)
	}
	a.monitor = health.New(hc, a.resolver, a.toasts, nil, log.With(logx.String("comp", "health")), a.bus)

	relayCfg, target, err := mapRelayConfig(cfg)
	if err != nil {
		return nil, a.abort(err)
	}
	var sender relay.Sender
	if relayCfg.Enabled {
		ts, err := relay.NewTelegramSender(target.token, target.chatID, target.threadID)
		if err != nil {
			return nil, a.abort(err)
		}
		sender = ts
	}
	a.relayTarget = target
	a.relay = relay.New(relayCfg, sender, log.With(logx.String("comp", "relay")), a.bus)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(reg, a.toasts.Len, a.bus, log.With(logx.String("comp", "metrics")))

	sc, err := mapServerConfig(cfg)
	if err != nil {
		return nil, a.abort(err)
	}
	deps := httpapi.Deps{
		Toasts:    a.toasts,
		Endpoints: a.resolver,
		Catalog:   a.admin,
		Engine:    a.trading,
		Health:    a.monitor,
		Bus:       a.bus,
		Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Version:   version,
	}
	if a.store != nil {
		deps.Audit = a.store
	}
	a.http = httpapi.New(sc, deps, log.With(logx.String("comp", "http")),
		rtsup.WithRestartHook(a.metrics.TaskRestarted))

	return a, nil
}

// abort releases what NewApp opened before failing.
func (a *App) abort(err error) error {
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

func (a *App) endpointOverrides() endpoints.Overrides {
	o := a.overrides()
	return endpoints.Overrides{TradingAPIURL: o.TradingAPIURL, AdminAPIURL: o.AdminAPIURL}
}

// Addr is the bound HTTP address once Ready is closed.
func (a *App) Addr() string { return a.http.Addr() }

// Ready is closed once the HTTP listener is bound.
func (a *App) Ready() <-chan struct{} { return a.http.Ready() }

// Toasts exposes the notification center for in-process producers.
func (a *App) Toasts() *toast.Center { return a.toasts }

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
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log),
		rtsup.WithCancelOnError(true),
		rtsup.WithRestartHook(a.metrics.TaskRestarted),
	)

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validate(cfg)
	})

	a.sup.Go0("metrics", func(c context.Context) { a.metrics.Run(c, a.bus) })
	if a.store != nil {
		// Subscribe before the resolver starts so its first result is journaled.
		auditEvents, auditUnsub := subscribeAudit(a.bus)
		a.sup.Go0("audit.writer", func(c context.Context) {
			defer auditUnsub()
			runAuditWriter(c, auditEvents, a.store, a.log.With(logx.String("comp", "audit")))
		})
	}

	// Optional: log events for observability/debug (components can also subscribe themselves).
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

	// Background bootstrap; reads fall back to defaults until it settles.
	a.resolver.Start(a.sup.Context())

	if err := a.monitor.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("health monitor: %w", err)
	}
	if a.relay.Enabled() {
		a.relay.Start(a.sup.Context())
	}
	a.http.Start(a.sup.Context())

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sup.Go0("systemd.ready", func(c context.Context) {
		select {
		case <-c.Done():
			return
		case <-a.http.Ready():
		}
		if sent, err := a.sd.Ready(); err != nil {
			a.log.Warn("systemd notify failed", logx.Err(err))
		} else if sent {
			_, _ = a.sd.Status("serving on " + a.http.Addr())
			a.log.Debug("systemd notified ready")
		}
	})
	a.sup.Go("systemd.watchdog", a.sd.RunWatchdog)

	a.log.Info("app started", logx.String("version", a.version), logx.String("config", a.cfgPath))
	return nil
}

// reloadLoop fans out committed config changes to the live components.
func (a *App) reloadLoop(c context.Context, sub <-chan *config.Config) {
	// Track last applied config to generate a safe diff summary for logx.
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
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
			lastApplied = newCfg
			if len(sections) == 0 {
				a.log.Info("config reloaded (no changes)")
				continue
			}
			_, _ = a.sd.Reloading()
			a.applyConfig(c, newCfg, sections)
			_, _ = a.sd.Ready()

			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
		}
	}
}

func (a *App) applyConfig(c context.Context, cfg *config.Config, sections []string) {
	changed := func(s string) bool { return slices.Contains(sections, s) }

	if changed("logging") {
		a.logs.Apply(mapLoggingConfig(cfg))
	}

	if changed("toasts") {
		if tc, err := mapToastConfig(cfg); err != nil {
			a.log.Warn("invalid toasts config; keeping previous", logx.Err(err))
		} else {
			a.toasts.SetDefaultTTL(tc.DefaultTTL)
		}
	}

	if changed("trading") {
		if rc, err := mapTradingConfig(cfg); err != nil {
			a.log.Warn("invalid trading config; keeping previous", logx.Err(err))
		} else {
			a.trading.SetRate(rc.RatePerSec, rc.Burst)
		}
	}

	if changed("endpoints") {
		if d, err := mapEndpointDefaults(cfg); err != nil {
			a.log.Warn("invalid endpoints config; keeping previous", logx.Err(err))
		} else {
			a.resolver.SetDefaults(d)
			a.log.Warn("endpoint defaults changed; reload endpoints to apply")
		}
	}

	if changed("health") {
		if hc, err := mapHealthConfig(cfg, a.overrides().ForceMock); err != nil {
			a.log.Warn("invalid health config; keeping previous", logx.Err(err))
		} else if err := a.monitor.Apply(hc); err != nil {
			a.log.Warn("health config not applied", logx.Err(err))
		}
	}

	if changed("relay") {
		a.applyRelay(c, cfg)
	}

	if changed("server") {
		if sc, err := mapServerConfig(cfg); err != nil {
			a.log.Warn("invalid server config; keeping previous", logx.Err(err))
		} else {
			a.http.Reconfigure(c, sc)
		}
	}

	if changed("storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
}

func (a *App) applyRelay(c context.Context, cfg *config.Config) {
	rc, target, err := mapRelayConfig(cfg)
	if err != nil {
		a.log.Warn("invalid relay config; keeping previous", logx.Err(err))
		return
	}
	if rc.Enabled && !reflect.DeepEqual(target, a.relayTarget) {
		ts, err := relay.NewTelegramSender(target.token, target.chatID, target.threadID)
		if err != nil {
			a.log.Warn("relay target rejected; keeping previous", logx.Err(err))
			return
		}
		a.relay.SetSender(ts)
		a.relayTarget = target
		a.log.Info("relay target updated",
			logx.Redact("token", target.token),
			logx.Int64("chat_id", target.chatID),
			logx.Int("thread_id", target.threadID),
		)
	}

	prev := a.relay.Enabled()
	a.relay.Apply(rc)
	switch {
	case prev && !rc.Enabled:
		a.log.Info("relay disabled via config")
		stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
		a.relay.Stop(stopCtx)
		cancel()
	case !prev && rc.Enabled:
		a.log.Info("relay enabled via config")
		a.relay.Start(c)
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = a.sd.Stopping()

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
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
			// Contract: fn MUST honor stepCtx and return promptly. If it doesn't, log a leak signal.
			a.log.Warn(
				"stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// Stop the listener first so no new operator actions arrive.
	step("http", 3*time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	step("health", 2*time.Second, func(c context.Context) error { a.monitor.Stop(c); return nil })
	step("relay", 2*time.Second, func(c context.Context) error { a.relay.Stop(c); return nil })
	step("toasts", time.Second, func(context.Context) error { a.toasts.Clear(); return nil })

	// Wait for supervised goroutines (config watch/reload, audit writer, etc.)
	// before closing the store they write to.
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
