package health

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"nautconsole/internal/endpoints"
	"nautconsole/internal/eventbus"
	"nautconsole/internal/toast"
	logx "nautconsole/pkg/logx"
)

// URLSource yields the currently resolved base URLs.
type URLSource interface {
	TradingAPIURL() string
	AdminAPIURL() string
}

// Toaster is the part of the notification center the monitor uses.
type Toaster interface {
	Notify(kind toast.Kind, message string, opts ...toast.Option) string
}

type Config struct {
	Enabled      bool
	Schedule     string
	Timeout      time.Duration // per probe, default 5s
	MockTimeout  time.Duration // trading probe budget, default 3s
	Timezone     string
	ToastOnStart bool // also toast a healthy first observation
	ForceMock    bool
}

// Transition is published on health.changed.
type Transition struct {
	Name   string `json:"name"`
	From   Status `json:"from"`
	To     Status `json:"to"`
	Result Result `json:"result"`
}

// Monitor probes the resolved trading and admin endpoints on a schedule and
// reports status transitions as events and toasts.
type Monitor struct {
	log    logx.Logger
	bus    eventbus.Bus
	urls   URLSource
	toasts Toaster
	client *http.Client

	mu     sync.Mutex
	cfg    Config
	c      *cron.Cron
	ctx    context.Context
	latest map[string]Result

	running atomic.Bool
}

func New(cfg Config, urls URLSource, toasts Toaster, client *http.Client, log logx.Logger, bus eventbus.Bus) *Monitor {
	if client == nil {
		client = &http.Client{}
	}
	return &Monitor{
		log:    log,
		bus:    bus,
		urls:   urls,
		toasts: toasts,
		client: client,
		cfg:    cfg,
		latest: map[string]Result{},
	}
}

func (m *Monitor) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Enabled
}

// Apply swaps the config. A running schedule is rebuilt; disabling stops it.
func (m *Monitor) Apply(cfg Config) error {
	if cfg.Enabled {
		if _, err := ParseSchedule(cfg.Schedule); err != nil {
			return err
		}
	}
	m.mu.Lock()
	old := m.cfg
	m.cfg = cfg
	ctx := m.ctx
	running := m.c != nil
	m.mu.Unlock()

	if ctx == nil {
		return nil
	}
	changed := old.Enabled != cfg.Enabled || old.Schedule != cfg.Schedule || old.Timezone != cfg.Timezone
	if !changed {
		return nil
	}
	if running {
		m.stopCron(context.Background())
	}
	if cfg.Enabled {
		return m.startCron(ctx)
	}
	return nil
}

// Start schedules probing and runs a first check in the background.
// ctx bounds every probe started by the schedule.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	m.ctx = ctx
	enabled := m.cfg.Enabled
	m.mu.Unlock()
	if !enabled {
		return nil
	}
	if err := m.startCron(ctx); err != nil {
		return err
	}
	go m.CheckNow(ctx)
	return nil
}

func (m *Monitor) startCron(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.c != nil {
		return nil
	}
	sched, err := ParseSchedule(m.cfg.Schedule)
	if err != nil {
		return err
	}
	loc := time.Local
	if tz := strings.TrimSpace(m.cfg.Timezone); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	m.c = cron.New(cron.WithLocation(loc))
	m.c.Schedule(sched, cron.FuncJob(func() { m.CheckNow(ctx) }))
	m.c.Start()
	m.log.Info("health monitor started", logx.String("schedule", scheduleOrDefault(m.cfg.Schedule)), logx.String("tz", loc.String()))
	return nil
}

func scheduleOrDefault(s string) string {
	if strings.TrimSpace(s) == "" {
		return DefaultSchedule
	}
	return s
}

func (m *Monitor) stopCron(ctx context.Context) {
	m.mu.Lock()
	c := m.c
	m.c = nil
	m.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

func (m *Monitor) Stop(ctx context.Context) {
	m.stopCron(ctx)
	m.log.Info("health monitor stopped")
}

// Targets returns the endpoints probed on each tick.
func (m *Monitor) Targets() []Target {
	return []Target{
		{Name: endpoints.NameTradingAPI, URL: m.urls.TradingAPIURL()},
		{Name: endpoints.NameAdminAPI, URL: m.urls.AdminAPIURL()},
	}
}

// CheckNow probes all targets once. Overlapping runs are skipped and return nil.
func (m *Monitor) CheckNow(ctx context.Context) []Result {
	if !m.running.CompareAndSwap(false, true) {
		m.log.Debug("health check already running; skipped")
		return nil
	}
	defer m.running.Store(false)

	m.mu.Lock()
	cfg := m.cfg
	m.mu.Unlock()
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	mockTimeout := cfg.MockTimeout
	if mockTimeout <= 0 {
		mockTimeout = DefaultMockTimeout
	}

	targets := m.Targets()
	for i := range targets {
		if targets[i].Name == endpoints.NameTradingAPI {
			targets[i].Timeout = mockTimeout
		}
	}
	results := ProbeAll(ctx, m.client, targets, timeout)

	if ctx.Err() != nil {
		return results
	}
	for _, r := range results {
		m.record(r, cfg.ToastOnStart)
	}
	return results
}

func (m *Monitor) record(r Result, toastOnStart bool) {
	m.mu.Lock()
	prev, seen := m.latest[r.Name]
	m.latest[r.Name] = r
	m.mu.Unlock()

	m.publish(eventbus.TopicHealthProbed, r)

	from := StatusUnknown
	if seen {
		from = prev.Status
	}
	if from == r.Status {
		return
	}
	m.publish(eventbus.TopicHealthChanged, Transition{Name: r.Name, From: from, To: r.Status, Result: r})

	fields := []logx.Field{
		logx.String("name", r.Name),
		logx.String("url", r.URL),
		logx.String("from", string(from)),
		logx.String("to", string(r.Status)),
	}
	if r.Healthy() {
		m.log.Info("endpoint healthy", append(fields, logx.Duration("latency", r.Latency))...)
		if seen || toastOnStart {
			m.toast(toast.KindSuccess, fmt.Sprintf("%s is reachable again (%dms)", r.Name, r.Latency.Milliseconds()))
		}
		return
	}
	m.log.Warn("endpoint unhealthy", append(fields, logx.String("err", r.Error))...)
	m.toast(toast.KindError, fmt.Sprintf("%s is unreachable: %s", r.Name, r.Error))
}

func (m *Monitor) toast(kind toast.Kind, msg string) {
	if m.toasts != nil {
		m.toasts.Notify(kind, msg)
	}
}

func (m *Monitor) publish(typ string, data any) {
	if m.bus != nil {
		m.bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}

// Latest returns the most recent result per target, sorted by name.
func (m *Monitor) Latest() []Result {
	m.mu.Lock()
	out := make([]Result, 0, len(m.latest))
	for _, r := range m.latest {
		out = append(out, r)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// MockMode reports whether the console should fall back to mock data: forced
// by configuration, or the last trading probe failed.
func (m *Monitor) MockMode() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.ForceMock {
		return true
	}
	r, ok := m.latest[endpoints.NameTradingAPI]
	return ok && !r.Healthy()
}
