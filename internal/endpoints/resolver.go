package endpoints

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"nautconsole/internal/eventbus"
	logx "nautconsole/pkg/logx"
)

const (
	DefaultAdminURL   = "http://localhost:8001"
	DefaultTradingURL = "http://localhost:8000"
	DefaultTimeout    = 10 * time.Second
)

type State int

const (
	StateUnresolved State = iota
	StateResolving
	StateResolved
)

func (s State) String() string {
	switch s {
	case StateResolving:
		return "resolving"
	case StateResolved:
		return "resolved"
	default:
		return "unresolved"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

type Source string

const (
	SourceDefaults  Source = "defaults"
	SourceBootstrap Source = "bootstrap"
)

// Defaults are the values a fresh process starts from.
type Defaults struct {
	TradingAPIURL string
	AdminAPIURL   string
	Timeout       time.Duration
}

func (d Defaults) normalized() Defaults {
	if u, ok := NormalizeURL(d.TradingAPIURL); ok {
		d.TradingAPIURL = u
	} else {
		d.TradingAPIURL = DefaultTradingURL
	}
	if u, ok := NormalizeURL(d.AdminAPIURL); ok {
		d.AdminAPIURL = u
	} else {
		d.AdminAPIURL = DefaultAdminURL
	}
	if d.Timeout <= 0 {
		d.Timeout = DefaultTimeout
	}
	return d
}

// Overrides pin endpoint URLs for a deployment. Empty fields don't override.
type Overrides struct {
	TradingAPIURL string
	AdminAPIURL   string
}

type Config struct {
	Defaults Defaults
	// Overrides is consulted on every read. nil means no overrides.
	Overrides func() Overrides
	Client    *http.Client
	Now       func() time.Time
}

// Snapshot is a consistent view of the resolver. URLs have overrides applied.
type Snapshot struct {
	TradingAPIURL     string        `json:"trading_api_url"`
	AdminAPIURL       string        `json:"admin_api_url"`
	TradingOverridden bool          `json:"trading_overridden"`
	AdminOverridden   bool          `json:"admin_overridden"`
	Loaded            bool          `json:"loaded"`
	State             State         `json:"state"`
	Timeout           time.Duration `json:"timeout"`
	Source            Source        `json:"source"`
	Applied           []string      `json:"applied,omitempty"`
	LastError         string        `json:"last_error,omitempty"`
	ResolvedAt        time.Time     `json:"resolved_at,omitempty"`
}

// Resolver discovers backend base URLs once per process from the admin
// bootstrap endpoint, falling back to defaults on any failure.
type Resolver struct {
	log       logx.Logger
	bus       eventbus.Bus
	client    *http.Client
	overrides func() Overrides
	now       func() time.Time

	sf singleflight.Group

	mu         sync.RWMutex
	gen        uint64 // bumped by Reload; results from older attempts are discarded
	defaults   Defaults
	pending    *Defaults // set by SetDefaults, applied on the next Reload
	trading    string
	admin      string
	loaded     bool
	state      State
	source     Source
	applied    []string
	lastErr    error
	resolvedAt time.Time
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Resolver {
	r := &Resolver{
		log:       log,
		bus:       bus,
		client:    cfg.Client,
		overrides: cfg.Overrides,
		now:       cfg.Now,
	}
	if r.client == nil {
		r.client = &http.Client{}
	}
	if r.overrides == nil {
		r.overrides = func() Overrides { return Overrides{} }
	}
	if r.now == nil {
		r.now = time.Now
	}
	r.resetLocked(cfg.Defaults.normalized())
	return r
}

func (r *Resolver) resetLocked(d Defaults) {
	r.defaults = d
	r.trading = d.TradingAPIURL
	r.admin = d.AdminAPIURL
	r.loaded = false
	r.state = StateUnresolved
	r.source = SourceDefaults
	r.applied = nil
	r.lastErr = nil
	r.resolvedAt = time.Time{}
}

// TradingAPIURL returns the trading backend base URL.
func (r *Resolver) TradingAPIURL() string {
	if o := r.overrides().TradingAPIURL; o != "" {
		return o
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.trading
}

// AdminAPIURL returns the admin backend base URL.
func (r *Resolver) AdminAPIURL() string {
	if o := r.overrides().AdminAPIURL; o != "" {
		return o
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.admin
}

func (r *Resolver) Loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

func (r *Resolver) Snapshot() Snapshot {
	o := r.overrides()
	r.mu.RLock()
	s := Snapshot{
		TradingAPIURL: r.trading,
		AdminAPIURL:   r.admin,
		Loaded:        r.loaded,
		State:         r.state,
		Timeout:       r.defaults.Timeout,
		Source:        r.source,
		Applied:       append([]string(nil), r.applied...),
		ResolvedAt:    r.resolvedAt,
	}
	if r.lastErr != nil {
		s.LastError = r.lastErr.Error()
	}
	r.mu.RUnlock()

	if o.TradingAPIURL != "" {
		s.TradingAPIURL, s.TradingOverridden = o.TradingAPIURL, true
	}
	if o.AdminAPIURL != "" {
		s.AdminAPIURL, s.AdminOverridden = o.AdminAPIURL, true
	}
	return s
}

// Load resolves the endpoints once. Concurrent callers share one attempt;
// ctx only bounds how long this caller waits for it. Failures never
// propagate: they are logged and recorded in the snapshot.
func (r *Resolver) Load(ctx context.Context) Snapshot {
	for {
		r.mu.RLock()
		done := r.state == StateResolved
		gen := r.gen
		r.mu.RUnlock()
		if done {
			return r.Snapshot()
		}

		ch := r.sf.DoChan("load", func() (any, error) {
			r.resolve()
			return nil, nil
		})
		select {
		case <-ch:
		case <-ctx.Done():
			return r.Snapshot()
		}

		// A Reload while we waited discards the attempt we joined; wait on
		// the one that replaced it.
		r.mu.RLock()
		superseded := r.gen != gen && r.state != StateResolved
		r.mu.RUnlock()
		if !superseded {
			return r.Snapshot()
		}
	}
}

// Start runs Load in the background.
func (r *Resolver) Start(ctx context.Context) {
	go r.Load(ctx)
}

// Reload forgets the resolved state, restores the defaults a fresh process
// would start with, and loads again.
func (r *Resolver) Reload(ctx context.Context) Snapshot {
	r.mu.Lock()
	r.gen++
	d := r.defaults
	if r.pending != nil {
		d = *r.pending
		r.pending = nil
	}
	r.resetLocked(d)
	// Forget under the lock so no Load can join the superseded attempt.
	r.sf.Forget("load")
	r.mu.Unlock()

	r.log.Info("endpoint reload requested")
	return r.Load(ctx)
}

// SetDefaults stores new defaults for the next Reload. The current
// resolution is left untouched.
func (r *Resolver) SetDefaults(d Defaults) {
	d = d.normalized()
	r.mu.Lock()
	r.pending = &d
	r.mu.Unlock()
}

func (r *Resolver) resolve() {
	r.mu.Lock()
	if r.state == StateResolved {
		r.mu.Unlock()
		return
	}
	gen := r.gen
	timeout := r.defaults.Timeout
	r.state = StateResolving
	r.mu.Unlock()

	adminURL := r.AdminAPIURL()
	started := r.now()

	// The shared attempt is detached from any caller; the fixed budget bounds it.
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	entries, err := fetchBootstrap(ctx, r.client, adminURL)
	cancel()

	r.mu.Lock()
	if r.gen != gen {
		r.mu.Unlock()
		r.log.Debug("discarding stale endpoint resolution")
		return
	}
	if err != nil {
		r.lastErr = err
		r.source = SourceDefaults
	} else {
		r.source = SourceBootstrap
		r.applied = r.applyLocked(entries)
	}
	r.resolvedAt = r.now()
	r.state = StateResolved
	r.loaded = true
	r.mu.Unlock()

	snap := r.Snapshot()
	fields := []logx.Field{
		logx.String("source", string(snap.Source)),
		logx.String("trading_api_url", snap.TradingAPIURL),
		logx.String("admin_api_url", snap.AdminAPIURL),
		logx.Duration("took", r.now().Sub(started)),
	}
	switch {
	case err == nil:
		r.log.Info("endpoints resolved", fields...)
	case errors.Is(err, ErrBootstrapMalformed):
		r.log.Warn("endpoint bootstrap malformed; keeping defaults", append(fields, logx.Err(err))...)
	default:
		r.log.Warn("endpoint bootstrap unreachable; keeping defaults", append(fields, logx.Err(err))...)
	}
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: eventbus.TopicEndpointsResolved, Data: snap})
	}
}

// applyLocked overwrites fields named by entries. Unknown names are ignored
// and entries with an unusable URL keep the previous value.
func (r *Resolver) applyLocked(entries []bootstrapEntry) []string {
	var applied []string
	for _, e := range entries {
		var target *string
		switch e.Name {
		case NameTradingAPI:
			target = &r.trading
		case NameAdminAPI:
			target = &r.admin
		default:
			continue
		}
		u, ok := NormalizeURL(e.URL)
		if !ok {
			r.log.Warn("ignoring bootstrap entry with invalid url", logx.String("name", e.Name), logx.String("url", e.URL))
			continue
		}
		*target = u
		applied = append(applied, e.Name)
	}
	return applied
}
