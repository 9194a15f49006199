package app

import (
	"fmt"
	"strings"
	"time"

	"nautconsole/internal/config"
	"nautconsole/internal/endpoints"
	"nautconsole/internal/health"
	"nautconsole/internal/httpapi"
	"nautconsole/internal/relay"
	"nautconsole/internal/restclient"
	"nautconsole/internal/storage"
	"nautconsole/internal/toast"
	logx "nautconsole/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		Format:  cfg.Logging.Format,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapServerConfig(cfg *config.Config) (httpapi.Config, error) {
	sc := cfg.Server
	read, err := config.ParseDurationOrDefault("server.read_timeout", sc.ReadTimeout, 10*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	write, err := config.ParseDurationOrDefault("server.write_timeout", sc.WriteTimeout, 30*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("server.idle_timeout", sc.IdleTimeout, 60*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	addr := strings.TrimSpace(sc.Addr)
	if addr == "" {
		addr = httpapi.DefaultAddr
	}
	return httpapi.Config{
		Addr:         addr,
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
		CORSOrigins:  sc.CORSOrigins,
		Debug: httpapi.DebugConfig{
			Pprof:         sc.Debug.Pprof,
			Token:         sc.Debug.Token,
			AllowInsecure: sc.Debug.AllowInsecure,
		},
	}, nil
}

// mapEndpointDefaults fills unset fields with the built-in defaults.
func mapEndpointDefaults(cfg *config.Config) (endpoints.Defaults, error) {
	ec := cfg.Endpoints
	timeout, err := config.ParseDurationOrDefault("endpoints.timeout", ec.Timeout, endpoints.DefaultTimeout)
	if err != nil {
		return endpoints.Defaults{}, err
	}
	d := endpoints.Defaults{
		TradingAPIURL: strings.TrimSpace(ec.TradingURL),
		AdminAPIURL:   strings.TrimSpace(ec.AdminURL),
		Timeout:       timeout,
	}
	if d.TradingAPIURL == "" {
		d.TradingAPIURL = endpoints.DefaultTradingURL
	}
	if d.AdminAPIURL == "" {
		d.AdminAPIURL = endpoints.DefaultAdminURL
	}
	return d, nil
}

func mapToastConfig(cfg *config.Config) (toast.Config, error) {
	ttl, err := config.ParseDurationOrDefault("toasts.default_ttl", cfg.Toasts.DefaultTTL, toast.DefaultTTL)
	if err != nil {
		return toast.Config{}, err
	}
	return toast.Config{DefaultTTL: ttl, HistorySize: cfg.Toasts.HistorySize}, nil
}

func mapTradingConfig(cfg *config.Config) (restclient.Config, error) {
	tc := cfg.Trading
	timeout, err := config.ParseDurationOrDefault("trading.timeout", tc.Timeout, 15*time.Second)
	if err != nil {
		return restclient.Config{}, err
	}
	burst := tc.Burst
	if burst <= 0 {
		burst = tc.RatePerSec
	}
	return restclient.Config{Timeout: timeout, RatePerSec: tc.RatePerSec, Burst: burst}, nil
}

// mapHealthConfig returns an enabled monitor with defaults when the section
// is absent.
func mapHealthConfig(cfg *config.Config, forceMock bool) (health.Config, error) {
	hc := cfg.Health
	if hc == nil {
		hc = &config.HealthConfig{Enabled: true}
	}
	if _, err := health.ParseSchedule(hc.Schedule); err != nil {
		return health.Config{}, fmt.Errorf("health.schedule: %w", err)
	}
	timeout, err := config.ParseDurationOrDefault("health.timeout", hc.Timeout, health.DefaultTimeout)
	if err != nil {
		return health.Config{}, err
	}
	mockTimeout, err := config.ParseDurationOrDefault("health.mock_timeout", hc.MockTimeout, health.DefaultMockTimeout)
	if err != nil {
		return health.Config{}, err
	}
	return health.Config{
		Enabled:      hc.Enabled,
		Schedule:     hc.Schedule,
		Timeout:      timeout,
		MockTimeout:  mockTimeout,
		Timezone:     hc.Timezone,
		ToastOnStart: hc.ToastOnStart,
		ForceMock:    forceMock,
	}, nil
}

type relayTarget struct {
	token    string
	chatID   int64
	threadID int
}

func mapRelayConfig(cfg *config.Config) (relay.Config, relayTarget, error) {
	rc := cfg.Relay
	if rc == nil {
		return relay.Config{MinKind: toast.KindWarning}, relayTarget{}, nil
	}
	minKind := toast.KindWarning
	if s := strings.TrimSpace(rc.MinKind); s != "" {
		k, err := toast.ParseKind(s)
		if err != nil {
			return relay.Config{}, relayTarget{}, fmt.Errorf("relay.min_kind: %w", err)
		}
		minKind = k
	}
	base, err := config.ParseDurationField("relay.retry_base", rc.RetryBase)
	if err != nil {
		return relay.Config{}, relayTarget{}, err
	}
	maxDelay, err := config.ParseDurationField("relay.retry_max_delay", rc.RetryMaxDelay)
	if err != nil {
		return relay.Config{}, relayTarget{}, err
	}
	dedup, err := config.ParseDurationOrDefault("relay.dedup_window", rc.DedupWindow, time.Minute)
	if err != nil {
		return relay.Config{}, relayTarget{}, err
	}
	retryMax := rc.RetryMax
	if retryMax == 0 {
		retryMax = 3
	}
	return relay.Config{
			Enabled:       rc.Enabled,
			MinKind:       minKind,
			Workers:       rc.Workers,
			QueueSize:     rc.QueueSize,
			RatePerSec:    rc.RatePerSec,
			RetryMax:      retryMax,
			RetryBase:     base,
			RetryMaxDelay: maxDelay,
			DedupWindow:   dedup,
		}, relayTarget{
			token:    strings.TrimSpace(rc.Token),
			chatID:   rc.ChatID,
			threadID: rc.ThreadID,
		}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "file":
		if path == "" {
			path = "./nautconsole.audit.jsonl"
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, true, nil
	case "postgres", "postgresql":
		dsn := strings.TrimSpace(sc.DSN)
		if dsn == "" {
			return storage.Config{}, false, fmt.Errorf("storage.dsn is required when storage.driver=postgres")
		}
		return storage.Config{Driver: "postgres", DSN: dsn}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// validate runs every mapper so a hot reload that would fail to apply is
// rejected before commit.
func validate(cfg *config.Config) error {
	if _, err := mapServerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapEndpointDefaults(cfg); err != nil {
		return err
	}
	if _, err := mapToastConfig(cfg); err != nil {
		return err
	}
	if _, err := mapTradingConfig(cfg); err != nil {
		return err
	}
	if _, err := mapHealthConfig(cfg, false); err != nil {
		return err
	}
	if _, _, err := mapRelayConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	return nil
}
