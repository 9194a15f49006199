package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	logx "nautconsole/pkg/logx"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks field-level constraints that don't need other packages.
// Schedules and kind names are checked by the app validator.
func Validate(cfg *Config) error {
	if cfg == nil {
		return invalid("config is nil")
	}

	durations := map[string]string{
		"server.read_timeout":  cfg.Server.ReadTimeout,
		"server.write_timeout": cfg.Server.WriteTimeout,
		"server.idle_timeout":  cfg.Server.IdleTimeout,
		"endpoints.timeout":    cfg.Endpoints.Timeout,
		"toasts.default_ttl":   cfg.Toasts.DefaultTTL,
		"trading.timeout":      cfg.Trading.Timeout,
	}
	if h := cfg.Health; h != nil {
		durations["health.timeout"] = h.Timeout
		durations["health.mock_timeout"] = h.MockTimeout
	}
	if r := cfg.Relay; r != nil {
		durations["relay.retry_base"] = r.RetryBase
		durations["relay.retry_max_delay"] = r.RetryMaxDelay
		durations["relay.dedup_window"] = r.DedupWindow
	}
	if s := cfg.Storage; s != nil {
		durations["storage.busy_timeout"] = s.BusyTimeout
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}

	if err := checkURL("endpoints.admin_url", cfg.Endpoints.AdminURL); err != nil {
		return err
	}
	if err := checkURL("endpoints.trading_url", cfg.Endpoints.TradingURL); err != nil {
		return err
	}

	if !logx.ValidFormat(cfg.Logging.Format) {
		return invalid("logging.format must be pretty or json, got %q", cfg.Logging.Format)
	}

	if cfg.Toasts.HistorySize < 0 {
		return invalid("toasts.history_size must be >= 0")
	}
	if cfg.Trading.RatePerSec < 0 || cfg.Trading.Burst < 0 {
		return invalid("trading.rate_per_sec and trading.burst must be >= 0")
	}

	if h := cfg.Health; h != nil {
		if tz := strings.TrimSpace(h.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return invalid("health.timezone: %q: %v", tz, err)
			}
		}
	}

	if r := cfg.Relay; r != nil && r.Enabled {
		if strings.TrimSpace(r.Token) == "" {
			return invalid("relay.token is required when relay.enabled=true")
		}
		if r.ChatID == 0 {
			return invalid("relay.chat_id is required when relay.enabled=true")
		}
		if r.Workers < 0 || r.QueueSize < 0 || r.RatePerSec < 0 || r.RetryMax < 0 {
			return invalid("relay numeric settings must be >= 0")
		}
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "file":
		case "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				return invalid("storage.path is required when storage.driver=sqlite")
			}
		case "postgres", "postgresql":
			if strings.TrimSpace(s.DSN) == "" {
				return invalid("storage.dsn is required when storage.driver=postgres")
			}
		default:
			return invalid("unknown storage.driver %q", s.Driver)
		}
	}
	return nil
}

func checkURL(path, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid("%s: %q is not an absolute http(s) URL", path, raw)
	}
	return nil
}
