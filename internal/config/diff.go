package config

import (
	"reflect"
	"sort"
	"strings"

	logx "nautconsole/pkg/logx"
)

// SummarizeConfigChange returns the sorted list of changed sections and
// safe structured attrs for logging. Secrets (tokens, DSNs) are never included,
// only whether they are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.String("logging.format", newCfg.Logging.Format),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Server, newCfg.Server) {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.String("server.addr", strings.TrimSpace(newCfg.Server.Addr)),
			logx.Int("server.cors_origins", len(newCfg.Server.CORSOrigins)),
			logx.Bool("server.debug.pprof", newCfg.Server.Debug.Pprof),
			logx.Bool("server.debug.token_set", strings.TrimSpace(newCfg.Server.Debug.Token) != ""),
		)
	}

	if oldCfg.Endpoints != newCfg.Endpoints {
		changed = append(changed, "endpoints")
		attrs = append(attrs,
			logx.String("endpoints.admin_url", strings.TrimSpace(newCfg.Endpoints.AdminURL)),
			logx.String("endpoints.trading_url", strings.TrimSpace(newCfg.Endpoints.TradingURL)),
			logx.String("endpoints.timeout", strings.TrimSpace(newCfg.Endpoints.Timeout)),
		)
	}

	if oldCfg.Toasts != newCfg.Toasts {
		changed = append(changed, "toasts")
		attrs = append(attrs,
			logx.String("toasts.default_ttl", strings.TrimSpace(newCfg.Toasts.DefaultTTL)),
			logx.Int("toasts.history_size", newCfg.Toasts.HistorySize),
		)
	}

	if oldCfg.Trading != newCfg.Trading {
		changed = append(changed, "trading")
		attrs = append(attrs,
			logx.String("trading.timeout", strings.TrimSpace(newCfg.Trading.Timeout)),
			logx.Int("trading.rate_per_sec", newCfg.Trading.RatePerSec),
		)
	}

	if !reflect.DeepEqual(oldCfg.Health, newCfg.Health) {
		changed = append(changed, "health")
		if h := newCfg.Health; h != nil {
			attrs = append(attrs,
				logx.Bool("health.enabled", h.Enabled),
				logx.String("health.schedule", strings.TrimSpace(h.Schedule)),
			)
		}
	}

	if !reflect.DeepEqual(oldCfg.Relay, newCfg.Relay) {
		changed = append(changed, "relay")
		if r := newCfg.Relay; r != nil {
			attrs = append(attrs,
				logx.Bool("relay.enabled", r.Enabled),
				logx.Bool("relay.token_set", strings.TrimSpace(r.Token) != ""),
				logx.String("relay.min_kind", strings.TrimSpace(r.MinKind)),
				logx.Int("relay.rate_per_sec", r.RatePerSec),
			)
		}
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		if s := newCfg.Storage; s != nil {
			attrs = append(attrs,
				logx.String("storage.driver", strings.TrimSpace(s.Driver)),
				logx.Bool("storage.path_set", strings.TrimSpace(s.Path) != ""),
				logx.Bool("storage.dsn_set", strings.TrimSpace(s.DSN) != ""),
			)
		}
	}

	sort.Strings(changed)
	return changed, attrs
}
