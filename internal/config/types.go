package config

// Config is the console's file configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Optional sections are pointers: nil means "use runtime defaults" (health)
// or "disabled" (relay, storage).
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Server    ServerConfig    `json:"server"`
	Endpoints EndpointsConfig `json:"endpoints"`
	Toasts    ToastsConfig    `json:"toasts"`
	Trading   TradingConfig   `json:"trading"`

	Health  *HealthConfig  `json:"health,omitempty"`
	Relay   *RelayConfig   `json:"relay,omitempty"`
	Storage *StorageConfig `json:"storage,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	Format  string      `json:"format,omitempty"` // "pretty" (default) or "json"
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// ServerConfig controls the HTTP/WebSocket listener.
//
// Defaults: addr "127.0.0.1:8080", read_timeout "10s", write_timeout "30s",
// idle_timeout "60s".
type ServerConfig struct {
	Addr         string `json:"addr,omitempty"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// CORSOrigins lists the browser origins allowed to call the API. "*" allows any.
	CORSOrigins []string `json:"cors_origins,omitempty"`

	Debug DebugConfig `json:"debug,omitempty"`
}

// DebugConfig mounts /debug/pprof on the main listener.
//
// Security note: a token is required on non-loopback listeners unless allow_insecure is set.
type DebugConfig struct {
	Pprof         bool   `json:"pprof"`
	Token         string `json:"token,omitempty"` // do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

// EndpointsConfig holds the compiled-in style defaults for the resolver.
// Changes only take effect on the next explicit reload.
type EndpointsConfig struct {
	AdminURL   string `json:"admin_url,omitempty"`
	TradingURL string `json:"trading_url,omitempty"`
	Timeout    string `json:"timeout,omitempty"` // bootstrap budget, default "10s"
}

type ToastsConfig struct {
	DefaultTTL  string `json:"default_ttl,omitempty"`  // default "5s"
	HistorySize int    `json:"history_size,omitempty"` // removed toasts kept for /api/toasts/history, default 50
}

type TradingConfig struct {
	Timeout    string `json:"timeout,omitempty"` // per call, default "15s"
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	Burst      int    `json:"burst,omitempty"`
}

// HealthConfig controls periodic probing of the resolved endpoints.
//
// Schedule accepts a cron spec, "@every 30s", a Go duration ("30s") or "HH:MM".
type HealthConfig struct {
	Enabled      bool   `json:"enabled"`
	Schedule     string `json:"schedule,omitempty"`      // default "@every 30s"
	Timeout      string `json:"timeout,omitempty"`       // default "5s"
	MockTimeout  string `json:"mock_timeout,omitempty"`  // trading probe budget for mock detection, default "3s"
	Timezone     string `json:"timezone,omitempty"`      // for cron/HH:MM schedules
	ToastOnStart bool   `json:"toast_on_start,omitempty"` // toast healthy first observations too
}

// RelayConfig forwards warning/error toasts to a Telegram operator chat.
type RelayConfig struct {
	Enabled  bool   `json:"enabled"`
	Token    string `json:"token"` // do not log
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
	MinKind  string `json:"min_kind,omitempty"` // default "warning"

	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	DedupWindow   string `json:"dedup_window,omitempty"`
}

// StorageConfig controls the audit journal.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./nautconsole.db" }
//	"storage": { "driver": "postgres", "dsn": "postgres://user:pass@db/console?sslmode=disable" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"` // do not log
	BusyTimeout string `json:"busy_timeout,omitempty"`
}
