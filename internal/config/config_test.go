package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestDecodeYAMLAndJSONAgree(t *testing.T) {
	t.Parallel()
	yml := `
logging:
  level: debug
  console: true
endpoints:
  admin_url: http://localhost:8001
  timeout: 10s
toasts:
  default_ttl: 5s
relay:
  enabled: false
  chat_id: 42
`
	js := `{"logging":{"level":"debug","console":true},
"endpoints":{"admin_url":"http://localhost:8001","timeout":"10s"},
"toasts":{"default_ttl":"5s"},
"relay":{"enabled":false,"chat_id":42}}`

	a, err := Decode("c.yaml", []byte(yml))
	require.NoError(t, err)
	b, err := Decode("c.json", []byte(js))
	require.NoError(t, err)
	assert.Equal(t, b, a)
	require.NotNil(t, a.Relay)
	assert.Equal(t, int64(42), a.Relay.ChatID)
}

func TestDecodeRejectsUnknownFieldsAndTrailingData(t *testing.T) {
	t.Parallel()
	_, err := Decode("c.json", []byte(`{"nope":1}`))
	require.Error(t, err)

	_, err = Decode("c.json", []byte(`{} {}`))
	require.ErrorIs(t, err, ErrTrailingData)

	_, err = Decode("c.yml", []byte("logging:\n  colour: red\n"))
	require.Error(t, err)
}

func TestDecodeEmptyYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("c.yaml", nil)
	require.NoError(t, err)
	assert.Equal(t, &Config{}, cfg)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"zero", Config{}, true},
		{"bad duration", Config{Toasts: ToastsConfig{DefaultTTL: "soon"}}, false},
		{"negative duration", Config{Endpoints: EndpointsConfig{Timeout: "-1s"}}, false},
		{"relative admin url", Config{Endpoints: EndpointsConfig{AdminURL: "/api"}}, false},
		{"ftp trading url", Config{Endpoints: EndpointsConfig{TradingURL: "ftp://x"}}, false},
		{"relay without token", Config{Relay: &RelayConfig{Enabled: true, ChatID: 1}}, false},
		{"relay disabled without token", Config{Relay: &RelayConfig{}}, true},
		{"sqlite without path", Config{Storage: &StorageConfig{Driver: "sqlite"}}, false},
		{"postgres without dsn", Config{Storage: &StorageConfig{Driver: "postgres"}}, false},
		{"unknown driver", Config{Storage: &StorageConfig{Driver: "mongo"}}, false},
		{"bad timezone", Config{Health: &HealthConfig{Timezone: "Mars/Olympus"}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(&tc.cfg)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalid)
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		raw     string
		want    time.Duration
		wantErr string
	}{
		{name: "empty", raw: "  "},
		{name: "go duration", raw: "250ms", want: 250 * time.Millisecond},
		{name: "minutes", raw: "2m", want: 2 * time.Minute},
		{name: "bare integer is milliseconds", raw: "1500", want: 1500 * time.Millisecond},
		{name: "bare zero", raw: "0"},
		{name: "largest millisecond count", raw: "9223372036854", want: 9223372036854 * time.Millisecond},
		{name: "millisecond count overflows", raw: "9223372036855", wantErr: "exceeds the maximum"},
		{name: "negative milliseconds", raw: "-1", wantErr: ">= 0"},
		{name: "negative duration", raw: "-1s", wantErr: ">= 0"},
		{name: "sub millisecond", raw: "500us", wantErr: "finer than 1ms"},
		{name: "fractional millisecond", raw: "1.5ms", wantErr: "finer than 1ms"},
		{name: "garbage", raw: "soon", wantErr: "invalid duration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d, err := ParseDurationField("toasts.default_ttl", tt.raw)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "toasts.default_ttl")
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d)
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{name: "empty", raw: "", want: 3 * time.Second},
		{name: "zero", raw: "0s", want: 3 * time.Second},
		{name: "set", raw: "250ms", want: 250 * time.Millisecond},
		{name: "milliseconds", raw: "40", want: 40 * time.Millisecond},
		{name: "invalid", raw: "abc", wantErr: true},
		{name: "sub millisecond", raw: "10ns", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d, err := ParseDurationOrDefault("x", tt.raw, 3*time.Second)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d)
		})
	}
}

func TestValidateRejectsSubMillisecondDuration(t *testing.T) {
	t.Parallel()
	err := Validate(&Config{Health: &HealthConfig{Timeout: "900us"}})
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "health.timeout")
	assert.NoError(t, Validate(&Config{Toasts: ToastsConfig{DefaultTTL: "1500"}}))
}

func TestReadOverridesEnvWinsOverBuild(t *testing.T) {
	prevT, prevM := BuildTradingAPIURL, BuildForceMock
	BuildTradingAPIURL, BuildForceMock = "http://build:8000", "true"
	t.Cleanup(func() { BuildTradingAPIURL, BuildForceMock = prevT, prevM })

	env := map[string]string{EnvTradingAPIURL: "http://env:8000", EnvAdminAPIURL: "  "}
	o := ReadOverridesFrom(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	assert.Equal(t, "http://env:8000", o.TradingAPIURL)
	assert.Equal(t, "", o.AdminAPIURL)
	assert.True(t, o.ForceMock)

	o = ReadOverridesFrom(nil)
	assert.Equal(t, "http://build:8000", o.TradingAPIURL)
}

func TestReadOverridesForceMock(t *testing.T) {
	prev := BuildForceMock
	t.Cleanup(func() { BuildForceMock = prev })

	tests := []struct {
		name    string
		env     string
		build   string
		want    bool
		wantErr string
	}{
		{name: "unset"},
		{name: "env true", env: "true", want: true},
		{name: "env one", env: "1", want: true},
		{name: "env false beats build true", env: "false", build: "true"},
		{name: "build only", build: "T", want: true},
		{name: "env not a boolean", env: "yes", wantErr: EnvForceMock + `="yes"`},
		{name: "build not a boolean", build: "on", wantErr: `build flag="on"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			BuildForceMock = tt.build
			o := ReadOverridesFrom(func(k string) (string, bool) {
				if k == EnvForceMock && tt.env != "" {
					return tt.env, true
				}
				return "", false
			})
			assert.Equal(t, tt.want, o.ForceMock)
			if tt.wantErr == "" {
				assert.NoError(t, o.Err())
				return
			}
			require.ErrorIs(t, o.Err(), ErrInvalid)
			assert.Contains(t, o.Err().Error(), tt.wantErr)
		})
	}
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Relay: &RelayConfig{Token: "a"}}
	newCfg := &Config{
		Relay:   &RelayConfig{Token: "b"},
		Toasts:  ToastsConfig{DefaultTTL: "2s"},
		Storage: &StorageConfig{Driver: "postgres", DSN: "postgres://secret"},
	}
	sections, attrs := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"relay", "storage", "toasts"}, sections)
	assert.NotEmpty(t, attrs)

	sections, _ = SummarizeConfigChange(newCfg, newCfg)
	assert.Empty(t, sections)
}

func TestManagerLoadGetAndSubscribe(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "console.json", `{"toasts":{"default_ttl":"5s"}}`)

	m := NewConfigManager(p)
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Same(t, cfg, m.Get())

	ch := m.Subscribe(1)
	m.publish(&Config{Toasts: ToastsConfig{DefaultTTL: "1s"}})
	m.publish(&Config{Toasts: ToastsConfig{DefaultTTL: "2s"}})
	got := <-ch
	assert.Equal(t, "2s", got.Toasts.DefaultTTL)

	m.Unsubscribe(ch)
	_, ok := <-ch
	assert.False(t, ok)
	m.publish(&Config{})
}

func TestManagerWatchPublishesValidChange(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "console.yaml", "toasts:\n  default_ttl: 5s\n")

	m := NewConfigManager(p)
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	// Give the watcher time to register, then write an invalid and a valid update.
	time.Sleep(200 * time.Millisecond)
	writeFile(t, dir, "console.yaml", "toasts:\n  default_ttl: nope\n")
	time.Sleep(500 * time.Millisecond)
	writeFile(t, dir, "console.yaml", "toasts:\n  default_ttl: 7s\n")

	select {
	case cfg := <-ch:
		assert.Equal(t, "7s", cfg.Toasts.DefaultTTL)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload published")
	}
}
