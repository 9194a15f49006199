package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nautconsole/internal/config"
	"nautconsole/internal/endpoints"
	"nautconsole/internal/eventbus"
	"nautconsole/internal/health"
	"nautconsole/internal/storage"
	"nautconsole/internal/toast"
	logx "nautconsole/pkg/logx"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func TestMapEndpointDefaultsFillsBuiltIns(t *testing.T) {
	d, err := mapEndpointDefaults(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, endpoints.DefaultTradingURL, d.TradingAPIURL)
	assert.Equal(t, endpoints.DefaultAdminURL, d.AdminAPIURL)
	assert.Equal(t, endpoints.DefaultTimeout, d.Timeout)

	_, err = mapEndpointDefaults(&config.Config{Endpoints: config.EndpointsConfig{Timeout: "soon"}})
	assert.Error(t, err)
}

func TestMapHealthConfig(t *testing.T) {
	hc, err := mapHealthConfig(&config.Config{}, true)
	require.NoError(t, err)
	assert.True(t, hc.Enabled, "absent section keeps the monitor on")
	assert.True(t, hc.ForceMock)
	assert.Equal(t, health.DefaultTimeout, hc.Timeout)

	_, err = mapHealthConfig(&config.Config{Health: &config.HealthConfig{Enabled: true, Schedule: "every tuesday"}}, false)
	assert.Error(t, err)
}

func TestMapRelayConfig(t *testing.T) {
	rc, _, err := mapRelayConfig(&config.Config{})
	require.NoError(t, err)
	assert.False(t, rc.Enabled)
	assert.Equal(t, toast.KindWarning, rc.MinKind)

	rc, target, err := mapRelayConfig(&config.Config{Relay: &config.RelayConfig{
		Enabled: true, Token: " t ", ChatID: 42, MinKind: "error", RetryBase: "1s",
	}})
	require.NoError(t, err)
	assert.Equal(t, toast.KindError, rc.MinKind)
	assert.Equal(t, time.Second, rc.RetryBase)
	assert.Equal(t, 3, rc.RetryMax)
	assert.Equal(t, relayTarget{token: "t", chatID: 42}, target)

	_, _, err = mapRelayConfig(&config.Config{Relay: &config.RelayConfig{MinKind: "loud"}})
	assert.ErrorIs(t, err, toast.ErrUnknownKind)
}

func TestMapStorageConfig(t *testing.T) {
	tests := []struct {
		name    string
		in      *config.StorageConfig
		enabled bool
		driver  string
		wantErr bool
	}{
		{name: "absent"},
		{name: "none", in: &config.StorageConfig{Driver: "none"}},
		{name: "file default path", in: &config.StorageConfig{Driver: "file"}, enabled: true, driver: "file"},
		{name: "sqlite", in: &config.StorageConfig{Driver: "SQLite3", Path: "x.db"}, enabled: true, driver: "sqlite"},
		{name: "sqlite without path", in: &config.StorageConfig{Driver: "sqlite"}, wantErr: true},
		{name: "postgres", in: &config.StorageConfig{Driver: "postgresql", DSN: "postgres://x"}, enabled: true, driver: "postgres"},
		{name: "postgres without dsn", in: &config.StorageConfig{Driver: "postgres"}, wantErr: true},
		{name: "unknown", in: &config.StorageConfig{Driver: "redis"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc, enabled, err := mapStorageConfig(&config.Config{Storage: tt.in})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.enabled, enabled)
			assert.Equal(t, tt.driver, sc.Driver)
		})
	}
}

func TestValidateRejectsBadToastTTL(t *testing.T) {
	assert.NoError(t, validate(&config.Config{}))
	assert.Error(t, validate(&config.Config{Toasts: config.ToastsConfig{DefaultTTL: "-1s"}}))
}

func TestAuditEntryMapping(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	e, ok := auditEntry(eventbus.Event{Type: eventbus.TopicAudit, Data: storage.Entry{Action: "toast.dismiss"}})
	require.True(t, ok)
	assert.Equal(t, "toast.dismiss", e.Action)

	e, ok = auditEntry(eventbus.Event{Type: eventbus.TopicEndpointsResolved, Time: at, Data: endpoints.Snapshot{
		TradingAPIURL: "http://t", AdminAPIURL: "http://a", Source: endpoints.SourceDefaults, LastError: "unreachable",
	}})
	require.True(t, ok)
	assert.Equal(t, "endpoints.resolved", e.Action)
	assert.Equal(t, "defaults", e.Target)
	assert.Equal(t, storage.OutcomeError, e.Outcome)
	assert.Equal(t, at, e.At)
	assert.Contains(t, e.Detail, "trading=http://t")

	e, ok = auditEntry(eventbus.Event{Type: eventbus.TopicHealthChanged, Data: health.Transition{
		Name: endpoints.NameTradingAPI, From: health.StatusHealthy, To: health.StatusUnhealthy,
		Result: health.Result{Status: health.StatusUnhealthy, Error: "timeout"},
	}})
	require.True(t, ok)
	assert.Equal(t, "timeout", e.Error)
	assert.Equal(t, "healthy -> unhealthy ()", e.Detail)

	_, ok = auditEntry(eventbus.Event{Type: eventbus.TopicToastAdded})
	assert.False(t, ok)
	_, ok = auditEntry(eventbus.Event{Type: eventbus.TopicHealthChanged, Data: "garbage"})
	assert.False(t, ok)
}

type memStore struct {
	entries chan storage.Entry
	err     error
}

func (m *memStore) AppendAudit(_ context.Context, e storage.Entry) error {
	m.entries <- e
	return m.err
}

func (m *memStore) RecentAudit(context.Context, int) ([]storage.Entry, error) { return nil, nil }
func (m *memStore) Close() error                                              { return nil }

func TestRunAuditWriterPersistsUntilCanceled(t *testing.T) {
	bus := eventbus.New()
	st := &memStore{entries: make(chan storage.Entry, 4), err: errors.New("disk full")}
	events, unsub := subscribeAudit(bus)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		runAuditWriter(ctx, events, st, logx.Nop())
	}()

	bus.Publish(eventbus.Event{Type: eventbus.TopicToastAdded})
	bus.Publish(eventbus.Event{Type: eventbus.TopicAudit, Data: storage.Entry{Action: "endpoints.reload"}})

	select {
	case e := <-st.entries:
		assert.Equal(t, "endpoints.reload", e.Action)
	case <-time.After(time.Second):
		t.Fatal("audit entry not written")
	}
	cancel()
	<-done
}

func writeConfig(t *testing.T, cfg map[string]any) string {
	t.Helper()
	b, err := json.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "console.json")
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestAppStartResolvesAndJournals(t *testing.T) {
	admin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == endpoints.BootstrapPath {
			_, _ = w.Write([]byte(`{"endpoints":[{"name":"nautilus_api","url":"http://trading.test/"}]}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer admin.Close()

	auditPath := filepath.Join(t.TempDir(), "audit.jsonl")
	path := writeConfig(t, map[string]any{
		"logging":   map[string]any{"level": "error"},
		"server":    map[string]any{"addr": "127.0.0.1:0"},
		"endpoints": map[string]any{"admin_url": admin.URL},
		"health":    map[string]any{"enabled": false},
		"storage":   map[string]any{"driver": "file", "path": auditPath},
	})

	a, err := NewApp(path, "test", WithOverrides(func() config.Overrides { return config.Overrides{} }))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		assert.NoError(t, a.Stop(stopCtx, StopAppStop))
	}()

	select {
	case <-a.Ready():
	case <-time.After(3 * time.Second):
		t.Fatal("http listener not ready")
	}
	base := "http://" + a.Addr()

	var snap struct {
		TradingAPIURL string `json:"trading_api_url"`
		Source        string `json:"source"`
		Loaded        bool   `json:"loaded"`
	}
	require.Eventually(t, func() bool {
		return getJSON(t, base+"/api/endpoints", &snap) == http.StatusOK && snap.Loaded
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, "http://trading.test", snap.TradingAPIURL)
	assert.Equal(t, "bootstrap", snap.Source)

	resp, err := http.Post(base+"/api/toasts", "application/json", strings.NewReader(`{"kind":"error","message":"engine down"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, 1, a.Toasts().Len())

	var entries []storage.Entry
	require.Eventually(t, func() bool {
		if getJSON(t, base+"/api/audit", &entries) != http.StatusOK {
			return false
		}
		for _, e := range entries {
			if e.Action == "endpoints.resolved" {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)

	assert.Equal(t, http.StatusOK, getJSON(t, base+"/metrics", nil))
}

func TestNewAppRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, map[string]any{
		"relay": map[string]any{"enabled": true, "min_kind": "loud", "token": "x", "chat_id": 1},
	})
	_, err := NewApp(path, "test")
	assert.Error(t, err)
}

func TestNewAppIgnoresInvalidForceMockOverride(t *testing.T) {
	path := writeConfig(t, map[string]any{
		"logging": map[string]any{"level": "error"},
		"health":  map[string]any{"enabled": false},
	})
	o := config.ReadOverridesFrom(func(k string) (string, bool) {
		return "sometimes", k == config.EnvForceMock
	})
	require.Error(t, o.Err())

	a, err := NewApp(path, "test", WithOverrides(func() config.Overrides { return o }))
	require.NoError(t, err)
	assert.False(t, a.monitor.MockMode())
}
