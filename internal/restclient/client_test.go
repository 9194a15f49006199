package restclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "nautconsole/pkg/logx"
)

func TestDoSendsAndDecodesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/x", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		b, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"n":1}`, string(b))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(func() string { return srv.URL + "/" }, Config{}, logx.Nop())
	var out struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, c.Do(context.Background(), http.MethodPost, "/api/x", map[string]int{"n": 1}, &out))
	assert.True(t, out.OK)
}

func TestDoReturnsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, strings.Repeat("x", 400), http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(func() string { return srv.URL }, Config{}, logx.Nop())
	err := c.Do(context.Background(), http.MethodGet, "missing", nil, nil)
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusNotFound))
	assert.False(t, IsStatus(err, http.StatusBadRequest))

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Len(t, se.Body, 256)
}

func TestDoEmptyBaseURL(t *testing.T) {
	c := New(func() string { return "  " }, Config{}, logx.Nop())
	assert.ErrorIs(t, c.Do(context.Background(), http.MethodGet, "/x", nil, nil), ErrNoBaseURL)
}

func TestDoReadsBaseOnEveryCall(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	base := "http://127.0.0.1:1"
	c := New(func() string { return base }, Config{Timeout: 200 * time.Millisecond}, logx.Nop())
	assert.Error(t, c.Do(context.Background(), http.MethodGet, "/", nil, nil))

	base = srv.URL
	require.NoError(t, c.Do(context.Background(), http.MethodGet, "/", nil, nil))
	assert.EqualValues(t, 1, hits.Load())
}

func TestDoMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":`))
	}))
	defer srv.Close()

	c := New(func() string { return srv.URL }, Config{}, logx.Nop())
	var out map[string]any
	err := c.Do(context.Background(), http.MethodGet, "/", nil, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode response")
}

func TestSetRateLimitsCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(func() string { return srv.URL }, Config{RatePerSec: 1, Burst: 1}, logx.Nop())
	require.NoError(t, c.Do(context.Background(), http.MethodGet, "/", nil, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, c.Do(ctx, http.MethodGet, "/", nil, nil), "second call waits past the deadline")

	c.SetRate(0, 0)
	assert.Nil(t, c.limiter.Load())
	require.NoError(t, c.Do(context.Background(), http.MethodGet, "/", nil, nil))
}
