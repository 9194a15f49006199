package adminapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nautconsole/internal/restclient"
	logx "nautconsole/pkg/logx"
)

func TestListEndpoints(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/admin/endpoints", r.URL.Path)
		_, _ = w.Write([]byte(`{"endpoints":[
			{"id":1,"name":"nautilus_api","url":"http://t:8000","description":"trading","is_active":true,"last_updated":"2026-01-01T00:00:00"},
			{"id":2,"name":"admin_db_api","url":"http://a:8001","description":"admin","is_active":false,"last_updated":""}]}`))
	}))
	defer srv.Close()

	c := New(func() string { return srv.URL + "/" }, restclient.Config{}, logx.Nop())
	eps, err := c.ListEndpoints(context.Background())
	require.NoError(t, err)
	require.Len(t, eps, 2)
	assert.Equal(t, Endpoint{ID: 1, Name: "nautilus_api", URL: "http://t:8000", Description: "trading", IsActive: true, LastUpdated: "2026-01-01T00:00:00"}, eps[0])
	assert.False(t, eps[1].IsActive)
}

func TestUpdateEndpointSendsBody(t *testing.T) {
	t.Parallel()
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/admin/endpoints/7", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(func() string { return srv.URL }, restclient.Config{RatePerSec: 100}, logx.Nop())
	require.NoError(t, c.UpdateEndpoint(context.Background(), 7, EndpointUpdate{URL: " http://new:8000 ", Description: "d"}))
	assert.JSONEq(t, `{"url":"http://new:8000","description":"d"}`, body)

	require.NoError(t, c.SetActive(context.Background(), Endpoint{ID: 7, URL: "http://x", Description: "d"}, false))
	assert.JSONEq(t, `{"url":"http://x","description":"d","is_active":false}`, body)
}

func TestStatusErrorMapping(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such endpoint", http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(func() string { return srv.URL }, restclient.Config{}, logx.Nop())
	err := c.UpdateEndpoint(context.Background(), 99, EndpointUpdate{URL: "http://x"})
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Contains(t, se.Body, "no such endpoint")
	assert.True(t, restclient.IsStatus(err, http.StatusNotFound))
}

func TestBaseURLReadOnEveryCall(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"endpoints":[]}`))
	}))
	defer srv.Close()

	base := ""
	c := New(func() string { return base }, restclient.Config{}, logx.Nop())
	_, err := c.ListEndpoints(context.Background())
	require.ErrorIs(t, err, restclient.ErrNoBaseURL)

	base = srv.URL
	eps, err := c.ListEndpoints(context.Background())
	require.NoError(t, err)
	assert.Empty(t, eps)
}
