package metrics

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nautconsole/internal/endpoints"
	"nautconsole/internal/eventbus"
	"nautconsole/internal/health"
	"nautconsole/internal/toast"
	logx "nautconsole/pkg/logx"
)

func TestObserve(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	active := 3
	c := New(reg, func() int { return active }, nil, logx.Nop())

	c.Observe(eventbus.Event{Type: eventbus.TopicToastAdded, Data: toast.Notification{Kind: toast.KindError}})
	c.Observe(eventbus.Event{Type: eventbus.TopicToastAdded, Data: toast.Notification{Kind: toast.KindError}})
	c.Observe(eventbus.Event{Type: eventbus.TopicToastExpired, Data: toast.Notification{}})
	c.Observe(eventbus.Event{Type: eventbus.TopicToastCleared, Data: 4})
	c.Observe(eventbus.Event{Type: eventbus.TopicEndpointsResolved, Data: endpoints.Snapshot{Source: endpoints.SourceBootstrap}})
	c.Observe(eventbus.Event{Type: eventbus.TopicHealthProbed, Data: health.Result{Name: "nautilus_api", Status: health.StatusHealthy, Latency: 20 * time.Millisecond}})
	c.Observe(eventbus.Event{Type: eventbus.TopicRelaySent})
	c.Observe(eventbus.Event{Type: "something.else"})
	c.TaskRestarted("http", errors.New("listen failed"))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.toastsTotal.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.toastsRemoved.WithLabelValues("expired")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.toastsRemoved.WithLabelValues("cleared")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.resolutions.WithLabelValues("bootstrap")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.relayTotal.WithLabelValues("sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.taskRestarts.WithLabelValues("http")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.probeSeconds))

	expected := `
# HELP nautconsole_toasts_active Notifications currently visible.
# TYPE nautconsole_toasts_active gauge
nautconsole_toasts_active 3
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "nautconsole_toasts_active"))
}

func TestRunConsumesBus(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	bus := eventbus.New()
	c := New(reg, nil, bus, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx, bus)
	}()

	center := toast.New(toast.Config{}, logx.Nop(), bus)
	// The subscription is registered asynchronously; keep raising until seen.
	require.Eventually(t, func() bool {
		center.Warning("hi")
		return testutil.ToFloat64(c.toastsTotal.WithLabelValues("warning")) > 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
