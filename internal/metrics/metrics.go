// Package metrics exposes console activity as Prometheus collectors.
//
// Collectors are fed from the event bus, so producers never depend on this
// package. Everything registers on an explicit Registerer.
package metrics

import (
	"context"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"nautconsole/internal/endpoints"
	"nautconsole/internal/eventbus"
	"nautconsole/internal/health"
	"nautconsole/internal/toast"
	logx "nautconsole/pkg/logx"
)

const namespace = "nautconsole"

// Collector holds the console's metrics.
type Collector struct {
	log logx.Logger

	toastsTotal   *prometheus.CounterVec
	toastsRemoved *prometheus.CounterVec
	resolutions   *prometheus.CounterVec
	probeSeconds  *prometheus.HistogramVec
	relayTotal    *prometheus.CounterVec
	taskRestarts  *prometheus.CounterVec
}

// New registers all collectors on reg. active reports the current number of
// visible toasts; bus may be nil.
func New(reg prometheus.Registerer, active func() int, bus eventbus.Bus, log logx.Logger) *Collector {
	f := promauto.With(reg)
	c := &Collector{
		log: log,
		toastsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "toasts_total",
			Help:      "Notifications raised, by kind.",
		}, []string{"kind"}),
		toastsRemoved: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "toasts_removed_total",
			Help:      "Notifications removed from the active list, by reason.",
		}, []string{"reason"}),
		resolutions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "endpoint_resolutions_total",
			Help:      "Completed endpoint resolutions, by source of the resulting URLs.",
		}, []string{"source"}),
		probeSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "health_probe_seconds",
			Help:      "Health probe latency in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5},
		}, []string{"target", "status"}),
		relayTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "messages_total",
			Help:      "Relay deliveries, by result.",
		}, []string{"result"}),
		taskRestarts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_restarts_total",
			Help:      "Supervised task restarts, by task name.",
		}, []string{"task"}),
	}
	if active != nil {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "toasts_active",
			Help:      "Notifications currently visible.",
		}, func() float64 { return float64(active()) })
	}
	if bus != nil {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "eventbus_dropped_total",
			Help:      "Event deliveries skipped because a subscriber was full.",
		}, func() float64 { return float64(bus.Dropped()) })
	}
	return c
}

// Run consumes bus events until ctx is done or the subscription closes.
func (c *Collector) Run(ctx context.Context, bus eventbus.Bus) {
	events, unsub := bus.SubscribeTopic(256, "toast.", "endpoints.", eventbus.TopicHealthProbed, "relay.")
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.Observe(ev)
		}
	}
}

// Observe updates collectors for a single event. Unknown events are ignored.
func (c *Collector) Observe(ev eventbus.Event) {
	switch ev.Type {
	case eventbus.TopicToastAdded:
		if n, ok := ev.Data.(toast.Notification); ok {
			c.toastsTotal.WithLabelValues(n.Kind.String()).Inc()
		}
	case eventbus.TopicToastDismissed:
		c.toastsRemoved.WithLabelValues(string(toast.ReasonDismissed)).Inc()
	case eventbus.TopicToastExpired:
		c.toastsRemoved.WithLabelValues(string(toast.ReasonExpired)).Inc()
	case eventbus.TopicToastCleared:
		if n, ok := ev.Data.(int); ok && n > 0 {
			c.toastsRemoved.WithLabelValues(string(toast.ReasonCleared)).Add(float64(n))
		}
	case eventbus.TopicEndpointsResolved:
		if s, ok := ev.Data.(endpoints.Snapshot); ok {
			c.resolutions.WithLabelValues(string(s.Source)).Inc()
		}
	case eventbus.TopicHealthProbed:
		if r, ok := ev.Data.(health.Result); ok {
			c.probeSeconds.WithLabelValues(r.Name, string(r.Status)).Observe(r.Latency.Seconds())
		}
	default:
		if result, ok := strings.CutPrefix(ev.Type, "relay."); ok {
			c.relayTotal.WithLabelValues(result).Inc()
		}
	}
}

// TaskRestarted matches supervisor.WithRestartHook.
func (c *Collector) TaskRestarted(name string, err error) {
	c.taskRestarts.WithLabelValues(name).Inc()
	c.log.Debug("task restarted", logx.String("task", name), logx.Err(err))
}
