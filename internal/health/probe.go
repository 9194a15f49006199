package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"nautconsole/internal/endpoints"
)

const (
	DefaultTimeout     = 5 * time.Second
	DefaultMockTimeout = 3 * time.Second

	// HealthPath is appended to every probed base URL.
	HealthPath = "/api/health"

	maxParallelProbes = 8
)

type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Target is a named base URL to probe. A positive Timeout overrides the
// budget passed to ProbeAll for this target only.
type Target struct {
	Name    string        `json:"name"`
	URL     string        `json:"url"`
	Timeout time.Duration `json:"-"`
}

type Result struct {
	Name      string        `json:"name"`
	URL       string        `json:"url"`
	Status    Status        `json:"status"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
}

func (r Result) Healthy() bool { return r.Status == StatusHealthy }

// Probe calls {url}/api/health once. Any 2xx is healthy; everything else,
// including transport errors and timeouts, is unhealthy.
func Probe(ctx context.Context, client *http.Client, t Target, timeout time.Duration) Result {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	res := Result{Name: t.Name, URL: t.URL, Status: StatusUnhealthy, CheckedAt: time.Now()}

	base, ok := endpoints.NormalizeURL(t.URL)
	if !ok {
		res.Error = fmt.Sprintf("invalid url %q", t.URL)
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoints.JoinURL(base, HealthPath), nil)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	started := time.Now()
	resp, err := client.Do(req)
	res.Latency = time.Since(started)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			res.Error = fmt.Sprintf("timeout after %s", timeout)
		} else {
			res.Error = err.Error()
		}
		return res
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		res.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
		return res
	}
	res.Status = StatusHealthy
	return res
}

// ProbeAll probes targets in parallel and returns results in target order.
// timeout applies to targets that carry no budget of their own.
func ProbeAll(ctx context.Context, client *http.Client, targets []Target, timeout time.Duration) []Result {
	out := make([]Result, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelProbes)
	for i, t := range targets {
		budget := timeout
		if t.Timeout > 0 {
			budget = t.Timeout
		}
		g.Go(func() error {
			out[i] = Probe(gctx, client, t, budget)
			return nil
		})
	}
	_ = g.Wait()
	return out
}
