// Package restclient is the JSON-over-HTTP plumbing shared by the backend clients.
package restclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/time/rate"

	logx "nautconsole/pkg/logx"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxBody = 4 << 20

// ErrNoBaseURL is returned when the base URL source yields an empty string.
var ErrNoBaseURL = errors.New("restclient: base url not configured")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string // truncated
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: HTTP %d", e.Method, e.URL, e.Code)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

type Config struct {
	Timeout    time.Duration // per call, 0 means 15s
	RatePerSec int           // 0 disables limiting
	Burst      int
	HTTP       *http.Client
}

// Client sends JSON requests against a base URL read on every call.
type Client struct {
	base    func() string
	http    *http.Client
	timeout time.Duration
	limiter atomic.Pointer[rate.Limiter] // nil disables limiting
	log     logx.Logger
}

func New(base func() string, cfg Config, log logx.Logger) *Client {
	c := &Client{base: base, http: cfg.HTTP, timeout: cfg.Timeout, log: log}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.timeout <= 0 {
		c.timeout = 15 * time.Second
	}
	c.SetRate(cfg.RatePerSec, cfg.Burst)
	return c
}

// SetRate swaps the limiter settings at runtime. rps <= 0 disables limiting.
func (c *Client) SetRate(rps, burst int) {
	if rps <= 0 {
		c.limiter.Store(nil)
		return
	}
	if burst <= 0 {
		burst = rps
	}
	if lim := c.limiter.Load(); lim != nil {
		lim.SetLimit(rate.Limit(rps))
		lim.SetBurst(burst)
		return
	}
	c.limiter.Store(rate.NewLimiter(rate.Limit(rps), burst))
}

// URL joins path onto the current base URL.
func (c *Client) URL(path string) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(c.base()), "/")
	if base == "" {
		return "", ErrNoBaseURL
	}
	return base + "/" + strings.TrimLeft(path, "/"), nil
}

// Do sends in (if non-nil) as JSON and decodes the response into out (if non-nil).
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	u, err := c.URL(path)
	if err != nil {
		return err
	}

	if lim := c.limiter.Load(); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug("request failed", logx.String("method", method), logx.String("url", u), logx.Err(err))
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	c.log.Debug("request done",
		logx.String("method", method),
		logx.String("url", u),
		logx.Int("status", resp.StatusCode),
		logx.Duration("took", time.Since(started)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := strings.TrimSpace(string(raw))
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return &StatusError{Method: method, URL: u, Code: resp.StatusCode, Body: snippet}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response from %s: %w", u, err)
	}
	return nil
}
