package endpoints

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	NameTradingAPI = "nautilus_api"
	NameAdminAPI   = "admin_db_api"

	// BootstrapPath is resolved against the admin base URL.
	BootstrapPath = "/api/admin/endpoints"

	maxBootstrapBody = 1 << 20
)

var (
	ErrBootstrapUnreachable = errors.New("endpoints: bootstrap unreachable")
	ErrBootstrapMalformed   = errors.New("endpoints: bootstrap response malformed")
)

type bootstrapEntry struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type bootstrapDoc struct {
	Endpoints *[]bootstrapEntry `json:"endpoints"`
}

// fetchBootstrap calls the bootstrap endpoint and returns the raw name->url pairs.
func fetchBootstrap(ctx context.Context, client *http.Client, adminURL string) ([]bootstrapEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, JoinURL(adminURL, BootstrapPath), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBootstrapUnreachable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBootstrapUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBootstrapBody))
		return nil, fmt.Errorf("%w: HTTP %d", ErrBootstrapUnreachable, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBootstrapBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrBootstrapUnreachable, err)
	}
	return parseBootstrap(body)
}

// parseBootstrap validates the payload shape: a JSON object holding an
// "endpoints" array of {name, url}.
func parseBootstrap(body []byte) ([]bootstrapEntry, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrBootstrapMalformed)
	}
	var doc bootstrapDoc
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBootstrapMalformed, err)
	}
	if doc.Endpoints == nil {
		return nil, fmt.Errorf("%w: missing endpoints list", ErrBootstrapMalformed)
	}
	return *doc.Endpoints, nil
}

// NormalizeURL returns raw without trailing slashes if it is an absolute
// http(s) URL with a host.
func NormalizeURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", false
	}
	return strings.TrimRight(raw, "/"), true
}

// JoinURL appends path to base with exactly one slash between them.
func JoinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
