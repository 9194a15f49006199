// Package adminapi talks to the admin database API that owns the endpoint catalogue.
package adminapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"nautconsole/internal/restclient"
	logx "nautconsole/pkg/logx"
)

// StatusError is returned for non-2xx responses.
type StatusError = restclient.StatusError

// Endpoint is one row of the endpoint catalogue.
type Endpoint struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	URL         string `json:"url"`
	Description string `json:"description"`
	IsActive    bool   `json:"is_active"`
	LastUpdated string `json:"last_updated"`
}

// EndpointUpdate is the body of an edit. IsActive is optional so a plain
// URL edit leaves the active flag alone.
type EndpointUpdate struct {
	URL         string `json:"url"`
	Description string `json:"description"`
	IsActive    *bool  `json:"is_active,omitempty"`
}

// BaseURL yields the current admin API base URL (the resolver's AdminAPIURL).
type BaseURL func() string

type Client struct {
	rc *restclient.Client
}

func New(base BaseURL, cfg restclient.Config, log logx.Logger) *Client {
	return &Client{rc: restclient.New(base, cfg, log)}
}

// ListEndpoints returns the full catalogue.
func (c *Client) ListEndpoints(ctx context.Context) ([]Endpoint, error) {
	var out struct {
		Endpoints []Endpoint `json:"endpoints"`
	}
	if err := c.rc.Do(ctx, http.MethodGet, "/api/admin/endpoints", nil, &out); err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	return out.Endpoints, nil
}

// UpdateEndpoint edits one catalogue row.
func (c *Client) UpdateEndpoint(ctx context.Context, id int64, upd EndpointUpdate) error {
	upd.URL = strings.TrimSpace(upd.URL)
	if err := c.rc.Do(ctx, http.MethodPut, fmt.Sprintf("/api/admin/endpoints/%d", id), upd, nil); err != nil {
		return fmt.Errorf("update endpoint %d: %w", id, err)
	}
	return nil
}

// SetActive flips the active flag of ep, keeping its url and description.
func (c *Client) SetActive(ctx context.Context, ep Endpoint, active bool) error {
	return c.UpdateEndpoint(ctx, ep.ID, EndpointUpdate{URL: ep.URL, Description: ep.Description, IsActive: &active})
}
