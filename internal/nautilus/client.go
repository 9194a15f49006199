// Package nautilus is the client for the trading engine's REST API.
package nautilus

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"nautconsole/internal/restclient"
	logx "nautconsole/pkg/logx"
)

var (
	ErrUnknownAction   = errors.New("nautilus: unknown action")
	ErrEmptyComponent  = errors.New("nautilus: component name is required")
	ErrUnknownDatabase = errors.New("nautilus: unknown database operation")
)

type HealthStatus struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type Component struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

type EngineInfo struct {
	TraderID   string      `json:"trader_id"`
	Components []Component `json:"components"`
}

type Instrument struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Venue  string `json:"venue"`
}

// ActionResult is the engine's reply to a mutating call.
type ActionResult struct {
	Message string `json:"message"`
}

// ComponentAction names a lifecycle operation on an engine component.
type ComponentAction string

const (
	ActionStop    ComponentAction = "stop"
	ActionRestart ComponentAction = "restart"
)

func ParseComponentAction(s string) (ComponentAction, error) {
	switch a := ComponentAction(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionStop, ActionRestart:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

// DatabaseOp names a maintenance operation. Backup and optimize target a
// database type; clean targets a cache type.
type DatabaseOp string

const (
	DatabaseBackup   DatabaseOp = "backup"
	DatabaseOptimize DatabaseOp = "optimize"
	DatabaseClean    DatabaseOp = "clean"
)

func ParseDatabaseOp(s string) (DatabaseOp, error) {
	switch op := DatabaseOp(strings.ToLower(strings.TrimSpace(s))); op {
	case DatabaseBackup, DatabaseOptimize, DatabaseClean:
		return op, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDatabase, s)
}

type Client struct {
	rc *restclient.Client
}

// New builds a client whose base URL is read from base on every call.
func New(base func() string, cfg restclient.Config, log logx.Logger) *Client {
	return &Client{rc: restclient.New(base, cfg, log)}
}

// SetRate updates the outbound rate limit.
func (c *Client) SetRate(rps, burst int) { c.rc.SetRate(rps, burst) }

func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	var out HealthStatus
	err := c.rc.Do(ctx, http.MethodGet, "/api/health", nil, &out)
	return out, err
}

func (c *Client) EngineInfo(ctx context.Context) (EngineInfo, error) {
	var out EngineInfo
	err := c.rc.Do(ctx, http.MethodGet, "/api/nautilus/engine/info", nil, &out)
	return out, err
}

func (c *Client) Instruments(ctx context.Context) ([]Instrument, error) {
	var out []Instrument
	if err := c.rc.Do(ctx, http.MethodGet, "/api/nautilus/instruments", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ComponentAction(ctx context.Context, component string, action ComponentAction) (ActionResult, error) {
	component = strings.TrimSpace(component)
	if component == "" {
		return ActionResult{}, ErrEmptyComponent
	}
	if _, err := ParseComponentAction(string(action)); err != nil {
		return ActionResult{}, err
	}
	var out ActionResult
	err := c.rc.Do(ctx, http.MethodPost, "/api/nautilus/component/"+string(action),
		map[string]string{"component": component}, &out)
	return out, err
}

// ConfigureComponent pushes an opaque config document to a component.
func (c *Client) ConfigureComponent(ctx context.Context, component string, config map[string]any) (ActionResult, error) {
	component = strings.TrimSpace(component)
	if component == "" {
		return ActionResult{}, ErrEmptyComponent
	}
	var out ActionResult
	err := c.rc.Do(ctx, http.MethodPost, "/api/nautilus/component/configure",
		map[string]any{"component": component, "config": config}, &out)
	return out, err
}

func (c *Client) DatabaseAction(ctx context.Context, op DatabaseOp, target string) (ActionResult, error) {
	if _, err := ParseDatabaseOp(string(op)); err != nil {
		return ActionResult{}, err
	}
	key := "db_type"
	if op == DatabaseClean {
		key = "cache_type"
	}
	var out ActionResult
	err := c.rc.Do(ctx, http.MethodPost, "/api/nautilus/database/"+string(op),
		map[string]string{key: strings.TrimSpace(target)}, &out)
	return out, err
}
