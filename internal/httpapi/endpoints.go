package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"nautconsole/internal/adminapi"
	"nautconsole/internal/endpoints"
	"nautconsole/internal/health"
	"nautconsole/internal/toast"
)

type endpointsView struct {
	endpoints.Snapshot
	MockMode bool `json:"mock_mode"`
}

func (a *api) mockMode() bool {
	return a.deps.Health != nil && a.deps.Health.MockMode()
}

func (a *api) getEndpoints(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, endpointsView{Snapshot: a.deps.Endpoints.Snapshot(), MockMode: a.mockMode()})
}

func (a *api) reloadEndpoints(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	snap := a.deps.Endpoints.Reload(r.Context())
	a.notifyResolved(snap)
	a.record(r, "endpoints.reload", "", time.Since(start), resolveErr(snap), string(snap.Source))
	writeJSON(w, http.StatusOK, endpointsView{Snapshot: snap, MockMode: a.mockMode()})
}

func resolveErr(s endpoints.Snapshot) error {
	if s.LastError == "" {
		return nil
	}
	return errors.New(s.LastError)
}

func (a *api) notifyResolved(s endpoints.Snapshot) {
	if s.LastError != "" {
		a.deps.Toasts.Notify(toast.KindWarning, "Endpoint bootstrap failed, using defaults: "+s.LastError)
		return
	}
	a.deps.Toasts.Notify(toast.KindInfo, fmt.Sprintf("Endpoints reloaded (%s)", s.Source))
}

func (a *api) listCatalog(w http.ResponseWriter, r *http.Request) {
	list, err := a.deps.Catalog.ListEndpoints(r.Context())
	if err != nil {
		upstreamError(w, err)
		return
	}
	if list == nil {
		list = []adminapi.Endpoint{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *api) updateCatalog(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var upd adminapi.EndpointUpdate
	if err := decodeJSON(r, &upd); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	norm, ok := endpoints.NormalizeURL(upd.URL)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid url %q", upd.URL))
		return
	}
	upd.URL = norm

	start := time.Now()
	target := strconv.FormatInt(id, 10)
	if err := a.deps.Catalog.UpdateEndpoint(r.Context(), id, upd); err != nil {
		a.deps.Toasts.Notify(toast.KindError, "Endpoint update failed: "+err.Error())
		a.record(r, "endpoint.update", target, time.Since(start), err, upd.URL)
		upstreamError(w, err)
		return
	}
	a.deps.Toasts.Notify(toast.KindSuccess, "Endpoint updated")
	a.record(r, "endpoint.update", target, time.Since(start), nil, upd.URL)

	// Pick up the edit; the catalogue is the source of the bootstrap.
	snap := a.deps.Endpoints.Reload(r.Context())
	a.notifyResolved(snap)
	writeJSON(w, http.StatusOK, endpointsView{Snapshot: snap, MockMode: a.mockMode()})
}

func (a *api) testCatalog(w http.ResponseWriter, r *http.Request) {
	list, err := a.deps.Catalog.ListEndpoints(r.Context())
	if err != nil {
		upstreamError(w, err)
		return
	}
	targets := make([]health.Target, 0, len(list))
	for _, ep := range list {
		if ep.IsActive {
			targets = append(targets, health.Target{Name: ep.Name, URL: ep.URL})
		}
	}
	results := health.ProbeAll(r.Context(), a.deps.ProbeClient, targets, health.DefaultTimeout)

	var bad []string
	for _, res := range results {
		if !res.Healthy() {
			bad = append(bad, res.Name)
		}
	}
	msg := fmt.Sprintf("Tested %d endpoints: all reachable", len(results))
	if len(bad) > 0 {
		msg = fmt.Sprintf("Tested %d endpoints: %d unreachable (%s)", len(results), len(bad), strings.Join(bad, ", "))
	}
	a.deps.Toasts.Notify(toast.KindInfo, msg)
	writeJSON(w, http.StatusOK, results)
}

type healthView struct {
	Status     string          `json:"status"`
	Version    string          `json:"version,omitempty"`
	Monitoring bool            `json:"monitoring"`
	MockMode   bool            `json:"mock_mode"`
	Resolver   endpoints.State `json:"resolver"`
	Endpoints  []health.Result `json:"endpoints"`
}

func (a *api) health(w http.ResponseWriter, _ *http.Request) {
	v := healthView{
		Status:    "ok",
		Version:   a.deps.Version,
		Resolver:  a.deps.Endpoints.Snapshot().State,
		Endpoints: []health.Result{},
	}
	if h := a.deps.Health; h != nil {
		v.Monitoring = h.Enabled()
		v.MockMode = h.MockMode()
		if latest := h.Latest(); latest != nil {
			v.Endpoints = latest
		}
	}
	writeJSON(w, http.StatusOK, v)
}

// detached returns a context for work that must finish even if the client
// goes away, such as an engine command already sent.
func detached(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.Context()), d)
}
