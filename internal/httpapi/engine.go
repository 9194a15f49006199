package httpapi

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"nautconsole/internal/eventbus"
	"nautconsole/internal/nautilus"
	"nautconsole/internal/storage"
	"nautconsole/internal/toast"
)

// engineCommandTimeout bounds a mutating engine call once accepted.
const engineCommandTimeout = 30 * time.Second

func (a *api) engineInfo(w http.ResponseWriter, r *http.Request) {
	info, err := a.deps.Engine.EngineInfo(r.Context())
	if err != nil {
		upstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *api) instruments(w http.ResponseWriter, r *http.Request) {
	list, err := a.deps.Engine.Instruments(r.Context())
	if err != nil {
		upstreamError(w, err)
		return
	}
	if list == nil {
		list = []nautilus.Instrument{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *api) componentAction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name := vars["name"]
	action, err := nautilus.ParseComponentAction(vars["action"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := detached(r, engineCommandTimeout)
	defer cancel()
	start := time.Now()
	res, err := a.deps.Engine.ComponentAction(ctx, name, action)
	took := time.Since(start)
	a.record(r, "component."+string(action), name, took, err, res.Message)
	if err != nil {
		a.deps.Toasts.Notify(toast.KindError, fmt.Sprintf("Failed to %s %s: %v", action, name, err))
		if errors.Is(err, nautilus.ErrEmptyComponent) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		upstreamError(w, err)
		return
	}
	a.deps.Toasts.Notify(toast.KindSuccess, actionMessage(res, fmt.Sprintf("%s: %s done", name, action)))
	writeJSON(w, http.StatusOK, res)
}

type databaseRequest struct {
	Target string `json:"target"`
}

func (a *api) databaseAction(w http.ResponseWriter, r *http.Request) {
	op, err := nautilus.ParseDatabaseOp(mux.Vars(r)["op"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req databaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := detached(r, engineCommandTimeout)
	defer cancel()
	start := time.Now()
	res, err := a.deps.Engine.DatabaseAction(ctx, op, req.Target)
	a.record(r, "database."+string(op), req.Target, time.Since(start), err, res.Message)
	if err != nil {
		a.deps.Toasts.Notify(toast.KindError, fmt.Sprintf("Database %s failed: %v", op, err))
		upstreamError(w, err)
		return
	}
	a.deps.Toasts.Notify(toast.KindSuccess, actionMessage(res, "Database "+string(op)+" done"))
	writeJSON(w, http.StatusOK, res)
}

func actionMessage(res nautilus.ActionResult, fallback string) string {
	if res.Message != "" {
		return res.Message
	}
	return fallback
}

func (a *api) listAudit(w http.ResponseWriter, r *http.Request) {
	if a.deps.Audit == nil {
		writeError(w, http.StatusNotFound, storage.ErrDisabled)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = n
	}
	entries, err := a.deps.Audit.RecentAudit(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []storage.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// record publishes an operator action for the audit writer.
func (a *api) record(r *http.Request, action, target string, took time.Duration, err error, detail string) {
	if a.deps.Bus == nil {
		return
	}
	e := storage.Entry{
		At:     time.Now(),
		Actor:  actor(r),
		Action: action,
		Target: target,
		TookMS: took.Milliseconds(),
		Detail: detail,
	}
	if err != nil {
		e.Outcome = storage.OutcomeError
		e.Error = err.Error()
	}
	a.deps.Bus.Publish(eventbus.Event{Type: eventbus.TopicAudit, Time: e.At, Data: e})
}

func actor(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "http:" + host
}
