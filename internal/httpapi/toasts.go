package httpapi

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"nautconsole/internal/toast"
)

type toastView struct {
	ID        string     `json:"id"`
	Kind      toast.Kind `json:"kind"`
	Message   string     `json:"message"`
	CreatedAt time.Time  `json:"created_at"`
	TTLMS     int64      `json:"ttl_ms"`
	Sticky    bool       `json:"sticky"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func viewToast(n toast.Notification) toastView {
	v := toastView{
		ID:        n.ID,
		Kind:      n.Kind,
		Message:   n.Message,
		CreatedAt: n.CreatedAt,
		Sticky:    n.Sticky(),
		ExpiresAt: n.ExpiresAt,
	}
	if !v.Sticky {
		v.TTLMS = n.TTL.Milliseconds()
	}
	return v
}

func viewToasts(ns []toast.Notification) []toastView {
	out := make([]toastView, 0, len(ns))
	for _, n := range ns {
		out = append(out, viewToast(n))
	}
	return out
}

type removalView struct {
	toastView
	Reason    toast.Reason `json:"reason"`
	RemovedAt time.Time    `json:"removed_at"`
}

// maxTTLMS is the largest ttl_ms that still fits a time.Duration.
const maxTTLMS = math.MaxInt64 / int64(time.Millisecond)

type createToastRequest struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	TTLMS   *int64 `json:"ttl_ms,omitempty"`
	Sticky  bool   `json:"sticky,omitempty"`
}

func (a *api) listToasts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, viewToasts(a.deps.Toasts.List()))
}

func (a *api) createToast(w http.ResponseWriter, r *http.Request) {
	var req createToastRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	kind, err := toast.ParseKind(req.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var opts []toast.Option
	switch {
	case req.Sticky:
		opts = append(opts, toast.Sticky())
	case req.TTLMS != nil:
		if *req.TTLMS < 0 {
			writeError(w, http.StatusBadRequest, errors.New("ttl_ms must be >= 0; use sticky for no expiry"))
			return
		}
		if *req.TTLMS > maxTTLMS {
			writeError(w, http.StatusBadRequest, fmt.Errorf("ttl_ms must be <= %d", maxTTLMS))
			return
		}
		opts = append(opts, toast.WithTTL(time.Duration(*req.TTLMS)*time.Millisecond))
	}
	id := a.deps.Toasts.Notify(kind, req.Message, opts...)
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// dismissToast is idempotent: unknown ids are not an error.
func (a *api) dismissToast(w http.ResponseWriter, r *http.Request) {
	a.deps.Toasts.Dismiss(mux.Vars(r)["id"])
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) toastHistory(w http.ResponseWriter, _ *http.Request) {
	hist := a.deps.Toasts.History()
	out := make([]removalView, 0, len(hist))
	for _, h := range hist {
		out = append(out, removalView{toastView: viewToast(h.Notification), Reason: h.Reason, RemovedAt: h.RemovedAt})
	}
	writeJSON(w, http.StatusOK, out)
}
