package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"nautconsole/internal/adminapi"
	"nautconsole/internal/endpoints"
	"nautconsole/internal/eventbus"
	"nautconsole/internal/health"
	"nautconsole/internal/nautilus"
	"nautconsole/internal/storage"
	"nautconsole/internal/toast"
	logx "nautconsole/pkg/logx"
)

// Toasts is the notification center as seen by the HTTP surface.
type Toasts interface {
	Notify(kind toast.Kind, message string, opts ...toast.Option) string
	Dismiss(id string) bool
	List() []toast.Notification
	History() []toast.Removal
	Subscribe(buffer int) (<-chan []toast.Notification, func())
}

type Endpoints interface {
	Snapshot() endpoints.Snapshot
	Reload(ctx context.Context) endpoints.Snapshot
}

// Catalog is the admin endpoint catalogue.
type Catalog interface {
	ListEndpoints(ctx context.Context) ([]adminapi.Endpoint, error)
	UpdateEndpoint(ctx context.Context, id int64, upd adminapi.EndpointUpdate) error
}

// Engine is the trading backend.
type Engine interface {
	EngineInfo(ctx context.Context) (nautilus.EngineInfo, error)
	Instruments(ctx context.Context) ([]nautilus.Instrument, error)
	ComponentAction(ctx context.Context, component string, action nautilus.ComponentAction) (nautilus.ActionResult, error)
	DatabaseAction(ctx context.Context, op nautilus.DatabaseOp, target string) (nautilus.ActionResult, error)
}

type Health interface {
	Enabled() bool
	Latest() []health.Result
	MockMode() bool
}

type AuditReader interface {
	RecentAudit(ctx context.Context, limit int) ([]storage.Entry, error)
}

// Deps are the components behind the routes. Audit, Metrics, and Bus may be nil.
type Deps struct {
	Toasts    Toasts
	Endpoints Endpoints
	Catalog   Catalog
	Engine    Engine
	Health    Health
	Audit     AuditReader
	Bus       eventbus.Bus
	Metrics   http.Handler
	// ProbeClient is used by the catalogue test; nil means a default client.
	ProbeClient *http.Client
	Version     string
}

type api struct {
	deps Deps
	log  logx.Logger
	cfg  Config
}

// NewRouter builds the full route table.
func NewRouter(cfg Config, deps Deps, log logx.Logger) *mux.Router {
	r, _ := buildRouter(cfg, deps, log)
	return r
}

func buildRouter(cfg Config, deps Deps, log logx.Logger) (*mux.Router, *wsHandler) {
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &api{deps: deps, log: log, cfg: cfg}
	ws := newWSHandler(deps.Toasts, cfg.CORSOrigins, log)

	r := mux.NewRouter()
	r.Use(recovery(log), requestLog(log), cors(cfg.CORSOrigins))

	sub := r.PathPrefix("/api").Subrouter()
	sub.HandleFunc("/toasts", a.listToasts).Methods(http.MethodGet)
	sub.HandleFunc("/toasts", a.createToast).Methods(http.MethodPost)
	sub.HandleFunc("/toasts/history", a.toastHistory).Methods(http.MethodGet)
	sub.HandleFunc("/toasts/{id}", a.dismissToast).Methods(http.MethodDelete)

	sub.HandleFunc("/endpoints", a.getEndpoints).Methods(http.MethodGet)
	sub.HandleFunc("/endpoints/reload", a.reloadEndpoints).Methods(http.MethodPost)
	sub.HandleFunc("/endpoints/catalog", a.listCatalog).Methods(http.MethodGet)
	sub.HandleFunc("/endpoints/catalog/{id:[0-9]+}", a.updateCatalog).Methods(http.MethodPut)
	sub.HandleFunc("/endpoints/test", a.testCatalog).Methods(http.MethodPost)

	sub.HandleFunc("/health", a.health).Methods(http.MethodGet)

	sub.HandleFunc("/engine/info", a.engineInfo).Methods(http.MethodGet)
	sub.HandleFunc("/engine/instruments", a.instruments).Methods(http.MethodGet)
	sub.HandleFunc("/engine/components/{name}/{action}", a.componentAction).Methods(http.MethodPost)
	sub.HandleFunc("/engine/database/{op}", a.databaseAction).Methods(http.MethodPost)

	sub.HandleFunc("/audit", a.listAudit).Methods(http.MethodGet)

	r.Handle("/ws", ws).Methods(http.MethodGet)
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics).Methods(http.MethodGet)
	}
	switch {
	case pprofAllowed(cfg):
		mountPprof(r, cfg.Debug.Token)
	case cfg.Debug.Pprof:
		log.Error("pprof not mounted: non-loopback addr requires debug.token or debug.allow_insecure", logx.String("addr", cfg.Addr))
	}
	// Preflight for any path. A method matcher here would turn every unknown
	// path into a 405.
	r.MatcherFunc(func(req *http.Request, _ *mux.RouteMatch) bool {
		return req.Method == http.MethodOptions
	}).HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return r, ws
}
