package httpapi

import (
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"

	"github.com/gorilla/mux"
)

const pprofPrefix = "/debug/pprof/"

// mountPprof exposes net/http/pprof under /debug/pprof/, guarded by token
// when one is set.
func mountPprof(r *mux.Router, token string) {
	wrap := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(token, h) }
	r.HandleFunc(strings.TrimSuffix(pprofPrefix, "/"), func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, pprofPrefix, http.StatusPermanentRedirect)
	})
	r.HandleFunc(pprofPrefix+"cmdline", wrap(hpprof.Cmdline))
	r.HandleFunc(pprofPrefix+"profile", wrap(hpprof.Profile))
	r.HandleFunc(pprofPrefix+"symbol", wrap(hpprof.Symbol))
	r.HandleFunc(pprofPrefix+"trace", wrap(hpprof.Trace))
	// Index also serves named profiles such as heap and goroutine.
	r.PathPrefix(pprofPrefix).HandlerFunc(wrap(hpprof.Index))
}

// pprofAllowed refuses an unauthenticated diagnostics surface on a public bind.
func pprofAllowed(cfg Config) bool {
	if !cfg.Debug.Pprof {
		return false
	}
	return cfg.Debug.AllowInsecure || strings.TrimSpace(cfg.Debug.Token) != "" || isLoopbackAddr(cfg.Addr)
}

func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		// Accept either "Authorization: Bearer <token>" or ?token=<token>.
		if got := r.URL.Query().Get("token"); got != "" {
			if got == tok {
				h(w, r)
				return
			}
			unauthorized(w)
			return
		}
		if ah := r.Header.Get("Authorization"); ah != "" {
			const p = "Bearer "
			if strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
				h(w, r)
				return
			}
		}
		unauthorized(w)
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// All interfaces.
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
