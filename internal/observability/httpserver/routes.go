package httpserver

import (
	"crypto/subtle"
	"encoding/json"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// handler builds the route table for cfg.
func (s *Service) handler(cfg Config) http.Handler {
	mux := http.NewServeMux()
	guard := authGuard(cfg.Token)

	mux.Handle("/metrics", guard(promhttp.Handler()))
	mux.Handle("/healthz", guard(http.HandlerFunc(s.serveHealth)))

	if cfg.Pprof {
		prefix := normalizePrefix(cfg.PprofPrefix)
		for name, h := range map[string]http.HandlerFunc{
			"":        pprofIndexAt(prefix),
			"cmdline": hpprof.Cmdline,
			"profile": hpprof.Profile,
			"symbol":  hpprof.Symbol,
			"trace":   hpprof.Trace,
		} {
			mux.Handle(prefix+name, guard(h))
		}
		bare := strings.TrimSuffix(prefix, "/")
		mux.Handle(bare, http.RedirectHandler(prefix, http.StatusPermanentRedirect))
	}
	return mux
}

func (s *Service) serveHealth(w http.ResponseWriter, _ *http.Request) {
	var status any = map[string]string{"status": "ok"}
	healthy := true
	if s.health != nil {
		status, healthy = s.health()
	}

	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}

// authGuard requires the token as "Authorization: Bearer <token>" or as the
// token query parameter. An empty token disables the check.
func authGuard(token string) func(http.Handler) http.Handler {
	want := []byte(strings.TrimSpace(token))
	return func(next http.Handler) http.Handler {
		if len(want) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.URL.Query().Get("token")
			if got == "" {
				if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
					got = strings.TrimSpace(bearer)
				}
			}
			if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func normalizePrefix(prefix string) string {
	p := strings.TrimSpace(prefix)
	if p == "" {
		return "/debug/pprof/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// pprofIndexAt serves pprof.Index under prefix. Index resolves profile
// names relative to /debug/pprof/, so the path is rewritten first.
func pprofIndexAt(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r2 := r.Clone(r.Context())
		r2.URL.Path = "/debug/pprof/" + strings.TrimPrefix(r.URL.Path, prefix)
		hpprof.Index(w, r2)
	}
}

// isLoopbackAddr reports whether a host:port binds only to loopback. An
// empty host means every interface.
func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	host = strings.TrimSpace(host)
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
