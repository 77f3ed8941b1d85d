package http

import (
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/dkeye/Pulse/internal/config"
)

// OriginAllowed reports whether a browser origin may talk to the server:
// either listed verbatim or an https subdomain of the trusted domain.
func OriginAllowed(cfg config.CORSConfig) func(origin string) bool {
	allowed := make([]string, 0, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed = append(allowed, strings.TrimRight(o, "/"))
	}
	trusted := strings.TrimPrefix(strings.ToLower(cfg.TrustedDomain), "*.")

	return func(origin string) bool {
		if slices.Contains(allowed, origin) {
			return true
		}
		if trusted == "" {
			return false
		}
		u, err := url.Parse(origin)
		if err != nil || u.Scheme != "https" {
			return false
		}
		return strings.HasSuffix(strings.ToLower(u.Hostname()), "."+trusted)
	}
}

// CheckOrigin adapts OriginAllowed for the websocket upgrader. Requests
// without an Origin header come from non-browser clients and pass.
func CheckOrigin(cfg config.CORSConfig) func(*http.Request) bool {
	allowed := OriginAllowed(cfg)
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed(origin)
	}
}
