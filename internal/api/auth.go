package api

import (
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"

	"gemindex/internal/config"

	"golang.org/x/time/rate"
)

const (
	apiKeyHeaderDefault = "x-api-key"
	cronSecretHeader    = "X-Cron-Secret"
	cronSecretQuery     = "token"

	permWriteSync = "write:sync"
	permReadSync  = "read:sync"
	permAdmin     = "admin"
)

var errPermissionDenied = fmt.Errorf("permission denied")

// HTTPAuth provides API-key auth and per-key rate limiting. The tick
// endpoint additionally accepts the cron secret so external schedulers
// can force a run without holding an interactive key.
type HTTPAuth struct {
	cfg      config.APIConfig
	clients  map[string]config.APIClientKey
	limiters sync.Map // map[string]*rate.Limiter
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	m := make(map[string]config.APIClientKey, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		m[k.Key] = k
	}
	return &HTTPAuth{cfg: cfg, clients: m}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		if err := a.checkAuth(r); err != nil {
			statusCode := http.StatusUnauthorized
			if err == errPermissionDenied {
				statusCode = http.StatusForbidden
			}
			writeError(w, statusCode, err.Error())
			return
		}

		if err := a.checkRateLimit(r); err != nil {
			writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ClientName identifies the caller for task attribution.
func (a *HTTPAuth) ClientName(r *http.Request) string {
	if client, ok := a.clients[a.apiKey(r)]; ok && client.Name != "" {
		return client.Name
	}
	if a.cronAuthorized(r) {
		return "cron"
	}
	return "api"
}

func (a *HTTPAuth) checkAuth(r *http.Request) error {
	if r.URL.Path == "/api/v1/sync/tick" && a.cronAuthorized(r) {
		return nil
	}

	apiKey := a.apiKey(r)
	if apiKey == "" {
		return fmt.Errorf("missing api key")
	}

	client, ok := a.clients[apiKey]
	if !ok || subtle.ConstantTimeCompare([]byte(client.Key), []byte(apiKey)) != 1 {
		return fmt.Errorf("invalid api key")
	}

	return a.checkPermissions(client, r)
}

func (a *HTTPAuth) cronAuthorized(r *http.Request) bool {
	secret := a.cfg.Auth.CronSecret
	if secret == "" {
		return false
	}

	candidate := strings.TrimSpace(r.Header.Get(cronSecretHeader))
	if candidate == "" {
		candidate = strings.TrimSpace(r.URL.Query().Get(cronSecretQuery))
	}
	if candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(candidate)) == 1
}

func (a *HTTPAuth) checkPermissions(client config.APIClientKey, r *http.Request) error {
	required := requiredPermission(r)
	if required == "" {
		return nil
	}
	// Empty permissions list means allow-all.
	if len(client.Permissions) == 0 {
		return nil
	}
	for _, p := range client.Permissions {
		trimmed := strings.TrimSpace(p)
		if trimmed == required || trimmed == permAdmin {
			return nil
		}
	}
	return errPermissionDenied
}

func requiredPermission(r *http.Request) string {
	switch r.URL.Path {
	case "/api/v1/sync/tasks":
		return permWriteSync
	case "/api/v1/sync/status", "/api/v1/sync/export":
		return permReadSync
	case "/api/v1/sync/tick", "/api/v1/sync/scheduler":
		return permAdmin
	default:
		return ""
	}
}

func (a *HTTPAuth) checkRateLimit(r *http.Request) error {
	if a.cfg.RateLimit.RPS <= 0 {
		return nil
	}

	lim := a.getLimiter(a.clientKey(r))
	if !lim.Allow() {
		return fmt.Errorf("rate limit exceeded")
	}
	return nil
}

func (a *HTTPAuth) apiKey(r *http.Request) string {
	header := strings.TrimSpace(strings.ToLower(a.cfg.Auth.HeaderAPIKey))
	if header == "" {
		header = apiKeyHeaderDefault
	}
	return strings.TrimSpace(r.Header.Get(header))
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	if apiKey := a.apiKey(r); apiKey != "" {
		return apiKey
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return "unknown"
}

func (a *HTTPAuth) getLimiter(key string) *rate.Limiter {
	if v, ok := a.limiters.Load(key); ok {
		return v.(*rate.Limiter)
	}

	burst := a.cfg.RateLimit.Burst
	if burst <= 0 {
		burst = 5
	}

	lim := rate.NewLimiter(rate.Limit(a.cfg.RateLimit.RPS), burst)
	actual, loaded := a.limiters.LoadOrStore(key, lim)
	if loaded {
		return actual.(*rate.Limiter)
	}
	return lim
}
