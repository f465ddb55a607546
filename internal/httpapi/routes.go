package httpapi

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/go-chi/chi/v5"
)

// maxRequestBodySize caps any POST body MountRoutes accepts before the
// dispatcher's own, tighter chat-completions limit applies.
const maxRequestBodySize = 10 << 20

// bodySizeLimit wraps the request body with http.MaxBytesReader so an
// oversized body is rejected before it reaches a handler.
func bodySizeLimit(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// MountRoutes wires blockrunproxy's HTTP surface onto r.
func MountRoutes(r chi.Router, d Dependencies) {
	r.Get("/health", HealthHandler(d))
	r.Get("/models", ModelsHandler(d))

	r.Route("/v1", func(r chi.Router) {
		r.Use(bodySizeLimit(maxRequestBodySize))
		if d.RateLimiter != nil {
			r.Use(d.RateLimiter.Middleware)
		}
		r.Post("/chat/completions", d.Dispatcher.ServeChatCompletions)
	})

	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}

	if d.DashboardProxyURL != "" {
		if proxy := dashboardProxy(d.DashboardProxyURL); proxy != nil {
			r.Handle("/dashboard", proxy)
			r.Handle("/dashboard/*", proxy)
		}
	}
}

// dashboardProxy builds a reverse proxy to an externally hosted dashboard
// (spec non-goal: blockrunproxy itself ships no operator UI). Returns nil if
// target is not a valid URL, in which case the route is left unmounted.
func dashboardProxy(target string) http.Handler {
	u, err := url.Parse(target)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil
	}
	return httputil.NewSingleHostReverseProxy(u)
}
