// Package httpapi mounts blockrunproxy's HTTP surface: the OpenAI-compatible
// chat completions endpoint, operational health/model listing endpoints, and
// an optional dashboard reverse-proxy stub. Request handling itself lives in
// internal/dispatcher; this package is routing and wiring only.
package httpapi

import (
	"github.com/blockrun/blockrunproxy/internal/dispatcher"
	"github.com/blockrun/blockrunproxy/internal/metrics"
	"github.com/blockrun/blockrunproxy/internal/ratelimit"
	"github.com/blockrun/blockrunproxy/internal/selector"
	"github.com/blockrun/blockrunproxy/internal/wallet"
)

// Dependencies collects everything MountRoutes needs to wire the proxy's
// HTTP surface. Fields left at their zero value disable the feature they
// back: a nil RateLimiter skips rate limiting, an empty DashboardProxyURL
// disables GET /dashboard.
type Dependencies struct {
	Dispatcher *dispatcher.Dispatcher
	Metrics    *metrics.Registry
	Catalog    *selector.Catalog
	Signer     wallet.Signer

	RateLimiter *ratelimit.Limiter

	// DashboardProxyURL is the upstream base URL for the optional dashboard
	// reverse proxy. Empty disables GET /dashboard entirely.
	DashboardProxyURL string
}
