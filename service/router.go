package service

import (
	"net/http"
	"strings"

	"github.com/tinklegames/tinkle-proxy-service/service/respond"
	"github.com/tinklegames/tinkle-proxy-service/service/rewrite"
)

// Service endpoints, matched exactly and never intercepted
const (
	HealthcheckPath      = "/healthcheck"
	ServicecheckPath     = "/servicecheck"
	MetricsPath          = "/metrics"
	ControlPath          = "/control"
	ControlWebsocketPath = "/control/ws"
	CodesLookupPath      = "/codes/lookup"
)

// Interception path prefixes
const (
	BarePrefix    = "/baremux/"
	BareAPIPrefix = "/baremux/api/"
	UVPrefix      = "/uv/"
	EpoxyPrefix   = "/epoxy/"
	ProxyPrefix   = rewrite.DefaultProxyPrefix
)

// Route names as reported to logs and metrics
const (
	RouteHealthcheck      = "healthcheck"
	RouteServicecheck     = "servicecheck"
	RouteMetrics          = "metrics"
	RouteControl          = "control"
	RouteControlWebsocket = "control-websocket"
	RouteCodesLookup      = "codes-lookup"

	RouteApp        = "app"
	RouteAppEntry   = "app-entry"
	RouteBareAPI    = "bare-api"
	RouteBareStatic = "bare-static"
	RouteUV         = "uv"
	RouteEpoxy      = "epoxy"
	RouteProxy      = "proxy"
	RouteDefault    = "default"
)

type route struct {
	name  string
	match func(path string) bool
	// intercept routes wait for the lifecycle to be active
	intercept bool
	handler   http.Handler
}

func exactly(paths ...string) func(string) bool {
	return func(path string) bool {
		for _, p := range paths {
			if path == p {
				return true
			}
		}
		return false
	}
}

func prefixed(prefix string) func(string) bool {
	return func(path string) bool {
		return strings.HasPrefix(path, prefix)
	}
}

// Router dispatches every request to the first route matching its path
type Router struct {
	routes   []route
	fallback route
	isActive func() bool
}

// RouterConfig carries the handler of every route
type RouterConfig struct {
	AppEntryPath string
	IsActive     func() bool

	Healthcheck      http.Handler
	Servicecheck     http.Handler
	Metrics          http.Handler
	Control          http.Handler
	ControlWebsocket http.Handler
	CodesLookup      http.Handler

	App        http.Handler
	AppEntry   http.Handler
	BareAPI    http.Handler
	BareStatic http.Handler
	UV         http.Handler
	Epoxy      http.Handler
	Proxy      http.Handler
	Default    http.Handler
}

func NewRouter(config RouterConfig) *Router {
	routes := []route{
		{name: RouteHealthcheck, match: exactly(HealthcheckPath), handler: config.Healthcheck},
		{name: RouteServicecheck, match: exactly(ServicecheckPath), handler: config.Servicecheck},
		{name: RouteMetrics, match: exactly(MetricsPath), handler: config.Metrics},
		{name: RouteControl, match: exactly(ControlPath), handler: config.Control},
		{name: RouteControlWebsocket, match: exactly(ControlWebsocketPath), handler: config.ControlWebsocket},
		{name: RouteCodesLookup, match: exactly(CodesLookupPath), handler: config.CodesLookup},

		{name: RouteApp, match: exactly("/", "/index.html"), intercept: true, handler: config.App},
		{name: RouteAppEntry, match: exactly(config.AppEntryPath), intercept: true, handler: config.AppEntry},
		{name: RouteBareAPI, match: func(path string) bool {
			return path == strings.TrimSuffix(BareAPIPrefix, "/") || strings.HasPrefix(path, BareAPIPrefix)
		}, intercept: true, handler: config.BareAPI},
		{name: RouteBareStatic, match: prefixed(BarePrefix), intercept: true, handler: config.BareStatic},
		{name: RouteUV, match: prefixed(UVPrefix), intercept: true, handler: config.UV},
		{name: RouteEpoxy, match: prefixed(EpoxyPrefix), intercept: true, handler: config.Epoxy},
		{name: RouteProxy, match: prefixed(ProxyPrefix), intercept: true, handler: config.Proxy},
	}

	// disabled endpoints are left out so their paths fall through to the default route
	enabled := routes[:0]
	for _, r := range routes {
		if r.handler != nil {
			enabled = append(enabled, r)
		}
	}

	return &Router{
		routes: enabled,
		fallback: route{
			name:      RouteDefault,
			intercept: true,
			handler:   config.Default,
		},
		isActive: config.IsActive,
	}
}

func (rt *Router) match(path string) route {
	for _, r := range rt.routes {
		if r.match(path) {
			return r
		}
	}
	return rt.fallback
}

// RouteName returns the name of the route path is dispatched to
func (rt *Router) RouteName(path string) string {
	return rt.match(path).name
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	matched := rt.match(r.URL.Path)

	if matched.intercept && rt.isActive != nil && !rt.isActive() {
		w.Header().Set("Retry-After", "1")
		respond.Text(w, http.StatusServiceUnavailable, "Service is not active yet")
		return
	}

	matched.handler.ServeHTTP(w, r)
}
