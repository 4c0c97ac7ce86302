// Package proxy implements the dynamic route proxy: one permanently
// registered catch-all endpoint per plugin namespace that resolves the
// active handler per request. The underlying router never deregisters
// anything; reachability is gated by current instance status.
package proxy

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paymesh/pluginhost/metrics"
	"github.com/paymesh/pluginhost/plugin"
	"github.com/paymesh/pluginhost/store"
	"github.com/paymesh/pluginhost/tenant"
)

// DefaultPrefix is the path prefix under which all plugin routes live.
const DefaultPrefix = "/plugins/"

// StatusResolver reports the current lifecycle status for a (plugin, tenant)
// key. The proxy never reads the instance store directly; routing decisions
// come from a single source of truth.
type StatusResolver interface {
	InstanceStatus(pluginID, tenantID string) (store.Status, bool)
}

// UsageRecorder counts successfully dispatched plugin requests, feeding the
// metered licensing ceilings. Implementations must not block the request path.
type UsageRecorder interface {
	IncrementUsage(pluginID, tenantID string)
}

// Proxy dispatches requests under DefaultPrefix to logically-bound plugin
// routes. Register it once on the host mux; bindings come and go without any
// router mutation.
type Proxy struct {
	resolver StatusResolver
	usage    UsageRecorder
	logger   *slog.Logger
	metrics  *metrics.Collector
	prefix   string

	mu     sync.RWMutex
	routes map[string][]plugin.BoundRoute
}

// New creates a Proxy resolving statuses through resolver.
func New(resolver StatusResolver, logger *slog.Logger, collector *metrics.Collector) *Proxy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Proxy{
		resolver: resolver,
		logger:   logger,
		metrics:  collector,
		prefix:   DefaultPrefix,
		routes:   make(map[string][]plugin.BoundRoute),
	}
}

// SetUsageRecorder wires usage metering for dispatched requests. Must be
// called before the proxy starts serving.
func (p *Proxy) SetUsageRecorder(u UsageRecorder) {
	p.usage = u
}

// BindPluginRoutes implements plugin.RouteBinder. Rebinding an existing
// (method, path) with the same handler name is a no-op; a different handler
// name for an existing key is a conflict.
func (p *Proxy) BindPluginRoutes(pluginID string, routes []plugin.BoundRoute) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	existing := p.routes[pluginID]
	for _, rt := range routes {
		idx := -1
		for i, have := range existing {
			if have.Method == rt.Method && have.Path == rt.Path {
				idx = i
				break
			}
		}
		if idx >= 0 {
			if existing[idx].HandlerName != rt.HandlerName {
				return fmt.Errorf("%w: %s %s already bound to handler %q",
					plugin.ErrRouteConflict, rt.Method, rt.Path, existing[idx].HandlerName)
			}
			existing[idx].Handler = rt.Handler
			continue
		}
		existing = append(existing, rt)
	}
	p.routes[pluginID] = existing
	return nil
}

// UnbindPluginRoutes implements plugin.RouteBinder. Removal is logical: the
// catch-all endpoint stays registered forever.
func (p *Proxy) UnbindPluginRoutes(pluginID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.routes, pluginID)
}

// Routes returns the bound route signatures for a plugin, for diagnostics.
func (p *Proxy) Routes(pluginID string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	sigs := make([]string, 0, len(p.routes[pluginID]))
	for _, rt := range p.routes[pluginID] {
		sigs = append(sigs, rt.Method+" "+rt.Path)
	}
	return sigs
}

// ServeHTTP resolves and dispatches one plugin request: status gate first,
// then handler lookup, so activation state can change without any route
// mutation underneath.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	rest := strings.TrimPrefix(r.URL.Path, p.prefix)
	if rest == r.URL.Path || rest == "" {
		p.respondError(w, r, "", http.StatusNotFound, "plugin not found", start)
		return
	}
	parts := strings.SplitN(rest, "/", 2)
	pluginID := parts[0]
	subPath := "/"
	if len(parts) == 2 {
		subPath += parts[1]
	}

	tenantID := tenant.Normalize(tenant.FromContext(r.Context()))

	status, exists := p.resolver.InstanceStatus(pluginID, tenantID)
	if !exists {
		p.respondError(w, r, pluginID, http.StatusNotFound, "plugin not found", start)
		return
	}
	if status != store.StatusActive {
		p.respondError(w, r, pluginID, http.StatusServiceUnavailable, "plugin not active", start)
		return
	}

	handler, ok := p.match(pluginID, r.Method, subPath)
	if !ok {
		p.respondJSON(w, http.StatusNotFound, map[string]any{
			"error":            "route not found",
			"route":            r.Method + " " + subPath,
			"available_routes": p.Routes(pluginID),
		})
		p.metrics.ObserveProxy(pluginID, http.StatusNotFound, time.Since(start))
		return
	}

	p.invoke(w, r, pluginID, tenantID, handler, start)
}

// invoke runs the resolved handler, mapping panics and returned errors to a
// generic 500. Internal details are logged, never sent to the client.
func (p *Proxy) invoke(w http.ResponseWriter, r *http.Request, pluginID, tenantID string, handler plugin.RouteHandler, start time.Time) {
	requestID := uuid.NewString()
	sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("Plugin handler panicked",
				"plugin", pluginID, "request_id", requestID, "panic", rec)
			p.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal plugin error"})
			p.metrics.ObserveProxy(pluginID, http.StatusInternalServerError, time.Since(start))
		}
	}()

	if err := handler(sw, r); err != nil {
		p.logger.Error("Plugin handler failed",
			"plugin", pluginID, "request_id", requestID, "error", err)
		if !sw.wrote {
			p.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal plugin error"})
		}
		p.metrics.ObserveProxy(pluginID, http.StatusInternalServerError, time.Since(start))
		return
	}
	if p.usage != nil {
		p.usage.IncrementUsage(pluginID, tenantID)
	}
	p.metrics.ObserveProxy(pluginID, sw.code, time.Since(start))
}

// match finds the handler for (method, path): exact path match first, then
// templated (segments starting with ":" or wrapped in "{}" match any literal
// segment at the same position).
func (p *Proxy) match(pluginID, method, path string) (plugin.RouteHandler, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	trimmed := strings.Trim(path, "/")
	routes := p.routes[pluginID]
	for _, rt := range routes {
		if methodMatches(rt.Method, method) && strings.Trim(rt.Path, "/") == trimmed {
			return rt.Handler, true
		}
	}
	for _, rt := range routes {
		if methodMatches(rt.Method, method) && templateMatches(rt.Path, path) {
			return rt.Handler, true
		}
	}
	return nil, false
}

func methodMatches(declared, got string) bool {
	return declared == "*" || strings.EqualFold(declared, got)
}

func templateMatches(pattern, path string) bool {
	pSegs := strings.Split(strings.Trim(pattern, "/"), "/")
	gSegs := strings.Split(strings.Trim(path, "/"), "/")
	if len(pSegs) != len(gSegs) {
		return false
	}
	for i, seg := range pSegs {
		if isParamSegment(seg) {
			if gSegs[i] == "" {
				return false
			}
			continue
		}
		if seg != gSegs[i] {
			return false
		}
	}
	return true
}

func isParamSegment(seg string) bool {
	if strings.HasPrefix(seg, ":") && len(seg) > 1 {
		return true
	}
	return strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") && len(seg) > 2
}

func (p *Proxy) respondError(w http.ResponseWriter, r *http.Request, pluginID string, code int, msg string, start time.Time) {
	p.respondJSON(w, code, map[string]string{"error": msg})
	label := pluginID
	if label == "" {
		label = "unknown"
	}
	p.metrics.ObserveProxy(label, code, time.Since(start))
	p.logger.Debug("Proxy request rejected",
		"plugin", pluginID, "method", r.Method, "path", r.URL.Path, "code", code)
}

func (p *Proxy) respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusWriter captures the status code a handler writes so the proxy can
// record it without interfering with the response.
type statusWriter struct {
	http.ResponseWriter
	code  int
	wrote bool
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.code = code
	sw.wrote = true
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	sw.wrote = true
	return sw.ResponseWriter.Write(b)
}
