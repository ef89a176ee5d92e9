// Package httpd is the HTTP surface of spec.md §4.7/§6: the root
// namespace's routes, mirrored under /ns/:namespace in multi-tenant mode,
// plus the OpenFeature REST façade, health/readiness, and Prometheus
// exposition. Adapted from the teacher's Route/Handler/middleware-chain
// shape (services/httpd/handler.go), with influxdata/httprouter doing the
// path-parameter routing the teacher's own (missing from the retrieved
// pack) ServeMux would have done.
package httpd

import (
	"encoding/json"
	"net/http"

	"github.com/influxdata/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dzhibas/flagfiled/auth"
	"github.com/dzhibas/flagfiled/cluster"
	"github.com/dzhibas/flagfiled/events"
	"github.com/dzhibas/flagfiled/internal/httperr"
	"github.com/dzhibas/flagfiled/internal/metrics"
)

// RootNamespace is the namespace name the spec reserves for the
// single-tenant routes at the top level of the URL space.
const RootNamespace = auth.RootNamespace

// Handler wires every route of spec.md §4.7 to the replicated cluster.Node,
// the per-namespace events.Registry, and the auth.Gate.
type Handler struct {
	router *httprouter.Router

	node    *cluster.Node
	events  *events.Registry
	gate    *auth.Gate
	metrics *metrics.Registry
	log     *zap.Logger

	gzip    bool
	logging bool
}

func NewHandler(node *cluster.Node, reg *events.Registry, gate *auth.Gate, m *metrics.Registry, log *zap.Logger, c Config) *Handler {
	h := &Handler{
		router:  httprouter.New(),
		node:    node,
		events:  reg,
		gate:    gate,
		metrics: m,
		log:     log,
		gzip:    c.GZIP,
		logging: c.LogEnabled,
	}
	h.addRoutes()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// wrap applies the fixed middleware chain, innermost to outermost: json
// content-type, gzip (when enabled), cors, requestID, then log+recover, the
// way the teacher's addRawRoute composes its chain, last-applied (recovery)
// running outermost.
func (h *Handler) wrap(name string, fn http.HandlerFunc) http.Handler {
	var handler http.Handler = fn
	handler = jsonContent(handler)
	if h.gzip {
		handler = gzipFilter(handler)
	}
	handler = cors(handler)
	handler = requestID(handler)
	handler = logAndRecover(handler, name, h.log, h.logging)
	return handler
}

func (h *Handler) handle(method, pattern, name string, fn http.HandlerFunc) {
	handler := h.wrap(name, fn)
	h.router.Handler(method, pattern, handler)
}

func (h *Handler) addRoutes() {
	h.addNamespaceRoutes("", RootNamespace)
	h.addNamespaceRoutes("/ns/:namespace", "")

	h.handle(http.MethodGet, "/health", "health", h.serveHealth)
	h.handle(http.MethodGet, "/readyz", "readyz", h.serveReadyz)
	h.router.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(h.metrics.Gatherer(), promhttp.HandlerOpts{}))

	h.handle(http.MethodPut, cluster.ForwardPath+"/:namespace", "raft-forward", h.serveRaftForward)
}

// addNamespaceRoutes registers the full namespace-scoped route set either
// at the root path (fixedNS != "") or under /ns/:namespace
// (fixedNS == "", namespace read from the URL param), per spec.md §4.7
// "HTTP (root namespace, and mirrored under /ns/{namespace} in
// multi-tenant mode)".
func (h *Handler) addNamespaceRoutes(prefix, fixedNS string) {
	ns := func(r *http.Request) string {
		if fixedNS != "" {
			return fixedNS
		}
		return httprouter.ParamsFromContext(r.Context()).ByName("namespace")
	}

	h.handle(http.MethodGet, prefix+"/flagfile", "get-flagfile", func(w http.ResponseWriter, r *http.Request) {
		h.serveGetFlagfile(w, r, ns(r))
	})
	h.handle(http.MethodPut, prefix+"/flagfile", "put-flagfile", func(w http.ResponseWriter, r *http.Request) {
		h.servePutFlagfile(w, r, ns(r))
	})
	h.handle(http.MethodGet, prefix+"/flagfile/hash", "flagfile-hash", func(w http.ResponseWriter, r *http.Request) {
		h.serveFlagfileHash(w, r, ns(r))
	})
	h.handle(http.MethodGet, prefix+"/events", "events", func(w http.ResponseWriter, r *http.Request) {
		h.serveEvents(w, r, ns(r))
	})
	h.handle(http.MethodGet, prefix+"/v1/eval/:flag", "eval", func(w http.ResponseWriter, r *http.Request) {
		h.serveEval(w, r, ns(r))
	})
	h.handle(http.MethodPost, prefix+"/ofrep/v1/evaluate/flags/:key", "ofrep-single", func(w http.ResponseWriter, r *http.Request) {
		h.serveOFREPSingle(w, r, ns(r))
	})
	h.handle(http.MethodPost, prefix+"/ofrep/v1/evaluate/flags", "ofrep-bulk", func(w http.ResponseWriter, r *http.Request) {
		h.serveOFREPBulk(w, r, ns(r))
	})
}

func (h *Handler) authorize(r *http.Request, ns string, priv auth.Privilege) error {
	token := bearerToken(r)
	return h.gate.Check(ns, token, priv)
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	v := r.Header.Get("Authorization")
	if len(v) > len(prefix) && v[:len(prefix)] == prefix {
		return v[len(prefix):]
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIErr(w http.ResponseWriter, err error) {
	writeError(w, err, httperr.StatusFor(err))
}

// parseOrNotFound loads ns's parsed namespace, translating "never written"
// into spec.md §7's NotFoundError.
func (h *Handler) parseOrNotFound(ns string) (*cluster.Namespace, error) {
	n := h.node.Namespace(ns)
	if n == nil {
		return nil, &httperr.NotFoundError{Msg: "unknown namespace: " + ns}
	}
	return n, nil
}
