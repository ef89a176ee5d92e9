// Package httpdtest offers an httptest.Server fixture wired the way the
// teacher's own httpdtest does (a Handler plus a running httptest.Server),
// but built from this domain's standalone cluster.Node/events.Registry/
// auth.Gate instead of kapacitor's diagnostic/expvar plumbing.
package httpdtest

import (
	"net/http/httptest"

	"go.uber.org/zap"

	"github.com/dzhibas/flagfiled/auth"
	"github.com/dzhibas/flagfiled/cluster"
	"github.com/dzhibas/flagfiled/events"
	"github.com/dzhibas/flagfiled/internal/metrics"
	"github.com/dzhibas/flagfiled/services/httpd"
	"github.com/dzhibas/flagfiled/store"
)

// Server bundles a real httpd.Handler, its backing standalone cluster.Node,
// and a running httptest.Server in front of it.
type Server struct {
	Handler *httpd.Handler
	Node    *cluster.Node
	Events  *events.Registry
	Server  *httptest.Server
}

// NewServer builds a Server with the given auth.Gate (pass auth.NewGate
// with empty token sets for a no-auth fixture).
func NewServer(gate *auth.Gate) *Server {
	st := store.New(store.NewMem())
	reg := events.NewRegistry()
	m := metrics.New()
	log := zap.NewNop()

	node, err := cluster.Open(cluster.NewConfig(), st, reg, m, log)
	if err != nil {
		panic(err)
	}

	h := httpd.NewHandler(node, reg, gate, m, log, httpd.NewConfig())
	s := &Server{Handler: h, Node: node, Events: reg}
	s.Server = httptest.NewServer(h)
	return s
}

// Close shuts down the underlying httptest.Server and cluster.Node.
func (s *Server) Close() error {
	s.Server.Close()
	return s.Node.Shutdown()
}

// URL returns the fixture's base URL, e.g. for http.Get(s.URL()+"/flagfile").
func (s *Server) URL() string {
	return s.Server.URL
}
