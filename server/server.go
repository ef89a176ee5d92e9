package server

import (
	"context"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/pkg/errors"

	"github.com/dzhibas/flagfiled/auth"
	"github.com/dzhibas/flagfiled/cluster"
	"github.com/dzhibas/flagfiled/events"
	"github.com/dzhibas/flagfiled/internal/metrics"
	"github.com/dzhibas/flagfiled/lang"
	"github.com/dzhibas/flagfiled/logging"
	"github.com/dzhibas/flagfiled/services/httpd"
	"github.com/dzhibas/flagfiled/store"
	"github.com/dzhibas/flagfiled/watch"
)

// Server is the process-level orchestrator: it owns every long-lived
// service (logging, storage, cluster, HTTP, the single-tenant watcher) and
// drives their Open/Close lifecycle in a fixed order, the way the teacher's
// run.Server walks its service list.
type Server struct {
	config Config

	Logging *logging.Service
	Node    *cluster.Node
	Events  *events.Registry
	Metrics *metrics.Registry
	Gate    *auth.Gate
	HTTPD   *httpd.Service
	Watcher *watch.Watcher

	boltDB        *bolt.DB
	heartbeatDone chan struct{}
}

// New wires every service from a loaded Config without opening any of
// them; Open does the actual binding/listening/Raft-join work.
func New(c Config) (*Server, error) {
	if err := c.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating config")
	}

	s := &Server{config: c}

	s.Logging = logging.NewService(c.Logging)
	if err := s.Logging.Open(); err != nil {
		return nil, errors.Wrap(err, "opening logging service")
	}
	log := s.Logging.Root()

	if err := os.MkdirAll(c.Server.DataDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating data dir %q", c.Server.DataDir)
	}

	kv, err := s.openStorage()
	if err != nil {
		return nil, err
	}
	st := store.New(kv)

	s.Events = events.NewRegistry()
	s.Metrics = metrics.New()
	s.Gate = auth.NewGate(c.Root, c.Namespaces)

	clusterCfg := cluster.NewConfig()
	if c.Cluster != nil {
		clusterCfg = *c.Cluster
	}
	clusterCfg.DataDir = filepath.Join(c.Server.DataDir, "raft")

	node, err := cluster.Open(clusterCfg, st, s.Events, s.Metrics, log.Named("cluster"))
	if err != nil {
		return nil, errors.Wrap(err, "opening cluster node")
	}
	s.Node = node

	httpdCfg := httpd.NewConfig()
	httpdCfg.BindAddress = c.Server.bindAddress()
	handler := httpd.NewHandler(s.Node, s.Events, s.Gate, s.Metrics, log.Named("httpd"), httpdCfg)
	s.HTTPD = httpd.NewService(httpdCfg, handler, log.Named("httpd"))

	if s.singleTenant() {
		path := filepath.Join(c.Server.DataDir, c.Server.Flagfile)
		s.Watcher = watch.New(path, s.reloadRootFlagfile, log.Named("watch"))
	}

	return s, nil
}

// singleTenant reports whether this process should run the §4.9 file
// watcher: no extra namespaces and no Raft peers, i.e. a lone root
// namespace driven entirely by a Flagfile on disk.
func (s *Server) singleTenant() bool {
	return !s.config.MultiTenant() && !s.config.Clustered()
}

func (s *Server) openStorage() (store.KV, error) {
	switch s.config.Server.Storage {
	case StorageMemory:
		return store.NewMem(), nil
	case StorageSled, StorageBolt:
		path := filepath.Join(s.config.Server.DataDir, "flags.db")
		db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
		if err != nil {
			return nil, errors.Wrapf(err, "opening bolt db %q", path)
		}
		s.boltDB = db
		return store.NewBolt(db, "flags"), nil
	default:
		return nil, errors.Errorf("unknown storage backend %q", s.config.Server.Storage)
	}
}

// reloadRootFlagfile is the watch.ReloadFunc for single-tenant mode: parse
// and lint the new file, then propose it into the root namespace exactly
// like an authenticated PUT /flagfile would.
func (s *Server) reloadRootFlagfile(raw []byte) error {
	pf, err := lang.Parse(string(raw))
	if err != nil {
		return err
	}
	if findings := lang.Lint(pf); hasLintErrors(findings) {
		return errors.New("flagfile failed lint on reload")
	}
	_, err = s.Node.Propose(auth.RootNamespace, raw, len(pf.Flags))
	return err
}

// heartbeatInterval is spec.md §4.8's fixed 30s SSE heartbeat period.
const heartbeatInterval = 30 * time.Second

// runHeartbeats ticks every heartbeatInterval and broadcasts a Heartbeat
// event on every namespace currently loaded, keeping idle SSE connections
// (and any intermediate proxies) from timing out.
func (s *Server) runHeartbeats() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.heartbeatDone:
			return
		case <-ticker.C:
			for _, ns := range s.Node.Namespaces() {
				s.Events.Topic(ns).Heartbeat()
			}
		}
	}
}

func hasLintErrors(findings []lang.LintFinding) bool {
	for _, f := range findings {
		if f.Level == lang.LintError {
			return true
		}
	}
	return false
}

// Open starts the HTTP listener and, in single-tenant mode, the file
// watcher. Open is separate from New so callers can inspect a
// freshly-wired Server (e.g. in tests) before anything starts listening.
func (s *Server) Open() error {
	if err := s.HTTPD.Open(); err != nil {
		return errors.Wrap(err, "opening httpd service")
	}
	if s.Watcher != nil {
		if err := s.Watcher.Open(); err != nil {
			return errors.Wrap(err, "opening flagfile watcher")
		}
	}

	s.heartbeatDone = make(chan struct{})
	go s.runHeartbeats()

	return nil
}

// Close shuts every service down in reverse of Open, tolerating a missing
// watcher/raft leader the way cluster.Node.Shutdown already does.
//
// spec.md §5 requires streaming clients to be cancelled first — sent a
// server_shutdown event — before the listener closes, so Events.Shutdown
// must run, and its event reach serveEvents' subscriber channels, before
// HTTPD.Close() starts forcibly closing connections (including SSE ones)
// after ShutdownTimeout.
func (s *Server) Close() error {
	var errs []error

	if s.heartbeatDone != nil {
		close(s.heartbeatDone)
	}
	s.Events.Shutdown("server shutting down")

	if s.Watcher != nil {
		if err := s.Watcher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.HTTPD.Close(); err != nil {
		errs = append(errs, err)
	}
	if s.Node != nil {
		if err := s.Node.Shutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.boltDB != nil {
		if err := s.boltDB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.Logging.Close(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Errorf("errors closing server: %v", errs)
	}
	return nil
}

// WaitForLeader blocks until the node reports a leader or ctx is
// cancelled, used by the CLI to hold the process until the cluster is
// ready to serve traffic (standalone nodes are immediately their own
// leader).
func (s *Server) WaitForLeader(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if s.Node.HasLeader() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Addr returns the bound HTTP listener address, useful for tests that
// start on port 0.
func (s *Server) Addr() string {
	if a := s.HTTPD.Addr(); a != nil {
		return a.String()
	}
	return ""
}
