package cluster

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dzhibas/flagfiled/events"
	"github.com/dzhibas/flagfiled/internal/metrics"
	"github.com/dzhibas/flagfiled/store"
)

// Node wraps a raft.Raft instance and the FSM it drives. In standalone mode
// (no peers configured) Raft is not used at all: Node.Propose writes
// straight through to the store and publishes the event itself.
type Node struct {
	cfg   Config
	raft  *raft.Raft
	fsm   *FSM
	trans *raft.NetworkTransport
	log   *zap.Logger

	standalone bool
	store      *store.Store
	events     *events.Registry
}

// Open constructs the Node, loads any existing state from the KV store, and
// (when peers are configured) starts the raft.Raft instance. In standalone
// mode it returns immediately after loading state.
func Open(cfg Config, st *store.Store, reg *events.Registry, m *metrics.Registry, log *zap.Logger) (*Node, error) {
	fsm := NewFSM(st, reg, m, log)
	if err := fsm.LoadFromStore(); err != nil {
		return nil, errors.Wrap(err, "loading namespaces from store")
	}

	n := &Node{cfg: cfg, fsm: fsm, log: log, store: st, events: reg}

	if cfg.Standalone() {
		n.standalone = true
		return n, nil
	}

	if err := n.openRaft(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Node) openRaft() error {
	cfg := n.cfg
	if cfg.DataDir == "" {
		return errors.New("cluster DataDir is required when peers are configured")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return errors.Wrap(err, "creating cluster data_dir")
	}

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(fmt.Sprintf("%d", cfg.NodeID))
	// Stagger each node's election timeout by a small node_id-scaled factor
	// (spec.md §4.6 "multi-node initial election") so nodes don't all time
	// out and campaign in the same instant after a cold start.
	raftCfg.ElectionTimeout = cfg.electionTimeout() + time.Duration(cfg.NodeID%8)*50*time.Millisecond
	raftCfg.HeartbeatTimeout = cfg.electionTimeout()
	raftCfg.CommitTimeout = cfg.heartbeatInterval()
	raftCfg.SnapshotThreshold = cfg.SnapshotThreshold
	raftCfg.Logger = newHCLogAdapter(n.log)

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.BindPort)
	advertise, err := net.ResolveTCPAddr("tcp", n.selfPeer().Addr)
	if err != nil {
		return errors.Wrapf(err, "resolving self peer address %q", n.selfPeer().Addr)
	}
	transport, err := raft.NewTCPTransport(addr, advertise, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return errors.Wrap(err, "opening raft transport")
	}
	n.trans = transport

	logStorePath := filepath.Join(cfg.DataDir, "raft-log.db")
	boltStore, err := raftboltdb.New(raftboltdb.Options{Path: logStorePath})
	if err != nil {
		return errors.Wrap(err, "opening raft-boltdb log store")
	}

	snapStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return errors.Wrap(err, "opening raft snapshot store")
	}

	r, err := raft.NewRaft(raftCfg, n.fsm, boltStore, boltStore, snapStore, transport)
	if err != nil {
		return errors.Wrap(err, "starting raft")
	}
	n.raft = r

	if err := n.bootstrap(); err != nil {
		return err
	}

	return nil
}

func (n *Node) selfPeer() Peer {
	for _, p := range n.cfg.Peers {
		if p.ID == n.cfg.NodeID {
			return p
		}
	}
	return Peer{ID: n.cfg.NodeID, Addr: fmt.Sprintf("127.0.0.1:%d", n.cfg.BindPort)}
}

// bootstrap seeds the cluster's configuration the first time any node in it
// starts; once a configuration exists in the log this is a no-op.
func (n *Node) bootstrap() error {
	servers := make([]raft.Server, 0, len(n.cfg.Peers))
	for _, p := range n.cfg.Peers {
		servers = append(servers, raft.Server{
			ID:      raft.ServerID(fmt.Sprintf("%d", p.ID)),
			Address: raft.ServerAddress(p.Addr),
		})
	}
	f := n.raft.BootstrapCluster(raft.Configuration{Servers: servers})
	if err := f.Error(); err != nil && err != raft.ErrCantBootstrap {
		return errors.Wrap(err, "bootstrapping cluster configuration")
	}
	return nil
}

// IsLeader reports whether this node currently believes itself the leader.
// Standalone nodes are always the leader of their own term-1 log.
func (n *Node) IsLeader() bool {
	if n.standalone {
		return true
	}
	return n.raft.State() == raft.Leader
}

// LeaderAddr returns the current leader's raft transport address, or "" if
// none is known. Standalone nodes have no address to forward to. This is
// the raft wire address (grpc_port); it is not an HTTP listener and must
// never be dialed by ForwardWrite — use LeaderHTTPAddr for that.
func (n *Node) LeaderAddr() string {
	if n.standalone {
		return ""
	}
	_, id := n.raft.LeaderWithID()
	return n.peerByServerID(id).Addr
}

// LeaderHTTPAddr returns the current leader's services/httpd address, or ""
// if none is known or the leader's Peer entry has no http_addr configured.
func (n *Node) LeaderHTTPAddr() string {
	if n.standalone {
		return ""
	}
	_, id := n.raft.LeaderWithID()
	return n.peerByServerID(id).HTTPAddr
}

func (n *Node) peerByServerID(id raft.ServerID) Peer {
	for _, p := range n.cfg.Peers {
		if fmt.Sprintf("%d", p.ID) == string(id) {
			return p
		}
	}
	return Peer{}
}

// HasLeader reports whether a leader is currently known anywhere in the
// cluster, standalone nodes included — used by the /readyz check.
func (n *Node) HasLeader() bool {
	if n.standalone {
		return true
	}
	addr, _ := n.raft.LeaderWithID()
	return addr != ""
}

// Propose validates nothing itself (the caller already parsed and
// authorized); it computes Meta, applies the write locally (standalone) or
// proposes it to the raft log and blocks until committed (clustered).
func (n *Node) Propose(ns string, raw []byte, flagsCount int) (store.Meta, error) {
	meta := newMeta(raw, flagsCount)

	if n.standalone {
		if err := n.store.Put(ns, raw, meta); err != nil {
			return meta, err
		}
		if err := n.fsm.LoadFromStore(); err != nil {
			return meta, err
		}
		n.events.Topic(ns).Publish(meta.Hash, meta.FlagsCount)
		return meta, nil
	}

	if n.raft.State() != raft.Leader {
		return meta, errors.New("not leader")
	}

	payload, err := encodeCommand(ns, raw, meta)
	if err != nil {
		return meta, errors.Wrap(err, "encoding raft command")
	}

	f := n.raft.Apply(payload, 10*time.Second)
	if err := f.Error(); err != nil {
		return meta, errors.Wrap(err, "applying raft command")
	}
	if err, ok := f.Response().(error); ok && err != nil {
		return meta, errors.Wrap(err, "fsm apply")
	}
	return meta, nil
}

// Namespace exposes the FSM's current in-memory view, used by eval and
// read-path HTTP handlers.
func (n *Node) Namespace(ns string) *Namespace { return n.fsm.Namespace(ns) }

// Namespaces lists every namespace currently loaded.
func (n *Node) Namespaces() []string { return n.fsm.Namespaces() }

// Shutdown transfers leadership away (if leader) before closing, per
// spec.md §4.6 "leadership transfer on shutdown": initiate a transfer to
// the first other peer in cfg.Peers, then poll self-role for up to ~5s
// before giving up and closing anyway.
func (n *Node) Shutdown() error {
	if n.standalone {
		return nil
	}
	if n.raft.State() == raft.Leader {
		var f raft.Future
		for _, p := range n.cfg.Peers {
			if p.ID != n.cfg.NodeID {
				f = n.raft.LeadershipTransferToServer(raft.ServerID(fmt.Sprintf("%d", p.ID)), raft.ServerAddress(p.Addr))
				break
			}
		}
		if f == nil {
			f = n.raft.LeadershipTransfer()
		}
		_ = f.Error()

		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) && n.raft.State() == raft.Leader {
			time.Sleep(100 * time.Millisecond)
		}
	}

	shutdownFuture := n.raft.Shutdown()
	if err := shutdownFuture.Error(); err != nil {
		return errors.Wrap(err, "shutting down raft")
	}
	if n.trans != nil {
		return n.trans.Close()
	}
	return nil
}
