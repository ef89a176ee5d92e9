package cluster

import "time"

// Peer is one other voter in the cluster, per spec.md §4.6/§6 cluster.peers.
//
// Addr is the raft.NetworkTransport address (grpc_port, default 9090) used
// for log replication. HTTPAddr is a separate address: the peer's
// services/httpd listener (server.port, default 8080), used only so a
// follower's Node.ForwardWrite can reach the leader's ForwardPath HTTP
// endpoint. The two are never the same listener, so both must be
// configured for multi-node write-forwarding to work.
type Peer struct {
	ID       uint64 `toml:"id"`
	Addr     string `toml:"addr"`
	HTTPAddr string `toml:"http_addr"`
}

// Config mirrors spec.md §6's optional [cluster] section. A zero Peers list
// means standalone: no raft.FSM is replicated, writes commit locally with
// term 1.
type Config struct {
	NodeID               uint64 `toml:"node_id"`
	BindPort             int    `toml:"grpc_port"`
	Peers                []Peer `toml:"peers"`
	ElectionTimeoutMs    int    `toml:"election_timeout_ms"`
	HeartbeatIntervalMs  int    `toml:"heartbeat_interval_ms"`
	SnapshotThreshold    uint64 `toml:"snapshot_threshold"`

	// DataDir is not itself a [cluster] TOML field; the server orchestrator
	// derives it from [server].data_dir (a "raft" subdirectory) once both
	// sections are loaded.
	DataDir string `toml:"-"`
}

func NewConfig() Config {
	return Config{
		BindPort:            9090,
		ElectionTimeoutMs:   1000,
		HeartbeatIntervalMs: 300,
		SnapshotThreshold:   1000,
	}
}

func (c Config) electionTimeout() time.Duration {
	if c.ElectionTimeoutMs <= 0 {
		return time.Second
	}
	return time.Duration(c.ElectionTimeoutMs) * time.Millisecond
}

func (c Config) heartbeatInterval() time.Duration {
	if c.HeartbeatIntervalMs <= 0 {
		return 300 * time.Millisecond
	}
	return time.Duration(c.HeartbeatIntervalMs) * time.Millisecond
}

// Standalone reports whether this node runs without a raft.FSM, i.e. the
// Peers list is empty. A list holding only this node's own entry is not
// standalone.
func (c Config) Standalone() bool {
	return len(c.Peers) == 0
}
