package server

import (
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/dzhibas/flagfiled/auth"
	"github.com/dzhibas/flagfiled/cluster"
)

// ApplyEnvOverrides layers spec.md §6's fixed environment-variable surface
// on top of an already-loaded Config, the way original_source's
// FfServerConfig::apply_env_overrides does. This is deliberately a small
// hand-written list rather than the teacher's own reflection-driven
// Config.applyEnvOverrides (which walks arbitrary struct tags): spec.md
// names eight environment variables (two of them FF_NS_{name}_* patterns),
// so a fixed list is both simpler
// and harder to get subtly wrong than a generic walker built for a much
// larger schema.
func (c *Config) ApplyEnvOverrides() error {
	if c.Namespaces == nil {
		c.Namespaces = make(map[string]auth.TokenSet)
	}

	if v, ok := os.LookupEnv("FF_STORAGE"); ok {
		switch strings.ToLower(v) {
		case StorageSled, StorageBolt, StorageMemory:
			c.Server.Storage = strings.ToLower(v)
		default:
			return errors.Errorf("unknown FF_STORAGE value %q", v)
		}
	}

	if v, ok := os.LookupEnv("FF_NODE_ID"); ok {
		nodeID, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid FF_NODE_ID %q", v)
		}
		if c.Cluster == nil {
			cc := cluster.NewConfig()
			c.Cluster = &cc
		}
		c.Cluster.NodeID = nodeID
	}

	if v, ok := os.LookupEnv("FF_GRPC_PORT"); ok && c.Cluster != nil {
		port, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return errors.Wrapf(err, "invalid FF_GRPC_PORT %q", v)
		}
		c.Cluster.BindPort = int(port)
	}

	if v, ok := os.LookupEnv("FF_PEERS"); ok && c.Cluster != nil {
		peers, err := parsePeers(v)
		if err != nil {
			return err
		}
		c.Cluster.Peers = peers
	}

	if v, ok := os.LookupEnv("FF_ROOT_READ_TOKENS"); ok {
		c.Root.ReadTokens = splitTokens(v)
	}
	if v, ok := os.LookupEnv("FF_ROOT_WRITE_TOKENS"); ok {
		c.Root.WriteTokens = splitTokens(v)
	}

	for _, kv := range os.Environ() {
		key := parseEnvKey(kv)
		rest, ok := cutPrefix(key, "FF_NS_")
		if !ok {
			continue
		}
		val := os.Getenv(key)
		if name, ok := cutSuffix(rest, "_READ_TOKENS"); ok {
			nsName := strings.ToLower(name)
			ts := c.Namespaces[nsName]
			ts.ReadTokens = splitTokens(val)
			c.Namespaces[nsName] = ts
			continue
		}
		if name, ok := cutSuffix(rest, "_WRITE_TOKENS"); ok {
			nsName := strings.ToLower(name)
			ts := c.Namespaces[nsName]
			ts.WriteTokens = splitTokens(val)
			c.Namespaces[nsName] = ts
			continue
		}
	}

	return nil
}

// parsePeers parses "id:host:port,id:host:port" into []cluster.Peer. This
// only ever sets the raft transport Addr; a Peer's HTTPAddr (required for
// Node.ForwardWrite to reach the leader's services/httpd listener) has no
// env-var surface in spec.md §6 and must be set via [[cluster.peers]]
// http_addr in the TOML config.
func parsePeers(v string) ([]cluster.Peer, error) {
	var peers []cluster.Peer
	for _, entry := range strings.Split(v, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		idStr, addr, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, errors.Errorf("invalid FF_PEERS entry %q", entry)
		}
		id, err := strconv.ParseUint(idStr, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid peer id in FF_PEERS entry %q", entry)
		}
		peers = append(peers, cluster.Peer{ID: id, Addr: addr})
	}
	return peers, nil
}

func splitTokens(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// parseEnvKey gives the key from a "KEY=VALUE" environment entry, copied
// from how the stdlib splits os.Environ() strings.
func parseEnvKey(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			return s[:i]
		}
	}
	return s
}

func cutPrefix(s, prefix string) (string, bool) {
	if !strings.HasPrefix(s, prefix) {
		return "", false
	}
	return s[len(prefix):], true
}

func cutSuffix(s, suffix string) (string, bool) {
	if !strings.HasSuffix(s, suffix) {
		return "", false
	}
	return s[:len(s)-len(suffix)], true
}
