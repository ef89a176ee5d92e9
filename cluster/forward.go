package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/dzhibas/flagfiled/store"
)

// ForwardPath is the dedicated RPC endpoint a follower's httpd service
// exposes so Node.ForwardWrite can relay a write to the current leader, per
// spec.md §4.6 "forward the raw bytes plus namespace and bearer token to
// the leader over a dedicated RPC endpoint".
const ForwardPath = "/internal/raft/forward"

// ForwardWrite relays a write this node cannot itself commit (it is not
// leader) to the current leader's ForwardPath over plain HTTP, then returns
// the leader's reply. Callers should retry against a fresh LeaderHTTPAddr if
// the leader changes mid-request, per spec.md §4.6. It dials the leader's
// HTTP listener (LeaderHTTPAddr), never the raft transport address
// (LeaderAddr) — the two are different listeners.
func (n *Node) ForwardWrite(ctx context.Context, ns string, raw []byte, bearerToken string) (store.Meta, error) {
	addr := n.LeaderHTTPAddr()
	if addr == "" {
		return store.Meta{}, errors.New("no leader HTTP address known")
	}

	url := fmt.Sprintf("http://%s%s/%s", addr, ForwardPath, ns)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(raw))
	if err != nil {
		return store.Meta{}, errors.Wrap(err, "building forward request")
	}
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return store.Meta{}, errors.Wrap(err, "forwarding write to leader")
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return store.Meta{}, errors.Errorf("leader rejected forwarded write: %d %s", resp.StatusCode, string(body))
	}

	var meta store.Meta
	if err := json.Unmarshal(body, &meta); err != nil {
		return store.Meta{}, errors.Wrap(err, "decoding leader's forward reply")
	}
	return meta, nil
}
