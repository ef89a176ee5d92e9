package cluster

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dzhibas/flagfiled/events"
	"github.com/dzhibas/flagfiled/internal/metrics"
	"github.com/dzhibas/flagfiled/store"
)

func newStandaloneNode(t *testing.T) (*Node, *events.Registry) {
	t.Helper()
	kv := store.NewMem()
	st := store.New(kv)
	reg := events.NewRegistry()
	n, err := Open(NewConfig(), st, reg, metrics.New(), zap.NewNop())
	require.NoError(t, err)
	return n, reg
}

func TestStandaloneNodeIsAlwaysLeader(t *testing.T) {
	n, _ := newStandaloneNode(t)
	require.True(t, n.IsLeader())
	require.True(t, n.HasLeader())
	require.Equal(t, "", n.LeaderAddr())
	require.Equal(t, "", n.LeaderHTTPAddr())
}

func TestStandaloneProposeCommitsLocallyAndPublishes(t *testing.T) {
	n, reg := newStandaloneNode(t)
	sub := reg.Topic("root").Subscribe("", 0)
	<-sub.C // initial Connected event

	meta, err := n.Propose("root", []byte("FF-a -> TRUE\n"), 1)
	require.NoError(t, err)
	require.NotEmpty(t, meta.Hash)
	require.Equal(t, 1, meta.FlagsCount)

	ns := n.Namespace("root")
	require.NotNil(t, ns)
	require.True(t, ns.Parsed.HasFlag("FF-a"))

	ev := <-sub.C
	require.Equal(t, events.FlagUpdate, ev.Kind)
}

func TestStandaloneNodeShutdownIsNoop(t *testing.T) {
	n, _ := newStandaloneNode(t)
	require.NoError(t, n.Shutdown())
}

func TestPeerByServerIDLooksUpHTTPAddr(t *testing.T) {
	cfg := NewConfig()
	cfg.NodeID = 1
	cfg.Peers = []Peer{
		{ID: 1, Addr: "127.0.0.1:9090", HTTPAddr: "127.0.0.1:8080"},
		{ID: 2, Addr: "127.0.0.1:9091", HTTPAddr: "127.0.0.1:8081"},
	}
	n := &Node{cfg: cfg}

	p := n.peerByServerID("2")
	require.Equal(t, "127.0.0.1:9091", p.Addr)
	require.Equal(t, "127.0.0.1:8081", p.HTTPAddr)

	missing := n.peerByServerID("99")
	require.Equal(t, Peer{}, missing)
}
