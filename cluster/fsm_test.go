package cluster

import (
	"bytes"
	"io"
	"testing"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dzhibas/flagfiled/events"
	"github.com/dzhibas/flagfiled/internal/metrics"
	"github.com/dzhibas/flagfiled/store"
)

func newTestFSM(t *testing.T) (*FSM, *store.Store, *events.Registry) {
	t.Helper()
	kv := store.NewMem()
	st := store.New(kv)
	reg := events.NewRegistry()
	fsm := NewFSM(st, reg, metrics.New(), zap.NewNop())
	require.NoError(t, fsm.LoadFromStore())
	return fsm, st, reg
}

func applyCommand(t *testing.T, fsm *FSM, ns string, raw []byte) {
	t.Helper()
	meta := newMeta(raw, 1)
	payload, err := encodeCommand(ns, raw, meta)
	require.NoError(t, err)
	resp := fsm.Apply(&raft.Log{Data: payload})
	require.Nil(t, resp)
}

func TestFSMApplyUpdatesNamespace(t *testing.T) {
	fsm, st, _ := newTestFSM(t)

	raw := []byte("FF-a -> TRUE\n")
	applyCommand(t, fsm, "root", raw)

	ns := fsm.Namespace("root")
	require.NotNil(t, ns)
	require.Equal(t, raw, ns.Raw)
	require.NotNil(t, ns.Parsed)
	require.True(t, ns.Parsed.HasFlag("FF-a"))

	stored, err := st.Get("root")
	require.NoError(t, err)
	require.Equal(t, raw, stored)
}

func TestFSMApplyPublishesEvent(t *testing.T) {
	fsm, _, reg := newTestFSM(t)
	sub := reg.Topic("root").Subscribe("", 0)
	<-sub.C // initial Connected event

	applyCommand(t, fsm, "root", []byte("FF-a -> TRUE\n"))

	ev := <-sub.C
	require.Equal(t, events.FlagUpdate, ev.Kind)
}

func TestFSMApplyKeepsOldParsedViewOnUnparsableCommit(t *testing.T) {
	fsm, _, _ := newTestFSM(t)

	applyCommand(t, fsm, "root", []byte("FF-a -> TRUE\n"))
	before := fsm.Namespace("root").Parsed

	applyCommand(t, fsm, "root", []byte("not a valid flagfile {{{"))

	after := fsm.Namespace("root")
	require.Equal(t, before, after.Parsed, "a reparse failure should not clobber the last-good parsed view")
	require.Equal(t, []byte("not a valid flagfile {{{"), after.Raw, "the raw bytes still advance so every replica agrees")
}

func TestFSMNamespacesListsEveryLoadedNamespace(t *testing.T) {
	fsm, _, _ := newTestFSM(t)
	applyCommand(t, fsm, "root", []byte("FF-a -> TRUE\n"))
	applyCommand(t, fsm, "billing", []byte("FF-b -> FALSE\n"))

	require.ElementsMatch(t, []string{"root", "billing"}, fsm.Namespaces())
}

// fakeSnapshotSink is a minimal raft.SnapshotSink backed by an in-memory
// buffer, enough to exercise FSM.Snapshot/Restore without a real raft.Raft.
type fakeSnapshotSink struct {
	bytes.Buffer
}

func (s *fakeSnapshotSink) ID() string     { return "test-snapshot" }
func (s *fakeSnapshotSink) Cancel() error  { return nil }
func (s *fakeSnapshotSink) Close() error   { return nil }

func TestFSMSnapshotAndRestoreRoundTrip(t *testing.T) {
	fsm, _, _ := newTestFSM(t)
	applyCommand(t, fsm, "root", []byte("FF-a -> TRUE\n"))
	applyCommand(t, fsm, "billing", []byte("FF-b -> FALSE\n"))

	snap, err := fsm.Snapshot()
	require.NoError(t, err)

	sink := &fakeSnapshotSink{}
	require.NoError(t, snap.Persist(sink))

	fsm2, _, _ := newTestFSM(t)
	require.NoError(t, fsm2.Restore(io.NopCloser(&sink.Buffer)))

	require.ElementsMatch(t, []string{"root", "billing"}, fsm2.Namespaces())
	ns := fsm2.Namespace("root")
	require.NotNil(t, ns)
	require.True(t, ns.Parsed.HasFlag("FF-a"))
}

func TestFSMLoadFromStoreHydratesExisting(t *testing.T) {
	kv := store.NewMem()
	st := store.New(kv)
	require.NoError(t, st.Put("root", []byte("FF-a -> TRUE\n"), store.Meta{Hash: "x", FlagsCount: 1}))

	fsm := NewFSM(st, events.NewRegistry(), metrics.New(), zap.NewNop())
	require.NoError(t, fsm.LoadFromStore())

	ns := fsm.Namespace("root")
	require.NotNil(t, ns)
	require.True(t, ns.Parsed.HasFlag("FF-a"))
}
