// Package cluster replicates Flagfile writes across a fixed set of voter
// nodes via github.com/hashicorp/raft, grounded on the FSM/snapshot shape of
// _examples/other_examples' openbao raft physical backend: a single bbolt
// file as log/stable store (here via raft-boltdb/v2), an raft.FSM that
// applies committed commands against the KV layer, and a snapshot sink that
// installs a full copy atomically rather than replaying individual entries.
// Unlike that reference, our FSM has exactly one command kind (PutFlagfile)
// and holds the parsed, in-memory view of every namespace alongside the
// durable bytes, per spec.md §4.6.
package cluster

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	"go.uber.org/zap"

	"github.com/dzhibas/flagfiled/events"
	"github.com/dzhibas/flagfiled/internal/metrics"
	"github.com/dzhibas/flagfiled/lang"
	"github.com/dzhibas/flagfiled/store"
)

// command is the single log entry variant of spec.md §4.6: a namespace's
// full raw Flagfile bytes plus the Meta the accepting node computed.
type command struct {
	Namespace string     `json:"namespace"`
	Raw       []byte     `json:"raw"`
	Meta      store.Meta `json:"meta"`
}

// Namespace is the in-memory, parsed view of one tenant's Flagfile, kept in
// lockstep with the durable store by FSM.Apply.
type Namespace struct {
	Raw    []byte
	Meta   store.Meta
	Parsed *lang.ParsedFlagfile
}

// FSM is the raft.FSM implementation: on Apply it writes through to the KV
// store, reparses the blob, updates the in-memory namespace table, and
// publishes a flag-update event. On snapshot restore it clears and reloads
// every namespace from the store.
type FSM struct {
	mu         sync.RWMutex
	store      *store.Store
	namespaces map[string]*Namespace
	events     *events.Registry
	metrics    *metrics.Registry
	log        *zap.Logger
}

func NewFSM(st *store.Store, reg *events.Registry, m *metrics.Registry, log *zap.Logger) *FSM {
	return &FSM{
		store:      st,
		namespaces: make(map[string]*Namespace),
		events:     reg,
		metrics:    m,
		log:        log,
	}
}

// Namespace returns the current parsed view of ns, or nil if ns has never
// been written. Safe for concurrent reads against Apply/Restore.
func (f *FSM) Namespace(ns string) *Namespace {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.namespaces[ns]
}

// Namespaces returns every namespace name currently loaded.
func (f *FSM) Namespaces() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.namespaces))
	for ns := range f.namespaces {
		names = append(names, ns)
	}
	return names
}

// LoadFromStore hydrates the in-memory namespace table from the durable
// store; called once at startup before the raft.Raft instance is opened.
func (f *FSM) LoadFromStore() error {
	names, err := f.store.List()
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ns := range names {
		raw, err := f.store.Get(ns)
		if err != nil {
			return err
		}
		meta, err := f.store.GetMeta(ns)
		if err != nil {
			return err
		}
		pf, perr := lang.Parse(string(raw))
		if perr != nil {
			f.log.Warn("namespace has unparsable stored flagfile", zap.String("namespace", ns), zap.Error(perr))
			pf = lang.NewParsedFlagfile()
		}
		m := store.Meta{}
		if meta != nil {
			m = *meta
		}
		f.namespaces[ns] = &Namespace{Raw: raw, Meta: m, Parsed: pf}
	}
	return nil
}

// Apply implements raft.FSM. It is invoked once per committed log entry, in
// log-index order, by the raft library's single FSM goroutine.
func (f *FSM) Apply(l *raft.Log) interface{} {
	var cmd command
	if err := json.Unmarshal(l.Data, &cmd); err != nil {
		return err
	}

	if err := f.store.Put(cmd.Namespace, cmd.Raw, cmd.Meta); err != nil {
		return err
	}

	pf, err := lang.Parse(string(cmd.Raw))
	if err != nil {
		// The accepting node already validated this before proposing it, so
		// a parse failure here means corruption in transit; store it anyway
		// so every replica agrees on the bytes, but keep serving the old
		// parsed view.
		f.log.Error("committed flagfile failed to reparse", zap.String("namespace", cmd.Namespace), zap.Error(err))
	}

	f.mu.Lock()
	if pf != nil {
		f.namespaces[cmd.Namespace] = &Namespace{Raw: cmd.Raw, Meta: cmd.Meta, Parsed: pf}
	} else if existing, ok := f.namespaces[cmd.Namespace]; ok {
		existing.Raw, existing.Meta = cmd.Raw, cmd.Meta
	} else {
		f.namespaces[cmd.Namespace] = &Namespace{Raw: cmd.Raw, Meta: cmd.Meta, Parsed: lang.NewParsedFlagfile()}
	}
	f.mu.Unlock()

	if f.metrics != nil {
		f.metrics.RaftApplied.Inc()
	}
	f.events.Topic(cmd.Namespace).Publish(cmd.Meta.Hash, cmd.Meta.FlagsCount)

	return nil
}

// Snapshot implements raft.FSM. It hands the FSMSnapshot a point-in-time
// blob from the durable store rather than the in-memory table, so restore
// can delegate straight to store.Store.ApplySnapshot.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	blob, err := f.store.Snapshot()
	if err != nil {
		return nil, err
	}
	return &fsmSnapshot{blob: blob}, nil
}

// Restore implements raft.FSM: it replaces the durable store's contents
// wholesale, then reloads and reparses every namespace into memory.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	blob, err := io.ReadAll(rc)
	if err != nil {
		return err
	}
	if err := f.store.ApplySnapshot(blob); err != nil {
		return err
	}

	f.mu.Lock()
	f.namespaces = make(map[string]*Namespace)
	f.mu.Unlock()

	return f.LoadFromStore()
}

type fsmSnapshot struct {
	blob []byte
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	if _, err := sink.Write(s.blob); err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() {}

// encodeCommand is the proposal-side counterpart to Apply's json.Unmarshal.
func encodeCommand(ns string, raw []byte, meta store.Meta) ([]byte, error) {
	return json.Marshal(command{Namespace: ns, Raw: raw, Meta: meta})
}

// newMeta computes the Meta an accepting node stamps onto a write before
// proposing it, per spec.md §4.6 "the Meta is computed by whichever node
// first accepted the request, then replicated verbatim".
func newMeta(raw []byte, flagsCount int) store.Meta {
	return store.Meta{
		Hash:       store.Hash(raw),
		PushedAt:   time.Now(),
		FlagsCount: flagsCount,
	}
}

var _ fmt.Stringer = (*Namespace)(nil)

func (n *Namespace) String() string {
	return fmt.Sprintf("namespace(hash=%s flags=%d)", n.Meta.Hash, n.Meta.FlagsCount)
}
