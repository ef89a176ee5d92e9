// Package store implements the replicated flag store's key/value layer and
// the higher-level flag-store abstraction of spec.md §4.5. The KV layer
// itself is a generic byte-blob store (spec.md's own scope explicitly
// excludes the on-disk engine's internals); only the two-prefix flag-store
// semantics on top of it belong to this project.
package store

import (
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// ErrNoKeyExists is returned by Get/KV.Get when the key is absent.
var ErrNoKeyExists = errors.New("no key exists")

// KeyValue is a single entry returned by List.
type KeyValue struct {
	Key   string
	Value []byte
}

// KV is the generic byte-blob store every flag-store implementation is
// built on, mirrored from the teacher's storage.Interface.
type KV interface {
	Put(key string, value []byte) error
	Get(key string) (*KeyValue, error)
	Delete(key string) error
	Exists(key string) (bool, error)
	List(prefix string) ([]*KeyValue, error)
}

// Mem is an in-memory KV, used for tests and the "memory" storage mode.
type Mem struct {
	mu    sync.Mutex
	store map[string][]byte
}

func NewMem() *Mem {
	return &Mem{store: make(map[string][]byte)}
}

func (m *Mem) Put(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.store[key] = cp
	return nil
}

func (m *Mem) Get(key string) (*KeyValue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.store[key]
	if !ok {
		return nil, ErrNoKeyExists
	}
	return &KeyValue{Key: key, Value: v}, nil
}

func (m *Mem) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, key)
	return nil
}

func (m *Mem) Exists(key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.store[key]
	return ok, nil
}

func (m *Mem) List(prefix string) ([]*KeyValue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kvs := make([]*KeyValue, 0, len(m.store))
	for k, v := range m.store {
		if strings.HasPrefix(k, prefix) {
			kvs = append(kvs, &KeyValue{Key: k, Value: v})
		}
	}
	sort.Slice(kvs, func(i, j int) bool { return kvs[i].Key < kvs[j].Key })
	return kvs, nil
}

// Snapshot returns every entry in the store, sorted by key. Store.Snapshot
// does not call it; it lists the KV directly.
func (m *Mem) Snapshot() []*KeyValue {
	return mustList(m, "")
}

func mustList(kv KV, prefix string) []*KeyValue {
	kvs, err := kv.List(prefix)
	if err != nil {
		return nil
	}
	return kvs
}

// Reset replaces all state atomically, used by Store.ApplySnapshot.
func (m *Mem) Reset(kvs []*KeyValue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store = make(map[string][]byte, len(kvs))
	for _, kv := range kvs {
		m.store[kv.Key] = kv.Value
	}
}
