// Package storetest offers an in-memory flag store fixture for tests,
// mirroring the shape of the teacher's storagetest helper package.
package storetest

import "github.com/dzhibas/flagfiled/store"

// New returns a fresh Store backed by an in-memory KV, with nothing written.
func New() *store.Store {
	return store.New(store.NewMem())
}
