// Package memory provides an in-memory ledger.BlobStore.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/snapsolpay/ledger-engine/ledger"
)

// =============================================================================
// MEMORY BLOB STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Blobs struct {
	mu    sync.RWMutex
	blobs map[string][]byte

	// set by FailWrites
	failWrites error
}

func New() *Blobs {
	return &Blobs{blobs: make(map[string][]byte)}
}

// Get returns a copy of the stored blob.
func (m *Blobs) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, ledger.ErrBlobNotFound
	}
	return slices.Clone(data), nil
}

// PutBatch stores every blob or none.
func (m *Blobs) PutBatch(_ context.Context, blobs map[string][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites != nil {
		return m.failWrites
	}
	for k, v := range blobs {
		m.blobs[k] = slices.Clone(v)
	}
	return nil
}

// Put stores a single blob. Handy for seeding legacy layouts in tests.
func (m *Blobs) Put(ctx context.Context, key string, data []byte) error {
	return m.PutBatch(ctx, map[string][]byte{key: data})
}

// FailWrites makes every following PutBatch return err. Pass nil to heal.
func (m *Blobs) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrites = err
}

// Keys returns the stored keys, sorted.
func (m *Blobs) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.blobs))
	for k := range m.blobs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
