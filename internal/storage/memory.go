// Package storage provides kvstate.Backend implementations: an in-memory
// backend for tests and single-process demos, and a Redis-backed one for
// production, mirroring how the teacher keeps its redis import confined to
// the repo/store layer and never lets kvstate-equivalent callers see it.
package storage

import (
	"sync"

	"github.com/kvreplica/protokv/internal/kvstate"
)

// MemoryBackend is an in-process kvstate.Backend backed by a plain map
// guarded by a mutex. Suitable for tests and for demos that don't need
// durability across restarts.
type MemoryBackend struct {
	mu    sync.RWMutex
	dumps map[string]kvstate.Dump
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{dumps: make(map[string]kvstate.Dump)}
}

// LoadDump returns the most recently saved Dump for logID.
func (b *MemoryBackend) LoadDump(logID string) (kvstate.Dump, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	d, ok := b.dumps[logID]
	return d, ok, nil
}

// SaveDump stores d for logID, replacing any previous value.
func (b *MemoryBackend) SaveDump(logID string, d kvstate.Dump) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dumps[logID] = d
	return nil
}
