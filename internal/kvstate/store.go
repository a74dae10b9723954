package kvstate

import "github.com/benbjohnson/immutable"

// Store is a persistent (copy-on-write, structurally-shared) mapping from
// string keys to string values, as required by spec §3/§9. It wraps
// benbjohnson/immutable's hash-array-mapped-trie Map, which gives every
// Set/Delete an O(log n) update and every read of the resulting value an
// O(1) snapshot (a value copy of the root pointer) — the cheap-snapshot
// property spec §9 calls out as the thing a substitute data structure must
// provide, and the property ongoingStates relies on to hold many snapshots
// without copying the whole map per entry.
//
// Store is a value type: the zero value is not useful, use NewStore. All
// mutators return a new Store and leave the receiver untouched.
type Store struct {
	m *immutable.Map[string, string]
}

// NewStore returns an empty Store.
func NewStore() Store {
	return Store{m: immutable.NewMap[string, string](nil)}
}

// Set returns a Store with key bound to value.
func (s Store) Set(key, value string) Store {
	return Store{m: s.m.Set(key, value)}
}

// Delete returns a Store with key absent. A no-op (returns an equivalent
// Store) if key was not present.
func (s Store) Delete(key string) Store {
	return Store{m: s.m.Delete(key)}
}

// Get returns the value for key and whether it was present.
func (s Store) Get(key string) (string, bool) {
	return s.m.Get(key)
}

// Len returns the number of keys currently held.
func (s Store) Len() int {
	return s.m.Len()
}

// Snapshot returns s unchanged; it exists to document the call sites (e.g.
// applyToOngoingState) where spec §4.1 says "the snapshot is cheap
// (structural sharing)" — for this representation the "snapshot" is simply
// the Store value itself, since Store already behaves as an immutable
// handle onto a shared trie.
func (s Store) Snapshot() Store {
	return s
}

// AsMap copies the committed contents out into a plain map, for
// getSnapshot/Dump/JSON encoding where callers need an owned, mutable value.
func (s Store) AsMap() map[string]string {
	out := make(map[string]string, s.Len())
	itr := s.m.Iterator()
	for !itr.Done() {
		k, v, _ := itr.Next()
		out[k] = v
	}
	return out
}

// storeFromMap builds a Store from a plain map, used by Dump loading
// (Dump.toStore).
func storeFromMap(m map[string]string) Store {
	s := NewStore()
	for k, v := range m {
		s = s.Set(k, v)
	}
	return s
}
