package kvstate

import (
	"fmt"

	"go.uber.org/zap"
)

// FlushBatchSize is the applied-minus-persisted threshold beyond which
// flush() performs a durable write (spec §4.1, P6). A fixed batch size
// bounds storage write frequency while keeping the unflushed prefix the log
// must retain small.
const FlushBatchSize = 1000

// ongoingState is one element of the leader-only ongoingStates deque: a
// Store snapshot produced by applying an entry not yet known committed
// (spec §3's OngoingState entity).
type ongoingState struct {
	index LogIndex
	store Store
}

// Core is the apply engine described in spec §4.1: deterministic
// materialization of the log into an in-memory Store, durable
// checkpointing, and local read serving. A Core is created once per
// (participant, logId) and is exclusively owned by whichever of
// LeaderState/FollowerState holds it (see spec §3 Ownership).
type Core struct {
	logID  string
	backend Backend
	log    *zap.Logger

	store              Store
	lastAppliedIndex   LogIndex
	lastPersistedIndex LogIndex

	// ongoingStates is empty on followers; on the leader it holds
	// (index, store) pairs in strictly increasing index order, one per
	// entry applied locally ahead of commit (spec §3/§9).
	ongoingStates []ongoingState
}

// NewCore constructs a Core for logID, loading the latest Dump from
// backend if one exists. Fails with ErrStorageError (fatal per spec §7) if
// the initial load errors.
func NewCore(logID string, backend Backend, log *zap.Logger) (*Core, error) {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Core{
		logID:   logID,
		backend: backend,
		log:     log.Named("kvstate.core").With(zap.String("log_id", logID)),
		store:   NewStore(),
	}

	dump, found, err := backend.LoadDump(logID)
	if err != nil {
		return nil, fmt.Errorf("%w: load dump for %q: %v", ErrStorageError, logID, err)
	}
	if found {
		c.store = dump.toStore()
		c.lastAppliedIndex = dump.LastPersistedIndex
		c.lastPersistedIndex = dump.LastPersistedIndex
	}
	return c, nil
}

// applyEntry mutates store according to one entry's operation. Insert and
// Delete are applied key-by-key; CompareExchange sets the key
// unconditionally (the old-value check already happened at proposal time,
// on the leader — see spec §4.1 and the Open Question in spec §9, resolved
// in favor of "leader-checks-only").
func applyEntry(store Store, e Entry) Store {
	switch e.Kind {
	case OpInsert:
		for k, v := range e.Map {
			store = store.Set(k, v)
		}
	case OpDelete:
		for _, k := range e.Keys {
			store = store.Delete(k)
		}
	case OpCompareExchange:
		store = store.Set(e.Key, e.NewValue)
	}
	return store
}

// ApplyEntries consumes entries — already known to be in strictly
// increasing index order — updating store for each and advancing
// lastAppliedIndex to the final index consumed. Gaps between indices are
// permitted (meta entries invisible to the state machine still advance the
// index). Idempotent: replaying the same entries from the same starting
// store produces the same final store (P1, P2).
//
// entries must be non-empty; callers should not invoke ApplyEntries for an
// empty range.
func (c *Core) ApplyEntries(entries []IndexedEntry) error {
	for _, ie := range entries {
		if err := ie.Entry.Validate(); err != nil {
			return err
		}
		c.store = applyEntry(c.store, ie.Entry)
	}
	c.lastAppliedIndex = entries[len(entries)-1].Index
	return nil
}

// ApplyToOngoingState applies entry to store and appends (idx,
// store.Snapshot()) to ongoingStates. Leader-only: lets the leader observe
// its own uncommitted writes ahead of the log telling it they committed.
func (c *Core) ApplyToOngoingState(idx LogIndex, e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	c.store = applyEntry(c.store, e)
	c.ongoingStates = append(c.ongoingStates, ongoingState{index: idx, store: c.store.Snapshot()})
	return nil
}

// Update advances the view of "committed locally" to lastIndexToApply.
// While the second element of ongoingStates has index <= lastIndexToApply,
// the front is popped — preserving the invariant that the deque's front is
// the latest ongoing state whose index is <= the committed cutoff (spec
// §4.1, §9's note on gaps: this looks one entry ahead, not at strict
// consecutiveness).
func (c *Core) Update(lastIndexToApply LogIndex) {
	for len(c.ongoingStates) >= 2 && c.ongoingStates[1].index <= lastIndexToApply {
		c.ongoingStates = c.ongoingStates[1:]
	}
	c.lastAppliedIndex = lastIndexToApply
}

// ResetOngoingStates clears the ongoing deque (leader resign path, and
// after a snapshot is applied).
func (c *Core) ResetOngoingStates() {
	c.ongoingStates = nil
}

// getReadState returns the Store a reader should observe: on a Core with a
// non-empty ongoingStates deque (leader, uncommitted local writes present),
// the front of the deque; otherwise the committed store.
func (c *Core) getReadState() Store {
	if len(c.ongoingStates) > 0 {
		return c.ongoingStates[0].store
	}
	return c.store
}

// Get returns the value for key from the read-state projection, and
// whether it was present.
func (c *Core) Get(key string) (string, bool) {
	return c.getReadState().Get(key)
}

// GetMulti returns present values only for the given keys, from the
// read-state projection.
func (c *Core) GetMulti(keys []string) map[string]string {
	state := c.getReadState()
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := state.Get(k); ok {
			out[k] = v
		}
	}
	return out
}

// CommittedGet is like Get but always reads the committed store, bypassing
// ongoingStates — used by CompareExchange's precondition check (spec §4.2:
// "The comparison is evaluated on store... not on ongoingStates").
func (c *Core) CommittedGet(key string) (string, bool) {
	return c.store.Get(key)
}

// Flush durably writes the committed store and lastAppliedIndex as a Dump
// if the unflushed prefix exceeds FlushBatchSize (P6). Returns whether a
// write occurred. On failure, lastPersistedIndex is left untouched and the
// error is returned for the caller to log at ERR and retry on a later tick
// (spec §4.1, §7: flush failure is non-fatal).
func (c *Core) Flush() (bool, error) {
	if c.lastAppliedIndex-c.lastPersistedIndex <= FlushBatchSize {
		return false, nil
	}
	dump := dumpFromStore(c.store, c.lastAppliedIndex)
	if err := c.backend.SaveDump(c.logID, dump); err != nil {
		c.log.Error("flush failed", zap.Error(err), zap.Uint64("applied", uint64(c.lastAppliedIndex)))
		return false, fmt.Errorf("%w: save dump: %v", ErrStorageError, err)
	}
	c.lastPersistedIndex = c.lastAppliedIndex
	return true, nil
}

// GetSnapshot exports the committed store as a plain map copy (never the
// ongoing/uncommitted projection).
func (c *Core) GetSnapshot() map[string]string {
	return c.store.AsMap()
}

// ApplySnapshot merges each (k, v) of m into the store. Must be called
// before the first ApplyEntries on a fresh Core (or one that just had
// ResetOngoingStates called with an empty store) — merge semantics make
// this unsafe otherwise, since stale keys would persist (spec §9). Does not
// mutate lastAppliedIndex; the caller derives it from the subsequent first
// ApplyEntries call.
func (c *Core) ApplySnapshot(m map[string]string) {
	for k, v := range m {
		c.store = c.store.Set(k, v)
	}
}

// LastAppliedIndex returns the index of the last entry consumed by
// ApplyEntries/Update.
func (c *Core) LastAppliedIndex() LogIndex { return c.lastAppliedIndex }

// LastPersistedIndex returns the index up to which the store is durably
// saved.
func (c *Core) LastPersistedIndex() LogIndex { return c.lastPersistedIndex }
