// Package registry holds the in-process set of live (database, logId)
// states this server currently hosts, one StateCore wrapper (LeaderState or
// FollowerState) per key, as spec §3's "Resource policy: one StateCore per
// (participant, logId)" requires. dispatch.Local reads and mutates entries
// through this package; nothing outside it may reach into an entry without
// going through the entry's own lock.
//
// Grounded on the teacher's services/channel.go ChannelService: a sync.Map
// of per-ID *sync.Mutex (the lock/unlock-func pattern) serializes lifecycle
// operations (create/drop/promote) on the same key, while steady-state
// reads/writes go straight to the LeaderState/FollowerState, which has its
// own internal mutex (spec §5's "guarded object" — here, nested one level
// deeper than the teacher's single per-ID mutex, because each entry is
// itself already self-synchronizing).
package registry

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kvreplica/protokv/internal/kvstate"
)

// Entry is the hosted state for one (database, logId): exactly one of
// Leader/Follower is non-nil at any time, matching the "role changes are
// one-way" invariant of spec §3 — role transitions replace the Entry's
// occupant rather than mutating it in place.
type Entry struct {
	Leader   *kvstate.LeaderState
	Follower *kvstate.FollowerState
}

func key(database, logID string) string { return database + "/" + logID }

// Registry is the server-wide table of hosted entries.
type Registry struct {
	log *zap.Logger

	entries sync.Map // key(database, logID) -> *Entry
	muxes   sync.Map // key(database, logID) -> *sync.Mutex
}

// New returns an empty Registry.
func New(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{log: log.Named("registry")}
}

// lock acquires the per-key lifecycle mutex and returns an unlock func, the
// same LoadOrStore-a-*sync.Mutex idiom the teacher's ChannelService.lock
// uses.
func (r *Registry) lock(database, logID string) func() {
	k := key(database, logID)
	v, _ := r.muxes.LoadOrStore(k, &sync.Mutex{})
	m := v.(*sync.Mutex)
	m.Lock()
	return func() { m.Unlock() }
}

// Lookup returns the currently hosted Entry for (database, logId), if any.
func (r *Registry) Lookup(database, logID string) (*Entry, bool) {
	v, ok := r.entries.Load(key(database, logID))
	if !ok {
		return nil, false
	}
	return v.(*Entry), true
}

// CreateLeader installs a freshly constructed LeaderState as the entry for
// (database, logId), serialized against any other lifecycle op on the same
// key. Fails if an entry is already hosted there (createState is not itself
// a promotion/demotion operation — spec §3's role transitions flow through
// Resign+Create, driven by the log layer, not through overwriting a live
// entry).
func (r *Registry) CreateLeader(database, logID string, ls *kvstate.LeaderState) error {
	unlock := r.lock(database, logID)
	defer unlock()

	k := key(database, logID)
	if _, exists := r.entries.Load(k); exists {
		return fmt.Errorf("registry: entry already hosted for %s", k)
	}
	r.entries.Store(k, &Entry{Leader: ls})
	return nil
}

// CreateFollower is CreateLeader's follower-role counterpart.
func (r *Registry) CreateFollower(database, logID string, fs *kvstate.FollowerState) error {
	unlock := r.lock(database, logID)
	defer unlock()

	k := key(database, logID)
	if _, exists := r.entries.Load(k); exists {
		return fmt.Errorf("registry: entry already hosted for %s", k)
	}
	r.entries.Store(k, &Entry{Follower: fs})
	return nil
}

// Drop resigns whichever of Leader/Follower occupies (database, logId) (if
// any), discards the Entry, and returns the StateCore that was moved out,
// so the caller can hand it back to the log layer or simply let it be
// garbage collected (spec §3: StateCore "destroyed on resign/drop").
func (r *Registry) Drop(database, logID string) *kvstate.Core {
	unlock := r.lock(database, logID)
	defer unlock()

	k := key(database, logID)
	v, ok := r.entries.LoadAndDelete(k)
	if !ok {
		return nil
	}
	e := v.(*Entry)
	switch {
	case e.Leader != nil:
		return e.Leader.Resign()
	case e.Follower != nil:
		return e.Follower.Resign()
	default:
		return nil
	}
}

// ReplaceWithLeader atomically swaps the current entry for (database,
// logId) — resigning whatever occupies it first — with a fresh LeaderState.
// Used when a follower is promoted on receiving a leadership-change signal
// from the log layer.
func (r *Registry) ReplaceWithLeader(database, logID string, ls *kvstate.LeaderState) {
	unlock := r.lock(database, logID)
	defer unlock()

	k := key(database, logID)
	if v, ok := r.entries.Load(k); ok {
		e := v.(*Entry)
		if e.Follower != nil {
			e.Follower.Resign()
		}
		if e.Leader != nil {
			e.Leader.Resign()
		}
	}
	r.entries.Store(k, &Entry{Leader: ls})
}

// ReplaceWithFollower is ReplaceWithLeader's counterpart for demotion.
func (r *Registry) ReplaceWithFollower(database, logID string, fs *kvstate.FollowerState) {
	unlock := r.lock(database, logID)
	defer unlock()

	k := key(database, logID)
	if v, ok := r.entries.Load(k); ok {
		e := v.(*Entry)
		if e.Leader != nil {
			e.Leader.Resign()
		}
		if e.Follower != nil {
			e.Follower.Resign()
		}
	}
	r.entries.Store(k, &Entry{Follower: fs})
}
