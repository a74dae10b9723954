package kvstate

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// SnapshotSource is the collaborator a FollowerState asks for a bootstrap
// snapshot when it has none of its own yet (spec §4.3: "the follower may
// request a point-in-time snapshot... from whichever participant can
// currently serve one, typically the leader"). FollowerState implements it
// (see FetchSnapshot), so one follower can bootstrap from another.
type SnapshotSource interface {
	FetchSnapshot(ctx context.Context) (map[string]string, LogIndex, error)
}

// FollowerState is the passively-replicating counterpart to LeaderState
// (spec §4.3): it only ever applies entries the log itself has already
// committed, never originates writes, and serves local reads that may be
// stale by definition.
type FollowerState struct {
	log    *zap.Logger
	source SnapshotSource

	mu        sync.Mutex
	core      *Core
	resigned  bool
	waitQueue *waitQueue

	sf singleflight.Group
}

// NewFollowerState wraps core in follower role. source is consulted by
// AcquireSnapshot when the follower has no usable local state yet.
func NewFollowerState(core *Core, source SnapshotSource, log *zap.Logger) *FollowerState {
	if log == nil {
		log = zap.NewNop()
	}
	return &FollowerState{
		log:       log.Named("kvstate.follower"),
		source:    source,
		core:      core,
		waitQueue: newWaitQueue(),
	}
}

// ApplyEntries applies a committed, contiguous batch of entries to the
// underlying Core (spec §4.3 step 1), then resolves every pending
// WaitForApplied waiter whose index is now satisfied — mirroring
// LeaderState.pollLoop's apply-then-drain shape, except driven by the
// caller's log subscription rather than an owned poll loop. Called by
// whatever drives this follower's log subscription; entries must already be
// known committed.
func (fs *FollowerState) ApplyEntries(entries []IndexedEntry) error {
	if len(entries) == 0 {
		return nil
	}
	fs.mu.Lock()
	if fs.resigned {
		fs.mu.Unlock()
		return ErrNotFollower
	}
	if err := fs.core.ApplyEntries(entries); err != nil {
		fs.mu.Unlock()
		return err
	}
	if _, err := fs.core.Flush(); err != nil {
		fs.log.Error("flush failed", zap.Error(err))
	}
	resolveQueue := fs.waitQueue.drainUpTo(fs.core.LastAppliedIndex() + 1)
	fs.mu.Unlock()

	for _, ch := range resolveQueue {
		ch <- nil
	}
	return nil
}

// WaitForApplied resolves once index has been applied by this follower
// (spec §4.3's "waitForApplied" read data flow, P5). If index is already
// covered by the follower's applied watermark, resolves immediately.
func (fs *FollowerState) WaitForApplied(ctx context.Context, index LogIndex) error {
	fs.mu.Lock()
	if fs.resigned {
		fs.mu.Unlock()
		return ErrNotFollower
	}
	if index <= fs.core.LastAppliedIndex() {
		fs.mu.Unlock()
		return nil
	}
	ch := fs.waitQueue.enqueue(index)
	fs.mu.Unlock()

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AcquireSnapshot bootstraps an empty follower from SnapshotSource: fetches
// a (store, index) pair from the current leader, merges it into the Core,
// and returns the index the caller should resume log replication from.
// Concurrent callers coalesce onto a single in-flight fetch via
// singleflight, grounded on golang.org/x/sync (the same module as the
// teacher's errgroup) since a stampede of simultaneous bootstrap requests
// would otherwise hit the leader once per waiting goroutine (spec §4.3, P5).
func (fs *FollowerState) AcquireSnapshot(ctx context.Context) (LogIndex, error) {
	fs.mu.Lock()
	if fs.resigned {
		fs.mu.Unlock()
		return 0, ErrNotFollower
	}
	fs.mu.Unlock()

	v, err, _ := fs.sf.Do(fs.snapshotKey(), func() (interface{}, error) {
		m, index, ferr := fs.source.FetchSnapshot(ctx)
		if ferr != nil {
			return nil, fmt.Errorf("%w: %v", ErrSnapshotUnavailable, ferr)
		}

		fs.mu.Lock()
		defer fs.mu.Unlock()
		if fs.resigned {
			return nil, ErrNotFollower
		}
		fs.core.ResetOngoingStates()
		fs.core.ApplySnapshot(m)
		return index, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(LogIndex), nil
}

// snapshotKey is constant: a follower has exactly one Core, so every
// concurrent AcquireSnapshot call must coalesce onto the same singleflight
// key regardless of caller identity.
func (fs *FollowerState) snapshotKey() string { return "snapshot" }

// Get awaits waitForApplied(index) then reads key directly from the Core's
// committed store (spec §4.3's get(key, waitForApplied) operation, P5). A
// follower has no ongoingStates, so once the wait resolves this is always
// the latest locally applied value — which may still lag the true committed
// value by however far replication is behind when waitForApplied is 0
// (spec §4.3, §5's staleness note).
func (fs *FollowerState) Get(ctx context.Context, key string, waitForApplied LogIndex) (string, bool, error) {
	if err := fs.WaitForApplied(ctx, waitForApplied); err != nil {
		return "", false, err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.resigned {
		return "", false, ErrNotFollower
	}
	v, ok := fs.core.Get(key)
	return v, ok, nil
}

// GetMulti is the batch form of Get.
func (fs *FollowerState) GetMulti(ctx context.Context, keys []string, waitForApplied LogIndex) (map[string]string, error) {
	if err := fs.WaitForApplied(ctx, waitForApplied); err != nil {
		return nil, err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.resigned {
		return nil, ErrNotFollower
	}
	return fs.core.GetMulti(keys), nil
}

// FetchSnapshot implements SnapshotSource so a follower can itself serve
// bootstrap requests from other followers (spec §4.3: "typically the
// leader" — not exclusively).
func (fs *FollowerState) FetchSnapshot(ctx context.Context) (map[string]string, LogIndex, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.resigned {
		return nil, 0, ErrNotFollower
	}
	return fs.core.GetSnapshot(), fs.core.LastAppliedIndex(), nil
}

// Status reports the follower's current applied index.
func (fs *FollowerState) Status() (LogIndex, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.resigned {
		return 0, ErrNotFollower
	}
	return fs.core.LastAppliedIndex(), nil
}

// Resign transfers the Core out of the FollowerState and breaks every
// pending WaitForApplied waiter, as LeaderState.Resign does for leaders.
// Safe to call once; a second call is a no-op.
func (fs *FollowerState) Resign() *Core {
	fs.mu.Lock()
	if fs.resigned {
		fs.mu.Unlock()
		return nil
	}
	fs.resigned = true
	core := fs.core
	fs.core = nil
	pending := fs.waitQueue.drainAll()
	fs.mu.Unlock()

	for _, ch := range pending {
		ch <- ErrResigned
	}
	return core
}

// DidResign reports whether Resign has already been called.
func (fs *FollowerState) DidResign() bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.resigned
}
