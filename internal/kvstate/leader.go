package kvstate

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// WriteOptions is the closed set of write knobs from spec §4.4.
type WriteOptions struct {
	WaitForApplied bool
	WaitForSync    bool
	WaitForCommit  bool
}

// ReadOptions is the closed set of read knobs from spec §4.4.
type ReadOptions struct {
	WaitForApplied LogIndex
	AllowDirtyRead bool
	ReadFrom       string // optional ParticipantId; empty means "no preference"
}

// LeaderState is the ordered-write-admission, ordered-local-read wrapper
// around a Core described in spec §4.2. The poll loop it owns is the only
// writer of core/waitForAppliedQueue/nextWaitForIndex other than the public
// methods below, and every one of those (including the loop) takes mu
// first.
type LeaderState struct {
	log *zap.Logger
	l   Log

	mu               sync.Mutex
	core             *Core
	waitQueue        *waitQueue
	nextWaitForIndex LogIndex
	resigned         bool

	// casMu serializes CompareExchange's check-through-apply span across all
	// keys, closing a TOCTOU window mu alone leaves open: the committed
	// store only advances when the poll loop actually applies an entry,
	// well after l.Insert returns its index, so holding only mu (released
	// before the blocking Insert) would let a second CompareExchange read
	// the same stale pre-image and propose before the first is applied,
	// violating P8's exactly-one-winner guarantee. Held across the check,
	// the Insert, and the wait for that entry's own apply.
	casMu sync.Mutex

	cancelPoll context.CancelFunc
	pollDone   chan struct{}
}

// NewLeaderState wraps core for leadership over l. The caller must still
// call RecoverEntries (with the new leader's uncommitted tail, possibly
// empty) before the state serves traffic, per spec §4.2.
func NewLeaderState(core *Core, l Log, log *zap.Logger) *LeaderState {
	if log == nil {
		log = zap.NewNop()
	}
	return &LeaderState{
		log:              log.Named("kvstate.leader"),
		l:                l,
		core:             core,
		waitQueue:        newWaitQueue(),
		nextWaitForIndex: 1,
	}
}

// RecoverEntries applies the uncommitted tail a new leader must re-apply to
// re-materialize its in-memory state, then starts the poll loop. Must be
// called exactly once, before any other method.
func (ls *LeaderState) RecoverEntries(entries []IndexedEntry) error {
	ls.mu.Lock()
	if ls.resigned {
		ls.mu.Unlock()
		return ErrNotLeader
	}
	if len(entries) > 0 {
		for _, ie := range entries {
			if err := ls.core.ApplyToOngoingState(ie.Index, ie.Entry); err != nil {
				ls.mu.Unlock()
				return err
			}
		}
		ls.nextWaitForIndex = entries[len(entries)-1].Index + 1
	}
	ls.mu.Unlock()
	ls.start()
	return nil
}

// start launches the poll loop goroutine described in spec §4.2.
func (ls *LeaderState) start() {
	ctx, cancel := context.WithCancel(context.Background())
	ls.cancelPoll = cancel
	ls.pollDone = make(chan struct{})
	go ls.pollLoop(ctx)
}

// pollLoop implements the internal protocol of spec §4.2: wait for newly
// committed entries, apply them to the ongoing projection, advance the
// committed cutoff, flush/release when due, and resolve every waiter whose
// index is now satisfied — all outside the lock.
func (ls *LeaderState) pollLoop(ctx context.Context) {
	defer close(ls.pollDone)
	for {
		ls.mu.Lock()
		from := ls.nextWaitForIndex
		ls.mu.Unlock()

		iter, err := ls.l.WaitForIterator(ctx, from)
		if err != nil {
			ls.log.Info("poll loop stopping", zap.Error(err))
			return
		}

		var resolveQueue []chan error

		ls.mu.Lock()
		if ls.resigned {
			ls.mu.Unlock()
			return
		}
		newNextWaitForIndex := iter.UpperExclusive()
		for {
			ie, ok := iter.Next()
			if !ok {
				break
			}
			if err := ls.core.ApplyToOngoingState(ie.Index, ie.Entry); err != nil {
				ls.log.Error("invalid entry at leader, participant must stop", zap.Error(err))
				ls.mu.Unlock()
				return
			}
		}
		ls.core.Update(newNextWaitForIndex - 1)
		ls.nextWaitForIndex = newNextWaitForIndex

		// Release runs only after a flush that wrote, so at most one of the
		// two fails in a tick; either failure is logged here and is
		// non-fatal (the next tick flushes/releases again).
		var tickErr error
		if flushed, ferr := ls.core.Flush(); ferr != nil {
			tickErr = multierr.Append(tickErr, ferr)
		} else if flushed {
			if rerr := ls.l.Release(ctx, ls.core.LastPersistedIndex()); rerr != nil {
				tickErr = multierr.Append(tickErr, rerr)
			}
		}
		if tickErr != nil {
			ls.log.Error("flush/release tick had errors", zap.Error(tickErr))
		}

		resolveQueue = ls.waitQueue.drainUpTo(ls.nextWaitForIndex)
		ls.mu.Unlock()

		for _, ch := range resolveQueue {
			ch <- nil
		}
	}
}

// Set proposes an Insert entry for m and returns the assigned LogIndex,
// honoring writeOptions.WaitForCommit/WaitForApplied (spec §4.2).
func (ls *LeaderState) Set(ctx context.Context, m map[string]string, opts WriteOptions) (LogIndex, error) {
	return ls.propose(ctx, NewInsertEntry(m), opts)
}

// Remove proposes a Delete entry for keys.
func (ls *LeaderState) Remove(ctx context.Context, keys []string, opts WriteOptions) (LogIndex, error) {
	return ls.propose(ctx, NewDeleteEntry(keys), opts)
}

// CompareExchange checks key's committed value against oldValue and, if it
// matches, proposes a CompareExchange entry. The check runs against the
// committed store (never ongoingStates) specifically so that concurrent CAS
// attempts linearize with commit order rather than with local apply order
// (spec §4.2, §5, P8). Because the committed store only advances
// asynchronously inside pollLoop — well after Insert returns — casMu is
// held not just through Insert but until this entry is itself applied:
// otherwise a second caller's CommittedGet would still observe the
// pre-CAS value and wrongly pass its own check before the first CAS is
// reflected anywhere (exactly the race P8 rules out).
func (ls *LeaderState) CompareExchange(ctx context.Context, key, oldValue, newValue string, opts WriteOptions) (LogIndex, error) {
	ls.casMu.Lock()
	index, err := ls.checkAndProposeCompareExchange(ctx, key, oldValue, newValue)
	ls.casMu.Unlock()
	if err != nil {
		return 0, err
	}
	return ls.awaitOptions(ctx, index, opts)
}

// checkAndProposeCompareExchange runs under casMu: it re-validates
// oldValue against the committed store, inserts the entry if it still
// matches, and blocks until that entry is applied before returning —
// releasing casMu to the next waiting CompareExchange call only once this
// one's outcome is visible to CommittedGet.
func (ls *LeaderState) checkAndProposeCompareExchange(ctx context.Context, key, oldValue, newValue string) (LogIndex, error) {
	ls.mu.Lock()
	if ls.resigned {
		ls.mu.Unlock()
		return 0, ErrNotLeader
	}
	cur, ok := ls.core.CommittedGet(key)
	if !ok || cur != oldValue {
		ls.mu.Unlock()
		return 0, ErrPreconditionFailed
	}
	ls.mu.Unlock()

	index, err := ls.l.Insert(ctx, NewCompareExchangeEntry(key, oldValue, newValue))
	if err != nil {
		return 0, fmt.Errorf("log insert: %w", err)
	}
	if err := ls.WaitForApplied(ctx, index); err != nil {
		return index, err
	}
	return index, nil
}

// propose inserts entry into the log and waits on whichever of
// WaitForCommit/WaitForApplied the caller requested.
func (ls *LeaderState) propose(ctx context.Context, entry Entry, opts WriteOptions) (LogIndex, error) {
	ls.mu.Lock()
	if ls.resigned {
		ls.mu.Unlock()
		return 0, ErrNotLeader
	}
	ls.mu.Unlock()

	index, err := ls.l.Insert(ctx, entry)
	if err != nil {
		return 0, fmt.Errorf("log insert: %w", err)
	}
	return ls.awaitOptions(ctx, index, opts)
}

// awaitOptions waits on whichever of WaitForCommit/WaitForApplied opts
// requests, shared by propose and CompareExchange so the wait itself never
// runs under casMu.
func (ls *LeaderState) awaitOptions(ctx context.Context, index LogIndex, opts WriteOptions) (LogIndex, error) {
	if opts.WaitForCommit {
		if err := ls.l.WaitForCommit(ctx, index); err != nil {
			return index, fmt.Errorf("wait for commit: %w", err)
		}
	}
	if opts.WaitForApplied {
		if err := ls.WaitForApplied(ctx, index); err != nil {
			return index, err
		}
	}
	return index, nil
}

// WaitForApplied resolves once index has been applied at this leader (P3).
// If index is already covered by nextWaitForIndex, resolves immediately.
func (ls *LeaderState) WaitForApplied(ctx context.Context, index LogIndex) error {
	ls.mu.Lock()
	if ls.resigned {
		ls.mu.Unlock()
		return ErrNotLeader
	}
	if index < ls.nextWaitForIndex {
		ls.mu.Unlock()
		return nil
	}
	ch := ls.waitQueue.enqueue(index)
	ls.mu.Unlock()

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get awaits waitForApplied(index) then reads key from the leader's
// read-state projection — so the leader observes its own uncommitted but
// locally-applied writes (spec §4.2, P4).
func (ls *LeaderState) Get(ctx context.Context, key string, waitForApplied LogIndex) (string, bool, error) {
	if err := ls.WaitForApplied(ctx, waitForApplied); err != nil {
		return "", false, err
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.resigned {
		return "", false, ErrNotLeader
	}
	v, ok := ls.core.Get(key)
	return v, ok, nil
}

// GetMulti is the batch form of Get.
func (ls *LeaderState) GetMulti(ctx context.Context, keys []string, waitForApplied LogIndex) (map[string]string, error) {
	if err := ls.WaitForApplied(ctx, waitForApplied); err != nil {
		return nil, err
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.resigned {
		return nil, ErrNotLeader
	}
	return ls.core.GetMulti(keys), nil
}

// GetSnapshot awaits waitForApplied(waitForIndex) then returns the
// committed store only (never the ongoing projection) — used both for
// direct client reads and to serve follower bootstrap.
func (ls *LeaderState) GetSnapshot(ctx context.Context, waitForIndex LogIndex) (map[string]string, error) {
	if err := ls.WaitForApplied(ctx, waitForIndex); err != nil {
		return nil, err
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.resigned {
		return nil, ErrNotLeader
	}
	return ls.core.GetSnapshot(), nil
}

// Status reports the leader's current applied index, for the status
// endpoint in spec §6.
func (ls *LeaderState) Status() (LogIndex, error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.resigned {
		return 0, ErrNotLeader
	}
	return ls.core.LastAppliedIndex(), nil
}

// Resign atomically transfers the Core out of the LeaderState, stops the
// poll loop, and breaks every pending waiter. Subsequent operations observe
// DidResign() == true and fail with ErrNotLeader. Safe to call once; a
// second call is a no-op and returns nil.
func (ls *LeaderState) Resign() *Core {
	ls.mu.Lock()
	if ls.resigned {
		ls.mu.Unlock()
		return nil
	}
	ls.resigned = true
	core := ls.core
	ls.core = nil
	pending := ls.waitQueue.drainAll()
	ls.mu.Unlock()

	if ls.cancelPoll != nil {
		ls.cancelPoll()
	}
	for _, ch := range pending {
		ch <- ErrResigned
	}
	return core
}

// DidResign reports whether Resign has already been called.
func (ls *LeaderState) DidResign() bool {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.resigned
}
