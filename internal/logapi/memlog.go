// Package logapi provides implementations of kvstate.Log, the external
// replicated-log collaborator spec §1 treats as opaque. MemLog is an
// in-process, single-node stand-in used by the tests and by the bundled
// protokv-server binary; it commits every inserted entry immediately (there is
// nothing to replicate to) and exists purely to exercise StateCore's
// contract without requiring a real consensus backend.
//
// Grounded on the Log/LogAndStateMachine seam in
// divtxt-raft-consensus/log.go and divtxt-raft-consensus/lasm/interface.go,
// reimplemented here as a single-node fake rather than a real log.
package logapi

import (
	"context"
	"sync"

	"github.com/kvreplica/protokv/internal/kvstate"
)

// MemLog is a thread-safe, single-node kvstate.Log. All inserted entries
// are immediately committed; WaitForCommit never blocks.
type MemLog struct {
	mu       sync.Mutex
	entries  []kvstate.IndexedEntry
	released kvstate.LogIndex // entries with Index <= released have been Released
	cond     *sync.Cond
	resigned bool
}

// NewMemLog returns an empty MemLog.
func NewMemLog() *MemLog {
	l := &MemLog{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Insert appends entry, assigning it the next LogIndex (1-based), and wakes
// any goroutine blocked in WaitForIterator.
func (l *MemLog) Insert(ctx context.Context, entry kvstate.Entry) (kvstate.LogIndex, error) {
	if err := entry.Validate(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	index := kvstate.LogIndex(len(l.entries) + 1)
	l.entries = append(l.entries, kvstate.IndexedEntry{Index: index, Entry: entry})
	l.cond.Broadcast()
	return index, nil
}

// WaitForCommit always returns immediately: a MemLog commits on Insert.
func (l *MemLog) WaitForCommit(ctx context.Context, index kvstate.LogIndex) error {
	return nil
}

// WaitForIterator blocks until at least one entry at or after fromIndex
// exists, then returns a snapshot iterator over [fromIndex, len(entries)].
func (l *MemLog) WaitForIterator(ctx context.Context, fromIndex kvstate.LogIndex) (kvstate.Iterator, error) {
	l.mu.Lock()
	for kvstate.LogIndex(len(l.entries)) < fromIndex && !l.resigned {
		waitDone := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				l.mu.Lock()
				l.cond.Broadcast()
				l.mu.Unlock()
			case <-waitDone:
			}
		}()
		l.cond.Wait()
		close(waitDone)
		if err := ctx.Err(); err != nil {
			l.mu.Unlock()
			return nil, err
		}
	}
	if l.resigned {
		l.mu.Unlock()
		return nil, kvstate.ErrResigned
	}

	var batch []kvstate.IndexedEntry
	for _, ie := range l.entries {
		if ie.Index >= fromIndex {
			batch = append(batch, ie)
		}
	}
	upper := kvstate.LogIndex(len(l.entries) + 1)
	l.mu.Unlock()

	return &memIterator{entries: batch, upperExclusive: upper}, nil
}

// Release records that entries up to upToIndex are durably persisted
// elsewhere. MemLog keeps entries for simplicity (there is no bounded
// memory concern worth the complexity in a test fake) but records the
// watermark for inspection.
func (l *MemLog) Release(ctx context.Context, upToIndex kvstate.LogIndex) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if upToIndex > l.released {
		l.released = upToIndex
	}
	return nil
}

// Resign wakes every blocked WaitForIterator caller with ErrResigned, for
// tests that simulate a leadership change.
func (l *MemLog) Resign() {
	l.mu.Lock()
	l.resigned = true
	l.cond.Broadcast()
	l.mu.Unlock()
}

// Entries returns a copy of every entry ever inserted, for test assertions.
func (l *MemLog) Entries() []kvstate.IndexedEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]kvstate.IndexedEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Released reports the current release watermark.
func (l *MemLog) Released() kvstate.LogIndex {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.released
}

type memIterator struct {
	entries        []kvstate.IndexedEntry
	pos            int
	upperExclusive kvstate.LogIndex
}

func (it *memIterator) Next() (kvstate.IndexedEntry, bool) {
	if it.pos >= len(it.entries) {
		return kvstate.IndexedEntry{}, false
	}
	e := it.entries[it.pos]
	it.pos++
	return e, true
}

func (it *memIterator) UpperExclusive() kvstate.LogIndex { return it.upperExclusive }
