package kvstate

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeLog is a minimal in-package Log fake, kept here rather than reusing
// internal/logapi.MemLog to avoid a kvstate<->logapi import cycle (logapi
// depends on kvstate, not the reverse).
type fakeLog struct {
	mu       sync.Mutex
	entries  []IndexedEntry
	cond     *sync.Cond
	resigned bool
}

func newFakeLog() *fakeLog {
	l := &fakeLog{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *fakeLog) Insert(ctx context.Context, entry Entry) (LogIndex, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx := LogIndex(len(l.entries) + 1)
	l.entries = append(l.entries, IndexedEntry{Index: idx, Entry: entry})
	l.cond.Broadcast()
	return idx, nil
}

func (l *fakeLog) WaitForCommit(ctx context.Context, index LogIndex) error { return nil }

func (l *fakeLog) WaitForIterator(ctx context.Context, fromIndex LogIndex) (Iterator, error) {
	l.mu.Lock()
	for LogIndex(len(l.entries)) < fromIndex && !l.resigned {
		l.cond.Wait()
	}
	if l.resigned {
		l.mu.Unlock()
		return nil, ErrResigned
	}
	var batch []IndexedEntry
	for _, ie := range l.entries {
		if ie.Index >= fromIndex {
			batch = append(batch, ie)
		}
	}
	upper := LogIndex(len(l.entries) + 1)
	l.mu.Unlock()
	return &fakeIterator{entries: batch, upperExclusive: upper}, nil
}

func (l *fakeLog) Release(ctx context.Context, upToIndex LogIndex) error { return nil }

func (l *fakeLog) resign() {
	l.mu.Lock()
	l.resigned = true
	l.cond.Broadcast()
	l.mu.Unlock()
}

type fakeIterator struct {
	entries        []IndexedEntry
	pos            int
	upperExclusive LogIndex
}

func (it *fakeIterator) Next() (IndexedEntry, bool) {
	if it.pos >= len(it.entries) {
		return IndexedEntry{}, false
	}
	e := it.entries[it.pos]
	it.pos++
	return e, true
}

func (it *fakeIterator) UpperExclusive() LogIndex { return it.upperExclusive }

func newTestLeader(t *testing.T) (*LeaderState, *fakeLog) {
	t.Helper()
	backend := newFakeBackend()
	core, err := NewCore("demo", backend, nil)
	if err != nil {
		t.Fatalf("NewCore: %v", err)
	}
	l := newFakeLog()
	ls := NewLeaderState(core, l, nil)
	if err := ls.RecoverEntries(nil); err != nil {
		t.Fatalf("RecoverEntries: %v", err)
	}
	return ls, l
}

func TestLeaderSetThenWaitForAppliedGet(t *testing.T) {
	ls, _ := newTestLeader(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	idx, err := ls.Set(ctx, map[string]string{"a": "1"}, WriteOptions{WaitForApplied: true})
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	if idx != 1 {
		t.Fatalf("got index %d, want 1", idx)
	}

	v, ok, err := ls.Get(ctx, "a", idx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || v != "1" {
		t.Fatalf("got (%q, %v), want (1, true)", v, ok)
	}
}

func TestLeaderCompareExchangeSucceedsAndFails(t *testing.T) {
	ls, _ := newTestLeader(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := ls.Set(ctx, map[string]string{"a": "1"}, WriteOptions{WaitForApplied: true}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if _, err := ls.CompareExchange(ctx, "a", "wrong", "2", WriteOptions{}); err != ErrPreconditionFailed {
		t.Fatalf("got err %v, want ErrPreconditionFailed", err)
	}

	idx, err := ls.CompareExchange(ctx, "a", "1", "2", WriteOptions{WaitForApplied: true})
	if err != nil {
		t.Fatalf("CompareExchange: %v", err)
	}
	v, _, err := ls.Get(ctx, "a", idx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != "2" {
		t.Fatalf("got %q, want 2", v)
	}
}

func TestLeaderConcurrentCompareExchangeHasExactlyOneWinner(t *testing.T) {
	ls, _ := newTestLeader(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := ls.Set(ctx, map[string]string{"k": "0"}, WriteOptions{WaitForApplied: true}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	const attempts = 20
	var wg sync.WaitGroup
	var wins int32
	var mu sync.Mutex
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ls.CompareExchange(ctx, "k", "0", "1", WriteOptions{WaitForApplied: true})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if err != ErrPreconditionFailed {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("got %d winners, want exactly 1 (P8)", wins)
	}
}

func TestLeaderResignBreaksPendingWaiters(t *testing.T) {
	ls, l := newTestLeader(t)
	_ = l

	done := make(chan error, 1)
	go func() {
		done <- ls.WaitForApplied(context.Background(), 100)
	}()

	// Give the waiter time to enqueue before resigning.
	time.Sleep(20 * time.Millisecond)
	ls.Resign()

	select {
	case err := <-done:
		if err != ErrResigned {
			t.Fatalf("got %v, want ErrResigned", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForApplied did not unblock after Resign")
	}

	if !ls.DidResign() {
		t.Fatal("expected DidResign true")
	}
	if _, err := ls.Set(context.Background(), map[string]string{"a": "1"}, WriteOptions{}); err != ErrNotLeader {
		t.Fatalf("got %v, want ErrNotLeader after resign", err)
	}
}

func TestLeaderRecoverEntriesReappliesUncommittedTail(t *testing.T) {
	backend := newFakeBackend()
	core, err := NewCore("demo", backend, nil)
	if err != nil {
		t.Fatalf("NewCore: %v", err)
	}
	l := newFakeLog()
	ls := NewLeaderState(core, l, nil)

	tail := []IndexedEntry{
		{Index: 1, Entry: NewInsertEntry(map[string]string{"a": "1"})},
	}
	if err := ls.RecoverEntries(tail); err != nil {
		t.Fatalf("RecoverEntries: %v", err)
	}

	v, ok, err := ls.Get(context.Background(), "a", 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || v != "1" {
		t.Fatalf("got (%q, %v), want (1, true) for recovered uncommitted write", v, ok)
	}
}
