package kvstate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeSnapshotSource struct {
	calls int32
	m     map[string]string
	index LogIndex
}

func (s *fakeSnapshotSource) FetchSnapshot(ctx context.Context) (map[string]string, LogIndex, error) {
	atomic.AddInt32(&s.calls, 1)
	// Keep the fetch in flight long enough for concurrent callers to join it.
	time.Sleep(50 * time.Millisecond)
	cp := make(map[string]string, len(s.m))
	for k, v := range s.m {
		cp[k] = v
	}
	return cp, s.index, nil
}

func newTestFollower(t *testing.T, source SnapshotSource) *FollowerState {
	t.Helper()
	backend := newFakeBackend()
	core, err := NewCore("demo", backend, nil)
	if err != nil {
		t.Fatalf("NewCore: %v", err)
	}
	return NewFollowerState(core, source, nil)
}

func TestFollowerApplyEntriesThenGet(t *testing.T) {
	fs := newTestFollower(t, nil)

	err := fs.ApplyEntries([]IndexedEntry{
		{Index: 1, Entry: NewInsertEntry(map[string]string{"a": "1"})},
	})
	if err != nil {
		t.Fatalf("ApplyEntries: %v", err)
	}

	v, ok, err := fs.Get(context.Background(), "a", 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || v != "1" {
		t.Fatalf("got (%q, %v), want (1, true)", v, ok)
	}
}

func TestFollowerGetBlocksUntilWaitForAppliedIsSatisfied(t *testing.T) {
	fs := newTestFollower(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	var v string
	var ok bool
	var err error
	go func() {
		v, ok, err = fs.Get(ctx, "a", 1)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Get returned before entry 1 was applied")
	case <-time.After(50 * time.Millisecond):
	}

	if applyErr := fs.ApplyEntries([]IndexedEntry{
		{Index: 1, Entry: NewInsertEntry(map[string]string{"a": "1"})},
	}); applyErr != nil {
		t.Fatalf("ApplyEntries: %v", applyErr)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Get did not unblock after ApplyEntries")
	}
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || v != "1" {
		t.Fatalf("got (%q, %v), want (1, true)", v, ok)
	}
}

func TestFollowerAcquireSnapshotCoalescesConcurrentCallers(t *testing.T) {
	source := &fakeSnapshotSource{m: map[string]string{"a": "1", "b": "2"}, index: 7}
	fs := newTestFollower(t, source)

	const callers = 10
	var wg sync.WaitGroup
	results := make([]LogIndex, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			idx, err := fs.AcquireSnapshot(context.Background())
			results[i] = idx
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i] != 7 {
			t.Fatalf("caller %d got index %d, want 7", i, results[i])
		}
	}

	if source.calls != 1 {
		t.Fatalf("expected singleflight to coalesce into exactly one fetch, got %d", source.calls)
	}

	v, ok, err := fs.Get(context.Background(), "b", 0)
	if err != nil || !ok || v != "2" {
		t.Fatalf("got (%q, %v, %v), want (2, true, nil)", v, ok, err)
	}
}

func TestFollowerFetchSnapshotServesOtherFollowers(t *testing.T) {
	fs := newTestFollower(t, nil)
	if err := fs.ApplyEntries([]IndexedEntry{
		{Index: 3, Entry: NewInsertEntry(map[string]string{"x": "y"})},
	}); err != nil {
		t.Fatalf("ApplyEntries: %v", err)
	}

	m, idx, err := fs.FetchSnapshot(context.Background())
	if err != nil {
		t.Fatalf("FetchSnapshot: %v", err)
	}
	if idx != 3 || m["x"] != "y" {
		t.Fatalf("got (%v, %d), want ({x:y}, 3)", m, idx)
	}
}

func TestFollowerResignRejectsSubsequentOps(t *testing.T) {
	fs := newTestFollower(t, nil)
	fs.Resign()

	if !fs.DidResign() {
		t.Fatal("expected DidResign true")
	}
	if _, _, err := fs.Get(context.Background(), "a", 0); err != ErrNotFollower {
		t.Fatalf("got %v, want ErrNotFollower", err)
	}
	if err := fs.ApplyEntries([]IndexedEntry{{Index: 1, Entry: NewInsertEntry(map[string]string{"a": "1"})}}); err != ErrNotFollower {
		t.Fatalf("got %v, want ErrNotFollower", err)
	}
}

func TestFollowerResignBreaksPendingGetWaiters(t *testing.T) {
	fs := newTestFollower(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, _, err := fs.Get(ctx, "a", 1)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	fs.Resign()

	select {
	case err := <-done:
		if err != ErrResigned {
			t.Fatalf("got %v, want ErrResigned", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Get did not unblock on Resign")
	}
}
