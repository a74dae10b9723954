package kvstate

// waitQueue is the ordered multimap LogIndex -> []chan error described in
// spec §3 as WaitForAppliedQueue. Every channel is buffered (size 1) so a
// resolver never blocks on a caller that has stopped listening — the same
// "single-use reply channel" convention the teacher's async RPC methods use
// (divtxt-raft-consensus/impl/raft.go's ...Async methods; this repo has no
// futures, so that convention is what's imitated here).
//
// Not safe for concurrent use; callers hold the owning LeaderState's or
// FollowerState's mutex while touching a waitQueue.
type waitQueue struct {
	waiters map[LogIndex][]chan error
}

func newWaitQueue() *waitQueue {
	return &waitQueue{waiters: make(map[LogIndex][]chan error)}
}

// enqueue registers a new single-use channel for index and returns it.
func (q *waitQueue) enqueue(index LogIndex) <-chan error {
	ch := make(chan error, 1)
	q.waiters[index] = append(q.waiters[index], ch)
	return ch
}

// drainUpTo removes every waiter with key < upperExclusive and returns the
// channels to resolve, in no particular order. Callers should resolve
// these outside the lock (spec §5: "resolution itself happens outside the
// lock").
func (q *waitQueue) drainUpTo(upperExclusive LogIndex) []chan error {
	var resolved []chan error
	for idx, chans := range q.waiters {
		if idx < upperExclusive {
			resolved = append(resolved, chans...)
			delete(q.waiters, idx)
		}
	}
	return resolved
}

// drainAll removes every waiter regardless of index — used on resign, where
// every pending promise must be broken (spec §4.2: "Any unresolved promises
// in waitForAppliedQueue are dropped").
func (q *waitQueue) drainAll() []chan error {
	var all []chan error
	for idx, chans := range q.waiters {
		all = append(all, chans...)
		delete(q.waiters, idx)
	}
	return all
}
