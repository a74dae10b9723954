package kvstate

import "context"

// Log is the external replicated-log collaborator from spec §1: leader
// election, replication, and commit-index calculation are entirely its
// concern. The core only needs the four operations spec §1 lists:
// insert-entry, wait-for-commit-of-index, an iterator over entries in a
// half-open range, and release-up-to-index for truncating the persisted
// prefix.
//
// Grounded on the Log/LogAndStateMachine split in
// divtxt-raft-consensus/log.go and divtxt-raft-consensus/lasm/interface.go:
// that project puts exactly this seam between "the log" (leader election,
// replication) and "the state machine" (everything this package
// implements). Log here is a smaller, state-machine-facing view of that
// same seam — an interface to be implemented by whatever hosts the actual
// replicated log, not by this module.
type Log interface {
	// Insert proposes entry and returns the LogIndex the log assigned it.
	// Only ever called when the caller believes itself to be leader; the
	// log itself is the authority and may reject or fail this call if that
	// belief is stale.
	Insert(ctx context.Context, entry Entry) (LogIndex, error)

	// WaitForCommit blocks until index is known committed.
	WaitForCommit(ctx context.Context, index LogIndex) error

	// WaitForIterator blocks until at least one new entry is committed at or
	// after fromIndex, then returns an Iterator over every entry currently
	// committed in [fromIndex, committedIndex]. Returns an error (wrapping
	// ErrResigned) if the calling participant's role has ended.
	WaitForIterator(ctx context.Context, fromIndex LogIndex) (Iterator, error)

	// Release informs the log that entries up to and including upToIndex
	// are durably persisted in the state machine's own storage and may be
	// truncated from the log.
	Release(ctx context.Context, upToIndex LogIndex) error
}

// Iterator walks a half-open range of committed entries in strictly
// increasing index order.
type Iterator interface {
	// Next returns the next entry and true, or the zero value and false
	// once the range is exhausted.
	Next() (IndexedEntry, bool)

	// UpperExclusive is the index one past the last entry in this range —
	// the value nextWaitForIndex advances to after the range is fully
	// applied (spec §4.2 step 2a).
	UpperExclusive() LogIndex
}
