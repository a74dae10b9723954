package kvstate

import "errors"

// Error kinds surfaced by the core and the leader/follower wrappers around it.
//
// Propagation policy (see spec §7): PreconditionFailed and the role-mismatch
// errors are surfaced to the immediate caller as-is. StorageError from a
// flush is absorbed internally and retried on the next tick; StorageError
// from construction and InvalidEntry are fatal to the participant.
var (
	// ErrNotLeader is returned by LeaderState operations once the state has
	// been resigned, or by dispatch when no participant holds leadership.
	ErrNotLeader = errors.New("kvstate: not leader")

	// ErrNotFollower is returned by FollowerState operations once the state
	// has been resigned.
	ErrNotFollower = errors.New("kvstate: not follower")

	// ErrPreconditionFailed is returned when a CompareExchange's expected
	// old value does not match the committed store.
	ErrPreconditionFailed = errors.New("kvstate: precondition failed")

	// ErrResigned indicates a promise was abandoned because the guarded
	// StateCore was moved out from under it. Callers should treat this the
	// same as ErrNotLeader/ErrNotFollower.
	ErrResigned = errors.New("kvstate: resigned during operation")

	// ErrSnapshotUnavailable indicates a follower could not fetch a
	// bootstrap snapshot from the current leader. Transient; the log layer
	// may retry.
	ErrSnapshotUnavailable = errors.New("kvstate: snapshot unavailable")

	// ErrStorageError indicates a durable-storage operation failed. Non-fatal
	// when it comes from flush; fatal when it comes from construction.
	ErrStorageError = errors.New("kvstate: storage error")

	// ErrInvalidEntry indicates a log entry could not be decoded into a
	// known operation variant. Fatal: it means the log and the state
	// machine have diverged in version or are corrupt.
	ErrInvalidEntry = errors.New("kvstate: invalid log entry")

	// ErrNotFound is returned by point lookups with no present value only in
	// APIs that distinguish "found empty" from "absent" via error rather
	// than a boolean/ok return; the core's own Get returns (string, bool).
	ErrNotFound = errors.New("kvstate: key not found")
)
