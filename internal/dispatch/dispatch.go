// Package dispatch implements StateMethods from spec §4.4: the thin outer
// contract HTTP handlers call, with two implementations selected by
// participant role — Local executes directly against a hosted
// LeaderState/FollowerState via the registry, Forwarding resolves the
// current leader through a cluster.Directory and issues an RPC.
package dispatch

import (
	"context"
	"fmt"

	"github.com/kvreplica/protokv/internal/kvstate"
)

// WriteOptions mirrors kvstate.WriteOptions at the dispatch boundary (spec
// §4.4's closed set).
type WriteOptions = kvstate.WriteOptions

// ReadOptions is spec §4.4's closed set of read knobs, at the dispatch
// boundary. ReadFrom, when non-empty, means "answer only if I am that
// participant; otherwise fail".
type ReadOptions struct {
	WaitForApplied kvstate.LogIndex
	AllowDirtyRead bool
	ReadFrom       string
}

// StateMethods is the outer contract callers (HTTP handlers, the load
// generator) use, regardless of whether this server hosts the target
// participant.
type StateMethods interface {
	Insert(ctx context.Context, database, logID string, m map[string]string, opts WriteOptions) (kvstate.LogIndex, error)
	Remove(ctx context.Context, database, logID string, keys []string, opts WriteOptions) (kvstate.LogIndex, error)
	CompareExchange(ctx context.Context, database, logID, key, oldValue, newValue string, opts WriteOptions) (kvstate.LogIndex, error)
	Get(ctx context.Context, database, logID, key string, opts ReadOptions) (string, bool, error)
	GetMulti(ctx context.Context, database, logID string, keys []string, opts ReadOptions) (map[string]string, error)
	GetSnapshot(ctx context.Context, database, logID string, opts ReadOptions) (map[string]string, error)
	WaitForApplied(ctx context.Context, database, logID string, index kvstate.LogIndex) error
	Status(ctx context.Context, database, logID string) (kvstate.LogIndex, string, error)
}

// ErrUnknownState is returned when (database, logId) names no entry hosted
// or known to the cluster.
var ErrUnknownState = fmt.Errorf("dispatch: unknown state")
