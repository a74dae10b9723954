package dispatch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kvreplica/protokv/internal/kvstate"
	"github.com/kvreplica/protokv/internal/registry"
)

// Local is the StateMethods implementation for a server that hosts the
// targeted participant directly, dispatching to the registry entry's
// LeaderState or FollowerState by role (spec §4.4).
type Local struct {
	reg *registry.Registry
	log *zap.Logger
	// thisParticipant, when non-empty, lets ReadOptions.ReadFrom be checked
	// against "am I that participant".
	thisParticipant string
}

// NewLocal returns a Local dispatcher over reg.
func NewLocal(reg *registry.Registry, thisParticipant string, log *zap.Logger) *Local {
	if log == nil {
		log = zap.NewNop()
	}
	return &Local{reg: reg, thisParticipant: thisParticipant, log: log.Named("dispatch.local")}
}

func (l *Local) entry(database, logID string) (*registry.Entry, error) {
	e, ok := l.reg.Lookup(database, logID)
	if !ok {
		return nil, ErrUnknownState
	}
	return e, nil
}

// Insert implements StateMethods.
func (l *Local) Insert(ctx context.Context, database, logID string, m map[string]string, opts WriteOptions) (kvstate.LogIndex, error) {
	e, err := l.entry(database, logID)
	if err != nil {
		return 0, err
	}
	if e.Leader == nil {
		return 0, kvstate.ErrNotLeader
	}
	return e.Leader.Set(ctx, m, opts)
}

// Remove implements StateMethods.
func (l *Local) Remove(ctx context.Context, database, logID string, keys []string, opts WriteOptions) (kvstate.LogIndex, error) {
	e, err := l.entry(database, logID)
	if err != nil {
		return 0, err
	}
	if e.Leader == nil {
		return 0, kvstate.ErrNotLeader
	}
	return e.Leader.Remove(ctx, keys, opts)
}

// CompareExchange implements StateMethods.
func (l *Local) CompareExchange(ctx context.Context, database, logID, key, oldValue, newValue string, opts WriteOptions) (kvstate.LogIndex, error) {
	e, err := l.entry(database, logID)
	if err != nil {
		return 0, err
	}
	if e.Leader == nil {
		return 0, kvstate.ErrNotLeader
	}
	return e.Leader.CompareExchange(ctx, key, oldValue, newValue, opts)
}

// Get implements StateMethods, honoring readFrom and allowDirtyRead (spec
// §4.4: "readOptions.readFrom = someParticipantId on a local server means
// 'if I am that participant, answer; otherwise fail'").
func (l *Local) Get(ctx context.Context, database, logID, key string, opts ReadOptions) (string, bool, error) {
	e, err := l.entry(database, logID)
	if err != nil {
		return "", false, err
	}
	if err := l.checkReadFrom(opts); err != nil {
		return "", false, err
	}
	switch {
	case e.Leader != nil:
		return e.Leader.Get(ctx, key, opts.WaitForApplied)
	case e.Follower != nil:
		// A follower blocks on its own apply watermark reaching
		// opts.WaitForApplied before reading (spec §4.3's get(key,
		// waitForApplied)), same shape as the leader path. allowDirtyRead is
		// a caller-side opt-in to skip that wait entirely by passing
		// waitForApplied=0, not a signal this path interprets itself.
		return e.Follower.Get(ctx, key, opts.WaitForApplied)
	default:
		return "", false, kvstate.ErrNotLeader
	}
}

func (l *Local) checkReadFrom(opts ReadOptions) error {
	if opts.ReadFrom == "" {
		return nil
	}
	if opts.ReadFrom != l.thisParticipant {
		return fmt.Errorf("%w: readFrom=%s does not match this participant", kvstate.ErrNotLeader, opts.ReadFrom)
	}
	return nil
}

// GetMulti implements StateMethods.
func (l *Local) GetMulti(ctx context.Context, database, logID string, keys []string, opts ReadOptions) (map[string]string, error) {
	e, err := l.entry(database, logID)
	if err != nil {
		return nil, err
	}
	if err := l.checkReadFrom(opts); err != nil {
		return nil, err
	}
	switch {
	case e.Leader != nil:
		return e.Leader.GetMulti(ctx, keys, opts.WaitForApplied)
	case e.Follower != nil:
		return e.Follower.GetMulti(ctx, keys, opts.WaitForApplied)
	default:
		return nil, kvstate.ErrNotLeader
	}
}

// GetSnapshot implements StateMethods.
func (l *Local) GetSnapshot(ctx context.Context, database, logID string, opts ReadOptions) (map[string]string, error) {
	e, err := l.entry(database, logID)
	if err != nil {
		return nil, err
	}
	switch {
	case e.Leader != nil:
		return e.Leader.GetSnapshot(ctx, opts.WaitForApplied)
	case e.Follower != nil:
		m, _, err := e.Follower.FetchSnapshot(ctx)
		return m, err
	default:
		return nil, kvstate.ErrNotLeader
	}
}

// WaitForApplied implements StateMethods.
func (l *Local) WaitForApplied(ctx context.Context, database, logID string, index kvstate.LogIndex) error {
	e, err := l.entry(database, logID)
	if err != nil {
		return err
	}
	if e.Leader == nil {
		return kvstate.ErrNotLeader
	}
	return e.Leader.WaitForApplied(ctx, index)
}

// Status implements StateMethods, reporting the hosted role alongside its
// applied index.
func (l *Local) Status(ctx context.Context, database, logID string) (kvstate.LogIndex, string, error) {
	e, err := l.entry(database, logID)
	if err != nil {
		return 0, "", err
	}
	switch {
	case e.Leader != nil:
		idx, err := e.Leader.Status()
		return idx, "leader", err
	case e.Follower != nil:
		idx, err := e.Follower.Status()
		return idx, "follower", err
	default:
		return 0, "", kvstate.ErrNotLeader
	}
}
