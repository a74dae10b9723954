package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kvreplica/protokv/internal/cluster"
	"github.com/kvreplica/protokv/internal/kvstate"
)

// fakeDirectory is a minimal cluster.Directory that also satisfies
// forgettableDirectory, so tests can observe ForgetLeader being called on a
// 503 without pulling in the full cluster.StaticDirectory.
type fakeDirectory struct {
	leaderID    string
	hasLeader   bool
	addr        cluster.Address
	forgotten   int
	forgotDB    string
	forgotLogID string
}

func (d *fakeDirectory) CurrentLeader(database, logID string) (cluster.ParticipantId, bool) {
	if !d.hasLeader {
		return "", false
	}
	return cluster.ParticipantId(d.leaderID), true
}

func (d *fakeDirectory) Resolve(id cluster.ParticipantId) (cluster.Address, bool) {
	if string(id) != d.leaderID {
		return cluster.Address{}, false
	}
	return d.addr, true
}

func (d *fakeDirectory) ThisParticipant() cluster.ParticipantId {
	return "node-1"
}

func (d *fakeDirectory) ForgetLeader(database, logID string) {
	d.forgotten++
	d.forgotDB, d.forgotLogID = database, logID
	d.hasLeader = false
}

func TestForwardingInsertSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("got method %s, want POST", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(indexResponse{Index: 7})
	}))
	defer srv.Close()

	dir := &fakeDirectory{leaderID: "node-2", hasLeader: true, addr: cluster.Address{ParticipantID: "node-2", BaseURL: srv.URL}}
	f := NewForwarding(dir, srv.Client(), nil)

	idx, err := f.Insert(context.Background(), "db", "demo", map[string]string{"a": "1"}, WriteOptions{})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if idx != 7 {
		t.Fatalf("got index %d, want 7", idx)
	}
}

func TestForwardingNoKnownLeaderFails(t *testing.T) {
	dir := &fakeDirectory{}
	f := NewForwarding(dir, http.DefaultClient, nil)

	_, err := f.Insert(context.Background(), "db", "demo", map[string]string{"a": "1"}, WriteOptions{})
	if err != cluster.ErrNoKnownLeader {
		t.Fatalf("got %v, want ErrNoKnownLeader", err)
	}
}

func TestForwarding503ForgetsLeaderAndReturnsErrNotLeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	dir := &fakeDirectory{leaderID: "node-2", hasLeader: true, addr: cluster.Address{ParticipantID: "node-2", BaseURL: srv.URL}}
	f := NewForwarding(dir, srv.Client(), nil)

	_, err := f.Insert(context.Background(), "db", "demo", map[string]string{"a": "1"}, WriteOptions{})
	if err != kvstate.ErrNotLeader {
		t.Fatalf("got %v, want ErrNotLeader", err)
	}
	if dir.forgotten != 1 || dir.forgotDB != "db" || dir.forgotLogID != "demo" {
		t.Fatalf("expected ForgetLeader(db, demo) to be called once, got forgotten=%d db=%q logID=%q", dir.forgotten, dir.forgotDB, dir.forgotLogID)
	}
}

func TestForwardingCompareExchange412MapsToPreconditionFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPreconditionFailed)
	}))
	defer srv.Close()

	dir := &fakeDirectory{leaderID: "node-2", hasLeader: true, addr: cluster.Address{ParticipantID: "node-2", BaseURL: srv.URL}}
	f := NewForwarding(dir, srv.Client(), nil)

	_, err := f.CompareExchange(context.Background(), "db", "demo", "a", "old", "new", WriteOptions{})
	if err != kvstate.ErrPreconditionFailed {
		t.Fatalf("got %v, want ErrPreconditionFailed", err)
	}
}

func TestForwardingGetMultiDecodesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(kvResultResponse{Result: map[string]string{"a": "1", "b": "2"}})
	}))
	defer srv.Close()

	dir := &fakeDirectory{leaderID: "node-2", hasLeader: true, addr: cluster.Address{ParticipantID: "node-2", BaseURL: srv.URL}}
	f := NewForwarding(dir, srv.Client(), nil)

	m, err := f.GetMulti(context.Background(), "db", "demo", []string{"a", "b"}, ReadOptions{})
	if err != nil {
		t.Fatalf("GetMulti: %v", err)
	}
	if m["a"] != "1" || m["b"] != "2" {
		t.Fatalf("unexpected result: %v", m)
	}
}

func TestForwarding404MapsToErrUnknownState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	dir := &fakeDirectory{leaderID: "node-2", hasLeader: true, addr: cluster.Address{ParticipantID: "node-2", BaseURL: srv.URL}}
	f := NewForwarding(dir, srv.Client(), nil)

	_, err := f.Insert(context.Background(), "db", "demo", map[string]string{"a": "1"}, WriteOptions{})
	if err != ErrUnknownState {
		t.Fatalf("got %v, want ErrUnknownState", err)
	}
}
