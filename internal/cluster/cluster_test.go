package cluster

import "testing"

func TestStaticDirectoryResolveAndThisParticipant(t *testing.T) {
	dir := NewStaticDirectory("node-1", []Address{
		{ParticipantID: "node-1", BaseURL: "http://10.0.0.1:8080"},
		{ParticipantID: "node-2", BaseURL: "http://10.0.0.2:8080"},
	})

	if dir.ThisParticipant() != "node-1" {
		t.Fatalf("got %q, want node-1", dir.ThisParticipant())
	}

	addr, ok := dir.Resolve("node-2")
	if !ok || addr.BaseURL != "http://10.0.0.2:8080" {
		t.Fatalf("got (%+v, %v)", addr, ok)
	}

	if _, ok := dir.Resolve("node-3"); ok {
		t.Fatal("expected ok=false for an unregistered participant")
	}
}

func TestStaticDirectoryAnnounceAndForgetLeader(t *testing.T) {
	dir := NewStaticDirectory("node-1", nil)

	if _, ok := dir.CurrentLeader("db", "demo"); ok {
		t.Fatal("expected no known leader before any announcement")
	}

	dir.AnnounceLeader("db", "demo", "node-2")
	leader, ok := dir.CurrentLeader("db", "demo")
	if !ok || leader != "node-2" {
		t.Fatalf("got (%q, %v), want (node-2, true)", leader, ok)
	}

	dir.ForgetLeader("db", "demo")
	if _, ok := dir.CurrentLeader("db", "demo"); ok {
		t.Fatal("expected leader forgotten")
	}
}

func TestStaticDirectoryLeadersAreScopedPerDatabaseAndLogID(t *testing.T) {
	dir := NewStaticDirectory("node-1", nil)
	dir.AnnounceLeader("db1", "demo", "node-1")
	dir.AnnounceLeader("db2", "demo", "node-2")

	l1, _ := dir.CurrentLeader("db1", "demo")
	l2, _ := dir.CurrentLeader("db2", "demo")
	if l1 != "node-1" || l2 != "node-2" {
		t.Fatalf("got (%q, %q), want (node-1, node-2)", l1, l2)
	}
}

func TestRoleString(t *testing.T) {
	if RoleLeader.String() != "leader" {
		t.Fatalf("got %q, want leader", RoleLeader.String())
	}
	if RoleFollower.String() != "follower" {
		t.Fatalf("got %q, want follower", RoleFollower.String())
	}
}
