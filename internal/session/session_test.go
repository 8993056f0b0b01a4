package session

import "testing"

func TestLifecycle(t *testing.T) {
	tbl := NewTable()
	tbl.Create("s1", "alice", "bob", &FileHint{Name: "r.bin", Size: 131072})

	s, ok := tbl.Get("s1")
	if !ok || s.State != StatePending {
		t.Fatalf("expected pending session, got %+v ok=%v", s, ok)
	}

	if _, err := tbl.Accept("s1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	s, _ = tbl.Get("s1")
	if s.State != StateAccepted {
		t.Fatalf("expected accepted, got %s", s.State)
	}

	if _, err := tbl.Ready("s1"); err != nil {
		t.Fatalf("ready: %v", err)
	}
	s, _ = tbl.Get("s1")
	if s.State != StateConnected {
		t.Fatalf("expected connected, got %s", s.State)
	}
}

func TestIllegalTransition(t *testing.T) {
	tbl := NewTable()
	tbl.Create("s1", "alice", "bob", nil)

	// Ready is illegal from pending; must go through accepted first.
	if _, err := tbl.Ready("s1"); err != ErrIllegalTransition {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
}

func TestUnknownSession(t *testing.T) {
	tbl := NewTable()
	if _, err := tbl.Accept("missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPurgePeer(t *testing.T) {
	tbl := NewTable()
	tbl.Create("s1", "alice", "bob", nil)
	tbl.Create("s2", "carol", "dave", nil)
	tbl.Create("s3", "bob", "carol", nil)

	purged := tbl.PurgePeer("bob")
	if len(purged) != 2 {
		t.Fatalf("expected 2 purged sessions, got %d", len(purged))
	}
	if _, ok := tbl.Get("s1"); ok {
		t.Fatalf("s1 should have been purged")
	}
	if _, ok := tbl.Get("s3"); ok {
		t.Fatalf("s3 should have been purged")
	}
	if _, ok := tbl.Get("s2"); !ok {
		t.Fatalf("s2 should survive (does not involve bob)")
	}
}

func TestDeleteUnknown(t *testing.T) {
	tbl := NewTable()
	if _, ok := tbl.Delete("nope"); ok {
		t.Fatalf("expected delete of unknown session to report ok=false")
	}
}
