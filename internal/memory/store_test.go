package memory

import "testing"

func TestResolveUserIDScopesByOwnerAndSender(t *testing.T) {
	s := &Store{}
	s.SetOwnerID("owner-a")
	scopedA := s.resolveUserID("sender-x")

	s.SetOwnerID("owner-b")
	scopedB := s.resolveUserID("sender-x")

	if scopedA != scopedB {
		t.Fatalf("expected the scope to depend only on the sender id, got %q and %q", scopedA, scopedB)
	}
	if scopedA == DefaultScope || scopedB == DefaultScope {
		t.Fatalf("expected non-default scopes once an owner id is set, got %q and %q", scopedA, scopedB)
	}
}

func TestResolveUserIDEmptySenderIsDefault(t *testing.T) {
	s := &Store{}
	s.SetOwnerID("owner-a")
	if got := s.resolveUserID(""); got != DefaultScope {
		t.Fatalf("expected DefaultScope for an empty sender id, got %q", got)
	}
}
