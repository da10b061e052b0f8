package sets

import "testing"

func TestIntersect(t *testing.T) {
	requested := New("main", "develop", "feature/x")
	remote := New("main", "develop", "release")

	got := requested.Intersect(remote)
	if len(got) != 2 || !got.Has("main") || !got.Has("develop") {
		t.Fatalf("expected {main, develop}, got %v", got)
	}
	if got.Has("feature/x") || got.Has("release") {
		t.Fatalf("intersection leaked non-common elements: %v", got)
	}
}

func TestSortedDeterministic(t *testing.T) {
	s := New("zeta", "alpha", "mid")
	got := Sorted(s)
	want := []string{"alpha", "mid", "zeta"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestCloneIsIndependent(t *testing.T) {
	s := New("a")
	c := s.Clone()
	c.Add("b")
	if s.Has("b") {
		t.Fatal("clone mutation leaked into original")
	}
}
