package mirror

import (
	"path/filepath"
	"testing"
)

func TestParseDescriptorCanonical(t *testing.T) {
	d, err := ParseDescriptor("https://github.com/acme/widgets.git", "/repos")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d.Host != "github.com" || d.Org != "acme" || d.Name != "widgets" {
		t.Fatalf("unexpected identity: %s/%s/%s", d.Host, d.Org, d.Name)
	}
	if want := filepath.Join("/repos", "github.com", "acme", "widgets"); d.Dir != want {
		t.Fatalf("expected dir %s, got %s", want, d.Dir)
	}
	if !d.Branches.Has("main") || len(d.Branches) != 1 {
		t.Fatalf("expected default branch set {main}, got %v", d.Branches)
	}
}

func TestParseDescriptorWithoutGitSuffix(t *testing.T) {
	withSuffix, err := ParseDescriptor("https://h/o/r.git", "/repos")
	if err != nil {
		t.Fatalf("parse with suffix: %v", err)
	}
	withoutSuffix, err := ParseDescriptor("https://h/o/r", "/repos")
	if err != nil {
		t.Fatalf("parse without suffix: %v", err)
	}
	if withSuffix.Host != "h" || withSuffix.Org != "o" || withSuffix.Name != "r" {
		t.Fatalf("unexpected identity: %+v", withSuffix)
	}
	if withoutSuffix.Host != withSuffix.Host ||
		withoutSuffix.Org != withSuffix.Org ||
		withoutSuffix.Name != withSuffix.Name ||
		withoutSuffix.Dir != withSuffix.Dir {
		t.Fatalf("suffix and suffixless URLs must parse identically: %+v vs %+v", withSuffix, withoutSuffix)
	}
}

func TestParseDescriptorMalformed(t *testing.T) {
	cases := []string{
		"https://github.com/onlyorg",
		"https://github.com/",
		"https://github.com/a/b/c",
		"not a url at all ://",
		"/just/a/path",
	}
	for _, raw := range cases {
		if _, err := ParseDescriptor(raw, "/repos"); err == nil {
			t.Errorf("expected construction error for %q", raw)
		}
	}
}

func TestParseDescriptorExplicitDir(t *testing.T) {
	d, err := ParseDescriptor("https://github.com/acme/widgets", "",
		WithDir("/data/mirrors/github.com/acme/widgets"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d.Dir != "/data/mirrors/github.com/acme/widgets" {
		t.Fatalf("explicit dir not honored: %s", d.Dir)
	}
	// Parent inferred three levels up keeps the canonical layout convention.
	if d.ParentDir != "/data/mirrors" {
		t.Fatalf("expected inferred parent /data/mirrors, got %s", d.ParentDir)
	}
}

func TestParseDescriptorBranches(t *testing.T) {
	d, err := ParseDescriptor("https://h/o/r", "/repos", WithBranches("main", "develop"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !d.Branches.Has("main") || !d.Branches.Has("develop") || len(d.Branches) != 2 {
		t.Fatalf("unexpected branch set %v", d.Branches)
	}
}

func TestLockPathDerivation(t *testing.T) {
	d, err := ParseDescriptor("https://github.com/acme/widgets", "/repos")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := filepath.Join("/repos", "_MIRROR_LOCK_github.com-acme-widgets")
	if d.LockPath() != want {
		t.Fatalf("expected lock path %s, got %s", want, d.LockPath())
	}
}

func TestRefspecsDeterministic(t *testing.T) {
	d, err := ParseDescriptor("https://h/o/r", "/repos", WithBranches("zeta", "alpha"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	specs := d.refspecs(d.Branches)
	if len(specs) != 2 {
		t.Fatalf("expected 2 refspecs, got %d", len(specs))
	}
	if string(specs[0]) != "+refs/heads/alpha:refs/remotes/origin/alpha" {
		t.Fatalf("unexpected first refspec %s", specs[0])
	}
	if string(specs[1]) != "+refs/heads/zeta:refs/remotes/origin/zeta" {
		t.Fatalf("unexpected second refspec %s", specs[1])
	}
}

func TestParseDescriptorRejectsEmptyBranchSet(t *testing.T) {
	if _, err := ParseDescriptor("https://h/o/r", "/repos", WithBranches()); err == nil {
		t.Fatal("expected error for an empty branch set")
	}
}
