package vfs

import "testing"

// Path-safety unit tests for canon.Key's normalization live in
// pkg/canon/path_test.go. These exercise the same invariant — a
// capability's subtree can never be escaped by a crafted path — at the
// Open boundary, where the canonicalized path and the capability's
// allowed prefix are actually compared (TestPathTraversalDenied in
// vfs_test.go covers the baseline `..`/sibling-escape cases).

func TestOpenDeniesDoubleSlashPath(t *testing.T) {
	fs, _, tx := newTestFS(t)
	cap, _ := NewCapability("c1", "/home/m", Read, tx)
	// "/home//other/x" contains an empty segment, which canonicalization
	// rejects, so Open denies it before any capability comparison.
	if _, err := fs.Open("/home//other/x", Read, cap); err != ErrPermissionDenied {
		t.Errorf("expected ErrPermissionDenied for a path escaping the capability subtree, got %v", err)
	}
}

func TestOpenDeniesTrailingTraversalToParent(t *testing.T) {
	fs, _, tx := newTestFS(t)
	cap, _ := NewCapability("c1", "/home/m", Read, tx)
	if _, err := fs.Open("/home/m/..", Read, cap); err != ErrPermissionDenied {
		t.Errorf("expected ErrPermissionDenied for a path resolving above the capability root, got %v", err)
	}
}

func TestOpenAllowsExactCapabilityRoot(t *testing.T) {
	fs, _, tx := newTestFS(t)
	cap, _ := NewCapability("c1", "/home/m", ReadWrite, tx)
	h, err := fs.Open("/home/m", ReadWrite, cap)
	if err != nil {
		t.Fatalf("expected the capability's own root to be openable, got %v", err)
	}
	if err := fs.Close(h); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestOpenDeniesModeEscalation(t *testing.T) {
	fs, _, tx := newTestFS(t)
	cap, _ := NewCapability("c1", "/home/m", Read, tx)
	if _, err := fs.Open("/home/m/x", ReadWrite, cap); err != ErrPermissionDenied {
		t.Errorf("expected ErrPermissionDenied requesting write through a read-only capability, got %v", err)
	}
}
