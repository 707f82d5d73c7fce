package host

import "testing"

// TestCacheCompilesOnceAndInvalidates and TestCacheDistinguishesContentHashAtSamePath
// together cover spec invariant 7 (dynamic upgrade coherence): a cache
// keyed by (path, content hash) reuses the compiled module for unchanged
// content until the path is invalidated, and never conflates two
// different images installed at the same path.
func TestCacheCompilesOnceAndInvalidates(t *testing.T) {
	c, err := NewCache[string](16)
	if err != nil {
		t.Fatal(err)
	}
	calls := 0
	compile := func(b []byte) (string, error) {
		calls++
		return string(b), nil
	}

	v1, err := c.GetOrCompile("/sbin/ante-handler", []byte("v1"), compile)
	if err != nil || v1 != "v1" {
		t.Fatalf("unexpected: %v %v", v1, err)
	}
	v2, err := c.GetOrCompile("/sbin/ante-handler", []byte("v1"), compile)
	if err != nil || v2 != "v1" || calls != 1 {
		t.Fatalf("expected cache hit, got calls=%d", calls)
	}

	c.InvalidatePath("/sbin/ante-handler")
	v3, err := c.GetOrCompile("/sbin/ante-handler", []byte("v1"), compile)
	if err != nil || v3 != "v1" || calls != 2 {
		t.Fatalf("expected recompile after invalidation, got calls=%d", calls)
	}
}

func TestCacheDistinguishesContentHashAtSamePath(t *testing.T) {
	c, err := NewCache[string](16)
	if err != nil {
		t.Fatal(err)
	}
	compile := func(b []byte) (string, error) { return string(b), nil }

	v1, _ := c.GetOrCompile("/bin/bank", []byte("old"), compile)
	v2, _ := c.GetOrCompile("/bin/bank", []byte("new"), compile)
	if v1 == v2 {
		t.Errorf("different content at the same path must not share a cache entry")
	}
}
