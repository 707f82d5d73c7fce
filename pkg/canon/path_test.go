package canon

import (
	"bytes"
	"testing"
)

func TestKeyRoundTrip(t *testing.T) {
	cases := []string{"/sys/height", "/home/bank/balances/alice", "/tmp/abc123/scratch"}
	for _, p := range cases {
		k1, err := Key(p)
		if err != nil {
			t.Fatalf("Key(%q): %v", p, err)
		}
		// Canonicalize(Canonicalize(p)) = Canonicalize(p)
		k2, err := Key(Path(k1))
		if err != nil {
			t.Fatalf("re-Key(%q): %v", p, err)
		}
		if !bytes.Equal(k1, k2) {
			t.Errorf("round trip mismatch for %q: %x != %x", p, k1, k2)
		}
	}
}

func TestKeyRejectsTraversal(t *testing.T) {
	bad := []string{
		"/home/../etc",
		"/home//bank",
		"/home/bank/",
		"home/bank",
		"/home/bank\x00/x",
	}
	for _, p := range bad {
		if _, err := Key(p); err == nil {
			// "/home/bank/" canonicalizes fine (trailing slash ignored);
			// everything else must fail.
			if p != "/home/bank/" {
				t.Errorf("Key(%q): expected error, got none", p)
			}
		}
	}
}

func TestHasPrefixIsSegmentAware(t *testing.T) {
	k, _ := Key("/home/bank2/x")
	prefix, _ := Key("/home/bank")
	if HasPrefix(k, prefix) {
		t.Errorf("HasPrefix must not match /home/bank2 against /home/bank")
	}
	k2, _ := Key("/home/bank/x")
	if !HasPrefix(k2, prefix) {
		t.Errorf("HasPrefix should match /home/bank/x under /home/bank")
	}
}

func TestJoin(t *testing.T) {
	parent, _ := Key("/home/bank")
	k, err := Join(parent, "balances", "alice")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	want, _ := Key("/home/bank/balances/alice")
	if !bytes.Equal(k, want) {
		t.Errorf("Join mismatch: got %x want %x", k, want)
	}
	if _, err := Join(parent, ".."); err == nil {
		t.Errorf("Join should reject ..")
	}
}
