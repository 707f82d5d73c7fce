package vfs

import (
	"bytes"
	"testing"

	"github.com/certen/kernel/pkg/state"
	"github.com/certen/kernel/pkg/store"
)

func newTestFS(t *testing.T) (*FS, *state.Engine, *state.Snapshot) {
	t.Helper()
	s, err := store.NewJMTStore(store.NewMemKV())
	if err != nil {
		t.Fatal(err)
	}
	e := state.NewEngine(s)
	if _, err := e.BeginBlock(1); err != nil {
		t.Fatal(err)
	}
	tx, err := e.BeginTx()
	if err != nil {
		t.Fatal(err)
	}
	return New(e), e, tx
}

func TestOpenWriteReadRoundTrip(t *testing.T) {
	fs, _, tx := newTestFS(t)
	cap, err := NewCapability("c1", "/home/m", ReadWrite, tx)
	if err != nil {
		t.Fatal(err)
	}
	h, err := fs.Open("/home/m/a", ReadWrite, cap)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fs.Write(h, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	if err := fs.Close(h); err != nil {
		t.Fatal(err)
	}

	h2, err := fs.Open("/home/m/a", Read, cap)
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 16)
	n, err := fs.Read(h2, buf)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf[:n], []byte("hello")) {
		t.Errorf("got %q want %q", buf[:n], "hello")
	}
}

func TestPartialWritePreservesPrefixAndSuffix(t *testing.T) {
	fs, _, tx := newTestFS(t)
	cap, _ := NewCapability("c1", "/home/m", ReadWrite, tx)
	h, _ := fs.Open("/home/m/a", ReadWrite, cap)
	fs.Write(h, []byte("0123456789"))
	fs.Seek(h, 3, SeekStart)
	fs.Write(h, []byte("XY"))
	fs.Close(h)

	h2, _ := fs.Open("/home/m/a", Read, cap)
	buf := make([]byte, 32)
	n, _ := fs.Read(h2, buf)
	if got := string(buf[:n]); got != "012XY56789" {
		t.Errorf("got %q want %q", got, "012XY56789")
	}
}

func TestPathTraversalDenied(t *testing.T) {
	fs, _, tx := newTestFS(t)
	cap, _ := NewCapability("c1", "/home/m", Read, tx)
	if _, err := fs.Open("/home/m/../n/secret", Read, cap); err != ErrPermissionDenied {
		t.Errorf("expected ErrPermissionDenied, got %v", err)
	}
	if _, err := fs.Open("/home/other/x", Read, cap); err != ErrPermissionDenied {
		t.Errorf("expected ErrPermissionDenied escaping capability subtree, got %v", err)
	}
}

func TestRevokedCapabilityDeniesFurtherOps(t *testing.T) {
	fs, _, tx := newTestFS(t)
	cap, _ := NewCapability("c1", "/home/m", ReadWrite, tx)
	h, err := fs.Open("/home/m/a", ReadWrite, cap)
	if err != nil {
		t.Fatal(err)
	}
	cap.Revoke()
	if _, err := fs.Write(h, []byte("x")); err != ErrPermissionDenied {
		t.Errorf("expected ErrPermissionDenied after revocation, got %v", err)
	}
}

func TestListReservedDirectory(t *testing.T) {
	fs, _, tx := newTestFS(t)
	cap, _ := NewCapability("c1", "/", ReadWrite, tx)
	h, _ := fs.Open("/sbin/ante-handler", Write, cap)
	fs.Write(h, []byte("code"))
	fs.Close(h)

	names, err := fs.List("/sbin", cap)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "ante-handler" {
		t.Errorf("got %v", names)
	}

	if _, err := fs.List("/home/m", cap); err != ErrUnsupported {
		t.Errorf("expected ErrUnsupported for a non-reserved directory, got %v", err)
	}
}
