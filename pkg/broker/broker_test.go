package broker

import (
	"testing"

	"github.com/certen/kernel/pkg/state"
	"github.com/certen/kernel/pkg/store"
	"github.com/certen/kernel/pkg/vfs"
)

func newTestEnv(t *testing.T) (*vfs.FS, *state.Snapshot) {
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
	return vfs.New(e), tx
}

func TestAnteHandlerAuthorityScope(t *testing.T) {
	fs, tx := newTestEnv(t)
	b := NewBroker()
	b.SetAnteManifest([]string{"bank"})

	auth, err := b.BuildAnteHandler(fs, tx, "tx1")
	if err != nil {
		t.Fatal(err)
	}
	defer auth.Release()

	if _, ok := auth.FD("sys"); !ok {
		t.Errorf("expected sys fd")
	}
	if _, ok := auth.FD("home:bank"); !ok {
		t.Errorf("expected home:bank fd from manifest")
	}
	if _, ok := auth.FD("home:other"); ok {
		t.Errorf("ante-handler must not get fds for modules outside its manifest")
	}
}

func TestTxDecoderHasNoHomeAccess(t *testing.T) {
	fs, tx := newTestEnv(t)
	b := NewBroker()
	auth, err := b.BuildTxDecoder(fs, tx, "tx1")
	if err != nil {
		t.Fatal(err)
	}
	defer auth.Release()
	if len(auth.FDs) != 2 {
		t.Errorf("tx-decoder should only get sys+tmp, got %v", auth.FDs)
	}
}

func TestReleaseClosesFDs(t *testing.T) {
	fs, tx := newTestEnv(t)
	b := NewBroker()
	auth, err := b.BuildAppModule(fs, tx, "bank", "tx1")
	if err != nil {
		t.Fatal(err)
	}
	h, _ := auth.FD("home")
	auth.Release()
	if _, err := fs.Write(h, []byte("x")); err != vfs.ErrBadFD {
		t.Errorf("expected ErrBadFD after release closed the fd, got %v", err)
	}
}

func TestHandleArenaInvalidateOnTxEnd(t *testing.T) {
	_, tx := newTestEnv(t)
	cap, err := vfs.NewCapability("h1", "/tmp/tx1", vfs.ReadWrite, tx)
	if err != nil {
		t.Fatal(err)
	}
	arena := NewHandleArena()
	id := arena.Mint(cap)
	if _, ok := arena.Resolve(id); !ok {
		t.Fatalf("expected handle to resolve before invalidation")
	}
	arena.Invalidate()
	if !cap.Revoked() {
		t.Errorf("expected capability to be revoked after arena invalidation")
	}
}
