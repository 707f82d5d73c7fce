package host

import (
	"bytes"
	"errors"
	"testing"

	"github.com/certen/kernel/pkg/vfs"
)

func TestDeterministicRandIsDeterministic(t *testing.T) {
	prevHash := []byte("app-hash-1")
	txHash := []byte("tx-hash-1")

	r1, err := NewDeterministicRand(prevHash, 10, txHash, 0)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := NewDeterministicRand(prevHash, 10, txHash, 0)
	if err != nil {
		t.Fatal(err)
	}

	b1 := make([]byte, 64)
	b2 := make([]byte, 64)
	r1.Read(b1)
	r2.Read(b2)

	if !bytes.Equal(b1, b2) {
		t.Errorf("same seed inputs must produce the same stream")
	}
}

func TestDeterministicRandDivergesOnCounter(t *testing.T) {
	prevHash := []byte("app-hash-1")
	txHash := []byte("tx-hash-1")

	r1, _ := NewDeterministicRand(prevHash, 10, txHash, 0)
	r2, _ := NewDeterministicRand(prevHash, 10, txHash, 1)

	b1 := make([]byte, 32)
	b2 := make([]byte, 32)
	r1.Read(b1)
	r2.Read(b2)

	if bytes.Equal(b1, b2) {
		t.Errorf("different counters must diverge the stream")
	}
}

func TestClassifyMessageFallbacks(t *testing.T) {
	cases := []struct {
		msg  string
		want Kind
	}{
		{"vfs: permission denied", PermissionDenied},
		{"all fuel consumed by WebAssembly", OutOfGas},
		{"resource limit exceeded: memory", OutOfMemory},
		{"epoch deadline reached while executing", Timeout},
		{"wasm trap: unreachable", Unreachable},
		{"wasm trap: call stack exhausted: stack overflow", StackOverflow},
		{"something else entirely", Unknown},
	}
	for _, c := range cases {
		if got := classifyMessage(c.msg); got != c.want {
			t.Errorf("classifyMessage(%q) = %v, want %v", c.msg, got, c.want)
		}
	}
}

func TestClassifyNilIsNone(t *testing.T) {
	if classify(nil) != None {
		t.Errorf("classify(nil) should be None")
	}
}

func TestVFSErrCodeMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int32
	}{
		{nil, ecodeOK},
		{vfs.ErrPermissionDenied, ecodePermissionDenied},
		{vfs.ErrNotFound, ecodeNotFound},
		{vfs.ErrBadFD, ecodeBadFD},
		{vfs.ErrBadMode, ecodeBadMode},
		{vfs.ErrUnsupported, ecodeUnsupported},
		{errors.New("boom"), ecodeInternal},
	}
	for _, c := range cases {
		if got := vfsErrCode(c.err); got != c.want {
			t.Errorf("vfsErrCode(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestPackUnpackPtrLenRoundTrip(t *testing.T) {
	packed := (int64(uint32(1234)) << 32) | int64(uint32(56))
	ptr, length := unpackPtrLen(packed)
	if ptr != 1234 || length != 56 {
		t.Errorf("got ptr=%d len=%d, want 1234,56", ptr, length)
	}
}

