// Copyright 2025 Certen Protocol
//
// The fixed host import surface a component image links against (spec
// §4.D). Every import is metered against the invocation's fuel budget
// in addition to the wasm instructions it takes to call it, since the
// cost is dominated by host-side work, not guest cycles (pkg/gas).

package host

import (
	"fmt"
	"sync"
	"time"

	"github.com/bytecodealliance/wasmtime-go/v25"

	"github.com/certen/kernel/pkg/canon"
	"github.com/certen/kernel/pkg/gas"
	"github.com/certen/kernel/pkg/vfs"
)

// LogEntry is one buffered guest log line, surfaced to the Kernel
// Dispatch's structured logger after the invocation completes.
type LogEntry struct {
	Level   int32
	Message string
}

// Event is one buffered guest-emitted event, surfaced into the block's
// ABCI event stream after the invocation completes (emission is
// buffered, not streamed live, so a trapped invocation's events are
// simply discarded along with its other effects).
type Event struct {
	Type  string
	Attrs string
}

// runtimeCtx is the host-side state one guest invocation's imports
// close over. Never shared across invocations — a fresh one (and a
// fresh linker) is built per Invoke call, so invocations running
// concurrently on separate stores never race over it.
type runtimeCtx struct {
	fs   *vfs.FS
	caps []*vfs.Capability
	rng  *DeterministicRand

	height  uint64
	blockTS time.Time

	fuelBudget uint64

	mu    sync.Mutex
	logs  []LogEntry
	evts  []Event
	store *wasmtime.Store
}

func (rc *runtimeCtx) charge(name string) error {
	if _, err := rc.store.ConsumeFuel(gas.ChargeHostCall(name)); err != nil {
		return err
	}
	return nil
}

// matchingCapability returns the first granted capability whose subtree
// authorizes mode access to key, or nil. Guests never hold capability
// tokens directly; the host resolves open() against whatever authority
// the broker already granted this invocation (spec §4.E).
func (rc *runtimeCtx) matchingCapability(key []byte, mode vfs.Mode) *vfs.Capability {
	for _, c := range rc.caps {
		if c.Authorizes(key, mode) {
			return c
		}
	}
	return nil
}

func guestMemory(caller *wasmtime.Caller) ([]byte, error) {
	ext := caller.GetExport("memory")
	if ext == nil {
		return nil, fmt.Errorf("host: component does not export linear memory")
	}
	mem := ext.Memory()
	if mem == nil {
		return nil, fmt.Errorf("host: \"memory\" export is not a memory")
	}
	return mem.UnsafeData(caller), nil
}

func readGuest(caller *wasmtime.Caller, ptr, length int32) ([]byte, error) {
	data, err := guestMemory(caller)
	if err != nil {
		return nil, err
	}
	if ptr < 0 || length < 0 || int64(ptr)+int64(length) > int64(len(data)) {
		return nil, fmt.Errorf("host: guest pointer (%d,%d) out of bounds", ptr, length)
	}
	out := make([]byte, length)
	copy(out, data[ptr:int(ptr)+int(length)])
	return out, nil
}

func writeGuest(caller *wasmtime.Caller, ptr int32, src []byte) (int32, error) {
	data, err := guestMemory(caller)
	if err != nil {
		return 0, err
	}
	if ptr < 0 || int64(ptr) > int64(len(data)) {
		return 0, fmt.Errorf("host: guest pointer %d out of bounds", ptr)
	}
	n := copy(data[ptr:], src)
	return int32(n), nil
}

// defineImports registers every allowlisted host function on linker,
// bound to rc. Called fresh for every invocation (see Host.Invoke).
func defineImports(linker *wasmtime.Linker, store *wasmtime.Store, rc *runtimeCtx) error {
	def := func(name string, fn interface{}) error {
		return linker.DefineFunc(store, importModule, name, fn)
	}

	if err := def("open", func(caller *wasmtime.Caller, pathPtr, pathLen, mode int32) (int32, error) {
		if err := rc.charge("open"); err != nil {
			return 0, err
		}
		pathBytes, err := readGuest(caller, pathPtr, pathLen)
		if err != nil {
			return 0, err
		}
		if mode < 0 || mode > int32(vfs.ReadWrite) {
			return ecodeInvalidArgument, nil
		}
		m := vfs.Mode(mode)
		key, kerr := keyOf(string(pathBytes))
		if kerr != nil {
			return ecodePermissionDenied, nil
		}
		cap := rc.matchingCapability(key, m)
		if cap == nil {
			return ecodePermissionDenied, nil
		}
		h, oerr := rc.fs.Open(string(pathBytes), m, cap)
		if oerr != nil {
			return vfsErrCode(oerr), nil
		}
		return int32(h), nil
	}); err != nil {
		return err
	}

	if err := def("read", func(caller *wasmtime.Caller, fd, ptr, length int32) (int32, error) {
		if err := rc.charge("read"); err != nil {
			return 0, err
		}
		buf := make([]byte, length)
		n, err := rc.fs.Read(int(fd), buf)
		if err != nil {
			return vfsErrCode(err), nil
		}
		if _, werr := writeGuest(caller, ptr, buf[:n]); werr != nil {
			return 0, werr
		}
		return int32(n), nil
	}); err != nil {
		return err
	}

	if err := def("write", func(caller *wasmtime.Caller, fd, ptr, length int32) (int32, error) {
		if err := rc.charge("write"); err != nil {
			return 0, err
		}
		buf, err := readGuest(caller, ptr, length)
		if err != nil {
			return 0, err
		}
		n, werr := rc.fs.Write(int(fd), buf)
		if werr != nil {
			return vfsErrCode(werr), nil
		}
		return int32(n), nil
	}); err != nil {
		return err
	}

	if err := def("seek", func(caller *wasmtime.Caller, fd, offset, whence int32) (int32, error) {
		if err := rc.charge("seek"); err != nil {
			return 0, err
		}
		pos, err := rc.fs.Seek(int(fd), int(offset), vfs.Whence(whence))
		if err != nil {
			return vfsErrCode(err), nil
		}
		return int32(pos), nil
	}); err != nil {
		return err
	}

	if err := def("tell", func(caller *wasmtime.Caller, fd int32) (int32, error) {
		if err := rc.charge("tell"); err != nil {
			return 0, err
		}
		pos, err := rc.fs.Tell(int(fd))
		if err != nil {
			return vfsErrCode(err), nil
		}
		return int32(pos), nil
	}); err != nil {
		return err
	}

	if err := def("truncate", func(caller *wasmtime.Caller, fd, n int32) (int32, error) {
		if err := rc.charge("truncate"); err != nil {
			return 0, err
		}
		if err := rc.fs.Truncate(int(fd), int(n)); err != nil {
			return vfsErrCode(err), nil
		}
		return ecodeOK, nil
	}); err != nil {
		return err
	}

	if err := def("close", func(caller *wasmtime.Caller, fd int32) (int32, error) {
		if err := rc.charge("close"); err != nil {
			return 0, err
		}
		if err := rc.fs.Close(int(fd)); err != nil {
			return vfsErrCode(err), nil
		}
		return ecodeOK, nil
	}); err != nil {
		return err
	}

	if err := def("stat", func(caller *wasmtime.Caller, pathPtr, pathLen, outPtr int32) (int32, error) {
		if err := rc.charge("stat"); err != nil {
			return 0, err
		}
		pathBytes, err := readGuest(caller, pathPtr, pathLen)
		if err != nil {
			return 0, err
		}
		key, kerr := keyOf(string(pathBytes))
		if kerr != nil {
			return ecodePermissionDenied, nil
		}
		cap := rc.matchingCapability(key, vfs.Read)
		if cap == nil {
			return ecodePermissionDenied, nil
		}
		size, kind, serr := rc.fs.Stat(string(pathBytes), cap)
		if serr != nil {
			return vfsErrCode(serr), nil
		}
		out := make([]byte, 8)
		putU32(out[0:4], uint32(size))
		putU32(out[4:8], uint32(kind))
		if _, werr := writeGuest(caller, outPtr, out); werr != nil {
			return 0, werr
		}
		return ecodeOK, nil
	}); err != nil {
		return err
	}

	if err := def("list", func(caller *wasmtime.Caller, pathPtr, pathLen, outPtr, outCap int32) (int32, error) {
		if err := rc.charge("list"); err != nil {
			return 0, err
		}
		pathBytes, err := readGuest(caller, pathPtr, pathLen)
		if err != nil {
			return 0, err
		}
		key, kerr := keyOf(string(pathBytes))
		if kerr != nil {
			return ecodePermissionDenied, nil
		}
		cap := rc.matchingCapability(key, vfs.Read)
		if cap == nil {
			return ecodePermissionDenied, nil
		}
		names, lerr := rc.fs.List(string(pathBytes), cap)
		if lerr != nil {
			return vfsErrCode(lerr), nil
		}
		joined := joinNames(names)
		if int32(len(joined)) > outCap {
			joined = joined[:outCap]
		}
		n, werr := writeGuest(caller, outPtr, []byte(joined))
		if werr != nil {
			return 0, werr
		}
		return n, nil
	}); err != nil {
		return err
	}

	if err := def("now", func(caller *wasmtime.Caller) (int64, error) {
		if err := rc.charge("now"); err != nil {
			return 0, err
		}
		return rc.blockTS.Unix(), nil
	}); err != nil {
		return err
	}

	if err := def("height", func(caller *wasmtime.Caller) (int64, error) {
		if err := rc.charge("height"); err != nil {
			return 0, err
		}
		return int64(rc.height), nil
	}); err != nil {
		return err
	}

	if err := def("rand_bytes", func(caller *wasmtime.Caller, ptr, length int32) (int32, error) {
		if err := rc.charge("rand_bytes"); err != nil {
			return 0, err
		}
		if length < 0 {
			return ecodeInvalidArgument, nil
		}
		buf := make([]byte, length)
		_, _ = rc.rng.Read(buf)
		if _, werr := writeGuest(caller, ptr, buf); werr != nil {
			return 0, werr
		}
		return ecodeOK, nil
	}); err != nil {
		return err
	}

	if err := def("log", func(caller *wasmtime.Caller, level, ptr, length int32) (int32, error) {
		if err := rc.charge("log"); err != nil {
			return 0, err
		}
		msg, err := readGuest(caller, ptr, length)
		if err != nil {
			return 0, err
		}
		rc.mu.Lock()
		rc.logs = append(rc.logs, LogEntry{Level: level, Message: string(msg)})
		rc.mu.Unlock()
		return ecodeOK, nil
	}); err != nil {
		return err
	}

	if err := def("emit", func(caller *wasmtime.Caller, typePtr, typeLen, attrsPtr, attrsLen int32) (int32, error) {
		if err := rc.charge("emit"); err != nil {
			return 0, err
		}
		t, err := readGuest(caller, typePtr, typeLen)
		if err != nil {
			return 0, err
		}
		a, err := readGuest(caller, attrsPtr, attrsLen)
		if err != nil {
			return 0, err
		}
		rc.mu.Lock()
		rc.evts = append(rc.evts, Event{Type: string(t), Attrs: string(a)})
		rc.mu.Unlock()
		return ecodeOK, nil
	}); err != nil {
		return err
	}

	if err := def("gas_remaining", func(caller *wasmtime.Caller) (int64, error) {
		if err := rc.charge("gas_remaining"); err != nil {
			return 0, err
		}
		consumed, _ := rc.store.FuelConsumed()
		if consumed > rc.fuelBudget {
			return 0, nil
		}
		return int64(gas.ToGas(rc.fuelBudget - consumed)), nil
	}); err != nil {
		return err
	}

	return nil
}

func putU32(dst []byte, v uint32) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
	dst[3] = byte(v >> 24)
}

func joinNames(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += "\n"
		}
		out += n
	}
	return out
}

// keyOf canonicalizes a guest-supplied path the same way vfs.FS does
// internally, purely to pick the matching capability before Open/Stat/
// List re-derive it themselves.
func keyOf(path string) ([]byte, error) {
	return canon.Key(path)
}
