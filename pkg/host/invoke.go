// Copyright 2025 Certen Protocol
//
// Invocation — compiles (or fetches from cache) a component image,
// instantiates it under fuel/epoch/memory bounds, and drives one call
// into its entry point. Spec §4.D: "the host instantiates a fresh
// instance per invocation; instances are never reused across calls."
//
// The guest ABI here is a pragmatic stand-in for the full WebAssembly
// Component Model's typed call convention, which wasmtime-go does not
// yet expose a host embedding API for: the entry point takes a
// (ptr, len) pointing at a serialized request in guest linear memory
// and returns a packed (ptr, len) pointing at a serialized response,
// with alloc/dealloc exports bracketing both buffers. Everything above
// this ABI line — request/response shapes, capability-gated fd access —
// is exactly what spec §4.D describes; only the marshalling mechanism is
// narrowed to what the host toolchain can actually express today.

package host

import (
	"fmt"
	"time"

	"github.com/bytecodealliance/wasmtime-go/v25"

	"github.com/certen/kernel/pkg/broker"
	"github.com/certen/kernel/pkg/gas"
	"github.com/certen/kernel/pkg/vfs"
)

// Host compiles and runs component images under the bounds in Config.
type Host struct {
	engine *wasmtime.Engine
	cfg    Config
	cache  *Cache[*wasmtime.Module]
}

// New constructs a Host. One Host is shared by the whole node; it holds
// no per-invocation state.
func New(cfg Config) (*Host, error) {
	cache, err := NewCache[*wasmtime.Module](cfg.CacheMaxEntries)
	if err != nil {
		return nil, err
	}
	return &Host{engine: newEngine(cfg), cfg: cfg, cache: cache}, nil
}

// InvalidateImage drops any cached compiled module for path, called by
// the Kernel Dispatch whenever commit_block writes a new value under a
// /sbin or /bin path (spec §4.D cache-coherence requirement).
func (h *Host) InvalidateImage(path string) {
	h.cache.InvalidatePath(path)
}

// Clock is the deterministic time/height context one invocation sees
// through the now()/height() imports.
type Clock struct {
	Height uint64
	Time   time.Time
}

// Request describes one guest invocation.
type Request struct {
	ImagePath string // storage path the image was loaded from, e.g. "/sbin/ante-handler"
	Image     []byte // compiled bytes (wasm binary) currently stored there
	Entry     string // exported function name to call

	Authority *broker.Authority
	FS        *vfs.FS

	GasWanted    uint64
	WallDeadline time.Duration

	Clock       Clock
	PrevAppHash []byte
	TxHash      []byte
	RandCounter uint64

	Payload []byte
}

// Result is everything observable about one invocation.
type Result struct {
	Output  []byte
	GasUsed uint64
	Logs    []LogEntry
	Events  []Event
	Trap    Kind
	Err     error
}

// Invoke compiles (or reuses a cached compilation of) req.Image,
// instantiates a fresh instance bound to req.Authority/req.FS, and calls
// req.Entry with req.Payload. A trapped invocation's gas consumption is
// still reported. Invoke neither flushes nor discards req.FS's buffered
// writes: they reach the snapshot when the caller closes the fds, and on
// a trap the caller rolls that snapshot back.
func (h *Host) Invoke(req Request) Result {
	module, err := h.cache.GetOrCompile(req.ImagePath, req.Image, func(b []byte) (*wasmtime.Module, error) {
		shape, serr := scanImageShape(b)
		if serr != nil {
			return nil, serr
		}
		if serr := validateShape(shape, h.cfg); serr != nil {
			return nil, serr
		}
		m, merr := wasmtime.NewModule(h.engine, b)
		if merr != nil {
			return nil, merr
		}
		if verr := validateImports(m); verr != nil {
			return nil, verr
		}
		return m, nil
	})
	if err != nil {
		return Result{Trap: classify(err), Err: err}
	}

	store := wasmtime.NewStore(h.engine)
	fuelBudget := gas.ToFuel(req.GasWanted)
	if err := store.SetFuel(fuelBudget); err != nil {
		return Result{Trap: Unknown, Err: fmt.Errorf("host: set fuel: %w", err)}
	}
	if h.cfg.MaxMemoryPages > 0 {
		limits := wasmtime.NewStoreLimitsBuilder().
			MemorySize(int64(h.cfg.MaxMemoryPages) * 65536).
			Build()
		store.Limiter(limits)
	}

	store.SetEpochDeadline(1)
	deadline := req.WallDeadline
	if deadline <= 0 {
		deadline = 5 * time.Second
	}
	timer := time.AfterFunc(deadline, h.engine.IncrementEpoch)
	defer timer.Stop()

	rng, err := NewDeterministicRand(req.PrevAppHash, req.Clock.Height, req.TxHash, req.RandCounter)
	if err != nil {
		return Result{Trap: Unknown, Err: err}
	}
	rc := &runtimeCtx{
		fs:         req.FS,
		caps:       req.Authority.Capabilities(),
		rng:        rng,
		height:     req.Clock.Height,
		blockTS:    req.Clock.Time,
		fuelBudget: fuelBudget,
		store:      store,
	}

	linker := wasmtime.NewLinker(h.engine)
	if err := defineImports(linker, store, rc); err != nil {
		return Result{Trap: Unknown, Err: fmt.Errorf("host: define imports: %w", err)}
	}

	instance, err := linker.Instantiate(store, module)
	if err != nil {
		return h.finish(rc, store, classify(err), err)
	}

	out, err := callEntry(store, instance, req.Entry, req.Payload)
	if err != nil {
		return h.finish(rc, store, classify(err), err)
	}
	return h.finish(rc, store, None, nil, out)
}

func (h *Host) finish(rc *runtimeCtx, store *wasmtime.Store, trap Kind, err error, out ...[]byte) Result {
	consumed, _ := store.FuelConsumed()
	gasUsed := gas.ToGas(consumed)
	if trap == OutOfGas {
		gasUsed = gas.ToGas(rc.fuelBudget)
	}
	res := Result{GasUsed: gasUsed, Logs: rc.logs, Events: rc.evts, Trap: trap, Err: err}
	if len(out) == 1 {
		res.Output = out[0]
	}
	return res
}

// callEntry allocates a guest buffer for payload, writes it, calls
// entry(ptr, len), and reads back the packed (ptr, len) response it
// returns. alloc/dealloc are conventional exports every component image
// built against the kernel's guest SDK provides.
func callEntry(store *wasmtime.Store, instance *wasmtime.Instance, entry string, payload []byte) ([]byte, error) {
	allocFn := instance.GetFunc(store, "alloc")
	deallocFn := instance.GetFunc(store, "dealloc")
	entryFn := instance.GetFunc(store, entry)
	if entryFn == nil {
		return nil, fmt.Errorf("host: component has no export %q", entry)
	}
	if allocFn == nil || deallocFn == nil {
		return nil, fmt.Errorf("host: component missing alloc/dealloc exports")
	}

	var reqPtr int32
	if len(payload) > 0 {
		v, err := allocFn.Call(store, int32(len(payload)))
		if err != nil {
			return nil, err
		}
		reqPtr = v.(int32)
		mem := instance.GetExport(store, "memory").Memory()
		data := mem.UnsafeData(store)
		copy(data[reqPtr:int(reqPtr)+len(payload)], payload)
	}

	packed, err := entryFn.Call(store, reqPtr, int32(len(payload)))
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if _, derr := deallocFn.Call(store, reqPtr, int32(len(payload))); derr != nil {
			return nil, derr
		}
	}

	respPtr, respLen := unpackPtrLen(packed.(int64))
	if respLen == 0 {
		return nil, nil
	}
	mem := instance.GetExport(store, "memory").Memory()
	data := mem.UnsafeData(store)
	if respPtr < 0 || int64(respPtr)+int64(respLen) > int64(len(data)) {
		return nil, fmt.Errorf("host: response pointer out of bounds")
	}
	out := make([]byte, respLen)
	copy(out, data[respPtr:int(respPtr)+int(respLen)])
	if _, derr := deallocFn.Call(store, respPtr, respLen); derr != nil {
		return nil, derr
	}
	return out, nil
}

func unpackPtrLen(v int64) (int32, int32) {
	return int32(uint64(v) >> 32), int32(uint64(v))
}
