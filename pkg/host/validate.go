// Copyright 2025 Certen Protocol
//
// Deterministic engine construction and component image validation per
// spec §4.D: "the host validates... it rejects images whose declared
// imports are outside the allowlist."

package host

import (
	"fmt"

	"github.com/bytecodealliance/wasmtime-go/v25"
)

// allowedImports is the closed set of host functions a component image
// may import, per spec §4.D's import allowlist.
var allowedImports = map[string]bool{
	"open":          true,
	"read":          true,
	"write":         true,
	"seek":          true,
	"tell":          true,
	"truncate":      true,
	"close":         true,
	"stat":          true,
	"list":          true,
	"now":           true,
	"height":        true,
	"rand_bytes":    true,
	"log":           true,
	"emit":          true,
	"gas_remaining": true,
}

const importModule = "env"

// newEngine builds a wasmtime engine configured for deterministic,
// metered, time-bounded execution: fuel consumption and epoch
// interruption enabled, threads/SIMD disabled (both are sources of
// cross-platform nondeterminism), NaN outputs canonicalized.
func newEngine(cfg Config) *wasmtime.Engine {
	wc := wasmtime.NewConfig()
	wc.SetConsumeFuel(true)
	wc.SetEpochInterruption(true)
	wc.SetWasmThreads(false)
	wc.SetWasmSIMD(false)
	wc.SetWasmRelaxedSIMD(false)
	wc.SetWasmMultiMemory(false)
	wc.SetWasmBulkMemory(true)
	wc.SetCraneliftNaNCanonicalization(true)
	if cfg.MaxStackBytes > 0 {
		wc.SetMaxWasmStack(cfg.MaxStackBytes)
	}
	return wasmtime.NewEngineWithConfig(wc)
}

// validateImports rejects a module declaring any import outside the
// allowlist, or any import from a module name other than "env". Spec
// invariant: "a component image that would import anything outside the
// host's fixed surface is rejected at load time, before any code runs."
func validateImports(m *wasmtime.Module) error {
	for _, imp := range m.Imports() {
		if imp.Module() != importModule {
			return fmt.Errorf("host: image imports from disallowed module %q", imp.Module())
		}
		name := imp.Name()
		if name == nil || !allowedImports[*name] {
			got := "<unnamed>"
			if name != nil {
				got = *name
			}
			return fmt.Errorf("host: image imports disallowed function %q", got)
		}
	}
	return nil
}
