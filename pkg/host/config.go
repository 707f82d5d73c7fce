// Copyright 2025 Certen Protocol

package host

// Config bounds every invocation the Host runs. Per spec §4.D these
// bounds are the kernel's, not the component's to negotiate.
type Config struct {
	// MaxMemoryPages caps a guest instance's linear memory, in 64KiB
	// wasm pages.
	MaxMemoryPages uint32

	// MaxStackBytes bounds the native stack wasmtime reserves for wasm
	// call frames; exceeding it traps as StackOverflow rather than
	// corrupting the host process.
	MaxStackBytes int

	// CacheMaxEntries bounds the compiled-module cache (cache.go).
	CacheMaxEntries int64

	// MaxFunctions bounds an image's declared function count. Zero
	// disables the check.
	MaxFunctions int
	// MaxTables bounds an image's declared table count. Zero disables
	// the check.
	MaxTables int
	// MaxLocalsPerFunction bounds the largest per-function declared
	// local count. Zero disables the check.
	MaxLocalsPerFunction int
	// MaxCodeBytes bounds the raw size of an image's code section. Zero
	// disables the check.
	MaxCodeBytes int
}

// DefaultConfig returns conservative bounds suitable for the app-module
// and system-component images described in spec §4.D.
func DefaultConfig() Config {
	return Config{
		MaxMemoryPages:       256, // 16MiB
		MaxStackBytes:        1 << 20,
		CacheMaxEntries:      256,
		MaxFunctions:         4096,
		MaxTables:            4,
		MaxLocalsPerFunction: 1024,
		MaxCodeBytes:         4 << 20, // 4MiB
	}
}
