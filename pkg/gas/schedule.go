// Copyright 2025 Certen Protocol
//
// Gas/fuel cost schedule — translates a tx's declared gas budget into the
// wasmtime fuel units the Component Host meters, and fuel consumed back
// into gas_used. Named explicitly per SPEC_FULL §4, since spec.md only
// gestures at "a per-opcode cost schedule" without naming its owner.

package gas

// FuelPerGas is the exchange rate between one unit of declared gas and
// one unit of wasmtime fuel. wasmtime meters fuel at roughly
// WebAssembly-instruction granularity; a 1:1 rate keeps the schedule
// legible, and determinism only requires that every validator use the
// same rate, not any particular value.
const FuelPerGas = 1

// HostCallCost is charged against the invocation's fuel budget, in
// addition to ordinary instruction fuel, for metered host imports whose
// cost is dominated by host-side work rather than guest instructions
// (spec §4.D import allowlist).
var HostCallCost = map[string]uint64{
	"open":          100,
	"read":          10,
	"write":         20,
	"seek":          5,
	"tell":          2,
	"truncate":      20,
	"close":         5,
	"stat":          50,
	"list":          200,
	"now":           2,
	"height":        2,
	"rand_bytes":    50,
	"log":           10,
	"emit":          30,
	"gas_remaining": 2,
}

// ToFuel converts a declared gas budget to a wasmtime fuel allotment.
func ToFuel(gasWanted uint64) uint64 {
	return gasWanted * FuelPerGas
}

// ToGas converts consumed fuel back into the gas_used reported in a tx
// result.
func ToGas(fuelConsumed uint64) uint64 {
	if FuelPerGas == 0 {
		return fuelConsumed
	}
	return fuelConsumed / FuelPerGas
}

// ChargeHostCall returns the fuel cost of one call to the named host
// import, or a conservative default for unknown names (there should be
// none, since the import allowlist is closed).
func ChargeHostCall(name string) uint64 {
	if c, ok := HostCallCost[name]; ok {
		return c
	}
	return 100
}
