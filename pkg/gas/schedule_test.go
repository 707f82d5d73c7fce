package gas

import "testing"

func TestToFuelToGasRoundTrip(t *testing.T) {
	fuel := ToFuel(10_000)
	gasUsed := ToGas(fuel)
	if gasUsed != 10_000 {
		t.Errorf("got %d want 10000", gasUsed)
	}
}

func TestGasUsedNeverExceedsWanted(t *testing.T) {
	gasWanted := uint64(1000)
	fuelBudget := ToFuel(gasWanted)
	// A well-behaved host never hands back more fuel-consumed than it
	// granted; this is the invariant the Component Host must uphold
	// (spec invariant 6), exercised here at the conversion boundary.
	consumed := fuelBudget // worst case: fully exhausted
	if ToGas(consumed) > gasWanted {
		t.Errorf("gas_used must not exceed gas_wanted")
	}
}
