package host

import (
	"testing"

	"github.com/certen/kernel/pkg/gas"
)

// TestImportAllowlistMatchesGasSchedule guards against the two tables
// drifting apart: every import the host will link against must have a
// cost entry, and the gas schedule should not carry pricing for an
// import the host would reject at load time.
func TestImportAllowlistMatchesGasSchedule(t *testing.T) {
	for name := range allowedImports {
		if _, ok := gas.HostCallCost[name]; !ok {
			t.Errorf("import %q is allowlisted but has no gas.HostCallCost entry", name)
		}
	}
	for name := range gas.HostCallCost {
		if !allowedImports[name] {
			t.Errorf("gas.HostCallCost prices %q but it is not in the host import allowlist", name)
		}
	}
}
