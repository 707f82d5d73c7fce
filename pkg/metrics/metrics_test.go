// Copyright 2025 Certen Protocol

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/certen/kernel/pkg/host"
)

func TestObserveInvocationIncrementsByTrapKind(t *testing.T) {
	m := New()
	before := testutil.ToFloat64(invocationsTotal.WithLabelValues(host.None.String()))

	m.ObserveInvocation(host.None, 42)

	after := testutil.ToFloat64(invocationsTotal.WithLabelValues(host.None.String()))
	if after != before+1 {
		t.Fatalf("expected invocationsTotal to increment by 1, got %v -> %v", before, after)
	}
}

func TestObserveCommitSetsGauges(t *testing.T) {
	m := New()
	m.ObserveCommit(100, 100)

	if got := testutil.ToFloat64(commitHeight); got != 100 {
		t.Fatalf("expected commitHeight 100, got %v", got)
	}
	if got := testutil.ToFloat64(commitVersion); got != 100 {
		t.Fatalf("expected commitVersion 100, got %v", got)
	}
}
