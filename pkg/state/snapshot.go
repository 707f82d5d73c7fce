// Copyright 2025 Certen Protocol
//
// Transaction and block snapshots layered on the authenticated store.
// See spec §3 ("Transaction snapshot") and §4.B.

package state

// entry is an ordered write-buffer slot: deleted set encodes a delete
// (spec's "Option<value>" None); a nil value with deleted unset is a
// stored value.
type entry struct {
	value   []byte
	deleted bool
}

// Snapshot is a point-in-time view with a buffered write set and a
// read-set, implementing read-your-writes over whatever it's rooted on
// (the authenticated store for a block snapshot, or a block snapshot for
// a tx snapshot).
type Snapshot struct {
	parent   *Snapshot // nil for a block snapshot rooted directly on A
	engine   *Engine
	base     uint64 // base_version, meaningful only for block snapshots
	order    []string
	writes   map[string]entry
	readSet  map[string]struct{}
}

func newSnapshot(engine *Engine, parent *Snapshot, base uint64) *Snapshot {
	return &Snapshot{
		parent:  parent,
		engine:  engine,
		base:    base,
		writes:  make(map[string]entry),
		readSet: make(map[string]struct{}),
	}
}

// ReadSet returns the canonical keys observed by Read, snapshotted at
// call time (not live — mutating the returned map has no effect).
func (s *Snapshot) ReadSet() map[string]struct{} {
	out := make(map[string]struct{}, len(s.readSet))
	for k := range s.readSet {
		out[k] = struct{}{}
	}
	return out
}

// WrittenKeys returns the canonical keys this snapshot has buffered a
// write or delete for, in write order. Nothing in the kernel calls it;
// dispatch invalidates component-image cache entries in InstallComponent.
func (s *Snapshot) WrittenKeys() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}
