// Copyright 2025 Certen Protocol
//
// Transferable handles — serializable capability descriptors one
// invocation returns for the kernel to rebind into the next invocation's
// fd table, scoped to a single transaction (spec §4.E, §9 "cyclic
// references"). Implemented as an arena indexed by integer handle IDs,
// per spec §9's explicit guidance, not raw pointers, so the whole arena
// can be invalidated in one step at tx end.

package broker

import (
	"sync"

	"github.com/certen/kernel/pkg/vfs"
)

// HandleArena holds the transferable handles minted during one
// transaction. It must be discarded (Invalidate) on both commit and
// rollback of that transaction — handles never outlive their tx.
type HandleArena struct {
	mu      sync.Mutex
	next    int
	entries map[int]*vfs.Capability
}

// NewHandleArena constructs an empty arena for one transaction.
func NewHandleArena() *HandleArena {
	return &HandleArena{entries: make(map[int]*vfs.Capability)}
}

// Mint registers a capability a component is returning as a transferable
// handle and returns its arena-scoped integer ID.
func (h *HandleArena) Mint(cap *vfs.Capability) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	h.entries[id] = cap
	return id
}

// Resolve returns the capability behind a handle ID, for rebinding into
// the next invocation's fd table via fs.Open. Returns (nil, false) for an
// unknown or already-invalidated ID.
func (h *HandleArena) Resolve(id int) (*vfs.Capability, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.entries[id]
	return c, ok
}

// Invalidate revokes every outstanding handle and empties the arena.
// Called exactly once, at tx commit or rollback.
func (h *HandleArena) Invalidate() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.entries {
		c.Revoke()
		delete(h.entries, id)
	}
}
