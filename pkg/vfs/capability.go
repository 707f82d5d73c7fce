// Copyright 2025 Certen Protocol
//
// Capability — an unforgeable host-side authority record. Guests never
// see a Capability directly; they receive file descriptors bound to one
// (spec §4.C, §4.E).

package vfs

import (
	"sync"

	"github.com/certen/kernel/pkg/canon"
	"github.com/certen/kernel/pkg/state"
)

// Mode is the access mode a capability or fd was opened with.
type Mode int

const (
	Read Mode = iota
	Write
	ReadWrite
)

func (m Mode) allowsRead() bool  { return m == Read || m == ReadWrite }
func (m Mode) allowsWrite() bool { return m == Write || m == ReadWrite }

// Capability grants mode-bounded authority over a subtree of the path
// namespace, evaluated against one transaction snapshot.
type Capability struct {
	ID       string
	Subtree  []byte // canonical key prefix; nil/empty means the whole tree
	Mode     Mode
	Snapshot *state.Snapshot

	mu      sync.Mutex
	revoked bool
}

// NewCapability constructs a capability rooted at subtreePath.
func NewCapability(id, subtreePath string, mode Mode, snap *state.Snapshot) (*Capability, error) {
	prefix, err := canon.Key(subtreePath)
	if err != nil {
		return nil, err
	}
	return &Capability{ID: id, Subtree: prefix, Mode: mode, Snapshot: snap}, nil
}

// Revoke invalidates the capability; every subsequent operation using it
// returns ErrPermissionDenied.
func (c *Capability) Revoke() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revoked = true
}

// Revoked reports whether the capability has been invalidated.
func (c *Capability) Revoked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.revoked
}

// Authorizes reports whether the capability, at the time of the call,
// permits mode access to canonical key. Every VFS operation re-checks
// this (spec §4.C "capability enforcement").
func (c *Capability) Authorizes(key []byte, mode Mode) bool {
	if c.Revoked() {
		return false
	}
	if !canon.HasPrefix(key, c.Subtree) {
		return false
	}
	switch mode {
	case Read:
		return c.Mode.allowsRead()
	case Write:
		return c.Mode.allowsWrite()
	case ReadWrite:
		return c.Mode.allowsRead() && c.Mode.allowsWrite()
	}
	return false
}

// Weaken returns a new capability over a subtree of c (or the same
// subtree) with mode no stronger than c's, for transferable-handle
// creation (spec §4.E: "a handle carries an authority strictly weaker
// than or equal to the authority of the component that created it").
func (c *Capability) Weaken(id string, subtreePath string, mode Mode) (*Capability, error) {
	prefix, err := canon.Key(subtreePath)
	if err != nil {
		return nil, err
	}
	if !canon.HasPrefix(prefix, c.Subtree) {
		return nil, ErrPermissionDenied
	}
	if (mode.allowsRead() && !c.Mode.allowsRead()) || (mode.allowsWrite() && !c.Mode.allowsWrite()) {
		return nil, ErrPermissionDenied
	}
	return &Capability{ID: id, Subtree: prefix, Mode: mode, Snapshot: c.Snapshot}, nil
}
