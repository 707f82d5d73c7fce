// Copyright 2025 Certen Protocol
//
// Capability Broker (E) — assembles, per invocation, the set of file
// descriptors a component receives. See spec §4.E.

package broker

import (
	"fmt"

	"github.com/certen/kernel/pkg/state"
	"github.com/certen/kernel/pkg/vfs"
)

// Authority is the bundle of opened fds handed to one invocation. Named
// slots match the import surface a component actually calls through
// (spec §4.D's filesystem imports operate on raw fd integers; Authority
// is the host-side bookkeeping that remembers which slot is which).
type Authority struct {
	FDs        map[string]int
	caps       []*vfs.Capability
	capsBySlot map[string]*vfs.Capability
	fs         *vfs.FS
}

func newAuthority(fs *vfs.FS) *Authority {
	return &Authority{FDs: make(map[string]int), capsBySlot: make(map[string]*vfs.Capability), fs: fs}
}

// CapabilityForSlot returns the capability backing a named slot, so a
// component's returned transferable-handle descriptors (spec §4.E) can be
// weakened from the capability that actually granted the component its
// own authority, rather than from an unrelated or forged one.
func (a *Authority) CapabilityForSlot(slot string) (*vfs.Capability, bool) {
	c, ok := a.capsBySlot[slot]
	return c, ok
}

// FD returns the fd handle for a named slot, or (-1, false) if the
// invocation wasn't granted that slot.
func (a *Authority) FD(name string) (int, bool) {
	h, ok := a.FDs[name]
	if !ok {
		return -1, false
	}
	return h, true
}

// Capabilities returns every capability this Authority holds, so the
// Component Host can resolve an in-guest open() call against whichever
// granted subtree covers the requested path (spec §4.D: open is exposed
// to components as a host import, not just the broker's own bookkeeping).
func (a *Authority) Capabilities() []*vfs.Capability {
	return a.caps
}

// Release closes every fd this Authority opened and revokes every
// capability it minted, per spec §4.E: "every fd it opened is closed and
// every transferable handle not returned to the kernel is invalidated."
func (a *Authority) Release() {
	for _, h := range a.FDs {
		a.fs.Close(h)
	}
	for _, c := range a.caps {
		c.Revoke()
	}
}

// Broker builds per-invocation Authority bundles according to the fixed
// policy table in spec §4.E.
type Broker struct {
	// anteManifests maps an ante-handler's declared dependency manifest,
	// registered at genesis/registration time, to the module home
	// directories it may read (spec: "granted at registration time via a
	// declared manifest").
	anteManifests []string
}

// NewBroker constructs a Broker with an empty ante-handler manifest.
func NewBroker() *Broker {
	return &Broker{}
}

// SetAnteManifest declares which modules' /home/{module}/* subtrees the
// ante-handler may read.
func (b *Broker) SetAnteManifest(modules []string) {
	b.anteManifests = append([]string(nil), modules...)
}

func open(fs *vfs.FS, a *Authority, slot, path string, mode vfs.Mode, snap *state.Snapshot, idSeed string) error {
	cap, err := vfs.NewCapability(idSeed+":"+slot, path, mode, snap)
	if err != nil {
		return fmt.Errorf("broker: capability for %s: %w", slot, err)
	}
	h, err := fs.Open(path, mode, cap)
	if err != nil {
		return fmt.Errorf("broker: open %s: %w", path, err)
	}
	a.FDs[slot] = h
	a.caps = append(a.caps, cap)
	a.capsBySlot[slot] = cap
	return nil
}

// BindHandle opens an already-minted transferable handle's capability
// under a new "handle:N" slot in an Authority built for the invocation
// that is to receive it, completing the rebind spec §4.E describes: "the
// kernel rebinds the resolved capability into the receiving invocation's
// fd table." The capability is the arena's own weakened record, not a
// fresh grant, so its authority can never exceed what the donating
// component actually held.
func (b *Broker) BindHandle(fs *vfs.FS, a *Authority, id int, path string, mode vfs.Mode, cap *vfs.Capability) error {
	h, err := fs.Open(path, mode, cap)
	if err != nil {
		return fmt.Errorf("broker: bind handle %d: %w", id, err)
	}
	slot := fmt.Sprintf("handle:%d", id)
	a.FDs[slot] = h
	a.caps = append(a.caps, cap)
	a.capsBySlot[slot] = cap
	return nil
}

// BuildAnteHandler assembles the authority set for /sbin/ante-handler per
// spec §4.E's policy table.
func (b *Broker) BuildAnteHandler(fs *vfs.FS, snap *state.Snapshot, txID string) (*Authority, error) {
	a := newAuthority(fs)
	if err := open(fs, a, "sys", "/sys", vfs.Read, snap, txID); err != nil {
		return nil, err
	}
	if err := open(fs, a, "tmp", "/tmp/"+txID, vfs.ReadWrite, snap, txID); err != nil {
		return nil, err
	}
	for _, mod := range b.anteManifests {
		slot := "home:" + mod
		if err := open(fs, a, slot, "/home/"+mod, vfs.Read, snap, txID); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// BuildTxDecoder assembles the authority set for /sbin/tx-decoder: sys
// read, tmp read-write, no access to /home/*.
func (b *Broker) BuildTxDecoder(fs *vfs.FS, snap *state.Snapshot, txID string) (*Authority, error) {
	a := newAuthority(fs)
	if err := open(fs, a, "sys", "/sys", vfs.Read, snap, txID); err != nil {
		return nil, err
	}
	if err := open(fs, a, "tmp", "/tmp/"+txID, vfs.ReadWrite, snap, txID); err != nil {
		return nil, err
	}
	return a, nil
}

// BuildBeginBlocker and BuildEndBlocker share a policy: sys read, home
// read-write (system components run once per block, not scoped to a tx).
func (b *Broker) buildBlockHook(fs *vfs.FS, snap *state.Snapshot, seed string) (*Authority, error) {
	a := newAuthority(fs)
	if err := open(fs, a, "sys", "/sys", vfs.Read, snap, seed); err != nil {
		return nil, err
	}
	if err := open(fs, a, "home", "/home", vfs.ReadWrite, snap, seed); err != nil {
		return nil, err
	}
	return a, nil
}

// BuildBeginBlocker assembles the authority set for /sbin/begin-blocker.
func (b *Broker) BuildBeginBlocker(fs *vfs.FS, snap *state.Snapshot, height uint64) (*Authority, error) {
	return b.buildBlockHook(fs, snap, fmt.Sprintf("begin-block:%d", height))
}

// BuildEndBlocker assembles the authority set for /sbin/end-blocker.
func (b *Broker) BuildEndBlocker(fs *vfs.FS, snap *state.Snapshot, height uint64) (*Authority, error) {
	return b.buildBlockHook(fs, snap, fmt.Sprintf("end-block:%d", height))
}

// BuildAppModule assembles the authority set for a /bin/{name} component:
// its own /home/{name}/* read-write, /sys read, /tmp/{tx}/ read-write,
// and no access to other components' /home/* unless a transferable
// handle is rebound (see handle.go).
func (b *Broker) BuildAppModule(fs *vfs.FS, snap *state.Snapshot, name, txID string) (*Authority, error) {
	a := newAuthority(fs)
	if err := open(fs, a, "home", "/home/"+name, vfs.ReadWrite, snap, txID+":"+name); err != nil {
		return nil, err
	}
	if err := open(fs, a, "sys", "/sys", vfs.Read, snap, txID+":"+name); err != nil {
		return nil, err
	}
	if err := open(fs, a, "tmp", "/tmp/"+txID, vfs.ReadWrite, snap, txID+":"+name); err != nil {
		return nil, err
	}
	return a, nil
}
