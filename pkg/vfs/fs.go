// Copyright 2025 Certen Protocol
//
// Virtual Filesystem (C) — a file-descriptor API over the Global State
// Engine (B); see spec §4.C. Dispatch creates one FS per transaction
// (and one per block for the begin/end-block hooks), shared by that
// transaction's invocations. Descriptors an invocation received stop
// working when it ends: the broker closes its fds and revokes every
// capability behind them.

package vfs

import (
	"sync"

	"github.com/certen/kernel/pkg/canon"
	"github.com/certen/kernel/pkg/state"
)

// Kind classifies a path's stat result.
type Kind int

const (
	Regular Kind = iota
	Directory
	Special
)

// Whence mirrors POSIX lseek's origin argument.
type Whence int

const (
	SeekStart Whence = iota
	SeekCurrent
	SeekEnd
)

// specialDirs are reserved directory roots that stat resolves to Kind
// Directory even with no value stored at the exact key (spec §3).
var specialDirs = []string{"/sbin", "/bin", "/lib", "/home", "/tmp", "/sys", "/dev"}

// enumerableDirs are the reserved directories with a maintained name
// index, per spec §4.C ("reserved one with a maintained index").
var enumerableDirs = []string{"/sbin", "/bin"}

func isSpecialPrefix(path string) Kind {
	for _, d := range specialDirs {
		if path == d {
			if d == "/sys" || d == "/dev" {
				return Special
			}
			return Directory
		}
	}
	return Regular
}

// FS is a per-invocation virtual filesystem handle.
type FS struct {
	engine *state.Engine

	mu     sync.Mutex
	table  map[int]*fd
	nextFD int
}

// New constructs a fresh, empty FS bound to engine. Capabilities (and
// therefore snapshots) are supplied per Open call by the broker.
func New(engine *state.Engine) *FS {
	return &FS{engine: engine, table: make(map[int]*fd), nextFD: 3}
}

// Open canonicalizes path, checks cap's authority for mode, and
// allocates a new fd. Per spec invariant 2, any rejected Open performs
// no state change.
func (f *FS) Open(path string, mode Mode, cap *Capability) (int, error) {
	key, err := canon.Key(path)
	if err != nil {
		return -1, ErrPermissionDenied
	}
	if cap == nil || !cap.Authorizes(key, mode) {
		return -1, ErrPermissionDenied
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.nextFD
	f.nextFD++
	f.table[h] = &fd{path: path, key: key, mode: mode, cap: cap}
	return h, nil
}

func (f *FS) get(handle int) (*fd, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.table[handle]
	if !ok {
		return nil, ErrBadFD
	}
	if !d.cap.Authorizes(d.key, Read) && !d.cap.Authorizes(d.key, Write) {
		return nil, ErrPermissionDenied
	}
	return d, nil
}

func (f *FS) ensureLoaded(d *fd) error {
	if d.loaded {
		return nil
	}
	val, found, err := f.engine.Read(d.cap.Snapshot, d.key)
	if err != nil {
		return err
	}
	if found {
		d.buf = append([]byte(nil), val...)
	} else {
		d.buf = nil
	}
	d.loaded = true
	return nil
}

// Read copies up to len(buf) bytes from the fd's cursor, advancing it.
func (f *FS) Read(handle int, buf []byte) (int, error) {
	d, err := f.get(handle)
	if err != nil {
		return 0, err
	}
	if !d.mode.allowsRead() {
		return 0, ErrBadMode
	}
	if !d.cap.Authorizes(d.key, Read) {
		return 0, ErrPermissionDenied
	}
	if err := f.ensureLoaded(d); err != nil {
		return 0, err
	}
	if d.cursor >= len(d.buf) {
		return 0, nil
	}
	n := copy(buf, d.buf[d.cursor:])
	d.cursor += n
	return n, nil
}

// Write appends buf into the fd's pending write buffer at the current
// cursor, per the partial-write semantics of spec §4.C: prefix [0,k)
// preserved, [k,k+n) replaced, suffix preserved.
func (f *FS) Write(handle int, buf []byte) (int, error) {
	d, err := f.get(handle)
	if err != nil {
		return 0, err
	}
	if !d.mode.allowsWrite() {
		return 0, ErrBadMode
	}
	if !d.cap.Authorizes(d.key, Write) {
		return 0, ErrPermissionDenied
	}
	if err := f.ensureLoaded(d); err != nil {
		return 0, err
	}
	end := d.cursor + len(buf)
	if end > len(d.buf) {
		grown := make([]byte, end)
		copy(grown, d.buf)
		d.buf = grown
	}
	copy(d.buf[d.cursor:end], buf)
	d.cursor = end
	d.dirty = true
	return len(buf), nil
}

// Seek repositions the fd's cursor.
func (f *FS) Seek(handle int, offset int, whence Whence) (int, error) {
	d, err := f.get(handle)
	if err != nil {
		return 0, err
	}
	if err := f.ensureLoaded(d); err != nil {
		return 0, err
	}
	var base int
	switch whence {
	case SeekStart:
		base = 0
	case SeekCurrent:
		base = d.cursor
	case SeekEnd:
		base = len(d.buf)
	}
	pos := base + offset
	if pos < 0 {
		return 0, ErrPermissionDenied
	}
	d.cursor = pos
	return pos, nil
}

// Tell returns the fd's current cursor position.
func (f *FS) Tell(handle int) (int, error) {
	d, err := f.get(handle)
	if err != nil {
		return 0, err
	}
	return d.cursor, nil
}

// Truncate sets the underlying value's length to n, padding with zero
// bytes or trimming as needed, and marks the fd dirty.
func (f *FS) Truncate(handle int, n int) error {
	d, err := f.get(handle)
	if err != nil {
		return err
	}
	if !d.mode.allowsWrite() {
		return ErrBadMode
	}
	if !d.cap.Authorizes(d.key, Write) {
		return ErrPermissionDenied
	}
	if err := f.ensureLoaded(d); err != nil {
		return err
	}
	if n < 0 {
		return ErrPermissionDenied
	}
	if n <= len(d.buf) {
		d.buf = d.buf[:n]
	} else {
		grown := make([]byte, n)
		copy(grown, d.buf)
		d.buf = grown
	}
	if d.cursor > n {
		d.cursor = n
	}
	d.dirty = true
	return nil
}

// Flush replaces the underlying value under the fd's canonical key in
// the tx snapshot with the fd's pending buffer, atomically, if dirty.
func (f *FS) Flush(handle int) error {
	d, err := f.get(handle)
	if err != nil {
		return err
	}
	return f.flush(d)
}

func (f *FS) flush(d *fd) error {
	if !d.dirty {
		return nil
	}
	if !d.cap.Authorizes(d.key, Write) {
		return ErrPermissionDenied
	}
	f.engine.Write(d.cap.Snapshot, d.key, d.buf)
	if err := maybeIndex(f.engine, d.cap.Snapshot, d.path); err != nil {
		return err
	}
	d.dirty = false
	return nil
}

// Close flushes any pending write, discards the cursor, and drops the
// table entry. Per spec: this is the only way a capability's underlying
// authority is released on the guest side (the broker separately revokes
// the Capability object itself at invocation end).
func (f *FS) Close(handle int) error {
	f.mu.Lock()
	d, ok := f.table[handle]
	if ok {
		delete(f.table, handle)
	}
	f.mu.Unlock()
	if !ok {
		return ErrBadFD
	}
	return f.flush(d)
}

// Stat reports the size and kind of path under cap, without opening a
// fd (spec §4.C: "stat(path, cap) -> (size, kind)").
func (f *FS) Stat(path string, cap *Capability) (size int, kind Kind, err error) {
	key, err := canon.Key(path)
	if err != nil {
		return 0, 0, ErrPermissionDenied
	}
	if cap == nil || !cap.Authorizes(key, Read) {
		return 0, 0, ErrPermissionDenied
	}
	val, found, rerr := f.engine.Read(cap.Snapshot, key)
	if rerr != nil {
		return 0, 0, rerr
	}
	if found {
		return len(val), Regular, nil
	}
	if k := isSpecialPrefix(path); k != Regular {
		return 0, k, nil
	}
	return 0, 0, ErrNotFound
}

// List returns the maintained name index for a reserved enumerable
// directory, or ErrUnsupported otherwise (spec §4.C).
func (f *FS) List(path string, cap *Capability) ([]string, error) {
	prefix, err := canon.Key(path)
	if err != nil {
		return nil, ErrPermissionDenied
	}
	if cap == nil || !cap.Authorizes(prefix, Read) {
		return nil, ErrPermissionDenied
	}
	if !isEnumerable(path) {
		return nil, ErrUnsupported
	}
	return readIndex(f.engine, cap.Snapshot, path)
}

func isEnumerable(path string) bool {
	for _, d := range enumerableDirs {
		if path == d {
			return true
		}
	}
	return false
}
