// Copyright 2025 Certen Protocol

package vfs

import "errors"

// ErrPermissionDenied is returned by any operation whose path fails
// canonicalization, escapes its capability's subtree, or whose
// capability has been revoked. Per spec invariant 2, it is returned
// with no state change.
var ErrPermissionDenied = errors.New("vfs: permission denied")

// ErrNotFound is returned by stat/read against a path with no value.
var ErrNotFound = errors.New("vfs: not found")

// ErrUnsupported is returned by list on a directory with no maintained
// index (spec §4.C: "implementations that cannot enumerate efficiently
// return an error for list unless the directory is a reserved one").
var ErrUnsupported = errors.New("vfs: list unsupported for this path")

// ErrBadFD is returned for operations against an unknown or already
// closed file descriptor.
var ErrBadFD = errors.New("vfs: bad file descriptor")

// ErrBadMode is returned when an operation is attempted against a fd
// opened in an incompatible mode (e.g. write on a Read-only fd).
var ErrBadMode = errors.New("vfs: operation not permitted in this mode")
