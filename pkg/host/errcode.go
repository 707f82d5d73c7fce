// Copyright 2025 Certen Protocol
//
// Negative return codes the fs/clock/rand imports use to report failure
// to guest code, analogous to POSIX's negative-errno convention. A
// positive or zero return is success (count of bytes transferred, a new
// fd, a cursor position, and so on — per-function).

package host

import (
	"errors"

	"github.com/certen/kernel/pkg/vfs"
)

const (
	ecodeOK               int32 = 0
	ecodePermissionDenied int32 = -1
	ecodeNotFound         int32 = -2
	ecodeBadFD            int32 = -3
	ecodeBadMode          int32 = -4
	ecodeUnsupported      int32 = -5
	ecodeInvalidArgument  int32 = -6
	ecodeInternal         int32 = -7
)

// vfsErrCode maps a vfs sentinel error to the wire code a guest sees.
// Anything else (canonicalization failures, engine I/O errors) maps to
// ecodeInternal rather than leaking Go error text across the guest
// boundary.
func vfsErrCode(err error) int32 {
	switch {
	case err == nil:
		return ecodeOK
	case errors.Is(err, vfs.ErrPermissionDenied):
		return ecodePermissionDenied
	case errors.Is(err, vfs.ErrNotFound):
		return ecodeNotFound
	case errors.Is(err, vfs.ErrBadFD):
		return ecodeBadFD
	case errors.Is(err, vfs.ErrBadMode):
		return ecodeBadMode
	case errors.Is(err, vfs.ErrUnsupported):
		return ecodeUnsupported
	default:
		return ecodeInternal
	}
}
