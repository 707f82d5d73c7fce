// Copyright 2025 Certen Protocol
//
// Canonical path encoding shared by the virtual filesystem (C) and the
// authenticated store's key space (A). A path is canonicalized exactly
// once, on the way in; every other layer deals only in canonical keys.

package canon

import (
	"errors"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Separator is the non-printing byte joining canonicalized path segments
// in the store's key space. Segment validation below rejects any segment
// containing 0x1f (unit separator), so in a canonical key the byte only
// ever appears as a separator.
const Separator = 0x1f

var (
	// ErrEmptySegment is returned for paths with "//" producing a
	// zero-length segment. A single trailing slash is ignored.
	ErrEmptySegment = errors.New("canon: empty path segment")
	// ErrEmbeddedSeparator is returned for segments containing Separator.
	ErrEmbeddedSeparator = errors.New("canon: embedded separator byte")
	// ErrDotSegment is returned for "." or ".." segments.
	ErrDotSegment = errors.New("canon: dot segment not allowed")
	// ErrEmbeddedNUL is returned for segments containing a NUL byte.
	ErrEmbeddedNUL = errors.New("canon: embedded NUL byte")
	// ErrNotAbsolute is returned for paths not rooted at "/".
	ErrNotAbsolute = errors.New("canon: path must be absolute")
)

// Segments splits and validates a path into its segments, rejecting
// empty segments, ".", "..", embedded NUL or Separator bytes, and
// non-absolute paths. "/" yields no segments and a single trailing slash
// is ignored. It does not allocate the canonical key; use Key for that.
func Segments(path string) ([]string, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, ErrNotAbsolute
	}
	if path == "/" {
		return []string{}, nil
	}
	raw := strings.Split(strings.TrimSuffix(path[1:], "/"), "/")
	out := make([]string, 0, len(raw))
	for _, seg := range raw {
		if seg == "" {
			return nil, ErrEmptySegment
		}
		if seg == "." || seg == ".." {
			return nil, ErrDotSegment
		}
		if strings.IndexByte(seg, 0) >= 0 {
			return nil, ErrEmbeddedNUL
		}
		if strings.IndexByte(seg, Separator) >= 0 {
			return nil, ErrEmbeddedSeparator
		}
		out = append(out, norm.NFC.String(seg))
	}
	return out, nil
}

// Key canonicalizes a slash-delimited path into the store's byte key:
// split, validate, NFC-normalize, join with Separator. The empty path
// "/" canonicalizes to the empty key, representing the root.
func Key(path string) ([]byte, error) {
	segs, err := Segments(path)
	if err != nil {
		return nil, err
	}
	return JoinSegments(segs), nil
}

// JoinSegments re-joins already-validated segments into a canonical key.
func JoinSegments(segs []string) []byte {
	if len(segs) == 0 {
		return []byte{}
	}
	var b strings.Builder
	for i, s := range segs {
		if i > 0 {
			b.WriteByte(Separator)
		}
		b.WriteString(s)
	}
	return []byte(b.String())
}

// HasPrefix reports whether key is the canonical key of a path under the
// subtree rooted at prefix (inclusive), i.e. whether prefix is a path
// ancestor of key's path, not merely a byte prefix (which would wrongly
// match "/home/bank" against "/home/bank2").
func HasPrefix(key, prefix []byte) bool {
	if len(prefix) == 0 {
		return true // root authorizes everything
	}
	if len(key) < len(prefix) {
		return false
	}
	if string(key[:len(prefix)]) != string(prefix) {
		return false
	}
	return len(key) == len(prefix) || key[len(prefix)] == Separator
}

// Join builds a canonical key for "parent/child..." given an already
// canonical parent key and additional raw (unvalidated) segments.
func Join(parentKey []byte, segs ...string) ([]byte, error) {
	clean := make([]string, 0, len(segs))
	for _, s := range segs {
		if s == "" {
			return nil, ErrEmptySegment
		}
		if s == "." || s == ".." {
			return nil, ErrDotSegment
		}
		if strings.IndexByte(s, 0) >= 0 {
			return nil, ErrEmbeddedNUL
		}
		if strings.IndexByte(s, Separator) >= 0 {
			return nil, ErrEmbeddedSeparator
		}
		clean = append(clean, norm.NFC.String(s))
	}
	out := make([]byte, 0, len(parentKey)+len(clean)*8)
	out = append(out, parentKey...)
	for _, s := range clean {
		if len(out) > 0 {
			out = append(out, Separator)
		}
		out = append(out, []byte(s)...)
	}
	return out, nil
}

// Path reconstructs a display path from a canonical key, for logging and
// error messages only — never re-parsed.
func Path(key []byte) string {
	if len(key) == 0 {
		return "/"
	}
	parts := strings.Split(string(key), string(rune(Separator)))
	return "/" + strings.Join(parts, "/")
}
