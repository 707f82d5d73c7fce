// Copyright 2025 Certen Protocol
//
// Versioned Sparse Merkle Tree
// Per spec §4.A: a Merkleized key→value map where identical leaf sets
// yield identical commitments, any past version stays readable until
// pruned, and proofs (including non-existence) verify under a version's
// commitment.
//
// This is a 256-level binary tree indexed by SHA-256(key) as a bit path.
// Nodes are content-addressed (keyed by their own hash) and therefore
// immutable and shared across versions for free — writing a new version
// only touches nodes on the root-to-leaf paths of the keys that changed.
// The implementation does not compress empty subtrees into single nodes
// (no path compression): every Put walks all 256 levels, and a Get walks
// them unless it reaches an empty subtree first. That trades
// throughput for a tree simple enough that two independent
// implementations following this spec produce byte-identical
// commitments without subtle compression-format disagreements.

package store

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

const depth = 256

// nodeKind tags a persisted node record.
type nodeKind byte

const (
	kindInternal nodeKind = 1
	kindLeaf     nodeKind = 2
)

var emptyLeafHash = sha256.Sum256([]byte("certen/kernel/smt/empty-leaf"))

// defaultHash[d] is the root hash of an empty subtree of depth (depth-d).
// defaultHash[depth] == emptyLeafHash; defaultHash[0] is the root hash of
// a wholly empty tree.
var defaultHash [depth + 1][32]byte

func init() {
	defaultHash[depth] = emptyLeafHash
	for d := depth - 1; d >= 0; d-- {
		defaultHash[d] = internalHash(defaultHash[d+1], defaultHash[d+1])
	}
}

func internalHash(left, right [32]byte) [32]byte {
	h := sha256.New()
	h.Write([]byte{byte(kindInternal)})
	h.Write(left[:])
	h.Write(right[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func leafHash(keyHash [32]byte, value []byte) [32]byte {
	h := sha256.New()
	h.Write([]byte{byte(kindLeaf)})
	h.Write(keyHash[:])
	h.Write(value)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func keyHashOf(key []byte) [32]byte {
	return sha256.Sum256(key)
}

// bitAt returns the bit of h at position d (0 = root-adjacent, depth-1 =
// leaf-adjacent), MSB-first within each byte.
func bitAt(h [32]byte, d int) byte {
	byteIdx := d / 8
	bitIdx := 7 - uint(d%8)
	return (h[byteIdx] >> bitIdx) & 1
}

// internalRecord is the persisted form of an internal node.
type internalRecord struct {
	left, right [32]byte
}

func (r internalRecord) encode() []byte {
	out := make([]byte, 65)
	out[0] = byte(kindInternal)
	copy(out[1:33], r.left[:])
	copy(out[33:65], r.right[:])
	return out
}

func decodeInternal(b []byte) (internalRecord, error) {
	if len(b) != 65 || b[0] != byte(kindInternal) {
		return internalRecord{}, &Corrupt{Path: "node", Reason: "malformed internal record"}
	}
	var r internalRecord
	copy(r.left[:], b[1:33])
	copy(r.right[:], b[33:65])
	return r, nil
}

// leafRecord is the persisted form of a leaf node, carrying the original
// key (not just its hash) so Get and enumeration debugging can recover it.
type leafRecord struct {
	key   []byte
	value []byte
}

func (r leafRecord) encode() []byte {
	out := make([]byte, 4+len(r.key)+len(r.value))
	binary.BigEndian.PutUint32(out[:4], uint32(len(r.key)))
	copy(out[4:4+len(r.key)], r.key)
	copy(out[4+len(r.key):], r.value)
	return out
}

func decodeLeaf(b []byte) (leafRecord, error) {
	if len(b) < 4 {
		return leafRecord{}, &Corrupt{Path: "node", Reason: "malformed leaf record"}
	}
	klen := binary.BigEndian.Uint32(b[:4])
	if uint32(len(b)) < 4+klen {
		return leafRecord{}, &Corrupt{Path: "node", Reason: "truncated leaf record"}
	}
	key := append([]byte(nil), b[4:4+klen]...)
	value := append([]byte(nil), b[4+klen:]...)
	return leafRecord{key: key, value: value}, nil
}

func nodeStorageKey(h [32]byte) []byte {
	return append([]byte("n/"), []byte(hex.EncodeToString(h[:]))...)
}

// tree implements the content-addressed SMT over a KV and a pending
// write buffer (used to batch a whole PutBatch before committing it).
type tree struct {
	kv KV
}

// loadInternal fetches an internal node, synthesizing the all-default
// children when h is the default hash at depth d.
func (t *tree) loadInternal(h [32]byte, d int) (internalRecord, error) {
	if h == defaultHash[d] {
		return internalRecord{left: defaultHash[d+1], right: defaultHash[d+1]}, nil
	}
	raw, err := t.kv.Get(nodeStorageKey(h))
	if err != nil {
		return internalRecord{}, &IO{Reason: err}
	}
	if raw == nil {
		return internalRecord{}, &Corrupt{Path: hex.EncodeToString(h[:]), Reason: "internal node not found"}
	}
	return decodeInternal(raw)
}

func (t *tree) loadLeaf(h [32]byte) (leafRecord, bool, error) {
	if h == emptyLeafHash {
		return leafRecord{}, false, nil
	}
	raw, err := t.kv.Get(nodeStorageKey(h))
	if err != nil {
		return leafRecord{}, false, &IO{Reason: err}
	}
	if raw == nil {
		return leafRecord{}, false, &Corrupt{Path: hex.EncodeToString(h[:]), Reason: "leaf node not found"}
	}
	rec, err := decodeLeaf(raw)
	return rec, true, err
}

// get descends from root following key's bit path and returns the value,
// or (nil, false) if absent.
func (t *tree) get(root [32]byte, key []byte) ([]byte, bool, error) {
	kh := keyHashOf(key)
	cur := root
	for d := 0; d < depth; d++ {
		if cur == defaultHash[d] {
			return nil, false, nil
		}
		rec, err := t.loadInternal(cur, d)
		if err != nil {
			return nil, false, err
		}
		if bitAt(kh, d) == 0 {
			cur = rec.left
		} else {
			cur = rec.right
		}
	}
	leaf, found, err := t.loadLeaf(cur)
	if err != nil || !found {
		return nil, false, err
	}
	return leaf.value, true, nil
}

// put applies a single key/value (nil value = delete) against root and
// returns the new root, writing touched nodes into batch.
func (t *tree) put(batch Batch, root [32]byte, key, value []byte) ([32]byte, error) {
	kh := keyHashOf(key)
	return t.putAt(batch, root, 0, kh, key, value)
}

func (t *tree) putAt(batch Batch, cur [32]byte, d int, kh [32]byte, key, value []byte) ([32]byte, error) {
	if d == depth {
		if value == nil {
			return emptyLeafHash, nil
		}
		h := leafHash(kh, value)
		batch.Set(nodeStorageKey(h), leafRecord{key: key, value: value}.encode())
		return h, nil
	}
	var left, right [32]byte
	if cur == defaultHash[d] {
		left, right = defaultHash[d+1], defaultHash[d+1]
	} else {
		rec, err := t.loadInternal(cur, d)
		if err != nil {
			return [32]byte{}, err
		}
		left, right = rec.left, rec.right
	}
	var err error
	if bitAt(kh, d) == 0 {
		left, err = t.putAt(batch, left, d+1, kh, key, value)
	} else {
		right, err = t.putAt(batch, right, d+1, kh, key, value)
	}
	if err != nil {
		return [32]byte{}, err
	}
	if left == defaultHash[d+1] && right == defaultHash[d+1] {
		return defaultHash[d], nil
	}
	h := internalHash(left, right)
	batch.Set(nodeStorageKey(h), internalRecord{left: left, right: right}.encode())
	return h, nil
}
