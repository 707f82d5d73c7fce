// Copyright 2025 Certen Protocol
//
// Portable Merkle proof structure, generalized from pkg/merkle/receipt.go's
// Receipt/ReceiptEntry shape (fail-closed Validate, hex-encoded hashes) to
// the sparse Merkle tree's fixed 256-level path so membership and
// non-membership proofs share one verifier.

package store

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrInvalidProof is returned by Verify when the proof does not recompute
// to the claimed commitment.
var ErrInvalidProof = errors.New("store: invalid proof")

// Proof is a root-to-leaf sibling path for a single key.
type Proof struct {
	KeyHash  [32]byte
	Siblings [depth][32]byte // Siblings[d] is the sibling hash at depth d
	// Found/Value describe what the proof attests to: if Found, Value is
	// the leaf's stored value; if not, the proof attests to absence.
	Found bool
	Value []byte
}

// prove descends from root collecting the sibling at each level, then
// loads (or fails to load) the terminal leaf.
func (t *tree) prove(root [32]byte, key []byte) (*Proof, error) {
	kh := keyHashOf(key)
	p := &Proof{KeyHash: kh}
	cur := root
	for d := 0; d < depth; d++ {
		var rec internalRecord
		var err error
		if cur == defaultHash[d] {
			rec = internalRecord{left: defaultHash[d+1], right: defaultHash[d+1]}
		} else {
			rec, err = t.loadInternal(cur, d)
			if err != nil {
				return nil, err
			}
		}
		if bitAt(kh, d) == 0 {
			p.Siblings[d] = rec.right
			cur = rec.left
		} else {
			p.Siblings[d] = rec.left
			cur = rec.right
		}
	}
	leaf, found, err := t.loadLeaf(cur)
	if err != nil {
		return nil, err
	}
	p.Found = found
	if found {
		p.Value = leaf.value
	}
	return p, nil
}

// Verify recomputes the root implied by p and key and compares it to
// commitment. A non-existence proof (p.Found == false) verifies that key
// is absent under commitment.
func Verify(commitment [32]byte, key []byte, p *Proof) bool {
	kh := keyHashOf(key)
	if kh != p.KeyHash {
		return false
	}
	var cur [32]byte
	if p.Found {
		cur = leafHash(kh, p.Value)
	} else {
		cur = emptyLeafHash
	}
	for d := depth - 1; d >= 0; d-- {
		sib := p.Siblings[d]
		if bitAt(kh, d) == 0 {
			cur = internalHash(cur, sib)
		} else {
			cur = internalHash(sib, cur)
		}
	}
	return cur == commitment
}

// CanonicalizeJSON-style helper kept for parity with the teacher's
// commitment package: a stable hex digest of a value, used by callers
// that want a short fingerprint for logs without recomputing a proof.
func fingerprint(value []byte) string {
	h := sha256.Sum256(value)
	return hex.EncodeToString(h[:])
}
