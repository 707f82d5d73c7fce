// Copyright 2025 Certen Protocol
//
// Deterministic randomness for the rand_bytes import (spec §4.D: "seeded
// deterministically from block data so replays agree"). Seeded from
// SHA-256(prev_app_hash || height || tx_hash || counter) and streamed
// through ChaCha20 — every validator replaying the same block derives
// the same stream byte for byte.

package host

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20"
)

// DeterministicRand streams pseudo-random bytes from a seed derived
// entirely from block-committed data. One stream serves every rand_bytes
// call of an invocation; dispatch advances counter once per invocation,
// so two invocations for the same tx do not reuse key material.
type DeterministicRand struct {
	cipher *chacha20.Cipher
}

// NewDeterministicRand derives a stream for one invocation.
func NewDeterministicRand(prevAppHash []byte, height uint64, txHash []byte, counter uint64) (*DeterministicRand, error) {
	h := sha256.New()
	h.Write(prevAppHash)
	var heightBuf [8]byte
	binary.BigEndian.PutUint64(heightBuf[:], height)
	h.Write(heightBuf[:])
	h.Write(txHash)
	var counterBuf [8]byte
	binary.BigEndian.PutUint64(counterBuf[:], counter)
	h.Write(counterBuf[:])
	seed := h.Sum(nil)

	nonce := make([]byte, chacha20.NonceSize)
	c, err := chacha20.NewUnauthenticatedCipher(seed, nonce)
	if err != nil {
		return nil, fmt.Errorf("host: deterministic rand: %w", err)
	}
	return &DeterministicRand{cipher: c}, nil
}

// Read fills p with the next len(p) bytes of keystream. Never errors;
// io.Reader-compatible for callers that want it.
func (r *DeterministicRand) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	r.cipher.XORKeyStream(p, p)
	return len(p), nil
}
