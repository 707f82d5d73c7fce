// Copyright 2025 Certen Protocol
//
// Authenticated Store (A) — versioned, Merkleized key→value map with
// proof generation. See spec §4.A.

package store

import (
	"encoding/binary"
	"sync"
)

// Reserved metadata keys per spec §6 — the only two keys in the backing
// KV whose names are part of the contract; everything else (n/ node and
// r/ root entries) is internal to this implementation.
const (
	keyLatestVersion = "__latest_version"
	keyLatestAppHash = "__latest_app_hash"
)

func rootStorageKey(version uint64) []byte {
	b := make([]byte, 2+8)
	copy(b, "r/")
	binary.BigEndian.PutUint64(b[2:], version)
	return b
}

// Write is one entry of a PutBatch: Value == nil encodes a delete.
type Write struct {
	Key   []byte
	Value []byte
}

// Store is the authenticated store contract from spec §4.A.
type Store interface {
	Get(key []byte, version uint64) ([]byte, bool, error)
	PutBatch(writes []Write) (newRoot [32]byte, newVersion uint64, err error)
	Prove(key []byte, version uint64) (*Proof, error)
	Commitment(version uint64) ([32]byte, error)
	Prune(uptoVersion uint64) error
	LatestVersion() uint64
}

// JMTStore is the default Store implementation: a versioned sparse
// Merkle tree over a content-addressed node store.
type JMTStore struct {
	mu      sync.RWMutex
	kv      KV
	tree    tree
	latest  uint64
	pruned  uint64 // versions < pruned are Missing
	hasData bool
}

// NewJMTStore opens (or initializes) a store over kv, restoring the
// latest committed version if present.
func NewJMTStore(kv KV) (*JMTStore, error) {
	s := &JMTStore{kv: kv, tree: tree{kv: kv}}
	raw, err := kv.Get([]byte(keyLatestVersion))
	if err != nil {
		return nil, &IO{Reason: err}
	}
	if raw != nil {
		if len(raw) != 8 {
			return nil, &Corrupt{Path: keyLatestVersion, Reason: "not 8 bytes"}
		}
		s.latest = binary.BigEndian.Uint64(raw)
		s.hasData = true
	}
	return s, nil
}

// LatestVersion returns the most recently committed version, or 0 before
// any commit. The first PutBatch also commits as version 0 (matching
// spec scenario 1's InitChain-at-version-0 convention); until then
// version 0 reads as the empty tree.
func (s *JMTStore) LatestVersion() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

func (s *JMTStore) rootAt(version uint64) ([32]byte, error) {
	if version < s.pruned {
		return [32]byte{}, &Missing{Version: version}
	}
	if !s.hasData && version == 0 {
		return defaultHash[0], nil
	}
	raw, err := s.kv.Get(rootStorageKey(version))
	if err != nil {
		return [32]byte{}, &IO{Reason: err}
	}
	if raw == nil {
		return [32]byte{}, &Missing{Version: version}
	}
	var h [32]byte
	copy(h[:], raw)
	return h, nil
}

// Get implements Store.Get.
func (s *JMTStore) Get(key []byte, version uint64) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	root, err := s.rootAt(version)
	if err != nil {
		return nil, false, err
	}
	return s.tree.get(root, key)
}

// PutBatch implements Store.PutBatch: applies writes atomically against
// the latest committed version and produces the next version.
func (s *JMTStore) PutBatch(writes []Write) ([32]byte, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var root [32]byte
	var err error
	if s.hasData {
		root, err = s.rootAt(s.latest)
		if err != nil {
			return [32]byte{}, 0, err
		}
	} else {
		root = defaultHash[0]
	}

	batch := s.kv.NewBatch()
	for _, w := range writes {
		root, err = s.tree.put(batch, root, w.Key, w.Value)
		if err != nil {
			return [32]byte{}, 0, err
		}
	}

	newVersion := s.latest
	if s.hasData {
		newVersion = s.latest + 1
	}
	batch.Set(rootStorageKey(newVersion), root[:])
	vbuf := make([]byte, 8)
	binary.BigEndian.PutUint64(vbuf, newVersion)
	batch.Set([]byte(keyLatestVersion), vbuf)
	batch.Set([]byte(keyLatestAppHash), root[:])

	if err := batch.WriteSync(); err != nil {
		return [32]byte{}, 0, &IO{Reason: err}
	}

	s.latest = newVersion
	s.hasData = true
	return root, newVersion, nil
}

// Prove implements Store.Prove.
func (s *JMTStore) Prove(key []byte, version uint64) (*Proof, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	root, err := s.rootAt(version)
	if err != nil {
		return nil, err
	}
	return s.tree.prove(root, key)
}

// Commitment implements Store.Commitment.
func (s *JMTStore) Commitment(version uint64) ([32]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rootAt(version)
}

// Prune implements Store.Prune. Node records are content-addressed and
// may be shared by versions above uptoVersion, so this implementation
// only raises the prune watermark (Get/Commitment/Prove on pruned
// versions start returning Missing); it does not reclaim node storage.
// A mark-and-sweep GC over the node/ keyspace, keyed by reachability from
// every retained root, is future work — noted rather than silently
// promised.
func (s *JMTStore) Prune(uptoVersion uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if uptoVersion > s.pruned {
		s.pruned = uptoVersion
	}
	return nil
}
