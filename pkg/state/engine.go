// Copyright 2025 Certen Protocol
//
// Global State Engine (B) — snapshot + write-buffer semantics over the
// authenticated store (A); see spec §4.B.
//
// CONCURRENCY: like the teacher's LedgerStore, Engine assumes single-
// writer access from the block-lifecycle (dispatch) thread; concurrent
// historical reads are expected to go through Store directly, not
// through an Engine snapshot, matching spec §5's thread model.

package state

import (
	"errors"
	"fmt"

	"github.com/certen/kernel/pkg/canon"
	"github.com/certen/kernel/pkg/store"
)

// ErrNoActiveBlock is returned by BeginTx/CommitBlock when no block
// snapshot has been opened via BeginBlock.
var ErrNoActiveBlock = errors.New("state: no active block snapshot")

// ErrBlockAlreadyOpen is returned by BeginBlock when a block is already
// in progress and hasn't been committed or discarded.
var ErrBlockAlreadyOpen = errors.New("state: block snapshot already open")

// Engine layers transactional snapshots on a Store.
type Engine struct {
	store      store.Store
	blockSnap  *Snapshot
	blockBase  uint64
	height     uint64
}

// NewEngine constructs an Engine over the given authenticated store.
func NewEngine(s store.Store) *Engine {
	return &Engine{store: s}
}

// Store returns the underlying authenticated store, e.g. for Query's
// historical reads (spec §4.F Query).
func (e *Engine) Store() store.Store { return e.store }

// BeginBlock opens the block-scoped staging snapshot rooted at the
// store's current version.
func (e *Engine) BeginBlock(height uint64) (*Snapshot, error) {
	if e.blockSnap != nil {
		return nil, ErrBlockAlreadyOpen
	}
	base := e.store.LatestVersion()
	e.blockBase = base
	e.height = height
	e.blockSnap = newSnapshot(e, nil, base)
	return e.blockSnap, nil
}

// BeginTx returns a fresh transaction snapshot reading through the
// current block snapshot.
func (e *Engine) BeginTx() (*Snapshot, error) {
	if e.blockSnap == nil {
		return nil, ErrNoActiveBlock
	}
	return newSnapshot(e, e.blockSnap, e.blockBase), nil
}

// BeginCheckTx returns an ephemeral snapshot rooted directly at the
// committed version (not the in-progress block snapshot), per spec
// §4.F's CheckTx contract.
func (e *Engine) BeginCheckTx() *Snapshot {
	base := e.store.LatestVersion()
	return newSnapshot(e, nil, base)
}

// Read consults the snapshot's own writes, then its parent chain, then
// falls through to the authenticated store at base_version. It records
// key in the snapshot's read_set regardless of outcome.
func (e *Engine) Read(s *Snapshot, key []byte) ([]byte, bool, error) {
	s.readSet[string(key)] = struct{}{}
	return e.readNoTrack(s, key)
}

func (e *Engine) readNoTrack(s *Snapshot, key []byte) ([]byte, bool, error) {
	k := string(key)
	if ent, ok := s.writes[k]; ok {
		if ent.deleted {
			return nil, false, nil
		}
		return ent.value, true, nil
	}
	if s.parent != nil {
		return e.readNoTrack(s.parent, key)
	}
	return e.store.Get(key, s.base)
}

// Write buffers a value under key in the snapshot.
func (e *Engine) Write(s *Snapshot, key, value []byte) {
	k := string(key)
	if _, exists := s.writes[k]; !exists {
		s.order = append(s.order, k)
	}
	s.writes[k] = entry{value: append([]byte(nil), value...)}
}

// Delete buffers a tombstone for key in the snapshot.
func (e *Engine) Delete(s *Snapshot, key []byte) {
	k := string(key)
	if _, exists := s.writes[k]; !exists {
		s.order = append(s.order, k)
	}
	s.writes[k] = entry{deleted: true}
}

// CommitTx merges the tx snapshot's writes into its parent block
// snapshot. Conflict policy: last writer wins within a block — the
// engine performs no concurrency-conflict detection because transactions
// execute strictly in consensus order (spec §4.B, §5).
func (e *Engine) CommitTx(s *Snapshot) error {
	if s.parent == nil {
		return fmt.Errorf("state: CommitTx on a snapshot with no parent block snapshot")
	}
	parent := s.parent
	for _, k := range s.order {
		ent := s.writes[k]
		if _, exists := parent.writes[k]; !exists {
			parent.writes[k] = ent
			parent.order = append(parent.order, k)
			continue
		}
		parent.writes[k] = ent
	}
	return nil
}

// RollbackTx discards the snapshot's writes and read_set. Provided for
// symmetry with CommitTx/spec naming; a snapshot that is simply dropped
// without calling CommitTx has identical effect, since nothing merges
// into the parent until CommitTx runs.
func (e *Engine) RollbackTx(s *Snapshot) {
	s.writes = make(map[string]entry)
	s.order = nil
	s.readSet = make(map[string]struct{})
}

// EphemeralSweep deletes all keys under /tmp/{txID}/ from the block
// snapshot, per spec's "destroyed on transaction end regardless of
// outcome." Implemented as explicit tombstones rather than removal from
// the write buffer, so a value that happened to exist at the block's
// base version under the same key cannot resurface on read-through.
func (e *Engine) EphemeralSweep(txID string) error {
	if e.blockSnap == nil {
		return ErrNoActiveBlock
	}
	prefix, err := canon.Key("/tmp/" + txID)
	if err != nil {
		return fmt.Errorf("state: ephemeral sweep: %w", err)
	}
	for k := range e.blockSnap.writes {
		if canon.HasPrefix([]byte(k), prefix) {
			e.blockSnap.writes[k] = entry{deleted: true}
		}
	}
	return nil
}

// CommitBlock flushes the block snapshot's accumulated writes to the
// authenticated store and returns the new commitment. It is the only
// operation that produces a new app hash, and must be called exactly
// once per height.
func (e *Engine) CommitBlock() ([32]byte, uint64, error) {
	if e.blockSnap == nil {
		return [32]byte{}, 0, ErrNoActiveBlock
	}
	writes := make([]store.Write, 0, len(e.blockSnap.order))
	for _, k := range e.blockSnap.order {
		ent := e.blockSnap.writes[k]
		w := store.Write{Key: []byte(k)}
		if !ent.deleted {
			w.Value = ent.value
		}
		writes = append(writes, w)
	}
	root, version, err := e.store.PutBatch(writes)
	if err != nil {
		return [32]byte{}, 0, err
	}
	e.blockSnap = nil
	return root, version, nil
}

// DiscardBlock abandons the in-progress block snapshot without
// committing, for the BlockError path (spec §7): the block is not
// committed, and the node is expected to halt rather than retry.
func (e *Engine) DiscardBlock() {
	e.blockSnap = nil
}
