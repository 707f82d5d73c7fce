// Copyright 2025 Certen Protocol
//
// KV Adapter for CometBFT Database Integration
// Wraps CometBFT's dbm.DB interface to implement store.KV, the way
// pkg/kvdb originally wrapped it for ledger.KV.

package store

import (
	dbm "github.com/cometbft/cometbft-db"
)

// DBAdapter wraps a CometBFT dbm.DB and exposes the KV interface the tree
// implementation depends on.
type DBAdapter struct {
	db dbm.DB
}

// NewDBAdapter creates a new DBAdapter for the given underlying DB.
func NewDBAdapter(db dbm.DB) *DBAdapter {
	return &DBAdapter{db: db}
}

// Get implements KV.Get.
func (a *DBAdapter) Get(key []byte) ([]byte, error) {
	if a.db == nil {
		return nil, nil
	}
	return a.db.Get(key)
}

// Has implements KV.Has.
func (a *DBAdapter) Has(key []byte) (bool, error) {
	if a.db == nil {
		return false, nil
	}
	return a.db.Has(key)
}

// NewBatch implements KV.NewBatch, wrapping dbm.Batch for durable writes
// at commit time (WriteSync, matching the teacher's SetSync-at-commit
// discipline).
func (a *DBAdapter) NewBatch() Batch {
	return &dbBatch{b: a.db.NewBatch()}
}

type dbBatch struct {
	b   dbm.Batch
	err error
}

func (b *dbBatch) Set(key, value []byte) {
	if b.err != nil {
		return
	}
	b.err = b.b.Set(key, value)
}

func (b *dbBatch) Delete(key []byte) {
	if b.err != nil {
		return
	}
	b.err = b.b.Delete(key)
}

func (b *dbBatch) WriteSync() error {
	if b.err != nil {
		return b.err
	}
	return b.b.WriteSync()
}
