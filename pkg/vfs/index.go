// Copyright 2025 Certen Protocol
//
// Directory index maintenance for the reserved enumerable directories
// (/sbin, /bin). Spec §4.C mandates list() only for directories with a
// maintained index; general subtree enumeration over the sparse Merkle
// tree is not required and, for an unbounded keyspace, would need a
// prefix-ordered iterator this store intentionally doesn't provide.
//
// The index itself is stored as an ordinary value at a kernel-internal
// key outside the guest-visible path namespace, so it rides along with
// normal snapshot/commit semantics for free.

package vfs

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/certen/kernel/pkg/canon"
	"github.com/certen/kernel/pkg/state"
)

func indexKeyFor(dir string) ([]byte, error) {
	return canon.Key("/__vfs_index" + dir)
}

// maybeIndex updates the name index for dir if path is a direct child of
// one of the enumerable directories.
func maybeIndex(engine *state.Engine, snap *state.Snapshot, path string) error {
	for _, dir := range enumerableDirs {
		prefix := dir + "/"
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		rest := path[len(prefix):]
		if strings.Contains(rest, "/") {
			continue // not a direct child; left unindexed
		}
		return addToIndex(engine, snap, dir, rest)
	}
	return nil
}

func addToIndex(engine *state.Engine, snap *state.Snapshot, dir, name string) error {
	names, err := readIndex(engine, snap, dir)
	if err != nil {
		return err
	}
	for _, n := range names {
		if n == name {
			return nil
		}
	}
	names = append(names, name)
	sort.Strings(names)
	return writeIndex(engine, snap, dir, names)
}

func readIndex(engine *state.Engine, snap *state.Snapshot, dir string) ([]string, error) {
	key, err := indexKeyFor(dir)
	if err != nil {
		return nil, err
	}
	raw, found, err := engine.Read(snap, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	var names []string
	if err := json.Unmarshal(raw, &names); err != nil {
		return nil, err
	}
	return names, nil
}

func writeIndex(engine *state.Engine, snap *state.Snapshot, dir string, names []string) error {
	key, err := indexKeyFor(dir)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(names)
	if err != nil {
		return err
	}
	engine.Write(snap, key, raw)
	return nil
}
