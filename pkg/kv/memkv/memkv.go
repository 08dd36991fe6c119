/*
Copyright 2024 The Indexcore Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package memkv is a naive in-memory implementation of kv.Store, for
// tests and development only — it holds everything in a single btree
// guarded by a mutex, the same role camlistore.org/pkg/sorted's
// NewMemoryKeyValue plays for the sorted.KeyValue interface.
//
// Conflict detection is store-wide rather than per-key: a transaction
// that performed any read fails to commit if any other transaction has
// committed since it began. That's coarser than a real distributed store
// (which tracks per-range read conflicts) but is enough to exercise every
// caller's retry path, which is all this backend is for.
package memkv

import (
	"bytes"
	"context"
	"sync"

	"github.com/google/btree"

	"indexcore.dev/pkg/kv"
)

type item struct {
	key, value []byte
}

func (a item) Less(b btree.Item) bool {
	return bytes.Compare(a.key, b.(item).key) < 0
}

// Store is an in-memory kv.Store.
type Store struct {
	mu      sync.Mutex
	tree    *btree.BTree
	version uint64
	closed  bool
}

// New returns an empty in-memory Store.
func New() *Store {
	return &Store{tree: btree.New(32)}
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) Transact(ctx context.Context, fn func(kv.Txn) error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return kv.ErrClosed
	}
	snapshot := s.tree.Clone()
	startVersion := s.version
	s.mu.Unlock()

	txn := &Txn{store: s, snapshot: snapshot, overlay: make(map[string]*[]byte)}
	if err := fn(txn); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return kv.ErrClosed
	}
	if txn.read && s.version != startVersion {
		return kv.ErrConflict
	}
	for _, op := range txn.ops {
		if op.isClear {
			if op.clearEnd == nil {
				s.tree.Delete(item{key: op.key})
				continue
			}
			s.deleteRangeLocked(op.key, op.clearEnd)
			continue
		}
		s.tree.ReplaceOrInsert(item{key: op.key, value: op.value})
	}
	if len(txn.ops) > 0 {
		s.version++
	}
	return nil
}

func (s *Store) deleteRangeLocked(begin, end []byte) {
	var toDelete [][]byte
	s.tree.AscendRange(item{key: begin}, item{key: end}, func(it btree.Item) bool {
		toDelete = append(toDelete, it.(item).key)
		return true
	})
	for _, k := range toDelete {
		s.tree.Delete(item{key: k})
	}
}

type op struct {
	key      []byte
	value    []byte
	isClear  bool
	clearEnd []byte // nil for a single-key clear
}

// Txn is memkv's kv.Txn implementation. It is not safe for concurrent use
// from multiple goroutines, matching the single-owner usage pattern every
// caller in this module follows.
type Txn struct {
	store    *Store
	snapshot *btree.BTree
	overlay  map[string]*[]byte // nil value = deleted in this txn
	ops      []op
	read     bool
	written  int
}

func (t *Txn) Get(ctx context.Context, key []byte) ([]byte, error) {
	if v, ok := t.overlay[string(key)]; ok {
		if v == nil {
			return nil, kv.ErrNotFound
		}
		return *v, nil
	}
	t.read = true
	found := t.snapshot.Get(item{key: key})
	if found == nil {
		return nil, kv.ErrNotFound
	}
	return found.(item).value, nil
}

func (t *Txn) GetRange(ctx context.Context, begin, end []byte) ([]kv.KeyValue, error) {
	t.read = true
	byKey := make(map[string][]byte)
	var order []string
	t.snapshot.AscendRange(item{key: begin}, item{key: end}, func(it btree.Item) bool {
		k := it.(item).key
		byKey[string(k)] = it.(item).value
		order = append(order, string(k))
		return true
	})
	for k, v := range t.overlay {
		if k < string(begin) || (len(end) > 0 && k >= string(end)) {
			continue
		}
		if _, existed := byKey[k]; !existed {
			order = append(order, k)
		}
		if v == nil {
			delete(byKey, k)
		} else {
			byKey[k] = *v
		}
	}
	seen := make(map[string]bool)
	var out []kv.KeyValue
	for _, k := range order {
		if seen[k] {
			continue
		}
		seen[k] = true
		if v, ok := byKey[k]; ok {
			out = append(out, kv.KeyValue{Key: []byte(k), Value: v})
		}
	}
	sortKVs(out)
	return out, nil
}

func (t *Txn) Set(ctx context.Context, key, value []byte) {
	k := append([]byte(nil), key...)
	v := append([]byte(nil), value...)
	t.overlay[string(k)] = &v
	t.ops = append(t.ops, op{key: k, value: v})
	t.written += len(k) + len(v)
}

func (t *Txn) Clear(ctx context.Context, key []byte) {
	k := append([]byte(nil), key...)
	t.overlay[string(k)] = nil
	t.ops = append(t.ops, op{key: k, isClear: true})
	t.written += len(k)
}

func (t *Txn) ClearRange(ctx context.Context, begin, end []byte) {
	b := append([]byte(nil), begin...)
	e := append([]byte(nil), end...)
	for k := range t.overlay {
		if k >= string(b) && k < string(e) {
			t.overlay[k] = nil
		}
	}
	t.snapshot.AscendRange(item{key: b}, item{key: e}, func(it btree.Item) bool {
		t.overlay[string(it.(item).key)] = nil
		return true
	})
	t.ops = append(t.ops, op{key: b, isClear: true, clearEnd: e})
	t.written += len(b) + len(e)
}

func (t *Txn) ApproximateSize() int {
	return t.written
}

func sortKVs(kvs []kv.KeyValue) {
	// insertion sort: ranges returned by this backend are small in
	// practice (block/stored-fields scans within one segment).
	for i := 1; i < len(kvs); i++ {
		for j := i; j > 0 && bytes.Compare(kvs[j-1].Key, kvs[j].Key) > 0; j-- {
			kvs[j-1], kvs[j] = kvs[j], kvs[j-1]
		}
	}
}
