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

// Package leveldbkv implements kv.Store on top of a single mutable
// on-disk database file using github.com/syndtr/goleveldb, the same
// library camlistore.org/pkg/sorted/leveldb uses for its sorted.KeyValue
// implementation.
//
// goleveldb has no notion of a multi-statement transaction, so
// serializability is approximated the simple way: a single mutex
// (txmu) admits one Transact call at a time. That trivially satisfies
// the Store contract
// (no concurrent transaction can conflict with another, because there
// is never more than one in flight) at the cost of the cross-process
// concurrency a real distributed backend would offer — which is exactly
// why the Directory Lock (pkg/dirlock) exists one layer up, to coordinate
// across separate processes that each open their own leveldbkv handle.
package leveldbkv

import (
	"bytes"
	"context"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"indexcore.dev/pkg/kv"
)

// Store is a kv.Store backed by a goleveldb database file.
type Store struct {
	db        *leveldb.DB
	readOpts  *opt.ReadOptions
	writeOpts *opt.WriteOptions
	txmu      sync.Mutex
}

// Open opens (creating if necessary) a leveldb database at path.
func Open(path string) (*Store, error) {
	opts := &opt.Options{
		Filter: filter.NewBloomFilter(10),
	}
	db, err := leveldb.OpenFile(path, opts)
	if err != nil {
		return nil, err
	}
	return &Store{
		db:       db,
		readOpts: &opt.ReadOptions{},
		// fsync is not needed: on process crash the owning directory
		// lock's heartbeat will be stale and another actor can take
		// over; see pkg/dirlock.
		writeOpts: &opt.WriteOptions{Sync: false},
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Transact(ctx context.Context, fn func(kv.Txn) error) error {
	s.txmu.Lock()
	defer s.txmu.Unlock()

	txn := &Txn{db: s.db, readOpts: s.readOpts, overlay: make(map[string]*[]byte)}
	if err := fn(txn); err != nil {
		return err
	}
	if len(txn.order) == 0 {
		return nil
	}
	batch := new(leveldb.Batch)
	for _, k := range txn.order {
		v := txn.overlay[k]
		if v == nil {
			batch.Delete([]byte(k))
		} else {
			batch.Put([]byte(k), *v)
		}
	}
	return s.db.Write(batch, s.writeOpts)
}

// Txn is leveldbkv's kv.Txn. Writes are buffered in an overlay and only
// committed to the database as a single leveldb.Batch when the owning
// Transact call's callback returns successfully.
type Txn struct {
	db       *leveldb.DB
	readOpts *opt.ReadOptions
	overlay  map[string]*[]byte
	order    []string
	written  int
}

func (t *Txn) Get(ctx context.Context, key []byte) ([]byte, error) {
	if v, ok := t.overlay[string(key)]; ok {
		if v == nil {
			return nil, kv.ErrNotFound
		}
		return *v, nil
	}
	val, err := t.db.Get(key, t.readOpts)
	if err == leveldb.ErrNotFound {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (t *Txn) GetRange(ctx context.Context, begin, end []byte) ([]kv.KeyValue, error) {
	var out []kv.KeyValue
	it := t.db.NewIterator(&util.Range{Start: begin, Limit: end}, t.readOpts)
	defer it.Release()
	for it.Next() {
		k := append([]byte(nil), it.Key()...)
		if v, overridden := t.overlay[string(k)]; overridden {
			if v != nil {
				out = append(out, kv.KeyValue{Key: k, Value: *v})
			}
			continue
		}
		out = append(out, kv.KeyValue{Key: k, Value: append([]byte(nil), it.Value()...)})
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	for k, v := range t.overlay {
		if v == nil {
			continue
		}
		kb := []byte(k)
		if bytes.Compare(kb, begin) < 0 || bytes.Compare(kb, end) >= 0 {
			continue
		}
		if !rangeContainsKey(out, kb) {
			out = append(out, kv.KeyValue{Key: kb, Value: *v})
		}
	}
	sortKVs(out)
	return out, nil
}

func rangeContainsKey(kvs []kv.KeyValue, key []byte) bool {
	for _, e := range kvs {
		if bytes.Equal(e.Key, key) {
			return true
		}
	}
	return false
}

func (t *Txn) set(key []byte, v *[]byte) {
	k := string(key)
	if _, existed := t.overlay[k]; !existed {
		t.order = append(t.order, k)
	}
	t.overlay[k] = v
}

func (t *Txn) Set(ctx context.Context, key, value []byte) {
	v := append([]byte(nil), value...)
	t.set(append([]byte(nil), key...), &v)
	t.written += len(key) + len(value)
}

func (t *Txn) Clear(ctx context.Context, key []byte) {
	t.set(append([]byte(nil), key...), nil)
	t.written += len(key)
}

func (t *Txn) ClearRange(ctx context.Context, begin, end []byte) {
	it := t.db.NewIterator(&util.Range{Start: begin, Limit: end}, t.readOpts)
	for it.Next() {
		t.set(append([]byte(nil), it.Key()...), nil)
	}
	it.Release()
	for k := range t.overlay {
		kb := []byte(k)
		if bytes.Compare(kb, begin) >= 0 && bytes.Compare(kb, end) < 0 {
			t.overlay[k] = nil
		}
	}
	t.written += len(begin) + len(end)
}

func (t *Txn) ApproximateSize() int {
	return t.written
}

func sortKVs(kvs []kv.KeyValue) {
	for i := 1; i < len(kvs); i++ {
		for j := i; j > 0 && bytes.Compare(kvs[j-1].Key, kvs[j].Key) > 0; j-- {
			kvs[j-1], kvs[j] = kvs[j], kvs[j-1]
		}
	}
}
