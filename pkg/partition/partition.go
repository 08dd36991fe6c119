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

// Package partition routes documents among time-bounded partitions
// within a grouping key, so that no one partition's physical index
// grows past a size bound. Each group's partitions are kept in an
// in-memory btree ordered by their from timestamp, the same structure
// erigon-lib's aggregator uses to look up the state file covering a
// given block number by endBlock — here the ordered key is a
// partition's lower timestamp bound instead of a block range's upper
// one. When opened against a kv.Transactor, every mutation is mirrored
// into a persisted meta subspace so the btree can be rebuilt on restart
// instead of starting over at an empty group.
package partition

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/btree"

	"indexcore.dev/pkg/kv"
	"indexcore.dev/pkg/tuple"
)

// Meta describes one partition of a group: a monotone [From, To] bound
// over the configured timestamp field, and how many live documents it
// holds.
type Meta struct {
	ID    uint64
	Count int64
	From  int64
	To    int64
}

type metaItem struct {
	m Meta
}

func (a metaItem) Less(than btree.Item) bool {
	return a.m.From < than.(metaItem).m.From
}

// Options bounds partition size and rebalancing behavior.
type Options struct {
	// HighWatermark is the document count above which a partition is
	// eligible for rebalancing.
	HighWatermark int64
	// RepartitionCount caps how many documents one rebalance pass
	// moves out of an over-full partition.
	RepartitionCount int64
}

const (
	DefaultHighWatermark    = 1_000_000
	DefaultRepartitionCount = 100_000
)

// Index holds every group's partitions in memory, optionally mirrored
// into a persisted meta subspace. It is safe for concurrent use.
type Index struct {
	opt    Options
	txor   kv.Transactor // nil: in-memory only, as in unit tests
	prefix []byte

	mu     sync.Mutex
	groups map[string]*btree.BTree
	nextID map[string]uint64
}

func normalizeOpt(opt Options) Options {
	if opt.HighWatermark <= 0 {
		opt.HighWatermark = DefaultHighWatermark
	}
	if opt.RepartitionCount <= 0 {
		opt.RepartitionCount = DefaultRepartitionCount
	}
	return opt
}

// New returns an empty, purely in-memory Index: nothing is persisted,
// and nothing is reloaded. Use Open to back an Index with a KV subspace.
func New(opt Options) *Index {
	return &Index{opt: normalizeOpt(opt), groups: make(map[string]*btree.BTree), nextID: make(map[string]uint64)}
}

// Open returns an Index backed by the meta subspace under prefix in
// txor, having first reloaded every group's partitions already
// persisted there. Every later mutation through the returned Index
// (PickInsert, PickDelete, Rebalance, DropGroup) is mirrored into that
// subspace in the same transaction as its in-memory update.
func Open(ctx context.Context, txor kv.Transactor, prefix []byte, opt Options) (*Index, error) {
	idx := &Index{
		opt:    normalizeOpt(opt),
		txor:   txor,
		prefix: append([]byte(nil), prefix...),
		groups: make(map[string]*btree.BTree),
		nextID: make(map[string]uint64),
	}
	if err := idx.reload(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

// reload scans the whole meta subspace under idx.prefix and replays
// every persisted partition into the in-memory btree it belongs to.
func (idx *Index) reload(ctx context.Context) error {
	begin := allMetaPrefix(idx.prefix)
	end := tuple.Strinc(begin)
	return idx.txor.Transact(ctx, func(txn kv.Txn) error {
		kvs, err := txn.GetRange(ctx, begin, end)
		if err != nil {
			return err
		}
		for _, rec := range kvs {
			group, ok := unpackMetaKey(idx.prefix, rec.Key)
			if !ok {
				continue
			}
			m, err := decodeMeta(rec.Value)
			if err != nil {
				return fmt.Errorf("partition: reload group %q: %w", group, err)
			}
			idx.loadMetaLocked(group, m)
		}
		return nil
	})
}

// loadMetaLocked installs a persisted Meta into the in-memory index
// without touching the backing store, used while replaying reload's
// scan. Must be called with idx.mu held or before idx is shared.
func (idx *Index) loadMetaLocked(group string, m Meta) {
	tree := idx.treeLocked(group)
	tree.ReplaceOrInsert(metaItem{m: m})
	if m.ID >= idx.nextID[group] {
		idx.nextID[group] = m.ID + 1
	}
}

func (idx *Index) treeLocked(group string) *btree.BTree {
	t, ok := idx.groups[group]
	if !ok {
		t = btree.New(32)
		idx.groups[group] = t
	}
	return t
}

func (idx *Index) allocIDLocked(group string, tree *btree.BTree) uint64 {
	max, ok := idx.nextID[group]
	if !ok {
		tree.Ascend(func(it btree.Item) bool {
			if id := it.(metaItem).m.ID; id >= max {
				max = id + 1
			}
			return true
		})
	}
	idx.nextID[group] = max + 1
	return max
}

// metasOrdered returns a group's partitions ordered by From, ascending.
func (idx *Index) metasOrdered(group string) []Meta {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	tree, ok := idx.groups[group]
	if !ok {
		return nil
	}
	var out []Meta
	tree.Ascend(func(it btree.Item) bool {
		out = append(out, it.(metaItem).m)
		return true
	})
	return out
}

// Metas returns a snapshot of a group's partitions, ordered by From.
func (idx *Index) Metas(group string) []Meta {
	return idx.metasOrdered(group)
}

// DropGroup discards every partition meta for group, in memory and (if
// this Index was opened against a store) in the persisted meta
// subspace, and resets its id allocator as if the group had never been
// inserted into. The caller is responsible for clearing the group's
// physical data separately; DropGroup only drops the bookkeeping this
// package owns.
func (idx *Index) DropGroup(ctx context.Context, group string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.txor != nil {
		begin := groupMetaPrefix(idx.prefix, group)
		end := tuple.Strinc(begin)
		if err := idx.txor.Transact(ctx, func(txn kv.Txn) error {
			txn.ClearRange(ctx, begin, end)
			return nil
		}); err != nil {
			return err
		}
	}

	delete(idx.groups, group)
	delete(idx.nextID, group)
	return nil
}

// persistLocked mirrors a partition's new state into the meta subspace.
// When the partition's From moved from oldFrom, the record at its old
// key is cleared in the same transaction so the subspace never holds
// two records for one partition id. Must be called with idx.mu held.
func (idx *Index) persistLocked(ctx context.Context, group string, oldFrom int64, hadOld bool, m Meta) error {
	if idx.txor == nil {
		return nil
	}
	return idx.txor.Transact(ctx, func(txn kv.Txn) error {
		if hadOld && oldFrom != m.From {
			txn.Clear(ctx, metaKey(idx.prefix, group, oldFrom))
		}
		txn.Set(ctx, metaKey(idx.prefix, group, m.From), encodeMeta(m))
		return nil
	})
}

// greatestFromLE returns the partition with the greatest From <= t, or
// the oldest partition if none qualifies, or ok=false if the group has
// no partitions at all. Must be called with idx.mu held.
func greatestFromLE(tree *btree.BTree, t int64) (Meta, bool) {
	var found Meta
	var ok bool
	tree.DescendLessOrEqual(metaItem{m: Meta{From: t}}, func(it btree.Item) bool {
		found = it.(metaItem).m
		ok = true
		return false
	})
	if ok {
		return found, true
	}
	var oldest Meta
	var any bool
	tree.Ascend(func(it btree.Item) bool {
		oldest = it.(metaItem).m
		any = true
		return false
	})
	return oldest, any
}

func replaceLocked(tree *btree.BTree, oldFrom int64, m Meta) {
	tree.Delete(metaItem{m: Meta{From: oldFrom}})
	tree.ReplaceOrInsert(metaItem{m: m})
}

// PickInsert assigns timestamp t to a partition within group, creating
// a partition (or, rarely, a fresh one to avoid rebalancing an
// already-full partition) as needed, and returns the partition it was
// routed to.
func (idx *Index) PickInsert(ctx context.Context, group string, t int64) (Meta, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	tree := idx.treeLocked(group)

	if tree.Len() == 0 {
		id := idx.allocIDLocked(group, tree)
		m := Meta{ID: id, From: t, To: t, Count: 1}
		tree.ReplaceOrInsert(metaItem{m: m})
		if err := idx.persistLocked(ctx, group, 0, false, m); err != nil {
			return Meta{}, err
		}
		return m, nil
	}

	chosen, _ := greatestFromLE(tree, t)
	if chosen.Count >= idx.opt.HighWatermark && t < chosen.From {
		id := idx.allocIDLocked(group, tree)
		m := Meta{ID: id, From: t, To: t, Count: 1}
		tree.ReplaceOrInsert(metaItem{m: m})
		if err := idx.persistLocked(ctx, group, 0, false, m); err != nil {
			return Meta{}, err
		}
		return m, nil
	}

	oldFrom := chosen.From
	chosen.Count++
	if t < chosen.From {
		chosen.From = t
	}
	if t > chosen.To {
		chosen.To = t
	}
	replaceLocked(tree, oldFrom, chosen)
	if err := idx.persistLocked(ctx, group, oldFrom, true, chosen); err != nil {
		return Meta{}, err
	}
	return chosen, nil
}

// ErrNoPartitionContains is returned by PickDelete when no partition in
// the group covers timestamp t.
type ErrNoPartitionContains struct {
	Group string
	T     int64
}

func (e *ErrNoPartitionContains) Error() string {
	return fmt.Sprintf("partition: no partition in group %q contains timestamp %d", e.Group, e.T)
}

// PickDelete records a deletion of a document with timestamp t from
// group, decrementing the covering partition's count. From/To bounds
// are never narrowed on delete — they remain correct as an outer bound
// even though they may no longer be tight.
func (idx *Index) PickDelete(ctx context.Context, group string, t int64) (Meta, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	tree, ok := idx.groups[group]
	if !ok {
		return Meta{}, &ErrNoPartitionContains{Group: group, T: t}
	}

	var chosen Meta
	var found bool
	tree.Ascend(func(it btree.Item) bool {
		m := it.(metaItem).m
		if m.From <= t && t <= m.To {
			chosen = m
			found = true
		}
		return true
	})
	if !found {
		return Meta{}, &ErrNoPartitionContains{Group: group, T: t}
	}

	oldFrom := chosen.From
	chosen.Count--
	if chosen.Count < 0 {
		panic(fmt.Sprintf("partition: negative count %d for partition %d in group %q", chosen.Count, chosen.ID, group))
	}
	replaceLocked(tree, oldFrom, chosen)
	if err := idx.persistLocked(ctx, group, oldFrom, true, chosen); err != nil {
		return Meta{}, err
	}
	return chosen, nil
}

// PickQueryPartition returns the partition that should serve a query:
// the newest partition by default, or the oldest if the caller has
// requested results sorted ascending on the partitioning field.
func (idx *Index) PickQueryPartition(group string, ascending bool) (Meta, bool) {
	metas := idx.metasOrdered(group)
	if len(metas) == 0 {
		return Meta{}, false
	}
	if ascending {
		return metas[0], true
	}
	return metas[len(metas)-1], true
}
