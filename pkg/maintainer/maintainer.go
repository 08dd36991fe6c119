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

// Package maintainer is the glue between a grouped, time-partitioned
// document stream and the per-partition storage primitives: on each
// record op it computes the partition to route to (pkg/partition),
// obtains that partition's directory (pkg/directory) through a
// process-wide cache, and delegates the actual document write or
// delete to a caller-supplied SearchWriter that itself uses
// pkg/storedfields and pkg/directory.
package maintainer

import (
	"context"
	"fmt"
	"sync"

	"indexcore.dev/pkg/agile"
	"indexcore.dev/pkg/directory"
	"indexcore.dev/pkg/dirlock"
	"indexcore.dev/pkg/kv"
	"indexcore.dev/pkg/lazy"
	"indexcore.dev/pkg/partition"
	"indexcore.dev/pkg/storedfields"
	"indexcore.dev/pkg/tuple"
)

// SearchWriter is the narrow collaborator that actually indexes a
// document into one partition's directory. A real implementation
// builds postings in terms of pkg/directory's block storage and
// records stored fields via pkg/storedfields; Maintainer only needs to
// route ops to it.
type SearchWriter interface {
	AddDocument(ctx context.Context, docID uint64, fields storedfields.Record) error
	DeleteDocument(ctx context.Context, docID uint64) error
	Close(ctx context.Context) error
}

// WriterFactory opens a SearchWriter over one partition's Directory.
type WriterFactory func(dir *directory.Directory) (SearchWriter, error)

// Options configures a Maintainer.
type Options struct {
	Partition partition.Options
	Directory directory.Options
	Agile     agile.Options

	AutoMerge       bool
	AutoRepartition bool
}

type groupPartitionKey struct {
	group string
	part  uint64
}

// Maintainer glues the partitioner, directory manager, and agility/lock
// drivers together for one top-level subspace.
type Maintainer struct {
	store  kv.Store
	prefix []byte
	opt    Options
	newDoc WriterFactory
	parts  *partition.Index

	mu      sync.Mutex
	dirs    map[groupPartitionKey]*lazy.Handle[*openPartition]
	counter map[groupPartitionKey]*uint64
}

type openPartition struct {
	dir    *directory.Directory
	writer SearchWriter
	// agileCtx is non-nil when Options.Agile.Agile is set; CommitHooks
	// flushes it to force a merge pass's writes to actually commit.
	agileCtx *agile.Context
}

// Open returns a Maintainer rooted at prefix, using newDoc to open a
// SearchWriter for each partition's Directory as it is first touched.
// It loads every group's partition metas already persisted under
// prefix's meta subspace (tag 0) before returning, so a restarted
// process resumes routing against the partitions it left off with
// instead of starting every group over at an empty partition 0.
func Open(ctx context.Context, store kv.Store, prefix []byte, newDoc WriterFactory, opt Options) (*Maintainer, error) {
	parts, err := partition.Open(ctx, store, prefix, opt.Partition)
	if err != nil {
		return nil, fmt.Errorf("maintainer: load partition metas: %w", err)
	}
	return &Maintainer{
		store:   store,
		prefix:  append([]byte(nil), prefix...),
		opt:     opt,
		newDoc:  newDoc,
		parts:   parts,
		dirs:    make(map[groupPartitionKey]*lazy.Handle[*openPartition]),
		counter: make(map[groupPartitionKey]*uint64),
	}, nil
}

// groupPrefix bounds a whole group's subspace: both its partition metas
// (tag 0) and its partitions' directory data (tag 1) nest under it, so
// GroupDelete can clear both in a single range op and CommitHooks can
// use it directly as a dirlock key.
func groupPrefix(prefix []byte, group string) []byte {
	return append(append([]byte(nil), prefix...), tuple.Pack(tuple.Tuple{"IDX", group})...)
}

// partitionPrefix roots one partition's Directory under the group's
// data subspace, tag 1 — distinct from the meta subspace (tag 0) that
// pkg/partition persists into under the same group prefix.
func partitionPrefix(prefix []byte, group string, partitionID uint64) []byte {
	return append(append([]byte(nil), prefix...), tuple.Pack(tuple.Tuple{"IDX", group, int64(1), int64(partitionID)})...)
}

func (m *Maintainer) handleFor(group string, partitionID uint64) *lazy.Handle[*openPartition] {
	key := groupPartitionKey{group: group, part: partitionID}

	m.mu.Lock()
	h, ok := m.dirs[key]
	if !ok {
		h = lazy.New(func() (*openPartition, error) {
			var txor kv.Transactor = m.store
			var agileCtx *agile.Context
			if m.opt.Agile.Agile {
				agileCtx = agile.New(m.store, m.opt.Agile)
				txor = agileCtx
			}
			dir := directory.Open(txor, partitionPrefix(m.prefix, group, partitionID), m.opt.Directory)
			w, err := m.newDoc(dir)
			if err != nil {
				return nil, fmt.Errorf("maintainer: open search writer for group %q partition %d: %w", group, partitionID, err)
			}
			return &openPartition{dir: dir, writer: w, agileCtx: agileCtx}, nil
		}, func(op *openPartition) error {
			return op.writer.Close(context.Background())
		})
		m.dirs[key] = h
	}
	m.mu.Unlock()
	return h
}

func (m *Maintainer) nextDocID(group string, partitionID uint64) uint64 {
	key := groupPartitionKey{group: group, part: partitionID}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counter[key]
	if !ok {
		var zero uint64
		c = &zero
		m.counter[key] = c
	}
	id := *c
	*c++
	return id
}

// Insert routes a document into the partition that timestamp belongs
// to within group, and delegates its write to that partition's
// SearchWriter. It returns the docId assigned within the partition and
// the partition it landed in.
func (m *Maintainer) Insert(ctx context.Context, group string, timestamp int64, fields storedfields.Record) (docID uint64, partitionID uint64, err error) {
	meta, err := m.parts.PickInsert(ctx, group, timestamp)
	if err != nil {
		return 0, 0, err
	}

	op, err := m.handleFor(group, meta.ID).Get()
	if err != nil {
		return 0, meta.ID, err
	}
	docID = m.nextDocID(group, meta.ID)
	if err := op.writer.AddDocument(ctx, docID, fields); err != nil {
		return docID, meta.ID, err
	}
	return docID, meta.ID, nil
}

// Delete removes docID from whichever partition within group contains
// timestamp.
func (m *Maintainer) Delete(ctx context.Context, group string, timestamp int64, docID uint64) error {
	meta, err := m.parts.PickDelete(ctx, group, timestamp)
	if err != nil {
		return err
	}
	op, err := m.handleFor(group, meta.ID).Get()
	if err != nil {
		return err
	}
	return op.writer.DeleteDocument(ctx, docID)
}

// GroupDelete clears every partition's data for group in one pass and
// drops all of its partition metadata. It does not merge or repartition
// afterward — there is nothing left to merge.
func (m *Maintainer) GroupDelete(ctx context.Context, group string) error {
	begin := groupPrefix(m.prefix, group)
	end := tuple.Strinc(begin)
	if err := m.store.Transact(ctx, func(txn kv.Txn) error {
		txn.ClearRange(ctx, begin, end)
		return nil
	}); err != nil {
		return err
	}

	m.mu.Lock()
	for key, h := range m.dirs {
		if key.group != group {
			continue
		}
		if op, err := h.Get(); err == nil {
			op.writer.Close(ctx)
		}
		delete(m.dirs, key)
		delete(m.counter, key)
	}
	m.mu.Unlock()

	return m.parts.DropGroup(ctx, group)
}

// CommitHooks runs the configured post-commit maintenance for group: an
// agile-driven merge pass if AutoMerge is enabled, then a
// partition.Rebalance pass if AutoRepartition is enabled. Both run
// under one dirlock so two callers never run maintenance on the same
// group concurrently. fetchOldest supplies the document timestamps
// Rebalance needs; a real caller wires this to its search reader over
// the relevant partition.
func (m *Maintainer) CommitHooks(ctx context.Context, group string, fetchOldest partition.OldestDocsFunc) ([]partition.Move, error) {
	if !m.opt.AutoMerge && !m.opt.AutoRepartition {
		return nil, nil
	}

	lockPrefix := groupPrefix(m.prefix, group)
	lock, err := dirlock.Obtain(ctx, m.store, lockPrefix, "maintainer-commit-hook", dirlock.DefaultWindow)
	if err != nil {
		return nil, fmt.Errorf("maintainer: commit hook could not obtain lock for group %q: %w", group, err)
	}
	defer lock.Release(ctx)

	if m.opt.AutoMerge {
		if err := m.flushAgileLocked(ctx, group); err != nil {
			return nil, fmt.Errorf("maintainer: merge pass for group %q: %w", group, err)
		}
	}

	if !m.opt.AutoRepartition {
		return nil, nil
	}
	return m.parts.Rebalance(ctx, group, fetchOldest)
}

// flushAgileLocked forces every open agile Context for group to commit
// its floating sub-transaction now, rather than waiting for its own
// time or size quota. Call only while holding group's dirlock.
func (m *Maintainer) flushAgileLocked(ctx context.Context, group string) error {
	m.mu.Lock()
	var handles []*lazy.Handle[*openPartition]
	for key, h := range m.dirs {
		if key.group == group {
			handles = append(handles, h)
		}
	}
	m.mu.Unlock()

	for _, h := range handles {
		op, err := h.Get()
		if err != nil {
			return err
		}
		if op.agileCtx == nil {
			continue
		}
		if err := op.agileCtx.Flush(ctx); err != nil {
			return err
		}
	}
	return nil
}
