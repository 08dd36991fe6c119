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

// Package directory presents a small file-like namespace — listAll,
// createOutput, openInput, deleteFile, rename, fileLength — backed by
// keys under one subspace of a kv.Transactor, the way camlistore.org's
// diskpacked blobserver presents a blob namespace backed by append-only
// pack files, except here the pack files themselves live in the KV
// store rather than on local disk. Each named file is chunked into
// fixed-size blocks that are compressed independently and written
// append-only; a block, once written, is never overwritten.
package directory

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"time"

	"indexcore.dev/pkg/blockcache"
	"indexcore.dev/pkg/dirlock"
	"indexcore.dev/pkg/kv"
	"indexcore.dev/pkg/tuple"
)

// DefaultBlockSize is used when Options.BlockSize is zero.
const DefaultBlockSize = 16 << 10

// Options configures a Directory.
type Options struct {
	// BlockSize is the chunk size files are split into. Defaults to
	// DefaultBlockSize.
	BlockSize int32

	// Compression selects the codec applied to each block before it
	// is written. Defaults to AlgoNone.
	Compression Algo

	// Cache is shared across every Directory that references the same
	// underlying subspace, so that concurrent readers of the same file
	// coalesce their block fetches. A nil Cache disables caching.
	Cache *blockcache.Cache

	// LockWindow bounds how long an ObtainLock holder may go without a
	// heartbeat before another caller may steal the lock. See
	// pkg/dirlock for the floor enforced on this value.
	LockWindow time.Duration
}

// Directory is a file-like namespace over one subspace of a
// kv.Transactor. All keys it touches begin with prefix; a Directory
// never reads or writes outside that subspace, so many Directory values
// can safely share one underlying Store by using disjoint prefixes (one
// per (group, partition) pair, in the maintainer's usage).
type Directory struct {
	txor   kv.Transactor
	prefix []byte
	opt    Options
}

// Open returns a Directory over the subspace beginning with prefix.
// prefix is copied; the caller may reuse its backing array.
func Open(txor kv.Transactor, prefix []byte, opt Options) *Directory {
	if opt.BlockSize <= 0 {
		opt.BlockSize = DefaultBlockSize
	}
	if opt.Compression == "" {
		opt.Compression = AlgoNone
	}
	p := append([]byte(nil), prefix...)
	return &Directory{txor: txor, prefix: p, opt: opt}
}

// ListAll returns the names of every file in the directory, in
// lexicographic order.
func (d *Directory) ListAll(ctx context.Context) ([]string, error) {
	begin := fileRefPrefix(d.prefix)
	end := tuple.Strinc(begin)

	var names []string
	err := d.txor.Transact(ctx, func(txn kv.Txn) error {
		kvs, err := txn.GetRange(ctx, begin, end)
		if err != nil {
			return err
		}
		names = make([]string, 0, len(kvs))
		for _, kv_ := range kvs {
			name, err := nameFromFileRefKey(d.prefix, kv_.Key)
			if err != nil {
				return err
			}
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// FileLength returns the current length of the named file.
func (d *Directory) FileLength(ctx context.Context, name string) (int64, error) {
	ref, err := d.lookup(ctx, name)
	if err != nil {
		return 0, err
	}
	return ref.Length, nil
}

// DeleteFile removes the named file's reference and every block it
// owns.
func (d *Directory) DeleteFile(ctx context.Context, name string) error {
	return d.txor.Transact(ctx, func(txn kv.Txn) error {
		raw, err := txn.Get(ctx, fileRefKey(d.prefix, name))
		if err != nil {
			return err
		}
		ref, err := decodeFileRef(raw)
		if err != nil {
			return err
		}
		txn.Clear(ctx, fileRefKey(d.prefix, name))
		if n := ref.numBlocks(); n > 0 {
			begin := blockKey(d.prefix, ref.ID, 0)
			end := blockKey(d.prefix, ref.ID, uint64(n))
			txn.ClearRange(ctx, begin, end)
		}
		return nil
	})
}

// Rename gives the file at oldName the name newName. It fails with
// kv.ErrNotFound if oldName does not exist, and overwrites (deleting the
// blocks of) any file already at newName.
func (d *Directory) Rename(ctx context.Context, oldName, newName string) error {
	if oldName == newName {
		return nil
	}
	return d.txor.Transact(ctx, func(txn kv.Txn) error {
		raw, err := txn.Get(ctx, fileRefKey(d.prefix, oldName))
		if err != nil {
			return err
		}
		if existing, err := txn.Get(ctx, fileRefKey(d.prefix, newName)); err == nil {
			ref, derr := decodeFileRef(existing)
			if derr == nil {
				if n := ref.numBlocks(); n > 0 {
					txn.ClearRange(ctx, blockKey(d.prefix, ref.ID, 0), blockKey(d.prefix, ref.ID, uint64(n)))
				}
			}
		}
		txn.Clear(ctx, fileRefKey(d.prefix, oldName))
		txn.Set(ctx, fileRefKey(d.prefix, newName), raw)
		return nil
	})
}

// ObtainLock acquires the single-writer lock guarding this directory's
// subspace. See pkg/dirlock for acquire/steal semantics.
func (d *Directory) ObtainLock(ctx context.Context, ownerID string) (*dirlock.Lock, error) {
	window := d.opt.LockWindow
	if window <= 0 {
		window = dirlock.DefaultWindow
	}
	return dirlock.Obtain(ctx, d.txor, lockPrefix(d.prefix), ownerID, window)
}

func lockPrefix(prefix []byte) []byte {
	return append(append([]byte(nil), prefix...), tuple.Pack(tuple.Tuple{"lock"})...)
}

func (d *Directory) lookup(ctx context.Context, name string) (fileRef, error) {
	var ref fileRef
	err := d.txor.Transact(ctx, func(txn kv.Txn) error {
		raw, err := txn.Get(ctx, fileRefKey(d.prefix, name))
		if err != nil {
			return err
		}
		ref, err = decodeFileRef(raw)
		return err
	})
	return ref, err
}

// allocateID reads and increments a per-subspace counter, handing out
// file ids 0, 1, 2, ... in order. Two concurrent CreateOutput calls both
// read the same counter value, so on a backend that detects conflicts
// whichever transaction commits second fails with kv.ErrConflict, which
// CreateOutput returns to its caller, rather than silently handing out a
// duplicate id.
func allocateID(ctx context.Context, txn kv.Txn, prefix []byte) (uint64, error) {
	key := nextIDKey(prefix)
	raw, err := txn.Get(ctx, key)
	var next uint64
	switch {
	case err == nil:
		if len(raw) != 8 {
			return 0, fmt.Errorf("directory: corrupt id counter at %x", key)
		}
		next = binary.BigEndian.Uint64(raw)
	case errors.Is(err, kv.ErrNotFound):
		next = 0
	default:
		return 0, err
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], next+1)
	txn.Set(ctx, key, buf[:])
	return next, nil
}
