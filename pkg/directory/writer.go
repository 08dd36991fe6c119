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

package directory

import (
	"context"
	"fmt"

	"indexcore.dev/pkg/kv"
)

// Writer accumulates bytes into fixed-size blocks and flushes each full
// block to the store as it fills. Blocks are written append-only: a
// block number, once written, is never revisited. Writer is not safe
// for concurrent use.
type Writer struct {
	dir  *Directory
	name string
	id   uint64

	buf       []byte
	blockNo   uint64
	total     int64
	closed    bool
	committed bool
}

// CreateOutput opens a new file named name for writing, assigning it a
// fresh file id. If a file already exists at name it is overwritten once
// Close succeeds; until then the existing file is untouched and still
// readable.
func (d *Directory) CreateOutput(ctx context.Context, name string) (*Writer, error) {
	var id uint64
	err := d.txor.Transact(ctx, func(txn kv.Txn) error {
		allocated, err := allocateID(ctx, txn, d.prefix)
		if err != nil {
			return err
		}
		id = allocated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Writer{dir: d, name: name, id: id}, nil
}

// Write buffers p, flushing complete blocks to the store as they fill.
func (w *Writer) Write(ctx context.Context, p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("directory: write to closed Writer for %q", w.name)
	}
	n := len(p)
	blockSize := int(w.dir.opt.BlockSize)
	for len(p) > 0 {
		room := blockSize - len(w.buf)
		take := room
		if take > len(p) {
			take = len(p)
		}
		w.buf = append(w.buf, p[:take]...)
		p = p[take:]
		w.total += int64(take)
		if len(w.buf) == blockSize {
			if err := w.flushBlock(ctx); err != nil {
				return n - len(p), err
			}
		}
	}
	return n, nil
}

func (w *Writer) flushBlock(ctx context.Context) error {
	if len(w.buf) == 0 {
		return nil
	}
	compressed, err := compressBlock(w.dir.opt.Compression, w.buf)
	if err != nil {
		return err
	}
	blockNo := w.blockNo
	w.blockNo++
	key := blockKey(w.dir.prefix, w.id, blockNo)
	w.buf = w.buf[:0]
	return w.dir.txor.Transact(ctx, func(txn kv.Txn) error {
		txn.Set(ctx, key, compressed)
		return nil
	})
}

// Close flushes any partial final block and publishes the file
// reference under its name, making it visible to ListAll, OpenInput and
// FileLength. Close is idempotent; calling it twice is a no-op.
func (w *Writer) Close(ctx context.Context) error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.flushBlock(ctx); err != nil {
		return err
	}
	ref := fileRef{ID: w.id, Length: w.total, BlockSize: w.dir.opt.BlockSize, Compression: w.dir.opt.Compression}
	err := w.dir.txor.Transact(ctx, func(txn kv.Txn) error {
		txn.Set(ctx, fileRefKey(w.dir.prefix, w.name), ref.encode())
		return nil
	})
	if err != nil {
		return err
	}
	w.committed = true
	return nil
}
