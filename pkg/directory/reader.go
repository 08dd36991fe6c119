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
	"io"

	"indexcore.dev/pkg/blockcache"
	"indexcore.dev/pkg/kv"
)

// Reader reads a file's content by mapping byte offsets to blocks. A
// Reader is safe for concurrent use: each Slice call operates on its own
// cursor, so multiple goroutines may read disjoint or overlapping
// regions of the same file concurrently without interfering with one
// another's position.
type Reader struct {
	dir *Directory
	ref fileRef
}

// OpenInput opens the named file for reading.
func (d *Directory) OpenInput(ctx context.Context, name string) (*Reader, error) {
	ref, err := d.lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	return &Reader{dir: d, ref: ref}, nil
}

// Length returns the file's length as of when it was opened.
func (r *Reader) Length() int64 { return r.ref.Length }

// ReadAt reads len(p) bytes starting at offset off, in the style of
// io.ReaderAt: it returns io.EOF only when fewer bytes than len(p) could
// be read because the file ended.
func (r *Reader) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off < 0 || off > r.ref.Length {
		return 0, io.EOF
	}
	blockSize := int64(r.ref.BlockSize)
	n := 0
	for n < len(p) {
		cur := off + int64(n)
		if cur >= r.ref.Length {
			return n, io.EOF
		}
		blockNo := uint64(cur / blockSize)
		blockOff := int(cur % blockSize)

		block, err := r.readBlock(ctx, blockNo)
		if err != nil {
			return n, err
		}
		if blockOff >= len(block) {
			return n, io.EOF
		}
		copied := copy(p[n:], block[blockOff:])
		n += copied
	}
	return n, nil
}

// Slice returns a fresh, independently-positioned cursor over this
// file's content, safe to hand to a separate goroutine.
func (r *Reader) Slice() *Cursor {
	return &Cursor{r: r}
}

func (r *Reader) readBlock(ctx context.Context, blockNo uint64) ([]byte, error) {
	key := blockcache.Key{Dir: string(r.dir.prefix), FileID: r.ref.ID, Block: blockNo}
	load := func() ([]byte, error) {
		var compressed []byte
		err := r.dir.txor.Transact(ctx, func(txn kv.Txn) error {
			v, err := txn.Get(ctx, blockKey(r.dir.prefix, r.ref.ID, blockNo))
			if err != nil {
				return err
			}
			compressed = v
			return nil
		})
		if err != nil {
			return nil, err
		}
		return decompressBlock(r.ref.Compression, compressed)
	}
	if r.dir.opt.Cache == nil {
		return load()
	}
	return r.dir.opt.Cache.GetOrLoad(key, load)
}

// Cursor is a sequential, independently-positioned view over a Reader's
// file, implementing io.Reader for callers that want to stream a file
// rather than address it by offset.
type Cursor struct {
	r   *Reader
	pos int64
}

func (c *Cursor) Read(p []byte) (int, error) {
	n, err := c.r.ReadAt(context.Background(), p, c.pos)
	c.pos += int64(n)
	return n, err
}

// ReadContext is like Read but threads ctx through to the backing store
// instead of defaulting to context.Background.
func (c *Cursor) ReadContext(ctx context.Context, p []byte) (int, error) {
	n, err := c.r.ReadAt(ctx, p, c.pos)
	c.pos += int64(n)
	return n, err
}

// Seek repositions the cursor, in the style of io.Seeker with
// io.SeekStart/io.SeekCurrent/io.SeekEnd.
func (c *Cursor) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = c.pos
	case io.SeekEnd:
		base = c.r.ref.Length
	default:
		return 0, io.ErrUnexpectedEOF
	}
	c.pos = base + offset
	return c.pos, nil
}
