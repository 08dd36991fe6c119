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
	"encoding/binary"
	"errors"
)

// fileRef is the value stored under a fileRefKey. It is immutable except
// for Length, which is fixed once on Close of the Writer that created it.
// All blocks belonging to ID have block numbers in [0, numBlocks(Length)).
type fileRef struct {
	ID          uint64
	Length      int64
	BlockSize   int32
	Compression Algo
}

func (f fileRef) numBlocks() int64 {
	if f.BlockSize <= 0 {
		return 0
	}
	return (f.Length + int64(f.BlockSize) - 1) / int64(f.BlockSize)
}

var errShortFileRef = errors.New("directory: truncated file reference")

// encode produces a length-delimited binary record: a fixed 8+8+4 byte
// header followed by the compression algorithm name. Keeping the name as
// a variable-length trailer, rather than a fixed enum byte, lets new
// codecs be added without changing the header layout.
func (f fileRef) encode() []byte {
	name := string(f.Compression)
	buf := make([]byte, 20+len(name))
	binary.BigEndian.PutUint64(buf[0:8], f.ID)
	binary.BigEndian.PutUint64(buf[8:16], uint64(f.Length))
	binary.BigEndian.PutUint32(buf[16:20], uint32(f.BlockSize))
	copy(buf[20:], name)
	return buf
}

func decodeFileRef(b []byte) (fileRef, error) {
	if len(b) < 20 {
		return fileRef{}, errShortFileRef
	}
	return fileRef{
		ID:          binary.BigEndian.Uint64(b[0:8]),
		Length:      int64(binary.BigEndian.Uint64(b[8:16])),
		BlockSize:   int32(binary.BigEndian.Uint32(b[16:20])),
		Compression: Algo(b[20:]),
	}, nil
}

// withLength returns a copy of f with Length replaced, used to finalize a
// fileRef once a Writer knows the file's true size.
func (f fileRef) withLength(n int64) fileRef {
	f.Length = n
	return f
}
