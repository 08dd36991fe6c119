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
	"fmt"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// Algo names a per-file block compression codec, stored alongside the
// file's reference so a reader never needs out-of-band configuration to
// decompress blocks written by a different process.
type Algo string

const (
	// AlgoNone stores blocks uncompressed.
	AlgoNone Algo = "none"
	// AlgoSnappy trades ratio for speed, suited to frequently-read
	// postings blocks.
	AlgoSnappy Algo = "snappy"
	// AlgoZstd gives a better ratio at higher CPU cost, suited to
	// cold stored-fields blocks.
	AlgoZstd Algo = "zstd"
)

var zstdEncoder, _ = zstd.NewWriter(nil)
var zstdDecoder, _ = zstd.NewReader(nil)

func compressBlock(algo Algo, raw []byte) ([]byte, error) {
	switch algo {
	case AlgoNone, "":
		return raw, nil
	case AlgoSnappy:
		return snappy.Encode(nil, raw), nil
	case AlgoZstd:
		return zstdEncoder.EncodeAll(raw, nil), nil
	default:
		return nil, fmt.Errorf("directory: unknown compression algorithm %q", algo)
	}
}

func decompressBlock(algo Algo, compressed []byte) ([]byte, error) {
	switch algo {
	case AlgoNone, "":
		return compressed, nil
	case AlgoSnappy:
		return snappy.Decode(nil, compressed)
	case AlgoZstd:
		return zstdDecoder.DecodeAll(compressed, nil)
	default:
		return nil, fmt.Errorf("directory: unknown compression algorithm %q", algo)
	}
}
