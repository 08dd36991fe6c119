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

package partition

import (
	"encoding/binary"
	"errors"

	"indexcore.dev/pkg/tuple"
)

// allMetaPrefix bounds the whole "IDX" subspace under prefix (every
// group's metas under tag 0, and also its partition data under tag 1,
// which unpackMetaKey skips), used to reload every group's partitions on
// Open.
func allMetaPrefix(prefix []byte) []byte {
	return append(append([]byte(nil), prefix...), tuple.Pack(tuple.Tuple{"IDX"})...)
}

// groupMetaPrefix bounds one group's meta subspace (tag 0), so DropGroup
// can clear it in a single range op.
func groupMetaPrefix(prefix []byte, group string) []byte {
	return append(append([]byte(nil), prefix...), tuple.Pack(tuple.Tuple{"IDX", group, int64(0)})...)
}

// metaKey addresses one partition's persisted meta record, keyed by its
// From bound so a range scan over a group's metas yields them in the
// same order the in-memory btree does. When a partition's From moves
// (PickInsert widening its lower bound), the record has to move too:
// callers clear the old key and set the new one in the same transaction.
func metaKey(prefix []byte, group string, from int64) []byte {
	return append(append([]byte(nil), prefix...), tuple.Pack(tuple.Tuple{"IDX", group, int64(0), from})...)
}

var errShortMetaRecord = errors.New("partition: truncated meta record")

// encodeMeta produces a fixed 32-byte record: ID, Count, From, To, each
// as a big-endian 8-byte field, mirroring pkg/directory's fileRef codec.
func encodeMeta(m Meta) []byte {
	var buf [32]byte
	binary.BigEndian.PutUint64(buf[0:8], m.ID)
	binary.BigEndian.PutUint64(buf[8:16], uint64(m.Count))
	binary.BigEndian.PutUint64(buf[16:24], uint64(m.From))
	binary.BigEndian.PutUint64(buf[24:32], uint64(m.To))
	return buf[:]
}

func decodeMeta(b []byte) (Meta, error) {
	if len(b) < 32 {
		return Meta{}, errShortMetaRecord
	}
	return Meta{
		ID:    binary.BigEndian.Uint64(b[0:8]),
		Count: int64(binary.BigEndian.Uint64(b[8:16])),
		From:  int64(binary.BigEndian.Uint64(b[16:24])),
		To:    int64(binary.BigEndian.Uint64(b[24:32])),
	}, nil
}

// unpackMetaKey recovers the group a persisted meta key belongs to, given
// the same prefix allMetaPrefix's scan was bounded by. It returns ok=false
// for any key under the subspace that isn't a tag-0 meta record (for
// instance a partition's data keys, tagged 1), so a broad scan over the
// whole "IDX" subspace can pick out just the metas.
func unpackMetaKey(prefix, key []byte) (group string, ok bool) {
	if len(key) < len(prefix) {
		return "", false
	}
	t, err := tuple.Unpack(key[len(prefix):])
	if err != nil || len(t) < 3 {
		return "", false
	}
	root, ok := t[0].(string)
	if !ok || root != "IDX" {
		return "", false
	}
	group, ok = t[1].(string)
	if !ok {
		return "", false
	}
	tag, ok := t[2].(int64)
	if !ok || tag != 0 {
		return "", false
	}
	return group, true
}
