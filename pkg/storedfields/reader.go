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

package storedfields

import (
	"context"
	"time"

	"indexcore.dev/pkg/kv"
	"indexcore.dev/pkg/metrics"
	"indexcore.dev/pkg/tuple"
)

// Get fetches and decodes a single document's stored fields.
func Get(ctx context.Context, txor kv.Transactor, prefix []byte, segment string, docID uint64) (Record, error) {
	start := time.Now()
	defer func() { metrics.WaitGetStoredFields.Observe(time.Since(start).Seconds()) }()

	var raw []byte
	err := txor.Transact(ctx, func(txn kv.Txn) error {
		v, err := txn.Get(ctx, docKey(prefix, segment, docID))
		if err != nil {
			return err
		}
		raw = v
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	return decode(raw)
}

// DocRecord pairs a decoded Record with the docId it was stored under,
// as returned by ScanSegment.
type DocRecord struct {
	DocID  uint64
	Record Record
}

// ScanSegment reads every document in segment with a single range read,
// avoiding one round trip per document the way a repeated Get would
// require.
func ScanSegment(ctx context.Context, txor kv.Transactor, prefix []byte, segment string) ([]DocRecord, error) {
	begin := segmentPrefix(prefix, segment)
	end := tuple.Strinc(begin)

	var out []DocRecord
	err := txor.Transact(ctx, func(txn kv.Txn) error {
		kvs, err := txn.GetRange(ctx, begin, end)
		if err != nil {
			return err
		}
		out = make([]DocRecord, 0, len(kvs))
		for _, kv_ := range kvs {
			docID, err := docIDFromKey(prefix, segment, kv_.Key)
			if err != nil {
				return err
			}
			rec, err := decode(kv_.Value)
			if err != nil {
				return err
			}
			out = append(out, DocRecord{DocID: docID, Record: rec})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func docIDFromKey(prefix []byte, segment string, key []byte) (uint64, error) {
	suffix := key[len(prefix):]
	t, err := tuple.Unpack(suffix)
	if err != nil {
		return 0, err
	}
	if len(t) != 3 {
		return 0, tuple.ErrMalformed
	}
	id, ok := t[2].(int64)
	if !ok {
		return 0, tuple.ErrMalformed
	}
	return uint64(id), nil
}

// DeleteSegment clears every stored-fields record for segment in one
// range clear. Deleting a single live document within a segment does
// not touch stored fields at all — that is recorded as a tombstone in
// the search engine's liveness file and only reclaimed here once the
// whole segment is dropped at merge time.
func DeleteSegment(ctx context.Context, txor kv.Transactor, prefix []byte, segment string) error {
	begin := segmentPrefix(prefix, segment)
	end := tuple.Strinc(begin)
	err := txor.Transact(ctx, func(txn kv.Txn) error {
		txn.ClearRange(ctx, begin, end)
		return nil
	})
	if err != nil {
		return err
	}
	metrics.DeleteStoredFields.Inc()
	return nil
}
