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

// Package storedfields replaces a per-segment, file-oriented
// stored-fields format with a per-document KV layout: one key per
// (segment, docId) holding that document's typed, insertion-ordered
// field record.
package storedfields

import (
	"context"
	"fmt"
	"sync"

	"indexcore.dev/pkg/kv"
	"indexcore.dev/pkg/metrics"
)

// DefaultQueueDepth bounds the number of writes a Writer lets run
// concurrently before Put blocks on the oldest one finishing.
const DefaultQueueDepth = 20

// Writer appends documents to one segment's stored-fields range,
// assigning each a docId in write order. It is not safe for concurrent
// use: docId assignment and the field-kind consistency check both
// assume a single caller issuing Puts one at a time.
type Writer struct {
	txor       kv.Transactor
	prefix     []byte
	segment    string
	queueDepth int

	nextDocID uint64
	kinds     map[string]Kind

	mu    sync.Mutex
	queue []*pendingWrite
}

type pendingWrite struct {
	done chan error
}

// NewWriter opens a Writer for segment under prefix. queueDepth <= 0
// uses DefaultQueueDepth.
func NewWriter(txor kv.Transactor, prefix []byte, segment string, queueDepth int) *Writer {
	if queueDepth <= 0 {
		queueDepth = DefaultQueueDepth
	}
	return &Writer{
		txor:       txor,
		prefix:     append([]byte(nil), prefix...),
		segment:    segment,
		queueDepth: queueDepth,
		kinds:      make(map[string]Kind),
	}
}

// Put writes rec as the next document in the segment and returns its
// docId. Fields are recorded in the order given by rec.Fields. If a
// field name was previously written with a different Kind in this
// segment, Put returns an error instead of widening it.
func (w *Writer) Put(ctx context.Context, rec Record) (uint64, error) {
	for _, f := range rec.Fields {
		if prior, ok := w.kinds[f.Name]; ok {
			if prior != f.Kind {
				return 0, fmt.Errorf("storedfields: field %q was %s, cannot write as %s", f.Name, prior, f.Kind)
			}
		} else {
			w.kinds[f.Name] = f.Kind
		}
	}

	docID := w.nextDocID
	w.nextDocID++
	key := docKey(w.prefix, w.segment, docID)
	raw := encode(rec)

	if err := w.awaitOldestIfFull(); err != nil {
		return docID, err
	}

	pw := &pendingWrite{done: make(chan error, 1)}
	w.mu.Lock()
	w.queue = append(w.queue, pw)
	w.mu.Unlock()

	go func() {
		err := w.txor.Transact(ctx, func(txn kv.Txn) error {
			txn.Set(ctx, key, raw)
			return nil
		})
		if err == nil {
			metrics.WriteStoredFieldsBytes.Add(float64(len(raw)))
		}
		pw.done <- err
	}()

	return docID, nil
}

// awaitOldestIfFull blocks until the oldest in-flight write completes
// if the queue is already at capacity, returning its error (if any) so
// a failure surfaces on the Put that had to wait for it rather than
// being silently swallowed.
func (w *Writer) awaitOldestIfFull() error {
	w.mu.Lock()
	if len(w.queue) < w.queueDepth {
		w.mu.Unlock()
		return nil
	}
	oldest := w.queue[0]
	w.queue = w.queue[1:]
	w.mu.Unlock()
	return <-oldest.done
}

// Close waits for every outstanding write to finish, returning the
// first error encountered, if any.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	pending := w.queue
	w.queue = nil
	w.mu.Unlock()

	var first error
	for _, pw := range pending {
		if err := <-pw.done; err != nil && first == nil {
			first = err
		}
	}
	return first
}
