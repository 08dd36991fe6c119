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

package agile

import (
	"context"
	"sort"

	"indexcore.dev/pkg/kv"
)

// txn is one op's view of the current floating sub-transaction: reads
// see this op's own writes, the floating sub-transaction's
// not-yet-committed writes from earlier ops, and finally fall through
// to the backing store for anything neither has touched.
type txn struct {
	ctx *Context

	local   map[string]*[]byte
	order   []string
	written int
}

func (t *txn) Get(ctx context.Context, key []byte) ([]byte, error) {
	k := string(key)
	if v, ok := t.local[k]; ok {
		if v == nil {
			return nil, kv.ErrNotFound
		}
		return *v, nil
	}
	if v, ok := t.ctx.pendingGet(k); ok {
		if v == nil {
			return nil, kv.ErrNotFound
		}
		return *v, nil
	}
	var out []byte
	err := t.ctx.store.Transact(ctx, func(inner kv.Txn) error {
		v, err := inner.Get(ctx, key)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (t *txn) GetRange(ctx context.Context, begin, end []byte) ([]kv.KeyValue, error) {
	byKey := make(map[string][]byte)
	var order []string

	err := t.ctx.store.Transact(ctx, func(inner kv.Txn) error {
		kvs, err := inner.GetRange(ctx, begin, end)
		if err != nil {
			return err
		}
		for _, kvp := range kvs {
			byKey[string(kvp.Key)] = kvp.Value
			order = append(order, string(kvp.Key))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	applyOverlay := func(k string, v *[]byte) {
		if k < string(begin) || (len(end) > 0 && k >= string(end)) {
			return
		}
		if _, existed := byKey[k]; !existed {
			order = append(order, k)
		}
		if v == nil {
			delete(byKey, k)
		} else {
			byKey[k] = *v
		}
	}
	for k, v := range t.ctx.pendingSnapshot() {
		applyOverlay(k, v)
	}
	for k, v := range t.local {
		applyOverlay(k, v)
	}

	sort.Strings(order)
	seen := make(map[string]bool, len(order))
	var out []kv.KeyValue
	for _, k := range order {
		if seen[k] {
			continue
		}
		seen[k] = true
		if v, ok := byKey[k]; ok {
			out = append(out, kv.KeyValue{Key: []byte(k), Value: v})
		}
	}
	return out, nil
}

func (t *txn) Set(ctx context.Context, key, value []byte) {
	k := append([]byte(nil), key...)
	v := append([]byte(nil), value...)
	t.record(string(k), &v, len(k)+len(v))
}

func (t *txn) Clear(ctx context.Context, key []byte) {
	k := append([]byte(nil), key...)
	t.record(string(k), nil, len(k))
}

func (t *txn) ClearRange(ctx context.Context, begin, end []byte) {
	// Floating sub-transactions buffer individual key writes, so a
	// range clear is expanded at once into per-key tombstones for every
	// key in [begin, end) found in the store, in the pending overlay, or
	// among this op's own writes; a key written into the range after
	// this call is not cleared by it. For the common case in this module (directory block ranges,
	// stored-fields segment ranges) resolving eagerly against a
	// present-day snapshot is sufficient, since nothing else writes
	// into a range being cleared concurrently within one floating
	// sub-transaction's lifetime.
	var keys []string
	err := t.ctx.store.Transact(ctx, func(inner kv.Txn) error {
		kvs, err := inner.GetRange(ctx, begin, end)
		if err != nil {
			return err
		}
		for _, kvp := range kvs {
			keys = append(keys, string(kvp.Key))
		}
		return nil
	})
	if err != nil {
		return
	}
	for k := range t.ctx.pendingSnapshot() {
		if k >= string(begin) && (len(end) == 0 || k < string(end)) {
			keys = append(keys, k)
		}
	}
	for k := range t.local {
		if k >= string(begin) && (len(end) == 0 || k < string(end)) {
			keys = append(keys, k)
		}
	}
	for _, k := range keys {
		t.record(k, nil, len(k))
	}
}

func (t *txn) record(key string, value *[]byte, size int) {
	if _, existed := t.local[key]; !existed {
		t.order = append(t.order, key)
	}
	t.local[key] = value
	t.written += size
}

func (t *txn) ApproximateSize() int { return t.written }

func (c *Context) pendingGet(key string) (*[]byte, bool) {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	v, ok := c.overlay[key]
	return v, ok
}

func (c *Context) pendingSnapshot() map[string]*[]byte {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	out := make(map[string]*[]byte, len(c.overlay))
	for k, v := range c.overlay {
		out[k] = v
	}
	return out
}
