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

// Package agile wraps a caller's transaction with an option to spread
// bulk work (merges, repartitions) across floating sub-transactions
// instead of one giant commit. In non-agile mode every op passes
// straight through to the underlying store. In agile mode a
// sub-transaction is opened lazily on the first op and accumulates
// writes locally; once its wall-clock age or its written-byte total
// crosses a quota, it commits and a fresh one opens for the next op.
// Context itself implements kv.Transactor, so it is a drop-in
// substitute for a kv.Store anywhere a caller is written against that
// interface (pkg/directory, pkg/storedfields, pkg/partition).
package agile

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"indexcore.dev/pkg/kv"
	"indexcore.dev/pkg/metrics"
)

// DefaultTimeQuota and DefaultSizeQuota are the thresholds that trigger
// an automatic commit of the current floating sub-transaction.
const (
	DefaultTimeQuota = time.Second
	DefaultSizeQuota = 900 << 10 // 900 KiB
)

// Options configures a Context.
type Options struct {
	// Agile enables floating sub-transactions. If false, every op is
	// passed straight through to the backing store and the quotas
	// below are ignored.
	Agile bool

	TimeQuota time.Duration
	SizeQuota int64
}

// Context drives either pass-through or floating-sub-transaction
// commits against a backing kv.Store, depending on Options.Agile.
type Context struct {
	store     kv.Store
	agile     bool
	timeQuota time.Duration
	sizeQuota int64

	// lock is taken on the read side by every ordinary op and on the
	// write side by commitNow, so a commit never runs concurrently
	// with an op still accumulating into the sub-transaction it is
	// about to flush.
	lock sync.RWMutex

	dataMu       sync.Mutex
	overlay      map[string]*[]byte
	order        []string
	createdAt    time.Time
	writtenBytes int64
	closed       bool

	// committing prevents a thundering herd of ops that all observe a
	// crossed quota from each attempting their own commit; only the
	// first to flip this flag actually commits.
	committing int32
}

// New returns a Context driving store. If opt.Agile is false, Context
// is a thin pass-through and opt.TimeQuota/SizeQuota are unused.
func New(store kv.Store, opt Options) *Context {
	tq := opt.TimeQuota
	if tq <= 0 {
		tq = DefaultTimeQuota
	}
	sq := opt.SizeQuota
	if sq <= 0 {
		sq = DefaultSizeQuota
	}
	return &Context{store: store, agile: opt.Agile, timeQuota: tq, sizeQuota: sq}
}

// Transact runs fn as one logical op. In non-agile mode this commits
// immediately against the backing store, same as calling
// store.Transact directly. In agile mode fn's writes are folded into
// the current floating sub-transaction, and that sub-transaction is
// committed only once its age or size crosses a quota.
func (c *Context) Transact(ctx context.Context, fn func(kv.Txn) error) error {
	if !c.agile {
		return c.store.Transact(ctx, fn)
	}

	c.lock.RLock()
	if c.closed {
		c.lock.RUnlock()
		return kv.ErrClosed
	}
	txn := &txn{ctx: c, local: make(map[string]*[]byte)}
	err := fn(txn)
	c.lock.RUnlock()
	if err != nil {
		return err
	}

	c.mergeOps(txn)

	if c.quotaExceeded() {
		return c.commitNow(ctx)
	}
	return nil
}

func (c *Context) mergeOps(t *txn) {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	if c.overlay == nil {
		c.overlay = make(map[string]*[]byte)
		c.createdAt = time.Now()
	}
	for _, k := range t.order {
		if _, existed := c.overlay[k]; !existed {
			c.order = append(c.order, k)
		}
		c.overlay[k] = t.local[k]
	}
	c.writtenBytes += int64(t.written)
}

func (c *Context) quotaExceeded() bool {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	if len(c.order) == 0 {
		return false
	}
	if time.Since(c.createdAt) > c.timeQuota {
		metrics.AgileCommitsTimeQuota.Inc()
		return true
	}
	if c.writtenBytes > c.sizeQuota {
		metrics.AgileCommitsSizeQuota.Inc()
		return true
	}
	return false
}

// commitNow commits the current floating sub-transaction, if any. On
// failure it wraps and returns the error rather than retrying; the
// caller decides whether to retry or call AbortAndReset.
func (c *Context) commitNow(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&c.committing, 0, 1) {
		return nil
	}
	defer atomic.StoreInt32(&c.committing, 0)

	c.lock.Lock()
	defer c.lock.Unlock()

	c.dataMu.Lock()
	overlay, order := c.overlay, c.order
	c.overlay, c.order, c.writtenBytes = nil, nil, 0
	c.dataMu.Unlock()

	if len(order) == 0 {
		return nil
	}

	err := c.store.Transact(ctx, func(txn kv.Txn) error {
		for _, k := range order {
			v := overlay[k]
			if v == nil {
				txn.Clear(ctx, []byte(k))
			} else {
				txn.Set(ctx, []byte(k), *v)
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("agile: sub-transaction commit of %d keys failed: %v", len(order), err)
		return fmt.Errorf("agile: sub-transaction commit failed: %w", err)
	}
	return nil
}

// Flush commits the current floating sub-transaction, if one is open.
// It is a no-op in non-agile mode or if no op has run since the last
// flush.
func (c *Context) Flush(ctx context.Context) error {
	if !c.agile {
		return nil
	}
	return c.commitNow(ctx)
}

// FlushAndClose flushes the current sub-transaction and forbids any
// further ops on this Context.
func (c *Context) FlushAndClose(ctx context.Context) error {
	if err := c.Flush(ctx); err != nil {
		return err
	}
	c.lock.Lock()
	c.closed = true
	c.lock.Unlock()
	return nil
}

// AbortAndReset discards the current floating sub-transaction's
// accumulated writes without committing them, for cleanup after a
// failed op. It tolerates being called when no sub-transaction is
// open.
func (c *Context) AbortAndReset() {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	c.overlay, c.order, c.writtenBytes = nil, nil, 0
}
