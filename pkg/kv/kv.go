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

// Package kv defines the ordered, transactional key-value contract that
// the rest of this module is built on: a stand-in for a distributed
// database offering serializable read/write transactions keyed by byte
// ranges (the role FoundationDB plays in the system this core is modeled
// on). Everything above this package — the virtual file directory, the
// stored-fields codec, the agility commit driver, the file lock, and the
// partitioner — is written purely in terms of Store and Txn, so any
// backend that satisfies the contract (in-memory, local disk, or an
// actual distributed KV store) can run the whole stack unmodified.
package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Txn.Get when the key is absent.
var ErrNotFound = errors.New("kv: key not found")

// ErrConflict is returned when a transaction could not be committed
// because another transaction modified a key it read or wrote. It is
// retriable: the caller decides whether to retry with a fresh Txn.
var ErrConflict = errors.New("kv: commit conflict")

// ErrClosed is returned by operations on a Store or Txn that has already
// been closed.
var ErrClosed = errors.New("kv: closed")

// KeyValue is a single key/value pair, as returned by range reads.
type KeyValue struct {
	Key   []byte
	Value []byte
}

// Txn is a single transaction's view of the store. Reads observe the
// transaction's own prior writes (read-your-writes), in program order;
// nothing becomes visible to other transactions until Store.Transact's
// callback returns successfully and the commit succeeds.
type Txn interface {
	// Get returns ErrNotFound if key is absent.
	Get(ctx context.Context, key []byte) ([]byte, error)

	// GetRange returns key/value pairs with begin <= key < end, in key
	// order. It performs the scan eagerly so a single round trip covers
	// the whole range; callers processing many rows should prefer this
	// over repeated point Gets.
	GetRange(ctx context.Context, begin, end []byte) ([]KeyValue, error)

	Set(ctx context.Context, key, value []byte)
	Clear(ctx context.Context, key []byte)
	ClearRange(ctx context.Context, begin, end []byte)

	// ApproximateSize estimates the number of key+value bytes written
	// by this transaction so far, used by the agility context to decide
	// when a sub-transaction has grown large enough to commit.
	ApproximateSize() int
}

// Transactor runs a function against a fresh transaction and commits it.
// kv.Store implements it directly; pkg/agile's Context also implements it
// by routing ops to floating sub-transactions instead of to the store
// directly, so every consumer in this module (pkg/directory,
// pkg/storedfields, pkg/partition) is written once against a Transactor
// and works unmodified whether or not agile mode is in play.
type Transactor interface {
	// Transact runs fn against a fresh transaction and commits it. If fn
	// returns a non-nil error, the transaction is discarded and that
	// error is returned unwrapped. If the commit itself fails (for
	// example with ErrConflict), that error is returned instead.
	Transact(ctx context.Context, fn func(Txn) error) error
}

// Store is a handle to the underlying ordered key-value database.
type Store interface {
	Transactor

	Close() error
}
