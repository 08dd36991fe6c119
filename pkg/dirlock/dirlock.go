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

// Package dirlock implements cross-actor mutual exclusion on a named
// resource as a single cell in a kv.Transactor: a (owner UUID,
// acquired-at timestamp) pair with a heartbeat, in the spirit of
// camlistore.org/pkg/lock's advisory file locks but surviving process
// crashes instead of relying on the OS to release an flock when a
// process dies. A lock holder that stops heartbeating is presumed dead
// once its cell goes stale, and any later caller may steal the lock
// rather than wait forever.
package dirlock

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"indexcore.dev/pkg/kv"
	"indexcore.dev/pkg/metrics"
)

// DefaultWindow is the staleness window used when none is configured.
const DefaultWindow = 10 * time.Minute

// MinWindow is the floor enforced on any configured window, so a
// misconfigured near-zero window cannot make every heartbeat race
// against staleness.
const MinWindow = 10 * time.Second

// ErrAlreadyLocked is returned by Obtain when the cell is held by
// another, still-live owner.
var ErrAlreadyLocked = errors.New("dirlock: already locked by another entity")

// ErrAlreadyClosed is returned by Heartbeat once the caller has lost the
// lock: the cell was claimed by a different owner, or this owner fell
// behind its own staleness window. Release does not return it; releasing
// a lock that was lost leaves the cell alone and returns nil.
var ErrAlreadyClosed = errors.New("dirlock: lock already closed")

// Lock is a held lock cell. The zero value is not usable; obtain one
// with Obtain.
type Lock struct {
	txor    kv.Transactor
	key     []byte
	ownerID string
	window  time.Duration
	self    string
}

type cell struct {
	owner string
	atMs  int64
}

func (c cell) encode() []byte {
	return []byte(fmt.Sprintf("%s|%d", c.owner, c.atMs))
}

func decodeCell(b []byte) (cell, error) {
	s := string(b)
	i := lastIndexByte(s, '|')
	if i < 0 {
		return cell{}, fmt.Errorf("dirlock: malformed lock cell %q", s)
	}
	var at int64
	_, err := fmt.Sscanf(s[i+1:], "%d", &at)
	if err != nil {
		return cell{}, fmt.Errorf("dirlock: malformed lock cell %q: %w", s, err)
	}
	return cell{owner: s[:i], atMs: at}, nil
}

func lastIndexByte(s string, c byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == c {
			return i
		}
	}
	return -1
}

func nowMs() int64 { return time.Now().UnixMilli() }

// Obtain acquires the lock cell at key, identifying this holder as
// ownerID in logs and diagnostics (the UUID itself is what's actually
// compared). The cell is taken if absent, stale (older than window), or
// stamped implausibly far in the future (a clock that jumped backward
// on some other actor); otherwise Obtain fails with ErrAlreadyLocked.
func Obtain(ctx context.Context, txor kv.Transactor, key []byte, ownerID string, window time.Duration) (*Lock, error) {
	if window < MinWindow {
		window = MinWindow
	}
	self := uuid.NewString()
	start := time.Now()
	defer func() { metrics.WaitFileLockSet.Observe(time.Since(start).Seconds()) }()

	var stolenFrom string
	err := txor.Transact(ctx, func(txn kv.Txn) error {
		stolenFrom = ""
		raw, err := txn.Get(ctx, key)
		now := nowMs()
		if err == nil {
			existing, derr := decodeCell(raw)
			if derr != nil {
				return derr
			}
			age := now - existing.atMs
			future := existing.atMs - now
			if age <= int64(window/time.Millisecond) && future <= int64(window/time.Millisecond) {
				return ErrAlreadyLocked
			}
			// stale or implausibly future-stamped: steal it
			stolenFrom = existing.owner
		} else if !errors.Is(err, kv.ErrNotFound) {
			return err
		}
		txn.Set(ctx, key, cell{owner: self, atMs: now}.encode())
		return nil
	})
	if err != nil {
		return nil, err
	}
	if stolenFrom != "" {
		log.Printf("dirlock: %s stole lock %x from stale owner %s", ownerID, key, stolenFrom)
	}
	return &Lock{txor: txor, key: append([]byte(nil), key...), ownerID: ownerID, window: window, self: self}, nil
}

// Heartbeat refreshes the lock cell's timestamp, or reports
// ErrAlreadyClosed if the lock was lost: stolen by another owner, or
// allowed to go stale past window.
func (l *Lock) Heartbeat(ctx context.Context) error {
	return l.txor.Transact(ctx, func(txn kv.Txn) error {
		raw, err := txn.Get(ctx, l.key)
		if errors.Is(err, kv.ErrNotFound) {
			return ErrAlreadyClosed
		}
		if err != nil {
			return err
		}
		existing, derr := decodeCell(raw)
		if derr != nil {
			return derr
		}
		if existing.owner != l.self {
			return ErrAlreadyClosed
		}
		now := nowMs()
		if now-existing.atMs > int64(l.window/time.Millisecond) {
			return ErrAlreadyClosed
		}
		txn.Set(ctx, l.key, cell{owner: l.self, atMs: now}.encode())
		return nil
	})
}

// Release clears the lock cell if it still belongs to this holder. It
// is not an error to Release a lock that was already stolen or expired;
// in that case Release is a no-op, since the cell no longer belongs to
// us to clear.
func (l *Lock) Release(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.WaitFileLockClear.Observe(time.Since(start).Seconds()) }()
	return l.txor.Transact(ctx, func(txn kv.Txn) error {
		raw, err := txn.Get(ctx, l.key)
		if errors.Is(err, kv.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		existing, derr := decodeCell(raw)
		if derr != nil {
			return derr
		}
		if existing.owner != l.self {
			return nil
		}
		txn.Clear(ctx, l.key)
		return nil
	})
}
