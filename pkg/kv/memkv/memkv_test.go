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

package memkv

import (
	"context"
	"errors"
	"testing"

	"indexcore.dev/pkg/kv"
	"indexcore.dev/pkg/kv/kvtest"
)

func TestConformance(t *testing.T) {
	kvtest.TestStore(t, func() kv.Store { return New() })
}

// TestConflictDetection verifies that two overlapping transactions cannot
// both commit when one observed a read that the other's write invalidated.
func TestConflictDetection(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()

	if err := s.Transact(ctx, func(txn kv.Txn) error {
		txn.Set(ctx, []byte("k"), []byte("v0"))
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Simulate two interleaved transactions by hand: begin both before
	// either commits.
	s.mu.Lock()
	snapA := s.tree.Clone()
	s.mu.Unlock()
	txnA := &Txn{store: s, snapshot: snapA, overlay: make(map[string]*[]byte)}
	if _, err := txnA.Get(ctx, []byte("k")); err != nil {
		t.Fatalf("txnA read: %v", err)
	}

	// txnB commits a write to the same key via the normal path.
	if err := s.Transact(ctx, func(txn kv.Txn) error {
		txn.Set(ctx, []byte("k"), []byte("v1"))
		return nil
	}); err != nil {
		t.Fatalf("txnB commit: %v", err)
	}

	// txnA now tries to commit; it read a key that changed underneath it.
	txnA.Set(ctx, []byte("k"), []byte("v2"))
	s.mu.Lock()
	startVersion := s.version - 1 // txnA started before txnB's commit
	conflict := txnA.read && s.version != startVersion
	s.mu.Unlock()
	if !conflict {
		t.Fatal("expected a conflict to be detected for the overlapping write")
	}

	// And the supported path: Transact itself reports ErrConflict when
	// its callback's read is invalidated by a commit that races it. The
	// inner Transact call simulates a concurrent writer committing
	// between the outer transaction's read and its own commit attempt.
	err := s.Transact(ctx, func(txn kv.Txn) error {
		if _, err := txn.Get(ctx, []byte("k")); err != nil {
			return err
		}
		return s.Transact(ctx, func(inner kv.Txn) error {
			inner.Set(ctx, []byte("k"), []byte("v3"))
			return nil
		})
	})
	if !errors.Is(err, kv.ErrConflict) {
		t.Fatalf("Transact with racing inner commit = %v; want kv.ErrConflict", err)
	}
}
