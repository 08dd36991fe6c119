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
	"context"
	"testing"

	"indexcore.dev/pkg/kv/memkv"
)

func TestOpenReloadsPersistedMetasAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	store := memkv.New()
	defer store.Close()
	prefix := []byte("p0")

	idx, err := Open(ctx, store, prefix, Options{HighWatermark: 10, RepartitionCount: 5})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, ts := range []int64{100, 50, 150} {
		if _, err := idx.PickInsert(ctx, "g", ts); err != nil {
			t.Fatalf("PickInsert: %v", err)
		}
	}
	want := idx.Metas("g")

	reopened, err := Open(ctx, store, prefix, Options{HighWatermark: 3, RepartitionCount: 5})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got := reopened.Metas("g")
	if len(got) != len(want) {
		t.Fatalf("reloaded metas = %+v; want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("reloaded meta[%d] = %+v; want %+v", i, got[i], want[i])
		}
	}

	// Partition 0 now holds 3 docs, at the reopened watermark of 3, so an
	// insert before its From opens a fresh partition, whose id must
	// continue the allocator rather than reuse id 0.
	m, err := reopened.PickInsert(ctx, "g", 10)
	if err != nil {
		t.Fatalf("PickInsert after reopen: %v", err)
	}
	for _, existing := range want {
		if existing.ID == m.ID {
			t.Fatalf("reopened allocator reused id %d already held by %+v", m.ID, existing)
		}
	}
}

func TestOpenReloadDoesNotMixDifferentGroups(t *testing.T) {
	ctx := context.Background()
	store := memkv.New()
	defer store.Close()
	prefix := []byte("p0")

	idx, err := Open(ctx, store, prefix, Options{HighWatermark: 10, RepartitionCount: 5})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	idx.PickInsert(ctx, "a", 100)
	idx.PickInsert(ctx, "b", 200)
	idx.PickInsert(ctx, "b", 250)

	reopened, err := Open(ctx, store, prefix, Options{HighWatermark: 10, RepartitionCount: 5})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if n := len(reopened.Metas("a")); n != 1 {
		t.Fatalf("group a metas = %d; want 1", n)
	}
	if n := len(reopened.Metas("b")); n != 1 {
		t.Fatalf("group b metas = %d; want 1 (merged into one partition)", n)
	}
}

func TestDropGroupClearsPersistedMetas(t *testing.T) {
	ctx := context.Background()
	store := memkv.New()
	defer store.Close()
	prefix := []byte("p0")

	idx, err := Open(ctx, store, prefix, Options{HighWatermark: 10, RepartitionCount: 5})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	idx.PickInsert(ctx, "g", 100)
	if err := idx.DropGroup(ctx, "g"); err != nil {
		t.Fatalf("DropGroup: %v", err)
	}

	reopened, err := Open(ctx, store, prefix, Options{HighWatermark: 10, RepartitionCount: 5})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if metas := reopened.Metas("g"); len(metas) != 0 {
		t.Fatalf("metas survived DropGroup across reopen: %+v", metas)
	}
}

func TestPickInsertPersistsNarrowedFromUnderNewKey(t *testing.T) {
	ctx := context.Background()
	store := memkv.New()
	defer store.Close()
	prefix := []byte("p0")

	idx, err := Open(ctx, store, prefix, Options{HighWatermark: 10, RepartitionCount: 5})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	idx.PickInsert(ctx, "g", 100)
	// Widens the same partition's From down to 50; the persisted
	// record keyed by the old From=100 must not linger alongside one
	// keyed by the new From=50.
	idx.PickInsert(ctx, "g", 50)

	reopened, err := Open(ctx, store, prefix, Options{HighWatermark: 10, RepartitionCount: 5})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	metas := reopened.Metas("g")
	if len(metas) != 1 {
		t.Fatalf("metas after From narrowed = %+v; want exactly 1 (stale key must be cleared)", metas)
	}
	if metas[0].From != 50 {
		t.Fatalf("metas[0].From = %d; want 50", metas[0].From)
	}
}
