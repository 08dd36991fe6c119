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
	"errors"
	"testing"
)

func TestFirstInsertCreatesPartitionZero(t *testing.T) {
	ctx := context.Background()
	idx := New(Options{HighWatermark: 10, RepartitionCount: 5})
	m, err := idx.PickInsert(ctx, "g", 100)
	if err != nil {
		t.Fatalf("PickInsert: %v", err)
	}
	if m.ID != 0 || m.From != 100 || m.To != 100 || m.Count != 1 {
		t.Fatalf("first insert = %+v; want id=0 from=to=100 count=1", m)
	}
}

func TestInsertExpandsFromTo(t *testing.T) {
	ctx := context.Background()
	idx := New(Options{HighWatermark: 10, RepartitionCount: 5})
	idx.PickInsert(ctx, "g", 100)
	idx.PickInsert(ctx, "g", 50)
	m, err := idx.PickInsert(ctx, "g", 150)
	if err != nil {
		t.Fatalf("PickInsert: %v", err)
	}
	if m.From != 50 || m.To != 150 || m.Count != 3 {
		t.Fatalf("after inserts = %+v; want from=50 to=150 count=3", m)
	}
}

func TestFullPartitionBeforeRangeGetsNewPartition(t *testing.T) {
	ctx := context.Background()
	idx := New(Options{HighWatermark: 2, RepartitionCount: 1})
	idx.PickInsert(ctx, "g", 100)
	m2, err := idx.PickInsert(ctx, "g", 200)
	if err != nil {
		t.Fatalf("PickInsert: %v", err)
	}
	if m2.ID != 0 {
		t.Fatalf("second insert id = %d; want 0 (still filling partition 0)", m2.ID)
	}
	// partition 0 now has count=2 >= highWatermark; an insert older
	// than its From should get routed to a fresh partition instead of
	// growing the full one.
	m3, err := idx.PickInsert(ctx, "g", 50)
	if err != nil {
		t.Fatalf("PickInsert: %v", err)
	}
	if m3.ID == 0 {
		t.Fatalf("insert before full partition's range reused id 0; want a new partition")
	}
}

func TestPickDeleteDecrementsCount(t *testing.T) {
	ctx := context.Background()
	idx := New(Options{HighWatermark: 10, RepartitionCount: 5})
	idx.PickInsert(ctx, "g", 100)
	idx.PickInsert(ctx, "g", 110)
	m, err := idx.PickDelete(ctx, "g", 105)
	if err != nil {
		t.Fatalf("PickDelete: %v", err)
	}
	if m.Count != 1 {
		t.Fatalf("count after delete = %d; want 1", m.Count)
	}
}

func TestPickDeleteFailsOutsideAnyPartition(t *testing.T) {
	ctx := context.Background()
	idx := New(Options{HighWatermark: 10, RepartitionCount: 5})
	idx.PickInsert(ctx, "g", 100)
	_, err := idx.PickDelete(ctx, "g", 9999)
	var notContains *ErrNoPartitionContains
	if !errors.As(err, &notContains) {
		t.Fatalf("PickDelete outside range = %v; want ErrNoPartitionContains", err)
	}
}

func TestPickDeleteNegativeCountPanics(t *testing.T) {
	ctx := context.Background()
	idx := New(Options{HighWatermark: 10, RepartitionCount: 5})
	idx.PickInsert(ctx, "g", 100)
	idx.PickDelete(ctx, "g", 100)
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on negative count")
		}
	}()
	idx.PickDelete(ctx, "g", 100)
}

func TestPickQueryPartitionNewestByDefault(t *testing.T) {
	ctx := context.Background()
	idx := New(Options{HighWatermark: 1, RepartitionCount: 1})
	idx.PickInsert(ctx, "g", 100)
	idx.PickInsert(ctx, "g", 50) // forces a new partition since watermark=1

	newest, ok := idx.PickQueryPartition("g", false)
	if !ok {
		t.Fatal("expected a partition")
	}
	oldest, ok := idx.PickQueryPartition("g", true)
	if !ok {
		t.Fatal("expected a partition")
	}
	if newest.From < oldest.From {
		t.Fatalf("newest.From=%d should be >= oldest.From=%d", newest.From, oldest.From)
	}
}

func TestRebalanceMovesOldestDocsToNewPartition(t *testing.T) {
	ctx := context.Background()
	idx := New(Options{HighWatermark: 4, RepartitionCount: 2})
	for _, ts := range []int64{10, 20, 30, 40, 50} {
		idx.PickInsert(ctx, "g", ts)
	}
	// Partition 0 now holds 5 docs (from=10,to=50), over the
	// watermark of 4.
	docs := []DocTimestamp{
		{DocID: 1, T: 10},
		{DocID: 2, T: 20},
		{DocID: 3, T: 30},
		{DocID: 4, T: 40},
		{DocID: 5, T: 50},
	}
	moves, err := idx.Rebalance(ctx, "g", func(partitionID uint64, n int) ([]DocTimestamp, error) {
		if n > len(docs) {
			n = len(docs)
		}
		return docs[:n], nil
	})
	if err != nil {
		t.Fatalf("Rebalance: %v", err)
	}
	if len(moves) != 2 {
		t.Fatalf("moves = %v; want 2 docs moved", moves)
	}
	for _, mv := range moves {
		if mv.DocID != 1 && mv.DocID != 2 {
			t.Fatalf("unexpected doc moved: %+v", mv)
		}
	}

	metas := idx.Metas("g")
	if len(metas) != 2 {
		t.Fatalf("expected 2 partitions after rebalance, got %d: %+v", len(metas), metas)
	}
}

func TestRebalanceAmbiguousBoundaryFails(t *testing.T) {
	ctx := context.Background()
	idx := New(Options{HighWatermark: 2, RepartitionCount: 1})
	idx.PickInsert(ctx, "g", 10)
	idx.PickInsert(ctx, "g", 10)
	idx.PickInsert(ctx, "g", 10)

	docs := []DocTimestamp{{DocID: 1, T: 10}, {DocID: 2, T: 10}}
	_, err := idx.Rebalance(ctx, "g", func(partitionID uint64, n int) ([]DocTimestamp, error) {
		return docs, nil
	})
	if !errors.Is(err, ErrAmbiguousBoundary) {
		t.Fatalf("Rebalance with tied boundary = %v; want ErrAmbiguousBoundary", err)
	}
}

func TestValidateAcceptsSinglePartition(t *testing.T) {
	ctx := context.Background()
	idx := New(Options{HighWatermark: 10, RepartitionCount: 5})
	idx.PickInsert(ctx, "g", 100)
	if err := idx.Validate("g"); err != nil {
		t.Fatalf("Validate single partition: %v", err)
	}
}
