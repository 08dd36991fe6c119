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
	"fmt"
	"log"
	"time"

	"github.com/google/btree"

	"indexcore.dev/pkg/metrics"
)

// DocTimestamp pairs a document id with its value of the partitioning
// field, as returned by an OldestDocsFunc.
type DocTimestamp struct {
	DocID uint64
	T     int64
}

// OldestDocsFunc returns the n documents in partitionID with the
// smallest partitioning-field values, ascending. It is supplied by the
// caller (the index maintainer) because the partition package does not
// itself own document storage.
type OldestDocsFunc func(partitionID uint64, n int) ([]DocTimestamp, error)

// Move instructs the caller to relocate one document's physical index
// entry from one partition to another; the partition package has
// already updated its own bookkeeping to reflect this move by the time
// Rebalance returns it.
type Move struct {
	DocID uint64
	From  uint64
	To    uint64
}

// ErrAmbiguousBoundary is returned when the (N+1)th oldest document in
// an over-full partition shares a timestamp with the Nth, so no clean
// split point exists.
var ErrAmbiguousBoundary = fmt.Errorf("partition: ambiguous rebalance boundary")

// Rebalance scans group's partitions oldest-first and, for each
// partition whose Count exceeds the high watermark, moves its
// min(RepartitionCount, HighWatermark) oldest documents into a destination partition
// (creating one if none fits), shrinking the source partition's range
// to start at the new boundary.
func (idx *Index) Rebalance(ctx context.Context, group string, fetchOldest OldestDocsFunc) ([]Move, error) {
	start := time.Now()
	var totalMoved int
	defer func() {
		metrics.RebalancePartitionSeconds.Observe(time.Since(start).Seconds())
		metrics.RebalancePartitionDocs.Observe(float64(totalMoved))
	}()

	idx.mu.Lock()
	defer idx.mu.Unlock()
	tree, ok := idx.groups[group]
	if !ok {
		return nil, nil
	}

	var overfull []Meta
	tree.Ascend(func(it btree.Item) bool {
		m := it.(metaItem).m
		if m.Count > idx.opt.HighWatermark {
			overfull = append(overfull, m)
		}
		return true
	})

	var moves []Move
	for _, src := range overfull {
		n := idx.opt.RepartitionCount
		if n > idx.opt.HighWatermark {
			n = idx.opt.HighWatermark
		}
		oldest, err := fetchOldest(src.ID, int(n)+1)
		if err != nil {
			return moves, err
		}
		if int64(len(oldest)) <= n {
			// fewer documents than expected to move; nothing to split.
			continue
		}
		nth := oldest[n-1]
		boundaryDoc := oldest[n]
		if boundaryDoc.T == nth.T {
			return moves, ErrAmbiguousBoundary
		}
		b := boundaryDoc.T
		moved := oldest[:n]
		bPrime := moved[0].T

		dest, destOK := greatestFromLE(tree, bPrime)
		needsNew := !destOK || dest.ID == src.ID || dest.Count+n > idx.opt.HighWatermark
		destHadOld := destOK && !needsNew
		if needsNew {
			id := idx.allocIDLocked(group, tree)
			dest = Meta{ID: id, From: bPrime, To: bPrime, Count: 0}
		}

		// Metas are keyed by From and a new destination starts at the
		// source's oldest document, so the source moves to b first.
		src.Count -= n
		oldSrcFrom := src.From
		src.From = b
		replaceLocked(tree, oldSrcFrom, src)
		if err := idx.persistLocked(ctx, group, oldSrcFrom, true, src); err != nil {
			return moves, err
		}

		destOldFrom := dest.From
		dest.Count += n
		for _, d := range moved {
			if d.T < dest.From {
				dest.From = d.T
			}
			if d.T > dest.To {
				dest.To = d.T
			}
			moves = append(moves, Move{DocID: d.DocID, From: src.ID, To: dest.ID})
		}
		replaceLocked(tree, destOldFrom, dest)
		if err := idx.persistLocked(ctx, group, destOldFrom, destHadOld, dest); err != nil {
			return moves, err
		}

		totalMoved += int(n)
		log.Printf("partition: rebalanced group %q: moved %d docs from partition %d to %d", group, n, src.ID, dest.ID)
	}
	return moves, nil
}
