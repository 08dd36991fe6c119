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

import "fmt"

// Validate checks the invariants a group's partitions must hold after
// any insert, delete, or rebalance:
//
//   - every partition except possibly the oldest has
//     count >= max(1, highWatermark - repartitionCount)
//   - every partition has count <= highWatermark
//   - partitions are ordered and non-overlapping
//   - partition ids are unique
//
// It returns the first violation found, or nil if the group is
// consistent.
func (idx *Index) Validate(group string) error {
	metas := idx.metasOrdered(group)
	if len(metas) == 0 {
		return nil
	}

	lowWatermark := idx.opt.HighWatermark - idx.opt.RepartitionCount
	if lowWatermark < 1 {
		lowWatermark = 1
	}

	seenIDs := make(map[uint64]bool, len(metas))
	for i, m := range metas {
		if seenIDs[m.ID] {
			return fmt.Errorf("partition: duplicate id %d in group %q", m.ID, group)
		}
		seenIDs[m.ID] = true

		if m.Count > idx.opt.HighWatermark {
			return fmt.Errorf("partition: partition %d count %d exceeds high watermark %d", m.ID, m.Count, idx.opt.HighWatermark)
		}
		if i > 0 && m.Count < lowWatermark {
			return fmt.Errorf("partition: partition %d count %d below low watermark %d", m.ID, m.Count, lowWatermark)
		}
		if i > 0 && m.From <= metas[i-1].To {
			return fmt.Errorf("partition: partition %d [%d,%d] overlaps preceding partition %d [%d,%d]",
				m.ID, m.From, m.To, metas[i-1].ID, metas[i-1].From, metas[i-1].To)
		}
		if m.From > m.To {
			return fmt.Errorf("partition: partition %d has from %d > to %d", m.ID, m.From, m.To)
		}
	}
	return nil
}
