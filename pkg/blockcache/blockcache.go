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

// Package blockcache is a per-process LRU of decoded (file-id, block#)
// pairs, shared across Directory instances that reference the same
// subspace. It generalizes camlistore.org/pkg/lru's count-bounded
// container/list LRU into one bounded by total cached byte size instead
// of entry count, and adds single-flight coalescing of concurrent
// misses on the same key on top of the same go4.org/syncutil/singleflight
// library camlistore's cacher package uses, so that N readers missing on
// the same block cause one decompress-and-fetch instead of N.
package blockcache

import (
	"container/list"
	"sync"

	"go4.org/syncutil/singleflight"
)

// Key identifies one cached block. Dir distinguishes the directory
// (subspace) the block belongs to — file ids are only unique within one
// directory's own allocator, so a Cache shared across multiple
// Directory instances (as pkg/maintainer does, one Cache per process
// rather than per partition) must key on (Dir, FileID, Block), not
// (FileID, Block) alone, or two partitions' unrelated file id 0 collide.
type Key struct {
	Dir    string
	FileID uint64
	Block  uint64
}

type entry struct {
	key   Key
	value []byte
}

// Cache is an LRU cache of block bytes, bounded by total byte size
// rather than entry count, safe for concurrent use.
type Cache struct {
	maxBytes int64

	mu       sync.Mutex
	ll       *list.List
	items    map[Key]*list.Element
	curBytes int64

	group singleflight.Group
}

// New returns an empty Cache that evicts least-recently-used blocks once
// the total size of cached block bytes would exceed maxBytes.
func New(maxBytes int64) *Cache {
	return &Cache{
		maxBytes: maxBytes,
		ll:       list.New(),
		items:    make(map[Key]*list.Element),
	}
}

// Get returns the cached bytes for key, if present, promoting it to
// most-recently-used.
func (c *Cache) Get(key Key) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		return el.Value.(*entry).value, true
	}
	return nil, false
}

// Add inserts or overwrites the cached bytes for key.
func (c *Cache) Add(key Key, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.curBytes += int64(len(value)) - int64(len(el.Value.(*entry).value))
		el.Value.(*entry).value = value
		c.ll.MoveToFront(el)
	} else {
		el := c.ll.PushFront(&entry{key: key, value: value})
		c.items[key] = el
		c.curBytes += int64(len(value))
	}
	c.evictLocked()
}

func (c *Cache) evictLocked() {
	for c.curBytes > c.maxBytes && c.ll.Len() > 0 {
		back := c.ll.Back()
		if back == nil {
			return
		}
		c.ll.Remove(back)
		e := back.Value.(*entry)
		delete(c.items, e.key)
		c.curBytes -= int64(len(e.value))
	}
}

// Len reports the number of cached blocks.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// GetOrLoad returns the cached bytes for key, calling load to fetch and
// decompress them on a miss. Concurrent callers that miss on the same
// key coalesce onto a single call to load.
func (c *Cache) GetOrLoad(key Key, load func() ([]byte, error)) ([]byte, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err, _ := c.group.Do(cacheKeyString(key), func() (any, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		b, err := load()
		if err != nil {
			return nil, err
		}
		c.Add(key, b)
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func cacheKeyString(k Key) string {
	var buf [16]byte
	putUint64(buf[0:8], k.FileID)
	putUint64(buf[8:16], k.Block)
	return k.Dir + string(buf[:])
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (56 - 8*i))
	}
}
