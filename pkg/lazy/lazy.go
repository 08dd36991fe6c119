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

// Package lazy provides a once-only, deadlock-safe lazy initializer for
// expensive IO resources (an open Directory, a leveldbkv.Store handle,
// ...) shared by many callers that may themselves be running on a
// work-stealing pool.
//
// It is built on go4.org/syncutil/singleflight, the same library
// camlistore.org/pkg/cacher's CachingFetcher uses to collapse concurrent
// callers onto one in-flight fetch. singleflight alone only dedups calls
// that are concurrently in flight — a later, non-overlapping call would
// invoke the function again — so Handle adds a permanent "done" latch on
// top of it: once the singleflight call completes (successfully or not),
// every subsequent Get returns the cached value or error without ever
// calling the initializer function or singleflight.Group.Do again. That
// is what keeps a caller safe even when the initializer's own work is
// scheduled back onto the same pool the waiters spin on: no other
// goroutine ever re-enters the initializer and fights it for a lock held
// across that suspension, because no lock is held across the call to
// init at all.
package lazy

import (
	"sync"

	"go4.org/syncutil/singleflight"
)

// Handle lazily constructs a value of type T on first Get, and closes it
// (if it was ever successfully constructed) on Close.
type Handle[T any] struct {
	init  func() (T, error)
	close func(T) error

	group singleflight.Group

	mu     sync.Mutex
	done   bool
	value  T
	err    error
	closed bool
}

// New returns a Handle that calls init at most once, on the first Get,
// and calls closeFn on the constructed value at most once, on the first
// Close after a successful init. closeFn may be nil if the resource
// needs no explicit teardown.
func New[T any](init func() (T, error), closeFn func(T) error) *Handle[T] {
	return &Handle[T]{init: init, close: closeFn}
}

// Get returns the lazily-initialized value, running init exactly once no
// matter how many goroutines call Get concurrently. If init has already
// run (successfully or not), Get returns the cached result immediately
// without touching the singleflight group.
func (h *Handle[T]) Get() (T, error) {
	h.mu.Lock()
	if h.done {
		v, err := h.value, h.err
		h.mu.Unlock()
		return v, err
	}
	h.mu.Unlock()

	v, err, _ := h.group.Do("init", func() (any, error) {
		h.mu.Lock()
		if h.done {
			val, err := h.value, h.err
			h.mu.Unlock()
			return val, err
		}
		h.mu.Unlock()
		val, err := h.init()
		h.mu.Lock()
		h.done = true
		h.value = val
		h.err = err
		h.mu.Unlock()
		return val, err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Close invokes closeFn on the initialized value exactly once. It never
// triggers initialization: calling Close on a Handle whose Get was never
// called (or whose init never succeeded) is a no-op.
func (h *Handle[T]) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.done || h.err != nil || h.closed {
		return nil
	}
	h.closed = true
	if h.close == nil {
		return nil
	}
	return h.close(h.value)
}
