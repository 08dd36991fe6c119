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

package lazy

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestGetRunsInitOnce(t *testing.T) {
	var calls int32
	h := New(func() (int, error) {
		atomic.AddInt32(&calls, 1)
		return 42, nil
	}, nil)

	var wg sync.WaitGroup
	results := make([]int, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := h.Get()
			if err != nil {
				t.Errorf("Get: %v", err)
			}
			results[i] = v
		}(i)
	}
	wg.Wait()

	for i := 0; i < 20; i++ {
		v, err := h.Get()
		if err != nil || v != 42 {
			t.Fatalf("later Get() = %v, %v; want 42, nil", v, err)
		}
	}

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("init called %d times; want 1", got)
	}
	for _, v := range results {
		if v != 42 {
			t.Fatalf("concurrent Get returned %d; want 42", v)
		}
	}
}

func TestGetReRaisesSameError(t *testing.T) {
	sentinel := errors.New("init failed")
	var calls int32
	h := New(func() (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, sentinel
	}, nil)

	for i := 0; i < 5; i++ {
		_, err := h.Get()
		if !errors.Is(err, sentinel) {
			t.Fatalf("Get() err = %v; want sentinel", err)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("init called %d times after failure; want 1", got)
	}
}

func TestCloseWithoutGetIsNoop(t *testing.T) {
	var initCalls, closeCalls int32
	h := New(func() (int, error) {
		atomic.AddInt32(&initCalls, 1)
		return 1, nil
	}, func(int) error {
		atomic.AddInt32(&closeCalls, 1)
		return nil
	})
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if initCalls != 0 {
		t.Fatalf("Close triggered init")
	}
	if closeCalls != 0 {
		t.Fatalf("Close called closeFn on an uninitialized handle")
	}
}

func TestCloseAfterGetRunsOnce(t *testing.T) {
	var closeCalls int32
	h := New(func() (int, error) {
		return 7, nil
	}, func(v int) error {
		atomic.AddInt32(&closeCalls, 1)
		return nil
	})
	if _, err := h.Get(); err != nil {
		t.Fatalf("Get: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := h.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
	if got := atomic.LoadInt32(&closeCalls); got != 1 {
		t.Fatalf("closeFn called %d times; want 1", got)
	}
}

func TestCloseAfterFailedInitIsNoop(t *testing.T) {
	var closeCalls int32
	h := New(func() (int, error) {
		return 0, errors.New("boom")
	}, func(int) error {
		atomic.AddInt32(&closeCalls, 1)
		return nil
	})
	h.Get()
	h.Close()
	if closeCalls != 0 {
		t.Fatalf("closeFn called after a failed init")
	}
}
