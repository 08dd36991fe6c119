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

// Package kvtest is a conformance suite run against every kv.Store
// backend, generalizing camlistore.org/pkg/sorted/kvtest's
// TestSorted(t, kv) pattern from a plain sorted key-value interface to
// one with transactional semantics: basic set/get/clear, read-your-writes
// within a transaction, ordered range reads, rollback on error, and range
// clears. Commit-time conflict detection differs per backend and is not
// part of this suite; memkv tests it in its own package.
package kvtest

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"indexcore.dev/pkg/kv"
)

// TestStore runs the full conformance suite against a freshly constructed,
// empty Store. newStore must return a new, empty backend each call.
func TestStore(t *testing.T, newStore func() kv.Store) {
	t.Run("BasicSetGetDelete", func(t *testing.T) { testBasic(t, newStore()) })
	t.Run("RangeOrder", func(t *testing.T) { testRange(t, newStore()) })
	t.Run("ReadYourWrites", func(t *testing.T) { testReadYourWrites(t, newStore()) })
	t.Run("RollbackOnError", func(t *testing.T) { testRollbackOnError(t, newStore()) })
	t.Run("ClearRange", func(t *testing.T) { testClearRange(t, newStore()) })
}

func testBasic(t *testing.T, s kv.Store) {
	ctx := context.Background()
	defer s.Close()

	err := s.Transact(ctx, func(txn kv.Txn) error {
		txn.Set(ctx, []byte("foo"), []byte("bar"))
		return nil
	})
	if err != nil {
		t.Fatalf("Transact(set foo): %v", err)
	}

	err = s.Transact(ctx, func(txn kv.Txn) error {
		v, err := txn.Get(ctx, []byte("foo"))
		if err != nil {
			return err
		}
		if string(v) != "bar" {
			t.Errorf("Get(foo) = %q; want bar", v)
		}
		_, err = txn.Get(ctx, []byte("NOT_EXIST"))
		if !errors.Is(err, kv.ErrNotFound) {
			t.Errorf("Get(NOT_EXIST) err = %v; want kv.ErrNotFound", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Transact(read foo): %v", err)
	}

	err = s.Transact(ctx, func(txn kv.Txn) error {
		txn.Clear(ctx, []byte("foo"))
		return nil
	})
	if err != nil {
		t.Fatalf("Transact(clear foo): %v", err)
	}
	err = s.Transact(ctx, func(txn kv.Txn) error {
		_, err := txn.Get(ctx, []byte("foo"))
		if !errors.Is(err, kv.ErrNotFound) {
			t.Errorf("Get(foo) after clear err = %v; want kv.ErrNotFound", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Transact(verify cleared): %v", err)
	}
}

func testRange(t *testing.T, s kv.Store) {
	ctx := context.Background()
	defer s.Close()

	err := s.Transact(ctx, func(txn kv.Txn) error {
		for _, k := range []string{"a", "b", "c", "foo|abc", "y"} {
			txn.Set(ctx, []byte(k), []byte(k+"v"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed transact: %v", err)
	}

	cases := []struct {
		begin, end string
		want       []string
	}{
		{"", "~", []string{"a", "b", "c", "foo|abc", "y"}},
		{"a", "~", []string{"a", "b", "c", "foo|abc", "y"}},
		{"b", "~", []string{"b", "c", "foo|abc", "y"}},
		{"a", "c", []string{"a", "b"}},
		{"a", "b", []string{"a"}},
		{"a", "a", nil},
		{"foo|", "foo}", []string{"foo|abc"}},
	}
	for _, c := range cases {
		err := s.Transact(ctx, func(txn kv.Txn) error {
			got, err := txn.GetRange(ctx, []byte(c.begin), []byte(c.end))
			if err != nil {
				return err
			}
			if len(got) != len(c.want) {
				t.Errorf("GetRange(%q,%q) = %v; want keys %v", c.begin, c.end, got, c.want)
				return nil
			}
			for i, kvp := range got {
				if string(kvp.Key) != c.want[i] {
					t.Errorf("GetRange(%q,%q)[%d].Key = %q; want %q", c.begin, c.end, i, kvp.Key, c.want[i])
				}
				if string(kvp.Value) != c.want[i]+"v" {
					t.Errorf("GetRange(%q,%q)[%d].Value = %q; want %q", c.begin, c.end, i, kvp.Value, c.want[i]+"v")
				}
			}
			return nil
		})
		if err != nil {
			t.Errorf("GetRange(%q,%q) transact error: %v", c.begin, c.end, err)
		}
	}
}

// testReadYourWrites verifies that reads within a transaction observe its
// own prior writes, in program order, before the transaction commits.
func testReadYourWrites(t *testing.T, s kv.Store) {
	ctx := context.Background()
	defer s.Close()

	err := s.Transact(ctx, func(txn kv.Txn) error {
		txn.Set(ctx, []byte("k"), []byte("v1"))
		v, err := txn.Get(ctx, []byte("k"))
		if err != nil {
			return err
		}
		if string(v) != "v1" {
			t.Errorf("read-your-write Get = %q; want v1", v)
		}
		txn.Set(ctx, []byte("k"), []byte("v2"))
		got, err := txn.GetRange(ctx, []byte("k"), []byte("k\xff"))
		if err != nil {
			return err
		}
		if len(got) != 1 || string(got[0].Value) != "v2" {
			t.Errorf("read-your-write GetRange = %v; want single v2", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transact: %v", err)
	}
}

func testRollbackOnError(t *testing.T, s kv.Store) {
	ctx := context.Background()
	defer s.Close()

	sentinel := errors.New("boom")
	err := s.Transact(ctx, func(txn kv.Txn) error {
		txn.Set(ctx, []byte("never"), []byte("committed"))
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("Transact error = %v; want sentinel", err)
	}
	err = s.Transact(ctx, func(txn kv.Txn) error {
		_, err := txn.Get(ctx, []byte("never"))
		if !errors.Is(err, kv.ErrNotFound) {
			t.Errorf("Get(never) after aborted transaction = %v; want kv.ErrNotFound", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("verify transact: %v", err)
	}
}

func testClearRange(t *testing.T, s kv.Store) {
	ctx := context.Background()
	defer s.Close()

	err := s.Transact(ctx, func(txn kv.Txn) error {
		for _, k := range []string{"p0", "p1", "p2", "q0"} {
			txn.Set(ctx, []byte(k), []byte("v"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	err = s.Transact(ctx, func(txn kv.Txn) error {
		txn.ClearRange(ctx, []byte("p0"), []byte("q0"))
		return nil
	})
	if err != nil {
		t.Fatalf("clear range: %v", err)
	}
	err = s.Transact(ctx, func(txn kv.Txn) error {
		got, err := txn.GetRange(ctx, []byte(""), []byte("~"))
		if err != nil {
			return err
		}
		if len(got) != 1 || !bytes.Equal(got[0].Key, []byte("q0")) {
			t.Errorf("after ClearRange, remaining = %v; want only q0", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
}
