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

package dirlock

import (
	"context"
	"errors"
	"testing"
	"time"

	"indexcore.dev/pkg/kv"
	"indexcore.dev/pkg/kv/memkv"
)

func TestObtainThenFailsForSecondCaller(t *testing.T) {
	ctx := context.Background()
	s := memkv.New()
	defer s.Close()
	key := []byte("lock")

	l1, err := Obtain(ctx, s, key, "writer-1", time.Minute)
	if err != nil {
		t.Fatalf("Obtain: %v", err)
	}
	if _, err := Obtain(ctx, s, key, "writer-2", time.Minute); !errors.Is(err, ErrAlreadyLocked) {
		t.Fatalf("second Obtain = %v; want ErrAlreadyLocked", err)
	}
	if err := l1.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := Obtain(ctx, s, key, "writer-2", time.Minute); err != nil {
		t.Fatalf("Obtain after release: %v", err)
	}
}

func TestHeartbeatRefreshesAndDetectsLoss(t *testing.T) {
	ctx := context.Background()
	s := memkv.New()
	defer s.Close()
	key := []byte("lock")

	l, err := Obtain(ctx, s, key, "writer-1", time.Minute)
	if err != nil {
		t.Fatalf("Obtain: %v", err)
	}
	if err := l.Heartbeat(ctx); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	// simulate a stolen lock: directly overwrite the cell with a
	// different owner, bypassing the Lock's view of who holds it.
	err = s.Transact(ctx, func(txn kv.Txn) error {
		txn.Set(ctx, key, cell{owner: "someone-else", atMs: nowMs()}.encode())
		return nil
	})
	if err != nil {
		t.Fatalf("simulate steal: %v", err)
	}
	if err := l.Heartbeat(ctx); !errors.Is(err, ErrAlreadyClosed) {
		t.Fatalf("Heartbeat after steal = %v; want ErrAlreadyClosed", err)
	}
}

func TestStaleLockCanBeStolen(t *testing.T) {
	ctx := context.Background()
	s := memkv.New()
	defer s.Close()
	key := []byte("lock")

	staleAt := nowMs() - (2 * MinWindow).Milliseconds()
	err := s.Transact(ctx, func(txn kv.Txn) error {
		txn.Set(ctx, key, cell{owner: "dead-owner", atMs: staleAt}.encode())
		return nil
	})
	if err != nil {
		t.Fatalf("seed stale cell: %v", err)
	}

	if _, err := Obtain(ctx, s, key, "writer-2", MinWindow); err != nil {
		t.Fatalf("Obtain over stale lock: %v", err)
	}
}

func TestWindowFlooredAtMinWindow(t *testing.T) {
	ctx := context.Background()
	s := memkv.New()
	defer s.Close()

	l, err := Obtain(ctx, s, []byte("lock"), "writer-1", time.Millisecond)
	if err != nil {
		t.Fatalf("Obtain: %v", err)
	}
	if l.window != MinWindow {
		t.Fatalf("window = %v; want floor of %v", l.window, MinWindow)
	}
}
