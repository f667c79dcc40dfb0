/*
SPDX-FileCopyrightText: Copyright (c) 2026 NVIDIA CORPORATION & AFFILIATES. All rights reserved.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.

SPDX-License-Identifier: Apache-2.0
*/

package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// fakeTarget records dispatches and serves a static descendant map.
type fakeTarget struct {
	mu          sync.Mutex
	dispatched  []string
	descendants map[string][]string
	block       chan struct{}
}

func (f *fakeTarget) Dispatch(_ context.Context, cellID string) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatched = append(f.dispatched, cellID)
	return nil
}

func (f *fakeTarget) Descendants(cellID string) []string {
	return f.descendants[cellID]
}

func (f *fakeTarget) got() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.dispatched...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestEnqueueCoalescesDuplicates(t *testing.T) {
	s := New(&fakeTarget{}, testLogger())
	if !s.Enqueue("a") {
		t.Fatal("first enqueue should be accepted")
	}
	if s.Enqueue("a") {
		t.Fatal("duplicate enqueue should coalesce")
	}
	if !s.Pending("a") {
		t.Fatal("expected a pending")
	}
}

func TestRunDispatchesInOrder(t *testing.T) {
	target := &fakeTarget{}
	s := New(target, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Enqueue("a")
	s.Enqueue("b")
	s.Enqueue("c")
	go s.Run(ctx)

	waitFor(t, func() bool { return len(target.got()) == 3 })
	got := target.got()
	if got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("expected FIFO order [a b c], got %v", got)
	}
}

func TestDispatchDischargesCoveredDescendants(t *testing.T) {
	target := &fakeTarget{
		descendants: map[string][]string{"root": {"mid", "leaf"}},
		block:       make(chan struct{}),
	}
	s := New(target, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Queue the root and two cells its pass covers, plus one it does not.
	s.Enqueue("root")
	s.Enqueue("mid")
	s.Enqueue("leaf")
	s.Enqueue("other")
	go s.Run(ctx)
	close(target.block)

	waitFor(t, func() bool {
		got := target.got()
		return len(got) >= 2 && got[len(got)-1] == "other"
	})
	got := target.got()
	if len(got) != 2 || got[0] != "root" || got[1] != "other" {
		t.Errorf("expected [root other], got %v", got)
	}
	if s.Pending("mid") || s.Pending("leaf") {
		t.Error("expected covered cells discharged")
	}
}

func TestEnqueueAfterDrain(t *testing.T) {
	target := &fakeTarget{}
	s := New(target, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.Enqueue("a")
	waitFor(t, func() bool { return len(target.got()) == 1 })

	// The cell can be queued again once dispatched.
	if !s.Enqueue("a") {
		t.Fatal("expected re-enqueue after dispatch to be accepted")
	}
	waitFor(t, func() bool { return len(target.got()) == 2 })
}

func TestRunStopsOnCancel(t *testing.T) {
	target := &fakeTarget{}
	s := New(target, testLogger())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
