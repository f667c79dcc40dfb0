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

// Package scheduler serializes cell run requests for one notebook.
//
// Run requests arrive from many websocket sessions at once; the scheduler
// funnels them into a single FIFO so the kernel sees one execution pass at a
// time. Requests coalesce two ways: a cell already pending is not queued
// again, and dispatching a cell discharges any pending cells downstream of
// it, since the pass the dispatch triggers covers them anyway.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
)

// Target is the execution sink the scheduler drives. Dispatch triggers a
// reactive pass rooted at the cell; Descendants reports what that pass will
// cover beyond the cell itself.
type Target interface {
	Dispatch(ctx context.Context, cellID string) error
	Descendants(cellID string) []string
}

// Scheduler owns the pending set for one notebook.
type Scheduler struct {
	target Target
	logger *slog.Logger

	mu      sync.Mutex
	queue   []string
	pending map[string]bool

	wake chan struct{}
}

// New creates a scheduler for the given target.
func New(target Target, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		target:  target,
		logger:  logger,
		pending: map[string]bool{},
		wake:    make(chan struct{}, 1),
	}
}

// Enqueue requests a run of the cell. A cell already pending coalesces into
// the existing request. Returns false when coalesced.
func (s *Scheduler) Enqueue(cellID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending[cellID] {
		return false
	}
	s.pending[cellID] = true
	s.queue = append(s.queue, cellID)
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// Pending reports whether the cell currently has a queued run.
func (s *Scheduler) Pending(cellID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[cellID]
}

// Run drains the queue until the context is cancelled. Intended to run as a
// goroutine; there must be at most one Run per scheduler.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		}
		for {
			cellID, ok := s.next()
			if !ok {
				break
			}
			if err := s.target.Dispatch(ctx, cellID); err != nil {
				s.logger.Error("dispatch failed",
					slog.String("cell", cellID),
					slog.String("error", err.Error()))
			}
			if ctx.Err() != nil {
				return
			}
		}
	}
}

// next pops the head of the queue and discharges pending runs the head's
// pass will cover.
func (s *Scheduler) next() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return "", false
	}
	head := s.queue[0]
	s.queue = s.queue[1:]
	delete(s.pending, head)

	covered := map[string]bool{}
	for _, desc := range s.target.Descendants(head) {
		covered[desc] = true
	}
	if len(covered) > 0 {
		kept := s.queue[:0]
		for _, id := range s.queue {
			if covered[id] {
				delete(s.pending, id)
				continue
			}
			kept = append(kept, id)
		}
		s.queue = kept
	}
	return head, true
}
