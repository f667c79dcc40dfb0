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

// Package broadcast fans notebook events out to live-channel observers.
//
// Delivery is best effort: each observer has a bounded queue and a slow
// consumer loses events rather than stalling execution or other observers.
// Clients are expected to resynchronize from a notebook snapshot when they
// reconnect.
package broadcast

import (
	"log/slog"
	"sync"

	"go.corp.nvidia.com/labbook/internal/metrics"
	"go.corp.nvidia.com/labbook/pkg/notebook"
)

// Event types carried on the live channel.
const (
	EventStatus          = "status"
	EventStdout          = "stdout"
	EventOutput          = "output"
	EventError           = "error"
	EventCellAdded       = "cell_added"
	EventCellUpdated     = "cell_updated"
	EventCellDeleted     = "cell_deleted"
	EventNotebookRenamed = "notebook_renamed"
	EventDBConfigUpdated = "db_config_updated"
	EventKernelError     = "kernel_error"
	EventAuthenticated   = "authenticated"
)

// Event is one live-channel message. Type determines which optional fields
// are populated; the JSON shape is what browser clients consume.
type Event struct {
	Type     string           `json:"type"`
	CellID   string           `json:"cellId,omitempty"`
	Status   string           `json:"status,omitempty"`
	Data     string           `json:"data,omitempty"`
	Output   *notebook.Output `json:"output,omitempty"`
	Error    *ErrorPayload    `json:"error,omitempty"`
	Cell     any              `json:"cell,omitempty"`
	Index    *int             `json:"index,omitempty"`
	Revision int64            `json:"revision,omitempty"`
	Name     string           `json:"name,omitempty"`
	Message  string           `json:"message,omitempty"`
}

// ErrorPayload is the error payload of error and kernel_error events.
type ErrorPayload struct {
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

// observerBuffer bounds each observer's queue.
const observerBuffer = 256

// Observer is one attached live-channel consumer.
type Observer struct {
	ch chan Event
}

// Events returns the observer's event stream. The channel is closed when the
// observer is detached.
func (o *Observer) Events() <-chan Event { return o.ch }

// Broadcaster distributes events for a single notebook.
type Broadcaster struct {
	logger *slog.Logger

	mu        sync.Mutex
	observers map[*Observer]bool
	closed    bool
	dropped   uint64
}

// New creates an empty broadcaster.
func New(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		logger:    logger,
		observers: map[*Observer]bool{},
	}
}

// Attach registers a new observer. Returns nil if the broadcaster is closed.
func (b *Broadcaster) Attach() *Observer {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	o := &Observer{ch: make(chan Event, observerBuffer)}
	b.observers[o] = true
	return o
}

// Detach removes an observer and closes its stream. Detaching twice is a
// no-op.
func (b *Broadcaster) Detach(o *Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.observers[o] {
		delete(b.observers, o)
		close(o.ch)
	}
}

// Broadcast sends an event to every observer, dropping it for observers
// whose queue is full.
func (b *Broadcaster) Broadcast(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for o := range b.observers {
		select {
		case o.ch <- ev:
		default:
			b.dropped++
			metrics.EventsDropped.Inc()
			if b.dropped%100 == 1 {
				b.logger.Warn("dropping events for slow observer",
					slog.Uint64("dropped_total", b.dropped))
			}
		}
	}
}

// ObserverCount returns the number of attached observers.
func (b *Broadcaster) ObserverCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.observers)
}

// Dropped returns the total number of events dropped so far.
func (b *Broadcaster) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close detaches every observer and rejects future attaches.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for o := range b.observers {
		delete(b.observers, o)
		close(o.ch)
	}
}
