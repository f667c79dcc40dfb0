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

package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.corp.nvidia.com/labbook/internal/metrics"
	"go.corp.nvidia.com/labbook/pkg/kernel"
	"go.corp.nvidia.com/labbook/pkg/notebook"
)

// Registry tracks the live coordinators, one per open notebook. A notebook's
// kernel spawns on first access and is torn down when the registry releases
// it with no observers left.
type Registry struct {
	svc    *notebook.Service
	start  kernel.StartFunc
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]*Coordinator
}

// NewRegistry creates an empty registry.
func NewRegistry(svc *notebook.Service, start kernel.StartFunc, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		svc:    svc,
		start:  start,
		logger: logger,
		active: map[string]*Coordinator{},
	}
}

// Create makes a new notebook for the principal, persists it, and brings its
// coordinator up.
func (r *Registry) Create(ctx context.Context, principal string) (*Coordinator, error) {
	nb := notebook.New(principal)
	nb.Revision = 1
	if err := r.svc.Store().Save(ctx, nb); err != nil {
		return nil, fmt.Errorf("persist new notebook: %w", err)
	}

	c, err := New(ctx, nb, r.svc, r.start, r.logger)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.active[nb.ID] = c
	r.mu.Unlock()
	metrics.OpenNotebooks.Inc()
	r.logger.Info("notebook created",
		slog.String("notebook", nb.ID),
		slog.String("principal", principal))
	return c, nil
}

// Acquire returns the live coordinator for a notebook, loading it from the
// store and spawning its kernel if it is not open yet. Principals can only
// acquire notebooks they own.
func (r *Registry) Acquire(ctx context.Context, id, principal string) (*Coordinator, error) {
	r.mu.Lock()
	if c, ok := r.active[id]; ok {
		r.mu.Unlock()
		if c.Notebook().OwnerPrincipal != principal {
			return nil, fmt.Errorf("notebook %s: %w", id, notebook.ErrForbidden)
		}
		return c, nil
	}
	r.mu.Unlock()

	nb, err := r.svc.Store().LoadByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if nb.OwnerPrincipal != principal {
		return nil, fmt.Errorf("notebook %s: %w", id, notebook.ErrForbidden)
	}

	c, err := New(ctx, nb, r.svc, r.start, r.logger)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if existing, ok := r.active[id]; ok {
		// Lost the race with a concurrent Acquire; keep the winner.
		r.mu.Unlock()
		_ = c.Close(ctx)
		return existing, nil
	}
	r.active[id] = c
	r.mu.Unlock()
	metrics.OpenNotebooks.Inc()
	return c, nil
}

// Release closes a notebook's coordinator if nothing is observing it
// anymore. Called when a live-channel session detaches.
func (r *Registry) Release(ctx context.Context, id string) {
	r.mu.Lock()
	c, ok := r.active[id]
	if !ok || c.ObserverCount() > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.active, id)
	r.mu.Unlock()
	metrics.OpenNotebooks.Dec()

	if err := c.Close(ctx); err != nil {
		r.logger.Warn("closing idle notebook",
			slog.String("notebook", id),
			slog.String("error", err.Error()))
	}
	r.logger.Info("notebook released", slog.String("notebook", id))
}

// Delete tears a notebook down and removes it from storage.
func (r *Registry) Delete(ctx context.Context, id, principal string) error {
	r.mu.Lock()
	c, ok := r.active[id]
	delete(r.active, id)
	r.mu.Unlock()

	if ok {
		if c.Notebook().OwnerPrincipal != principal {
			r.mu.Lock()
			r.active[id] = c
			r.mu.Unlock()
			return fmt.Errorf("notebook %s: %w", id, notebook.ErrForbidden)
		}
		metrics.OpenNotebooks.Dec()
		if err := c.Close(ctx); err != nil {
			r.logger.Warn("closing notebook before delete",
				slog.String("notebook", id),
				slog.String("error", err.Error()))
		}
	}
	return r.svc.Store().Delete(ctx, principal, id)
}

// List returns the principal's notebook ids from storage.
func (r *Registry) List(ctx context.Context, principal string) ([]string, error) {
	return r.svc.Store().List(ctx, principal)
}

// Shutdown closes every live coordinator.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	coords := make([]*Coordinator, 0, len(r.active))
	for id, c := range r.active {
		coords = append(coords, c)
		delete(r.active, id)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range coords {
		wg.Add(1)
		go func(c *Coordinator) {
			defer wg.Done()
			if err := c.Close(ctx); err != nil {
				r.logger.Warn("closing notebook on shutdown", slog.String("error", err.Error()))
			}
			metrics.OpenNotebooks.Dec()
		}(c)
	}
	wg.Wait()
}
