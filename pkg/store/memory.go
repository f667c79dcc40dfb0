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

package store

import (
	"context"
	"fmt"
	"sync"

	"go.corp.nvidia.com/labbook/pkg/notebook"
)

// MemoryStore keeps notebook documents in a map. It exists for tests and
// ephemeral single-process runs; documents go through the shared codec so it
// exercises the same round-trip as the durable backends.
type MemoryStore struct {
	mu     sync.Mutex
	docs   map[string][]byte
	owners map[string]string // id → owner
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:   map[string][]byte{},
		owners: map[string]string{},
	}
}

// Save stores the encoded notebook.
func (s *MemoryStore) Save(_ context.Context, nb *notebook.Notebook) error {
	data, err := encodeNotebook(nb)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[nb.ID] = data
	s.owners[nb.ID] = nb.OwnerPrincipal
	return nil
}

// Load reads one notebook owned by the given principal.
func (s *MemoryStore) Load(ctx context.Context, owner, id string) (*notebook.Notebook, error) {
	s.mu.Lock()
	data, ok := s.docs[id]
	docOwner := s.owners[id]
	s.mu.Unlock()
	if !ok || docOwner != owner {
		return nil, fmt.Errorf("notebook %s: %w", id, notebook.ErrNotebookNotFound)
	}
	return decodeNotebook(data)
}

// LoadByID finds a notebook regardless of owner.
func (s *MemoryStore) LoadByID(_ context.Context, id string) (*notebook.Notebook, error) {
	s.mu.Lock()
	data, ok := s.docs[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("notebook %s: %w", id, notebook.ErrNotebookNotFound)
	}
	return decodeNotebook(data)
}

// List returns the ids of the owner's notebooks.
func (s *MemoryStore) List(_ context.Context, owner string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, o := range s.owners {
		if o == owner {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Delete removes a notebook.
func (s *MemoryStore) Delete(_ context.Context, owner, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.owners[id]; !ok || o != owner {
		return fmt.Errorf("notebook %s: %w", id, notebook.ErrNotebookNotFound)
	}
	delete(s.docs, id)
	delete(s.owners, id)
	return nil
}

var _ notebook.Store = (*MemoryStore)(nil)
