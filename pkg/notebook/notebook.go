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

package notebook

import (
	"sync"

	"github.com/google/uuid"

	"go.corp.nvidia.com/labbook/pkg/deps"
	"go.corp.nvidia.com/labbook/pkg/graph"
)

// Notebook is an ordered cell sequence with its own dependency graph,
// revision counter and owner. The cell list, graph and revision are mutated
// only while holding the notebook's mutex.
type Notebook struct {
	ID                 string
	OwnerPrincipal     string
	Name               string
	DBConnectionString string
	Revision           int64
	Cells              []*Cell
	Graph              *graph.DepGraph

	mu sync.Mutex
}

// New creates a notebook with a single empty imperative cell.
func New(owner string) *Notebook {
	nb := &Notebook{
		ID:             uuid.NewString(),
		OwnerPrincipal: owner,
		Cells: []*Cell{{
			ID:     uuid.NewString(),
			Type:   CellImperative,
			Status: StatusIdle,
			Reads:  []string{},
			Writes: []string{},
		}},
	}
	nb.RebuildGraph()
	return nb
}

// Lock acquires the notebook mutex.
func (nb *Notebook) Lock() { nb.mu.Lock() }

// Unlock releases the notebook mutex.
func (nb *Notebook) Unlock() { nb.mu.Unlock() }

// CellByID returns the cell with the given id, or nil.
func (nb *Notebook) CellByID(id string) *Cell {
	for _, c := range nb.Cells {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// CellIndex returns the position of a cell in the sequence, or -1.
func (nb *Notebook) CellIndex(id string) int {
	for i, c := range nb.Cells {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// Positions returns the current cell_id → position mapping.
func (nb *Notebook) Positions() map[string]int {
	pos := make(map[string]int, len(nb.Cells))
	for i, c := range nb.Cells {
		pos[c.ID] = i
	}
	return pos
}

// ExtractDeps computes a cell's (reads, writes) from its source.
func ExtractDeps(typ CellType, code string) (reads, writes []string) {
	if typ == CellQuery {
		return deps.Query(code), []string{}
	}
	return deps.Imperative(code)
}

// RebuildGraph recomputes all dependency sets and rebuilds the graph from
// scratch, in cell order. Persisted reads/writes are advisory only; this is
// the load-time source of truth. A cell whose registration would close a
// cycle is kept but marked blocked.
func (nb *Notebook) RebuildGraph() {
	nb.Graph = graph.New()
	nb.Graph.SetOrder(nb.positionLess)
	for _, c := range nb.Cells {
		c.Reads, c.Writes = ExtractDeps(c.Type, c.Code)
		if err := nb.Graph.Upsert(c.ID, c.Reads, c.Writes); err != nil {
			c.Status = StatusBlocked
			c.Error = err.Error()
		}
	}
}

// positionLess orders cell ids by notebook position; ids no longer in the
// sequence sort last, by id.
func (nb *Notebook) positionLess(a, b string) bool {
	ia, ib := nb.CellIndex(a), nb.CellIndex(b)
	if ia < 0 && ib < 0 {
		return a < b
	}
	if ia < 0 {
		return false
	}
	if ib < 0 {
		return true
	}
	return ia < ib
}
