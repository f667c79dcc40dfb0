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
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Store is the persistence capability the service consumes. Implementations
// must be crash-safe; the full notebook is written on every mutation.
type Store interface {
	Save(ctx context.Context, nb *Notebook) error
	Load(ctx context.Context, owner, id string) (*Notebook, error)
	LoadByID(ctx context.Context, id string) (*Notebook, error)
	List(ctx context.Context, owner string) ([]string, error)
	Delete(ctx context.Context, owner, id string) error
}

// Service applies strictly-locked structural mutations to notebooks. Every
// mutation holds the notebook mutex for its whole body, increments the
// revision, and persists before returning; a storage failure rolls the
// mutation back and leaves the revision unchanged.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a notebook mutation service backed by the given store.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// Store returns the underlying notebook store.
func (s *Service) Store() Store { return s.store }

// CellView is the public, deep-copied view of a cell used by snapshots.
type CellView struct {
	ID     string     `json:"id"`
	Type   CellType   `json:"type"`
	Code   string     `json:"code"`
	Status CellStatus `json:"status"`
	Stdout string     `json:"stdout,omitempty"`
	Error  string     `json:"error,omitempty"`
	Reads  []string   `json:"reads"`
	Writes []string   `json:"writes"`
}

// LockedCreateCell inserts a cell at index (or appends when index is nil),
// registers it in the dependency graph, bumps the revision and persists.
// A cycle keeps the cell but marks it errored with the cycle diagnostic.
func (s *Service) LockedCreateCell(ctx context.Context, nb *Notebook, typ CellType, code string, index *int) (*Cell, error) {
	nb.Lock()
	defer nb.Unlock()

	cell := &Cell{
		ID:     uuid.NewString(),
		Type:   typ,
		Code:   code,
		Status: StatusIdle,
	}
	cell.Reads, cell.Writes = ExtractDeps(typ, code)

	at := len(nb.Cells)
	if index != nil && *index >= 0 && *index <= len(nb.Cells) {
		at = *index
	}
	nb.Cells = append(nb.Cells[:at], append([]*Cell{cell}, nb.Cells[at:]...)...)

	inGraph := true
	if err := nb.Graph.Upsert(cell.ID, cell.Reads, cell.Writes); err != nil {
		cell.Status = StatusError
		cell.Error = err.Error()
		inGraph = false
	}

	nb.Revision++
	if err := s.store.Save(ctx, nb); err != nil {
		// Roll back: storage failures must not bump the revision.
		nb.Revision--
		nb.Cells = append(nb.Cells[:at], nb.Cells[at+1:]...)
		if inGraph {
			nb.Graph.Remove(cell.ID)
		}
		return nil, fmt.Errorf("persist create_cell: %w", err)
	}

	s.logger.Info("cell created",
		slog.String("notebook", nb.ID),
		slog.String("cell", cell.ID),
		slog.Int64("revision", nb.Revision))
	return cell, nil
}

// LockedUpdateCell replaces a cell's code. When expectedRevision is given
// and stale, the update fails with ErrRevisionConflict and nothing changes.
func (s *Service) LockedUpdateCell(ctx context.Context, nb *Notebook, cellID, code string, expectedRevision *int64) (*Cell, error) {
	nb.Lock()
	defer nb.Unlock()

	if expectedRevision != nil && nb.Revision != *expectedRevision {
		return nil, fmt.Errorf("expected revision %d, have %d: %w",
			*expectedRevision, nb.Revision, ErrRevisionConflict)
	}

	cell := nb.CellByID(cellID)
	if cell == nil {
		return nil, fmt.Errorf("cell %s: %w", cellID, ErrCellNotFound)
	}

	prev := *cell
	cell.Code = code
	cell.Status = StatusIdle
	cell.Error = ""
	cell.Reads, cell.Writes = ExtractDeps(cell.Type, code)

	graphChanged := false
	if err := nb.Graph.Upsert(cell.ID, cell.Reads, cell.Writes); err != nil {
		cell.Status = StatusError
		cell.Error = err.Error()
	} else {
		graphChanged = true
	}

	nb.Revision++
	if err := s.store.Save(ctx, nb); err != nil {
		nb.Revision--
		*cell = prev
		if graphChanged {
			// The previous definition was valid, so re-upserting it cannot cycle.
			_ = nb.Graph.Upsert(cell.ID, prev.Reads, prev.Writes)
		}
		return nil, fmt.Errorf("persist update_cell: %w", err)
	}

	s.logger.Info("cell updated",
		slog.String("notebook", nb.ID),
		slog.String("cell", cell.ID),
		slog.Int64("revision", nb.Revision))
	return cell, nil
}

// LockedDeleteCell removes a cell from the sequence and the graph, bumps the
// revision and persists. The removed cell is returned so the caller can tell
// the kernel to evict the names it wrote.
func (s *Service) LockedDeleteCell(ctx context.Context, nb *Notebook, cellID string) (*Cell, error) {
	nb.Lock()
	defer nb.Unlock()

	at := nb.CellIndex(cellID)
	if at < 0 {
		return nil, fmt.Errorf("cell %s: %w", cellID, ErrCellNotFound)
	}
	cell := nb.Cells[at]

	nb.Cells = append(nb.Cells[:at], nb.Cells[at+1:]...)
	wasInGraph := nb.Graph.HasNode(cellID)
	nb.Graph.Remove(cellID)

	nb.Revision++
	if err := s.store.Save(ctx, nb); err != nil {
		nb.Revision--
		nb.Cells = append(nb.Cells[:at], append([]*Cell{cell}, nb.Cells[at:]...)...)
		if wasInGraph {
			_ = nb.Graph.Upsert(cell.ID, cell.Reads, cell.Writes)
		}
		return nil, fmt.Errorf("persist delete_cell: %w", err)
	}

	s.logger.Info("cell deleted",
		slog.String("notebook", nb.ID),
		slog.String("cell", cellID),
		slog.Int64("revision", nb.Revision))
	return cell, nil
}

// LockedRename sets the notebook's display name.
func (s *Service) LockedRename(ctx context.Context, nb *Notebook, name string) error {
	nb.Lock()
	defer nb.Unlock()

	prev := nb.Name
	nb.Name = name
	nb.Revision++
	if err := s.store.Save(ctx, nb); err != nil {
		nb.Revision--
		nb.Name = prev
		return fmt.Errorf("persist rename: %w", err)
	}
	return nil
}

// LockedSetDBConnection sets the connection string used by query cells.
func (s *Service) LockedSetDBConnection(ctx context.Context, nb *Notebook, connString string) error {
	nb.Lock()
	defer nb.Unlock()

	prev := nb.DBConnectionString
	nb.DBConnectionString = connString
	nb.Revision++
	if err := s.store.Save(ctx, nb); err != nil {
		nb.Revision--
		nb.DBConnectionString = prev
		return fmt.Errorf("persist set_db_connection: %w", err)
	}
	return nil
}

// LockedSnapshot returns a deep copy of the cell list, public fields only.
func (s *Service) LockedSnapshot(nb *Notebook) []CellView {
	nb.Lock()
	defer nb.Unlock()

	views := make([]CellView, 0, len(nb.Cells))
	for _, c := range nb.Cells {
		views = append(views, CellView{
			ID:     c.ID,
			Type:   c.Type,
			Code:   c.Code,
			Status: c.Status,
			Stdout: c.Stdout,
			Error:  c.Error,
			Reads:  append([]string(nil), c.Reads...),
			Writes: append([]string(nil), c.Writes...),
		})
	}
	return views
}
