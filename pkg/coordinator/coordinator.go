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

// Package coordinator runs one live notebook: it owns the kernel for the
// notebook, funnels structural edits through the locked service, schedules
// executions, and fans kernel notifications out to attached live-channel
// observers.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.corp.nvidia.com/labbook/internal/metrics"
	"go.corp.nvidia.com/labbook/pkg/broadcast"
	"go.corp.nvidia.com/labbook/pkg/kernel"
	"go.corp.nvidia.com/labbook/pkg/notebook"
	"go.corp.nvidia.com/labbook/pkg/scheduler"
)

// Coordinator is the single writer for one notebook's runtime state.
type Coordinator struct {
	nb     *notebook.Notebook
	svc    *notebook.Service
	mgr    *kernel.Manager
	sched  *scheduler.Scheduler
	bcast  *broadcast.Broadcaster
	logger *slog.Logger

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closing atomic.Bool
}

// New starts a coordinator: it spawns the notebook's kernel, seeds it with
// the database config and every cell, and starts the notification pump and
// the run scheduler.
func New(ctx context.Context, nb *notebook.Notebook, svc *notebook.Service, start kernel.StartFunc, logger *slog.Logger) (*Coordinator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("notebook", nb.ID))

	c := &Coordinator{
		nb:     nb,
		svc:    svc,
		mgr:    kernel.NewManager(start, logger),
		bcast:  broadcast.New(logger),
		logger: logger,
	}
	c.sched = scheduler.New(c, logger)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel

	t, err := c.mgr.Start(runCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("start kernel: %w", err)
	}
	if err := c.seed(); err != nil {
		c.logger.Error("seeding kernel failed", slog.String("error", err.Error()))
	}

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.pump(runCtx, t)
	}()
	go func() {
		defer c.wg.Done()
		c.sched.Run(runCtx)
	}()
	return c, nil
}

// Notebook returns the notebook this coordinator runs.
func (c *Coordinator) Notebook() *notebook.Notebook { return c.nb }

// Attach adds a live-channel observer.
func (c *Coordinator) Attach() *broadcast.Observer { return c.bcast.Attach() }

// Detach removes a live-channel observer.
func (c *Coordinator) Detach(o *broadcast.Observer) { c.bcast.Detach(o) }

// ObserverCount returns the number of attached observers.
func (c *Coordinator) ObserverCount() int { return c.bcast.ObserverCount() }

// seed pushes the notebook's current definition into a fresh kernel.
func (c *Coordinator) seed() error {
	c.nb.Lock()
	connString := c.nb.DBConnectionString
	positions := c.nb.Positions()
	type cellDef struct {
		id   string
		typ  notebook.CellType
		code string
	}
	defs := make([]cellDef, 0, len(c.nb.Cells))
	for _, cell := range c.nb.Cells {
		defs = append(defs, cellDef{cell.ID, cell.Type, cell.Code})
	}
	c.nb.Unlock()

	if connString != "" {
		if err := c.mgr.Send(kernel.Request{
			Type:             kernel.RequestSetDBConfig,
			ConnectionString: connString,
		}); err != nil {
			return err
		}
	}
	for _, def := range defs {
		if err := c.mgr.Send(kernel.Request{
			Type:      kernel.RequestRegisterCell,
			CellID:    def.id,
			Code:      def.code,
			CellType:  def.typ,
			Positions: positions,
		}); err != nil {
			return err
		}
	}
	return nil
}

// pump translates kernel notifications into runtime state and events. When
// the kernel dies it keeps respawning until the coordinator is closed.
func (c *Coordinator) pump(ctx context.Context, t kernel.Transport) {
	for {
		for n := range t.Notifications() {
			c.handle(n)
		}
		if ctx.Err() != nil || c.closing.Load() {
			return
		}

		errMsg := "kernel exited unexpectedly"
		if err := t.Err(); err != nil {
			errMsg = fmt.Sprintf("kernel exited: %v", err)
		}
		c.logger.Error("kernel died", slog.String("error", errMsg))
		c.resetRunning()
		c.bcast.Broadcast(broadcast.Event{
			Type:  broadcast.EventKernelError,
			Error: &broadcast.ErrorPayload{Message: errMsg},
		})

		var err error
		for {
			t, err = c.mgr.Restart(ctx)
			if err == nil {
				metrics.KernelRestarts.Inc()
				break
			}
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kernel respawn failed", slog.String("error", err.Error()))
		}
		// A teardown that raced the respawn owns shutdown; drop the fresh
		// kernel instead of pumping it.
		if ctx.Err() != nil || c.closing.Load() {
			_ = t.Close()
			return
		}
		if err := c.seed(); err != nil {
			c.logger.Error("reseeding kernel failed", slog.String("error", err.Error()))
		}
	}
}

// resetRunning marks in-flight cells idle after a kernel death so clients do
// not show them running forever.
func (c *Coordinator) resetRunning() {
	c.nb.Lock()
	defer c.nb.Unlock()
	for _, cell := range c.nb.Cells {
		if cell.Status == notebook.StatusRunning {
			cell.Status = notebook.StatusIdle
		}
	}
}

// handle applies one kernel notification to the notebook's runtime state and
// broadcasts the matching event.
func (c *Coordinator) handle(n kernel.Notification) {
	if n.CellID == kernel.SystemCellID {
		c.logger.Debug("kernel system notification", slog.String("note", n.System))
		return
	}

	c.nb.Lock()
	cell := c.nb.CellByID(n.CellID)
	if cell != nil {
		switch n.Channel {
		case kernel.ChannelStatus:
			cell.Status = n.Status
			if n.Status == notebook.StatusRunning {
				cell.Stdout = ""
				cell.Outputs = nil
				cell.Error = ""
			}
		case kernel.ChannelStdout:
			cell.Stdout += n.Text
		case kernel.ChannelOutput:
			if n.Output != nil {
				cell.Outputs = append(cell.Outputs, *n.Output)
			}
		case kernel.ChannelError:
			if n.Err != nil {
				cell.Error = n.Err.Message
			}
		case kernel.ChannelMetadata:
			if n.Deps != nil {
				cell.Reads = n.Deps.Reads
				cell.Writes = n.Deps.Writes
			}
		}
	}
	c.nb.Unlock()
	if cell == nil {
		// The cell was deleted while its notifications were in flight.
		return
	}

	switch n.Channel {
	case kernel.ChannelStatus:
		switch n.Status {
		case notebook.StatusSuccess, notebook.StatusError, notebook.StatusBlocked:
			metrics.CellExecutions.WithLabelValues(string(n.Status)).Inc()
		}
		c.bcast.Broadcast(broadcast.Event{
			Type:   broadcast.EventStatus,
			CellID: n.CellID,
			Status: string(n.Status),
		})
	case kernel.ChannelStdout:
		c.bcast.Broadcast(broadcast.Event{
			Type:   broadcast.EventStdout,
			CellID: n.CellID,
			Data:   n.Text,
		})
	case kernel.ChannelOutput:
		c.bcast.Broadcast(broadcast.Event{
			Type:   broadcast.EventOutput,
			CellID: n.CellID,
			Output: n.Output,
		})
	case kernel.ChannelError:
		if n.Err != nil {
			c.bcast.Broadcast(broadcast.Event{
				Type:   broadcast.EventError,
				CellID: n.CellID,
				Error:  &broadcast.ErrorPayload{Kind: n.Err.Kind, Message: n.Err.Message},
			})
		}
	case kernel.ChannelMetadata:
		// Dependency updates reach clients through cell_added/cell_updated.
	}
}

// Dispatch sends an execute request to the kernel. Part of the scheduler
// target contract.
func (c *Coordinator) Dispatch(_ context.Context, cellID string) error {
	return c.mgr.Send(kernel.Request{Type: kernel.RequestExecute, CellID: cellID})
}

// Descendants reports the cells downstream of the given one. Part of the
// scheduler target contract.
func (c *Coordinator) Descendants(cellID string) []string {
	c.nb.Lock()
	defer c.nb.Unlock()
	return c.nb.Graph.Descendants(cellID)
}

// RunCell queues a reactive execution pass rooted at the cell.
func (c *Coordinator) RunCell(cellID string) error {
	c.nb.Lock()
	cell := c.nb.CellByID(cellID)
	c.nb.Unlock()
	if cell == nil {
		return fmt.Errorf("cell %s: %w", cellID, notebook.ErrCellNotFound)
	}
	c.sched.Enqueue(cellID)
	return nil
}

// AddCell creates a cell, registers it with the kernel, and announces it.
func (c *Coordinator) AddCell(ctx context.Context, typ notebook.CellType, code string, index *int) (*notebook.Cell, error) {
	cell, err := c.svc.LockedCreateCell(ctx, c.nb, typ, code, index)
	if err != nil {
		return nil, err
	}
	c.registerCell(cell)

	c.nb.Lock()
	at := c.nb.CellIndex(cell.ID)
	rev := c.nb.Revision
	view := viewOf(cell)
	c.nb.Unlock()

	c.bcast.Broadcast(broadcast.Event{
		Type:     broadcast.EventCellAdded,
		CellID:   cell.ID,
		Cell:     view,
		Index:    &at,
		Revision: rev,
	})
	return cell, nil
}

// UpdateCell replaces a cell's code, re-registers it, and announces the
// change. The kernel marks the cell and its descendants stale; nothing runs
// until the client asks.
func (c *Coordinator) UpdateCell(ctx context.Context, cellID, code string, expectedRevision *int64) (*notebook.Cell, error) {
	cell, err := c.svc.LockedUpdateCell(ctx, c.nb, cellID, code, expectedRevision)
	if err != nil {
		return nil, err
	}
	c.registerCell(cell)

	c.nb.Lock()
	rev := c.nb.Revision
	view := viewOf(cell)
	c.nb.Unlock()

	c.bcast.Broadcast(broadcast.Event{
		Type:     broadcast.EventCellUpdated,
		CellID:   cell.ID,
		Cell:     view,
		Revision: rev,
	})
	return cell, nil
}

// DeleteCell removes a cell, evicts its bindings from the kernel, and
// announces the removal.
func (c *Coordinator) DeleteCell(ctx context.Context, cellID string) error {
	if _, err := c.svc.LockedDeleteCell(ctx, c.nb, cellID); err != nil {
		return err
	}
	if err := c.mgr.Send(kernel.Request{Type: kernel.RequestRemoveCell, CellID: cellID}); err != nil {
		c.logger.Warn("remove_cell not delivered",
			slog.String("cell", cellID),
			slog.String("error", err.Error()))
	}

	c.nb.Lock()
	rev := c.nb.Revision
	c.nb.Unlock()

	c.bcast.Broadcast(broadcast.Event{
		Type:     broadcast.EventCellDeleted,
		CellID:   cellID,
		Revision: rev,
	})
	return nil
}

// Rename sets the notebook's display name and announces it.
func (c *Coordinator) Rename(ctx context.Context, name string) error {
	if err := c.svc.LockedRename(ctx, c.nb, name); err != nil {
		return err
	}
	c.nb.Lock()
	rev := c.nb.Revision
	c.nb.Unlock()
	c.bcast.Broadcast(broadcast.Event{
		Type:     broadcast.EventNotebookRenamed,
		Name:     name,
		Revision: rev,
	})
	return nil
}

// SetDBConnection updates the query-cell connection string and pushes it to
// the kernel. The announcement never carries the connection string itself.
func (c *Coordinator) SetDBConnection(ctx context.Context, connString string) error {
	if err := c.svc.LockedSetDBConnection(ctx, c.nb, connString); err != nil {
		return err
	}
	if err := c.mgr.Send(kernel.Request{
		Type:             kernel.RequestSetDBConfig,
		ConnectionString: connString,
	}); err != nil {
		c.logger.Warn("set_db_config not delivered", slog.String("error", err.Error()))
	}
	c.nb.Lock()
	rev := c.nb.Revision
	c.nb.Unlock()
	c.bcast.Broadcast(broadcast.Event{
		Type:     broadcast.EventDBConfigUpdated,
		Revision: rev,
		Message:  "database connection updated",
	})
	return nil
}

// Snapshot is the full notebook state a client needs to render.
type Snapshot struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Revision     int64               `json:"revision"`
	DBConfigured bool                `json:"dbConfigured"`
	Cells        []notebook.CellView `json:"cells"`
}

// Snapshot returns a deep-copied view of the notebook.
func (c *Coordinator) Snapshot() Snapshot {
	cells := c.svc.LockedSnapshot(c.nb)
	c.nb.Lock()
	defer c.nb.Unlock()
	return Snapshot{
		ID:           c.nb.ID,
		Name:         c.nb.Name,
		Revision:     c.nb.Revision,
		DBConfigured: c.nb.DBConnectionString != "",
		Cells:        cells,
	}
}

// Close tears the coordinator down: the kernel gets a graceful shutdown
// while the run context is still live, then scheduler and pump stop and
// observers are detached. The closing flag keeps the pump from treating the
// shutdown as a crash and respawning.
func (c *Coordinator) Close(ctx context.Context) error {
	c.closing.Store(true)
	err := c.mgr.Stop(ctx)
	c.cancel()
	if errors.Is(err, kernel.ErrKernelExited) {
		err = nil
	}
	c.wg.Wait()
	c.bcast.Close()
	return err
}

func (c *Coordinator) registerCell(cell *notebook.Cell) {
	c.nb.Lock()
	positions := c.nb.Positions()
	req := kernel.Request{
		Type:      kernel.RequestRegisterCell,
		CellID:    cell.ID,
		Code:      cell.Code,
		CellType:  cell.Type,
		Positions: positions,
	}
	c.nb.Unlock()
	if err := c.mgr.Send(req); err != nil {
		c.logger.Warn("register_cell not delivered",
			slog.String("cell", cell.ID),
			slog.String("error", err.Error()))
	}
}

// viewOf copies a cell into its public view. Caller holds the notebook lock.
func viewOf(cell *notebook.Cell) notebook.CellView {
	return notebook.CellView{
		ID:     cell.ID,
		Type:   cell.Type,
		Code:   cell.Code,
		Status: cell.Status,
		Stdout: cell.Stdout,
		Error:  cell.Error,
		Reads:  append([]string(nil), cell.Reads...),
		Writes: append([]string(nil), cell.Writes...),
	}
}
