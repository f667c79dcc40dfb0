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

package kernel

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"go.corp.nvidia.com/labbook/pkg/graph"
	"go.corp.nvidia.com/labbook/pkg/notebook"
)

// maxRequestBytes bounds a single request line; cells are source code, so
// this is generous.
const maxRequestBytes = 16 << 20

type cellState struct {
	typ    notebook.CellType
	code   string
	hasRun bool
	// registered is false when the last register_cell was rejected with a
	// cycle; executing such a cell is a silent no-op since the error was
	// already reported.
	registered bool
}

// Runner is the kernel side of the wire protocol: it reads requests from in,
// executes cells, and writes notifications to out. It owns the namespace,
// the kernel's replica of the dependency graph, and the has-run bookkeeping
// that drives reactive cascades.
//
// All diagnostics go through the logger; out carries nothing but
// notifications.
type Runner struct {
	in     *bufio.Scanner
	out    *json.Encoder
	logger *slog.Logger

	exec      *Executor
	query     *QueryRunner
	graph     *graph.DepGraph
	cells     map[string]*cellState
	positions map[string]int
}

// NewRunner wires a runner to its request and notification streams.
func NewRunner(in io.Reader, out io.Writer, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64<<10), maxRequestBytes)

	r := &Runner{
		in:        scanner,
		out:       json.NewEncoder(out),
		logger:    logger,
		exec:      NewExecutor(),
		query:     &QueryRunner{},
		graph:     graph.New(),
		cells:     map[string]*cellState{},
		positions: map[string]int{},
	}
	r.graph.SetOrder(r.positionLess)
	return r
}

// Run processes requests until shutdown, stdin closure, or context
// cancellation.
func (r *Runner) Run(ctx context.Context) error {
	for r.in.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := r.in.Bytes()
		if len(line) == 0 {
			continue
		}
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			r.logger.Error("malformed request", slog.String("error", err.Error()))
			continue
		}
		switch req.Type {
		case RequestRegisterCell:
			r.handleRegister(req)
		case RequestExecute:
			r.handleExecute(ctx, req.CellID)
		case RequestRemoveCell:
			r.handleRemove(req.CellID)
		case RequestSetDBConfig:
			r.handleSetDB(req.ConnectionString)
		case RequestShutdown:
			r.logger.Info("shutdown requested")
			return nil
		default:
			r.logger.Warn("unknown request type", slog.String("type", string(req.Type)))
		}
	}
	return r.in.Err()
}

// handleRegister records a cell definition, recomputes its dependencies and
// upserts it into the graph. Registering marks the cell and everything
// downstream of it stale and resets the cell to idle; a rejected cycle
// reports the error, marks the cell blocked, and leaves the graph as it was.
func (r *Runner) handleRegister(req Request) {
	if req.Positions != nil {
		r.positions = req.Positions
	}

	st := r.cells[req.CellID]
	if st == nil {
		st = &cellState{}
		r.cells[req.CellID] = st
	}
	st.typ = req.CellType
	st.code = req.Code
	st.hasRun = false

	reads, writes := notebook.ExtractDeps(req.CellType, req.Code)
	if err := r.graph.Upsert(req.CellID, reads, writes); err != nil {
		st.registered = false
		r.send(Notification{
			CellID:  req.CellID,
			Channel: ChannelError,
			Err:     &ErrorInfo{Kind: KindCycleDetected, Message: err.Error()},
		})
		r.send(Notification{CellID: req.CellID, Channel: ChannelStatus, Status: notebook.StatusBlocked})
		return
	}
	st.registered = true

	for _, desc := range r.graph.Descendants(req.CellID) {
		if ds := r.cells[desc]; ds != nil {
			ds.hasRun = false
		}
	}

	r.send(Notification{
		CellID:  req.CellID,
		Channel: ChannelMetadata,
		Deps:    &DepsInfo{Reads: reads, Writes: writes},
	})
	r.send(Notification{CellID: req.CellID, Channel: ChannelStatus, Status: notebook.StatusIdle})
}

// handleExecute runs a reactive pass rooted at one cell: stale ancestors
// first, then the cell, then everything downstream, in topological order. A
// failure inside the pass blocks the failed cell's downstream for the rest
// of the pass.
func (r *Runner) handleExecute(ctx context.Context, cellID string) {
	st, ok := r.cells[cellID]
	if !ok {
		r.send(Notification{
			CellID:  cellID,
			Channel: ChannelError,
			Err: &ErrorInfo{
				Kind:    KindCellNotRegistered,
				Message: fmt.Sprintf("cell %s has not been registered", cellID),
			},
		})
		r.send(Notification{CellID: cellID, Channel: ChannelStatus, Status: notebook.StatusError})
		return
	}
	if !st.registered {
		// The register that defined this cell was rejected; the error is
		// already on the wire.
		return
	}

	order := r.graph.AffectedOnRun(cellID, func(id string) bool {
		cs := r.cells[id]
		return cs != nil && cs.hasRun
	})

	failed := map[string]bool{}
	for _, id := range order {
		cs := r.cells[id]
		if cs == nil || !cs.registered {
			continue
		}
		if r.upstreamFailed(id, failed) {
			failed[id] = true
			cs.hasRun = false
			r.send(Notification{
				CellID:  id,
				Channel: ChannelError,
				Err:     &ErrorInfo{Kind: KindUpstreamFailed, Message: "an upstream cell failed"},
			})
			r.send(Notification{CellID: id, Channel: ChannelStatus, Status: notebook.StatusBlocked})
			continue
		}

		r.send(Notification{CellID: id, Channel: ChannelStatus, Status: notebook.StatusRunning})
		res := r.runCell(ctx, cs)
		if res.Stdout != "" {
			r.send(Notification{CellID: id, Channel: ChannelStdout, Text: res.Stdout})
		}
		for i := range res.Outputs {
			out := res.Outputs[i]
			r.send(Notification{CellID: id, Channel: ChannelOutput, Output: &out})
		}
		if res.Err != nil {
			failed[id] = true
			cs.hasRun = false
			r.send(Notification{CellID: id, Channel: ChannelError, Err: res.Err})
			r.send(Notification{CellID: id, Channel: ChannelStatus, Status: notebook.StatusError})
			continue
		}
		cs.hasRun = true
		r.send(Notification{CellID: id, Channel: ChannelStatus, Status: notebook.StatusSuccess})
	}
}

// handleRemove evicts the names the cell currently provides and drops it
// from the graph. Former readers go stale.
func (r *Runner) handleRemove(cellID string) {
	var evict []string
	for _, name := range r.graph.Writes(cellID) {
		if w, ok := r.graph.WriterOf(name); ok && w == cellID {
			evict = append(evict, name)
		}
	}
	for _, desc := range r.graph.Descendants(cellID) {
		if ds := r.cells[desc]; ds != nil {
			ds.hasRun = false
		}
	}
	r.exec.Evict(evict)
	r.graph.Remove(cellID)
	delete(r.cells, cellID)
}

func (r *Runner) handleSetDB(connString string) {
	r.query.SetConnString(connString)
	r.send(Notification{
		CellID:  SystemCellID,
		Channel: ChannelStatus,
		System:  "database connection updated",
	})
}

func (r *Runner) runCell(ctx context.Context, cs *cellState) ExecResult {
	if cs.typ == notebook.CellQuery {
		sql, args, errInfo := PrepareParameterized(cs.code, r.exec.Global)
		if errInfo != nil {
			return ExecResult{Err: errInfo}
		}
		return r.query.Run(ctx, sql, args)
	}
	return r.exec.Run(cs.code)
}

// upstreamFailed reports whether any direct predecessor failed or was
// blocked during the current pass.
func (r *Runner) upstreamFailed(id string, failed map[string]bool) bool {
	for _, pred := range r.graph.DirectPredecessors(id) {
		if failed[pred] {
			return true
		}
	}
	return false
}

func (r *Runner) positionLess(a, b string) bool {
	pa, oka := r.positions[a]
	pb, okb := r.positions[b]
	if !oka && !okb {
		return a < b
	}
	if !oka {
		return false
	}
	if !okb {
		return true
	}
	return pa < pb
}

func (r *Runner) send(n Notification) {
	if err := r.out.Encode(n); err != nil {
		r.logger.Error("encode notification", slog.String("error", err.Error()))
	}
}
