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

// Package kernel implements the per-notebook execution worker and the
// manager that supervises it.
//
// The kernel runs in its own OS process and speaks newline-delimited JSON
// over stdin (requests) and stdout (notifications). Both directions carry
// self-describing tagged records; the closed sets of request types and
// notification channels are matched exhaustively.
package kernel

import "go.corp.nvidia.com/labbook/pkg/notebook"

// SystemCellID marks notifications that are about the kernel itself rather
// than a specific cell (database configuration changes, for example).
const SystemCellID = "__system__"

// RequestType enumerates the inbound request variants.
type RequestType string

const (
	RequestRegisterCell RequestType = "register_cell"
	RequestExecute      RequestType = "execute"
	RequestRemoveCell   RequestType = "remove_cell"
	RequestSetDBConfig  RequestType = "set_db_config"
	RequestShutdown     RequestType = "shutdown"
)

// Request is a single inbound kernel message. Fields beyond Type are
// populated per variant.
type Request struct {
	Type     RequestType       `json:"type"`
	CellID   string            `json:"cell_id,omitempty"`
	Code     string            `json:"code,omitempty"`
	CellType notebook.CellType `json:"cell_type,omitempty"`
	// Positions refreshes the kernel's cell_id → notebook position map,
	// used to break topological-order ties. Sent with register_cell so the
	// kernel tracks reordering caused by inserts and deletes.
	Positions        map[string]int `json:"positions,omitempty"`
	ConnectionString string         `json:"connection_string,omitempty"`
}

// Channel discriminates the outbound notification payload.
type Channel string

const (
	ChannelStatus   Channel = "status"
	ChannelStdout   Channel = "stdout"
	ChannelOutput   Channel = "output"
	ChannelError    Channel = "error"
	ChannelMetadata Channel = "metadata"
)

// Error kinds carried in ErrorInfo.Kind.
const (
	KindParseError              = "PARSE_ERROR"
	KindCycleDetected           = "CYCLE_DETECTED"
	KindCellNotRegistered       = "CELL_NOT_REGISTERED"
	KindBackendNotConfigured    = "BACKEND_NOT_CONFIGURED"
	KindTemplateVariableMissing = "TEMPLATE_VARIABLE_MISSING"
	KindRuntimeError            = "RUNTIME_ERROR"
	KindUpstreamFailed          = "UPSTREAM_FAILED"
)

// ErrorInfo is a cell-scoped diagnostic: a machine kind plus one
// human-readable message.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// DepsInfo carries a cell's recomputed dependency sets.
type DepsInfo struct {
	Reads  []string `json:"reads"`
	Writes []string `json:"writes"`
}

// Notification is a single outbound kernel message. Exactly one of the
// payload fields is set, according to Channel.
type Notification struct {
	CellID  string              `json:"cell_id"`
	Channel Channel             `json:"channel"`
	Status  notebook.CellStatus `json:"status,omitempty"`
	// System carries kernel-level status notes (cell_id __system__).
	System string           `json:"system,omitempty"`
	Text   string           `json:"text,omitempty"`
	Output *notebook.Output `json:"output,omitempty"`
	Err    *ErrorInfo       `json:"error,omitempty"`
	Deps   *DepsInfo        `json:"deps,omitempty"`
}

// ExecResult is the outcome of evaluating one cell.
type ExecResult struct {
	Stdout  string
	Outputs []notebook.Output
	Err     *ErrorInfo
}
