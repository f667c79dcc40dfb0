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

// Package notebook defines the notebook data model and the locked mutation
// service that all structural changes go through.
package notebook

// CellType discriminates the two cell languages.
type CellType string

const (
	// CellImperative is a Starlark cell sharing the notebook's mutable globals.
	CellImperative CellType = "imperative"
	// CellQuery is a parametric SQL cell with {name} template placeholders.
	CellQuery CellType = "query"
)

// CellStatus is the runtime state of a cell. It is never authoritative in
// storage; every cell resumes as StatusIdle on load.
type CellStatus string

const (
	StatusIdle    CellStatus = "idle"
	StatusRunning CellStatus = "running"
	StatusSuccess CellStatus = "success"
	StatusError   CellStatus = "error"
	StatusBlocked CellStatus = "blocked"
)

// Known output MIME types.
const (
	MimePlain    = "text/plain"
	MimePNG      = "image/png"
	MimeJSON     = "application/json"
	MimePlotly   = "application/vnd.plotly.v1+json"
	MimeVegaLite = "application/vnd.vegalite.v6+json"
)

// Output is a single renderable result of a cell: a MIME bundle.
type Output struct {
	MimeType string         `json:"mime_type"`
	Data     any            `json:"data"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Cell is one unit of code within a notebook. Code, Reads and Writes are the
// durable truth; Status, Stdout, Outputs and Error are runtime observations.
type Cell struct {
	ID      string     `json:"id"`
	Type    CellType   `json:"type"`
	Code    string     `json:"code"`
	Status  CellStatus `json:"-"`
	Stdout  string     `json:"stdout,omitempty"`
	Outputs []Output   `json:"outputs,omitempty"`
	Error   string     `json:"error,omitempty"`
	Reads   []string   `json:"reads"`
	Writes  []string   `json:"writes"`
}
